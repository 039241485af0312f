// Package events captures the night light's asynchronous inputs in interrupt
// context and hands them to the main loop as a pending-event bitmask.
package events

import "strings"

// Flags is the pending-event bitmask.
type Flags uint8

const (
	// ColorRequest is set when the color button is pressed.
	ColorRequest Flags = 1 << iota
	// IntensityRequest is set when the intensity button is pressed.
	IntensityRequest
	// AmbientRising is set when the ambient signal goes high (it got dark).
	AmbientRising
	// AmbientFalling is set when the ambient signal goes low (it got light).
	AmbientFalling

	// AllFlags is every defined flag.
	AllFlags = ColorRequest | IntensityRequest | AmbientRising | AmbientFalling
)

var flagNames = [...]string{"color", "intensity", "ambient-rising", "ambient-falling"}

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var names []string
	for i, name := range flagNames {
		if f&(1<<i) != 0 {
			names = append(names, name)
		}
	}
	if f&^AllFlags != 0 {
		names = append(names, "unknown")
	}
	return strings.Join(names, "|")
}

// Pending is the bitmask shared between the interrupt handler and the main
// loop. Only the handler sets bits and only the main loop clears them. Every
// access must happen either inside the handler or with interrupts disabled.
type Pending struct {
	flags Flags
}

// Set sets the given flags.
func (p *Pending) Set(f Flags) { p.flags |= f }

// Clear clears the given flags.
func (p *Pending) Clear(f Flags) { p.flags &^= f }

// Reset clears every flag.
func (p *Pending) Reset() { p.flags = 0 }

// Load returns the current flags.
func (p *Pending) Load() Flags { return p.flags }
