package main

import (
	"machine"
	"runtime/volatile"

	"libdb.so/nightlight/internal/events"
)

// port gathers the input pins into the 8-bit port the capture logic expects.
// Pin interrupts set the status bit of their pin and run the capture handler.
type port struct {
	pins    [8]machine.Pin
	used    uint8
	flags   volatile.Register8
	capture *events.Capture
}

var _ events.Port = (*port)(nil)

func newPort() *port {
	return &port{}
}

// bind maps the pin to the bits in mask and enables its interrupt. Buttons
// interrupt on the falling edge; the RP2040 level interrupts would fire for
// as long as a button is held.
func (p *port) bind(mask uint8, pin machine.Pin, mode machine.PinMode, change machine.PinChange) error {
	pin.Configure(machine.PinConfig{Mode: mode})
	for i := range p.pins {
		if mask&(1<<i) != 0 {
			p.pins[i] = pin
			p.used |= 1 << i
		}
	}
	return pin.SetInterrupt(change, func(machine.Pin) {
		p.flags.SetBits(mask)
		if p.capture != nil {
			p.capture.HandleInterrupt()
		}
	})
}

func (p *port) IntFlags() uint8 { return p.flags.Get() }

func (p *port) ClearIntFlags(mask uint8) { p.flags.ClearBits(mask) }

func (p *port) In() uint8 {
	var in uint8
	for i, pin := range p.pins {
		if p.used&(1<<i) != 0 && pin.Get() {
			in |= 1 << i
		}
	}
	return in
}
