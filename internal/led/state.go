// Package led holds the night light's color state, the rules for cycling it
// and the function that turns it into the bytes sent down the chain.
package led

import "fmt"

// ColorMask selects which channels are lit. Bit 0 is green, bit 1 is red and
// bit 2 is blue. Valid stored masks are 1 through 7.
type ColorMask uint8

const (
	MaskGreen ColorMask = 1 << iota
	MaskRed
	MaskBlue

	MinColorMask = MaskGreen
	MaxColorMask = MaskGreen | MaskRed | MaskBlue
)

// Valid returns true if m is a storable selection.
func (m ColorMask) Valid() bool {
	return m >= MinColorMask && m <= MaxColorMask
}

// Next returns the mask that follows m in the cycle 1, 2, ..., 7, 1.
func (m ColorMask) Next() ColorMask {
	m++
	if m > MaxColorMask {
		m = MinColorMask
	}
	return m
}

// Has returns true if any of the channels in ch are selected.
func (m ColorMask) Has(ch ColorMask) bool { return m&ch != 0 }

func (m ColorMask) String() string {
	switch {
	case m == 0:
		return "none"
	case m > MaxColorMask:
		return fmt.Sprintf("ColorMask(%d)", uint8(m))
	}
	var s []byte
	if m.Has(MaskRed) {
		s = append(s, 'r')
	}
	if m.Has(MaskGreen) {
		s = append(s, 'g')
	}
	if m.Has(MaskBlue) {
		s = append(s, 'b')
	}
	return string(s)
}

// Intensity is the byte sent for every lit channel.
type Intensity uint8

const (
	// MinIntensity is the lowest intensity and the value the cycle wraps to.
	MinIntensity Intensity = 0x04
	// MaxIntensity is the exclusive upper bound of the intensity band.
	MaxIntensity Intensity = 0x30
	// IntensityStep is the amount added on each step of the cycle.
	IntensityStep Intensity = 0x04
)

// Valid returns true if i lies in [MinIntensity, MaxIntensity).
func (i Intensity) Valid() bool {
	return i >= MinIntensity && i < MaxIntensity
}

// Next returns the intensity that follows i. Reaching MaxIntensity wraps back
// to MinIntensity. The LEDs draw a lot of current at high intensities, more so
// in white, so the band is kept low.
func (i Intensity) Next() Intensity {
	n := uint16(i) + uint16(IntensityStep)
	if n >= uint16(MaxIntensity) {
		return MinIntensity
	}
	return Intensity(n)
}

// State is the light's process-wide state.
type State struct {
	// Color is the last rendered frame. It is recomputed before every
	// transmission.
	Color Color
	// Mask is the selected channel mask.
	Mask ColorMask
	// Intensity is the per-channel brightness of lit channels.
	Intensity Intensity
}

// NextColor advances the mask and blanks the current frame.
func (s *State) NextColor() {
	s.Color = Off
	s.Mask = s.Mask.Next()
}

// NextIntensity advances the intensity.
func (s *State) NextIntensity() {
	s.Intensity = s.Intensity.Next()
}

// Show renders the state for the given on/off request, stores the result as
// the current frame and returns it.
func (s *State) Show(on bool) Color {
	s.Color = Render(*s, on)
	return s.Color
}
