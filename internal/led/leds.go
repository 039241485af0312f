package led

import (
	"io"
	"unsafe"
)

// Color is the value of a single LED. The fields are laid out in wire order:
// the chain expects green first, then red, then blue.
type Color struct {
	G, R, B uint8
}

// Off is the color of an unlit LED.
var Off = Color{}

// RGB creates a Color from red, green and blue values.
func RGB(r, g, b uint8) Color {
	return Color{G: g, R: r, B: b}
}

// Bytes returns the color in wire order.
func (c Color) Bytes() [3]byte {
	return [3]byte{c.G, c.R, c.B}
}

// IsOff returns true if all channels are zero.
func (c Color) IsOff() bool { return c == Off }

// LEDs describes a chain of LEDs. It is a preallocated slice of Color.
type LEDs []Color

// NewLEDs creates a new chain of LEDs. Colors are initialized to off.
func NewLEDs(numLEDs int) LEDs {
	return make(LEDs, numLEDs)
}

// Fill sets every LED in the chain to c.
func (l LEDs) Fill(c Color) {
	for i := range l {
		l[i] = c
	}
}

// WriteTo implements io.WriterTo. It writes the chain to the given writer as
// consecutive 24-bit GRB frames.
func (l LEDs) WriteTo(w io.Writer) (int64, error) {
	if len(l) == 0 {
		return 0, nil
	}
	n, err := w.Write(l.AsGRB())
	return int64(n), err
}

// AsGRB returns the chain as a slice of uint8 values in wire order. Each LED
// is represented by three values, one for each color channel. The slice
// aliases the chain.
func (l LEDs) AsGRB() []uint8 {
	if len(l) == 0 {
		return nil
	}
	return unsafe.Slice((*uint8)(unsafe.Pointer(&l[0])), 3*len(l))
}
