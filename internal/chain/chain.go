// Package chain drives a one-wire RGB LED chain. The line is produced by a
// synchronous serial peripheral whose output is gated by a timer, so that each
// serial bit becomes a short or long high pulse.
package chain

import (
	"github.com/pkg/errors"
	"libdb.so/nightlight/internal/busywait"
	"libdb.so/nightlight/internal/led"
)

// Writer is implemented by anything that can light a chain of n LEDs with a
// single color. Every LED is driven identically.
type Writer interface {
	Fill(n int, c led.Color) error
}

// WriterFunc is a function that implements Writer.
type WriterFunc func(n int, c led.Color) error

// Fill implements Writer.
func (f WriterFunc) Fill(n int, c led.Color) error { return f(n, c) }

type teeWriter []Writer

// Tee returns a Writer that writes to every given writer in order. It stops
// at the first error.
func Tee(writers ...Writer) Writer {
	return teeWriter(writers)
}

func (t teeWriter) Fill(n int, c led.Color) error {
	for _, w := range t {
		if err := w.Fill(n, c); err != nil {
			return err
		}
	}
	return nil
}

// SPI is the serial peripheral that shifts the bits out.
type SPI interface {
	// IntFlags returns the interrupt status register.
	IntFlags() uint8
	// ClearIntFlags acknowledges every pending status bit, including write
	// collisions.
	ClearIntFlags()
	// WriteData writes a byte to the data register, starting a transfer.
	WriteData(b byte)
}

// TransferComplete is the status bit set by the SPI once a byte has been
// shifted out.
const TransferComplete uint8 = 1 << 7

// Timer is the timing generator that shapes the serial clock into the pulse
// widths the chain expects.
type Timer interface {
	// ResetCounter sets the counter to zero so the first pulse edge is in a
	// known phase.
	ResetCounter()
	Enable()
	Disable()
}

// Transmitter writes GRB frames onto the chain one byte at a time.
type Transmitter struct {
	spi   SPI
	timer Timer
	limit int
}

var _ Writer = (*Transmitter)(nil)

// NewTransmitter creates a new transmitter. pollLimit bounds the wait for each
// byte; zero means busywait.DefaultLimit.
func NewTransmitter(spi SPI, timer Timer, pollLimit int) *Transmitter {
	return &Transmitter{
		spi:   spi,
		timer: timer,
		limit: pollLimit,
	}
}

// Fill transmits n consecutive 24-bit frames of c: green, then red, then blue,
// each most significant bit first.
func (t *Transmitter) Fill(n int, c led.Color) error {
	frame := c.Bytes()
	for i := 0; i < n; i++ {
		for _, b := range frame {
			if err := t.WriteByte(b); err != nil {
				return errors.Wrapf(err, "led %d", i)
			}
		}
	}
	return nil
}

// WriteByte transmits a single byte. The timer only runs for the duration of
// the transfer so that its phase does not drift into the next byte.
func (t *Transmitter) WriteByte(b byte) error {
	t.spi.ClearIntFlags()
	t.timer.ResetCounter()
	t.timer.Enable()
	defer t.timer.Disable()

	t.spi.WriteData(b)

	if err := busywait.Until(t.limit, func() bool {
		return t.spi.IntFlags()&TransferComplete != 0
	}); err != nil {
		return errors.Wrap(err, "spi transfer")
	}
	return nil
}
