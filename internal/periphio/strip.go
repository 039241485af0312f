package periphio

import (
	"time"

	"github.com/pkg/errors"
	"libdb.so/nightlight/internal/chain"
	"libdb.so/nightlight/internal/led"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
)

// BitsPerBit is the number of SPI bits used to encode one chain bit.
const BitsPerBit = 3

// resetTime is how long the line is held low after a frame so that the chain
// latches it.
const resetTime = 80 * time.Microsecond

// Tx is the part of spi.Conn that Strip uses.
type Tx interface {
	Tx(w, r []byte) error
}

// Strip is a WS2812 chain connected to the MOSI pin of an SPI port. Every
// chain bit is expanded into three SPI bits, 110 for a one and 100 for a
// zero, so the SPI clock must be about three times the chain's bit rate.
type Strip struct {
	conn  Tx
	port  spi.PortCloser
	reset int
	buf   []byte
}

var _ chain.Writer = (*Strip)(nil)

// OpenStrip opens the named spidev port at the given clock. An empty name
// opens the first port. Open must have been called.
func OpenStrip(name string, hz int) (*Strip, error) {
	p, err := spireg.Open(name)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open spi port")
	}

	c, err := p.Connect(physic.Frequency(hz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		p.Close()
		return nil, errors.Wrap(err, "failed to connect to spi port")
	}

	s := NewStrip(c, hz)
	s.port = p
	return s, nil
}

// NewStrip creates a strip writing to conn, which is clocked at hz.
func NewStrip(conn Tx, hz int) *Strip {
	bits := int64(hz) * int64(resetTime) / int64(time.Second)
	return &Strip{
		conn:  conn,
		reset: int((bits + 7) / 8),
	}
}

// Fill sends n frames of c followed by the latch gap.
func (s *Strip) Fill(n int, c led.Color) error {
	size := n*3*BitsPerBit + s.reset
	if cap(s.buf) < size {
		s.buf = make([]byte, size)
	}
	s.buf = s.buf[:size]

	frame := c.Bytes()
	out := s.buf
	for i := 0; i < n; i++ {
		for _, b := range frame {
			nrz := ExpandNRZ(b)
			out[0] = byte(nrz >> 16)
			out[1] = byte(nrz >> 8)
			out[2] = byte(nrz)
			out = out[3:]
		}
	}
	for i := range out {
		out[i] = 0
	}

	if err := s.conn.Tx(s.buf, nil); err != nil {
		return errors.Wrap(err, "spi transfer")
	}
	return nil
}

// Close closes the SPI port if the strip opened it.
func (s *Strip) Close() error {
	if s.port == nil {
		return nil
	}
	return s.port.Close()
}

// ExpandNRZ converts an 8 bit channel value into the 24 bit line encoding,
// most significant bit first.
func ExpandNRZ(b byte) uint32 {
	// 1x01x01x01x01x01x01x01x0 with the x bits being the bits of b.
	out := uint32(0x924924)
	for i := 0; i < 8; i++ {
		out |= uint32(b>>i&1) << (3*i + 1)
	}
	return out
}
