package nightlight

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
	"libdb.so/nightlight/internal/chain"
	"libdb.so/nightlight/internal/led"
	"libdb.so/nightlight/internal/sim"
	"libdb.so/nightlight/ledserial"
)

// ErrAckTimeout is returned when the strip controller does not acknowledge a
// packet in time.
var ErrAckTimeout = errors.New("timed out waiting for ack")

// simChain transmits frames to the simulated SPI peripheral and forgets them
// once sent.
type simChain struct {
	spi    *sim.SPI
	tx     *chain.Transmitter
	logger *slog.Logger
}

func newSimChain(pollLimit int, logger *slog.Logger) *simChain {
	timer := &sim.Timer{}
	spi := sim.NewSPI(timer)
	return &simChain{
		spi:    spi,
		tx:     chain.NewTransmitter(spi, timer, pollLimit),
		logger: logger,
	}
}

func (s *simChain) Fill(n int, c led.Color) error {
	defer s.spi.Reset()

	if err := s.tx.Fill(n, c); err != nil {
		return err
	}

	if faults := s.spi.Faults(); faults > 0 {
		s.logger.Warn("chain transfers out of phase", "faults", faults)
	}
	return nil
}

// frameLogger logs every frame to w. Frames are written whatever the level of
// the daemon's logger, since asking for them is what log_frames is for.
func frameLogger(w io.Writer) chain.Writer {
	logger := slog.New(slog.NewTextHandler(w, nil))
	return chain.WriterFunc(func(n int, c led.Color) error {
		logger.Info(
			"frame",
			"leds", n,
			"r", c.R,
			"g", c.G,
			"b", c.B)
		return nil
	})
}

// serialMirror sends frames to a strip controller running the ledserial
// protocol and waits for each one to be acknowledged.
type serialMirror struct {
	ctx     context.Context
	port    serial.Port
	logger  *slog.Logger
	timeout time.Duration
	packets chan ledserial.OutgoingPacket
	numLEDs int
}

func openSerialMirror(ctx context.Context, cfg OutputConfig, logger *slog.Logger) (*serialMirror, error) {
	port, err := serial.Open(cfg.Device, &serial.Mode{
		BaudRate: cfg.Baud,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open serial port")
	}

	return &serialMirror{
		ctx:     ctx,
		port:    port,
		logger:  logger,
		timeout: time.Duration(cfg.AckTimeout),
		packets: make(chan ledserial.OutgoingPacket),
	}, nil
}

func (m *serialMirror) Close() error {
	return m.port.Close()
}

func (m *serialMirror) Fill(n int, c led.Color) error {
	if n != m.numLEDs {
		if err := m.send(ledserial.InitializePacket{NumLEDs: uint16(n)}); err != nil {
			return err
		}
		m.numLEDs = n
	}

	if c.IsOff() {
		return m.send(ledserial.ClearPacket{})
	}
	return m.send(ledserial.FillPacket{G: c.G, R: c.R, B: c.B})
}

func (m *serialMirror) send(p ledserial.IncomingPacket) error {
	m.logger.Debug(
		"writing packet",
		"type", p.Type())

	if err := ledserial.WriteIncomingPacket(m.port, p); err != nil {
		return errors.Wrapf(err, "failed to write %s packet", p.Type())
	}

	timeout := time.NewTimer(m.timeout)
	defer timeout.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return m.ctx.Err()

		case <-timeout.C:
			return errors.Wrapf(ErrAckTimeout, "%s packet", p.Type())

		case r := <-m.packets:
			switch r := r.(type) {
			case ledserial.AckPacket:
				if r.IncomingPacketType == p.Type() {
					return nil
				}
				m.logger.Warn(
					"controller acked the wrong packet",
					"want", p.Type(),
					"acked_for", r.IncomingPacketType)

			case ledserial.ErrorPacket:
				return errors.Errorf("controller reported error: %s", r.Message)

			case ledserial.PanicPacket:
				return errors.New("controller panicked")
			}
		}
	}
}

// readPackets reads packets from the controller until ctx is canceled. Log
// packets are logged here; the rest are handed to the writer.
func (m *serialMirror) readPackets(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		m.logger.Debug("closing serial port")
		m.port.Close()
	}()

	if err := m.port.SetReadTimeout(serial.NoTimeout); err != nil {
		return errors.Wrap(err, "failed to reset read timeout")
	}

	for ctx.Err() == nil {
		p, err := ledserial.ReadOutgoingPacket(m.port)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			// A short read indicates a timeout. This is expected.
			if errors.Is(err, io.EOF) {
				continue
			}
			return errors.Wrap(err, "failed to read packet")
		}

		m.logger.Debug(
			"received packet from controller",
			"type", p.Type())

		if p, ok := p.(ledserial.LogPacket); ok {
			m.logger.Info(
				"received log packet from controller",
				"message", p.Message)
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case m.packets <- p:
			// ok
		}
	}

	return ctx.Err()
}
