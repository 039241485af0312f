// Package nightlight runs the night light firmware on a host. The dispatcher,
// store and chain transmitter are the same code the board runs; the
// peripherals are simulated, mirrored to a strip controller over serial, or
// mapped onto a Linux board's SPI and GPIO.
package nightlight

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"libdb.so/nightlight/internal/chain"
	"libdb.so/nightlight/internal/dispatch"
	"libdb.so/nightlight/internal/events"
	"libdb.so/nightlight/internal/periphio"
	"libdb.so/nightlight/internal/sim"
	"libdb.so/nightlight/internal/store"
)

// wakeInterval is how often a stopping daemon wakes the CPU until the
// dispatcher notices.
const wakeInterval = 10 * time.Millisecond

// Daemon is the main night light daemon.
type Daemon struct {
	cfg     *Config
	logger  *slog.Logger
	console io.Reader
	out     io.Writer
}

// NewDaemon creates a new night light daemon.
func NewDaemon(cfg *Config, logger *slog.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	return &Daemon{
		cfg:     cfg,
		logger:  logger,
		console: os.Stdin,
		out:     os.Stdout,
	}, nil
}

// SetConsole sets where console commands are read from and where their
// replies go. The default is stdin and stdout.
func (d *Daemon) SetConsole(r io.Reader, w io.Writer) {
	d.console = r
	d.out = w
}

// Reset erases the stored record, so that the next boot stores the default.
func (d *Daemon) Reset() error {
	nvm, err := d.openNVM()
	if err != nil {
		return err
	}

	if err := d.openStore(nvm).Erase(); err != nil {
		return errors.Wrap(err, "failed to erase stored color")
	}
	if err := nvm.Err(); err != nil {
		return err
	}

	d.logger.Info("stored color erased")
	return nil
}

func (d *Daemon) openNVM() (*sim.NVM, error) {
	s := d.cfg.Storage
	if s.Path == "" {
		return sim.NewNVM(s.Size, s.Page), nil
	}
	return sim.OpenNVM(s.Path, s.Size, s.Page)
}

func (d *Daemon) openStore(nvm *sim.NVM) *store.Store {
	return store.New(nvm, uint16(d.cfg.Storage.Base), d.cfg.Timing.PollLimit)
}

// Run starts the daemon. It blocks until the given context is canceled or the
// dispatcher fails.
func (d *Daemon) Run(ctx context.Context) error {
	errg, ctx := errgroup.WithContext(ctx)

	b, err := d.openBoard(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	cfg := d.cfg.dispatchConfig()
	cfg.CPU = b.cpu
	cfg.Port = b.port
	cfg.Pending = b.capture.Pending()
	cfg.Chain = b.chain
	cfg.Store = d.openStore(b.nvm)
	cfg.Logger = d.logger

	dispatcher, err := dispatch.New(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to create dispatcher")
	}

	stopped := make(chan struct{})
	errg.Go(func() error {
		defer close(stopped)

		if err := dispatcher.Boot(); err != nil {
			return errors.Wrap(err, "failed to boot")
		}
		return dispatcher.Run(ctx)
	})

	errg.Go(func() error {
		<-ctx.Done()

		// The dispatcher may be about to sleep, so keep waking it up.
		ticker := time.NewTicker(wakeInterval)
		defer ticker.Stop()

		for {
			b.cpu.Wake()
			select {
			case <-stopped:
				return ctx.Err()
			case <-ticker.C:
			}
		}
	})

	for _, run := range b.runners {
		run := run
		errg.Go(func() error { return run(ctx) })
	}

	err = errg.Wait()

	if nvmErr := b.nvm.Err(); nvmErr != nil {
		d.logger.Error("failed to persist eeprom", "error", nvmErr)
	}

	return err
}

// board is the set of peripherals the dispatcher runs on.
type board struct {
	cpu     *sim.CPU
	port    *sim.Port
	capture *events.Capture
	nvm     *sim.NVM
	chain   chain.Writer

	runners []func(context.Context) error
	closers []io.Closer
}

func (d *Daemon) openBoard(ctx context.Context) (*board, error) {
	pins := events.DefaultPins

	cpu := sim.NewCPU()
	// The buttons are pulled up and it starts out light.
	port := sim.NewPort(cpu, 0xFF&^pins.Ambient)
	port.ConfigurePins(pins)

	capture := events.NewCapture(port, pins, &events.Pending{})
	port.SetInterruptHandler(capture.HandleInterrupt)

	nvm, err := d.openNVM()
	if err != nil {
		return nil, err
	}

	b := &board{
		cpu:     cpu,
		port:    port,
		capture: capture,
		nvm:     nvm,
	}

	if err := d.openOutput(ctx, b); err != nil {
		b.close()
		return nil, err
	}

	if err := d.openInput(b); err != nil {
		b.close()
		return nil, err
	}

	return b, nil
}

func (d *Daemon) openOutput(ctx context.Context, b *board) error {
	var w chain.Writer

	switch d.cfg.Output.Kind {
	case SimOutput:
		w = newSimChain(d.cfg.Timing.PollLimit, d.logger)

	case SerialOutput:
		m, err := openSerialMirror(ctx, d.cfg.Output, d.logger)
		if err != nil {
			return err
		}
		b.closers = append(b.closers, m)
		b.runners = append(b.runners, m.readPackets)
		w = m

	case SPIDevOutput:
		if err := periphio.Open(); err != nil {
			return err
		}
		s, err := periphio.OpenStrip(d.cfg.Output.Port, d.cfg.Output.Hz)
		if err != nil {
			return err
		}
		b.closers = append(b.closers, s)
		w = s

	default:
		return errors.Errorf("unknown output kind %q", d.cfg.Output.Kind)
	}

	if d.cfg.Output.LogFrames {
		w = chain.Tee(w, frameLogger(d.out))
	}

	b.chain = w
	return nil
}

func (d *Daemon) openInput(b *board) error {
	pins := events.DefaultPins

	switch d.cfg.Input.Kind {
	case ConsoleInput:
		sensor := d.cfg.Input.AmbientSensor
		c := &console{
			port: b.port,
			comparator: sim.NewComparator(
				b.port, pins.Ambient,
				uint8(sensor.Threshold), uint8(sensor.Hysteresis)),
			pins:   pins,
			tap:    time.Duration(d.cfg.Timing.Step) / 2,
			out:    d.out,
			logger: d.logger,
		}
		r := d.console
		b.runners = append(b.runners, func(ctx context.Context) error {
			return c.Run(ctx, r)
		})

	case GPIOInput:
		if err := periphio.Open(); err != nil {
			return err
		}
		in, err := periphio.OpenInputs(
			pins,
			d.cfg.Input.Button1, d.cfg.Input.Button2, d.cfg.Input.Ambient,
			b.port)
		if err != nil {
			return err
		}
		b.runners = append(b.runners, in.Run)

	default:
		return errors.Errorf("unknown input kind %q", d.cfg.Input.Kind)
	}

	return nil
}

func (b *board) close() {
	for _, c := range b.closers {
		c.Close()
	}
}
