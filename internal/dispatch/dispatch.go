// Package dispatch is the night light's main loop. It sleeps until the input
// interrupt records an event, then runs the color, intensity or ambient logic
// for it.
package dispatch

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"libdb.so/nightlight/internal/chain"
	"libdb.so/nightlight/internal/events"
	"libdb.so/nightlight/internal/led"
	"libdb.so/nightlight/internal/mcu"
	"libdb.so/nightlight/internal/store"
)

const (
	// DefaultNumLEDs is the length of the chain on the reference board.
	DefaultNumLEDs = 16
	// DefaultStepInterval is how long each color or intensity is shown while
	// a button is held.
	DefaultStepInterval = 300 * time.Millisecond
	// DefaultBlinkInterval is the duration of each phase of the feedback
	// blink.
	DefaultBlinkInterval = 200 * time.Millisecond
	// BlinkCycles is the number of on/off cycles of the feedback blink.
	BlinkCycles = 2
)

// Clock provides the fixed delays used for pacing.
type Clock interface {
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// RealClock sleeps for real.
var RealClock Clock = realClock{}

// Config holds everything the dispatcher needs.
type Config struct {
	CPU     mcu.CPU
	Port    events.Port
	Pins    events.PinMap
	Pending *events.Pending
	Chain   chain.Writer
	Store   *store.Store

	// NumLEDs is the length of the chain. Zero means DefaultNumLEDs.
	NumLEDs int
	// StepInterval defaults to DefaultStepInterval.
	StepInterval time.Duration
	// BlinkInterval defaults to DefaultBlinkInterval.
	BlinkInterval time.Duration
	// Clock defaults to RealClock.
	Clock Clock
	// Logger defaults to a logger that discards everything.
	Logger *slog.Logger
}

// Dispatcher owns the light state and drains the pending events.
type Dispatcher struct {
	cfg   Config
	state led.State
}

// New creates a new dispatcher. Boot must be called before Poll or Run.
func New(cfg Config) (*Dispatcher, error) {
	switch {
	case cfg.CPU == nil:
		return nil, errors.New("missing cpu")
	case cfg.Port == nil:
		return nil, errors.New("missing input port")
	case cfg.Pending == nil:
		return nil, errors.New("missing pending events")
	case cfg.Chain == nil:
		return nil, errors.New("missing chain writer")
	case cfg.Store == nil:
		return nil, errors.New("missing store")
	}

	if cfg.NumLEDs <= 0 {
		cfg.NumLEDs = DefaultNumLEDs
	}
	if cfg.StepInterval <= 0 {
		cfg.StepInterval = DefaultStepInterval
	}
	if cfg.BlinkInterval <= 0 {
		cfg.BlinkInterval = DefaultBlinkInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Dispatcher{cfg: cfg}, nil
}

// State returns a copy of the light state.
func (d *Dispatcher) State() led.State { return d.state }

// Boot blanks the chain and loads the stored color. The chain stays off until
// the first event.
func (d *Dispatcher) Boot() error {
	if err := d.write(led.Off); err != nil {
		return err
	}

	rec, initialized, err := d.cfg.Store.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load stored color")
	}
	if initialized {
		d.cfg.Logger.Info("initialized stored color", "record", rec)
	}

	d.state = rec.State()
	d.cfg.Logger.Debug(
		"loaded stored color",
		"mask", d.state.Mask,
		"intensity", d.state.Intensity)
	return nil
}

// Run polls until ctx is canceled or a fatal error occurs. Poll may sleep;
// whoever cancels ctx must also wake the CPU.
func (d *Dispatcher) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		if _, err := d.Poll(); err != nil {
			d.cfg.Logger.Error("dispatcher stopped", "error", err)
			return err
		}
	}
	return ctx.Err()
}

// Poll runs one iteration of the main loop. If no event is pending, the CPU
// goes to sleep and Poll returns None after it wakes up; otherwise the pending
// condition is handled and returned.
func (d *Dispatcher) Poll() (events.Condition, error) {
	state := d.cfg.CPU.DisableInterrupts()

	flags := d.cfg.Pending.Load()
	if flags == 0 {
		d.cfg.CPU.Sleep()
		return events.None, nil
	}

	d.cfg.CPU.RestoreInterrupts(state)

	cond := events.Classify(flags)
	d.cfg.Logger.Debug("handling event", "condition", cond, "flags", flags)

	return cond, d.handle(cond, flags)
}

func (d *Dispatcher) handle(cond events.Condition, flags events.Flags) error {
	switch cond {
	case events.Color:
		if err := d.hold(d.cfg.Pins.Button1, d.state.NextColor); err != nil {
			return err
		}

	case events.Intensity:
		if err := d.hold(d.cfg.Pins.Button2, d.state.NextIntensity); err != nil {
			return err
		}

	case events.AmbientDark:
		if err := d.show(true); err != nil {
			return err
		}

	case events.AmbientLight:
		if err := d.show(false); err != nil {
			return err
		}

	default:
		d.cfg.Logger.Warn("unexpected pending events, resetting", "flags", flags)
		if err := d.show(false); err != nil {
			return err
		}
	}

	d.clear(cond)
	return nil
}

// hold steps the state while the button on pin is held, showing each step,
// then commits the selection.
func (d *Dispatcher) hold(pin uint8, step func()) error {
	for events.Held(d.cfg.Port, pin) {
		step()
		if err := d.show(true); err != nil {
			return err
		}
		d.cfg.Clock.Sleep(d.cfg.StepInterval)
	}

	if err := d.cfg.Store.Save(store.RecordOf(d.state)); err != nil {
		return errors.Wrap(err, "failed to store color")
	}

	d.cfg.Logger.Info(
		"selection stored",
		"mask", d.state.Mask,
		"intensity", d.state.Intensity)

	return d.blink()
}

// clear clears the flags of the handled condition. The buttons are level
// sensed: a button that is still down keeps its request pending, so a press
// made during the save or the blink starts the next hold.
func (d *Dispatcher) clear(cond events.Condition) {
	mcu.Critical(d.cfg.CPU, func() {
		d.cfg.Pending.Clear(cond.Flags())

		switch cond {
		case events.Color:
			if events.Held(d.cfg.Port, d.cfg.Pins.Button1) {
				d.cfg.Pending.Set(events.ColorRequest)
			}
		case events.Intensity:
			if events.Held(d.cfg.Port, d.cfg.Pins.Button2) {
				d.cfg.Pending.Set(events.IntensityRequest)
			}
		}
	})
}

func (d *Dispatcher) show(on bool) error {
	return d.write(d.state.Show(on))
}

func (d *Dispatcher) write(c led.Color) error {
	if err := d.cfg.Chain.Fill(d.cfg.NumLEDs, c); err != nil {
		return errors.Wrap(err, "failed to write chain")
	}
	return nil
}
