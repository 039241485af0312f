package periphio

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"libdb.so/nightlight/internal/events"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// edgeTimeout bounds each wait for an edge so that Run notices cancellation.
const edgeTimeout = 100 * time.Millisecond

// Pin is the part of gpio.PinIn that Inputs uses.
type Pin interface {
	String() string
	In(pull gpio.Pull, edge gpio.Edge) error
	Read() gpio.Level
	WaitForEdge(timeout time.Duration) bool
	Halt() error
}

// Sink receives input levels. sim.Port implements it.
type Sink interface {
	SetLevel(mask uint8, high bool)
}

// Input binds a GPIO pin to a bit of the input port.
type Input struct {
	Pin  Pin
	Mask uint8
	Pull gpio.Pull
}

// Inputs mirrors GPIO levels into an input port.
type Inputs struct {
	inputs []Input
	sink   Sink
}

// OpenInputs looks up the named pins and binds them to the bits of pins. The
// buttons are pulled up; the ambient comparator drives its pin. Open must have
// been called.
func OpenInputs(pins events.PinMap, button1, button2, ambient string, sink Sink) (*Inputs, error) {
	named := []struct {
		name string
		mask uint8
		pull gpio.Pull
	}{
		{button1, pins.Button1, gpio.PullUp},
		{button2, pins.Button2, gpio.PullUp},
		{ambient, pins.Ambient, gpio.Float},
	}

	inputs := make([]Input, 0, len(named))
	for _, n := range named {
		p := gpioreg.ByName(n.name)
		if p == nil {
			return nil, errors.Errorf("no gpio pin named %q", n.name)
		}
		inputs = append(inputs, Input{Pin: p, Mask: n.mask, Pull: n.pull})
	}

	return NewInputs(sink, inputs...), nil
}

// NewInputs creates a mirror of the given inputs into sink.
func NewInputs(sink Sink, inputs ...Input) *Inputs {
	return &Inputs{
		inputs: inputs,
		sink:   sink,
	}
}

// Run configures the pins and mirrors every level change until ctx is
// canceled. The current levels are sent first.
func (in *Inputs) Run(ctx context.Context) error {
	for _, input := range in.inputs {
		if err := input.Pin.In(input.Pull, gpio.BothEdges); err != nil {
			return errors.Wrapf(err, "failed to configure %s", input.Pin)
		}
	}

	defer func() {
		for _, input := range in.inputs {
			input.Pin.Halt()
		}
	}()

	errg, ctx := errgroup.WithContext(ctx)
	for _, input := range in.inputs {
		input := input
		errg.Go(func() error {
			in.watch(ctx, input)
			return ctx.Err()
		})
	}

	return errg.Wait()
}

func (in *Inputs) watch(ctx context.Context, input Input) {
	level := input.Pin.Read()
	in.sink.SetLevel(input.Mask, level == gpio.High)

	for ctx.Err() == nil {
		if !input.Pin.WaitForEdge(edgeTimeout) {
			continue
		}
		// Edges can be coalesced, so mirror the level rather than the edge.
		if now := input.Pin.Read(); now != level {
			level = now
			in.sink.SetLevel(input.Mask, level == gpio.High)
		}
	}
}
