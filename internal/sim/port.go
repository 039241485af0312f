package sim

import (
	"sync/atomic"

	"libdb.so/nightlight/internal/events"
)

// Sense is the interrupt sense configuration of a port pin.
type Sense uint8

const (
	// SenseNone disables the pin's interrupt.
	SenseNone Sense = iota
	// SenseBothEdges interrupts on any change.
	SenseBothEdges
	// SenseRising interrupts when the pin goes high.
	SenseRising
	// SenseFalling interrupts when the pin goes low.
	SenseFalling
	// SenseLevelLow interrupts when the pin is driven low. The model raises
	// the status bit once per press; while the pin stays low, the main loop
	// sees the level through In.
	SenseLevelLow
)

// Port models an 8-bit input port with per-pin interrupt sensing.
type Port struct {
	cpu   *CPU
	in    atomic.Uint32
	flags atomic.Uint32
	sense [8]Sense
	isr   func()
}

var _ events.Port = (*Port)(nil)

// NewPort creates a port with the given initial input levels. Pull-ups on the
// button pins are modelled by starting them high.
func NewPort(cpu *CPU, initial uint8) *Port {
	p := &Port{cpu: cpu}
	p.in.Store(uint32(initial))
	return p
}

// Configure sets the sense of every pin in mask. It must be called before the
// port is used.
func (p *Port) Configure(mask uint8, s Sense) {
	for i := range p.sense {
		if mask&(1<<i) != 0 {
			p.sense[i] = s
		}
	}
}

// ConfigurePins applies the board's sense configuration for a pin map: the
// buttons are level sensed, the ambient signal both edges.
func (p *Port) ConfigurePins(pins events.PinMap) {
	p.Configure(pins.Button1|pins.Button2, SenseLevelLow)
	p.Configure(pins.Ambient, SenseBothEdges)
}

// SetInterruptHandler sets the port's interrupt vector.
func (p *Port) SetInterruptHandler(isr func()) {
	p.isr = isr
}

// SetLevel drives the pins in mask high or low from the outside world. If the
// change matches a pin's sense, its status bit is set and the interrupt
// handler runs.
func (p *Port) SetLevel(mask uint8, high bool) {
	p.cpu.Interrupt(func() bool {
		old := uint8(p.in.Load())
		now := old &^ mask
		if high {
			now |= mask
		}
		p.in.Store(uint32(now))

		fired := p.triggered(old, now)
		if fired == 0 {
			return false
		}

		p.flags.Store(p.flags.Load() | uint32(fired))
		if p.isr != nil {
			p.isr()
		}
		return true
	})
}

// Press pulls an active-low input low.
func (p *Port) Press(mask uint8) { p.SetLevel(mask, false) }

// Release lets an active-low input go back high.
func (p *Port) Release(mask uint8) { p.SetLevel(mask, true) }

func (p *Port) triggered(old, now uint8) uint8 {
	var fired uint8
	for i, s := range p.sense {
		bit := uint8(1) << i
		was, is := old&bit != 0, now&bit != 0

		var hit bool
		switch s {
		case SenseBothEdges:
			hit = was != is
		case SenseRising:
			hit = !was && is
		case SenseFalling:
			hit = was && !is
		case SenseLevelLow:
			hit = !is && was
		}
		if hit {
			fired |= bit
		}
	}
	return fired
}

// IntFlags implements events.Port.
func (p *Port) IntFlags() uint8 { return uint8(p.flags.Load()) }

// ClearIntFlags implements events.Port.
func (p *Port) ClearIntFlags(mask uint8) {
	p.flags.Store(p.flags.Load() &^ uint32(mask))
}

// In implements events.Port.
func (p *Port) In() uint8 { return uint8(p.in.Load()) }
