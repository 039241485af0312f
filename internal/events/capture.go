package events

// Port is the input port that the buttons and the ambient signal are wired
// to. Each pin is identified by its bit mask.
type Port interface {
	// IntFlags returns the interrupt status register.
	IntFlags() uint8
	// ClearIntFlags acknowledges the interrupt status bits in mask.
	ClearIntFlags(mask uint8)
	// In returns the input level register.
	In() uint8
}

// PinMap assigns the inputs to port pins.
type PinMap struct {
	// Button1 is the active-low color button.
	Button1 uint8
	// Button2 is the active-low intensity button.
	Button2 uint8
	// Ambient is the ambient logic signal; high means dark.
	Ambient uint8
}

// DefaultPins is the board's wiring: buttons on bits 0 and 1, the ambient
// logic output on bit 4.
var DefaultPins = PinMap{
	Button1: 1 << 0,
	Button2: 1 << 1,
	Ambient: 1 << 4,
}

// Capture is the port interrupt handler. It only records what happened into
// a Pending bitmask and never touches the LEDs.
type Capture struct {
	port    Port
	pins    PinMap
	pending *Pending
}

// NewCapture creates a new interrupt handler.
func NewCapture(port Port, pins PinMap, pending *Pending) *Capture {
	return &Capture{
		port:    port,
		pins:    pins,
		pending: pending,
	}
}

// Pending returns the bitmask the handler writes to.
func (c *Capture) Pending() *Pending { return c.pending }

// HandleInterrupt services the port interrupt. It must be called in interrupt
// context.
func (c *Capture) HandleInterrupt() {
	status := c.port.IntFlags()

	if status&c.pins.Button1 != 0 {
		c.pending.Set(ColorRequest)
		c.port.ClearIntFlags(c.pins.Button1)
	}

	if status&c.pins.Button2 != 0 {
		c.pending.Set(IntensityRequest)
		c.port.ClearIntFlags(c.pins.Button2)
	}

	if status&c.pins.Ambient != 0 {
		// Both edges interrupt; the current level tells which one it was.
		if c.port.In()&c.pins.Ambient != 0 {
			c.pending.Set(AmbientRising)
		} else {
			c.pending.Set(AmbientFalling)
		}
		c.port.ClearIntFlags(c.pins.Ambient)
	}
}

// Held returns true while the active-low input on pin is pulled low.
func Held(port Port, pin uint8) bool {
	return port.In()&pin == 0
}
