package sim

import "sync"

// DefaultThreshold is the comparator's reference level, set by the DAC.
const DefaultThreshold = 0x64

// Comparator models the always-on analog comparator and logic block that turn
// the ambient light level into the ambient signal. The output is inverted:
// it is high when the light is below the threshold, meaning dark.
type Comparator struct {
	port *Port
	pin  uint8

	mu         sync.Mutex
	threshold  int
	hysteresis int
	dark       bool
}

// NewComparator creates a comparator driving pin on port. It starts out
// light.
func NewComparator(port *Port, pin uint8, threshold, hysteresis uint8) *Comparator {
	return &Comparator{
		port:       port,
		pin:        pin,
		threshold:  int(threshold),
		hysteresis: int(hysteresis),
	}
}

// SetLevel feeds a new ambient light level. The output only changes once the
// level crosses the threshold by more than the hysteresis.
func (c *Comparator) SetLevel(light uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l := int(light)
	switch {
	case !c.dark && l < c.threshold-c.hysteresis:
		c.dark = true
	case c.dark && l > c.threshold+c.hysteresis:
		c.dark = false
	default:
		return
	}

	c.port.SetLevel(c.pin, c.dark)
}

// Dark returns the comparator output.
func (c *Comparator) Dark() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dark
}
