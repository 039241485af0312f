package sim

import (
	"sync"

	"libdb.so/nightlight/internal/chain"
	"libdb.so/nightlight/internal/led"
)

// Timer models the timing generator that shapes the SPI clock into chain
// pulses.
type Timer struct {
	mu      sync.Mutex
	enabled bool
	counter int
	runs    int
}

var _ chain.Timer = (*Timer)(nil)

// ResetCounter implements chain.Timer.
func (t *Timer) ResetCounter() {
	t.mu.Lock()
	t.counter = 0
	t.mu.Unlock()
}

// Enable implements chain.Timer.
func (t *Timer) Enable() {
	t.mu.Lock()
	t.enabled = true
	t.runs++
	t.mu.Unlock()
}

// Disable implements chain.Timer.
func (t *Timer) Disable() {
	t.mu.Lock()
	t.enabled = false
	t.mu.Unlock()
}

// Enabled returns true while the timer runs.
func (t *Timer) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// Runs returns the number of times the timer was started.
func (t *Timer) Runs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs
}

func (t *Timer) tick() {
	t.mu.Lock()
	if t.enabled {
		t.counter++
	}
	t.mu.Unlock()
}

// inPhase returns true if the timer is running from a freshly reset counter.
func (t *Timer) inPhase() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled && t.counter == 0
}

// SPI models the serial peripheral feeding the chain. Every byte written is
// recorded along with whether the timer was in phase when it started.
type SPI struct {
	timer *Timer
	// Latency is the number of status polls a transfer takes.
	Latency int
	// Stalled makes transfers never complete.
	Stalled bool

	mu     sync.Mutex
	flags  uint8
	left   int
	data   []byte
	faults int
}

var _ chain.SPI = (*SPI)(nil)

// NewSPI creates an SPI whose output is gated by timer.
func NewSPI(timer *Timer) *SPI {
	return &SPI{
		timer:   timer,
		Latency: 8,
	}
}

// IntFlags implements chain.SPI.
func (s *SPI) IntFlags() uint8 {
	s.timer.tick()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.left > 0 && !s.Stalled {
		s.left--
		if s.left == 0 {
			s.flags |= chain.TransferComplete
		}
	}
	return s.flags
}

// ClearIntFlags implements chain.SPI.
func (s *SPI) ClearIntFlags() {
	s.mu.Lock()
	s.flags = 0
	s.mu.Unlock()
}

// WriteData implements chain.SPI.
func (s *SPI) WriteData(b byte) {
	inPhase := s.timer.inPhase()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !inPhase || s.left > 0 || s.flags&chain.TransferComplete != 0 {
		s.faults++
	}
	s.data = append(s.data, b)
	s.left = s.Latency
	if s.left <= 0 {
		s.left = 1
	}
}

// Bytes returns a copy of every byte shifted out.
func (s *SPI) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.data...)
}

// Bits returns the line's bit sequence in the order it was sent.
func (s *SPI) Bits() []bool {
	data := s.Bytes()
	bits := make([]bool, 0, 8*len(data))
	for _, b := range data {
		for i := 7; i >= 0; i-- {
			bits = append(bits, b&(1<<i) != 0)
		}
	}
	return bits
}

// Frames decodes the bytes sent into LED colors.
func (s *SPI) Frames() []led.Color {
	data := s.Bytes()
	frames := make([]led.Color, 0, len(data)/3)
	for i := 0; i+3 <= len(data); i += 3 {
		frames = append(frames, led.Color{G: data[i], R: data[i+1], B: data[i+2]})
	}
	return frames
}

// Faults returns the number of bytes that were written while the timer was
// out of phase or while a previous transfer was still pending.
func (s *SPI) Faults() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.faults
}

// Reset forgets everything sent so far.
func (s *SPI) Reset() {
	s.mu.Lock()
	s.data = nil
	s.faults = 0
	s.mu.Unlock()
}
