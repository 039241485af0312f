package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"libdb.so/nightlight/internal/busywait"
	"libdb.so/nightlight/internal/chain"
	"libdb.so/nightlight/internal/events"
	"libdb.so/nightlight/internal/led"
	"libdb.so/nightlight/internal/mcu"
	"libdb.so/nightlight/internal/sim"
	"libdb.so/nightlight/internal/store"
)

var pins = events.DefaultPins

// recorder is a chain.Writer that remembers every frame.
type recorder struct {
	frames []led.Color
	err    error
}

func (r *recorder) Fill(n int, c led.Color) error {
	if n != DefaultNumLEDs {
		return errors.Errorf("unexpected chain length %d", n)
	}
	if r.err != nil {
		return r.err
	}
	r.frames = append(r.frames, c)
	return nil
}

func (r *recorder) reset() { r.frames = nil }

// fakeClock records delays instead of sleeping.
type fakeClock struct {
	sleeps  []time.Duration
	onSleep func(d time.Duration)
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.sleeps = append(c.sleeps, d)
	if c.onSleep != nil {
		c.onSleep(d)
	}
}

type rig struct {
	t       *testing.T
	cpu     *sim.CPU
	port    *sim.Port
	pending *events.Pending
	nvm     *sim.NVM
	chain   *recorder
	clock   *fakeClock
	d       *Dispatcher
}

// newRig boots a dispatcher against simulated hardware. poke, if given, is
// written to the EEPROM before booting.
func newRig(t *testing.T, poke ...byte) *rig {
	t.Helper()

	r := &rig{
		t:       t,
		cpu:     sim.NewCPU(),
		pending: &events.Pending{},
		nvm:     sim.NewNVM(0, 0),
		chain:   &recorder{},
		clock:   &fakeClock{},
	}

	// Buttons are pulled up and it is light.
	r.port = sim.NewPort(r.cpu, 0xFF&^pins.Ambient)
	r.port.ConfigurePins(pins)
	r.port.SetInterruptHandler(events.NewCapture(r.port, pins, r.pending).HandleInterrupt)

	if len(poke) > 0 {
		r.nvm.Poke(0, poke...)
	}

	d, err := New(Config{
		CPU:     r.cpu,
		Port:    r.port,
		Pins:    pins,
		Pending: r.pending,
		Chain:   r.chain,
		Store:   store.New(r.nvm, 0, 0),
		Clock:   r.clock,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Boot(); err != nil {
		t.Fatal(err)
	}
	r.d = d
	return r
}

func (r *rig) flags() events.Flags {
	var f events.Flags
	mcu.Critical(r.cpu, func() { f = r.pending.Load() })
	return f
}

// drain polls until nothing is pending, so the test never puts the CPU to
// sleep.
func (r *rig) drain() []events.Condition {
	r.t.Helper()

	var handled []events.Condition
	for r.flags() != 0 {
		cond, err := r.d.Poll()
		if err != nil {
			r.t.Fatal(err)
		}
		handled = append(handled, cond)
	}
	return handled
}

// press holds button for steps step intervals, then releases it.
func (r *rig) press(button uint8, steps int) {
	r.clock.onSleep = func(d time.Duration) {
		if d != DefaultStepInterval {
			return
		}
		if steps--; steps == 0 {
			r.port.Release(button)
		}
	}
	r.port.Press(button)
}

func (r *rig) stored() store.Record {
	return store.New(r.nvm, 0, 0).Read()
}

func TestBootErasedStorage(t *testing.T) {
	r := newRig(t)

	if r.nvm.Commits() != 1 {
		t.Fatalf("expected one save on first boot, got %d", r.nvm.Commits())
	}
	if r.stored() != store.DefaultRecord {
		t.Fatalf("stored %+v", r.stored())
	}
	if len(r.chain.frames) != 1 || r.chain.frames[0] != led.Off {
		t.Fatalf("boot frames %v", r.chain.frames)
	}

	s := r.d.State()
	if s.Mask != 1 || s.Intensity != 8 {
		t.Fatalf("unexpected state %+v", s)
	}
	if r.cpu.Sleeps() != 0 || r.flags() != 0 {
		t.Fatal("dispatcher not idle after boot")
	}
}

func TestColorCycleScenario(t *testing.T) {
	r := newRig(t)

	for i, want := range []led.ColorMask{2, 3, 4} {
		r.chain.reset()
		r.clock.sleeps = nil

		r.press(pins.Button1, 1)
		if handled := r.drain(); len(handled) != 1 || handled[0] != events.Color {
			t.Fatalf("press %d: handled %v", i, handled)
		}

		if m := r.d.State().Mask; m != want {
			t.Fatalf("press %d: mask %d, want %d", i, m, want)
		}

		on := led.Render(led.State{Mask: want, Intensity: 8}, true)
		wantFrames := []led.Color{on, on, led.Off, on, led.Off}
		if !equalFrames(r.chain.frames, wantFrames) {
			t.Fatalf("press %d: frames %v, want %v", i, r.chain.frames, wantFrames)
		}

		wantSleeps := []time.Duration{
			DefaultStepInterval,
			DefaultBlinkInterval, DefaultBlinkInterval,
			DefaultBlinkInterval, DefaultBlinkInterval,
		}
		if !equalDurations(r.clock.sleeps, wantSleeps) {
			t.Fatalf("press %d: sleeps %v", i, r.clock.sleeps)
		}
	}

	want := store.Record{Red: 0, Green: 0, Blue: 8, Intensity: 8, ColorMask: 4}
	if got := r.stored(); got != want {
		t.Fatalf("stored %+v, want %+v", got, want)
	}
	if r.nvm.Commits() != 4 {
		t.Fatalf("expected 4 saves, got %d", r.nvm.Commits())
	}
}

func TestColorCycleWraps(t *testing.T) {
	r := newRig(t, 0, 0, 0x10, 0x10, 7)

	r.press(pins.Button1, 3)
	r.drain()

	if m := r.d.State().Mask; m != 3 {
		t.Fatalf("mask %d after wrapping", m)
	}
	want := []led.Color{{G: 0x10}, {R: 0x10}, {G: 0x10, R: 0x10}}
	if !equalFrames(r.chain.frames[1:4], want) {
		t.Fatalf("frames %v", r.chain.frames[1:4])
	}
}

func TestIntensityHoldScenario(t *testing.T) {
	r := newRig(t, 0, 4, 0, 4, 1)
	r.chain.reset()

	r.press(pins.Button2, 12)
	if handled := r.drain(); len(handled) != 1 || handled[0] != events.Intensity {
		t.Fatalf("handled %v", handled)
	}

	var got []uint8
	for _, f := range r.chain.frames[:12] {
		got = append(got, f.G)
	}
	want := []uint8{8, 12, 16, 20, 24, 28, 32, 36, 40, 44, 4, 8}
	if string(got) != string(want) {
		t.Fatalf("intensities %v, want %v", got, want)
	}

	if rec := r.stored(); rec.Intensity != 8 || rec.ColorMask != 1 || rec.Green != 8 {
		t.Fatalf("stored %+v", rec)
	}
	if r.flags() != 0 {
		t.Fatalf("flags left %s", r.flags())
	}
}

func TestAmbientScenario(t *testing.T) {
	r := newRig(t, 0x0C, 0x0C, 0, 0x0C, 3)
	r.chain.reset()
	commits := r.nvm.Commits()

	r.port.SetLevel(pins.Ambient, true)
	if handled := r.drain(); len(handled) != 1 || handled[0] != events.AmbientDark {
		t.Fatalf("dark: handled %v", handled)
	}

	r.port.SetLevel(pins.Ambient, false)
	if handled := r.drain(); len(handled) != 1 || handled[0] != events.AmbientLight {
		t.Fatalf("light: handled %v", handled)
	}

	want := []led.Color{{G: 0x0C, R: 0x0C}, led.Off}
	if !equalFrames(r.chain.frames, want) {
		t.Fatalf("frames %v, want %v", r.chain.frames, want)
	}

	s := r.d.State()
	if s.Mask != 3 || s.Intensity != 0x0C {
		t.Fatalf("state changed: %+v", s)
	}
	if r.nvm.Commits() != commits {
		t.Fatal("ambient events wrote to storage")
	}
	if len(r.clock.sleeps) != 0 {
		t.Fatalf("ambient events delayed: %v", r.clock.sleeps)
	}
}

func TestUnknownFlagsReset(t *testing.T) {
	r := newRig(t)
	r.chain.reset()
	commits := r.nvm.Commits()

	// Both buttons at once is not a recognized condition.
	r.port.Press(pins.Button1 | pins.Button2)

	handled := r.drain()
	if len(handled) != 1 || handled[0] != events.Unknown {
		t.Fatalf("handled %v", handled)
	}
	if !equalFrames(r.chain.frames, []led.Color{led.Off}) {
		t.Fatalf("frames %v", r.chain.frames)
	}
	if r.nvm.Commits() != commits || r.d.State().Mask != 1 {
		t.Fatal("fault reset changed the selection")
	}
}

func TestEventDuringHoldIsKept(t *testing.T) {
	r := newRig(t)
	r.chain.reset()

	r.clock.onSleep = func(d time.Duration) {
		if d == DefaultStepInterval {
			// It gets dark while the color is being chosen.
			r.port.SetLevel(pins.Ambient, true)
			r.port.Release(pins.Button1)
		}
	}
	r.port.Press(pins.Button1)

	handled := r.drain()
	want := []events.Condition{events.Color, events.AmbientDark}
	if len(handled) != 2 || handled[0] != want[0] || handled[1] != want[1] {
		t.Fatalf("handled %v, want %v", handled, want)
	}

	last := r.chain.frames[len(r.chain.frames)-1]
	if last != (led.Color{R: 8}) {
		t.Fatalf("light not on after the hold: %+v", last)
	}
}

func TestPressDuringBlinkStartsNextHold(t *testing.T) {
	r := newRig(t)

	var sleeps int
	r.clock.onSleep = func(d time.Duration) {
		sleeps++
		switch sleeps {
		case 1:
			r.port.Release(pins.Button1)
		case 4:
			// Pressed again in the second blink phase and kept down.
			r.port.Press(pins.Button1)
		case 6:
			r.port.Release(pins.Button1)
		}
	}
	r.port.Press(pins.Button1)

	handled := r.drain()
	if len(handled) != 2 || handled[0] != events.Color || handled[1] != events.Color {
		t.Fatalf("handled %v, want two color holds", handled)
	}
	if m := r.d.State().Mask; m != 3 {
		t.Fatalf("mask %d, want 3", m)
	}
	if r.flags() != 0 {
		t.Fatalf("flags left %s", r.flags())
	}
}

func TestHeldButtonKeepsRequest(t *testing.T) {
	r := newRig(t)

	var sleeps int
	r.clock.onSleep = func(d time.Duration) {
		sleeps++
		switch sleeps {
		case 1:
			r.port.Release(pins.Button2)
		case 5:
			// Down again during the last blink phase, after the save.
			r.port.Press(pins.Button2)
		}
	}
	r.port.Press(pins.Button2)

	cond, err := r.d.Poll()
	if err != nil {
		t.Fatal(err)
	}
	if cond != events.Intensity {
		t.Fatalf("handled %s", cond)
	}
	if r.flags() != events.IntensityRequest {
		t.Fatalf("flags %s, want the held button's request", r.flags())
	}
}

func TestPollSleepsUntilEvent(t *testing.T) {
	r := newRig(t)

	type result struct {
		cond events.Condition
		err  error
	}
	results := make(chan result, 2)
	go func() {
		for i := 0; i < 2; i++ {
			cond, err := r.d.Poll()
			results <- result{cond, err}
		}
	}()

	for !r.cpu.Asleep() {
		time.Sleep(time.Millisecond)
	}
	r.port.SetLevel(pins.Ambient, true)

	for _, want := range []events.Condition{events.None, events.AmbientDark} {
		select {
		case res := <-results:
			if res.err != nil {
				t.Fatal(res.err)
			}
			if res.cond != want {
				t.Fatalf("got %s, want %s", res.cond, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	r := newRig(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.d.Run(ctx) }()

	for !r.cpu.Asleep() {
		time.Sleep(time.Millisecond)
	}
	cancel()
	r.cpu.Wake()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("unexpected error %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("run did not return")
	}
}

func TestChainTimeoutIsFatal(t *testing.T) {
	r := newRig(t)
	r.chain.err = busywait.ErrTimeout

	r.port.SetLevel(pins.Ambient, true)
	_, err := r.d.Poll()
	if !errors.Is(err, busywait.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestBootWithTransmitter(t *testing.T) {
	cpu := sim.NewCPU()
	timer := &sim.Timer{}
	spi := sim.NewSPI(timer)

	d, err := New(Config{
		CPU:     cpu,
		Port:    sim.NewPort(cpu, 0xFF),
		Pins:    pins,
		Pending: &events.Pending{},
		Chain:   chain.NewTransmitter(spi, timer, 0),
		Store:   store.New(sim.NewNVM(0, 0), 0, 0),
		NumLEDs: 16,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Boot(); err != nil {
		t.Fatal(err)
	}

	frames := spi.Frames()
	if len(frames) != 16 {
		t.Fatalf("sent %d frames", len(frames))
	}
	for i, f := range frames {
		if f != led.Off {
			t.Fatalf("frame %d lit: %+v", i, f)
		}
	}
	if spi.Faults() != 0 {
		t.Fatalf("%d transfer faults", spi.Faults())
	}
}

func TestNewRequiresHardware(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error")
	}
}

func equalFrames(a, b []led.Color) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalDurations(a, b []time.Duration) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
