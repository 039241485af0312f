package sim

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"libdb.so/nightlight/internal/events"
	"libdb.so/nightlight/internal/store"
)

func TestCPUSleepDoesNotLoseWakeup(t *testing.T) {
	cpu := NewCPU()
	port := NewPort(cpu, 0xFF)
	port.ConfigurePins(events.DefaultPins)

	var pending events.Pending
	port.SetInterruptHandler(events.NewCapture(port, events.DefaultPins, &pending).HandleInterrupt)

	checked := make(chan struct{})
	woke := make(chan events.Flags)

	go func() {
		cpu.DisableInterrupts()
		if pending.Load() != 0 {
			t.Error("pending before any interrupt")
		}
		close(checked)
		// The interrupt below is raised after the check but cannot run until
		// Sleep releases the mask.
		time.Sleep(10 * time.Millisecond)
		cpu.Sleep()

		state := cpu.DisableInterrupts()
		woke <- pending.Load()
		cpu.RestoreInterrupts(state)
	}()

	<-checked
	port.Press(events.DefaultPins.Button1)

	select {
	case f := <-woke:
		if f != events.ColorRequest {
			t.Fatalf("unexpected flags %s", f)
		}
	case <-time.After(time.Second):
		t.Fatal("cpu never woke up")
	}
}

func TestCPUWake(t *testing.T) {
	cpu := NewCPU()
	done := make(chan struct{})

	go func() {
		cpu.DisableInterrupts()
		cpu.Sleep()
		close(done)
	}()

	for !cpu.Asleep() {
		time.Sleep(time.Millisecond)
	}
	cpu.Wake()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cpu never woke up")
	}
	if cpu.Sleeps() != 1 {
		t.Fatalf("slept %d times", cpu.Sleeps())
	}
}

func TestPortSense(t *testing.T) {
	cpu := NewCPU()
	port := NewPort(cpu, 0xFF)
	port.ConfigurePins(events.DefaultPins)

	var calls int
	port.SetInterruptHandler(func() { calls++ })

	port.Press(events.DefaultPins.Button1)
	if port.IntFlags() != events.DefaultPins.Button1 || calls != 1 {
		t.Fatalf("press: flags %#x calls %d", port.IntFlags(), calls)
	}
	port.ClearIntFlags(events.DefaultPins.Button1)

	// Releasing a level-sensed button does not interrupt.
	port.Release(events.DefaultPins.Button1)
	if port.IntFlags() != 0 || calls != 1 {
		t.Fatalf("release: flags %#x calls %d", port.IntFlags(), calls)
	}

	// The ambient pin starts high here; both edges interrupt.
	port.SetLevel(events.DefaultPins.Ambient, false)
	port.SetLevel(events.DefaultPins.Ambient, true)
	if calls != 3 {
		t.Fatalf("ambient edges: calls %d", calls)
	}

	// Unconfigured pins never interrupt.
	port.SetLevel(1<<7, false)
	if calls != 3 {
		t.Fatalf("unconfigured pin interrupted")
	}
	if cpu.Interrupts() != 3 {
		t.Fatalf("cpu serviced %d interrupts", cpu.Interrupts())
	}
}

func TestComparatorHysteresis(t *testing.T) {
	cpu := NewCPU()
	port := NewPort(cpu, 0)
	port.ConfigurePins(events.DefaultPins)

	var pending events.Pending
	port.SetInterruptHandler(events.NewCapture(port, events.DefaultPins, &pending).HandleInterrupt)

	c := NewComparator(port, events.DefaultPins.Ambient, DefaultThreshold, 3)

	c.SetLevel(DefaultThreshold - 2)
	if c.Dark() || pending.Load() != 0 {
		t.Fatal("dark inside hysteresis band")
	}

	c.SetLevel(DefaultThreshold - 10)
	if !c.Dark() || pending.Load() != events.AmbientRising {
		t.Fatalf("expected dark, pending %s", pending.Load())
	}
	pending.Reset()

	c.SetLevel(DefaultThreshold + 2)
	if !c.Dark() || pending.Load() != 0 {
		t.Fatal("light inside hysteresis band")
	}

	c.SetLevel(0xF0)
	if c.Dark() || pending.Load() != events.AmbientFalling {
		t.Fatalf("expected light, pending %s", pending.Load())
	}
}

func TestNVMRequiresUnlock(t *testing.T) {
	n := NewNVM(0, 0)
	n.LoadPageBuffer(0, 0x42)
	n.Execute(store.PageEraseWrite)

	if n.ReadByte(0) != store.Erased || n.Rejected() != 1 {
		t.Fatalf("locked command executed: %#x", n.ReadByte(0))
	}

	n.Unlock()
	n.Execute(store.PageEraseWrite)
	if n.ReadByte(0) != 0x42 || n.Commits() != 1 {
		t.Fatalf("unlocked command did not execute: %#x", n.ReadByte(0))
	}
}

func TestNVMWritesOnePage(t *testing.T) {
	n := NewNVM(64, 32)
	n.Latency = 0
	n.LoadPageBuffer(30, 1)
	n.LoadPageBuffer(31, 2)
	n.LoadPageBuffer(32, 3)
	n.Unlock()
	n.Execute(store.PageEraseWrite)

	if n.ReadByte(30) != 1 || n.ReadByte(31) != 2 {
		t.Fatal("first page not written")
	}
	if n.ReadByte(32) != store.Erased {
		t.Fatal("second page written")
	}
}

func TestNVMBackingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eeprom.bin")

	n, err := OpenNVM(path, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	n.LoadPageBuffer(3, 0x10)
	n.Unlock()
	n.Execute(store.PageEraseWrite)
	if err := n.Err(); err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != DefaultEEPROMSize || b[3] != 0x10 || b[0] != store.Erased {
		t.Fatalf("unexpected image (%d bytes)", len(b))
	}

	reopened, err := OpenNVM(path, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.ReadByte(3) != 0x10 {
		t.Fatal("image not reloaded")
	}
}
