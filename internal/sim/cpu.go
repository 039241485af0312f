// Package sim models the night light's microcontroller peripherals on a host,
// so the firmware core can run as a regular process and under test.
package sim

import (
	"sync"

	"libdb.so/nightlight/internal/mcu"
)

// CPU models the processor's interrupt mask and sleep state. Holding the mutex
// is the same as running with interrupts disabled; interrupt handlers run with
// the mutex held, so they never preempt each other or a critical section.
type CPU struct {
	mu       sync.Mutex
	wake     *sync.Cond
	sleeping bool
	woken    bool
	sleeps   int
	irqs     int
}

var _ mcu.CPU = (*CPU)(nil)

// NewCPU creates a new CPU.
func NewCPU() *CPU {
	c := &CPU{}
	c.wake = sync.NewCond(&c.mu)
	return c
}

// DisableInterrupts implements mcu.CPU.
func (c *CPU) DisableInterrupts() mcu.InterruptState {
	c.mu.Lock()
	return 0
}

// RestoreInterrupts implements mcu.CPU.
func (c *CPU) RestoreInterrupts(mcu.InterruptState) {
	c.mu.Unlock()
}

// Sleep implements mcu.CPU. Waiting on the condition variable releases the
// mutex and suspends in one step, which is what makes the check-then-sleep
// sequence safe.
func (c *CPU) Sleep() {
	c.sleeping = true
	c.sleeps++
	for !c.woken {
		c.wake.Wait()
	}
	c.woken = false
	c.sleeping = false
	c.mu.Unlock()
}

// Interrupt runs isr in interrupt context. isr reports whether an interrupt
// actually fired; if it did and the CPU is asleep, the CPU wakes up.
func (c *CPU) Interrupt(isr func() bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if isr != nil && !isr() {
		return
	}
	c.irqs++
	if c.sleeping {
		c.woken = true
		c.wake.Signal()
	}
}

// Wake wakes the CPU without running a handler. The daemon uses it to get the
// main loop to notice shutdown.
func (c *CPU) Wake() {
	c.Interrupt(nil)
}

// Sleeps returns the number of times the CPU went to sleep.
func (c *CPU) Sleeps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sleeps
}

// Asleep returns true if the CPU is currently sleeping.
func (c *CPU) Asleep() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sleeping
}

// Interrupts returns the number of interrupts serviced.
func (c *CPU) Interrupts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.irqs
}
