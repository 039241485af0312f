// Package mcu describes the processor services the night light core needs:
// masking interrupts and sleeping until the next one.
package mcu

// InterruptState is the interrupt mask state returned by DisableInterrupts.
type InterruptState uintptr

// CPU is the interrupt and sleep control of the processor. There are two
// contexts of execution: interrupt handlers and the main loop. Handlers never
// preempt each other.
type CPU interface {
	// DisableInterrupts masks interrupts and returns the previous state.
	DisableInterrupts() InterruptState
	// RestoreInterrupts restores the state returned by DisableInterrupts.
	RestoreInterrupts(InterruptState)
	// Sleep must be called with interrupts disabled. It enables interrupts
	// and enters the low-power state as one step, so an interrupt that
	// arrives after the caller's last check still wakes the processor. It
	// returns with interrupts enabled once an interrupt has been serviced.
	Sleep()
}

// Critical runs f with interrupts disabled.
func Critical(cpu CPU, f func()) {
	state := cpu.DisableInterrupts()
	f()
	cpu.RestoreInterrupts(state)
}
