package main

import (
	"device/arm"
	"runtime/interrupt"

	"libdb.so/nightlight/internal/mcu"
)

// cpu masks interrupts with PRIMASK. A pending interrupt still ends a wfi
// while PRIMASK is set, so sleeping before unmasking cannot miss it.
type cpu struct{}

var _ mcu.CPU = cpu{}

func (cpu) DisableInterrupts() mcu.InterruptState {
	return mcu.InterruptState(interrupt.Disable())
}

func (cpu) RestoreInterrupts(state mcu.InterruptState) {
	interrupt.Restore(interrupt.State(state))
}

func (cpu) Sleep() {
	arm.Asm("wfi")
	arm.Asm("cpsie i")
}
