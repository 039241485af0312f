// Command mirror turns a XIAO RP2040 into a strip controller for the
// nightlight daemon's serial output.
package main

import (
	"machine"
	"time"
)

const chainPin = machine.D10

func main() {
	// Give the host a moment to open the port.
	time.Sleep(500 * time.Millisecond)

	d := NewDevice(machine.Serial, chainPin)
	d.Run()
}
