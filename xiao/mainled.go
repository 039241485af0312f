package xiao

import (
	"machine"

	"tinygo.org/x/drivers/ws2812"
)

// MainLED is the RGB LED on the board itself.
type MainLED struct {
	power machine.Pin
	dev   ws2812.Device
}

// NewMainLED configures the board's RGB LED and turns it off.
func NewMainLED() *MainLED {
	// https://wiki.seeedstudio.com/XIAO-RP2040-with-Arduino/
	power := machine.GPIO11
	power.Configure(machine.PinConfig{Mode: machine.PinOutput})
	power.Low()

	machine.GPIO12.Configure(machine.PinConfig{Mode: machine.PinOutput})

	return &MainLED{
		power: power,
		dev:   ws2812.New(machine.GPIO12),
	}
}

// On turns the LED on with the given color.
func (l *MainLED) On(r, g, b uint8) {
	l.power.High()
	l.dev.WriteByte(g)
	l.dev.WriteByte(r)
	l.dev.WriteByte(b)
}

// Off turns the LED off.
func (l *MainLED) Off() {
	l.power.Low()
}
