package main

import (
	"machine"

	"libdb.so/nightlight/internal/chain"
	"libdb.so/nightlight/internal/led"
	"tinygo.org/x/drivers/ws2812"
)

// strip drives the chain with the ws2812 driver, which bit-bangs the timing
// with interrupts disabled.
type strip struct {
	dev  ws2812.Device
	leds led.LEDs
}

var _ chain.Writer = (*strip)(nil)

func newStrip(pin machine.Pin) *strip {
	pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	return &strip{dev: ws2812.New(pin)}
}

func (s *strip) Fill(n int, c led.Color) error {
	if len(s.leds) != n {
		s.leds = led.NewLEDs(n)
	}
	s.leds.Fill(c)
	_, err := s.dev.Write(s.leds.AsGRB())
	return err
}
