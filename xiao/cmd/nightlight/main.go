// Command nightlight is the night light firmware for the Seeed XIAO RP2040.
//
// The chain is on D10, the color and intensity buttons on D1 and D2 (to
// ground), and the output of the ambient light comparator on D3, high when
// dark.
package main

import (
	"context"
	"log/slog"
	"machine"
	"time"

	"libdb.so/nightlight/internal/dispatch"
	"libdb.so/nightlight/internal/events"
	"libdb.so/nightlight/internal/store"
)

const (
	chainPin   = machine.D10
	button1Pin = machine.D1
	button2Pin = machine.D2
	ambientPin = machine.D3
)

func main() {
	logger := slog.New(slog.NewTextHandler(machine.Serial, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if err := run(logger); err != nil {
		logger.Error("fatal error, resetting", "error", err)
		time.Sleep(100 * time.Millisecond)
		machine.CPUReset()
	}
}

func run(logger *slog.Logger) error {
	pins := events.DefaultPins
	pending := &events.Pending{}

	p := newPort()
	p.capture = events.NewCapture(p, pins, pending)

	if err := p.bind(pins.Button1, button1Pin, machine.PinInputPullup, machine.PinFalling); err != nil {
		return err
	}
	if err := p.bind(pins.Button2, button2Pin, machine.PinInputPullup, machine.PinFalling); err != nil {
		return err
	}
	if err := p.bind(pins.Ambient, ambientPin, machine.PinInput, machine.PinToggle); err != nil {
		return err
	}

	nvm := newFlashNVM()

	d, err := dispatch.New(dispatch.Config{
		CPU:     cpu{},
		Port:    p,
		Pins:    pins,
		Pending: pending,
		Chain:   newStrip(chainPin),
		Store:   store.New(nvm, 0, 0),
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	if err := d.Boot(); err != nil {
		return err
	}
	if err := nvm.Err(); err != nil {
		logger.Warn("flash error", "error", err)
	}

	return d.Run(context.Background())
}
