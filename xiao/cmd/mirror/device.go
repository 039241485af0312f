package main

import (
	"fmt"
	"machine"

	"libdb.so/nightlight/internal/led"
	"libdb.so/nightlight/ledserial"
	"libdb.so/nightlight/xiao"
	"tinygo.org/x/drivers/ws2812"
)

// Device stores the current state of the device.
type Device struct {
	serial xiao.SerialReadWriter
	led    ws2812.Device
	status *xiao.MainLED

	leds led.LEDs
}

// NewDevice creates a new device.
func NewDevice(serial machine.Serialer, ledPin machine.Pin) *Device {
	ledPin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	return &Device{
		serial: xiao.WrapSerial(serial),
		led:    ws2812.New(ledPin),
		status: xiao.NewMainLED(),
	}
}

// Run runs the device loop forever.
func (d *Device) Run() {
	for {
		p, err := d.readPacket()
		if err != nil {
			d.logError(err)
			continue
		}

		if err := d.handlePacket(p); err != nil {
			d.logError(err)
		}
	}
}

func (d *Device) log(msg string) {
	d.sendPacket(ledserial.LogPacket{Message: msg})
}

func (d *Device) logError(err error) {
	d.sendPacket(ledserial.ErrorPacket{Message: err.Error()})
}

func (d *Device) sendPacket(p ledserial.OutgoingPacket) {
	ledserial.WriteOutgoingPacket(d.serial, p)
}

func (d *Device) readPacket() (ledserial.IncomingPacket, error) {
	p, err := ledserial.ReadIncomingPacket(d.serial)
	if err != nil {
		return nil, err
	}

	// Blink the board LED for every packet.
	d.status.On(0, 0, 32)
	defer d.status.Off()

	return p, nil
}

func (d *Device) handlePacket(p ledserial.IncomingPacket) error {
	switch p := p.(type) {
	case ledserial.InitializePacket:
		if p.NumLEDs < 1 {
			return fmt.Errorf("invalid number of LEDs: %d", p.NumLEDs)
		}
		d.leds = led.NewLEDs(int(p.NumLEDs))
		d.log(fmt.Sprintf("initialized %d LEDs", p.NumLEDs))
		if err := d.show(); err != nil {
			return err
		}

	case ledserial.ClearPacket:
		d.leds.Fill(led.Off)
		if err := d.show(); err != nil {
			return err
		}

	case ledserial.FillPacket:
		if d.leds == nil {
			return fmt.Errorf("fill before initialize")
		}
		d.leds.Fill(led.Color{G: p.G, R: p.R, B: p.B})
		if err := d.show(); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unknown packet type: %T", p)
	}

	d.sendPacket(ledserial.AckPacket{
		IncomingPacketType: p.Type(),
	})
	return nil
}

func (d *Device) show() error {
	_, err := d.led.Write(d.leds.AsGRB())
	return err
}
