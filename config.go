package nightlight

import (
	"encoding"
	"io"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"libdb.so/nightlight/internal/busywait"
	"libdb.so/nightlight/internal/dispatch"
	"libdb.so/nightlight/internal/events"
	"libdb.so/nightlight/internal/sim"
	"libdb.so/nightlight/internal/store"
)

// Config is the configuration for the night light daemon.
type Config struct {
	// LEDs is the length of the chain.
	LEDs int `toml:"leds"`
	// Timing configures the pacing of the feedback.
	Timing TimingConfig `toml:"timing"`
	// Storage configures the EEPROM holding the selection.
	Storage StorageConfig `toml:"storage"`
	// Output configures where frames are sent.
	Output OutputConfig `toml:"output"`
	// Input configures where button and ambient events come from.
	Input InputConfig `toml:"input"`
}

// TimingConfig is the configuration for delays and bounded waits.
type TimingConfig struct {
	// Step is how long each value is shown while a button is held.
	Step TOMLDuration `toml:"step"`
	// Blink is the duration of each phase of the feedback blink.
	Blink TOMLDuration `toml:"blink"`
	// PollLimit bounds every busy-wait on the peripherals.
	PollLimit int `toml:"poll_limit"`
}

// StorageConfig is the configuration for the simulated EEPROM.
type StorageConfig struct {
	// Path is the EEPROM image file. If empty, the EEPROM is not persisted.
	Path string `toml:"path"`
	// Base is the address of the stored record.
	Base int `toml:"base"`
	// Size is the size of the EEPROM.
	Size int `toml:"size"`
	// Page is the EEPROM page size.
	Page int `toml:"page"`
}

// OutputKind is the kind of chain output.
type OutputKind string

const (
	// SimOutput transmits to the simulated SPI peripheral.
	SimOutput OutputKind = "sim"
	// SerialOutput mirrors frames to a strip controller over a serial port.
	SerialOutput OutputKind = "serial"
	// SPIDevOutput drives a WS2812 chain from a Linux spidev port.
	SPIDevOutput OutputKind = "spidev"
)

// OutputConfig is the configuration for the chain output.
type OutputConfig struct {
	Kind OutputKind `toml:"kind"`

	// Device is the path to the serial device of the strip controller.
	// This is usually /dev/ttyUSB0 or /dev/ttyACM0.
	Device string `toml:"device"`
	// Baud is the baud rate for the serial connection.
	Baud int `toml:"baud"`
	// AckTimeout is how long to wait for the controller to acknowledge a
	// frame.
	AckTimeout TOMLDuration `toml:"ack_timeout"`

	// Port is the spidev port name. An empty name opens the first port.
	Port string `toml:"port"`
	// Hz is the SPI clock. Each chain bit takes 3 SPI bits.
	Hz int `toml:"hz"`

	// LogFrames also writes every frame to the console output.
	LogFrames bool `toml:"log_frames"`
}

// InputKind is the kind of event source.
type InputKind string

const (
	// ConsoleInput reads commands from the console.
	ConsoleInput InputKind = "console"
	// GPIOInput reads buttons and the ambient comparator from GPIO pins.
	GPIOInput InputKind = "gpio"
)

// InputConfig is the configuration for the event source.
type InputConfig struct {
	Kind InputKind `toml:"kind"`

	// Button1, Button2 and Ambient are GPIO pin names, such as "GPIO17".
	Button1 string `toml:"button1"`
	Button2 string `toml:"button2"`
	Ambient string `toml:"ambient"`

	// AmbientSensor configures the comparator used with console input.
	AmbientSensor AmbientSensorConfig `toml:"ambient_sensor"`
}

// AmbientSensorConfig is the configuration for the ambient light comparator.
type AmbientSensorConfig struct {
	// Threshold is the reference level. Light levels below it are dark.
	Threshold int `toml:"threshold"`
	// Hysteresis is the comparator hysteresis in counts.
	Hysteresis int `toml:"hysteresis"`
}

// DefaultConfig returns the configuration of the reference board running on
// the simulated peripherals.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.setDefaults(func(string) bool { return false })
	return cfg
}

// setDefaults fills in every setting for which isSet returns false. Keys are
// dotted TOML paths. Settings given in the file are kept even when they are
// zero, so that Validate sees them.
func (c *Config) setDefaults(isSet func(key string) bool) {
	def := func(key string, v *int, d int) {
		if !isSet(key) {
			*v = d
		}
	}
	defDuration := func(key string, v *TOMLDuration, d time.Duration) {
		if !isSet(key) {
			*v = TOMLDuration(d)
		}
	}

	def("leds", &c.LEDs, dispatch.DefaultNumLEDs)

	defDuration("timing.step", &c.Timing.Step, dispatch.DefaultStepInterval)
	defDuration("timing.blink", &c.Timing.Blink, dispatch.DefaultBlinkInterval)
	def("timing.poll_limit", &c.Timing.PollLimit, busywait.DefaultLimit)

	def("storage.size", &c.Storage.Size, sim.DefaultEEPROMSize)
	def("storage.page", &c.Storage.Page, sim.DefaultPageSize)

	if !isSet("output.kind") {
		c.Output.Kind = SimOutput
	}
	def("output.baud", &c.Output.Baud, 115200)
	defDuration("output.ack_timeout", &c.Output.AckTimeout, time.Second)
	def("output.hz", &c.Output.Hz, 2400000)

	if !isSet("input.kind") {
		c.Input.Kind = ConsoleInput
	}
	def("input.ambient_sensor.threshold", &c.Input.AmbientSensor.Threshold, sim.DefaultThreshold)
	def("input.ambient_sensor.hysteresis", &c.Input.AmbientSensor.Hysteresis, 3)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.LEDs < 1 || c.LEDs > 0xFFFF {
		return errors.Errorf("invalid number of LEDs %d", c.LEDs)
	}

	if c.Timing.Step <= 0 || c.Timing.Blink <= 0 {
		return errors.New("timing intervals must be positive")
	}
	if c.Timing.PollLimit < 1 {
		return errors.New("poll_limit must be positive")
	}

	s := c.Storage
	if s.Size < 1 || s.Page < 1 || s.Size%s.Page != 0 {
		return errors.Errorf("EEPROM size %d is not a multiple of page size %d", s.Size, s.Page)
	}
	if s.Size > 0x10000 {
		return errors.Errorf("EEPROM size %d exceeds the address space", s.Size)
	}
	if s.Base < 0 || s.Base+store.RecordSize > s.Size {
		return errors.Errorf("record at %#x does not fit in the EEPROM", s.Base)
	}
	if s.Base%s.Page+store.RecordSize > s.Page {
		return errors.Errorf("record at %#x crosses a page boundary", s.Base)
	}

	switch c.Output.Kind {
	case SimOutput:
	case SerialOutput:
		if c.Output.Device == "" {
			return errors.New("serial output needs a device")
		}
		if c.Output.Baud < 1 {
			return errors.Errorf("invalid baud rate %d", c.Output.Baud)
		}
		if c.Output.AckTimeout <= 0 {
			return errors.New("ack_timeout must be positive")
		}
	case SPIDevOutput:
		if c.Output.Hz < 1 {
			return errors.Errorf("invalid SPI clock %d", c.Output.Hz)
		}
	default:
		return errors.Errorf("unknown output kind %q", c.Output.Kind)
	}

	switch c.Input.Kind {
	case ConsoleInput:
		a := c.Input.AmbientSensor
		if a.Threshold < 0 || a.Threshold > 0xFF {
			return errors.Errorf("invalid ambient threshold %d", a.Threshold)
		}
		if a.Hysteresis < 0 {
			return errors.Errorf("invalid ambient hysteresis %d", a.Hysteresis)
		}
		// Levels run from 0 to 255: going dark needs a level below
		// threshold-hysteresis, going light one above threshold+hysteresis.
		if a.Threshold-a.Hysteresis < 1 {
			return errors.Errorf(
				"ambient threshold %d with hysteresis %d can never go dark",
				a.Threshold, a.Hysteresis)
		}
		if a.Threshold+a.Hysteresis > 0xFE {
			return errors.Errorf(
				"ambient threshold %d with hysteresis %d can never go light",
				a.Threshold, a.Hysteresis)
		}
	case GPIOInput:
		if c.Input.Button1 == "" || c.Input.Button2 == "" || c.Input.Ambient == "" {
			return errors.New("gpio input needs button1, button2 and ambient pins")
		}
	default:
		return errors.Errorf("unknown input kind %q", c.Input.Kind)
	}

	return nil
}

// dispatchConfig returns the dispatcher settings of c. The hardware fields
// are left to the caller.
func (c *Config) dispatchConfig() dispatch.Config {
	return dispatch.Config{
		Pins:          events.DefaultPins,
		NumLEDs:       c.LEDs,
		StepInterval:  time.Duration(c.Timing.Step),
		BlinkInterval: time.Duration(c.Timing.Blink),
	}
}

// TOMLDuration is a duration that can be parsed from TOML.
type TOMLDuration time.Duration

var (
	_ encoding.TextUnmarshaler = (*TOMLDuration)(nil)
	_ encoding.TextMarshaler   = (*TOMLDuration)(nil)
)

func (d *TOMLDuration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = TOMLDuration(duration)
	return nil
}

func (d TOMLDuration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// ParseConfig parses a configuration from a reader. Settings missing from the
// file take their default values.
func ParseConfig(r io.Reader) (*Config, error) {
	tree, err := toml.LoadReader(r)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := tree.Unmarshal(&config); err != nil {
		return nil, err
	}
	config.setDefaults(tree.Has)
	return &config, nil
}
