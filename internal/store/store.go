// Package store keeps the selected color in the processor's EEPROM so that it
// survives the batteries running out.
package store

import (
	"github.com/pkg/errors"
	"libdb.so/nightlight/internal/busywait"
	"libdb.so/nightlight/internal/led"
)

// Erased is the value of a byte that has never been written.
const Erased = 0xFF

// RecordSize is the size of a record in bytes.
const RecordSize = 5

// Record is the persisted color: [red][green][blue][intensity][mask].
type Record struct {
	Red       uint8
	Green     uint8
	Blue      uint8
	Intensity uint8
	ColorMask uint8
}

// DefaultRecord is written the first time the device boots.
var DefaultRecord = Record{
	Red:       0x08,
	Green:     0x08,
	Blue:      0x08,
	Intensity: 0x08,
	ColorMask: 1,
}

// RecordOf returns the record for the given state.
func RecordOf(s led.State) Record {
	return Record{
		Red:       s.Color.R,
		Green:     s.Color.G,
		Blue:      s.Color.B,
		Intensity: uint8(s.Intensity),
		ColorMask: uint8(s.Mask),
	}
}

// State returns the light state the record describes.
func (r Record) State() led.State {
	return led.State{
		Color:     led.RGB(r.Red, r.Green, r.Blue),
		Mask:      led.ColorMask(r.ColorMask),
		Intensity: led.Intensity(r.Intensity),
	}
}

// Bytes returns the record in storage layout.
func (r Record) Bytes() [RecordSize]byte {
	return [RecordSize]byte{r.Red, r.Green, r.Blue, r.Intensity, r.ColorMask}
}

// RecordFromBytes parses a record in storage layout.
func RecordFromBytes(b [RecordSize]byte) Record {
	return Record{
		Red:       b[0],
		Green:     b[1],
		Blue:      b[2],
		Intensity: b[3],
		ColorMask: b[4],
	}
}

// IsErased returns true if any byte of the record holds the erased value. A
// single erased byte invalidates the whole record.
func (r Record) IsErased() bool {
	for _, b := range r.Bytes() {
		if b == Erased {
			return true
		}
	}
	return false
}

// IsValid returns true if the record's mask and intensity are in range.
func (r Record) IsValid() bool {
	return led.ColorMask(r.ColorMask).Valid() && led.Intensity(r.Intensity).Valid()
}

// Command is a non-volatile memory controller command.
type Command uint8

const (
	// PageBufferClear empties the page buffer.
	PageBufferClear Command = iota + 1
	// PageEraseWrite erases and writes the bytes loaded into the page buffer
	// as one operation.
	PageEraseWrite
)

func (c Command) String() string {
	switch c {
	case PageBufferClear:
		return "page buffer clear"
	case PageEraseWrite:
		return "page erase-write"
	default:
		return "unknown command"
	}
}

// Controller is the non-volatile memory controller.
type Controller interface {
	// ReadByte reads a byte of EEPROM.
	ReadByte(addr uint16) byte
	// LoadPageBuffer stores a byte into the page buffer. Nothing is written
	// until PageEraseWrite is executed.
	LoadPageBuffer(addr uint16, b byte)
	// Unlock writes the protection signature that must precede every
	// command.
	Unlock()
	// Execute starts a command.
	Execute(cmd Command)
	// Busy returns true while a command is in progress.
	Busy() bool
}

// ReadFailer is implemented by controllers whose reads can fail. ReadErr
// returns the first error since the last call and clears it.
type ReadFailer interface {
	ReadErr() error
}

// Store reads and writes the record at a fixed base address.
type Store struct {
	ctl   Controller
	base  uint16
	limit int
}

// New creates a new store. pollLimit bounds every wait on the controller; zero
// means busywait.DefaultLimit.
func New(ctl Controller, base uint16, pollLimit int) *Store {
	return &Store{
		ctl:   ctl,
		base:  base,
		limit: pollLimit,
	}
}

// Read reads the raw record without any validation.
func (s *Store) Read() Record {
	var b [RecordSize]byte
	for i := range b {
		b[i] = s.ctl.ReadByte(s.base + uint16(i))
	}
	return RecordFromBytes(b)
}

// Load reads the record. If it was never written or holds out-of-range values,
// DefaultRecord is saved and returned and initialized is true. If the
// controller is a ReadFailer and the read failed, nothing is written.
func (s *Store) Load() (rec Record, initialized bool, err error) {
	rf, _ := s.ctl.(ReadFailer)
	if rf != nil {
		rf.ReadErr()
	}

	rec = s.Read()
	if rf != nil {
		if err := rf.ReadErr(); err != nil {
			return Record{}, false, errors.Wrap(err, "failed to read record")
		}
	}

	if !rec.IsErased() && rec.IsValid() {
		return rec, false, nil
	}

	rec = DefaultRecord
	if err := s.Save(rec); err != nil {
		return rec, true, errors.Wrap(err, "failed to initialize record")
	}
	return rec, true, nil
}

// Save writes the record. The whole record is committed by a single page
// erase-write so it is never left half written.
func (s *Store) Save(r Record) error {
	return s.write(r.Bytes())
}

// Erase overwrites the record with the erased value, so the next Load
// initializes it again.
func (s *Store) Erase() error {
	var b [RecordSize]byte
	for i := range b {
		b[i] = Erased
	}
	return s.write(b)
}

func (s *Store) write(b [RecordSize]byte) error {
	if err := s.execute(PageBufferClear); err != nil {
		return err
	}

	for i, v := range b {
		s.ctl.LoadPageBuffer(s.base+uint16(i), v)
	}
	if err := s.wait("page buffer load"); err != nil {
		return err
	}

	return s.execute(PageEraseWrite)
}

func (s *Store) execute(cmd Command) error {
	s.ctl.Unlock()
	s.ctl.Execute(cmd)
	return s.wait(cmd.String())
}

func (s *Store) wait(step string) error {
	err := busywait.Until(s.limit, func() bool { return !s.ctl.Busy() })
	return errors.Wrapf(err, "nvm %s", step)
}
