package sim

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"libdb.so/nightlight/internal/store"
)

const (
	// DefaultEEPROMSize is the size of the modelled EEPROM.
	DefaultEEPROMSize = 256
	// DefaultPageSize is the EEPROM page size.
	DefaultPageSize = 32
)

// NVM models the non-volatile memory controller and its EEPROM. Commands are
// ignored unless the protection signature was written right before them, and
// only bytes loaded into the page buffer are written by an erase-write. If the
// NVM has a backing file, the image is written to it after every erase-write.
type NVM struct {
	// Latency is the number of Busy polls a command takes.
	Latency int

	mu       sync.Mutex
	mem      []byte
	pageSize int
	buffer   map[uint16]byte
	page     int
	unlocked bool
	busy     int
	path     string
	commits  int
	rejected int
	err      error
}

var _ store.Controller = (*NVM)(nil)

// NewNVM creates an erased, volatile EEPROM.
func NewNVM(size, pageSize int) *NVM {
	if size <= 0 {
		size = DefaultEEPROMSize
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	mem := make([]byte, size)
	for i := range mem {
		mem[i] = store.Erased
	}

	return &NVM{
		Latency:  4,
		mem:      mem,
		pageSize: pageSize,
		buffer:   make(map[uint16]byte),
		page:     -1,
	}
}

// OpenNVM creates an EEPROM backed by the image file at path. A missing file
// is an erased EEPROM.
func OpenNVM(path string, size, pageSize int) (*NVM, error) {
	n := NewNVM(size, pageSize)
	n.path = path

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return n, nil
		}
		return nil, errors.Wrap(err, "failed to read eeprom image")
	}

	copy(n.mem, b)
	return n, nil
}

// ReadByte implements store.Controller.
func (n *NVM) ReadByte(addr uint16) byte {
	n.mu.Lock()
	defer n.mu.Unlock()

	if int(addr) >= len(n.mem) {
		return store.Erased
	}
	return n.mem[addr]
}

// LoadPageBuffer implements store.Controller.
func (n *NVM) LoadPageBuffer(addr uint16, b byte) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.busy > 0 || int(addr) >= len(n.mem) {
		n.rejected++
		return
	}
	if n.page == -1 {
		n.page = int(addr) / n.pageSize
	}
	n.buffer[addr] = b
}

// Unlock implements store.Controller.
func (n *NVM) Unlock() {
	n.mu.Lock()
	n.unlocked = true
	n.mu.Unlock()
}

// Execute implements store.Controller.
func (n *NVM) Execute(cmd store.Command) {
	n.mu.Lock()
	defer n.mu.Unlock()

	unlocked := n.unlocked
	n.unlocked = false

	if !unlocked || n.busy > 0 {
		n.rejected++
		return
	}

	switch cmd {
	case store.PageBufferClear:
		n.clearBuffer()
	case store.PageEraseWrite:
		n.commit()
	default:
		n.rejected++
		return
	}

	n.busy = n.Latency
}

func (n *NVM) clearBuffer() {
	n.buffer = make(map[uint16]byte)
	n.page = -1
}

// commit writes the page of the first loaded byte. Bytes loaded for other
// pages are dropped, as the controller only ever writes one page.
func (n *NVM) commit() {
	for addr, b := range n.buffer {
		if int(addr)/n.pageSize == n.page {
			n.mem[addr] = b
		}
	}
	n.clearBuffer()
	n.commits++

	if n.path != "" {
		n.err = writeFileAtomic(n.path, n.mem)
	}
}

// Busy implements store.Controller.
func (n *NVM) Busy() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.busy > 0 {
		n.busy--
		return true
	}
	return false
}

// Commits returns the number of erase-writes performed.
func (n *NVM) Commits() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.commits
}

// Rejected returns the number of commands and loads the controller refused.
func (n *NVM) Rejected() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.rejected
}

// Err returns the last error writing the backing file.
func (n *NVM) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

// Image returns a copy of the EEPROM contents.
func (n *NVM) Image() []byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]byte(nil), n.mem...)
}

// Poke writes EEPROM directly, bypassing the controller.
func (n *NVM) Poke(addr uint16, b ...byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	copy(n.mem[addr:], b)
}

func writeFileAtomic(path string, b []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".eeprom-*")
	if err != nil {
		return errors.Wrap(err, "failed to create eeprom image")
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(b); err != nil {
		f.Close()
		return errors.Wrap(err, "failed to write eeprom image")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "failed to close eeprom image")
	}
	if err := os.Rename(f.Name(), path); err != nil {
		return errors.Wrap(err, "failed to replace eeprom image")
	}
	return nil
}
