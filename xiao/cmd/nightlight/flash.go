package main

import (
	"machine"

	"libdb.so/nightlight/internal/store"
)

// flashNVM emulates the EEPROM controller on top of the last erase block of
// the on-board flash. Writes are synchronous, so the controller is never
// busy.
type flashNVM struct {
	block    []byte
	buffer   map[uint16]byte
	unlocked bool
	readErr  error
	err      error
}

var (
	_ store.Controller = (*flashNVM)(nil)
	_ store.ReadFailer = (*flashNVM)(nil)
)

func newFlashNVM() *flashNVM {
	return &flashNVM{
		block:  make([]byte, machine.Flash.EraseBlockSize()),
		buffer: make(map[uint16]byte),
	}
}

// offset is the start of the last erase block.
func (n *flashNVM) offset() int64 {
	return machine.Flash.Size() - machine.Flash.EraseBlockSize()
}

func (n *flashNVM) ReadByte(addr uint16) byte {
	var b [1]byte
	if _, err := machine.Flash.ReadAt(b[:], n.offset()+int64(addr)); err != nil {
		if n.readErr == nil {
			n.readErr = err
		}
		return store.Erased
	}
	return b[0]
}

func (n *flashNVM) LoadPageBuffer(addr uint16, b byte) {
	n.buffer[addr] = b
}

func (n *flashNVM) Unlock() {
	n.unlocked = true
}

func (n *flashNVM) Execute(cmd store.Command) {
	unlocked := n.unlocked
	n.unlocked = false
	if !unlocked {
		return
	}

	switch cmd {
	case store.PageBufferClear:
		n.buffer = make(map[uint16]byte)
	case store.PageEraseWrite:
		n.err = n.commit()
		n.buffer = make(map[uint16]byte)
	}
}

func (n *flashNVM) commit() error {
	off := n.offset()
	if _, err := machine.Flash.ReadAt(n.block, off); err != nil {
		return err
	}
	for addr, b := range n.buffer {
		if int(addr) < len(n.block) {
			n.block[addr] = b
		}
	}

	blockSize := machine.Flash.EraseBlockSize()
	if err := machine.Flash.EraseBlocks(off/blockSize, 1); err != nil {
		return err
	}
	_, err := machine.Flash.WriteAt(n.block, off)
	return err
}

func (n *flashNVM) Busy() bool { return false }

// ReadErr returns the first failed read since the last call.
func (n *flashNVM) ReadErr() error {
	err := n.readErr
	n.readErr = nil
	return err
}

// Err returns the last flash write error.
func (n *flashNVM) Err() error { return n.err }
