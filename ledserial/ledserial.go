// Package ledserial implements the serial protocol used to mirror the night
// light's chain onto an external strip controller.
//
// Every packet is a one byte type, a fixed or length-prefixed body and a
// CRC32 (IEEE) of the type and body, all little endian.
package ledserial

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/pkg/errors"
)

// Endianness defines the endianness of the protocol.
var Endianness = binary.LittleEndian

// ErrChecksum is returned when a packet's checksum does not match its
// contents.
var ErrChecksum = errors.New("packet checksum mismatch")

// IncomingPacketType is the type of a packet sent to the controller.
type IncomingPacketType uint8

const (
	TypeInitializePacket IncomingPacketType = iota
	TypeClearPacket
	TypeFillPacket
)

// String returns a string representation of the packet type.
func (t IncomingPacketType) String() string {
	switch t {
	case TypeInitializePacket:
		return "initialize"
	case TypeClearPacket:
		return "clear"
	case TypeFillPacket:
		return "fill"
	default:
		return fmt.Sprintf("IncomingPacketType(%d)", t)
	}
}

// IncomingPacket is a packet sent to the controller.
type IncomingPacket interface {
	// Type returns the type of packet.
	Type() IncomingPacketType
}

// InitializePacket sets the length of the strip and blanks it.
type InitializePacket struct {
	NumLEDs uint16
}

// ClearPacket blanks the strip.
type ClearPacket struct{}

// FillPacket sets every LED of the strip to the same color. The fields are in
// wire order.
type FillPacket struct {
	G, R, B uint8
}

func (p InitializePacket) Type() IncomingPacketType { return TypeInitializePacket }
func (p ClearPacket) Type() IncomingPacketType      { return TypeClearPacket }
func (p FillPacket) Type() IncomingPacketType       { return TypeFillPacket }

// OutgoingPacketType is the type of a packet sent by the controller.
type OutgoingPacketType uint8

const (
	TypeAckPacket OutgoingPacketType = iota
	TypeErrorPacket
	TypePanicPacket
	TypeLogPacket
)

// String returns a string representation of the packet type.
func (t OutgoingPacketType) String() string {
	switch t {
	case TypeAckPacket:
		return "ack"
	case TypeErrorPacket:
		return "error"
	case TypePanicPacket:
		return "panic"
	case TypeLogPacket:
		return "log"
	default:
		return fmt.Sprintf("OutgoingPacketType(%d)", t)
	}
}

// OutgoingPacket is a packet sent by the controller.
type OutgoingPacket interface {
	// Type returns the type of packet.
	Type() OutgoingPacketType
}

// AckPacket acknowledges that an incoming packet was applied.
type AckPacket struct {
	IncomingPacketType IncomingPacketType
}

// ErrorPacket is a packet that indicates an error occurred.
type ErrorPacket struct {
	Message string
}

// PanicPacket is a packet that indicates the controller cannot recover.
type PanicPacket struct{}

// LogPacket is a packet that contains a log message.
type LogPacket struct {
	Message string
}

func (p AckPacket) Type() OutgoingPacketType   { return TypeAckPacket }
func (p ErrorPacket) Type() OutgoingPacketType { return TypeErrorPacket }
func (p PanicPacket) Type() OutgoingPacketType { return TypePanicPacket }
func (p LogPacket) Type() OutgoingPacketType   { return TypeLogPacket }

// ReadIncomingPacket reads an incoming packet from the given reader.
func ReadIncomingPacket(r io.Reader) (IncomingPacket, error) {
	hash := crc32.NewIEEE()
	r = io.TeeReader(r, hash)

	ptype, err := readType(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read incoming packet type")
	}

	var packet IncomingPacket

	switch ptype := IncomingPacketType(ptype); ptype {
	case TypeInitializePacket:
		var p InitializePacket
		if err := binary.Read(r, Endianness, &p); err != nil {
			return nil, errors.Wrap(err, "failed to read number of LEDs")
		}
		packet = p

	case TypeClearPacket:
		packet = ClearPacket{}

	case TypeFillPacket:
		var p FillPacket
		if err := binary.Read(r, Endianness, &p); err != nil {
			return nil, errors.Wrap(err, "failed to read fill color")
		}
		packet = p

	default:
		return nil, errors.Errorf("unknown packet type: %s", ptype)
	}

	if err := readChecksum(r, hash.Sum32()); err != nil {
		return nil, err
	}

	return packet, nil
}

// WriteIncomingPacket writes an incoming packet to the given writer.
func WriteIncomingPacket(w io.Writer, p IncomingPacket) error {
	hash := crc32.NewIEEE()
	mw := io.MultiWriter(w, hash)

	if err := binary.Write(mw, Endianness, p.Type()); err != nil {
		return errors.Wrap(err, "failed to write packet type")
	}

	switch p := p.(type) {
	case InitializePacket:
		if err := binary.Write(mw, Endianness, p); err != nil {
			return errors.Wrap(err, "failed to write packet")
		}
	case ClearPacket:
	case FillPacket:
		if err := binary.Write(mw, Endianness, p); err != nil {
			return errors.Wrap(err, "failed to write packet")
		}
	default:
		return errors.Errorf("unknown packet type: %T", p)
	}

	return writeChecksum(w, hash.Sum32())
}

// ReadOutgoingPacket reads an outgoing packet from the given reader.
func ReadOutgoingPacket(r io.Reader) (OutgoingPacket, error) {
	hash := crc32.NewIEEE()
	r = io.TeeReader(r, hash)

	ptype, err := readType(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read outgoing packet type")
	}

	var packet OutgoingPacket

	switch ptype := OutgoingPacketType(ptype); ptype {
	case TypeAckPacket:
		var p AckPacket
		if err := binary.Read(r, Endianness, &p); err != nil {
			return nil, errors.Wrap(err, "failed to read acked packet type")
		}
		packet = p

	case TypeErrorPacket:
		msg, err := readMessage(r)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read error message")
		}
		packet = ErrorPacket{Message: msg}

	case TypePanicPacket:
		packet = PanicPacket{}

	case TypeLogPacket:
		msg, err := readMessage(r)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read log message")
		}
		packet = LogPacket{Message: msg}

	default:
		return nil, errors.Errorf("unknown packet type: %s", ptype)
	}

	if err := readChecksum(r, hash.Sum32()); err != nil {
		return nil, err
	}

	return packet, nil
}

// WriteOutgoingPacket writes an outgoing packet to the given writer.
func WriteOutgoingPacket(w io.Writer, p OutgoingPacket) error {
	hash := crc32.NewIEEE()
	mw := io.MultiWriter(w, hash)

	if err := binary.Write(mw, Endianness, p.Type()); err != nil {
		return errors.Wrap(err, "failed to write packet type")
	}

	switch p := p.(type) {
	case AckPacket:
		if err := binary.Write(mw, Endianness, p); err != nil {
			return errors.Wrap(err, "failed to write acked packet type")
		}
	case ErrorPacket:
		if err := writeMessage(mw, p.Message); err != nil {
			return errors.Wrap(err, "failed to write error message")
		}
	case PanicPacket:
	case LogPacket:
		if err := writeMessage(mw, p.Message); err != nil {
			return errors.Wrap(err, "failed to write log message")
		}
	default:
		return errors.Errorf("unknown packet type: %T", p)
	}

	return writeChecksum(w, hash.Sum32())
}

func readType(r io.Reader) (uint8, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// readChecksum reads the trailer from r, which must still be the tee reader
// feeding the hash; want is the hash of everything before the trailer.
func readChecksum(r io.Reader, want uint32) error {
	var checksum uint32
	if err := binary.Read(r, Endianness, &checksum); err != nil {
		return errors.Wrap(err, "failed to read packet checksum")
	}
	if checksum != want {
		return ErrChecksum
	}
	return nil
}

func writeChecksum(w io.Writer, sum uint32) error {
	if err := binary.Write(w, Endianness, sum); err != nil {
		return errors.Wrap(err, "failed to write packet checksum")
	}
	return nil
}

func readMessage(r io.Reader) (string, error) {
	var length uint16
	if err := binary.Read(r, Endianness, &length); err != nil {
		return "", err
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeMessage(w io.Writer, msg string) error {
	if len(msg) > 0xFFFF {
		msg = msg[:0xFFFF]
	}
	if err := binary.Write(w, Endianness, uint16(len(msg))); err != nil {
		return err
	}
	_, err := io.WriteString(w, msg)
	return err
}
