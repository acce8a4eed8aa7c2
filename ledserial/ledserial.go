// Package ledserial implements the LED serial protocol.
//
// Every packet is framed as a type byte, a type specific payload and the
// CRC-32 (IEEE) of the type byte and payload. Packets sent by the host to the
// controller are incoming packets; packets sent back are outgoing packets.
package ledserial

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/pkg/errors"
)

// Endianness defines the endianness of the protocol.
var Endianness = binary.LittleEndian

// ErrChecksum is returned when a packet's checksum does not match.
var ErrChecksum = errors.New("packet checksum mismatch")

// IncomingPacketType is a type of packet sent to the controller.
type IncomingPacketType uint8

const (
	TypeInitializePacket IncomingPacketType = iota
	TypeClearPacket
	TypeSetPacket
)

// String returns a string representation of the packet type.
func (t IncomingPacketType) String() string {
	switch t {
	case TypeInitializePacket:
		return "initialize"
	case TypeClearPacket:
		return "clear"
	case TypeSetPacket:
		return "set"
	default:
		return fmt.Sprintf("IncomingPacketType(%d)", t)
	}
}

// IncomingPacket is a packet sent to the controller.
type IncomingPacket interface {
	// Type returns the type of packet.
	Type() IncomingPacketType
}

// InitializePacket tells the controller how many LEDs the strip has.
type InitializePacket struct {
	NumLEDs uint16
}

// ClearPacket turns every LED off.
type ClearPacket struct{}

// SetPacket sets every LED. Pix holds three bytes (R, G, B) per LED.
type SetPacket struct {
	Pix []uint8
}

func (p InitializePacket) Type() IncomingPacketType { return TypeInitializePacket }
func (p ClearPacket) Type() IncomingPacketType      { return TypeClearPacket }
func (p SetPacket) Type() IncomingPacketType        { return TypeSetPacket }

// OutgoingPacketType is a type of packet sent by the controller.
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

// AckPacket acknowledges that an incoming packet was applied. The host sends
// the next frame only after an ack.
type AckPacket struct {
	IncomingPacketType IncomingPacketType
}

// ErrorPacket reports a recoverable error.
type ErrorPacket struct {
	Message string
}

// PanicPacket reports that the controller cannot recover.
type PanicPacket struct {
	Message string
}

// LogPacket carries a log line from the controller.
type LogPacket struct {
	Message string
}

func (p AckPacket) Type() OutgoingPacketType   { return TypeAckPacket }
func (p ErrorPacket) Type() OutgoingPacketType { return TypeErrorPacket }
func (p PanicPacket) Type() OutgoingPacketType { return TypePanicPacket }
func (p LogPacket) Type() OutgoingPacketType   { return TypeLogPacket }

// ReadContext is the state of the LED strip. Data in this structure are
// required for the controller to read incoming packets.
type ReadContext struct {
	// NumLEDs is the number of LEDs in the strip.
	NumLEDs uint16
}

// writeFrame writes the type byte, the payload and the checksum in a single
// write.
func writeFrame(w io.Writer, ptype uint8, payload []byte) error {
	var buf bytes.Buffer
	buf.Grow(1 + len(payload) + 4)
	buf.WriteByte(ptype)
	buf.Write(payload)

	var sum [4]byte
	Endianness.PutUint32(sum[:], crc32.ChecksumIEEE(buf.Bytes()))
	buf.Write(sum[:])

	_, err := w.Write(buf.Bytes())
	return err
}

// frameReader checksums everything read through it.
type frameReader struct {
	r    io.Reader
	hash uint32
}

func (f *frameReader) Read(p []byte) (int, error) {
	n, err := f.r.Read(p)
	f.hash = crc32.Update(f.hash, crc32.IEEETable, p[:n])
	return n, err
}

func (f *frameReader) readType() (uint8, error) {
	var b [1]byte
	if _, err := io.ReadFull(f, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (f *frameReader) readMessage() (string, error) {
	var length uint16
	if err := binary.Read(f, Endianness, &length); err != nil {
		return "", errors.Wrap(err, "failed to read message length")
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(f, buf); err != nil {
		return "", errors.Wrap(err, "failed to read message")
	}
	return string(buf), nil
}

// verify reads the trailing checksum. It must be called after the payload.
func (f *frameReader) verify() error {
	want := f.hash

	var sum [4]byte
	if _, err := io.ReadFull(f.r, sum[:]); err != nil {
		return errors.Wrap(err, "failed to read checksum")
	}
	if Endianness.Uint32(sum[:]) != want {
		return ErrChecksum
	}
	return nil
}

func appendMessage(dst []byte, msg string) []byte {
	dst = Endianness.AppendUint16(dst, uint16(len(msg)))
	return append(dst, msg...)
}

// WriteIncomingPacket writes an incoming packet to the given writer.
func WriteIncomingPacket(w io.Writer, p IncomingPacket) error {
	var payload []byte

	switch p := p.(type) {
	case InitializePacket:
		payload = Endianness.AppendUint16(nil, p.NumLEDs)
	case ClearPacket:
	case SetPacket:
		payload = p.Pix
	default:
		return fmt.Errorf("unknown packet type: %T", p)
	}

	if err := writeFrame(w, uint8(p.Type()), payload); err != nil {
		return errors.Wrapf(err, "failed to write %s packet", p.Type())
	}
	return nil
}

// ReadIncomingPacket reads an incoming packet from the given reader.
func ReadIncomingPacket(r io.Reader, context ReadContext) (IncomingPacket, error) {
	f := &frameReader{r: r}

	ptype, err := f.readType()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read incoming packet type")
	}

	var packet IncomingPacket

	switch ptype := IncomingPacketType(ptype); ptype {
	case TypeInitializePacket:
		var p InitializePacket
		if err := binary.Read(f, Endianness, &p.NumLEDs); err != nil {
			return nil, errors.Wrap(err, "failed to read number of LEDs")
		}
		packet = p

	case TypeClearPacket:
		packet = ClearPacket{}

	case TypeSetPacket:
		p := SetPacket{Pix: make([]uint8, 3*int(context.NumLEDs))}
		if _, err := io.ReadFull(f, p.Pix); err != nil {
			return nil, errors.Wrap(err, "failed to read pixel data")
		}
		packet = p

	default:
		return nil, fmt.Errorf("unknown packet type: %s", ptype)
	}

	if err := f.verify(); err != nil {
		return nil, err
	}

	return packet, nil
}

// WriteOutgoingPacket writes an outgoing packet to the given writer.
func WriteOutgoingPacket(w io.Writer, p OutgoingPacket) error {
	var payload []byte

	switch p := p.(type) {
	case AckPacket:
		payload = []byte{uint8(p.IncomingPacketType)}
	case ErrorPacket:
		payload = appendMessage(nil, p.Message)
	case PanicPacket:
		payload = appendMessage(nil, p.Message)
	case LogPacket:
		payload = appendMessage(nil, p.Message)
	default:
		return fmt.Errorf("unknown packet type: %T", p)
	}

	if err := writeFrame(w, uint8(p.Type()), payload); err != nil {
		return errors.Wrapf(err, "failed to write %s packet", p.Type())
	}
	return nil
}

// ReadOutgoingPacket reads an outgoing packet from the given reader.
func ReadOutgoingPacket(r io.Reader) (OutgoingPacket, error) {
	f := &frameReader{r: r}

	ptype, err := f.readType()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read outgoing packet type")
	}

	var packet OutgoingPacket

	switch ptype := OutgoingPacketType(ptype); ptype {
	case TypeAckPacket:
		acked, err := f.readType()
		if err != nil {
			return nil, errors.Wrap(err, "failed to read acked packet type")
		}
		packet = AckPacket{IncomingPacketType: IncomingPacketType(acked)}

	case TypeErrorPacket, TypePanicPacket, TypeLogPacket:
		msg, err := f.readMessage()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %s packet", ptype)
		}
		switch ptype {
		case TypeErrorPacket:
			packet = ErrorPacket{Message: msg}
		case TypePanicPacket:
			packet = PanicPacket{Message: msg}
		default:
			packet = LogPacket{Message: msg}
		}

	default:
		return nil, fmt.Errorf("unknown packet type: %s", ptype)
	}

	if err := f.verify(); err != nil {
		return nil, err
	}

	return packet, nil
}
