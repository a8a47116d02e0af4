// Package bridge speaks the framing of the BLE radio bridge that relays
// commands to the pump.
//
// Frame layout:
//
//	A5 A5 | len (BE u16) | type | opcode | payload... | crc (BE u16) | 5A 5A
//
// len counts type, opcode and payload. The CRC is CRC-16/CCITT-FALSE over the
// same bytes.
package bridge

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sweeney/pumpsync/internal/crc16"
)

const (
	TypeCommand  byte = 0xA1
	TypeResponse byte = 0xB2
	TypeNack     byte = 0x15
)

const (
	OpReadHistoryPage byte = 0x80
	OpReadModel       byte = 0x8D
)

const (
	headerByte = 0xA5
	footerByte = 0x5A
	// overhead is header, length, crc and footer.
	overhead = 2 + 2 + 2 + 2
)

var (
	ErrShortFrame = errors.New("bridge: short frame")
	ErrBadHeader  = errors.New("bridge: bad header")
	ErrBadFooter  = errors.New("bridge: bad footer")
	ErrBadLength  = errors.New("bridge: length mismatch")
	ErrBadCRC     = errors.New("bridge: crc mismatch")
)

// Frame is a decoded bridge message.
type Frame struct {
	Type    byte
	Opcode  byte
	Payload []byte
}

// EncodeFrame builds a frame of any type.
func EncodeFrame(typ, opcode byte, payload []byte) []byte {
	body := make([]byte, 0, 2+len(payload))
	body = append(body, typ, opcode)
	body = append(body, payload...)

	out := make([]byte, 0, overhead+len(body))
	out = append(out, headerByte, headerByte)
	out = binary.BigEndian.AppendUint16(out, uint16(len(body)))
	out = append(out, body...)
	out = binary.BigEndian.AppendUint16(out, crc16.Checksum(body))
	return append(out, footerByte, footerByte)
}

// Encode builds a command frame.
func Encode(opcode byte, payload []byte) []byte {
	return EncodeFrame(TypeCommand, opcode, payload)
}

// Decode validates and unpacks one whole frame.
func Decode(buf []byte) (Frame, error) {
	if len(buf) < overhead+2 {
		return Frame{}, ErrShortFrame
	}
	if buf[0] != headerByte || buf[1] != headerByte {
		return Frame{}, ErrBadHeader
	}
	n := int(binary.BigEndian.Uint16(buf[2:4]))
	if n < 2 || len(buf) != overhead+n {
		return Frame{}, fmt.Errorf("%w: header says %d, have %d", ErrBadLength, n, len(buf)-overhead)
	}
	if buf[len(buf)-2] != footerByte || buf[len(buf)-1] != footerByte {
		return Frame{}, ErrBadFooter
	}
	body := buf[4 : 4+n]
	if crc16.Checksum(body) != binary.BigEndian.Uint16(buf[4+n:]) {
		return Frame{}, ErrBadCRC
	}
	return Frame{
		Type:    body[0],
		Opcode:  body[1],
		Payload: append([]byte(nil), body[2:]...),
	}, nil
}

// Complete reports whether buf holds exactly one valid frame.
func Complete(buf []byte) bool {
	_, err := Decode(buf)
	return err == nil
}

// Nack returns the pump error code if buf is a NACK frame.
func Nack(buf []byte) (byte, bool) {
	f, err := Decode(buf)
	if err != nil || f.Type != TypeNack || len(f.Payload) == 0 {
		return 0, false
	}
	return f.Payload[0], true
}
