package loomws

import (
	"crypto/rand"
	"encoding/binary"
	"math"
	"slices"
	"strings"
)

const (
	OpcodeContinuation = 0x0 // Continuation frame
	OpcodeText         = 0x1 // Text frame (UTF-8)
	OpcodeBinary       = 0x2 // Binary frame
	OpcodeClose        = 0x8 // Connection close
	OpcodePing         = 0x9 // Ping
	OpcodePong         = 0xA // Pong
)

const (
	CloseNormalClosure           uint16 = 1000
	CloseGoingAway               uint16 = 1001
	CloseProtocolError           uint16 = 1002
	CloseUnsupportedData         uint16 = 1003
	CloseInvalidFramePayloadData uint16 = 1007
	ClosePolicyViolation         uint16 = 1008
	CloseMessageTooBig           uint16 = 1009
	CloseMandatoryExtension      uint16 = 1010
	CloseInternalServerErr       uint16 = 1011
)

var allowedCloseCodes = []uint16{1000, 1001, 1002, 1003, 1007, 1008, 1009, 1010, 1011}

// MaxControlFramePayload is the protocol limit on control frame payloads.
const MaxControlFramePayload = 125

// Frame is one WebSocket frame, constructed transiently per read or write.
// A Frame is never retained across calls and never shared between
// goroutines.
type Frame struct {
	FIN           bool
	OPCODE        uint8
	PayloadLength int
	IsMasked      bool
	MaskingKey    []byte
	Payload       []byte
}

// NewFrame builds an outgoing frame. When masked, a fresh random 4-byte key
// is generated; the payload itself is masked later, during encoding.
func NewFrame(fin bool, opcode uint8, masked bool, payload []byte) (Frame, error) {
	frame := Frame{
		FIN:      fin,
		OPCODE:   opcode,
		IsMasked: masked,
		Payload:  payload,
	}
	frame.PayloadLength = len(payload)

	if masked {
		frame.MaskingKey = make([]byte, 4)
		if _, err := rand.Read(frame.MaskingKey); err != nil {
			return frame, err
		}
	}

	return frame, nil
}

// ReadFrame decodes one complete frame from raw. A buffer shorter than the
// frame it declares yields ErrIncompleteFrame; callers owning a stream
// should read more bytes and retry rather than tear the connection down.
func ReadFrame(raw []byte) (Frame, error) {
	var frame Frame

	if len(raw) < 2 {
		return frame, ErrIncompleteFrame
	}

	frame.FIN = raw[0]&0b10000000 != 0
	frame.OPCODE = raw[0] & 0b00001111
	frame.IsMasked = raw[1]&0b10000000 != 0

	if !isValidOpcode(frame.OPCODE) {
		return frame, ErrInvalidOpcode
	}

	offset, err := frame.parsePayloadLength(raw)
	if err != nil {
		return frame, err
	}

	if frame.IsMasked {
		if len(raw) < offset+4 {
			return frame, ErrIncompleteFrame
		}
		frame.MaskingKey = raw[offset : offset+4]
		offset += 4
	}

	if len(raw) < offset+frame.PayloadLength {
		return frame, ErrIncompleteFrame
	}

	frame.Payload = make([]byte, frame.PayloadLength)
	copy(frame.Payload, raw[offset:offset+frame.PayloadLength])
	if frame.IsMasked {
		mask(frame.Payload, frame.MaskingKey)
	}

	return frame, nil
}

// parsePayloadLength decodes the length class selected by byte 1's low 7
// bits and returns the offset of the first byte after the length field.
// Values up to 125 are the length itself; 126 selects a 2-byte and 127 an
// 8-byte big-endian extended length.
func (frame *Frame) parsePayloadLength(raw []byte) (int, error) {
	lengthB := int(raw[1] & 0b01111111)
	offset := 2

	switch lengthB {
	case 126:
		if len(raw) < offset+2 {
			return offset, ErrIncompleteFrame
		}
		frame.PayloadLength = int(binary.BigEndian.Uint16(raw[offset : offset+2]))
		offset += 2
	case 127:
		if len(raw) < offset+8 {
			return offset, ErrIncompleteFrame
		}
		length64 := binary.BigEndian.Uint64(raw[offset : offset+8])
		if length64 > math.MaxInt {
			return offset, ErrPayloadTooLarge
		}
		frame.PayloadLength = int(length64)
		offset += 8
	default:
		frame.PayloadLength = lengthB
	}

	return offset, nil
}

// CalcLength returns the encoded size of the frame in bytes.
func (f *Frame) CalcLength() int {
	length := 2 + f.PayloadLength

	if f.IsMasked {
		length += 4
	}

	switch {
	case f.PayloadLength < 126:
		// no extended length bytes
	case f.PayloadLength <= math.MaxUint16:
		length += 2
	default:
		length += 8
	}

	return length
}

// Bytes encodes the frame into its exact wire form. Masked frames carry the
// masking key after the length field and the payload XORed with it; unmasked
// frames carry the payload verbatim.
func (f *Frame) Bytes() []byte {
	b := make([]byte, 2, f.CalcLength())

	b[0] = f.OPCODE
	if f.FIN {
		b[0] |= 0x80
	}

	if f.IsMasked {
		b[1] |= 0x80
	}

	switch {
	case f.PayloadLength < 126:
		b[1] |= byte(f.PayloadLength)
	case f.PayloadLength <= math.MaxUint16:
		b[1] |= 126
		b = binary.BigEndian.AppendUint16(b, uint16(f.PayloadLength))
	default:
		b[1] |= 127
		b = binary.BigEndian.AppendUint64(b, uint64(f.PayloadLength))
	}

	if f.IsMasked {
		b = append(b, f.MaskingKey...)

		masked := make([]byte, f.PayloadLength)
		copy(masked, f.Payload)
		mask(masked, f.MaskingKey)
		b = append(b, masked...)
	} else {
		b = append(b, f.Payload...)
	}

	return b
}

// Text decodes the payload as UTF-8, substituting the replacement character
// for invalid sequences instead of failing.
func (f *Frame) Text() string {
	return strings.ToValidUTF8(string(f.Payload), "�")
}

func (f *Frame) IsText() bool {
	return f.OPCODE == OpcodeText
}

func (f *Frame) IsControl() bool {
	return f.OPCODE == OpcodeClose || f.OPCODE == OpcodePing || f.OPCODE == OpcodePong
}

// IsValidControl reports whether a control frame satisfies the protocol
// limits: terminal and at most 125 payload bytes.
func (f *Frame) IsValidControl() bool {
	return f.FIN && f.IsControl() && f.PayloadLength <= MaxControlFramePayload
}

func isValidOpcode(opcode uint8) bool {
	switch opcode {
	case OpcodeContinuation, OpcodeText, OpcodeBinary, OpcodeClose, OpcodePing, OpcodePong:
		return true
	default:
		return false
	}
}

func IsValidCloseCode(code uint16) bool {
	return slices.Contains(allowedCloseCodes, code)
}

// mask XORs each payload byte with key[i%4]. The transform is its own
// inverse: the identical function masks on encode and unmasks on decode.
func mask(payload []byte, key []byte) {
	for i := range payload {
		payload[i] = payload[i] ^ key[i%4]
	}
}
