// Package codec implements the PVA wire framing: the 8-byte header, the
// endian-aware ByteBuffer, application-message segmentation and the
// control-channel sub-protocol (spec.md §4.1).
package codec

import "encoding/binary"

// HeaderSize is the fixed size, in bytes, of every PVA message header,
// on both TCP and UDP.
const HeaderSize = 8

// Magic is the fixed first byte of every PVA message.
const Magic = 0xCA

// ProtocolRevision is the PVA protocol revision this codec speaks
// (spec.md §6).
const ProtocolRevision = 2

// Flags bit meanings (spec.md §4.1).
const (
	FlagControl    = 1 << 0 // 1 = control message, 0 = application message
	FlagBigEndian  = 1 << 6 // 1 = big-endian payload
	FlagFromServer = 1 << 7 // 1 = sent by server, 0 = sent by client

	segShift = 4
	segMask  = 0x3 << segShift
)

// SegmentKind is the 2-bit segmented-message slot encoded at flag bits 4-5.
type SegmentKind byte

const (
	SegNone SegmentKind = iota
	SegFirst
	SegLast
	SegMiddle
)

func (s SegmentKind) String() string {
	switch s {
	case SegFirst:
		return "first"
	case SegMiddle:
		return "middle"
	case SegLast:
		return "last"
	default:
		return "none"
	}
}

// Control commands (spec.md §4.1, §4.2).
const (
	CmdEcho                    = 0 // symmetric: client and server both send/reply with it
	CmdConnectionValidationReq = 1
	CmdSetByteOrder            = 2
	CmdConnectionValidated     = 9
)

// Application commands referenced from the spec's 28-entry dispatch table
// (spec.md §4.7); the remainder are defined in commands.go.
const (
	CmdSearchRequest  = 3
	CmdSearchResponse = 4
)

// Header is the decoded form of the fixed 8-byte PVA message header.
type Header struct {
	Version     byte
	Flags       byte
	Command     byte
	PayloadSize uint32
}

func (h Header) IsControl() bool    { return h.Flags&FlagControl != 0 }
func (h Header) FromServer() bool   { return h.Flags&FlagFromServer != 0 }
func (h Header) BigEndian() bool    { return h.Flags&FlagBigEndian != 0 }
func (h Header) Segment() SegmentKind {
	return SegmentKind((h.Flags & segMask) >> segShift)
}

func (h Header) ByteOrder() binary.ByteOrder {
	if h.BigEndian() {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func withSegment(flags byte, seg SegmentKind) byte {
	return (flags &^ segMask) | (byte(seg) << segShift)
}

// EncodeHeader writes an 8-byte PVA header into b (which must be at least
// HeaderSize long) using order for the 4-byte payload-size field.
func EncodeHeader(b []byte, version, flags, command byte, payloadSize uint32, order binary.ByteOrder) {
	b[0] = Magic
	b[1] = version
	b[2] = flags
	b[3] = command
	order.PutUint32(b[4:8], payloadSize)
}

// DecodeHeader parses an 8-byte PVA header. The payload-size field is read
// using the endianness declared by the flags byte itself, per spec.md §4.1.
func DecodeHeader(b []byte) (h Header, err error) {
	if len(b) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	if b[0] != Magic {
		return Header{}, ErrBadMagic
	}
	h.Version = b[1]
	h.Flags = b[2]
	h.Command = b[3]
	h.PayloadSize = h.ByteOrder().Uint32(b[4:8])
	return h, nil
}
