package codec

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// ByteBuffer is an endian-aware read/write cursor over a byte slice, used by
// the sender/receiver of every TCP and UDP message (spec.md §4.1). Plain
// ByteBuffers (NewByteBuffer) are fixed: callers size them to the
// transport's negotiated buffer and a write past capacity fails with
// ErrBufferOverflow. A growable ByteBuffer (NewGrowableByteBuffer)
// reallocates instead, for staging a message body of unbounded size ahead
// of segmentation (codec.Split, MessageWriter.SendSegmented).
type ByteBuffer struct {
	buf      []byte
	roff     int
	woff     int
	order    binary.ByteOrder
	growable bool
}

func NewByteBuffer(buf []byte) *ByteBuffer {
	return &ByteBuffer{buf: buf, order: binary.LittleEndian}
}

// NewGrowableByteBuffer returns a ByteBuffer that reallocates its backing
// array on demand instead of returning ErrBufferOverflow.
func NewGrowableByteBuffer(initialCap int) *ByteBuffer {
	if initialCap <= 0 {
		initialCap = 256
	}
	return &ByteBuffer{buf: make([]byte, initialCap), order: binary.LittleEndian, growable: true}
}

// ensure grows the backing array so WriteCap() >= n, if this buffer is
// growable; a fixed buffer with insufficient room fails the write instead.
func (b *ByteBuffer) ensure(n int) error {
	if b.WriteCap() >= n {
		return nil
	}
	if !b.growable {
		return ErrBufferOverflow
	}
	need := b.woff + n
	newCap := len(b.buf) * 2
	if newCap < need {
		newCap = need
	}
	grown := make([]byte, newCap)
	copy(grown, b.buf[:b.woff])
	b.buf = grown
	return nil
}

func (b *ByteBuffer) SetOrder(order binary.ByteOrder) { b.order = order }
func (b *ByteBuffer) Order() binary.ByteOrder         { return b.order }

func (b *ByteBuffer) Reset() { b.roff, b.woff = 0, 0 }

func (b *ByteBuffer) Bytes() []byte       { return b.buf[:b.woff] }
func (b *ByteBuffer) Remaining() []byte   { return b.buf[b.roff:b.woff] }
func (b *ByteBuffer) WriteCap() int       { return len(b.buf) - b.woff }
func (b *ByteBuffer) ReadRemaining() int  { return b.woff - b.roff }
func (b *ByteBuffer) WriteOffset() int    { return b.woff }
func (b *ByteBuffer) ReadOffset() int     { return b.roff }
func (b *ByteBuffer) SetWriteOffset(n int) { b.woff = n }
func (b *ByteBuffer) SetReadOffset(n int)  { b.roff = n }
func (b *ByteBuffer) Cap() int             { return len(b.buf) }

// Align pads the write cursor up to the next multiple of n with zero
// bytes, per the segment's "alignment directives must be satisfied by
// padding within the current segment" rule (spec.md §4.1).
func (b *ByteBuffer) Align(n int) error {
	pad := (n - (b.woff % n)) % n
	if pad == 0 {
		return nil
	}
	if err := b.ensure(pad); err != nil {
		return err
	}
	for i := 0; i < pad; i++ {
		b.buf[b.woff] = 0
		b.woff++
	}
	return nil
}

func (b *ByteBuffer) PutByte(v byte) error {
	if err := b.ensure(1); err != nil {
		return err
	}
	b.buf[b.woff] = v
	b.woff++
	return nil
}

func (b *ByteBuffer) PutBytes(v []byte) error {
	if err := b.ensure(len(v)); err != nil {
		return err
	}
	copy(b.buf[b.woff:], v)
	b.woff += len(v)
	return nil
}

func (b *ByteBuffer) PutUint16(v uint16) error {
	if err := b.ensure(2); err != nil {
		return err
	}
	b.order.PutUint16(b.buf[b.woff:], v)
	b.woff += 2
	return nil
}

func (b *ByteBuffer) PutUint32(v uint32) error {
	if err := b.ensure(4); err != nil {
		return err
	}
	b.order.PutUint32(b.buf[b.woff:], v)
	b.woff += 4
	return nil
}

func (b *ByteBuffer) PutUint64(v uint64) error {
	if err := b.ensure(8); err != nil {
		return err
	}
	b.order.PutUint64(b.buf[b.woff:], v)
	b.woff += 8
	return nil
}

// PutString encodes a PVA "size-prefixed" string: a variable-length size
// (one byte below 254, otherwise the byte 254 followed by a 4-byte length;
// 0xFF means null) followed by the UTF-8 bytes.
func (b *ByteBuffer) PutString(s string) error {
	if err := b.putSize(len(s)); err != nil {
		return err
	}
	return b.PutBytes([]byte(s))
}

func (b *ByteBuffer) putSize(n int) error {
	switch {
	case n < 0:
		return b.PutByte(0xff)
	case n < 254:
		return b.PutByte(byte(n))
	default:
		if err := b.PutByte(254); err != nil {
			return err
		}
		return b.PutUint32(uint32(n))
	}
}

func (b *ByteBuffer) GetByte() (byte, error) {
	if b.ReadRemaining() < 1 {
		return 0, ErrBufferUnderrun
	}
	v := b.buf[b.roff]
	b.roff++
	return v, nil
}

func (b *ByteBuffer) GetBytes(n int) ([]byte, error) {
	if b.ReadRemaining() < n {
		return nil, ErrBufferUnderrun
	}
	v := b.buf[b.roff : b.roff+n]
	b.roff += n
	return v, nil
}

func (b *ByteBuffer) GetUint16() (uint16, error) {
	if b.ReadRemaining() < 2 {
		return 0, ErrBufferUnderrun
	}
	v := b.order.Uint16(b.buf[b.roff:])
	b.roff += 2
	return v, nil
}

func (b *ByteBuffer) GetUint32() (uint32, error) {
	if b.ReadRemaining() < 4 {
		return 0, ErrBufferUnderrun
	}
	v := b.order.Uint32(b.buf[b.roff:])
	b.roff += 4
	return v, nil
}

func (b *ByteBuffer) GetUint64() (uint64, error) {
	if b.ReadRemaining() < 8 {
		return 0, ErrBufferUnderrun
	}
	v := b.order.Uint64(b.buf[b.roff:])
	b.roff += 8
	return v, nil
}

func (b *ByteBuffer) GetString() (string, error) {
	n, err := b.getSize()
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", nil
	}
	raw, err := b.GetBytes(n)
	if err != nil {
		return "", errors.Wrap(err, "codec: truncated string")
	}
	return string(raw), nil
}

func (b *ByteBuffer) getSize() (int, error) {
	first, err := b.GetByte()
	if err != nil {
		return 0, err
	}
	switch {
	case first == 0xff:
		return -1, nil
	case first < 254:
		return int(first), nil
	default:
		n, err := b.GetUint32()
		if err != nil {
			return 0, err
		}
		return int(n), nil
	}
}

// GetAlign advances the read cursor to the next multiple of n, matching
// whatever padding the sender inserted via Align.
func (b *ByteBuffer) GetAlign(n int) error {
	pad := (n - (b.roff % n)) % n
	if pad == 0 {
		return nil
	}
	if b.ReadRemaining() < pad {
		return ErrBufferUnderrun
	}
	b.roff += pad
	return nil
}
