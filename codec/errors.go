package codec

import "github.com/pkg/errors"

// Sentinel framing errors; wrapped with call-site context via pkg/errors as
// they cross the receive-thread boundary into transport close handling
// (spec.md §7, InvalidDataStream).
var (
	ErrBadMagic       = errors.New("codec: bad magic byte")
	ErrShortHeader    = errors.New("codec: short header")
	ErrShortPayload   = errors.New("codec: short payload")
	ErrBufferOverflow = errors.New("codec: buffer overflow")
	ErrBufferUnderrun = errors.New("codec: buffer underrun")
)
