package codec

import "github.com/pkg/errors"

// Segment is one on-wire piece of a (possibly split) application message:
// a header plus the payload bytes that belong under it.
type Segment struct {
	Header  Header
	Payload []byte
}

// Split breaks an application payload into one or more segments no larger
// than maxPayload bytes each, tagging the first/middle/last flag bits per
// spec.md §4.1. A payload that fits in a single segment gets SegNone.
func Split(version, flags, command byte, payload []byte, maxPayload int) []Segment {
	if maxPayload <= 0 || len(payload) <= maxPayload {
		return []Segment{{
			Header: Header{Version: version, Flags: withSegment(flags, SegNone), Command: command, PayloadSize: uint32(len(payload))},
			Payload: payload,
		}}
	}

	var segs []Segment
	off := 0
	for off < len(payload) {
		end := off + maxPayload
		if end > len(payload) {
			end = len(payload)
		}
		var seg SegmentKind
		switch {
		case off == 0:
			seg = SegFirst
		case end == len(payload):
			seg = SegLast
		default:
			seg = SegMiddle
		}
		chunk := payload[off:end]
		segs = append(segs, Segment{
			Header:  Header{Version: version, Flags: withSegment(flags, seg), Command: command, PayloadSize: uint32(len(chunk))},
			Payload: chunk,
		})
		off = end
	}
	return segs
}

// Reassembler concatenates the payload bytes of one segment chain,
// invoking the application handler exactly once per logical message
// (spec.md §4.1). One Reassembler instance is reused across messages on a
// single connection; it is not safe for concurrent use (only the receive
// thread touches it, per spec.md §5 shared-resource policy).
type Reassembler struct {
	command byte
	buf     []byte
	active  bool
}

// Feed appends one segment's payload. When the segment completes a message
// (SegNone or SegLast) it returns the reassembled payload and done=true;
// the returned slice is only valid until the next Feed call.
func (r *Reassembler) Feed(h Header, payload []byte) (out []byte, done bool, err error) {
	switch h.Segment() {
	case SegNone:
		if r.active {
			return nil, false, errors.New("codec: segment-none received mid-chain")
		}
		return payload, true, nil
	case SegFirst:
		if r.active {
			return nil, false, errors.New("codec: segment-first received mid-chain")
		}
		r.command = h.Command
		r.buf = append(r.buf[:0], payload...)
		r.active = true
		return nil, false, nil
	case SegMiddle:
		if !r.active || h.Command != r.command {
			return nil, false, errors.New("codec: segment-middle out of sequence")
		}
		r.buf = append(r.buf, payload...)
		return nil, false, nil
	case SegLast:
		if !r.active || h.Command != r.command {
			return nil, false, errors.New("codec: segment-last out of sequence")
		}
		r.buf = append(r.buf, payload...)
		r.active = false
		return r.buf, true, nil
	default:
		return nil, false, errors.New("codec: invalid segment kind")
	}
}

// Abort drops any in-progress segment chain, e.g. after a transport reset.
func (r *Reassembler) Abort() {
	r.buf = r.buf[:0]
	r.active = false
}
