package codec

// FlushFunc writes the buffer's pending bytes out (to a socket) and resets
// it for the next message or segment.
type FlushFunc func(b *ByteBuffer) error

// MessageWriter is the control interface handed to a Sender while it holds
// exclusive access to a TCP transport's send buffer (spec.md §4.2): it
// exposes StartMessage/EndMessage/Flush, records the last-message-start
// position so EndMessage can compute the payload size, and back-patches the
// 4-byte payload-size field once the payload is known. A message in
// progress is not carried across a flush boundary.
type MessageWriter struct {
	buf         *ByteBuffer
	flush       FlushFunc
	msgStart    int // last-message-start position
	payloadOff  int // next-message payload-size back-patch offset
	version     byte
	senderFlags byte // FlagFromServer bit, fixed for the lifetime of a transport
	inMessage   bool
	maxPayload  int // segmentation threshold (spec.md §4.1), shared with HandshakeConfig.MaxPayload
}

func NewMessageWriter(buf *ByteBuffer, fromServer bool, maxPayload int, flush FlushFunc) *MessageWriter {
	var sf byte
	if fromServer {
		sf = FlagFromServer
	}
	if maxPayload <= 0 {
		maxPayload = buf.Cap() - HeaderSize
	}
	return &MessageWriter{buf: buf, flush: flush, version: ProtocolRevision, senderFlags: sf, maxPayload: maxPayload}
}

// StartMessage reserves header space for a new application or control
// message. For control messages, payload is written inline in the 4-byte
// size field by EndControlMessage instead of a following payload.
func (w *MessageWriter) StartMessage(command byte, control bool) error {
	if w.buf.WriteCap() < HeaderSize {
		if err := w.Flush(); err != nil {
			return err
		}
	}
	w.msgStart = w.buf.WriteOffset()
	flags := w.senderFlags
	if control {
		flags |= FlagControl
	}
	hdr := make([]byte, HeaderSize)
	EncodeHeader(hdr, w.version, flags, command, 0, w.buf.Order())
	if err := w.buf.PutBytes(hdr); err != nil {
		return err
	}
	w.payloadOff = w.msgStart + 4
	w.inMessage = true
	return nil
}

// EndControlMessage back-patches the inline 4-byte payload of a control
// message (e.g. the set-byte-order argument) in place of a real payload
// size (spec.md §4.1).
func (w *MessageWriter) EndControlMessage(inline uint32) error {
	w.buf.order.PutUint32(w.buf.buf[w.payloadOff:], inline)
	w.inMessage = false
	return nil
}

// EndMessage back-patches the payload-size field now that the payload has
// been written.
func (w *MessageWriter) EndMessage() error {
	size := uint32(w.buf.WriteOffset() - w.msgStart - HeaderSize)
	w.buf.order.PutUint32(w.buf.buf[w.payloadOff:], size)
	w.inMessage = false
	return nil
}

// Flush writes the accumulated buffer to the socket in full and resets the
// cursor. It does not restart or re-frame a message in progress; bodies
// larger than the buffer go through SendSegmented.
func (w *MessageWriter) Flush() error {
	if err := w.flush(w.buf); err != nil {
		return err
	}
	w.buf.Reset()
	return nil
}

func (w *MessageWriter) InMessage() bool { return w.inMessage }
func (w *MessageWriter) Buffer() *ByteBuffer { return w.buf }

// SendSegmented stages a message body of unbounded size in a growable
// scratch buffer via encode, then splits it into one or more segments no
// larger than maxPayload bytes (spec.md §4.1's "HARD PART": messages larger
// than the send buffer are split), flushing each to the socket as it's
// written. Use this instead of StartMessage/Buffer/EndMessage whenever the
// body isn't bounded by the fixed send buffer — PUT/PUTGET values, RPC
// arguments.
func (w *MessageWriter) SendSegmented(command byte, encode func(*ByteBuffer) error) error {
	scratch := NewGrowableByteBuffer(w.maxPayload)
	scratch.SetOrder(w.buf.Order())
	if err := encode(scratch); err != nil {
		return err
	}

	segs := Split(w.version, w.senderFlags, command, scratch.Bytes(), w.maxPayload)
	for _, seg := range segs {
		if w.buf.WriteCap() < HeaderSize+len(seg.Payload) {
			if err := w.Flush(); err != nil {
				return err
			}
		}
		hdr := make([]byte, HeaderSize)
		EncodeHeader(hdr, seg.Header.Version, seg.Header.Flags, seg.Header.Command, seg.Header.PayloadSize, w.buf.Order())
		if err := w.buf.PutBytes(hdr); err != nil {
			return err
		}
		if err := w.buf.PutBytes(seg.Payload); err != nil {
			return err
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
	return nil
}
