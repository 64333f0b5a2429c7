package transport

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/epics-pva/pvaclient-go/cmn/cos"
	"github.com/epics-pva/pvaclient-go/cmn/nlog"
	"github.com/epics-pva/pvaclient-go/codec"
)

var errVerificationFailed = errors.New("transport: server refused connection validation")

// installMetaHandlers wires the handshake and beacon/message handlers into
// entries 0, 1, 9 and 18 of the dispatch table (spec.md §4.7); entries
// 10-20 (minus 18) are left for the client package to fill via SetHandler.
func (t *TCPTransport) installMetaHandlers() {
	t.dispatch[codec.AppConnectionValReq] = t.onConnectionValidationRequest
	t.dispatch[codec.AppConnectionVald] = t.onConnectionValidated
	t.dispatch[codec.AppBeacon] = func(codec.Header, []byte) error { t.touchAlive(); return nil }
	t.dispatch[codec.AppMessage] = func(h codec.Header, payload []byte) error {
		nlog.Warningf("%s: server message: %s", t.logName(), string(payload))
		return nil
	}
}

func (t *TCPTransport) recvLoop() {
	header := make([]byte, codec.HeaderSize)
	payload := make([]byte, 0, dfltRecvBuf)

	for {
		if _, err := io.ReadFull(t.conn, header); err != nil {
			t.fail(err)
			return
		}
		h, err := codec.DecodeHeader(header)
		if err != nil {
			t.fail(err)
			return
		}
		t.touchAlive()

		if h.IsControl() {
			if err := t.handleControl(h); err != nil {
				t.fail(err)
				return
			}
			continue
		}

		if cap(payload) < int(h.PayloadSize) {
			payload = make([]byte, h.PayloadSize)
		} else {
			payload = payload[:h.PayloadSize]
		}
		if h.PayloadSize > 0 {
			if _, err := io.ReadFull(t.conn, payload); err != nil {
				t.fail(err)
				return
			}
		}

		full, done, err := t.reasm.Feed(h, payload)
		if err != nil {
			t.fail(err)
			return
		}
		if !done {
			continue
		}
		t.dispatchApp(h, full)
	}
}

func (t *TCPTransport) dispatchApp(h codec.Header, payload []byte) {
	cmd := int(h.Command)
	if cmd < 0 || cmd >= codec.DispatchTableSize || t.dispatch[cmd] == nil {
		nlog.Warningln(t.logName(), "unknown command", cmd, "payload skipped", len(payload))
		return
	}
	if err := t.dispatch[cmd](h, payload); err != nil {
		nlog.Warningf("%s: handler for command %d: %v", t.logName(), cmd, err)
	}
}

func (t *TCPTransport) handleControl(h codec.Header) error {
	switch h.Command {
	case codec.CmdEcho:
		// heartbeat: touchAlive already ran; best-effort reply keeps the
		// peer's own liveness timer fresh too.
		_ = t.Enqueue(SenderFunc(func(w *codec.MessageWriter) (bool, error) {
			if err := w.StartMessage(codec.CmdEcho, true); err != nil {
				return false, err
			}
			return false, w.EndControlMessage(0)
		}))
		return nil
	case codec.CmdSetByteOrder:
		big := codec.DecodeSetByteOrder(h.PayloadSize)
		if big {
			t.order = binary.BigEndian
		} else {
			t.order = binary.LittleEndian
		}
		return nil
	default:
		nlog.Warningln(t.logName(), "unknown control command", h.Command)
		return nil
	}
}

func (t *TCPTransport) onConnectionValidationRequest(_ codec.Header, payload []byte) error {
	b := codec.NewByteBuffer(payload)
	b.SetOrder(t.order)
	serverRecvBuf, err := b.GetUint32()
	if err != nil {
		return err
	}
	_ = serverRecvBuf // informational only on the client side

	return t.Enqueue(SenderFunc(func(w *codec.MessageWriter) (bool, error) {
		if err := w.StartMessage(codec.AppConnectionValReq, false); err != nil {
			return false, err
		}
		buf := w.Buffer()
		if err := buf.PutUint32(uint32(t.cfg.RecvBufferSize)); err != nil {
			return false, err
		}
		if err := buf.PutString(t.cfg.SecurityPlugin); err != nil {
			return false, err
		}
		return false, w.EndMessage()
	}))
}

func (t *TCPTransport) onConnectionValidated(_ codec.Header, payload []byte) error {
	b := codec.NewByteBuffer(payload)
	b.SetOrder(t.order)
	status, err := b.GetByte()
	if err != nil {
		return err
	}
	t.hsMu.Lock()
	if status == 0 {
		t.verified = true
	}
	t.hsMu.Unlock()

	if status == 0 {
		// A newly validated connection starts with empty introspection
		// caches on both sides (spec.md §4.2); Dial always builds a fresh
		// TCPTransport, so this is belt-and-suspenders against a future
		// reconnect path that reuses the struct.
		t.introIn.Reset()
		t.introOut.Reset()
		select {
		case t.verifiedCh <- nil:
		default:
		}
		return nil
	}
	verr := errVerificationFailed
	select {
	case t.verifiedCh <- verr:
	default:
	}
	return verr
}

func (t *TCPTransport) sendLoop() {
	buf := codec.NewByteBuffer(make([]byte, dfltSendBuf))
	w := codec.NewMessageWriter(buf, false, t.cfg.MaxPayload, func(b *codec.ByteBuffer) error {
		_, err := t.conn.Write(b.Bytes())
		return err
	})

	for {
		select {
		case s := <-t.sendCh:
			requeue, err := s.Send(w)
			if err != nil {
				t.fail(err)
				return
			}
			if !requeue {
				if err := w.Flush(); err != nil {
					t.fail(err)
					return
				}
			} else {
				// continue this sender on a later loop turn without an
				// intervening flush, preserving the in-progress segment;
				// other senders may interleave at the segment boundary,
				// same as the teacher's PDU continuation through workCh.
				t.sendCh <- s
			}
		case <-t.closedCh:
			return
		}
	}
}

func (t *TCPTransport) fail(err error) {
	if errors.Is(err, io.EOF) || cos.IsRetriableConnErr(err) {
		nlog.Infof("%s: connection closed: %v", t.logName(), err)
	} else {
		nlog.Warningf("%s: transport error: %v", t.logName(), err)
	}
	t.Close(err)
}
