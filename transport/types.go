// Package transport implements the two PVA wire transports: a TCP virtual
// circuit (spec.md §4.2) shared by every channel bound to one server at one
// priority, and a UDP transport used for search/beacon traffic (spec.md
// §4.3). Both sit on top of codec's framing primitives.
package transport

import (
	"github.com/epics-pva/pvaclient-go/codec"
)

// Owner is the narrow view a Transport has of whatever owns it — a
// client.Channel in practice, but transport must not import client, so
// Transport only sees this interface, never a *Channel. The transport holds
// its Owners strongly until they are removed.
type Owner interface {
	OwnerID() string // CID
	// ChannelDisconnect is invoked at most once per disconnect episode,
	// with no transport lock held (spec.md §5 unlock-guard pattern).
	ChannelDisconnect(err error)
}

// Sender is enqueued on a TCP transport's send queue; the send thread
// invokes it with exclusive access to the shared send buffer through w
// (spec.md §4.2). Returning requeue=true re-enqueues the same Sender so it
// can continue a multi-segment message on the next turn.
type Sender interface {
	Send(w *codec.MessageWriter) (requeue bool, err error)
}

// SenderFunc adapts a plain function to Sender for one-shot sends.
type SenderFunc func(w *codec.MessageWriter) (bool, error)

func (f SenderFunc) Send(w *codec.MessageWriter) (bool, error) { return f(w) }

// Handler processes one fully-reassembled application message payload.
// Handlers for IOID-keyed commands (spec.md §4.7, entries 10-20 except 18)
// decode the payload's leading IOID field themselves; the transport keeps
// no IOID table (the client's OpTable does).
type Handler func(h codec.Header, payload []byte) error

// ConnState is the liveness sub-state of a TCP transport (spec.md §4.2,
// glossary "Responsive/Unresponsive").
type ConnState int

const (
	StateConnecting ConnState = iota
	StateHandshaking
	StateVerified
	StateUnresponsive
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateVerified:
		return "verified"
	case StateUnresponsive:
		return "unresponsive"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
