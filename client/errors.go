// Package client implements the channel state machine, operation objects,
// provider/registry entry point and blocking wrappers of spec.md §4.5-§4.8:
// the part of the core that turns the codec and transport packages into the
// public get/put/rpc/monitor API.
package client

import "github.com/pkg/errors"

// Error kinds surfaced to user code (spec.md §7).
var (
	// ErrTimeout — synchronous wait exceeded budget; the operation is
	// cancelled before this is returned.
	ErrTimeout = errors.New("client: timeout")
	// ErrInvalidDataStream — header magic/version mismatch or unparseable
	// payload; the transport is closed and channels re-enter CONNECTING.
	ErrInvalidDataStream = errors.New("client: invalid data stream")
	// ErrConnectionClosed — graceful peer close or loss of liveness.
	// Delivered to operations as channelDisconnect, never as Fail.
	ErrConnectionClosed = errors.New("client: connection closed")
	// ErrCancelled — user-initiated; delivered at most once.
	ErrCancelled = errors.New("client: operation cancelled")
)

// RemoteError wraps a non-OK status a server returned for an operation; its
// Message is the server-provided text (spec.md §7).
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return "client: remote error: " + e.Message }

// UsageError reports a pvRequest referring to a missing field, or a wrong
// subcommand order; surfaced only to the originating callback, never raised
// out of a transport thread (spec.md §7).
type UsageError struct {
	Detail string
}

func (e *UsageError) Error() string { return "client: usage error: " + e.Detail }
