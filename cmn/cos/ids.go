// Package cos provides small low-level utilities shared by codec, transport,
// search and client: identifier generation, address hashing and error
// classification.
package cos

import (
	"strconv"
	"sync/atomic"

	"github.com/OneOfOne/xxhash"
	"github.com/teris-io/shortid"
)

const labelABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

var (
	sid     *shortid.Shortid
	once    atomic.Bool
	cidNext atomic.Uint32
	ioidNext atomic.Uint32
)

// InitIDGen seeds the human-readable label generator. Call once at
// ClientProvider construction; safe to call more than once, later calls
// are ignored.
func InitIDGen(seed uint64) {
	if once.CompareAndSwap(false, true) {
		sid = shortid.MustNew(4, labelABC, seed)
	}
}

// GenCID returns a client-channel-id, unique within this process's client
// context (spec.md §3, Channel.CID). Client-side channel IDs are plain
// incrementing integers on the wire (the 4-byte CID field of
// CREATE_CHANNEL/SEARCH_REQUEST), not opaque tokens.
func GenCID() uint32 { return cidNext.Add(1) }

// GenIOID returns a client-side in-flight-operation-id, unique within the
// transport it is registered on (spec.md §3, Operation.IOID / §6 glossary).
func GenIOID() uint32 { return ioidNext.Add(1) }

// GenLabel returns a short, human-readable correlation label (not a wire
// identifier) for log lines — e.g. a transport's or channel's debug name —
// mirroring the teacher's shortid-based DaemonID generator used the same
// way: for operators reading logs, never for wire identity.
func GenLabel() string {
	if sid == nil {
		InitIDGen(1)
	}
	return sid.MustGenerate()
}

// HashAddr returns a fast 64-bit digest of a "remote-addr|priority" key,
// used by the transport registry to bucket virtual circuits (invariant T1).
func HashAddr(addr string, priority int) uint64 {
	h := xxhash.New64()
	h.WriteString(addr)
	h.WriteString("|")
	h.WriteString(strconv.Itoa(priority))
	return h.Sum64()
}
