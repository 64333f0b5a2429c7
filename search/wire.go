// Package search implements the SearchManager (spec.md §4.4): periodic UDP
// SEARCH_REQUEST emission for channels pending connection, with a per-channel
// exponential back-off level, and SEARCH_RESPONSE matching that hands a
// resolved channel off to the transport connector.
package search

import (
	"net"

	"github.com/pkg/errors"

	"github.com/epics-pva/pvaclient-go/codec"
)

// request is one outbound SEARCH_REQUEST batch (spec.md §4.4: "up to N
// channel CIDs each").
type request struct {
	seqID     uint32
	mustReply bool
	channels  []channelRef
}

type channelRef struct {
	cid  uint32
	name string
}

func encodeRequest(r request) []byte {
	size := 4 + 1 + 2 + 2
	for _, c := range r.channels {
		size += 4 + 1 + len(c.name) // cid + size byte + bytes
		if len(c.name) >= 254 {
			size += 4 // long names carry a 4-byte size after the 254 marker
		}
	}
	buf := codec.NewByteBuffer(make([]byte, size))
	_ = buf.PutUint32(r.seqID)
	flags := byte(0)
	if r.mustReply {
		flags |= 1
	}
	_ = buf.PutByte(flags)
	_ = buf.PutUint16(0) // reply port, unused by a pure client
	_ = buf.PutUint16(uint16(len(r.channels)))
	for _, c := range r.channels {
		_ = buf.PutUint32(c.cid)
		_ = buf.PutString(c.name)
	}
	return buf.Bytes()
}

// response is a decoded SEARCH_RESPONSE (spec.md §4.4: "carries a
// search-sequence-id, a responder address ..., and the list of CIDs the
// responder claims").
type response struct {
	seqID    uint32
	from     *net.UDPAddr
	cids     []uint32
}

func decodeResponse(payload []byte) (response, error) {
	buf := codec.NewByteBuffer(payload)
	seqID, err := buf.GetUint32()
	if err != nil {
		return response{}, errors.Wrap(err, "search: short response (seqid)")
	}
	ipBytes, err := buf.GetBytes(16)
	if err != nil {
		return response{}, errors.Wrap(err, "search: short response (addr)")
	}
	port, err := buf.GetUint16()
	if err != nil {
		return response{}, errors.Wrap(err, "search: short response (port)")
	}
	ip := make(net.IP, 16)
	copy(ip, ipBytes)
	n, err := buf.GetUint16()
	if err != nil {
		return response{}, errors.Wrap(err, "search: short response (count)")
	}
	cids := make([]uint32, 0, n)
	for i := 0; i < int(n); i++ {
		cid, err := buf.GetUint32()
		if err != nil {
			return response{}, errors.Wrap(err, "search: truncated cid list")
		}
		cids = append(cids, cid)
	}
	return response{seqID: seqID, from: &net.UDPAddr{IP: ip, Port: int(port)}, cids: cids}, nil
}
