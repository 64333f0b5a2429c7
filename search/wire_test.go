package search

import (
	"encoding/binary"
	"net"
	"testing"
)

func TestRequestRoundTripViaManualDecode(t *testing.T) {
	req := request{
		seqID:     42,
		mustReply: true,
		channels:  []channelRef{{cid: 1, name: "testScalar"}, {cid: 2, name: "testArray"}},
	}
	raw := encodeRequest(req)
	if len(raw) == 0 {
		t.Fatal("expected non-empty encoded request")
	}
	// seqID(4) flags(1) port(2) count(2), then cid(4) size(1) name per channel.
	if len(raw) != 9+(4+1+10)+(4+1+9) {
		t.Fatalf("encoded length = %d, want 38", len(raw))
	}
	if got := binary.LittleEndian.Uint32(raw[0:4]); got != 42 {
		t.Fatalf("seqID = %d, want 42", got)
	}
	if raw[4] != 1 {
		t.Fatalf("flags = %#x, want mustReply bit set", raw[4])
	}
	if got := binary.LittleEndian.Uint16(raw[7:9]); got != 2 {
		t.Fatalf("channel count = %d, want 2", got)
	}
	if got := binary.LittleEndian.Uint32(raw[9:13]); got != 1 {
		t.Fatalf("first cid = %d, want 1", got)
	}
	if raw[13] != 10 || string(raw[14:24]) != "testScalar" {
		t.Fatalf("first name = %q (size %d), want testScalar", raw[14:24], raw[13])
	}
}

func TestResponseRoundTrip(t *testing.T) {
	ip := net.ParseIP("::ffff:192.168.1.5").To16()
	payload := make([]byte, 0, 32)
	put32 := func(v uint32) {
		payload = append(payload, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	}
	put16 := func(v uint16) {
		payload = append(payload, byte(v), byte(v>>8))
	}
	put32(7) // seqID
	payload = append(payload, ip...)
	put16(5075)
	put16(2) // count
	put32(3)
	put32(4)

	resp, err := decodeResponse(payload)
	if err != nil {
		t.Fatalf("decodeResponse: %v", err)
	}
	if resp.seqID != 7 {
		t.Fatalf("seqID = %d, want 7", resp.seqID)
	}
	if len(resp.cids) != 2 || resp.cids[0] != 3 || resp.cids[1] != 4 {
		t.Fatalf("cids = %v, want [3 4]", resp.cids)
	}
	if resp.from.Port != 5075 {
		t.Fatalf("port = %d, want 5075", resp.from.Port)
	}
}

func TestDecodeResponseShortBuffer(t *testing.T) {
	if _, err := decodeResponse([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error decoding truncated response")
	}
}
