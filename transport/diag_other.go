//go:build !linux

package transport

import "net"

type LiveDiag struct {
	RTTMicros       uint32
	RTTVarMicros    uint32
	Retransmits     uint8
	UnackedSegments uint32
}

func ReadLiveDiag(net.Conn) (LiveDiag, error) { return LiveDiag{}, errNotTCPConn }
