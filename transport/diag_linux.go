//go:build linux

package transport

import (
	"net"

	"github.com/higebu/netfd"
	"golang.org/x/sys/unix"
)

// LiveDiag is a snapshot of real TCP-level liveness indicators, read
// straight from the kernel's TCP_INFO socket option — a supplement to the
// lastAlive heartbeat timer of spec.md §4.2, not a replacement for it: a
// responsive socket can still belong to a peer that stopped answering at
// the PVA protocol layer.
type LiveDiag struct {
	RTTMicros       uint32
	RTTVarMicros    uint32
	Retransmits     uint8
	UnackedSegments uint32
}

// ReadLiveDiag reads TCP_INFO for conn, or an error if conn isn't a
// *net.TCPConn / the platform call fails.
func ReadLiveDiag(conn net.Conn) (LiveDiag, error) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return LiveDiag{}, errNotTCPConn
	}
	fd := netfd.GetFdFromConn(tc)
	info, err := unix.GetsockoptTCPInfo(fd, unix.SOL_TCP, unix.TCP_INFO)
	if err != nil {
		return LiveDiag{}, err
	}
	return LiveDiag{
		RTTMicros:       info.Rtt,
		RTTVarMicros:    info.Rttvar,
		Retransmits:     info.Retransmits,
		UnackedSegments: info.Unacked,
	}, nil
}
