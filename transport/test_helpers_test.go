package transport

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var loopback = netip.MustParseAddrPort("127.0.0.1:0")

// newBoundSocket binds a socket on an ephemeral loopback port and closes it
// when the test ends.
func newBoundSocket(t *testing.T, opts ...Option) *UDPSocket {
	t.Helper()

	s := NewUDPSocket(opts...)
	require.NoError(t, s.Bind(loopback))
	t.Cleanup(func() { s.Close() })
	return s
}

// newPeer opens a plain UDP socket standing in for a remote peer.
func newPeer(t *testing.T) (*net.UDPConn, netip.AddrPort) {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

// readPeer reads one datagram from a peer socket.
func readPeer(t *testing.T, conn *net.UDPConn) ([]byte, netip.AddrPort) {
	t.Helper()

	buf := make([]byte, 65535)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, from, err := conn.ReadFromUDPAddrPort(buf)
	require.NoError(t, err)
	return buf[:n], from
}

// readPackets polls Read until want packets arrived or the deadline passes.
// Packet data is copied out of the arena.
func readPackets(t *testing.T, s *UDPSocket, want int) []Packet {
	t.Helper()

	var got []Packet
	batch := make([]Packet, want)
	deadline := time.Now().Add(2 * time.Second)
	for len(got) < want && time.Now().Before(deadline) {
		n, err := s.Read(batch[:want-len(got)])
		require.NoError(t, err)
		for _, p := range batch[:n] {
			p.Data = append([]byte(nil), p.Data...)
			got = append(got, p)
		}
		if n == 0 {
			time.Sleep(5 * time.Millisecond)
		}
	}
	require.Len(t, got, want, "timed out waiting for datagrams")
	return got
}
