package transport

import (
	"net/netip"
)

// Socket is the datagram surface the Dispatcher drives. UDPSocket satisfies it;
// tests substitute in-memory sockets.
type Socket interface {
	// Send transmits payload to ep.
	Send(ep netip.AddrPort, payload []byte, flags Flags) error

	// Read drains up to len(pkts) datagrams without blocking.
	Read(pkts []Packet) (int, error)

	// AsyncRead calls handler once the socket is readable or closed.
	AsyncRead(handler func(error))

	// Close shuts the socket down.
	Close() error
}

var _ Socket = (*UDPSocket)(nil)
