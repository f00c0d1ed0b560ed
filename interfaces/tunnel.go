package interfaces

import (
	"context"
	"net/netip"
)

// Tunnel is an established proxy session that relays UDP datagrams on behalf of
// a socket. Wrap and Unwrap convert between plain (destination, payload) pairs
// and the proxy's framing.
type Tunnel interface {
	// Wrap frames payload for delivery to dst. The returned datagram must be sent
	// to relay.
	Wrap(dst netip.AddrPort, payload []byte) (relay netip.AddrPort, datagram []byte, err error)

	// WrapHostname frames payload for delivery to host:port, leaving resolution to
	// the proxy.
	WrapHostname(host string, port uint16, payload []byte) (relay netip.AddrPort, datagram []byte, err error)

	// Unwrap decapsulates a datagram received from the relay. ok is false when from
	// is not the relay endpoint or the framing is not acceptable.
	// The returned payload aliases datagram.
	Unwrap(from netip.AddrPort, datagram []byte) (src netip.AddrPort, payload []byte, ok bool)

	// RelayEndpoint is the UDP endpoint framed datagrams are exchanged with.
	RelayEndpoint() netip.AddrPort

	// Active reports whether the session is still usable.
	Active() bool

	// Close tears the session down. It is safe to call more than once.
	Close() error
}

// TunnelDialer establishes proxy sessions.
type TunnelDialer interface {
	DialTunnel(ctx context.Context, settings ProxySettings) (Tunnel, error)
}

// TunnelDialerFunc adapts a function to TunnelDialer.
type TunnelDialerFunc func(ctx context.Context, settings ProxySettings) (Tunnel, error)

// DialTunnel calls f.
func (f TunnelDialerFunc) DialTunnel(ctx context.Context, settings ProxySettings) (Tunnel, error) {
	return f(ctx, settings)
}
