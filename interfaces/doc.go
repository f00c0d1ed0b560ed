// Package interfaces defines the collaborator contracts and configuration surface
// of the UDP socket layer.
//
// This package has no dependencies on the socket implementation, so proxy
// sessions, simulations and the socket itself can be developed and tested
// independently.
//
// # Proxy Collaborator
//
// [Tunnel] is a live proxy session able to relay UDP datagrams. The socket never
// speaks the proxy protocol itself; it only calls Wrap before sending and Unwrap
// after receiving from the relay endpoint:
//
//	relay, framed, err := tunnel.Wrap(dst, payload)
//	if err != nil {
//	    return err
//	}
//	// framed is sent to relay instead of payload to dst
//
//	src, payload, ok := tunnel.Unwrap(from, datagram)
//	if !ok {
//	    // not a relayed datagram, or malformed framing
//	}
//
// [TunnelDialer] creates tunnels from [ProxySettings]. The tunnel package provides
// the SOCKS5 UDP ASSOCIATE implementation; the testing package provides in-process
// simulations.
//
// # Configuration
//
// [ProxySettings] selects the proxy and the traffic classes routed through it:
//
//	settings := interfaces.ProxySettings{
//	    Kind:                    interfaces.ProxySOCKS5,
//	    Hostname:                "127.0.0.1",
//	    Port:                    1080,
//	    ProxyPeerConnections:    true,
//	    ProxyTrackerConnections: true,
//	    ProxyHostnames:          true,
//	}
//	if err := settings.Validate(); err != nil {
//	    log.Fatalf("invalid proxy settings: %v", err)
//	}
//
// Only SOCKS5 kinds can carry UDP. Other kinds are accepted so that one settings
// value can configure both TCP peer connections and the UDP socket.
//
// [SocketConfig] holds socket tunables; the factory package fills it from
// defaults and UDPSOCK_* environment variables.
package interfaces
