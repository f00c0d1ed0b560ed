// Package testing provides in-process proxy collaborators for deterministic
// tests of the UDP socket.
//
// # Overview
//
// A real SOCKS5 proxy needs a TCP control connection and a UDP relay. Tests of
// the socket's routing only care about the relay framing, so this package
// supplies:
//
//   - RecordingTunnel: an interfaces.Tunnel that frames datagrams like a SOCKS5
//     association and records every Wrap, WrapHostname and Unwrap call.
//   - RecordingDialer: an interfaces.TunnelDialer handing out RecordingTunnels,
//     with injectable failures and delays.
//   - SimulatedRelay: a loopback UDP relay that forwards framed datagrams to
//     their destination and wraps replies for its client.
//
// # Usage
//
//	relay, err := testsim.NewSimulatedRelay()
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer relay.Close()
//
//	dialer := relay.Dialer()
//	sock := transport.NewUDPSocket(transport.WithTunnelDialer(dialer))
//	sock.SetProxySettings(interfaces.ProxySettings{
//	    Kind: interfaces.ProxySOCKS5, Hostname: "127.0.0.1", Port: 1080,
//	})
//
// The proxy hostname and port are only recorded; the tunnel always relays
// through the SimulatedRelay.
//
// # Thread Safety
//
// All types are safe for concurrent use. Logs are returned as copies.
package testing
