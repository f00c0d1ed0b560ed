// Package factory creates UDP sockets from a shared default configuration.
//
// The factory centralizes socket configuration so every socket in a process
// starts from the same limits and proxy settings, and lets tests swap the
// SOCKS5 dialer for a simulated relay without changing consuming code.
//
// # Configuration
//
// Defaults come from interfaces.DefaultSocketConfig and can be overridden by
// environment variables. Malformed or out-of-range values are logged and
// ignored:
//   - UDPSOCK_MAX_PACKET_SIZE: receive slot size in bytes
//   - UDPSOCK_SEND_QUEUE_LIMIT: datagrams queued while the socket is not writable
//   - UDPSOCK_PROXY_TIMEOUT: integer milliseconds for tunnel establishment
//   - UDPSOCK_FORCE_PROXY: "true" or "false"
//   - UDPSOCK_PROXY_TYPE: none, socks4, socks5, socks5_pw, http, http_pw or i2p
//   - UDPSOCK_PROXY_HOST, UDPSOCK_PROXY_PORT: proxy server
//   - UDPSOCK_PROXY_USER, UDPSOCK_PROXY_PASSWORD: proxy credentials
//   - UDPSOCK_PROXY_PEERS, UDPSOCK_PROXY_TRACKERS, UDPSOCK_PROXY_HOSTNAMES:
//     which traffic classes use the proxy
//
// The UDPSOCK_PROXY_* variables are applied together and only when the
// resulting proxy settings validate.
//
// # Usage
//
//	f := factory.NewSocketFactory()
//	sock, err := f.CreateSocket(factory.WithSendQueueLimit(1024))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := sock.Bind(netip.MustParseAddrPort("0.0.0.0:6881")); err != nil {
//	    log.Fatal(err)
//	}
//
// # Testing Support
//
// CreateSimulationForTesting returns a socket wired to a testing.SimulatedRelay
// together with the recording dialer, so tests can inspect every tunnel dial:
//
//	relay, _ := testing.NewSimulatedRelay()
//	sock, dialer := factory.NewSocketFactory().CreateSimulationForTesting(relay)
package factory
