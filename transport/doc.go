// Package transport provides the single UDP socket shared by the peer-wire,
// DHT and UDP tracker sub-protocols of a BitTorrent engine, with optional
// tunnelling through a SOCKS5 proxy.
//
// # Lifecycle
//
// A UDPSocket is created unbound, bound once and closed once:
//
//	sock := transport.NewUDPSocket()
//	if err := sock.Bind(netip.MustParseAddrPort("0.0.0.0:6881")); err != nil {
//	    return err
//	}
//	defer sock.Close()
//
// Close may be called from any goroutine and acts as cancellation: every
// operation started afterwards returns ErrSocketClosed without a system call.
// A fatal receive error closes the socket the same way.
//
// # Sending
//
// Send never blocks. Flags classify the datagram (PeerConnection,
// TrackerConnection) and adjust delivery (DontQueue, DontFragment). A datagram
// that finds the socket not writable is copied into a bounded queue drained by
// FlushQueue or AsyncWrite, unless DontQueue turns that into ErrWouldBlock.
//
// # Proxying
//
// With SOCKS5 proxy settings installed, each send is routed on its own:
//
//   - with force proxy, or for a class the settings mark as proxied, or for
//     unclassified traffic such as DHT, the datagram goes through the tunnel
//   - everything else is sent directly
//
// The tunnel is dialed lazily on first need and shared by all traffic classes.
// Until it is up, sends fall back to direct delivery, except under force proxy
// where they fail with ErrProxyNotReady. ConnectProxy waits for the tunnel.
// SendHostname leaves name resolution to the proxy.
//
// # Receiving
//
// Read drains a batch without blocking. Datagrams from the proxy relay are
// unwrapped to their original source. Per-packet errors (ICMP unreachable,
// truncation) occupy a slot with Packet.Err set instead of failing the batch.
// Packet.Data is borrowed until the next Read.
//
// AsyncRead notifies when the socket becomes readable. A Dispatcher combines
// the two and routes packets to sub-protocol handlers:
//
//	d := transport.NewDispatcher(sock, 32)
//	d.Handle("dht", transport.IsDHTMessage, dht.HandlePacket)
//	d.Handle("utp", transport.IsUTPPacket, utp.HandlePacket)
//	err := d.Run(ctx)
//
// # Concurrency
//
// A UDPSocket has one owner. Bind, Send, SendHostname, Read, FlushQueue and
// the option calls must not overlap; building with -tags udpsock_debug makes
// overlapping calls panic.
package transport
