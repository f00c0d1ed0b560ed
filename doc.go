// Package udpsocket provides a single UDP socket shared by the peer-wire, DHT
// and tracker protocols of a BitTorrent engine.
//
// The socket sends and receives datagrams without blocking, reads in batches,
// and can tunnel its traffic through a SOCKS5 proxy using UDP ASSOCIATE. Which
// datagrams go through the proxy is decided per send from the traffic class
// (peer connection, tracker connection or unclassified) and the proxy
// settings, so settings can change while the socket is in use.
//
// # Getting Started
//
// Open binds a socket configured from the environment (see package factory):
//
//	sock, err := udpsocket.Open(netip.MustParseAddrPort("0.0.0.0:6881"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sock.Close()
//
// Received datagrams are usually consumed by a transport.Dispatcher, which
// routes them to DHT, uTP and tracker handlers:
//
//	d := transport.NewDispatcher(sock, 32)
//	d.Handle("dht", transport.IsDHTMessage, dht.HandlePacket)
//	d.Handle("utp", transport.IsUTPPacket, utp.HandlePacket)
//	go d.Run(ctx)
//
// # Proxy Support
//
//	sock.SetProxySettings(interfaces.ProxySettings{
//	    Kind:                 interfaces.ProxySOCKS5,
//	    Hostname:             "127.0.0.1",
//	    Port:                 1080,
//	    ProxyPeerConnections: true,
//	    ProxyHostnames:       true,
//	})
//	sock.SendHostname("tracker.example.org", 6969, announce, transport.TrackerConnection)
//
// The tunnel is established lazily on first use or eagerly with ConnectProxy.
// With ForceProxy set, sends fail with ErrProxyNotReady until it is up
// instead of falling back to direct delivery.
//
// # Package Layout
//
//   - transport: the socket, send queue, proxy routing and Dispatcher
//   - tunnel: SOCKS5 UDP ASSOCIATE sessions, datagram framing and TCP proxy dialers
//   - interfaces: proxy settings, socket configuration and collaborator contracts
//   - limits: datagram and hostname size limits
//   - factory: sockets configured from defaults and UDPSOCK_* variables
//   - net: net.PacketConn adapter over a socket
//   - testing: simulated relay and recording tunnels for tests
package udpsocket
