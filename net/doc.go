// Package net adapts a UDPSocket to the standard net.PacketConn interface.
//
// Libraries that speak net.PacketConn, such as uTP or QUIC stacks, can run on
// the same socket the DHT and tracker code use, and inherit its SOCKS5 proxy
// routing. WriteTo accepts IP endpoints as well as host:port pairs, which are
// resolved by the proxy.
//
// Example usage:
//
//	sock := transport.NewUDPSocket()
//	if err := sock.Bind(netip.MustParseAddrPort("0.0.0.0:6881")); err != nil {
//	    log.Fatal(err)
//	}
//
//	pc, err := udpnet.NewPacketConn(sock, udpnet.WithFlags(transport.PeerConnection))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer pc.Close()
//
//	buf := make([]byte, 1500)
//	n, from, err := pc.ReadFrom(buf)
//
// The PacketConn owns the socket once created: calling Send or Read on the
// socket directly races with the adapter.
package net
