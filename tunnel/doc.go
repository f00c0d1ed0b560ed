// Package tunnel implements SOCKS5 UDP ASSOCIATE sessions used by the UDP socket
// to relay datagrams through a proxy.
//
// An Association owns the TCP control connection to the proxy and the relay
// endpoint the proxy returned. Datagrams are framed with the RFC 1928 section 7
// header on the way out and unframed on the way in:
//
//	dialer := tunnel.NewDialer()
//	tun, err := dialer.DialTunnel(ctx, settings)
//	if err != nil {
//	    return err
//	}
//	defer tun.Close()
//
//	relay, framed, err := tun.Wrap(peer, payload)
//	// send framed to relay on the UDP socket
//
// The association becomes inactive as soon as the proxy closes the control
// connection; callers establish a new one instead of reusing it.
//
// NewTCPDialer builds a golang.org/x/net/proxy dialer for the same settings so
// stream connections follow the proxy used for UDP.
package tunnel
