package udpsocket

import (
	"net/netip"

	"github.com/opd-ai/udpsocket/factory"
	"github.com/opd-ai/udpsocket/transport"
)

// Open creates a socket from the environment defaults with opts applied and
// binds it to ep.
func Open(ep netip.AddrPort, opts ...factory.ConfigOption) (*transport.UDPSocket, error) {
	sock, err := factory.NewSocketFactory().CreateSocket(opts...)
	if err != nil {
		return nil, err
	}
	if err := sock.Bind(ep); err != nil {
		return nil, err
	}
	return sock, nil
}
