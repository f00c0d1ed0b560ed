package tunnel

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/opd-ai/udpsocket/limits"
	"github.com/txthinking/socks5"
)

// EncodeDatagram frames payload in a SOCKS5 UDP request header addressed to dst.
// IPv4-mapped IPv6 destinations are framed as IPv4.
func EncodeDatagram(dst netip.AddrPort, payload []byte) ([]byte, error) {
	if !dst.IsValid() {
		return nil, fmt.Errorf("invalid destination %v", dst)
	}
	addr := dst.Addr().Unmap()

	var atyp byte
	var raw []byte
	if addr.Is4() {
		atyp = socks5.ATYPIPv4
		a := addr.As4()
		raw = a[:]
	} else {
		atyp = socks5.ATYPIPv6
		a := addr.As16()
		raw = a[:]
	}

	return socks5.NewDatagram(atyp, raw, portBytes(dst.Port()), payload).Bytes(), nil
}

// EncodeHostnameDatagram frames payload in a SOCKS5 UDP request header addressed to
// host:port, leaving resolution to the proxy.
func EncodeHostnameDatagram(host string, port uint16, payload []byte) ([]byte, error) {
	if err := limits.ValidateHostname(host); err != nil {
		return nil, err
	}
	return socks5.NewDatagram(socks5.ATYPDomain, []byte(host), portBytes(port), payload).Bytes(), nil
}

// DecodeDatagram parses a SOCKS5 UDP header and returns the source endpoint the
// relay received the payload from. The payload aliases b.
func DecodeDatagram(b []byte) (netip.AddrPort, []byte, error) {
	hdr, err := headerLength(b)
	if err != nil {
		return netip.AddrPort{}, nil, err
	}
	if b[2] != 0 {
		return netip.AddrPort{}, nil, fmt.Errorf("%w: frag %d", ErrFragmented, b[2])
	}

	// NewDatagramFromBytes rejects header-only datagrams; parse those with a
	// sentinel byte and report the empty payload from b itself.
	raw := b
	if len(b) == hdr {
		raw = append(b[:hdr:hdr], 0)
	}
	d, err := socks5.NewDatagramFromBytes(raw)
	if err != nil {
		return netip.AddrPort{}, nil, fmt.Errorf("%w: %v", ErrMalformedDatagram, err)
	}

	var addr netip.Addr
	switch d.Atyp {
	case socks5.ATYPIPv4:
		addr = netip.AddrFrom4([4]byte(d.DstAddr))
	case socks5.ATYPIPv6:
		addr = netip.AddrFrom16([16]byte(d.DstAddr)).Unmap()
	default:
		return netip.AddrPort{}, nil, ErrDomainSource
	}

	port := binary.BigEndian.Uint16(d.DstPort)
	return netip.AddrPortFrom(addr, port), b[hdr:], nil
}

// headerLength returns the size of the SOCKS5 UDP header at the start of b.
func headerLength(b []byte) (int, error) {
	if len(b) < 4 {
		return 0, fmt.Errorf("%w: %d bytes", ErrMalformedDatagram, len(b))
	}

	var n int
	switch b[3] {
	case socks5.ATYPIPv4:
		n = limits.SOCKS5IPv4Overhead
	case socks5.ATYPIPv6:
		n = limits.SOCKS5IPv6Overhead
	case socks5.ATYPDomain:
		if len(b) < 5 || b[4] == 0 {
			return 0, fmt.Errorf("%w: bad domain length", ErrMalformedDatagram)
		}
		n = 4 + 1 + int(b[4]) + 2
	default:
		return 0, fmt.Errorf("%w: address type %d", ErrMalformedDatagram, b[3])
	}

	if len(b) < n {
		return 0, fmt.Errorf("%w: truncated header", ErrMalformedDatagram)
	}
	return n, nil
}

func portBytes(port uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, port)
	return b
}

// DecodeRequest parses a datagram as a relay receives it from its client.
// Unlike DecodeDatagram it accepts domain-name destinations, which are returned
// unresolved in host.
func DecodeRequest(b []byte) (host string, port uint16, payload []byte, err error) {
	hdr, err := headerLength(b)
	if err != nil {
		return "", 0, nil, err
	}
	if b[2] != 0 {
		return "", 0, nil, fmt.Errorf("%w: frag %d", ErrFragmented, b[2])
	}

	switch b[3] {
	case socks5.ATYPIPv4:
		host = netip.AddrFrom4([4]byte(b[4:8])).String()
	case socks5.ATYPIPv6:
		host = netip.AddrFrom16([16]byte(b[4:20])).Unmap().String()
	default:
		host = string(b[5 : hdr-2])
	}
	return host, binary.BigEndian.Uint16(b[hdr-2 : hdr]), b[hdr:], nil
}
