package tunnel

import "errors"

// Tunnel errors
var (
	// ErrUnsupportedKind indicates the proxy kind cannot be used for the requested traffic
	ErrUnsupportedKind = errors.New("unsupported proxy kind")

	// ErrNegotiationFailed indicates the proxy accepted none of the offered methods
	ErrNegotiationFailed = errors.New("socks5 method negotiation failed")

	// ErrAuthFailed indicates the proxy rejected the username/password
	ErrAuthFailed = errors.New("socks5 authentication failed")

	// ErrAssociateFailed indicates the proxy refused the UDP ASSOCIATE command
	ErrAssociateFailed = errors.New("socks5 udp associate failed")

	// ErrMalformedDatagram indicates a relay datagram whose header cannot be parsed
	ErrMalformedDatagram = errors.New("malformed socks5 datagram")

	// ErrFragmented indicates a relay datagram with a non-zero FRAG field
	ErrFragmented = errors.New("fragmented socks5 datagram")

	// ErrDomainSource indicates a relay datagram whose source is a domain name
	ErrDomainSource = errors.New("socks5 datagram source is a domain name")

	// ErrTunnelClosed indicates the association is no longer usable
	ErrTunnelClosed = errors.New("tunnel closed")
)
