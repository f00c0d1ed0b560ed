package transport

// Socket options forwarded to the OS without interpretation.
type (
	// ReceiveBufferSize is SO_RCVBUF.
	ReceiveBufferSize int

	// SendBufferSize is SO_SNDBUF.
	SendBufferSize int

	// TypeOfService is IP_TOS, or IPV6_TCLASS on IPv6 sockets.
	TypeOfService int

	// HopLimit is IP_TTL, or IPV6_UNICAST_HOPS on IPv6 sockets.
	HopLimit int
)

// SocketOption is the set of options GetOption and SetOption accept.
type SocketOption interface {
	ReceiveBufferSize | SendBufferSize | TypeOfService | HopLimit

	// sockopt returns the level and name of the option for a socket family.
	sockopt(family addrFamily) (level, name int)
}

// GetOption reads option O from the socket.
func GetOption[O SocketOption](s *UDPSocket) (O, error) {
	defer s.guard.enter("GetOption")()

	h, err := s.bound()
	if err != nil {
		return 0, err
	}

	var opt O
	level, name := opt.sockopt(h.family)
	v, err := h.getsockoptInt(level, name)
	if err != nil {
		return 0, newOpError("getsockopt", h.local.String(), err)
	}
	return O(v), nil
}

// SetOption writes option O on the socket.
func SetOption[O SocketOption](s *UDPSocket, v O) error {
	defer s.guard.enter("SetOption")()

	h, err := s.bound()
	if err != nil {
		return err
	}

	level, name := v.sockopt(h.family)
	if err := h.setsockoptInt(level, name, int(v)); err != nil {
		return newOpError("setsockopt", h.local.String(), err)
	}
	return nil
}
