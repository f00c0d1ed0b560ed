package tunnel

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/netip"
	"sync"
)

// mockSOCKS5Server is a minimal SOCKS5 server that completes method negotiation,
// optional username/password authentication and a UDP ASSOCIATE request, then
// keeps the control connection open until the test closes it.
type mockSOCKS5Server struct {
	listener net.Listener

	user     string
	password string
	rep      byte
	bindAddr netip.AddrPort

	mu    sync.Mutex
	conns []net.Conn
}

type mockOption func(*mockSOCKS5Server)

func withCredentials(user, password string) mockOption {
	return func(s *mockSOCKS5Server) {
		s.user = user
		s.password = password
	}
}

func withReplyCode(rep byte) mockOption {
	return func(s *mockSOCKS5Server) {
		s.rep = rep
	}
}

// startMockSOCKS5Server starts the server on a random local port. bindAddr is the
// BND.ADDR/BND.PORT returned in the ASSOCIATE reply.
func startMockSOCKS5Server(bindAddr netip.AddrPort, opts ...mockOption) (*mockSOCKS5Server, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to start mock SOCKS5 server: %w", err)
	}

	s := &mockSOCKS5Server{listener: listener, bindAddr: bindAddr}
	for _, opt := range opts {
		opt(s)
	}

	// Accept returns an error on listener.Close().
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go s.serve(conn)
		}
	}()

	return s, nil
}

func (s *mockSOCKS5Server) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *mockSOCKS5Server) port() uint16 {
	return uint16(s.listener.Addr().(*net.TCPAddr).Port)
}

func (s *mockSOCKS5Server) close() {
	s.listener.Close()
	s.dropControlConnections()
}

// dropControlConnections closes every established control connection.
func (s *mockSOCKS5Server) dropControlConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

func (s *mockSOCKS5Server) serve(conn net.Conn) {
	if !s.negotiate(conn) {
		conn.Close()
		return
	}

	// VER CMD RSV ATYP
	hdr := make([]byte, 4)
	if _, err := io.ReadFull(conn, hdr); err != nil || hdr[1] != 0x03 {
		conn.Close()
		return
	}
	var addrLen int
	switch hdr[3] {
	case 0x01:
		addrLen = 4
	case 0x04:
		addrLen = 16
	case 0x03:
		l := make([]byte, 1)
		if _, err := io.ReadFull(conn, l); err != nil {
			conn.Close()
			return
		}
		addrLen = int(l[0])
	}
	if _, err := io.ReadFull(conn, make([]byte, addrLen+2)); err != nil {
		conn.Close()
		return
	}

	reply := []byte{0x05, s.rep, 0x00}
	if s.bindAddr.Addr().Is4() {
		a := s.bindAddr.Addr().As4()
		reply = append(reply, 0x01)
		reply = append(reply, a[:]...)
	} else {
		a := s.bindAddr.Addr().As16()
		reply = append(reply, 0x04)
		reply = append(reply, a[:]...)
	}
	reply = binary.BigEndian.AppendUint16(reply, s.bindAddr.Port())
	if _, err := conn.Write(reply); err != nil || s.rep != 0x00 {
		conn.Close()
		return
	}

	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()
}

func (s *mockSOCKS5Server) negotiate(conn net.Conn) bool {
	hdr := make([]byte, 2)
	if _, err := io.ReadFull(conn, hdr); err != nil || hdr[0] != 0x05 {
		return false
	}
	methods := make([]byte, hdr[1])
	if _, err := io.ReadFull(conn, methods); err != nil {
		return false
	}

	want := byte(0x00)
	if s.user != "" {
		want = 0x02
	}
	offered := false
	for _, m := range methods {
		if m == want {
			offered = true
		}
	}
	if !offered {
		conn.Write([]byte{0x05, 0xFF})
		return false
	}
	if _, err := conn.Write([]byte{0x05, want}); err != nil {
		return false
	}
	if want == 0x00 {
		return true
	}

	// VER ULEN UNAME PLEN PASSWD
	ver := make([]byte, 2)
	if _, err := io.ReadFull(conn, ver); err != nil {
		return false
	}
	user := make([]byte, ver[1])
	if _, err := io.ReadFull(conn, user); err != nil {
		return false
	}
	plen := make([]byte, 1)
	if _, err := io.ReadFull(conn, plen); err != nil {
		return false
	}
	pass := make([]byte, plen[0])
	if _, err := io.ReadFull(conn, pass); err != nil {
		return false
	}

	if string(user) != s.user || string(pass) != s.password {
		conn.Write([]byte{0x01, 0x01})
		return false
	}
	_, err := conn.Write([]byte{0x01, 0x00})
	return err == nil
}
