package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync/atomic"
	"syscall"

	"github.com/opd-ai/udpsocket/interfaces"
	"github.com/opd-ai/udpsocket/tunnel"
	"github.com/sirupsen/logrus"
)

// socketState is the lifecycle of a UDPSocket. Aborting is closing: there is
// no separate flag that could disagree with the state.
type socketState uint32

const (
	stateUnbound socketState = iota
	stateBound
	stateClosed
)

func (s socketState) String() string {
	switch s {
	case stateUnbound:
		return "unbound"
	case stateBound:
		return "bound"
	case stateClosed:
		return "closed"
	default:
		return fmt.Sprintf("socketState(%d)", uint32(s))
	}
}

type addrFamily uint8

const (
	familyIPv4 addrFamily = iota + 1
	familyIPv6
)

// errWouldBlock is the internal signal for EAGAIN/EWOULDBLOCK.
var errWouldBlock = errors.New("would block")

// sockHandle is the OS socket of a bound UDPSocket. It is published once by
// Bind and never changes afterwards.
type sockHandle struct {
	conn   *net.UDPConn
	raw    syscall.RawConn
	family addrFamily
	local  netip.AddrPort
}

// noCopy makes go vet's copylocks check flag copies of UDPSocket.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// UDPSocket is a single bound UDP socket shared by the peer-wire, DHT and
// tracker sub-protocols, optionally tunnelled through a SOCKS5 proxy.
//
// A UDPSocket has a single owner: Bind, Send, SendHostname, Read, FlushQueue
// and the option calls must not overlap. Close, the proxy setters and the
// readiness callbacks may be used from any goroutine. Close is the
// cancellation path: every operation started afterwards fails with
// ErrSocketClosed without touching the OS socket.
type UDPSocket struct {
	noCopy noCopy
	guard  ownerGuard

	state  atomic.Uint32
	handle atomic.Pointer[sockHandle]

	cfg    *interfaces.SocketConfig
	dialer interfaces.TunnelDialer
	proxy  *proxyState
	queue  *sendQueue

	// closeCtx is cancelled by Close and bounds tunnel dials.
	closeCtx    context.Context
	closeCancel context.CancelFunc

	arena []byte
}

// Option configures a UDPSocket at construction.
type Option func(*UDPSocket)

// WithTunnelDialer sets the dialer used to establish proxy tunnels. The default
// is tunnel.NewDialer().
func WithTunnelDialer(d interfaces.TunnelDialer) Option {
	return func(s *UDPSocket) {
		if d != nil {
			s.dialer = d
		}
	}
}

// WithConfig replaces the default configuration. An invalid configuration is
// ignored with a warning.
func WithConfig(cfg *interfaces.SocketConfig) Option {
	return func(s *UDPSocket) {
		if cfg == nil {
			return
		}
		if err := cfg.Validate(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "WithConfig",
				"error":    err.Error(),
			}).Warn("Invalid socket configuration, using defaults")
			return
		}
		s.cfg = cfg.Clone()
	}
}

// NewUDPSocket creates an unbound socket.
func NewUDPSocket(opts ...Option) *UDPSocket {
	s := &UDPSocket{
		cfg:    interfaces.DefaultSocketConfig(),
		dialer: tunnel.NewDialer(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.closeCtx, s.closeCancel = context.WithCancel(context.Background())
	s.proxy = newProxyState(s.cfg.Proxy, s.cfg.ForceProxy)
	s.queue = newSendQueue(s.cfg.SendQueueLimit)
	s.state.Store(uint32(stateUnbound))

	logrus.WithFields(logrus.Fields{
		"function":        "NewUDPSocket",
		"max_packet_size": s.cfg.MaxPacketSize,
		"send_queue":      s.cfg.SendQueueLimit,
		"proxy_type":      s.cfg.Proxy.Kind.String(),
		"force_proxy":     s.cfg.ForceProxy,
	}).Debug("Created UDP socket")

	return s
}

func (s *UDPSocket) loadState() socketState {
	return socketState(s.state.Load())
}

// bound returns the OS socket, or the lifecycle error when there is none.
func (s *UDPSocket) bound() (*sockHandle, error) {
	switch s.loadState() {
	case stateClosed:
		return nil, ErrSocketClosed
	case stateUnbound:
		return nil, ErrNotBound
	}
	return s.handle.Load(), nil
}

// mapConnError turns the runtime's closed-connection error into ErrSocketClosed.
func mapConnError(err error) error {
	if err != nil && errors.Is(err, net.ErrClosed) {
		return ErrSocketClosed
	}
	return err
}

// Bind opens the OS socket on ep. IPv4 addresses bind udp4, IPv6 addresses udp6
// and the zero address a dual-stack socket. Port 0 picks an ephemeral port.
func (s *UDPSocket) Bind(ep netip.AddrPort) error {
	defer s.guard.enter("Bind")()

	switch s.loadState() {
	case stateClosed:
		return ErrSocketClosed
	case stateBound:
		return ErrAlreadyBound
	}

	network := "udp"
	if addr := ep.Addr().Unmap(); addr.IsValid() {
		ep = netip.AddrPortFrom(addr, ep.Port())
		if addr.Is4() {
			network = "udp4"
		} else {
			network = "udp6"
		}
	}

	conn, err := net.ListenUDP(network, net.UDPAddrFromAddrPort(ep))
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Bind",
			"endpoint": ep.String(),
			"error":    err.Error(),
		}).Error("Failed to bind UDP socket")
		return newOpError("bind", ep.String(), err)
	}

	h, err := newSockHandle(conn)
	if err != nil {
		conn.Close()
		return newOpError("bind", ep.String(), err)
	}

	s.handle.Store(h)
	if !s.state.CompareAndSwap(uint32(stateUnbound), uint32(stateBound)) {
		// Closed while binding.
		conn.Close()
		return ErrSocketClosed
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Bind",
		"local_addr": h.local.String(),
		"network":    network,
	}).Info("UDP socket bound")

	return nil
}

func newSockHandle(conn *net.UDPConn) (*sockHandle, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, err
	}
	family, err := socketFamily(raw)
	if err != nil {
		return nil, err
	}
	local := conn.LocalAddr().(*net.UDPAddr).AddrPort()
	return &sockHandle{
		conn:   conn,
		raw:    raw,
		family: family,
		local:  netip.AddrPortFrom(local.Addr().Unmap(), local.Port()),
	}, nil
}

// Close releases the OS socket, closes the proxy tunnel and discards queued
// datagrams. It is idempotent, safe from any goroutine and always returns nil.
func (s *UDPSocket) Close() error {
	prev := socketState(s.state.Swap(uint32(stateClosed)))
	if prev == stateClosed {
		return nil
	}

	s.closeCancel()
	if h := s.handle.Load(); h != nil {
		h.conn.Close()
	}
	s.proxy.shutdown()
	dropped := s.queue.discard()

	logrus.WithFields(logrus.Fields{
		"function":       "Close",
		"previous_state": prev.String(),
		"local_addr":     s.LocalAddr().String(),
		"dropped_queued": dropped,
	}).Info("UDP socket closed")

	return nil
}

// fail closes the socket after a fatal error.
func (s *UDPSocket) fail(op string, err error) {
	logrus.WithFields(logrus.Fields{
		"function": "UDPSocket.fail",
		"op":       op,
		"error":    err.Error(),
	}).Error("Fatal socket error, closing")
	s.Close()
}

// IsOpen reports whether the socket is bound and not closed.
func (s *UDPSocket) IsOpen() bool {
	return s.loadState() == stateBound
}

// IsClosed reports whether Close was called or a fatal error closed the socket.
// Once true it stays true.
func (s *UDPSocket) IsClosed() bool {
	return s.loadState() == stateClosed
}

// LocalPort returns the bound port, or 0 before Bind.
func (s *UDPSocket) LocalPort() uint16 {
	if h := s.handle.Load(); h != nil {
		return h.local.Port()
	}
	return 0
}

// LocalEndpoint returns the bound local endpoint.
func (s *UDPSocket) LocalEndpoint() (netip.AddrPort, error) {
	h, err := s.bound()
	if err != nil {
		return netip.AddrPort{}, err
	}
	return h.local, nil
}

// LocalAddr is LocalEndpoint returning the zero endpoint on error.
func (s *UDPSocket) LocalAddr() netip.AddrPort {
	if h := s.handle.Load(); h != nil {
		return h.local
	}
	return netip.AddrPort{}
}
