package tunnel

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/udpsocket/interfaces"
	"github.com/opd-ai/udpsocket/limits"
	"github.com/sirupsen/logrus"
	"github.com/txthinking/socks5"
	"golang.org/x/net/proxy"
)

// Association is a SOCKS5 UDP ASSOCIATE session. The TCP control connection is
// held open for the lifetime of the association; the proxy drops the relay as
// soon as it closes. It satisfies interfaces.Tunnel.
type Association struct {
	control   net.Conn
	relay     netip.AddrPort
	proxyAddr string

	active    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

var _ interfaces.Tunnel = (*Association)(nil)

// Associate dials the proxy described by settings through forward, negotiates
// authentication and requests a UDP relay.
func Associate(ctx context.Context, forward proxy.ContextDialer, settings interfaces.ProxySettings) (*Association, error) {
	if !settings.Kind.SupportsUDP() {
		return nil, fmt.Errorf("%w: %s cannot relay udp", ErrUnsupportedKind, settings.Kind)
	}
	if forward == nil {
		forward = proxy.Direct
	}

	proxyAddr := settings.Address()

	logrus.WithFields(logrus.Fields{
		"function":   "Associate",
		"proxy_type": settings.Kind.String(),
		"proxy_addr": proxyAddr,
	}).Info("Establishing SOCKS5 UDP association")

	conn, err := forward.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "Associate",
			"proxy_addr": proxyAddr,
			"error":      err.Error(),
		}).Error("Failed to dial proxy")
		return nil, fmt.Errorf("proxy dial failed: %w", err)
	}

	relay, err := handshake(ctx, conn, proxyAuth(settings))
	if err != nil {
		conn.Close()
		logrus.WithFields(logrus.Fields{
			"function":   "Associate",
			"proxy_addr": proxyAddr,
			"error":      err.Error(),
		}).Error("SOCKS5 handshake failed")
		return nil, err
	}

	a := &Association{
		control:   conn,
		relay:     relay,
		proxyAddr: proxyAddr,
		done:      make(chan struct{}),
	}
	a.active.Store(true)
	go a.watchControl()

	logrus.WithFields(logrus.Fields{
		"function":   "Associate",
		"proxy_addr": proxyAddr,
		"relay_addr": relay.String(),
		"local_addr": conn.LocalAddr().String(),
	}).Info("SOCKS5 UDP association established")

	return a, nil
}

// handshake runs method negotiation, optional username/password authentication and
// the UDP ASSOCIATE request on conn, returning the relay endpoint.
func handshake(ctx context.Context, conn net.Conn, auth *proxy.Auth) (netip.AddrPort, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return netip.AddrPort{}, err
		}
	}
	defer conn.SetDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	methods := []byte{socks5.MethodNone}
	if auth != nil {
		methods = append(methods, socks5.MethodUsernamePassword)
	}
	if _, err := socks5.NewNegotiationRequest(methods).WriteTo(conn); err != nil {
		return netip.AddrPort{}, fmt.Errorf("write negotiation: %w", err)
	}
	nrp, err := socks5.NewNegotiationReplyFrom(conn)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("read negotiation: %w", err)
	}

	switch nrp.Method {
	case socks5.MethodNone:
	case socks5.MethodUsernamePassword:
		if auth == nil {
			return netip.AddrPort{}, fmt.Errorf("%w: proxy demands credentials", ErrNegotiationFailed)
		}
		if err := authenticate(conn, auth); err != nil {
			return netip.AddrPort{}, err
		}
	default:
		return netip.AddrPort{}, fmt.Errorf("%w: method 0x%02x", ErrNegotiationFailed, nrp.Method)
	}

	// The client does not know which address it will send from ahead of time, so
	// DST.ADDR/DST.PORT are left zero (RFC 1928 section 6).
	req := socks5.NewRequest(socks5.CmdUDP, socks5.ATYPIPv4, []byte{0, 0, 0, 0}, []byte{0, 0})
	if _, err := req.WriteTo(conn); err != nil {
		return netip.AddrPort{}, fmt.Errorf("write associate: %w", err)
	}
	reply, err := socks5.NewReplyFrom(conn)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("read associate reply: %w", err)
	}
	if reply.Rep != socks5.RepSuccess {
		return netip.AddrPort{}, fmt.Errorf("%w: reply code 0x%02x", ErrAssociateFailed, reply.Rep)
	}

	return relayEndpoint(reply, conn.RemoteAddr())
}

func authenticate(conn net.Conn, auth *proxy.Auth) error {
	if len(auth.User) > 255 || len(auth.Password) > 255 {
		return fmt.Errorf("%w: credentials too long", ErrAuthFailed)
	}
	urq := socks5.NewUserPassNegotiationRequest([]byte(auth.User), []byte(auth.Password))
	if _, err := urq.WriteTo(conn); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	urp, err := socks5.NewUserPassNegotiationReplyFrom(conn)
	if err != nil {
		return fmt.Errorf("read credentials reply: %w", err)
	}
	if urp.Status != socks5.UserPassStatusSuccess {
		return fmt.Errorf("%w: status 0x%02x", ErrAuthFailed, urp.Status)
	}
	return nil
}

// relayEndpoint extracts BND.ADDR/BND.PORT. An unspecified BND.ADDR means "the
// address you reached me on".
func relayEndpoint(reply *socks5.Reply, proxyAddr net.Addr) (netip.AddrPort, error) {
	if len(reply.BndPort) != 2 {
		return netip.AddrPort{}, fmt.Errorf("%w: bad bind port", ErrAssociateFailed)
	}
	port := binary.BigEndian.Uint16(reply.BndPort)

	var addr netip.Addr
	switch {
	case reply.Atyp == socks5.ATYPIPv4 && len(reply.BndAddr) == 4:
		addr = netip.AddrFrom4([4]byte(reply.BndAddr))
	case reply.Atyp == socks5.ATYPIPv6 && len(reply.BndAddr) == 16:
		addr = netip.AddrFrom16([16]byte(reply.BndAddr)).Unmap()
	default:
		return netip.AddrPort{}, fmt.Errorf("%w: unsupported bind address type %d", ErrAssociateFailed, reply.Atyp)
	}

	if addr.IsUnspecified() {
		remote, err := netip.ParseAddrPort(proxyAddr.String())
		if err != nil {
			return netip.AddrPort{}, fmt.Errorf("%w: %v", ErrAssociateFailed, err)
		}
		addr = remote.Addr().Unmap()
	}
	return netip.AddrPortFrom(addr, port), nil
}

// watchControl marks the association inactive once the proxy closes the control
// connection.
func (a *Association) watchControl() {
	_, err := io.Copy(io.Discard, a.control)
	a.active.Store(false)

	select {
	case <-a.done:
		return
	default:
	}

	fields := logrus.Fields{
		"function":   "Association.watchControl",
		"proxy_addr": a.proxyAddr,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	logrus.WithFields(fields).Warn("SOCKS5 control connection lost, relay no longer usable")
}

// Wrap frames payload for dst.
func (a *Association) Wrap(dst netip.AddrPort, payload []byte) (netip.AddrPort, []byte, error) {
	if !a.Active() {
		return netip.AddrPort{}, nil, ErrTunnelClosed
	}
	if err := limits.ValidateProxiedDatagram(payload, !dst.Addr().Unmap().Is4()); err != nil {
		return netip.AddrPort{}, nil, err
	}
	b, err := EncodeDatagram(dst, payload)
	if err != nil {
		return netip.AddrPort{}, nil, err
	}
	return a.relay, b, nil
}

// WrapHostname frames payload for host:port.
func (a *Association) WrapHostname(host string, port uint16, payload []byte) (netip.AddrPort, []byte, error) {
	if !a.Active() {
		return netip.AddrPort{}, nil, ErrTunnelClosed
	}
	if err := limits.ValidateDatagramSize(payload, limits.MaxUDPPayload-7-len(host)); err != nil {
		return netip.AddrPort{}, nil, err
	}
	b, err := EncodeHostnameDatagram(host, port, payload)
	if err != nil {
		return netip.AddrPort{}, nil, err
	}
	return a.relay, b, nil
}

// Unwrap decapsulates a datagram received from the relay.
func (a *Association) Unwrap(from netip.AddrPort, datagram []byte) (netip.AddrPort, []byte, bool) {
	if from != a.relay {
		return netip.AddrPort{}, nil, false
	}
	src, payload, err := DecodeDatagram(datagram)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Association.Unwrap",
			"from":     from.String(),
			"size":     len(datagram),
			"error":    err.Error(),
		}).Debug("Dropping relay datagram")
		return netip.AddrPort{}, nil, false
	}
	return src, payload, true
}

// RelayEndpoint returns the proxy's UDP relay endpoint.
func (a *Association) RelayEndpoint() netip.AddrPort {
	return a.relay
}

// Active reports whether the control connection is still open.
func (a *Association) Active() bool {
	return a.active.Load()
}

// Close closes the control connection, which ends the relay on the proxy side.
func (a *Association) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.done)
		a.active.Store(false)
		err = a.control.Close()

		logrus.WithFields(logrus.Fields{
			"function":   "Association.Close",
			"proxy_addr": a.proxyAddr,
			"relay_addr": a.relay.String(),
		}).Info("Closed SOCKS5 UDP association")
	})
	return err
}
