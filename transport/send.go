package transport

import (
	"net/netip"

	"github.com/opd-ai/udpsocket/limits"
	"github.com/sirupsen/logrus"
)

// Send transmits payload to ep, directly or through the proxy tunnel depending
// on flags and the current proxy settings. Send never blocks: a datagram that
// finds the socket not writable is queued, or fails with ErrWouldBlock when
// DontQueue is set.
func (s *UDPSocket) Send(ep netip.AddrPort, payload []byte, flags Flags) error {
	defer s.guard.enter("Send")()

	h, err := s.bound()
	if err != nil {
		return err
	}
	if err := limits.ValidateDatagram(payload); err != nil {
		return err
	}

	tun, err := s.route(classOf(flags))
	if err != nil {
		return err
	}
	if tun == nil {
		return s.sendTo(h, ep, payload, flags)
	}

	relay, framed, err := tun.Wrap(ep, payload)
	if err != nil && !tun.Active() {
		// The proxy went away between routing and wrapping; routing again
		// drops the tunnel and starts a new dial.
		if tun, err = s.route(classOf(flags)); err != nil {
			return err
		}
		if tun == nil {
			return s.sendTo(h, ep, payload, flags)
		}
		relay, framed, err = tun.Wrap(ep, payload)
	}
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Send",
		"to":         ep.String(),
		"relay_addr": relay.String(),
		"size":       len(payload),
	}).Debug("Sending datagram through proxy")

	return s.sendTo(h, relay, framed, flags)
}

// SendHostname transmits payload to host:port through the proxy tunnel, which
// resolves the name. Hostname resolution by the proxy is opt-in: unless the
// kind is SOCKS5 and ProxyHostnames is enabled, it fails with ErrProxyRequired,
// even while a tunnel carries other traffic. It fails with ErrProxyNotReady
// while the tunnel is being established.
func (s *UDPSocket) SendHostname(host string, port uint16, payload []byte, flags Flags) error {
	defer s.guard.enter("SendHostname")()

	h, err := s.bound()
	if err != nil {
		return err
	}

	p := s.proxy
	p.mu.Lock()
	if !p.settings.Kind.ResolvesHostnames() || !p.settings.ProxyHostnames {
		p.mu.Unlock()
		return ErrProxyRequired
	}
	if err := limits.ValidateHostname(host); err != nil {
		p.mu.Unlock()
		return err
	}
	tun := s.acquireForHostname()
	p.mu.Unlock()

	if tun == nil {
		return ErrProxyNotReady
	}

	relay, framed, err := tun.WrapHostname(host, port, payload)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function":   "SendHostname",
		"host":       host,
		"port":       port,
		"relay_addr": relay.String(),
		"size":       len(payload),
	}).Debug("Sending datagram to hostname through proxy")

	return s.sendTo(h, relay, framed, flags)
}

// sendTo hands one datagram to the OS, queueing it when the socket is not
// writable.
func (s *UDPSocket) sendTo(h *sockHandle, dst netip.AddrPort, b []byte, flags Flags) error {
	dontFragment := flags.Has(DontFragment)
	queueable := !flags.Has(DontQueue)

	// Keep FIFO order behind datagrams already waiting.
	if queueable && s.queue.len() > 0 {
		if _, err := s.FlushQueue(); err != nil && Classify(err) == ClassLifecycle {
			return err
		}
		if s.queue.len() > 0 {
			return s.queue.push(dst, b, dontFragment)
		}
	}

	err := h.send(dst, b, dontFragment)
	switch {
	case err == nil:
		return nil
	case err == errWouldBlock:
		if !queueable {
			return ErrWouldBlock
		}
		return s.queue.push(dst, b, dontFragment)
	case err == ErrSocketClosed:
		return err
	default:
		logrus.WithFields(logrus.Fields{
			"function": "sendTo",
			"to":       dst.String(),
			"error":    err.Error(),
		}).Debug("Send failed")
		return newOpError("send", dst.String(), err)
	}
}

// FlushQueue sends queued datagrams until the queue is empty or the socket is
// no longer writable. It returns the number sent. A queued datagram the OS
// rejects is dropped and the first such error returned.
func (s *UDPSocket) FlushQueue() (int, error) {
	h, err := s.bound()
	if err != nil {
		return 0, err
	}
	if s.queue.len() == 0 {
		return 0, nil
	}
	sent, _, err := s.queue.flush(h.send)
	return sent, err
}

// Pending returns the number of queued datagrams.
func (s *UDPSocket) Pending() int {
	return s.queue.len()
}
