package transport

import (
	"context"
	"fmt"
	"math/bits"
	"strconv"
	"sync"
	"time"

	"github.com/opd-ai/udpsocket/interfaces"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// trafficClass is a holder of the tunnel reference. Each class holds at most
// one reference; the tunnel lives while any class holds it.
type trafficClass uint8

const (
	classPeer trafficClass = 1 << iota
	classTracker
	classUnclassified
	classHostname

	allClasses = classPeer | classTracker | classUnclassified | classHostname
)

// redialBackoff spaces lazy tunnel dials after a failed attempt.
const redialBackoff = time.Second

// classOf maps send flags to the traffic classes they belong to.
func classOf(flags Flags) trafficClass {
	var c trafficClass
	if flags.Has(PeerConnection) {
		c |= classPeer
	}
	if flags.Has(TrackerConnection) {
		c |= classTracker
	}
	if c == 0 {
		c = classUnclassified
	}
	return c
}

// requiredClasses returns the classes that must be proxied under settings.
func requiredClasses(settings interfaces.ProxySettings, force bool) trafficClass {
	if !settings.Enabled() {
		return 0
	}
	if force {
		return allClasses
	}
	c := classUnclassified
	if settings.ProxyPeerConnections {
		c |= classPeer
	}
	if settings.ProxyTrackerConnections {
		c |= classTracker
	}
	if settings.ProxyHostnames && settings.Kind.ResolvesHostnames() {
		c |= classHostname
	}
	return c
}

// proxyState holds the proxy settings and the tunnel shared by the traffic
// classes. It is the one piece of socket state that other goroutines mutate.
type proxyState struct {
	mu         sync.Mutex
	settings   interfaces.ProxySettings
	force      bool
	tunnel     interfaces.Tunnel
	refs       trafficClass
	generation uint64
	lastFail   time.Time
	closed     bool

	dials singleflight.Group
}

func newProxyState(settings interfaces.ProxySettings, force bool) *proxyState {
	return &proxyState{settings: settings, force: force}
}

// dropTunnel closes the tunnel and releases every reference. Caller holds mu.
func (p *proxyState) dropTunnel(reason string) {
	if p.tunnel == nil {
		return
	}
	tun := p.tunnel
	p.tunnel = nil
	p.refs = 0
	tun.Close()

	logrus.WithFields(logrus.Fields{
		"function":   "proxyState.dropTunnel",
		"relay_addr": tun.RelayEndpoint().String(),
		"reason":     reason,
	}).Info("Released proxy tunnel")
}

// retainRequired releases the references of classes that no longer need the
// proxy and closes the tunnel when none remain. Caller holds mu.
func (p *proxyState) retainRequired() {
	p.refs &= requiredClasses(p.settings, p.force)
	if p.refs == 0 {
		p.dropTunnel("no traffic class requires the proxy")
	}
}

// activeTunnel returns the tunnel if it is usable, dropping it when the proxy
// closed it. Caller holds mu.
func (p *proxyState) activeTunnel() interfaces.Tunnel {
	if p.tunnel == nil {
		return nil
	}
	if !p.tunnel.Active() {
		p.dropTunnel("tunnel lost")
		return nil
	}
	return p.tunnel
}

func (p *proxyState) shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.generation++
	p.dropTunnel("socket closed")
}

// SetProxySettings replaces the proxy settings. A different proxy identity, or
// a kind that cannot carry UDP, invalidates the current tunnel; it is
// re-established lazily on next use. Otherwise classes that no longer need
// the proxy release the tunnel.
func (s *UDPSocket) SetProxySettings(settings interfaces.ProxySettings) {
	if s.IsClosed() {
		return
	}
	if err := settings.Validate(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "SetProxySettings",
			"error":    err.Error(),
		}).Warn("Proxy settings are invalid, tunnel dials will fail")
	}

	p := s.proxy
	p.mu.Lock()
	defer p.mu.Unlock()

	old := p.settings
	p.settings = settings
	if old.Identity() != settings.Identity() || !settings.Kind.SupportsUDP() {
		p.generation++
		p.lastFail = time.Time{}
		p.dropTunnel("proxy settings changed")
	} else {
		p.retainRequired()
	}

	logrus.WithFields(logrus.Fields{
		"function":        "SetProxySettings",
		"proxy_type":      settings.Kind.String(),
		"proxy_addr":      settings.Address(),
		"proxy_peers":     settings.ProxyPeerConnections,
		"proxy_trackers":  settings.ProxyTrackerConnections,
		"proxy_hostnames": settings.ProxyHostnames,
	}).Info("Proxy settings updated")
}

// ProxySettings returns a copy of the current proxy settings.
func (s *UDPSocket) ProxySettings() interfaces.ProxySettings {
	s.proxy.mu.Lock()
	defer s.proxy.mu.Unlock()
	return s.proxy.settings
}

// SetForceProxy routes every send through the tunnel regardless of its class.
// While force is on a send never goes direct: with no proxy configured it fails
// with ErrProxyRequired.
func (s *UDPSocket) SetForceProxy(force bool) {
	if s.IsClosed() {
		return
	}
	p := s.proxy
	p.mu.Lock()
	defer p.mu.Unlock()

	p.force = force
	p.retainRequired()

	logrus.WithFields(logrus.Fields{
		"function":    "SetForceProxy",
		"force_proxy": force,
	}).Info("Force proxy updated")
}

// ForceProxy reports whether every send is routed through the tunnel.
func (s *UDPSocket) ForceProxy() bool {
	s.proxy.mu.Lock()
	defer s.proxy.mu.Unlock()
	return s.proxy.force
}

// ConnectProxy establishes the tunnel and waits until it is usable or ctx ends.
// It joins a dial already started by a send.
func (s *UDPSocket) ConnectProxy(ctx context.Context) error {
	if s.IsClosed() {
		return ErrSocketClosed
	}

	p := s.proxy
	p.mu.Lock()
	if !p.settings.Kind.SupportsUDP() {
		kind := p.settings.Kind
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrProxyUnsupported, kind)
	}
	required := requiredClasses(p.settings, p.force)
	if p.activeTunnel() != nil {
		p.refs |= required
		p.mu.Unlock()
		return nil
	}
	ch := s.startDial(required)
	p.mu.Unlock()

	select {
	case res := <-ch:
		if res.Err != nil {
			return res.Err
		}
		// A joined dial only records the holders of the caller that started it.
		p.mu.Lock()
		if tun, ok := res.Val.(interfaces.Tunnel); ok && p.tunnel == tun {
			p.refs |= required
		}
		p.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startDial starts, or joins, the single in-flight tunnel dial. holders receive
// a reference once the tunnel is up. Caller holds mu.
func (s *UDPSocket) startDial(holders trafficClass) <-chan singleflight.Result {
	p := s.proxy
	settings, gen := p.settings, p.generation
	key := strconv.FormatUint(gen, 10)

	return p.dials.DoChan(key, func() (interface{}, error) {
		return s.dialTunnel(settings, gen, holders)
	})
}

func (s *UDPSocket) dialTunnel(settings interfaces.ProxySettings, gen uint64, holders trafficClass) (interfaces.Tunnel, error) {
	ctx, cancel := context.WithTimeout(s.closeCtx, s.cfg.ProxyTimeout)
	defer cancel()

	logrus.WithFields(logrus.Fields{
		"function":   "dialTunnel",
		"proxy_type": settings.Kind.String(),
		"proxy_addr": settings.Address(),
	}).Info("Establishing proxy tunnel")

	tun, err := s.dialer.DialTunnel(ctx, settings)

	p := s.proxy
	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		if p.generation == gen {
			p.lastFail = time.Now()
		}
		logrus.WithFields(logrus.Fields{
			"function":   "dialTunnel",
			"proxy_addr": settings.Address(),
			"error":      err.Error(),
		}).Warn("Failed to establish proxy tunnel")
		return nil, err
	}

	if p.closed || p.generation != gen {
		tun.Close()
		if p.closed {
			return nil, ErrSocketClosed
		}
		return nil, ErrProxyNotReady
	}
	if existing := p.activeTunnel(); existing != nil {
		tun.Close()
		p.refs |= holders
		return existing, nil
	}

	p.tunnel = tun
	p.refs |= holders
	p.lastFail = time.Time{}

	logrus.WithFields(logrus.Fields{
		"function":   "dialTunnel",
		"proxy_addr": settings.Address(),
		"relay_addr": tun.RelayEndpoint().String(),
		"holders":    bits.OnesCount8(uint8(p.refs)),
	}).Info("Proxy tunnel established")

	return tun, nil
}

// route decides how a send of the given class travels. A nil tunnel with a
// nil error means send directly, which force never allows. Routing is
// evaluated on every call.
func (s *UDPSocket) route(class trafficClass) (interfaces.Tunnel, error) {
	p := s.proxy
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.settings.Enabled() {
		if p.force {
			return nil, ErrProxyRequired
		}
		return nil, nil
	}
	if requiredClasses(p.settings, p.force)&class == 0 {
		return nil, nil
	}
	if !p.settings.Kind.SupportsUDP() {
		if p.force {
			return nil, ErrProxyUnsupported
		}
		return nil, nil
	}

	if tun := p.activeTunnel(); tun != nil {
		p.refs |= class
		return tun, nil
	}

	s.lazyDial(class)
	if p.force {
		return nil, ErrProxyNotReady
	}
	return nil, nil
}

// acquireForHostname returns the tunnel for a hostname send. Caller holds mu
// and has checked the policy.
func (s *UDPSocket) acquireForHostname() interfaces.Tunnel {
	p := s.proxy
	if tun := p.activeTunnel(); tun != nil {
		p.refs |= classHostname
		return tun
	}
	s.lazyDial(classHostname)
	return nil
}

// lazyDial starts a background dial unless one failed very recently. Caller
// holds mu.
func (s *UDPSocket) lazyDial(class trafficClass) {
	p := s.proxy
	if p.closed || time.Since(p.lastFail) < redialBackoff {
		return
	}
	s.startDial(class)
}

// currentTunnel returns the active tunnel, if any, for unwrapping received
// datagrams.
func (s *UDPSocket) currentTunnel() interfaces.Tunnel {
	s.proxy.mu.Lock()
	defer s.proxy.mu.Unlock()
	return s.proxy.activeTunnel()
}
