package testing

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/udpsocket/interfaces"
	"github.com/opd-ai/udpsocket/tunnel"
	"github.com/sirupsen/logrus"
)

// ErrTunnelInactive is returned by a RecordingTunnel that was closed or deactivated.
var ErrTunnelInactive = errors.New("simulated tunnel inactive")

// TunnelRecord is one Wrap, WrapHostname or Unwrap call seen by a RecordingTunnel.
type TunnelRecord struct {
	Op       string // "wrap", "wrap_hostname" or "unwrap"
	Endpoint netip.AddrPort
	Host     string
	Size     int
	OK       bool
}

// RecordingTunnel is a tunnel without a control connection. It frames datagrams
// exactly like a SOCKS5 association and records every call.
type RecordingTunnel struct {
	relay  netip.AddrPort
	active atomic.Bool

	mu  sync.Mutex
	log []TunnelRecord
}

var _ interfaces.Tunnel = (*RecordingTunnel)(nil)

// NewRecordingTunnel creates an active tunnel whose relay is relay.
func NewRecordingTunnel(relay netip.AddrPort) *RecordingTunnel {
	logrus.Warn("SIMULATION FUNCTION - NOT A REAL OPERATION")
	logrus.WithFields(logrus.Fields{
		"function":   "NewRecordingTunnel",
		"relay_addr": relay.String(),
	}).Info("Creating recording tunnel for testing")

	t := &RecordingTunnel{relay: relay}
	t.active.Store(true)
	return t
}

func (t *RecordingTunnel) record(r TunnelRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.log = append(t.log, r)
}

// Wrap frames payload for dst.
func (t *RecordingTunnel) Wrap(dst netip.AddrPort, payload []byte) (netip.AddrPort, []byte, error) {
	if !t.Active() {
		t.record(TunnelRecord{Op: "wrap", Endpoint: dst, Size: len(payload)})
		return netip.AddrPort{}, nil, ErrTunnelInactive
	}
	b, err := tunnel.EncodeDatagram(dst, payload)
	t.record(TunnelRecord{Op: "wrap", Endpoint: dst, Size: len(payload), OK: err == nil})
	if err != nil {
		return netip.AddrPort{}, nil, err
	}
	return t.relay, b, nil
}

// WrapHostname frames payload for host:port.
func (t *RecordingTunnel) WrapHostname(host string, port uint16, payload []byte) (netip.AddrPort, []byte, error) {
	if !t.Active() {
		t.record(TunnelRecord{Op: "wrap_hostname", Host: host, Size: len(payload)})
		return netip.AddrPort{}, nil, ErrTunnelInactive
	}
	b, err := tunnel.EncodeHostnameDatagram(host, port, payload)
	t.record(TunnelRecord{Op: "wrap_hostname", Host: host, Size: len(payload), OK: err == nil})
	if err != nil {
		return netip.AddrPort{}, nil, err
	}
	return t.relay, b, nil
}

// Unwrap decapsulates a datagram from the relay.
func (t *RecordingTunnel) Unwrap(from netip.AddrPort, datagram []byte) (netip.AddrPort, []byte, bool) {
	if from != t.relay {
		t.record(TunnelRecord{Op: "unwrap", Endpoint: from, Size: len(datagram)})
		return netip.AddrPort{}, nil, false
	}
	src, payload, err := tunnel.DecodeDatagram(datagram)
	t.record(TunnelRecord{Op: "unwrap", Endpoint: src, Size: len(payload), OK: err == nil})
	if err != nil {
		return netip.AddrPort{}, nil, false
	}
	return src, payload, true
}

// RelayEndpoint returns the relay the tunnel frames for.
func (t *RecordingTunnel) RelayEndpoint() netip.AddrPort {
	return t.relay
}

// Active reports whether the tunnel is usable.
func (t *RecordingTunnel) Active() bool {
	return t.active.Load()
}

// SetActive simulates the proxy dropping (false) the session.
func (t *RecordingTunnel) SetActive(active bool) {
	t.active.Store(active)
}

// Close deactivates the tunnel.
func (t *RecordingTunnel) Close() error {
	t.active.Store(false)
	return nil
}

// GetTunnelLog returns a copy of the recorded calls.
func (t *RecordingTunnel) GetTunnelLog() []TunnelRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	log := make([]TunnelRecord, len(t.log))
	copy(log, t.log)
	return log
}

// Count returns how many calls of op were recorded.
func (t *RecordingTunnel) Count(op string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, r := range t.log {
		if r.Op == op {
			n++
		}
	}
	return n
}

// RecordingDialer hands out RecordingTunnels for a fixed relay endpoint and
// records every dial.
type RecordingDialer struct {
	relay netip.AddrPort

	mu       sync.Mutex
	settings []interfaces.ProxySettings
	tunnels  []*RecordingTunnel
	err      error
	delay    time.Duration
}

var _ interfaces.TunnelDialer = (*RecordingDialer)(nil)

// NewRecordingDialer creates a dialer whose tunnels relay through relay.
func NewRecordingDialer(relay netip.AddrPort) *RecordingDialer {
	logrus.Warn("SIMULATION FUNCTION - NOT A REAL OPERATION")
	logrus.WithFields(logrus.Fields{
		"function":   "NewRecordingDialer",
		"relay_addr": relay.String(),
	}).Info("Creating recording tunnel dialer for testing")

	return &RecordingDialer{relay: relay}
}

// FailWith makes subsequent dials fail with err; nil restores success.
func (d *RecordingDialer) FailWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

// SetDelay makes subsequent dials take delay, or until their context ends.
func (d *RecordingDialer) SetDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delay = delay
}

// DialTunnel records the dial and returns a new RecordingTunnel.
func (d *RecordingDialer) DialTunnel(ctx context.Context, settings interfaces.ProxySettings) (interfaces.Tunnel, error) {
	d.mu.Lock()
	d.settings = append(d.settings, settings)
	delay, err := d.delay, d.err
	d.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":   "RecordingDialer.DialTunnel",
		"proxy_type": settings.Kind.String(),
		"proxy_addr": settings.Address(),
	}).Info("Simulating tunnel dial")

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	tun := NewRecordingTunnel(d.relay)
	d.mu.Lock()
	d.tunnels = append(d.tunnels, tun)
	d.mu.Unlock()
	return tun, nil
}

// Dials returns the number of DialTunnel calls.
func (d *RecordingDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.settings)
}

// DialedSettings returns the settings of every dial in order.
func (d *RecordingDialer) DialedSettings() []interfaces.ProxySettings {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]interfaces.ProxySettings, len(d.settings))
	copy(out, d.settings)
	return out
}

// LastTunnel returns the most recently created tunnel, or nil.
func (d *RecordingDialer) LastTunnel() *RecordingTunnel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.tunnels) == 0 {
		return nil
	}
	return d.tunnels[len(d.tunnels)-1]
}
