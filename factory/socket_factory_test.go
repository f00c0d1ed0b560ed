package factory

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/opd-ai/udpsocket/interfaces"
	"github.com/opd-ai/udpsocket/limits"
	testsim "github.com/opd-ai/udpsocket/testing"
	"golang.org/x/net/proxy"
)

var factoryEnvVars = []string{
	"UDPSOCK_MAX_PACKET_SIZE",
	"UDPSOCK_SEND_QUEUE_LIMIT",
	"UDPSOCK_PROXY_TIMEOUT",
	"UDPSOCK_FORCE_PROXY",
	"UDPSOCK_PROXY_TYPE",
	"UDPSOCK_PROXY_HOST",
	"UDPSOCK_PROXY_PORT",
	"UDPSOCK_PROXY_USER",
	"UDPSOCK_PROXY_PASSWORD",
	"UDPSOCK_PROXY_PEERS",
	"UDPSOCK_PROXY_TRACKERS",
	"UDPSOCK_PROXY_HOSTNAMES",
}

// clearEnv blanks every factory variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range factoryEnvVars {
		t.Setenv(key, "")
	}
}

// TestNewSocketFactory verifies default factory creation
func TestNewSocketFactory(t *testing.T) {
	clearEnv(t)

	factory := NewSocketFactory()
	if factory == nil {
		t.Fatal("NewSocketFactory returned nil")
	}

	config := factory.GetCurrentConfig()
	if config == nil {
		t.Fatal("GetCurrentConfig returned nil")
	}
	if config.MaxPacketSize != limits.DefaultPacketSize {
		t.Errorf("expected default MaxPacketSize %d, got %d", limits.DefaultPacketSize, config.MaxPacketSize)
	}
	if config.SendQueueLimit != limits.DefaultSendQueueLimit {
		t.Errorf("expected default SendQueueLimit %d, got %d", limits.DefaultSendQueueLimit, config.SendQueueLimit)
	}
	if config.ProxyTimeout != 10*time.Second {
		t.Errorf("expected default ProxyTimeout 10s, got %v", config.ProxyTimeout)
	}
	if config.ForceProxy {
		t.Error("expected ForceProxy to default to false")
	}
	if config.Proxy.Enabled() {
		t.Errorf("expected no proxy by default, got %s", config.Proxy.Kind)
	}
}

// TestEnvironmentVariableParsing verifies environment variable handling
func TestEnvironmentVariableParsing(t *testing.T) {
	tests := []struct {
		name        string
		envKey      string
		envValue    string
		checkFunc   func(*interfaces.SocketConfig) bool
		description string
	}{
		{
			name:        "valid_packet_size",
			envKey:      "UDPSOCK_MAX_PACKET_SIZE",
			envValue:    "9000",
			checkFunc:   func(c *interfaces.SocketConfig) bool { return c.MaxPacketSize == 9000 },
			description: "MaxPacketSize should be 9000",
		},
		{
			name:        "valid_queue_limit",
			envKey:      "UDPSOCK_SEND_QUEUE_LIMIT",
			envValue:    "0",
			checkFunc:   func(c *interfaces.SocketConfig) bool { return c.SendQueueLimit == 0 },
			description: "SendQueueLimit should be 0",
		},
		{
			name:        "valid_timeout",
			envKey:      "UDPSOCK_PROXY_TIMEOUT",
			envValue:    "2500",
			checkFunc:   func(c *interfaces.SocketConfig) bool { return c.ProxyTimeout == 2500*time.Millisecond },
			description: "ProxyTimeout should be 2.5s",
		},
		{
			name:        "valid_force_proxy",
			envKey:      "UDPSOCK_FORCE_PROXY",
			envValue:    "true",
			checkFunc:   func(c *interfaces.SocketConfig) bool { return c.ForceProxy },
			description: "ForceProxy should be true",
		},
		{
			name:        "invalid_packet_size_value",
			envKey:      "UDPSOCK_MAX_PACKET_SIZE",
			envValue:    "big",
			checkFunc:   func(c *interfaces.SocketConfig) bool { return c.MaxPacketSize == limits.DefaultPacketSize },
			description: "MaxPacketSize should fall back to default on invalid value",
		},
		{
			name:        "invalid_timeout_value",
			envKey:      "UDPSOCK_PROXY_TIMEOUT",
			envValue:    "not_a_number",
			checkFunc:   func(c *interfaces.SocketConfig) bool { return c.ProxyTimeout == 10*time.Second },
			description: "ProxyTimeout should fall back to default on invalid value",
		},
		{
			name:        "invalid_force_proxy_value",
			envKey:      "UDPSOCK_FORCE_PROXY",
			envValue:    "sometimes",
			checkFunc:   func(c *interfaces.SocketConfig) bool { return !c.ForceProxy },
			description: "ForceProxy should fall back to default on invalid value",
		},
		// Bounds checking tests
		{
			name:        "packet_size_below_minimum",
			envKey:      "UDPSOCK_MAX_PACKET_SIZE",
			envValue:    "16",
			checkFunc:   func(c *interfaces.SocketConfig) bool { return c.MaxPacketSize == limits.DefaultPacketSize },
			description: "MaxPacketSize should fall back to default when below minimum",
		},
		{
			name:        "queue_limit_negative",
			envKey:      "UDPSOCK_SEND_QUEUE_LIMIT",
			envValue:    "-1",
			checkFunc:   func(c *interfaces.SocketConfig) bool { return c.SendQueueLimit == limits.DefaultSendQueueLimit },
			description: "SendQueueLimit should fall back to default when negative",
		},
		{
			name:        "queue_limit_above_maximum",
			envKey:      "UDPSOCK_SEND_QUEUE_LIMIT",
			envValue:    "1000000",
			checkFunc:   func(c *interfaces.SocketConfig) bool { return c.SendQueueLimit == limits.DefaultSendQueueLimit },
			description: "SendQueueLimit should fall back to default when above maximum",
		},
		{
			name:        "timeout_below_minimum",
			envKey:      "UDPSOCK_PROXY_TIMEOUT",
			envValue:    "50",
			checkFunc:   func(c *interfaces.SocketConfig) bool { return c.ProxyTimeout == 10*time.Second },
			description: "ProxyTimeout should fall back to default when below minimum",
		},
		{
			name:        "timeout_above_maximum",
			envKey:      "UDPSOCK_PROXY_TIMEOUT",
			envValue:    "700000",
			checkFunc:   func(c *interfaces.SocketConfig) bool { return c.ProxyTimeout == 10*time.Second },
			description: "ProxyTimeout should fall back to default when above maximum",
		},
		{
			name:        "timeout_at_minimum",
			envKey:      "UDPSOCK_PROXY_TIMEOUT",
			envValue:    "100",
			checkFunc:   func(c *interfaces.SocketConfig) bool { return c.ProxyTimeout == 100*time.Millisecond },
			description: "ProxyTimeout should accept the minimum",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.envKey, tt.envValue)

			config := NewSocketFactory().GetCurrentConfig()
			if !tt.checkFunc(config) {
				t.Errorf("%s (env %s=%q)", tt.description, tt.envKey, tt.envValue)
			}
		})
	}
}

// TestProxyEnvironment verifies the UDPSOCK_PROXY_* variables are applied together
func TestProxyEnvironment(t *testing.T) {
	t.Run("complete_settings", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("UDPSOCK_PROXY_TYPE", "socks5_pw")
		t.Setenv("UDPSOCK_PROXY_HOST", "proxy.example.net")
		t.Setenv("UDPSOCK_PROXY_PORT", "1080")
		t.Setenv("UDPSOCK_PROXY_USER", "alice")
		t.Setenv("UDPSOCK_PROXY_PASSWORD", "secret")
		t.Setenv("UDPSOCK_PROXY_PEERS", "true")
		t.Setenv("UDPSOCK_PROXY_HOSTNAMES", "1")

		p := NewSocketFactory().GetCurrentConfig().Proxy
		if p.Kind != interfaces.ProxySOCKS5Password {
			t.Errorf("expected socks5_pw, got %s", p.Kind)
		}
		if p.Address() != "proxy.example.net:1080" {
			t.Errorf("unexpected proxy address %s", p.Address())
		}
		if p.Username != "alice" || p.Password != "secret" {
			t.Errorf("credentials not applied: %q/%q", p.Username, p.Password)
		}
		if !p.ProxyPeerConnections || p.ProxyTrackerConnections || !p.ProxyHostnames {
			t.Errorf("unexpected class toggles: %+v", p)
		}
	})

	t.Run("missing_host", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("UDPSOCK_PROXY_TYPE", "socks5")
		t.Setenv("UDPSOCK_PROXY_PORT", "1080")

		if p := NewSocketFactory().GetCurrentConfig().Proxy; p.Enabled() {
			t.Errorf("incomplete proxy settings should be ignored, got %s", p.Kind)
		}
	})

	t.Run("unknown_type", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("UDPSOCK_PROXY_TYPE", "socks6")
		t.Setenv("UDPSOCK_PROXY_HOST", "127.0.0.1")
		t.Setenv("UDPSOCK_PROXY_PORT", "1080")

		if p := NewSocketFactory().GetCurrentConfig().Proxy; p.Enabled() {
			t.Errorf("unknown proxy type should be ignored, got %s", p.Kind)
		}
	})

	t.Run("port_out_of_range", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("UDPSOCK_PROXY_TYPE", "socks5")
		t.Setenv("UDPSOCK_PROXY_HOST", "127.0.0.1")
		t.Setenv("UDPSOCK_PROXY_PORT", "70000")

		if p := NewSocketFactory().GetCurrentConfig().Proxy; p.Enabled() {
			t.Errorf("proxy without a valid port should be ignored, got %s", p.Address())
		}
	})
}

// TestCreateSocket verifies option handling when creating sockets
func TestCreateSocket(t *testing.T) {
	clearEnv(t)
	factory := NewSocketFactory()

	sock, err := factory.CreateSocket(WithSendQueueLimit(4), WithMaxPacketSize(2048))
	if err != nil {
		t.Fatalf("CreateSocket failed: %v", err)
	}
	if sock.IsOpen() {
		t.Error("created socket should not be bound yet")
	}
	if err := sock.Bind(netip.MustParseAddrPort("127.0.0.1:0")); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	defer sock.Close()
	if sock.LocalPort() == 0 {
		t.Error("expected an ephemeral port after Bind")
	}

	if _, err := factory.CreateSocket(WithSendQueueLimit(-1)); err == nil {
		t.Error("expected an error for a negative queue limit")
	}
	if _, err := factory.CreateSocket(WithProxy(interfaces.ProxySettings{Kind: interfaces.ProxySOCKS5})); err == nil {
		t.Error("expected an error for a proxy without a host")
	}

	// Options must not leak into the factory defaults.
	if got := factory.GetCurrentConfig().SendQueueLimit; got != limits.DefaultSendQueueLimit {
		t.Errorf("factory default changed to %d", got)
	}
}

// TestUpdateConfig verifies configuration replacement
func TestUpdateConfig(t *testing.T) {
	clearEnv(t)
	factory := NewSocketFactory()

	if err := factory.UpdateConfig(nil); err == nil {
		t.Error("expected an error for a nil config")
	}

	bad := interfaces.DefaultSocketConfig()
	bad.ProxyTimeout = 0
	if err := factory.UpdateConfig(bad); err == nil {
		t.Error("expected an error for a zero proxy timeout")
	}

	good := interfaces.DefaultSocketConfig()
	good.ForceProxy = true
	good.SendQueueLimit = 8
	if err := factory.UpdateConfig(good); err != nil {
		t.Fatalf("UpdateConfig failed: %v", err)
	}

	// Mutating the caller's value afterwards must not affect the factory.
	good.SendQueueLimit = 99

	current := factory.GetCurrentConfig()
	if !current.ForceProxy || current.SendQueueLimit != 8 {
		t.Errorf("unexpected config after update: %+v", current)
	}

	current.SendQueueLimit = 1
	if factory.GetCurrentConfig().SendQueueLimit != 8 {
		t.Error("GetCurrentConfig should return a copy")
	}
}

// TestCreateSimulationForTesting verifies the simulated socket tunnels through the relay
func TestCreateSimulationForTesting(t *testing.T) {
	clearEnv(t)

	relay, err := testsim.NewSimulatedRelay()
	if err != nil {
		t.Fatalf("NewSimulatedRelay failed: %v", err)
	}
	defer relay.Close()

	sock, dialer := NewSocketFactory().CreateSimulationForTesting(relay)
	if err := sock.Bind(netip.MustParseAddrPort("127.0.0.1:0")); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	defer sock.Close()

	peer, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP failed: %v", err)
	}
	defer peer.Close()
	peerEP := peer.LocalAddr().(*net.UDPAddr).AddrPort()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sock.ConnectProxy(ctx); err != nil {
		t.Fatalf("ConnectProxy failed: %v", err)
	}
	if err := sock.Send(peerEP, []byte("hello"), 0); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	buf := make([]byte, 64)
	if err := peer.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatal(err)
	}
	n, from, err := peer.ReadFromUDPAddrPort(buf)
	if err != nil {
		t.Fatalf("peer read failed: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Errorf("expected hello, got %q", buf[:n])
	}
	if from != relay.Endpoint() {
		t.Errorf("datagram should arrive from the relay %s, got %s", relay.Endpoint(), from)
	}

	if dialer.Dials() != 1 {
		t.Errorf("expected one tunnel dial, got %d", dialer.Dials())
	}
	if got := dialer.LastTunnel().Count("wrap"); got != 1 {
		t.Errorf("expected one wrap, got %d", got)
	}
}

// TestCreateTCPDialer verifies the TCP dialer follows the default proxy
func TestCreateTCPDialer(t *testing.T) {
	clearEnv(t)
	factory := NewSocketFactory()

	d, err := factory.CreateTCPDialer()
	if err != nil {
		t.Fatalf("CreateTCPDialer failed: %v", err)
	}
	if d != proxy.Direct {
		t.Errorf("expected proxy.Direct without a proxy, got %T", d)
	}

	cfg := interfaces.DefaultSocketConfig()
	cfg.Proxy = interfaces.ProxySettings{Kind: interfaces.ProxySOCKS5, Hostname: "127.0.0.1", Port: 1080}
	if err := factory.UpdateConfig(cfg); err != nil {
		t.Fatal(err)
	}
	d, err = factory.CreateTCPDialer()
	if err != nil {
		t.Fatalf("CreateTCPDialer failed: %v", err)
	}
	if d == proxy.Direct {
		t.Error("expected a SOCKS5 dialer once a proxy is configured")
	}
}
