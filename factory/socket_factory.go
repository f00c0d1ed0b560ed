package factory

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/opd-ai/udpsocket/interfaces"
	"github.com/opd-ai/udpsocket/limits"
	"github.com/opd-ai/udpsocket/testing"
	"github.com/opd-ai/udpsocket/transport"
	"github.com/opd-ai/udpsocket/tunnel"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// Validation constants for configuration bounds checking.
const (
	// MinProxyTimeout is the minimum allowed proxy timeout in milliseconds.
	MinProxyTimeout = 100
	// MaxProxyTimeout is the maximum allowed proxy timeout in milliseconds (10 minutes).
	MaxProxyTimeout = 600000
	// MinSendQueueLimit is the minimum allowed send queue limit.
	MinSendQueueLimit = 0
	// MaxSendQueueLimit is the maximum allowed send queue limit.
	MaxSendQueueLimit = 65536
)

// SocketFactory creates UDP sockets from a default configuration.
// It is safe for concurrent use; all methods are protected by an internal mutex.
type SocketFactory struct {
	mu            sync.RWMutex
	defaultConfig *interfaces.SocketConfig
	dialer        interfaces.TunnelDialer
}

// ConfigOption is a functional option applied on top of the factory defaults.
type ConfigOption func(*interfaces.SocketConfig)

// NewSocketFactory creates a new factory with default configuration
func NewSocketFactory() *SocketFactory {
	defaultConfig := createDefaultConfig()
	applyEnvironmentOverrides(defaultConfig)
	logConfigurationInfo(defaultConfig)

	return &SocketFactory{
		defaultConfig: defaultConfig,
		dialer:        tunnel.NewDialer(),
	}
}

// createDefaultConfig initializes the default socket configuration.
//
// Default Value Rationale:
//   - MaxPacketSize: 1500 - Ethernet MTU, which every peer-wire and DHT datagram fits in
//   - SendQueueLimit: 256 - Absorbs a short burst while the socket buffer drains
//   - ProxyTimeout: 10000ms - Allows a SOCKS5 handshake over a slow link
//   - ForceProxy: false - Traffic only goes through a proxy once one is configured
func createDefaultConfig() *interfaces.SocketConfig {
	return interfaces.DefaultSocketConfig()
}

// applyEnvironmentOverrides updates configuration based on environment variables.
// It checks for UDPSOCK_* environment variables and overrides defaults if valid values are found.
func applyEnvironmentOverrides(config *interfaces.SocketConfig) {
	parsePacketSizeSetting(config)
	parseIntSetting("UDPSOCK_SEND_QUEUE_LIMIT", MinSendQueueLimit, MaxSendQueueLimit, &config.SendQueueLimit)
	parseTimeoutSetting(config)
	parseBoolSetting("UDPSOCK_FORCE_PROXY", &config.ForceProxy)
	parseProxySettings(config)
}

// parsePacketSizeSetting updates MaxPacketSize from UDPSOCK_MAX_PACKET_SIZE.
// The value must pass limits.ValidatePacketSize.
func parsePacketSizeSetting(config *interfaces.SocketConfig) {
	sizeStr := os.Getenv("UDPSOCK_MAX_PACKET_SIZE")
	if sizeStr == "" {
		return
	}
	size, err := strconv.Atoi(sizeStr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "parsePacketSizeSetting",
			"env_var":     "UDPSOCK_MAX_PACKET_SIZE",
			"value":       sizeStr,
			"error":       err.Error(),
			"using_value": config.MaxPacketSize,
		}).Warn("Failed to parse UDPSOCK_MAX_PACKET_SIZE environment variable, using default")
		return
	}
	if err := limits.ValidatePacketSize(size); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "parsePacketSizeSetting",
			"env_var":     "UDPSOCK_MAX_PACKET_SIZE",
			"value":       size,
			"error":       err.Error(),
			"using_value": config.MaxPacketSize,
		}).Warn("UDPSOCK_MAX_PACKET_SIZE value out of bounds, using default")
		return
	}
	config.MaxPacketSize = size
}

// parseTimeoutSetting updates ProxyTimeout from UDPSOCK_PROXY_TIMEOUT, given in
// milliseconds within [MinProxyTimeout, MaxProxyTimeout].
func parseTimeoutSetting(config *interfaces.SocketConfig) {
	timeoutMs := int(config.ProxyTimeout / time.Millisecond)
	if parseIntSetting("UDPSOCK_PROXY_TIMEOUT", MinProxyTimeout, MaxProxyTimeout, &timeoutMs) {
		config.ProxyTimeout = time.Duration(timeoutMs) * time.Millisecond
	}
}

// parseIntSetting parses envVar into dst when it holds an integer within [lo, hi].
// It reports whether dst was updated.
func parseIntSetting(envVar string, lo, hi int, dst *int) bool {
	str := os.Getenv(envVar)
	if str == "" {
		return false
	}
	value, err := strconv.Atoi(str)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "parseIntSetting",
			"env_var":     envVar,
			"value":       str,
			"error":       err.Error(),
			"using_value": *dst,
		}).Warn("Failed to parse " + envVar + " environment variable, using default")
		return false
	}
	if value < lo || value > hi {
		logrus.WithFields(logrus.Fields{
			"function":    "parseIntSetting",
			"env_var":     envVar,
			"value":       value,
			"min":         lo,
			"max":         hi,
			"using_value": *dst,
		}).Warn(envVar + " value out of bounds, using default")
		return false
	}
	*dst = value
	return true
}

// parseBoolSetting parses envVar into dst. A malformed value leaves dst unchanged.
func parseBoolSetting(envVar string, dst *bool) {
	str := os.Getenv(envVar)
	if str == "" {
		return
	}
	value, err := strconv.ParseBool(str)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "parseBoolSetting",
			"env_var":     envVar,
			"value":       str,
			"error":       err.Error(),
			"using_value": *dst,
		}).Warn("Failed to parse " + envVar + " environment variable, using default")
		return
	}
	*dst = value
}

// parseProxySettings reads the UDPSOCK_PROXY_* variables. The proxy settings are
// only taken over when they validate as a whole.
func parseProxySettings(config *interfaces.SocketConfig) {
	settings := config.Proxy

	if kindStr := os.Getenv("UDPSOCK_PROXY_TYPE"); kindStr != "" {
		kind, err := interfaces.ParseProxyKind(kindStr)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":    "parseProxySettings",
				"env_var":     "UDPSOCK_PROXY_TYPE",
				"value":       kindStr,
				"error":       err.Error(),
				"using_value": settings.Kind.String(),
			}).Warn("Failed to parse UDPSOCK_PROXY_TYPE environment variable, using default")
			return
		}
		settings.Kind = kind
	}
	if host := os.Getenv("UDPSOCK_PROXY_HOST"); host != "" {
		settings.Hostname = host
	}
	port := int(settings.Port)
	if parseIntSetting("UDPSOCK_PROXY_PORT", 1, 65535, &port) {
		settings.Port = uint16(port)
	}
	if user := os.Getenv("UDPSOCK_PROXY_USER"); user != "" {
		settings.Username = user
	}
	if password := os.Getenv("UDPSOCK_PROXY_PASSWORD"); password != "" {
		settings.Password = password
	}
	parseBoolSetting("UDPSOCK_PROXY_PEERS", &settings.ProxyPeerConnections)
	parseBoolSetting("UDPSOCK_PROXY_TRACKERS", &settings.ProxyTrackerConnections)
	parseBoolSetting("UDPSOCK_PROXY_HOSTNAMES", &settings.ProxyHostnames)

	if err := settings.Validate(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "parseProxySettings",
			"proxy_type":  settings.Kind.String(),
			"error":       err.Error(),
			"using_value": config.Proxy.Kind.String(),
		}).Warn("Incomplete proxy environment variables, using default")
		return
	}
	config.Proxy = settings
}

// logConfigurationInfo logs the final configuration settings for debugging purposes.
func logConfigurationInfo(config *interfaces.SocketConfig) {
	logrus.WithFields(logrus.Fields{
		"function":        "NewSocketFactory",
		"max_packet_size": config.MaxPacketSize,
		"send_queue":      config.SendQueueLimit,
		"proxy_timeout":   config.ProxyTimeout.String(),
		"force_proxy":     config.ForceProxy,
		"proxy_type":      config.Proxy.Kind.String(),
		"proxy_addr":      proxyAddrForLog(config.Proxy),
	}).Info("Created socket factory with configuration")
}

func proxyAddrForLog(p interfaces.ProxySettings) string {
	if !p.Enabled() {
		return ""
	}
	return p.Address()
}

// WithMaxPacketSize sets the receive slot size.
func WithMaxPacketSize(size int) ConfigOption {
	return func(c *interfaces.SocketConfig) {
		c.MaxPacketSize = size
	}
}

// WithSendQueueLimit sets the number of datagrams queued while the socket is not writable.
func WithSendQueueLimit(limit int) ConfigOption {
	return func(c *interfaces.SocketConfig) {
		c.SendQueueLimit = limit
	}
}

// WithProxyTimeout bounds tunnel establishment.
func WithProxyTimeout(timeout time.Duration) ConfigOption {
	return func(c *interfaces.SocketConfig) {
		c.ProxyTimeout = timeout
	}
}

// WithForceProxy routes every send through the tunnel.
func WithForceProxy(force bool) ConfigOption {
	return func(c *interfaces.SocketConfig) {
		c.ForceProxy = force
	}
}

// WithProxy sets the proxy settings.
func WithProxy(settings interfaces.ProxySettings) ConfigOption {
	return func(c *interfaces.SocketConfig) {
		c.Proxy = settings
	}
}

// SetTunnelDialer replaces the dialer handed to created sockets.
func (f *SocketFactory) SetTunnelDialer(d interfaces.TunnelDialer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialer = d
}

// configWith returns a copy of the default configuration with opts applied.
func (f *SocketFactory) configWith(opts []ConfigOption) (*interfaces.SocketConfig, interfaces.TunnelDialer) {
	f.mu.RLock()
	config := f.defaultConfig.Clone()
	dialer := f.dialer
	f.mu.RUnlock()

	for _, opt := range opts {
		opt(config)
	}
	return config, dialer
}

// CreateSocket creates an unbound socket from the default configuration with
// opts applied.
func (f *SocketFactory) CreateSocket(opts ...ConfigOption) (*transport.UDPSocket, error) {
	config, dialer := f.configWith(opts)
	return f.CreateSocketWithConfig(config, dialer)
}

// CreateSocketWithConfig creates an unbound socket with a custom configuration.
// A nil dialer selects the SOCKS5 dialer.
func (f *SocketFactory) CreateSocketWithConfig(config *interfaces.SocketConfig, dialer interfaces.TunnelDialer) (*transport.UDPSocket, error) {
	if config == nil {
		f.mu.RLock()
		config = f.defaultConfig.Clone()
		f.mu.RUnlock()
	}
	if err := config.Validate(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "CreateSocketWithConfig",
			"error":    err.Error(),
		}).Error("Rejected socket configuration")
		return nil, fmt.Errorf("invalid socket configuration: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":        "CreateSocketWithConfig",
		"max_packet_size": config.MaxPacketSize,
		"send_queue":      config.SendQueueLimit,
		"proxy_type":      config.Proxy.Kind.String(),
		"force_proxy":     config.ForceProxy,
	}).Info("Creating UDP socket")

	return transport.NewUDPSocket(
		transport.WithConfig(config),
		transport.WithTunnelDialer(dialer),
	), nil
}

// CreateSimulationForTesting creates a socket whose tunnels are recording
// tunnels relaying through relay. No proxy server is contacted.
// Default test configuration uses: ProxyTimeout=1000ms, SendQueueLimit=16, a
// SOCKS5 proxy at relay with every traffic class proxied.
func (f *SocketFactory) CreateSimulationForTesting(relay *testing.SimulatedRelay, opts ...ConfigOption) (*transport.UDPSocket, *testing.RecordingDialer) {
	endpoint := relay.Endpoint()
	testConfig := interfaces.DefaultSocketConfig()
	testConfig.ProxyTimeout = 1000 * time.Millisecond
	testConfig.SendQueueLimit = 16
	testConfig.Proxy = interfaces.ProxySettings{
		Kind:                    interfaces.ProxySOCKS5,
		Hostname:                endpoint.Addr().String(),
		Port:                    endpoint.Port(),
		ProxyPeerConnections:    true,
		ProxyTrackerConnections: true,
		ProxyHostnames:          true,
	}

	for _, opt := range opts {
		opt(testConfig)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "CreateSimulationForTesting",
		"relay_addr":  endpoint.String(),
		"force_proxy": testConfig.ForceProxy,
	}).Info("Creating simulated socket for testing")

	dialer := relay.Dialer()
	return transport.NewUDPSocket(
		transport.WithConfig(testConfig),
		transport.WithTunnelDialer(dialer),
	), dialer
}

// CreateTCPDialer returns a dialer that sends TCP connections through the
// default proxy, so peer-wire and HTTP tracker connections follow the same
// proxy as the UDP socket.
func (f *SocketFactory) CreateTCPDialer() (proxy.Dialer, error) {
	f.mu.RLock()
	settings := f.defaultConfig.Proxy
	f.mu.RUnlock()
	return tunnel.NewTCPDialer(settings, nil)
}

// GetCurrentConfig returns a copy of the current default configuration
func (f *SocketFactory) GetCurrentConfig() *interfaces.SocketConfig {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.defaultConfig.Clone()
}

// UpdateConfig validates config and makes it the factory's default configuration
func (f *SocketFactory) UpdateConfig(config *interfaces.SocketConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid socket configuration: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":        "UpdateConfig",
		"old_packet_size": f.defaultConfig.MaxPacketSize,
		"new_packet_size": config.MaxPacketSize,
		"old_proxy_type":  f.defaultConfig.Proxy.Kind.String(),
		"new_proxy_type":  config.Proxy.Kind.String(),
	}).Info("Updating factory configuration")

	f.defaultConfig = config.Clone()

	logrus.WithFields(logrus.Fields{
		"function": "UpdateConfig",
		"updated":  true,
	}).Info("Factory configuration updated successfully")

	return nil
}
