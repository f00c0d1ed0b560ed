package interfaces

import (
	"errors"
	"fmt"
	"time"

	"github.com/opd-ai/udpsocket/limits"
)

// Validation errors for SocketConfig and ProxySettings.
var (
	// ErrInvalidPacketSize indicates a receive slot size outside the accepted range
	ErrInvalidPacketSize = errors.New("invalid packet size")

	// ErrInvalidQueueLimit indicates a negative send queue limit
	ErrInvalidQueueLimit = errors.New("send queue limit cannot be negative")

	// ErrInvalidTimeout indicates a non-positive proxy timeout
	ErrInvalidTimeout = errors.New("proxy timeout must be positive")

	// ErrUnknownProxyKind indicates an unrecognised proxy kind
	ErrUnknownProxyKind = errors.New("unknown proxy kind")

	// ErrProxyHostEmpty indicates a proxy kind without a server hostname
	ErrProxyHostEmpty = errors.New("proxy hostname cannot be empty")

	// ErrProxyPortZero indicates a proxy kind without a server port
	ErrProxyPortZero = errors.New("proxy port cannot be zero")

	// ErrProxyCredentials indicates an authenticating proxy kind without a username
	ErrProxyCredentials = errors.New("proxy kind requires a username")
)

// SocketConfig holds tunables for a UDP socket.
type SocketConfig struct {
	// MaxPacketSize is the receive slot size per datagram in a batch.
	MaxPacketSize int

	// SendQueueLimit is the number of datagrams buffered while the socket is not
	// writable. Zero disables queueing: every would-block send fails.
	SendQueueLimit int

	// ProxyTimeout bounds the SOCKS5 handshake of a lazily established tunnel.
	ProxyTimeout time.Duration

	// ForceProxy routes every send through the tunnel.
	ForceProxy bool

	// Proxy holds the initial proxy settings.
	Proxy ProxySettings
}

// DefaultSocketConfig returns the built-in defaults.
func DefaultSocketConfig() *SocketConfig {
	return &SocketConfig{
		MaxPacketSize:  limits.DefaultPacketSize,
		SendQueueLimit: limits.DefaultSendQueueLimit,
		ProxyTimeout:   10 * time.Second,
	}
}

// Validate checks the configuration values.
func (c *SocketConfig) Validate() error {
	if err := limits.ValidatePacketSize(c.MaxPacketSize); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPacketSize, err)
	}
	if c.SendQueueLimit < 0 {
		return ErrInvalidQueueLimit
	}
	if c.ProxyTimeout <= 0 {
		return ErrInvalidTimeout
	}
	return c.Proxy.Validate()
}

// Clone returns a copy of the configuration.
func (c *SocketConfig) Clone() *SocketConfig {
	clone := *c
	return &clone
}
