package interfaces

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ProxyKind identifies the type of proxy a socket routes traffic through.
type ProxyKind uint8

const (
	// ProxyNone disables proxying.
	ProxyNone ProxyKind = iota
	// ProxySOCKS4 is a SOCKS4 proxy. It cannot relay UDP.
	ProxySOCKS4
	// ProxySOCKS5 is a SOCKS5 proxy without authentication.
	ProxySOCKS5
	// ProxySOCKS5Password is a SOCKS5 proxy with username/password authentication.
	ProxySOCKS5Password
	// ProxyHTTP is an HTTP CONNECT proxy. It cannot relay UDP.
	ProxyHTTP
	// ProxyHTTPPassword is an HTTP CONNECT proxy with basic authentication.
	ProxyHTTPPassword
	// ProxyI2P is an I2P SAM bridge. It cannot relay UDP datagrams to IP endpoints.
	ProxyI2P
)

var proxyKindNames = map[ProxyKind]string{
	ProxyNone:           "none",
	ProxySOCKS4:         "socks4",
	ProxySOCKS5:         "socks5",
	ProxySOCKS5Password: "socks5_pw",
	ProxyHTTP:           "http",
	ProxyHTTPPassword:   "http_pw",
	ProxyI2P:            "i2p",
}

// String returns the configuration name of the proxy kind.
func (k ProxyKind) String() string {
	if name, ok := proxyKindNames[k]; ok {
		return name
	}
	return "unknown(" + strconv.Itoa(int(k)) + ")"
}

// ParseProxyKind parses a configuration name such as "socks5" or "http_pw".
func ParseProxyKind(s string) (ProxyKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for kind, name := range proxyKindNames {
		if name == s {
			return kind, nil
		}
	}
	return ProxyNone, fmt.Errorf("%w: %q", ErrUnknownProxyKind, s)
}

// SupportsUDP reports whether the proxy can relay UDP datagrams (SOCKS5 UDP ASSOCIATE).
func (k ProxyKind) SupportsUDP() bool {
	return k == ProxySOCKS5 || k == ProxySOCKS5Password
}

// ResolvesHostnames reports whether UDP datagrams addressed by hostname can be handed
// to the proxy for resolution.
func (k ProxyKind) ResolvesHostnames() bool {
	return k.SupportsUDP()
}

// RequiresCredentials reports whether the kind authenticates with username and password.
func (k ProxyKind) RequiresCredentials() bool {
	return k == ProxySOCKS5Password || k == ProxyHTTPPassword
}

// ProxySettings describes the proxy a socket routes traffic through and which
// traffic classes must use it.
type ProxySettings struct {
	Kind     ProxyKind
	Hostname string
	Port     uint16
	Username string
	Password string

	// ProxyPeerConnections routes peer-wire datagrams through the proxy.
	ProxyPeerConnections bool

	// ProxyTrackerConnections routes tracker announces through the proxy.
	ProxyTrackerConnections bool

	// ProxyHostnames lets the proxy resolve hostnames for hostname-addressed sends.
	ProxyHostnames bool
}

// Address returns the proxy server address in host:port form.
func (p ProxySettings) Address() string {
	return net.JoinHostPort(p.Hostname, strconv.Itoa(int(p.Port)))
}

// Enabled reports whether a proxy is configured at all.
func (p ProxySettings) Enabled() bool {
	return p.Kind != ProxyNone
}

// Identity returns a key that changes whenever a different proxy session would be
// needed: kind, server address or credentials.
func (p ProxySettings) Identity() string {
	if !p.Enabled() {
		return ""
	}
	return p.Kind.String() + "|" + p.Address() + "|" + p.Username + "|" + p.Password
}

// Validate checks the settings for internal consistency.
func (p ProxySettings) Validate() error {
	if !p.Enabled() {
		return nil
	}
	if _, ok := proxyKindNames[p.Kind]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownProxyKind, p.Kind)
	}
	if p.Hostname == "" {
		return ErrProxyHostEmpty
	}
	if p.Port == 0 {
		return ErrProxyPortZero
	}
	if p.Kind.RequiresCredentials() && p.Username == "" {
		return ErrProxyCredentials
	}
	return nil
}
