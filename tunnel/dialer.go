package tunnel

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/opd-ai/udpsocket/interfaces"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// Dialer establishes SOCKS5 UDP associations. It satisfies interfaces.TunnelDialer.
type Dialer struct {
	// Forward dials the TCP control connection to the proxy. Defaults to proxy.Direct.
	Forward proxy.ContextDialer
}

var _ interfaces.TunnelDialer = (*Dialer)(nil)

// NewDialer returns a Dialer that reaches the proxy directly.
func NewDialer() *Dialer {
	return &Dialer{Forward: proxy.Direct}
}

// DialTunnel establishes a UDP association with the proxy in settings.
func (d *Dialer) DialTunnel(ctx context.Context, settings interfaces.ProxySettings) (interfaces.Tunnel, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if !settings.Kind.SupportsUDP() {
		return nil, fmt.Errorf("%w: %s cannot relay udp", ErrUnsupportedKind, settings.Kind)
	}
	return Associate(ctx, d.Forward, settings)
}

// proxyAuth returns the credentials in settings, or nil when none are configured.
func proxyAuth(settings interfaces.ProxySettings) *proxy.Auth {
	if settings.Username == "" && settings.Password == "" {
		return nil
	}
	return &proxy.Auth{
		User:     settings.Username,
		Password: settings.Password,
	}
}

// NewTCPDialer returns a dialer that opens TCP connections (peer-wire, HTTP
// trackers) through the proxy in settings, so TCP traffic follows the same proxy
// as the UDP socket. ProxyNone returns proxy.Direct.
func NewTCPDialer(settings interfaces.ProxySettings, forward proxy.Dialer) (proxy.Dialer, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if forward == nil {
		forward = proxy.Direct
	}

	proxyAddr := settings.Address()

	logrus.WithFields(logrus.Fields{
		"function":   "NewTCPDialer",
		"proxy_type": settings.Kind.String(),
		"proxy_addr": proxyAddr,
	}).Debug("Creating TCP proxy dialer")

	switch settings.Kind {
	case interfaces.ProxyNone:
		return proxy.Direct, nil

	case interfaces.ProxySOCKS5, interfaces.ProxySOCKS5Password:
		dialer, err := proxy.SOCKS5("tcp", proxyAddr, proxyAuth(settings), forward)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "NewTCPDialer",
				"proxy_addr": proxyAddr,
				"error":      err.Error(),
			}).Error("Failed to create SOCKS5 dialer")
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		return dialer, nil

	case interfaces.ProxyHTTP, interfaces.ProxyHTTPPassword:
		var userInfo *url.Userinfo
		if settings.Username != "" {
			if settings.Password != "" {
				userInfo = url.UserPassword(settings.Username, settings.Password)
			} else {
				userInfo = url.User(settings.Username)
			}
		}
		return &httpProxyDialer{
			proxyURL: &url.URL{Scheme: "http", Host: proxyAddr, User: userInfo},
			forward:  forward,
		}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, settings.Kind)
	}
}

// httpProxyDialer implements the proxy.Dialer interface for HTTP CONNECT proxies.
type httpProxyDialer struct {
	proxyURL *url.URL
	forward  proxy.Dialer
}

// connectTimeout bounds the CONNECT exchange with the proxy.
const connectTimeout = 10 * time.Second

// Dial connects to the address via HTTP CONNECT proxy.
func (d *httpProxyDialer) Dial(network, addr string) (net.Conn, error) {
	if network != "tcp" && network != "tcp4" && network != "tcp6" {
		return nil, fmt.Errorf("%w: HTTP CONNECT cannot carry %s", ErrUnsupportedKind, network)
	}

	proxyConn, err := d.forward.Dial("tcp", d.proxyURL.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to proxy: %w", err)
	}

	connectReq := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if d.proxyURL.User != nil {
		password, _ := d.proxyURL.User.Password()
		connectReq.SetBasicAuth(d.proxyURL.User.Username(), password)
		connectReq.Header.Set("Proxy-Authorization", connectReq.Header.Get("Authorization"))
		connectReq.Header.Del("Authorization")
	}

	if err := proxyConn.SetDeadline(time.Now().Add(connectTimeout)); err != nil {
		proxyConn.Close()
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}
	if err := connectReq.Write(proxyConn); err != nil {
		proxyConn.Close()
		return nil, fmt.Errorf("failed to write CONNECT request: %w", err)
	}

	br := bufio.NewReader(proxyConn)
	resp, err := http.ReadResponse(br, connectReq)
	if err != nil {
		proxyConn.Close()
		return nil, fmt.Errorf("failed to read CONNECT response: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		proxyConn.Close()
		return nil, fmt.Errorf("proxy returned non-200 status: %s", resp.Status)
	}
	if err := proxyConn.SetDeadline(time.Time{}); err != nil {
		proxyConn.Close()
		return nil, err
	}
	if br.Buffered() > 0 {
		return &bufferedConn{Conn: proxyConn, r: br}, nil
	}
	return proxyConn, nil
}

// bufferedConn returns bytes the proxy sent right after its CONNECT response
// before reading from the connection again.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}
