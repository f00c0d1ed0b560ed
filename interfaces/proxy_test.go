package interfaces

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProxyKindRoundTrip(t *testing.T) {
	for kind, name := range proxyKindNames {
		parsed, err := ParseProxyKind(name)
		require.NoError(t, err)
		assert.Equal(t, kind, parsed)
		assert.Equal(t, name, kind.String())
	}

	parsed, err := ParseProxyKind("  SOCKS5_PW ")
	require.NoError(t, err)
	assert.Equal(t, ProxySOCKS5Password, parsed)

	_, err = ParseProxyKind("socks6")
	assert.ErrorIs(t, err, ErrUnknownProxyKind)

	assert.Equal(t, "unknown(42)", ProxyKind(42).String())
}

func TestProxyKindCapabilities(t *testing.T) {
	tests := []struct {
		kind        ProxyKind
		udp         bool
		credentials bool
	}{
		{ProxyNone, false, false},
		{ProxySOCKS4, false, false},
		{ProxySOCKS5, true, false},
		{ProxySOCKS5Password, true, true},
		{ProxyHTTP, false, false},
		{ProxyHTTPPassword, false, true},
		{ProxyI2P, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.udp, tt.kind.SupportsUDP())
			assert.Equal(t, tt.udp, tt.kind.ResolvesHostnames())
			assert.Equal(t, tt.credentials, tt.kind.RequiresCredentials())
		})
	}
}

func TestProxySettingsIdentity(t *testing.T) {
	base := ProxySettings{Kind: ProxySOCKS5, Hostname: "10.0.0.1", Port: 1080}

	assert.Equal(t, "", ProxySettings{}.Identity())
	assert.Equal(t, "10.0.0.1:1080", base.Address())

	toggled := base
	toggled.ProxyPeerConnections = true
	toggled.ProxyHostnames = true
	assert.Equal(t, base.Identity(), toggled.Identity(), "class toggles must not change identity")

	moved := base
	moved.Port = 1081
	assert.NotEqual(t, base.Identity(), moved.Identity())

	authed := base
	authed.Kind = ProxySOCKS5Password
	authed.Username = "user"
	assert.NotEqual(t, base.Identity(), authed.Identity())

	v6 := ProxySettings{Kind: ProxySOCKS5, Hostname: "::1", Port: 1080}
	assert.Equal(t, "[::1]:1080", v6.Address())
}

func TestProxySettingsValidate(t *testing.T) {
	tests := []struct {
		name     string
		settings ProxySettings
		wantErr  error
	}{
		{"disabled", ProxySettings{}, nil},
		{"socks5", ProxySettings{Kind: ProxySOCKS5, Hostname: "proxy", Port: 1080}, nil},
		{"missing host", ProxySettings{Kind: ProxySOCKS5, Port: 1080}, ErrProxyHostEmpty},
		{"missing port", ProxySettings{Kind: ProxySOCKS5, Hostname: "proxy"}, ErrProxyPortZero},
		{"missing user", ProxySettings{Kind: ProxySOCKS5Password, Hostname: "proxy", Port: 1080}, ErrProxyCredentials},
		{"unknown kind", ProxySettings{Kind: ProxyKind(99), Hostname: "proxy", Port: 1080}, ErrUnknownProxyKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.settings.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "expected %v, got %v", tt.wantErr, err)
		})
	}
}
