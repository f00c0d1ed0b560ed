package main

import (
	"net/netip"
	"testing"

	"github.com/opd-ai/udpsocket/interfaces"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in   string
		want target
		ok   bool
	}{
		{"127.0.0.1:6881", target{ep: netip.MustParseAddrPort("127.0.0.1:6881")}, true},
		{"[::ffff:10.0.0.1]:80", target{ep: netip.MustParseAddrPort("10.0.0.1:80")}, true},
		{"[2001:db8::1]:6969", target{ep: netip.MustParseAddrPort("[2001:db8::1]:6969")}, true},
		{"tracker.example.org:6969", target{host: "tracker.example.org", port: 6969}, true},
		{"tracker.example.org", target{}, false},
		{"tracker.example.org:99999", target{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseTarget(tt.in)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// flagCommand returns a command carrying the root persistent flags, parsed from args.
func flagCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().AddFlagSet(rootCmd.PersistentFlags())
	require.NoError(t, cmd.Flags().Parse(args))
	t.Cleanup(func() {
		cmd.Flags().Visit(func(f *pflag.Flag) {
			f.Value.Set(f.DefValue)
			f.Changed = false
		})
	})
	return cmd
}

func TestSocketOptionsFromFlags(t *testing.T) {
	t.Run("no flags", func(t *testing.T) {
		cmd := flagCommand(t)
		opts, err := socketOptions(cmd, interfaces.DefaultSocketConfig())
		require.NoError(t, err)
		assert.Empty(t, opts)
	})

	t.Run("proxy from flags", func(t *testing.T) {
		cmd := flagCommand(t, "--proxy-type", "socks5", "--proxy-host", "127.0.0.1", "--force-proxy")
		opts, err := socketOptions(cmd, interfaces.DefaultSocketConfig())
		require.NoError(t, err)

		cfg := interfaces.DefaultSocketConfig()
		for _, opt := range opts {
			opt(cfg)
		}
		assert.True(t, cfg.ForceProxy)
		assert.Equal(t, interfaces.ProxySOCKS5, cfg.Proxy.Kind)
		assert.Equal(t, "127.0.0.1:1080", cfg.Proxy.Address())
		assert.True(t, cfg.Proxy.ProxyHostnames)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("unknown proxy type", func(t *testing.T) {
		cmd := flagCommand(t, "--proxy-type", "carrier-pigeon")
		_, err := socketOptions(cmd, interfaces.DefaultSocketConfig())
		assert.ErrorIs(t, err, interfaces.ErrUnknownProxyKind)
	})
}
