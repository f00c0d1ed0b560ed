// Command udpsock drives a UDP socket from the command line: an echo responder
// and a sender, both optionally tunnelled through a SOCKS5 proxy.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/opd-ai/udpsocket/factory"
	"github.com/opd-ai/udpsocket/interfaces"
	"github.com/opd-ai/udpsocket/transport"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	logLevel string

	proxyType      string
	proxyHost      string
	proxyPort      uint16
	proxyUser      string
	proxyPassword  string
	proxyHostnames bool
	forceProxy     bool
	proxyTimeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "udpsock",
	Short:         "Exercise a proxy-aware UDP socket",
	Long:          "Run an echo responder or send datagrams over a single UDP socket, optionally through a SOCKS5 UDP relay.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid --log-level: %w", err)
		}
		logrus.SetLevel(level)
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	pf.StringVar(&proxyType, "proxy-type", "", "Proxy type: none, socks5, socks5_pw, ... (default from UDPSOCK_PROXY_TYPE)")
	pf.StringVar(&proxyHost, "proxy-host", "", "Proxy server host")
	pf.Uint16Var(&proxyPort, "proxy-port", 1080, "Proxy server port")
	pf.StringVar(&proxyUser, "proxy-user", "", "Proxy username")
	pf.StringVar(&proxyPassword, "proxy-password", "", "Proxy password")
	pf.BoolVar(&proxyHostnames, "proxy-hostnames", true, "Let the proxy resolve hostname targets")
	pf.BoolVar(&forceProxy, "force-proxy", false, "Fail instead of sending directly when the proxy is unavailable")
	pf.DurationVar(&proxyTimeout, "proxy-timeout", 0, "Tunnel establishment timeout (default from UDPSOCK_PROXY_TIMEOUT)")

	rootCmd.AddCommand(echoCmd)
	rootCmd.AddCommand(sendCmd)
}

// socketOptions turns the proxy flags the user set into factory options on top
// of the environment defaults.
func socketOptions(cmd *cobra.Command, base *interfaces.SocketConfig) ([]factory.ConfigOption, error) {
	var opts []factory.ConfigOption
	flags := cmd.Flags()

	if flags.Changed("force-proxy") {
		opts = append(opts, factory.WithForceProxy(forceProxy))
	}
	if flags.Changed("proxy-timeout") {
		opts = append(opts, factory.WithProxyTimeout(proxyTimeout))
	}

	settings := base.Proxy
	changed := false
	if flags.Changed("proxy-type") {
		kind, err := interfaces.ParseProxyKind(proxyType)
		if err != nil {
			return nil, err
		}
		settings.Kind = kind
		changed = true
	}
	for name, apply := range map[string]func(){
		"proxy-host":     func() { settings.Hostname = proxyHost },
		"proxy-port":     func() { settings.Port = proxyPort },
		"proxy-user":     func() { settings.Username = proxyUser },
		"proxy-password": func() { settings.Password = proxyPassword },
	} {
		if flags.Changed(name) {
			apply()
			changed = true
		}
	}
	// Flag defaults only fill in a proxy that came from the command line.
	if changed && !base.Proxy.Enabled() {
		if settings.Port == 0 {
			settings.Port = proxyPort
		}
		settings.ProxyHostnames = proxyHostnames
	}
	if flags.Changed("proxy-hostnames") {
		settings.ProxyHostnames = proxyHostnames
		changed = true
	}
	if changed {
		opts = append(opts, factory.WithProxy(settings))
	}
	return opts, nil
}

// openSocket creates and binds a socket at listen, then establishes the proxy
// tunnel when one is configured.
func openSocket(ctx context.Context, cmd *cobra.Command, listen string) (*transport.UDPSocket, error) {
	f := factory.NewSocketFactory()
	opts, err := socketOptions(cmd, f.GetCurrentConfig())
	if err != nil {
		return nil, err
	}
	sock, err := f.CreateSocket(opts...)
	if err != nil {
		return nil, err
	}

	ep, err := parseListen(listen)
	if err != nil {
		return nil, err
	}
	if err := sock.Bind(ep); err != nil {
		return nil, err
	}

	local, _ := sock.LocalEndpoint()
	logrus.WithFields(logrus.Fields{
		"function":   "openSocket",
		"local_addr": local.String(),
		"proxy_type": sock.ProxySettings().Kind.String(),
	}).Info("Socket bound")

	if sock.ProxySettings().Kind.SupportsUDP() {
		if err := sock.ConnectProxy(ctx); err != nil {
			sock.Close()
			return nil, fmt.Errorf("proxy: %w", err)
		}
	}
	return sock, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "udpsock: %v\n", err)
		os.Exit(1)
	}
}
