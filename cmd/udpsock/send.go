package main

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/opd-ai/udpsocket/transport"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	sendListen  string
	sendCount   int
	sendWait    time.Duration
	sendPeer    bool
	sendTracker bool
)

var sendCmd = &cobra.Command{
	Use:   "send <host:port> <message>",
	Short: "Send datagrams to a target and print the replies",
	Long:  "Send a message to an IP endpoint, or to a hostname resolved by the SOCKS5 proxy, and print every reply received within --wait.",
	Args:  cobra.ExactArgs(2),
	RunE:  runSend,
}

func init() {
	f := sendCmd.Flags()
	f.StringVarP(&sendListen, "listen", "l", "0.0.0.0:0", "Local endpoint to bind")
	f.IntVarP(&sendCount, "count", "n", 1, "Number of datagrams to send")
	f.DurationVarP(&sendWait, "wait", "w", 2*time.Second, "How long to wait for replies")
	f.BoolVar(&sendPeer, "peer", false, "Mark datagrams as peer-wire traffic")
	f.BoolVar(&sendTracker, "tracker", false, "Mark datagrams as tracker traffic")
}

// target is either an IP endpoint or a hostname for the proxy to resolve.
type target struct {
	ep   netip.AddrPort
	host string
	port uint16
}

func parseTarget(s string) (target, error) {
	if ep, err := netip.ParseAddrPort(s); err == nil {
		return target{ep: netip.AddrPortFrom(ep.Addr().Unmap(), ep.Port())}, nil
	}
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return target{}, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return target{}, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return target{host: host, port: uint16(port)}, nil
}

func parseListen(s string) (netip.AddrPort, error) {
	ep, err := netip.ParseAddrPort(s)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid listen endpoint %q: %w", s, err)
	}
	return ep, nil
}

func runSend(cmd *cobra.Command, args []string) error {
	tgt, err := parseTarget(args[0])
	if err != nil {
		return err
	}
	message := []byte(args[1])

	var flags transport.Flags
	if sendPeer {
		flags |= transport.PeerConnection
	}
	if sendTracker {
		flags |= transport.TrackerConnection
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sock, err := openSocket(ctx, cmd, sendListen)
	if err != nil {
		return err
	}
	defer sock.Close()

	for i := 0; i < sendCount; i++ {
		if tgt.host != "" {
			err = sock.SendHostname(tgt.host, tgt.port, message, flags)
		} else {
			err = sock.Send(tgt.ep, message, flags)
		}
		if err != nil {
			return fmt.Errorf("send %d: %w (%s)", i, err, transport.Classify(err))
		}
	}
	if _, err := sock.FlushQueue(); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "runSend",
		"target":   args[0],
		"count":    sendCount,
		"flags":    flags.String(),
	}).Info("Datagrams sent")

	// The dispatcher owns the socket from here on.
	waitCtx, cancel := context.WithTimeout(ctx, sendWait)
	defer cancel()

	var replies atomic.Int32
	d := transport.NewDispatcher(sock, 16)
	d.HandleDefault(func(pkt transport.Packet) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", pkt.From, pkt.Data)
		if int(replies.Add(1)) >= sendCount {
			cancel()
		}
	})

	if err := d.Run(waitCtx); waitCtx.Err() == nil {
		return err
	}

	if n := int(replies.Load()); n < sendCount {
		logrus.WithFields(logrus.Fields{
			"function": "runSend",
			"expected": sendCount,
			"received": n,
		}).Warn("Not every datagram was answered")
	}
	return nil
}
