package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/opd-ai/udpsocket/transport"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	echoListen string
	echoBatch  int
)

var echoCmd = &cobra.Command{
	Use:   "echo",
	Short: "Echo every received datagram back to its sender",
	Args:  cobra.NoArgs,
	RunE:  runEcho,
}

func init() {
	echoCmd.Flags().StringVarP(&echoListen, "listen", "l", "0.0.0.0:6881", "Local endpoint to bind")
	echoCmd.Flags().IntVar(&echoBatch, "batch", 32, "Datagrams read per batch")
}

func runEcho(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sock, err := openSocket(ctx, cmd, echoListen)
	if err != nil {
		return err
	}
	defer sock.Close()

	d := transport.NewDispatcher(sock, echoBatch)
	d.HandleDefault(func(pkt transport.Packet) {
		if err := sock.Send(pkt.From, pkt.Data, 0); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "runEcho",
				"to":       pkt.From.String(),
				"error":    err.Error(),
				"class":    transport.Classify(err).String(),
			}).Warn("Echo failed")
			return
		}
		logrus.WithFields(logrus.Fields{
			"function": "runEcho",
			"from":     pkt.From.String(),
			"size":     len(pkt.Data),
		}).Debug("Echoed datagram")
	})
	d.HandleError(func(pkt transport.Packet) {
		logrus.WithFields(logrus.Fields{
			"function": "runEcho",
			"error":    pkt.Err.Error(),
		}).Debug("Receive error")
	})

	logrus.WithFields(logrus.Fields{
		"function": "runEcho",
		"port":     sock.LocalPort(),
	}).Info("Echo responder running")

	err = d.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logrus.Info("Shutdown signal received")
		return nil
	}
	return err
}
