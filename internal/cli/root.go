// Package cli is the peerdrop command line.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/rudransh-shrivastava/peerdrop/internal/logger"
	"github.com/rudransh-shrivastava/peerdrop/internal/signaling"
	"github.com/rudransh-shrivastava/peerdrop/internal/transport"
	"github.com/rudransh-shrivastava/peerdrop/internal/transport/webrtc"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	defaultSignalURL = "ws://localhost:9000/ws"

	envSignal = "PEERDROP_SIGNAL"
	envID     = "PEERDROP_ID"
)

// TransportFunc builds the transport an endpoint registers and dials with.
type TransportFunc func(signalURL string, log *logrus.Logger) transport.Transport

type app struct {
	log          *logrus.Logger
	logLevel     string
	signalURL    string
	newTransport TransportFunc
}

func webrtcTransport(signalURL string, log *logrus.Logger) transport.Transport {
	return webrtc.New(webrtc.Config{
		Signaler: signaling.NewClient(signalURL, log),
		Logger:   log,
	})
}

// NewRootCmd assembles the command tree. A nil newTransport uses WebRTC
// data channels negotiated through the signaling server.
func NewRootCmd(out io.Writer, newTransport TransportFunc) *cobra.Command {
	if newTransport == nil {
		newTransport = webrtcTransport
	}
	a := &app{
		log:          logger.New(out, logrus.InfoLevel),
		newTransport: newTransport,
	}

	root := &cobra.Command{
		Use:           "peerdrop",
		Long:          `peerdrop sends files directly between two peers over a WebRTC data channel`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(a.logLevel)
			if err != nil {
				return err
			}
			a.log.SetLevel(level)
			return nil
		},
	}
	root.SetOut(out)
	root.SetErr(out)

	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.signalURL, "signal", envOr(envSignal, defaultSignalURL), "signaling server websocket URL")

	root.AddCommand(a.signalCmd())
	root.AddCommand(a.sendCmd())
	root.AddCommand(a.receiveCmd())
	return root
}

func Execute() {
	if err := NewRootCmd(os.Stdout, nil).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
