package cli

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/rudransh-shrivastava/peerdrop/internal/peer"
	"github.com/rudransh-shrivastava/peerdrop/internal/protocol"
	"github.com/rudransh-shrivastava/peerdrop/internal/transfer"
	"github.com/spf13/cobra"
)

type sendOptions struct {
	to        string
	id        string
	chunkSize int
	pace      string
	delay     time.Duration
}

func (a *app) sendCmd() *cobra.Command {
	var opts sendOptions

	cmd := &cobra.Command{
		Use:   "send path/to/file",
		Short: "sends a file to a peer",
		Long:  `registers with the signaling server, opens a channel to the target peer and streams the file to it`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.runSend(ctx, cmd.OutOrStdout(), args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.to, "to", "", "id of the receiving peer")
	cmd.Flags().StringVar(&opts.id, "id", envOr(envID, ""), "local peer id (assigned by the server when empty)")
	cmd.Flags().IntVar(&opts.chunkSize, "chunk-size", protocol.DefaultChunkSize, "bytes per binary frame")
	cmd.Flags().StringVar(&opts.pace, "pace", string(transfer.PaceAuto), "pacing between chunks: auto, drain or fixed")
	cmd.Flags().DurationVar(&opts.delay, "delay", transfer.DefaultDelay, "inter-chunk delay for fixed pacing")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func (a *app) runSend(ctx context.Context, out io.Writer, path string, opts sendOptions) error {
	pacing, err := transfer.ParsePacing(opts.pace)
	if err != nil {
		return err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	src, err := transfer.OpenFile(osfs.New(filepath.Dir(abs)), filepath.Base(abs))
	if err != nil {
		return err
	}
	defer src.Close()

	view := newProgressView(out)
	sender, err := transfer.NewSender(transfer.Options{
		ChunkSize:  opts.chunkSize,
		Pacing:     pacing,
		Delay:      opts.delay,
		OnProgress: view.update,
		Logger:     a.log,
	})
	if err != nil {
		return err
	}

	ep := peer.New(peer.Config{
		Transport: a.newTransport(a.signalURL, a.log),
		Logger:    a.log,
	})
	defer func() { _ = ep.Close() }()

	if err := ep.Register(ctx, opts.id); err != nil {
		return err
	}

	ch := ep.FindOpenChannel(opts.to)
	if ch == nil {
		if ch, err = ep.ConnectTo(ctx, opts.to); err != nil {
			return err
		}
	}

	if err := sender.Send(ctx, ch, src); err != nil {
		return fmt.Errorf("sending %s: %w", src.Name(), err)
	}
	return ch.Flush(ctx)
}
