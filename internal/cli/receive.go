package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/rudransh-shrivastava/peerdrop/internal/peer"
	"github.com/rudransh-shrivastava/peerdrop/internal/protocol"
	"github.com/rudransh-shrivastava/peerdrop/internal/save"
	"github.com/rudransh-shrivastava/peerdrop/internal/transfer"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type receiveOptions struct {
	id   string
	out  string
	once bool
}

func (a *app) receiveCmd() *cobra.Command {
	var opts receiveOptions

	cmd := &cobra.Command{
		Use:   "receive",
		Short: "waits for peers to send files",
		Long:  `registers with the signaling server and saves every file sent to this peer id`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.runReceive(ctx, cmd.OutOrStdout(), opts, nil)
		},
	}

	cmd.Flags().StringVar(&opts.id, "id", envOr(envID, ""), "local peer id (assigned by the server when empty)")
	cmd.Flags().StringVar(&opts.out, "out", ".", "directory to save files in")
	cmd.Flags().BoolVar(&opts.once, "once", false, "exit after the first file is saved")
	return cmd
}

// runReceive serves until ctx is done, or after one file with once set.
// ready, if set, gets the registered id.
func (a *app) runReceive(ctx context.Context, out io.Writer, opts receiveOptions, ready func(id string)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := os.MkdirAll(opts.out, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", opts.out, err)
	}

	completed := make(chan string, 1)
	h := &receiveHandler{
		ctx: ctx,
		out: out,
		log: a.log,
		saver: save.New(save.Config{
			Dest:     osfs.New(opts.out),
			Fallback: osfs.New(os.TempDir()),
			Logger:   a.log,
		}),
		completed: completed,
		receivers: make(map[*peer.Channel]*transfer.Receiver),
	}

	ep := peer.New(peer.Config{
		Transport: a.newTransport(a.signalURL, a.log),
		Logger:    a.log,
		OnFrame:   h.handle,
	})
	defer func() { _ = ep.Close() }()

	if err := ep.Register(ctx, opts.id); err != nil {
		return err
	}
	fmt.Fprintf(out, "Waiting for files as %s\n", ep.ID())
	if ready != nil {
		ready(ep.ID())
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case path := <-completed:
			fmt.Fprintf(out, "Saved %s\n", path)
			if opts.once {
				return nil
			}
		}
	}
}

// receiveHandler keeps one transfer.Receiver per channel.
type receiveHandler struct {
	ctx       context.Context
	out       io.Writer
	log       *logrus.Logger
	saver     *save.Saver
	completed chan string

	mu        sync.Mutex
	receivers map[*peer.Channel]*transfer.Receiver
}

func (h *receiveHandler) handle(ch *peer.Channel, f protocol.Frame) {
	if err := h.receiverFor(ch).Handle(h.ctx, f); err != nil {
		h.log.WithField("remote", ch.PeerID()).Errorf("Transfer failed: %v", err)
	}
}

func (h *receiveHandler) receiverFor(ch *peer.Channel) *transfer.Receiver {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r, ok := h.receivers[ch]; ok {
		return r
	}

	view := newProgressView(h.out)
	r := transfer.NewReceiver(transfer.ReceiverOptions{
		Spool:      osfs.New(os.TempDir()),
		Persister:  h.saver,
		OnProgress: view.update,
		OnComplete: func(_ transfer.Session, savedAs string) {
			select {
			case h.completed <- savedAs:
			case <-h.ctx.Done():
			}
		},
		Logger: h.log,
	})
	h.receivers[ch] = r

	go func() {
		<-ch.Done()
		reason := ch.Err()
		if reason == nil {
			reason = peer.ErrChannelNotOpen
		}
		r.Abort(reason)

		h.mu.Lock()
		delete(h.receivers, ch)
		h.mu.Unlock()
	}()
	return r
}
