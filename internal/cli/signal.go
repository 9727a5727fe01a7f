package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/rudransh-shrivastava/peerdrop/internal/db"
	"github.com/rudransh-shrivastava/peerdrop/internal/signaling"
	"github.com/rudransh-shrivastava/peerdrop/internal/store"
	"github.com/spf13/cobra"
)

func (a *app) signalCmd() *cobra.Command {
	var addr, dbPath string

	cmd := &cobra.Command{
		Use:   "signal",
		Short: "runs the signaling server",
		Long:  `runs the directory peers register their ids with, relaying connection offers and answers between them`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.runSignal(ctx, addr, dbPath)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":9000", "listen address")
	cmd.Flags().StringVar(&dbPath, "db", "peerdrop.sqlite3", "registration database path")
	return cmd
}

// runSignal serves until ctx is cancelled.
func (a *app) runSignal(ctx context.Context, addr, dbPath string) error {
	gdb, err := db.Open(dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(gdb) }()

	srv, err := signaling.NewServer(signaling.Config{
		Addr:   addr,
		Store:  store.NewRegistrationStore(gdb),
		Logger: a.log,
	})
	if err != nil {
		return err
	}

	err = srv.Start(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
