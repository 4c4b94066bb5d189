package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"go.klb.dev/clipsync/internal/clip"
	"go.klb.dev/clipsync/internal/control"
	"go.klb.dev/clipsync/internal/engine"
	"go.klb.dev/clipsync/internal/ipc"
	"go.klb.dev/clipsync/internal/tcppeer"
)

func newListenCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "listen",
		Aliases: []string{"server"},
		Short:   "Wait for the peer to connect",
		Long: `Binds --bind:--port and waits for one peer. When the peer goes away
clipsync keeps listening and the next connection picks up where the last
one left off.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd.Context(), v, tcppeer.RoleListener, v.GetString("bind"))
		},
	}

	cmd.Flags().String("bind", tcppeer.DefaultBindHost, "address to bind")
	addSyncFlags(cmd)
	addLoggingFlags(cmd)
	addConfigFlag(cmd)
	return cmd
}

func newConnectCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "connect <host>",
		Aliases: []string{"client"},
		Short:   "Connect to a listening peer",
		Long: `Connects to a peer started with "clipsync listen", retrying every
--retry-delay until it answers and again whenever the link drops.`,
		Args:    cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), v, tcppeer.RoleDialer, args[0])
		},
	}

	addSyncFlags(cmd)
	addLoggingFlags(cmd)
	addConfigFlag(cmd)
	return cmd
}

// runSync runs the engine until SIGINT/SIGTERM. An interrupt is a clean
// exit.
func runSync(ctx context.Context, v *viper.Viper, role tcppeer.Role, host string) error {
	setupLogging(v)

	cfg, err := engineConfig(v, role, host)
	if err != nil {
		return err
	}
	kind, err := clip.ParseKind(v.GetString("clipboard"))
	if err != nil {
		return err
	}
	backend, err := clip.New(kind)
	if err != nil {
		return fmt.Errorf("clipboard: %w", err)
	}
	defer backend.Close()

	eng, err := engine.New(cfg, backend, slog.Default())
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("clipsync", "version", Version)

	g, gctx := errgroup.WithContext(ctx)
	if !v.GetBool("no-control") {
		path := v.GetString("control-socket")
		if path == "" {
			path = ipc.SocketPath()
		}
		if ln, err := ipc.Listen(path); err != nil {
			slog.Warn("control socket unavailable", "path", path, "err", err)
		} else {
			srv := control.New(eng, slog.Default())
			eng.Manager().SetStateListener(srv)
			g.Go(func() error { return srv.Serve(gctx, ln) })
		}
	}
	g.Go(func() error {
		defer stop()
		return eng.Run(gctx)
	})
	return g.Wait()
}
