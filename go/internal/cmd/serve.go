package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	Room string
	Name string
}

func newServeCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the room engine and the local UI bridge",
		Long: `Run the room engine and serve the REST and websocket bridge on HTTP_ADDR.

With --room the device enters that room on start, resuming a previous seat
when one is recorded locally.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), rootOpts, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Room, "room", "", "room code to enter on start")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name (overrides DISPLAY_NAME)")
	return cmd
}

func runServe(parent context.Context, rootOpts *rootOptions, opts *serveOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(rootOpts)
	if err != nil {
		return err
	}
	if opts.Name != "" {
		cfg.DisplayName = opts.Name
	}

	services, err := setupServices(ctx, cfg)
	if err != nil {
		return err
	}

	gatewayDone := make(chan error, 1)
	go func() { gatewayDone <- services.Gateway.Start(ctx) }()

	server := setupServer(cfg, services)
	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if opts.Room != "" {
		go func() {
			if err := services.Reconciler.Run(ctx, opts.Room); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("room_id", opts.Room).Msg("failed to enter room")
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err = <-serverErr:
		log.Error().Err(err).Msg("server failed")
		stop()
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	<-gatewayDone
	if err := services.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to close services")
	}

	m := services.Metrics.Snapshot()
	log.Info().
		Int("writes", m.Writes).
		Int("failed_writes", m.FailedWrites).
		Int("snapshots", m.Snapshots).
		Msg("server stopped")
	return err
}
