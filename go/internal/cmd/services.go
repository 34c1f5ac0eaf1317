package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/pointing/go/internal/apperror"
	"github.com/mcdev12/pointing/go/internal/config"
	"github.com/mcdev12/pointing/go/internal/gateway"
	"github.com/mcdev12/pointing/go/internal/identity"
	"github.com/mcdev12/pointing/go/internal/localstore"
	"github.com/mcdev12/pointing/go/internal/room"
	"github.com/mcdev12/pointing/go/internal/room/join"
)

type Services struct {
	Local      localstore.Store
	Surface    *apperror.Surface
	Metrics    *room.CountingMetrics
	Engine     *room.Engine
	Reconciler *join.Reconciler
	Gateway    *gateway.Service

	closeRemote func() error
}

func setupServices(ctx context.Context, cfg config.Config) (*Services, error) {
	// Stores → identity → engine → join flow → gateway
	series, err := cfg.SeriesRegistry()
	if err != nil {
		return nil, err
	}

	local, err := setupLocalStore(cfg)
	if err != nil {
		return nil, err
	}
	store, closeRemote, err := setupRemoteStore(ctx, cfg)
	if err != nil {
		local.Close()
		return nil, err
	}

	clock := clockwork.NewRealClock()
	names := identity.StaticName(cfg.DisplayName)
	resolver := identity.NewResolver(local)
	surface := apperror.NewSurface()
	metrics := room.NewCountingMetrics()

	engineCfg := room.DefaultConfig()
	engineCfg.Series = series
	engineCfg.DefaultSeries = cfg.DefaultSeries
	engineCfg.Clock = clock
	engineCfg.Metrics = metrics
	engineCfg.Names = names
	engine := room.NewEngine(store, resolver, surface, engineCfg)

	reconciler := join.NewReconciler(engine, resolver, names, clock, join.Config{
		FallbackTimeout: cfg.JoinFallbackTimeout,
		ForceTimeout:    cfg.JoinForceTimeout,
	})

	gwCfg := gateway.DefaultConfig()
	gwCfg.AllowedOrigins = cfg.AllowedOrigins
	gwCfg.Metrics = metrics
	if checker, ok := store.(gateway.ConnectionChecker); ok {
		gwCfg.Remote = checker
	}
	gw := gateway.NewService(gwCfg, engine, surface, reconciler)

	return &Services{
		Local:       local,
		Surface:     surface,
		Metrics:     metrics,
		Engine:      engine,
		Reconciler:  reconciler,
		Gateway:     gw,
		closeRemote: closeRemote,
	}, nil
}

// Close leaves the room and releases both stores.
func (s *Services) Close(ctx context.Context) error {
	var errs []error
	if err := s.Engine.LeaveRoom(ctx); err != nil {
		errs = append(errs, fmt.Errorf("leave room: %w", err))
	}
	if err := s.closeRemote(); err != nil {
		errs = append(errs, fmt.Errorf("close remote store: %w", err))
	}
	if err := s.Local.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close local store: %w", err))
	}
	return errors.Join(errs...)
}
