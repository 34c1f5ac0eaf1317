package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pointing/go/internal/config"
	"github.com/mcdev12/pointing/go/internal/localstore"
	"github.com/mcdev12/pointing/go/internal/remote"
	"github.com/mcdev12/pointing/go/internal/remote/natskv"
)

// setupLocalStore opens the per-device database identity is kept in.
func setupLocalStore(cfg config.Config) (localstore.Store, error) {
	store, err := localstore.OpenSQLite(cfg.LocalDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	log.Info().Str("path", cfg.LocalDBPath).Msg("opened local store")
	return store, nil
}

// setupRemoteStore connects to NATS when NATS_URL is set and otherwise falls
// back to an in-process store, which only syncs devices served by this
// process.
func setupRemoteStore(ctx context.Context, cfg config.Config) (remote.Store, func() error, error) {
	if cfg.NATSURL == "" {
		log.Warn().Msg("NATS_URL not set, using in-memory remote store")
		store := remote.NewMemoryStore()
		return store, store.Close, nil
	}

	kvCfg := natskv.DefaultConfig()
	kvCfg.URL = cfg.NATSURL
	kvCfg.Bucket = cfg.KVBucket
	store, err := natskv.Connect(ctx, kvCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect remote store: %w", err)
	}
	log.Info().Str("url", cfg.NATSURL).Str("bucket", cfg.KVBucket).Msg("connected to remote store")
	return store, store.Close, nil
}
