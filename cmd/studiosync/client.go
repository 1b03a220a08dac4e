package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hyperengineering/studiosync/internal/config"
	"github.com/hyperengineering/studiosync/internal/engine"
	"github.com/hyperengineering/studiosync/internal/gateway"
	"github.com/hyperengineering/studiosync/internal/remote"
	"github.com/hyperengineering/studiosync/internal/store"
	"github.com/hyperengineering/studiosync/internal/types"
)

// syncClient bundles a started engine with the resources it owns.
type syncClient struct {
	engine *engine.Engine
	store  *store.SQLiteStore
	remote *remote.WSClient
}

// startEngine opens the cache, connects to the remote and starts syncing.
func startEngine(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*syncClient, error) {
	st, err := store.NewSQLiteStore(cfg.Cache.Path)
	if err != nil {
		return nil, err
	}
	slog.Info("cache opened", "path", cfg.Cache.Path)

	client := remote.NewWSClient(remote.WSConfig{
		URL:          cfg.Remote.URL,
		AuthToken:    cfg.Remote.AuthToken,
		DialTimeout:  cfg.Remote.DialTimeout.Std(),
		WriteTimeout: cfg.Remote.WriteTimeout.Std(),
		Logger:       slog.Default(),
	})

	eng := engine.New(st, client, engine.Options{
		MaxInFlight:        cfg.Sync.MaxInFlight,
		MaxAttempts:        cfg.Sync.MaxAttempts,
		InitialBackoff:     cfg.Sync.InitialBackoff.Std(),
		MaxBackoff:         cfg.Sync.MaxBackoff.Std(),
		ResubscribeBackoff: cfg.Sync.ResubscribeBackoff.Std(),
		WriteTimeout:       cfg.Sync.WriteTimeout.Std(),
		FlushOnClose:       cfg.Sync.FlushOnClose,
		Logger:             slog.Default(),
		Registerer:         reg,
	})
	if err := eng.Start(ctx); err != nil {
		client.Close()
		st.Close()
		return nil, err
	}
	return &syncClient{engine: eng, store: st, remote: client}, nil
}

// close stops the engine, then releases the connection and cache.
func (c *syncClient) close(ctx context.Context) error {
	err := c.engine.Close(ctx)
	if cerr := c.remote.Close(); cerr != nil && !errors.Is(cerr, remote.ErrClientClosed) {
		slog.Error("remote close error", "error", cerr)
	}
	if cerr := c.store.Close(); cerr != nil {
		slog.Error("cache close error", "error", cerr)
	}
	return err
}

// openCache opens the cache without starting sync, for offline commands.
func openCache(cfg *config.Config) (*store.SQLiteStore, error) {
	if _, err := os.Stat(cfg.Cache.Path); err != nil {
		return nil, errors.WithHint(errors.Wrapf(err, "open cache %s", cfg.Cache.Path), "run `studiosync run` first or set STUDIOSYNC_CACHE_PATH")
	}
	return store.NewSQLiteStore(cfg.Cache.Path)
}

func newGateway(cfg *config.Config) *gateway.Gateway {
	return gateway.New(gateway.Config{
		BaseURL:    cfg.Gateway.BaseURL,
		AuthToken:  cfg.Remote.AuthToken,
		Timeout:    cfg.Gateway.Timeout.Std(),
		MaxRetries: cfg.Gateway.MaxRetries,
		RateLimit:  cfg.Gateway.RateLimit,
		Logger:     slog.Default(),
	})
}

// collectionsArg returns the collection named by args, or all of them.
func collectionsArg(args []string) ([]types.Collection, error) {
	if len(args) == 0 || args[0] == "" {
		return types.AllCollections(), nil
	}
	c, err := types.ParseCollection(args[0])
	if err != nil {
		return nil, err
	}
	return []types.Collection{c}, nil
}
