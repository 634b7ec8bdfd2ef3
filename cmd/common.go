package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wegman-software/vexd/internal/config"
	"github.com/wegman-software/vexd/internal/logger"
	"github.com/wegman-software/vexd/internal/replication"
	"github.com/wegman-software/vexd/internal/store"
	"github.com/wegman-software/vexd/internal/store/memory"
	"github.com/wegman-software/vexd/internal/store/postgres"
	"github.com/wegman-software/vexd/internal/store/redis"
	"github.com/wegman-software/vexd/internal/tile"

	_ "github.com/wegman-software/vexd/internal/codec/all"
)

// openStore opens the configured backend. A memory store is filled from the
// snapshot file; the returned persist function writes it back and does
// nothing for the other backends. The store is closed when the command
// returns or exits with an error.
func openStore(ctx context.Context) (store.Store, func(context.Context) error, error) {
	st, persist, err := openBackend(ctx)
	if err != nil {
		return nil, nil, err
	}
	onExit(func() {
		if err := st.Close(); err != nil {
			logger.Get().Warn("Failed to close store", zap.Error(err))
		}
	})
	return st, persist, nil
}

func openBackend(ctx context.Context) (store.Store, func(context.Context) error, error) {
	log := logger.Get()
	noop := func(context.Context) error { return nil }

	switch cfg.Backend {
	case config.BackendMemory:
		st, err := memory.Open(ctx, cfg.Snapshot)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Snapshot == "" {
			log.Warn("Memory store has no snapshot file, data is lost on exit")
			return st, noop, nil
		}
		return st, func(ctx context.Context) error { return st.Save(ctx, cfg.Snapshot) }, nil

	case config.BackendPostgres:
		log.Info("Connecting to PostgreSQL",
			zap.String("host", cfg.DBHost),
			zap.Int("port", cfg.DBPort),
			zap.String("database", cfg.DBName),
			zap.String("schema", cfg.DBSchema))
		st, err := postgres.Open(ctx, cfg.ConnectionString(), cfg.DBSchema)
		if err != nil {
			return nil, nil, err
		}
		return st, noop, nil

	case config.BackendRedis:
		log.Info("Connecting to Redis", zap.String("addr", cfg.RedisAddr), zap.Int("db", cfg.RedisDB))
		st, err := redis.Open(ctx, redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return st, noop, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// newUpdater builds a replication updater for st from the configuration
func newUpdater(st store.Store) (*replication.Updater, error) {
	feed, err := replication.ParseFeed(cfg.ReplicationSource)
	if err != nil {
		return nil, fmt.Errorf("invalid source %q: %w", cfg.ReplicationSource, err)
	}
	initial, err := cfg.InitialTime()
	if err != nil {
		return nil, err
	}

	retries := cfg.FetchRetries
	if retries == 0 {
		retries = -1
	}
	opts := replication.Options{
		Feed: feed,
		Fetcher: replication.NewFetcher(replication.FetcherOptions{
			Timeout:    cfg.FetchTimeout,
			MaxRetries: retries,
		}),
		InitialTimestamp: initial,
		Logger:           logger.Named("replication"),
	}
	if cfg.ExpireOutput != "" {
		opts.Tracker = tile.NewTracker(cfg.ExpireMinZoom, cfg.ExpireMaxZoom)
		opts.ExpireFile = cfg.ExpireOutput
	}
	return replication.NewUpdater(st, opts), nil
}
