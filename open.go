package promptmanager

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/codragon2020/prompt-manager/archive"
	"github.com/codragon2020/prompt-manager/archive/s3blob"
	"github.com/codragon2020/prompt-manager/cache"
	"github.com/codragon2020/prompt-manager/config"
	"github.com/codragon2020/prompt-manager/registry"
)

// Open builds a Manager from cfg: PostgreSQL when a database URL is set,
// otherwise an in-memory store; a Redis active cache when an address is set;
// an S3 or directory archive when configured. Configured environments are
// seeded.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var store registry.Store
	if cfg.DatabaseURL != "" {
		pg, err := registry.OpenPostgres(ctx, registry.PostgresConfig{
			DSN:             cfg.DatabaseURL,
			Driver:          cfg.DatabaseDriver,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			AutoMigrate:     cfg.AutoMigrate,
		})
		if err != nil {
			return nil, err
		}
		store = pg
	} else {
		logger.Warn("no database configured, using in-memory store")
		store = registry.NewMemoryStore()
	}

	opts := []Option{WithLogger(logger)}
	var closers []func() error
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		closers = append(closers, client.Close)
		opts = append(opts, WithCache(cache.NewRedisCache(client, cfg.RedisPrefix, cfg.ActiveCacheTTL)))
	}
	abort := func(err error) (*Manager, error) {
		store.Close()
		for _, c := range closers {
			_ = c()
		}
		return nil, err
	}
	switch {
	case cfg.ArchiveS3Bucket != "":
		s3, err := s3blob.NewFromConfig(ctx, cfg.ArchiveS3Bucket, cfg.ArchiveS3Prefix)
		if err != nil {
			return abort(err)
		}
		opts = append(opts, WithArchive(s3))
	case cfg.ArchiveDir != "":
		dir, err := archive.NewDirStore(cfg.ArchiveDir)
		if err != nil {
			return abort(err)
		}
		opts = append(opts, WithArchive(dir))
	}

	m := New(store, opts...)
	m.closers = closers

	envs, err := cfg.EnvironmentList()
	if err != nil {
		m.Close()
		return nil, err
	}
	if _, err := m.Publications.EnsureEnvironments(ctx, envs); err != nil {
		m.Close()
		return nil, fmt.Errorf("seed environments: %w", err)
	}
	return m, nil
}
