package main

import (
	"context"
	"fmt"

	config "github.com/NordCoder/Storefront/internal/config/storefront-cli"
	domain "github.com/NordCoder/Storefront/internal/domain/session"
	"github.com/NordCoder/Storefront/internal/repository/file"
	"github.com/NordCoder/Storefront/internal/repository/memory"
	pg "github.com/NordCoder/Storefront/internal/repository/postgres"
	redisinfra "github.com/NordCoder/Storefront/internal/repository/redis"
	"go.uber.org/zap"
)

func initStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (domain.Store, func(), error) {
	noop := func() {}
	logger = logger.With(zap.String("driver", cfg.Store.Driver), zap.String("profile", cfg.Store.Profile))

	switch cfg.Store.Driver {
	case config.StoreMemory:
		logger.Debug("credential store ready")
		return memory.NewCredentialStore(), noop, nil

	case config.StoreFile:
		s, err := file.NewCredentialStore(cfg.Store.File.Path)
		if err != nil {
			return nil, nil, err
		}
		logger.Debug("credential store ready", zap.String("path", cfg.Store.File.Path))
		return s, noop, nil

	case config.StoreRedis:
		rdb, err := redisinfra.Open(ctx, cfg.Store.Redis)
		if err != nil {
			return nil, nil, err
		}
		s := redisinfra.NewCredentialStore(rdb, cfg.Store.Redis.KeyPrefix, cfg.Store.Profile)
		logger.Debug("credential store ready", zap.String("addr", cfg.Store.Redis.Addr))
		return s, func() { _ = s.Close() }, nil

	case config.StorePostgres:
		db, err := pg.New(ctx, cfg.Store.DB)
		if err != nil {
			return nil, nil, err
		}
		logger.Debug("credential store ready")
		return pg.NewCredentialRepo(db, cfg.Store.Profile), db.Close, nil
	}
	return nil, nil, fmt.Errorf("%w: %q", config.ErrUnknownDriver, cfg.Store.Driver)
}
