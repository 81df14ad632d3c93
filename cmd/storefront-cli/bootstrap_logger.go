package main

import (
	config "github.com/NordCoder/Storefront/internal/config/storefront-cli"
	"github.com/NordCoder/Storefront/internal/obs"
	"go.uber.org/zap"
)

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	return obs.NewLogger(cfg.AsLoggerConfig())
}
