package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "github.com/NordCoder/Storefront/internal/config/storefront-cli"
	"github.com/NordCoder/Storefront/internal/guard"
	"github.com/NordCoder/Storefront/internal/obs"
	authclient "github.com/NordCoder/Storefront/internal/services/auth-client"
	storefront "github.com/NordCoder/Storefront/internal/services/storefront-api"
	"github.com/NordCoder/Storefront/internal/session"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// defaultConfigPath is relative to the repository root.
const defaultConfigPath = "config/storefront-cli.yaml"

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fs := pflag.NewFlagSet("storefront-cli", pflag.ContinueOnError)
	cfgPath := fs.String("config", envOr("STOREFRONT_CONFIG", defaultConfigPath), "path to the YAML config")
	fs.SetInterspersed(false)
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if fs.NArg() == 0 {
		return errUsage
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger.Debug("starting storefront-cli", zap.String("env", cfg.App.Env), zap.String("ver", cfg.App.Version))

	otelShutdown, err := initOTel(rootCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("otel init: %w", err)
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = otelShutdown(shCtx)
	}()

	if cfg.Server.MetricsAddr != "" {
		ms := obs.BootstrapMetricsServer(cfg.Server.MetricsAddr, nil, logger)
		defer func() { _ = ms.Close() }()
	}

	store, closeStore, err := initStore(rootCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("credential store: %w", err)
	}
	defer closeStore()

	sink, closeEvents, err := initEvents(rootCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("session events: %w", err)
	}
	defer closeEvents()

	sess := session.NewManager(store, session.Opts{
		Profile: cfg.Store.Profile,
		Sink:    sink,
		Logger:  logger,
	})
	if err := sess.Load(rootCtx); err != nil {
		return err
	}

	base := storefront.NewBaseTransport(cfg.HTTP)
	auth := authclient.New(storefront.NewHTTPClient(base, cfg.HTTP), authclient.Config{
		BaseURL:     cfg.API.BaseURL,
		LoginPath:   cfg.Auth.LoginPath,
		RefreshPath: cfg.Auth.RefreshPath,
		LogoutPath:  cfg.Auth.LogoutPath,
	}, logger)

	guarded := guard.New(base, sess, auth, guard.Opts{
		Logger:       logger,
		RenewTimeout: cfg.Auth.RenewTimeout,
	})
	api, err := storefront.New(storefront.NewHTTPClient(guarded, cfg.HTTP), cfg.API.BaseURL)
	if err != nil {
		return err
	}

	a := &app{
		sess: sess,
		auth: auth,
		api:  api,
		out:  os.Stdout,
		now:  time.Now,
	}
	return a.run(rootCtx, fs.Args())
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
