package main

import (
	"context"
	"time"

	config "github.com/NordCoder/Storefront/internal/config/storefront-cli"
	"github.com/NordCoder/Storefront/internal/events"
	kafkax "github.com/NordCoder/Storefront/internal/repository/kafka"
	"github.com/NordCoder/Storefront/internal/session"
	"go.uber.org/zap"
)

const eventsFlushTimeout = 5 * time.Second

// initEvents returns a nil sink when the event stream is disabled.
func initEvents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (session.EventSink, func(), error) {
	if !cfg.Events.Enable {
		return nil, func() {}, nil
	}

	ensureCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := kafkax.EnsureTopic(ensureCtx, cfg.Events.Brokers, kafkax.TopicSpec{
		Name:    cfg.Events.Topic,
		MaxWait: 2 * time.Second,
	}, logger); err != nil {
		logger.Warn("ensure events topic", zap.String("topic", cfg.Events.Topic), zap.Error(err))
	}

	producer := kafkax.NewProducer(cfg.Events.Brokers, cfg.Events.Topic).WithLogger(logger)
	runner := events.NewRunner(kafkax.NewSessionEvents(producer), events.Opts{
		Logger:    logger,
		QueueSize: cfg.Events.QueueSize,
	})
	runner.Start(ctx)

	closer := func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), eventsFlushTimeout)
		defer cancel()
		if err := runner.Close(flushCtx); err != nil {
			logger.Warn("events not flushed", zap.Error(err))
		}
		_ = producer.Close()
	}
	return runner, closer, nil
}
