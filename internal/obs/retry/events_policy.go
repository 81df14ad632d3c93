package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

const EventsPolicyName = "kafka_session_events"

// DefaultEventsPolicy is used when publishing session events to kafka.
func DefaultEventsPolicy(log *zap.Logger) Policy {
	return Policy{
		Name:     EventsPolicyName,
		Attempts: 5,
		Backoff:  ExpoJitter{Base: 200 * time.Millisecond, Max: 10 * time.Second, Jitter: 0.2},
		Retryable: func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		},
		OnAttempt: func(i int, err error) {
			if log != nil {
				log.Warn("session event publish retry", zap.String("policy", EventsPolicyName), zap.Int("attempt", i+1), zap.Error(err))
			}
		},
		OnExhaust: func(err error) {
			if log != nil && !errors.Is(err, context.Canceled) {
				log.Error("session event publish gave up", zap.Error(err))
			}
		},
	}
}
