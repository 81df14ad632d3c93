package events

import (
	"context"
	"sync"
	"time"

	domain "github.com/NordCoder/Storefront/internal/domain/session"
	"github.com/NordCoder/Storefront/internal/obs"
	"github.com/NordCoder/Storefront/internal/obs/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const DefaultQueueSize = 64

var (
	mQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_events_queued_total", Help: "Session events accepted into the queue.",
	})
	mDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_events_dropped_total", Help: "Session events dropped because the queue was full or closed.",
	})
	mPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_events_published_total", Help: "Session events published.",
	})
	mFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_events_failed_total", Help: "Session events that failed after retries.",
	})
	mPublishDur = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "storefront_events_publish_duration_seconds", Help: "Publish duration including retries.",
		Buckets: prometheus.DefBuckets,
	})
)

// Runner buffers session events and publishes them from a single worker.
// Emit never blocks the session; when the queue is full the event is dropped.
type Runner struct {
	log    *zap.Logger
	pub    domain.Publisher
	policy retry.Policy

	mu     sync.Mutex
	closed bool
	queue  chan domain.Event
	done   chan struct{}
}

type Opts struct {
	Logger    *zap.Logger
	QueueSize int
	Policy    *retry.Policy
}

func NewRunner(pub domain.Publisher, o Opts) *Runner {
	log := o.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "events.runner"))
	size := o.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	pol := retry.DefaultEventsPolicy(log)
	if o.Policy != nil {
		pol = *o.Policy
	}
	return &Runner{
		log:    log,
		pub:    pub,
		policy: pol,
		queue:  make(chan domain.Event, size),
		done:   make(chan struct{}),
	}
}

func (r *Runner) Emit(e domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		mDropped.Inc()
		return
	}
	select {
	case r.queue <- e:
		mQueued.Inc()
	default:
		mDropped.Inc()
		r.log.Warn("session event dropped, queue full",
			zap.String("kind", string(e.Kind)),
			zap.String("reason", string(e.Reason)),
		)
	}
}

// Start runs the worker until ctx is done or Close drains the queue.
func (r *Runner) Start(ctx context.Context) {
	go r.worker(ctx)
}

func (r *Runner) worker(ctx context.Context) {
	defer close(r.done)
	r.log.Debug("events worker started", zap.Int("queue_size", cap(r.queue)))

	for {
		select {
		case <-ctx.Done():
			r.log.Debug("events worker stop", zap.Int("pending", len(r.queue)))
			return
		case e, ok := <-r.queue:
			if !ok {
				r.log.Debug("events worker drained")
				return
			}
			r.publish(ctx, e)
		}
	}
}

func (r *Runner) publish(ctx context.Context, e domain.Event) {
	tr := otel.Tracer("events.runner")
	ctx, span := tr.Start(ctx, "events.publish", trace.WithAttributes(
		attribute.String("event.kind", string(e.Kind)),
		attribute.String("event.reason", string(e.Reason)),
		attribute.String("event.profile", e.Profile),
	))
	defer span.End()

	t0 := time.Now()
	err := retry.Do(ctx, func() error { return r.pub.Publish(ctx, e) }, r.policy)
	mPublishDur.Observe(time.Since(t0).Seconds())
	if err != nil {
		span.RecordError(err)
		mFailed.Inc()
		obs.WithTrace(ctx, r.log).Error("session event not published",
			zap.String("event_id", e.ID.String()), zap.Error(err))
		return
	}
	mPublished.Inc()
}

// Close stops accepting events and waits for the worker to publish what is
// queued, or for ctx to end. Start must have been called.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
