package guard

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_guard_requests_total", Help: "Requests passed through the session guard.",
	})
	mUnauthorized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_guard_unauthorized_total", Help: "First attempts answered with 401.",
	})
	mRenewals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_guard_renewals_total", Help: "Renewal calls by result.",
	}, []string{"result"})
	mReplays = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_guard_replays_total", Help: "Replayed requests by cause.",
	}, []string{"cause"})
	mRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_guard_waiters_rejected_total", Help: "Queued requests failed by an unsuccessful renewal.",
	})
	mQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_guard_queued_waiters", Help: "Requests waiting for the in-flight renewal.",
	})
)
