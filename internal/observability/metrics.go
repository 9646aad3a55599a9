package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderflow_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code", "method"},
	)

	OrdersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderflow_orders_total",
			Help: "Orders reaching a terminal status, by outcome",
		},
		[]string{"outcome"},
	)

	OversellRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orderflow_oversell_rejections_total",
			Help: "Reservation attempts rejected for insufficient inventory",
		},
	)

	ReservationsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orderflow_reservations_expired_total",
			Help: "Reservations reclaimed by the expiry sweeper",
		},
	)

	OrdersFlaggedForReview = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orderflow_orders_flagged_review_total",
			Help: "Orders flagged for manual review after a confirm failure",
		},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orderflow_sweep_seconds",
			Help:    "Duration of a single expiry sweep",
			Buckets: prometheus.DefBuckets,
		},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orderflow_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orderflow_outbox_lag_seconds",
			Help: "Age of the oldest unpublished outbox record",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orderflow_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
