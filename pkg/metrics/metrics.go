package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	QuoteRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rfq_relay_quote_requests_total",
		Help: "The total number of quote requests by kind and outcome",
	}, []string{"kind", "outcome"})

	MakerQuoteErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rfq_relay_maker_quote_errors_total",
		Help: "The total number of failed maker quote calls by maker",
	}, []string{"maker"})

	MakerQuoteLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rfq_relay_maker_quote_seconds",
		Help:    "Latency of maker quote calls",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 8), // 50ms to ~6.4s
	}, []string{"maker"})

	JobsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rfq_relay_jobs_submitted_total",
		Help: "The total number of signed quotes accepted as jobs",
	})

	JobsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rfq_relay_jobs_resolved_total",
		Help: "The total number of jobs that reached a terminal status",
	}, []string{"status"})

	TransactionsBroadcast = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rfq_relay_transactions_broadcast_total",
		Help: "The total number of transactions broadcast by submission type",
	}, []string{"type"})

	GasBumps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rfq_relay_gas_bumps_total",
		Help: "The total number of gas price escalations",
	})

	GasPrice = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rfq_relay_gas_price_gwei",
		Help: "Gas price used for the most recent broadcast in gwei",
	})

	StatusRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rfq_relay_status_requests_total",
		Help: "The total number of status queries by reported status",
	}, []string{"status"})

	PendingJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rfq_relay_pending_jobs",
		Help: "The number of jobs waiting in the settlement queue",
	})
)
