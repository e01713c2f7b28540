package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// WebhookEventsTotal 按来源（payment/delivery）与结果统计 webhook。
	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tailor_hub_webhook_events_total",
			Help: "Inbound webhook events by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	RefundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tailor_hub_refunds_total",
			Help: "Refund attempts by status",
		},
		[]string{"status"},
	)

	OutboxDispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tailor_hub_outbox_dispatch_total",
			Help: "Outbox dispatch attempts by result",
		},
		[]string{"result"},
	)

	// OutboxFailedRows 当前 FAILED 行数，需人工 requeue。
	OutboxFailedRows = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tailor_hub_outbox_failed_rows",
			Help: "Outbox rows currently in FAILED state",
		},
	)

	ExpiryReclaimedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tailor_hub_expiry_reclaimed_total",
			Help: "Assignments reclaimed by expiry jobs",
		},
		[]string{"job"},
	)

	SolicitationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tailor_hub_solicitations_total",
			Help: "Vendor assignments created by solicitation",
		},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tailor_hub_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	prometheus.MustRegister(WebhookEventsTotal)
	prometheus.MustRegister(RefundsTotal)
	prometheus.MustRegister(OutboxDispatchTotal)
	prometheus.MustRegister(OutboxFailedRows)
	prometheus.MustRegister(ExpiryReclaimedTotal)
	prometheus.MustRegister(SolicitationsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
}
