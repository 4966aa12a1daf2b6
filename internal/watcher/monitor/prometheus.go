package monitor

import "github.com/prometheus/client_golang/prometheus"

var (
	// SwapEventsReceived 订阅收到的原始日志数
	SwapEventsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swap_events_received_total",
			Help: "Total number of raw swap logs delivered by the subscription.",
		},
		[]string{"pool"},
	)
	SwapDecodeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swap_decode_failures_total",
			Help: "Total number of logs rejected by decode validation.",
		},
		[]string{"pool"},
	)
	SwapEventsStored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swap_events_stored_total",
			Help: "Total number of swap records appended to the event store.",
		},
		[]string{"pool"},
	)
	SwapEventsDuplicate = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swap_events_duplicate_total",
			Help: "Total number of redelivered events skipped by the store dedup index.",
		},
		[]string{"pool"},
	)
	StoreAppendFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_append_failures_total",
			Help: "Total number of failed event store appends (after retries).",
		},
		[]string{"pool"},
	)
	SupplyFetchFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "supply_fetch_failures_total",
			Help: "Total number of total-supply lookups degraded to unavailable.",
		},
	)
	HandlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swap_handler_duration_seconds",
			Help:    "Time taken to process one swap event end to end.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{"pool"},
	)

	// 订阅存活相关
	SubscriptionReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_reconnects_total",
			Help: "Total number of resubscriptions after transport failure.",
		},
		[]string{"pool"},
	)

	// Dispatcher 相关
	NotificationsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Total number of notifications delivered to the messaging sink.",
		},
	)
	NotificationRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_retries_total",
			Help: "Total number of transient dispatch failures retried.",
		},
	)
	NotificationsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notifications_dropped_total",
			Help: "Total number of notifications dropped after retry exhaustion.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		SwapEventsReceived,
		SwapDecodeFailures,
		SwapEventsStored,
		SwapEventsDuplicate,
		StoreAppendFailures,
		SupplyFetchFailures,
		HandlerDuration,
		SubscriptionReconnects,
		NotificationsSent,
		NotificationRetries,
		NotificationsDropped,
	)
}
