package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cart_consistency"

var (
	// CartOperations counts cart manager calls by operation and outcome kind.
	CartOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cart_operations_total",
		Help:      "Cart operations by operation and result.",
	}, []string{"operation", "result"})

	StockCredited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stock_credited_units_total",
		Help:      "Units of stock credited back to the ledger.",
	})

	OrdersCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_cancelled_total",
		Help:      "Orders cancelled by customers.",
	})

	RefundsRequested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refund_requests_total",
		Help:      "Refund requests queued for payment reconciliation.",
	})

	ReorderItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reorder_items_total",
		Help:      "Reordered line items by outcome.",
	}, []string{"outcome"})

	NotificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notification_failures_total",
		Help:      "Best-effort notifications that could not be sent.",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)
