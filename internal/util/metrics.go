package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	}, []string{"payment_method"})

	OrdersPlacedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_placed_total",
		Help: "Total number of orders that reached placed",
	}, []string{"payment_method"})

	OrdersCancelledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	}, []string{"reason"})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed order placements",
	}, []string{"reason"})

	StockPaymentConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_payment_conflicts_total",
		Help: "Paid orders cancelled because stock ran out before reconciliation",
	})

	ReconcileAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_attempts_total",
		Help: "Reconciliation attempts by outcome",
	}, []string{"outcome"})

	ReconcileDuplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconcile_duplicates_total",
		Help: "Reconciliation attempts skipped because the order already left pending",
	})

	PaymentCallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_callbacks_total",
		Help: "Payment gateway callbacks by result",
	}, []string{"result"})

	CallbackSignatureFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_callback_signature_failures_total",
		Help: "Callbacks rejected for signature mismatch",
	})

	GatewayRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_request_latency_seconds",
		Help:    "Latency of outbound payment gateway requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	DiscountUsageTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "discount_usage_total",
		Help: "Discount codes consumed by placed orders",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
