package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersPlacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_placed_total",
		Help: "Total number of orders placed",
	})

	OrdersRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_rejected_total",
		Help: "Total number of rejected order placements",
	}, []string{"reason"})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	})

	OrdersPaidTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_paid_total",
		Help: "Total number of orders marked paid",
	})

	StockDecrementsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_decrements_total",
		Help: "Total number of applied stock decrements",
	})

	StockDecrementFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_decrement_failures_total",
		Help: "Total number of stock decrements that did not apply",
	}, []string{"reason"})

	OrderItemsSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_items_skipped_total",
		Help: "Total number of line items referencing unknown books",
	})

	StockCompensationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_compensations_total",
		Help: "Total number of compensating stock re-increments",
	})

	OrdersRestockedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_restocked_total",
		Help: "Total number of cancelled orders restocked by the worker",
	})

	StockAdjustLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stock_adjust_latency_seconds",
		Help:    "Latency of the per-order stock adjustment step",
		Buckets: prometheus.DefBuckets,
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
