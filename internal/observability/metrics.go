package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OffersProposed = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "kwenda_dispatch", Name: "offers_proposed_total", Help: "Offers sent to drivers"},
		[]string{"kind"},
	)
	OffersAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "kwenda_dispatch", Name: "offers_accepted_total", Help: "Offers accepted by drivers"},
		[]string{"kind"},
	)
	OffersRejected = promauto.NewCounter(prometheus.CounterOpts{Namespace: "kwenda_dispatch", Name: "offers_rejected_total", Help: "Offers rejected by drivers"})
	OffersExpired  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "kwenda_dispatch", Name: "offers_expired_total", Help: "Offers expired before a response"})

	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "kwenda_dispatch", Name: "status_transitions_total", Help: "Order status transitions"},
		[]string{"kind", "status"},
	)

	ActiveOrders  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "kwenda_dispatch", Name: "active_orders", Help: "Orders currently held by drivers"})
	DriversOnline = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "kwenda_dispatch", Name: "drivers_online", Help: "Drivers currently online"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "kwenda_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kwenda_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
