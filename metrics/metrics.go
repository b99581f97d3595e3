package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_http_requests_total",
			Help: "HTTP requests by method, route template and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tracker_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_auth_failures_total",
			Help: "Rejected session tokens and identity verifications by reason",
		},
		[]string{"reason"},
	)

	LocationUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_location_updates_total",
			Help: "Location submissions by result (ok, invalid, error)",
		},
		[]string{"result"},
	)

	Broadcasts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_broadcasts_total",
			Help: "Realtime broadcasts by result (sent, dropped, remote)",
		},
		[]string{"result"},
	)

	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracker_ws_clients",
			Help: "Currently connected websocket clients",
		},
	)
)

// RecordHTTPRequest records one finished request.
func RecordHTTPRequest(method, route, status string, d time.Duration) {
	HTTPRequests.WithLabelValues(method, route, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
