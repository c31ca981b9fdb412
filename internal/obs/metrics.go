package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsAccepted      = promauto.NewCounter(prometheus.CounterOpts{Name: "hellotls_connections_accepted_total", Help: "Connections accepted from the listener"})
	ConnectionsRejected      = promauto.NewCounter(prometheus.CounterOpts{Name: "hellotls_connections_rejected_total", Help: "Connections closed by admission control"})
	ActiveHandlers           = promauto.NewGauge(prometheus.GaugeOpts{Name: "hellotls_active_handlers", Help: "Live connection handler goroutines"})
	ResponsesSent            = promauto.NewCounter(prometheus.CounterOpts{Name: "hellotls_responses_sent_total", Help: "Responses written and flushed"})
	ErrorsTotal              = promauto.NewCounterVec(prometheus.CounterOpts{Name: "hellotls_errors_total", Help: "Errors by kind"}, []string{"kind"})
	HandshakeDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{Name: "hellotls_handshake_duration_seconds", Help: "TLS handshake duration, successful or not", Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16)})
)
