package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Feed metrics
	MessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gnss_messages_received_total",
			Help: "Total number of feed messages received by channel",
		},
		[]string{"channel"},
	)

	MessagesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gnss_messages_processed_total",
			Help: "Total number of feed messages handled by kind and result",
		},
		[]string{"kind", "result"},
	)

	MessagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gnss_messages_dropped_total",
			Help: "Total number of feed messages dropped by reason",
		},
		[]string{"reason"},
	)

	MessageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gnss_message_processing_duration_seconds",
			Help:    "Feed message processing duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gnss_ingest_queue_depth",
			Help: "Number of feed messages waiting for a worker",
		},
	)

	BrokerConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gnss_mqtt_connected",
			Help: "Whether the ingestor is connected to the broker (1 = connected)",
		},
	)

	DevicesCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gnss_devices_created_total",
			Help: "Total number of devices created by origin",
		},
		[]string{"origin"},
	)

	// Geofence metrics
	GeofenceEvaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gnss_geofence_evaluations_total",
			Help: "Total number of geofence evaluations by resulting status",
		},
		[]string{"status"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gnss_api_requests_total",
			Help: "Total number of API requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gnss_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

func init() {
	prometheus.MustRegister(MessagesReceived)
	prometheus.MustRegister(MessagesProcessed)
	prometheus.MustRegister(MessagesDropped)
	prometheus.MustRegister(MessageDuration)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(BrokerConnected)
	prometheus.MustRegister(DevicesCreated)
	prometheus.MustRegister(GeofenceEvaluations)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures the duration of one operation
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDurationVec records the elapsed time on the labelled histogram
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
