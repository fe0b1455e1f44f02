package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pisafe_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pisafe_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint", "status"},
	)

	// Sensor metrics
	SensorReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pisafe_sensor_reads_total",
			Help: "Total number of sensor reads by resulting status",
		},
		[]string{"sensor", "status"}, // status: NORMAL, ALERT, ERROR
	)

	SensorValue = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pisafe_sensor_value",
			Help: "Last successfully read raw sensor value",
		},
		[]string{"sensor"},
	)

	MonitorTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pisafe_monitor_tick_duration_seconds",
			Help:    "Time taken to sample every sensor once",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 2.5, 5},
		},
	)

	MonitorRestarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pisafe_monitor_restarts_total",
			Help: "Total number of supervised monitor loop restarts",
		},
	)

	// Pipeline metrics
	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pisafe_alerts_total",
			Help: "Total number of alerts by terminal state",
		},
		[]string{"source", "state"}, // state: LOGGED, REJECTED, FAILED
	)

	AlertsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pisafe_alerts_rejected_total",
			Help: "Total number of rejected alerts by reason",
		},
		[]string{"reason"},
	)

	PipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pisafe_pipeline_duration_seconds",
			Help:    "Time from submission to terminal state",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// Notification metrics
	ChannelDispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pisafe_channel_dispatch_total",
			Help: "Total number of channel dispatches",
		},
		[]string{"channel", "status"}, // status: success, failed, timeout
	)

	ChannelDispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pisafe_channel_dispatch_duration_seconds",
			Help:    "Time taken by one channel to deliver an alert",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"channel"},
	)

	SirensActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pisafe_sirens_active",
			Help: "Number of relays currently held on",
		},
	)

	// Push transport metrics
	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pisafe_websocket_clients",
			Help: "Number of connected websocket clients",
		},
	)

	KafkaPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pisafe_kafka_publish_total",
			Help: "Total number of messages published to Kafka",
		},
		[]string{"status"}, // status: success, failed
	)

	KafkaPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pisafe_kafka_publish_retries_total",
			Help: "Total number of Kafka publish retries",
		},
	)

	// Audit metrics
	AuditWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pisafe_audit_writes_total",
			Help: "Total number of audit sink writes",
		},
		[]string{"sink", "status"},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pisafe_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
