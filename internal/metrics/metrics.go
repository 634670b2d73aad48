package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DownloadsProcessed tracks processed messages by outcome
	DownloadsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetchd_downloads_processed_total",
			Help: "Total number of download messages processed",
		},
		[]string{"outcome"},
	)

	// DownloadErrors tracks classified failures by category
	DownloadErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetchd_download_errors_total",
			Help: "Total number of classified download failures",
		},
		[]string{"category"},
	)

	// RetriesScheduled tracks retries scheduled onto the delay queue
	RetriesScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fetchd_retries_scheduled_total",
			Help: "Total number of retries scheduled",
		},
	)

	// NotificationsSent tracks fan-out notification attempts by status
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetchd_notifications_total",
			Help: "Total number of completion notifications enqueued",
		},
		[]string{"status"},
	)

	// IncidentsCreated tracks incidents raised on terminal failures
	IncidentsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fetchd_incidents_created_total",
			Help: "Total number of incidents created",
		},
	)

	// DownloadDuration tracks end-to-end download+upload latency
	DownloadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fetchd_download_duration_seconds",
			Help:    "Download and store latency in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	// BatchSize tracks the number of messages per consumed batch
	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fetchd_batch_size",
			Help:    "Messages per consumed batch",
			Buckets: []float64{1, 2, 5, 10, 20, 50},
		},
	)

	// QueueDepth tracks entries waiting on the stream plus the delay set
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fetchd_queue_depth",
			Help: "Download requests waiting or delayed",
		},
	)

	// DBOpenConnections tracks open connections in the pool
	DBOpenConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fetchd_db_open_connections",
			Help: "Open PostgreSQL connections",
		},
	)

	// DBWaitCount tracks cumulative waits for a free connection
	DBWaitCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fetchd_db_wait_count",
			Help: "Cumulative waits for a database connection",
		},
	)
)
