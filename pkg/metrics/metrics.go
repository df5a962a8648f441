package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ingestion metrics: one counter incremented once per processed
	// message, labeled by the routing pair and the reply status it
	// produced.
	MessagesIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dwn_messages_ingested_total",
			Help: "Total number of messages processed, by interface, method and reply status",
		},
		[]string{"interface", "method", "status"},
	)

	MessageProcessDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dwn_message_process_duration_seconds",
			Help:    "Time to process a message end to end, by interface and method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"interface", "method"},
	)

	// Index/store metrics.
	IndexQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dwn_index_query_duration_seconds",
			Help:    "Time to evaluate an index query, by strategy (concise or iterator)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	MessageStoreSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dwn_message_store_records",
			Help: "Number of messages currently persisted, by tenant",
		},
		[]string{"tenant"},
	)

	// Blob store metrics.
	BlobBytesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dwn_blob_bytes_written_total",
			Help: "Total bytes written to the blob store, by tenant",
		},
		[]string{"tenant"},
	)

	BlobBytesReclaimedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dwn_blob_bytes_reclaimed_total",
			Help: "Total bytes reclaimed from the blob store on last-reference delete, by tenant",
		},
		[]string{"tenant"},
	)

	// Event stream metrics.
	EventStreamSubscribersGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dwn_event_stream_subscribers",
			Help: "Current number of open event-stream subscriptions, by tenant",
		},
		[]string{"tenant"},
	)

	EventsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dwn_events_emitted_total",
			Help: "Total events emitted to subscribers, by tenant",
		},
		[]string{"tenant"},
	)

	// Authorization metrics.
	AuthorizationDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dwn_authorization_denials_total",
			Help: "Total authorization denials, by reason code",
		},
		[]string{"code"},
	)

	// Conflict resolution metrics.
	RecordsWriteConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dwn_records_write_conflicts_total",
			Help: "Total RecordsWrite messages rejected as older than the current latest state, by tenant",
		},
		[]string{"tenant"},
	)
)

func init() {
	prometheus.MustRegister(
		MessagesIngestedTotal,
		MessageProcessDuration,
		IndexQueryDuration,
		MessageStoreSize,
		BlobBytesWrittenTotal,
		BlobBytesReclaimedTotal,
		EventStreamSubscribersGauge,
		EventsEmittedTotal,
		AuthorizationDenialsTotal,
		RecordsWriteConflictsTotal,
	)
}

// Handler returns the Prometheus HTTP handler for a /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations: start one at the top of a
// handler, observe its duration into the relevant histogram when done.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer running from now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram vec.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
