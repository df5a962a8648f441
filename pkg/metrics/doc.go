/*
Package metrics provides Prometheus metrics collection and exposition for
the DWN core.

The metrics package defines and registers every metric using the
Prometheus client library, providing observability into message
ingestion, index query cost, event-stream fanout, and blob-store
storage pressure. Metrics are exposed via an HTTP endpoint for scraping
by a Prometheus server.

# Metrics Catalog

Ingestion:

dwn_messages_ingested_total{interface, method, status}:
  - Type: Counter
  - Description: Total messages processed, by (interface, method) and reply status
  - Example: dwn_messages_ingested_total{interface="Records",method="Write",status="202"} 412

dwn_message_process_duration_seconds{interface, method}:
  - Type: Histogram
  - Description: End-to-end processing time for ProcessMessage

Index / message store:

dwn_index_query_duration_seconds{strategy}:
  - Type: Histogram
  - Description: Time to evaluate an index query, labeled "concise" or "iterator"

dwn_message_store_records{tenant}:
  - Type: Gauge
  - Description: Number of messages currently persisted, by tenant

Blob store:

dwn_blob_bytes_written_total{tenant}:
  - Type: Counter
  - Description: Bytes written to the shared per-tenant blob area

dwn_blob_bytes_reclaimed_total{tenant}:
  - Type: Counter
  - Description: Bytes reclaimed when a blob's last reference is deleted

Event stream:

dwn_event_stream_subscribers{tenant}:
  - Type: Gauge
  - Description: Current open subscriptions, by tenant

dwn_events_emitted_total{tenant}:
  - Type: Counter
  - Description: Total events delivered to subscribers, by tenant

Authorization / conflicts:

dwn_authorization_denials_total{code}:
  - Type: Counter
  - Description: Authorization denials, labeled by dwnerrors.Code

dwn_records_write_conflicts_total{tenant}:
  - Type: Counter
  - Description: RecordsWrite messages rejected as older than the current latest state

# Usage

	import "github.com/nodeledger/dwn-core/pkg/metrics"

	timer := metrics.NewTimer()
	// ... process a message ...
	timer.ObserveDurationVec(metrics.MessageProcessDuration, "Records", "Write")
	metrics.MessagesIngestedTotal.WithLabelValues("Records", "Write", "202").Inc()

	// Expose the scrape endpoint
	http.Handle("/metrics", metrics.Handler())

# Design Patterns

Package Init Registration:
  - Every metric is registered in init()
  - MustRegister panics on duplicate registration, catching a
    copy-pasted metric name at process start rather than at scrape time

Dimensional Labels:
  - Tenant, interface/method and status are carried as labels rather
    than separate metric names, keeping the catalog small while still
    letting a dashboard slice by any of them
*/
package metrics
