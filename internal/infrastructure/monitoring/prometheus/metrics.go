package prometheus

import (
	"time"
)

// BridgeMetrics holds the metric vectors recorded by the repository layer.
type BridgeMetrics struct {
	BulkBatchesTotal        CounterVec
	DocumentsIndexedTotal   CounterVec
	IngestInFlightBatches   GaugeVec
	SearchDuration          HistogramVec
	SearchHits              HistogramVec
	PostprocessDroppedTotal CounterVec
}

var (
	DefaultSearchDurationBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	DefaultSearchHitsBuckets     = []float64{0, 1, 10, 50, 100, 500, 1000, 5000, 10000}
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// NewBridgeMetrics registers the bridge metrics on collector.  The collector's
// namespace prefixes every name, e.g. "chemsearch_bulk_batches_total".
func NewBridgeMetrics(collector MetricsCollector) *BridgeMetrics {
	if collector == nil {
		return NewNopBridgeMetrics()
	}
	return &BridgeMetrics{
		BulkBatchesTotal:        collector.RegisterCounter("bulk_batches_total", "Bulk ingest batches submitted", "index", "status"),
		DocumentsIndexedTotal:   collector.RegisterCounter("documents_indexed_total", "Documents submitted through bulk ingest", "index", "status"),
		IngestInFlightBatches:   collector.RegisterGauge("ingest_inflight_batches", "Bulk batches currently awaiting a backend response", "index"),
		SearchDuration:          collector.RegisterHistogram("search_duration_seconds", "Search request latency", DefaultSearchDurationBuckets, "index", "predicate"),
		SearchHits:              collector.RegisterHistogram("search_hits", "Hits returned per search request", DefaultSearchHitsBuckets, "index", "predicate"),
		PostprocessDroppedTotal: collector.RegisterCounter("postprocess_dropped_total", "Candidates removed by post-processing hooks", "index"),
	}
}

// NewNopBridgeMetrics returns metrics that record nothing.
func NewNopBridgeMetrics() *BridgeMetrics {
	return &BridgeMetrics{
		BulkBatchesTotal:        noopCounterVec{},
		DocumentsIndexedTotal:   noopCounterVec{},
		IngestInFlightBatches:   noopGaugeVec{},
		SearchDuration:          noopHistogramVec{},
		SearchHits:              noopHistogramVec{},
		PostprocessDroppedTotal: noopCounterVec{},
	}
}

// RecordBulkBatch records one bulk submission and its per-document outcome.
func (m *BridgeMetrics) RecordBulkBatch(index string, succeeded, failed int, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusFailure
	}
	m.BulkBatchesTotal.WithLabelValues(index, status).Inc()
	if succeeded > 0 {
		m.DocumentsIndexedTotal.WithLabelValues(index, StatusSuccess).Add(float64(succeeded))
	}
	if failed > 0 {
		m.DocumentsIndexedTotal.WithLabelValues(index, StatusFailure).Add(float64(failed))
	}
}

// SearchTimer starts timing one search request.
func (m *BridgeMetrics) SearchTimer(index, predicate string) *Timer {
	return NewTimer(m.SearchDuration.WithLabelValues(index, predicate))
}

// RecordSearch stops timer and records the hit count of the request it
// timed.  A nil timer records hits only.
func (m *BridgeMetrics) RecordSearch(timer *Timer, index, predicate string, hits int) time.Duration {
	var d time.Duration
	if timer != nil {
		d = timer.ObserveDuration()
	}
	m.SearchHits.WithLabelValues(index, predicate).Observe(float64(hits))
	return d
}

// RecordDropped counts one candidate removed by post-processing.
func (m *BridgeMetrics) RecordDropped(index string) {
	m.PostprocessDroppedTotal.WithLabelValues(index).Inc()
}
