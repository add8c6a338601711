// Package telemetry implements the Telemetry Sink (C2) described in
// spec.md §3: one ChunkMetric row per attempted chunk, real or
// fault-skipped. The Prometheus instrumentation follows the teacher's
// promauto metrics block; the durable append-only row store is modeled
// as newline-delimited JSON objects under the object store, since the
// warehouse table itself (BigQuery in the original) is out of scope.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/malawley/hygiene-pipeline/internal/objectstore"
)

// ChunkMetric is one record per attempted chunk.
type ChunkMetric struct {
	Offset               int       `json:"offset"`
	RowsExtracted        int       `json:"rows_extracted"`
	RowsDropped          int       `json:"rows_dropped"`
	ChunkDurationSeconds float64   `json:"chunk_duration_seconds"`
	DelayApplied         bool      `json:"delay_applied"`
	FetchSkipped         bool      `json:"fetch_skipped"`
	GCSWriteSkipped      bool      `json:"gcs_write_skipped"`
	Timestamp            time.Time `json:"timestamp"`
}

var (
	chunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extractor_chunks_total",
			Help: "Total chunks attempted, labeled by outcome.",
		},
		[]string{"outcome"}, // success, api_skipped, gcs_skipped
	)

	rowsExtractedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extractor_rows_extracted_total",
			Help: "Total rows retained after row-drop fault gate.",
		},
		[]string{"date"},
	)

	rowsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extractor_rows_dropped_total",
			Help: "Total rows dropped by the row_drop_prob fault gate.",
		},
		[]string{"date"},
	)

	chunkDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "extractor_chunk_duration_seconds",
			Help:    "Duration of a single chunk iteration.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"date"},
	)

	delaysAppliedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extractor_delays_applied_total",
			Help: "Total chunks that hit the delay_prob fault gate.",
		},
		[]string{"date"},
	)
)

// Sink is the durable per-chunk metrics table, one NDJSON blob per date.
type Sink struct {
	store  objectstore.Store
	bucket string
	prefix string
}

// NewSink constructs a Sink writing under bucket/prefix/{date}/metrics.ndjson.
func NewSink(store objectstore.Store, bucket, prefix string) *Sink {
	return &Sink{store: store, bucket: bucket, prefix: prefix}
}

func (s *Sink) path(date string) string {
	return fmt.Sprintf("%s/%s/metrics.ndjson", s.prefix, date)
}

// Record appends one ChunkMetric to the date's durable row table and
// updates the Prometheus counters/histograms. Telemetry write failures
// are logged by the caller and never treated as fatal (§7).
func (s *Sink) Record(ctx context.Context, date string, m ChunkMetric) error {
	outcome := "success"
	switch {
	case m.FetchSkipped:
		outcome = "api_skipped"
	case m.GCSWriteSkipped:
		outcome = "gcs_skipped"
	}
	chunksTotal.WithLabelValues(outcome).Inc()
	rowsExtractedTotal.WithLabelValues(date).Add(float64(m.RowsExtracted))
	rowsDroppedTotal.WithLabelValues(date).Add(float64(m.RowsDropped))
	chunkDurationSeconds.WithLabelValues(date).Observe(m.ChunkDurationSeconds)
	if m.DelayApplied {
		delaysAppliedTotal.WithLabelValues(date).Inc()
	}

	line, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal chunk metric: %w", err)
	}
	line = append(line, '\n')

	key := s.path(date)
	existing, err := s.store.Get(ctx, s.bucket, key)
	if err != nil && !objectstore.IsNotExist(err) {
		return fmt.Errorf("read metrics sink: %w", err)
	}
	combined := append(existing, line...)
	if err := s.store.Put(ctx, s.bucket, key, combined, "application/x-ndjson"); err != nil {
		return fmt.Errorf("write metrics sink: %w", err)
	}
	return nil
}
