// Package events defines the wire types shared by every stage of the
// pipeline: the request that starts a run, the fault-injection knobs
// carried on it, and the completion events stages post back to the
// Trigger.
package events

import "time"

// EventKind enumerates the PipelineEvent values the Trigger understands.
type EventKind string

const (
	ExtractorStarted       EventKind = "extractor_started"
	ExtractorCompleted     EventKind = "extractor_completed"
	CleanerCompleted       EventKind = "cleaner_completed"
	LoaderJSONCompleted    EventKind = "loader_json_completed"
	LoaderParquetCompleted EventKind = "loader_parquet_completed"
)

// RunRequest is submitted to the Trigger's /run endpoint and forwarded,
// with its probabilities clamped to [0,1], to the Extractor's /extract
// endpoint.
type RunRequest struct {
	Date      string `json:"date"`
	MaxOffset int    `json:"max_offset"`

	APIErrorProb float64 `json:"api_error_prob"`
	GCSErrorProb float64 `json:"gcs_error_prob"`
	RowDropProb  float64 `json:"row_drop_prob"`
	DelayProb    float64 `json:"delay_prob"`
}

// Clamp pins every probability into [0,1], per spec §4.1 numeric
// semantics ("values outside the range clamp at the bounds").
func (r *RunRequest) Clamp() {
	r.APIErrorProb = clamp01(r.APIErrorProb)
	r.GCSErrorProb = clamp01(r.GCSErrorProb)
	r.RowDropProb = clamp01(r.RowDropProb)
	r.DelayProb = clamp01(r.DelayProb)
}

func clamp01(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}

// PipelineEvent is the message any stage posts to the Trigger's event
// ingress.
type PipelineEvent struct {
	Event     EventKind `json:"event"`
	Origin    string    `json:"origin"`
	Date      string    `json:"date"`
	Timestamp time.Time `json:"timestamp"`
	Duration  *float64  `json:"duration,omitempty"`
}

// Key identifies an event for dedup purposes: a (date, event) pair.
type Key struct {
	Date  string
	Event EventKind
}

func (e PipelineEvent) Key() Key {
	return Key{Date: e.Date, Event: e.Event}
}
