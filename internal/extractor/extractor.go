// Package extractor implements the Extractor (C4): a resumable,
// chunked fetcher with injected-fault tolerance and per-chunk telemetry,
// per spec.md §4.1. The control structure — a sequential offset loop
// bracketed by fault gates, with a durable checkpoint advanced only on
// real success — follows the teacher's processJob loop, generalized
// from Socrata crash pages to the food-inspection feed and extended
// with the spec's fault-injection and checkpoint semantics the teacher
// doesn't have.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/malawley/hygiene-pipeline/internal/events"
	"github.com/malawley/hygiene-pipeline/internal/faults"
	"github.com/malawley/hygiene-pipeline/internal/feed"
	"github.com/malawley/hygiene-pipeline/internal/manifest"
	"github.com/malawley/hygiene-pipeline/internal/objectstore"
	"github.com/malawley/hygiene-pipeline/internal/telemetry"
)

// ChunkSize is the fixed unit of extraction (spec.md Glossary).
const ChunkSize = 1000

// exhaustionSentinel is the heuristic response-length terminator the
// spec flags as a known weak point (§9 Open Question (b)): prefer
// treating an explicitly empty JSON array as the real terminator, and
// fall back to this sentinel only when the body is shorter than this
// many bytes and does not start with '['.
const exhaustionSentinel = 100

// Notifier posts PipelineEvents to the Trigger. Best-effort: a failed
// send is logged, never fatal (§7).
type Notifier interface {
	Notify(ctx context.Context, evt events.PipelineEvent) error
}

// Extractor runs the chunked-fetch loop against a Store, a feed Client,
// and a telemetry Sink.
type Extractor struct {
	Store       objectstore.Store
	Bucket      string
	RawPrefix   string
	Feed        *feed.Client
	Metrics     *telemetry.Sink
	Notifier    Notifier
	ChunkSize   int
	DelayAfter  time.Duration // real clock sleep for the delay fault gate; spec.md calls for 2s
	ShutdownSig *ShutdownFlag
}

// New constructs an Extractor with the spec's defaults (chunk size 1000,
// 2s delay gate).
func New(store objectstore.Store, bucket, rawPrefix string, f *feed.Client, metrics *telemetry.Sink, notifier Notifier) *Extractor {
	return &Extractor{
		Store:       store,
		Bucket:      bucket,
		RawPrefix:   rawPrefix,
		Feed:        f,
		Metrics:     metrics,
		Notifier:    notifier,
		ChunkSize:   ChunkSize,
		DelayAfter:  2 * time.Second,
		ShutdownSig: NewShutdownFlag(),
	}
}

// ShutdownFlag is the cooperative shutdown signal: set by /shutdown,
// checked once per chunk (§5).
type ShutdownFlag struct {
	ch chan struct{}
}

func NewShutdownFlag() *ShutdownFlag {
	return &ShutdownFlag{ch: make(chan struct{})}
}

func (f *ShutdownFlag) Set() {
	select {
	case <-f.ch:
		// already set
	default:
		close(f.ch)
	}
}

func (f *ShutdownFlag) IsSet() bool {
	select {
	case <-f.ch:
		return true
	default:
		return false
	}
}

// Run executes the full algorithm in spec.md §4.1 steps 1-5 for a single
// RunRequest. It is safe to call from a goroutine spawned by the
// /extract handler; Run itself is synchronous.
func (x *Extractor) Run(ctx context.Context, req events.RunRequest) error {
	req.Clamp()
	start := time.Now()
	attemptID := uuid.New().String()
	log := slog.With(slog.String("date", req.Date), slog.String("attempt_id", attemptID))

	x.notify(ctx, events.PipelineEvent{
		Event:     events.ExtractorStarted,
		Origin:    "extractor",
		Date:      req.Date,
		Timestamp: time.Now().UTC(),
	})

	chunkSize := x.ChunkSize
	if chunkSize <= 0 {
		chunkSize = ChunkSize
	}

	offset0 := readCheckpoint(ctx, x.Store, x.Bucket)
	offset := offset0
	var files []string
	var runErr error

	apiGate := faults.NewGate(req.APIErrorProb, nil)
	gcsGate := faults.NewGate(req.GCSErrorProb, nil)
	delayGate := faults.NewGate(req.DelayProb, nil)

	for {
		chunkStart := time.Now()

		if x.ShutdownSig != nil && x.ShutdownSig.IsSet() {
			log.Info("shutdown flag set, stopping run", slog.Int("offset", offset))
			break
		}

		// (a) Fault gate — API.
		if apiGate.Trip() {
			x.recordMetric(ctx, req.Date, telemetry.ChunkMetric{
				Offset:               offset,
				FetchSkipped:         true,
				ChunkDurationSeconds: time.Since(chunkStart).Seconds(),
				Timestamp:            time.Now().UTC(),
			}, log)
			offset += chunkSize
			if x.reachedBound(req, offset0, offset) {
				break
			}
			continue
		}

		// (b) Fetch, with bounded exponential-backoff retry.
		body, err := x.Feed.FetchPage(ctx, chunkSize, offset)
		if err != nil {
			log.Error("fetch failed after retries, stopping run", slog.Int("offset", offset), slog.Any("error", err))
			runErr = fmt.Errorf("fetch offset %d: %w", offset, err)
			break
		}

		// (c) Exhaustion test — prefer the real signal (an empty parsed
		// array) and fall back to the length heuristic only when the
		// body is short and does not start with '['.
		trimmed := bytes.TrimSpace(body)
		if len(trimmed) < exhaustionSentinel && !looksLikeArray(trimmed) {
			log.Info("no more data to fetch", slog.Int("offset", offset))
			break
		}

		// (d) Parse.
		var records []json.RawMessage
		if err := json.Unmarshal(body, &records); err != nil {
			log.Error("failed to parse feed response, stopping run", slog.Int("offset", offset), slog.Any("error", err))
			runErr = fmt.Errorf("parse feed response at offset %d: %w", offset, err)
			break
		}
		if len(records) == 0 {
			log.Info("no more data to fetch", slog.Int("offset", offset))
			break
		}

		// (e) Row drop.
		dropGate := faults.NewGate(req.RowDropProb, nil)
		var kept []json.RawMessage
		dropped := 0
		for _, rec := range records {
			if dropGate.Trip() {
				dropped++
				continue
			}
			kept = append(kept, rec)
		}

		// (f) Serialize retained records as NDJSON.
		var buf bytes.Buffer
		for _, rec := range kept {
			buf.Write(rec)
			buf.WriteByte('\n')
		}

		// (g) Fault gate — GCS.
		if gcsGate.Trip() {
			x.recordMetric(ctx, req.Date, telemetry.ChunkMetric{
				Offset:               offset,
				RowsExtracted:        0,
				RowsDropped:          dropped,
				GCSWriteSkipped:      true,
				ChunkDurationSeconds: time.Since(chunkStart).Seconds(),
				Timestamp:            time.Now().UTC(),
			}, log)
			offset += chunkSize
			if x.reachedBound(req, offset0, offset) {
				break
			}
			continue
		}

		// (h) Delay gate.
		delayApplied := false
		if delayGate.Trip() {
			delayApplied = true
			select {
			case <-time.After(x.DelayAfter):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		// (i) Write the NDJSON blob.
		objectName := fmt.Sprintf("%s/%s/offset_%d.json", x.RawPrefix, req.Date, offset)
		if err := x.Store.Put(ctx, x.Bucket, objectName, buf.Bytes(), "application/x-ndjson"); err != nil {
			log.Error("failed to write chunk, stopping run", slog.String("object", objectName), slog.Any("error", err))
			runErr = fmt.Errorf("write chunk at offset %d: %w", offset, err)
			break
		}

		// (j) Append filename, emit metric.
		files = append(files, fmt.Sprintf("offset_%d.json", offset))
		x.recordMetric(ctx, req.Date, telemetry.ChunkMetric{
			Offset:               offset,
			RowsExtracted:        len(kept),
			RowsDropped:          dropped,
			DelayApplied:         delayApplied,
			ChunkDurationSeconds: time.Since(chunkStart).Seconds(),
			Timestamp:            time.Now().UTC(),
		}, log)

		// (k) Advance offset and persist checkpoint — only durable
		// success reaches this line.
		offset += chunkSize
		if err := writeCheckpoint(ctx, x.Store, x.Bucket, offset); err != nil {
			log.Error("failed to write checkpoint", slog.Any("error", err))
		}

		// (l) Bound check.
		if x.reachedBound(req, offset0, offset) {
			log.Info("reached max_offset, stopping early", slog.Int("offset", offset))
			break
		}
	}

	// On a genuine-failure break (fetch exhausted retries, unparseable
	// response, durable write failure) the manifest must stay unwritten
	// and extractor_completed must not fire — an absent manifest is the
	// only signal downstream stages trust for "not done" (§4.3).
	if runErr != nil {
		return runErr
	}

	if err := x.writeManifest(ctx, req.Date, files); err != nil {
		log.Error("failed to write manifest", slog.Any("error", err))
		return err
	}

	duration := time.Since(start).Seconds()
	x.notify(ctx, events.PipelineEvent{
		Event:     events.ExtractorCompleted,
		Origin:    "extractor",
		Date:      req.Date,
		Timestamp: time.Now().UTC(),
		Duration:  &duration,
	})
	return nil
}

func (x *Extractor) reachedBound(req events.RunRequest, offset0, offset int) bool {
	return req.MaxOffset > 0 && offset >= offset0+req.MaxOffset
}

func (x *Extractor) writeManifest(ctx context.Context, date string, files []string) error {
	return manifest.Write(ctx, x.Store, x.Bucket, x.RawPrefix, date, files)
}

func (x *Extractor) recordMetric(ctx context.Context, date string, m telemetry.ChunkMetric, log *slog.Logger) {
	if x.Metrics == nil {
		return
	}
	if err := x.Metrics.Record(ctx, date, m); err != nil {
		log.Warn("telemetry write failed", slog.Any("error", err))
	}
}

func (x *Extractor) notify(ctx context.Context, evt events.PipelineEvent) {
	if x.Notifier == nil {
		return
	}
	if err := x.Notifier.Notify(ctx, evt); err != nil {
		slog.Warn("failed to notify trigger", slog.String("event", string(evt.Event)), slog.Any("error", err))
	}
}

func looksLikeArray(trimmed []byte) bool {
	return strings.HasPrefix(string(trimmed), "[")
}
