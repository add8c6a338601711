package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/malawley/hygiene-pipeline/internal/events"
)

var (
	eventsRoutedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trigger_events_routed_total",
			Help: "Events routed by the trigger, labeled by event and outcome.",
		},
		[]string{"event", "outcome"}, // outcome=noop/forwarded/duplicate/terminal/unknown/forward_failed
	)
)

// Dispatcher posts a payload to a downstream worker URL. Production code
// uses httpDispatcher; tests can substitute a fake.
type Dispatcher interface {
	Dispatch(ctx context.Context, url string, payload any) error
}

// httpDispatcher POSTs JSON and treats any non-2xx or transport error as
// a dispatch failure, matching forwardToService's fire-and-log style.
type httpDispatcher struct {
	client *http.Client
}

func newHTTPDispatcher() *httpDispatcher {
	return &httpDispatcher{client: &http.Client{Timeout: 10 * time.Second}}
}

func (d *httpDispatcher) Dispatch(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("post %s: status %d: %s", url, resp.StatusCode, string(b))
	}
	return nil
}

// Trigger is the pipeline orchestrator (C6): it forwards /run to the
// Extractor, routes completion events per the state machine in
// spec.md §4.2, dedups via CompletionCache, and logs per-stage
// durations.
type Trigger struct {
	Services   ServiceURLs
	Cache      *CompletionCache
	Durations  *DurationLog
	Dispatcher Dispatcher

	// EnableJSONLoader toggles the optional cleaner -> loader_json ->
	// loader_parquet branch vs. the direct cleaner -> loader_parquet
	// path (spec.md §9 "Optional JSON loader branch").
	EnableJSONLoader bool
}

// New constructs a Trigger wired to real HTTP dispatch.
func New(services ServiceURLs, enableJSONLoader bool, durationsDir string) *Trigger {
	return &Trigger{
		Services:         services,
		Cache:            NewCompletionCache(),
		Durations:        NewDurationLog(durationsDir),
		Dispatcher:       newHTTPDispatcher(),
		EnableJSONLoader: enableJSONLoader,
	}
}

// ForwardRun POSTs a RunRequest, including its fault-injection
// probabilities clamped to [0,1], to the Extractor's /extract endpoint.
func (t *Trigger) ForwardRun(ctx context.Context, req events.RunRequest) error {
	req.Clamp()
	return t.Dispatcher.Dispatch(ctx, t.Services.Extractor.URL, req)
}

// datePayload is the {date} body every downstream worker receives.
type datePayload struct {
	Date string `json:"date"`
}

// HandleEvent implements the routing table in spec.md §4.2: dedup,
// duration logging, then route-by-event. It returns (statusCode,
// message) so the HTTP layer can translate it into a response.
func (t *Trigger) HandleEvent(ctx context.Context, evt events.PipelineEvent) (int, string) {
	key := evt.Key()
	if !t.Cache.CheckAndInsert(key) {
		slog.Warn("duplicate event ignored", slog.String("event", string(evt.Event)), slog.String("date", evt.Date))
		eventsRoutedTotal.WithLabelValues(string(evt.Event), "duplicate").Inc()
		return http.StatusOK, "duplicate ignored"
	}

	if evt.Duration != nil {
		t.Durations.Append(evt.Origin, evt.Date, string(evt.Event), *evt.Duration)
	}

	switch evt.Event {
	case events.ExtractorStarted:
		eventsRoutedTotal.WithLabelValues(string(evt.Event), "noop").Inc()
		return http.StatusOK, "trigger handled successfully"

	case events.ExtractorCompleted:
		t.forward(ctx, evt, t.Services.Cleaner.URL, "cleaner")

	case events.CleanerCompleted:
		if t.EnableJSONLoader {
			t.forward(ctx, evt, t.Services.Loader.URL, "loader-json")
		} else {
			t.forward(ctx, evt, t.Services.LoaderParquet.URL, "loader-parquet")
		}

	case events.LoaderJSONCompleted:
		if t.EnableJSONLoader {
			t.forward(ctx, evt, t.Services.LoaderParquet.URL, "loader-parquet")
		} else {
			slog.Warn("loader_json_completed received but JSON branch disabled", slog.String("date", evt.Date))
			eventsRoutedTotal.WithLabelValues(string(evt.Event), "unknown").Inc()
		}

	case events.LoaderParquetCompleted:
		slog.Info("pipeline completed", slog.String("date", evt.Date))
		eventsRoutedTotal.WithLabelValues(string(evt.Event), "terminal").Inc()

	default:
		slog.Warn("unknown event, dropping", slog.String("event", string(evt.Event)))
		eventsRoutedTotal.WithLabelValues(string(evt.Event), "unknown").Inc()
	}

	return http.StatusOK, "trigger handled successfully"
}

func (t *Trigger) forward(ctx context.Context, evt events.PipelineEvent, url, label string) {
	if url == "" {
		slog.Warn("no URL configured for stage, skipping forward", slog.String("stage", label))
		eventsRoutedTotal.WithLabelValues(string(evt.Event), "forward_failed").Inc()
		return
	}
	if err := t.Dispatcher.Dispatch(ctx, url, datePayload{Date: evt.Date}); err != nil {
		slog.Error("forward failed", slog.String("stage", label), slog.Any("error", err))
		eventsRoutedTotal.WithLabelValues(string(evt.Event), "forward_failed").Inc()
		return
	}
	slog.Info("forwarded", slog.String("stage", label), slog.String("date", evt.Date))
	eventsRoutedTotal.WithLabelValues(string(evt.Event), "forwarded").Inc()
}
