package trigger

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/malawley/hygiene-pipeline/internal/events"
)

// Router builds the chi router exposing the Trigger's three operations
// plus health, per spec.md §6.
func (t *Trigger) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/run", t.handleRun)
	r.Post("/clean", t.handleClean) // misnamed for historical reasons: generic event ingress
	r.Post("/purge", t.handlePurge)
	r.Get("/health", t.handleHealth)
	return r
}

func (t *Trigger) handleRun(w http.ResponseWriter, r *http.Request) {
	var req events.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if err := t.ForwardRun(r.Context(), req); err != nil {
		slog.Error("failed to forward run to extractor", slog.Any("error", err))
		http.Error(w, "Failed to start extractor", http.StatusBadGateway)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pipeline started"))
}

func (t *Trigger) handleClean(w http.ResponseWriter, r *http.Request) {
	var evt events.PipelineEvent
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	status, msg := t.HandleEvent(r.Context(), evt)
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}

func (t *Trigger) handlePurge(w http.ResponseWriter, r *http.Request) {
	t.Cache.Purge()
	slog.Info("completion cache purged")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("cache cleared"))
}

func (t *Trigger) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","time":%q}`, time.Now().Format(time.RFC3339))
}
