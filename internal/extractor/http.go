package extractor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/malawley/hygiene-pipeline/internal/events"
)

// Router builds the chi router exposing /extract, /shutdown, and
// /health per spec.md §6.
func (x *Extractor) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/extract", x.handleExtract)
	r.Post("/shutdown", x.handleShutdown)
	r.Get("/health", x.handleHealth)
	return r
}

func (x *Extractor) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req events.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	go func() {
		// Detached from the request context: the run must outlive the
		// HTTP handler that kicked it off.
		if err := x.Run(context.Background(), req); err != nil {
			slog.Error("extractor run failed", slog.String("date", req.Date), slog.Any("error", err))
		}
	}()

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Extractor started"))
}

func (x *Extractor) handleShutdown(w http.ResponseWriter, r *http.Request) {
	x.ShutdownSig.Set()
	slog.Info("shutdown flag set via HTTP")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("shutdown signaled"))
}

func (x *Extractor) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
