// Package api exposes the HTTP entrypoints and the MCP tool server.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/whatson/internal/chat"
	"github.com/kalambet/whatson/internal/ingest"
	"github.com/kalambet/whatson/internal/intent"
	"github.com/kalambet/whatson/internal/profile"
	"github.com/kalambet/whatson/internal/search"
	"github.com/kalambet/whatson/internal/source"
	"github.com/kalambet/whatson/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

const requestTimeout = 60 * time.Second

type AppDeps struct {
	Store       *storage.Store
	Search      *search.Executor
	Parser      *intent.Parser
	Chat        *chat.Orchestrator
	Coordinator *ingest.Coordinator
	Sources     *source.Registry // optional; unknown source names get a bare descriptor
	Profile     *profile.Manager
	Token       string
	Clock       func() time.Time
}

func (d AppDeps) now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return time.Now()
}

// NewRouter builds the HTTP handler. /health and /metrics are open; every
// other route requires the bearer token when one is configured.
func NewRouter(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/ingest", handleIngest(deps))
		r.Post("/ingest/runs", handleStartRun(deps))
		r.Get("/ingest/runs", handleListRuns(deps))
		r.Get("/ingest/runs/{id}", handleGetRun(deps))
		r.Get("/sources", handleListSources(deps))

		r.Get("/search", handleSearchText(deps))
		r.Post("/search", handleSearchText(deps))
		r.Post("/search/structured", handleSearchStructured(deps))

		r.Post("/chat", handleChat(deps))
		r.Get("/chat/{id}", handleGetSession(deps))
		r.Delete("/chat/{id}", handleCloseSession(deps))

		r.Get("/events", handleListEvents(deps))
		r.Get("/events/review", handleListReview(deps))
		r.Get("/events/{id}", handleGetEvent(deps))
		r.Post("/events/{id}/review", handleClearReview(deps))

		r.Get("/users/{id}/profile", handleGetProfile(deps))
		r.Patch("/users/{id}/profile", handlePatchProfile(deps))
		r.Post("/users/{id}/interactions", handleRecordInteraction(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
