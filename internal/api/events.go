package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/whatson/internal/event"
	"github.com/kalambet/whatson/internal/search"
	"github.com/kalambet/whatson/internal/storage"
)

// degradedHeader marks a browse page that is empty because the store failed.
const degradedHeader = "X-Whatson-Degraded"

// handleListEvents browses upcoming events in start order.
func handleListEvents(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		in := search.Intent{
			Category: r.URL.Query().Get("category"),
			Limit:    parseIntParam(r, "limit", 20, 100),
			Offset:   parseIntParam(r, "offset", 0, 0),
		}
		events, err := deps.Search.Search(r.Context(), in, "browse")
		if err != nil {
			// Browsing shows an empty page rather than an error.
			slog.Warn("listing events", "error", err)
			w.Header().Set(degradedHeader, "true")
			events = []event.Event{}
		}
		writeJSON(w, http.StatusOK, events)
	}
}

// handleListReview lists low-confidence events waiting for a reviewer,
// including ones that already started.
func handleListReview(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flagged := true
		events, err := deps.Store.QueryEvents(r.Context(), storage.EventQuery{
			NeedsReview: &flagged,
			Limit:       parseIntParam(r, "limit", 50, 500),
			Offset:      parseIntParam(r, "offset", 0, 0),
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list flagged events: %v", err)
			return
		}
		if events == nil {
			events = []event.Event{}
		}
		writeJSON(w, http.StatusOK, events)
	}
}

func handleGetEvent(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := deps.Store.GetEvent(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "event not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get event: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, e)
	}
}

// handleClearReview is the reviewer's approval. It is the only way the
// review flag is cleared.
func handleClearReview(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		err := deps.Store.ClearReview(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "event not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to clear review flag: %v", err)
			return
		}
		slog.Info("event approved", "event_id", id)
		writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
	}
}
