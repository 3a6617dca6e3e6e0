package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kalambet/whatson/internal/event"
	"github.com/kalambet/whatson/internal/search"
)

type SearchRequest struct {
	Query string `json:"query"`
}

type StructuredSearchRequest struct {
	Intent search.Intent `json:"intent"`
}

// SearchResponse carries the intent as it was applied, so callers can see
// how their words were read.
type SearchResponse struct {
	Intent search.Intent `json:"intent"`
	Events []event.Event `json:"events"`
	// Degraded is set when the store could not be searched and Events is
	// empty for that reason rather than because nothing matched.
	Degraded bool `json:"degraded,omitempty"`
}

// handleSearchText serves both GET ?q= and POST {query}. An ambiguous query
// is not an error: it degrades to a broad search.
func handleSearchText(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if r.Method == http.MethodPost {
			var req SearchRequest
			if !decodeBody(w, r, maxRequestBodySize, &req) {
				return
			}
			query = req.Query
		}

		in := deps.Parser.Parse(r.Context(), strings.TrimSpace(query), deps.now())
		in.Limit = parseIntParam(r, "limit", 0, 0)
		runSearch(w, r, deps, in, "text")
	}
}

func handleSearchStructured(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StructuredSearchRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		runSearch(w, r, deps, req.Intent, "structured")
	}
}

func runSearch(w http.ResponseWriter, r *http.Request, deps AppDeps, in search.Intent, surface string) {
	events, err := deps.Search.Search(r.Context(), in, surface)
	if errors.Is(err, search.ErrInvalidIntent) {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return
	}
	resp := SearchResponse{Intent: deps.Search.Normalize(in), Events: events}
	if err != nil {
		slog.Warn("search degraded to no results", "surface", surface, "error", err)
		resp.Events, resp.Degraded = []event.Event{}, true
	}
	writeJSON(w, http.StatusOK, resp)
}
