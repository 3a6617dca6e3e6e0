package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/whatson/internal/ingest"
	"github.com/kalambet/whatson/internal/source"
	"github.com/kalambet/whatson/internal/storage"
)

const maxIngestBodySize = 10 << 20 // 10MB

// IngestRequest is raw listing content pushed by an external scraper.
// PDF content is base64 encoded; everything else is sent as text.
type IngestRequest struct {
	Source      string `json:"source"`
	SourceURL   string `json:"source_url"`
	ContentType string `json:"content_type"`
	Content     string `json:"content"`
	Tier        string `json:"tier,omitempty"`
}

type RunRequest struct {
	Sources []string `json:"sources,omitempty"`
}

// RunSummary is one stored run. Report is nil when the stored JSON could not
// be decoded.
type RunSummary struct {
	ID       string            `json:"id"`
	Ingested int               `json:"ingested"`
	Skipped  int               `json:"skipped"`
	Failed   int               `json:"failed"`
	Report   *ingest.RunReport `json:"report,omitempty"`
}

func handleIngest(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req IngestRequest
		if !decodeBody(w, r, maxIngestBodySize, &req) {
			return
		}

		if req.Source == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "source is required")
			return
		}
		if req.SourceURL == "" || req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "source_url and content are required")
			return
		}

		mediaType, _, err := mime.ParseMediaType(req.ContentType)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid content_type %q", req.ContentType)
			return
		}

		var content []byte
		switch mediaType {
		case "application/pdf":
			content, err = base64.StdEncoding.DecodeString(req.Content)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
				return
			}
		case "application/json", "application/ld+json", "text/html", "application/xhtml+xml", "text/plain":
			content = []byte(req.Content)
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unsupported content_type %q", mediaType)
			return
		}

		desc := source.Descriptor{Name: req.Source}
		if deps.Sources != nil {
			if d, ok := deps.Sources.Get(req.Source); ok {
				desc = d
			}
		}

		res, err := deps.Coordinator.IngestPayload(r.Context(), ingest.Payload{
			Source:      desc,
			SourceURL:   req.SourceURL,
			ContentType: mediaType,
			Content:     content,
			Tier:        source.Tier(req.Tier),
		})
		if errors.Is(err, ingest.ErrInvalidPayload) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "ingestion interrupted: %v", err)
			return
		}
		if res.EventIDs == nil {
			res.EventIDs = []string{}
		}

		slog.Info("payload ingested", "source", res.Source, "status", res.Status, "tier", res.Tier, "created", res.Created, "updated", res.Updated)
		writeJSON(w, http.StatusOK, res)
	}
}

func handleStartRun(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RunRequest
		if r.ContentLength != 0 && !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}

		if len(req.Sources) > 0 && deps.Sources != nil {
			if _, unknown := deps.Sources.Lookup(req.Sources); len(unknown) > 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown sources: %s", strings.Join(unknown, ", "))
				return
			}
		}

		jobID, err := ingest.EnqueueRun(r.Context(), deps.Store, req.Sources)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue run: %v", err)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{
			"job_id": jobID,
			"status": "queued",
		})
	}
}

func handleListRuns(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		runs, err := deps.Store.ListRuns(r.Context(), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list runs: %v", err)
			return
		}

		out := make([]RunSummary, 0, len(runs))
		for _, rec := range runs {
			out = append(out, runSummary(rec))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleGetRun(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := deps.Store.GetRun(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "run not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get run: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, runSummary(rec))
	}
}

func runSummary(rec storage.RunRecord) RunSummary {
	s := RunSummary{ID: rec.ID, Ingested: rec.Ingested, Skipped: rec.Skipped, Failed: rec.Failed}
	var report ingest.RunReport
	if err := json.Unmarshal([]byte(rec.ReportJSON), &report); err != nil {
		slog.Warn("stored run report is unreadable", "run_id", rec.ID, "error", err)
		return s
	}
	s.Report = &report
	return s
}

func handleListSources(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Sources == nil {
			writeJSON(w, http.StatusOK, []source.Descriptor{})
			return
		}
		writeJSON(w, http.StatusOK, deps.Sources.All())
	}
}
