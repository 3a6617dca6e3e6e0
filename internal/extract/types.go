// Package extract pulls raw event content out of a source using a fixed
// chain of tiers: native API, embedded JSON-LD, then a heuristic HTML scan.
package extract

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/whatson/internal/source"
)

// ErrEmpty is returned by a tier that ran successfully but found no usable
// elements. The fetcher falls through to the next tier.
var ErrEmpty = errors.New("no usable elements")

// Content types carried by a RawPayload.
const (
	ContentJSON   = "application/json"
	ContentJSONLD = "application/ld+json"
	ContentHTML   = "text/html"
	ContentText   = "text/plain"
	ContentPDF    = "application/pdf"
)

// RawPayload is the ephemeral output of one tier. It is handed to the
// normalizer and discarded.
type RawPayload struct {
	Tier        source.Tier
	ContentType string
	Content     string
	Items       int
	SourceURL   string
	FetchedAt   time.Time
}

// Reason classifies why a tier produced nothing.
type Reason string

const (
	ReasonNetwork Reason = "network"
	ReasonEmpty   Reason = "empty"
	ReasonBlocked Reason = "blocked"
)

// Attempt records one tier that was tried and why it failed.
type Attempt struct {
	Tier   source.Tier `json:"tier"`
	Reason Reason      `json:"reason"`
	Detail string      `json:"detail,omitempty"`
}

// FetchFailure is returned when every tier for a source failed.
type FetchFailure struct {
	Source   string
	Attempts []Attempt
}

func (f *FetchFailure) Error() string {
	if len(f.Attempts) == 0 {
		return fmt.Sprintf("fetch %s: no extraction tiers available", f.Source)
	}
	parts := make([]string, len(f.Attempts))
	for i, a := range f.Attempts {
		parts[i] = string(a.Tier) + "=" + string(a.Reason)
	}
	return fmt.Sprintf("fetch %s: all tiers failed (%s)", f.Source, strings.Join(parts, ", "))
}

// StatusError is returned for a non-2xx HTTP response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Code)
}

// Blocked reports whether the status indicates the crawler was refused.
func (e *StatusError) Blocked() bool {
	return e.Code == 401 || e.Code == 403 || e.Code == 429
}

func classify(err error) Reason {
	if errors.Is(err, ErrEmpty) {
		return ReasonEmpty
	}
	var se *StatusError
	if errors.As(err, &se) && se.Blocked() {
		return ReasonBlocked
	}
	return ReasonNetwork
}

// Document is a fetched resource.
type Document struct {
	URL         string
	ContentType string
	Body        []byte
}

// IsPDF reports whether the document holds a PDF.
func (d Document) IsPDF() bool {
	return strings.HasPrefix(d.ContentType, ContentPDF) ||
		strings.HasSuffix(strings.ToLower(d.URL), ".pdf") ||
		strings.HasPrefix(string(d.Body), "%PDF-")
}
