// Package event defines the canonical event record shared by the ingestion
// and query halves of whatson.
package event

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ReviewThreshold is the confidence below which a stored event is flagged
// for manual review. Low-confidence drafts are kept, never dropped.
const ReviewThreshold = 0.7

// Categories is the fixed enumeration the normalizer and intent parser map
// onto. Events may carry additional free-form tags alongside these.
var Categories = []string{
	"concerts",
	"sports",
	"family",
	"comedy",
	"nightlife",
	"food",
	"theater",
	"festivals",
	"arts",
	"community",
	"other",
}

// IsCategory reports whether c is a member of the fixed enumeration.
func IsCategory(c string) bool {
	c = strings.ToLower(strings.TrimSpace(c))
	for _, known := range Categories {
		if known == c {
			return true
		}
	}
	return false
}

// Event is the canonical, schema-conformant record stored and served.
type Event struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Venue          string     `json:"venue,omitempty"`
	VenueAddress   string     `json:"venue_address,omitempty"`
	Location       string     `json:"location,omitempty"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        *time.Time `json:"end_time,omitempty"`
	Categories     []string   `json:"categories"`
	PriceMin       *float64   `json:"price_min"`
	PriceMax       *float64   `json:"price_max"`
	Outdoor        bool       `json:"outdoor"`
	FamilyFriendly bool       `json:"family_friendly"`
	ImageURL       string     `json:"image_url,omitempty"`
	SourceName     string     `json:"source_name"`
	SourceURL      string     `json:"source_url"`
	Confidence     float64    `json:"confidence"`
	NeedsReview    bool       `json:"needs_review"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IDFor derives the stable event identifier from its source URL, so the
// same URL always maps to the same row.
func IDFor(sourceURL string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(strings.TrimSpace(sourceURL))).String()
}

// Draft is a normalized but not yet stored event. It carries every Event
// attribute that the normalizer produces plus the extraction confidence.
type Draft struct {
	Title          string
	Description    string
	Venue          string
	VenueAddress   string
	Location       string
	StartTime      time.Time
	EndTime        *time.Time
	Categories     []string
	PriceMin       *float64
	PriceMax       *float64
	Outdoor        bool
	FamilyFriendly bool
	ImageURL       string
	SourceName     string
	SourceURL      string
	Confidence     float64
}

// Event converts the draft into a canonical Event. Timestamps are left for
// the store to assign.
func (d Draft) Event() Event {
	return Event{
		ID:             IDFor(d.SourceURL),
		Title:          d.Title,
		Description:    d.Description,
		Venue:          d.Venue,
		VenueAddress:   d.VenueAddress,
		Location:       d.Location,
		StartTime:      d.StartTime,
		EndTime:        d.EndTime,
		Categories:     d.Categories,
		PriceMin:       d.PriceMin,
		PriceMax:       d.PriceMax,
		Outdoor:        d.Outdoor,
		FamilyFriendly: d.FamilyFriendly,
		ImageURL:       d.ImageURL,
		SourceName:     d.SourceName,
		SourceURL:      d.SourceURL,
		Confidence:     d.Confidence,
		NeedsReview:    d.Confidence < ReviewThreshold,
	}
}

// HasCategory reports whether the event carries tag c (case-insensitive).
func (e Event) HasCategory(c string) bool {
	for _, have := range e.Categories {
		if strings.EqualFold(have, c) {
			return true
		}
	}
	return false
}

// NormalizeCategories lowercases, trims and de-duplicates tags, preserving
// first-seen order.
func NormalizeCategories(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
