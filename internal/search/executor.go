// Package search applies a structured filter to the event store. It is the
// single read path shared by the text, structured, chat and MCP surfaces.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/whatson/internal/event"
	"github.com/kalambet/whatson/internal/metrics"
	"github.com/kalambet/whatson/internal/storage"
)

const (
	DefaultLimit = 50
	MaxLimit     = 1000
)

// ErrInvalidIntent is returned for a filter that contradicts itself or asks
// for a negative limit or price.
var ErrInvalidIntent = errors.New("invalid search intent")

// Intent is a structured search filter. Every field is optional; nil and
// empty values impose no restriction.
type Intent struct {
	Query          string     `json:"q,omitempty"`
	Raw            string     `json:"raw,omitempty"`
	Category       string     `json:"category,omitempty"`
	Venue          string     `json:"venue,omitempty"`
	Location       string     `json:"location,omitempty"`
	Start          *time.Time `json:"start,omitempty"`
	End            *time.Time `json:"end,omitempty"`
	PriceMax       *float64   `json:"price_max,omitempty"`
	Outdoor        *bool      `json:"outdoor,omitempty"`
	FamilyFriendly *bool      `json:"family_friendly,omitempty"`
	Limit          int        `json:"limit,omitempty"`
	Offset         int        `json:"offset,omitempty"`
}

// Validate checks the intent against the executor constraints.
func (in Intent) Validate() error {
	if in.Limit < 0 {
		return fmt.Errorf("%w: limit must not be negative", ErrInvalidIntent)
	}
	if in.Offset < 0 {
		return fmt.Errorf("%w: offset must not be negative", ErrInvalidIntent)
	}
	if in.PriceMax != nil && *in.PriceMax < 0 {
		return fmt.Errorf("%w: price_max must not be negative", ErrInvalidIntent)
	}
	if in.Start != nil && in.End != nil && in.End.Before(*in.Start) {
		return fmt.Errorf("%w: end is before start", ErrInvalidIntent)
	}
	return nil
}

// IsEmpty reports whether the intent carries no constraint at all.
func (in Intent) IsEmpty() bool {
	return in.Query == "" && in.Category == "" && in.Venue == "" && in.Location == "" &&
		in.Start == nil && in.End == nil && in.PriceMax == nil && in.Outdoor == nil && in.FamilyFriendly == nil
}

// Store is the read side of the event store.
type Store interface {
	QueryEvents(ctx context.Context, q storage.EventQuery) ([]event.Event, error)
}

// Options configures an Executor.
type Options struct {
	DefaultLimit int
	MaxLimit     int
	Clock        func() time.Time
}

// Executor runs intents against the store.
type Executor struct {
	store        Store
	defaultLimit int
	maxLimit     int
	now          func() time.Time
}

// NewExecutor creates an Executor. Zero options take the package defaults.
func NewExecutor(store Store, opts Options) *Executor {
	e := &Executor{
		store:        store,
		defaultLimit: opts.DefaultLimit,
		maxLimit:     opts.MaxLimit,
		now:          opts.Clock,
	}
	if e.maxLimit <= 0 {
		e.maxLimit = MaxLimit
	}
	if e.defaultLimit <= 0 || e.defaultLimit > e.maxLimit {
		e.defaultLimit = min(DefaultLimit, e.maxLimit)
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Search applies the intent conjunctively and returns events ordered by
// start time. Without an explicit start, events that already started are
// excluded. surface labels the caller in metrics.
func (e *Executor) Search(ctx context.Context, in Intent, surface string) ([]event.Event, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		metrics.SearchRequests.WithLabelValues(surface).Inc()
		metrics.SearchDuration.Observe(time.Since(start).Seconds())
	}()

	events, err := e.store.QueryEvents(ctx, e.query(in))
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	if events == nil {
		events = []event.Event{}
	}
	return events, nil
}

// Normalize returns the intent with its effective limit and start bound
// filled in, as Search would apply them.
func (e *Executor) Normalize(in Intent) Intent {
	switch {
	case in.Limit == 0:
		in.Limit = e.defaultLimit
	case in.Limit > e.maxLimit:
		in.Limit = e.maxLimit
	}
	if in.Start == nil {
		now := e.now()
		in.Start = &now
	}
	return in
}

func (e *Executor) query(in Intent) storage.EventQuery {
	in = e.Normalize(in)
	return storage.EventQuery{
		Terms:          strings.Fields(in.Query),
		Category:       strings.ToLower(strings.TrimSpace(in.Category)),
		Venue:          strings.TrimSpace(in.Venue),
		Location:       strings.TrimSpace(in.Location),
		StartAfter:     in.Start,
		StartBefore:    in.End,
		PriceMax:       in.PriceMax,
		Outdoor:        in.Outdoor,
		FamilyFriendly: in.FamilyFriendly,
		Limit:          in.Limit,
		Offset:         in.Offset,
	}
}
