package chat

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/whatson/internal/engine"
	"github.com/kalambet/whatson/internal/event"
	"github.com/kalambet/whatson/internal/search"
)

// SearchToolName is the only tool the assistant may call.
const SearchToolName = "search_events"

// SearchTool describes search_events to the model.
func SearchTool() engine.Tool {
	return engine.Tool{
		Name:        SearchToolName,
		Description: "Search upcoming local events. All filters are optional and combined with AND. Events that already started are excluded unless start_date is given.",
		Parameters: engine.Schema{
			Type: "object",
			Properties: map[string]engine.SchemaProperty{
				"q":               {Type: "string", Description: "Free-text words matched against title, description, venue and tags"},
				"category":        {Type: "string", Description: "Event category", Enum: event.Categories},
				"venue":           {Type: "string", Description: "Venue name or part of it"},
				"location":        {Type: "string", Description: "City, district or neighborhood"},
				"start_date":      {Type: "string", Description: "Earliest start, ISO date YYYY-MM-DD or RFC3339 timestamp"},
				"end_date":        {Type: "string", Description: "Latest start, ISO date YYYY-MM-DD (inclusive) or RFC3339 timestamp"},
				"price_max":       {Type: "number", Description: "Maximum ticket price in dollars; 0 means free"},
				"outdoor":         {Type: "boolean", Description: "Only outdoor (true) or indoor (false) events"},
				"family_friendly": {Type: "boolean", Description: "Only family-friendly events"},
				"limit":           {Type: "integer", Description: "Maximum number of events, default 10"},
			},
		},
	}
}

const defaultToolLimit = 10

type toolArgs struct {
	Q              string   `json:"q"`
	Category       string   `json:"category"`
	Venue          string   `json:"venue"`
	Location       string   `json:"location"`
	StartDate      string   `json:"start_date"`
	EndDate        string   `json:"end_date"`
	PriceMax       *float64 `json:"price_max"`
	Outdoor        *bool    `json:"outdoor"`
	FamilyFriendly *bool    `json:"family_friendly"`
	Limit          *int     `json:"limit"`
}

// IntentFromArgs turns untrusted search_events arguments into a validated
// intent. Dates without a time are read in loc; an end date covers the
// whole day. Limits above the executor's cap are clamped there.
func IntentFromArgs(raw json.RawMessage, loc *time.Location) (search.Intent, error) {
	var a toolArgs
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &a); err != nil {
			return search.Intent{}, fmt.Errorf("%w: arguments are not a JSON object: %v", search.ErrInvalidIntent, err)
		}
	}

	in := search.Intent{
		Query:          strings.TrimSpace(a.Q),
		Category:       strings.ToLower(strings.TrimSpace(a.Category)),
		Venue:          strings.TrimSpace(a.Venue),
		Location:       strings.TrimSpace(a.Location),
		PriceMax:       a.PriceMax,
		Outdoor:        a.Outdoor,
		FamilyFriendly: a.FamilyFriendly,
		Limit:          defaultToolLimit,
	}
	if in.Category != "" && !event.IsCategory(in.Category) {
		return search.Intent{}, fmt.Errorf("%w: unknown category %q", search.ErrInvalidIntent, a.Category)
	}
	if a.Limit != nil && *a.Limit != 0 {
		in.Limit = *a.Limit
	}

	var err error
	if in.Start, err = parseToolDate(a.StartDate, loc, false); err != nil {
		return search.Intent{}, err
	}
	if in.End, err = parseToolDate(a.EndDate, loc, true); err != nil {
		return search.Intent{}, err
	}
	if err := in.Validate(); err != nil {
		return search.Intent{}, err
	}
	return in, nil
}

func parseToolDate(s string, loc *time.Location, endOfDay bool) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	d, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: date %q is not YYYY-MM-DD", search.ErrInvalidIntent, s)
	}
	if endOfDay {
		d = d.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return &d, nil
}

// toolEvent is the compact view of an event the model sees.
type toolEvent struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Venue      string     `json:"venue,omitempty"`
	Location   string     `json:"location,omitempty"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	Categories []string   `json:"categories"`
	PriceMin   *float64   `json:"price_min"`
	PriceMax   *float64   `json:"price_max"`
	Outdoor    bool       `json:"outdoor,omitempty"`
	Family     bool       `json:"family_friendly,omitempty"`
	URL        string     `json:"url"`
}

type toolResult struct {
	Count  int         `json:"count"`
	Events []toolEvent `json:"events"`
}

type toolError struct {
	Error string `json:"error"`
}

func renderResult(events []event.Event) string {
	res := toolResult{Count: len(events), Events: make([]toolEvent, 0, len(events))}
	for _, e := range events {
		res.Events = append(res.Events, toolEvent{
			ID:         e.ID,
			Title:      e.Title,
			Venue:      e.Venue,
			Location:   e.Location,
			StartTime:  e.StartTime,
			EndTime:    e.EndTime,
			Categories: e.Categories,
			PriceMin:   e.PriceMin,
			PriceMax:   e.PriceMax,
			Outdoor:    e.Outdoor,
			Family:     e.FamilyFriendly,
			URL:        e.SourceURL,
		})
	}
	b, _ := json.Marshal(res)
	return string(b)
}

func renderError(msg string) string {
	b, _ := json.Marshal(toolError{Error: msg})
	return string(b)
}

// referencedEvents returns the events from the latest tool result that the
// reply names by ID or exact title.
func referencedEvents(reply string, latest []event.Event) []event.Event {
	out := []event.Event{}
	lower := strings.ToLower(reply)
	for _, e := range latest {
		if strings.Contains(reply, e.ID) || (e.Title != "" && strings.Contains(lower, strings.ToLower(e.Title))) {
			out = append(out, e)
		}
	}
	return out
}
