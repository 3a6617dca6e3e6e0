package intent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/whatson/internal/engine"
	"github.com/kalambet/whatson/internal/event"
	"github.com/kalambet/whatson/internal/search"
)

const extractionTimeout = 3 * time.Second

// Chatter is the interface for schema-constrained chat completion.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// Hints holds what the model recognised in the words the rules left over.
type Hints struct {
	Category string `json:"category"`
	Venue    string `json:"venue"`
	Location string `json:"location"`
}

// Extractor uses a fast LLM to map leftover query words onto a category,
// venue or area.
type Extractor struct {
	client Chatter
	model  string
}

// NewExtractor creates an Extractor using the given client and model name.
func NewExtractor(client Chatter, model string) *Extractor {
	return &Extractor{client: client, model: model}
}

// Extract returns hints for query. On any failure (timeout, malformed JSON,
// backend error) it returns zero Hints; search must not block on it. A
// category outside the fixed enumeration is discarded.
func (e *Extractor) Extract(ctx context.Context, query string) Hints {
	if strings.TrimSpace(query) == "" {
		return Hints{}
	}

	ctx, cancel := context.WithTimeout(ctx, extractionTimeout)
	defer cancel()

	raw, err := e.client.Chat(ctx, e.model, BuildPrompt(query), hintsSchema())
	if err != nil {
		slog.Warn("intent hint extraction failed", "error", err)
		return Hints{}
	}

	var h Hints
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		slog.Warn("failed to unmarshal intent hints from LLM response", "error", err, "response", raw)
		return Hints{}
	}
	h.Category = strings.ToLower(strings.TrimSpace(h.Category))
	if !event.IsCategory(h.Category) {
		h.Category = ""
	}
	h.Venue = strings.TrimSpace(h.Venue)
	h.Location = strings.TrimSpace(h.Location)
	return h
}

func hintsSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"category": {Type: "string", Description: "One of the listed categories, or empty", Enum: append([]string{""}, event.Categories...)},
			"venue":    {Type: "string", Description: "Venue name explicitly mentioned, or empty"},
			"location": {Type: "string", Description: "Area explicitly mentioned, or empty"},
		},
		Required: []string{"category", "venue", "location"},
	}
}

// HintExtractor is satisfied by *Extractor.
type HintExtractor interface {
	Extract(ctx context.Context, query string) Hints
}

// Parser runs the deterministic rules and, when configured, asks the model
// for a category the rules could not find. Dates and prices always come
// from the rules.
type Parser struct {
	hints HintExtractor
}

// NewParser creates a Parser. hints may be nil.
func NewParser(hints HintExtractor) *Parser {
	return &Parser{hints: hints}
}

// Parse returns the intent for query relative to now.
func (p *Parser) Parse(ctx context.Context, query string, now time.Time) search.Intent {
	in := Parse(query, now)
	if p == nil || p.hints == nil || in.Category != "" || in.Query == "" {
		return in
	}

	h := p.hints.Extract(ctx, in.Query)
	in.Category = h.Category
	if in.Venue == "" {
		in.Venue = h.Venue
	}
	if in.Location == "" {
		in.Location = h.Location
	}
	return in
}
