package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/whatson/internal/engine"
	"github.com/kalambet/whatson/internal/event"
	"github.com/kalambet/whatson/internal/extract"
	"github.com/kalambet/whatson/internal/source"
)

const systemPromptTemplate = `You are an event extraction engine. Convert the input into event records. Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

%s

Rules:
- Emit one entry in "events" per distinct event. Emit an empty list if there are none.
- start_time and end_time are ISO 8601. Include a UTC offset only when the input states one.
- Prices are numbers in the listed currency. Use 0 only when the input says the event is free. Use null when the price is not stated.
- categories uses only the allowed values. Put genres and other descriptive tags in "tags".
- Never invent fields that are not supported by the input. Leave them null or empty instead.
- confidence is your estimate between 0 and 1 that the record is complete and correct.`

const (
	jsonInstruction = "The input is raw JSON from an events API. Map it into the standardized format, handling nested structures and differing field names."
	htmlInstruction = "The input is content from an events web page. Extract distinct events and ignore navigation, footers and unrelated text."
	textInstruction = "The input is a list of text blocks, separated by ---, that each may describe an event."
)

// BuildPrompt constructs the chat messages for one normalization call.
func BuildPrompt(payload extract.RawPayload, src source.Descriptor, content string) []engine.Message {
	var instruction string
	switch payload.ContentType {
	case extract.ContentJSON, extract.ContentJSONLD:
		instruction = jsonInstruction
	case extract.ContentText, extract.ContentPDF:
		instruction = textInstruction
	default:
		instruction = htmlInstruction
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, systemPromptTemplate, instruction)

	fmt.Fprintf(&sb, "\n\n[Source]\nName: %s\nURL: %s", src.Name, payload.SourceURL)
	if src.Timezone != "" {
		fmt.Fprintf(&sb, "\nTimezone: %s", src.Timezone)
	}
	if src.Location != "" {
		fmt.Fprintf(&sb, "\nArea: %s", src.Location)
	}
	if !payload.FetchedAt.IsZero() {
		fmt.Fprintf(&sb, "\nRetrieved: %s", payload.FetchedAt.In(src.TimeLocation()).Format("Monday, January 2, 2006"))
	}

	return []engine.Message{
		{Role: engine.RoleSystem, Content: sb.String()},
		{Role: engine.RoleUser, Content: content},
	}
}

func outputSchema() *engine.Schema {
	str := func(desc string) engine.SchemaProperty { return engine.SchemaProperty{Type: "string", Description: desc} }
	item := engine.SchemaProperty{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"title":         str("Event title"),
			"description":   str("Brief summary"),
			"venue":         str("Venue name"),
			"venue_address": str("Full venue address if available"),
			"location":      str("City or neighborhood"),
			"start_time":    str("ISO 8601 start date-time"),
			"end_time":      str("ISO 8601 end date-time or null"),
			"categories": {
				Type:  "array",
				Items: &engine.SchemaProperty{Type: "string", Enum: event.Categories},
			},
			"tags": {
				Type:        "array",
				Description: "Free-form descriptive tags such as genres",
				Items:       &engine.SchemaProperty{Type: "string"},
			},
			"price_min":       {Type: "number", Description: "Lowest ticket price, or null if unknown"},
			"price_max":       {Type: "number", Description: "Highest ticket price, or null if unknown"},
			"outdoor":         {Type: "boolean"},
			"family_friendly": {Type: "boolean"},
			"image_url":       str("Image URL"),
			"url":             str("Link to the event detail page"),
			"confidence":      {Type: "number", Description: "0 to 1"},
		},
		Required: []string{"title", "start_time"},
	}
	return &engine.Schema{
		Type:       "object",
		Properties: map[string]engine.SchemaProperty{"events": {Type: "array", Items: &item}},
		Required:   []string{"events"},
	}
}

// dateLayouts are tried in order for zone-less timestamps.
var dateLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseTimestamp accepts RFC 3339 or a zone-less ISO form, which is read in
// loc.
func parseTimestamp(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
