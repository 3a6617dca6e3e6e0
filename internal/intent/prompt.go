package intent

import (
	"fmt"
	"strings"

	"github.com/kalambet/whatson/internal/engine"
	"github.com/kalambet/whatson/internal/event"
)

const systemPromptTemplate = `You are a search hint extractor for a local events guide. The user's words below are what is left of an event search after dates and prices were removed. Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

Categories: %s

Rules:
- category is the single best matching category, or "" if none clearly applies.
- venue is a venue name only if the words name one explicitly.
- location is a city, district or neighborhood only if the words name one explicitly.
- Never guess dates or prices.`

// BuildPrompt constructs the chat messages for hint extraction.
func BuildPrompt(query string) []engine.Message {
	return []engine.Message{
		{Role: engine.RoleSystem, Content: fmt.Sprintf(systemPromptTemplate, strings.Join(event.Categories, ", "))},
		{Role: engine.RoleUser, Content: query},
	}
}
