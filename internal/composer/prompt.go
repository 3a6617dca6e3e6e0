// Package composer assembles the chat prompt: the events-guide persona, the
// user's profile summary and as much recent history as the token budget
// allows.
package composer

import (
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/whatson/internal/engine"
	"github.com/kalambet/whatson/internal/event"
)

const defaultMaxHistoryTokens = 6000

const personaTemplate = `You are whatson, a friendly local events guide. You help people find concerts, shows, games and other things to do.

Today is %s.

Rules:
- To find events, call the search_events tool. Convert relative dates ("this weekend", "tonight", "next Friday") into ISO dates (YYYY-MM-DD) using today's date.
- Category must be one of: %s.
- Only describe events that appear in the most recent search_events result. Never invent events, venues, times or prices.
- Refer to each event by its exact title and include its start time and venue.
- A missing price means the price is unknown, not free.
- If the result is empty, say nothing matched and suggest loosening the filters.
- If the tool reports an error, apologize briefly and suggest trying again.`

// Composer builds the message list sent to the chat model for one step of
// a turn.
type Composer struct {
	MaxHistoryTokens int
}

// New creates a Composer with the given token budget for history.
// If maxHistoryTokens <= 0, the default (6000) is used.
func New(maxHistoryTokens int) *Composer {
	if maxHistoryTokens <= 0 {
		maxHistoryTokens = defaultMaxHistoryTokens
	}
	return &Composer{MaxHistoryTokens: maxHistoryTokens}
}

// SystemPrompt renders the persona for the given time, with the profile
// summary appended when there is one.
func (c *Composer) SystemPrompt(profileSummary string, now time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, personaTemplate, now.Format("Monday, 2006-01-02 15:04 MST"), strings.Join(event.Categories, ", "))
	if profileSummary != "" {
		sb.WriteString("\n\n[User Profile]\n")
		sb.WriteString(profileSummary)
		sb.WriteString("\nUse the profile to choose filters and order suggestions, never to invent events.")
	}
	return sb.String()
}

// Compose returns the system prompt followed by the most recent history
// that fits the budget. History is cut only at user messages so that a tool
// call is never separated from its result. The latest turn is always kept.
func (c *Composer) Compose(history []engine.Message, profileSummary string, now time.Time) []engine.Message {
	msgs := []engine.Message{{Role: engine.RoleSystem, Content: c.SystemPrompt(profileSummary, now)}}
	return append(msgs, c.trimHistory(history)...)
}

func (c *Composer) trimHistory(history []engine.Message) []engine.Message {
	cut := -1
	used := 0
	for i := len(history) - 1; i >= 0; i-- {
		used += messageTokens(history[i])
		if history[i].Role != engine.RoleUser {
			continue
		}
		if used > c.MaxHistoryTokens && cut >= 0 {
			break
		}
		cut = i
	}
	if cut < 0 {
		return history
	}
	return history[cut:]
}

func messageTokens(m engine.Message) int {
	n := EstimateTokens(m.Content)
	for _, tc := range m.ToolCalls {
		n += EstimateTokens(tc.Name) + EstimateTokens(string(tc.Arguments))
	}
	return n
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
