package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/kalambet/whatson/internal/source"
)

// StructuredTier scans a page for schema.org Event objects embedded as
// JSON-LD.
type StructuredTier struct{}

func (StructuredTier) Tier() source.Tier { return source.TierStructured }

func (StructuredTier) Extract(ctx context.Context, t *Target) (RawPayload, error) {
	doc, err := t.Page(ctx)
	if err != nil {
		return RawPayload{}, err
	}
	return structuredPayload(doc)
}

func structuredPayload(doc Document) (RawPayload, error) {
	if doc.IsPDF() {
		return RawPayload{}, ErrEmpty
	}
	events, err := jsonLDEvents(doc.Body)
	if err != nil {
		return RawPayload{}, err
	}
	if len(events) == 0 {
		return RawPayload{}, ErrEmpty
	}
	content, err := json.Marshal(events)
	if err != nil {
		return RawPayload{}, fmt.Errorf("encoding json-ld events: %w", err)
	}
	return RawPayload{
		ContentType: ContentJSONLD,
		Content:     string(content),
		Items:       len(events),
		SourceURL:   doc.URL,
	}, nil
}

// jsonLDEvents returns every Event-typed object found in the page's
// application/ld+json scripts, including those nested in @graph and
// ItemList wrappers. Malformed blocks are skipped.
func jsonLDEvents(body []byte) ([]map[string]any, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}

	var out []map[string]any
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "script" && isJSONLD(n) {
			var v any
			if err := json.Unmarshal([]byte(nodeText(n)), &v); err == nil {
				out = collectEvents(v, out)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out, nil
}

func isJSONLD(n *html.Node) bool {
	for _, a := range n.Attr {
		if a.Key == "type" && strings.EqualFold(strings.TrimSpace(a.Val), "application/ld+json") {
			return true
		}
	}
	return false
}

func collectEvents(v any, out []map[string]any) []map[string]any {
	switch x := v.(type) {
	case []any:
		for _, item := range x {
			out = collectEvents(item, out)
		}
	case map[string]any:
		if isEventType(x["@type"]) {
			return append(out, x)
		}
		if g, ok := x["@graph"]; ok {
			out = collectEvents(g, out)
		}
		if items, ok := x["itemListElement"]; ok {
			out = collectEvents(items, out)
		}
		if item, ok := x["item"]; ok {
			out = collectEvents(item, out)
		}
	}
	return out
}

// isEventType matches schema.org Event and its subtypes (MusicEvent,
// TheaterEvent, Festival, ...). @type may be a string or a list.
func isEventType(t any) bool {
	switch x := t.(type) {
	case string:
		name := x
		if i := strings.LastIndexAny(name, "/:#"); i >= 0 {
			name = name[i+1:]
		}
		return strings.HasSuffix(name, "Event") || name == "Festival"
	case []any:
		for _, item := range x {
			if isEventType(item) {
				return true
			}
		}
	}
	return false
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}
