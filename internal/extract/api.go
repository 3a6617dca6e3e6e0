package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/kalambet/whatson/internal/source"
)

// listKeys are the envelope fields commonly used by ticketing APIs to wrap
// their result arrays.
var listKeys = []string{"events", "data", "items", "results", "_embedded"}

// APITier reads the source's declared JSON endpoint.
type APITier struct{}

func (APITier) Tier() source.Tier { return source.TierAPI }

func (APITier) Extract(ctx context.Context, t *Target) (RawPayload, error) {
	doc, err := t.API(ctx)
	if err != nil {
		return RawPayload{}, err
	}
	return apiPayload(doc)
}

func apiPayload(doc Document) (RawPayload, error) {
	items, err := eventItems(doc.Body)
	if err != nil {
		return RawPayload{}, err
	}
	if len(items) == 0 {
		return RawPayload{}, ErrEmpty
	}
	content, err := json.Marshal(items)
	if err != nil {
		return RawPayload{}, fmt.Errorf("encoding api items: %w", err)
	}
	return RawPayload{
		ContentType: ContentJSON,
		Content:     string(content),
		Items:       len(items),
		SourceURL:   doc.URL,
	}, nil
}

// eventItems locates the array of event objects in an API response: either
// the top-level array or the first array found under a known envelope key
// (searched one level deep, so {"_embedded":{"events":[...]}} works).
func eventItems(body []byte) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, ErrEmpty
	}

	var arr []json.RawMessage
	if body[0] == '[' {
		if err := json.Unmarshal(body, &arr); err != nil {
			return nil, fmt.Errorf("decoding api array: %w", err)
		}
		return objectsOnly(arr), nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("decoding api response: %w", err)
	}
	if found := findList(obj, 2); found != nil {
		return found, nil
	}
	return nil, ErrEmpty
}

func findList(obj map[string]json.RawMessage, depth int) []json.RawMessage {
	for _, k := range listKeys {
		raw, ok := obj[k]
		if !ok {
			continue
		}
		var arr []json.RawMessage
		if json.Unmarshal(raw, &arr) == nil {
			return objectsOnly(arr)
		}
		if depth > 1 {
			var inner map[string]json.RawMessage
			if json.Unmarshal(raw, &inner) == nil {
				if found := findList(inner, depth-1); found != nil {
					return found
				}
			}
		}
	}
	return nil
}

func objectsOnly(arr []json.RawMessage) []json.RawMessage {
	out := arr[:0]
	for _, item := range arr {
		item = bytes.TrimSpace(item)
		if len(item) > 0 && item[0] == '{' {
			out = append(out, item)
		}
	}
	return out
}
