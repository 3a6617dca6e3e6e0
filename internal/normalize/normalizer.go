// Package normalize turns raw extracted content into canonical event drafts
// by asking a language model for schema-constrained JSON and validating
// every field it returns.
package normalize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kalambet/whatson/internal/engine"
	"github.com/kalambet/whatson/internal/event"
	"github.com/kalambet/whatson/internal/extract"
	"github.com/kalambet/whatson/internal/metrics"
	"github.com/kalambet/whatson/internal/source"
)

const defaultMaxContentChars = 12000

// Chatter is the schema-constrained half of engine.Engine.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// Failure is returned when the model output does not conform to the output
// schema. The payload is discarded.
type Failure struct {
	Source string
	Reason string
	Err    error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("normalize %s: %s: %v", f.Source, f.Reason, f.Err)
	}
	return fmt.Sprintf("normalize %s: %s", f.Source, f.Reason)
}

func (f *Failure) Unwrap() error { return f.Err }

// Result is the validated output of one normalization call.
type Result struct {
	Drafts []event.Draft
	// Rejected counts items dropped for missing a title or a parseable start time.
	Rejected int
}

// Options configures a Normalizer.
type Options struct {
	Model           string
	MaxContentChars int
	Logger          *slog.Logger
}

// Normalizer converts a RawPayload into event drafts.
type Normalizer struct {
	client   Chatter
	model    string
	maxChars int
	logger   *slog.Logger
}

// New creates a Normalizer backed by client.
func New(client Chatter, opts Options) *Normalizer {
	n := &Normalizer{
		client:   client,
		model:    opts.Model,
		maxChars: opts.MaxContentChars,
		logger:   opts.Logger,
	}
	if n.maxChars <= 0 {
		n.maxChars = defaultMaxContentChars
	}
	if n.logger == nil {
		n.logger = slog.Default()
	}
	return n
}

// item mirrors one entry of the output schema. Prices stay raw so that
// strings like "$15" or "free" can be coerced explicitly.
type item struct {
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Venue          string          `json:"venue"`
	VenueAddress   string          `json:"venue_address"`
	Location       string          `json:"location"`
	StartTime      string          `json:"start_time"`
	EndTime        *string         `json:"end_time"`
	Categories     []string        `json:"categories"`
	Tags           []string        `json:"tags"`
	PriceMin       json.RawMessage `json:"price_min"`
	PriceMax       json.RawMessage `json:"price_max"`
	Outdoor        *bool           `json:"outdoor"`
	FamilyFriendly *bool           `json:"family_friendly"`
	ImageURL       *string         `json:"image_url"`
	URL            *string         `json:"url"`
	Confidence     *float64        `json:"confidence"`
}

// Normalize sends the payload to the model and validates the response.
// A response that is not a JSON object with an "events" array is a
// *Failure. Individual items that lack a title or start time are dropped
// and counted in Result.Rejected.
func (n *Normalizer) Normalize(ctx context.Context, payload extract.RawPayload, src source.Descriptor) (Result, error) {
	content := truncate(payload.Content, n.maxChars)
	messages := BuildPrompt(payload, src, content)

	start := time.Now()
	raw, err := n.client.Chat(ctx, n.model, messages, outputSchema())
	metrics.NormalizationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return Result{}, fmt.Errorf("normalizing %s: %w", src.Name, err)
	}

	var envelope struct {
		Events *[]json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &envelope); err != nil {
		metrics.NormalizationFailures.Inc()
		return Result{}, &Failure{Source: src.Name, Reason: "response is not a JSON object", Err: err}
	}
	if envelope.Events == nil {
		metrics.NormalizationFailures.Inc()
		return Result{}, &Failure{Source: src.Name, Reason: `response has no "events" array`}
	}

	var res Result
	loc := src.TimeLocation()
	for i, rawItem := range *envelope.Events {
		var it item
		if err := json.Unmarshal(rawItem, &it); err != nil {
			n.logger.Debug("dropping malformed item", "source", src.Name, "index", i, "error", err)
			res.Rejected++
			continue
		}
		d, ok := n.draft(it, payload, src, loc)
		if !ok {
			n.logger.Debug("dropping item without title or start time", "source", src.Name, "index", i)
			res.Rejected++
			continue
		}
		res.Drafts = append(res.Drafts, d)
	}

	metrics.DraftsProduced.WithLabelValues("rejected").Add(float64(res.Rejected))
	for _, d := range res.Drafts {
		if d.Confidence < event.ReviewThreshold {
			metrics.DraftsProduced.WithLabelValues("flagged").Inc()
		} else {
			metrics.DraftsProduced.WithLabelValues("accepted").Inc()
		}
	}
	return res, nil
}

func (n *Normalizer) draft(it item, payload extract.RawPayload, src source.Descriptor, loc *time.Location) (event.Draft, bool) {
	title := strings.TrimSpace(it.Title)
	start, ok := parseTimestamp(it.StartTime, loc)
	if title == "" || !ok {
		return event.Draft{}, false
	}

	d := event.Draft{
		Title:          title,
		Description:    strings.TrimSpace(it.Description),
		Venue:          strings.TrimSpace(it.Venue),
		VenueAddress:   strings.TrimSpace(it.VenueAddress),
		Location:       strings.TrimSpace(it.Location),
		StartTime:      start,
		Categories:     categories(it, src),
		PriceMin:       coercePrice(it.PriceMin),
		PriceMax:       coercePrice(it.PriceMax),
		Outdoor:        it.Outdoor != nil && *it.Outdoor,
		FamilyFriendly: it.FamilyFriendly != nil && *it.FamilyFriendly,
		SourceName:     src.Name,
	}
	if d.Location == "" {
		d.Location = src.Location
	}
	if it.EndTime != nil {
		if end, ok := parseTimestamp(*it.EndTime, loc); ok && !end.Before(start) {
			d.EndTime = &end
		}
	}
	if d.PriceMin != nil && d.PriceMax != nil && *d.PriceMin > *d.PriceMax {
		d.PriceMin, d.PriceMax = d.PriceMax, d.PriceMin
	}
	if it.ImageURL != nil {
		d.ImageURL = resolve(payload.SourceURL, *it.ImageURL)
	}

	var link string
	if it.URL != nil {
		link = resolve(payload.SourceURL, *it.URL)
	}
	if link == "" {
		link = fallbackURL(payload.SourceURL, title, start)
	}
	d.SourceURL = link

	if it.Confidence != nil && *it.Confidence >= 0 && *it.Confidence <= 1 {
		d.Confidence = *it.Confidence
	} else {
		d.Confidence = derivedConfidence(it)
	}
	return d, true
}

// derivedConfidence scores an item by how many optional fields the model
// filled in. Title and start time are always present at this point.
func derivedConfidence(it item) float64 {
	present := []bool{
		strings.TrimSpace(it.Description) != "",
		strings.TrimSpace(it.Venue) != "",
		strings.TrimSpace(it.VenueAddress) != "",
		it.EndTime != nil && strings.TrimSpace(*it.EndTime) != "",
		coercePrice(it.PriceMin) != nil || coercePrice(it.PriceMax) != nil,
		len(it.Categories) > 0,
		it.URL != nil && strings.TrimSpace(*it.URL) != "",
		it.ImageURL != nil && strings.TrimSpace(*it.ImageURL) != "",
	}
	var n int
	for _, p := range present {
		if p {
			n++
		}
	}
	return 0.4 + 0.6*float64(n)/float64(len(present))
}

// categories keeps the enumerated categories the model chose plus its
// free-form tags. When the model chose none, the source defaults apply,
// then "other".
func categories(it item, src source.Descriptor) []string {
	var known []string
	for _, c := range it.Categories {
		if event.IsCategory(c) {
			known = append(known, c)
		}
	}
	if len(known) == 0 {
		for _, c := range src.DefaultCategories {
			if event.IsCategory(c) {
				known = append(known, c)
			}
		}
	}
	if len(known) == 0 {
		known = []string{"other"}
	}
	return event.NormalizeCategories(append(known, it.Tags...))
}

var priceNumber = regexp.MustCompile(`\d+(?:\.\d+)?`)

// coercePrice maps a JSON price value to a non-negative number, or nil when
// the price is unknown. Only an explicit "free" becomes zero.
func coercePrice(raw json.RawMessage) *float64 {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return nil
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		if f < 0 {
			return nil
		}
		return &f
	}

	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return nil
	}
	str = strings.ToLower(strings.TrimSpace(str))
	if str == "free" || strings.HasPrefix(str, "free ") {
		zero := 0.0
		return &zero
	}
	m := priceNumber.FindString(strings.ReplaceAll(str, ",", ""))
	if m == "" {
		return nil
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return nil
	}
	return &f
}

// resolve returns ref as an absolute http(s) URL relative to base, or "".
func resolve(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if b, err := url.Parse(base); err == nil && base != "" {
		r = b.ResolveReference(r)
	}
	if r.Scheme != "http" && r.Scheme != "https" {
		return ""
	}
	return r.String()
}

// fallbackURL gives items without their own link a stable per-event key on
// the listing page.
func fallbackURL(page, title string, start time.Time) string {
	u, err := url.Parse(page)
	if err != nil {
		u = &url.URL{}
	}
	u.Fragment = slug(title) + "-" + start.Format("20060102")
	return u.String()
}

func slug(s string) string {
	var sb strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			dash = false
		case !dash && sb.Len() > 0:
			sb.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(sb.String(), "-")
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	s = s[:max]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

// IsFailure reports whether err is a schema violation.
func IsFailure(err error) bool {
	var f *Failure
	return errors.As(err, &f)
}
