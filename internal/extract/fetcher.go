package extract

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/whatson/internal/metrics"
	"github.com/kalambet/whatson/internal/source"
)

const maxBodyBytes = 8 << 20

// Strategy is one extraction tier. Extract returns ErrEmpty when the tier
// ran but found nothing usable.
type Strategy interface {
	Tier() source.Tier
	Extract(ctx context.Context, t *Target) (RawPayload, error)
}

// Target is the source being fetched in one Fetch call. The page document
// is downloaded at most once and shared by the page-based tiers.
type Target struct {
	Source source.Descriptor

	get      func(ctx context.Context, url string, headers map[string]string, accept string) (Document, error)
	pageOnce sync.Once
	page     Document
	pageErr  error
}

// Page returns the source's primary page, downloading it on first use.
func (t *Target) Page(ctx context.Context) (Document, error) {
	t.pageOnce.Do(func() {
		t.page, t.pageErr = t.get(ctx, t.Source.PageURL(), t.Source.Headers, "text/html,application/xhtml+xml,application/pdf;q=0.9,*/*;q=0.8")
	})
	return t.page, t.pageErr
}

// API returns the response of the source's declared API endpoint.
func (t *Target) API(ctx context.Context) (Document, error) {
	return t.get(ctx, t.Source.APIURL, t.Source.Headers, "application/json")
}

// Options configures a Fetcher.
type Options struct {
	HTTPClient *http.Client
	UserAgent  string
	Logger     *slog.Logger
	// Strategies overrides the built-in tiers, keyed by their Tier().
	Strategies []Strategy
}

// Fetcher selects and runs extraction tiers for a source.
type Fetcher struct {
	client     *http.Client
	userAgent  string
	logger     *slog.Logger
	strategies map[source.Tier]Strategy
	now        func() time.Time
}

// NewFetcher creates a Fetcher with the API, JSON-LD and heuristic tiers.
func NewFetcher(opts Options) *Fetcher {
	f := &Fetcher{
		client:    opts.HTTPClient,
		userAgent: opts.UserAgent,
		logger:    opts.Logger,
		now:       time.Now,
		strategies: map[source.Tier]Strategy{
			source.TierAPI:        APITier{},
			source.TierStructured: StructuredTier{},
			source.TierHeuristic:  HeuristicTier{},
		},
	}
	if f.client == nil {
		f.client = &http.Client{Timeout: 30 * time.Second}
	}
	if f.userAgent == "" {
		f.userAgent = "whatson-bot/1.0"
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	for _, s := range opts.Strategies {
		f.strategies[s.Tier()] = s
	}
	return f
}

// Fetch runs the source's tiers in priority order and returns the first
// non-empty payload. If every tier fails it returns a *FetchFailure listing
// each attempt.
func (f *Fetcher) Fetch(ctx context.Context, src source.Descriptor) (RawPayload, error) {
	target := &Target{Source: src, get: f.get}
	failure := &FetchFailure{Source: src.Name}

	for _, tier := range src.Tiers() {
		if err := ctx.Err(); err != nil {
			failure.Attempts = append(failure.Attempts, Attempt{Tier: tier, Reason: ReasonNetwork, Detail: err.Error()})
			break
		}
		strat, ok := f.strategies[tier]
		if !ok {
			continue
		}

		start := time.Now()
		payload, err := strat.Extract(ctx, target)
		metrics.FetchDuration.WithLabelValues(string(tier)).Observe(time.Since(start).Seconds())
		if err == nil && payload.Items == 0 {
			err = ErrEmpty
		}
		if err != nil {
			reason := classify(err)
			metrics.TierAttempts.WithLabelValues(string(tier), string(reason)).Inc()
			failure.Attempts = append(failure.Attempts, Attempt{Tier: tier, Reason: reason, Detail: err.Error()})
			f.logger.Debug("extraction tier failed", "source", src.Name, "tier", tier, "reason", reason, "error", err)
			continue
		}

		metrics.TierAttempts.WithLabelValues(string(tier), "ok").Inc()
		payload.Tier = tier
		if payload.FetchedAt.IsZero() {
			payload.FetchedAt = f.now()
		}
		return payload, nil
	}
	return RawPayload{}, failure
}

func (f *Fetcher) get(ctx context.Context, url string, headers map[string]string, accept string) (Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Document{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", accept)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Document{}, &StatusError{URL: url, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Document{}, fmt.Errorf("reading %s: %w", url, err)
	}
	return Document{
		URL:         url,
		ContentType: strings.ToLower(resp.Header.Get("Content-Type")),
		Body:        body,
	}, nil
}

// FromDocument runs the content-only part of the given tiers over a
// document supplied by the caller (the ingestion entrypoint). It follows the
// same fall-through rules as Fetch.
func FromDocument(sourceName string, tiers []source.Tier, doc Document, now time.Time) (RawPayload, error) {
	failure := &FetchFailure{Source: sourceName}
	for _, tier := range tiers {
		var (
			payload RawPayload
			err     error
		)
		switch tier {
		case source.TierAPI:
			payload, err = apiPayload(doc)
		case source.TierStructured:
			payload, err = structuredPayload(doc)
		case source.TierHeuristic:
			payload, err = heuristicPayload(doc)
		default:
			continue
		}
		if err == nil && payload.Items == 0 {
			err = ErrEmpty
		}
		if err != nil {
			failure.Attempts = append(failure.Attempts, Attempt{Tier: tier, Reason: classify(err), Detail: err.Error()})
			continue
		}
		payload.Tier = tier
		payload.FetchedAt = now
		return payload, nil
	}
	return RawPayload{}, failure
}
