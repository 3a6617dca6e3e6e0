package ingest

import (
	"context"
	"errors"
	"strings"

	"github.com/kalambet/whatson/internal/extract"
	"github.com/kalambet/whatson/internal/metrics"
	"github.com/kalambet/whatson/internal/source"
)

// ErrInvalidPayload is returned by IngestPayload for requests that cannot be
// processed at all.
var ErrInvalidPayload = errors.New("invalid payload")

// Payload is raw content pushed by an external scraper.
type Payload struct {
	Source      source.Descriptor
	SourceURL   string
	ContentType string
	Content     []byte
	// Tier pins one extraction tier. Empty tries them all in order.
	Tier source.Tier
}

// IngestPayload runs already-fetched content through the content tiers, the
// normalizer and the store. The policy gate is not consulted since nothing
// is fetched. Extraction and normalization failures are reported in the
// result, not as errors.
func (c *Coordinator) IngestPayload(ctx context.Context, p Payload) (SourceResult, error) {
	if strings.TrimSpace(p.SourceURL) == "" || len(p.Content) == 0 {
		return SourceResult{}, errors.Join(ErrInvalidPayload, errors.New("source_url and content are required"))
	}
	src := p.Source
	if src.Name == "" {
		return SourceResult{}, errors.Join(ErrInvalidPayload, errors.New("source is required"))
	}
	if len(src.URLs) == 0 {
		src.URLs = []string{p.SourceURL}
	}

	tiers := source.Order
	switch p.Tier {
	case "":
	case source.TierAPI, source.TierStructured, source.TierHeuristic:
		tiers = []source.Tier{p.Tier}
	default:
		return SourceResult{}, errors.Join(ErrInvalidPayload, errors.New("unknown tier "+string(p.Tier)))
	}

	res := SourceResult{Source: src.Name}
	doc := extract.Document{URL: p.SourceURL, ContentType: strings.ToLower(p.ContentType), Body: p.Content}
	payload, err := extract.FromDocument(src.Name, tiers, doc, c.now())
	if err != nil {
		var ff *extract.FetchFailure
		if errors.As(err, &ff) {
			res.Attempts = ff.Attempts
		}
		res.Status, res.Reason = StatusFailed, err.Error()
		metrics.SourceOutcomes.WithLabelValues(string(res.Status)).Inc()
		return res, nil
	}
	res.Tier = payload.Tier

	out, err := c.normalizer.Normalize(ctx, payload, src)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Status, res.Reason = StatusFailed, err.Error()
		c.logger.Warn("payload normalization failed", "source", src.Name, "error", err)
		metrics.SourceOutcomes.WithLabelValues(string(res.Status)).Inc()
		return res, nil
	}

	res = c.persist(context.WithoutCancel(ctx), res, out)
	metrics.SourceOutcomes.WithLabelValues(string(res.Status)).Inc()
	return res, nil
}
