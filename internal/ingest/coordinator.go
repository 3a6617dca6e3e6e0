// Package ingest runs sources through the policy gate, extraction tiers and
// the normalizer, and upserts the resulting events.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/whatson/internal/event"
	"github.com/kalambet/whatson/internal/extract"
	"github.com/kalambet/whatson/internal/metrics"
	"github.com/kalambet/whatson/internal/normalize"
	"github.com/kalambet/whatson/internal/source"
	"github.com/kalambet/whatson/internal/storage"
)

const (
	defaultConcurrency   = 8
	defaultSourceTimeout = 2 * time.Minute
)

// Gate decides whether a source may be fetched now.
type Gate interface {
	Allow(ctx context.Context, src source.Descriptor, now time.Time) bool
}

// Fetcher pulls a raw payload out of a source.
type Fetcher interface {
	Fetch(ctx context.Context, src source.Descriptor) (extract.RawPayload, error)
}

// Normalizer turns a payload into event drafts.
type Normalizer interface {
	Normalize(ctx context.Context, payload extract.RawPayload, src source.Descriptor) (normalize.Result, error)
}

// EventStore upserts events keyed by source URL.
type EventStore interface {
	UpsertEvent(ctx context.Context, e event.Event) (storage.UpsertResult, error)
}

// Status is the outcome of one source within a run.
type Status string

const (
	StatusIngested  Status = "ingested"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// SourceResult is the outcome for one source.
type SourceResult struct {
	Source   string            `json:"source"`
	Status   Status            `json:"status"`
	Tier     source.Tier       `json:"tier,omitempty"`
	EventIDs []string          `json:"event_ids"`
	Created  int               `json:"created"`
	Updated  int               `json:"updated"`
	Flagged  int               `json:"flagged"`
	Rejected int               `json:"rejected"`
	Reason   string            `json:"reason,omitempty"`
	Attempts []extract.Attempt `json:"attempts,omitempty"`
}

// RunReport aggregates the per-source outcomes of one run.
type RunReport struct {
	ID         string         `json:"id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Ingested   int            `json:"ingested"`
	Skipped    int            `json:"skipped"`
	Failed     int            `json:"failed"`
	Sources    []SourceResult `json:"sources"`
}

// Options configures a Coordinator.
type Options struct {
	Concurrency   int
	SourceTimeout time.Duration
	Clock         func() time.Time
	Logger        *slog.Logger
}

// Coordinator runs ingestion for a set of sources.
type Coordinator struct {
	gate       Gate
	fetcher    Fetcher
	normalizer Normalizer
	store      EventStore

	concurrency   int
	sourceTimeout time.Duration
	now           func() time.Time
	logger        *slog.Logger
}

// NewCoordinator creates a Coordinator. Zero options take defaults.
func NewCoordinator(gate Gate, fetcher Fetcher, normalizer Normalizer, store EventStore, opts Options) *Coordinator {
	c := &Coordinator{
		gate:          gate,
		fetcher:       fetcher,
		normalizer:    normalizer,
		store:         store,
		concurrency:   opts.Concurrency,
		sourceTimeout: opts.SourceTimeout,
		now:           opts.Clock,
		logger:        opts.Logger,
	}
	if c.concurrency <= 0 {
		c.concurrency = defaultConcurrency
	}
	if c.sourceTimeout <= 0 {
		c.sourceTimeout = defaultSourceTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Run processes every source on a bounded pool. A failure in one source
// never affects another. Cancelling ctx stops new sources from starting;
// sources already past normalization are stored in full.
func (c *Coordinator) Run(ctx context.Context, sources []source.Descriptor) RunReport {
	report := RunReport{ID: uuid.New().String(), StartedAt: c.now()}
	results := make([]SourceResult, len(sources))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, src := range sources {
		if ctx.Err() != nil {
			results[i] = SourceResult{Source: src.Name, Status: StatusCancelled, Reason: "run cancelled"}
			continue
		}
		g.Go(func() error {
			results[i] = c.runSource(ctx, src)
			return nil
		})
	}
	g.Wait()

	report.FinishedAt = c.now()
	report.Sources = results
	for _, r := range results {
		metrics.SourceOutcomes.WithLabelValues(string(r.Status)).Inc()
		switch r.Status {
		case StatusIngested:
			report.Ingested += r.Created + r.Updated
		case StatusFailed:
			report.Failed++
		default:
			report.Skipped++
		}
	}
	metrics.RunDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
	c.logger.Info("ingestion run finished",
		"run_id", report.ID, "sources", len(sources),
		"ingested", report.Ingested, "skipped", report.Skipped, "failed", report.Failed)
	return report
}

func (c *Coordinator) runSource(ctx context.Context, src source.Descriptor) SourceResult {
	res := SourceResult{Source: src.Name}
	if ctx.Err() != nil {
		res.Status, res.Reason = StatusCancelled, "run cancelled"
		return res
	}

	if !c.gate.Allow(ctx, src, c.now()) {
		res.Status, res.Reason = StatusSkipped, "policy denied"
		c.logger.Debug("source skipped by policy", "source", src.Name)
		return res
	}

	sctx, cancel := context.WithTimeout(ctx, c.sourceTimeout)
	defer cancel()

	payload, err := c.fetcher.Fetch(sctx, src)
	if err != nil {
		var ff *extract.FetchFailure
		if errors.As(err, &ff) {
			res.Attempts = ff.Attempts
		}
		return c.fail(ctx, res, err)
	}
	res.Tier = payload.Tier

	out, err := c.normalizer.Normalize(sctx, payload, src)
	if err != nil {
		return c.fail(ctx, res, err)
	}

	// Last checkpoint: past this point the drafts are stored in full.
	if ctx.Err() != nil {
		res.Status, res.Reason = StatusCancelled, "run cancelled"
		return res
	}
	return c.persist(context.WithoutCancel(ctx), res, out)
}

func (c *Coordinator) fail(ctx context.Context, res SourceResult, err error) SourceResult {
	if ctx.Err() != nil {
		res.Status, res.Reason = StatusCancelled, "run cancelled"
		return res
	}
	res.Status, res.Reason = StatusFailed, err.Error()
	c.logger.Warn("source failed", "source", res.Source, "tier", res.Tier, "error", err)
	return res
}

// persist upserts every draft. Each upsert is independent; a storage error on
// one draft does not stop the rest.
func (c *Coordinator) persist(ctx context.Context, res SourceResult, out normalize.Result) SourceResult {
	res.Rejected = out.Rejected
	res.EventIDs = make([]string, 0, len(out.Drafts))

	var firstErr error
	var failed int
	for _, d := range out.Drafts {
		ev := d.Event()
		up, err := c.store.UpsertEvent(ctx, ev)
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		res.EventIDs = append(res.EventIDs, up.ID)
		if up.Created {
			res.Created++
			metrics.EventsUpserted.WithLabelValues("created").Inc()
		} else {
			res.Updated++
			metrics.EventsUpserted.WithLabelValues("updated").Inc()
		}
		if ev.NeedsReview {
			res.Flagged++
		}
	}

	if firstErr != nil {
		res.Status = StatusFailed
		res.Reason = fmt.Sprintf("storing %d of %d events failed: %v", failed, len(out.Drafts), firstErr)
		c.logger.Error("upsert failed", "source", res.Source, "failed", failed, "error", firstErr)
		return res
	}
	res.Status = StatusIngested
	c.logger.Info("source ingested",
		"source", res.Source, "tier", res.Tier,
		"created", res.Created, "updated", res.Updated, "flagged", res.Flagged, "rejected", res.Rejected)
	return res
}
