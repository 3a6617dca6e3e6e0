package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/kalambet/whatson/internal/source"
	"github.com/kalambet/whatson/internal/storage"
)

// ScheduleStore is the storage the Scheduler reads and writes.
type ScheduleStore interface {
	Enqueuer
	SourceStates(ctx context.Context) (map[string]storage.SourceState, error)
	PendingJobTypes(ctx context.Context) (map[string]int, error)
}

// SourceLister returns every configured source.
type SourceLister interface {
	All() []source.Descriptor
}

// Scheduler enqueues a run for the sources whose crawl interval has elapsed.
type Scheduler struct {
	store    ScheduleStore
	sources  SourceLister
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewScheduler creates a Scheduler that checks every interval (default 1m).
func NewScheduler(store ScheduleStore, sources SourceLister, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		store:    store,
		sources:  sources,
		interval: interval,
		now:      time.Now,
		logger:   slog.Default(),
	}
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.Tick(ctx); err != nil {
			s.logger.Error("scheduler tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick enqueues one run covering every due source. Nothing is enqueued while
// an earlier run is still pending. It returns the names that were queued.
func (s *Scheduler) Tick(ctx context.Context) ([]string, error) {
	pending, err := s.store.PendingJobTypes(ctx)
	if err != nil {
		return nil, err
	}
	if pending[JobTypeRun] > 0 {
		return nil, nil
	}

	states, err := s.store.SourceStates(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var due []string
	for _, src := range s.sources.All() {
		st, ok := states[src.Name]
		if !ok || now.Sub(st.LastRunAt) >= src.CrawlInterval {
			due = append(due, src.Name)
		}
	}
	if len(due) == 0 {
		return nil, nil
	}

	id, err := EnqueueRun(ctx, s.store, due)
	if err != nil {
		return nil, err
	}
	s.logger.Info("scheduled ingestion run", "job_id", id, "sources", due)
	return due, nil
}
