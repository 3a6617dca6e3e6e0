package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/whatson/internal/source"
	"github.com/kalambet/whatson/internal/storage"
)

// JobTypeRun is the job queue type for ingestion runs.
const JobTypeRun = "ingest_run"

// runMaxAttempts bounds retries of a run whose payload cannot be served,
// such as one naming only sources that have since been removed.
const runMaxAttempts = 2

// Enqueuer adds jobs to the queue.
type Enqueuer interface {
	EnqueueJob(ctx context.Context, job storage.Job) error
}

// JobStore is the queue and run bookkeeping the Worker needs.
type JobStore interface {
	ClaimNextJob(ctx context.Context, types ...string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id, errMsg string) error
	RequeueRunningJobs(ctx context.Context, types ...string) (int, error)
	SaveRun(ctx context.Context, r storage.RunRecord) error
	SetSourceState(ctx context.Context, st storage.SourceState) error
}

// SourceLookup resolves source names against the current registry.
type SourceLookup interface {
	Lookup(names []string) (found []source.Descriptor, unknown []string)
}

// Runner executes an ingestion run.
type Runner interface {
	Run(ctx context.Context, sources []source.Descriptor) RunReport
}

type runPayload struct {
	Sources []string `json:"sources,omitempty"`
}

// EnqueueRun queues a run over the named sources, or over every source when
// names is empty, and returns the job ID.
func EnqueueRun(ctx context.Context, q Enqueuer, names []string) (string, error) {
	payload, err := json.Marshal(runPayload{Sources: names})
	if err != nil {
		return "", fmt.Errorf("encoding run payload: %w", err)
	}
	id := uuid.NewString()
	err = q.EnqueueJob(ctx, storage.Job{
		ID:          id,
		Type:        JobTypeRun,
		PayloadJSON: string(payload),
		MaxAttempts: runMaxAttempts,
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Worker drains ingest_run jobs from the queue one at a time, so two runs
// never crawl the same site concurrently.
type Worker struct {
	store   JobStore
	sources SourceLookup
	runner  Runner
	poll    time.Duration
	logger  *slog.Logger
}

// NewWorker returns a Worker that checks the queue every poll interval
// (500ms when poll <= 0) while idle.
func NewWorker(store JobStore, sources SourceLookup, runner Runner, poll time.Duration) *Worker {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	return &Worker{
		store:   store,
		sources: sources,
		runner:  runner,
		poll:    poll,
		logger:  slog.Default().With("component", "ingest_worker"),
	}
}

// Run processes jobs until ctx is cancelled. A non-empty queue is drained
// without waiting between jobs. Runs left claimed by a previous process are
// put back on the queue first.
func (w *Worker) Run(ctx context.Context) {
	if n, err := w.store.RequeueRunningJobs(ctx, JobTypeRun); err != nil {
		w.logger.Error("requeueing interrupted runs", "error", err)
	} else if n > 0 {
		w.logger.Warn("requeued interrupted runs", "count", n)
	}

	idle := time.NewTimer(0)
	defer idle.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-idle.C:
		}
		for ctx.Err() == nil {
			worked, err := w.RunOnce(ctx)
			if err != nil {
				w.logger.Error("processing queue", "error", err)
			}
			if !worked || err != nil {
				break
			}
		}
		idle.Reset(w.poll)
	}
}

// RunOnce claims and processes at most one job. It reports whether a job
// was claimed; a job that failed still counts.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, JobTypeRun)
	if err != nil || job == nil {
		return false, err
	}
	log := w.logger.With("job_id", job.ID, "attempt", job.Attempts+1)

	if err := w.process(ctx, job, log); err != nil {
		log.Warn("run failed", "error", err)
		// Record the failure even if the server is shutting down.
		if ferr := w.store.FailJob(context.WithoutCancel(ctx), job.ID, err.Error()); ferr != nil {
			return true, fmt.Errorf("recording failure of job %s: %w", job.ID, ferr)
		}
		return true, nil
	}
	if err := w.store.CompleteJob(context.WithoutCancel(ctx), job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

var errNoKnownSources = errors.New("no known sources")

func (w *Worker) process(ctx context.Context, job *storage.Job, log *slog.Logger) error {
	var p runPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}

	found, unknown := w.sources.Lookup(p.Sources)
	if len(unknown) > 0 {
		log.Warn("run names unknown sources", "unknown", unknown)
	}
	switch {
	case len(found) == 0 && len(unknown) > 0:
		return fmt.Errorf("%w: %s", errNoKnownSources, strings.Join(unknown, ", "))
	case len(found) == 0:
		log.Info("no sources configured")
		return nil
	}

	report := w.runner.Run(ctx, found)
	return w.record(context.WithoutCancel(ctx), report, log)
}

// record persists the report and advances per-source crawl state.
// Cancelled and policy-skipped sources keep their old state so they stay
// due on the next scheduler tick.
func (w *Worker) record(ctx context.Context, report RunReport, log *slog.Logger) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := w.store.SaveRun(ctx, storage.RunRecord{
		ID:         report.ID,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		Ingested:   report.Ingested,
		Skipped:    report.Skipped,
		Failed:     report.Failed,
		ReportJSON: string(raw),
	}); err != nil {
		return err
	}

	for _, r := range report.Sources {
		if r.Status == StatusCancelled || r.Status == StatusSkipped {
			continue
		}
		st := storage.SourceState{SourceName: r.Source, LastRunAt: report.FinishedAt, LastStatus: string(r.Status)}
		if err := w.store.SetSourceState(ctx, st); err != nil {
			log.Error("recording source state", "source", r.Source, "error", err)
		}
	}
	log.Info("run recorded", "run_id", report.ID,
		"ingested", report.Ingested, "skipped", report.Skipped, "failed", report.Failed)
	return nil
}
