package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const runColumns = `id, started_at, finished_at, ingested, skipped, failed, report_json`

// SaveRun stores a finished ingestion run.
func (s *Store) SaveRun(ctx context.Context, r RunRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO ingest_runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, formatStamp(r.StartedAt), formatStamp(r.FinishedAt), r.Ingested, r.Skipped, r.Failed, r.ReportJSON,
	)
	if err != nil {
		return fmt.Errorf("saving run %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (RunRecord, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM ingest_runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, ErrNotFound
	}
	return r, err
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM ingest_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRun(row rowScanner) (RunRecord, error) {
	var (
		r                 RunRecord
		started, finished string
	)
	if err := row.Scan(&r.ID, &started, &finished, &r.Ingested, &r.Skipped, &r.Failed, &r.ReportJSON); err != nil {
		return RunRecord{}, err
	}
	var err error
	if r.StartedAt, err = parseTime(started); err != nil {
		return RunRecord{}, fmt.Errorf("run %s started_at: %w", r.ID, err)
	}
	if r.FinishedAt, err = parseTime(finished); err != nil {
		return RunRecord{}, fmt.Errorf("run %s finished_at: %w", r.ID, err)
	}
	return r, nil
}

// SetSourceState records the outcome of a source's latest run.
func (s *Store) SetSourceState(ctx context.Context, st SourceState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO source_state (source_name, last_run_at, last_status) VALUES (?, ?, ?)
		ON CONFLICT(source_name) DO UPDATE SET last_run_at = excluded.last_run_at, last_status = excluded.last_status`,
		st.SourceName, formatStamp(st.LastRunAt), st.LastStatus,
	)
	return err
}

// SourceStates returns the last-run state of every source keyed by name.
func (s *Store) SourceStates(ctx context.Context) (map[string]SourceState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source_name, last_run_at, last_status FROM source_state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]SourceState)
	for rows.Next() {
		var (
			st   SourceState
			last string
		)
		if err := rows.Scan(&st.SourceName, &last, &st.LastStatus); err != nil {
			return nil, err
		}
		if st.LastRunAt, err = parseTime(last); err != nil {
			return nil, fmt.Errorf("source %s last_run_at: %w", st.SourceName, err)
		}
		out[st.SourceName] = st
	}
	return out, rows.Err()
}
