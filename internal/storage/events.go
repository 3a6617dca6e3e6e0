package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/whatson/internal/event"
)

const eventColumns = `id, source_url, source_name, title, description, venue, venue_address, location,
	start_time, end_time, categories, price_min, price_max, outdoor, family_friendly, image_url,
	confidence, needs_review, created_at, updated_at`

// UpsertEvent inserts e, or overwrites every field except created_at when a
// row with the same source_url exists. The unique source_url constraint
// resolves concurrent upserts of the same event to a single row; the
// existence check shares a transaction with the write so Created is exact.
func (s *Store) UpsertEvent(ctx context.Context, e event.Event) (UpsertResult, error) {
	sourceURL := strings.TrimSpace(e.SourceURL)
	if sourceURL == "" {
		return UpsertResult{}, fmt.Errorf("upserting event %q: source_url is required", e.Title)
	}
	if e.StartTime.IsZero() {
		return UpsertResult{}, fmt.Errorf("upserting event %q: start_time is required", e.Title)
	}
	id := e.ID
	if id == "" {
		id = event.IDFor(sourceURL)
	}

	cats := e.Categories
	if cats == nil {
		cats = []string{}
	}
	catsJSON, err := json.Marshal(cats)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("encoding categories: %w", err)
	}

	var endTime sql.NullString
	if e.EndTime != nil {
		endTime = sql.NullString{String: formatTime(*e.EndTime), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UpsertResult{}, err
	}
	defer tx.Rollback()

	var existing int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE source_url = ?`, sourceURL).Scan(&existing)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("looking up event %s: %w", sourceURL, err)
	}

	now := formatStamp(s.now())
	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_url) DO UPDATE SET
			source_name = excluded.source_name,
			title = excluded.title,
			description = excluded.description,
			venue = excluded.venue,
			venue_address = excluded.venue_address,
			location = excluded.location,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			categories = excluded.categories,
			price_min = excluded.price_min,
			price_max = excluded.price_max,
			outdoor = excluded.outdoor,
			family_friendly = excluded.family_friendly,
			image_url = excluded.image_url,
			confidence = excluded.confidence,
			needs_review = excluded.needs_review,
			updated_at = excluded.updated_at`,
		id, sourceURL, e.SourceName, e.Title, e.Description, e.Venue, e.VenueAddress, e.Location,
		formatTime(e.StartTime), endTime, string(catsJSON), nullFloat(e.PriceMin), nullFloat(e.PriceMax),
		e.Outdoor, e.FamilyFriendly, e.ImageURL, e.Confidence, e.NeedsReview, now, now,
	)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("upserting event %s: %w", sourceURL, err)
	}
	if err := tx.Commit(); err != nil {
		return UpsertResult{}, fmt.Errorf("upserting event %s: %w", sourceURL, err)
	}
	return UpsertResult{ID: id, Created: existing == 0}, nil
}

// GetEvent returns the event with the given id.
func (s *Store) GetEvent(ctx context.Context, id string) (event.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return event.Event{}, ErrNotFound
	}
	if err != nil {
		return event.Event{}, err
	}
	return e, nil
}

// ClearReview marks a flagged event as reviewed.
func (s *Store) ClearReview(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE events SET needs_review = 0, updated_at = ? WHERE id = ?`,
		formatStamp(s.now()), id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// QueryEvents applies q conjunctively and returns events ordered by start
// time ascending. Each term must match the title, description, venue or a
// category tag. Events with an unknown price are never excluded by a
// price ceiling.
func (s *Store) QueryEvents(ctx context.Context, q EventQuery) ([]event.Event, error) {
	var (
		where []string
		args  []any
	)
	for _, term := range q.Terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		pattern := "%" + escapeLike(strings.ToLower(term)) + "%"
		where = append(where, `(lower(title) LIKE ? ESCAPE '\' OR lower(description) LIKE ? ESCAPE '\' OR lower(venue) LIKE ? ESCAPE '\'
			OR EXISTS (SELECT 1 FROM json_each(events.categories) WHERE lower(json_each.value) LIKE ? ESCAPE '\'))`)
		args = append(args, pattern, pattern, pattern, pattern)
	}
	if c := strings.TrimSpace(q.Category); c != "" {
		where = append(where, `EXISTS (SELECT 1 FROM json_each(events.categories) WHERE lower(json_each.value) = ?)`)
		args = append(args, strings.ToLower(c))
	}
	if v := strings.TrimSpace(q.Venue); v != "" {
		where = append(where, `lower(venue) LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(strings.ToLower(v))+"%")
	}
	if l := strings.TrimSpace(q.Location); l != "" {
		where = append(where, `(lower(location) LIKE ? ESCAPE '\' OR lower(venue_address) LIKE ? ESCAPE '\')`)
		pattern := "%" + escapeLike(strings.ToLower(l)) + "%"
		args = append(args, pattern, pattern)
	}
	if q.StartAfter != nil {
		where = append(where, `start_time >= ?`)
		args = append(args, formatTime(*q.StartAfter))
	}
	if q.StartBefore != nil {
		where = append(where, `start_time <= ?`)
		args = append(args, formatTime(*q.StartBefore))
	}
	if q.PriceMax != nil {
		where = append(where, `(price_min IS NULL OR price_min <= ?)`)
		args = append(args, *q.PriceMax)
	}
	if q.Outdoor != nil {
		where = append(where, `outdoor = ?`)
		args = append(args, *q.Outdoor)
	}
	if q.FamilyFriendly != nil {
		where = append(where, `family_friendly = ?`)
		args = append(args, *q.FamilyFriendly)
	}
	if q.NeedsReview != nil {
		where = append(where, `needs_review = ?`)
		args = append(args, *q.NeedsReview)
	}

	query := `SELECT ` + eventColumns + ` FROM events`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY start_time ASC, id ASC`
	if q.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, q.Limit, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var results []event.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// CountEvents returns the total number of stored events.
func (s *Store) CountEvents(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (event.Event, error) {
	var (
		e                           event.Event
		startTime, createdAt, upd   string
		endTime                     sql.NullString
		catsJSON                    string
		priceMin, priceMax          sql.NullFloat64
		outdoor, family, needReview bool
	)
	if err := r.Scan(&e.ID, &e.SourceURL, &e.SourceName, &e.Title, &e.Description, &e.Venue,
		&e.VenueAddress, &e.Location, &startTime, &endTime, &catsJSON, &priceMin, &priceMax,
		&outdoor, &family, &e.ImageURL, &e.Confidence, &needReview, &createdAt, &upd); err != nil {
		return event.Event{}, err
	}

	var err error
	if e.StartTime, err = parseTime(startTime); err != nil {
		return event.Event{}, fmt.Errorf("parsing start_time for event %s: %w", e.ID, err)
	}
	if endTime.Valid {
		t, err := parseTime(endTime.String)
		if err != nil {
			return event.Event{}, fmt.Errorf("parsing end_time for event %s: %w", e.ID, err)
		}
		e.EndTime = &t
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return event.Event{}, fmt.Errorf("parsing created_at for event %s: %w", e.ID, err)
	}
	if e.UpdatedAt, err = parseTime(upd); err != nil {
		return event.Event{}, fmt.Errorf("parsing updated_at for event %s: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(catsJSON), &e.Categories); err != nil {
		return event.Event{}, fmt.Errorf("decoding categories for event %s: %w", e.ID, err)
	}
	if priceMin.Valid {
		v := priceMin.Float64
		e.PriceMin = &v
	}
	if priceMax.Valid {
		v := priceMax.Float64
		e.PriceMax = &v
	}
	e.Outdoor = outdoor
	e.FamilyFriendly = family
	e.NeedsReview = needReview
	return e, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
