package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Profiles are free-form key/value rows per user; the profile package owns
// the keys and their encoding.

func (s *Store) SetProfileKey(ctx context.Context, userID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		userID, key, value, formatStamp(s.now()),
	)
	if err != nil {
		return fmt.Errorf("setting %s for %s: %w", key, userID, err)
	}
	return nil
}

func (s *Store) GetProfileKey(ctx context.Context, userID, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM user_profiles WHERE user_id = ? AND key = ?`, userID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

// ProfileKeys returns every stored key for userID. An unknown user has an
// empty map, not ErrNotFound.
func (s *Store) ProfileKeys(ctx context.Context, userID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM user_profiles WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// SaveInteraction appends to the user's interaction log. A zero CreatedAt
// is stamped with the store clock.
func (s *Store) SaveInteraction(ctx context.Context, i Interaction) error {
	if i.CreatedAt.IsZero() {
		i.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_interactions (id, user_id, interaction_type, event_id, event_title, event_category, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		i.ID, i.UserID, i.Type, i.EventID, i.EventTitle, i.EventCategory, formatStamp(i.CreatedAt),
	)
	return err
}

// RecentInteractions returns the user's latest interactions, newest first.
func (s *Store) RecentInteractions(ctx context.Context, userID string, limit int) ([]Interaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, interaction_type, event_id, event_title, event_category, created_at
		FROM user_interactions WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Interaction
	for rows.Next() {
		var (
			i       Interaction
			created string
		)
		if err := rows.Scan(&i.ID, &i.UserID, &i.Type, &i.EventID, &i.EventTitle, &i.EventCategory, &created); err != nil {
			return nil, err
		}
		if i.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("interaction %s: %w", i.ID, err)
		}
		out = append(out, i)
	}
	return out, rows.Err()
}
