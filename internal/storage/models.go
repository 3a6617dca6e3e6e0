package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Interaction records a user's action on an event. Interactions feed the
// profile summary injected into the chat prompt.
type Interaction struct {
	ID            string
	UserID        string
	Type          string // "viewed", "saved", "clicked", "searched"
	EventID       string
	EventTitle    string
	EventCategory string
	CreatedAt     time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// RunRecord is a persisted ingestion run report. ReportJSON holds the full
// per-source breakdown.
type RunRecord struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Ingested   int
	Skipped    int
	Failed     int
	ReportJSON string
}

// SourceState tracks when a source was last processed, for scheduling.
type SourceState struct {
	SourceName string
	LastRunAt  time.Time
	LastStatus string
}

// EventQuery is the storage-level filter. Every non-zero field is applied
// conjunctively.
type EventQuery struct {
	Terms          []string
	Category       string
	Venue          string
	Location       string
	StartAfter     *time.Time
	StartBefore    *time.Time
	PriceMax       *float64
	Outdoor        *bool
	FamilyFriendly *bool
	NeedsReview    *bool
	Limit          int
	Offset         int
}

// UpsertResult reports the stored identifier and whether the row was new.
type UpsertResult struct {
	ID      string
	Created bool
}
