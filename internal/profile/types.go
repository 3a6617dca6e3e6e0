package profile

import "time"

// Profile is what the assistant knows about one user: where they are and
// what kinds of events they tend to like.
type Profile struct {
	UserID   string `json:"user_id"`
	HomeArea string `json:"home_area,omitempty"`
	// CategoryWeights maps a category to a preference in [0,1].
	CategoryWeights map[string]float64 `json:"category_weights,omitempty"`
	Recent          []Interaction      `json:"recent_interactions,omitempty"`
}

// Interaction is one user action on an event.
type Interaction struct {
	Type          string    `json:"type"` // viewed, saved, clicked
	EventID       string    `json:"event_id,omitempty"`
	EventTitle    string    `json:"event_title,omitempty"`
	EventCategory string    `json:"event_category,omitempty"`
	At            time.Time `json:"at"`
}

// Patch is a partial profile update. Nil fields are left unchanged.
type Patch struct {
	HomeArea        *string            `json:"home_area,omitempty"`
	CategoryWeights map[string]float64 `json:"category_weights,omitempty"`
}
