// Package profile keeps per-user preferences and recent interactions and
// renders them as a short summary for the chat prompt.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kalambet/whatson/internal/event"
	"github.com/kalambet/whatson/internal/storage"
)

const (
	keyHomeArea        = "home_area"
	keyCategoryWeights = "category_weights"

	recentLimit = 10
)

// InteractionTypes are the accepted interaction kinds.
var InteractionTypes = []string{"viewed", "saved", "clicked"}

// ErrInvalid is returned for updates that fail validation.
var ErrInvalid = errors.New("invalid profile update")

// ProfileStore defines the storage operations the Manager needs.
// Implemented by storage.Store.
type ProfileStore interface {
	SetProfileKey(ctx context.Context, userID, key, value string) error
	ProfileKeys(ctx context.Context, userID string) (map[string]string, error)
	SaveInteraction(ctx context.Context, i storage.Interaction) error
	RecentInteractions(ctx context.Context, userID string, limit int) ([]storage.Interaction, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type cacheEntry struct {
	profile  Profile
	cachedAt time.Time
}

// Manager provides cached, structured access to user profiles stored in SQLite.
type Manager struct {
	store ProfileStore
	clock Clock
	ttl   time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store ProfileStore) *Manager {
	return NewManagerWithClock(store, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store ProfileStore, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store: store,
		clock: clock,
		ttl:   ttl,
		cache: make(map[string]cacheEntry),
	}
}

// GetProfile assembles the profile for userID from storage (or cache).
// Unknown users get an empty profile, not an error.
func (m *Manager) GetProfile(ctx context.Context, userID string) (Profile, error) {
	m.mu.RLock()
	if e, ok := m.cache[userID]; ok && m.clock.Now().Before(e.cachedAt.Add(m.ttl)) {
		p := deepCopyProfile(e.profile)
		m.mu.RUnlock()
		return p, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.cache[userID]; ok && m.clock.Now().Before(e.cachedAt.Add(m.ttl)) {
		return deepCopyProfile(e.profile), nil
	}

	keys, err := m.store.ProfileKeys(ctx, userID)
	if err != nil {
		return Profile{}, fmt.Errorf("loading profile keys: %w", err)
	}
	recent, err := m.store.RecentInteractions(ctx, userID, recentLimit)
	if err != nil {
		return Profile{}, fmt.Errorf("loading interactions: %w", err)
	}

	p := buildProfile(userID, keys, recent)
	m.cache[userID] = cacheEntry{profile: p, cachedAt: m.clock.Now()}
	return deepCopyProfile(p), nil
}

// Update applies a patch and invalidates the cached profile. Category
// weights must name known categories and lie in [0,1]; a weight of zero
// removes the category.
func (m *Manager) Update(ctx context.Context, userID string, patch Patch) (Profile, error) {
	if userID == "" {
		return Profile{}, fmt.Errorf("%w: user id is required", ErrInvalid)
	}
	for c, w := range patch.CategoryWeights {
		if !event.IsCategory(c) {
			return Profile{}, fmt.Errorf("%w: unknown category %q", ErrInvalid, c)
		}
		if w < 0 || w > 1 {
			return Profile{}, fmt.Errorf("%w: weight for %q must be within [0,1]", ErrInvalid, c)
		}
	}

	current, err := m.GetProfile(ctx, userID)
	if err != nil {
		return Profile{}, err
	}

	m.mu.Lock()
	if patch.HomeArea != nil {
		if err := m.store.SetProfileKey(ctx, userID, keyHomeArea, strings.TrimSpace(*patch.HomeArea)); err != nil {
			m.mu.Unlock()
			return Profile{}, fmt.Errorf("setting profile key %q: %w", keyHomeArea, err)
		}
	}
	if len(patch.CategoryWeights) > 0 {
		weights := current.CategoryWeights
		if weights == nil {
			weights = make(map[string]float64)
		}
		for c, w := range patch.CategoryWeights {
			if w == 0 {
				delete(weights, c)
				continue
			}
			weights[c] = w
		}
		b, err := json.Marshal(weights)
		if err != nil {
			m.mu.Unlock()
			return Profile{}, fmt.Errorf("marshalling category weights: %w", err)
		}
		if err := m.store.SetProfileKey(ctx, userID, keyCategoryWeights, string(b)); err != nil {
			m.mu.Unlock()
			return Profile{}, fmt.Errorf("setting profile key %q: %w", keyCategoryWeights, err)
		}
	}
	delete(m.cache, userID)
	m.mu.Unlock()

	return m.GetProfile(ctx, userID)
}

// RecordInteraction stores an interaction and invalidates the cached profile.
func (m *Manager) RecordInteraction(ctx context.Context, userID string, in Interaction) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalid)
	}
	valid := false
	for _, t := range InteractionTypes {
		if in.Type == t {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: interaction type must be one of %s", ErrInvalid, strings.Join(InteractionTypes, ", "))
	}
	if in.At.IsZero() {
		in.At = m.clock.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.store.SaveInteraction(ctx, storage.Interaction{
		ID:            uuid.New().String(),
		UserID:        userID,
		Type:          in.Type,
		EventID:       in.EventID,
		EventTitle:    in.EventTitle,
		EventCategory: in.EventCategory,
		CreatedAt:     in.At,
	})
	if err != nil {
		return fmt.Errorf("saving interaction: %w", err)
	}
	delete(m.cache, userID)
	return nil
}

// GetSummary returns a compact description of the user suitable for the
// chat system prompt. Anonymous users get an empty summary.
func (m *Manager) GetSummary(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", nil
	}
	p, err := m.GetProfile(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("getting profile for summary: %w", err)
	}
	return summarize(p), nil
}

// maxSummaryChars caps the summary to stay under ~500 tokens (4 chars/token).
const maxSummaryChars = 2000

func summarize(p Profile) string {
	var parts []string

	if p.HomeArea != "" {
		parts = append(parts, fmt.Sprintf("Home area: %s.", p.HomeArea))
	}

	if len(p.CategoryWeights) > 0 {
		cats := make([]string, 0, len(p.CategoryWeights))
		for c := range p.CategoryWeights {
			cats = append(cats, c)
		}
		// Highest weight first, name breaks ties.
		sort.Slice(cats, func(i, j int) bool {
			wi, wj := p.CategoryWeights[cats[i]], p.CategoryWeights[cats[j]]
			if wi != wj {
				return wi > wj
			}
			return cats[i] < cats[j]
		})
		var likes []string
		for _, c := range cats {
			likes = append(likes, fmt.Sprintf("%s (%.1f)", c, p.CategoryWeights[c]))
		}
		parts = append(parts, fmt.Sprintf("Likes: %s.", strings.Join(likes, ", ")))
	}

	if len(p.Recent) > 0 {
		var recent []string
		for _, in := range p.Recent {
			s := in.Type
			if in.EventTitle != "" {
				s += fmt.Sprintf(" %q", in.EventTitle)
			}
			if in.EventCategory != "" {
				s += " (" + in.EventCategory + ")"
			}
			recent = append(recent, s)
		}
		parts = append(parts, fmt.Sprintf("Recently: %s.", strings.Join(recent, "; ")))
	}

	if len(parts) == 0 {
		return ""
	}

	summary := strings.Join(parts, " ")
	if len(summary) > maxSummaryChars {
		// Ensure we don't split a multi-byte UTF-8 character.
		end := maxSummaryChars
		for end > 0 && !utf8.RuneStart(summary[end]) {
			end--
		}
		if idx := strings.LastIndex(summary[:end], " "); idx > 0 {
			summary = summary[:idx]
		} else {
			summary = summary[:end]
		}
	}
	return summary
}

func deepCopyProfile(p Profile) Profile {
	cp := p
	if p.CategoryWeights != nil {
		cp.CategoryWeights = make(map[string]float64, len(p.CategoryWeights))
		for k, v := range p.CategoryWeights {
			cp.CategoryWeights[k] = v
		}
	}
	if p.Recent != nil {
		cp.Recent = make([]Interaction, len(p.Recent))
		copy(cp.Recent, p.Recent)
	}
	return cp
}

// buildProfile assembles a Profile from flat key-value pairs and the
// stored interactions. Map values are stored as JSON objects.
func buildProfile(userID string, keys map[string]string, recent []storage.Interaction) Profile {
	p := Profile{UserID: userID}
	p.HomeArea = keys[keyHomeArea]

	if v, ok := keys[keyCategoryWeights]; ok {
		if err := json.Unmarshal([]byte(v), &p.CategoryWeights); err != nil {
			slog.Warn("malformed profile key, skipping", "user", userID, "key", keyCategoryWeights, "error", err)
			p.CategoryWeights = nil
		}
	}

	for _, i := range recent {
		p.Recent = append(p.Recent, Interaction{
			Type:          i.Type,
			EventID:       i.EventID,
			EventTitle:    i.EventTitle,
			EventCategory: i.EventCategory,
			At:            i.CreatedAt,
		})
	}
	return p
}
