package chat

import (
	"sync"
	"time"

	"github.com/kalambet/whatson/internal/engine"
	"github.com/kalambet/whatson/internal/event"
)

// State is a step of the conversation state machine.
type State string

const (
	StateAwaitingInput State = "awaiting_input"
	StateGenerating    State = "generating"
	StateToolRequested State = "tool_requested"
	StateToolExecuting State = "tool_executing"
	StateToolResult    State = "tool_result"
	StateResponseReady State = "response_ready"
	StateClosed        State = "closed"
)

// transitions lists the legal moves of the state machine.
var transitions = map[State][]State{
	StateAwaitingInput: {StateGenerating, StateClosed},
	StateGenerating:    {StateToolRequested, StateResponseReady},
	StateToolRequested: {StateToolExecuting},
	StateToolExecuting: {StateToolResult},
	StateToolResult:    {StateGenerating},
	StateResponseReady: {StateAwaitingInput},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// session is one conversation. turn serializes user turns; mu guards the
// fields below it, which Close and the reaper read concurrently.
type session struct {
	id        string
	userID    string
	createdAt time.Time

	turn sync.Mutex

	mu         sync.Mutex
	state      State
	closed     bool
	history    []engine.Message
	latest     []event.Event
	lastActive time.Time
}

// SessionInfo is a snapshot of a session.
type SessionInfo struct {
	ID         string           `json:"session_id"`
	UserID     string           `json:"user_id,omitempty"`
	State      State            `json:"state"`
	Messages   []engine.Message `json:"messages"`
	CreatedAt  time.Time        `json:"created_at"`
	LastActive time.Time        `json:"last_active"`
}

func (s *session) info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]engine.Message, len(s.history))
	copy(msgs, s.history)
	return SessionInfo{
		ID:         s.id,
		UserID:     s.userID,
		State:      s.state,
		Messages:   msgs,
		CreatedAt:  s.createdAt,
		LastActive: s.lastActive,
	}
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *session) historySnapshot() []engine.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]engine.Message, len(s.history))
	copy(msgs, s.history)
	return msgs
}

func (s *session) latestEvents() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

func (s *session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActive)
}
