// Package chat runs conversations with the events assistant. Each session
// is an explicit state machine; within a turn the model may call the
// search_events tool a bounded number of times before it must answer.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/whatson/internal/engine"
	"github.com/kalambet/whatson/internal/event"
	"github.com/kalambet/whatson/internal/metrics"
	"github.com/kalambet/whatson/internal/search"
)

const (
	defaultMaxToolDepth = 3
	defaultToolTimeout  = 5 * time.Second
	defaultIdleTimeout  = 30 * time.Minute

	degradedReply = "Sorry, I'm having trouble answering right now. Please try again in a moment."
)

var (
	ErrSessionClosed   = errors.New("session closed")
	ErrSessionNotFound = errors.New("session not found")
	ErrEmptyMessage    = errors.New("message is empty")
)

// Engine is the tool-calling half of the language-model interface.
type Engine interface {
	ChatTools(ctx context.Context, model string, messages []engine.Message, tools []engine.Tool) (engine.ChatResponse, error)
}

// Searcher executes search intents. Implemented by *search.Executor.
type Searcher interface {
	Search(ctx context.Context, in search.Intent, surface string) ([]event.Event, error)
}

// Prompter builds the messages for one model call.
// Implemented by *composer.Composer.
type Prompter interface {
	Compose(history []engine.Message, profileSummary string, now time.Time) []engine.Message
}

// Profiles supplies the optional per-user prompt summary.
// Implemented by *profile.Manager.
type Profiles interface {
	GetSummary(ctx context.Context, userID string) (string, error)
}

// Options configures an Orchestrator. Zero values take defaults.
type Options struct {
	Model        string
	MaxToolDepth int
	ToolTimeout  time.Duration
	IdleTimeout  time.Duration
	// Location is used for tool dates given without a time. Defaults to time.Local.
	Location *time.Location
	Clock    func() time.Time
	Logger   *slog.Logger
}

// Orchestrator owns every conversation session.
type Orchestrator struct {
	engine   Engine
	searcher Searcher
	prompter Prompter
	profiles Profiles

	model       string
	maxDepth    int
	toolTimeout time.Duration
	idleTimeout time.Duration
	loc         *time.Location
	now         func() time.Time
	logger      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// New creates an Orchestrator. profiles may be nil.
func New(eng Engine, searcher Searcher, prompter Prompter, profiles Profiles, opts Options) *Orchestrator {
	o := &Orchestrator{
		engine:      eng,
		searcher:    searcher,
		prompter:    prompter,
		profiles:    profiles,
		model:       opts.Model,
		maxDepth:    opts.MaxToolDepth,
		toolTimeout: opts.ToolTimeout,
		idleTimeout: opts.IdleTimeout,
		loc:         opts.Location,
		now:         opts.Clock,
		logger:      opts.Logger,
		sessions:    make(map[string]*session),
	}
	if o.maxDepth <= 0 {
		o.maxDepth = defaultMaxToolDepth
	}
	if o.toolTimeout <= 0 {
		o.toolTimeout = defaultToolTimeout
	}
	if o.idleTimeout <= 0 {
		o.idleTimeout = defaultIdleTimeout
	}
	if o.loc == nil {
		o.loc = time.Local
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// Request is one user message. An empty SessionID starts a new session.
type Request struct {
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Message   string `json:"message"`
}

// ToolInvocation records one tool call made during a turn.
type ToolInvocation struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Intent    *search.Intent  `json:"intent,omitempty"`
	Results   int             `json:"results"`
	Error     string          `json:"error,omitempty"`
}

// Reply is the outcome of one turn. Events are those of the most recent
// tool result that the message refers to.
type Reply struct {
	SessionID string           `json:"session_id"`
	Message   string           `json:"message"`
	Events    []event.Event    `json:"events"`
	ToolCalls []ToolInvocation `json:"tool_calls"`
	State     State            `json:"state"`
	Outcome   string           `json:"outcome"`
}

// Send runs one turn. Model and tool failures degrade to an apologetic
// reply; only a closed or unknown session is an error. A session that is
// closed mid-turn has the turn's result discarded.
func (o *Orchestrator) Send(ctx context.Context, req Request) (Reply, error) {
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return Reply{}, ErrEmptyMessage
	}
	s, err := o.session(req.SessionID, req.UserID)
	if err != nil {
		return Reply{}, err
	}

	s.turn.Lock()
	defer s.turn.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Reply{}, ErrSessionClosed
	}
	s.history = append(s.history, engine.Message{Role: engine.RoleUser, Content: msg})
	s.lastActive = o.now()
	o.moveLocked(s, StateGenerating)
	s.mu.Unlock()

	return o.runTurn(ctx, s)
}

func (o *Orchestrator) runTurn(ctx context.Context, s *session) (Reply, error) {
	summary := o.profileSummary(ctx, s.userID)
	var calls []ToolInvocation

	for depth := 0; ; depth++ {
		tools := []engine.Tool{SearchTool()}
		if depth >= o.maxDepth {
			tools = nil
		}
		msgs := o.prompter.Compose(s.historySnapshot(), summary, o.now().In(o.loc))
		resp, err := o.engine.ChatTools(ctx, o.model, msgs, tools)
		if s.isClosed() {
			return o.discard(s)
		}
		if err != nil {
			o.logger.Warn("chat generation failed", "session", s.id, "depth", depth, "error", err)
			return o.finish(s, degradedReply, calls, "degraded")
		}
		if len(resp.ToolCalls) == 0 {
			return o.finish(s, resp.Content, calls, "answered")
		}
		if depth >= o.maxDepth {
			o.logger.Warn("tool depth exceeded", "session", s.id, "max", o.maxDepth)
			return o.finish(s, bestEffort(resp.Content, s.latestEvents()), calls, "depth_exceeded")
		}

		call := resp.ToolCalls[0]
		if call.ID == "" {
			call.ID = "call_" + uuid.New().String()[:8]
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return o.discard(s)
		}
		o.moveLocked(s, StateToolRequested)
		s.history = append(s.history, engine.Message{Role: engine.RoleAssistant, Content: resp.Content, ToolCalls: []engine.ToolCall{call}})
		o.moveLocked(s, StateToolExecuting)
		s.mu.Unlock()

		content, events, inv := o.execute(ctx, call)
		calls = append(calls, inv)

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return o.discard(s)
		}
		s.history = append(s.history, engine.Message{Role: engine.RoleTool, ToolCallID: call.ID, ToolName: call.Name, Content: content})
		s.latest = events
		o.moveLocked(s, StateToolResult)
		o.moveLocked(s, StateGenerating)
		s.mu.Unlock()
	}
}

// execute runs one tool call. It is detached from ctx so that a call in
// flight when the session closes still completes; its own timeout bounds it.
func (o *Orchestrator) execute(ctx context.Context, call engine.ToolCall) (string, []event.Event, ToolInvocation) {
	inv := ToolInvocation{Name: call.Name, Arguments: call.Arguments}
	if call.Name != SearchToolName {
		inv.Error = fmt.Sprintf("unknown tool %q", call.Name)
		metrics.ToolCalls.WithLabelValues("invalid").Inc()
		return renderError(inv.Error + "; only search_events is available"), nil, inv
	}

	in, err := IntentFromArgs(call.Arguments, o.loc)
	if err != nil {
		inv.Error = err.Error()
		metrics.ToolCalls.WithLabelValues("invalid").Inc()
		return renderError(err.Error()), nil, inv
	}
	inv.Intent = &in

	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.toolTimeout)
	defer cancel()

	type outcome struct {
		events []event.Event
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		events, err := o.searcher.Search(tctx, in, "tool")
		done <- outcome{events, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			inv.Error = r.err.Error()
			o.logger.Warn("search tool failed", "error", r.err)
			metrics.ToolCalls.WithLabelValues("error").Inc()
			return renderError("search failed; apologize and suggest trying again"), nil, inv
		}
		inv.Results = len(r.events)
		metrics.ToolCalls.WithLabelValues("ok").Inc()
		return renderResult(r.events), r.events, inv
	case <-tctx.Done():
		inv.Error = "search timed out"
		o.logger.Warn("search tool timed out", "timeout", o.toolTimeout)
		metrics.ToolCalls.WithLabelValues("timeout").Inc()
		return renderError("search timed out; apologize and suggest trying again"), nil, inv
	}
}

func (o *Orchestrator) finish(s *session, text string, calls []ToolInvocation, outcome string) (Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		metrics.ChatTurns.WithLabelValues("discarded").Inc()
		return Reply{}, ErrSessionClosed
	}
	s.history = append(s.history, engine.Message{Role: engine.RoleAssistant, Content: text})
	o.moveLocked(s, StateResponseReady)
	reply := Reply{
		SessionID: s.id,
		Message:   text,
		Events:    referencedEvents(text, s.latest),
		ToolCalls: calls,
		State:     StateResponseReady,
		Outcome:   outcome,
	}
	if reply.ToolCalls == nil {
		reply.ToolCalls = []ToolInvocation{}
	}
	o.moveLocked(s, StateAwaitingInput)
	s.lastActive = o.now()
	metrics.ChatTurns.WithLabelValues(outcome).Inc()
	return reply, nil
}

func (o *Orchestrator) discard(s *session) (Reply, error) {
	o.logger.Info("session closed mid-turn, discarding result", "session", s.id)
	metrics.ChatTurns.WithLabelValues("discarded").Inc()
	return Reply{}, ErrSessionClosed
}

// moveLocked changes state; s.mu must be held.
func (o *Orchestrator) moveLocked(s *session, to State) {
	if !canTransition(s.state, to) {
		o.logger.Error("illegal chat state transition", "session", s.id, "from", s.state, "to", to)
	}
	o.logger.Debug("chat state", "session", s.id, "from", s.state, "to", to)
	s.state = to
}

func (o *Orchestrator) profileSummary(ctx context.Context, userID string) string {
	if o.profiles == nil || userID == "" {
		return ""
	}
	summary, err := o.profiles.GetSummary(ctx, userID)
	if err != nil {
		o.logger.Warn("profile summary unavailable", "user", userID, "error", err)
		return ""
	}
	return summary
}

func (o *Orchestrator) session(id, userID string) (*session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if id == "" {
		now := o.now()
		s := &session{
			id:         uuid.New().String(),
			userID:     userID,
			createdAt:  now,
			state:      StateAwaitingInput,
			lastActive: now,
		}
		o.sessions[s.id] = s
		metrics.ActiveSessions.Inc()
		return s, nil
	}

	s, ok := o.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if userID != "" && s.userID == "" {
		s.userID = userID
	}
	return s, nil
}

// Get returns a snapshot of a session.
func (o *Orchestrator) Get(id string) (SessionInfo, error) {
	o.mu.Lock()
	s, ok := o.sessions[id]
	o.mu.Unlock()
	if !ok {
		return SessionInfo{}, ErrSessionNotFound
	}
	return s.info(), nil
}

// Close ends a session. A turn in progress finishes its tool call but its
// result is discarded.
func (o *Orchestrator) Close(id string) error {
	o.mu.Lock()
	s, ok := o.sessions[id]
	delete(o.sessions, id)
	o.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	o.closeSession(s)
	return nil
}

func (o *Orchestrator) closeSession(s *session) {
	s.mu.Lock()
	s.closed = true
	s.state = StateClosed
	s.mu.Unlock()
	metrics.ActiveSessions.Dec()
}

// Reap closes sessions idle for longer than the idle timeout. Sessions in
// the middle of a turn are never idle.
func (o *Orchestrator) Reap() int {
	now := o.now()
	var idle []*session

	o.mu.Lock()
	for id, s := range o.sessions {
		if !s.turn.TryLock() {
			continue
		}
		if s.idleSince(now) > o.idleTimeout {
			delete(o.sessions, id)
			idle = append(idle, s)
		}
		s.turn.Unlock()
	}
	o.mu.Unlock()

	for _, s := range idle {
		o.closeSession(s)
		o.logger.Info("closed idle chat session", "session", s.id)
	}
	return len(idle)
}

// RunReaper calls Reap every interval until ctx is cancelled.
func (o *Orchestrator) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Reap()
		}
	}
}

// bestEffort is the answer when the model keeps asking for tools past the
// depth limit: its own text if it wrote any, else a list of what the last
// search found.
func bestEffort(content string, latest []event.Event) string {
	if strings.TrimSpace(content) != "" {
		return content
	}
	if len(latest) == 0 {
		return "Sorry, I couldn't find events matching that. Could you rephrase or loosen the filters?"
	}
	var sb strings.Builder
	sb.WriteString("Here is what I found:")
	for i, e := range latest {
		if i == 5 {
			break
		}
		fmt.Fprintf(&sb, "\n- %s, %s", e.Title, e.StartTime.Format("Mon Jan 2 3:04 PM"))
		if e.Venue != "" {
			sb.WriteString(" at " + e.Venue)
		}
	}
	return sb.String()
}
