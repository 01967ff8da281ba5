package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/redliner/internal/logging"
	"github.com/aretw0/redliner/pkg/domain"
	"github.com/aretw0/redliner/pkg/ports"
)

// Event kinds sent over the progress stream.
const (
	EventStarted     = "started"
	EventFinished    = "finished"
	EventCommitted   = "committed"
	EventRunFinished = "run_finished" // last event of a run; carries the terminal status
)

// Event is one progress notification of a session.
type Event struct {
	Kind        string        `json:"event"`
	SessionID   string        `json:"session_id"`
	Stage       domain.Stage  `json:"stage,omitempty"`
	Success     *bool         `json:"success,omitempty"`
	DurationMS  *int64        `json:"duration_ms,omitempty"`
	Status      domain.Status `json:"status,omitempty"`
	StageCursor *int          `json:"stage_cursor,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// StreamManager handles active SSE connections.
// It is an observability hook: the orchestrator's stage notifications are
// fanned out to the subscribers of each session.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan<- Event]struct{} // SessionID -> Set of Channels
	logger      *slog.Logger
}

var (
	_ ports.ObservabilityHooks = (*StreamManager)(nil)
	_ ports.ResultObserver     = (*StreamManager)(nil)
	_ ports.RunObserver        = (*StreamManager)(nil)
)

func NewStreamManager(logger *slog.Logger) *StreamManager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &StreamManager{
		subscribers: make(map[string]map[chan<- Event]struct{}),
		logger:      logger,
	}
}

func (sm *StreamManager) Subscribe(sessionID string) (<-chan Event, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan Event, 16)
	if _, ok := sm.subscribers[sessionID]; !ok {
		sm.subscribers[sessionID] = make(map[chan<- Event]struct{})
	}
	sm.subscribers[sessionID][ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			sm.mu.Lock()
			defer sm.mu.Unlock()
			if subs, ok := sm.subscribers[sessionID]; ok {
				delete(subs, ch)
				close(ch)
				if len(subs) == 0 {
					delete(sm.subscribers, sessionID)
				}
			}
		})
	}
}

func (sm *StreamManager) Broadcast(ev Event) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for ch := range sm.subscribers[ev.SessionID] {
		select {
		case ch <- ev:
		default:
			// Drop message if channel is full (slow client)
			sm.logger.Warn("SSE: Client buffer full, dropping message", "session_id", ev.SessionID)
		}
	}
}

func (sm *StreamManager) OnStageStart(_ context.Context, id string, stage domain.Stage) {
	sm.Broadcast(Event{Kind: EventStarted, SessionID: id, Stage: stage})
}

func (sm *StreamManager) OnStageEnd(_ context.Context, id string, stage domain.Stage, success bool, d time.Duration) {
	ms := d.Milliseconds()
	sm.Broadcast(Event{Kind: EventFinished, SessionID: id, Stage: stage, Success: &success, DurationMS: &ms})
}

func (sm *StreamManager) OnStageCommitted(_ context.Context, s *domain.Session, stage domain.Stage) {
	cursor := s.StageCursor
	sm.Broadcast(Event{Kind: EventCommitted, SessionID: s.ID, Stage: stage, Status: s.Status, StageCursor: &cursor})
}

func (sm *StreamManager) OnRunFinished(_ context.Context, s *domain.Session) {
	cursor := s.StageCursor
	sm.Broadcast(Event{Kind: EventRunFinished, SessionID: s.ID, Status: s.Status, StageCursor: &cursor, Error: s.Error})
}

func encodeEvent(ev Event) string {
	data, err := json.Marshal(ev)
	if err != nil {
		return "{}"
	}
	return string(data)
}
