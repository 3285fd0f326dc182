package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/loadout-ai/loadout/internal/provider"
)

// Session holds the conversation state for one agent run.
type Session struct {
	ID        string
	Messages  []provider.Message
	CreatedAt time.Time
	UpdatedAt time.Time
}

// New creates an empty session with a unique ID.
func New() *Session {
	now := time.Now()
	return &Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AddMessage appends a message to the history.
func (s *Session) AddMessage(msg provider.Message) {
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = time.Now()
}

// Clear drops the message history.
func (s *Session) Clear() {
	s.Messages = nil
	s.UpdatedAt = time.Now()
}

// EstimateTokens estimates the current history size.
func (s *Session) EstimateTokens() int {
	return EstimateMessagesTokens(s.Messages)
}

// Prune compacts the history in place per cfg and reports whether
// anything changed. An unchanged history is detected by slice identity:
// PruneByTokens only allocates when it prunes.
func (s *Session) Prune(cfg PruneConfig) bool {
	if len(s.Messages) == 0 {
		return false
	}
	pruned := PruneByTokens(s.Messages, cfg)
	if &pruned[0] == &s.Messages[0] {
		return false
	}
	s.Messages = pruned
	s.UpdatedAt = time.Now()
	return true
}
