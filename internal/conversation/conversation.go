// Package conversation provides in-memory, session-scoped conversation
// context for multi-turn analytical sessions.
package conversation

import (
	"sync"

	"github.com/cubeline/cubeline/pkg/models"
)

// Store is a thread-safe sliding window of conversation turns per session.
// Each session keeps at most maxTurns turns; appending beyond that evicts
// the oldest.
type Store struct {
	mu       sync.RWMutex
	maxTurns int
	sessions map[string][]models.ConversationTurn
}

// NewStore creates a conversation store with the given window size.
func NewStore(maxTurns int) *Store {
	if maxTurns <= 0 {
		maxTurns = 6
	}
	return &Store{
		maxTurns: maxTurns,
		sessions: make(map[string][]models.ConversationTurn),
	}
}

// Append records a completed turn for the session, evicting the oldest turn
// when the window is full. Partial and failed turns are recorded too, so a
// follow-up question can refer to what went wrong.
func (s *Store) Append(sessionID string, turn models.ConversationTurn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := append(s.sessions[sessionID], turn)
	if len(turns) > s.maxTurns {
		turns = turns[len(turns)-s.maxTurns:]
	}
	s.sessions[sessionID] = turns
}

// Turns returns a copy of the session's turns, oldest first.
func (s *Store) Turns(sessionID string) []models.ConversationTurn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := s.sessions[sessionID]
	out := make([]models.ConversationTurn, len(turns))
	copy(out, turns)
	return out
}

// Reset clears the session's context.
func (s *Store) Reset(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Sessions returns the number of sessions with stored context.
func (s *Store) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
