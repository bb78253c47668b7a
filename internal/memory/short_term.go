// Package memory holds conversation state at two horizons: a bounded
// in-process buffer for recent turns, and SQLite-backed history, facts, and
// interaction records that survive restarts.
package memory

import (
	"sync"
	"time"
)

// Message is one conversation turn.
type Message struct {
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ShortTerm is a bounded in-memory buffer of recent messages, kept both
// globally and per session. When a buffer is full the oldest message is
// dropped.
type ShortTerm struct {
	mu          sync.Mutex
	maxMessages int
	global      []Message
	sessions    map[string][]Message
}

// NewShortTerm creates a short-term buffer holding at most maxMessages
// messages per scope.
func NewShortTerm(maxMessages int) *ShortTerm {
	return &ShortTerm{
		maxMessages: maxMessages,
		sessions:    make(map[string][]Message),
	}
}

// Add appends a message to the global buffer and to the session's buffer.
func (s *ShortTerm) Add(sessionID string, msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.global = appendBounded(s.global, msg, s.maxMessages)
	if sessionID != "" {
		s.sessions[sessionID] = appendBounded(s.sessions[sessionID], msg, s.maxMessages)
	}
}

// Recent returns up to n of the most recent messages for the session, oldest
// first. A sessionID of "" reads the global buffer.
func (s *ShortTerm) Recent(sessionID string, n int) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := s.global
	if sessionID != "" {
		buf = s.sessions[sessionID]
	}
	if n > len(buf) {
		n = len(buf)
	}
	out := make([]Message, n)
	copy(out, buf[len(buf)-n:])
	return out
}

// Len returns the number of buffered messages for the session.
func (s *ShortTerm) Len(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sessionID == "" {
		return len(s.global)
	}
	return len(s.sessions[sessionID])
}

// ClearSession drops the session's buffer. The global buffer is untouched.
func (s *ShortTerm) ClearSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

func appendBounded(buf []Message, msg Message, max int) []Message {
	buf = append(buf, msg)
	if len(buf) > max {
		buf = buf[len(buf)-max:]
	}
	return buf
}
