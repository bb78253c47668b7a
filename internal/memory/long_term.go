package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/a-marczewski/ragpipe/internal/storage"
)

// Fact is a key/value observation attached to a session.
type Fact struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// Interaction is one completed question/answer exchange attributed to a user.
type Interaction struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	SessionID string            `json:"session_id"`
	Query     string            `json:"query"`
	Answer    string            `json:"answer"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// LongTerm persists conversation history, facts, and user interactions in
// SQLite.
type LongTerm struct {
	db     *storage.DB
	logger *zap.Logger
}

// NewLongTerm creates long-term memory over the shared database.
func NewLongTerm(db *storage.DB, logger *zap.Logger) *LongTerm {
	return &LongTerm{db: db, logger: logger}
}

// AddMessage records one conversation turn, creating the session row on
// first use.
func (m *LongTerm) AddMessage(sessionID string, msg Message) error {
	if err := m.ensureSession(sessionID); err != nil {
		return err
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	meta, err := encodeMetadata(msg.Metadata)
	if err != nil {
		return err
	}

	_, err = m.db.Conn().Exec(
		"INSERT INTO messages (session_id, role, content, created_at, metadata) VALUES (?, ?, ?, ?, ?)",
		sessionID, msg.Role, msg.Content, ts.Unix(), meta,
	)
	if err != nil {
		return fmt.Errorf("failed to store message: %w", err)
	}
	return nil
}

// AddQAPair records a user query and the assistant's answer as two turns.
func (m *LongTerm) AddQAPair(sessionID, query, answer string) error {
	now := time.Now()
	if err := m.AddMessage(sessionID, Message{Role: "user", Content: query, Timestamp: now}); err != nil {
		return err
	}
	return m.AddMessage(sessionID, Message{Role: "assistant", Content: answer, Timestamp: now})
}

// GetSessionMessages returns up to limit messages for the session, oldest
// first. limit <= 0 means no limit.
func (m *LongTerm) GetSessionMessages(sessionID string, limit int) ([]Message, error) {
	query := `
		SELECT role, content, created_at, metadata FROM messages
		WHERE session_id = ? ORDER BY created_at ASC, id ASC`
	args := []any{sessionID}
	if limit > 0 {
		// Take the newest rows, then flip back to chronological order.
		query = `
			SELECT role, content, created_at, metadata FROM (
				SELECT id, role, content, created_at, metadata FROM messages
				WHERE session_id = ? ORDER BY created_at DESC, id DESC LIMIT ?
			) ORDER BY created_at ASC, id ASC`
		args = append(args, limit)
	}

	rows, err := m.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var (
			msg     Message
			created int64
			meta    sql.NullString
		)
		if err := rows.Scan(&msg.Role, &msg.Content, &created, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Timestamp = time.Unix(created, 0)
		msg.Metadata = decodeMetadata(meta, m.logger)
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// StoreFact records a key/value fact for the session.
func (m *LongTerm) StoreFact(sessionID, key, value string) error {
	if err := m.ensureSession(sessionID); err != nil {
		return err
	}
	_, err := m.db.Conn().Exec(
		"INSERT INTO facts (session_id, key, value, created_at) VALUES (?, ?, ?, ?)",
		sessionID, key, value, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to store fact: %w", err)
	}
	return nil
}

// GetFacts returns the session's facts, oldest first.
func (m *LongTerm) GetFacts(sessionID string) ([]Fact, error) {
	rows, err := m.db.Conn().Query(
		"SELECT key, value, created_at FROM facts WHERE session_id = ? ORDER BY created_at ASC, id ASC",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load facts: %w", err)
	}
	defer rows.Close()

	var facts []Fact
	for rows.Next() {
		var (
			fact    Fact
			created int64
		)
		if err := rows.Scan(&fact.Key, &fact.Value, &created); err != nil {
			return nil, fmt.Errorf("failed to scan fact: %w", err)
		}
		fact.CreatedAt = time.Unix(created, 0)
		facts = append(facts, fact)
	}
	return facts, rows.Err()
}

// RecordInteraction stores a completed exchange and returns its generated id.
func (m *LongTerm) RecordInteraction(userID, sessionID, query, answer string, metadata map[string]string) (string, error) {
	meta, err := encodeMetadata(metadata)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err = m.db.Conn().Exec(
		"INSERT INTO interactions (id, user_id, session_id, query, answer, created_at, metadata) VALUES (?, ?, ?, ?, ?, ?, ?)",
		id, userID, sessionID, query, answer, time.Now().Unix(), meta,
	)
	if err != nil {
		return "", fmt.Errorf("failed to record interaction: %w", err)
	}
	return id, nil
}

// GetUserInteractions returns up to limit of the user's most recent
// exchanges, newest first.
func (m *LongTerm) GetUserInteractions(userID string, limit int) ([]Interaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := m.db.Conn().Query(
		"SELECT id, user_id, session_id, query, answer, created_at, metadata FROM interactions WHERE user_id = ? ORDER BY created_at DESC LIMIT ?",
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load interactions: %w", err)
	}
	defer rows.Close()

	var interactions []Interaction
	for rows.Next() {
		var (
			it      Interaction
			created int64
			meta    sql.NullString
		)
		if err := rows.Scan(&it.ID, &it.UserID, &it.SessionID, &it.Query, &it.Answer, &created, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}
		it.CreatedAt = time.Unix(created, 0)
		it.Metadata = decodeMetadata(meta, m.logger)
		interactions = append(interactions, it)
	}
	return interactions, rows.Err()
}

func (m *LongTerm) ensureSession(sessionID string) error {
	now := time.Now().Unix()
	_, err := m.db.Conn().Exec(
		"INSERT INTO conversations (session_id, created_at, updated_at) VALUES (?, ?, ?) ON CONFLICT(session_id) DO UPDATE SET updated_at = excluded.updated_at",
		sessionID, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to ensure session: %w", err)
	}
	return nil
}

func encodeMetadata(meta map[string]string) (sql.NullString, error) {
	if len(meta) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeMetadata(meta sql.NullString, logger *zap.Logger) map[string]string {
	if !meta.Valid || meta.String == "" {
		return nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(meta.String), &out); err != nil {
		logger.Warn("dropping unreadable metadata", zap.Error(err))
		return nil
	}
	return out
}
