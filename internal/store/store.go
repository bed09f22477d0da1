// Package store provides SQLite-backed persistence for conversations and
// their append-only message logs. It is the single source of truth: the
// context window sent to the model is always rebuilt from here.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"

	"github.com/comigor/chatmem/internal/logger"
)

const maxTitleLen = 80

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.L.Debug("sqlite store opened", "path", path)
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS chats (
		pk INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT UNIQUE NOT NULL,
		title TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id TEXT NOT NULL,
		role TEXT NOT NULL CHECK(role IN ('system','user','assistant','tool')),
		content TEXT NOT NULL,
		tool_call_id TEXT,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(chat_id) REFERENCES chats(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_messages_chat_id_id ON messages(chat_id, id);
	`)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateConversation allocates a new conversation and seeds it with its
// single system message. The chat row and the system message land in one
// transaction.
func (s *Store) CreateConversation(ctx context.Context, systemPrompt string) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chats (id, title, created_at) VALUES (?, NULL, ?)`,
		id, now,
	); err != nil {
		return "", fmt.Errorf("insert chat: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (chat_id, role, content, tool_call_id, created_at) VALUES (?, 'system', ?, NULL, ?)`,
		id, systemPrompt, now,
	); err != nil {
		return "", fmt.Errorf("insert system message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// Append durably appends one message to its conversation's log. Messages
// are immutable once written. Tool messages must carry a correlation id.
func (s *Store) Append(ctx context.Context, msg Message) error {
	if msg.Role == RoleTool && msg.ToolCallID == "" {
		return ErrMissingToolCallID
	}

	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM chats WHERE id = ?`, msg.ConversationID).Scan(&exists)
	if err == sql.ErrNoRows {
		return ErrConversationNotFound
	}
	if err != nil {
		return fmt.Errorf("check conversation: %w", err)
	}

	var callID any
	if msg.ToolCallID != "" {
		callID = msg.ToolCallID
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (chat_id, role, content, tool_call_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ConversationID, string(msg.Role), msg.Content, callID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// RecentMessages returns the conversation's system message followed by the
// most recent limit non-system messages in ascending sequence order. This
// is the read projection the context window is built from.
func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	var sys Message
	err := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, role, content, created_at
		 FROM messages WHERE chat_id = ? AND role = 'system' ORDER BY id ASC LIMIT 1`,
		conversationID,
	).Scan(&sys.ID, &sys.ConversationID, &sys.Role, &sys.Content, &sys.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select system message: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, role, content, COALESCE(tool_call_id, ''), created_at
		 FROM messages WHERE chat_id = ? AND role != 'system' ORDER BY id DESC LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select recent messages: %w", err)
	}
	defer rows.Close()

	var recent []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.ToolCallID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		recent = append(recent, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	out := make([]Message, 0, len(recent)+1)
	out = append(out, sys)
	for i := len(recent) - 1; i >= 0; i-- {
		out = append(out, recent[i])
	}
	return out, nil
}

// FullHistory returns the user and assistant messages of a conversation in
// ascending order, for display. Tool traffic and the system prompt are
// excluded.
func (s *Store) FullHistory(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, role, content, created_at
		 FROM messages WHERE chat_id = ? AND role IN ('user','assistant') ORDER BY id ASC LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

// ListConversations returns up to limit conversations, most recent first.
func (s *Store) ListConversations(ctx context.Context, limit int) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, COALESCE(title, '(untitled)'), created_at FROM chats ORDER BY pk DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select chats: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}
	return out, nil
}

// DeleteConversation removes a conversation and, via the cascade, all of
// its messages. Deleting an unknown id is a no-op.
func (s *Store) DeleteConversation(ctx context.Context, conversationID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, conversationID); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	return nil
}

// SetTitleIfEmpty sets the conversation title from candidate, but only when
// no title has been set yet. The candidate is trimmed and truncated.
func (s *Store) SetTitleIfEmpty(ctx context.Context, conversationID, candidate string) error {
	title := strings.TrimSpace(candidate)
	if title == "" {
		return nil
	}
	if runes := []rune(title); len(runes) > maxTitleLen {
		title = string(runes[:maxTitleLen])
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE chats SET title = ? WHERE id = ? AND (title IS NULL OR TRIM(title) = '')`,
		title, conversationID,
	)
	if err != nil {
		return fmt.Errorf("set title: %w", err)
	}
	return nil
}

// MessageCount returns the total number of messages for a conversation,
// including the system message.
func (s *Store) MessageCount(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE chat_id = ?`, conversationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}
