// Package session exposes create/switch/list/delete operations over
// conversations for the interactive shell. The caller always has an active
// conversation: deleting the active one immediately creates a replacement.
package session

import (
	"context"
	"fmt"

	"github.com/comigor/chatmem/internal/store"
)

// Manager tracks the active conversation and delegates to the store.
type Manager struct {
	store        *store.Store
	systemPrompt string
	active       string
}

// NewManager creates a session manager and starts an initial session.
func NewManager(ctx context.Context, st *store.Store, systemPrompt string) (*Manager, error) {
	m := &Manager{store: st, systemPrompt: systemPrompt}
	if _, err := m.NewSession(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Active returns the active conversation id.
func (m *Manager) Active() string {
	return m.active
}

// NewSession creates a fresh conversation and makes it active.
func (m *Manager) NewSession(ctx context.Context) (string, error) {
	id, err := m.store.CreateConversation(ctx, m.systemPrompt)
	if err != nil {
		return "", fmt.Errorf("new session: %w", err)
	}
	m.active = id
	return id, nil
}

// Switch makes an existing conversation active.
func (m *Manager) Switch(ctx context.Context, id string) error {
	// RecentMessages doubles as an existence check.
	if _, err := m.store.RecentMessages(ctx, id, 1); err != nil {
		return fmt.Errorf("switch session: %w", err)
	}
	m.active = id
	return nil
}

// List returns recent conversations, most recent first.
func (m *Manager) List(ctx context.Context, limit int) ([]store.Conversation, error) {
	return m.store.ListConversations(ctx, limit)
}

// Delete removes a conversation. If it was the active one, a new session
// is created so the caller is never left without an active conversation.
func (m *Manager) Delete(ctx context.Context, id string) (replacement string, err error) {
	if err := m.store.DeleteConversation(ctx, id); err != nil {
		return "", err
	}
	if id == m.active {
		return m.NewSession(ctx)
	}
	return "", nil
}
