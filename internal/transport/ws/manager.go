package ws

import (
	"context"
	"fmt"
	"sync"

	"github.com/oggyb/anon-relay/internal/session"
	"github.com/oggyb/anon-relay/internal/transport"
)

// Manager tracks the live connection of every user and delivers outbound
// frames. A user has at most one connection; a new one replaces the old.
type Manager struct {
	mu       sync.RWMutex
	byUser   map[session.UserID]*Client
	shutdown bool
}

var _ transport.Sink = (*Manager)(nil)

func NewManager() *Manager {
	return &Manager{byUser: make(map[session.UserID]*Client)}
}

// Register adds client and returns the connection it replaced, if any.
// After Shutdown it refuses and returns ok=false.
func (m *Manager) Register(client *Client) (replaced *Client, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		return nil, false
	}
	if old, exists := m.byUser[client.User()]; exists && old != client {
		replaced = old
	}
	m.byUser[client.User()] = client
	return replaced, true
}

// Unregister removes client unless it was already replaced.
func (m *Manager) Unregister(client *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.byUser[client.User()]; ok && current == client {
		delete(m.byUser, client.User())
	}
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byUser)
}

// Shutdown closes every connection and refuses new ones.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return
	}
	m.shutdown = true
	clients := make([]*Client, 0, len(m.byUser))
	for _, c := range m.byUser {
		clients = append(clients, c)
	}
	m.byUser = make(map[session.UserID]*Client)
	m.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}

func (m *Manager) Notify(ctx context.Context, to session.UserID, n transport.Notice) error {
	return m.deliver(ctx, to, Outbound{Type: FrameNotice, Notice: &n})
}

func (m *Manager) Forward(ctx context.Context, to session.UserID, c transport.Content) error {
	return m.deliver(ctx, to, Outbound{Type: FrameMessage, Content: &c})
}

// deliver maps a missing or closed connection to ErrRecipientGone and a
// full queue to ErrTransient.
func (m *Manager) deliver(ctx context.Context, to session.UserID, out Outbound) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := encode(out)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", out.Type, err)
	}

	m.mu.RLock()
	client := m.byUser[to]
	m.mu.RUnlock()
	if client == nil {
		return transport.ErrRecipientGone
	}
	if !client.Enqueue(payload) {
		select {
		case <-client.Done():
			return transport.ErrRecipientGone
		default:
			return transport.ErrTransient
		}
	}
	return nil
}
