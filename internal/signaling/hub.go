package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var ErrNoConnection = errors.New("signaling: user has no live connection")

// Envelope is the frame written to clients.
type Envelope struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload"`
	Timestamp int64  `json:"timestamp"`
}

func encode(eventType string, payload any, now time.Time) ([]byte, error) {
	return json.Marshal(Envelope{Type: eventType, Payload: payload, Timestamp: now.UnixMilli()})
}

// Hub tracks the live connections of every user on this node.
// A user may hold several connections (one per device).
type Hub struct {
	mu    sync.RWMutex
	users map[string]map[*Conn]struct{}
	log   *slog.Logger
	now   func() time.Time
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{users: map[string]map[*Conn]struct{}{}, log: log, now: time.Now}
}

func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.users[c.userID]
	if !ok {
		set = map[*Conn]struct{}{}
		h.users[c.userID] = set
	}
	set[c] = struct{}{}
}

// Unregister removes c and returns how many connections the user still has.
func (h *Hub) Unregister(c *Conn) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.users[c.userID]
	if !ok {
		return 0
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.users, c.userID)
		return 0
	}
	return len(set)
}

func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// SendToUser delivers an event to every local connection of userID.
func (h *Hub) SendToUser(_ context.Context, userID, eventType string, payload any) error {
	data, err := encode(eventType, payload, h.now())
	if err != nil {
		return err
	}
	if h.Deliver(userID, data) == 0 {
		return ErrNoConnection
	}
	return nil
}

// Deliver enqueues an encoded frame and returns the number of connections
// that accepted it. Connections with a full buffer are closed.
func (h *Hub) Deliver(userID string, data []byte) int {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.users[userID]))
	for c := range h.users[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	n := 0
	for _, c := range conns {
		if c.enqueue(data) {
			n++
			continue
		}
		h.log.Warn("dropping slow websocket connection", "user_id", userID)
		c.Close()
	}
	return n
}

// Close shuts every connection down. Read loops unregister them as they exit.
func (h *Hub) Close() {
	h.mu.RLock()
	var all []*Conn
	for _, set := range h.users {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range all {
		c.Close()
	}
}
