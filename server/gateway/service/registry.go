package service

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	commonlog "arena_realtime/server/common/log"
	"arena_realtime/server/realtime/presence"
)

type Client struct {
	UserID    string
	SocketID  string
	Conn      *websocket.Conn
	CreatedAt time.Time
	mu        sync.Mutex
}

func (c *Client) WriteJSON(payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.Conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = c.Conn.WriteJSON(payload)
}

// WriteRaw forwards an already-serialized relay payload without re-encoding.
func (c *Client) WriteRaw(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.Conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = c.Conn.WriteMessage(websocket.TextMessage, payload)
}

// Registry tracks this process's live connections and mirrors membership
// into the fleet-wide presence set. Add and remove are its only mutators.
type Registry struct {
	mu       sync.RWMutex
	byUser   map[string]map[string]*Client
	presence *presence.Tracker
}

func NewRegistry(tracker *presence.Tracker) *Registry {
	return &Registry{byUser: map[string]map[string]*Client{}, presence: tracker}
}

func (r *Registry) Register(ctx context.Context, client *Client) {
	r.mu.Lock()
	if _, ok := r.byUser[client.UserID]; !ok {
		r.byUser[client.UserID] = map[string]*Client{}
	}
	r.byUser[client.UserID][client.SocketID] = client
	r.mu.Unlock()

	if err := r.presence.AddSocket(ctx, client.UserID, client.SocketID); err != nil {
		commonlog.Errorf("event=registry action=presence_add status=failed user_id=%s socket_id=%s error=%v", client.UserID, client.SocketID, err)
	}
	commonlog.Infof("event=registry action=connect user_id=%s socket_id=%s", client.UserID, client.SocketID)
}

// Unregister is idempotent: removing an unknown connection is a no-op.
func (r *Registry) Unregister(ctx context.Context, client *Client) {
	r.mu.Lock()
	if sockets, ok := r.byUser[client.UserID]; ok {
		delete(sockets, client.SocketID)
		if len(sockets) == 0 {
			delete(r.byUser, client.UserID)
		}
	}
	r.mu.Unlock()

	if err := r.presence.RemoveSocket(ctx, client.UserID, client.SocketID); err != nil {
		commonlog.Errorf("event=registry action=presence_remove status=failed user_id=%s socket_id=%s error=%v", client.UserID, client.SocketID, err)
	}
	if client.Conn != nil {
		_ = client.Conn.Close()
	}
	commonlog.Infof("event=registry action=disconnect user_id=%s socket_id=%s", client.UserID, client.SocketID)
}

func (r *Registry) LocalConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, sockets := range r.byUser {
		count += len(sockets)
	}
	return count
}
