package websocket

import (
	"sort"
	"sync"
)

// Registry maps each online identity to the connection currently
// representing it. It belongs to one Hub; mutations go through the hub's
// lifecycle operations so that every change is followed by a broadcast.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Client
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Client)}
}

// set records client as userID's connection and returns the entry it
// replaced, if any. The replaced connection is not closed.
func (r *Registry) set(userID string, client *Client) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	previous := r.conns[userID]
	r.conns[userID] = client
	return previous
}

// remove deletes userID's entry only while it still points at client, so a
// stale connection closing after a reconnect leaves the new entry alone.
func (r *Registry) remove(userID string, client *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.conns[userID]; !ok || current != client {
		return false
	}
	delete(r.conns, userID)
	return true
}

func (r *Registry) clear() {
	r.mu.Lock()
	r.conns = make(map[string]*Client)
	r.mu.Unlock()
}

func (r *Registry) Lookup(userID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.conns[userID]
	return client, ok
}

func (r *Registry) IsOnline(userID string) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// OnlineUsers returns the online identities in sorted order.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	users := make([]string, 0, len(r.conns))
	for id := range r.conns {
		users = append(users, id)
	}
	r.mu.RUnlock()
	sort.Strings(users)
	return users
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
