package websocket

import "sync"

// Rooms tracks which connections joined which conversation. Nothing here is
// persisted; a reconnecting client joins again.
type Rooms struct {
	mu      sync.RWMutex
	members map[string]map[*Client]struct{} // conversationID -> clients
	joined  map[*Client]map[string]struct{} // client -> conversationIDs
	closed  bool
}

func NewRooms() *Rooms {
	return &Rooms{
		members: make(map[string]map[*Client]struct{}),
		joined:  make(map[*Client]map[string]struct{}),
	}
}

// join adds client to the conversation's room. It reports false when the
// client was already a member, and ErrHubClosed once the rooms are closed.
func (r *Rooms) join(conversationID string, client *Client) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false, ErrHubClosed
	}
	room := r.members[conversationID]
	if room == nil {
		room = make(map[*Client]struct{})
		r.members[conversationID] = room
	}
	if _, ok := room[client]; ok {
		return false, nil
	}
	room[client] = struct{}{}

	memberships := r.joined[client]
	if memberships == nil {
		memberships = make(map[string]struct{})
		r.joined[client] = memberships
	}
	memberships[conversationID] = struct{}{}
	return true, nil
}

// leaveAll drops every membership of client.
func (r *Rooms) leaveAll(client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for conversationID := range r.joined[client] {
		room := r.members[conversationID]
		delete(room, client)
		if len(room) == 0 {
			delete(r.members, conversationID)
		}
	}
	delete(r.joined, client)
}

// close drops every membership and refuses later joins.
func (r *Rooms) close() {
	r.mu.Lock()
	r.members = make(map[string]map[*Client]struct{})
	r.joined = make(map[*Client]map[string]struct{})
	r.closed = true
	r.mu.Unlock()
}

// snapshot copies the room's members so sends happen outside the lock.
func (r *Rooms) snapshot(conversationID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.members[conversationID]
	clients := make([]*Client, 0, len(room))
	for client := range room {
		clients = append(clients, client)
	}
	return clients
}

func (r *Rooms) IsMember(conversationID string, client *Client) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[conversationID][client]
	return ok
}

func (r *Rooms) Size(conversationID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members[conversationID])
}
