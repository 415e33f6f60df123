package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"pairchat/internal/db"
	"pairchat/internal/models"
)

var (
	ErrHubClosed            = errors.New("hub is shut down")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotParticipant       = errors.New("user is not a participant in this conversation")
)

// Store is the slice of persistence the real-time layer needs.
type Store interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetConversationByID(ctx context.Context, id string) (*models.Conversation, error)
	CreateMessage(ctx context.Context, msg *models.Message) error
	UpdateConversationLastMessage(ctx context.Context, conversationID, messageID string, at time.Time) error
}

// Hub owns every live connection, the presence registry and the
// conversation rooms. Connect and disconnect are serialized by Run; message
// and typing traffic is handled on each connection's own read goroutine.
//
// Delivery is at-most-once: frames are queued on each receiver's bounded
// buffer without acknowledgment, and a full buffer drops the frame.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex

	presence *Registry
	rooms    *Rooms
	store    Store
	logger   *zap.Logger
}

func NewHub(store Store, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		presence:   NewRegistry(),
		rooms:      NewRooms(),
		store:      store,
		logger:     logger.Named("websocket"),
	}
}

func (h *Hub) Presence() *Registry { return h.presence }

func (h *Hub) Rooms() *Rooms { return h.rooms }

// Run processes connects and disconnects until ctx is cancelled, then
// closes every connection.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("websocket hub started")
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.markOnline(client)
			h.logger.Info("client connected",
				zap.String("user", client.UserID()), zap.String("name", client.user.DisplayName()),
				zap.String("conn", client.id), zap.Int("clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client]
			delete(h.clients, client)
			total := len(h.clients)
			h.mu.Unlock()
			if !ok {
				continue
			}
			h.rooms.leaveAll(client)
			client.Close()
			h.markOffline(client)
			h.logger.Info("client disconnected",
				zap.String("user", client.UserID()), zap.String("conn", client.id), zap.Int("clients", total))

		case <-ctx.Done():
			h.shutdown()
			return
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()

	for client := range clients {
		client.Close()
	}
	h.presence.clear()
	h.rooms.close()
	h.logger.Info("websocket hub stopped", zap.Int("closed", len(clients)))
}

// Register hands a freshly authenticated connection to the hub.
func (h *Hub) Register(client *Client) error {
	select {
	case h.register <- client:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// markOnline records the connection, then tells every session, the new one
// included, that the user is online.
func (h *Hub) markOnline(client *Client) {
	if previous := h.presence.set(client.UserID(), client); previous != nil && previous != client {
		h.logger.Debug("connection replaced",
			zap.String("user", client.UserID()), zap.String("previous", previous.id), zap.String("conn", client.id))
	}
	h.broadcastAll(EventUserOnline, client.UserID())
}

// markOffline removes the connection, then tells the remaining sessions.
// A stale connection closing after its user reconnected changes nothing.
func (h *Hub) markOffline(client *Client) {
	if !h.presence.remove(client.UserID(), client) {
		h.logger.Debug("stale connection closed", zap.String("user", client.UserID()), zap.String("conn", client.id))
		return
	}
	h.broadcastAll(EventUserOffline, client.UserID())
}

func (h *Hub) broadcastAll(eventType string, payload interface{}) int {
	data, err := encodeEvent(eventType, payload)
	if err != nil {
		h.logger.Error("failed to marshal broadcast", zap.String("event", eventType), zap.Error(err))
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for client := range h.clients {
		if client.Send(data) {
			delivered++
		}
	}
	return delivered
}

// broadcastRoom sends to every member of the conversation's room except
// exclude, which may be nil.
func (h *Hub) broadcastRoom(conversationID, eventType string, payload interface{}, exclude *Client) int {
	data, err := encodeEvent(eventType, payload)
	if err != nil {
		h.logger.Error("failed to marshal room message", zap.String("event", eventType), zap.Error(err))
		return 0
	}

	delivered := 0
	for _, client := range h.rooms.snapshot(conversationID) {
		if client == exclude {
			continue
		}
		if client.Send(data) {
			delivered++
		}
	}
	return delivered
}

// JoinConversation adds the client to the conversation's room once the
// store confirms the client's user is one of its two participants.
// It returns ErrHubClosed once the hub has shut down.
func (h *Hub) JoinConversation(ctx context.Context, client *Client, conversationID string) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}
	if _, err := h.participantConversation(ctx, client, conversationID); err != nil {
		h.logger.Info("join rejected",
			zap.String("user", client.UserID()), zap.String("conversation", conversationID), zap.Error(err))
		return err
	}
	added, err := h.rooms.join(conversationID, client)
	if err != nil {
		return err
	}
	if added {
		h.logger.Debug("joined room", zap.String("user", client.UserID()), zap.String("conversation", conversationID))
	}
	return nil
}

// SubmitMessage persists a message, moves the conversation's last-message
// pointer and broadcasts the message to the room, sender included. Nothing
// is reported back to the sender: unknown conversations and storage
// failures are logged and the message is dropped.
func (h *Hub) SubmitMessage(ctx context.Context, client *Client, ev messageSent) error {
	logger := h.logger.With(zap.String("user", client.UserID()), zap.String("conversation", ev.ConversationID))

	conv, err := h.participantConversation(ctx, client, ev.ConversationID)
	if err != nil {
		logger.Info("dropping message", zap.Error(err))
		return err
	}

	msg := ev.message(client.UserID())
	if err := h.store.CreateMessage(ctx, msg); err != nil {
		logger.Error("failed to save message", zap.Error(err))
		return err
	}

	// The message exists from here on; a failed pointer update does not stop
	// the broadcast.
	if err := h.store.UpdateConversationLastMessage(ctx, conv.ID, msg.ID, time.Now().UTC()); err != nil {
		logger.Warn("failed to update last message", zap.String("message", msg.ID), zap.Error(err))
	}

	msg.Sender = h.senderProfile(ctx, client)
	delivered := h.broadcastRoom(conv.ID, EventMessageReceived, msg, nil)
	logger.Debug("message relayed", zap.String("message", msg.ID), zap.Int("delivered", delivered))
	return nil
}

// Typing relays a typing signal to every other member of the
// conversation's room. The sender must be a participant but need not have
// joined the room itself.
func (h *Hub) Typing(ctx context.Context, client *Client, conversationID string, started bool) int {
	if _, err := h.participantConversation(ctx, client, conversationID); err != nil {
		h.logger.Debug("typing signal dropped",
			zap.String("user", client.UserID()), zap.String("conversation", conversationID), zap.Error(err))
		return 0
	}
	eventType := EventTypingStopped
	if started {
		eventType = EventTypingStarted
	}
	payload := TypingPayload{UserID: client.UserID(), ConversationID: conversationID}
	return h.broadcastRoom(conversationID, eventType, payload, client)
}

func (h *Hub) participantConversation(ctx context.Context, client *Client, conversationID string) (*models.Conversation, error) {
	conv, err := h.store.GetConversationByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
		}
		return nil, err
	}
	if !conv.HasParticipant(client.UserID()) {
		return nil, ErrNotParticipant
	}
	return conv, nil
}

// senderProfile reloads the sender so profile changes made after the
// handshake show up; the handshake copy is the fallback.
func (h *Hub) senderProfile(ctx context.Context, client *Client) *models.UserProfile {
	user, err := h.store.GetUserByID(ctx, client.UserID())
	if err != nil {
		h.logger.Warn("failed to resolve sender", zap.String("user", client.UserID()), zap.Error(err))
		return client.user.Profile()
	}
	return user.Profile()
}
