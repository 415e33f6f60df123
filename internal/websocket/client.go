package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pairchat/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 256
)

// Client is one authenticated websocket session. Its identity is fixed at
// handshake time.
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	user   *models.User
	logger *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(hub *Hub, conn *websocket.Conn, user *models.User) *Client {
	id := uuid.NewString()
	return &Client{
		id:     id,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		user:   user,
		logger: hub.logger.With(zap.String("conn", id), zap.String("user", user.ID)),
		done:   make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) UserID() string { return c.user.ID }

func (c *Client) User() *models.User { return c.user }

// Send queues data without blocking. It reports false when the client is
// closed or its buffer is full; the frame is then lost.
func (c *Client) Send(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn("send buffer full, dropping frame")
		return false
	}
}

// Close stops the write pump, which closes the socket.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// ServeConn runs an upgraded, authenticated connection until it closes.
func (h *Hub) ServeConn(ctx context.Context, conn *websocket.Conn, user *models.User) error {
	client := NewClient(h, conn, user)
	if err := h.Register(client); err != nil {
		conn.Close()
		return err
	}
	// Store calls made for this connection stop when the hub closes it.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-client.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	go client.WritePump()
	client.ReadPump(ctx)
	return nil
}

// ReadPump decodes frames and handles them one at a time, so events from
// one connection are processed in the order they were sent.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Warn("read error", zap.Error(err))
			}
			return
		}

		ev, err := decodeEvent(data)
		if err != nil {
			c.logger.Debug("ignoring frame", zap.Error(err))
			continue
		}
		c.dispatch(ctx, ev)
	}
}

// dispatch is the single entry point for client events.
func (c *Client) dispatch(ctx context.Context, ev inboundEvent) {
	if c.user == nil || c.user.ID == "" {
		c.logger.Error("event on unauthenticated connection", zap.String("event", ev.eventType()))
		return
	}

	switch ev := ev.(type) {
	case joinConversation:
		_ = c.hub.JoinConversation(ctx, c, ev.ConversationID)
	case messageSent:
		_ = c.hub.SubmitMessage(ctx, c, ev)
	case typingStart:
		c.hub.Typing(ctx, c, ev.ConversationID, true)
	case typingStop:
		c.hub.Typing(ctx, c, ev.ConversationID, false)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}
