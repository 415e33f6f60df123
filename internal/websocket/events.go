package websocket

import (
	"encoding/json"
	"errors"
	"fmt"

	"pairchat/internal/models"
)

// Server to client.
const (
	EventUserOnline      = "user-online"
	EventUserOffline     = "user-offline"
	EventMessageReceived = "message-received"
	EventTypingStarted   = "typing-started"
	EventTypingStopped   = "typing-stopped"
)

// Client to server.
const (
	EventJoinConversation = "join-conversation"
	EventMessageSent      = "message-sent"
	EventTypingStart      = "typing-start"
	EventTypingStop       = "typing-stop"
)

var (
	ErrMalformedEvent = errors.New("malformed event")
	ErrUnknownEvent   = errors.New("unknown event")
)

type TypingPayload struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
}

// inboundEvent is the closed set of frames a client may send. Each variant
// is produced only by decodeEvent and has already been validated.
type inboundEvent interface {
	eventType() string
	validate() error
}

type joinConversation struct {
	ConversationID string
}

type messageSent struct {
	ConversationID string             `json:"conversationId"`
	Content        string             `json:"content"`
	Kind           models.MessageKind `json:"kind"`
	MediaURL       string             `json:"mediaUrl"`

	// Older clients name the kind "type".
	LegacyKind models.MessageKind `json:"type"`
}

type typingStart struct {
	ConversationID string `json:"conversationId"`
}

type typingStop struct {
	ConversationID string `json:"conversationId"`
}

func (joinConversation) eventType() string { return EventJoinConversation }
func (messageSent) eventType() string      { return EventMessageSent }
func (typingStart) eventType() string      { return EventTypingStart }
func (typingStop) eventType() string       { return EventTypingStop }

func (e joinConversation) validate() error { return requireConversation(e.ConversationID) }
func (e typingStart) validate() error      { return requireConversation(e.ConversationID) }
func (e typingStop) validate() error       { return requireConversation(e.ConversationID) }

func (e messageSent) validate() error {
	if err := requireConversation(e.ConversationID); err != nil {
		return err
	}
	if e.Kind != "" && !e.Kind.Valid() {
		return fmt.Errorf("%w: unknown message kind %q", ErrMalformedEvent, e.Kind)
	}
	return nil
}

func (e messageSent) message(senderID string) *models.Message {
	kind := e.Kind
	if kind == "" {
		kind = e.LegacyKind
	}
	return &models.Message{
		ConversationID: e.ConversationID,
		SenderID:       senderID,
		Content:        e.Content,
		Kind:           kind,
		MediaURL:       e.MediaURL,
	}
}

func requireConversation(id string) error {
	if id == "" {
		return fmt.Errorf("%w: conversationId is required", ErrMalformedEvent)
	}
	return nil
}

type inboundFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func decodeEvent(data []byte) (inboundEvent, error) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	var ev inboundEvent
	switch frame.Type {
	case EventJoinConversation:
		id, err := decodeConversationRef(frame.Payload)
		if err != nil {
			return nil, err
		}
		ev = joinConversation{ConversationID: id}
	case EventMessageSent:
		var m messageSent
		if err := unmarshalPayload(frame.Payload, &m); err != nil {
			return nil, err
		}
		ev = m
	case EventTypingStart:
		var t typingStart
		if err := unmarshalPayload(frame.Payload, &t); err != nil {
			return nil, err
		}
		ev = t
	case EventTypingStop:
		var t typingStop
		if err := unmarshalPayload(frame.Payload, &t); err != nil {
			return nil, err
		}
		ev = t
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, frame.Type)
	}

	if err := ev.validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

// decodeConversationRef accepts either a bare id string or an object with a
// conversationId field.
func decodeConversationRef(raw json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id, nil
	}
	var ref struct {
		ConversationID string `json:"conversationId"`
	}
	if err := unmarshalPayload(raw, &ref); err != nil {
		return "", err
	}
	return ref.ConversationID, nil
}

func unmarshalPayload(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing payload", ErrMalformedEvent)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}

func encodeEvent(eventType string, payload interface{}) ([]byte, error) {
	return json.Marshal(models.WebSocketMessage{Type: eventType, Payload: payload})
}
