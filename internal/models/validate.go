package models

import (
	"errors"
	"fmt"
)

var ErrInvalidMessage = errors.New("invalid message")

// Normalize fills defaults and checks the content rules: the kind must be a
// known one, and a text message with no media attached needs content.
func (m *Message) Normalize() error {
	if m.Kind == "" {
		m.Kind = KindText
	}
	if !m.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMessage, m.Kind)
	}
	if m.ConversationID == "" || m.SenderID == "" {
		return fmt.Errorf("%w: conversation and sender are required", ErrInvalidMessage)
	}
	if m.Kind == KindText && m.MediaURL == "" && m.Content == "" {
		return fmt.Errorf("%w: text message without content", ErrInvalidMessage)
	}
	return nil
}
