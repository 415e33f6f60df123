package models

import "time"

type User struct {
	ID        string    `json:"_id" bson:"_id" db:"id"`
	FirstName string    `json:"firstName" bson:"firstName" db:"first_name"`
	LastName  string    `json:"lastName" bson:"lastName" db:"last_name"`
	Email     string    `json:"email" bson:"email" db:"email"`
	Password  string    `json:"-" bson:"password" db:"password"`
	Avatar    string    `json:"profilePicture,omitempty" bson:"profilePicture,omitempty" db:"avatar"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt" db:"updated_at"`
}

// DisplayName is the name shown next to messages and in contact lists.
func (u *User) DisplayName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// Profile strips everything but the public fields.
func (u *User) Profile() *UserProfile {
	return &UserProfile{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
		Avatar:    u.Avatar,
	}
}

type UserProfile struct {
	ID        string `json:"_id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email,omitempty"`
	Avatar    string `json:"profilePicture,omitempty"`
}

type Conversation struct {
	ID            string    `json:"_id" bson:"_id" db:"id"`
	Participants  []string  `json:"-" bson:"participants" db:"-"`
	PairKey       string    `json:"-" bson:"pairKey" db:"pair_key"`
	LastMessageID string    `json:"-" bson:"lastMessage,omitempty" db:"last_message_id"`
	CreatedAt     time.Time `json:"createdAt" bson:"createdAt" db:"created_at"`
	UpdatedAt     time.Time `json:"updatedAt" bson:"updatedAt" db:"updated_at"`

	// Populated for API responses only.
	Members     []*UserProfile `json:"participants" bson:"-" db:"-"`
	LastMessage *Message       `json:"lastMessage,omitempty" bson:"-" db:"-"`
}

// HasParticipant reports whether userID is one of the two members.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, id := range c.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindVideo MessageKind = "video"
	KindFile  MessageKind = "file"
)

func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindVideo, KindFile:
		return true
	}
	return false
}

type Message struct {
	ID             string      `json:"_id" bson:"_id" db:"id"`
	ConversationID string      `json:"conversation" bson:"conversation" db:"conversation_id"`
	SenderID       string      `json:"senderId" bson:"sender" db:"sender_id"`
	Content        string      `json:"content,omitempty" bson:"content,omitempty" db:"content"`
	Kind           MessageKind `json:"type" bson:"type" db:"kind"`
	MediaURL       string      `json:"mediaUrl,omitempty" bson:"mediaUrl,omitempty" db:"media_url"`
	CreatedAt      time.Time   `json:"createdAt" bson:"createdAt" db:"created_at"`

	// Sender display fields, resolved before the message leaves the server.
	Sender *UserProfile `json:"sender,omitempty" bson:"-" db:"-"`
}

// Request/Response structures
type RegisterRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	UserProfile
	Token string `json:"token"`
}

type CreateConversationRequest struct {
	RecipientID string `json:"recipientId"`
}

type Contact struct {
	UserProfile
	Online bool `json:"online"`
}

type UploadResponse struct {
	FilePath string `json:"filePath"`
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
}

type WebSocketMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}
