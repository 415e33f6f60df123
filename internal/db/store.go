package db

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pairchat/internal/config"
	"pairchat/internal/models"
)

var (
	ErrNotFound            = errors.New("db: not found")
	ErrDuplicate           = errors.New("db: duplicate key")
	ErrInvalidParticipants = errors.New("db: a conversation needs two distinct participants")
)

// Store is the persistence layer shared by the REST handlers and the
// websocket hub. Every backend returns ErrNotFound for missing records.
type Store interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context, excludeID string) ([]*models.User, error)

	// FindOrCreateConversation returns the single conversation between the
	// two users, creating it on first contact. Concurrent calls for the same
	// pair return the same conversation.
	FindOrCreateConversation(ctx context.Context, userA, userB string) (*models.Conversation, error)
	GetConversationByID(ctx context.Context, id string) (*models.Conversation, error)
	GetUserConversations(ctx context.Context, userID string) ([]*models.Conversation, error)
	UpdateConversationLastMessage(ctx context.Context, conversationID, messageID string, at time.Time) error

	CreateMessage(ctx context.Context, msg *models.Message) error
	GetMessageByID(ctx context.Context, id string) (*models.Message, error)
	// GetConversationMessages returns the history oldest first, senders resolved.
	GetConversationMessages(ctx context.Context, conversationID string) ([]*models.Message, error)

	Close() error
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*MongoStore)(nil)
)

// Open picks the backend named by cfg.StoreDriver.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite, "":
		s, err := NewSQLiteStore(cfg.CleanDatabasePath(), logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverMongo:
		s, err := NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// PairKey is the order-independent key identifying the conversation between
// two users.
func PairKey(userA, userB string) string {
	ids := []string{userA, userB}
	sort.Strings(ids)
	return strings.Join(ids, ":")
}

func participantsFromKey(key string) []string {
	return strings.Split(key, ":")
}

// PopulateConversation resolves participant profiles and the last message
// for API responses.
func PopulateConversation(ctx context.Context, s Store, conv *models.Conversation) error {
	conv.Members = make([]*models.UserProfile, 0, len(conv.Participants))
	for _, id := range conv.Participants {
		user, err := s.GetUserByID(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load participant %s: %w", id, err)
		}
		conv.Members = append(conv.Members, user.Profile())
	}

	if conv.LastMessageID == "" {
		return nil
	}
	msg, err := s.GetMessageByID(ctx, conv.LastMessageID)
	if err != nil {
		return fmt.Errorf("failed to load last message: %w", err)
	}
	conv.LastMessage = msg
	return nil
}

func prepareUser(user *models.User) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
}

func prepareMessage(msg *models.Message) error {
	if err := msg.Normalize(); err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	return nil
}

func checkPair(userA, userB string) error {
	if userA == "" || userB == "" || userA == userB {
		return ErrInvalidParticipants
	}
	return nil
}
