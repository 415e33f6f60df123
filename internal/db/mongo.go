package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"pairchat/internal/models"
)

// MongoStore keeps users, conversations and messages as documents. The
// unique index on conversations.pairKey enforces one conversation per pair.
type MongoStore struct {
	client        *mongo.Client
	users         *mongo.Collection
	conversations *mongo.Collection
	messages      *mongo.Collection
	logger        *zap.Logger
}

func NewMongoStore(ctx context.Context, uri, database string, logger *zap.Logger) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("error connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("error pinging mongo: %w", err)
	}

	mdb := client.Database(database)
	s := &MongoStore{
		client:        client,
		users:         mdb.Collection("users"),
		conversations: mdb.Collection("conversations"),
		messages:      mdb.Collection("messages"),
		logger:        logger.Named("db"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	s.logger.Info("mongo store ready", zap.String("database", database))
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	indexes := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{s.users, mongo.IndexModel{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)}},
		{s.conversations, mongo.IndexModel{Keys: bson.D{{Key: "pairKey", Value: 1}}, Options: options.Index().SetUnique(true)}},
		{s.conversations, mongo.IndexModel{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "updatedAt", Value: -1}}}},
		{s.messages, mongo.IndexModel{Keys: bson.D{{Key: "conversation", Value: 1}, {Key: "createdAt", Value: 1}}}},
	}
	for _, idx := range indexes {
		if _, err := idx.coll.Indexes().CreateOne(ctx, idx.model); err != nil {
			return fmt.Errorf("failed to create index on %s: %w", idx.coll.Name(), err)
		}
	}
	return nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) CreateUser(ctx context.Context, user *models.User) error {
	prepareUser(user)
	if _, err := s.users.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("user %s: %w", user.Email, ErrDuplicate)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *MongoStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"_id": id}, "user "+id)
}

func (s *MongoStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"email": email}, "user "+email)
}

func (s *MongoStore) findUser(ctx context.Context, filter bson.M, what string) (*models.User, error) {
	var user models.User
	if err := s.users.FindOne(ctx, filter).Decode(&user); err != nil {
		return nil, mongoNotFound(err, what)
	}
	return &user, nil
}

func (s *MongoStore) ListUsers(ctx context.Context, excludeID string) ([]*models.User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "firstName", Value: 1}, {Key: "lastName", Value: 1}})
	cursor, err := s.users.Find(ctx, bson.M{"_id": bson.M{"$ne": excludeID}}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	var users []*models.User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}
	return users, nil
}

func (s *MongoStore) FindOrCreateConversation(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	if err := checkPair(userA, userB); err != nil {
		return nil, err
	}
	key := PairKey(userA, userB)
	now := time.Now().UTC()

	filter := bson.M{"pairKey": key}
	update := bson.M{"$setOnInsert": bson.M{
		"_id":          uuid.NewString(),
		"participants": participantsFromKey(key),
		"createdAt":    now,
		"updatedAt":    now,
	}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var conv models.Conversation
	err := s.conversations.FindOneAndUpdate(ctx, filter, update, opts).Decode(&conv)
	if mongo.IsDuplicateKeyError(err) {
		// Lost the upsert race; the winner's document is there now.
		err = s.conversations.FindOne(ctx, filter).Decode(&conv)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find or create conversation: %w", err)
	}

	if err := PopulateConversation(ctx, s, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *MongoStore) GetConversationByID(ctx context.Context, id string) (*models.Conversation, error) {
	var conv models.Conversation
	if err := s.conversations.FindOne(ctx, bson.M{"_id": id}).Decode(&conv); err != nil {
		return nil, mongoNotFound(err, "conversation "+id)
	}
	return &conv, nil
}

func (s *MongoStore) GetUserConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})
	cursor, err := s.conversations.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	var conversations []*models.Conversation
	if err := cursor.All(ctx, &conversations); err != nil {
		return nil, fmt.Errorf("failed to decode conversations: %w", err)
	}
	for _, conv := range conversations {
		if err := PopulateConversation(ctx, s, conv); err != nil {
			return nil, err
		}
	}
	return conversations, nil
}

func (s *MongoStore) UpdateConversationLastMessage(ctx context.Context, conversationID, messageID string, at time.Time) error {
	result, err := s.conversations.UpdateOne(ctx,
		bson.M{"_id": conversationID},
		bson.M{"$set": bson.M{"lastMessage": messageID, "updatedAt": at.UTC()}},
	)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	return nil
}

func (s *MongoStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	if err := prepareMessage(msg); err != nil {
		return err
	}
	if _, err := s.messages.InsertOne(ctx, msg); err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

func (s *MongoStore) GetMessageByID(ctx context.Context, id string) (*models.Message, error) {
	var msg models.Message
	if err := s.messages.FindOne(ctx, bson.M{"_id": id}).Decode(&msg); err != nil {
		return nil, mongoNotFound(err, "message "+id)
	}
	if err := s.resolveSenders(ctx, []*models.Message{&msg}); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *MongoStore) GetConversationMessages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	cursor, err := s.messages.Find(ctx, bson.M{"conversation": conversationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	messages := []*models.Message{}
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	if err := s.resolveSenders(ctx, messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// resolveSenders fills Message.Sender, loading each distinct sender once.
func (s *MongoStore) resolveSenders(ctx context.Context, messages []*models.Message) error {
	profiles := make(map[string]*models.UserProfile)
	for _, msg := range messages {
		profile, ok := profiles[msg.SenderID]
		if !ok {
			user, err := s.GetUserByID(ctx, msg.SenderID)
			if err != nil {
				return fmt.Errorf("failed to resolve sender: %w", err)
			}
			profile = user.Profile()
			profiles[msg.SenderID] = profile
		}
		msg.Sender = profile
	}
	return nil
}

func mongoNotFound(err error, what string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}
