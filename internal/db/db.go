package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"pairchat/internal/models"
)

// SQLiteStore keeps everything in a single sqlite file. The pool is limited
// to one connection so writers never hit SQLITE_BUSY.
type SQLiteStore struct {
	*sql.DB
	logger *zap.Logger
}

func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("error creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing schema: %w", err)
	}

	logger.Named("db").Info("sqlite store ready", zap.String("path", dbPath))
	return &SQLiteStore{DB: db, logger: logger.Named("db")}, nil
}

func initSchema(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			first_name TEXT NOT NULL,
			last_name TEXT NOT NULL,
			email TEXT UNIQUE NOT NULL,
			password TEXT NOT NULL,
			avatar TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			pair_key TEXT UNIQUE NOT NULL,
			last_message_id TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_participants (
			conversation_id TEXT,
			user_id TEXT,
			PRIMARY KEY (conversation_id, user_id),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id),
			FOREIGN KEY (user_id) REFERENCES users(id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			content TEXT,
			kind TEXT NOT NULL DEFAULT 'text',
			media_url TEXT,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id),
			FOREIGN KEY (sender_id) REFERENCES users(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_participants_user ON conversation_participants (user_id)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

// User methods
func (db *SQLiteStore) CreateUser(ctx context.Context, user *models.User) error {
	prepareUser(user)
	_, err := db.ExecContext(ctx,
		"INSERT INTO users (id, first_name, last_name, email, password, avatar, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		user.ID, user.FirstName, user.LastName, user.Email, user.Password, nullString(user.Avatar), user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %s: %w", user.Email, ErrDuplicate)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

const userColumns = "id, first_name, last_name, email, password, avatar, created_at, updated_at"

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var user models.User
	var avatar sql.NullString
	if err := row.Scan(&user.ID, &user.FirstName, &user.LastName, &user.Email, &user.Password, &avatar, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}
	user.Avatar = avatar.String
	return &user, nil
}

func (db *SQLiteStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	user, err := scanUser(db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
	if err != nil {
		return nil, notFound(err, "user "+id)
	}
	return user, nil
}

func (db *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := scanUser(db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", email))
	if err != nil {
		return nil, notFound(err, "user "+email)
	}
	return user, nil
}

// ListUsers returns every user except excludeID, ordered by name.
func (db *SQLiteStore) ListUsers(ctx context.Context, excludeID string) ([]*models.User, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id != ? ORDER BY first_name COLLATE NOCASE, last_name COLLATE NOCASE", excludeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}

// Conversation methods
func (db *SQLiteStore) FindOrCreateConversation(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	if err := checkPair(userA, userB); err != nil {
		return nil, err
	}
	key := PairKey(userA, userB)
	now := time.Now().UTC()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	conversationID := uuid.NewString()
	result, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO conversations (id, pair_key, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, conversationID, key, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	created, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check conversation insert: %w", err)
	}

	if created == 1 {
		for _, userID := range participantsFromKey(key) {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO conversation_participants (conversation_id, user_id)
				VALUES (?, ?)
			`, conversationID, userID)
			if err != nil {
				return nil, fmt.Errorf("failed to add participant %s: %w", userID, err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	conv, err := scanConversation(db.QueryRowContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE pair_key = ?", key))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch conversation: %w", err)
	}
	if created == 1 {
		db.logger.Debug("conversation created", zap.String("conversation", conv.ID), zap.String("pair", key))
	}

	if err := PopulateConversation(ctx, db, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

const conversationColumns = "id, pair_key, last_message_id, created_at, updated_at"

func scanConversation(row interface{ Scan(...any) error }) (*models.Conversation, error) {
	var conv models.Conversation
	var lastMessage sql.NullString
	if err := row.Scan(&conv.ID, &conv.PairKey, &lastMessage, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return nil, err
	}
	conv.LastMessageID = lastMessage.String
	conv.Participants = participantsFromKey(conv.PairKey)
	return &conv, nil
}

func (db *SQLiteStore) GetConversationByID(ctx context.Context, id string) (*models.Conversation, error) {
	conv, err := scanConversation(db.QueryRowContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE id = ?", id))
	if err != nil {
		return nil, notFound(err, "conversation "+id)
	}
	return conv, nil
}

// GetUserConversations lists the user's conversations, most recently active
// first, with participants and last message populated.
func (db *SQLiteStore) GetUserConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT c.id, c.pair_key, c.last_message_id, c.created_at, c.updated_at
		FROM conversations c
		JOIN conversation_participants cp ON c.id = cp.conversation_id
		WHERE cp.user_id = ?
		ORDER BY c.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}

	var conversations []*models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("error iterating conversations: %w", err)
	}

	// Populating needs the connection, so the cursor is closed first.
	for _, conv := range conversations {
		if err := PopulateConversation(ctx, db, conv); err != nil {
			return nil, err
		}
	}
	return conversations, nil
}

func (db *SQLiteStore) UpdateConversationLastMessage(ctx context.Context, conversationID, messageID string, at time.Time) error {
	result, err := db.ExecContext(ctx,
		"UPDATE conversations SET last_message_id = ?, updated_at = ? WHERE id = ?",
		messageID, at.UTC(), conversationID,
	)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	return nil
}

// Message methods
func (db *SQLiteStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	if err := prepareMessage(msg); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, kind, media_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, msg.SenderID, nullString(msg.Content), string(msg.Kind), nullString(msg.MediaURL), msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

const messageSelect = `
	SELECT m.id, m.conversation_id, m.sender_id, m.content, m.kind, m.media_url, m.created_at,
		u.first_name, u.last_name, u.email, u.avatar
	FROM messages m
	JOIN users u ON u.id = m.sender_id`

func scanMessage(row interface{ Scan(...any) error }) (*models.Message, error) {
	var msg models.Message
	var content, mediaURL, avatar sql.NullString
	var kind string
	sender := &models.UserProfile{}
	if err := row.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &content, &kind, &mediaURL, &msg.CreatedAt,
		&sender.FirstName, &sender.LastName, &sender.Email, &avatar); err != nil {
		return nil, err
	}
	msg.Content = content.String
	msg.Kind = models.MessageKind(kind)
	msg.MediaURL = mediaURL.String
	sender.ID = msg.SenderID
	sender.Avatar = avatar.String
	msg.Sender = sender
	return &msg, nil
}

func (db *SQLiteStore) GetMessageByID(ctx context.Context, id string) (*models.Message, error) {
	msg, err := scanMessage(db.QueryRowContext(ctx, messageSelect+" WHERE m.id = ?", id))
	if err != nil {
		return nil, notFound(err, "message "+id)
	}
	return msg, nil
}

func (db *SQLiteStore) GetConversationMessages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	rows, err := db.QueryContext(ctx, messageSelect+`
		WHERE m.conversation_id = ?
		ORDER BY m.created_at ASC, m.rowid ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []*models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
