package db

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"pairchat/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// newTestMongoStore connects to MONGO_URI with a throwaway database that is
// dropped when the test ends. It skips when MONGO_URI is unset.
func newTestMongoStore(t *testing.T) *MongoStore {
	t.Helper()
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	name := "pairchat_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	store, err := NewMongoStore(ctx, uri, name, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewMongoStore: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = store.client.Database(name).Drop(ctx)
		store.Close()
	})
	return store
}

// forEachStore runs fn against every backend. Mongo runs only when MONGO_URI
// points at a server.
func forEachStore(t *testing.T, fn func(t *testing.T, store Store)) {
	backends := []struct {
		name string
		open func(t *testing.T) Store
	}{
		{"sqlite", func(t *testing.T) Store { return newTestStore(t) }},
		{"mongo", func(t *testing.T) Store { return newTestMongoStore(t) }},
	}
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			fn(t, b.open(t))
		})
	}
}

func createUser(t *testing.T, store Store, first, email string) *models.User {
	t.Helper()
	user := &models.User{FirstName: first, LastName: "Test", Email: email, Password: "hash"}
	if err := store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("CreateUser(%s): %v", email, err)
	}
	return user
}

func TestUsers(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()

		alice := createUser(t, store, "Alice", "alice@example.com")
		if alice.ID == "" {
			t.Fatal("CreateUser did not assign an id")
		}
		createUser(t, store, "Bob", "bob@example.com")

		dup := &models.User{FirstName: "A", LastName: "B", Email: "alice@example.com", Password: "x"}
		if err := store.CreateUser(ctx, dup); !errors.Is(err, ErrDuplicate) {
			t.Errorf("duplicate email: got %v, want ErrDuplicate", err)
		}

		got, err := store.GetUserByEmail(ctx, "alice@example.com")
		if err != nil {
			t.Fatalf("GetUserByEmail: %v", err)
		}
		if got.ID != alice.ID || got.Password != "hash" {
			t.Errorf("GetUserByEmail = %+v", got)
		}

		if _, err := store.GetUserByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetUserByID(missing) = %v, want ErrNotFound", err)
		}

		others, err := store.ListUsers(ctx, alice.ID)
		if err != nil {
			t.Fatalf("ListUsers: %v", err)
		}
		if len(others) != 1 || others[0].FirstName != "Bob" {
			t.Errorf("ListUsers excluded wrong users: %+v", others)
		}
	})
}

func TestFindOrCreateConversationIsUnique(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		alice := createUser(t, store, "Alice", "alice@example.com")
		bob := createUser(t, store, "Bob", "bob@example.com")

		const callers = 8
		ids := make([]string, callers)
		errs := make([]error, callers)
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				a, b := alice.ID, bob.ID
				if i%2 == 1 {
					a, b = b, a
				}
				conv, err := store.FindOrCreateConversation(ctx, a, b)
				errs[i] = err
				if err == nil {
					ids[i] = conv.ID
				}
			}(i)
		}
		wg.Wait()

		for i, err := range errs {
			if err != nil {
				t.Fatalf("caller %d: %v", i, err)
			}
			if ids[i] != ids[0] {
				t.Fatalf("caller %d got conversation %s, caller 0 got %s", i, ids[i], ids[0])
			}
		}

		for _, user := range []*models.User{alice, bob} {
			convs, err := store.GetUserConversations(ctx, user.ID)
			if err != nil {
				t.Fatalf("GetUserConversations: %v", err)
			}
			if len(convs) != 1 {
				t.Errorf("%s has %d conversations, want 1", user.FirstName, len(convs))
			}
		}

		conv, err := store.GetConversationByID(ctx, ids[0])
		if err != nil {
			t.Fatalf("GetConversationByID: %v", err)
		}
		if !conv.HasParticipant(alice.ID) || !conv.HasParticipant(bob.ID) || len(conv.Participants) != 2 {
			t.Errorf("participants = %v", conv.Participants)
		}
	})
}

func TestFindOrCreateConversationRejectsSelf(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		alice := createUser(t, store, "Alice", "alice@example.com")
		if _, err := store.FindOrCreateConversation(context.Background(), alice.ID, alice.ID); !errors.Is(err, ErrInvalidParticipants) {
			t.Errorf("got %v, want ErrInvalidParticipants", err)
		}
	})
}

func TestMessagesAndLastMessage(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		alice := createUser(t, store, "Alice", "alice@example.com")
		bob := createUser(t, store, "Bob", "bob@example.com")
		conv, err := store.FindOrCreateConversation(ctx, alice.ID, bob.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(conv.Members) != 2 {
			t.Errorf("conversation members not populated: %+v", conv.Members)
		}

		base := time.Now().UTC()
		// Inserted out of order to check history sorting.
		offsets := []time.Duration{3 * time.Second, time.Second, 2 * time.Second, time.Second}
		for i, offset := range offsets {
			sender := alice.ID
			if i%2 == 1 {
				sender = bob.ID
			}
			msg := &models.Message{ConversationID: conv.ID, SenderID: sender, Content: "m", CreatedAt: base.Add(offset)}
			if err := store.CreateMessage(ctx, msg); err != nil {
				t.Fatalf("CreateMessage %d: %v", i, err)
			}
			if msg.Kind != models.KindText {
				t.Errorf("default kind = %q", msg.Kind)
			}
		}

		history, err := store.GetConversationMessages(ctx, conv.ID)
		if err != nil {
			t.Fatalf("GetConversationMessages: %v", err)
		}
		if len(history) != len(offsets) {
			t.Fatalf("got %d messages, want %d", len(history), len(offsets))
		}
		for i := 1; i < len(history); i++ {
			if history[i].CreatedAt.Before(history[i-1].CreatedAt) {
				t.Errorf("message %d (%v) before message %d (%v)", i, history[i].CreatedAt, i-1, history[i-1].CreatedAt)
			}
		}
		if history[0].Sender == nil || history[0].Sender.FirstName == "" {
			t.Errorf("sender not resolved: %+v", history[0])
		}

		last := history[len(history)-1]
		if err := store.UpdateConversationLastMessage(ctx, conv.ID, last.ID, time.Now()); err != nil {
			t.Fatalf("UpdateConversationLastMessage: %v", err)
		}
		if err := store.UpdateConversationLastMessage(ctx, "missing", last.ID, time.Now()); !errors.Is(err, ErrNotFound) {
			t.Errorf("update missing conversation: %v", err)
		}

		convs, err := store.GetUserConversations(ctx, bob.ID)
		if err != nil {
			t.Fatalf("GetUserConversations: %v", err)
		}
		if len(convs) != 1 || convs[0].LastMessage == nil || convs[0].LastMessage.ID != last.ID {
			t.Errorf("last message not populated: %+v", convs)
		}
	})
}

func TestCreateMessageValidation(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		alice := createUser(t, store, "Alice", "alice@example.com")
		bob := createUser(t, store, "Bob", "bob@example.com")
		conv, err := store.FindOrCreateConversation(ctx, alice.ID, bob.ID)
		if err != nil {
			t.Fatal(err)
		}

		tests := []struct {
			name string
			msg  models.Message
			ok   bool
		}{
			{"empty text", models.Message{Kind: models.KindText}, false},
			{"unknown kind", models.Message{Kind: "audio", Content: "x"}, false},
			{"image without content", models.Message{Kind: models.KindImage, MediaURL: "uploads/a.png"}, true},
			{"text with media only", models.Message{MediaURL: "uploads/a.pdf"}, true},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				msg := tt.msg
				msg.ConversationID = conv.ID
				msg.SenderID = alice.ID
				err := store.CreateMessage(ctx, &msg)
				if tt.ok && err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if !tt.ok && !errors.Is(err, models.ErrInvalidMessage) {
					t.Errorf("got %v, want ErrInvalidMessage", err)
				}
			})
		}
	})
}

func TestPairKeyIsOrderIndependent(t *testing.T) {
	if PairKey("a", "b") != PairKey("b", "a") {
		t.Error("PairKey depends on argument order")
	}
}
