package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pairchat/internal/db"
	"pairchat/internal/models"
)

type fakeUsers map[string]*models.User

func (f fakeUsers) GetUserByID(_ context.Context, id string) (*models.User, error) {
	if id == "broken" {
		return nil, errors.New("disk on fire")
	}
	if u, ok := f[id]; ok {
		return u, nil
	}
	return nil, db.ErrNotFound
}

func TestTokenRoundTrip(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)
	raw, err := tokens.Issue("user-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := tokens.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Errorf("UserID = %q", claims.UserID)
	}
}

func TestTokenRejected(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)

	expired := NewTokens("secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	oldToken, err := expired.Issue("user-1")
	if err != nil {
		t.Fatal(err)
	}

	forged, err := NewTokens("other-secret", time.Hour).Issue("user-1")
	if err != nil {
		t.Fatal(err)
	}

	for name, raw := range map[string]string{
		"expired":      oldToken,
		"wrong secret": forged,
		"garbage":      "not-a-jwt",
	} {
		if _, err := tokens.Parse(raw); !errors.Is(err, ErrAuthInvalid) {
			t.Errorf("%s: got %v, want ErrAuthInvalid", name, err)
		}
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=from-query", nil)
	r.Header.Set("Authorization", "Bearer from-header")
	if got := TokenFromRequest(r); got != "from-query" {
		t.Errorf("query token not preferred: %q", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "bearer from-header")
	if got := TokenFromRequest(r); got != "from-header" {
		t.Errorf("header token = %q", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.AddCookie(&http.Cookie{Name: CookieName, Value: "from-cookie"})
	if got := TokenFromRequest(r); got != "from-cookie" {
		t.Errorf("cookie token = %q", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Basic abc")
	if got := TokenFromRequest(r); got != "" {
		t.Errorf("basic auth should not count as a token, got %q", got)
	}
}

func TestAuthenticate(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)
	users := fakeUsers{"alice": {ID: "alice", FirstName: "Alice"}}
	authn := NewAuthenticator(tokens, users)
	ctx := context.Background()

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if _, err := authn.Authenticate(ctx, r); !errors.Is(err, ErrAuthMissing) {
		t.Errorf("no token: got %v, want ErrAuthMissing", err)
	}

	good, _ := tokens.Issue("alice")
	r = httptest.NewRequest(http.MethodGet, "/ws?token="+good, nil)
	user, err := authn.Authenticate(ctx, r)
	if err != nil || user.ID != "alice" {
		t.Fatalf("Authenticate = %v, %v", user, err)
	}

	ghost, _ := tokens.Issue("ghost")
	if _, err := authn.AuthenticateToken(ctx, ghost); !errors.Is(err, ErrAuthInvalid) {
		t.Errorf("unknown user: got %v, want ErrAuthInvalid", err)
	}

	broken, _ := tokens.Issue("broken")
	_, err = authn.AuthenticateToken(ctx, broken)
	if err == nil || errors.Is(err, ErrAuthInvalid) {
		t.Errorf("storage failure should not look like a bad token: %v", err)
	}
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("Secr3t!pw")
	if err != nil {
		t.Fatal(err)
	}
	if !CheckPassword(hash, "Secr3t!pw") {
		t.Error("correct password rejected")
	}
	if CheckPassword(hash, "wrong") {
		t.Error("wrong password accepted")
	}
}

func TestValidateRegistration(t *testing.T) {
	valid := models.RegisterRequest{FirstName: "A", LastName: "B", Email: "a@example.com", Password: "Secr3t!pw"}
	if msg := ValidateRegistration(valid); msg != "" {
		t.Errorf("valid input rejected: %s", msg)
	}

	tests := map[string]func(*models.RegisterRequest){
		"missing name":   func(r *models.RegisterRequest) { r.FirstName = "" },
		"bad email":      func(r *models.RegisterRequest) { r.Email = "not-an-email" },
		"no tld":         func(r *models.RegisterRequest) { r.Email = "a@localhost" },
		"short password": func(r *models.RegisterRequest) { r.Password = "S3!a" },
		"no symbol":      func(r *models.RegisterRequest) { r.Password = "Secret123" },
		"no upper":       func(r *models.RegisterRequest) { r.Password = "secr3t!pw" },
	}
	for name, mutate := range tests {
		req := valid
		mutate(&req)
		if ValidateRegistration(req) == "" {
			t.Errorf("%s: accepted", name)
		}
	}
}
