package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"pairchat/internal/db"
	"pairchat/internal/models"
)

var (
	ErrAuthMissing = errors.New("authentication error: no token provided")
	ErrAuthInvalid = errors.New("authentication error: invalid token")
)

type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

// Authenticator resolves a request's bearer credential to a stored user.
type Authenticator struct {
	tokens *Tokens
	users  UserLookup
}

func NewAuthenticator(tokens *Tokens, users UserLookup) *Authenticator {
	return &Authenticator{tokens: tokens, users: users}
}

func (a *Authenticator) Tokens() *Tokens { return a.tokens }

// Authenticate returns ErrAuthMissing when no credential is present and
// ErrAuthInvalid when it does not verify or names an unknown user. Other
// errors are storage failures.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (*models.User, error) {
	raw := TokenFromRequest(r)
	if raw == "" {
		return nil, ErrAuthMissing
	}
	return a.AuthenticateToken(ctx, raw)
}

func (a *Authenticator) AuthenticateToken(ctx context.Context, raw string) (*models.User, error) {
	claims, err := a.tokens.Parse(raw)
	if err != nil {
		return nil, err
	}
	user, err := a.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: user not found", ErrAuthInvalid)
		}
		return nil, err
	}
	return user, nil
}

func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ValidateRegistration returns a user-facing message, or "" when the input
// is acceptable.
func ValidateRegistration(req models.RegisterRequest) string {
	if req.FirstName == "" || req.LastName == "" || req.Email == "" || req.Password == "" {
		return "Please fill in all fields."
	}
	if addr, err := mail.ParseAddress(req.Email); err != nil || addr.Address != req.Email || !strings.Contains(req.Email[strings.LastIndex(req.Email, "@"):], ".") {
		return "Please enter a valid email address."
	}
	if !strongPassword(req.Password) {
		return "Password must be at least 8 characters, including uppercase, lowercase, number, and special character."
	}
	return ""
}

func strongPassword(p string) bool {
	if len(p) < 8 {
		return false
	}
	var upper, lower, digit, special bool
	for _, r := range p {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case !unicode.IsSpace(r):
			special = true
		}
	}
	return upper && lower && digit && special
}
