package api

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	gorilla "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pairchat/internal/auth"
	"pairchat/internal/config"
	"pairchat/internal/db"
	"pairchat/internal/models"
	"pairchat/internal/websocket"
)

type Handlers struct {
	store    db.Store
	hub      *websocket.Hub
	auth     *auth.Authenticator
	cfg      *config.Config
	logger   *zap.Logger
	upgrader gorilla.Upgrader
}

func NewHandlers(cfg *config.Config, store db.Store, hub *websocket.Hub, authenticator *auth.Authenticator, logger *zap.Logger) *Handlers {
	h := &Handlers{
		store:  store,
		hub:    hub,
		auth:   authenticator,
		cfg:    cfg,
		logger: logger.Named("api"),
	}
	h.upgrader = gorilla.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin admits the configured client and non-browser clients, which
// send no Origin header.
func (h *Handlers) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.cfg.ClientURL == "*" {
		return true
	}
	if strings.EqualFold(origin, h.cfg.ClientURL) {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

func (h *Handlers) setAuthCookie(w http.ResponseWriter, token string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
}

func (h *Handlers) issueSession(w http.ResponseWriter, status int, user *models.User) {
	token, err := h.auth.Tokens().Issue(user.ID)
	if err != nil {
		h.logger.Error("failed to sign token", zap.String("user", user.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to create token")
		return
	}
	h.setAuthCookie(w, token, int(h.auth.Tokens().TTL()/time.Second))
	writeJSON(w, status, models.AuthResponse{UserProfile: *user.Profile(), Token: token})
}

// Auth handlers
func (h *Handlers) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	if msg := auth.ValidateRegistration(req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	if _, err := h.store.GetUserByEmail(r.Context(), req.Email); err == nil {
		writeError(w, http.StatusBadRequest, "User already exists")
		return
	} else if !errors.Is(err, db.ErrNotFound) {
		h.logger.Error("failed to look up email", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		h.logger.Error("failed to hash password", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	user := &models.User{
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Email:     req.Email,
		Password:  hashed,
	}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			writeError(w, http.StatusBadRequest, "User already exists")
			return
		}
		h.logger.Error("failed to create user", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.logger.Info("user registered", zap.String("user", user.ID))
	h.issueSession(w, http.StatusCreated, user)
}

func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Please enter email and password.")
		return
	}

	user, err := h.store.GetUserByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		h.logger.Error("failed to look up email", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if user == nil || !auth.CheckPassword(user.Password, req.Password) {
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	h.issueSession(w, http.StatusOK, user)
}

func (h *Handlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.setAuthCookie(w, "", -1)
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) HandleVerify(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.Authenticate(r.Context(), r)
	if err != nil {
		h.authFailed(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user.Profile())
}

// User handlers

// HandleUsers lists every other user with their current presence.
func (h *Handlers) HandleUsers(w http.ResponseWriter, r *http.Request) {
	me, _ := UserFromContext(r.Context())

	users, err := h.store.ListUsers(r.Context(), me.ID)
	if err != nil {
		h.logger.Error("failed to list users", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to get users")
		return
	}

	presence := h.hub.Presence()
	contacts := make([]models.Contact, 0, len(users))
	for _, u := range users {
		contacts = append(contacts, models.Contact{UserProfile: *u.Profile(), Online: presence.IsOnline(u.ID)})
	}
	writeJSON(w, http.StatusOK, contacts)
}

// Conversation handlers

func (h *Handlers) HandleCreateConversation(w http.ResponseWriter, r *http.Request) {
	me, _ := UserFromContext(r.Context())

	var req models.CreateConversationRequest
	if err := decodeJSON(r, &req); err != nil || req.RecipientID == "" {
		writeError(w, http.StatusBadRequest, "Recipient ID is required")
		return
	}
	if req.RecipientID == me.ID {
		writeError(w, http.StatusBadRequest, "Cannot start a conversation with yourself")
		return
	}

	if _, err := h.store.GetUserByID(r.Context(), req.RecipientID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Recipient not found")
			return
		}
		h.logger.Error("failed to load recipient", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	conv, err := h.store.FindOrCreateConversation(r.Context(), me.ID, req.RecipientID)
	if err != nil {
		h.logger.Error("failed to find or create conversation",
			zap.String("user", me.ID), zap.String("recipient", req.RecipientID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to create conversation")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *Handlers) HandleConversations(w http.ResponseWriter, r *http.Request) {
	me, _ := UserFromContext(r.Context())

	conversations, err := h.store.GetUserConversations(r.Context(), me.ID)
	if err != nil {
		h.logger.Error("failed to fetch conversations", zap.String("user", me.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch conversations")
		return
	}
	if conversations == nil {
		conversations = []*models.Conversation{}
	}
	writeJSON(w, http.StatusOK, conversations)
}

// HandleMessages returns a conversation's history, oldest first. Only its
// two participants may read it.
func (h *Handlers) HandleMessages(w http.ResponseWriter, r *http.Request) {
	me, _ := UserFromContext(r.Context())
	conversationID := chi.URLParam(r, "id")

	conv, err := h.store.GetConversationByID(r.Context(), conversationID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Conversation not found")
			return
		}
		h.logger.Error("failed to load conversation", zap.String("conversation", conversationID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !conv.HasParticipant(me.ID) {
		writeError(w, http.StatusForbidden, "Not authorized to view this conversation")
		return
	}

	messages, err := h.store.GetConversationMessages(r.Context(), conv.ID)
	if err != nil {
		h.logger.Error("failed to fetch messages", zap.String("conversation", conv.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch messages")
		return
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

// WebSocket handler

// HandleWebSocket authenticates the handshake before upgrading; a rejected
// handshake never reaches the hub.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.Authenticate(r.Context(), r)
	if err != nil {
		h.logger.Info("websocket handshake rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
		h.authFailed(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade connection", zap.String("user", user.ID), zap.Error(err))
		return
	}

	if err := h.hub.ServeConn(r.Context(), conn, user); err != nil {
		h.logger.Warn("connection refused by hub", zap.String("user", user.ID), zap.Error(err))
	}
}

func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"online": h.hub.Presence().Len(),
	})
}
