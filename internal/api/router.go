package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter mounts every route. The websocket endpoint sits outside the
// request logger and CORS; it authenticates and checks origin itself.
func (h *Handlers) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/ws", h.HandleWebSocket)

	r.Group(func(r chi.Router) {
		r.Use(logRequest(h.logger))
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{h.cfg.ClientURL},
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))

		r.Get("/healthz", h.HandleHealth)
		r.Handle("/uploads/*", h.uploadsHandler())

		r.Route("/api/auth", func(r chi.Router) {
			r.Post("/register", h.HandleRegister)
			r.Post("/login", h.HandleLogin)
			r.Post("/logout", h.HandleLogout)
			r.Get("/verify", h.HandleVerify)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.WithAuth)

			r.Post("/api/upload", h.HandleUpload)

			r.Route("/api/chat", func(r chi.Router) {
				r.Get("/users", h.HandleUsers)
				r.Get("/conversations", h.HandleConversations)
				r.Post("/conversations", h.HandleCreateConversation)
				r.Get("/conversations/{id}/messages", h.HandleMessages)
			})
		})
	})

	return r
}
