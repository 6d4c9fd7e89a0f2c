package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/znz-systems/followup/internal/web/handlers"
	"github.com/znz-systems/followup/internal/web/middleware"
)

// RouterDeps holds all dependencies needed to build the router.
type RouterDeps struct {
	AuthHandler     *handlers.AuthHandler
	FollowupHandler *handlers.FollowupHandler
	SettingsHandler *handlers.SettingsHandler
	GmailHandler    *handlers.GmailHandler
	DraftHandler    *handlers.DraftHandler
	HealthHandler   *handlers.HealthHandler
	Sessions        middleware.SessionValidator
	Limiter         middleware.Allower
	CORSOrigin      string
}

// NewRouter wires all routes into a Chi router.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/healthz", deps.HealthHandler.HandleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.CORS(deps.CORSOrigin))
		r.Use(middleware.RateLimit(deps.Limiter))

		// Public routes
		r.Post("/auth/signup", deps.AuthHandler.HandleSignup)
		r.Post("/auth/login", deps.AuthHandler.HandleLogin)
		r.Get("/gmail/callback", deps.GmailHandler.HandleCallback)

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(deps.Sessions))

			r.Post("/auth/logout", deps.AuthHandler.HandleLogout)
			r.Get("/auth/me", deps.AuthHandler.HandleMe)

			r.Route("/followups", func(r chi.Router) {
				r.Get("/", deps.FollowupHandler.HandleList)
				r.Delete("/", deps.FollowupHandler.HandleClear)
				r.Post("/sync", deps.FollowupHandler.HandleSync)
				r.Post("/pending", deps.FollowupHandler.HandlePending)
				r.Get("/{threadID}", deps.FollowupHandler.HandleGet)
				r.Delete("/{threadID}", deps.FollowupHandler.HandleRemove)
				r.Post("/{threadID}/dismiss", deps.FollowupHandler.HandleDismiss)
				r.Post("/{threadID}/replied", deps.FollowupHandler.HandleMarkReplied)
				r.Put("/{threadID}/draft", deps.FollowupHandler.HandleSaveDraft)
			})

			r.Get("/settings", deps.SettingsHandler.HandleGet)
			r.Put("/settings", deps.SettingsHandler.HandleUpdate)

			r.Route("/gmail", func(r chi.Router) {
				r.Get("/", deps.GmailHandler.HandleStatus)
				r.Delete("/", deps.GmailHandler.HandleDisconnect)
				r.Get("/auth", deps.GmailHandler.HandleAuthURL)
				r.Get("/inbox", deps.GmailHandler.HandleInbox)
				r.Post("/refresh", deps.GmailHandler.HandleRefresh)
				r.Post("/check-replies", deps.GmailHandler.HandleCheckReplies)
				r.Post("/send", deps.GmailHandler.HandleSend)
			})

			r.Post("/drafts", deps.DraftHandler.HandleGenerate)
			r.Post("/drafts/redraft", deps.DraftHandler.HandleRedraft)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not found"}` + "\n"))
	})

	return r
}
