package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"inkwell-backend/internal/handlers"
	"inkwell-backend/internal/middleware"
	"inkwell-backend/internal/websocket"
)

func New(
	jwtAuth *middleware.JWTAuth,
	authHandler *handlers.AuthHandler,
	interactionHandler *handlers.InteractionHandler,
	worksHandler *handlers.WorksHandler,
	collaboratorHandler *handlers.CollaboratorHandler,
	workflowHandler *handlers.WorkflowHandler,
	wsHub *websocket.Hub,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))

	// Auth rate limiter (10 req/min per IP)
	authLimiter := middleware.NewRateLimiter(10, time.Minute)
	// Advisor and image calls cost money upstream (30 req/min per IP)
	collaboratorLimiter := middleware.NewRateLimiter(30, time.Minute)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Auth Routes (public) ────
		r.Route("/auth", func(r chi.Router) {
			r.Use(authLimiter.Middleware)
			r.Post("/login", authHandler.Login)
		})

		// ──── Interaction Log ────
		r.Route("/interactions", func(r chi.Router) {
			r.Get("/", interactionHandler.List)
			r.Post("/", interactionHandler.Save)
			r.Delete("/", interactionHandler.Delete)
		})

		r.Get("/user-works", worksHandler.List)

		// ──── Collaborators ────
		r.Group(func(r chi.Router) {
			r.Use(collaboratorLimiter.Middleware)
			r.Post("/advisor", collaboratorHandler.Advise)
			r.Post("/images", collaboratorHandler.GenerateImage)
			r.Post("/letters/email", collaboratorHandler.EmailLetter)
		})

		// ──── Workflow ────
		r.Route("/workflow", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/", workflowHandler.Get)
			r.Post("/events", workflowHandler.Fire)
		})

		// ──── WebSocket ────
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r
}
