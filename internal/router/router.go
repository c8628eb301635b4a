package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"sprache-backend/internal/handlers"
	"sprache-backend/internal/middleware"
	"sprache-backend/internal/websocket"
)

func New(
	chatHandler *handlers.ChatHandler,
	speechHandler *handlers.SpeechHandler,
	healthHandler *handlers.HealthHandler,
	oracleLimiter *middleware.RateLimiter,
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

	r.Get("/health", healthHandler.Health)

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Chat Routes ────
		r.Route("/chat", func(r chi.Router) {
			r.With(oracleLimiter.Middleware).Post("/", chatHandler.Send)
			r.Get("/", chatHandler.List)
			r.Patch("/", chatHandler.Rename)
			r.Delete("/", chatHandler.Delete)
			r.Get("/history", chatHandler.History)
			r.Get("/{id}", chatHandler.Get)
		})

		// ──── Speech ────
		r.With(oracleLimiter.Middleware).Post("/speech", speechHandler.Speak)

		// ──── WebSocket ────
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r
}
