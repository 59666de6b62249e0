package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/Laffyyy/collabo-tool-sub001/internal/handlers"
	"github.com/Laffyyy/collabo-tool-sub001/internal/logger"
	"github.com/Laffyyy/collabo-tool-sub001/internal/middleware"
	"github.com/Laffyyy/collabo-tool-sub001/internal/websocket"
)

func New(
	log zerolog.Logger,
	jwtAuth *middleware.JWTAuth,
	authLimiter *middleware.RateLimiter,
	authHandler *handlers.AuthHandler,
	securityHandler *handlers.SecurityHandler,
	userHandler *handlers.UserHandler,
	presenceHandler *handlers.PresenceHandler,
	wsHub *websocket.Hub,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(logger.Requests(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(frontendURL))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Auth Routes ────
		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(authLimiter.Middleware)
				r.Post("/register", authHandler.Register)
				r.Post("/login", authHandler.Login)
				r.Post("/refresh", authHandler.Refresh)
				r.Get("/security-questions", securityHandler.ListQuestions)
				r.Post("/forgot-password/questions", securityHandler.RecoveryQuestions)
				r.Post("/forgot-password/verify", securityHandler.VerifyAnswers)
				r.Post("/forgot-password/reset", securityHandler.ResetPassword)
			})

			r.Group(func(r chi.Router) {
				r.Use(jwtAuth.Middleware)
				r.Post("/logout", authHandler.Logout)
				r.Get("/session", authHandler.Session)
				r.Post("/session/refresh", authHandler.ExtendSession)
			})
		})

		// ──── User Routes ────
		r.Route("/user", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/me", userHandler.GetMe)
			r.Put("/password", securityHandler.ChangePassword)
			r.Put("/security-questions", securityHandler.SetAnswers)
		})

		// ──── Presence Routes ────
		r.Route("/presence", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/", presenceHandler.List)
			r.Get("/me", presenceHandler.Me)
			r.Post("/heartbeat", presenceHandler.Heartbeat)
			r.Put("/status", presenceHandler.SetStatus)
			r.Get("/{userID}", presenceHandler.Get)
		})

		// ──── WebSocket ────
		r.With(jwtAuth.QueryTokenMiddleware).Get("/ws", wsHub.HandleWebSocket)
	})

	return r
}
