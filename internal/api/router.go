package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/avralabs/chatlink/internal/api/handler"
	customMiddleware "github.com/avralabs/chatlink/internal/api/middleware"
	"github.com/avralabs/chatlink/internal/config"
	"github.com/avralabs/chatlink/internal/llm"
	"github.com/avralabs/chatlink/internal/llm/echo"
	"github.com/avralabs/chatlink/internal/llm/gemini"
	"github.com/avralabs/chatlink/internal/repository/postgres"
	"github.com/avralabs/chatlink/internal/repository/redis"
	"github.com/avralabs/chatlink/internal/security"
)

// NewRouter creates and configures the HTTP router. db and redisClient may
// be nil when the archive or rate limiting is disabled.
func NewRouter(cfg *config.Config, db *postgres.DB, redisClient *redis.Client) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS: widgets embed on arbitrary origins
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Auth is optional in development: no secret, no token checks
	var jwtManager *security.JWTManager
	if cfg.Auth.JWTSecret != "" {
		jwtManager = security.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	} else {
		log.Warn().Msg("JWT secret is empty, widget auth disabled")
	}

	// Reply providers
	llmRouter := llm.NewRouter(cfg.LLM.DefaultProvider)
	llmRouter.RegisterProvider(echo.NewProvider())
	if cfg.LLM.Gemini.APIKey != "" {
		log.Info().Str("model", cfg.LLM.Gemini.Model).Msg("Registering Gemini provider")
		llmRouter.RegisterProvider(gemini.NewProvider(cfg.LLM.Gemini))
	}

	// Rate limiting and archiving
	var limiter *redis.RateLimiter
	if redisClient != nil {
		limiter = redis.NewRateLimiter(redisClient, cfg.Server.RateLimitPerMin, cfg.Server.RateLimitBurst)
	}
	var archive *postgres.ArchiveRepository
	if db != nil {
		archive = postgres.NewArchiveRepository(db)
	}

	wsHandler := handler.NewWSHandler(jwtManager, llmRouter, limiter, archive, log.Logger)

	// The websocket stays outside the timeout group; it is long-lived.
	r.Get("/ws", wsHandler.Serve)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.Server.MiddlewareTimeout))

		r.Get("/health", handler.HealthCheck)
		r.Get("/ready", handler.ReadyCheck(db))
		r.Get("/providers", handler.ListProviders(llmRouter))

		if jwtManager != nil {
			tokenHandler := handler.NewTokenHandler(jwtManager)
			r.Post("/auth/token", tokenHandler.Issue)
		}
	})

	return r
}
