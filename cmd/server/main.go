package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Laffyyy/collabo-tool-sub001/internal/config"
	"github.com/Laffyyy/collabo-tool-sub001/internal/database"
	"github.com/Laffyyy/collabo-tool-sub001/internal/handlers"
	"github.com/Laffyyy/collabo-tool-sub001/internal/logger"
	"github.com/Laffyyy/collabo-tool-sub001/internal/middleware"
	"github.com/Laffyyy/collabo-tool-sub001/internal/repository"
	"github.com/Laffyyy/collabo-tool-sub001/internal/router"
	"github.com/Laffyyy/collabo-tool-sub001/internal/services"
	"github.com/Laffyyy/collabo-tool-sub001/internal/websocket"
	"github.com/Laffyyy/collabo-tool-sub001/internal/worker"
	"github.com/Laffyyy/collabo-tool-sub001/migrations"
)

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	log.Logger = logger.Setup(cfg.IsDevelopment())
	log.Info().Str("env", cfg.Env).Msg("starting collabo backend")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ──── Step 2: PostgreSQL ────
	pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection failed")
	}
	defer pool.Close()

	if err := database.RunMigrations(ctx, pool, migrations.FS); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}
	log.Info().Msg("database ready")

	// ──── Step 3: Redis ────
	redisClients, err := database.NewRedisClients(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection failed")
	}
	defer redisClients.Close()
	log.Info().Msg("redis connected")

	// ──── Repositories ────
	userRepo := repository.NewUserRepo(pool)
	presenceRepo := repository.NewPresenceRepo(pool)
	securityRepo := repository.NewSecurityQuestionRepo(pool)
	sessionStore := repository.NewSessionStore(redisClients.Cache)
	tokenStore := repository.NewTokenStore(redisClients.Cache)

	// ──── Services ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret, cfg.AccessTokenTTL, sessionStore)
	emailService := services.NewEmailService(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.FrontendURL)
	publisher := services.NewRedisPresencePublisher(redisClients.Cache)
	presenceService := services.NewPresenceService(presenceRepo, publisher)
	authService := services.NewAuthService(userRepo, sessionStore, presenceService, jwtAuth, cfg.SessionTTL)
	noticePool := worker.NewPool(worker.NewRedisQueue(redisClients.Cache, worker.QueueName), emailService, cfg.NoticeWorkers)
	noticePool.Start()
	securityService := services.NewSecurityService(userRepo, securityRepo, tokenStore, sessionStore, noticePool)

	sweeper := services.NewPresenceSweeper(presenceRepo, publisher, cfg.PresenceSweepInterval)
	sweeper.Start()

	wsHub := websocket.NewHub(websocket.NewRedisFeed(redisClients.PubSub, services.PresenceChannel))

	// ──── HTTP ────
	r := router.New(
		log.Logger,
		jwtAuth,
		middleware.NewRateLimiter(tokenStore, "auth", cfg.AuthRateLimit, cfg.AuthRateWindow),
		handlers.NewAuthHandler(authService),
		handlers.NewSecurityHandler(securityService),
		handlers.NewUserHandler(userRepo),
		handlers.NewPresenceHandler(presenceService),
		wsHub,
		cfg.FrontendURL,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		sweeper.Stop()
		noticePool.Stop()
		wsHub.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", server.Addr).Msg("collabo backend ready")
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("server error")
		os.Exit(1)
	}
}
