package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"sprache-backend/internal/cache"
	"sprache-backend/internal/config"
	"sprache-backend/internal/database"
	"sprache-backend/internal/events"
	"sprache-backend/internal/handlers"
	"sprache-backend/internal/middleware"
	"sprache-backend/internal/observability"
	"sprache-backend/internal/repository"
	"sprache-backend/internal/router"
	"sprache-backend/internal/services"
	"sprache-backend/internal/websocket"
)

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()

	logger, err := observability.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("✗ Logger initialization failed: %v", err)
	}
	defer logger.Sync()

	logger.Info("🚀 Starting Sprache Backend...", zap.String("env", cfg.Env))
	logger.Info("✓ Environment variables loaded")

	// ──── Step 2: Open Conversation Store ────
	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("✗ Conversation store initialization failed", zap.Error(err))
	}
	defer closeStore()

	// ──── Step 3: Initialize Redis Clients (optional) ────
	var redisClients *database.RedisClients
	if cfg.RedisURL != "" {
		redisClients, err = database.NewRedisClients(cfg.RedisURL)
		if err != nil {
			logger.Fatal("✗ Redis connection failed", zap.Error(err))
		}
		defer redisClients.Close()
		logger.Info("✓ Redis connected")
	} else {
		logger.Info("Redis not configured: speech cache off, events stay on this instance")
	}

	// ──── Step 4: Initialize Oracles ────
	policy := services.NewOraclePolicy(cfg.OracleTimeout, cfg.OracleMaxAttempts, cfg.GeminiConcurrentReqs, logger.Named("oracle"))

	var generator services.TextGenerator
	switch cfg.TextProvider {
	case config.ProviderOpenAI:
		compat, err := services.NewCompatService(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel)
		if err != nil {
			logger.Fatal("✗ OpenAI-compatible client initialization failed", zap.Error(err))
		}
		generator = compat
		logger.Info("✓ OpenAI-compatible text client initialized", zap.String("model", cfg.OpenAIModel))
	default:
		gemini, err := services.NewGeminiService(cfg.GeminiAPIKey, cfg.GeminiModel, logger.Named("gemini"))
		if err != nil {
			logger.Fatal("✗ Gemini client initialization failed", zap.Error(err))
		}
		defer gemini.Close()
		generator = gemini
		logger.Info("✓ Gemini client initialized", zap.String("model", cfg.GeminiModel))
	}
	generator = services.GuardTextGenerator(generator, policy)
	synth := services.GuardSpeechSynthesizer(services.NewOpenAITTS(cfg.OpenAIAPIKey), policy)

	// ──── Step 5: Start WebSocket Hub ────
	var (
		wsHub     *websocket.Hub
		publisher events.Publisher
		audio     services.AudioCache
	)
	if redisClients != nil {
		wsHub = websocket.NewHub(redisClients.PubSub, logger.Named("ws"))
		publisher = events.NewRedisPublisher(redisClients.Cache, logger.Named("events"))
		audio = cache.NewRedisAudioCache(redisClients.Cache)
	} else {
		wsHub = websocket.NewHub(nil, logger.Named("ws"))
		publisher = wsHub
	}
	defer wsHub.Close()
	logger.Info("✓ WebSocket hub started")

	// ──── Initialize Services & Handlers ────
	conversationService := services.NewConversationService(store, generator, publisher, logger.Named("conversations"))
	speechService := services.NewSpeechService(synth, audio, logger.Named("speech"))

	chatHandler := handlers.NewChatHandler(conversationService, logger.Named("http"))
	speechHandler := handlers.NewSpeechHandler(speechService, logger.Named("http"))
	healthHandler := handlers.NewHealthHandler(store)

	oracleLimiter := middleware.NewRateLimiter(cfg.ChatRequestsPerMin, time.Minute)
	defer oracleLimiter.Stop()

	// ──── Step 6: Start HTTP Server ────
	r := router.New(
		chatHandler,
		speechHandler,
		healthHandler,
		oracleLimiter,
		wsHub,
		cfg.FrontendURL,
	)

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// Long enough for every oracle attempt plus the write.
		WriteTimeout: cfg.OracleTimeout*time.Duration(cfg.OracleMaxAttempts) + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down...")
		wsHub.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	logger.Info(fmt.Sprintf("✓ Sprache Backend ready on http://localhost:%s", cfg.Port))
	logger.Info(fmt.Sprintf("  API: http://localhost:%s/api/v1", cfg.Port))
	logger.Info(fmt.Sprintf("  WS:  ws://localhost:%s/api/v1/ws", cfg.Port))

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("Server error", zap.Error(err))
	}
}

// openStore picks the SQLite or PostgreSQL store from DATABASE_URL. The
// returned func releases the underlying handle.
func openStore(cfg *config.Config, logger *zap.Logger) (repository.ConversationStore, func(), error) {
	if database.IsSQLiteURL(cfg.DatabaseURL) {
		db, err := database.OpenSQLite(cfg.DatabaseURL, logger.Named("gorm"), cfg.IsDevelopment())
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		logger.Info("✓ SQLite store opened")
		return repository.NewSQLiteStore(db), func() { sqlDB.Close() }, nil
	}

	pool, err := database.NewPostgresPool(cfg.DatabaseURL, logger, cfg.IsDevelopment())
	if err != nil {
		return nil, nil, fmt.Errorf("PostgreSQL connection failed: %w", err)
	}
	logger.Info("✓ PostgreSQL connected")

	if err := database.RunMigrations(pool, logger); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("database migration failed: %w", err)
	}
	logger.Info("✓ Database migrations applied")

	return repository.NewConversationRepo(pool), pool.Close, nil
}
