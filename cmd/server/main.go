package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"inkwell-backend/internal/config"
	"inkwell-backend/internal/database"
	"inkwell-backend/internal/handlers"
	"inkwell-backend/internal/keylock"
	"inkwell-backend/internal/logger"
	"inkwell-backend/internal/middleware"
	"inkwell-backend/internal/repository"
	"inkwell-backend/internal/router"
	"inkwell-backend/internal/services"
	"inkwell-backend/internal/websocket"
	"inkwell-backend/internal/worker"
	"inkwell-backend/internal/workflow"
)

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()

	log, err := logger.New(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("🚀 Starting Inkwell Backend...")
	log.Info("✓ Environment variables loaded", "env", cfg.Env)

	// ──── Step 2: Interaction Store ────
	var store repository.Store
	if cfg.DatabaseURL != "" {
		pool, err := database.NewPostgresPool(cfg.DatabaseURL)
		if err != nil {
			log.Fatal("✗ PostgreSQL connection failed", "error", err)
		}
		log.Info("✓ PostgreSQL connected")

		applied, err := database.RunMigrations(pool, "migrations")
		if err != nil {
			log.Fatal("✗ Database migration failed", "error", err)
		}
		log.Info("✓ Database migrations applied", "applied", applied)

		store = repository.NewPostgresStore(pool, cfg.StoreTimeout)
	} else {
		store = repository.NewMemStore()
		log.Warn("✓ DATABASE_URL not set, using in-memory store")
	}
	defer store.Close()

	// ──── Step 3: Redis (locks, sessions, queue, feed) ────
	var (
		redisMain   *redis.Client
		redisPubSub *redis.Client
		locks       keylock.Locker = keylock.NewMutex()
		sessions    workflow.Sessions
		queue       worker.Queue
	)
	if cfg.RedisURL != "" {
		clients, err := database.NewRedisClients(cfg.RedisURL)
		if err != nil {
			log.Fatal("✗ Redis connection failed", "error", err)
		}
		defer clients.Close()
		redisMain, redisPubSub = clients.Main, clients.PubSub
		// Local waiters queue on the mutex, one per instance contends in Redis.
		locks = keylock.Chain{locks, keylock.NewRedisLocker(redisMain, 10*time.Second)}
		sessions = workflow.NewRedisSessions(redisMain, cfg.SessionTTL)
		queue = worker.NewRedisQueue(redisMain, worker.APICallQueue)
		log.Info("✓ Redis connected")
	} else {
		sessions = workflow.NewMemorySessions()
		queue = worker.NewMemoryQueue(0)
		log.Warn("✓ REDIS_URL not set, keeping locks, sessions and queue in process")
	}

	// ──── Step 4: Collaborators ────
	var advisor services.Advisor
	if cfg.GeminiAPIKey != "" {
		gemini, err := services.NewGeminiAdvisor(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiConcurrentReqs)
		if err != nil {
			log.Fatal("✗ Gemini client initialization failed", "error", err)
		}
		defer gemini.Close()
		advisor = gemini
		log.Info("✓ Gemini advisor initialized", "model", cfg.GeminiModel)
	} else {
		log.Warn("✓ GEMINI_API_KEY not set, advisor will answer with fallbacks")
	}

	var images services.ImageGenerator
	if cfg.FalKey != "" {
		images = services.NewFalImageGenerator(cfg.FalEndpoint, cfg.FalKey, 60*time.Second)
		log.Info("✓ Image generator configured")
	} else {
		log.Warn("✓ FAL_KEY not set, images fall back to placeholders")
	}

	// ──── Step 5: Services ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret, 0)
	wsHub := websocket.NewHub(redisPubSub, jwtAuth, log.With("component", "hub"))
	defer wsHub.Close()

	aggregator := services.NewAggregator(cfg.PlotMergeWindow, cfg.APICallMergeWindow, nil)
	interactionService := services.NewInteractionService(store, locks, aggregator, wsHub, log.With("component", "interactions"))

	// ──── Step 6: Start Api-Call Worker Pool ────
	workerPool := worker.NewPool(queue, interactionService, cfg.WorkerCount, log.With("component", "worker"))
	workerPool.Start()
	log.Info("✓ Worker pool started", "workers", cfg.WorkerCount)

	authService := services.NewAuthService(store, jwtAuth, log)
	adminService := services.NewAdminService(store, cfg.TeacherPassword, log.With("component", "admin"))
	workService := services.NewWorkService(store, log)
	advisorService := services.NewAdvisorService(advisor, workerPool, 20*time.Second, log.With("component", "advisor"))
	imageService := services.NewImageService(images, workerPool, log.With("component", "images"))
	emailService := services.NewEmailService(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, log.With("component", "email"))
	workflowService := services.NewWorkflowService(sessions, store, locks, log.With("component", "workflow"))

	// ──── Step 7: Start HTTP Server ────
	r := router.New(
		jwtAuth,
		handlers.NewAuthHandler(authService),
		handlers.NewInteractionHandler(interactionService, adminService),
		handlers.NewWorksHandler(workService),
		handlers.NewCollaboratorHandler(advisorService, imageService, emailService),
		handlers.NewWorkflowHandler(workflowService),
		wsHub,
		cfg.FrontendURL,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Error("Server shutdown failed", "error", err)
		}
		workerPool.Stop()
	}()

	log.Info(fmt.Sprintf("✓ Inkwell Backend ready on http://localhost:%s", cfg.Port))
	log.Info(fmt.Sprintf("  API: http://localhost:%s/api/v1", cfg.Port))
	log.Info(fmt.Sprintf("  WS:  ws://localhost:%s/api/v1/ws", cfg.Port))

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal("Server error", "error", err)
	}
	<-stopped
	log.Info("Inkwell Backend stopped")
}
