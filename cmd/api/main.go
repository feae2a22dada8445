package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/driftchat/backend/internal/api"
	"github.com/driftchat/backend/internal/auth"
	"github.com/driftchat/backend/internal/config"
	"github.com/driftchat/backend/internal/domain"
	"github.com/driftchat/backend/internal/repository"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	logger, err := initLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Info("Starting driftchat matchmaking service",
		zap.String("env", cfg.Server.Env),
		zap.String("port", cfg.Server.Port),
	)

	ctx := context.Background()
	db, err := initDatabase(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("Connected to database")

	// External collaborators: blocking, reputation, match archive.
	repo := repository.NewPostgresRepository(db, logger)
	directory := domain.NewDirectory(repo, repo, cfg.Directory.CacheTTL)
	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Expiry)
	turnIssuer := domain.NewTURNIssuer(cfg.TURN.Secret, cfg.TURN.URLs, cfg.TURN.TTL)

	// Matchmaking and signaling core.
	matcher := domain.NewMatchingService(
		domain.MatchingConfig{
			TickInterval:    cfg.Matching.TickInterval,
			ScanWindow:      cfg.Matching.ScanWindow,
			AcceptThreshold: cfg.Matching.AcceptThreshold,
			AgingAfter:      cfg.Matching.AgingAfter,
			AgingRamp:       cfg.Matching.AgingRamp,
			AgingFloor:      cfg.Matching.AgingFloor,
		},
		domain.DefaultScorerConfig(),
		directory,
		repo,
		logger,
	)

	rlConfig := domain.DefaultRateLimiterConfig()
	rlConfig.Buckets[domain.ClassFindMatch] = domain.BucketConfig{
		Capacity:    cfg.RateLimit.FindMatchCapacity,
		RefillEvery: cfg.RateLimit.FindMatchRefill,
	}
	rlConfig.DenialThreshold = cfg.RateLimit.DenialThreshold
	rlConfig.DenialWindow = cfg.RateLimit.DenialWindow

	gateway := api.NewGateway(jwtManager, matcher, directory, rlConfig, logger)
	sessions := domain.NewSessionService(
		domain.SessionConfig{NegotiationTimeout: cfg.Session.NegotiationTimeout},
		matcher,
		gateway,
		repo,
		logger,
	)
	gateway.SetSessions(sessions)
	matcher.OnMatched = sessions.Start

	go gateway.Run()

	sweepCtx, sweepCancel := context.WithCancel(ctx)
	go matcher.Run(sweepCtx)
	repo.StartCleanupWorker(sweepCtx, 1*time.Hour)

	// HTTP surface.
	deviceHandler := api.NewDeviceHandler(jwtManager, logger)
	turnHandler := api.NewTURNHandler(turnIssuer)
	healthHandler := api.NewHealthHandler()
	router := api.NewRouter(deviceHandler, turnHandler, healthHandler, gateway, jwtManager, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router.Setup(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	sweepCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	logger.Info("Server stopped")
}

func initLogger() (*zap.Logger, error) {
	if os.Getenv("ENV") == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func initDatabase(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
