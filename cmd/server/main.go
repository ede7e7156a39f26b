package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/pallabcodes/signalrank/internal/auth"
	"github.com/pallabcodes/signalrank/internal/database"
	"github.com/pallabcodes/signalrank/internal/monitoring"
	"github.com/pallabcodes/signalrank/internal/profiles"
	"github.com/pallabcodes/signalrank/internal/ratelimit"
	"github.com/pallabcodes/signalrank/internal/scorecache"
	"github.com/pallabcodes/signalrank/internal/scoring"
	"github.com/pallabcodes/signalrank/internal/signals"
)

func main() {
	appLogger := monitoring.NewLoggerFromEnv()
	slog.SetDefault(appLogger.Logger)

	// Configuration from environment with defaults
	dataDir := getEnvOrDefault("DATA_DIR", "./data")
	port := getEnvOrDefault("PORT", "8080")
	redisAddr := os.Getenv("REDIS_ADDR")
	redisPassword := os.Getenv("REDIS_PASSWORD")
	jwtSecret := os.Getenv("JWT_SECRET")
	seedFile := os.Getenv("PROFILE_SEED_FILE")
	cacheFreshness := getEnvDuration("CACHE_FRESHNESS", 60*time.Second)
	coalesceTimeout := getEnvDuration("CACHE_COALESCE_TIMEOUT", 2*time.Second)
	cacheCapacity := getEnvInt("CACHE_CAPACITY", 10000)
	historyRetention := getEnvDuration("SCORE_HISTORY_RETENTION", 90*24*time.Hour)

	db, err := database.NewDB(dataDir)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	repo := database.NewRepository(db)
	profileStore := profiles.NewStore(repo)

	if seedFile != "" {
		published, err := profileStore.LoadSeedFile(context.Background(), seedFile)
		if err != nil {
			slog.Error("Failed to load profile seed file", "path", seedFile, "error", err)
			os.Exit(1)
		}
		slog.Info("Profile seed file loaded", "path", seedFile, "published", published)
	}

	appMetrics := monitoring.NewMetrics()

	// The scoring path reads signals from the store first, optionally
	// falling through to a remote signal service, guarded against a
	// slow or failing backend per signal.
	var source signals.Collector = signals.NewStoreCollector(repo)
	if remoteURL := os.Getenv("SIGNAL_SERVICE_URL"); remoteURL != "" {
		remote := signals.NewHTTPCollector(remoteURL, os.Getenv("SIGNAL_SERVICE_TOKEN"))
		defer remote.Close()
		source = signals.NewChainCollector(source, remote)
		slog.Info("Remote signal service configured", "url", remoteURL)
	}
	collector := signals.NewTimeoutCollector(source, signals.DefaultTimeoutConfig())
	engine := scoring.NewEngine(collector).WithMetrics(appMetrics)

	cache := scorecache.New(scorecache.Config{
		Freshness:       cacheFreshness,
		CoalesceTimeout: coalesceTimeout,
		Capacity:        cacheCapacity,
	}, appMetrics)
	defer cache.Close()

	redisClient, err := ratelimit.NewRedisClient(ratelimit.RedisConfig{
		Addr:     redisAddr,
		Password: redisPassword,
	})
	if err != nil {
		slog.Warn("Redis unavailable, rate limiting degrades to in-memory", "error", err)
	}
	defer redisClient.Close()
	limiter := ratelimit.NewRateLimiter(redisClient, ratelimit.DefaultConfig(), appMetrics)

	authService := auth.NewService(auth.Config{Secret: jwtSecret})
	if !authService.Enabled() {
		slog.Warn("JWT_SECRET not set, profile publishing is unauthenticated")
	}

	app := newApplication(profileStore, repo, engine, cache, appMetrics, appLogger, authService, limiter)
	app.poolStats = db.GetPoolStats

	r := app.Routes()
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Prune old score history daily.
	pruneDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				cutoff := time.Now().Add(-historyRetention)
				removed, err := repo.PruneScores(context.Background(), cutoff)
				if err != nil {
					slog.Error("Score history prune failed", "error", err)
					continue
				}
				slog.Info("Score history pruned", "removed", removed, "cutoff", cutoff.Format(time.RFC3339))
			case <-pruneDone:
				return
			}
		}
	}()
	defer close(pruneDone)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	go func() {
		slog.Info("Starting server", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server exited")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		slog.Warn("Invalid duration in environment, using default", "key", key, "value", value)
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		slog.Warn("Invalid integer in environment, using default", "key", key, "value", value)
	}
	return defaultValue
}
