package main

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/pallabcodes/signalrank/internal/auth"
	"github.com/pallabcodes/signalrank/internal/database"
	apperrors "github.com/pallabcodes/signalrank/internal/errors"
	"github.com/pallabcodes/signalrank/internal/monitoring"
	"github.com/pallabcodes/signalrank/internal/ranker"
	"github.com/pallabcodes/signalrank/internal/ratelimit"
	"github.com/pallabcodes/signalrank/internal/scorecache"
	"github.com/pallabcodes/signalrank/internal/scoring"
	"github.com/pallabcodes/signalrank/internal/types"
)

// profileStore is the profile surface the handlers need. Satisfied by
// profiles.Store.
type profileStore interface {
	Publish(ctx context.Context, profile scoring.Profile) (*scoring.Profile, error)
	Get(ctx context.Context, id string) (*scoring.Profile, error)
	Resolve(ctx context.Context, ref string) (*scoring.Profile, error)
	List(ctx context.Context) ([]*scoring.Profile, error)
}

// signalStore is the persistence surface the handlers need. Satisfied
// by database.Repository.
type signalStore interface {
	UpsertSignal(ctx context.Context, entityID, name string, value float64) (int64, error)
	GetSignals(ctx context.Context, entityID string) ([]database.SignalValue, error)
	GetGeneration(ctx context.Context, entityID string) (int64, error)
	InsertScore(ctx context.Context, score *scoring.Score) error
	ScoreHistory(ctx context.Context, entityID, profileID string, limit int) ([]scoring.Score, error)
}

type application struct {
	profiles profileStore
	store    signalStore
	engine   *scoring.Engine
	cache    *scorecache.Cache
	ranker   *ranker.Ranker
	metrics  *monitoring.Metrics
	logger   *monitoring.Logger
	auth     *auth.Service
	limiter  *ratelimit.RateLimiter

	poolStats func() map[string]interface{}
	started   time.Time
}

func newApplication(
	profiles profileStore,
	store signalStore,
	engine *scoring.Engine,
	cache *scorecache.Cache,
	metrics *monitoring.Metrics,
	logger *monitoring.Logger,
	authSvc *auth.Service,
	limiter *ratelimit.RateLimiter,
) *application {
	app := &application{
		profiles: profiles,
		store:    store,
		engine:   engine,
		cache:    cache,
		metrics:  metrics,
		logger:   logger,
		auth:     authSvc,
		limiter:  limiter,
		started:  time.Now(),
	}
	app.ranker = ranker.New(app)
	return app
}

// Routes builds the HTTP router with the full middleware stack.
func (a *application) Routes() *gin.Engine {
	r := gin.New()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"}
	r.Use(cors.New(corsConfig))

	r.Use(monitoring.MonitoringMiddleware(a.metrics, a.logger))
	r.Use(apperrors.ErrorHandler())
	r.Use(apperrors.RecoveryHandler())
	r.Use(auth.SecurityHeaders())
	r.Use(requestTimeout(30 * time.Second))

	if a.limiter != nil {
		r.Use(a.limiter.IPRateLimitMiddleware())
	}

	compute := r.Group("/")
	if a.limiter != nil {
		compute.Use(a.limiter.ComputeRateLimitMiddleware())
	}
	compute.POST("/score", a.handleScore)
	compute.POST("/recommend", a.handleRecommend)

	r.PUT("/signals/:entity", a.handleUpdateSignals)
	r.GET("/signals/:entity", a.handleGetSignals)
	r.GET("/scores/:entity/history", a.handleScoreHistory)

	r.GET("/profiles", a.handleListProfiles)
	r.GET("/profiles/:id", a.handleGetProfile)
	r.POST("/profiles", a.auth.AdminMiddleware(), a.handlePublishProfile)

	r.GET("/health", a.handleHealth)
	r.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, a.metrics.GetStats())
	})
	r.GET("/cache/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, a.cache.Stats())
	})
	if a.limiter != nil {
		r.GET("/ratelimit/status", a.limiter.StatusHandler())
	}
	if a.poolStats != nil {
		r.GET("/pools/database", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"pool": "database", "stats": a.poolStats()})
		})
	}

	return r
}

// scoreEntity is the single scoring path: resolve the entity's current
// generation, then serve from cache or recompute through it. Scores are
// appended to history on every real compute.
func (a *application) scoreEntity(ctx context.Context, entityID string, profile *scoring.Profile, force bool) (*scoring.Score, bool, error) {
	generation, err := a.store.GetGeneration(ctx, entityID)
	if err != nil {
		return nil, false, apperrors.NewInternalError("failed to read entity generation", err)
	}

	if force {
		a.cache.Invalidate(entityID, profile.ID)
	}

	compute := func(ctx context.Context) (*scoring.Score, error) {
		start := time.Now()
		score := a.engine.ComputeScore(ctx, entityID, profile)
		score.Generation = generation
		a.metrics.IncrementScoreComputed(score.Partial)

		if err := a.store.InsertScore(ctx, &score); err != nil {
			// History is best effort, the score itself is still valid.
			slog.Warn("Failed to persist score history",
				"entity_id", entityID,
				"profile_id", profile.ID,
				"error", err)
		}

		a.logger.ScoreLogger(entityID, profile.ID, score.Value, score.Partial, false, time.Since(start))
		return &score, nil
	}

	return a.cache.GetOrCompute(ctx, entityID, profile.ID, generation, compute)
}

// ScoreFor implements ranker.ScoreSource over the cached scoring path.
func (a *application) ScoreFor(ctx context.Context, entityID, profileID string) (*scoring.Score, error) {
	profile, err := a.profiles.Get(ctx, profileID)
	if err != nil {
		return nil, err
	}
	score, _, err := a.scoreEntity(ctx, entityID, profile, false)
	return score, err
}

func (a *application) handleScore(c *gin.Context) {
	var req types.ScoreRequest
	if err := c.BindJSON(&req); err != nil {
		a.respondError(c, apperrors.NewValidationError("invalid request body: "+err.Error()))
		return
	}

	profile, err := a.profiles.Resolve(c.Request.Context(), req.Profile)
	if err != nil {
		a.respondError(c, err)
		return
	}

	score, cached, err := a.scoreEntity(c.Request.Context(), req.EntityID, profile, req.Force)
	if err != nil {
		a.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, types.ScoreResponse{
		EntityID:      score.EntityID,
		ProfileID:     score.ProfileID,
		Value:         score.Value,
		Partial:       score.Partial,
		Warnings:      score.Warnings,
		Contributions: score.Contributions,
		Cached:        cached,
		ComputedAt:    score.ComputedAt,
	})
}

func (a *application) handleRecommend(c *gin.Context) {
	var req types.RecommendRequest
	if err := c.BindJSON(&req); err != nil {
		a.respondError(c, apperrors.NewValidationError("invalid request body: "+err.Error()))
		return
	}
	if req.MaxResults <= 0 {
		a.respondError(c, apperrors.NewValidationError("max_results must be positive"))
		return
	}

	profile, err := a.profiles.Resolve(c.Request.Context(), req.Profile)
	if err != nil {
		a.respondError(c, err)
		return
	}

	start := time.Now()
	recommendations, err := a.ranker.Rank(c.Request.Context(), ranker.Request{
		ProfileID:  profile.ID,
		SubjectID:  req.SubjectID,
		Candidates: req.Candidates,
		Exclude:    req.Exclude,
		MaxResults: req.MaxResults,
	})
	if err != nil {
		a.respondError(c, err)
		return
	}

	a.metrics.IncrementRecommendationRun()
	a.logger.RankLogger(profile.ID, len(req.Candidates), len(recommendations), time.Since(start))

	c.JSON(http.StatusOK, types.RecommendResponse{
		ProfileID:       profile.ID,
		Recommendations: recommendations,
	})
}

func (a *application) handleUpdateSignals(c *gin.Context) {
	entityID := c.Param("entity")

	var req types.SignalUpdateRequest
	if err := c.BindJSON(&req); err != nil {
		a.respondError(c, apperrors.NewValidationError("invalid request body: "+err.Error()))
		return
	}
	if len(req.Signals) == 0 {
		a.respondError(c, apperrors.NewValidationError("at least one signal is required"))
		return
	}

	var generation int64
	for name, value := range req.Signals {
		gen, err := a.store.UpsertSignal(c.Request.Context(), entityID, name, value)
		if err != nil {
			a.respondError(c, apperrors.NewInternalError("failed to store signal", err))
			return
		}
		generation = gen
	}

	// Cached scores for this entity are stale now.
	a.cache.InvalidateEntity(entityID)

	c.JSON(http.StatusOK, types.SignalUpdateResponse{
		EntityID:   entityID,
		Updated:    len(req.Signals),
		Generation: generation,
	})
}

func (a *application) handleGetSignals(c *gin.Context) {
	entityID := c.Param("entity")

	signals, err := a.store.GetSignals(c.Request.Context(), entityID)
	if err != nil {
		a.respondError(c, apperrors.NewInternalError("failed to load signals", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entity_id": entityID,
		"signals":   signals,
	})
}

func (a *application) handleScoreHistory(c *gin.Context) {
	entityID := c.Param("entity")
	profileRef := c.Query("profile")
	if profileRef == "" {
		a.respondError(c, apperrors.NewValidationError("profile query parameter is required"))
		return
	}

	limit := 20
	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	profile, err := a.profiles.Resolve(c.Request.Context(), profileRef)
	if err != nil {
		a.respondError(c, err)
		return
	}

	history, err := a.store.ScoreHistory(c.Request.Context(), entityID, profile.ID, limit)
	if err != nil {
		a.respondError(c, apperrors.NewInternalError("failed to load score history", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entity_id":  entityID,
		"profile_id": profile.ID,
		"scores":     history,
	})
}

func (a *application) handlePublishProfile(c *gin.Context) {
	var profile scoring.Profile
	if err := c.BindJSON(&profile); err != nil {
		a.respondError(c, apperrors.NewValidationError("invalid request body: "+err.Error()))
		return
	}

	stored, err := a.profiles.Publish(c.Request.Context(), profile)
	if err != nil {
		a.respondError(c, err)
		return
	}

	slog.Info("Profile published",
		"profile_id", stored.ID,
		"name", stored.Name,
		"version", stored.Version,
		"signals", len(stored.Signals))

	c.JSON(http.StatusCreated, stored)
}

func (a *application) handleGetProfile(c *gin.Context) {
	profile, err := a.profiles.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (a *application) handleListProfiles(c *gin.Context) {
	list, err := a.profiles.List(c.Request.Context())
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profiles": list})
}

func (a *application) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"timestamp":      time.Now().Format(time.RFC3339),
		"uptime_seconds": time.Since(a.started).Seconds(),
		"cache":          a.cache.Stats(),
	})
}

func (a *application) respondError(c *gin.Context, err error) {
	appErr := apperrors.ToAppError(err)
	apperrors.LogError(c, appErr)
	c.JSON(appErr.HTTPStatus, types.ErrorResponse{
		Error:    appErr.Error(),
		Category: string(appErr.Category),
	})
}

// requestTimeout bounds every request so a stuck signal source cannot
// hold connections open indefinitely.
func requestTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
