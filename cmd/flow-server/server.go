package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ehr/patientflow/internal/config"
	"github.com/ehr/patientflow/internal/domain/bed"
	"github.com/ehr/patientflow/internal/domain/flow"
	"github.com/ehr/patientflow/internal/domain/queue"
	"github.com/ehr/patientflow/internal/platform/auth"
	"github.com/ehr/patientflow/internal/platform/cache"
	"github.com/ehr/patientflow/internal/platform/db"
	"github.com/ehr/patientflow/internal/platform/metrics"
	"github.com/ehr/patientflow/internal/platform/middleware"
	"github.com/ehr/patientflow/internal/platform/notification"
	"github.com/ehr/patientflow/internal/platform/websocket"
)

// server owns the echo instance and the connections behind it.
type server struct {
	echo    *echo.Echo
	hub     *websocket.Hub
	closers []func()
}

func (s *server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// ledgers holds the repositories and the transaction runner for one storage
// backend.
type ledgers struct {
	beds        bed.BedRepository
	assignments bed.AssignmentRepository
	entries     queue.EntryRepository
	events      queue.EventRepository
	tx          db.TxRunner
	pool        *pgxpool.Pool
}

func openLedgers(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*ledgers, error) {
	if !cfg.UsesPostgres() {
		bedStore := bed.NewMemoryStore()
		queueStore := queue.NewMemoryStore()
		return &ledgers{
			beds:        bedStore.Beds(),
			assignments: bedStore.Assignments(),
			entries:     queueStore.Entries(),
			events:      queueStore.Events(),
			tx:          db.NewMemoryTxRunner(bedStore, queueStore),
		}, nil
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	logger.Info().Msg("connected to database")
	return &ledgers{
		beds:        bed.NewBedRepoPG(pool),
		assignments: bed.NewAssignmentRepoPG(pool),
		entries:     queue.NewEntryRepoPG(pool),
		events:      queue.NewEventRepoPG(pool),
		tx:          db.NewPgTxRunner(pool, cfg.TxRetries, logger),
		pool:        pool,
	}, nil
}

func newServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*server, error) {
	srv := &server{}
	checks := map[string]db.Check{}

	store, err := openLedgers(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if store.pool != nil {
		srv.closers = append(srv.closers, store.pool.Close)
		checks["postgres"] = db.PoolCheck(store.pool)
	}

	// Redis backs both the event channel and the overview cache when present.
	var overviewCache cache.Cache = cache.NewMemory()
	publishers := notification.Fanout{notification.NewLogPublisher(logger)}
	if cfg.RedisURL != "" {
		client, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			srv.Close()
			return nil, err
		}
		srv.closers = append(srv.closers, func() { closeRedis(client, logger) })
		redisCache := cache.NewRedis(client, "")
		checks["redis"] = redisCache.Ping
		overviewCache = redisCache
		publishers = append(publishers, notification.NewRedisPublisher(client, ""))
		logger.Info().Msg("connected to redis")
	}
	srv.hub = websocket.NewHub(logger.With().Str("component", "board_hub").Logger())
	publishers = append(publishers, srv.hub)
	emitter := notification.NewEmitter(publishers, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewRecorder(registry)

	// Services
	bedSvc := bed.NewService(store.beds, store.assignments, store.tx)
	bedSvc.SetEmitter(emitter)
	bedSvc.SetMetrics(recorder)
	bedSvc.SetLogger(logger.With().Str("component", "beds").Logger())

	queueSvc := queue.NewService(store.entries, store.events, store.tx)
	queueSvc.SetMetrics(recorder)
	queueSvc.SetLogger(logger.With().Str("component", "queue").Logger())
	queueSvc.SetThresholds(queue.Thresholds{
		WarnMinutes:     cfg.WaitWarnMinutes,
		CriticalMinutes: cfg.WaitCriticalMinutes,
	})

	coord := flow.NewCoordinator(bedSvc, queueSvc, store.tx)
	coord.SetEmitter(emitter)
	coord.SetMetrics(recorder)
	coord.SetLogger(logger.With().Str("component", "flow").Logger())
	coord.SetCache(overviewCache, cfg.OverviewCacheTTL)
	coord.SetOccupancyHigh(cfg.OccupancyHighPct)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	// Infrastructure endpoints
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "storage": cfg.Storage})
	})
	e.GET("/health/db", db.HealthHandler(checks))
	e.GET("/metrics", metrics.Handler(registry))
	websocket.NewHandler(srv.hub, cfg.CORSOrigins).RegisterRoutes(e)

	apiV1 := e.Group("/api/v1")
	rateLimit := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rateLimit.RequestsPerSecond = cfg.RateLimitRPS
		rateLimit.BurstSize = cfg.RateLimitBurst
	}
	apiV1.Use(middleware.RateLimit(rateLimit))
	if store.pool != nil {
		apiV1.GET("/admin/db-pool", db.PoolStatsHandler(store.pool), auth.RequireRole(auth.RoleAdmin))
	}

	bed.NewHandler(bedSvc).RegisterRoutes(apiV1)
	queue.NewHandler(queueSvc, cfg.SLAWindow).RegisterRoutes(apiV1)
	flow.NewHandler(coord).RegisterRoutes(apiV1)

	srv.echo = e
	return srv, nil
}

func closeRedis(client *redis.Client, logger zerolog.Logger) {
	if err := client.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close redis client")
	}
}
