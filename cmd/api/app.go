// AngelaMos | 2026
// app.go

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/carterperez-dev/templates/auth-service/internal/admin"
	"github.com/carterperez-dev/templates/auth-service/internal/auth"
	"github.com/carterperez-dev/templates/auth-service/internal/config"
	"github.com/carterperez-dev/templates/auth-service/internal/core"
	"github.com/carterperez-dev/templates/auth-service/internal/health"
	"github.com/carterperez-dev/templates/auth-service/internal/middleware"
	"github.com/carterperez-dev/templates/auth-service/internal/server"
	"github.com/carterperez-dev/templates/auth-service/internal/user"
	"github.com/carterperez-dev/templates/auth-service/migrations"
)

const (
	drainDelay   = 5 * time.Second
	closeTimeout = 10 * time.Second
)

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	srv     *server.Server
	health  *health.Handler
	closers []closer
}

// build opens every dependency and mounts the routes. Anything opened
// before a failure is closed again before build returns.
func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	telemetry, err := core.NewTelemetry(ctx, cfg.Otel, cfg.App)
	if err != nil {
		logger.Warn("trace export disabled", "error", err)
		telemetry, _ = core.NewTelemetry(ctx, config.OtelConfig{}, cfg.App)
	}
	a.onClose("telemetry", telemetry.Shutdown)

	db, err := core.NewDatabase(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a.onClose("database", func(context.Context) error { return db.Close() })

	if cfg.Database.AutoMigrate {
		if err = migrations.Apply(ctx, db.DB, logger); err != nil {
			return nil, err
		}
	}

	rdb, err := core.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	a.onClose("redis", func(context.Context) error { return rdb.Close() })

	clock := core.SystemClock()

	var tokens auth.Repository
	if cfg.Store.Driver == config.StoreDriverRedis {
		tokens = auth.NewRedisRepository(rdb.Client, cfg.Store.KeyPrefix)
	} else {
		tokens = auth.NewPostgresRepository(db.DB)
	}

	engine := auth.NewRotationEngine(
		tokens,
		auth.RotationConfig{RefreshTTL: cfg.JWT.RefreshTokenExpire},
		auth.WithClock(clock),
		auth.WithLogger(logger),
	)

	jwtManager, err := auth.NewJWTManager(cfg.JWT, clock)
	if err != nil {
		return nil, err
	}

	users := user.NewService(user.NewRepository(db.DB))
	sessions := auth.NewService(engine, jwtManager, users, users, auth.ServiceConfig{
		Retention: cfg.JWT.RefreshTokenRetention,
		Clock:     clock,
	})

	logger.Info("session stack ready",
		"token_store", cfg.Store.Driver,
		"access_ttl", cfg.JWT.AccessTokenExpire,
		"refresh_ttl", cfg.JWT.RefreshTokenExpire,
		"retention", cfg.JWT.RefreshTokenRetention,
	)

	a.health = health.NewHandler(
		health.Check{Name: config.StoreDriverPostgres, Checker: db},
		health.Check{Name: config.StoreDriverRedis, Checker: rdb},
	)
	a.srv = server.New(server.Config{
		ServerConfig:  cfg.Server,
		HealthHandler: a.health,
		Logger:        logger,
	})

	a.mount(rdb, jwtManager, auth.NewHandler(sessions), user.NewHandler(users),
		admin.NewHandler(admin.HandlerConfig{
			Stores:     adminStores(db, rdb),
			TokenStore: cfg.Store.Driver,
			UserCounts: users.CountByRole,
			Sessions:   sessions,
		}),
	)

	return a, nil
}

func (a *app) mount(
	rdb *core.Redis,
	verifier middleware.TokenVerifier,
	sessions *auth.Handler,
	users *user.Handler,
	admins *admin.Handler,
) {
	cfg := a.cfg
	router := a.srv.Router()

	router.Use(
		middleware.RequestID,
		middleware.Tracing(cfg.Otel.ServiceName),
		middleware.Logger(a.logger),
		middleware.NewThrottle(rdb.Client, middleware.Policy{
			Name:  "api",
			Limit: middleware.PerWindow(cfg.RateLimit.Requests, cfg.RateLimit.Burst, cfg.RateLimit.Window),
			Skip:  middleware.IsHealthCheck,
		}, a.logger).Middleware,
		middleware.SecurityHeaders(cfg.IsProduction()),
		middleware.CORS(cfg.CORS),
	)

	a.health.RegisterRoutes(router)

	credentials := middleware.NewThrottle(rdb.Client, middleware.Policy{
		Name:    "credentials",
		Limit:   middleware.PerWindow(cfg.AuthLimit.Requests, cfg.AuthLimit.Burst, cfg.AuthLimit.Window),
		Subject: middleware.CredentialAction,
	}, a.logger)

	authn := middleware.Authenticator(verifier)

	router.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(credentials.Middleware)
			sessions.RegisterRoutes(r, authn)
		})

		users.RegisterRoutes(r, authn)
		users.RegisterAdminRoutes(r, authn, middleware.RequireAdmin)
		admins.RegisterRoutes(r, authn, middleware.RequireAdmin)
	})
}

func adminStores(db *core.Database, rdb *core.Redis) []admin.Store {
	return []admin.Store{
		{
			Name: config.StoreDriverPostgres,
			Ping: db.Ping,
			Pool: func() admin.PoolStats {
				s := db.Stats()
				return admin.PoolStats{Open: s.OpenConnections, Idle: s.Idle, Waits: s.WaitCount}
			},
		},
		{
			Name: config.StoreDriverRedis,
			Ping: rdb.Ping,
			Pool: func() admin.PoolStats {
				s := rdb.PoolStats()
				return admin.PoolStats{
					Open:     int(s.TotalConns),
					Idle:     int(s.IdleConns),
					Timeouts: int64(s.Timeouts),
				}
			},
		},
	}
}

// serve blocks until the listener fails or ctx is cancelled, then drains.
func (a *app) serve(ctx context.Context) error {
	a.health.SetReady(true)

	errc := make(chan error, 1)
	go func() {
		errc <- a.srv.Start()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		a.cfg.Server.ShutdownTimeout+drainDelay,
	)
	defer cancel()

	if err := a.srv.Shutdown(shutdownCtx, drainDelay); err != nil {
		a.logger.Error("server shutdown failed", "error", err)
	}
	return nil
}

func (a *app) onClose(name string, fn func(ctx context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// close releases resources in reverse order of opening.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Error("close failed", "resource", c.name, "error", err)
		}
	}
	a.closers = nil
	a.logger.Info("auth service stopped")
}
