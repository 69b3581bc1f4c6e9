package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/caredispatch/internal/config"
	"github.com/ehr/caredispatch/internal/domain/admission"
	"github.com/ehr/caredispatch/internal/domain/dispatch"
	"github.com/ehr/caredispatch/internal/domain/fleet"
	"github.com/ehr/caredispatch/internal/domain/handover"
	"github.com/ehr/caredispatch/internal/domain/incident"
	"github.com/ehr/caredispatch/internal/domain/ward"
	"github.com/ehr/caredispatch/internal/platform/auth"
	"github.com/ehr/caredispatch/internal/platform/db"
	"github.com/ehr/caredispatch/internal/platform/metrics"
	"github.com/ehr/caredispatch/internal/platform/middleware"
	"github.com/ehr/caredispatch/internal/platform/notification"
	"github.com/ehr/caredispatch/internal/platform/reporting"
	"github.com/ehr/caredispatch/internal/platform/websocket"
)

const version = "0.1.0"

// stores is one backend's set of repositories sharing a transactor.
type stores struct {
	vehicles   fleet.VehicleRepository
	wards      ward.WardRepository
	beds       ward.BedRepository
	incidents  incident.Repository
	admissions admission.Repository
	tx         db.Transactor
	pinger     db.Pinger
}

func memoryStores(cfg *config.Config, logger zerolog.Logger) stores {
	return stores{
		vehicles:   fleet.NewMemoryVehicleRepo(),
		wards:      ward.NewMemoryWardRepo(),
		beds:       ward.NewMemoryBedRepo(),
		incidents:  incident.NewMemoryRepo(),
		admissions: admission.NewMemoryRepo(),
		tx:         db.NewLocalTransactor(cfg.TxMaxRetries, logger),
		pinger:     db.MemoryPinger{},
	}
}

func postgresStores(pool *pgxpool.Pool, cfg *config.Config, logger zerolog.Logger) stores {
	return stores{
		vehicles:   fleet.NewVehicleRepoPG(pool),
		wards:      ward.NewWardRepoPG(pool),
		beds:       ward.NewBedRepoPG(pool),
		incidents:  incident.NewRepoPG(pool),
		admissions: admission.NewRepoPG(pool),
		tx:         db.NewPgTransactor(pool, cfg.TxMaxRetries, logger),
		pinger:     pool,
	}
}

type services struct {
	fleet      *fleet.Service
	wards      *ward.Service
	incidents  *incident.Service
	dispatch   *dispatch.Service
	handover   *handover.Service
	admissions *admission.Service
}

func newServices(st stores, n notification.Notifier, logger zerolog.Logger) *services {
	fl := fleet.NewService(st.vehicles, st.tx)
	fl.SetLogger(logger.With().Str("component", "fleet").Logger())
	fl.SetNotifier(n)

	wd := ward.NewService(st.wards, st.beds, st.tx)
	wd.SetLogger(logger.With().Str("component", "ward").Logger())
	wd.SetNotifier(n)

	inc := incident.NewService(st.incidents, fl, st.tx)
	inc.SetLogger(logger.With().Str("component", "incident").Logger())

	dp := dispatch.NewService(inc, fl)
	dp.SetLogger(logger.With().Str("component", "dispatch").Logger())
	dp.SetNotifier(n)

	ho := handover.NewService(inc)
	ho.SetLogger(logger.With().Str("component", "handover").Logger())
	ho.SetNotifier(n)

	adm := admission.NewService(st.admissions, wd, inc, st.tx)
	adm.SetLogger(logger.With().Str("component", "admission").Logger())

	return &services{fleet: fl, wards: wd, incidents: inc, dispatch: dp, handover: ho, admissions: adm}
}

type app struct {
	echo     *echo.Echo
	pool     *pgxpool.Pool
	notifier *notification.Manager
	signals  *websocket.Hub
	services *services
}

// newApp opens the configured store and notification backend and mounts
// every route. Close releases both.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{}

	var st stores
	switch cfg.StoreBackend {
	case config.BackendMemory:
		st = memoryStores(cfg, logger)
	default:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.pool = pool
		st = postgresStores(pool, cfg, logger)
		logger.Info().Msg("connected to database")
	}

	mgr, err := notification.New(ctx, notification.Options{
		Backend:  cfg.NotifyBackend,
		RedisURL: cfg.RedisURL,
		NatsURL:  cfg.NatsURL,
		Prefix:   cfg.NotifySubject,
	}, logger.With().Str("component", "notification").Logger())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("notification backend: %w", err)
	}
	a.notifier = mgr
	a.signals = websocket.NewHub(logger.With().Str("component", "websocket").Logger())
	mgr.Observe(a.signals)
	a.services = newServices(st, mgr, logger)
	a.echo = newRouter(cfg, logger, st, a)
	return a, nil
}

func (a *app) Close() {
	if a.notifier != nil {
		_ = a.notifier.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	switch cfg.ResolvedAuthMode() {
	case "development":
		return auth.DevAuthMiddleware()
	case "shared":
		return auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		})
	default:
		return auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		})
	}
}

func newRouter(cfg *config.Config, logger zerolog.Logger, st stores, a *app) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(echomw.BodyLimit("1M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))
	e.Use(middleware.SecurityHeaders())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(st.pinger, cfg.StoreBackend))
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	apiV1 := e.Group("/api/v1")
	apiV1.Use(authMiddleware(cfg))
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	var recorders []middleware.AuditRecorder
	if a.pool != nil {
		apiV1.Use(db.TenantMiddleware(a.pool, cfg.DefaultTenant))
		recorders = append(recorders, middleware.NewPgAuditRecorder(a.pool))
	}
	apiV1.Use(middleware.Audit(logger, recorders...))

	svc := a.services
	fleet.NewHandler(svc.fleet).RegisterRoutes(apiV1)
	ward.NewHandler(svc.wards).RegisterRoutes(apiV1)
	incident.NewHandler(svc.incidents).RegisterRoutes(apiV1)
	dispatch.NewHandler(svc.dispatch).RegisterRoutes(apiV1)
	handover.NewHandler(svc.handover).RegisterRoutes(apiV1)
	admission.NewHandler(svc.admissions).RegisterRoutes(apiV1)

	ops := auth.RequireRole(auth.RoleDispatcher, auth.RoleFleetManager)
	notification.NewHandler(a.notifier).RegisterRoutes(apiV1, ops)
	websocket.NewHandler(a.signals).RegisterRoutes(apiV1)
	if a.pool != nil {
		reporting.NewHandler(a.pool).RegisterRoutes(apiV1)
	}

	return e
}
