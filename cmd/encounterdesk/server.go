package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/wildbook/encounterdesk/internal/config"
	"github.com/wildbook/encounterdesk/internal/domain/encounter"
	"github.com/wildbook/encounterdesk/internal/domain/ia"
	"github.com/wildbook/encounterdesk/internal/domain/search"
	"github.com/wildbook/encounterdesk/internal/domain/sitesettings"
	"github.com/wildbook/encounterdesk/internal/platform/db"
	"github.com/wildbook/encounterdesk/internal/platform/middleware"
	"github.com/wildbook/encounterdesk/internal/platform/websocket"
)

const (
	apiPrefix       = "/api/v3"
	eventsPath      = apiPrefix + "/events/ws"
	requestTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

// backend holds everything the HTTP layer routes to.
type backend struct {
	encounters *encounter.Service
	search     *search.Service
	ia         *ia.Service
	settings   *sitesettings.Store
	hub        *websocket.Hub
	health     echo.HandlerFunc
}

func runServer() error {
	logger := newLogger(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.ValidateServer(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	hub := websocket.NewHub(logger)

	encounterSvc := encounter.NewService(encounter.NewRepo(pool), pool, logger)
	encounterSvc.SetPublisher(hub)
	iaSvc := ia.NewService(ia.NewRepo(pool), logger)
	iaSvc.SetPublisher(hub)

	e := newServer(cfg, logger, backend{
		encounters: encounterSvc,
		search:     search.NewService(search.NewRepo(pool), logger),
		ia:         iaSvc,
		settings:   sitesettings.NewStore(cfg.SiteSettingsFile),
		hub:        hub,
		health:     db.HealthHandler(pool, func() *db.PoolStats { return db.GetPoolStats(pool) }),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer builds the echo instance with the middleware chain and every
// route mounted.
func newServer(cfg *config.Config, logger zerolog.Logger, b backend) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:  []string{"Content-Type", "X-Request-ID", "If-None-Match"},
		ExposeHeaders: []string{"ETag", "X-Request-ID"},
	}))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.Sanitize(logger))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(requestTimeout, eventsPath))
	e.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}, "/health"))
	e.Use(middleware.Conditional(eventsPath))

	if b.health != nil {
		e.GET("/health", b.health)
	}

	api := e.Group(apiPrefix)
	encounter.NewHandler(b.encounters).RegisterRoutes(api)
	search.NewHandler(b.search).RegisterRoutes(api)
	ia.NewHandler(b.ia).RegisterRoutes(e, api)
	sitesettings.NewHandler(b.settings).RegisterRoutes(api)
	websocket.NewHandler(b.hub, cfg.CORSOrigins).RegisterRoutes(api)

	return e
}
