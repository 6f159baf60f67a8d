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
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/census/internal/config"
	"github.com/ehr/census/internal/domain/census"
	"github.com/ehr/census/internal/domain/episode"
	"github.com/ehr/census/internal/platform/auth"
	"github.com/ehr/census/internal/platform/db"
	"github.com/ehr/census/internal/platform/hipaa"
	"github.com/ehr/census/internal/platform/metrics"
	"github.com/ehr/census/internal/platform/middleware"
	"github.com/ehr/census/internal/platform/websocket"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "census",
		Short:        "Patient census roster and trend engine",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(rosterCmd())
	rootCmd.AddCommand(trendCmd())
	rootCmd.AddCommand(episodesCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(auditCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the census API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// loadConfig reads and validates configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, out *os.File) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(out)
	}
	return logger.Level(cfg.Level()).With().Timestamp().Logger()
}

// newService builds a census service from cfg. m may be nil.
func newService(cfg *config.Config, logger zerolog.Logger, m *metrics.CensusMetrics) (*census.Service, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	builder := &episode.Builder{
		GapDays:           cfg.EpisodeGapDays,
		TelemedicineClass: cfg.TelemedicineClass,
	}
	svc := census.NewService(census.NewEngine(builder), census.ServiceConfig{
		WindowDays: cfg.TrendWindowDays,
		Location:   loc,
	}, logger)
	svc.SetMetrics(m)
	return svc, nil
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stdout)
	if cfg.IsDev() {
		logger.Warn().Msg("running in development mode: requests without a token are treated as admin")
	}

	ctx := context.Background()

	var pool *pgxpool.Pool
	if cfg.HasDatabase() {
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Error().Err(err).Msg("failed to connect to database")
			return err
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")
	} else {
		logger.Info().Msg("DATABASE_URL not set; serving uploads only")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc, err := newService(cfg, logger, metrics.NewCensusMetrics(reg))
	if err != nil {
		return err
	}
	deps := serverDeps{gatherer: reg}
	if pool != nil {
		svc.SetSource(census.NewSourceRepoPG(pool))
		deps.pinger = pool
		deps.access = hipaa.NewAccessLog(pool)
	}

	e := newServer(cfg, logger, svc, deps)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

// serverDeps are the optional collaborators of the HTTP server. pinger and
// access are nil when no database is configured.
type serverDeps struct {
	pinger   db.Pinger
	access   *hipaa.AccessLog
	gatherer prometheus.Gatherer
}

func newServer(cfg *config.Config, logger zerolog.Logger, svc *census.Service, deps serverDeps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost},
		AllowHeaders:  []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposeHeaders: []string{echo.HeaderContentDisposition, middleware.RequestIDHeader},
	}))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.MaxUploadSize))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if deps.pinger != nil {
		e.GET("/health/db", db.HealthHandler(deps.pinger))
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.gatherer, promhttp.HandlerOpts{})))

	var authMW echo.MiddlewareFunc
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware()
	} else {
		authMW = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		})
	}

	hub := websocket.NewHub(logger)
	svc.SetFeed(hub)

	var recorders []middleware.AuditRecorder
	if deps.access != nil {
		recorders = append(recorders, deps.access)
	}

	apiV1 := e.Group("/api/v1", authMW, middleware.Audit(logger, recorders...))
	h := census.NewHandler(svc)
	h.SetFeed(websocket.NewHandler(hub, cfg.CORSOrigins))
	h.RegisterRoutes(apiV1)
	if deps.access != nil {
		hipaa.NewAccessHandler(deps.access).RegisterRoutes(apiV1)
	}

	return e
}
