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
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic/internal/config"
	"github.com/clinicdesk/clinic/internal/domain/billing"
	"github.com/clinicdesk/clinic/internal/domain/directory"
	"github.com/clinicdesk/clinic/internal/domain/followup"
	"github.com/clinicdesk/clinic/internal/domain/sequence"
	"github.com/clinicdesk/clinic/internal/domain/treatment"
	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/internal/platform/cache"
	"github.com/clinicdesk/clinic/internal/platform/clock"
	"github.com/clinicdesk/clinic/internal/platform/db"
	"github.com/clinicdesk/clinic/internal/platform/logging"
	"github.com/clinicdesk/clinic/internal/platform/middleware"
	"github.com/clinicdesk/clinic/internal/platform/validate"
)

const version = "0.1.0"

func runServer() error {
	// Config
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Logger
	logger := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		Pretty:  cfg.IsDev(),
		File:    cfg.LogFile,
		Service: "clinic-server",
	})

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Sequences
	gen, closeGen, err := newGenerator(ctx, cfg, pool, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up sequence backend")
	}
	defer closeGen()

	e, err := newRouter(cfg, logger, pool, gen, clock.System())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build router")
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
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
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newGenerator picks the counter store named by SEQUENCE_BACKEND. The
// returned func releases any connection it opened.
func newGenerator(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (sequence.Generator, func(), error) {
	noop := func() {}
	switch cfg.SequenceBackend {
	case "postgres":
		return sequence.NewPGGenerator(pool), noop, nil
	case "redis":
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, noop, err
		}
		logger.Info().Msg("using redis sequence backend")
		return sequence.NewRedisGenerator(client), func() { _ = client.Close() }, nil
	case "memory":
		logger.Warn().Msg("using in-memory sequence backend; counters reset on restart")
		return sequence.NewMemoryGenerator(), noop, nil
	}
	return nil, noop, fmt.Errorf("unknown sequence backend %q", cfg.SequenceBackend)
}

func newRouter(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, gen sequence.Generator, clk clock.Clock) (*echo.Echo, error) {
	scheme, err := sequence.ParseInvoiceScheme(cfg.InvoiceIDScheme)
	if err != nil {
		return nil, err
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validate.NewValidator()

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Auth middleware
	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() && cfg.JWTSecret == "" {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			SigningKey: []byte(cfg.JWTSecret),
		}))
	}

	// Audit middleware
	apiV1.Use(middleware.Audit(logger))

	minter := sequence.NewMinter(gen, clk, scheme)
	tx := db.NewTransactor(pool)

	// Directory
	dirSvc := directory.NewService(directory.NewRepoPG(pool), tx, minter, clk, logger)
	directory.NewHandler(dirSvc).RegisterRoutes(apiV1)

	// Billing
	billingCfg := billing.Config{TaxRate: cfg.TaxRate(), DueDays: cfg.BillingDueDays}
	billingSvc := billing.NewService(billing.NewInvoiceRepoPG(pool), dirSvc, tx, minter, clk, billingCfg, logger)
	billing.NewHandler(billingSvc).RegisterRoutes(apiV1)

	// Follow-ups
	followSvc := followup.NewService(followup.NewRepoPG(pool), dirSvc, tx, minter, clk, logger)
	followup.NewHandler(followSvc).RegisterRoutes(apiV1)

	// Treatments
	treatmentSvc := treatment.NewService(treatment.NewRepoPG(pool), dirSvc, minter, clk, logger)
	treatment.NewHandler(treatmentSvc).RegisterRoutes(apiV1)

	return e, nil
}
