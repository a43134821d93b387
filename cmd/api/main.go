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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/patient-capture/internal/api/router"
	appconfig "github.com/wolfman30/patient-capture/internal/config"
	"github.com/wolfman30/patient-capture/internal/patients"
	"github.com/wolfman30/patient-capture/internal/store"
	"github.com/wolfman30/patient-capture/pkg/logging"
)

const apiVersion = "1.0.0"

func main() {
	appconfig.LoadDotEnv()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting patient lookup API",
		"env", cfg.Env,
		"addr", cfg.APIAddr(),
		"read_source", cfg.APIReadSource,
	)

	repo, closeRepo := buildRepository(context.Background(), cfg, logger)
	defer closeRepo()

	routerCfg := &router.Config{
		Logger:             logger,
		PatientsHandler:    patients.NewHandler(repo, cfg.APIReadSource, apiVersion, logger),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimit:          cfg.APIRateLimit,
		RateBurst:          cfg.APIRateBurst,
	}
	if cfg.MetricsEnabled {
		routerCfg.MetricsHandler = promhttp.Handler()
	}

	srv := &http.Server{
		Addr:         cfg.APIAddr(),
		Handler:      router.New(routerCfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// buildRepository picks the lookup backend. The Postgres pool connects
// lazily so the API starts, and reports 503, while the database is down.
func buildRepository(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (patients.Repository, func()) {
	if cfg.APIReadSource == "log" {
		logger.Info("serving lookups from the json log", "path", cfg.PatientLogPath)
		return patients.NewLogRepository(store.NewJSONLog(cfg.PatientLogPath, logger)), func() {}
	}

	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		logger.Error("postgres config invalid, lookups disabled", "error", err)
		return nil, func() {}
	}
	return patients.NewPostgresRepository(pool), pool.Close
}
