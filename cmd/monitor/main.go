package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/patient-capture/cmd/mainconfig"
	"github.com/wolfman30/patient-capture/internal/app/bootstrap"
	"github.com/wolfman30/patient-capture/internal/archive"
	"github.com/wolfman30/patient-capture/internal/browser"
	"github.com/wolfman30/patient-capture/internal/capture"
	appconfig "github.com/wolfman30/patient-capture/internal/config"
	"github.com/wolfman30/patient-capture/internal/locations"
	"github.com/wolfman30/patient-capture/internal/monitor"
	"github.com/wolfman30/patient-capture/internal/observability/metrics"
	"github.com/wolfman30/patient-capture/internal/reconcile"
	"github.com/wolfman30/patient-capture/internal/watch"
	"github.com/wolfman30/patient-capture/pkg/logging"
)

func main() {
	appconfig.LoadDotEnv()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("monitor stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("monitor stopped")
}

func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) error {
	locationID := cfg.LocationID()
	logger.Info("starting queue monitor",
		"env", cfg.Env,
		"location_id", locationID,
		"location_name", locations.DisplayName(locationID),
		"sidecar", cfg.BrowserSidecarURL,
		"min_wait", cfg.MinWait.String(),
		"max_wait", cfg.MaxWait.String(),
	)

	reconcileMetrics := metrics.NewReconcileMetrics(nil)
	if cfg.MetricsEnabled {
		srv := startMetricsServer(cfg.MetricsAddr, logger)
		defer shutdown(srv, cfg.ShutdownTimeout, logger)
	}

	pool := bootstrap.ConnectPostgres(ctx, cfg.DSN(), logger)
	if pool != nil {
		defer pool.Close()
	}

	arch, err := buildArchive(ctx, cfg, logger)
	if err != nil {
		return err
	}
	sink, _, err := bootstrap.BuildSink(cfg, pool, arch, reconcileMetrics, logger)
	if err != nil {
		return err
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}

	session, err := reconcile.NewSession(reconcile.SessionConfig{
		Set: reconcile.NewPendingSet(reconcile.PendingSetConfig{
			MinWait: cfg.MinWait,
			MaxWait: cfg.MaxWait,
		}),
		Sink:            sink,
		Logger:          logger,
		Metrics:         reconcileMetrics,
		CandidateBuffer: cfg.CandidateBuffer,
		SweepInterval:   cfg.SweepInterval,
	})
	if err != nil {
		return err
	}

	detector, err := capture.NewDetector(capture.DetectorConfig{
		Tracker:      bootstrap.BuildTracker(redisClient, logger),
		Submitter:    session,
		Logger:       logger,
		Metrics:      reconcileMetrics,
		DedupeWindow: cfg.DedupeWindow,
		LocationID:   locationID,
	})
	if err != nil {
		return err
	}

	rt, err := monitor.New(monitor.Config{
		Sidecar:        browser.NewClient(cfg.BrowserSidecarURL, browser.WithLogger(logger)),
		Session:        session,
		Detector:       detector,
		Traffic:        watch.NewTrafficWatcher(logger),
		Logger:         logger,
		QueueURL:       cfg.QueueURL,
		Headless:       cfg.BrowserHeadless,
		BrowserTimeout: cfg.BrowserTimeout,
		UIPollInterval: cfg.UIPollInterval,
		StopTimeout:    cfg.ShutdownTimeout,
	})
	if err != nil {
		return err
	}

	err = rt.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func buildArchive(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*archive.Store, error) {
	if cfg.AuditBucket == "" {
		return bootstrap.BuildArchive(nil, cfg, logger), nil
	}
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	logger.Info("raw payload archive enabled", "bucket", cfg.AuditBucket)
	return bootstrap.BuildArchive(bootstrap.BuildS3Client(awsCfg, cfg), cfg, logger), nil
}

func startMetricsServer(addr string, logger *logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	return srv
}

func shutdown(srv *http.Server, timeout time.Duration, logger *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("metrics server shutdown", "error", err)
	}
}
