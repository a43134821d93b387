// Package bootstrap builds the shared runtime dependencies for the binaries.
package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/patient-capture/internal/archive"
	"github.com/wolfman30/patient-capture/internal/capture"
	appconfig "github.com/wolfman30/patient-capture/internal/config"
	"github.com/wolfman30/patient-capture/internal/observability/metrics"
	"github.com/wolfman30/patient-capture/internal/store"
	"github.com/wolfman30/patient-capture/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildTracker returns the Redis submission tracker, or the in-memory one when
// Redis is not configured. Several monitors share dedupe only through Redis.
func BuildTracker(redisClient *redis.Client, logger *logging.Logger) capture.Tracker {
	if logger == nil {
		logger = logging.Default()
	}
	if redisClient == nil {
		logger.Info("submission dedupe in memory")
		return capture.NewMemoryTracker()
	}
	logger.Info("submission dedupe in redis")
	return capture.NewRedisTracker(redisClient)
}

// ConnectPostgres opens and pings a pool. It returns nil when dsn is empty or
// the database cannot be reached, so callers can run on the JSON log alone.
func ConnectPostgres(ctx context.Context, dsn string, logger *logging.Logger) *pgxpool.Pool {
	if strings.TrimSpace(dsn) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		logger.Warn("postgres config invalid", "error", err)
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Warn("postgres not available", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

// BuildS3Client returns an S3 client. A custom endpoint (LocalStack, MinIO)
// switches to path-style addressing.
func BuildS3Client(awsCfg aws.Config, cfg *appconfig.Config) *s3.Client {
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg != nil && cfg.AWSEndpointOverride != "" {
			o.UsePathStyle = true
		}
	})
}

// BuildArchive returns the raw payload archive. It is disabled when no bucket
// is configured.
func BuildArchive(client archive.S3API, cfg *appconfig.Config, logger *logging.Logger) *archive.Store {
	bucket := ""
	if cfg != nil {
		bucket = strings.TrimSpace(cfg.AuditBucket)
	}
	if client == nil {
		bucket = ""
	}
	return archive.NewStore(client, bucket, logger)
}

// BuildSink wires the JSON log with the optional database and archive.
func BuildSink(cfg *appconfig.Config, pool *pgxpool.Pool, arch *archive.Store, m *metrics.ReconcileMetrics, logger *logging.Logger) (*store.Sink, *store.JSONLog, error) {
	jsonLog := store.NewJSONLog(cfg.PatientLogPath, logger)
	sinkCfg := store.SinkConfig{
		Log:     jsonLog,
		Logger:  logger,
		Metrics: m,
	}
	if pool != nil {
		sinkCfg.DB = store.NewPostgresRepository(pool)
	} else if logger != nil {
		logger.Warn("postgres disabled, records go to the json log only", "path", cfg.PatientLogPath)
	}
	if arch != nil && arch.Enabled() {
		sinkCfg.Archive = arch
	}
	sink, err := store.NewSink(sinkCfg)
	if err != nil {
		return nil, nil, err
	}
	return sink, jsonLog, nil
}
