package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"ENV", "LOG_LEVEL", "API_PORT", "DATABASE_URL", "DB_HOST", "DB_PASSWORD", "SOLVHEALTH_QUEUE_URL", "RECONCILE_MIN_WAIT", "RECONCILE_MAX_WAIT", "REDIS_ADDR", "AUDIT_ARCHIVE_BUCKET"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.APIPort != "8000" {
		t.Fatalf("expected default api port, got %s", cfg.APIPort)
	}
	if cfg.MinWait != 3*time.Second {
		t.Fatalf("expected default min wait, got %s", cfg.MinWait)
	}
	if cfg.MaxWait != 2*time.Minute {
		t.Fatalf("expected default max wait, got %s", cfg.MaxWait)
	}
	if cfg.UIPollInterval != 5*time.Second {
		t.Fatalf("expected default ui poll interval, got %s", cfg.UIPollInterval)
	}
	if cfg.PatientLogPath != "patient_data.json" {
		t.Fatalf("expected default patient log path, got %s", cfg.PatientLogPath)
	}
	if cfg.RedisAddr != "" || cfg.AuditBucket != "" {
		t.Fatalf("expected optional backends disabled by default")
	}
	if got := cfg.DSN(); got != "postgres://postgres@localhost:5432/solvhealth_patients" {
		t.Fatalf("unexpected default dsn %s", got)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("API_HOST", "127.0.0.1")
	t.Setenv("API_PORT", "9090")
	t.Setenv("SOLVHEALTH_QUEUE_URL", " https://manage.solvhealth.com/queue?location_ids=g5rawn ")
	t.Setenv("BROWSER_SIDECAR_URL", "http://sidecar:3000/")
	t.Setenv("BROWSER_HEADLESS", "true")
	t.Setenv("RECONCILE_MIN_WAIT", "1s")
	t.Setenv("RECONCILE_MAX_WAIT", "30s")
	t.Setenv("CANDIDATE_BUFFER", "8")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	cfg := Load()
	if cfg.APIAddr() != "127.0.0.1:9090" {
		t.Fatalf("expected api addr override, got %s", cfg.APIAddr())
	}
	if cfg.BrowserSidecarURL != "http://sidecar:3000" {
		t.Fatalf("expected trailing slash trimmed, got %s", cfg.BrowserSidecarURL)
	}
	if !cfg.BrowserHeadless {
		t.Fatalf("expected headless override")
	}
	if cfg.MinWait != time.Second || cfg.MaxWait != 30*time.Second {
		t.Fatalf("expected wait overrides, got %s/%s", cfg.MinWait, cfg.MaxWait)
	}
	if cfg.CandidateBuffer != 8 {
		t.Fatalf("expected candidate buffer override, got %d", cfg.CandidateBuffer)
	}
	if cfg.LocationID() != "g5rawn" {
		t.Fatalf("expected location from queue url, got %q", cfg.LocationID())
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("CANDIDATE_BUFFER", "lots")
	t.Setenv("RECONCILE_SWEEP_INTERVAL", "soon")
	t.Setenv("BROWSER_HEADLESS", "maybe")
	cfg := Load()
	if cfg.CandidateBuffer != 64 {
		t.Fatalf("expected default buffer, got %d", cfg.CandidateBuffer)
	}
	if cfg.SweepInterval != time.Second {
		t.Fatalf("expected default sweep interval, got %s", cfg.SweepInterval)
	}
	if cfg.BrowserHeadless {
		t.Fatalf("expected headless default false")
	}
}

func TestDSNPrefersDatabaseURL(t *testing.T) {
	cfg := &Config{DatabaseURL: "postgres://user@host/db", DBHost: "ignored"}
	if cfg.DSN() != "postgres://user@host/db" {
		t.Fatalf("expected database url, got %s", cfg.DSN())
	}

	cfg = &Config{DBHost: "db", DBPort: "5433", DBName: "patients", DBUser: "app", DBPassword: "p@ss"}
	if got := cfg.DSN(); got != "postgres://app:p%40ss@db:5433/patients" {
		t.Fatalf("unexpected dsn %s", got)
	}
}

func TestValidateRequiresQueueLocation(t *testing.T) {
	cfg := &Config{MinWait: time.Second, MaxWait: time.Minute, PatientLogPath: "x.json"}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "SOLVHEALTH_QUEUE_URL is required") {
		t.Fatalf("expected missing queue url error, got %v", err)
	}

	cfg.QueueURL = "https://manage.solvhealth.com/queue"
	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "location_ids") {
		t.Fatalf("expected location_ids error, got %v", err)
	}

	cfg.QueueURL = "https://manage.solvhealth.com/queue?location_ids=AXjwbE"
	cfg.MinWait = 2 * time.Minute
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected min wait error")
	}
}

func TestLoadAPISettings(t *testing.T) {
	t.Setenv("API_READ_SOURCE", "LOG")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("API_RATE_LIMIT", "2.5")
	t.Setenv("API_RATE_BURST", "")
	cfg := Load()
	if cfg.APIReadSource != "log" {
		t.Fatalf("expected log read source, got %s", cfg.APIReadSource)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.CORSAllowedOrigins)
	}
	if cfg.APIRateLimit != 2.5 || cfg.APIRateBurst != 10 {
		t.Fatalf("unexpected rate limit %v/%d", cfg.APIRateLimit, cfg.APIRateBurst)
	}
}
