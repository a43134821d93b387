package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/wolfman30/patient-capture/internal/locations"
)

// Config holds application configuration
type Config struct {
	Env      string
	LogLevel string
	APIHost  string
	APIPort  string

	// Lookup API. APIReadSource is "postgres" or "log".
	APIReadSource      string
	CORSAllowedOrigins []string
	APIRateLimit       float64
	APIRateBurst       int

	// Postgres. DatabaseURL wins over the discrete DB_* settings.
	DatabaseURL string
	DBHost      string
	DBPort      string
	DBName      string
	DBUser      string
	DBPassword  string

	// Queue portal / browser sidecar
	QueueURL          string
	BrowserSidecarURL string
	BrowserHeadless   bool
	BrowserTimeout    time.Duration

	// Persistence
	PatientLogPath string

	// Reconciliation
	MinWait         time.Duration
	MaxWait         time.Duration
	SweepInterval   time.Duration
	UIPollInterval  time.Duration
	DedupeWindow    time.Duration
	CandidateBuffer int

	ShutdownTimeout time.Duration
	MetricsEnabled  bool
	// MetricsAddr is where the monitor serves /metrics.
	MetricsAddr string

	// Redis backs the submission dedupe tracker when set.
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// S3 raw payload audit archive
	AuditBucket         string
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
}

// LoadDotEnv loads a .env file from the working directory when present.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		APIHost:  getEnv("API_HOST", "0.0.0.0"),
		APIPort:  getEnv("API_PORT", "8000"),

		APIReadSource:      strings.ToLower(getEnv("API_READ_SOURCE", "postgres")),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		APIRateLimit:       getEnvAsFloat("API_RATE_LIMIT", 0),
		APIRateBurst:       getEnvAsInt("API_RATE_BURST", 10),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBPort:      getEnv("DB_PORT", "5432"),
		DBName:      getEnv("DB_NAME", "solvhealth_patients"),
		DBUser:      getEnv("DB_USER", "postgres"),
		DBPassword:  getEnv("DB_PASSWORD", ""),

		QueueURL:          strings.TrimSpace(getEnv("SOLVHEALTH_QUEUE_URL", "")),
		BrowserSidecarURL: strings.TrimRight(getEnv("BROWSER_SIDECAR_URL", "http://localhost:3000"), "/"),
		BrowserHeadless:   getEnvAsBool("BROWSER_HEADLESS", false),
		BrowserTimeout:    getEnvAsDuration("BROWSER_TIMEOUT", 30*time.Second),

		PatientLogPath: getEnv("PATIENT_LOG_PATH", "patient_data.json"),

		MinWait:             getEnvAsDuration("RECONCILE_MIN_WAIT", 3*time.Second),
		MaxWait:             getEnvAsDuration("RECONCILE_MAX_WAIT", 2*time.Minute),
		SweepInterval:       getEnvAsDuration("RECONCILE_SWEEP_INTERVAL", time.Second),
		UIPollInterval:      getEnvAsDuration("UI_POLL_INTERVAL", 5*time.Second),
		DedupeWindow:        getEnvAsDuration("SUBMISSION_DEDUPE_WINDOW", 10*time.Second),
		CandidateBuffer:     getEnvAsInt("CANDIDATE_BUFFER", 64),
		ShutdownTimeout:     getEnvAsDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		MetricsEnabled:      getEnvAsBool("METRICS_ENABLED", true),
		MetricsAddr:         getEnv("METRICS_ADDR", ":9102"),
		RedisAddr:           getEnv("REDIS_ADDR", ""),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisTLS:            getEnvAsBool("REDIS_TLS", false),
		AuditBucket:         getEnv("AUDIT_ARCHIVE_BUCKET", ""),
		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
	}
}

// DSN returns the Postgres connection string.
func (c *Config) DSN() string {
	if strings.TrimSpace(c.DatabaseURL) != "" {
		return c.DatabaseURL
	}
	u := &url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.DBHost, c.DBPort),
		Path:   "/" + c.DBName,
	}
	if c.DBPassword != "" {
		u.User = url.UserPassword(c.DBUser, c.DBPassword)
	} else {
		u.User = url.User(c.DBUser)
	}
	return u.String()
}

// APIAddr is the listen address for the lookup API.
func (c *Config) APIAddr() string {
	return net.JoinHostPort(c.APIHost, c.APIPort)
}

// LocationID returns the location selected by the queue URL.
func (c *Config) LocationID() string {
	id, _ := locations.FromURL(c.QueueURL)
	return id
}

// Validate checks the settings the monitor cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.QueueURL == "" {
		errs = append(errs, errors.New("SOLVHEALTH_QUEUE_URL is required"))
	} else if _, ok := locations.FromURL(c.QueueURL); !ok {
		errs = append(errs, fmt.Errorf("SOLVHEALTH_QUEUE_URL must carry a location_ids parameter, e.g. %s", locations.QueueURL("AXjwbE")))
	}
	if c.MaxWait <= 0 {
		errs = append(errs, errors.New("RECONCILE_MAX_WAIT must be positive"))
	}
	if c.MinWait < 0 || c.MinWait >= c.MaxWait {
		errs = append(errs, errors.New("RECONCILE_MIN_WAIT must be in [0, RECONCILE_MAX_WAIT)"))
	}
	if strings.TrimSpace(c.PatientLogPath) == "" {
		errs = append(errs, errors.New("PATIENT_LOG_PATH is required"))
	}
	return errors.Join(errs...)
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
