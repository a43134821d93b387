package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	httpmiddleware "github.com/wolfman30/patient-capture/internal/http/middleware"
	"github.com/wolfman30/patient-capture/internal/patients"
	"github.com/wolfman30/patient-capture/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	PatientsHandler    *patients.Handler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// Lookups per second per client; zero disables limiting.
	RateLimit float64
	RateBurst int
}

// New creates a Chi router serving patient lookups.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	h := cfg.PatientsHandler
	if h == nil {
		h = patients.NewHandler(nil, "", "", cfg.Logger)
	}

	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}
	r.With(httpmiddleware.RateLimit(cfg.RateLimit, cfg.RateBurst)).
		Get("/patient/{emrID}", h.GetPatient)

	return r
}
