package patients

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/patient-capture/pkg/logging"
)

// Handler serves patient lookups and health checks.
type Handler struct {
	repo    Repository
	source  string
	version string
	logger  *logging.Logger
}

// NewHandler creates a handler. A nil repo makes every lookup return 503.
// source names the backing store in health output.
func NewHandler(repo Repository, source, version string, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	if version == "" {
		version = "1.0.0"
	}
	return &Handler{
		repo:    repo,
		source:  source,
		version: version,
		logger:  logger.Component("patients"),
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// GetPatient handles GET /patient/{emrID}.
func (h *Handler) GetPatient(w http.ResponseWriter, r *http.Request) {
	emrID := strings.TrimSpace(chi.URLParam(r, "emrID"))
	if emrID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing emr_id"})
		return
	}
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "database not configured"})
		return
	}

	p, err := h.repo.FindByEMRID(r.Context(), emrID)
	switch {
	case errors.Is(err, ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("Patient with EMR ID '%s' not found", emrID)})
		return
	case errors.Is(err, ErrUnavailable):
		h.logger.Error("patient store unavailable", "error", err, "emr_id", emrID)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "database unavailable"})
		return
	case err != nil:
		h.logger.Error("failed to load patient", "error", err, "emr_id", emrID)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "database error"})
		return
	}

	h.logger.Debug("patient served", "emr_id", emrID, "patient_id", p.PatientID)
	writeJSON(w, http.StatusOK, p)
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "unhealthy",
			"database": "not configured",
		})
		return
	}
	if err := h.repo.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "unhealthy",
			"database": "disconnected",
			"error":    err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "healthy",
		"database": "connected",
		"source":   h.source,
	})
}

// Root handles GET / with API information.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Patient Data API",
		"version": h.version,
		"endpoints": map[string]string{
			"GET /patient/{emr_id}": "Get patient record by EMR ID",
			"GET /health":           "Database connectivity check",
			"GET /metrics":          "Prometheus metrics",
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
