// Package capture turns Add Patient submissions reported by the browser into
// normalized records handed to the reconciliation session.
package capture

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/wolfman30/patient-capture/internal/locations"
	"github.com/wolfman30/patient-capture/internal/observability/metrics"
	"github.com/wolfman30/patient-capture/internal/patient"
	"github.com/wolfman30/patient-capture/pkg/logging"
)

// Submitter accepts a normalized submission and returns its id.
type Submitter interface {
	Submit(ctx context.Context, rec patient.Record) (string, error)
}

type DetectorConfig struct {
	Tracker    Tracker
	Submitter  Submitter
	Normalizer *patient.Normalizer
	Logger     *logging.Logger
	Metrics    *metrics.ReconcileMetrics

	// DedupeWindow is how long identical submissions are ignored.
	DedupeWindow time.Duration
	// LocationID is used when the page URL carries no location_ids.
	LocationID string
}

// Detector deduplicates and normalizes form submissions.
type Detector struct {
	tracker    Tracker
	submitter  Submitter
	normalizer *patient.Normalizer
	logger     *logging.Logger
	metrics    *metrics.ReconcileMetrics
	window     time.Duration
	locationID string
}

func NewDetector(cfg DetectorConfig) (*Detector, error) {
	if cfg.Submitter == nil {
		return nil, errors.New("capture: detector requires submitter")
	}
	tracker := cfg.Tracker
	if tracker == nil {
		tracker = NewMemoryTracker()
	}
	normalizer := cfg.Normalizer
	if normalizer == nil {
		normalizer = patient.NewNormalizer()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	window := cfg.DedupeWindow
	if window <= 0 {
		window = 10 * time.Second
	}
	return &Detector{
		tracker:    tracker,
		submitter:  cfg.Submitter,
		normalizer: normalizer,
		logger:     logger.Component("detector"),
		metrics:    cfg.Metrics,
		window:     window,
		locationID: cfg.LocationID,
	}, nil
}

// HandleSubmission captures one submitted form. pageURL is the page the form
// was submitted on; its location_ids parameter wins over the configured
// location. It returns false for empty or repeated submissions.
func (d *Detector) HandleSubmission(ctx context.Context, pageURL string, fields map[string]any) (string, bool, error) {
	if len(fields) == 0 {
		d.metrics.ObserveSubmission("empty")
		return "", false, nil
	}

	key, err := Fingerprint(fields)
	if err != nil {
		d.metrics.ObserveSubmission("error")
		return "", false, err
	}
	fresh, err := d.tracker.Track(ctx, key, d.window)
	if err != nil {
		d.logger.Warn("submission tracker unavailable, capturing anyway", "error", err)
		fresh = true
	}
	if !fresh {
		d.metrics.ObserveSubmission("duplicate")
		d.logger.Debug("ignoring repeated submission", "fingerprint", key)
		return "", false, nil
	}

	locationID := d.locationID
	if id, ok := locations.FromURL(pageURL); ok {
		locationID = id
	}

	complete := maps.Clone(fields)
	if _, ok := complete["location_id"]; !ok && locationID != "" {
		complete["location_id"] = locationID
	}
	if _, ok := complete["location_name"]; !ok {
		complete["location_name"] = locations.DisplayName(locationID)
	}
	complete["emr_id"] = ""

	rec := d.normalizer.Normalize(complete)
	id, err := d.submitter.Submit(ctx, rec)
	if err != nil {
		d.metrics.ObserveSubmission("error")
		return id, true, fmt.Errorf("capture: submit: %w", err)
	}
	d.metrics.ObserveSubmission("captured")
	d.logger.Info("patient form captured", "submission_id", id, "location_id", rec.LocationID, "location_name", rec.LocationName)
	return id, true, nil
}

// Fingerprint hashes the submitted values. Map keys are marshalled in sorted
// order so equal forms hash equally.
func Fingerprint(fields map[string]any) (string, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("capture: fingerprint: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
