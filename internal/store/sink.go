package store

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/patient-capture/internal/observability/metrics"
	"github.com/wolfman30/patient-capture/internal/patient"
	"github.com/wolfman30/patient-capture/pkg/logging"
)

var tracer = otel.Tracer("patient-capture.internal.store")

// RecordWriter persists records and merges EMR ids. Both the JSON log and
// the Postgres repository satisfy it.
type RecordWriter interface {
	Upsert(ctx context.Context, rec patient.Record) error
	MergeIdentifier(ctx context.Context, hint patient.Key, emrID string) error
	HasIdentifier(ctx context.Context, emrID string) (bool, error)
}

// Archiver keeps an audit copy of the raw payload.
type Archiver interface {
	Enabled() bool
	ArchiveCapture(ctx context.Context, rec patient.Record) (string, error)
}

// SinkConfig wires a Sink. Only Log is required.
type SinkConfig struct {
	Log     RecordWriter
	DB      RecordWriter
	Archive Archiver
	Logger  *logging.Logger
	Metrics *metrics.ReconcileMetrics
}

// Sink writes each record to the JSON log, then the database, then the
// archive. A failure in one does not stop the others.
type Sink struct {
	log     RecordWriter
	db      RecordWriter
	archive Archiver
	logger  *logging.Logger
	metrics *metrics.ReconcileMetrics
}

func NewSink(cfg SinkConfig) (*Sink, error) {
	if cfg.Log == nil {
		return nil, errors.New("store: sink requires json log")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Sink{
		log:     cfg.Log,
		db:      cfg.DB,
		archive: cfg.Archive,
		logger:  logger.Component("sink"),
		metrics: cfg.Metrics,
	}, nil
}

// WriteInitial stores a freshly captured record.
func (s *Sink) WriteInitial(ctx context.Context, rec patient.Record) error {
	ctx, span := tracer.Start(ctx, "store.write_initial")
	defer span.End()
	span.SetAttributes(
		attribute.String("patient.id", rec.PatientID),
		attribute.String("patient.location_id", rec.LocationID),
	)

	var errs []error
	if err := s.log.Upsert(ctx, rec); err != nil {
		s.failed(span, "json", err, "patient_id", rec.PatientID)
		errs = append(errs, err)
	}
	if s.db != nil {
		if err := s.db.Upsert(ctx, rec); err != nil {
			s.failed(span, "postgres", err, "patient_id", rec.PatientID)
			errs = append(errs, err)
		}
	}
	if s.archive != nil && s.archive.Enabled() {
		if key, err := s.archive.ArchiveCapture(ctx, rec); err != nil {
			s.failed(span, "s3", err, "patient_id", rec.PatientID)
			errs = append(errs, err)
		} else {
			span.SetAttributes(attribute.String("archive.key", key))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("store: write initial: %w", errors.Join(errs...))
	}
	s.logger.Info("patient record saved", "patient_id", rec.PatientID, "location_id", rec.LocationID)
	return nil
}

// MergeIdentifier writes emrID into the stored record for hint. It reports
// ErrNoPendingRow only when no configured store had a row to update.
func (s *Sink) MergeIdentifier(ctx context.Context, hint patient.Key, emrID string) error {
	ctx, span := tracer.Start(ctx, "store.merge_identifier")
	defer span.End()
	span.SetAttributes(
		attribute.String("patient.emr_id", emrID),
		attribute.String("patient.id", hint.PatientID),
	)

	var errs []error
	missing, stores := 0, 0

	stores++
	if err := s.log.MergeIdentifier(ctx, hint, emrID); err != nil {
		if errors.Is(err, ErrNoPendingRow) {
			missing++
		} else {
			s.failed(span, "json", err, "emr_id", emrID)
			errs = append(errs, err)
		}
	}
	if s.db != nil {
		stores++
		if err := s.db.MergeIdentifier(ctx, hint, emrID); err != nil {
			if errors.Is(err, ErrNoPendingRow) {
				missing++
			} else {
				s.failed(span, "postgres", err, "emr_id", emrID)
				errs = append(errs, err)
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("store: merge identifier: %w", errors.Join(errs...))
	}
	if missing == stores {
		span.SetStatus(codes.Error, "no pending row")
		return ErrNoPendingRow
	}
	if missing > 0 {
		s.logger.Warn("emr id stored in some sinks only", "emr_id", emrID, "patient_id", hint.PatientID)
	}
	s.logger.Info("emr id saved", "emr_id", emrID, "patient_id", hint.PatientID)
	return nil
}

// HasIdentifier reports whether emrID is already stored on any record. A
// store that cannot answer is skipped; the error is returned only when no
// store found the id.
func (s *Sink) HasIdentifier(ctx context.Context, emrID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "store.has_identifier")
	defer span.End()
	span.SetAttributes(attribute.String("patient.emr_id", emrID))

	writers := []struct {
		name string
		w    RecordWriter
	}{{"json", s.log}, {"postgres", s.db}}

	var errs []error
	for _, st := range writers {
		if st.w == nil {
			continue
		}
		found, err := st.w.HasIdentifier(ctx, emrID)
		if err != nil {
			s.failed(span, st.name, err, "emr_id", emrID)
			errs = append(errs, err)
			continue
		}
		if found {
			span.SetAttributes(attribute.String("store.found_in", st.name))
			return true, nil
		}
	}
	if len(errs) > 0 {
		return false, fmt.Errorf("store: check identifier: %w", errors.Join(errs...))
	}
	return false, nil
}

func (s *Sink) failed(span trace.Span, sink string, err error, args ...any) {
	span.RecordError(err)
	s.metrics.ObservePersistError(sink)
	s.logger.Error("persist failed", append([]any{"sink", sink, "error", err}, args...)...)
}
