package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/patient-capture/internal/observability/metrics"
	"github.com/wolfman30/patient-capture/internal/patient"
	"github.com/wolfman30/patient-capture/pkg/logging"
)

var tracer = otel.Tracer("patient-capture.internal.reconcile")

// Sink persists captured records and merges EMR ids into them.
type Sink interface {
	WriteInitial(ctx context.Context, rec patient.Record) error
	MergeIdentifier(ctx context.Context, hint patient.Key, emrID string) error
	HasIdentifier(ctx context.Context, emrID string) (bool, error)
}

// SessionConfig wires a Session.
type SessionConfig struct {
	Set     *PendingSet
	Sink    Sink
	Logger  *logging.Logger
	Metrics *metrics.ReconcileMetrics

	// CandidateBuffer sizes the channel watchers publish on.
	CandidateBuffer int
	SweepInterval   time.Duration

	// Tick overrides the sweep ticker in tests.
	Tick <-chan time.Time
	Stop func()
	Now  func() time.Time
}

// Session owns the pending set for one monitoring run. Watchers publish
// candidates and a single Run loop binds them, so only one goroutine ever
// writes EMR ids.
type Session struct {
	set     *PendingSet
	sink    Sink
	logger  *logging.Logger
	metrics *metrics.ReconcileMetrics
	matcher Matcher
	now     func() time.Time

	candidates chan Candidate
	tick       <-chan time.Time
	stop       func()

	mu       sync.Mutex
	bound    map[string]string
	stored   map[string]struct{}
	deferred []Candidate
}

// NewSession validates cfg and builds a Session.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Set == nil {
		return nil, errors.New("reconcile: session requires pending set")
	}
	if cfg.Sink == nil {
		return nil, errors.New("reconcile: session requires sink")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	buffer := cfg.CandidateBuffer
	if buffer <= 0 {
		buffer = 64
	}
	now := cfg.Now
	if now == nil {
		now = cfg.Set.now
	}

	tick := cfg.Tick
	stop := cfg.Stop
	if tick == nil {
		interval := cfg.SweepInterval
		if interval <= 0 {
			interval = time.Second
		}
		ticker := time.NewTicker(interval)
		tick = ticker.C
		stop = ticker.Stop
	}

	return &Session{
		set:        cfg.Set,
		sink:       cfg.Sink,
		logger:     logger.Component("reconcile"),
		metrics:    cfg.Metrics,
		now:        now,
		candidates: make(chan Candidate, buffer),
		tick:       tick,
		stop:       stop,
		bound:      make(map[string]string),
		stored:     make(map[string]struct{}),
	}, nil
}

// Submit registers a captured record and writes it with no EMR id. The
// submission stays pending even when persistence fails so a later EMR id can
// still be merged.
func (s *Session) Submit(ctx context.Context, rec patient.Record) (string, error) {
	rec.EMRID = ""
	id := s.set.Add(rec)
	entry, _ := s.set.Get(id)
	s.metrics.SetPending(s.set.Len())

	s.logger.Info("submission captured",
		"submission_id", id,
		"patient_id", entry.Record.PatientID,
		"first_name", entry.Identity.FirstName,
		"last_name", entry.Identity.LastName,
		"location_id", entry.Record.LocationID,
	)

	if err := s.sink.WriteInitial(ctx, entry.Record); err != nil {
		s.logger.Error("initial write failed", "submission_id", id, "error", err)
		return id, fmt.Errorf("reconcile: write initial: %w", err)
	}
	return id, nil
}

// Publish hands a candidate to the Run loop. It blocks until the candidate is
// queued or ctx is done.
func (s *Session) Publish(ctx context.Context, c Candidate) error {
	if strings.TrimSpace(c.ExternalID) == "" {
		return nil
	}
	if c.ObservedAt.IsZero() {
		c.ObservedAt = s.now()
	}
	select {
	case s.candidates <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns unbound submissions, oldest first.
func (s *Session) Pending() []PendingRecord {
	return s.set.AllPending()
}

// BoundSubmission returns the submission an EMR id was bound to.
func (s *Session) BoundSubmission(emrID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.bound[emrID]
	return id, ok
}

// Run consumes candidates and sweeps expired submissions until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	defer func() {
		if s.stop != nil {
			s.stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			if n := len(s.set.AllPending()); n > 0 {
				s.logger.Warn("stopping with unreconciled submissions", "pending", n)
			}
			return nil
		case c := <-s.candidates:
			_, _ = s.Reconcile(ctx, c)
		case <-s.tick:
			s.Sweep(ctx, s.now())
		}
	}
}

// Reconcile binds one candidate. It returns the submission id the EMR id is
// bound to. Reporting an already bound EMR id again is a no-op returning the
// original submission.
func (s *Session) Reconcile(ctx context.Context, c Candidate) (string, error) {
	emrID := strings.TrimSpace(c.ExternalID)
	if emrID == "" {
		return "", nil
	}
	c.ExternalID = emrID
	if c.ObservedAt.IsZero() {
		c.ObservedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconcileLocked(ctx, c, true)
}

// reconcileLocked must be called with s.mu held. fresh is false for retries of
// deferred candidates.
func (s *Session) reconcileLocked(ctx context.Context, c Candidate, fresh bool) (string, error) {
	if fresh {
		s.metrics.ObserveCandidate(string(c.Source))
	}
	if id, ok := s.bound[c.ExternalID]; ok {
		s.logger.Debug("emr id already bound", "emr_id", c.ExternalID, "submission_id", id, "source", c.Source)
		return id, nil
	}

	if _, ok := s.stored[c.ExternalID]; ok {
		return "", ErrAlreadyStored
	}

	now := s.now()
	if len(s.set.AllPending()) == 0 {
		s.logger.Info("emr id seen with no pending submissions, dropping", "emr_id", c.ExternalID, "source", c.Source)
		return "", ErrNoPending
	}
	if fresh {
		stored, err := s.sink.HasIdentifier(ctx, c.ExternalID)
		if err != nil {
			s.logger.Warn("could not check stored emr ids", "emr_id", c.ExternalID, "error", err)
		}
		if stored {
			s.stored[c.ExternalID] = struct{}{}
			s.logger.Info("emr id already stored for an earlier record, ignoring", "emr_id", c.ExternalID, "source", c.Source)
			return "", ErrAlreadyStored
		}
	}
	eligible := s.set.Eligible(now)
	if len(eligible) == 0 {
		if fresh && !s.isDeferred(c.ExternalID) {
			s.deferred = append(s.deferred, c)
			s.logger.Debug("pending submissions too recent, deferring", "emr_id", c.ExternalID, "min_wait", s.set.MinWait())
		}
		return "", ErrDeferred
	}

	match, ok := s.matcher.Select(c, eligible)
	if !ok {
		return "", ErrNoPending
	}
	return s.bind(ctx, c, match, now)
}

func (s *Session) isDeferred(emrID string) bool {
	for _, d := range s.deferred {
		if d.ExternalID == emrID {
			return true
		}
	}
	return false
}

func (s *Session) bind(ctx context.Context, c Candidate, match Match, now time.Time) (string, error) {
	ctx, span := tracer.Start(ctx, "reconcile.bind")
	defer span.End()
	span.SetAttributes(
		attribute.String("reconcile.emr_id", c.ExternalID),
		attribute.String("reconcile.submission_id", match.Record.SubmissionID),
		attribute.String("reconcile.strategy", string(match.Strategy)),
		attribute.String("reconcile.source", string(c.Source)),
	)

	entry, err := s.set.Bind(match.Record.SubmissionID, c.ExternalID, c.BookingID)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	s.set.Remove(entry.SubmissionID)
	s.bound[c.ExternalID] = entry.SubmissionID
	s.metrics.ObserveBinding(string(match.Strategy), string(c.Source), now.Sub(entry.SubmittedAt).Seconds())
	s.metrics.SetPending(s.set.Len())

	fields := []any{
		"emr_id", c.ExternalID,
		"submission_id", entry.SubmissionID,
		"strategy", match.Strategy,
		"source", c.Source,
		"booking_id", c.BookingID,
		"first_name", entry.Identity.FirstName,
		"last_name", entry.Identity.LastName,
	}
	if match.Strategy == StrategyMostRecent {
		s.logger.Warn("emr id bound to most recent submission without corroboration", fields...)
	} else {
		s.logger.Info("emr id bound", fields...)
	}

	if err := s.sink.MergeIdentifier(ctx, entry.Record.Key(), c.ExternalID); err != nil {
		span.RecordError(err)
		s.logger.Error("emr id merge failed", "emr_id", c.ExternalID, "submission_id", entry.SubmissionID, "error", err)
		return entry.SubmissionID, fmt.Errorf("reconcile: merge identifier: %w", err)
	}
	return entry.SubmissionID, nil
}

// Sweep evicts submissions past MaxWait and retries deferred candidates.
func (s *Session) Sweep(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.deferred) > 0 {
		waiting := s.deferred
		s.deferred = nil
		for _, c := range waiting {
			_, err := s.reconcileLocked(ctx, c, false)
			if !errors.Is(err, ErrDeferred) {
				continue
			}
			if now.Sub(c.ObservedAt) > s.set.MaxWait() {
				s.logger.Info("deferred emr id expired", "emr_id", c.ExternalID)
				continue
			}
			s.deferred = append(s.deferred, c)
		}
	}

	for _, p := range s.set.Sweep(now) {
		s.metrics.ObserveEviction()
		s.logger.Warn("identifier never assigned",
			"submission_id", p.SubmissionID,
			"first_name", p.Identity.FirstName,
			"last_name", p.Identity.LastName,
			"waited", now.Sub(p.SubmittedAt).String(),
		)
	}
	s.metrics.SetPending(s.set.Len())
}
