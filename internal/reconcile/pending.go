package reconcile

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/patient-capture/internal/patient"
)

// PendingRecord is a captured submission waiting for its EMR id.
type PendingRecord struct {
	SubmissionID string
	Identity     patient.Identity
	Record       patient.Record
	SubmittedAt  time.Time
	ExternalID   string
	BookingID    string
}

// Bound reports whether an EMR id has been assigned.
func (p PendingRecord) Bound() bool {
	return p.ExternalID != ""
}

// PendingSetConfig configures a PendingSet.
type PendingSetConfig struct {
	// MinWait is how long a submission must age before any candidate may bind
	// to it.
	MinWait time.Duration
	// MaxWait is how long a submission may wait before Sweep drops it.
	MaxWait time.Duration

	Now   func() time.Time
	NewID func() string
}

// PendingSet tracks submissions that have not been reconciled yet.
type PendingSet struct {
	mu      sync.RWMutex
	entries map[string]*PendingRecord
	seq     map[string]uint64
	next    uint64

	minWait time.Duration
	maxWait time.Duration
	now     func() time.Time
	newID   func() string
}

// NewPendingSet builds an empty set.
func NewPendingSet(cfg PendingSetConfig) *PendingSet {
	maxWait := cfg.MaxWait
	if maxWait <= 0 {
		maxWait = 2 * time.Minute
	}
	minWait := cfg.MinWait
	if minWait < 0 || minWait >= maxWait {
		minWait = 0
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &PendingSet{
		entries: make(map[string]*PendingRecord),
		seq:     make(map[string]uint64),
		minWait: minWait,
		maxWait: maxWait,
		now:     now,
		newID:   newID,
	}
}

// MinWait returns the configured minimum wait.
func (s *PendingSet) MinWait() time.Duration { return s.minWait }

// MaxWait returns the configured maximum wait.
func (s *PendingSet) MaxWait() time.Duration { return s.maxWait }

// Add registers rec and returns its submission id. A record without a patient
// id takes the submission id so its row key is never empty.
func (s *PendingSet) Add(rec patient.Record) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.newID()
	if rec.PatientID == "" {
		rec.PatientID = id
	}
	s.next++
	s.seq[id] = s.next
	s.entries[id] = &PendingRecord{
		SubmissionID: id,
		Identity:     rec.Identity(),
		Record:       rec,
		SubmittedAt:  s.now(),
	}
	return id
}

// Get returns a copy of the entry for id.
func (s *PendingSet) Get(id string) (PendingRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.entries[id]
	if !ok {
		return PendingRecord{}, false
	}
	return *p, true
}

// Remove deletes id from the set. Unknown ids are ignored.
func (s *PendingSet) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	delete(s.seq, id)
}

// Len counts every entry, bound or not.
func (s *PendingSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// AllPending returns unbound entries, oldest first.
func (s *PendingSet) AllPending() []PendingRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(*PendingRecord) bool { return true })
}

// Eligible returns unbound entries that have waited at least MinWait at now,
// oldest first.
func (s *PendingSet) Eligible(now time.Time) []PendingRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(p *PendingRecord) bool {
		return now.Sub(p.SubmittedAt) >= s.minWait
	})
}

// FindUnboundByIdentity returns the single unbound entry whose names match
// id. It returns false when none or more than one entry matches.
func (s *PendingSet) FindUnboundByIdentity(id patient.Identity) (PendingRecord, bool) {
	if !id.HasName() {
		return PendingRecord{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	hits := s.collect(func(p *PendingRecord) bool {
		return namesMatch(id, p.Identity)
	})
	if len(hits) != 1 {
		return PendingRecord{}, false
	}
	return hits[0], true
}

// Bind assigns externalID to the entry. An entry is bound at most once.
func (s *PendingSet) Bind(id, externalID, bookingID string) (PendingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.entries[id]
	if !ok {
		return PendingRecord{}, ErrUnknownSubmission
	}
	if p.Bound() {
		return *p, ErrAlreadyBound
	}
	p.ExternalID = externalID
	p.BookingID = bookingID
	p.Record.EMRID = externalID
	return *p, nil
}

// Sweep removes and returns unbound entries older than MaxWait at now.
func (s *PendingSet) Sweep(now time.Time) []PendingRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	expired := s.collect(func(p *PendingRecord) bool {
		return now.Sub(p.SubmittedAt) > s.maxWait
	})
	for _, p := range expired {
		delete(s.entries, p.SubmissionID)
		delete(s.seq, p.SubmissionID)
	}
	return expired
}

// collect must be called with the lock held.
func (s *PendingSet) collect(keep func(*PendingRecord) bool) []PendingRecord {
	out := make([]PendingRecord, 0, len(s.entries))
	for _, p := range s.entries {
		if p.Bound() || !keep(p) {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return s.seq[out[i].SubmissionID] < s.seq[out[j].SubmissionID]
	})
	return out
}

// namesMatch applies the exact rule when both names are known and the single
// name rule otherwise.
func namesMatch(want, have patient.Identity) bool {
	switch {
	case want.HasFullName():
		return patient.SameName(want.FirstName, have.FirstName) && patient.SameName(want.LastName, have.LastName)
	case want.FirstName != "":
		return patient.SameName(want.FirstName, have.FirstName)
	default:
		return patient.SameName(want.LastName, have.LastName)
	}
}
