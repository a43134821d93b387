package reconcile

import (
	"time"

	"github.com/wolfman30/patient-capture/internal/patient"
)

// Source names the watcher that reported a candidate.
type Source string

const (
	SourceTraffic Source = "traffic"
	SourceUI      Source = "ui"
)

// Candidate is an EMR id observed by a watcher together with whatever
// identity accompanied it.
type Candidate struct {
	ExternalID string
	Identity   patient.Identity
	Source     Source
	BookingID  string
	ObservedAt time.Time
}

// Strategy records which rule produced a match.
type Strategy string

const (
	StrategyExact      Strategy = "exact"
	StrategyPartial    Strategy = "partial"
	StrategyPhone      Strategy = "phone"
	StrategySingleton  Strategy = "singleton"
	StrategyMostRecent Strategy = "most_recent"
)

// Match is the pending record chosen for a candidate.
type Match struct {
	Record   PendingRecord
	Strategy Strategy
}

// Matcher picks the pending record a candidate belongs to.
type Matcher struct{}

// Select applies the rules in order: exact name, single name, phone with name
// corroboration, the only eligible record, and finally the most recently
// submitted record. A rule that matches several records narrows the pool for
// the rules after it. eligible must be ordered oldest first.
func (Matcher) Select(c Candidate, eligible []PendingRecord) (Match, bool) {
	if len(eligible) == 0 {
		return Match{}, false
	}
	pool := eligible
	id := c.Identity

	if id.HasFullName() {
		hits := filter(pool, func(p PendingRecord) bool {
			return patient.SameName(id.FirstName, p.Identity.FirstName) && patient.SameName(id.LastName, p.Identity.LastName)
		})
		if m, ok := decide(hits, StrategyExact, &pool); ok {
			return m, true
		}
	} else if id.HasName() {
		hits := filter(pool, func(p PendingRecord) bool {
			if id.FirstName != "" {
				return patient.SameName(id.FirstName, p.Identity.FirstName)
			}
			return patient.SameName(id.LastName, p.Identity.LastName)
		})
		if m, ok := decide(hits, StrategyPartial, &pool); ok {
			return m, true
		}
	}

	if phone := patient.NormalizePhone(id.Phone); phone != "" && id.HasName() {
		hits := filter(pool, func(p PendingRecord) bool {
			if patient.NormalizePhone(p.Identity.Phone) != phone {
				return false
			}
			return patient.SameName(id.FirstName, p.Identity.FirstName) || patient.SameName(id.LastName, p.Identity.LastName)
		})
		if m, ok := decide(hits, StrategyPhone, &pool); ok {
			return m, true
		}
	}

	if len(eligible) == 1 {
		return Match{Record: eligible[0], Strategy: StrategySingleton}, true
	}
	return Match{Record: pool[len(pool)-1], Strategy: StrategyMostRecent}, true
}

// decide binds a unique hit, or narrows pool to several hits.
func decide(hits []PendingRecord, strategy Strategy, pool *[]PendingRecord) (Match, bool) {
	switch len(hits) {
	case 0:
		return Match{}, false
	case 1:
		return Match{Record: hits[0], Strategy: strategy}, true
	default:
		*pool = hits
		return Match{}, false
	}
}

func filter(in []PendingRecord, keep func(PendingRecord) bool) []PendingRecord {
	var out []PendingRecord
	for _, p := range in {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}
