package patient

import (
	"encoding/json"
	"strings"
	"time"
)

// Record is the canonical shape of a captured patient. The JSON tags are the
// keys written to the patient log and accepted back by the Normalizer.
type Record struct {
	PatientID      string          `json:"patient_id"`
	SolvID         string          `json:"solv_id"`
	EMRID          string          `json:"emr_id"`
	LocationID     string          `json:"location_id"`
	LocationName   string          `json:"location_name"`
	LegalFirstName string          `json:"legal_first_name"`
	LegalLastName  string          `json:"legal_last_name"`
	FirstName      string          `json:"first_name"`
	LastName       string          `json:"last_name"`
	MobilePhone    string          `json:"mobile_phone"`
	DOB            string          `json:"dob"`
	DateOfBirth    string          `json:"date_of_birth"`
	ReasonForVisit string          `json:"reason_for_visit"`
	SexAtBirth     string          `json:"sex_at_birth"`
	Gender         string          `json:"gender"`
	Room           string          `json:"room"`
	CapturedAt     time.Time       `json:"captured_at"`
	RawData        json.RawMessage `json:"raw_data,omitempty"`
}

// Key identifies a persisted row: one row per local identity and capture time.
type Key struct {
	PatientID  string
	LocationID string
	CapturedAt time.Time
}

// Key returns the row key of r.
func (r Record) Key() Key {
	return Key{PatientID: r.PatientID, LocationID: r.LocationID, CapturedAt: r.CapturedAt}
}

// Identity returns the fields used to match r against identifier reports.
func (r Record) Identity() Identity {
	first := r.FirstName
	if first == "" {
		first = r.LegalFirstName
	}
	last := r.LastName
	if last == "" {
		last = r.LegalLastName
	}
	return Identity{FirstName: first, LastName: last, Phone: r.MobilePhone}
}

// Fields renders r with canonical keys. Normalizing the result yields r again.
func (r Record) Fields() map[string]any {
	m := map[string]any{
		"patient_id":       r.PatientID,
		"solv_id":          r.SolvID,
		"emr_id":           r.EMRID,
		"location_id":      r.LocationID,
		"location_name":    r.LocationName,
		"legal_first_name": r.LegalFirstName,
		"legal_last_name":  r.LegalLastName,
		"first_name":       r.FirstName,
		"last_name":        r.LastName,
		"mobile_phone":     r.MobilePhone,
		"dob":              r.DOB,
		"date_of_birth":    r.DateOfBirth,
		"reason_for_visit": r.ReasonForVisit,
		"sex_at_birth":     r.SexAtBirth,
		"gender":           r.Gender,
		"room":             r.Room,
	}
	if !r.CapturedAt.IsZero() {
		m["captured_at"] = r.CapturedAt.Format(time.RFC3339Nano)
	}
	if len(r.RawData) > 0 {
		m["raw_data"] = r.RawData
	}
	return m
}

// Identity is the subset of a record an identifier report can carry. Any
// field may be empty.
type Identity struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// HasName reports whether either name field is set.
func (i Identity) HasName() bool {
	return strings.TrimSpace(i.FirstName) != "" || strings.TrimSpace(i.LastName) != ""
}

// HasFullName reports whether both name fields are set.
func (i Identity) HasFullName() bool {
	return strings.TrimSpace(i.FirstName) != "" && strings.TrimSpace(i.LastName) != ""
}

// IsZero reports whether the identity carries nothing to match on.
func (i Identity) IsZero() bool {
	return !i.HasName() && NormalizePhone(i.Phone) == ""
}

// NormalizePhone strips formatting so numbers can be compared.
func NormalizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '+', ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(phone))
}

// SameName compares names case-insensitively; empty never matches.
func SameName(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}
