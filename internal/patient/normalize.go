// Package patient holds the canonical patient record and the normalizer that
// maps captured form and API payloads onto it.
package patient

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/wolfman30/patient-capture/internal/payload"
)

var (
	patientIDKeys   = []string{"patient_id", "patientId", "patientID"}
	solvIDKeys      = []string{"solv_id", "solvId"}
	emrIDKeys       = []string{"emr_id", "emrId", "emrID"}
	locationIDKeys  = []string{"location_id", "locationId"}
	locationKeys    = []string{"location_name", "locationName"}
	legalFirstKeys  = []string{"legal_first_name", "legalFirstName"}
	legalLastKeys   = []string{"legal_last_name", "legalLastName"}
	firstNameKeys   = []string{"first_name", "firstName", "firstname"}
	lastNameKeys    = []string{"last_name", "lastName", "lastname"}
	fullNameKeys    = []string{"full_name", "fullName", "patientName", "name"}
	phoneKeys       = []string{"mobile_phone", "mobilePhone", "phone", "phoneNumber", "phone_number"}
	dobKeys         = []string{"dob", "dateOfBirth", "date_of_birth", "birthDate", "birth_date"}
	reasonKeys      = []string{"reason_for_visit", "reasonForVisit", "reason"}
	sexAtBirthKeys  = []string{"sex_at_birth", "sexAtBirth"}
	genderKeys      = []string{"gender", "sex", "sex_at_birth", "sexAtBirth"}
	roomKeys        = []string{"room", "roomNumber", "room_number"}
	capturedAtKeys  = []string{"captured_at", "capturedAt"}
	nestedObjectKey = []string{"patient", "user", "person", "profile"}
)

var dateLayouts = []string{
	"2006-1-2",
	"1/2/2006",
	"1-2-2006",
	"2/1/2006",
	"2-1-2006",
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// Normalizer maps arbitrary captured fields onto a Record. It never fails:
// anything it cannot interpret is left empty.
type Normalizer struct {
	// Now stamps records that carry no capture time.
	Now func() time.Time
}

// NewNormalizer returns a Normalizer using the wall clock.
func NewNormalizer() *Normalizer {
	return &Normalizer{Now: time.Now}
}

// Normalize is shorthand for NewNormalizer().Normalize(in).
func Normalize(in map[string]any) Record {
	return NewNormalizer().Normalize(in)
}

// Normalize builds a Record from in.
func (n *Normalizer) Normalize(in map[string]any) Record {
	if in == nil {
		in = map[string]any{}
	}
	scopes := []map[string]any{in}
	for _, k := range nestedObjectKey {
		if nested := payload.AsMap(in[k]); nested != nil {
			scopes = append(scopes, nested)
		}
	}
	get := func(keys []string) string {
		for _, scope := range scopes {
			if s := payload.FirstString(scope, keys...); s != "" {
				return s
			}
		}
		return ""
	}

	rec := Record{
		PatientID:      get(patientIDKeys),
		SolvID:         get(solvIDKeys),
		EMRID:          get(emrIDKeys),
		LocationID:     get(locationIDKeys),
		LocationName:   get(locationKeys),
		LegalFirstName: get(legalFirstKeys),
		LegalLastName:  get(legalLastKeys),
		FirstName:      get(firstNameKeys),
		LastName:       get(lastNameKeys),
		MobilePhone:    get(phoneKeys),
		DOB:            get(dobKeys),
		ReasonForVisit: get(reasonKeys),
		SexAtBirth:     get(sexAtBirthKeys),
		Gender:         NormalizeGender(get(genderKeys)),
		Room:           get(roomKeys),
	}

	if rec.LegalFirstName == "" && rec.LegalLastName == "" && rec.FirstName == "" && rec.LastName == "" {
		if first, last := SplitName(get(fullNameKeys)); first != "" {
			rec.LegalFirstName, rec.LegalLastName = first, last
		}
	}
	if rec.FirstName == "" {
		rec.FirstName = rec.LegalFirstName
	}
	if rec.LastName == "" {
		rec.LastName = rec.LegalLastName
	}

	rec.DateOfBirth = NormalizeDate(rec.DOB)

	if ts, ok := ParseTimestamp(get(capturedAtKeys)); ok {
		rec.CapturedAt = ts
	} else {
		rec.CapturedAt = n.now()
	}

	rec.RawData = rawData(in)
	return rec
}

func (n *Normalizer) now() time.Time {
	if n == nil || n.Now == nil {
		return time.Now().UTC()
	}
	return n.Now().UTC()
}

// NormalizeDate returns an ISO YYYY-MM-DD date, or "" when raw matches none
// of the accepted layouts.
func NormalizeDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}

// NormalizeGender collapses free text to "F", "M" or "".
func NormalizeGender(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	switch {
	case strings.HasPrefix(s, "F"):
		return "F"
	case strings.HasPrefix(s, "M"):
		return "M"
	default:
		return ""
	}
}

// ParseTimestamp accepts ISO-8601 timestamps with or without an offset. Times
// without an offset are taken as UTC.
func ParseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// SplitName splits a full name into the first token and the remainder.
func SplitName(full string) (first, last string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

func rawData(in map[string]any) json.RawMessage {
	switch v := in["raw_data"].(type) {
	case json.RawMessage:
		if json.Valid(v) {
			return append(json.RawMessage(nil), v...)
		}
	case []byte:
		if json.Valid(v) {
			return append(json.RawMessage(nil), v...)
		}
	case string:
		if json.Valid([]byte(v)) {
			return json.RawMessage(v)
		}
	case map[string]any, []any:
		if b, err := json.Marshal(v); err == nil {
			return b
		}
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil
	}
	return b
}
