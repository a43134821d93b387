package patient

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC)

func testNormalizer() *Normalizer {
	return &Normalizer{Now: func() time.Time { return fixedNow }}
}

func TestNormalizeMissingNamesAreEmpty(t *testing.T) {
	rec := testNormalizer().Normalize(map[string]any{"reason": "cough"})

	assert.Equal(t, "", rec.FirstName)
	assert.Equal(t, "", rec.LastName)
	assert.Equal(t, "", rec.LegalFirstName)
	assert.Equal(t, "", rec.LegalLastName)
	assert.Equal(t, "cough", rec.ReasonForVisit)
	assert.Equal(t, fixedNow, rec.CapturedAt)
}

func TestNormalizeNilInput(t *testing.T) {
	rec := testNormalizer().Normalize(nil)
	assert.Equal(t, "", rec.FirstName)
	assert.JSONEq(t, `{}`, string(rec.RawData))
}

func TestNormalizeCamelCaseForm(t *testing.T) {
	in := map[string]any{
		"legalFirstName": "John",
		"legalLastName":  "Doe",
		"mobilePhone":    "(555) 123-4567",
		"dob":            "01/15/1990",
		"reasonForVisit": "Sore throat",
		"sexAtBirth":     "male",
		"roomNumber":     "4",
		"locationId":     "AXjwbE",
		"capturedAt":     "2025-03-04T09:15:00",
	}
	rec := testNormalizer().Normalize(in)

	assert.Equal(t, "John", rec.LegalFirstName)
	assert.Equal(t, "John", rec.FirstName, "display name falls back to legal name")
	assert.Equal(t, "Doe", rec.LastName)
	assert.Equal(t, "(555) 123-4567", rec.MobilePhone)
	assert.Equal(t, "01/15/1990", rec.DOB)
	assert.Equal(t, "1990-01-15", rec.DateOfBirth)
	assert.Equal(t, "male", rec.SexAtBirth)
	assert.Equal(t, "M", rec.Gender)
	assert.Equal(t, "4", rec.Room)
	assert.Equal(t, "AXjwbE", rec.LocationID)
	assert.Equal(t, time.Date(2025, 3, 4, 9, 15, 0, 0, time.UTC), rec.CapturedAt)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.RawData, &raw))
	assert.Equal(t, "John", raw["legalFirstName"])
}

func TestNormalizeNestedAndFullName(t *testing.T) {
	rec := testNormalizer().Normalize(map[string]any{
		"patient": map[string]any{"full_name": "Mary Ann Smith", "phone": "+1 555 000 1111"},
	})
	assert.Equal(t, "Mary", rec.LegalFirstName)
	assert.Equal(t, "Ann Smith", rec.LegalLastName)
	assert.Equal(t, "Mary", rec.FirstName)
	assert.Equal(t, "+1 555 000 1111", rec.MobilePhone)
	assert.Equal(t, "15550001111", NormalizePhone(rec.Identity().Phone))
}

func TestNormalizeKeepsProvidedRawData(t *testing.T) {
	rec := testNormalizer().Normalize(map[string]any{
		"first_name": "Jane",
		"raw_data":   `{"origin":"form"}`,
	})
	assert.JSONEq(t, `{"origin":"form"}`, string(rec.RawData))
}

func TestNormalizeRoundTrip(t *testing.T) {
	first := testNormalizer().Normalize(map[string]any{
		"patientId":      "p-1",
		"solvId":         "s-1",
		"emrId":          "99",
		"locationId":     "g5rawn",
		"locationName":   "Exer Urgent Care - Beaumont",
		"legalFirstName": "John",
		"legalLastName":  "Doe",
		"firstName":      "Johnny",
		"mobilePhone":    "555-123-4567",
		"dateOfBirth":    "1990-01-15",
		"reason":         "checkup",
		"gender":         "Female",
		"room":           "2",
		"captured_at":    "2025-03-04T09:15:00.123Z",
	})
	second := (&Normalizer{Now: func() time.Time { return fixedNow.Add(time.Hour) }}).Normalize(first.Fields())

	assert.Equal(t, first, second)
	assert.Equal(t, "F", second.Gender)
	assert.Equal(t, "Johnny", second.FirstName)
	assert.Equal(t, "Doe", second.LastName)
}

func TestNormalizeDate(t *testing.T) {
	cases := map[string]string{
		"01/15/1990": "1990-01-15",
		"1990-01-15": "1990-01-15",
		"1/5/1990":   "1990-01-05",
		"01-15-1990": "1990-01-15",
		"15/01/1990": "1990-01-15",
		"15-01-1990": "1990-01-15",
		"1990-15-01": "",
		"yesterday":  "",
		"":           "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeDate(in), "input %q", in)
	}
}

func TestNormalizeGender(t *testing.T) {
	assert.Equal(t, "F", NormalizeGender(" female"))
	assert.Equal(t, "F", NormalizeGender("f"))
	assert.Equal(t, "M", NormalizeGender("Male"))
	assert.Equal(t, "", NormalizeGender("other"))
	assert.Equal(t, "", NormalizeGender(""))
}

func TestParseTimestamp(t *testing.T) {
	ts, ok := ParseTimestamp("2025-03-04T09:15:00-05:00")
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 3, 4, 14, 15, 0, 0, time.UTC), ts)

	ts, ok = ParseTimestamp("2025-03-04 09:15:00")
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 3, 4, 9, 15, 0, 0, time.UTC), ts)

	_, ok = ParseTimestamp("not a time")
	assert.False(t, ok)
}

func TestIdentityHelpers(t *testing.T) {
	id := Identity{FirstName: "John", Phone: "(555) 123-4567"}
	assert.True(t, id.HasName())
	assert.False(t, id.HasFullName())
	assert.False(t, id.IsZero())
	assert.True(t, Identity{}.IsZero())
	assert.Equal(t, "5551234567", NormalizePhone(id.Phone))
	assert.True(t, SameName("john", "JOHN "))
	assert.False(t, SameName("", ""))
}
