package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/patient-capture/internal/patient"
)

type fakeSubmitter struct {
	records []patient.Record
	err     error
}

func (s *fakeSubmitter) Submit(_ context.Context, rec patient.Record) (string, error) {
	s.records = append(s.records, rec)
	return "sub-1", s.err
}

func TestMemoryTrackerExpires(t *testing.T) {
	tr := NewMemoryTracker()
	now := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := tr.Track(ctx, "a", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = tr.Track(ctx, "a", 10*time.Second)
	assert.False(t, ok)

	now = now.Add(11 * time.Second)
	ok, _ = tr.Track(ctx, "a", 10*time.Second)
	assert.True(t, ok)
}

func TestRedisTracker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	tr := NewRedisTracker(client)
	ctx := context.Background()

	ok, err := tr.Track(ctx, "abc", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists(defaultTrackerPrefix+"abc"))

	ok, err = tr.Track(ctx, "abc", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(11 * time.Second)
	ok, err = tr.Track(ctx, "abc", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisTrackerError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close()

	_, err := NewRedisTracker(client).Track(context.Background(), "abc", time.Second)
	require.Error(t, err)
}

func TestFingerprintStable(t *testing.T) {
	a, err := Fingerprint(map[string]any{"legalFirstName": "John", "legalLastName": "Doe"})
	require.NoError(t, err)
	b, err := Fingerprint(map[string]any{"legalLastName": "Doe", "legalFirstName": "John"})
	require.NoError(t, err)
	c, err := Fingerprint(map[string]any{"legalFirstName": "Jane", "legalLastName": "Doe"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestDetectorCapturesWithLocationFromPage(t *testing.T) {
	sub := &fakeSubmitter{}
	d, err := NewDetector(DetectorConfig{Submitter: sub, LocationID: "AXjwbE"})
	require.NoError(t, err)

	id, captured, err := d.HandleSubmission(context.Background(),
		"https://manage.solvhealth.com/queue?location_ids=g5rawn",
		map[string]any{"legalFirstName": "John", "legalLastName": "Doe", "dob": "01/15/1990"})
	require.NoError(t, err)
	assert.True(t, captured)
	assert.Equal(t, "sub-1", id)

	require.Len(t, sub.records, 1)
	rec := sub.records[0]
	assert.Equal(t, "g5rawn", rec.LocationID)
	assert.Equal(t, "Exer Urgent Care - Beaumont", rec.LocationName)
	assert.Equal(t, "John", rec.FirstName)
	assert.Equal(t, "1990-01-15", rec.DateOfBirth)
	assert.Equal(t, "", rec.EMRID)
}

func TestDetectorFallsBackToConfiguredLocation(t *testing.T) {
	sub := &fakeSubmitter{}
	d, err := NewDetector(DetectorConfig{Submitter: sub, LocationID: "unknown1"})
	require.NoError(t, err)

	_, _, err = d.HandleSubmission(context.Background(), "https://manage.solvhealth.com/queue", map[string]any{"firstName": "Ann"})
	require.NoError(t, err)
	require.Len(t, sub.records, 1)
	assert.Equal(t, "unknown1", sub.records[0].LocationID)
	assert.Equal(t, "Unknown Location (unknown1)", sub.records[0].LocationName)
}

func TestDetectorIgnoresDuplicatesAndEmpty(t *testing.T) {
	sub := &fakeSubmitter{}
	d, err := NewDetector(DetectorConfig{Submitter: sub})
	require.NoError(t, err)
	ctx := context.Background()
	form := map[string]any{"legalFirstName": "John"}

	_, captured, _ := d.HandleSubmission(ctx, "", form)
	assert.True(t, captured)
	_, captured, _ = d.HandleSubmission(ctx, "", form)
	assert.False(t, captured)
	_, captured, _ = d.HandleSubmission(ctx, "", nil)
	assert.False(t, captured)
	assert.Len(t, sub.records, 1)
}

type brokenTracker struct{}

func (brokenTracker) Track(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func TestDetectorCapturesWhenTrackerFails(t *testing.T) {
	sub := &fakeSubmitter{}
	d, err := NewDetector(DetectorConfig{Submitter: sub, Tracker: brokenTracker{}})
	require.NoError(t, err)

	_, captured, err := d.HandleSubmission(context.Background(), "", map[string]any{"legalFirstName": "John"})
	require.NoError(t, err)
	assert.True(t, captured)
}

func TestDetectorWrapsSubmitError(t *testing.T) {
	sub := &fakeSubmitter{err: errors.New("disk full")}
	d, err := NewDetector(DetectorConfig{Submitter: sub})
	require.NoError(t, err)

	_, captured, err := d.HandleSubmission(context.Background(), "", map[string]any{"legalFirstName": "John"})
	require.Error(t, err)
	assert.True(t, captured)
}

func TestNewDetectorRequiresSubmitter(t *testing.T) {
	_, err := NewDetector(DetectorConfig{})
	require.Error(t, err)
}
