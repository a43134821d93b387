package reconcile

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/patient-capture/internal/patient"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("sub-%d", n)
	}
}

func newTestSet(clock *fakeClock) *PendingSet {
	return NewPendingSet(PendingSetConfig{
		MinWait: 3 * time.Second,
		MaxWait: 2 * time.Minute,
		Now:     clock.Now,
		NewID:   sequentialIDs(),
	})
}

func person(first, last, phone string) patient.Record {
	return patient.Record{LegalFirstName: first, LegalLastName: last, FirstName: first, LastName: last, MobilePhone: phone}
}

func TestPendingSetAddDefaultsPatientID(t *testing.T) {
	set := newTestSet(newFakeClock())
	id := set.Add(person("John", "Doe", ""))

	entry, ok := set.Get(id)
	require.True(t, ok)
	assert.Equal(t, "sub-1", entry.SubmissionID)
	assert.Equal(t, "sub-1", entry.Record.PatientID)
	assert.Equal(t, "John", entry.Identity.FirstName)

	rec := person("Jane", "Doe", "")
	rec.PatientID = "p-77"
	id = set.Add(rec)
	entry, _ = set.Get(id)
	assert.Equal(t, "p-77", entry.Record.PatientID)
}

func TestPendingSetOrderingAndEligibility(t *testing.T) {
	clock := newFakeClock()
	set := newTestSet(clock)
	first := set.Add(person("John", "Doe", ""))
	clock.Advance(2 * time.Second)
	second := set.Add(person("Jane", "Doe", ""))

	all := set.AllPending()
	require.Len(t, all, 2)
	assert.Equal(t, first, all[0].SubmissionID)
	assert.Equal(t, second, all[1].SubmissionID)

	eligible := set.Eligible(clock.Now().Add(time.Second))
	require.Len(t, eligible, 1)
	assert.Equal(t, first, eligible[0].SubmissionID)

	assert.Len(t, set.Eligible(clock.Now().Add(5*time.Second)), 2)
}

func TestPendingSetFindUnboundByIdentity(t *testing.T) {
	set := newTestSet(newFakeClock())
	john := set.Add(person("John", "Doe", ""))
	set.Add(person("Jane", "Doe", ""))

	got, ok := set.FindUnboundByIdentity(patient.Identity{FirstName: "john", LastName: "DOE"})
	require.True(t, ok)
	assert.Equal(t, john, got.SubmissionID)

	_, ok = set.FindUnboundByIdentity(patient.Identity{LastName: "Doe"})
	assert.False(t, ok, "two records share the last name")

	_, ok = set.FindUnboundByIdentity(patient.Identity{})
	assert.False(t, ok)
}

func TestPendingSetBindOnce(t *testing.T) {
	set := newTestSet(newFakeClock())
	id := set.Add(person("John", "Doe", ""))

	entry, err := set.Bind(id, "99", "bk-1")
	require.NoError(t, err)
	assert.Equal(t, "99", entry.ExternalID)
	assert.Equal(t, "99", entry.Record.EMRID)
	assert.Empty(t, set.AllPending(), "bound entries are not pending")

	_, err = set.Bind(id, "100", "")
	assert.True(t, errors.Is(err, ErrAlreadyBound))
	entry, _ = set.Get(id)
	assert.Equal(t, "99", entry.ExternalID)

	_, err = set.Bind("missing", "1", "")
	assert.True(t, errors.Is(err, ErrUnknownSubmission))
}

func TestPendingSetSweepEvictsAfterMaxWait(t *testing.T) {
	clock := newFakeClock()
	set := newTestSet(clock)
	old := set.Add(person("John", "Doe", ""))
	clock.Advance(90 * time.Second)
	fresh := set.Add(person("Jane", "Doe", ""))

	assert.Empty(t, set.Sweep(clock.Now()))

	clock.Advance(31 * time.Second)
	expired := set.Sweep(clock.Now())
	require.Len(t, expired, 1)
	assert.Equal(t, old, expired[0].SubmissionID)

	_, ok := set.Get(old)
	assert.False(t, ok)
	_, ok = set.Get(fresh)
	assert.True(t, ok)
}

func TestPendingSetRemove(t *testing.T) {
	set := newTestSet(newFakeClock())
	id := set.Add(person("John", "Doe", ""))
	set.Remove(id)
	set.Remove("unknown")
	assert.Equal(t, 0, set.Len())
}

func TestNewPendingSetClampsMinWait(t *testing.T) {
	set := NewPendingSet(PendingSetConfig{MinWait: time.Hour, MaxWait: time.Minute})
	assert.Equal(t, time.Duration(0), set.MinWait())
	assert.Equal(t, time.Minute, set.MaxWait())
}
