package store

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/patient-capture/internal/observability/metrics"
	"github.com/wolfman30/patient-capture/internal/patient"
	"github.com/wolfman30/patient-capture/pkg/logging"
)

type fakeWriter struct {
	upserts   []patient.Record
	merged    map[string]patient.Key
	stored    map[string]bool
	upsertErr error
	mergeErr  error
	lookupErr error
}

func (f *fakeWriter) HasIdentifier(_ context.Context, emrID string) (bool, error) {
	if f.lookupErr != nil {
		return false, f.lookupErr
	}
	_, merged := f.merged[emrID]
	return merged || f.stored[emrID], nil
}

func (f *fakeWriter) Upsert(_ context.Context, rec patient.Record) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts = append(f.upserts, rec)
	return nil
}

func (f *fakeWriter) MergeIdentifier(_ context.Context, hint patient.Key, emrID string) error {
	if f.mergeErr != nil {
		return f.mergeErr
	}
	if f.merged == nil {
		f.merged = map[string]patient.Key{}
	}
	f.merged[emrID] = hint
	return nil
}

type fakeArchiver struct {
	archived []string
	err      error
}

func (f *fakeArchiver) Enabled() bool { return true }

func (f *fakeArchiver) ArchiveCapture(_ context.Context, rec patient.Record) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.archived = append(f.archived, rec.PatientID)
	return "captures/" + rec.PatientID, nil
}

func newTestSink(t *testing.T, log, db RecordWriter, arch Archiver) (*Sink, *prometheus.Registry, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	reg := prometheus.NewRegistry()
	m := metrics.NewReconcileMetrics(reg)
	sink, err := NewSink(SinkConfig{
		Log:     log,
		DB:      db,
		Archive: arch,
		Logger:  logging.NewWithWriter("debug", &buf),
		Metrics: m,
	})
	require.NoError(t, err)
	return sink, reg, &buf
}

func TestNewSinkRequiresLog(t *testing.T) {
	_, err := NewSink(SinkConfig{})
	assert.Error(t, err)
}

func TestSinkWriteInitialAllStores(t *testing.T) {
	log, db, arch := &fakeWriter{}, &fakeWriter{}, &fakeArchiver{}
	sink, _, _ := newTestSink(t, log, db, arch)

	require.NoError(t, sink.WriteInitial(context.Background(), sampleRecord()))
	assert.Len(t, log.upserts, 1)
	assert.Len(t, db.upserts, 1)
	assert.Equal(t, []string{"sub-1"}, arch.archived)
}

func TestSinkWriteInitialContinuesPastFailure(t *testing.T) {
	log := &fakeWriter{}
	db := &fakeWriter{upsertErr: errors.New("db down")}
	arch := &fakeArchiver{}
	sink, reg, buf := newTestSink(t, log, db, arch)

	err := sink.WriteInitial(context.Background(), sampleRecord())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.Len(t, log.upserts, 1)
	assert.Len(t, arch.archived, 1)
	assert.Contains(t, buf.String(), "persist failed")
	count, err := testutil.GatherAndCount(reg, "patient_capture_store_persist_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSinkWithoutDatabase(t *testing.T) {
	log := &fakeWriter{}
	sink, _, _ := newTestSink(t, log, nil, nil)
	ctx := context.Background()

	require.NoError(t, sink.WriteInitial(ctx, sampleRecord()))
	require.NoError(t, sink.MergeIdentifier(ctx, sampleRecord().Key(), "99"))
	assert.Equal(t, "sub-1", log.merged["99"].PatientID)
}

func TestSinkMergeIdentifierNoPendingRow(t *testing.T) {
	log := &fakeWriter{mergeErr: ErrNoPendingRow}
	db := &fakeWriter{}
	sink, _, buf := newTestSink(t, log, db, nil)
	ctx := context.Background()

	// one store had the row
	require.NoError(t, sink.MergeIdentifier(ctx, sampleRecord().Key(), "99"))
	assert.Contains(t, buf.String(), "some sinks only")

	db.mergeErr = ErrNoPendingRow
	assert.ErrorIs(t, sink.MergeIdentifier(ctx, sampleRecord().Key(), "100"), ErrNoPendingRow)

	db.mergeErr = errors.New("db down")
	err := sink.MergeIdentifier(ctx, sampleRecord().Key(), "101")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoPendingRow)
}

func TestSinkEndToEndWithJSONLog(t *testing.T) {
	log, _ := newTestLog(t)
	sink, _, _ := newTestSink(t, log, nil, nil)
	ctx := context.Background()
	rec := sampleRecord()

	require.NoError(t, sink.WriteInitial(ctx, rec))
	require.NoError(t, sink.MergeIdentifier(ctx, rec.Key(), "99"))
	require.NoError(t, sink.MergeIdentifier(ctx, rec.Key(), "99"))

	records, err := log.Load()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "99", records[0].EMRID)
}

func TestSinkHasIdentifier(t *testing.T) {
	log := &fakeWriter{}
	db := &fakeWriter{stored: map[string]bool{"77": true}}
	sink, reg, _ := newTestSink(t, log, db, nil)
	ctx := context.Background()

	found, err := sink.HasIdentifier(ctx, "77")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = sink.HasIdentifier(ctx, "99")
	require.NoError(t, err)
	assert.False(t, found)

	// the log still answers while the database is down
	log.stored = map[string]bool{"55": true}
	db.lookupErr = errors.New("db down")
	found, err = sink.HasIdentifier(ctx, "55")
	require.NoError(t, err)
	assert.True(t, found)

	_, err = sink.HasIdentifier(ctx, "56")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	count, err := testutil.GatherAndCount(reg, "patient_capture_store_persist_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
