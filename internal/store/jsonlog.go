package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wolfman30/patient-capture/internal/patient"
	"github.com/wolfman30/patient-capture/pkg/logging"
)

// JSONLog keeps every captured record in one JSON array on disk. Each write
// loads the file, changes it in memory and replaces it.
type JSONLog struct {
	path       string
	mu         sync.Mutex
	logger     *logging.Logger
	normalizer *patient.Normalizer
	now        func() time.Time
}

// NewJSONLog returns a log stored at path. The file is created on first write.
func NewJSONLog(path string, logger *logging.Logger) *JSONLog {
	if logger == nil {
		logger = logging.Default()
	}
	return &JSONLog{
		path:       path,
		logger:     logger.Component("json_log"),
		normalizer: patient.NewNormalizer(),
		now:        time.Now,
	}
}

// Path returns the file location.
func (l *JSONLog) Path() string { return l.path }

// Load returns every record in the log. A missing file is an empty log.
func (l *JSONLog) Load() ([]patient.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load()
}

// Read returns every record in the log without touching the file. Unlike
// Load, an undecodable log is an error and stays where it is.
func (l *JSONLog) Read() ([]patient.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	raw, err := l.readFile()
	if err != nil || raw == nil {
		return nil, err
	}
	records, err := DecodeRecords(raw, l.normalizer)
	if err != nil {
		return nil, fmt.Errorf("store: decode patient log: %w", err)
	}
	return records, nil
}

// HasIdentifier reports whether any entry already carries emrID.
func (l *JSONLog) HasIdentifier(_ context.Context, emrID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	records, err := l.load()
	if err != nil {
		return false, err
	}
	for _, r := range records {
		if r.EMRID == emrID {
			return true, nil
		}
	}
	return false, nil
}

// Upsert adds rec, or replaces the entry with the same row key. A stored EMR
// id is never cleared.
func (l *JSONLog) Upsert(_ context.Context, rec patient.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.load()
	if err != nil {
		return err
	}
	key := rec.Key()
	replaced := false
	for i := range records {
		if !sameKey(records[i].Key(), key) {
			continue
		}
		if records[i].EMRID != "" {
			rec.EMRID = records[i].EMRID
		}
		records[i] = rec
		replaced = true
		break
	}
	if !replaced {
		records = append(records, rec)
	}
	if err := l.write(records); err != nil {
		return err
	}
	l.logger.Debug("patient log updated", "path", l.path, "entries", len(records), "patient_id", rec.PatientID)
	return nil
}

// MergeIdentifier sets emrID on the entry with hint's exact key. Without one
// it takes the newest entry for the same patient and location, then the newest
// entry overall, that has no EMR id. It does nothing when emrID is already
// stored.
func (l *JSONLog) MergeIdentifier(_ context.Context, hint patient.Key, emrID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.load()
	if err != nil {
		return err
	}
	for _, r := range records {
		if r.EMRID == emrID {
			return nil
		}
	}

	idx := newestWithoutEMR(records, func(r patient.Record) bool {
		return sameKey(r.Key(), hint)
	})
	if idx < 0 {
		idx = newestWithoutEMR(records, func(r patient.Record) bool {
			return r.PatientID == hint.PatientID && r.LocationID == hint.LocationID
		})
	}
	if idx < 0 {
		idx = newestWithoutEMR(records, func(patient.Record) bool { return true })
		if idx >= 0 {
			l.logger.Warn("no log entry for submission, using most recent entry without emr id",
				"emr_id", emrID, "patient_id", hint.PatientID, "chosen_patient_id", records[idx].PatientID)
		}
	}
	if idx < 0 {
		return ErrNoPendingRow
	}
	records[idx].EMRID = emrID
	return l.write(records)
}

// load must be called with l.mu held.
func (l *JSONLog) load() ([]patient.Record, error) {
	raw, err := l.readFile()
	if err != nil || raw == nil {
		return nil, err
	}
	records, err := DecodeRecords(raw, l.normalizer)
	if err != nil {
		aside := fmt.Sprintf("%s.corrupt-%d", l.path, l.now().Unix())
		if renameErr := os.Rename(l.path, aside); renameErr != nil {
			return nil, fmt.Errorf("store: move corrupt patient log: %w", renameErr)
		}
		l.logger.Warn("patient log unreadable, starting fresh", "path", l.path, "moved_to", aside, "error", err)
		return nil, nil
	}
	return records, nil
}

// readFile returns nil for a missing or empty log.
func (l *JSONLog) readFile() ([]byte, error) {
	raw, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read patient log: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return raw, nil
}

// write must be called with l.mu held.
func (l *JSONLog) write(records []patient.Record) error {
	if records == nil {
		records = []patient.Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode patient log: %w", err)
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: create log dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(l.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("store: create temp log: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("store: write temp log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: close temp log: %w", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: replace patient log: %w", err)
	}
	return nil
}

func sameKey(a, b patient.Key) bool {
	return a.PatientID == b.PatientID && a.LocationID == b.LocationID && a.CapturedAt.Equal(b.CapturedAt)
}

// newestWithoutEMR returns the index of the latest captured entry that keep
// accepts and that has no EMR id, or -1. Later entries win ties.
func newestWithoutEMR(records []patient.Record, keep func(patient.Record) bool) int {
	best := -1
	for i, r := range records {
		if r.EMRID != "" || !keep(r) {
			continue
		}
		if best < 0 || !r.CapturedAt.Before(records[best].CapturedAt) {
			best = i
		}
	}
	return best
}
