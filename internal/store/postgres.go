package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/patient-capture/internal/patient"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ConflictMode decides what an import does with rows that already exist.
type ConflictMode string

const (
	ConflictUpdate ConflictMode = "update"
	ConflictIgnore ConflictMode = "ignore"
)

// ParseConflictMode accepts "update" or "ignore".
func ParseConflictMode(s string) (ConflictMode, error) {
	switch ConflictMode(strings.ToLower(strings.TrimSpace(s))) {
	case ConflictUpdate:
		return ConflictUpdate, nil
	case ConflictIgnore:
		return ConflictIgnore, nil
	default:
		return "", fmt.Errorf("store: unknown conflict mode %q", s)
	}
}

const insertColumns = `
	INSERT INTO patients (
		patient_id, solv_id, emr_id, location_id, location_name,
		legal_first_name, legal_last_name, first_name, last_name,
		mobile_phone, dob, date_of_birth, reason_for_visit,
		sex_at_birth, gender, room, captured_at, raw_data
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
`

const upsertSQL = insertColumns + `
	ON CONFLICT (patient_id, location_id, captured_at) DO UPDATE SET
		solv_id = EXCLUDED.solv_id,
		emr_id = COALESCE(patients.emr_id, EXCLUDED.emr_id),
		location_name = EXCLUDED.location_name,
		legal_first_name = EXCLUDED.legal_first_name,
		legal_last_name = EXCLUDED.legal_last_name,
		first_name = EXCLUDED.first_name,
		last_name = EXCLUDED.last_name,
		mobile_phone = EXCLUDED.mobile_phone,
		dob = EXCLUDED.dob,
		date_of_birth = EXCLUDED.date_of_birth,
		reason_for_visit = EXCLUDED.reason_for_visit,
		sex_at_birth = EXCLUDED.sex_at_birth,
		gender = EXCLUDED.gender,
		room = EXCLUDED.room,
		raw_data = EXCLUDED.raw_data,
		updated_at = NOW()
`

const insertIgnoreSQL = insertColumns + `
	ON CONFLICT (patient_id, location_id, captured_at) DO NOTHING
`

const emrExistsSQL = `SELECT 1 FROM patients WHERE emr_id = $1 LIMIT 1`

const mergeByExactKeySQL = `
	UPDATE patients SET emr_id = $1, updated_at = NOW()
	WHERE patient_id = $2 AND location_id = $3 AND captured_at = $4 AND emr_id IS NULL
`

const mergeByKeySQL = `
	UPDATE patients SET emr_id = $1, updated_at = NOW()
	WHERE id = (
		SELECT id FROM patients
		WHERE patient_id = $2 AND location_id = $3 AND emr_id IS NULL
		ORDER BY captured_at DESC, id DESC
		LIMIT 1
	)
`

const mergeMostRecentSQL = `
	UPDATE patients SET emr_id = $1, updated_at = NOW()
	WHERE id = (
		SELECT id FROM patients
		WHERE emr_id IS NULL
		ORDER BY captured_at DESC, id DESC
		LIMIT 1
	)
`

// PostgresRepository writes captured patients to the patients table.
type PostgresRepository struct {
	pool rowQuerier
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("store: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

func newPostgresRepositoryWithExec(exec rowQuerier) *PostgresRepository {
	if exec == nil {
		panic("store: exec required")
	}
	return &PostgresRepository{pool: exec}
}

// Upsert inserts rec or updates the row with the same key. A stored EMR id is
// kept.
func (r *PostgresRepository) Upsert(ctx context.Context, rec patient.Record) error {
	if _, err := r.pool.Exec(ctx, upsertSQL, recordArgs(rec)...); err != nil {
		return fmt.Errorf("store: upsert patient: %w", err)
	}
	return nil
}

// Import writes records with the given conflict mode and returns how many
// rows changed.
func (r *PostgresRepository) Import(ctx context.Context, records []patient.Record, mode ConflictMode) (int, error) {
	query := upsertSQL
	if mode == ConflictIgnore {
		query = insertIgnoreSQL
	}
	var changed int
	for _, rec := range records {
		ct, err := r.pool.Exec(ctx, query, recordArgs(rec)...)
		if err != nil {
			return changed, fmt.Errorf("store: import patient %s: %w", rec.PatientID, err)
		}
		changed += int(ct.RowsAffected())
	}
	return changed, nil
}

// HasIdentifier reports whether any row already carries emrID.
func (r *PostgresRepository) HasIdentifier(ctx context.Context, emrID string) (bool, error) {
	var exists int
	err := r.pool.QueryRow(ctx, emrExistsSQL, emrID).Scan(&exists)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, pgx.ErrNoRows):
		return false, nil
	default:
		return false, fmt.Errorf("store: check emr id: %w", err)
	}
}

// MergeIdentifier sets emrID on the row with hint's exact key. Without one it
// takes the newest row for the same patient and location, then the newest row
// overall, lacking an EMR id. It is a no-op when emrID is already stored.
func (r *PostgresRepository) MergeIdentifier(ctx context.Context, hint patient.Key, emrID string) error {
	stored, err := r.HasIdentifier(ctx, emrID)
	if err != nil {
		return err
	}
	if stored {
		return nil
	}

	ct, err := r.pool.Exec(ctx, mergeByExactKeySQL, emrID, hint.PatientID, hint.LocationID, hint.CapturedAt)
	if err != nil {
		return mergeErr(err)
	}
	if ct.RowsAffected() > 0 {
		return nil
	}

	ct, err = r.pool.Exec(ctx, mergeByKeySQL, emrID, hint.PatientID, hint.LocationID)
	if err != nil {
		return mergeErr(err)
	}
	if ct.RowsAffected() > 0 {
		return nil
	}

	ct, err = r.pool.Exec(ctx, mergeMostRecentSQL, emrID)
	if err != nil {
		return mergeErr(err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNoPendingRow
	}
	return nil
}

// mergeErr treats a unique violation as a concurrent merge of the same id.
func mergeErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return nil
	}
	return fmt.Errorf("store: merge emr id: %w", err)
}

func recordArgs(rec patient.Record) []any {
	raw := "{}"
	if len(rec.RawData) > 0 {
		raw = string(rec.RawData)
	}
	return []any{
		rec.PatientID,
		nullable(rec.SolvID),
		nullable(rec.EMRID),
		rec.LocationID,
		nullable(rec.LocationName),
		nullable(rec.LegalFirstName),
		nullable(rec.LegalLastName),
		nullable(rec.FirstName),
		nullable(rec.LastName),
		nullable(rec.MobilePhone),
		nullable(rec.DOB),
		isoDate(rec.DateOfBirth),
		nullable(rec.ReasonForVisit),
		nullable(rec.SexAtBirth),
		nullable(rec.Gender),
		nullable(rec.Room),
		rec.CapturedAt,
		raw,
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isoDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}
