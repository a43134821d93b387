package patients

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/patient-capture/internal/patient"
	"github.com/wolfman30/patient-capture/internal/store"
)

// Repository reads stored patients.
type Repository interface {
	FindByEMRID(ctx context.Context, emrID string) (*Patient, error)
	Ping(ctx context.Context) error
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// PostgresRepository reads from the patients table.
type PostgresRepository struct {
	pool querier
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("patients: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

func newPostgresRepositoryWithQuerier(q querier) *PostgresRepository {
	if q == nil {
		panic("patients: querier required")
	}
	return &PostgresRepository{pool: q}
}

const findByEMRIDSQL = `
	SELECT
		id, patient_id, COALESCE(solv_id, ''), COALESCE(emr_id, ''), location_id,
		COALESCE(location_name, ''), COALESCE(legal_first_name, ''), COALESCE(legal_last_name, ''),
		COALESCE(first_name, ''), COALESCE(last_name, ''), COALESCE(mobile_phone, ''),
		COALESCE(dob, ''), COALESCE(to_char(date_of_birth, 'YYYY-MM-DD'), ''),
		COALESCE(reason_for_visit, ''), COALESCE(sex_at_birth, ''), COALESCE(gender, ''),
		COALESCE(room, ''), captured_at, COALESCE(raw_data::text, ''), created_at, updated_at
	FROM patients
	WHERE emr_id = $1
	ORDER BY created_at DESC
	LIMIT 1
`

// FindByEMRID returns the most recently created row with emrID.
func (r *PostgresRepository) FindByEMRID(ctx context.Context, emrID string) (*Patient, error) {
	var (
		p   Patient
		raw string
	)
	err := r.pool.QueryRow(ctx, findByEMRIDSQL, emrID).Scan(
		&p.ID,
		&p.PatientID,
		&p.SolvID,
		&p.EMRID,
		&p.LocationID,
		&p.LocationName,
		&p.LegalFirstName,
		&p.LegalLastName,
		&p.FirstName,
		&p.LastName,
		&p.MobilePhone,
		&p.DOB,
		&p.DateOfBirth,
		&p.ReasonForVisit,
		&p.SexAtBirth,
		&p.Gender,
		&p.Room,
		&p.CapturedAt,
		&raw,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapQueryErr(err)
	}
	if raw != "" {
		p.RawData = []byte(raw)
	}
	return &p, nil
}

// Ping checks the database connection.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return wrapQueryErr(err)
	}
	return nil
}

func wrapQueryErr(err error) error {
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return fmt.Errorf("patients: query: %w", err)
}

// LogRecords is the subset of the JSON log used for reads.
type LogRecords interface {
	Read() ([]patient.Record, error)
}

// LogRepository serves lookups from the JSON patient log when no database
// is configured.
type LogRepository struct {
	log LogRecords
}

func NewLogRepository(log LogRecords) *LogRepository {
	return &LogRepository{log: log}
}

var _ LogRecords = (*store.JSONLog)(nil)

// FindByEMRID returns the latest captured entry with emrID.
func (r *LogRepository) FindByEMRID(_ context.Context, emrID string) (*Patient, error) {
	emrID = strings.TrimSpace(emrID)
	records, err := r.log.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	var found *patient.Record
	for i := range records {
		if emrID == "" || records[i].EMRID != emrID {
			continue
		}
		if found == nil || !records[i].CapturedAt.Before(found.CapturedAt) {
			found = &records[i]
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return &Patient{Record: *found, CreatedAt: found.CapturedAt, UpdatedAt: found.CapturedAt}, nil
}

// Ping reports whether the log is readable.
func (r *LogRepository) Ping(context.Context) error {
	if _, err := r.log.Read(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}
