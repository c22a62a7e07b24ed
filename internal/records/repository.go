// Package records persists finalized bookings. Persistence is an audit
// trail, not a correctness requirement for the user flow: a failed write
// is logged and never rolls back a confirmed booking.
package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no booking record matches.
var ErrNotFound = errors.New("records: booking record not found")

// BookingRecord is one confirmed, paid booking.
type BookingRecord struct {
	ID               uuid.UUID
	CaseNo           string
	PatientID        int64
	VisitID          int64
	TrCentreID       int64
	AppointmentID    int64
	StartTime        time.Time
	EndTime          time.Time
	AmountMinorUnits int64
	Currency         string
	CreatedAt        time.Time
}

// pgxExecutor is the slice of pgxpool.Pool the repository needs; pgxmock
// satisfies it in tests.
type pgxExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository stores booking records in the relational database.
type Repository struct {
	db pgxExecutor
}

// NewRepository initializes a repo backed by pgxpool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("records: pgx pool required")
	}
	return &Repository{db: pool}
}

// NewRepositoryWithDB allows injecting mocks for tests.
func NewRepositoryWithDB(db pgxExecutor) *Repository {
	return &Repository{db: db}
}

// Insert writes a confirmed booking row.
func (r *Repository) Insert(ctx context.Context, rec *BookingRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	query := `
		INSERT INTO booking_records (id, case_no, patient_id, visit_id, tr_centre_id, appointment_id, start_time, end_time, amount_minor_units, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	if _, err := r.db.Exec(ctx, query,
		rec.ID,
		rec.CaseNo,
		rec.PatientID,
		rec.VisitID,
		rec.TrCentreID,
		rec.AppointmentID,
		rec.StartTime,
		rec.EndTime,
		rec.AmountMinorUnits,
		rec.Currency,
	); err != nil {
		return fmt.Errorf("records: insert failed: %w", err)
	}
	return nil
}

// GetByCaseNo fetches a booking record by its case number.
func (r *Repository) GetByCaseNo(ctx context.Context, caseNo string) (*BookingRecord, error) {
	query := `
		SELECT id, case_no, patient_id, visit_id, tr_centre_id, appointment_id, start_time, end_time, amount_minor_units, currency, created_at
		FROM booking_records
		WHERE case_no = $1
	`
	var rec BookingRecord
	err := r.db.QueryRow(ctx, query, caseNo).Scan(
		&rec.ID,
		&rec.CaseNo,
		&rec.PatientID,
		&rec.VisitID,
		&rec.TrCentreID,
		&rec.AppointmentID,
		&rec.StartTime,
		&rec.EndTime,
		&rec.AmountMinorUnits,
		&rec.Currency,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("records: load by case no: %w", err)
	}
	return &rec, nil
}
