package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/clinicdesk/clinic/internal/platform/apperr"
	"github.com/clinicdesk/clinic/internal/platform/db"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

type directoryRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &directoryRepoPG{pool: pool} }

func (r *directoryRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func (r *directoryRepoPG) CreatePatient(ctx context.Context, p *Patient) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patients (id, patient_id, name, phone, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.PatientID, p.Name, p.Phone, p.CreatedAt)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return apperr.Conflict("patient %s already exists", p.PatientID)
		}
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (r *directoryRepoPG) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, patient_id, name, phone, created_at FROM patients WHERE id = $1`, id).
		Scan(&p.ID, &p.PatientID, &p.Name, &p.Phone, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("patient %s not found", id)
		}
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return &p, nil
}

func (r *directoryRepoPG) LockPatient(ctx context.Context, id uuid.UUID) error {
	var locked uuid.UUID
	err := r.conn(ctx).QueryRow(ctx, `SELECT id FROM patients WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("patient %s not found", id)
		}
		return fmt.Errorf("lock patient: %w", err)
	}
	return nil
}

func (r *directoryRepoPG) DeletePatient(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patients WHERE id = $1`, id)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return apperr.Conflict("patient %s still has dependent records", id)
		}
		return fmt.Errorf("delete patient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("patient %s not found", id)
	}
	return nil
}

func (r *directoryRepoPG) CountDependents(ctx context.Context, patientID uuid.UUID) (Dependents, error) {
	var d Dependents
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM invoices WHERE patient_id = $1),
			(SELECT COUNT(*) FROM appointments WHERE patient_id = $1),
			(SELECT COUNT(*) FROM treatments WHERE patient_id = $1)`, patientID).
		Scan(&d.Invoices, &d.Appointments, &d.Treatments)
	if err != nil {
		return Dependents{}, fmt.Errorf("count patient dependents: %w", err)
	}
	return d, nil
}

func (r *directoryRepoPG) CreateDoctor(ctx context.Context, d *Doctor) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO doctors (id, doctor_id, name, specialization, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		d.ID, d.DoctorID, d.Name, d.Specialization, d.CreatedAt)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return apperr.Conflict("doctor %s already exists", d.ID)
		}
		return fmt.Errorf("insert doctor: %w", err)
	}
	return nil
}

func (r *directoryRepoPG) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	var d Doctor
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, doctor_id, name, specialization, created_at FROM doctors WHERE id = $1`, id).
		Scan(&d.ID, &d.DoctorID, &d.Name, &d.Specialization, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("doctor %s not found", id)
		}
		return nil, fmt.Errorf("get doctor: %w", err)
	}
	return &d, nil
}

func (r *directoryRepoPG) exists(ctx context.Context, query string, id uuid.UUID) (bool, error) {
	var ok bool
	if err := r.conn(ctx).QueryRow(ctx, query, id).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (r *directoryRepoPG) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	ok, err := r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM patients WHERE id = $1)`, id)
	if err != nil {
		return false, fmt.Errorf("check patient: %w", err)
	}
	return ok, nil
}

func (r *directoryRepoPG) DoctorExists(ctx context.Context, id uuid.UUID) (bool, error) {
	ok, err := r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM doctors WHERE id = $1)`, id)
	if err != nil {
		return false, fmt.Errorf("check doctor: %w", err)
	}
	return ok, nil
}

func (r *directoryRepoPG) AppointmentExists(ctx context.Context, id uuid.UUID) (bool, error) {
	ok, err := r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM appointments WHERE id = $1)`, id)
	if err != nil {
		return false, fmt.Errorf("check appointment: %w", err)
	}
	return ok, nil
}

func (r *directoryRepoPG) AppendBillingHistory(ctx context.Context, patientID, invoiceID uuid.UUID, amount decimal.Decimal) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_billing_history (patient_id, invoice_id, amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (patient_id, invoice_id) DO NOTHING`,
		patientID, invoiceID, amount)
	if err != nil {
		return fmt.Errorf("append billing history: %w", err)
	}
	return nil
}
