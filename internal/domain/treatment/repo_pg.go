package treatment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinic/internal/platform/apperr"
	"github.com/clinicdesk/clinic/internal/platform/db"
)

type treatmentRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &treatmentRepoPG{pool: pool} }

func (r *treatmentRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const treatmentCols = `id, treatment_id, patient_id, doctor_id, diagnosis, medicines, prescribed_therapies,
	status, notes, valid_until, is_printed, printed_at, created_at, updated_at`

func (r *treatmentRepoPG) scanTreatment(row pgx.Row) (*Treatment, error) {
	var t Treatment
	var medicines, therapies []byte
	err := row.Scan(&t.ID, &t.TreatmentID, &t.PatientID, &t.DoctorID, &t.Diagnosis, &medicines, &therapies,
		&t.Status, &t.Notes, &t.ValidUntil, &t.IsPrinted, &t.PrintedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(medicines, &t.Medicines); err != nil {
		return nil, fmt.Errorf("decode medicines: %w", err)
	}
	if err := json.Unmarshal(therapies, &t.PrescribedTherapies); err != nil {
		return nil, fmt.Errorf("decode therapies: %w", err)
	}
	return &t, nil
}

func encodeLists(t *Treatment) (medicines, therapies []byte, err error) {
	if t.Medicines == nil {
		t.Medicines = []Medicine{}
	}
	if t.PrescribedTherapies == nil {
		t.PrescribedTherapies = []Therapy{}
	}
	if medicines, err = json.Marshal(t.Medicines); err != nil {
		return nil, nil, fmt.Errorf("encode medicines: %w", err)
	}
	if therapies, err = json.Marshal(t.PrescribedTherapies); err != nil {
		return nil, nil, fmt.Errorf("encode therapies: %w", err)
	}
	return medicines, therapies, nil
}

func (r *treatmentRepoPG) Create(ctx context.Context, t *Treatment) error {
	medicines, therapies, err := encodeLists(t)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO treatments (id, treatment_id, patient_id, doctor_id, diagnosis, medicines, prescribed_therapies,
			status, notes, valid_until, is_printed, printed_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		t.ID, t.TreatmentID, t.PatientID, t.DoctorID, t.Diagnosis, medicines, therapies,
		t.Status, t.Notes, t.ValidUntil, t.IsPrinted, t.PrintedAt, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert treatment: %w", err)
	}
	return nil
}

func (r *treatmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Treatment, error) {
	t, err := r.scanTreatment(r.conn(ctx).QueryRow(ctx, `SELECT `+treatmentCols+` FROM treatments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("treatment %s not found", id)
		}
		return nil, fmt.Errorf("get treatment: %w", err)
	}
	return t, nil
}

func (r *treatmentRepoPG) Update(ctx context.Context, t *Treatment) error {
	medicines, therapies, err := encodeLists(t)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE treatments SET diagnosis = $2, medicines = $3, prescribed_therapies = $4, status = $5,
			notes = $6, valid_until = $7, updated_at = $8
		WHERE id = $1`,
		t.ID, t.Diagnosis, medicines, therapies, t.Status, t.Notes, t.ValidUntil, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update treatment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("treatment %s not found", t.ID)
	}
	return nil
}

func (r *treatmentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM treatments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete treatment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("treatment %s not found", id)
	}
	return nil
}

func (r *treatmentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Treatment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM treatments WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count treatments: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+treatmentCols+` FROM treatments WHERE patient_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list treatments: %w", err)
	}
	defer rows.Close()
	var items []*Treatment
	for rows.Next() {
		t, err := r.scanTreatment(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan treatment: %w", err)
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

func (r *treatmentRepoPG) MarkPrinted(ctx context.Context, id uuid.UUID, at time.Time) (*Treatment, error) {
	t, err := r.scanTreatment(r.conn(ctx).QueryRow(ctx, `
		UPDATE treatments SET is_printed = TRUE, printed_at = COALESCE(printed_at, $2)
		WHERE id = $1
		RETURNING `+treatmentCols, id, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("treatment %s not found", id)
		}
		return nil, fmt.Errorf("mark treatment printed: %w", err)
	}
	return t, nil
}
