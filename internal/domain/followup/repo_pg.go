package followup

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinic/internal/platform/apperr"
	"github.com/clinicdesk/clinic/internal/platform/db"
)

type followUpRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &followUpRepoPG{pool: pool} }

func (r *followUpRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const apptCols = `id, appointment_id, patient_id, doctor_id, date, time, duration, type, status,
	priority, notes, purpose, location, reminder_enabled, outcome_notes, completed_at,
	cancellation_reason, follow_up_of, created_by, created_at, updated_at`

func (r *followUpRepoPG) scanFollowUp(row pgx.Row) (*FollowUp, error) {
	var f FollowUp
	err := row.Scan(&f.ID, &f.AppointmentID, &f.PatientID, &f.DoctorID, &f.Date, &f.Time, &f.Duration, &f.Type, &f.Status,
		&f.Priority, &f.Notes, &f.Purpose, &f.Location, &f.ReminderEnabled, &f.OutcomeNotes, &f.CompletedAt,
		&f.CancellationReason, &f.FollowUpOf, &f.CreatedBy, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	f.RescheduleHistory = []RescheduleEntry{}
	return &f, nil
}

func (r *followUpRepoPG) Create(ctx context.Context, f *FollowUp) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointments (id, appointment_id, patient_id, doctor_id, date, time, duration, type, status,
			priority, notes, purpose, location, reminder_enabled, outcome_notes, completed_at,
			cancellation_reason, follow_up_of, created_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		f.ID, f.AppointmentID, f.PatientID, f.DoctorID, f.Date, f.Time, f.Duration, f.Type, f.Status,
		f.Priority, f.Notes, f.Purpose, f.Location, f.ReminderEnabled, f.OutcomeNotes, f.CompletedAt,
		f.CancellationReason, f.FollowUpOf, f.CreatedBy, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *followUpRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*FollowUp, error) {
	f, err := r.scanFollowUp(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("follow-up %s not found", id)
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT original_date, original_time, new_date, new_time, reason, rescheduled_by, rescheduled_at
		FROM appointment_reschedules WHERE appointment_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("query reschedule history: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e RescheduleEntry
		if err := rows.Scan(&e.OriginalDate, &e.OriginalTime, &e.NewDate, &e.NewTime, &e.Reason, &e.RescheduledBy, &e.RescheduledAt); err != nil {
			return nil, fmt.Errorf("scan reschedule entry: %w", err)
		}
		f.RescheduleHistory = append(f.RescheduleHistory, e)
	}
	return f, rows.Err()
}

func (r *followUpRepoPG) Update(ctx context.Context, f *FollowUp, expected Status) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointments SET date = $2, time = $3, duration = $4, type = $5, status = $6,
			priority = $7, notes = $8, purpose = $9, location = $10, reminder_enabled = $11,
			outcome_notes = $12, completed_at = $13, cancellation_reason = $14, updated_at = $15
		WHERE id = $1 AND status = $16`,
		f.ID, f.Date, f.Time, f.Duration, f.Type, f.Status,
		f.Priority, f.Notes, f.Purpose, f.Location, f.ReminderEnabled,
		f.OutcomeNotes, f.CompletedAt, f.CancellationReason, f.UpdatedAt, expected)
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM appointments WHERE id = $1)`, f.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check appointment: %w", err)
		}
		if !exists {
			return apperr.NotFound("follow-up %s not found", f.ID)
		}
		return apperr.Conflict("follow-up %s changed status concurrently", f.AppointmentID)
	}
	return nil
}

func (r *followUpRepoPG) AppendReschedule(ctx context.Context, id uuid.UUID, e RescheduleEntry) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointment_reschedules (appointment_id, original_date, original_time, new_date, new_time,
			reason, rescheduled_by, rescheduled_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		id, e.OriginalDate, e.OriginalTime, e.NewDate, e.NewTime, e.Reason, e.RescheduledBy, e.RescheduledAt)
	if err != nil {
		return fmt.Errorf("insert reschedule entry: %w", err)
	}
	return nil
}

// Delete is unconditional. Invoices billed against the appointment stay and
// lose the reference (ON DELETE SET NULL).
func (r *followUpRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("follow-up %s not found", id)
	}
	return nil
}

func buildWhere(f Filter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.DoctorID != nil {
		add("doctor_id = $%d", *f.DoctorID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.Type != "" {
		add("type = $%d", f.Type)
	}
	if f.From != nil {
		add("date >= $%d", *f.From)
	}
	if f.To != nil {
		add("date <= $%d", *f.To)
	}
	if f.Overdue {
		add("date < $%d AND status IN ('scheduled', 'confirmed')", f.Today)
	}
	if f.Upcoming {
		add("date >= $%d AND status NOT IN ('completed', 'cancelled', 'no-show')", f.Today)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *followUpRepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*FollowUp, int, error) {
	where, args := buildWhere(f)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, "SELECT COUNT(*) FROM appointments"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	n := len(args)
	args = append(args, limit, offset)
	items, err := r.query(ctx,
		fmt.Sprintf("SELECT %s FROM appointments%s ORDER BY date, time LIMIT $%d OFFSET $%d", apptCols, where, n+1, n+2),
		args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *followUpRepoPG) Recent(ctx context.Context, limit int) ([]*FollowUp, error) {
	return r.query(ctx, `SELECT `+apptCols+` FROM appointments ORDER BY updated_at DESC LIMIT $1`, limit)
}

// query returns appointments without their reschedule history.
func (r *followUpRepoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*FollowUp, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()
	var items []*FollowUp
	for rows.Next() {
		f, err := r.scanFollowUp(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		items = append(items, f)
	}
	return items, rows.Err()
}
