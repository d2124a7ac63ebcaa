package followup

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic/internal/domain/sequence"
	"github.com/clinicdesk/clinic/internal/platform/apperr"
	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/internal/platform/clock"
)

type Directory interface {
	PatientExists(ctx context.Context, id uuid.UUID) (bool, error)
	DoctorExists(ctx context.Context, id uuid.UUID) (bool, error)
}

type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type IDMinter interface {
	Mint(ctx context.Context, k sequence.Kind) (string, error)
}

const resource = "follow-up"

type Service struct {
	repo   Repository
	dir    Directory
	tx     Transactor
	ids    IDMinter
	clock  clock.Clock
	logger zerolog.Logger
}

func NewService(repo Repository, dir Directory, tx Transactor, ids IDMinter, clk clock.Clock, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		dir:    dir,
		tx:     tx,
		ids:    ids,
		clock:  clk,
		logger: logger.With().Str("component", "followup").Logger(),
	}
}

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	return s.tx.InTx(ctx, fn)
}

type ScheduleInput struct {
	PatientID       uuid.UUID  `json:"patient_id" validate:"required"`
	DoctorID        uuid.UUID  `json:"doctor_id" validate:"required"`
	Date            string     `json:"date" validate:"required,datetime=2006-01-02"`
	Time            string     `json:"time" validate:"required,datetime=15:04"`
	Duration        int        `json:"duration" validate:"omitempty,gt=0,lte=480"`
	Type            string     `json:"type" validate:"omitempty,oneof=consultation follow-up therapy check-up emergency procedure"`
	Priority        string     `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	Notes           *string    `json:"notes"`
	Purpose         *string    `json:"purpose"`
	Location        string     `json:"location"`
	ReminderEnabled *bool      `json:"reminder_enabled"`
	FollowUpOf      *uuid.UUID `json:"follow_up_of"`
}

// Schedule books a new appointment in the scheduled state. The requester
// must be the assigned doctor or an admin.
func (s *Service) Schedule(ctx context.Context, r auth.Requester, in ScheduleInput) (*View, error) {
	if in.PatientID == uuid.Nil || in.DoctorID == uuid.Nil {
		return nil, apperr.InvalidInput("patient_id and doctor_id are required")
	}
	if in.Date == "" || in.Time == "" {
		return nil, apperr.InvalidInput("date and time are required")
	}
	date, err := ParseDate(in.Date)
	if err != nil {
		return nil, apperr.InvalidInput("%s", err.Error())
	}
	if !ValidTime(in.Time) {
		return nil, apperr.InvalidInput("invalid time %q: expected HH:MM", in.Time)
	}
	if err := auth.Authorize(resource, in.DoctorID, r); err != nil {
		return nil, err
	}

	if ok, err := s.dir.PatientExists(ctx, in.PatientID); err != nil {
		return nil, err
	} else if !ok {
		return nil, apperr.NotFound("patient %s not found", in.PatientID)
	}
	if ok, err := s.dir.DoctorExists(ctx, in.DoctorID); err != nil {
		return nil, err
	} else if !ok {
		return nil, apperr.NotFound("doctor %s not found", in.DoctorID)
	}
	if in.FollowUpOf != nil {
		if _, err := s.repo.GetByID(ctx, *in.FollowUpOf); err != nil {
			return nil, err
		}
	}

	apptID, err := s.ids.Mint(ctx, sequence.KindAppointment)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	f := &FollowUp{
		ID:                uuid.New(),
		AppointmentID:     apptID,
		PatientID:         in.PatientID,
		DoctorID:          in.DoctorID,
		Date:              date,
		Time:              in.Time,
		Duration:          in.Duration,
		Type:              in.Type,
		Status:            StatusScheduled,
		Priority:          in.Priority,
		Notes:             in.Notes,
		Purpose:           in.Purpose,
		Location:          in.Location,
		ReminderEnabled:   true,
		RescheduleHistory: []RescheduleEntry{},
		FollowUpOf:        in.FollowUpOf,
		CreatedBy:         r.UserID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if f.Duration == 0 {
		f.Duration = 30
	}
	if f.Type == "" {
		f.Type = TypeFollowUp
	}
	if f.Priority == "" {
		f.Priority = PriorityMedium
	}
	if in.ReminderEnabled != nil {
		f.ReminderEnabled = *in.ReminderEnabled
	}

	if err := s.repo.Create(ctx, f); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("appointment_id", f.AppointmentID).
		Str("doctor_id", f.DoctorID.String()).
		Str("date", in.Date).
		Msg("follow-up scheduled")

	v := Classify(f, now)
	return &v, nil
}

// load fetches the appointment and applies the ownership rule.
func (s *Service) load(ctx context.Context, r auth.Requester, id uuid.UUID) (*FollowUp, error) {
	f, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := auth.Authorize(resource, f.DoctorID, r); err != nil {
		return nil, err
	}
	return f, nil
}

func illegal(f *FollowUp, to Status) error {
	return apperr.Conflict("follow-up %s cannot move from %s to %s", f.AppointmentID, f.Status, to)
}

// Reschedule moves a non-terminal appointment to a new slot and records the
// previous one in its history.
func (s *Service) Reschedule(ctx context.Context, r auth.Requester, id uuid.UUID, newDate, newTime, reason string) (*View, error) {
	date, err := ParseDate(newDate)
	if err != nil {
		return nil, apperr.InvalidInput("%s", err.Error())
	}
	if !ValidTime(newTime) {
		return nil, apperr.InvalidInput("invalid time %q: expected HH:MM", newTime)
	}

	var f *FollowUp
	now := s.clock.Now()
	err = s.inTx(ctx, func(ctx context.Context) error {
		var err error
		f, err = s.load(ctx, r, id)
		if err != nil {
			return err
		}
		if !CanTransition(f.Status, StatusRescheduled) {
			return illegal(f, StatusRescheduled)
		}

		entry := RescheduleEntry{
			OriginalDate:  f.Date,
			OriginalTime:  f.Time,
			NewDate:       date,
			NewTime:       newTime,
			Reason:        reason,
			RescheduledBy: r.UserID,
			RescheduledAt: now,
		}
		prev := f.Status
		f.Date = date
		f.Time = newTime
		f.Status = StatusRescheduled
		f.UpdatedAt = now
		if err := s.repo.Update(ctx, f, prev); err != nil {
			return err
		}
		if err := s.repo.AppendReschedule(ctx, f.ID, entry); err != nil {
			return err
		}
		f.RescheduleHistory = append(f.RescheduleHistory, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", f.AppointmentID).
		Str("new_date", newDate).
		Str("new_time", newTime).
		Msg("follow-up rescheduled")
	v := Classify(f, now)
	return &v, nil
}

func (s *Service) MarkComplete(ctx context.Context, r auth.Requester, id uuid.UUID, outcomeNotes *string) (*View, error) {
	return s.move(ctx, r, id, StatusCompleted, func(f *FollowUp, now time.Time) {
		f.CompletedAt = &now
		if outcomeNotes != nil {
			f.OutcomeNotes = outcomeNotes
		}
	})
}

func (s *Service) Cancel(ctx context.Context, r auth.Requester, id uuid.UUID, reason string) (*View, error) {
	return s.move(ctx, r, id, StatusCancelled, func(f *FollowUp, _ time.Time) {
		f.CancellationReason = &reason
	})
}

// Transition covers the edges without dedicated operations.
func (s *Service) Transition(ctx context.Context, r auth.Requester, id uuid.UUID, to Status) (*View, error) {
	switch to {
	case StatusConfirmed, StatusCheckedIn, StatusInProgress, StatusNoShow:
	case StatusCompleted, StatusCancelled, StatusRescheduled:
		return nil, apperr.InvalidInput("use the dedicated operation to move a follow-up to %s", to)
	default:
		return nil, apperr.InvalidInput("unknown status %q", to)
	}
	return s.move(ctx, r, id, to, nil)
}

func (s *Service) move(ctx context.Context, r auth.Requester, id uuid.UUID, to Status, apply func(f *FollowUp, now time.Time)) (*View, error) {
	f, err := s.load(ctx, r, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(f.Status, to) {
		return nil, illegal(f, to)
	}

	now := s.clock.Now()
	prev := f.Status
	f.Status = to
	f.UpdatedAt = now
	if apply != nil {
		apply(f, now)
	}
	if err := s.repo.Update(ctx, f, prev); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", f.AppointmentID).
		Str("from", string(prev)).
		Str("to", string(to)).
		Msg("follow-up status changed")
	v := Classify(f, now)
	return &v, nil
}

type UpdateInput struct {
	Date            *string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Time            *string `json:"time" validate:"omitempty,datetime=15:04"`
	Duration        *int    `json:"duration" validate:"omitempty,gt=0,lte=480"`
	Purpose         *string `json:"purpose"`
	Priority        *string `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	Notes           *string `json:"notes"`
	Location        *string `json:"location"`
	ReminderEnabled *bool   `json:"reminder_enabled"`
	Status          *Status `json:"status"`
}

// Update edits fields in place. Moving the slot records a history entry
// without changing status; a status change must be a legal transition and
// may not target rescheduled, which only Reschedule produces.
func (s *Service) Update(ctx context.Context, r auth.Requester, id uuid.UUID, in UpdateInput) (*View, error) {
	var f *FollowUp
	now := s.clock.Now()
	err := s.inTx(ctx, func(ctx context.Context) error {
		var err error
		f, err = s.load(ctx, r, id)
		if err != nil {
			return err
		}
		prev := f.Status

		if in.Date != nil || in.Time != nil {
			if f.Status.Terminal() {
				return apperr.Conflict("follow-up %s is %s and cannot be moved", f.AppointmentID, f.Status)
			}
			newDate, newTime := f.Date, f.Time
			if in.Date != nil {
				if newDate, err = ParseDate(*in.Date); err != nil {
					return apperr.InvalidInput("%s", err.Error())
				}
			}
			if in.Time != nil {
				if !ValidTime(*in.Time) {
					return apperr.InvalidInput("invalid time %q: expected HH:MM", *in.Time)
				}
				newTime = *in.Time
			}
			if !newDate.Equal(f.Date) || newTime != f.Time {
				entry := RescheduleEntry{
					OriginalDate:  f.Date,
					OriginalTime:  f.Time,
					NewDate:       newDate,
					NewTime:       newTime,
					Reason:        "edited",
					RescheduledBy: r.UserID,
					RescheduledAt: now,
				}
				if err := s.repo.AppendReschedule(ctx, f.ID, entry); err != nil {
					return err
				}
				f.RescheduleHistory = append(f.RescheduleHistory, entry)
				f.Date, f.Time = newDate, newTime
			}
		}

		if in.Status != nil && *in.Status != f.Status {
			to := *in.Status
			if !to.Valid() {
				return apperr.InvalidInput("unknown status %q", to)
			}
			if to == StatusRescheduled {
				return apperr.InvalidInput("use reschedule to move a follow-up to a new slot")
			}
			if !CanTransition(f.Status, to) {
				return illegal(f, to)
			}
			f.Status = to
			if to == StatusCompleted {
				f.CompletedAt = &now
			}
		}

		if in.Duration != nil {
			f.Duration = *in.Duration
		}
		if in.Purpose != nil {
			f.Purpose = in.Purpose
		}
		if in.Priority != nil {
			f.Priority = *in.Priority
		}
		if in.Notes != nil {
			f.Notes = in.Notes
		}
		if in.Location != nil {
			f.Location = *in.Location
		}
		if in.ReminderEnabled != nil {
			f.ReminderEnabled = *in.ReminderEnabled
		}
		f.UpdatedAt = now
		return s.repo.Update(ctx, f, prev)
	})
	if err != nil {
		return nil, err
	}
	v := Classify(f, now)
	return &v, nil
}

func (s *Service) Delete(ctx context.Context, r auth.Requester, id uuid.UUID) error {
	f, err := s.load(ctx, r, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("appointment_id", f.AppointmentID).Msg("follow-up deleted")
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*View, error) {
	f, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	v := Classify(f, s.clock.Now())
	return &v, nil
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]View, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, apperr.InvalidInput("unknown status %q", f.Status)
	}
	now := s.clock.Now()
	f.Today = Today(now)
	items, total, err := s.repo.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return ClassifyAll(items, now), total, nil
}

func (s *Service) Recent(ctx context.Context, limit int) ([]View, error) {
	if limit <= 0 {
		limit = 5
	}
	items, err := s.repo.Recent(ctx, limit)
	if err != nil {
		return nil, err
	}
	return ClassifyAll(items, s.clock.Now()), nil
}
