package treatment

import (
	"context"
	"strings"
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

type IDMinter interface {
	Mint(ctx context.Context, k sequence.Kind) (string, error)
}

const resource = "treatment"

type Service struct {
	repo   Repository
	dir    Directory
	ids    IDMinter
	clock  clock.Clock
	logger zerolog.Logger
}

func NewService(repo Repository, dir Directory, ids IDMinter, clk clock.Clock, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		dir:    dir,
		ids:    ids,
		clock:  clk,
		logger: logger.With().Str("component", "treatment").Logger(),
	}
}

type CreateInput struct {
	PatientID           uuid.UUID  `json:"patient_id" validate:"required"`
	DoctorID            *uuid.UUID `json:"doctor_id"`
	Diagnosis           string     `json:"diagnosis" validate:"required"`
	Medicines           []Medicine `json:"medicines" validate:"dive"`
	PrescribedTherapies []Therapy  `json:"prescribed_therapies" validate:"dive"`
	Status              Status     `json:"status" validate:"omitempty,oneof=ongoing completed cancelled follow-up"`
	Notes               *string    `json:"notes"`
	DurationDays        int        `json:"duration_days" validate:"gte=0"`
}

func validateLists(medicines []Medicine, therapies []Therapy) error {
	for i, m := range medicines {
		if strings.TrimSpace(m.Name) == "" || strings.TrimSpace(m.Dosage) == "" {
			return apperr.InvalidInput("medicines[%d]: name and dosage are required", i)
		}
	}
	for i, th := range therapies {
		if strings.TrimSpace(th.Name) == "" || th.Sessions < 1 {
			return apperr.InvalidInput("prescribed_therapies[%d]: name and at least one session are required", i)
		}
	}
	return nil
}

// Create issues a prescription. Only doctors and admins may prescribe; a
// doctor who names no prescriber prescribes as themselves.
func (s *Service) Create(ctx context.Context, r auth.Requester, in CreateInput) (*View, error) {
	if err := auth.RequireAnyRole(r, auth.RoleDoctor, auth.RoleAdmin); err != nil {
		return nil, err
	}
	if in.PatientID == uuid.Nil {
		return nil, apperr.InvalidInput("patient_id is required")
	}
	if strings.TrimSpace(in.Diagnosis) == "" {
		return nil, apperr.InvalidInput("diagnosis is required")
	}
	if in.DurationDays < 0 {
		return nil, apperr.InvalidInput("duration_days must not be negative")
	}
	if in.Status != "" && !in.Status.Stored() {
		return nil, apperr.InvalidInput("invalid status %q", in.Status)
	}
	if err := validateLists(in.Medicines, in.PrescribedTherapies); err != nil {
		return nil, err
	}

	doctorID := r.UserID
	if in.DoctorID != nil {
		doctorID = *in.DoctorID
	} else if r.Role != auth.RoleDoctor {
		return nil, apperr.InvalidInput("doctor_id is required")
	}
	if err := auth.Authorize(resource, doctorID, r); err != nil {
		return nil, err
	}

	if ok, err := s.dir.PatientExists(ctx, in.PatientID); err != nil {
		return nil, err
	} else if !ok {
		return nil, apperr.NotFound("patient %s not found", in.PatientID)
	}
	if ok, err := s.dir.DoctorExists(ctx, doctorID); err != nil {
		return nil, err
	} else if !ok {
		return nil, apperr.NotFound("doctor %s not found", doctorID)
	}

	treatmentID, err := s.ids.Mint(ctx, sequence.KindTreatment)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	t := &Treatment{
		ID:                  uuid.New(),
		TreatmentID:         treatmentID,
		PatientID:           in.PatientID,
		DoctorID:            doctorID,
		Diagnosis:           in.Diagnosis,
		Medicines:           in.Medicines,
		PrescribedTherapies: in.PrescribedTherapies,
		Status:              in.Status,
		Notes:               in.Notes,
		ValidUntil:          ValidUntil(now, in.DurationDays),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if t.Status == "" {
		t.Status = StatusOngoing
	}
	if t.Medicines == nil {
		t.Medicines = []Medicine{}
	}
	if t.PrescribedTherapies == nil {
		t.PrescribedTherapies = []Therapy{}
	}

	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("treatment_id", t.TreatmentID).
		Str("patient_id", t.PatientID.String()).
		Int("medicines", len(t.Medicines)).
		Msg("treatment created")

	v := NewView(t, now)
	return &v, nil
}

type UpdateInput struct {
	Diagnosis           *string     `json:"diagnosis" validate:"omitempty,min=1"`
	Medicines           *[]Medicine `json:"medicines"`
	PrescribedTherapies *[]Therapy  `json:"prescribed_therapies"`
	Status              *Status     `json:"status"`
	Notes               *string     `json:"notes"`
	// DurationDays recomputes the validity window from the creation time;
	// zero removes it.
	DurationDays *int `json:"duration_days" validate:"omitempty,gte=0"`
}

func (s *Service) Update(ctx context.Context, r auth.Requester, id uuid.UUID, in UpdateInput) (*View, error) {
	t, err := s.load(ctx, r, id)
	if err != nil {
		return nil, err
	}

	if in.Diagnosis != nil {
		if strings.TrimSpace(*in.Diagnosis) == "" {
			return nil, apperr.InvalidInput("diagnosis must not be empty")
		}
		t.Diagnosis = *in.Diagnosis
	}
	if in.Medicines != nil {
		t.Medicines = *in.Medicines
	}
	if in.PrescribedTherapies != nil {
		t.PrescribedTherapies = *in.PrescribedTherapies
	}
	if err := validateLists(t.Medicines, t.PrescribedTherapies); err != nil {
		return nil, err
	}
	if in.Status != nil {
		if !in.Status.Stored() {
			return nil, apperr.InvalidInput("invalid status %q", *in.Status)
		}
		t.Status = *in.Status
	}
	if in.Notes != nil {
		t.Notes = in.Notes
	}
	if in.DurationDays != nil {
		if *in.DurationDays < 0 {
			return nil, apperr.InvalidInput("duration_days must not be negative")
		}
		t.ValidUntil = ValidUntil(t.CreatedAt, *in.DurationDays)
	}

	now := s.clock.Now()
	t.UpdatedAt = now
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, err
	}
	s.logger.Info().Str("treatment_id", t.TreatmentID).Str("status", string(t.Status)).Msg("treatment updated")

	v := NewView(t, now)
	return &v, nil
}

func (s *Service) Delete(ctx context.Context, r auth.Requester, id uuid.UUID) error {
	t, err := s.load(ctx, r, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("treatment_id", t.TreatmentID).Msg("treatment deleted")
	return nil
}

// MarkPrinted flags the prescription as printed. Repeat calls succeed and
// keep the first printed_at.
func (s *Service) MarkPrinted(ctx context.Context, id uuid.UUID) (*View, error) {
	// printed_at is stored with microsecond precision.
	now := s.clock.Now().Truncate(time.Microsecond)
	t, err := s.repo.MarkPrinted(ctx, id, now)
	if err != nil {
		return nil, err
	}
	if t.PrintedAt != nil && t.PrintedAt.Equal(now) {
		s.logger.Info().Str("treatment_id", t.TreatmentID).Msg("treatment printed")
	}
	v := NewView(t, now)
	return &v, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*View, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	v := NewView(t, s.clock.Now())
	return &v, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]View, int, error) {
	items, total, err := s.repo.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return NewViews(items, s.clock.Now()), total, nil
}

func (s *Service) load(ctx context.Context, r auth.Requester, id uuid.UUID) (*Treatment, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := auth.Authorize(resource, t.DoctorID, r); err != nil {
		return nil, err
	}
	return t, nil
}
