package directory

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinicdesk/clinic/internal/domain/sequence"
	"github.com/clinicdesk/clinic/internal/platform/apperr"
	"github.com/clinicdesk/clinic/internal/platform/clock"
)

type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type IDMinter interface {
	Mint(ctx context.Context, k sequence.Kind) (string, error)
}

// Service is the patient and doctor registry. It also serves as the
// existence-check collaborator for billing, follow-ups and treatments.
type Service struct {
	repo   Repository
	tx     Transactor
	ids    IDMinter
	clock  clock.Clock
	logger zerolog.Logger
}

func NewService(repo Repository, tx Transactor, ids IDMinter, clk clock.Clock, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		tx:     tx,
		ids:    ids,
		clock:  clk,
		logger: logger.With().Str("component", "directory").Logger(),
	}
}

type PatientInput struct {
	Name  string  `json:"name" validate:"required,max=255"`
	Phone *string `json:"phone" validate:"omitempty,max=32"`
}

func (s *Service) RegisterPatient(ctx context.Context, in PatientInput) (*Patient, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperr.InvalidInput("name is required")
	}
	patientID, err := s.ids.Mint(ctx, sequence.KindPatient)
	if err != nil {
		return nil, err
	}
	p := &Patient{
		ID:        uuid.New(),
		PatientID: patientID,
		Name:      in.Name,
		Phone:     in.Phone,
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.CreatePatient(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info().Str("patient_id", p.PatientID).Msg("patient registered")
	return p, nil
}

type DoctorInput struct {
	UserID         uuid.UUID `json:"user_id" validate:"required"`
	Name           string    `json:"name" validate:"required,max=255"`
	Specialization *string   `json:"specialization" validate:"omitempty,max=128"`
}

// RegisterDoctor creates the doctor profile for an existing user account.
func (s *Service) RegisterDoctor(ctx context.Context, in DoctorInput) (*Doctor, error) {
	if in.UserID == uuid.Nil {
		return nil, apperr.InvalidInput("user_id is required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperr.InvalidInput("name is required")
	}
	doctorID, err := s.ids.Mint(ctx, sequence.KindDoctor)
	if err != nil {
		return nil, err
	}
	d := &Doctor{
		ID:             in.UserID,
		DoctorID:       doctorID,
		Name:           in.Name,
		Specialization: in.Specialization,
		CreatedAt:      s.clock.Now(),
	}
	if err := s.repo.CreateDoctor(ctx, d); err != nil {
		return nil, err
	}
	s.logger.Info().Str("doctor_id", d.DoctorID).Msg("doctor registered")
	return d, nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetPatient(ctx, id)
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.repo.GetDoctor(ctx, id)
}

// DeletePatient removes a patient with no invoices, appointments or
// treatments. The patient row stays locked between the check and the delete.
func (s *Service) DeletePatient(ctx context.Context, id uuid.UUID) error {
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.LockPatient(ctx, id); err != nil {
			return err
		}
		deps, err := s.repo.CountDependents(ctx, id)
		if err != nil {
			return err
		}
		if deps.Any() {
			return apperr.Conflict("patient has %d invoices, %d appointments and %d treatments",
				deps.Invoices, deps.Appointments, deps.Treatments)
		}
		return s.repo.DeletePatient(ctx, id)
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("patient", id.String()).Msg("patient deleted")
	return nil
}

func (s *Service) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.repo.PatientExists(ctx, id)
}

func (s *Service) DoctorExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.repo.DoctorExists(ctx, id)
}

func (s *Service) AppointmentExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.repo.AppointmentExists(ctx, id)
}

func (s *Service) AppendBillingHistory(ctx context.Context, patientID, invoiceID uuid.UUID, amount decimal.Decimal) error {
	return s.repo.AppendBillingHistory(ctx, patientID, invoiceID, amount)
}
