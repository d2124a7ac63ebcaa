package directory

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Repository interface {
	CreatePatient(ctx context.Context, p *Patient) error
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	// LockPatient row-locks the patient until the surrounding transaction ends.
	LockPatient(ctx context.Context, id uuid.UUID) error
	DeletePatient(ctx context.Context, id uuid.UUID) error
	CountDependents(ctx context.Context, patientID uuid.UUID) (Dependents, error)

	CreateDoctor(ctx context.Context, d *Doctor) error
	GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)

	PatientExists(ctx context.Context, id uuid.UUID) (bool, error)
	DoctorExists(ctx context.Context, id uuid.UUID) (bool, error)
	AppointmentExists(ctx context.Context, id uuid.UUID) (bool, error)
	AppendBillingHistory(ctx context.Context, patientID, invoiceID uuid.UUID, amount decimal.Decimal) error
}
