package directory

import (
	"time"

	"github.com/google/uuid"
)

type Patient struct {
	ID        uuid.UUID `json:"id"`
	PatientID string    `json:"patient_id"`
	Name      string    `json:"name"`
	Phone     *string   `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Doctor shares its primary key with the user account that signs in as it,
// so follow-up and treatment ownership compare against Requester.UserID.
type Doctor struct {
	ID             uuid.UUID `json:"id"`
	DoctorID       string    `json:"doctor_id"`
	Name           string    `json:"name"`
	Specialization *string   `json:"specialization,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Dependents counts the records that keep a patient from being deleted.
type Dependents struct {
	Invoices     int `json:"invoices"`
	Appointments int `json:"appointments"`
	Treatments   int `json:"treatments"`
}

func (d Dependents) Any() bool {
	return d.Invoices > 0 || d.Appointments > 0 || d.Treatments > 0
}
