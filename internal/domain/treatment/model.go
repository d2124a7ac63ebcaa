package treatment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusOngoing   Status = "ongoing"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFollowUp  Status = "follow-up"

	// StatusExpired is derived on read and never stored.
	StatusExpired Status = "expired"
)

// Stored reports whether s may be persisted.
func (s Status) Stored() bool {
	switch s {
	case StatusOngoing, StatusCompleted, StatusCancelled, StatusFollowUp:
		return true
	}
	return false
}

type Medicine struct {
	Name         string  `json:"name" validate:"required"`
	Dosage       string  `json:"dosage" validate:"required"`
	Frequency    string  `json:"frequency" validate:"required"`
	Duration     string  `json:"duration" validate:"required"`
	Instructions *string `json:"instructions,omitempty"`
}

type Therapy struct {
	Name     string  `json:"name" validate:"required"`
	Sessions int     `json:"sessions" validate:"gte=1"`
	Notes    *string `json:"notes,omitempty"`
}

// Treatment is a prescription issued by a doctor to a patient.
type Treatment struct {
	ID                  uuid.UUID  `json:"id"`
	TreatmentID         string     `json:"treatment_id"`
	PatientID           uuid.UUID  `json:"patient_id"`
	DoctorID            uuid.UUID  `json:"doctor_id"`
	Diagnosis           string     `json:"diagnosis"`
	Medicines           []Medicine `json:"medicines"`
	PrescribedTherapies []Therapy  `json:"prescribed_therapies"`
	Status              Status     `json:"status"`
	Notes               *string    `json:"notes,omitempty"`
	ValidUntil          *time.Time `json:"valid_until,omitempty"`
	IsPrinted           bool       `json:"is_printed"`
	PrintedAt           *time.Time `json:"printed_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// EffectiveStatus combines the stored status with expiry: cancelled wins,
// then a validity window that ended before now, then the stored value.
func EffectiveStatus(t *Treatment, now time.Time) Status {
	if t.Status == StatusCancelled {
		return StatusCancelled
	}
	if t.ValidUntil != nil && t.ValidUntil.Before(now) {
		return StatusExpired
	}
	return t.Status
}

// ValidUntil returns the end of the validity window, or nil without one.
func ValidUntil(createdAt time.Time, durationDays int) *time.Time {
	if durationDays <= 0 {
		return nil
	}
	v := createdAt.AddDate(0, 0, durationDays)
	return &v
}

type View struct {
	*Treatment
	EffectiveStatus Status `json:"effective_status"`
	IsExpired       bool   `json:"is_expired"`
}

func NewView(t *Treatment, now time.Time) View {
	eff := EffectiveStatus(t, now)
	return View{Treatment: t, EffectiveStatus: eff, IsExpired: eff == StatusExpired}
}

func NewViews(items []*Treatment, now time.Time) []View {
	views := make([]View, 0, len(items))
	for _, t := range items {
		views = append(views, NewView(t, now))
	}
	return views
}
