package followup

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic/internal/platform/clock"
)

type Status string

const (
	StatusScheduled   Status = "scheduled"
	StatusConfirmed   Status = "confirmed"
	StatusCheckedIn   Status = "checked-in"
	StatusInProgress  Status = "in-progress"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusNoShow      Status = "no-show"
	StatusRescheduled Status = "rescheduled"
)

// transitions lists the legal next states for every non-terminal state.
// Terminal states have no entry.
var transitions = map[Status][]Status{
	StatusScheduled:   {StatusConfirmed, StatusCheckedIn, StatusCompleted, StatusCancelled, StatusNoShow, StatusRescheduled},
	StatusConfirmed:   {StatusCheckedIn, StatusCompleted, StatusCancelled, StatusNoShow, StatusRescheduled},
	StatusCheckedIn:   {StatusInProgress, StatusCompleted, StatusCancelled, StatusRescheduled},
	StatusInProgress:  {StatusCompleted, StatusCancelled, StatusRescheduled},
	StatusRescheduled: {StatusConfirmed, StatusCheckedIn, StatusCompleted, StatusCancelled, StatusNoShow, StatusRescheduled},
}

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusCheckedIn, StatusInProgress,
		StatusCompleted, StatusCancelled, StatusNoShow, StatusRescheduled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

const (
	TypeConsultation = "consultation"
	TypeFollowUp     = "follow-up"
	TypeTherapy      = "therapy"
	TypeCheckUp      = "check-up"
	TypeEmergency    = "emergency"
	TypeProcedure    = "procedure"
)

const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// RescheduleEntry snapshots the slot an appointment held before it moved.
type RescheduleEntry struct {
	OriginalDate  time.Time `json:"original_date"`
	OriginalTime  string    `json:"original_time"`
	NewDate       time.Time `json:"new_date"`
	NewTime       string    `json:"new_time"`
	Reason        string    `json:"reason"`
	RescheduledBy uuid.UUID `json:"rescheduled_by"`
	RescheduledAt time.Time `json:"rescheduled_at"`
}

// FollowUp is an appointment. Date holds a calendar day at UTC midnight and
// Time the "HH:MM" slot on that day.
type FollowUp struct {
	ID                 uuid.UUID         `json:"id"`
	AppointmentID      string            `json:"appointment_id"`
	PatientID          uuid.UUID         `json:"patient_id"`
	DoctorID           uuid.UUID         `json:"doctor_id"`
	Date               time.Time         `json:"date"`
	Time               string            `json:"time"`
	Duration           int               `json:"duration"`
	Type               string            `json:"type"`
	Status             Status            `json:"status"`
	Priority           string            `json:"priority"`
	Notes              *string           `json:"notes,omitempty"`
	Purpose            *string           `json:"purpose,omitempty"`
	Location           string            `json:"location"`
	ReminderEnabled    bool              `json:"reminder_enabled"`
	RescheduleHistory  []RescheduleEntry `json:"reschedule_history"`
	OutcomeNotes       *string           `json:"outcome_notes,omitempty"`
	CompletedAt        *time.Time        `json:"completed_at,omitempty"`
	CancellationReason *string           `json:"cancellation_reason,omitempty"`
	FollowUpOf         *uuid.UUID        `json:"follow_up_of,omitempty"`
	CreatedBy          uuid.UUID         `json:"created_by"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// View is a FollowUp plus the classifications derived from the current time.
type View struct {
	*FollowUp
	IsToday    bool `json:"is_today"`
	IsTomorrow bool `json:"is_tomorrow"`
	DaysUntil  int  `json:"days_until"`
	IsOverdue  bool `json:"is_overdue"`
	IsUpcoming bool `json:"is_upcoming"`
}

// Today returns the calendar day of now, in now's location, as UTC midnight
// so it compares directly with FollowUp.Date.
func Today(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Classify derives the time-relative flags. Only scheduled or confirmed
// appointments in the past count as overdue.
func Classify(f *FollowUp, now time.Time) View {
	days := clock.DaysBetween(Today(now), f.Date)
	return View{
		FollowUp:   f,
		IsToday:    days == 0,
		IsTomorrow: days == 1,
		DaysUntil:  days,
		IsOverdue:  days < 0 && (f.Status == StatusScheduled || f.Status == StatusConfirmed),
		IsUpcoming: days >= 0 && !f.Status.Terminal(),
	}
}

func ClassifyAll(items []*FollowUp, now time.Time) []View {
	views := make([]View, 0, len(items))
	for _, f := range items {
		views = append(views, Classify(f, now))
	}
	return views
}

// ParseDate parses a YYYY-MM-DD calendar day into UTC midnight.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return t, nil
}

func ValidTime(s string) bool {
	_, err := time.Parse(TimeLayout, s)
	return err == nil && len(s) == 5
}

// Filter narrows List. Overdue and Upcoming are evaluated against Today.
type Filter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Status    Status
	Type      string
	From      *time.Time
	To        *time.Time
	Overdue   bool
	Upcoming  bool
	Today     time.Time
}
