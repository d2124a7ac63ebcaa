//go:build integration

package integration

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic/internal/domain/billing"
	"github.com/clinicdesk/clinic/internal/domain/followup"
	"github.com/clinicdesk/clinic/internal/platform/apperr"
	"github.com/clinicdesk/clinic/internal/platform/auth"
)

func newFollowUpService(e *env) *followup.Service {
	return followup.NewService(followup.NewRepoPG(e.pool), e.dir, e.tx, e.minter, e.clock, zerolog.Nop())
}

func TestFollowUp_RescheduleHistoryPersists(t *testing.T) {
	e := newEnv(t, "fu")
	svc := newFollowUpService(e)
	ctx := context.Background()
	p := e.patient(t)
	doc := e.doctor(t)
	r := auth.Requester{UserID: doc.ID, Role: auth.RoleDoctor}

	v, err := svc.Schedule(ctx, r, followup.ScheduleInput{
		PatientID: p.ID, DoctorID: doc.ID, Date: "2026-10-16", Time: "09:00",
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if v.AppointmentID != "APT-2026-0001" || v.Status != followup.StatusScheduled {
		t.Fatalf("scheduled %s in %s", v.AppointmentID, v.Status)
	}

	if _, err := svc.Reschedule(ctx, r, v.ID, "2026-10-17", "11:00", "patient request"); err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if _, err := svc.Reschedule(ctx, r, v.ID, "2026-10-20", "14:30", "doctor away"); err != nil {
		t.Fatalf("second Reschedule: %v", err)
	}

	got, err := svc.Get(ctx, v.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != followup.StatusRescheduled || got.Time != "14:30" || got.DaysUntil != 5 {
		t.Errorf("got %s at %s, days until %d", got.Status, got.Time, got.DaysUntil)
	}
	if len(got.RescheduleHistory) != 2 {
		t.Fatalf("history = %d entries", len(got.RescheduleHistory))
	}
	first := got.RescheduleHistory[0]
	if first.OriginalTime != "09:00" || first.NewTime != "11:00" || first.Reason != "patient request" || first.RescheduledBy != doc.ID {
		t.Errorf("first entry = %+v", first)
	}

	if _, err := svc.MarkComplete(ctx, r, v.ID, ptrStr("recovered")); err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}
	if _, err := svc.Cancel(ctx, r, v.ID, "too late"); apperr.KindOf(err) != apperr.KindConflict {
		t.Errorf("cancel after complete: expected conflict, got %v", err)
	}
}

func TestFollowUp_OverdueAndUpcomingLists(t *testing.T) {
	e := newEnv(t, "fulist")
	svc := newFollowUpService(e)
	ctx := context.Background()
	p := e.patient(t)
	doc := e.doctor(t)
	r := auth.Requester{UserID: doc.ID, Role: auth.RoleDoctor}

	for _, date := range []string{"2026-10-12", "2026-10-15", "2026-10-18"} {
		if _, err := svc.Schedule(ctx, r, followup.ScheduleInput{
			PatientID: p.ID, DoctorID: doc.ID, Date: date, Time: "10:00",
		}); err != nil {
			t.Fatalf("Schedule %s: %v", date, err)
		}
	}

	overdue, total, err := svc.List(ctx, followup.Filter{Overdue: true}, 20, 0)
	if err != nil {
		t.Fatalf("List overdue: %v", err)
	}
	if total != 1 || len(overdue) != 1 || overdue[0].DaysUntil != -3 || !overdue[0].IsOverdue {
		t.Errorf("overdue = %d", total)
	}

	upcoming, total, err := svc.List(ctx, followup.Filter{Upcoming: true}, 20, 0)
	if err != nil {
		t.Fatalf("List upcoming: %v", err)
	}
	if total != 2 || len(upcoming) != 2 {
		t.Errorf("upcoming = %d", total)
	}

	recent, err := svc.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("recent = %d", len(recent))
	}
}

func TestFollowUp_ForeignDoctorForbidden(t *testing.T) {
	e := newEnv(t, "fuauth")
	svc := newFollowUpService(e)
	ctx := context.Background()
	p := e.patient(t)
	owner := e.doctor(t)
	other := e.doctor(t)

	v, err := svc.Schedule(ctx, auth.Requester{UserID: owner.ID, Role: auth.RoleDoctor}, followup.ScheduleInput{
		PatientID: p.ID, DoctorID: owner.ID, Date: "2026-10-16", Time: "09:00",
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	_, err = svc.Cancel(ctx, auth.Requester{UserID: other.ID, Role: auth.RoleDoctor}, v.ID, "not mine")
	if apperr.KindOf(err) != apperr.KindForbidden {
		t.Errorf("expected forbidden, got %v", err)
	}
}

func TestFollowUp_DeleteBilledAppointment(t *testing.T) {
	e := newEnv(t, "fudel")
	svc := newFollowUpService(e)
	bills := newBillingService(e)
	ctx := context.Background()
	p := e.patient(t)
	doc := e.doctor(t)
	r := auth.Requester{UserID: doc.ID, Role: auth.RoleDoctor}

	v, err := svc.Schedule(ctx, r, followup.ScheduleInput{
		PatientID: p.ID, DoctorID: doc.ID, Date: "2026-10-16", Time: "09:00",
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	inv, err := bills.CreateInvoice(ctx, billing.CreateInvoiceInput{
		PatientID:     p.ID,
		AppointmentID: &v.ID,
		Items:         []billing.ItemInput{{Description: "Consultation", Quantity: d("1"), UnitPrice: d("300")}},
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	if err := svc.Delete(ctx, r, v.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Get(ctx, v.ID); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("expected not found after delete, got %v", err)
	}

	got, err := bills.GetInvoice(ctx, inv.ID)
	if err != nil {
		t.Fatalf("invoice lost with its appointment: %v", err)
	}
	if got.AppointmentID != nil {
		t.Errorf("appointment_id = %v, want cleared", got.AppointmentID)
	}
}
