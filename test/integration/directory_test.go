//go:build integration

package integration

import (
	"context"
	"testing"

	"github.com/clinicdesk/clinic/internal/domain/billing"
	"github.com/clinicdesk/clinic/internal/domain/directory"
	"github.com/clinicdesk/clinic/internal/domain/followup"
	"github.com/clinicdesk/clinic/internal/domain/treatment"
	"github.com/clinicdesk/clinic/internal/platform/apperr"
	"github.com/clinicdesk/clinic/internal/platform/auth"
)

func TestDirectory_DeletePatientBlockedByDependents(t *testing.T) {
	e := newEnv(t, "dir")
	ctx := context.Background()
	doc := e.doctor(t)
	r := auth.Requester{UserID: doc.ID, Role: auth.RoleDoctor}

	bills := newBillingService(e)
	visits := newFollowUpService(e)
	rx := newTreatmentService(e)

	tests := []struct {
		name   string
		attach func(t *testing.T, p *directory.Patient) func() error
	}{
		{
			name: "invoice",
			attach: func(t *testing.T, p *directory.Patient) func() error {
				inv, err := bills.CreateInvoice(ctx, billing.CreateInvoiceInput{
					PatientID: p.ID,
					Items:     []billing.ItemInput{{Description: "Visit", Quantity: d("1"), UnitPrice: d("100")}},
				})
				if err != nil {
					t.Fatalf("CreateInvoice: %v", err)
				}
				return func() error { return bills.DeleteInvoice(ctx, inv.ID) }
			},
		},
		{
			name: "appointment",
			attach: func(t *testing.T, p *directory.Patient) func() error {
				v, err := visits.Schedule(ctx, r, followup.ScheduleInput{
					PatientID: p.ID, DoctorID: doc.ID, Date: "2026-10-20", Time: "09:00",
				})
				if err != nil {
					t.Fatalf("Schedule: %v", err)
				}
				return func() error { return visits.Delete(ctx, r, v.ID) }
			},
		},
		{
			name: "treatment",
			attach: func(t *testing.T, p *directory.Patient) func() error {
				v, err := rx.Create(ctx, r, treatment.CreateInput{PatientID: p.ID, Diagnosis: "Sprain"})
				if err != nil {
					t.Fatalf("Create: %v", err)
				}
				return func() error { return rx.Delete(ctx, r, v.ID) }
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := e.patient(t)
			detach := tt.attach(t, p)

			if err := e.dir.DeletePatient(ctx, p.ID); apperr.KindOf(err) != apperr.KindConflict {
				t.Fatalf("expected conflict, got %v", err)
			}
			if _, err := e.dir.GetPatient(ctx, p.ID); err != nil {
				t.Fatalf("patient gone after refused delete: %v", err)
			}

			if err := detach(); err != nil {
				t.Fatalf("remove dependent: %v", err)
			}
			if err := e.dir.DeletePatient(ctx, p.ID); err != nil {
				t.Fatalf("DeletePatient: %v", err)
			}
			if _, err := e.dir.GetPatient(ctx, p.ID); apperr.KindOf(err) != apperr.KindNotFound {
				t.Errorf("expected not found, got %v", err)
			}
		})
	}
}

func TestDirectory_RegisterMintsSequentialIDs(t *testing.T) {
	e := newEnv(t, "dirids")
	ctx := context.Background()

	first := e.patient(t)
	second := e.patient(t)
	if first.PatientID != "PAT-2026-0001" || second.PatientID != "PAT-2026-0002" {
		t.Errorf("patient ids = %s, %s", first.PatientID, second.PatientID)
	}

	doc := e.doctor(t)
	if doc.DoctorID != "DOC-2026-0001" {
		t.Errorf("doctor id = %s", doc.DoctorID)
	}
	if _, err := e.dir.RegisterDoctor(ctx, directory.DoctorInput{UserID: doc.ID, Name: "Dr. Twin"}); apperr.KindOf(err) != apperr.KindConflict {
		t.Errorf("duplicate doctor: expected conflict, got %v", err)
	}
}
