package directory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinicdesk/clinic/internal/domain/sequence"
	"github.com/clinicdesk/clinic/internal/platform/apperr"
	"github.com/clinicdesk/clinic/internal/platform/clock"
	"github.com/clinicdesk/clinic/internal/platform/validate"
)

// -- Mock Repository --

type mockRepo struct {
	mu           sync.Mutex
	patients     map[uuid.UUID]*Patient
	doctors      map[uuid.UUID]*Doctor
	appointments map[uuid.UUID]bool
	deps         map[uuid.UUID]Dependents
	history      map[uuid.UUID][]uuid.UUID
	locked       []uuid.UUID
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		patients:     make(map[uuid.UUID]*Patient),
		doctors:      make(map[uuid.UUID]*Doctor),
		appointments: make(map[uuid.UUID]bool),
		deps:         make(map[uuid.UUID]Dependents),
		history:      make(map[uuid.UUID][]uuid.UUID),
	}
}

func (m *mockRepo) CreatePatient(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.patients[p.ID] = &cp
	return nil
}

func (m *mockRepo) GetPatient(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, apperr.NotFound("patient %s not found", id)
	}
	cp := *p
	return &cp, nil
}

func (m *mockRepo) LockPatient(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.patients[id]; !ok {
		return apperr.NotFound("patient %s not found", id)
	}
	m.locked = append(m.locked, id)
	return nil
}

func (m *mockRepo) DeletePatient(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.patients[id]; !ok {
		return apperr.NotFound("patient %s not found", id)
	}
	delete(m.patients, id)
	return nil
}

func (m *mockRepo) CountDependents(_ context.Context, patientID uuid.UUID) (Dependents, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deps[patientID], nil
}

func (m *mockRepo) CreateDoctor(_ context.Context, d *Doctor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.doctors[d.ID]; ok {
		return apperr.Conflict("doctor %s already exists", d.ID)
	}
	cp := *d
	m.doctors[d.ID] = &cp
	return nil
}

func (m *mockRepo) GetDoctor(_ context.Context, id uuid.UUID) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, apperr.NotFound("doctor %s not found", id)
	}
	cp := *d
	return &cp, nil
}

func (m *mockRepo) PatientExists(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.patients[id]
	return ok, nil
}

func (m *mockRepo) DoctorExists(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.doctors[id]
	return ok, nil
}

func (m *mockRepo) AppointmentExists(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appointments[id], nil
}

func (m *mockRepo) AppendBillingHistory(_ context.Context, patientID, invoiceID uuid.UUID, _ decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[patientID] = append(m.history[patientID], invoiceID)
	return nil
}

type mockTx struct{ count int }

func (m *mockTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.count++
	return fn(ctx)
}

var testNow = time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)

func newTestService() (*Service, *mockRepo, *mockTx) {
	repo := newMockRepo()
	tx := &mockTx{}
	clk := clock.NewFixed(testNow)
	minter := sequence.NewMinter(sequence.NewMemoryGenerator(), clk, sequence.SchemeYearly)
	return NewService(repo, tx, minter, clk, zerolog.Nop()), repo, tx
}

func TestService_RegisterPatient(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	p, err := svc.RegisterPatient(ctx, PatientInput{Name: "Asha Rao"})
	if err != nil {
		t.Fatalf("RegisterPatient: %v", err)
	}
	if p.PatientID != "PAT-2026-0001" {
		t.Errorf("PatientID = %q", p.PatientID)
	}
	if !p.CreatedAt.Equal(testNow) {
		t.Errorf("CreatedAt = %v", p.CreatedAt)
	}
	ok, err := svc.PatientExists(ctx, p.ID)
	if err != nil || !ok {
		t.Errorf("PatientExists = %v, %v", ok, err)
	}

	_, err = svc.RegisterPatient(ctx, PatientInput{Name: "  "})
	if apperr.KindOf(err) != apperr.KindInvalidInput {
		t.Errorf("expected invalid input, got %v", err)
	}
}

func TestService_RegisterDoctor(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	userID := uuid.New()

	d, err := svc.RegisterDoctor(ctx, DoctorInput{UserID: userID, Name: "Dr. Mehta"})
	if err != nil {
		t.Fatalf("RegisterDoctor: %v", err)
	}
	if d.ID != userID || d.DoctorID != "DOC-2026-0001" {
		t.Errorf("doctor = %+v", d)
	}
	if ok, _ := svc.DoctorExists(ctx, userID); !ok {
		t.Error("doctor should exist")
	}

	_, err = svc.RegisterDoctor(ctx, DoctorInput{UserID: userID, Name: "Dr. Mehta"})
	if apperr.KindOf(err) != apperr.KindConflict {
		t.Errorf("expected conflict, got %v", err)
	}
	_, err = svc.RegisterDoctor(ctx, DoctorInput{Name: "Nobody"})
	if apperr.KindOf(err) != apperr.KindInvalidInput {
		t.Errorf("expected invalid input, got %v", err)
	}
}

func TestService_DeletePatient_BlockedByDependents(t *testing.T) {
	tests := []struct {
		name string
		deps Dependents
	}{
		{"invoice", Dependents{Invoices: 1}},
		{"appointment", Dependents{Appointments: 2}},
		{"treatment", Dependents{Treatments: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo, tx := newTestService()
			ctx := context.Background()
			p, _ := svc.RegisterPatient(ctx, PatientInput{Name: "Asha Rao"})
			repo.deps[p.ID] = tt.deps

			err := svc.DeletePatient(ctx, p.ID)
			if apperr.KindOf(err) != apperr.KindConflict {
				t.Fatalf("expected conflict, got %v", err)
			}
			if ok, _ := svc.PatientExists(ctx, p.ID); !ok {
				t.Error("patient should survive")
			}
			if tx.count != 1 || len(repo.locked) != 1 {
				t.Errorf("expected locked check inside one transaction, tx=%d locks=%d", tx.count, len(repo.locked))
			}
		})
	}
}

func TestService_DeletePatient(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	p, _ := svc.RegisterPatient(ctx, PatientInput{Name: "Asha Rao"})

	if err := svc.DeletePatient(ctx, p.ID); err != nil {
		t.Fatalf("DeletePatient: %v", err)
	}
	if ok, _ := svc.PatientExists(ctx, p.ID); ok {
		t.Error("patient should be gone")
	}
	if err := svc.DeletePatient(ctx, p.ID); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestService_Collaborators(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	apptID := uuid.New()
	repo.appointments[apptID] = true

	if ok, _ := svc.AppointmentExists(ctx, apptID); !ok {
		t.Error("appointment should exist")
	}
	if ok, _ := svc.AppointmentExists(ctx, uuid.New()); ok {
		t.Error("unknown appointment should not exist")
	}

	pid, inv := uuid.New(), uuid.New()
	if err := svc.AppendBillingHistory(ctx, pid, inv, decimal.NewFromInt(100)); err != nil {
		t.Fatalf("AppendBillingHistory: %v", err)
	}
	if len(repo.history[pid]) != 1 || repo.history[pid][0] != inv {
		t.Errorf("history = %v", repo.history[pid])
	}
}

func TestHandler_DeletePatient_Conflict(t *testing.T) {
	svc, repo, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	p, _ := svc.RegisterPatient(context.Background(), PatientInput{Name: "Asha Rao"})
	repo.deps[p.ID] = Dependents{Invoices: 1}

	c := e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	err := h.DeletePatient(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusConflict {
		t.Errorf("expected 409, got %v", err)
	}
}

func TestHandler_RegisterPatient(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	e.Validator = validate.NewValidator()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"Asha Rao","phone":"+91 98450 00000"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.RegisterPatient(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated || !strings.Contains(rec.Body.String(), `"patient_id":"PAT-2026-0001"`) {
		t.Errorf("response %d %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	err := h.RegisterPatient(e.NewContext(req, httptest.NewRecorder()))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}
