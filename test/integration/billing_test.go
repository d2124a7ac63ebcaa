//go:build integration

package integration

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/clinicdesk/clinic/internal/domain/billing"
	"github.com/clinicdesk/clinic/internal/platform/apperr"
)

func newBillingService(e *env) *billing.Service {
	return billing.NewService(billing.NewInvoiceRepoPG(e.pool), e.dir, e.tx, e.minter, e.clock, billing.DefaultConfig(), zerolog.Nop())
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestBilling_CreateAndPay(t *testing.T) {
	e := newEnv(t, "bill")
	svc := newBillingService(e)
	ctx := context.Background()
	p := e.patient(t)

	inv, err := svc.CreateInvoice(ctx, billing.CreateInvoiceInput{
		PatientID: p.ID,
		Items:     []billing.ItemInput{{Description: "Consultation", Quantity: d("2"), UnitPrice: d("500")}},
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if inv.InvoiceID != "INV-2026-0001" || !inv.TotalAmount.Equal(d("1180")) {
		t.Fatalf("created %s total %s", inv.InvoiceID, inv.TotalAmount)
	}

	var inHistory bool
	if err := e.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM patient_billing_history WHERE patient_id = $1 AND invoice_id = $2)`,
		p.ID, inv.ID).Scan(&inHistory); err != nil {
		t.Fatalf("query history: %v", err)
	}
	if !inHistory {
		t.Error("billing history row missing")
	}

	inv, err = svc.ApplyPayment(ctx, inv.ID, billing.PaymentInput{Amount: d("500"), Method: billing.MethodCard})
	if err != nil {
		t.Fatalf("ApplyPayment: %v", err)
	}
	if inv.PaymentStatus != billing.StatusPartial || !inv.BalanceAmount.Equal(d("680")) {
		t.Errorf("after partial: %s balance %s", inv.PaymentStatus, inv.BalanceAmount)
	}

	inv, err = svc.ApplyPayment(ctx, inv.ID, billing.PaymentInput{Amount: d("680")})
	if err != nil {
		t.Fatalf("ApplyPayment: %v", err)
	}
	if inv.PaymentStatus != billing.StatusPaid || !inv.BalanceAmount.IsZero() {
		t.Errorf("after full: %s balance %s", inv.PaymentStatus, inv.BalanceAmount)
	}

	got, err := svc.GetInvoiceByInvoiceID(ctx, "INV-2026-0001")
	if err != nil {
		t.Fatalf("GetInvoiceByInvoiceID: %v", err)
	}
	if len(got.PaymentTransactions) != 2 || len(got.Items) != 1 {
		t.Errorf("children = %d transactions, %d items", len(got.PaymentTransactions), len(got.Items))
	}

	if err := svc.DeleteInvoice(ctx, inv.ID); apperr.KindOf(err) != apperr.KindConflict {
		t.Errorf("deleting paid invoice: expected conflict, got %v", err)
	}
}

func TestBilling_ConcurrentPaymentsDoNotLoseUpdates(t *testing.T) {
	e := newEnv(t, "billcc")
	svc := newBillingService(e)
	ctx := context.Background()
	p := e.patient(t)

	inv, err := svc.CreateInvoice(ctx, billing.CreateInvoiceInput{
		PatientID: p.ID,
		Items:     []billing.ItemInput{{Description: "Therapy package", Quantity: d("1"), UnitPrice: d("1000")}},
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	const n = 20
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			_, err := svc.ApplyPayment(ctx, inv.ID, billing.PaymentInput{Amount: d("10")})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("ApplyPayment: %v", err)
	}

	got, err := svc.GetInvoice(ctx, inv.ID)
	if err != nil {
		t.Fatalf("GetInvoice: %v", err)
	}
	if !got.PaidAmount.Equal(d("200")) {
		t.Errorf("paid = %s, want 200", got.PaidAmount)
	}
	if !got.BalanceAmount.Equal(got.TotalAmount.Sub(got.PaidAmount)) {
		t.Errorf("balance %s != total %s - paid %s", got.BalanceAmount, got.TotalAmount, got.PaidAmount)
	}
	if len(got.PaymentTransactions) != n {
		t.Errorf("transactions = %d, want %d", len(got.PaymentTransactions), n)
	}
}

func TestBilling_ListByStatusAndStats(t *testing.T) {
	e := newEnv(t, "billst")
	svc := newBillingService(e)
	ctx := context.Background()
	p := e.patient(t)

	create := func() *billing.Invoice {
		inv, err := svc.CreateInvoice(ctx, billing.CreateInvoiceInput{
			PatientID: p.ID,
			Items:     []billing.ItemInput{{Description: "Visit", Quantity: d("1"), UnitPrice: d("100")}},
		})
		if err != nil {
			t.Fatalf("CreateInvoice: %v", err)
		}
		return inv
	}
	paid := create()
	create()
	if _, err := svc.ApplyPayment(ctx, paid.ID, billing.PaymentInput{Amount: d("118"), Method: billing.MethodUPI}); err != nil {
		t.Fatalf("ApplyPayment: %v", err)
	}

	items, total, err := svc.ListInvoices(ctx, billing.Filter{Status: billing.StatusPending}, 20, 0)
	if err != nil {
		t.Fatalf("ListInvoices: %v", err)
	}
	if total != 1 || len(items) != 1 || items[0].PaymentStatus != billing.StatusPending {
		t.Errorf("pending list = %d", total)
	}

	st, err := svc.Stats(ctx, billing.StatsQuery{GroupBy: billing.GroupMethod})
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.InvoiceCount != 2 || !st.TotalRevenue.Equal(d("236")) || !st.Collected.Equal(d("118")) {
		t.Errorf("stats = %+v", st)
	}
	if len(st.Groups) != 1 || st.Groups[0].Key != billing.MethodUPI {
		t.Errorf("groups = %+v", st.Groups)
	}
}

func TestBilling_DeleteGuardIsAtomic(t *testing.T) {
	e := newEnv(t, "billdel")
	repo := billing.NewInvoiceRepoPG(e.pool)
	svc := billing.NewService(repo, e.dir, e.tx, e.minter, e.clock, billing.DefaultConfig(), zerolog.Nop())
	ctx := context.Background()
	p := e.patient(t)

	inv, err := svc.CreateInvoice(ctx, billing.CreateInvoiceInput{
		PatientID: p.ID,
		Items:     []billing.ItemInput{{Description: "Visit", Quantity: d("1"), UnitPrice: d("100")}},
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if _, err := svc.ApplyPayment(ctx, inv.ID, billing.PaymentInput{Amount: d("100")}); err != nil {
		t.Fatalf("ApplyPayment: %v", err)
	}

	// The repository refuses on its own, without the service's earlier read.
	if err := repo.Delete(ctx, inv.ID); apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	var n int
	if err := e.pool.QueryRow(ctx, `SELECT COUNT(*) FROM payment_transactions WHERE invoice_id = $1`, inv.ID).Scan(&n); err != nil {
		t.Fatalf("count transactions: %v", err)
	}
	if n != 1 {
		t.Errorf("transactions = %d, want 1", n)
	}
	if err := repo.Delete(ctx, uuid.New()); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("unknown invoice: expected not found, got %v", err)
	}
}

func TestBilling_ScaleAndUpdatedAt(t *testing.T) {
	e := newEnv(t, "billscale")
	svc := newBillingService(e)
	ctx := context.Background()
	p := e.patient(t)

	inv, err := svc.CreateInvoice(ctx, billing.CreateInvoiceInput{
		PatientID: p.ID,
		Items:     []billing.ItemInput{{Description: "Visit", Quantity: d("1"), UnitPrice: d("100")}},
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if _, err := svc.ApplyPayment(ctx, inv.ID, billing.PaymentInput{Amount: d("0.005")}); apperr.KindOf(err) != apperr.KindInvalidInput {
		t.Errorf("payment 0.005: expected invalid input, got %v", err)
	}
	if _, err := svc.CreateInvoice(ctx, billing.CreateInvoiceInput{
		PatientID: p.ID,
		Items:     []billing.ItemInput{{Description: "Gauze", Quantity: d("0.0004"), UnitPrice: d("10")}},
	}); apperr.KindOf(err) != apperr.KindInvalidInput {
		t.Errorf("quantity 0.0004: expected invalid input, got %v", err)
	}

	paidOn := testNow.AddDate(0, 0, -20)
	got, err := svc.ApplyPayment(ctx, inv.ID, billing.PaymentInput{Amount: d("50"), Date: &paidOn})
	if err != nil {
		t.Fatalf("ApplyPayment: %v", err)
	}
	if !got.UpdatedAt.Equal(testNow) {
		t.Errorf("updated_at = %v, want %v", got.UpdatedAt, testNow)
	}
	if !got.PaymentTransactions[0].Date.Equal(paidOn) {
		t.Errorf("transaction date = %v, want %v", got.PaymentTransactions[0].Date, paidOn)
	}
}
