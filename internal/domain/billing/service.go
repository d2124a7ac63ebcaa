package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinicdesk/clinic/internal/domain/sequence"
	"github.com/clinicdesk/clinic/internal/platform/apperr"
	"github.com/clinicdesk/clinic/internal/platform/clock"
)

// Directory is what billing needs to know about patients and appointments.
type Directory interface {
	PatientExists(ctx context.Context, id uuid.UUID) (bool, error)
	AppointmentExists(ctx context.Context, id uuid.UUID) (bool, error)
	AppendBillingHistory(ctx context.Context, patientID, invoiceID uuid.UUID, amount decimal.Decimal) error
}

type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type IDMinter interface {
	Mint(ctx context.Context, k sequence.Kind) (string, error)
}

type Config struct {
	TaxRate decimal.Decimal
	DueDays int
}

func DefaultConfig() Config {
	return Config{TaxRate: decimal.RequireFromString("0.18"), DueDays: 7}
}

type Service struct {
	repo   InvoiceRepository
	dir    Directory
	tx     Transactor
	ids    IDMinter
	clock  clock.Clock
	cfg    Config
	logger zerolog.Logger
}

// NewService wires the ledger. tx may be nil, in which case writes run
// without a surrounding transaction and billing-history failures are only
// logged.
func NewService(repo InvoiceRepository, dir Directory, tx Transactor, ids IDMinter, clk clock.Clock, cfg Config, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		dir:    dir,
		tx:     tx,
		ids:    ids,
		clock:  clk,
		cfg:    cfg,
		logger: logger.With().Str("component", "billing").Logger(),
	}
}

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	return s.tx.InTx(ctx, fn)
}

type ItemInput struct {
	Description string          `json:"description" validate:"required"`
	Quantity    decimal.Decimal `json:"quantity" validate:"gt=0"`
	UnitPrice   decimal.Decimal `json:"unit_price" validate:"gte=0"`
}

// CreateInvoiceInput describes a new invoice. Subtotal, Tax, TotalAmount,
// BillDate and DueDate are computed when omitted.
type CreateInvoiceInput struct {
	PatientID     uuid.UUID        `json:"patient_id" validate:"required"`
	AppointmentID *uuid.UUID       `json:"appointment_id"`
	BillDate      *time.Time       `json:"bill_date"`
	DueDate       *time.Time       `json:"due_date"`
	Items         []ItemInput      `json:"items" validate:"required,min=1,dive"`
	Subtotal      *decimal.Decimal `json:"subtotal"`
	Tax           *decimal.Decimal `json:"tax"`
	Discount      decimal.Decimal  `json:"discount" validate:"gte=0"`
	TotalAmount   *decimal.Decimal `json:"total_amount"`
	PaymentMethod string           `json:"payment_method" validate:"omitempty,oneof=cash card upi bank-transfer insurance online"`
	Insurance     *Insurance       `json:"insurance"`
	Notes         *string          `json:"notes"`
	CreatedBy     uuid.UUID        `json:"-"`
}

func (s *Service) CreateInvoice(ctx context.Context, in CreateInvoiceInput) (*Invoice, error) {
	if in.PatientID == uuid.Nil {
		return nil, apperr.InvalidInput("patient_id is required")
	}
	if len(in.Items) == 0 {
		return nil, apperr.InvalidInput("at least one item is required")
	}
	if in.Discount.IsNegative() {
		return nil, apperr.InvalidInput("discount must not be negative")
	}
	if !fitsScale(in.Discount, moneyScale) {
		return nil, apperr.InvalidInput("discount has more than %d decimal places", moneyScale)
	}
	for _, f := range []struct {
		name string
		v    *decimal.Decimal
	}{{"subtotal", in.Subtotal}, {"tax", in.Tax}, {"total_amount", in.TotalAmount}} {
		if f.v != nil && !fitsScale(*f.v, moneyScale) {
			return nil, apperr.InvalidInput("%s has more than %d decimal places", f.name, moneyScale)
		}
	}

	items := make([]Item, 0, len(in.Items))
	subtotal := decimal.Zero
	for i, it := range in.Items {
		if !it.Quantity.IsPositive() {
			return nil, apperr.InvalidInput("item %d: quantity must be greater than 0", i+1)
		}
		if it.UnitPrice.IsNegative() {
			return nil, apperr.InvalidInput("item %d: unit_price must not be negative", i+1)
		}
		if !fitsScale(it.Quantity, quantityScale) {
			return nil, apperr.InvalidInput("item %d: quantity has more than %d decimal places", i+1, quantityScale)
		}
		if !fitsScale(it.UnitPrice, moneyScale) {
			return nil, apperr.InvalidInput("item %d: unit_price has more than %d decimal places", i+1, moneyScale)
		}
		amount := it.Quantity.Mul(it.UnitPrice).Round(2)
		subtotal = subtotal.Add(amount)
		items = append(items, Item{Description: it.Description, Quantity: it.Quantity, UnitPrice: it.UnitPrice, Amount: amount})
	}
	if in.Subtotal != nil {
		subtotal = *in.Subtotal
	}
	tax := subtotal.Mul(s.cfg.TaxRate).Round(2)
	if in.Tax != nil {
		tax = *in.Tax
	}
	total := subtotal.Add(tax).Sub(in.Discount)
	if in.TotalAmount != nil {
		total = *in.TotalAmount
	}
	if total.IsNegative() {
		return nil, apperr.InvalidInput("total amount must not be negative")
	}

	ok, err := s.dir.PatientExists(ctx, in.PatientID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("patient %s not found", in.PatientID)
	}
	if in.AppointmentID != nil {
		ok, err := s.dir.AppointmentExists(ctx, *in.AppointmentID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.NotFound("appointment %s not found", *in.AppointmentID)
		}
	}

	now := s.clock.Now()
	billDate := now
	if in.BillDate != nil {
		billDate = *in.BillDate
	}
	dueDate := billDate.AddDate(0, 0, s.cfg.DueDays)
	if in.DueDate != nil {
		dueDate = *in.DueDate
	}
	if dueDate.Before(billDate) {
		return nil, apperr.InvalidInput("due_date must not be before bill_date")
	}
	method := in.PaymentMethod
	if method == "" {
		method = MethodCash
	}

	invoiceID, err := s.ids.Mint(ctx, sequence.KindInvoice)
	if err != nil {
		return nil, err
	}

	inv := &Invoice{
		ID:                  uuid.New(),
		InvoiceID:           invoiceID,
		PatientID:           in.PatientID,
		AppointmentID:       in.AppointmentID,
		BillDate:            billDate,
		DueDate:             dueDate,
		Items:               items,
		Subtotal:            subtotal,
		Tax:                 tax,
		Discount:            in.Discount,
		TotalAmount:         total,
		PaidAmount:          decimal.Zero,
		PaymentMethod:       method,
		PaymentTransactions: []PaymentTransaction{},
		Insurance:           in.Insurance,
		Notes:               in.Notes,
		CreatedBy:           in.CreatedBy,
		Version:             1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	inv.Refresh(now)

	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, inv); err != nil {
			return err
		}
		if err := s.dir.AppendBillingHistory(ctx, inv.PatientID, inv.ID, inv.TotalAmount); err != nil {
			if s.tx != nil {
				return err
			}
			s.logger.Warn().Err(err).Str("invoice_id", inv.InvoiceID).Msg("billing history append failed")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("invoice_id", inv.InvoiceID).
		Str("patient_id", inv.PatientID.String()).
		Str("total", inv.TotalAmount.StringFixed(2)).
		Msg("invoice created")
	return inv, nil
}

type PaymentInput struct {
	Amount    decimal.Decimal `json:"amount" validate:"gt=0"`
	Method    string          `json:"method" validate:"omitempty,oneof=cash card upi bank-transfer insurance online"`
	Date      *time.Time      `json:"date"`
	Reference *string         `json:"reference"`
	Notes     *string         `json:"notes"`
}

// ApplyPayment records a payment against an invoice. Overpayment is accepted
// and leaves a negative balance.
func (s *Service) ApplyPayment(ctx context.Context, id uuid.UUID, in PaymentInput) (*Invoice, error) {
	if !in.Amount.IsPositive() {
		return nil, apperr.InvalidInput("payment amount must be greater than 0")
	}
	if !fitsScale(in.Amount, moneyScale) {
		return nil, apperr.InvalidInput("payment amount has more than %d decimal places", moneyScale)
	}
	now := s.clock.Now()
	tx := &PaymentTransaction{
		ID:        uuid.New(),
		InvoiceID: id,
		Date:      now,
		Amount:    in.Amount,
		Method:    in.Method,
		Reference: in.Reference,
		Notes:     in.Notes,
	}
	if in.Date != nil {
		tx.Date = *in.Date
	}
	if tx.Method == "" {
		tx.Method = MethodCash
	}

	var inv *Invoice
	err := s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.ApplyPayment(ctx, id, tx, now); err != nil {
			return err
		}
		var err error
		inv, err = s.repo.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	inv.Refresh(now)

	s.logger.Info().
		Str("invoice_id", inv.InvoiceID).
		Str("amount", in.Amount.StringFixed(2)).
		Str("balance", inv.BalanceAmount.StringFixed(2)).
		Str("status", string(inv.PaymentStatus)).
		Msg("payment applied")
	return inv, nil
}

func (s *Service) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	inv.Refresh(s.clock.Now())
	return inv, nil
}

func (s *Service) GetInvoiceByInvoiceID(ctx context.Context, invoiceID string) (*Invoice, error) {
	inv, err := s.repo.GetByInvoiceID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	inv.Refresh(s.clock.Now())
	return inv, nil
}

func (s *Service) ListInvoices(ctx context.Context, f Filter, limit, offset int) ([]*Invoice, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, apperr.InvalidInput("unknown payment status %q", f.Status)
	}
	now := s.clock.Now()
	f.Now = now
	items, total, err := s.repo.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, inv := range items {
		inv.Refresh(now)
	}
	return items, total, nil
}

// InvoicePatch carries the administrative fields that may change after
// issue. Amounts and items are immutable.
type InvoicePatch struct {
	DueDate       *time.Time `json:"due_date"`
	PaymentMethod *string    `json:"payment_method" validate:"omitempty,oneof=cash card upi bank-transfer insurance online"`
	Notes         *string    `json:"notes"`
	Insurance     *Insurance `json:"insurance"`
}

func (s *Service) UpdateInvoice(ctx context.Context, id uuid.UUID, p InvoicePatch) (*Invoice, error) {
	inv, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.DueDate != nil {
		if p.DueDate.Before(inv.BillDate) {
			return nil, apperr.InvalidInput("due_date must not be before bill_date")
		}
		inv.DueDate = *p.DueDate
	}
	if p.PaymentMethod != nil {
		inv.PaymentMethod = *p.PaymentMethod
	}
	if p.Notes != nil {
		inv.Notes = p.Notes
	}
	if p.Insurance != nil {
		inv.Insurance = p.Insurance
	}
	now := s.clock.Now()
	inv.UpdatedAt = now
	if err := s.repo.Update(ctx, inv); err != nil {
		return nil, err
	}
	inv.Version++
	inv.Refresh(now)
	return inv, nil
}

// DeleteInvoice removes an invoice that has not received any payment.
func (s *Service) DeleteInvoice(ctx context.Context, id uuid.UUID) error {
	return s.inTx(ctx, func(ctx context.Context) error {
		inv, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if inv.PaidAmount.IsPositive() {
			return apperr.Conflict("invoice %s has payments and cannot be deleted", inv.InvoiceID)
		}
		// A payment may land after the read; Delete re-checks atomically.
		if err := s.repo.Delete(ctx, id); err != nil {
			return err
		}
		s.logger.Info().Str("invoice_id", inv.InvoiceID).Msg("invoice deleted")
		return nil
	})
}

// Stats aggregates invoices billed in [From, To). A zero To means the end of
// today and a zero From means 30 days before To.
func (s *Service) Stats(ctx context.Context, q StatsQuery) (*Stats, error) {
	switch q.GroupBy {
	case GroupNone, GroupDay, GroupMethod, GroupPatient:
	default:
		return nil, apperr.InvalidInput("unknown group_by %q", q.GroupBy)
	}
	q.Now = s.clock.Now()
	if q.To.IsZero() {
		q.To = clock.StartOfDay(q.Now).AddDate(0, 0, 1)
	}
	if q.From.IsZero() {
		q.From = q.To.AddDate(0, 0, -30)
	}
	if !q.From.Before(q.To) {
		return nil, apperr.InvalidInput("from must be before to")
	}
	return s.repo.Stats(ctx, q)
}
