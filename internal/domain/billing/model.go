package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	StatusPending PaymentStatus = "pending"
	StatusPartial PaymentStatus = "partial"
	StatusPaid    PaymentStatus = "paid"
	StatusOverdue PaymentStatus = "overdue"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusPartial, StatusPaid, StatusOverdue:
		return true
	}
	return false
}

// Storage scales: money is NUMERIC(14,2), quantities NUMERIC(12,3).
const (
	moneyScale    int32 = 2
	quantityScale int32 = 3
)

// fitsScale reports whether v has at most places digits after the point.
func fitsScale(v decimal.Decimal, places int32) bool {
	return v.Equal(v.Round(places))
}

const (
	MethodCash         = "cash"
	MethodCard         = "card"
	MethodUPI          = "upi"
	MethodBankTransfer = "bank-transfer"
	MethodInsurance    = "insurance"
	MethodOnline       = "online"
)

// Item is one billed line. Amount is always Quantity x UnitPrice.
type Item struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Amount      decimal.Decimal `json:"amount"`
}

type Insurance struct {
	Provider     string          `json:"provider"`
	PolicyNumber string          `json:"policy_number"`
	ClaimAmount  decimal.Decimal `json:"claim_amount"`
	ClaimStatus  string          `json:"claim_status,omitempty"`
}

// PaymentTransaction is an append-only record of money received.
type PaymentTransaction struct {
	ID        uuid.UUID       `json:"id"`
	InvoiceID uuid.UUID       `json:"-"`
	Date      time.Time       `json:"date"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
	Reference *string         `json:"reference,omitempty"`
	Notes     *string         `json:"notes,omitempty"`
}

// Invoice is a bill issued to a patient. BalanceAmount always equals
// TotalAmount - PaidAmount; PaymentStatus is derived on read and not stored.
type Invoice struct {
	ID                  uuid.UUID            `json:"id"`
	InvoiceID           string               `json:"invoice_id"`
	PatientID           uuid.UUID            `json:"patient_id"`
	AppointmentID       *uuid.UUID           `json:"appointment_id,omitempty"`
	BillDate            time.Time            `json:"bill_date"`
	DueDate             time.Time            `json:"due_date"`
	Items               []Item               `json:"items"`
	Subtotal            decimal.Decimal      `json:"subtotal"`
	Tax                 decimal.Decimal      `json:"tax"`
	Discount            decimal.Decimal      `json:"discount"`
	TotalAmount         decimal.Decimal      `json:"total_amount"`
	PaidAmount          decimal.Decimal      `json:"paid_amount"`
	BalanceAmount       decimal.Decimal      `json:"balance_amount"`
	PaymentMethod       string               `json:"payment_method"`
	PaymentStatus       PaymentStatus        `json:"payment_status"`
	PaymentTransactions []PaymentTransaction `json:"payment_transactions"`
	Insurance           *Insurance           `json:"insurance,omitempty"`
	Notes               *string              `json:"notes,omitempty"`
	CreatedBy           uuid.UUID            `json:"created_by"`
	Version             int                  `json:"version"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// DeriveStatus applies the payment status precedence: a settled balance is
// paid, an unsettled one past its due date is overdue, otherwise partial or
// pending depending on whether anything was paid.
func DeriveStatus(balance, paid decimal.Decimal, due, now time.Time) PaymentStatus {
	switch {
	case !balance.IsPositive():
		return StatusPaid
	case now.After(due):
		return StatusOverdue
	case paid.IsPositive():
		return StatusPartial
	default:
		return StatusPending
	}
}

// Refresh recomputes the balance and the derived status.
func (inv *Invoice) Refresh(now time.Time) {
	inv.BalanceAmount = inv.TotalAmount.Sub(inv.PaidAmount)
	inv.PaymentStatus = DeriveStatus(inv.BalanceAmount, inv.PaidAmount, inv.DueDate, now)
}

// Filter narrows ListInvoices. Zero values mean "any".
type Filter struct {
	PatientID *uuid.UUID
	Status    PaymentStatus
	From      *time.Time
	To        *time.Time
	Now       time.Time
}

type GroupBy string

const (
	GroupNone    GroupBy = ""
	GroupDay     GroupBy = "day"
	GroupMethod  GroupBy = "method"
	GroupPatient GroupBy = "patient"
)

// StatsQuery selects invoices billed in [From, To).
type StatsQuery struct {
	From    time.Time
	To      time.Time
	GroupBy GroupBy
	Now     time.Time
}

type StatsRow struct {
	Key       string          `json:"key"`
	Total     decimal.Decimal `json:"total"`
	Collected decimal.Decimal `json:"collected"`
	Count     int             `json:"count"`
}

type Stats struct {
	TotalRevenue decimal.Decimal `json:"total_revenue"`
	Collected    decimal.Decimal `json:"collected"`
	Pending      decimal.Decimal `json:"pending"`
	OverdueCount int             `json:"overdue_count"`
	InvoiceCount int             `json:"invoice_count"`
	Groups       []StatsRow      `json:"groups,omitempty"`
}
