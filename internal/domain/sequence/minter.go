package sequence

import (
	"context"
	"fmt"
	"time"

	"github.com/clinicdesk/clinic/internal/platform/clock"
)

// Kind names an entity type that receives a human-readable identifier.
type Kind string

const (
	KindPatient     Kind = "patient"
	KindDoctor      Kind = "doctor"
	KindAppointment Kind = "appointment"
	KindTherapy     Kind = "therapy"
	KindTreatment   Kind = "treatment"
	KindInventory   Kind = "inventory"
	KindInvoice     Kind = "invoice"
	KindReport      Kind = "report"
)

var prefixes = map[Kind]string{
	KindPatient:     "PAT",
	KindDoctor:      "DOC",
	KindAppointment: "APT",
	KindTherapy:     "THR",
	KindTreatment:   "TRE",
	KindInventory:   "ITEM",
	KindInvoice:     "INV",
	KindReport:      "REP",
}

// Prefix returns the identifier prefix for k, or "" for an unknown kind.
func Prefix(k Kind) string { return prefixes[k] }

// InvoiceScheme selects how invoice identifiers are laid out.
type InvoiceScheme string

const (
	// SchemeYearly: INV-2026-0001 from the never-resetting "invoice" counter.
	SchemeYearly InvoiceScheme = "yearly"
	// SchemeMonthly: INV2026100001 from a per-month "invoice-YYYYMM" counter.
	SchemeMonthly InvoiceScheme = "monthly"
)

func ParseInvoiceScheme(s string) (InvoiceScheme, error) {
	switch InvoiceScheme(s) {
	case "", SchemeYearly:
		return SchemeYearly, nil
	case SchemeMonthly:
		return SchemeMonthly, nil
	}
	return "", fmt.Errorf("unknown invoice id scheme %q", s)
}

// Minter turns counter values into identifiers.
type Minter struct {
	gen    Generator
	clock  clock.Clock
	scheme InvoiceScheme
}

func NewMinter(gen Generator, clk clock.Clock, scheme InvoiceScheme) *Minter {
	if scheme == "" {
		scheme = SchemeYearly
	}
	return &Minter{gen: gen, clock: clk, scheme: scheme}
}

// Mint allocates the next identifier for k. The year is taken from the
// minting instant; the counter itself never resets.
func (m *Minter) Mint(ctx context.Context, k Kind) (string, error) {
	prefix, ok := prefixes[k]
	if !ok {
		return "", fmt.Errorf("unknown identifier kind %q", k)
	}
	now := m.clock.Now()

	if k == KindInvoice && m.scheme == SchemeMonthly {
		seq, err := m.gen.Next(ctx, MonthlyCounter(now))
		if err != nil {
			return "", fmt.Errorf("mint %s id: %w", k, err)
		}
		return FormatMonthlyInvoice(now, seq), nil
	}

	seq, err := m.gen.Next(ctx, string(k))
	if err != nil {
		return "", fmt.Errorf("mint %s id: %w", k, err)
	}
	return Format(prefix, now.Year(), seq), nil
}

// Format renders PREFIX-YEAR-SEQ with SEQ zero-padded to at least 4 digits.
func Format(prefix string, year int, seq uint64) string {
	return fmt.Sprintf("%s-%d-%04d", prefix, year, seq)
}

// MonthlyCounter is the counter name used by the monthly invoice scheme.
func MonthlyCounter(t time.Time) string {
	return fmt.Sprintf("invoice-%04d%02d", t.Year(), int(t.Month()))
}

func FormatMonthlyInvoice(t time.Time, seq uint64) string {
	return fmt.Sprintf("INV%04d%02d%04d", t.Year(), int(t.Month()), seq)
}
