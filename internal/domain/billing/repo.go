package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type InvoiceRepository interface {
	// Create inserts the invoice together with its items.
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	GetByInvoiceID(ctx context.Context, invoiceID string) (*Invoice, error)
	// Update persists administrative fields only; amounts are never rewritten.
	Update(ctx context.Context, inv *Invoice) error
	// Delete removes an invoice only while nothing has been paid on it. The
	// check and the delete are one statement; a paid invoice yields Conflict.
	Delete(ctx context.Context, id uuid.UUID) error
	// ApplyPayment adds tx.Amount to the paid amount, recomputes the balance,
	// stamps updated_at with now and appends tx, as one atomic step.
	ApplyPayment(ctx context.Context, id uuid.UUID, tx *PaymentTransaction, now time.Time) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Invoice, int, error)
	Stats(ctx context.Context, q StatsQuery) (*Stats, error)
}
