package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/clinicdesk/clinic/internal/platform/apperr"
	"github.com/clinicdesk/clinic/internal/platform/db"
)

type invoiceRepoPG struct{ pool *pgxpool.Pool }

func NewInvoiceRepoPG(pool *pgxpool.Pool) InvoiceRepository { return &invoiceRepoPG{pool: pool} }

func (r *invoiceRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const invCols = `id, invoice_id, patient_id, appointment_id, bill_date, due_date,
	subtotal, tax, discount, total_amount, paid_amount, balance_amount,
	payment_method, insurance, notes, created_by, version, created_at, updated_at`

func (r *invoiceRepoPG) scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	var insurance []byte
	err := row.Scan(&inv.ID, &inv.InvoiceID, &inv.PatientID, &inv.AppointmentID, &inv.BillDate, &inv.DueDate,
		&inv.Subtotal, &inv.Tax, &inv.Discount, &inv.TotalAmount, &inv.PaidAmount, &inv.BalanceAmount,
		&inv.PaymentMethod, &insurance, &inv.Notes, &inv.CreatedBy, &inv.Version, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(insurance) > 0 {
		inv.Insurance = &Insurance{}
		if err := json.Unmarshal(insurance, inv.Insurance); err != nil {
			return nil, fmt.Errorf("decode insurance: %w", err)
		}
	}
	return &inv, nil
}

func marshalInsurance(ins *Insurance) ([]byte, error) {
	if ins == nil {
		return nil, nil
	}
	return json.Marshal(ins)
}

func (r *invoiceRepoPG) Create(ctx context.Context, inv *Invoice) error {
	insurance, err := marshalInsurance(inv.Insurance)
	if err != nil {
		return fmt.Errorf("encode insurance: %w", err)
	}
	q := r.conn(ctx)
	_, err = q.Exec(ctx, `
		INSERT INTO invoices (id, invoice_id, patient_id, appointment_id, bill_date, due_date,
			subtotal, tax, discount, total_amount, paid_amount, balance_amount,
			payment_method, insurance, notes, created_by, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		inv.ID, inv.InvoiceID, inv.PatientID, inv.AppointmentID, inv.BillDate, inv.DueDate,
		inv.Subtotal, inv.Tax, inv.Discount, inv.TotalAmount, inv.PaidAmount, inv.BalanceAmount,
		inv.PaymentMethod, insurance, inv.Notes, inv.CreatedBy, inv.Version, inv.CreatedAt, inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}

	for i, it := range inv.Items {
		_, err := q.Exec(ctx, `
			INSERT INTO invoice_items (invoice_id, position, description, quantity, unit_price, amount)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			inv.ID, i, it.Description, it.Quantity, it.UnitPrice, it.Amount)
		if err != nil {
			return fmt.Errorf("insert invoice item %d: %w", i, err)
		}
	}
	return nil
}

func (r *invoiceRepoPG) get(ctx context.Context, where string, arg interface{}) (*Invoice, error) {
	inv, err := r.scanInvoice(r.conn(ctx).QueryRow(ctx, `SELECT `+invCols+` FROM invoices WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("invoice %v not found", arg)
		}
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	if err := r.loadChildren(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (r *invoiceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return r.get(ctx, "id = $1", id)
}

func (r *invoiceRepoPG) GetByInvoiceID(ctx context.Context, invoiceID string) (*Invoice, error) {
	return r.get(ctx, "invoice_id = $1", invoiceID)
}

func (r *invoiceRepoPG) loadChildren(ctx context.Context, inv *Invoice) error {
	q := r.conn(ctx)

	rows, err := q.Query(ctx, `
		SELECT description, quantity, unit_price, amount
		FROM invoice_items WHERE invoice_id = $1 ORDER BY position`, inv.ID)
	if err != nil {
		return fmt.Errorf("query invoice items: %w", err)
	}
	inv.Items = []Item{}
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.Description, &it.Quantity, &it.UnitPrice, &it.Amount); err != nil {
			rows.Close()
			return fmt.Errorf("scan invoice item: %w", err)
		}
		inv.Items = append(inv.Items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = q.Query(ctx, `
		SELECT id, date, amount, method, reference, notes
		FROM payment_transactions WHERE invoice_id = $1 ORDER BY date, created_at`, inv.ID)
	if err != nil {
		return fmt.Errorf("query payment transactions: %w", err)
	}
	defer rows.Close()
	inv.PaymentTransactions = []PaymentTransaction{}
	for rows.Next() {
		tx := PaymentTransaction{InvoiceID: inv.ID}
		if err := rows.Scan(&tx.ID, &tx.Date, &tx.Amount, &tx.Method, &tx.Reference, &tx.Notes); err != nil {
			return fmt.Errorf("scan payment transaction: %w", err)
		}
		inv.PaymentTransactions = append(inv.PaymentTransactions, tx)
	}
	return rows.Err()
}

func (r *invoiceRepoPG) Update(ctx context.Context, inv *Invoice) error {
	insurance, err := marshalInsurance(inv.Insurance)
	if err != nil {
		return fmt.Errorf("encode insurance: %w", err)
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE invoices SET due_date = $2, payment_method = $3, insurance = $4, notes = $5,
			version = version + 1, updated_at = $6
		WHERE id = $1`,
		inv.ID, inv.DueDate, inv.PaymentMethod, insurance, inv.Notes, inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("invoice %s not found", inv.ID)
	}
	return nil
}

func (r *invoiceRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	q := r.conn(ctx)
	tag, err := q.Exec(ctx, `DELETE FROM invoices WHERE id = $1 AND paid_amount = 0`, id)
	if err != nil {
		return fmt.Errorf("delete invoice: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var invoiceID string
	err = q.QueryRow(ctx, `SELECT invoice_id FROM invoices WHERE id = $1`, id).Scan(&invoiceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("invoice %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("check invoice: %w", err)
	}
	return apperr.Conflict("invoice %s has payments and cannot be deleted", invoiceID)
}

// ApplyPayment must run inside a transaction (see Service.ApplyPayment) so
// the increment and the transaction row commit together. The increment is
// computed by Postgres from the row's current value, never from a value read
// earlier, so concurrent payments cannot overwrite each other.
func (r *invoiceRepoPG) ApplyPayment(ctx context.Context, id uuid.UUID, tx *PaymentTransaction, now time.Time) error {
	q := r.conn(ctx)
	var paid decimal.Decimal
	err := q.QueryRow(ctx, `
		UPDATE invoices
		SET paid_amount = paid_amount + $2,
			balance_amount = total_amount - (paid_amount + $2),
			version = version + 1,
			updated_at = $3
		WHERE id = $1
		RETURNING paid_amount`,
		id, tx.Amount, now).Scan(&paid)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("invoice %s not found", id)
		}
		return fmt.Errorf("apply payment: %w", err)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO payment_transactions (id, invoice_id, date, amount, method, reference, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		tx.ID, id, tx.Date, tx.Amount, tx.Method, tx.Reference, tx.Notes)
	if err != nil {
		return fmt.Errorf("insert payment transaction: %w", err)
	}
	return nil
}

// statusClause renders a payment status as SQL using the same precedence as
// DeriveStatus. now is bound as parameter $n.
func statusClause(s PaymentStatus, n int) string {
	switch s {
	case StatusPaid:
		return "balance_amount <= 0"
	case StatusOverdue:
		return fmt.Sprintf("balance_amount > 0 AND due_date < $%d", n)
	case StatusPartial:
		return fmt.Sprintf("balance_amount > 0 AND due_date >= $%d AND paid_amount > 0", n)
	default:
		return fmt.Sprintf("balance_amount > 0 AND due_date >= $%d AND paid_amount = 0", n)
	}
}

func buildWhere(f Filter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.From != nil {
		add("bill_date >= $%d", *f.From)
	}
	if f.To != nil {
		add("bill_date < $%d", *f.To)
	}
	if f.Status != "" {
		args = append(args, f.Now)
		conds = append(conds, "("+statusClause(f.Status, len(args))+")")
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *invoiceRepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Invoice, int, error) {
	where, args := buildWhere(f)
	q := r.conn(ctx)

	var total int
	if err := q.QueryRow(ctx, "SELECT COUNT(*) FROM invoices"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count invoices: %w", err)
	}

	n := len(args)
	args = append(args, limit, offset)
	rows, err := q.Query(ctx,
		fmt.Sprintf("SELECT %s FROM invoices%s ORDER BY bill_date DESC, invoice_id DESC LIMIT $%d OFFSET $%d",
			invCols, where, n+1, n+2),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list invoices: %w", err)
	}
	var items []*Invoice
	for rows.Next() {
		inv, err := r.scanInvoice(rows)
		if err != nil {
			rows.Close()
			return nil, 0, fmt.Errorf("scan invoice: %w", err)
		}
		items = append(items, inv)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for _, inv := range items {
		if err := r.loadChildren(ctx, inv); err != nil {
			return nil, 0, err
		}
	}
	return items, total, nil
}

// Stats runs the totals and the grouping query concurrently on the pool.
func (r *invoiceRepoPG) Stats(ctx context.Context, q StatsQuery) (*Stats, error) {
	st := &Stats{}
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		err := r.pool.QueryRow(ctx, `
			SELECT COALESCE(SUM(total_amount), 0),
				COALESCE(SUM(paid_amount), 0),
				COALESCE(SUM(GREATEST(balance_amount, 0)), 0),
				COUNT(*) FILTER (WHERE balance_amount > 0 AND due_date < $3),
				COUNT(*)
			FROM invoices WHERE bill_date >= $1 AND bill_date < $2`,
			q.From, q.To, q.Now).Scan(&st.TotalRevenue, &st.Collected, &st.Pending, &st.OverdueCount, &st.InvoiceCount)
		if err != nil {
			return fmt.Errorf("invoice totals: %w", err)
		}
		return nil
	})

	var groups []StatsRow
	if sql := groupSQL(q.GroupBy); sql != "" {
		eg.Go(func() error {
			rows, err := r.pool.Query(ctx, sql, q.From, q.To)
			if err != nil {
				return fmt.Errorf("invoice stats by %s: %w", q.GroupBy, err)
			}
			defer rows.Close()
			for rows.Next() {
				var g StatsRow
				if err := rows.Scan(&g.Key, &g.Total, &g.Collected, &g.Count); err != nil {
					return fmt.Errorf("scan stats row: %w", err)
				}
				groups = append(groups, g)
			}
			return rows.Err()
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	st.Groups = groups
	return st, nil
}

func groupSQL(g GroupBy) string {
	switch g {
	case GroupDay:
		return `
			SELECT to_char(bill_date AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS key,
				SUM(total_amount), SUM(paid_amount), COUNT(*)
			FROM invoices WHERE bill_date >= $1 AND bill_date < $2
			GROUP BY key ORDER BY key`
	case GroupPatient:
		return `
			SELECT patient_id::text AS key, SUM(total_amount), SUM(paid_amount), COUNT(*)
			FROM invoices WHERE bill_date >= $1 AND bill_date < $2
			GROUP BY key ORDER BY key`
	case GroupMethod:
		return `
			SELECT t.method AS key, SUM(t.amount), SUM(t.amount), COUNT(*)
			FROM payment_transactions t
			JOIN invoices i ON i.id = t.invoice_id
			WHERE i.bill_date >= $1 AND i.bill_date < $2
			GROUP BY key ORDER BY key`
	}
	return ""
}

