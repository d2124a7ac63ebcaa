package billing

import (
	"sort"

	"github.com/shopspring/decimal"
)

// matchesFilter is the in-memory equivalent of the WHERE clause built by
// invoiceRepoPG.List. Status is evaluated against f.Now.
func matchesFilter(f Filter, inv *Invoice) bool {
	if f.PatientID != nil && inv.PatientID != *f.PatientID {
		return false
	}
	if f.From != nil && inv.BillDate.Before(*f.From) {
		return false
	}
	if f.To != nil && !inv.BillDate.Before(*f.To) {
		return false
	}
	if f.Status != "" && DeriveStatus(inv.BalanceAmount, inv.PaidAmount, inv.DueDate, f.Now) != f.Status {
		return false
	}
	return true
}

// summarize is the in-memory equivalent of invoiceRepoPG.Stats. Grouping by
// method sums the payment transactions of invoices billed within the window.
func summarize(invoices []*Invoice, q StatsQuery) *Stats {
	st := &Stats{TotalRevenue: decimal.Zero, Collected: decimal.Zero, Pending: decimal.Zero}
	groups := make(map[string]*StatsRow)
	row := func(key string) *StatsRow {
		r, ok := groups[key]
		if !ok {
			r = &StatsRow{Key: key, Total: decimal.Zero, Collected: decimal.Zero}
			groups[key] = r
		}
		return r
	}

	for _, inv := range invoices {
		if inv.BillDate.Before(q.From) || !inv.BillDate.Before(q.To) {
			continue
		}
		st.InvoiceCount++
		st.TotalRevenue = st.TotalRevenue.Add(inv.TotalAmount)
		st.Collected = st.Collected.Add(inv.PaidAmount)
		if inv.BalanceAmount.IsPositive() {
			st.Pending = st.Pending.Add(inv.BalanceAmount)
			if q.Now.After(inv.DueDate) {
				st.OverdueCount++
			}
		}

		switch q.GroupBy {
		case GroupDay:
			r := row(inv.BillDate.UTC().Format("2006-01-02"))
			r.Total = r.Total.Add(inv.TotalAmount)
			r.Collected = r.Collected.Add(inv.PaidAmount)
			r.Count++
		case GroupPatient:
			r := row(inv.PatientID.String())
			r.Total = r.Total.Add(inv.TotalAmount)
			r.Collected = r.Collected.Add(inv.PaidAmount)
			r.Count++
		case GroupMethod:
			for _, tx := range inv.PaymentTransactions {
				r := row(tx.Method)
				r.Collected = r.Collected.Add(tx.Amount)
				r.Total = r.Total.Add(tx.Amount)
				r.Count++
			}
		}
	}

	if len(groups) > 0 {
		st.Groups = make([]StatsRow, 0, len(groups))
		for _, r := range groups {
			st.Groups = append(st.Groups, *r)
		}
		sort.Slice(st.Groups, func(i, j int) bool { return st.Groups[i].Key < st.Groups[j].Key })
	}
	return st
}
