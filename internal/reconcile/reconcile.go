// Package reconcile turns adapted statement rows into a balanced ledger for
// one account. Reconcile handles sources with explicit inflow/outflow;
// Reconstruct derives amounts from a running balance.
package reconcile

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/reconciler/internal/categorize"
	"github.com/cleared-dev/reconciler/internal/model"
	"github.com/cleared-dev/reconciler/internal/money"
)

// Default tolerances.
var (
	DefaultTolerance      = decimal.NewFromInt(1)
	DefaultDeltaTolerance = decimal.RequireFromString("0.01")
)

const (
	openingDescription  = "Opening Balance"
	verifiedDescription = "Verified Opening Balance %d"
)

// ErrNoRows is returned when an account has no usable rows.
var ErrNoRows = errors.New("no rows to reconcile")

// GapError reports an opening gap too large to be explained by missing
// history. The caller decides; no adjustment is injected.
type GapError struct {
	AccountID int64
	Gap       decimal.Decimal
	Closing   decimal.Decimal
	Sum       decimal.Decimal
	Limit     decimal.Decimal
}

func (e *GapError) Error() string {
	return fmt.Sprintf("account %d: gap %s exceeds %s (closing %s, observed %s)",
		e.AccountID, e.Gap.StringFixed(2), e.Limit.StringFixed(2), e.Closing.StringFixed(2), e.Sum.StringFixed(2))
}

// Options tunes the reconciler. Zero tolerances take the defaults; a zero
// MaxGap disables the implausible-gap check.
type Options struct {
	Tolerance      decimal.Decimal
	DeltaTolerance decimal.Decimal
	MaxGap         decimal.Decimal
	Categorizer    *categorize.Categorizer
}

// Reconciler is stateless between calls and safe for concurrent use.
type Reconciler struct {
	opts Options
}

// New creates a Reconciler, filling unset options with defaults.
func New(opts Options) *Reconciler {
	if !opts.Tolerance.IsPositive() {
		opts.Tolerance = DefaultTolerance
	}
	if !opts.DeltaTolerance.IsPositive() {
		opts.DeltaTolerance = DefaultDeltaTolerance
	}
	if opts.Categorizer == nil {
		opts.Categorizer = categorize.New(nil)
	}
	return &Reconciler{opts: opts}
}

// Input is one account's rows. ClosingBalance overrides the balance reported
// on the last row when set.
type Input struct {
	AccountID      int64
	Rows           []model.RawRow
	ClosingBalance decimal.NullDecimal
}

// Stats describes what happened to the input rows.
type Stats struct {
	Rows                 int
	Emitted              int
	Dropped              int // zero-net rows or sub-tolerance deltas
	Adjustments          int
	Gap                  decimal.Decimal
	UnattributedFirstRow bool
}

// Ledger is the reconciled output for one account.
type Ledger struct {
	AccountID    int64
	Transactions []model.Transaction // chronological, adjustment first when present
	Adjustment   *model.Transaction
	Balance      decimal.Decimal
	Stats        Stats
}

// Sum returns the total of all transaction amounts.
func (l *Ledger) Sum() decimal.Decimal {
	amounts := make([]decimal.Decimal, len(l.Transactions))
	for i, t := range l.Transactions {
		amounts[i] = t.Amount
	}
	return money.Sum(amounts...)
}

// Reconcile emits one transaction per row with a nonzero net amount and
// closes any gap to the closing balance with a single adjustment dated at
// the earliest row.
func (r *Reconciler) Reconcile(in Input) (*Ledger, error) {
	if len(in.Rows) == 0 {
		return nil, ErrNoRows
	}
	rows := chronological(in.Rows)

	l := &Ledger{AccountID: in.AccountID}
	l.Stats.Rows = len(rows)
	sum := decimal.Zero
	for _, row := range rows {
		net := row.Net()
		if net.IsZero() {
			l.Stats.Dropped++
			continue
		}
		l.Transactions = append(l.Transactions, r.transaction(in.AccountID, row, net))
		sum = sum.Add(net)
	}
	l.Stats.Emitted = len(l.Transactions)

	closing := sum
	if in.ClosingBalance.Valid {
		closing = in.ClosingBalance.Decimal
	} else if b, ok := lastBalance(rows); ok {
		closing = b
	}

	first := rows[0]
	desc := fmt.Sprintf(verifiedDescription, first.Date.Year())
	if err := r.close(l, first, desc, closing, sum); err != nil {
		return nil, err
	}
	return l, nil
}

// Reconstruct derives transactions from consecutive balance deltas. The
// first row only anchors the balance. A delta within the delta tolerance
// emits nothing and is carried into the next delta.
func (r *Reconciler) Reconstruct(in Input) (*Ledger, error) {
	var rows []model.RawRow
	dropped := 0
	for _, row := range in.Rows {
		if !row.HasBalance {
			dropped++
			continue
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return timestamp(rows[i]).Before(timestamp(rows[j]))
	})

	l := &Ledger{AccountID: in.AccountID}
	l.Stats.Rows = len(in.Rows)
	l.Stats.Dropped = dropped
	l.Stats.UnattributedFirstRow = true

	prev := rows[0].ReportedBalance
	sum := decimal.Zero
	for _, row := range rows[1:] {
		amount := row.ReportedBalance.Sub(prev)
		if amount.Abs().LessThanOrEqual(r.opts.DeltaTolerance) {
			l.Stats.Dropped++
			continue
		}
		l.Transactions = append(l.Transactions, r.transaction(in.AccountID, row, amount))
		sum = sum.Add(amount)
		prev = row.ReportedBalance
	}
	l.Stats.Emitted = len(l.Transactions)

	closing := rows[len(rows)-1].ReportedBalance
	if in.ClosingBalance.Valid {
		closing = in.ClosingBalance.Decimal
	}
	if err := r.close(l, rows[0], openingDescription, closing, sum); err != nil {
		return nil, err
	}
	return l, nil
}

func (r *Reconciler) close(l *Ledger, first model.RawRow, desc string, closing, sum decimal.Decimal) error {
	gap := closing.Sub(sum)
	l.Stats.Gap = gap
	if r.opts.MaxGap.IsPositive() && gap.Abs().GreaterThan(r.opts.MaxGap) {
		return &GapError{AccountID: l.AccountID, Gap: gap, Closing: closing, Sum: sum, Limit: r.opts.MaxGap}
	}
	if !money.Within(gap, decimal.Zero, r.opts.Tolerance) {
		adj := model.Transaction{
			AccountID:   l.AccountID,
			Date:        first.Date,
			Description: desc,
			Amount:      gap,
			Category:    model.CategoryAdjustment,
		}
		l.Transactions = append([]model.Transaction{adj}, l.Transactions...)
		l.Adjustment = &l.Transactions[0]
		l.Stats.Adjustments = 1
	}
	l.Balance = closing
	return nil
}

func (r *Reconciler) transaction(accountID int64, row model.RawRow, amount decimal.Decimal) model.Transaction {
	return model.Transaction{
		AccountID:   accountID,
		Date:        row.Date,
		Description: model.TruncateDescription(row.Description),
		Amount:      amount,
		Category:    r.opts.Categorizer.Categorize(row.Description, amount),
	}
}

// chronological returns a copy of rows in ascending date order. Statements
// printed newest first are reversed before the stable sort so same-day rows
// keep their posting order.
func chronological(in []model.RawRow) []model.RawRow {
	rows := append([]model.RawRow(nil), in...)
	if len(rows) > 1 && rows[0].Date.After(rows[len(rows)-1].Date) {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })
	return rows
}

func lastBalance(rows []model.RawRow) (decimal.Decimal, bool) {
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].HasBalance {
			return rows[i].ReportedBalance, true
		}
	}
	return decimal.Zero, false
}

func timestamp(r model.RawRow) time.Time {
	if r.Timestamp.IsZero() {
		return r.Date
	}
	return r.Timestamp
}
