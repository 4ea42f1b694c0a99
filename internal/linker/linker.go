// Package linker joins ledger transactions to loan schedule entries.
package linker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/reconciler/internal/ledger"
	"github.com/cleared-dev/reconciler/internal/model"
	"github.com/cleared-dev/reconciler/internal/money"
)

// DefaultTolerance is the amount slack when matching a payment.
var DefaultTolerance = decimal.NewFromInt(2)

const (
	backfillPrefix      = "Loan Repayment (Inst #"
	backfillSuffix      = ") - Backfilled"
	backfillDescription = backfillPrefix + "%d" + backfillSuffix
)

// IsBackfill reports whether t was synthesized by Backfill.
func IsBackfill(t model.Transaction) bool {
	return t.ScheduleEntryID != 0 &&
		strings.HasPrefix(t.Description, backfillPrefix) &&
		strings.HasSuffix(t.Description, backfillSuffix)
}

// Options configures a Linker. A zero Cutoff disables backfill and a zero
// AsOf disables MarkOverdue.
type Options struct {
	Tolerance        decimal.Decimal
	Category         string
	Cutoff           time.Time
	FundingAccountID int64
	AsOf             time.Time
}

// Link records one entry marked PAID.
type Link struct {
	EntryID       int64
	InstallmentNo int
	TransactionID int64
	Backfilled    bool
}

// Result summarises a run over one loan.
type Result struct {
	Matched    int
	Backfilled int
	Overdue    int
	Links      []Link
}

// Linker matches payments against a loan schedule through a ledger.Store.
type Linker struct {
	store ledger.Store
	opts  Options
}

// New creates a Linker, filling unset options with defaults.
func New(store ledger.Store, opts Options) *Linker {
	if !opts.Tolerance.IsPositive() {
		opts.Tolerance = DefaultTolerance
	}
	if opts.Category == "" {
		opts.Category = model.CategoryDebtRepayment
	}
	return &Linker{store: store, opts: opts}
}

// Run matches, backfills and marks overdue, in that order.
func (l *Linker) Run(ctx context.Context, loanID int64) (*Result, error) {
	res := &Result{}
	if err := l.match(ctx, loanID, res); err != nil {
		return nil, err
	}
	if err := l.backfill(ctx, loanID, res); err != nil {
		return nil, err
	}
	if err := l.markOverdue(ctx, loanID, res); err != nil {
		return nil, err
	}
	return res, nil
}

// Match links open entries, earliest due first, to the earliest unlinked
// outflow whose size is within tolerance of the repayment. Transactions
// already labelled with the repayment category, adjustments and linked
// transactions are never candidates.
func (l *Linker) Match(ctx context.Context, loanID int64) (*Result, error) {
	res := &Result{}
	if err := l.match(ctx, loanID, res); err != nil {
		return nil, err
	}
	return res, nil
}

// Backfill synthesizes a payment on the funding account for each PENDING
// entry due before the cutoff.
func (l *Linker) Backfill(ctx context.Context, loanID int64) (*Result, error) {
	res := &Result{}
	if err := l.backfill(ctx, loanID, res); err != nil {
		return nil, err
	}
	return res, nil
}

// MarkOverdue flips PENDING entries due before AsOf to OVERDUE.
func (l *Linker) MarkOverdue(ctx context.Context, loanID int64) (*Result, error) {
	res := &Result{}
	if err := l.markOverdue(ctx, loanID, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (l *Linker) match(ctx context.Context, loanID int64, res *Result) error {
	entries, err := l.store.Schedule(ctx, loanID)
	if err != nil {
		return fmt.Errorf("reading schedule: %w", err)
	}
	var open []model.ScheduleEntry
	for _, e := range entries {
		if e.Status.Open() {
			open = append(open, e)
		}
	}
	sort.SliceStable(open, func(i, j int) bool {
		if !open[i].DueDate.Equal(open[j].DueDate) {
			return open[i].DueDate.Before(open[j].DueDate)
		}
		return open[i].InstallmentNo < open[j].InstallmentNo
	})

	txns, err := l.store.Transactions(ctx, 0)
	if err != nil {
		return fmt.Errorf("reading transactions: %w", err)
	}
	var candidates []model.Transaction
	for _, t := range txns {
		if t.Amount.IsNegative() && !t.IsAdjustment() && t.Category != l.opts.Category && t.ScheduleEntryID == 0 {
			candidates = append(candidates, t)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].Date.Equal(candidates[j].Date) {
			return candidates[i].Date.Before(candidates[j].Date)
		}
		return candidates[i].ID < candidates[j].ID
	})

	used := make(map[int64]bool)
	for _, e := range open {
		for _, t := range candidates {
			if used[t.ID] || !money.Within(t.Amount.Neg(), e.RepaymentAmount, l.opts.Tolerance) {
				continue
			}
			t.Category = l.opts.Category
			t.ScheduleEntryID = e.ID
			if err := l.store.UpdateTransaction(ctx, t); err != nil {
				return fmt.Errorf("linking transaction %d: %w", t.ID, err)
			}
			if err := l.store.MarkScheduleStatus(ctx, e.ID, model.StatusPaid); err != nil {
				return fmt.Errorf("paying installment %d: %w", e.InstallmentNo, err)
			}
			used[t.ID] = true
			res.Matched++
			res.Links = append(res.Links, Link{EntryID: e.ID, InstallmentNo: e.InstallmentNo, TransactionID: t.ID})
			break
		}
	}
	return nil
}

func (l *Linker) backfill(ctx context.Context, loanID int64, res *Result) error {
	if l.opts.Cutoff.IsZero() {
		return nil
	}
	entries, err := l.store.Schedule(ctx, loanID)
	if err != nil {
		return fmt.Errorf("reading schedule: %w", err)
	}
	for _, e := range entries {
		if e.Status != model.StatusPending || !e.DueDate.Before(l.opts.Cutoff) {
			continue
		}
		if l.opts.FundingAccountID == 0 {
			return fmt.Errorf("backfilling installment %d: no funding account", e.InstallmentNo)
		}
		id, err := l.store.AppendTransaction(ctx, model.Transaction{
			AccountID:       l.opts.FundingAccountID,
			Date:            e.DueDate,
			Description:     model.TruncateDescription(fmt.Sprintf(backfillDescription, e.InstallmentNo)),
			Amount:          e.RepaymentAmount.Neg(),
			Category:        l.opts.Category,
			ScheduleEntryID: e.ID,
		})
		if err != nil {
			return fmt.Errorf("backfilling installment %d: %w", e.InstallmentNo, err)
		}
		if err := l.store.MarkScheduleStatus(ctx, e.ID, model.StatusPaid); err != nil {
			return fmt.Errorf("paying installment %d: %w", e.InstallmentNo, err)
		}
		res.Backfilled++
		res.Links = append(res.Links, Link{EntryID: e.ID, InstallmentNo: e.InstallmentNo, TransactionID: id, Backfilled: true})
	}
	return nil
}

func (l *Linker) markOverdue(ctx context.Context, loanID int64, res *Result) error {
	if l.opts.AsOf.IsZero() {
		return nil
	}
	entries, err := l.store.Schedule(ctx, loanID)
	if err != nil {
		return fmt.Errorf("reading schedule: %w", err)
	}
	for _, e := range entries {
		if e.Status != model.StatusPending || !e.DueDate.Before(l.opts.AsOf) {
			continue
		}
		if err := l.store.MarkScheduleStatus(ctx, e.ID, model.StatusOverdue); err != nil {
			return fmt.Errorf("marking installment %d overdue: %w", e.InstallmentNo, err)
		}
		res.Overdue++
	}
	return nil
}

// LoanBalance is the outstanding balance implied by the schedule: the
// BalanceAfter of the last PAID entry that states one, negated, or
// -principal when nothing is paid.
func LoanBalance(entries []model.ScheduleEntry, principal decimal.Decimal) decimal.Decimal {
	balance := principal.Abs().Neg()
	last := 0
	for _, e := range entries {
		if e.Status == model.StatusPaid && !e.BalanceAfter.IsZero() && e.InstallmentNo > last {
			last = e.InstallmentNo
			balance = e.BalanceAfter.Abs().Neg()
		}
	}
	return balance
}
