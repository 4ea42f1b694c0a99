package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/reconciler/internal/model"
)

// SettleOptions describes the adjustment Settle writes. Description and Date
// are used only when the account has no adjustment yet; Date only when it
// has no transactions at all.
type SettleOptions struct {
	Tolerance   decimal.Decimal
	Description string
	Date        time.Time
}

// Settle makes an account's transactions sum to its balance by keeping at
// most one adjustment, dated at the earliest other transaction. Only
// adjustment rows are deleted or written; every other row keeps its ID. Run
// it inside WithinTx.
func Settle(ctx context.Context, s Store, accountID int64, opts SettleOptions) (bool, error) {
	acct, err := s.Account(ctx, accountID)
	if err != nil {
		return false, err
	}
	txns, err := s.Transactions(ctx, accountID)
	if err != nil {
		return false, fmt.Errorf("reading transactions of %s: %w", acct.Name, err)
	}

	var (
		adjustments []model.Transaction
		sum         = decimal.Zero
		earliest    time.Time
	)
	for _, t := range txns {
		if t.IsAdjustment() {
			adjustments = append(adjustments, t)
			continue
		}
		if earliest.IsZero() || t.Date.Before(earliest) {
			earliest = t.Date
		}
		sum = sum.Add(t.Amount)
	}
	if earliest.IsZero() {
		earliest = opts.Date
		if earliest.IsZero() && len(adjustments) > 0 {
			earliest = adjustments[0].Date
		}
	}

	gap := acct.Balance.Sub(sum)
	want := gap.Abs().GreaterThan(opts.Tolerance)
	switch {
	case !want && len(adjustments) == 0:
		return false, nil
	case want && len(adjustments) == 1 && adjustments[0].Amount.Equal(gap) && adjustments[0].Date.Equal(earliest):
		return false, nil
	}

	desc := opts.Description
	if len(adjustments) > 0 {
		desc = adjustments[0].Description
	}
	for _, a := range adjustments {
		if err := s.DeleteTransaction(ctx, a.ID); err != nil {
			return false, fmt.Errorf("dropping adjustment of %s: %w", acct.Name, err)
		}
	}
	if want {
		if _, err := s.AppendTransaction(ctx, model.Transaction{
			AccountID:   accountID,
			Date:        earliest,
			Description: model.TruncateDescription(desc),
			Amount:      gap,
			Category:    model.CategoryAdjustment,
		}); err != nil {
			return false, fmt.Errorf("writing adjustment for %s: %w", acct.Name, err)
		}
	}
	return true, nil
}
