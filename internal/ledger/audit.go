package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Audit checks.
const (
	CheckBalance      = "balance"
	CheckAdjustments  = "adjustments"
	CheckInstallments = "installments"
	CheckDueDates     = "due-dates"
	CheckLinks        = "links"
)

// Finding describes a single ledger inconsistency.
type Finding struct {
	Check       string
	Account     string
	Description string
}

func (f Finding) Error() string {
	return fmt.Sprintf("%s [%s]: %s", f.Check, f.Account, f.Description)
}

// Audit verifies every account: transactions sum to the balance within
// tolerance, at most one adjustment, installment numbers from 1 up with
// non-decreasing due dates, and links that point at an existing entry of a
// loan schedule.
func Audit(ctx context.Context, s Store, tolerance decimal.Decimal) ([]Finding, error) {
	accounts, err := s.Accounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}

	entries := make(map[int64]bool)
	var findings []Finding
	for _, a := range accounts {
		sched, err := s.Schedule(ctx, a.ID)
		if err != nil {
			return nil, fmt.Errorf("reading schedule of %s: %w", a.Name, err)
		}
		prev := 0
		for i, e := range sched {
			entries[e.ID] = true
			if e.InstallmentNo <= prev {
				findings = append(findings, Finding{
					Check:       CheckInstallments,
					Account:     a.Name,
					Description: fmt.Sprintf("installment %d at position %d", e.InstallmentNo, i+1),
				})
			}
			prev = e.InstallmentNo
			if i > 0 && e.DueDate.Before(sched[i-1].DueDate) {
				findings = append(findings, Finding{
					Check:       CheckDueDates,
					Account:     a.Name,
					Description: fmt.Sprintf("installment %d due %s before installment %d", e.InstallmentNo, e.DueDate.Format("2006-01-02"), sched[i-1].InstallmentNo),
				})
			}
		}
	}

	for _, a := range accounts {
		txns, err := s.Transactions(ctx, a.ID)
		if err != nil {
			return nil, fmt.Errorf("reading transactions of %s: %w", a.Name, err)
		}
		sum := decimal.Zero
		adjustments := 0
		for _, t := range txns {
			sum = sum.Add(t.Amount)
			if t.IsAdjustment() {
				adjustments++
			}
			if t.ScheduleEntryID != 0 && !entries[t.ScheduleEntryID] {
				findings = append(findings, Finding{
					Check:       CheckLinks,
					Account:     a.Name,
					Description: fmt.Sprintf("transaction %d links missing entry %d", t.ID, t.ScheduleEntryID),
				})
			}
		}
		if sum.Sub(a.Balance).Abs().GreaterThan(tolerance) {
			findings = append(findings, Finding{
				Check:       CheckBalance,
				Account:     a.Name,
				Description: fmt.Sprintf("transactions sum to %s, balance is %s", sum.StringFixed(2), a.Balance.StringFixed(2)),
			})
		}
		if adjustments > 1 {
			findings = append(findings, Finding{
				Check:       CheckAdjustments,
				Account:     a.Name,
				Description: fmt.Sprintf("%d adjustments", adjustments),
			})
		}
	}
	return findings, nil
}
