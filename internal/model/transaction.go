package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Well-known category labels. Categories are an open vocabulary; these are
// the ones the reconciler and linker assign themselves.
const (
	CategoryIncome         = "Income"
	CategoryDebtRepayment  = "Debt Repayment"
	CategoryTransport      = "Transport"
	CategoryUtilities      = "Utilities"
	CategoryFood           = "Food"
	CategorySubscriptions  = "Subscriptions"
	CategoryTransfer       = "Transfer"
	CategoryCashWithdrawal = "Cash Withdrawal"
	CategoryGeneral        = "General"
	CategoryAdjustment     = "Adjustment"
)

// MaxDescriptionLen bounds Transaction.Description, in runes.
const MaxDescriptionLen = 60

// Transaction is one ledger row.
type Transaction struct {
	ID              int64
	AccountID       int64
	Date            time.Time
	Description     string
	Amount          decimal.Decimal // positive = inflow, negative = outflow
	Category        string
	ScheduleEntryID int64 // 0 = not linked to an installment
}

// IsAdjustment reports whether t is a synthetic gap-closing entry.
func (t Transaction) IsAdjustment() bool {
	return t.Category == CategoryAdjustment
}

// TruncateDescription cuts s to MaxDescriptionLen runes.
func TruncateDescription(s string) string {
	r := []rune(s)
	if len(r) <= MaxDescriptionLen {
		return s
	}
	return string(r[:MaxDescriptionLen])
}

// RawRow is the uniform shape every statement layout is adapted into.
type RawRow struct {
	Line            int       // 1-based record number in the source
	Date            time.Time // posting date, day precision
	Timestamp       time.Time // declared transaction time; equals Date when the source has no time
	Description     string
	Inflow          decimal.Decimal // >= 0
	Outflow         decimal.Decimal // >= 0
	ReportedBalance decimal.Decimal
	HasBalance      bool
	RawAmount       decimal.Decimal // unsigned amount column of balance-only sources, diagnostic only
}

// Net returns Inflow - Outflow.
func (r RawRow) Net() decimal.Decimal {
	return r.Inflow.Sub(r.Outflow)
}
