package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ScheduleStatus is the lifecycle state of a loan installment.
type ScheduleStatus string

const (
	StatusPending ScheduleStatus = "PENDING"
	StatusPaid    ScheduleStatus = "PAID"
	StatusOverdue ScheduleStatus = "OVERDUE"
)

// Open reports whether the installment still awaits payment.
func (s ScheduleStatus) Open() bool {
	return s == StatusPending || s == StatusOverdue
}

// ScheduleEntry is one installment of an amortization schedule.
type ScheduleEntry struct {
	ID                 int64
	AccountID          int64
	InstallmentNo      int
	DueDate            time.Time
	RepaymentAmount    decimal.Decimal
	PrincipalComponent decimal.Decimal
	InterestComponent  decimal.Decimal
	BalanceAfter       decimal.Decimal
	Status             ScheduleStatus
}
