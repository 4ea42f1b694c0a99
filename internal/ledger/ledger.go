// Package ledger defines the persistence seam the reconciler writes through.
package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/reconciler/internal/model"
)

var (
	// ErrNotFound is returned for unknown accounts, transactions or entries.
	ErrNotFound = errors.New("not found")
	// ErrImmutable is returned when a PAID schedule entry would change.
	ErrImmutable = errors.New("schedule entry is paid and immutable")
)

// Store persists accounts, transactions and loan schedules.
//
// Transactions returns rows ordered by (date, id) and Schedule by installment
// number. An accountID of 0 selects every account. UpdateTransaction rewrites
// only the category and schedule link. DeleteTransaction removes one row and
// leaves every other ID alone. UpsertScheduleEntry is keyed by
// (account, installment).
type Store interface {
	UpsertAccount(ctx context.Context, name string, kind model.AccountKind) (int64, error)
	Account(ctx context.Context, id int64) (model.Account, error)
	AccountByName(ctx context.Context, name string) (model.Account, error)
	Accounts(ctx context.Context) ([]model.Account, error)
	SetAccountBalance(ctx context.Context, id int64, balance decimal.Decimal) error

	AppendTransaction(ctx context.Context, txn model.Transaction) (int64, error)
	Transactions(ctx context.Context, accountID int64) ([]model.Transaction, error)
	UpdateTransaction(ctx context.Context, txn model.Transaction) error
	DeleteTransaction(ctx context.Context, id int64) error
	DeleteTransactions(ctx context.Context, accountID int64) (int, error)

	UpsertScheduleEntry(ctx context.Context, entry model.ScheduleEntry) (int64, error)
	MarkScheduleStatus(ctx context.Context, id int64, status model.ScheduleStatus) error
	Schedule(ctx context.Context, accountID int64) ([]model.ScheduleEntry, error)
	DeleteSchedule(ctx context.Context, accountID int64) (int, error)
}

// TxStore runs a group of writes atomically. If fn returns an error nothing
// it wrote is kept.
type TxStore interface {
	Store
	WithinTx(ctx context.Context, fn func(Store) error) error
}
