// Package ledgertest holds the behaviour every ledger.TxStore must share.
package ledgertest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/reconciler/internal/ledger"
	"github.com/cleared-dev/reconciler/internal/model"
)

// Run exercises a store implementation. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) ledger.TxStore) {
	t.Run("Accounts", func(t *testing.T) { testAccounts(t, newStore(t)) })
	t.Run("Transactions", func(t *testing.T) { testTransactions(t, newStore(t)) })
	t.Run("Schedule", func(t *testing.T) { testSchedule(t, newStore(t)) })
	t.Run("WithinTxRollback", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("WithinTxCommit", func(t *testing.T) { testCommit(t, newStore(t)) })
}

func day(d int) time.Time { return time.Date(2026, time.January, d, 0, 0, 0, 0, time.UTC) }

func testAccounts(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()

	id, err := s.UpsertAccount(ctx, "Ecobank", model.AccountKindBank)
	require.NoError(t, err)
	again, err := s.UpsertAccount(ctx, "Ecobank", model.AccountKindBank)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	_, err = s.UpsertAccount(ctx, "Selcom", model.AccountKindWallet)
	require.NoError(t, err)

	require.NoError(t, s.SetAccountBalance(ctx, id, decimal.RequireFromString("4158728.76")))
	a, err := s.Account(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Ecobank", a.Name)
	assert.Equal(t, model.AccountKindBank, a.Kind)
	assert.Equal(t, "4158728.76", a.Balance.StringFixed(2))

	byName, err := s.AccountByName(ctx, "Selcom")
	require.NoError(t, err)
	assert.Equal(t, model.AccountKindWallet, byName.Kind)

	all, err := s.Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Ecobank", all[0].Name)

	_, err = s.AccountByName(ctx, "nope")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	_, err = s.Account(ctx, 999)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	assert.ErrorIs(t, s.SetAccountBalance(ctx, 999, decimal.Zero), ledger.ErrNotFound)
}

func testTransactions(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	bank, err := s.UpsertAccount(ctx, "Ecobank", model.AccountKindBank)
	require.NoError(t, err)
	wallet, err := s.UpsertAccount(ctx, "Selcom", model.AccountKindWallet)
	require.NoError(t, err)

	later, err := s.AppendTransaction(ctx, model.Transaction{
		AccountID: bank, Date: day(5), Description: "BOLT", Amount: decimal.NewFromInt(-5000), Category: model.CategoryTransport,
	})
	require.NoError(t, err)
	_, err = s.AppendTransaction(ctx, model.Transaction{
		AccountID: bank, Date: day(2), Description: "SALARY", Amount: decimal.NewFromInt(100000), Category: model.CategoryIncome,
	})
	require.NoError(t, err)
	_, err = s.AppendTransaction(ctx, model.Transaction{
		AccountID: wallet, Date: day(3), Description: "Selcom Transaction", Amount: decimal.NewFromInt(-10), Category: model.CategoryGeneral,
	})
	require.NoError(t, err)

	_, err = s.AppendTransaction(ctx, model.Transaction{AccountID: 999, Date: day(1)})
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	txns, err := s.Transactions(ctx, bank)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, "SALARY", txns[0].Description)
	assert.Equal(t, day(2), txns[0].Date.UTC())
	assert.Equal(t, "-5000", txns[1].Amount.String())

	all, err := s.Transactions(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	// Only category and link change.
	require.NoError(t, s.UpdateTransaction(ctx, model.Transaction{
		ID: later, Category: model.CategoryDebtRepayment, ScheduleEntryID: 42, Amount: decimal.NewFromInt(1),
	}))
	txns, err = s.Transactions(ctx, bank)
	require.NoError(t, err)
	assert.Equal(t, model.CategoryDebtRepayment, txns[1].Category)
	assert.Equal(t, int64(42), txns[1].ScheduleEntryID)
	assert.Equal(t, "-5000", txns[1].Amount.String())
	assert.Equal(t, "BOLT", txns[1].Description)

	assert.ErrorIs(t, s.UpdateTransaction(ctx, model.Transaction{ID: 999}), ledger.ErrNotFound)

	// Deleting one row keeps the others and their IDs.
	extra, err := s.AppendTransaction(ctx, model.Transaction{
		AccountID: bank, Date: day(1), Description: "Opening Balance", Amount: decimal.NewFromInt(7), Category: model.CategoryAdjustment,
	})
	require.NoError(t, err)
	require.NoError(t, s.DeleteTransaction(ctx, extra))
	txns, err = s.Transactions(ctx, bank)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, later, txns[1].ID)
	assert.ErrorIs(t, s.DeleteTransaction(ctx, extra), ledger.ErrNotFound)

	n, err := s.DeleteTransactions(ctx, bank)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	txns, err = s.Transactions(ctx, bank)
	require.NoError(t, err)
	assert.Empty(t, txns)
	all, err = s.Transactions(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testSchedule(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	loan, err := s.UpsertAccount(ctx, "LOLC Auto Loan", model.AccountKindLoan)
	require.NoError(t, err)

	entry := func(no int, status model.ScheduleStatus) model.ScheduleEntry {
		return model.ScheduleEntry{
			AccountID:          loan,
			InstallmentNo:      no,
			DueDate:            time.Date(2025, time.Month(4+no), 1, 0, 0, 0, 0, time.UTC),
			RepaymentAmount:    decimal.RequireFromString("1726371"),
			PrincipalComponent: decimal.RequireFromString("875521"),
			InterestComponent:  decimal.RequireFromString("850850"),
			BalanceAfter:       decimal.RequireFromString("20574479"),
			Status:             status,
		}
	}

	second, err := s.UpsertScheduleEntry(ctx, entry(2, model.StatusPending))
	require.NoError(t, err)
	first, err := s.UpsertScheduleEntry(ctx, entry(1, model.StatusPending))
	require.NoError(t, err)

	// Upsert by (account, installment) keeps the ID.
	again, err := s.UpsertScheduleEntry(ctx, entry(1, model.StatusOverdue))
	require.NoError(t, err)
	assert.Equal(t, first, again)

	sched, err := s.Schedule(ctx, loan)
	require.NoError(t, err)
	require.Len(t, sched, 2)
	assert.Equal(t, 1, sched[0].InstallmentNo)
	assert.Equal(t, model.StatusOverdue, sched[0].Status)
	assert.Equal(t, "1726371", sched[0].RepaymentAmount.String())
	assert.Equal(t, time.June, sched[1].DueDate.Month())

	require.NoError(t, s.MarkScheduleStatus(ctx, second, model.StatusPaid))
	err = s.MarkScheduleStatus(ctx, second, model.StatusPending)
	assert.ErrorIs(t, err, ledger.ErrImmutable)
	_, err = s.UpsertScheduleEntry(ctx, entry(2, model.StatusPending))
	assert.ErrorIs(t, err, ledger.ErrImmutable)
	assert.ErrorIs(t, s.MarkScheduleStatus(ctx, 999, model.StatusPaid), ledger.ErrNotFound)

	n, err := s.DeleteSchedule(ctx, loan)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	sched, err = s.Schedule(ctx, loan)
	require.NoError(t, err)
	assert.Empty(t, sched)
}

func testRollback(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	id, err := s.UpsertAccount(ctx, "Ecobank", model.AccountKindBank)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.WithinTx(ctx, func(tx ledger.Store) error {
		if _, err := tx.AppendTransaction(ctx, model.Transaction{AccountID: id, Date: day(1), Amount: decimal.NewFromInt(5)}); err != nil {
			return err
		}
		if err := tx.SetAccountBalance(ctx, id, decimal.NewFromInt(5)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	txns, err := s.Transactions(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, txns)
	a, err := s.Account(ctx, id)
	require.NoError(t, err)
	assert.True(t, a.Balance.IsZero())
}

func testCommit(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	var id int64
	err := s.WithinTx(ctx, func(tx ledger.Store) error {
		var err error
		if id, err = tx.UpsertAccount(ctx, "CRDB", model.AccountKindBank); err != nil {
			return err
		}
		if _, err := tx.AppendTransaction(ctx, model.Transaction{AccountID: id, Date: day(1), Amount: decimal.NewFromInt(7), Category: model.CategoryIncome}); err != nil {
			return err
		}
		return tx.SetAccountBalance(ctx, id, decimal.NewFromInt(7))
	})
	require.NoError(t, err)

	txns, err := s.Transactions(ctx, id)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	a, err := s.Account(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "7", a.Balance.String())
}
