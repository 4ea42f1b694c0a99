package csvstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/reconciler/internal/ledger"
	"github.com/cleared-dev/reconciler/internal/ledger/ledgertest"
	"github.com/cleared-dev/reconciler/internal/model"
)

func TestStore(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) ledger.TxStore {
		s, err := Open(filepath.Join(t.TempDir(), "ledger"))
		require.NoError(t, err)
		return s
	})
}

func TestStore_PersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "ledger")
	s, err := Open(dir)
	require.NoError(t, err)

	var bank, entryID int64
	require.NoError(t, s.WithinTx(ctx, func(tx ledger.Store) error {
		var err error
		if bank, err = tx.UpsertAccount(ctx, "Ecobank", model.AccountKindBank); err != nil {
			return err
		}
		loan, err := tx.UpsertAccount(ctx, "LOLC Auto Loan", model.AccountKindLoan)
		if err != nil {
			return err
		}
		if entryID, err = tx.UpsertScheduleEntry(ctx, model.ScheduleEntry{
			AccountID:       loan,
			InstallmentNo:   1,
			DueDate:         time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC),
			RepaymentAmount: decimal.RequireFromString("1726371"),
			BalanceAfter:    decimal.RequireFromString("20574479"),
			Status:          model.StatusPaid,
		}); err != nil {
			return err
		}
		if _, err := tx.AppendTransaction(ctx, model.Transaction{
			AccountID:       bank,
			Date:            time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC),
			Description:     "LOLC, INSTALLMENT \"MAY\"",
			Amount:          decimal.RequireFromString("-1726371"),
			Category:        model.CategoryDebtRepayment,
			ScheduleEntryID: entryID,
		}); err != nil {
			return err
		}
		return tx.SetAccountBalance(ctx, bank, decimal.RequireFromString("-1726371"))
	}))

	data, err := os.ReadFile(filepath.Join(dir, TransactionsFile))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), TransactionsHeader+"\n"))

	reopened, err := Open(dir)
	require.NoError(t, err)
	txns, err := reopened.Transactions(ctx, bank)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, "LOLC, INSTALLMENT \"MAY\"", txns[0].Description)
	assert.Equal(t, entryID, txns[0].ScheduleEntryID)
	assert.Equal(t, "-1726371.00", txns[0].Amount.StringFixed(2))

	a, err := reopened.AccountByName(ctx, "Ecobank")
	require.NoError(t, err)
	assert.Equal(t, "-1726371", a.Balance.String())

	// PAID survives a reopen and stays immutable.
	assert.ErrorIs(t, reopened.MarkScheduleStatus(ctx, entryID, model.StatusPending), ledger.ErrImmutable)

	// New rows continue after the loaded IDs.
	id, err := reopened.UpsertAccount(ctx, "Selcom", model.AccountKindWallet)
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)
}

func TestStore_RollbackLeavesFilesUntouched(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	_, err = s.UpsertAccount(ctx, "Ecobank", model.AccountKindBank)
	require.NoError(t, err)
	before, err := os.ReadFile(filepath.Join(dir, AccountsFile))
	require.NoError(t, err)

	err = s.WithinTx(ctx, func(tx ledger.Store) error {
		if _, err := tx.UpsertAccount(ctx, "CRDB", model.AccountKindBank); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	after, err := os.ReadFile(filepath.Join(dir, AccountsFile))
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestStore_FailedWriteKeepsMemory(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "ledger")
	s, err := Open(dir)
	require.NoError(t, err)
	bank, err := s.UpsertAccount(ctx, "Ecobank", model.AccountKindBank)
	require.NoError(t, err)

	// A regular file where the directory was makes every write fail.
	require.NoError(t, os.RemoveAll(dir))
	require.NoError(t, os.WriteFile(dir, nil, 0o644))

	err = s.WithinTx(ctx, func(tx ledger.Store) error {
		_, err := tx.UpsertAccount(ctx, "CRDB", model.AccountKindBank)
		return err
	})
	require.Error(t, err)
	_, err = s.AccountByName(ctx, "CRDB")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = s.AppendTransaction(ctx, model.Transaction{AccountID: bank, Date: time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC), Amount: decimal.NewFromInt(5)})
	require.Error(t, err)
	require.Error(t, s.SetAccountBalance(ctx, bank, decimal.NewFromInt(5)))

	txns, err := s.Transactions(ctx, bank)
	require.NoError(t, err)
	assert.Empty(t, txns)
	a, err := s.Account(ctx, bank)
	require.NoError(t, err)
	assert.True(t, a.Balance.IsZero())
}

func TestOpen_BadFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, AccountsFile), []byte(AccountsHeader+"\n1,Ecobank,SAVINGS,0.00\n"), 0o644))
	_, err := Open(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 2")
	assert.Contains(t, err.Error(), "invalid kind")
}

func TestUnmarshalEntry_Errors(t *testing.T) {
	_, err := UnmarshalEntry([]string{"1", "2", "x", "2025-05-01", "1", "0", "0", "0", "PENDING"})
	assert.ErrorContains(t, err, "installment_no")

	_, err = UnmarshalEntry([]string{"1", "2", "1", "2025-05-01", "1", "0", "0", "0", "LATE"})
	assert.ErrorContains(t, err, "invalid status")

	_, err = UnmarshalEntry([]string{"1"})
	assert.ErrorContains(t, err, "expected 9 fields")
}

func TestMarshalTransaction_UnlinkedHasEmptyLink(t *testing.T) {
	row := MarshalTransaction(model.Transaction{ID: 1, AccountID: 2, Date: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), Amount: decimal.NewFromInt(5)})
	assert.Equal(t, []string{"1", "2", "2026-01-02", "", "5.00", "", ""}, row)
}
