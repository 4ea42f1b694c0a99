package ledger_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/reconciler/internal/ledger"
	"github.com/cleared-dev/reconciler/internal/ledger/inmemory"
	"github.com/cleared-dev/reconciler/internal/model"
)

func settleOpts() ledger.SettleOptions {
	return ledger.SettleOptions{Tolerance: decimal.NewFromInt(1), Description: "Opening Balance", Date: day(1)}
}

func TestSettle_AbsorbsBackfilledPayment(t *testing.T) {
	ctx := context.Background()
	s := inmemory.New()
	bank, err := s.UpsertAccount(ctx, "Ecobank", model.AccountKindBank)
	require.NoError(t, err)
	_, err = s.AppendTransaction(ctx, model.Transaction{AccountID: bank, Date: day(10), Description: "Verified Opening Balance 2026", Amount: decimal.NewFromInt(1000), Category: model.CategoryAdjustment})
	require.NoError(t, err)
	food, err := s.AppendTransaction(ctx, model.Transaction{AccountID: bank, Date: day(12), Amount: decimal.NewFromInt(-200), Category: model.CategoryFood})
	require.NoError(t, err)
	require.NoError(t, s.SetAccountBalance(ctx, bank, decimal.NewFromInt(800)))

	// A backfilled repayment before the statement starts.
	backfill, err := s.AppendTransaction(ctx, model.Transaction{AccountID: bank, Date: day(2), Amount: decimal.NewFromInt(-300), Category: model.CategoryDebtRepayment, ScheduleEntryID: 9})
	require.NoError(t, err)

	changed, err := ledger.Settle(ctx, s, bank, settleOpts())
	require.NoError(t, err)
	assert.True(t, changed)

	txns, err := s.Transactions(ctx, bank)
	require.NoError(t, err)
	require.Len(t, txns, 3)
	var adj model.Transaction
	ids := make(map[int64]bool)
	for _, txn := range txns {
		ids[txn.ID] = true
		if txn.IsAdjustment() {
			adj = txn
		}
	}
	assert.Equal(t, "1300", adj.Amount.String())
	assert.Equal(t, day(2), adj.Date)
	assert.Equal(t, "Verified Opening Balance 2026", adj.Description)

	// Only the adjustment was rewritten.
	assert.True(t, ids[food], "food transaction keeps its ID")
	assert.True(t, ids[backfill], "backfilled transaction keeps its ID")
	assert.Equal(t, backfill, txns[0].ID)
	assert.Equal(t, int64(9), txns[0].ScheduleEntryID)

	sum := decimal.Zero
	for _, txn := range txns {
		sum = sum.Add(txn.Amount)
	}
	assert.Equal(t, "800", sum.String())

	changed, err = ledger.Settle(ctx, s, bank, settleOpts())
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestSettle_LoanWithoutTransactions(t *testing.T) {
	ctx := context.Background()
	s := inmemory.New()
	loan, err := s.UpsertAccount(ctx, "LOLC Auto Loan", model.AccountKindLoan)
	require.NoError(t, err)
	require.NoError(t, s.SetAccountBalance(ctx, loan, decimal.NewFromInt(-21450000)))

	changed, err := ledger.Settle(ctx, s, loan, settleOpts())
	require.NoError(t, err)
	assert.True(t, changed)

	txns, err := s.Transactions(ctx, loan)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, "-21450000", txns[0].Amount.String())
	assert.Equal(t, "Opening Balance", txns[0].Description)
	assert.Equal(t, day(1), txns[0].Date)
}

func TestSettle_DropsStaleAdjustment(t *testing.T) {
	ctx := context.Background()
	s := inmemory.New()
	id, err := s.UpsertAccount(ctx, "Selcom", model.AccountKindWallet)
	require.NoError(t, err)
	_, err = s.AppendTransaction(ctx, model.Transaction{AccountID: id, Date: day(1), Amount: decimal.NewFromInt(50), Category: model.CategoryAdjustment})
	require.NoError(t, err)
	_, err = s.AppendTransaction(ctx, model.Transaction{AccountID: id, Date: day(2), Amount: decimal.NewFromInt(70)})
	require.NoError(t, err)
	require.NoError(t, s.SetAccountBalance(ctx, id, decimal.NewFromInt(70)))

	changed, err := ledger.Settle(ctx, s, id, settleOpts())
	require.NoError(t, err)
	assert.True(t, changed)
	txns, err := s.Transactions(ctx, id)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.False(t, txns[0].IsAdjustment())
}

func TestSettle_UnknownAccount(t *testing.T) {
	_, err := ledger.Settle(context.Background(), inmemory.New(), 5, settleOpts())
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}
