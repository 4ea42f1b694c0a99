package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/reconciler/internal/ledger"
	"github.com/cleared-dev/reconciler/internal/ledger/inmemory"
	"github.com/cleared-dev/reconciler/internal/model"
)

func day(d int) time.Time { return time.Date(2026, time.January, d, 0, 0, 0, 0, time.UTC) }

func TestAudit_Clean(t *testing.T) {
	ctx := context.Background()
	s := inmemory.New()
	id, err := s.UpsertAccount(ctx, "Ecobank", model.AccountKindBank)
	require.NoError(t, err)
	_, err = s.AppendTransaction(ctx, model.Transaction{AccountID: id, Date: day(1), Amount: decimal.NewFromInt(100), Category: model.CategoryAdjustment})
	require.NoError(t, err)
	_, err = s.AppendTransaction(ctx, model.Transaction{AccountID: id, Date: day(2), Amount: decimal.NewFromInt(-40)})
	require.NoError(t, err)
	require.NoError(t, s.SetAccountBalance(ctx, id, decimal.NewFromInt(60)))

	findings, err := ledger.Audit(ctx, s, decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestAudit_Findings(t *testing.T) {
	ctx := context.Background()
	s := inmemory.New()
	bank, err := s.UpsertAccount(ctx, "Ecobank", model.AccountKindBank)
	require.NoError(t, err)
	loan, err := s.UpsertAccount(ctx, "LOLC Auto Loan", model.AccountKindLoan)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = s.AppendTransaction(ctx, model.Transaction{AccountID: bank, Date: day(1), Amount: decimal.NewFromInt(10), Category: model.CategoryAdjustment})
		require.NoError(t, err)
	}
	_, err = s.AppendTransaction(ctx, model.Transaction{AccountID: bank, Date: day(2), Amount: decimal.NewFromInt(-1), ScheduleEntryID: 77})
	require.NoError(t, err)
	require.NoError(t, s.SetAccountBalance(ctx, bank, decimal.NewFromInt(500)))

	_, err = s.UpsertScheduleEntry(ctx, model.ScheduleEntry{AccountID: loan, InstallmentNo: 0, DueDate: day(20), RepaymentAmount: decimal.NewFromInt(1)})
	require.NoError(t, err)
	_, err = s.UpsertScheduleEntry(ctx, model.ScheduleEntry{AccountID: loan, InstallmentNo: 1, DueDate: day(10), RepaymentAmount: decimal.NewFromInt(1)})
	require.NoError(t, err)

	findings, err := ledger.Audit(ctx, s, decimal.NewFromInt(1))
	require.NoError(t, err)

	checks := make(map[string]int)
	for _, f := range findings {
		checks[f.Check]++
	}
	assert.Equal(t, map[string]int{
		ledger.CheckBalance:      1,
		ledger.CheckAdjustments:  1,
		ledger.CheckLinks:        1,
		ledger.CheckInstallments: 1,
		ledger.CheckDueDates:     1,
	}, checks)
	assert.Contains(t, findings[0].Error(), "LOLC Auto Loan")
}
