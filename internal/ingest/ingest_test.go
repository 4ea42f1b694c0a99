package ingest

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/reconciler/internal/categorize"
	"github.com/cleared-dev/reconciler/internal/config"
	"github.com/cleared-dev/reconciler/internal/ledger"
	"github.com/cleared-dev/reconciler/internal/ledger/csvstore"
	"github.com/cleared-dev/reconciler/internal/ledger/inmemory"
	"github.com/cleared-dev/reconciler/internal/logger"
	"github.com/cleared-dev/reconciler/internal/model"
	"github.com/cleared-dev/reconciler/internal/reconcile"
	"github.com/cleared-dev/reconciler/internal/runlog"
)

const crdbStatement = `TRANS DATE,DETAILS,DEBIT,CREDIT,BOOK BALANCE
03-Feb-2026,OPENING DEPOSIT,,"500,000.00","2,500,000.00"
05-Feb-2026,POS MERCHANT 0042,"1,726,372.00",,"773,628.00"
`

var clock = func() time.Time { return time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC) }

// newRoot lays out a repo with the fixture statements and schedules under
// import/.
func newRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "import")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, name := range []string{"ecobank.csv", "selcom.csv", "lolc_schedule.txt", "ecobank_schedule.txt"} {
		data, err := os.ReadFile(filepath.Join("..", "..", "testdata", name))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "crdb.csv"), []byte(crdbStatement), 0o644))
	return root
}

func testConfig() *config.Config {
	cfg := config.Example()
	cfg.Ledger.Driver = config.DriverMemory
	cfg.Sources[0].Path = "ecobank.csv"
	cfg.Sources[1].Path = "crdb.csv"
	cfg.Sources[1].Format = config.FormatAuto
	cfg.Sources[2].Path = "selcom.csv"
	cfg.Loans[0].Path = "lolc_schedule.txt"
	cfg.Loans[1].Path = "ecobank_schedule.txt"
	return cfg
}

func account(t *testing.T, s ledger.Store, name string) model.Account {
	t.Helper()
	a, err := s.AccountByName(context.Background(), name)
	require.NoError(t, err)
	return a
}

func sum(t *testing.T, s ledger.Store, id int64) decimal.Decimal {
	t.Helper()
	txns, err := s.Transactions(context.Background(), id)
	require.NoError(t, err)
	total := decimal.Zero
	for _, x := range txns {
		total = total.Add(x.Amount)
	}
	return total
}

func TestRun_EndToEnd(t *testing.T) {
	root := newRoot(t)
	store := inmemory.New()
	rep, err := NewRunner(store, testConfig(), root, WithClock(clock)).Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, rep.Err())
	assert.NotEmpty(t, rep.RunID)
	assert.Empty(t, rep.Findings)

	require.Len(t, rep.Accounts, 3)
	eco := rep.Accounts[0]
	assert.Equal(t, "Ecobank", eco.Account)
	assert.Equal(t, []string{"ecobank"}, eco.Formats)
	assert.Equal(t, 1, eco.Skipped)
	assert.Equal(t, 4, eco.Emitted)
	assert.Equal(t, "1000000", eco.Gap.String())
	assert.Equal(t, []string{"crdb"}, rep.Accounts[1].Formats)
	assert.Equal(t, "85000", rep.Accounts[2].Balance.String())

	require.Len(t, rep.Loans, 2)
	lolc := rep.Loans[0]
	assert.Equal(t, 4, lolc.Accepted)
	assert.Equal(t, 1, lolc.Ambiguous)
	assert.Equal(t, 1, lolc.Matched)
	assert.Equal(t, 3, lolc.Backfilled)
	assert.Equal(t, "-17732132", lolc.Balance.String())
	ecoLoan := rep.Loans[1]
	assert.Equal(t, 3, ecoLoan.Accepted)
	assert.Equal(t, 1, ecoLoan.Ambiguous)
	assert.Equal(t, 3, ecoLoan.Backfilled)
	assert.Equal(t, "-32034820.55", ecoLoan.Balance.String())

	// Every account reconciles, including the funding account that absorbed
	// the backfilled history and the loans.
	accounts, err := store.Accounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 6)
	for _, a := range accounts {
		assert.True(t, a.Balance.Equal(sum(t, store, a.ID)), "%s: balance %s, sum %s", a.Name, a.Balance, sum(t, store, a.ID))
	}
	assert.Equal(t, "4158728.76", account(t, store, "Ecobank").Balance.String())
	assert.True(t, account(t, store, "M-Pesa").Balance.IsZero())

	crdb := account(t, store, "CRDB")
	txns, err := store.Transactions(context.Background(), crdb.ID)
	require.NoError(t, err)
	var pos model.Transaction
	for _, x := range txns {
		if x.Description == "POS MERCHANT 0042" {
			pos = x
		}
	}
	assert.Equal(t, model.CategoryDebtRepayment, pos.Category)
	assert.NotZero(t, pos.ScheduleEntryID)

	entries, err := store.Schedule(context.Background(), account(t, store, "LOLC Auto Loan").ID)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, entries[0].ID, pos.ScheduleEntryID)
	for _, e := range entries {
		assert.Equal(t, model.StatusPaid, e.Status)
	}
}

func TestRun_Idempotent(t *testing.T) {
	root := newRoot(t)
	store := inmemory.New()
	runner := NewRunner(store, testConfig(), root, WithClock(clock))

	_, err := runner.Run(context.Background())
	require.NoError(t, err)
	_, first, firstEntries := store.Snapshot()

	rep, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, rep.Err())
	assert.Empty(t, rep.Findings)
	accounts, second, secondEntries := store.Snapshot()

	assert.Len(t, accounts, 6)
	assert.Len(t, second, len(first))
	assert.Len(t, secondEntries, len(firstEntries))
	for _, a := range accounts {
		assert.True(t, a.Balance.Equal(sum(t, store, a.ID)), a.Name)
	}
}

func TestRun_SourceFailureIsolated(t *testing.T) {
	root := newRoot(t)
	cfg := testConfig()
	cfg.Sources[1].Path = "missing.csv"
	store := inmemory.New()

	rep, err := NewRunner(store, cfg, root, WithClock(clock)).Run(context.Background())
	require.NoError(t, err)

	var se *SourceError
	require.ErrorAs(t, rep.Accounts[1].Err, &se)
	assert.Equal(t, "CRDB", se.Account)
	assert.ErrorIs(t, rep.Err(), os.ErrNotExist)

	assert.NoError(t, rep.Accounts[0].Err)
	assert.NoError(t, rep.Accounts[2].Err)
	_, err = store.AccountByName(context.Background(), "CRDB")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	// Without the matching payment every LOLC installment is backfilled.
	assert.Equal(t, 0, rep.Loans[0].Matched)
	assert.Equal(t, 4, rep.Loans[0].Backfilled)
}

func TestRun_GapTooLarge(t *testing.T) {
	root := newRoot(t)
	cfg := testConfig()
	cfg.Tolerances.MaxGap = decimal.NewFromInt(500000)
	cfg.Loans = nil

	rep, err := NewRunner(inmemory.New(), cfg, root).Run(context.Background())
	require.NoError(t, err)

	var gap *reconcile.GapError
	require.ErrorAs(t, rep.Accounts[0].Err, &gap)
	assert.Equal(t, "1000000", gap.Gap.String())
	assert.NoError(t, rep.Accounts[2].Err)
}

func TestRun_HistoryCutoff(t *testing.T) {
	root := newRoot(t)
	cfg := testConfig()
	cfg.History.Cutoff = config.NewDate(2026, time.January, 6)
	cfg.Sources = cfg.Sources[:1]
	cfg.Loans = nil

	rep, err := NewRunner(inmemory.New(), cfg, root).Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, rep.Err())
	assert.Equal(t, 2, rep.Accounts[0].Filtered)
	assert.Equal(t, 2, rep.Accounts[0].Emitted)
	assert.Equal(t, "4158728.76", rep.Accounts[0].Balance.String())
}

func TestRun_ReportsUnconfigured(t *testing.T) {
	root := newRoot(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "import", "nmb.csv"), []byte("x\n"), 0o644))
	cfg := testConfig()
	cfg.Loans = nil

	rep, err := NewRunner(inmemory.New(), cfg, root, WithClock(clock)).Run(context.Background())
	require.NoError(t, err)
	// Schedules are still present on disk but no longer configured.
	assert.Equal(t, []string{"ecobank_schedule.txt", "lolc_schedule.txt", "nmb.csv"}, rep.Unconfigured)
}

func TestRun_UnknownFormat(t *testing.T) {
	root := newRoot(t)
	cfg := testConfig()
	cfg.Sources[0].Format = "nmb"
	cfg.Loans = nil

	rep, err := NewRunner(inmemory.New(), cfg, root).Run(context.Background())
	require.NoError(t, err)
	assert.ErrorContains(t, rep.Accounts[0].Err, "unknown statement format: nmb")
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRunner(inmemory.New(), testConfig(), newRoot(t)).Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestLink_Idempotent(t *testing.T) {
	root := newRoot(t)
	store := inmemory.New()
	runner := NewRunner(store, testConfig(), root, WithClock(clock))
	_, err := runner.Run(context.Background())
	require.NoError(t, err)

	rep, err := runner.Link(context.Background())
	require.NoError(t, err)
	require.NoError(t, rep.Err())
	require.Len(t, rep.Loans, 2)
	assert.Zero(t, rep.Loans[0].Matched+rep.Loans[0].Backfilled)
	assert.Equal(t, "-17732132", rep.Loans[0].Balance.String())
	assert.Empty(t, rep.Findings)
}

func TestLink_MarksOverdue(t *testing.T) {
	root := newRoot(t)
	cfg := testConfig()
	cfg.Sources = cfg.Sources[:1]
	cfg.Loans = cfg.Loans[:1]
	cfg.Linking.BackfillCutoff = config.NewDate(2025, time.June, 15)

	rep, err := NewRunner(inmemory.New(), cfg, root, WithClock(clock)).Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, rep.Err())
	assert.Equal(t, 2, rep.Loans[0].Backfilled)
	assert.Equal(t, 2, rep.Loans[0].Overdue)
	assert.Equal(t, "-19663937", rep.Loans[0].Balance.String())
}

func TestLink_KeepsTransactionIDs(t *testing.T) {
	root := newRoot(t)
	store := inmemory.New()
	cfg := testConfig()
	cfg.Loans = cfg.Loans[:1]
	cfg.Linking.BackfillCutoff = config.NewDate(2025, time.June, 15)
	cfg.Linking.MarkOverdue = false

	_, err := NewRunner(store, cfg, root, WithClock(clock)).Run(context.Background())
	require.NoError(t, err)
	eco := account(t, store, "Ecobank")
	before, err := store.Transactions(context.Background(), eco.ID)
	require.NoError(t, err)

	// A later cutoff backfills two more installments onto the funding account.
	cfg.Linking.BackfillCutoff = config.NewDate(2026, time.February, 1)
	rep, err := NewRunner(store, cfg, root, WithClock(clock)).Link(context.Background())
	require.NoError(t, err)
	require.NoError(t, rep.Err())
	assert.Equal(t, 2, rep.Loans[0].Backfilled)
	assert.Empty(t, rep.Findings)

	after, err := store.Transactions(context.Background(), eco.ID)
	require.NoError(t, err)
	ids := make(map[int64]bool)
	for _, x := range after {
		ids[x.ID] = true
	}
	for _, x := range before {
		if !x.IsAdjustment() {
			assert.True(t, ids[x.ID], "%s lost its ID", x.Description)
		}
	}
	assert.True(t, eco.Balance.Equal(sum(t, store, eco.ID)))
}

func TestUnlink(t *testing.T) {
	ctx := context.Background()
	s := inmemory.New()
	bank, err := s.UpsertAccount(ctx, "CRDB", model.AccountKindBank)
	require.NoError(t, err)
	loan, err := s.UpsertAccount(ctx, "LOLC Auto Loan", model.AccountKindLoan)
	require.NoError(t, err)
	entry, err := s.UpsertScheduleEntry(ctx, model.ScheduleEntry{
		AccountID: loan, InstallmentNo: 1, DueDate: time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC),
		RepaymentAmount: decimal.NewFromInt(1726371), Status: model.StatusPending,
	})
	require.NoError(t, err)

	day := time.Date(2026, time.February, 5, 0, 0, 0, 0, time.UTC)
	other, err := s.AppendTransaction(ctx, model.Transaction{AccountID: bank, Date: day, Description: "BOLT RIDE", Amount: decimal.NewFromInt(-5000), Category: model.CategoryTransport})
	require.NoError(t, err)
	paid, err := s.AppendTransaction(ctx, model.Transaction{AccountID: bank, Date: day, Description: "POS MERCHANT 0042", Amount: decimal.NewFromInt(-1726372), Category: model.CategoryDebtRepayment, ScheduleEntryID: entry})
	require.NoError(t, err)
	_, err = s.AppendTransaction(ctx, model.Transaction{AccountID: bank, Date: day, Description: "Loan Repayment (Inst #1) - Backfilled", Amount: decimal.NewFromInt(-1726371), Category: model.CategoryDebtRepayment, ScheduleEntryID: entry})
	require.NoError(t, err)

	old, err := s.Schedule(ctx, loan)
	require.NoError(t, err)
	require.NoError(t, unlink(ctx, s, old, categorize.New(nil)))

	txns, err := s.Transactions(ctx, bank)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, other, txns[0].ID)
	assert.Equal(t, model.CategoryTransport, txns[0].Category)
	assert.Equal(t, paid, txns[1].ID)
	assert.Zero(t, txns[1].ScheduleEntryID)
	assert.Equal(t, model.CategoryGeneral, txns[1].Category)
}

func TestParseSchedule(t *testing.T) {
	cfg := testConfig()
	runner := NewRunner(inmemory.New(), cfg, newRoot(t))

	res, err := runner.ParseSchedule(context.Background(), cfg.Loans[1])
	require.NoError(t, err)
	assert.Equal(t, 3, res.Accepted)
	assert.Equal(t, 1, res.Ambiguous)

	bad := cfg.Loans[0]
	bad.Classifier.Type = "magic"
	_, err = runner.ParseSchedule(context.Background(), bad)
	var se *SourceError
	require.ErrorAs(t, err, &se)
	assert.ErrorContains(t, err, `unknown classifier "magic"`)
}

func TestRun_CSVStore(t *testing.T) {
	root := newRoot(t)
	cfg := testConfig()
	cfg.Ledger = config.LedgerConfig{Driver: config.DriverCSV, Dir: "ledger"}
	cfg.Import.ArchiveProcessed = true

	store, closeStore, err := OpenStore(cfg.Ledger, root)
	require.NoError(t, err)
	defer closeStore()

	rep, err := NewRunner(store, cfg, root, WithClock(clock)).Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, rep.Err())

	for _, f := range []string{csvstore.AccountsFile, csvstore.TransactionsFile, csvstore.ScheduleFile} {
		_, err := os.Stat(filepath.Join(root, "ledger", f))
		assert.NoError(t, err, f)
	}
	_, err = os.Stat(filepath.Join(root, "import", "processed", "ecobank.csv"))
	assert.NoError(t, err)

	reopened, err := csvstore.Open(filepath.Join(root, "ledger"))
	require.NoError(t, err)
	findings, err := ledger.Audit(context.Background(), reopened, decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.Empty(t, findings)

	// Archived statements are still found on the next run.
	rep, err = NewRunner(reopened, cfg, root, WithClock(clock)).Run(context.Background())
	require.NoError(t, err)
	assert.NoError(t, rep.Err())
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	_, _, err := OpenStore(config.LedgerConfig{Driver: "sqlite"}, t.TempDir())
	assert.ErrorContains(t, err, `unknown ledger driver "sqlite"`)
}

func TestRun_LogsAndRunLog(t *testing.T) {
	root := newRoot(t)
	buf := &bytes.Buffer{}
	ctx := logger.WithContext(context.Background(), logger.NewWithWriter(buf))

	rep, err := NewRunner(inmemory.New(), testConfig(), root, WithClock(clock)).Run(ctx)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"run_id":"`+rep.RunID+`"`)
	assert.Contains(t, buf.String(), `"account":"Ecobank"`)
	assert.Contains(t, buf.String(), `"message":"loan linked"`)

	require.NoError(t, runlog.Append(root, rep.LogEntries()))
	entries, err := runlog.Run(root, rep.RunID)
	require.NoError(t, err)
	require.Len(t, entries, 3+2*2)
	assert.Equal(t, runlog.ActionImport, entries[0].Action)
	assert.Equal(t, "Ecobank", entries[0].Account)
	assert.Contains(t, entries[0].Details, "balance=4158728.76")
	assert.Equal(t, runlog.ActionLink, entries[4].Action)
	assert.Contains(t, entries[4].Details, "matched=1 backfilled=3")
}
