package postgres

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/reconciler/internal/ledger"
	"github.com/cleared-dev/reconciler/internal/ledger/ledgertest"
)

// Set RECONCILER_TEST_DSN to a disposable database to run these tests.
func TestStore(t *testing.T) {
	dsn := os.Getenv("RECONCILER_TEST_DSN")
	if dsn == "" {
		t.Skip("RECONCILER_TEST_DSN not set")
	}
	s, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ledgertest.Run(t, func(t *testing.T) ledger.TxStore {
		require.NoError(t, s.db.Exec("TRUNCATE accounts, transactions, loan_schedule RESTART IDENTITY").Error)
		return s
	})
}
