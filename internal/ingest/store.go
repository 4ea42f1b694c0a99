package ingest

import (
	"fmt"
	"path/filepath"

	"github.com/cleared-dev/reconciler/internal/config"
	"github.com/cleared-dev/reconciler/internal/ledger"
	"github.com/cleared-dev/reconciler/internal/ledger/csvstore"
	"github.com/cleared-dev/reconciler/internal/ledger/inmemory"
	"github.com/cleared-dev/reconciler/internal/ledger/postgres"
)

// OpenStore opens the ledger the config points at. The returned function
// releases it.
func OpenStore(cfg config.LedgerConfig, root string) (ledger.TxStore, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Driver {
	case config.DriverCSV:
		dir := cfg.Dir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(root, dir)
		}
		s, err := csvstore.Open(dir)
		if err != nil {
			return nil, nil, fmt.Errorf("opening csv ledger: %w", err)
		}
		return s, noop, nil
	case config.DriverMemory:
		return inmemory.New(), noop, nil
	case config.DriverPostgres:
		s, err := postgres.Open(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown ledger driver %q", cfg.Driver)
	}
}
