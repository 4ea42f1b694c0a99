// Package csvstore keeps the ledger as three CSV files in a directory:
// accounts.csv, transactions.csv and schedule.csv. Every committed write
// rewrites the files through a temp file and rename.
package csvstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/reconciler/internal/ledger"
	"github.com/cleared-dev/reconciler/internal/ledger/inmemory"
	"github.com/cleared-dev/reconciler/internal/model"
)

// File names inside the ledger directory.
const (
	AccountsFile     = "accounts.csv"
	TransactionsFile = "transactions.csv"
	ScheduleFile     = "schedule.csv"
)

// Store is a ledger.TxStore persisted as CSV. Every write runs as a staged
// transaction on the in-memory copy, so memory changes only after the files
// were written.
type Store struct {
	dir string
	mu  sync.Mutex // serializes writers across memory and disk
	mem *inmemory.Store
}

var _ ledger.TxStore = (*Store)(nil)

// Open loads the ledger in dir. Missing files are an empty ledger.
func Open(dir string) (*Store, error) {
	accounts, err := readFile(filepath.Join(dir, AccountsFile), ReadAccounts)
	if err != nil {
		return nil, err
	}
	txns, err := readFile(filepath.Join(dir, TransactionsFile), ReadTransactions)
	if err != nil {
		return nil, err
	}
	entries, err := readFile(filepath.Join(dir, ScheduleFile), ReadSchedule)
	if err != nil {
		return nil, err
	}
	return &Store{dir: dir, mem: inmemory.NewFrom(accounts, txns, entries)}, nil
}

// Snapshot returns every row in the order the files are written.
func (s *Store) Snapshot() ([]model.Account, []model.Transaction, []model.ScheduleEntry) {
	return s.mem.Snapshot()
}

// WithinTx runs fn on a staged copy and writes the files once on success.
// If writing fails the staged copy is dropped and memory keeps the last
// state that reached disk.
func (s *Store) WithinTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mem.StageTx(ctx, fn, s.write)
}

func (s *Store) UpsertAccount(ctx context.Context, name string, kind model.AccountKind) (int64, error) {
	var id int64
	err := s.WithinTx(ctx, func(tx ledger.Store) error {
		var err error
		id, err = tx.UpsertAccount(ctx, name, kind)
		return err
	})
	return id, err
}

func (s *Store) Account(ctx context.Context, id int64) (model.Account, error) {
	return s.mem.Account(ctx, id)
}

func (s *Store) AccountByName(ctx context.Context, name string) (model.Account, error) {
	return s.mem.AccountByName(ctx, name)
}

func (s *Store) Accounts(ctx context.Context) ([]model.Account, error) {
	return s.mem.Accounts(ctx)
}

func (s *Store) SetAccountBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	return s.WithinTx(ctx, func(tx ledger.Store) error {
		return tx.SetAccountBalance(ctx, id, balance)
	})
}

func (s *Store) AppendTransaction(ctx context.Context, txn model.Transaction) (int64, error) {
	var id int64
	err := s.WithinTx(ctx, func(tx ledger.Store) error {
		var err error
		id, err = tx.AppendTransaction(ctx, txn)
		return err
	})
	return id, err
}

func (s *Store) Transactions(ctx context.Context, accountID int64) ([]model.Transaction, error) {
	return s.mem.Transactions(ctx, accountID)
}

func (s *Store) UpdateTransaction(ctx context.Context, txn model.Transaction) error {
	return s.WithinTx(ctx, func(tx ledger.Store) error {
		return tx.UpdateTransaction(ctx, txn)
	})
}

func (s *Store) DeleteTransaction(ctx context.Context, id int64) error {
	return s.WithinTx(ctx, func(tx ledger.Store) error {
		return tx.DeleteTransaction(ctx, id)
	})
}

func (s *Store) DeleteTransactions(ctx context.Context, accountID int64) (int, error) {
	var n int
	err := s.WithinTx(ctx, func(tx ledger.Store) error {
		var err error
		n, err = tx.DeleteTransactions(ctx, accountID)
		return err
	})
	return n, err
}

func (s *Store) UpsertScheduleEntry(ctx context.Context, entry model.ScheduleEntry) (int64, error) {
	var id int64
	err := s.WithinTx(ctx, func(tx ledger.Store) error {
		var err error
		id, err = tx.UpsertScheduleEntry(ctx, entry)
		return err
	})
	return id, err
}

func (s *Store) MarkScheduleStatus(ctx context.Context, id int64, status model.ScheduleStatus) error {
	return s.WithinTx(ctx, func(tx ledger.Store) error {
		return tx.MarkScheduleStatus(ctx, id, status)
	})
}

func (s *Store) Schedule(ctx context.Context, accountID int64) ([]model.ScheduleEntry, error) {
	return s.mem.Schedule(ctx, accountID)
}

func (s *Store) DeleteSchedule(ctx context.Context, accountID int64) (int, error) {
	var n int
	err := s.WithinTx(ctx, func(tx ledger.Store) error {
		var err error
		n, err = tx.DeleteSchedule(ctx, accountID)
		return err
	})
	return n, err
}

// write stores the given rows as the three files. Each file goes through a
// temp file and rename, so a single file is never half written. The three
// renames are not atomic as a group: a crash between them can leave
// accounts.csv newer than transactions.csv or schedule.csv.
func (s *Store) write(accounts []model.Account, txns []model.Transaction, entries []model.ScheduleEntry) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating ledger dir: %w", err)
	}
	if err := writeFile(filepath.Join(s.dir, AccountsFile), func(w io.Writer) error { return WriteAccounts(w, accounts) }); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(s.dir, TransactionsFile), func(w io.Writer) error { return WriteTransactions(w, txns) }); err != nil {
		return err
	}
	return writeFile(filepath.Join(s.dir, ScheduleFile), func(w io.Writer) error { return WriteSchedule(w, entries) })
}

func readFile[T any](path string, read func(io.Reader) ([]T, error)) ([]T, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	rows, err := read(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return rows, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("staging %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
