// Package inmemory is a map-backed ledger.Store. WithinTx works on a copy
// and swaps it in on success.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/reconciler/internal/ledger"
	"github.com/cleared-dev/reconciler/internal/model"
)

type state struct {
	accounts     map[int64]model.Account
	transactions map[int64]model.Transaction
	schedule     map[int64]model.ScheduleEntry
	lastAccount  int64
	lastTxn      int64
	lastEntry    int64
}

func newState() *state {
	return &state{
		accounts:     make(map[int64]model.Account),
		transactions: make(map[int64]model.Transaction),
		schedule:     make(map[int64]model.ScheduleEntry),
	}
}

func (st *state) clone() *state {
	c := &state{
		accounts:     make(map[int64]model.Account, len(st.accounts)),
		transactions: make(map[int64]model.Transaction, len(st.transactions)),
		schedule:     make(map[int64]model.ScheduleEntry, len(st.schedule)),
		lastAccount:  st.lastAccount,
		lastTxn:      st.lastTxn,
		lastEntry:    st.lastEntry,
	}
	for k, v := range st.accounts {
		c.accounts[k] = v
	}
	for k, v := range st.transactions {
		c.transactions[k] = v
	}
	for k, v := range st.schedule {
		c.schedule[k] = v
	}
	return c
}

// Store is safe for concurrent use.
type Store struct {
	mu sync.RWMutex
	st *state
}

var _ ledger.TxStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{st: newState()}
}

// NewFrom creates a store holding the given rows. IDs are kept; new rows
// are numbered after the largest existing ID.
func NewFrom(accounts []model.Account, txns []model.Transaction, entries []model.ScheduleEntry) *Store {
	st := newState()
	for _, a := range accounts {
		st.accounts[a.ID] = a
		st.lastAccount = max(st.lastAccount, a.ID)
	}
	for _, t := range txns {
		st.transactions[t.ID] = t
		st.lastTxn = max(st.lastTxn, t.ID)
	}
	for _, e := range entries {
		st.schedule[e.ID] = e
		st.lastEntry = max(st.lastEntry, e.ID)
	}
	return &Store{st: st}
}

// Snapshot returns every row: accounts by ID, transactions by (date, id),
// schedule entries by (account, installment).
func (s *Store) Snapshot() ([]model.Account, []model.Transaction, []model.ScheduleEntry) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.sortedAccounts(), s.st.sortedTransactions(0), s.st.sortedSchedule(0)
}

// WithinTx runs fn against a copy of the store and keeps the copy only if fn
// succeeds. Other writers wait until fn returns.
func (s *Store) WithinTx(ctx context.Context, fn func(ledger.Store) error) error {
	return s.StageTx(ctx, fn, nil)
}

// StageTx is WithinTx with a commit step. After fn succeeds, commit gets the
// staged rows in Snapshot order; the copy replaces the store only if commit
// also succeeds. A nil commit always succeeds.
func (s *Store) StageTx(ctx context.Context, fn func(ledger.Store) error, commit func([]model.Account, []model.Transaction, []model.ScheduleEntry) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Store{st: s.st.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if commit != nil {
		if err := commit(tx.st.sortedAccounts(), tx.st.sortedTransactions(0), tx.st.sortedSchedule(0)); err != nil {
			return err
		}
	}
	s.st = tx.st
	return nil
}

func (s *Store) UpsertAccount(_ context.Context, name string, kind model.AccountKind) (int64, error) {
	if name == "" {
		return 0, fmt.Errorf("account name is required")
	}
	if !kind.Valid() {
		return 0, fmt.Errorf("account %s: invalid kind %q", name, kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, a := range s.st.accounts {
		if a.Name == name {
			a.Kind = kind
			s.st.accounts[id] = a
			return id, nil
		}
	}
	s.st.lastAccount++
	id := s.st.lastAccount
	s.st.accounts[id] = model.Account{ID: id, Name: name, Kind: kind, Balance: decimal.Zero}
	return id, nil
}

func (s *Store) Account(_ context.Context, id int64) (model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.st.accounts[id]
	if !ok {
		return model.Account{}, fmt.Errorf("account %d: %w", id, ledger.ErrNotFound)
	}
	return a, nil
}

func (s *Store) AccountByName(_ context.Context, name string) (model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.st.accounts {
		if a.Name == name {
			return a, nil
		}
	}
	return model.Account{}, fmt.Errorf("account %q: %w", name, ledger.ErrNotFound)
}

func (s *Store) Accounts(_ context.Context) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.sortedAccounts(), nil
}

func (s *Store) SetAccountBalance(_ context.Context, id int64, balance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.st.accounts[id]
	if !ok {
		return fmt.Errorf("account %d: %w", id, ledger.ErrNotFound)
	}
	a.Balance = balance
	s.st.accounts[id] = a
	return nil
}

func (s *Store) AppendTransaction(_ context.Context, txn model.Transaction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.accounts[txn.AccountID]; !ok {
		return 0, fmt.Errorf("account %d: %w", txn.AccountID, ledger.ErrNotFound)
	}
	s.st.lastTxn++
	txn.ID = s.st.lastTxn
	s.st.transactions[txn.ID] = txn
	return txn.ID, nil
}

func (s *Store) Transactions(_ context.Context, accountID int64) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.sortedTransactions(accountID), nil
}

func (s *Store) UpdateTransaction(_ context.Context, txn model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.st.transactions[txn.ID]
	if !ok {
		return fmt.Errorf("transaction %d: %w", txn.ID, ledger.ErrNotFound)
	}
	cur.Category = txn.Category
	cur.ScheduleEntryID = txn.ScheduleEntryID
	s.st.transactions[txn.ID] = cur
	return nil
}

func (s *Store) DeleteTransaction(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.transactions[id]; !ok {
		return fmt.Errorf("transaction %d: %w", id, ledger.ErrNotFound)
	}
	delete(s.st.transactions, id)
	return nil
}

func (s *Store) DeleteTransactions(_ context.Context, accountID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, t := range s.st.transactions {
		if t.AccountID == accountID {
			delete(s.st.transactions, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) UpsertScheduleEntry(_ context.Context, entry model.ScheduleEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.accounts[entry.AccountID]; !ok {
		return 0, fmt.Errorf("account %d: %w", entry.AccountID, ledger.ErrNotFound)
	}
	for id, cur := range s.st.schedule {
		if cur.AccountID == entry.AccountID && cur.InstallmentNo == entry.InstallmentNo {
			if cur.Status == model.StatusPaid {
				return 0, fmt.Errorf("installment %d: %w", cur.InstallmentNo, ledger.ErrImmutable)
			}
			entry.ID = id
			s.st.schedule[id] = entry
			return id, nil
		}
	}
	s.st.lastEntry++
	entry.ID = s.st.lastEntry
	s.st.schedule[entry.ID] = entry
	return entry.ID, nil
}

func (s *Store) MarkScheduleStatus(_ context.Context, id int64, status model.ScheduleStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.st.schedule[id]
	if !ok {
		return fmt.Errorf("schedule entry %d: %w", id, ledger.ErrNotFound)
	}
	if e.Status == model.StatusPaid {
		return fmt.Errorf("installment %d: %w", e.InstallmentNo, ledger.ErrImmutable)
	}
	e.Status = status
	s.st.schedule[id] = e
	return nil
}

func (s *Store) Schedule(_ context.Context, accountID int64) ([]model.ScheduleEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.sortedSchedule(accountID), nil
}

func (s *Store) DeleteSchedule(_ context.Context, accountID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.st.schedule {
		if e.AccountID == accountID {
			delete(s.st.schedule, id)
			n++
		}
	}
	return n, nil
}

func (st *state) sortedAccounts() []model.Account {
	out := make([]model.Account, 0, len(st.accounts))
	for _, a := range st.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (st *state) sortedTransactions(accountID int64) []model.Transaction {
	var out []model.Transaction
	for _, t := range st.transactions {
		if accountID == 0 || t.AccountID == accountID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (st *state) sortedSchedule(accountID int64) []model.ScheduleEntry {
	var out []model.ScheduleEntry
	for _, e := range st.schedule {
		if accountID == 0 || e.AccountID == accountID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AccountID != out[j].AccountID {
			return out[i].AccountID < out[j].AccountID
		}
		return out[i].InstallmentNo < out[j].InstallmentNo
	})
	return out
}
