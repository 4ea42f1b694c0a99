// Package postgres is a gorm-backed ledger.TxStore.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/cleared-dev/reconciler/internal/ledger"
	"github.com/cleared-dev/reconciler/internal/model"
)

type accountRow struct {
	ID      int64           `gorm:"primaryKey"`
	Name    string          `gorm:"uniqueIndex;not null"`
	Kind    string          `gorm:"not null"`
	Balance decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
}

func (accountRow) TableName() string { return "accounts" }

type transactionRow struct {
	ID              int64           `gorm:"primaryKey"`
	AccountID       int64           `gorm:"index;not null"`
	Date            time.Time       `gorm:"type:date;not null"`
	Description     string          `gorm:"size:60"`
	Amount          decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	Category        string          `gorm:"not null"`
	ScheduleEntryID *int64
}

func (transactionRow) TableName() string { return "transactions" }

type scheduleRow struct {
	ID                 int64           `gorm:"primaryKey"`
	AccountID          int64           `gorm:"uniqueIndex:idx_schedule_installment;not null"`
	InstallmentNo      int             `gorm:"uniqueIndex:idx_schedule_installment;not null"`
	DueDate            time.Time       `gorm:"type:date;not null"`
	RepaymentAmount    decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	PrincipalComponent decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	InterestComponent  decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	BalanceAfter       decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	Status             string          `gorm:"not null"`
}

func (scheduleRow) TableName() string { return "loan_schedule" }

// Store implements ledger.TxStore on top of a *gorm.DB.
type Store struct {
	db *gorm.DB
}

var _ ledger.TxStore = (*Store)(nil)

// Open connects to Postgres and migrates the ledger tables.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return New(db)
}

// New wraps an open connection and migrates the ledger tables.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&accountRow{}, &transactionRow{}, &scheduleRow{}); err != nil {
		return nil, fmt.Errorf("migrating ledger tables: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithinTx runs fn inside a database transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ledger.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func (s *Store) UpsertAccount(ctx context.Context, name string, kind model.AccountKind) (int64, error) {
	if name == "" {
		return 0, fmt.Errorf("account name is required")
	}
	if !kind.Valid() {
		return 0, fmt.Errorf("account %s: invalid kind %q", name, kind)
	}
	row := accountRow{Name: name, Kind: string(kind), Balance: decimal.Zero}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"kind"}),
	}).Create(&row).Error
	if err != nil {
		return 0, fmt.Errorf("upserting account %s: %w", name, err)
	}
	if row.ID == 0 {
		if err := s.db.WithContext(ctx).Where("name = ?", name).First(&row).Error; err != nil {
			return 0, fmt.Errorf("reading account %s: %w", name, err)
		}
	}
	return row.ID, nil
}

func (s *Store) Account(ctx context.Context, id int64) (model.Account, error) {
	var row accountRow
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return model.Account{}, notFound(err, "account %d", id)
	}
	return row.model(), nil
}

func (s *Store) AccountByName(ctx context.Context, name string) (model.Account, error) {
	var row accountRow
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&row).Error; err != nil {
		return model.Account{}, notFound(err, "account %q", name)
	}
	return row.model(), nil
}

func (s *Store) Accounts(ctx context.Context) ([]model.Account, error) {
	var rows []accountRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	out := make([]model.Account, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

func (s *Store) SetAccountBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	res := s.db.WithContext(ctx).Model(&accountRow{}).Where("id = ?", id).Update("balance", balance)
	if res.Error != nil {
		return fmt.Errorf("setting balance of account %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("account %d: %w", id, ledger.ErrNotFound)
	}
	return nil
}

func (s *Store) AppendTransaction(ctx context.Context, txn model.Transaction) (int64, error) {
	if _, err := s.Account(ctx, txn.AccountID); err != nil {
		return 0, err
	}
	row := transactionRow{
		AccountID:   txn.AccountID,
		Date:        txn.Date,
		Description: txn.Description,
		Amount:      txn.Amount,
		Category:    txn.Category,
	}
	if txn.ScheduleEntryID != 0 {
		row.ScheduleEntryID = &txn.ScheduleEntryID
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("appending transaction: %w", err)
	}
	return row.ID, nil
}

func (s *Store) Transactions(ctx context.Context, accountID int64) ([]model.Transaction, error) {
	q := s.db.WithContext(ctx).Order("date, id")
	if accountID != 0 {
		q = q.Where("account_id = ?", accountID)
	}
	var rows []transactionRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	out := make([]model.Transaction, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

func (s *Store) UpdateTransaction(ctx context.Context, txn model.Transaction) error {
	var link *int64
	if txn.ScheduleEntryID != 0 {
		link = &txn.ScheduleEntryID
	}
	res := s.db.WithContext(ctx).Model(&transactionRow{}).Where("id = ?", txn.ID).
		Updates(map[string]any{"category": txn.Category, "schedule_entry_id": link})
	if res.Error != nil {
		return fmt.Errorf("updating transaction %d: %w", txn.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("transaction %d: %w", txn.ID, ledger.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteTransaction(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Delete(&transactionRow{}, id)
	if res.Error != nil {
		return fmt.Errorf("deleting transaction %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("transaction %d: %w", id, ledger.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteTransactions(ctx context.Context, accountID int64) (int, error) {
	res := s.db.WithContext(ctx).Where("account_id = ?", accountID).Delete(&transactionRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("deleting transactions of account %d: %w", accountID, res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *Store) UpsertScheduleEntry(ctx context.Context, entry model.ScheduleEntry) (int64, error) {
	if _, err := s.Account(ctx, entry.AccountID); err != nil {
		return 0, err
	}
	var cur scheduleRow
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND installment_no = ?", entry.AccountID, entry.InstallmentNo).
		First(&cur).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row := newScheduleRow(entry)
		row.ID = 0
		if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
			return 0, fmt.Errorf("inserting installment %d: %w", entry.InstallmentNo, err)
		}
		return row.ID, nil
	case err != nil:
		return 0, fmt.Errorf("reading installment %d: %w", entry.InstallmentNo, err)
	}

	if model.ScheduleStatus(cur.Status) == model.StatusPaid {
		return 0, fmt.Errorf("installment %d: %w", cur.InstallmentNo, ledger.ErrImmutable)
	}
	row := newScheduleRow(entry)
	row.ID = cur.ID
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return 0, fmt.Errorf("updating installment %d: %w", entry.InstallmentNo, err)
	}
	return row.ID, nil
}

func (s *Store) MarkScheduleStatus(ctx context.Context, id int64, status model.ScheduleStatus) error {
	var cur scheduleRow
	if err := s.db.WithContext(ctx).First(&cur, id).Error; err != nil {
		return notFound(err, "schedule entry %d", id)
	}
	if model.ScheduleStatus(cur.Status) == model.StatusPaid {
		return fmt.Errorf("installment %d: %w", cur.InstallmentNo, ledger.ErrImmutable)
	}
	err := s.db.WithContext(ctx).Model(&scheduleRow{}).
		Where("id = ? AND status <> ?", id, string(model.StatusPaid)).
		Update("status", string(status)).Error
	if err != nil {
		return fmt.Errorf("marking installment %d: %w", cur.InstallmentNo, err)
	}
	return nil
}

func (s *Store) Schedule(ctx context.Context, accountID int64) ([]model.ScheduleEntry, error) {
	q := s.db.WithContext(ctx).Order("account_id, installment_no")
	if accountID != 0 {
		q = q.Where("account_id = ?", accountID)
	}
	var rows []scheduleRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing schedule: %w", err)
	}
	out := make([]model.ScheduleEntry, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

func (s *Store) DeleteSchedule(ctx context.Context, accountID int64) (int, error) {
	res := s.db.WithContext(ctx).Where("account_id = ?", accountID).Delete(&scheduleRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("deleting schedule of account %d: %w", accountID, res.Error)
	}
	return int(res.RowsAffected), nil
}

func notFound(err error, format string, args ...any) error {
	what := fmt.Sprintf(format, args...)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ledger.ErrNotFound)
	}
	return fmt.Errorf("reading %s: %w", what, err)
}

func (r accountRow) model() model.Account {
	return model.Account{ID: r.ID, Name: r.Name, Kind: model.AccountKind(r.Kind), Balance: r.Balance}
}

func (r transactionRow) model() model.Transaction {
	t := model.Transaction{
		ID:          r.ID,
		AccountID:   r.AccountID,
		Date:        r.Date.UTC(),
		Description: r.Description,
		Amount:      r.Amount,
		Category:    r.Category,
	}
	if r.ScheduleEntryID != nil {
		t.ScheduleEntryID = *r.ScheduleEntryID
	}
	return t
}

func newScheduleRow(e model.ScheduleEntry) scheduleRow {
	return scheduleRow{
		ID:                 e.ID,
		AccountID:          e.AccountID,
		InstallmentNo:      e.InstallmentNo,
		DueDate:            e.DueDate,
		RepaymentAmount:    e.RepaymentAmount,
		PrincipalComponent: e.PrincipalComponent,
		InterestComponent:  e.InterestComponent,
		BalanceAfter:       e.BalanceAfter,
		Status:             string(e.Status),
	}
}

func (r scheduleRow) model() model.ScheduleEntry {
	return model.ScheduleEntry{
		ID:                 r.ID,
		AccountID:          r.AccountID,
		InstallmentNo:      r.InstallmentNo,
		DueDate:            r.DueDate.UTC(),
		RepaymentAmount:    r.RepaymentAmount,
		PrincipalComponent: r.PrincipalComponent,
		InterestComponent:  r.InterestComponent,
		BalanceAfter:       r.BalanceAfter,
		Status:             model.ScheduleStatus(r.Status),
	}
}
