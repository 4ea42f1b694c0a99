package csvstore

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/reconciler/internal/model"
)

const dateFormat = "2006-01-02"

// AccountsHeader is the CSV header for accounts.csv.
const AccountsHeader = "id,name,kind,balance"

const (
	numAccountFields = 4
	colAcctID        = 0
	colAcctName      = 1
	colAcctKind      = 2
	colAcctBalance   = 3
)

// TransactionsHeader is the CSV header for transactions.csv.
const TransactionsHeader = "id,account_id,date,description,amount,category,schedule_entry_id"

const (
	numTxnFields = 7
	colTxnID     = 0
	colTxnAcct   = 1
	colTxnDate   = 2
	colTxnDesc   = 3
	colTxnAmount = 4
	colTxnCat    = 5
	colTxnEntry  = 6
)

// ScheduleHeader is the CSV header for schedule.csv.
const ScheduleHeader = "id,account_id,installment_no,due_date,repayment_amount,principal_component,interest_component,balance_after,status"

const (
	numEntryFields = 9
	colEntryID     = 0
	colEntryAcct   = 1
	colEntryNo     = 2
	colEntryDue    = 3
	colEntryRepay  = 4
	colEntryPrin   = 5
	colEntryInt    = 6
	colEntryBal    = 7
	colEntryStatus = 8
)

// MarshalAccount converts an Account to a CSV row.
func MarshalAccount(a model.Account) []string {
	row := make([]string, numAccountFields)
	row[colAcctID] = strconv.FormatInt(a.ID, 10)
	row[colAcctName] = a.Name
	row[colAcctKind] = string(a.Kind)
	row[colAcctBalance] = a.Balance.StringFixed(2)
	return row
}

// UnmarshalAccount parses a CSV row into an Account.
func UnmarshalAccount(record []string) (model.Account, error) {
	if len(record) != numAccountFields {
		return model.Account{}, fmt.Errorf("expected %d fields, got %d", numAccountFields, len(record))
	}
	id, err := strconv.ParseInt(record[colAcctID], 10, 64)
	if err != nil {
		return model.Account{}, fmt.Errorf("parsing id %q: %w", record[colAcctID], err)
	}
	kind := model.AccountKind(record[colAcctKind])
	if !kind.Valid() {
		return model.Account{}, fmt.Errorf("invalid kind %q", record[colAcctKind])
	}
	balance, err := decimal.NewFromString(record[colAcctBalance])
	if err != nil {
		return model.Account{}, fmt.Errorf("parsing balance %q: %w", record[colAcctBalance], err)
	}
	return model.Account{ID: id, Name: record[colAcctName], Kind: kind, Balance: balance}, nil
}

// MarshalTransaction converts a Transaction to a CSV row.
func MarshalTransaction(t model.Transaction) []string {
	row := make([]string, numTxnFields)
	row[colTxnID] = strconv.FormatInt(t.ID, 10)
	row[colTxnAcct] = strconv.FormatInt(t.AccountID, 10)
	row[colTxnDate] = t.Date.Format(dateFormat)
	row[colTxnDesc] = t.Description
	row[colTxnAmount] = t.Amount.StringFixed(2)
	row[colTxnCat] = t.Category
	if t.ScheduleEntryID != 0 {
		row[colTxnEntry] = strconv.FormatInt(t.ScheduleEntryID, 10)
	}
	return row
}

// UnmarshalTransaction parses a CSV row into a Transaction.
func UnmarshalTransaction(record []string) (model.Transaction, error) {
	if len(record) != numTxnFields {
		return model.Transaction{}, fmt.Errorf("expected %d fields, got %d", numTxnFields, len(record))
	}
	var (
		t   model.Transaction
		err error
	)
	if t.ID, err = strconv.ParseInt(record[colTxnID], 10, 64); err != nil {
		return model.Transaction{}, fmt.Errorf("parsing id %q: %w", record[colTxnID], err)
	}
	if t.AccountID, err = strconv.ParseInt(record[colTxnAcct], 10, 64); err != nil {
		return model.Transaction{}, fmt.Errorf("parsing account_id %q: %w", record[colTxnAcct], err)
	}
	if t.Date, err = time.Parse(dateFormat, record[colTxnDate]); err != nil {
		return model.Transaction{}, fmt.Errorf("parsing date %q: %w", record[colTxnDate], err)
	}
	if t.Amount, err = decimal.NewFromString(record[colTxnAmount]); err != nil {
		return model.Transaction{}, fmt.Errorf("parsing amount %q: %w", record[colTxnAmount], err)
	}
	if record[colTxnEntry] != "" {
		if t.ScheduleEntryID, err = strconv.ParseInt(record[colTxnEntry], 10, 64); err != nil {
			return model.Transaction{}, fmt.Errorf("parsing schedule_entry_id %q: %w", record[colTxnEntry], err)
		}
	}
	t.Description = record[colTxnDesc]
	t.Category = record[colTxnCat]
	return t, nil
}

// MarshalEntry converts a ScheduleEntry to a CSV row.
func MarshalEntry(e model.ScheduleEntry) []string {
	row := make([]string, numEntryFields)
	row[colEntryID] = strconv.FormatInt(e.ID, 10)
	row[colEntryAcct] = strconv.FormatInt(e.AccountID, 10)
	row[colEntryNo] = strconv.Itoa(e.InstallmentNo)
	row[colEntryDue] = e.DueDate.Format(dateFormat)
	row[colEntryRepay] = e.RepaymentAmount.StringFixed(2)
	row[colEntryPrin] = e.PrincipalComponent.StringFixed(2)
	row[colEntryInt] = e.InterestComponent.StringFixed(2)
	row[colEntryBal] = e.BalanceAfter.StringFixed(2)
	row[colEntryStatus] = string(e.Status)
	return row
}

// UnmarshalEntry parses a CSV row into a ScheduleEntry.
func UnmarshalEntry(record []string) (model.ScheduleEntry, error) {
	if len(record) != numEntryFields {
		return model.ScheduleEntry{}, fmt.Errorf("expected %d fields, got %d", numEntryFields, len(record))
	}
	var (
		e   model.ScheduleEntry
		err error
	)
	if e.ID, err = strconv.ParseInt(record[colEntryID], 10, 64); err != nil {
		return model.ScheduleEntry{}, fmt.Errorf("parsing id %q: %w", record[colEntryID], err)
	}
	if e.AccountID, err = strconv.ParseInt(record[colEntryAcct], 10, 64); err != nil {
		return model.ScheduleEntry{}, fmt.Errorf("parsing account_id %q: %w", record[colEntryAcct], err)
	}
	if e.InstallmentNo, err = strconv.Atoi(record[colEntryNo]); err != nil {
		return model.ScheduleEntry{}, fmt.Errorf("parsing installment_no %q: %w", record[colEntryNo], err)
	}
	if e.DueDate, err = time.Parse(dateFormat, record[colEntryDue]); err != nil {
		return model.ScheduleEntry{}, fmt.Errorf("parsing due_date %q: %w", record[colEntryDue], err)
	}
	amounts := []struct {
		col int
		dst *decimal.Decimal
	}{
		{colEntryRepay, &e.RepaymentAmount},
		{colEntryPrin, &e.PrincipalComponent},
		{colEntryInt, &e.InterestComponent},
		{colEntryBal, &e.BalanceAfter},
	}
	for _, a := range amounts {
		if *a.dst, err = decimal.NewFromString(record[a.col]); err != nil {
			return model.ScheduleEntry{}, fmt.Errorf("parsing amount %q: %w", record[a.col], err)
		}
	}
	e.Status = model.ScheduleStatus(record[colEntryStatus])
	switch e.Status {
	case model.StatusPending, model.StatusPaid, model.StatusOverdue:
	default:
		return model.ScheduleEntry{}, fmt.Errorf("invalid status %q", record[colEntryStatus])
	}
	return e, nil
}

// readRows reads a headered CSV file and unmarshals each data row.
func readRows[T any](r io.Reader, numFields int, unmarshal func([]string) (T, error)) ([]T, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	var out []T
	for i, rec := range records[1:] {
		v, err := unmarshal(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// writeRows writes the header and one row per value.
func writeRows[T any](w io.Writer, header string, rows []T, marshal func(T) []string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(strings.Split(header, ",")); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for i, v := range rows {
		if err := cw.Write(marshal(v)); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadAccounts reads accounts.csv.
func ReadAccounts(r io.Reader) ([]model.Account, error) {
	return readRows(r, numAccountFields, UnmarshalAccount)
}

// WriteAccounts writes accounts.csv including the header.
func WriteAccounts(w io.Writer, accounts []model.Account) error {
	return writeRows(w, AccountsHeader, accounts, MarshalAccount)
}

// ReadTransactions reads transactions.csv.
func ReadTransactions(r io.Reader) ([]model.Transaction, error) {
	return readRows(r, numTxnFields, UnmarshalTransaction)
}

// WriteTransactions writes transactions.csv including the header.
func WriteTransactions(w io.Writer, txns []model.Transaction) error {
	return writeRows(w, TransactionsHeader, txns, MarshalTransaction)
}

// ReadSchedule reads schedule.csv.
func ReadSchedule(r io.Reader) ([]model.ScheduleEntry, error) {
	return readRows(r, numEntryFields, UnmarshalEntry)
}

// WriteSchedule writes schedule.csv including the header.
func WriteSchedule(w io.Writer, entries []model.ScheduleEntry) error {
	return writeRows(w, ScheduleHeader, entries, MarshalEntry)
}
