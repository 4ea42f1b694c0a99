package importer

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/reconciler/internal/model"
	"github.com/cleared-dev/reconciler/internal/money"
)

const statementDateFormat = "02-Jan-2006"

// DebitCreditAdapter adapts statements with explicit debit and credit columns.
type DebitCreditAdapter struct {
	Name   string
	Layout Layout
}

// Format returns the layout name.
func (a *DebitCreditAdapter) Format() string { return a.Name }

// Kind returns KindDebitCredit.
func (a *DebitCreditAdapter) Kind() SourceKind { return KindDebitCredit }

// Detect reports whether records start with this layout's header.
func (a *DebitCreditAdapter) Detect(records [][]string) bool {
	if a.Layout.Header {
		return a.Layout.hasHeader(records)
	}
	// Positional: the first data record must carry a date in the date column
	// and reach the last configured column.
	f, err := a.Layout.bind(records)
	if err != nil || len(f.records) == 0 {
		return false
	}
	rec := f.records[0]
	if maxIndex(f.date, f.desc, f.debit, f.credit, f.balance) >= len(rec) {
		return false
	}
	_, _, err = a.Layout.parseDate(cell(rec, f.date))
	return err == nil
}

// Adapt converts records into RawRows. Unparseable rows are skipped and
// counted; a layout that does not fit the source header is an error.
func (a *DebitCreditAdapter) Adapt(records [][]string, opts Options) (*Result, error) {
	f, err := a.Layout.bind(records)
	if err != nil {
		return nil, fmt.Errorf("%s layout: %w", a.Name, err)
	}

	res := &Result{}
	for i, rec := range f.records {
		line := f.firstLine + i
		if isEmptyRecord(rec) {
			continue
		}
		res.Records++

		date, ts, err := a.Layout.parseDate(cell(rec, f.date))
		if err != nil {
			res.skip(line, err.Error())
			continue
		}
		if !opts.Cutoff.IsZero() && date.Before(opts.Cutoff) {
			res.Filtered++
			continue
		}

		debitCell, creditCell, balanceCell := cell(rec, f.debit), cell(rec, f.credit), cell(rec, f.balance)
		if money.IsBlank(debitCell) && money.IsBlank(creditCell) && money.IsBlank(balanceCell) {
			res.skip(line, "no numeric fields")
			continue
		}

		inflow, outflow := fold(money.Normalize(creditCell), money.Normalize(debitCell))
		desc := cell(rec, f.desc)
		if desc == "" {
			desc = a.Layout.DefaultDescription
		}
		row := model.RawRow{
			Line:        line,
			Date:        date,
			Timestamp:   ts,
			Description: desc,
			Inflow:      inflow,
			Outflow:     outflow,
		}
		if f.balance >= 0 && !money.IsBlank(balanceCell) {
			row.ReportedBalance = money.Normalize(balanceCell)
			row.HasBalance = true
		}
		res.Rows = append(res.Rows, row)
	}
	return res, nil
}

// BalanceOnlyAdapter adapts wallet exports that expose only a running balance.
type BalanceOnlyAdapter struct {
	Name   string
	Layout Layout
}

// Format returns the layout name.
func (a *BalanceOnlyAdapter) Format() string { return a.Name }

// Kind returns KindBalanceOnly.
func (a *BalanceOnlyAdapter) Kind() SourceKind { return KindBalanceOnly }

// Detect reports whether records start with this layout's header.
func (a *BalanceOnlyAdapter) Detect(records [][]string) bool {
	return a.Layout.hasHeader(records)
}

// Adapt converts records into RawRows carrying only ReportedBalance. The
// declared timestamp is kept so callers can order rows before diffing.
func (a *BalanceOnlyAdapter) Adapt(records [][]string, opts Options) (*Result, error) {
	if a.Layout.Balance == nil {
		return nil, fmt.Errorf("%s layout: balance column is required", a.Name)
	}
	f, err := a.Layout.bind(records)
	if err != nil {
		return nil, fmt.Errorf("%s layout: %w", a.Name, err)
	}

	res := &Result{}
	for i, rec := range f.records {
		line := f.firstLine + i
		if isEmptyRecord(rec) {
			continue
		}
		res.Records++

		date, ts, err := a.Layout.parseDate(cell(rec, f.date))
		if err != nil {
			res.skip(line, err.Error())
			continue
		}
		if !opts.Cutoff.IsZero() && date.Before(opts.Cutoff) {
			res.Filtered++
			continue
		}

		balanceCell := cell(rec, f.balance)
		if money.IsBlank(balanceCell) {
			res.skip(line, "no balance")
			continue
		}

		desc := cell(rec, f.desc)
		if desc == "" {
			desc = a.Layout.DefaultDescription
		}
		res.Rows = append(res.Rows, model.RawRow{
			Line:            line,
			Date:            date,
			Timestamp:       ts,
			Description:     desc,
			ReportedBalance: money.Normalize(balanceCell),
			HasBalance:      true,
			RawAmount:       money.Normalize(cell(rec, f.amount)),
		})
	}
	return res, nil
}

// CRDB is the headered debit/credit export of CRDB Bank.
func CRDB() *DebitCreditAdapter {
	return &DebitCreditAdapter{
		Name: "crdb",
		Layout: Layout{
			Header:      true,
			DateLayout:  statementDateFormat,
			Date:        Column{Name: "TRANS DATE"},
			Description: &Column{Name: "DETAILS"},
			Debit:       &Column{Name: "DEBIT"},
			Credit:      &Column{Name: "CREDIT"},
			Balance:     &Column{Name: "BOOK BALANCE"},
		},
	}
}

// Ecobank is the positional debit/credit export of Ecobank: one title row,
// no header, columns date, description, value date, debit, credit, balance.
func Ecobank() *DebitCreditAdapter {
	return &DebitCreditAdapter{
		Name: "ecobank",
		Layout: Layout{
			SkipRows:    1,
			DateLayout:  statementDateFormat,
			Date:        Column{Index: 0},
			Description: &Column{Index: 1},
			Debit:       &Column{Index: 3},
			Credit:      &Column{Index: 4},
			Balance:     &Column{Index: 5},
		},
	}
}

// Selcom is the balance-only export of Selcom Pay. "Transaction Date" holds
// a date optionally run together with a clock ("2026-02-0211:41:59").
func Selcom() *BalanceOnlyAdapter {
	return &BalanceOnlyAdapter{
		Name: "selcom",
		Layout: Layout{
			Header:             true,
			DateLayout:         "2006-01-02",
			DateChars:          10,
			Date:               Column{Name: "Transaction Date"},
			Amount:             &Column{Name: "-4-"},
			Balance:            &Column{Name: "Balance"},
			DefaultDescription: "Selcom Transaction",
		},
	}
}

// NewAdapter builds an adapter for a custom layout.
func NewAdapter(name string, kind SourceKind, layout Layout) (Adapter, error) {
	if layout.DateLayout == "" {
		return nil, fmt.Errorf("layout %s: date_layout is required", name)
	}
	switch kind {
	case KindDebitCredit:
		if layout.Debit == nil && layout.Credit == nil {
			return nil, fmt.Errorf("layout %s: debit or credit column is required", name)
		}
		return &DebitCreditAdapter{Name: name, Layout: layout}, nil
	case KindBalanceOnly:
		if layout.Balance == nil {
			return nil, fmt.Errorf("layout %s: balance column is required", name)
		}
		return &BalanceOnlyAdapter{Name: name, Layout: layout}, nil
	default:
		return nil, fmt.Errorf("layout %s: unknown kind %q", name, kind)
	}
}

// fold turns possibly signed credit/debit cells into non-negative
// inflow/outflow.
func fold(credit, debit decimal.Decimal) (inflow, outflow decimal.Decimal) {
	inflow, outflow = decimal.Zero, decimal.Zero
	if credit.IsNegative() {
		outflow = outflow.Add(credit.Neg())
	} else {
		inflow = inflow.Add(credit)
	}
	if debit.IsNegative() {
		inflow = inflow.Add(debit.Neg())
	} else {
		outflow = outflow.Add(debit)
	}
	return inflow, outflow
}

func isEmptyRecord(rec []string) bool {
	for _, c := range rec {
		if cell([]string{c}, 0) != "" {
			return false
		}
	}
	return true
}

func maxIndex(idx ...int) int {
	m := -1
	for _, i := range idx {
		if i > m {
			m = i
		}
	}
	return m
}
