package importer

import (
	"regexp"
	"strings"
	"time"

	"github.com/cleared-dev/reconciler/internal/model"
	"github.com/cleared-dev/reconciler/internal/money"
)

var statementLineDate = regexp.MustCompile(`^\d{2}-[A-Za-z]{3}-\d{4}$`)

// TextAdapter adapts the text layer of PDF bank statements. Each record is a
// single line: a date, description words, then debit, credit and balance as
// the last three tokens ("-" for an empty side).
type TextAdapter struct{}

// StatementText returns the adapter for extracted statement text.
func StatementText() *TextAdapter { return &TextAdapter{} }

// Format returns "statement-text".
func (a *TextAdapter) Format() string { return "statement-text" }

// Kind returns KindDebitCredit.
func (a *TextAdapter) Kind() SourceKind { return KindDebitCredit }

// Detect reports whether records are single-field lines with at least one
// statement row.
func (a *TextAdapter) Detect(records [][]string) bool {
	for _, rec := range records {
		if len(rec) != 1 {
			return false
		}
		if _, ok := parseStatementLine(rec[0]); ok {
			return true
		}
	}
	return false
}

// Adapt parses every line that starts with a date. Header lines and lines
// without three trailing numbers are skipped.
func (a *TextAdapter) Adapt(records [][]string, opts Options) (*Result, error) {
	res := &Result{}
	for i, rec := range records {
		if len(rec) == 0 {
			continue
		}
		line := strings.TrimSpace(strings.Join(rec, " "))
		if line == "" || isStatementHeader(line) {
			continue
		}
		fields := strings.Fields(line)
		if !statementLineDate.MatchString(fields[0]) {
			continue
		}
		res.Records++

		row, ok := parseStatementLine(line)
		if !ok {
			res.skip(i+1, "expected date, description, debit, credit, balance")
			continue
		}
		if !opts.Cutoff.IsZero() && row.Date.Before(opts.Cutoff) {
			res.Filtered++
			continue
		}
		row.Line = i + 1
		res.Rows = append(res.Rows, row)
	}
	return res, nil
}

func isStatementHeader(line string) bool {
	return strings.Contains(line, "Transaction Date") || strings.Contains(line, "Value Date")
}

func parseStatementLine(line string) (model.RawRow, bool) {
	fields := strings.Fields(line)
	if len(fields) < 4 || !statementLineDate.MatchString(fields[0]) {
		return model.RawRow{}, false
	}
	date, err := time.Parse(statementDateFormat, fields[0])
	if err != nil {
		return model.RawRow{}, false
	}
	tail := fields[len(fields)-3:]
	for _, tok := range tail {
		if tok != "-" && !money.IsNumeric(tok) {
			return model.RawRow{}, false
		}
	}
	debit, credit, balance := money.Normalize(tail[0]), money.Normalize(tail[1]), money.Normalize(tail[2])
	inflow, outflow := fold(credit, debit)
	return model.RawRow{
		Date:            date,
		Timestamp:       date,
		Description:     strings.Join(fields[1:len(fields)-3], " "),
		Inflow:          inflow,
		Outflow:         outflow,
		ReportedBalance: balance,
		HasBalance:      true,
	}, true
}
