package ingest

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/reconciler/internal/importer"
	"github.com/cleared-dev/reconciler/internal/ledger"
	"github.com/cleared-dev/reconciler/internal/model"
	"github.com/cleared-dev/reconciler/internal/runlog"
)

// SourceError reports a statement or schedule that could not be read,
// detected or parsed. It fails the account it feeds; other accounts
// continue.
type SourceError struct {
	Account string
	Path    string
	Err     error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s (%s): %v", e.Path, e.Account, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// AccountReport describes the import of one bank or wallet account.
type AccountReport struct {
	Account     string
	Kind        model.AccountKind
	Formats     []string
	Records     int
	Skipped     int
	Filtered    int
	Emitted     int
	Dropped     int
	Adjustments int
	Gap         decimal.Decimal
	Balance     decimal.Decimal
	RowErrors   []*importer.RowError
	Err         error
}

// LoanReport describes the schedule parse and linking of one loan.
type LoanReport struct {
	Account    string
	Accepted   int
	Skipped    int
	Ambiguous  int
	Issues     []error
	Matched    int
	Backfilled int
	Overdue    int
	Balance    decimal.Decimal
	Err        error
}

// Report is the outcome of one run.
type Report struct {
	RunID    string
	Started  time.Time
	Accounts []AccountReport
	Loans    []LoanReport
	Findings []ledger.Finding

	// Unconfigured lists files in import/ that no source or loan names.
	Unconfigured []string
}

// Err joins every account and loan error, or returns nil.
func (r *Report) Err() error {
	var errs []error
	for _, a := range r.Accounts {
		if a.Err != nil {
			errs = append(errs, a.Err)
		}
	}
	for _, l := range r.Loans {
		if l.Err != nil {
			errs = append(errs, l.Err)
		}
	}
	return errors.Join(errs...)
}

func (r *Report) loan(name string) *LoanReport {
	for i := range r.Loans {
		if r.Loans[i].Account == name {
			return &r.Loans[i]
		}
	}
	r.Loans = append(r.Loans, LoanReport{Account: name})
	return &r.Loans[len(r.Loans)-1]
}

// LogEntries renders the report as run log rows.
func (r *Report) LogEntries() []runlog.Entry {
	var out []runlog.Entry
	add := func(action, account, details string) {
		out = append(out, runlog.Entry{
			Timestamp: r.Started,
			RunID:     r.RunID,
			Action:    action,
			Account:   account,
			Details:   details,
		})
	}
	for _, a := range r.Accounts {
		if a.Err != nil {
			add(runlog.ActionImport, a.Account, "error: "+a.Err.Error())
			continue
		}
		add(runlog.ActionImport, a.Account, fmt.Sprintf(
			"format=%s records=%d skipped=%d filtered=%d emitted=%d adjustments=%d gap=%s balance=%s",
			strings.Join(a.Formats, "+"), a.Records, a.Skipped, a.Filtered, a.Emitted, a.Adjustments,
			a.Gap.StringFixed(2), a.Balance.StringFixed(2)))
	}
	for _, l := range r.Loans {
		if l.Err != nil {
			add(runlog.ActionLink, l.Account, "error: "+l.Err.Error())
			continue
		}
		if l.Accepted+l.Skipped+l.Ambiguous > 0 {
			add(runlog.ActionSchedule, l.Account, fmt.Sprintf("accepted=%d skipped=%d ambiguous=%d",
				l.Accepted, l.Skipped, l.Ambiguous))
		}
		add(runlog.ActionLink, l.Account, fmt.Sprintf("matched=%d backfilled=%d overdue=%d balance=%s",
			l.Matched, l.Backfilled, l.Overdue, l.Balance.StringFixed(2)))
	}
	for _, f := range r.Findings {
		add(runlog.ActionAudit, f.Account, f.Error())
	}
	return out
}
