// Package schedule parses loan amortization schedules out of PDF-extracted
// text.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/reconciler/internal/model"
	"github.com/cleared-dev/reconciler/internal/money"
)

var datePattern = regexp.MustCompile(`\b(\d{2}-[A-Za-z]{3}-\d{4}|\d{2}/[A-Za-z]{3}/\d{2,4})\b`)

var dateLayouts = []string{"02-Jan-2006", "02/Jan/2006", "02/Jan/06"}

// ErrMissingInstallments reports numbers a numbered source skipped over. The
// entries around the gap are kept.
var ErrMissingInstallments = errors.New("installments missing from schedule")

// AmbiguityError marks a line that could not be classified with confidence.
// The line is skipped.
type AmbiguityError struct {
	Line   int
	Text   string
	Reason string
}

func (e *AmbiguityError) Error() string {
	if e.Line == 0 {
		return "ambiguous schedule line: " + e.Reason
	}
	return fmt.Sprintf("line %d: ambiguous schedule line: %s", e.Line, e.Reason)
}

// Parser extracts schedule entries from text. Strip lists tokens removed
// before numbers are collected, such as contract references that would
// otherwise read as amounts.
type Parser struct {
	Strip      []string
	Classifier Classifier
}

// Result holds the parsed entries and per-line diagnostics.
type Result struct {
	Entries   []model.ScheduleEntry
	Accepted  int
	Skipped   int // lines with a date that could not be used
	Ambiguous int
	Ignored   int // non-blank lines without a date
	Issues    []error
}

// Parse scans every line of every page. Unnumbered sources get installment
// numbers in accepted order. Numbered sources keep their own numbers, which
// must increase; a jump is kept and reported as ErrMissingInstallments. Due
// dates must not go backwards.
func (p *Parser) Parse(pages []string) (*Result, error) {
	if p.Classifier == nil {
		return nil, errors.New("schedule parser has no classifier")
	}

	res := &Result{}
	lineNo := 0
	for _, page := range pages {
		for _, line := range strings.Split(page, "\n") {
			lineNo++
			if strings.TrimSpace(line) == "" {
				continue
			}
			entry, err := p.parseLine(line, res.Entries)
			if err == nil && entry == nil {
				res.Ignored++
				continue
			}
			if err != nil {
				var amb *AmbiguityError
				if errors.As(err, &amb) {
					amb.Line, amb.Text = lineNo, strings.TrimSpace(line)
					res.Ambiguous++
					res.Issues = append(res.Issues, amb)
				} else {
					res.Skipped++
					res.Issues = append(res.Issues, fmt.Errorf("line %d: %w", lineNo, err))
				}
				continue
			}
			if prev := lastInstallment(res.Entries); entry.InstallmentNo > prev+1 {
				res.Issues = append(res.Issues, fmt.Errorf("line %d: %w: %d to %d",
					lineNo, ErrMissingInstallments, prev+1, entry.InstallmentNo-1))
			}
			res.Entries = append(res.Entries, *entry)
			res.Accepted++
		}
	}
	return res, nil
}

// parseLine returns nil, nil for a line with no date.
func (p *Parser) parseLine(line string, accepted []model.ScheduleEntry) (*model.ScheduleEntry, error) {
	raw := datePattern.FindString(line)
	if raw == "" {
		return nil, nil
	}
	due, err := parseDueDate(raw)
	if err != nil {
		return nil, err
	}

	clean := strings.Replace(line, raw, " ", 1)
	for _, s := range p.Strip {
		if s != "" {
			clean = strings.ReplaceAll(clean, s, " ")
		}
	}
	var tokens []decimal.Decimal
	for _, tok := range strings.Fields(clean) {
		if money.IsNumeric(tok) {
			tokens = append(tokens, money.Normalize(tok))
		}
	}

	f, err := p.Classifier.Classify(tokens)
	if err != nil {
		return nil, err
	}
	if !f.Repayment.IsPositive() {
		return nil, fmt.Errorf("repayment %s is not positive", f.Repayment)
	}

	prev := lastInstallment(accepted)
	next := prev + 1
	if f.InstallmentNo != 0 {
		if f.InstallmentNo <= prev {
			return nil, &AmbiguityError{Reason: fmt.Sprintf("installment %d does not follow %d", f.InstallmentNo, prev)}
		}
		next = f.InstallmentNo
	}
	if n := len(accepted); n > 0 && due.Before(accepted[n-1].DueDate) {
		return nil, &AmbiguityError{Reason: fmt.Sprintf("due date %s before previous %s",
			due.Format("2006-01-02"), accepted[n-1].DueDate.Format("2006-01-02"))}
	}

	return &model.ScheduleEntry{
		InstallmentNo:      next,
		DueDate:            due,
		RepaymentAmount:    f.Repayment,
		PrincipalComponent: f.Principal,
		InterestComponent:  f.Interest,
		BalanceAfter:       f.Balance,
		Status:             model.StatusPending,
	}, nil
}

func lastInstallment(entries []model.ScheduleEntry) int {
	if len(entries) == 0 {
		return 0
	}
	return entries[len(entries)-1].InstallmentNo
}

func parseDueDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("bad date %q", s)
}

// ReadPages reads text and splits it into pages on form feeds, the page
// separator pdftotext emits.
func ReadPages(r io.Reader) ([]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading schedule text: %w", err)
	}
	return strings.Split(string(data), "\f"), nil
}

// ExtractPDF runs pdftotext on a PDF and returns its pages.
func ExtractPDF(ctx context.Context, path string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "pdftotext", "-layout", path, "-")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("pdftotext %s: %w", path, err)
	}
	return strings.Split(string(out), "\f"), nil
}

// Validate checks that installment numbers start at 1 or above and strictly
// increase, and that due dates do not go backwards.
func Validate(entries []model.ScheduleEntry) error {
	var errs []error
	prev := 0
	for i, e := range entries {
		if e.InstallmentNo <= prev {
			errs = append(errs, fmt.Errorf("entry %d: installment %d, expected above %d", i, e.InstallmentNo, prev))
		}
		prev = e.InstallmentNo
		if i > 0 && e.DueDate.Before(entries[i-1].DueDate) {
			errs = append(errs, fmt.Errorf("installment %d: due date goes backwards", e.InstallmentNo))
		}
		if !e.RepaymentAmount.IsPositive() {
			errs = append(errs, fmt.Errorf("installment %d: repayment must be positive", e.InstallmentNo))
		}
	}
	return errors.Join(errs...)
}
