package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cleared-dev/reconciler/internal/categorize"
	"github.com/cleared-dev/reconciler/internal/config"
	"github.com/cleared-dev/reconciler/internal/importer"
	"github.com/cleared-dev/reconciler/internal/ledger"
	"github.com/cleared-dev/reconciler/internal/linker"
	"github.com/cleared-dev/reconciler/internal/logger"
	"github.com/cleared-dev/reconciler/internal/model"
	"github.com/cleared-dev/reconciler/internal/schedule"
)

const loanAdjustmentDescription = "Outstanding Loan Balance"

// Classifier builds the schedule classifier a loan is configured with.
func Classifier(c config.ClassifierConfig) (schedule.Classifier, error) {
	switch c.Type {
	case config.ClassifierPositional:
		return schedule.PositionalClassifier{Numbered: c.Numbered}, nil
	case config.ClassifierRange:
		return schedule.RangeClassifier{
			RepaymentMin: c.RepaymentMin,
			RepaymentMax: c.RepaymentMax,
			BalanceFloor: c.BalanceFloor,
		}, nil
	default:
		return nil, fmt.Errorf("unknown classifier %q", c.Type)
	}
}

// ParseSchedule reads and parses a loan's schedule without touching the
// store.
func (r *Runner) ParseSchedule(ctx context.Context, loan config.Loan) (*schedule.Result, error) {
	fail := func(err error) (*schedule.Result, error) {
		return nil, &SourceError{Account: loan.Account, Path: loan.Path, Err: err}
	}
	classifier, err := Classifier(loan.Classifier)
	if err != nil {
		return fail(err)
	}
	path, err := importer.Resolve(r.root, loan.Path)
	if err != nil {
		return fail(err)
	}
	pages, err := readPages(ctx, path)
	if err != nil {
		return fail(err)
	}
	p := &schedule.Parser{Strip: loan.Strip, Classifier: classifier}
	res, err := p.Parse(pages)
	if err != nil {
		return fail(err)
	}
	if err := schedule.Validate(res.Entries); err != nil {
		return fail(err)
	}
	return res, nil
}

func readPages(ctx context.Context, path string) ([]string, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return schedule.ExtractPDF(ctx, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return schedule.ReadPages(f)
}

// loadSchedule replaces a loan's schedule with a fresh parse. Entries start
// PENDING and the loan balance is reset to the full principal; linking
// brings both up to date.
func (r *Runner) loadSchedule(ctx context.Context, loan config.Loan, rep *LoanReport) {
	log := logger.FromContext(ctx).With().Str("account", loan.Account).Logger()

	res, err := r.ParseSchedule(ctx, loan)
	if err != nil {
		rep.Err = err
		log.Error().Err(err).Msg("schedule parse failed")
		return
	}
	rep.Accepted = res.Accepted
	rep.Skipped = res.Skipped
	rep.Ambiguous = res.Ambiguous
	rep.Issues = res.Issues
	for _, issue := range res.Issues {
		log.Debug().Msg(issue.Error())
	}

	cat, err := r.categorizer()
	if err != nil {
		rep.Err = err
		return
	}
	err = r.store.WithinTx(ctx, func(s ledger.Store) error {
		id, err := s.UpsertAccount(ctx, loan.Account, model.AccountKindLoan)
		if err != nil {
			return err
		}
		old, err := s.Schedule(ctx, id)
		if err != nil {
			return err
		}
		if err := unlink(ctx, s, old, cat); err != nil {
			return err
		}
		if _, err := s.DeleteSchedule(ctx, id); err != nil {
			return err
		}
		if _, err := s.DeleteTransactions(ctx, id); err != nil {
			return err
		}
		for _, e := range res.Entries {
			e.AccountID = id
			e.Status = model.StatusPending
			if _, err := s.UpsertScheduleEntry(ctx, e); err != nil {
				return err
			}
		}
		return s.SetAccountBalance(ctx, id, loan.Principal.Abs().Neg())
	})
	if err != nil {
		rep.Err = fmt.Errorf("loading schedule of %s: %w", loan.Account, err)
		log.Error().Err(err).Msg("schedule load failed")
		return
	}
	log.Info().
		Int("accepted", rep.Accepted).
		Int("skipped", rep.Skipped).
		Int("ambiguous", rep.Ambiguous).
		Msg("schedule loaded")
}

// unlink detaches transactions from schedule entries about to be replaced.
// Backfilled payments are dropped with their entries; real payments lose the
// link and are categorized afresh so they can be matched again. No other row
// is touched.
func unlink(ctx context.Context, s ledger.Store, old []model.ScheduleEntry, cat *categorize.Categorizer) error {
	if len(old) == 0 {
		return nil
	}
	ids := make(map[int64]bool, len(old))
	for _, e := range old {
		ids[e.ID] = true
	}
	txns, err := s.Transactions(ctx, 0)
	if err != nil {
		return err
	}
	for _, t := range txns {
		if !ids[t.ScheduleEntryID] {
			continue
		}
		if linker.IsBackfill(t) {
			if err := s.DeleteTransaction(ctx, t.ID); err != nil {
				return err
			}
			continue
		}
		t.ScheduleEntryID = 0
		t.Category = cat.Categorize(t.Description, t.Amount)
		if err := s.UpdateTransaction(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// link matches, backfills and marks overdue for every configured loan, then
// settles the loan and the funding account so both keep Σ == balance.
func (r *Runner) link(ctx context.Context, rep *Report) error {
	log := logger.FromContext(ctx)
	funding, err := r.fundingAccount(ctx)
	if err != nil {
		return err
	}

	opts := linker.Options{
		Tolerance:        r.cfg.Tolerances.Link,
		Category:         r.cfg.Linking.Category,
		Cutoff:           r.cfg.Linking.BackfillCutoff.Time,
		FundingAccountID: funding.ID,
	}
	if r.cfg.Linking.MarkOverdue {
		opts.AsOf = r.now()
	}

	for _, loan := range r.cfg.Loans {
		if err := ctx.Err(); err != nil {
			return err
		}
		lr := rep.loan(loan.Account)
		if lr.Err != nil {
			continue
		}
		acct, err := r.store.AccountByName(ctx, loan.Account)
		if err != nil {
			lr.Err = fmt.Errorf("linking %s: %w", loan.Account, err)
			continue
		}
		err = r.store.WithinTx(ctx, func(s ledger.Store) error {
			res, err := linker.New(s, opts).Run(ctx, acct.ID)
			if err != nil {
				return err
			}
			entries, err := s.Schedule(ctx, acct.ID)
			if err != nil {
				return err
			}
			lr.Matched, lr.Backfilled, lr.Overdue = res.Matched, res.Backfilled, res.Overdue
			lr.Balance = linker.LoanBalance(entries, loan.Principal)
			if err := s.SetAccountBalance(ctx, acct.ID, lr.Balance); err != nil {
				return err
			}
			settle := ledger.SettleOptions{Tolerance: r.cfg.Tolerances.Reconcile, Description: loanAdjustmentDescription}
			if len(entries) > 0 {
				settle.Date = entries[0].DueDate
			}
			if _, err := ledger.Settle(ctx, s, acct.ID, settle); err != nil {
				return err
			}
			if funding.ID == 0 {
				return nil
			}
			_, err = ledger.Settle(ctx, s, funding.ID, ledger.SettleOptions{
				Tolerance:   r.cfg.Tolerances.Reconcile,
				Description: "Opening Balance",
			})
			return err
		})
		if err != nil {
			lr.Err = fmt.Errorf("linking %s: %w", loan.Account, err)
			log.Error().Err(err).Str("account", loan.Account).Msg("linking failed")
			continue
		}
		log.Info().
			Str("account", loan.Account).
			Str("funding", funding.Name).
			Int("matched", lr.Matched).
			Int("backfilled", lr.Backfilled).
			Int("overdue", lr.Overdue).
			Str("balance", lr.Balance.StringFixed(2)).
			Msg("loan linked")
	}
	return nil
}

// fundingAccount is the configured funding account, or the first BANK
// account when none is configured. The zero Account means there is none.
func (r *Runner) fundingAccount(ctx context.Context) (model.Account, error) {
	if name := r.cfg.Linking.FundingAccount; name != "" {
		a, err := r.store.AccountByName(ctx, name)
		if err != nil {
			return model.Account{}, fmt.Errorf("funding account %s: %w", name, err)
		}
		return a, nil
	}
	accounts, err := r.store.Accounts(ctx)
	if err != nil {
		return model.Account{}, fmt.Errorf("listing accounts: %w", err)
	}
	for _, a := range accounts {
		if a.Kind == model.AccountKindBank {
			return a, nil
		}
	}
	return model.Account{}, nil
}
