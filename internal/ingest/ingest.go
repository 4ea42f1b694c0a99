// Package ingest runs a full reconciliation: statements into accounts,
// schedules into loans, payments linked to installments, then an audit.
package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cleared-dev/reconciler/internal/categorize"
	"github.com/cleared-dev/reconciler/internal/config"
	"github.com/cleared-dev/reconciler/internal/importer"
	"github.com/cleared-dev/reconciler/internal/ledger"
	"github.com/cleared-dev/reconciler/internal/logger"
	"github.com/cleared-dev/reconciler/internal/reconcile"
)

// Runner executes import runs against one store. The store is injected;
// nothing is global.
type Runner struct {
	store    ledger.TxStore
	cfg      *config.Config
	root     string
	registry *importer.Registry
	now      func() time.Time
}

// Option customizes a Runner.
type Option func(*Runner)

// WithRegistry replaces the built-in statement layouts.
func WithRegistry(reg *importer.Registry) Option {
	return func(r *Runner) { r.registry = reg }
}

// WithClock sets the clock used for overdue marking and run timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a Runner. Relative source paths resolve against root.
func NewRunner(store ledger.TxStore, cfg *config.Config, root string, opts ...Option) *Runner {
	r := &Runner{
		store:    store,
		cfg:      cfg,
		root:     root,
		registry: importer.DefaultRegistry(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run imports every source, loads every schedule, links payments and audits
// the result. Per-account and per-loan failures are recorded in the report;
// the returned error is reserved for failures that stop the whole run.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	rep, ctx := r.start(ctx)
	log := logger.FromContext(ctx)

	if err := r.importAccounts(ctx, rep); err != nil {
		return rep, err
	}
	r.noteUnconfigured(ctx, rep)
	if err := r.ensureAccounts(ctx); err != nil {
		return rep, err
	}
	for _, loan := range r.cfg.Loans {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		r.loadSchedule(ctx, loan, rep.loan(loan.Account))
	}
	if err := r.link(ctx, rep); err != nil {
		return rep, err
	}
	findings, err := r.Audit(ctx)
	if err != nil {
		return rep, err
	}
	rep.Findings = findings

	log.Info().
		Int("accounts", len(rep.Accounts)).
		Int("loans", len(rep.Loans)).
		Int("findings", len(findings)).
		Msg("run complete")
	return rep, nil
}

// Link re-runs matching, backfill and overdue marking over loans already in
// the store.
func (r *Runner) Link(ctx context.Context) (*Report, error) {
	rep, ctx := r.start(ctx)
	for _, loan := range r.cfg.Loans {
		rep.loan(loan.Account)
	}
	if err := r.link(ctx, rep); err != nil {
		return rep, err
	}
	findings, err := r.Audit(ctx)
	if err != nil {
		return rep, err
	}
	rep.Findings = findings
	return rep, nil
}

// Audit checks the ledger invariants of the store.
func (r *Runner) Audit(ctx context.Context) ([]ledger.Finding, error) {
	findings, err := ledger.Audit(ctx, r.store, r.cfg.Tolerances.Reconcile)
	if err != nil {
		return nil, fmt.Errorf("auditing ledger: %w", err)
	}
	log := logger.FromContext(ctx)
	for _, f := range findings {
		log.Warn().Str("check", f.Check).Str("account", f.Account).Msg(f.Description)
	}
	return findings, nil
}

func (r *Runner) start(ctx context.Context) (*Report, context.Context) {
	rep := &Report{RunID: uuid.NewString(), Started: r.now().UTC()}
	log := logger.FromContext(ctx).With().Str("run_id", rep.RunID).Logger()
	return rep, logger.WithContext(ctx, log)
}

// importAccounts reads and reconciles accounts in parallel, then writes
// them one at a time, each in its own transaction.
func (r *Runner) importAccounts(ctx context.Context, rep *Report) error {
	cat, err := r.categorizer()
	if err != nil {
		return err
	}
	rec := reconcile.New(reconcile.Options{
		Tolerance:      r.cfg.Tolerances.Reconcile,
		DeltaTolerance: r.cfg.Tolerances.Delta,
		MaxGap:         r.cfg.Tolerances.MaxGap,
		Categorizer:    cat,
	})

	plans := planAccounts(r.cfg.Sources)
	prepared := make([]*preparedAccount, len(plans))
	g, gctx := errgroup.WithContext(ctx)
	if w := r.cfg.Import.Workers; w > 0 {
		g.SetLimit(w)
	}
	for i, p := range plans {
		g.Go(func() error {
			prepared[i] = r.prepare(gctx, p, rec)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	log := logger.FromContext(ctx)
	for _, p := range prepared {
		if p.report.Err == nil {
			if err := r.writeAccount(ctx, p); err != nil {
				p.report.Err = fmt.Errorf("writing %s: %w", p.report.Account, err)
			} else {
				r.archive(ctx, p.paths)
			}
		}
		logAccount(log, &p.report)
		rep.Accounts = append(rep.Accounts, p.report)
	}
	return nil
}

// ensureAccounts creates the configured accounts that no statement feeds.
func (r *Runner) ensureAccounts(ctx context.Context) error {
	if len(r.cfg.Accounts) == 0 {
		return nil
	}
	return r.store.WithinTx(ctx, func(s ledger.Store) error {
		for _, a := range r.cfg.Accounts {
			if _, err := s.UpsertAccount(ctx, a.Name, a.Kind); err != nil {
				return fmt.Errorf("creating account %s: %w", a.Name, err)
			}
		}
		return nil
	})
}

// categorizer loads the configured rules; a missing file keeps the defaults.
func (r *Runner) categorizer() (*categorize.Categorizer, error) {
	rules, err := categorize.LoadRules(r.path(r.cfg.RulesPath))
	if err != nil {
		return nil, err
	}
	return categorize.New(rules), nil
}

func (r *Runner) path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(r.root, p)
}

func logAccount(log zerolog.Logger, a *AccountReport) {
	if a.Err != nil {
		log.Error().Err(a.Err).Str("account", a.Account).Msg("account import failed")
		return
	}
	log.Info().
		Str("account", a.Account).
		Strs("formats", a.Formats).
		Int("rows", a.Records).
		Int("skipped", a.Skipped).
		Int("filtered", a.Filtered).
		Int("emitted", a.Emitted).
		Str("gap", a.Gap.StringFixed(2)).
		Str("balance", a.Balance.StringFixed(2)).
		Msg("account imported")
	for _, e := range a.RowErrors {
		log.Debug().Str("account", a.Account).Int("line", e.Line).Msg(e.Reason)
	}
}
