package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/reconciler/internal/config"
	"github.com/cleared-dev/reconciler/internal/importer"
	"github.com/cleared-dev/reconciler/internal/ledger"
	"github.com/cleared-dev/reconciler/internal/logger"
	"github.com/cleared-dev/reconciler/internal/model"
	"github.com/cleared-dev/reconciler/internal/reconcile"
	"github.com/cleared-dev/reconciler/internal/schedule"
)

// accountPlan is every source feeding one account, in config order.
type accountPlan struct {
	name    string
	kind    model.AccountKind
	sources []config.Source
}

type preparedAccount struct {
	report AccountReport
	ledger *reconcile.Ledger
	paths  []string
}

func planAccounts(sources []config.Source) []accountPlan {
	var plans []accountPlan
	index := make(map[string]int)
	for _, src := range sources {
		i, ok := index[src.Account]
		if !ok {
			i = len(plans)
			index[src.Account] = i
			plans = append(plans, accountPlan{name: src.Account, kind: src.Kind})
		}
		plans[i].sources = append(plans[i].sources, src)
	}
	return plans
}

// prepare reads every source of an account and reconciles the combined
// rows. It touches no shared state.
func (r *Runner) prepare(ctx context.Context, p accountPlan, rec *reconcile.Reconciler) *preparedAccount {
	out := &preparedAccount{report: AccountReport{Account: p.name, Kind: p.kind}}
	rep := &out.report

	var (
		rows    []model.RawRow
		kind    importer.SourceKind
		closing decimal.NullDecimal
	)
	for _, src := range p.sources {
		path, res, adapter, err := r.readSource(ctx, src)
		if err != nil {
			rep.Err = err
			return out
		}
		if kind != "" && adapter.Kind() != kind {
			rep.Err = &SourceError{Account: src.Account, Path: src.Path,
				Err: fmt.Errorf("layout %s is %s but the account is %s", adapter.Format(), adapter.Kind(), kind)}
			return out
		}
		kind = adapter.Kind()
		out.paths = append(out.paths, path)
		rep.Formats = append(rep.Formats, adapter.Format())
		rep.Records += res.Records
		rep.Skipped += res.Skipped
		rep.Filtered += res.Filtered
		rep.RowErrors = append(rep.RowErrors, res.RowErrors...)
		rows = append(rows, res.Rows...)
		if src.ClosingBalance != nil {
			closing = decimal.NewNullDecimal(*src.ClosingBalance)
		}
	}

	in := reconcile.Input{Rows: rows, ClosingBalance: closing}
	var (
		l   *reconcile.Ledger
		err error
	)
	if kind == importer.KindBalanceOnly {
		l, err = rec.Reconstruct(in)
	} else {
		l, err = rec.Reconcile(in)
	}
	if err != nil {
		rep.Err = fmt.Errorf("reconciling %s: %w", p.name, err)
		return out
	}
	out.ledger = l
	rep.Emitted = l.Stats.Emitted
	rep.Dropped = l.Stats.Dropped
	rep.Adjustments = l.Stats.Adjustments
	rep.Gap = l.Stats.Gap
	rep.Balance = l.Balance
	return out
}

func (r *Runner) readSource(ctx context.Context, src config.Source) (string, *importer.Result, importer.Adapter, error) {
	fail := func(err error) (string, *importer.Result, importer.Adapter, error) {
		return "", nil, nil, &SourceError{Account: src.Account, Path: src.Path, Err: err}
	}
	path, err := importer.Resolve(r.root, src.Path)
	if err != nil {
		return fail(err)
	}
	records, err := readRecords(ctx, path, src.Sheet)
	if err != nil {
		return fail(err)
	}
	adapter, err := r.adapter(src, records)
	if err != nil {
		return fail(err)
	}
	res, err := adapter.Adapt(records, importer.Options{Cutoff: r.cfg.History.Cutoff.Time})
	if err != nil {
		return fail(err)
	}
	return path, res, adapter, nil
}

// readRecords reads a statement file. PDF statements go through pdftotext
// and are read one line per record.
func readRecords(ctx context.Context, path, sheet string) ([][]string, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		pages, err := schedule.ExtractPDF(ctx, path)
		if err != nil {
			return nil, err
		}
		return importer.ReadText(strings.NewReader(strings.Join(pages, "\f")))
	}
	return importer.ReadFile(path, sheet)
}

func (r *Runner) adapter(src config.Source, records [][]string) (importer.Adapter, error) {
	switch {
	case src.Layout != nil:
		return importer.NewAdapter(src.Account, src.Layout.Kind, src.Layout.Layout)
	case src.Format == "" || strings.EqualFold(src.Format, config.FormatAuto):
		return r.registry.Detect(records)
	}
	a := r.registry.Get(src.Format)
	if a == nil {
		return nil, fmt.Errorf("%w: %s", importer.ErrUnknownFormat, src.Format)
	}
	return a, nil
}

// writeAccount replaces an account's transactions with its reconciled
// ledger and sets the balance, atomically.
func (r *Runner) writeAccount(ctx context.Context, p *preparedAccount) error {
	return r.store.WithinTx(ctx, func(s ledger.Store) error {
		id, err := s.UpsertAccount(ctx, p.report.Account, p.report.Kind)
		if err != nil {
			return err
		}
		if _, err := s.DeleteTransactions(ctx, id); err != nil {
			return err
		}
		for _, t := range p.ledger.Transactions {
			t.AccountID = id
			if _, err := s.AppendTransaction(ctx, t); err != nil {
				return err
			}
		}
		return s.SetAccountBalance(ctx, id, p.ledger.Balance)
	})
}

// archive moves imported drops out of <root>/import when configured.
func (r *Runner) archive(ctx context.Context, paths []string) {
	if !r.cfg.Import.ArchiveProcessed {
		return
	}
	log := logger.FromContext(ctx)
	dropDir := filepath.Join(r.root, "import")
	for _, p := range paths {
		if filepath.Dir(p) != dropDir {
			continue
		}
		if err := importer.MarkProcessed(r.root, filepath.Base(p)); err != nil {
			log.Warn().Err(err).Str("path", p).Msg("archiving source")
		}
	}
}

// noteUnconfigured records drops under <root>/import that no source or loan
// refers to. They are reported, never imported.
func (r *Runner) noteUnconfigured(ctx context.Context, rep *Report) {
	log := logger.FromContext(ctx)
	files, err := importer.Scan(r.root)
	if err != nil {
		log.Warn().Err(err).Msg("scanning import dir")
		return
	}
	known := make(map[string]bool)
	for _, s := range r.cfg.Sources {
		known[filepath.Base(s.Path)] = true
	}
	for _, l := range r.cfg.Loans {
		known[filepath.Base(l.Path)] = true
	}
	for _, f := range files {
		if known[f.Name] {
			continue
		}
		rep.Unconfigured = append(rep.Unconfigured, f.Name)
		log.Warn().Str("file", f.Path).Msg("statement not referenced by config")
	}
}
