package commands

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/reconciler/internal/buildinfo"
	"github.com/cleared-dev/reconciler/internal/config"
	"github.com/cleared-dev/reconciler/internal/gitops"
	"github.com/cleared-dev/reconciler/internal/ingest"
	"github.com/cleared-dev/reconciler/internal/ledger"
	"github.com/cleared-dev/reconciler/internal/logger"
	"github.com/cleared-dev/reconciler/internal/runlog"
)

// ConfigFile is the default config file name inside the repo directory.
const ConfigFile = "reconciler.yaml"

type globalFlags struct {
	dir        string
	configPath string
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	flags := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:     "reconciler",
		Short:   "Reconcile bank, wallet and loan statements into one ledger",
		Version: buildinfo.String(),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.dir, "dir", ".", "repository directory")
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default <dir>/"+ConfigFile+")")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newImportCommand(flags))
	rootCmd.AddCommand(newLinkCommand(flags))
	rootCmd.AddCommand(newAuditCommand(flags))
	rootCmd.AddCommand(newScheduleCommand(flags))

	return rootCmd
}

// env is everything a command needs to run against one repo.
type env struct {
	root  string
	cfg   *config.Config
	ctx   context.Context
	store ledger.TxStore
	close func() error
}

// loadEnv reads and validates the config, sets up logging and, when
// withStore is set, opens the ledger.
func loadEnv(cmd *cobra.Command, flags *globalFlags, withStore bool) (*env, error) {
	root, err := filepath.Abs(flags.dir)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	path := flags.configPath
	if path == "" {
		path = filepath.Join(root, ConfigFile)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s:\n%w", path, err)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Console)
	if err != nil {
		return nil, err
	}
	e := &env{
		root:  root,
		cfg:   cfg,
		ctx:   logger.WithContext(cmd.Context(), log),
		close: func() error { return nil },
	}
	if withStore {
		e.store, e.close, err = ingest.OpenStore(cfg.Ledger, root)
		if err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *env) runner() *ingest.Runner {
	return ingest.NewRunner(e.store, e.cfg, e.root)
}

// record appends the run to the run log and, when configured, commits the
// CSV ledger. Failures here are reported but do not fail the run.
func (e *env) record(cmd *cobra.Command, rep *ingest.Report, action string) {
	log := logger.FromContext(e.ctx)
	if err := runlog.Append(e.root, rep.LogEntries()); err != nil {
		log.Warn().Err(err).Msg("writing run log")
	}
	if !e.cfg.Git.AutoCommit || e.cfg.Ledger.Driver != config.DriverCSV || !gitops.IsRepo(e.root) {
		return
	}
	author := gitops.Author{Name: e.cfg.Git.AuthorName, Email: e.cfg.Git.AuthorEmail}
	hash, err := gitops.CommitAll(e.ctx, e.root, action+": "+rep.RunID, author)
	switch {
	case errors.Is(err, gitops.ErrNothingToCommit):
		return
	case err != nil:
		log.Warn().Err(err).Msg("committing ledger")
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Committed %s\n", hash)
	if err := runlog.Append(e.root, []runlog.Entry{{
		Timestamp:  rep.Started,
		RunID:      rep.RunID,
		Action:     runlog.ActionCommit,
		Details:    action,
		CommitHash: hash,
	}}); err != nil {
		log.Warn().Err(err).Msg("writing run log")
	}
}
