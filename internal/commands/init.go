package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/reconciler/internal/categorize"
	"github.com/cleared-dev/reconciler/internal/config"
	"github.com/cleared-dev/reconciler/internal/gitops"
)

func newInitCommand() *cobra.Command {
	var example, noGit bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new ledger repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			absDir, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}

			cfg := config.Default()
			if example {
				cfg = config.Example()
			}
			hash, err := runInit(cmd.Context(), absDir, cfg, !noGit)
			if err != nil {
				return err
			}
			if hash == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Initialized ledger at %s\n", absDir)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Initialized ledger at %s (%s)\n", absDir, hash)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&example, "example", false, "write a config with example accounts, sources and loans")
	cmd.Flags().BoolVar(&noGit, "no-git", false, "skip git init and the initial commit")

	return cmd
}

func runInit(ctx context.Context, dir string, cfg *config.Config, git bool) (string, error) {
	if _, err := os.Stat(filepath.Join(dir, ConfigFile)); err == nil {
		return "", fmt.Errorf("%s already exists in %s", ConfigFile, dir)
	}

	dirs := []string{
		"import",
		filepath.Join("import", "processed"),
		filepath.Dir(cfg.RulesPath),
		"logs",
		cfg.Ledger.Dir,
	}
	for _, d := range dirs {
		if d == "" || filepath.IsAbs(d) {
			continue
		}
		if err := os.MkdirAll(filepath.Join(dir, d), 0o755); err != nil {
			return "", fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	if err := config.Save(filepath.Join(dir, ConfigFile), cfg); err != nil {
		return "", err
	}

	if err := categorize.SaveRules(filepath.Join(dir, cfg.RulesPath), categorize.DefaultRules()); err != nil {
		return "", err
	}

	gitignore := "exports/\n*.tmp\n"
	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(gitignore), 0o644); err != nil {
		return "", fmt.Errorf("writing .gitignore: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "import", ".gitkeep"), []byte{}, 0o644); err != nil {
		return "", fmt.Errorf("writing .gitkeep: %w", err)
	}

	if !git {
		return "", nil
	}
	if err := gitops.Init(ctx, dir); err != nil {
		return "", fmt.Errorf("git init: %w", err)
	}
	author := gitops.Author{Name: cfg.Git.AuthorName, Email: cfg.Git.AuthorEmail}
	hash, err := gitops.CommitAll(ctx, dir, "init: reconciler ledger", author)
	if err != nil {
		return "", fmt.Errorf("initial commit: %w", err)
	}
	return hash, nil
}
