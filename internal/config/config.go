package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/cleared-dev/reconciler/internal/importer"
	"github.com/cleared-dev/reconciler/internal/model"
)

// Ledger drivers.
const (
	DriverCSV      = "csv"
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Schedule classifier types.
const (
	ClassifierPositional = "positional"
	ClassifierRange      = "range"
)

// FormatAuto asks the importer to detect a source's layout from its header.
const FormatAuto = "auto"

// Config represents the top-level reconciler.yaml configuration.
type Config struct {
	Ledger     LedgerConfig    `yaml:"ledger"`
	History    HistoryConfig   `yaml:"history"`
	Tolerances Tolerances      `yaml:"tolerances"`
	RulesPath  string          `yaml:"rules_path"`
	Accounts   []AccountConfig `yaml:"accounts,omitempty"`
	Sources    []Source        `yaml:"sources,omitempty"`
	Loans      []Loan          `yaml:"loans,omitempty"`
	Linking    LinkingConfig   `yaml:"linking"`
	Import     ImportConfig    `yaml:"import"`
	Git        GitConfig       `yaml:"git"`
	Log        LogConfig       `yaml:"log"`
}

// LedgerConfig selects where the ledger is stored.
type LedgerConfig struct {
	Driver string `yaml:"driver"`
	Dir    string `yaml:"dir,omitempty"` // csv driver, relative to the repo root
	DSN    string `yaml:"dsn,omitempty"` // postgres driver
}

// HistoryConfig bounds the statement rows that are imported.
type HistoryConfig struct {
	Cutoff Date `yaml:"cutoff,omitempty"` // rows dated before are dropped
}

// Tolerances are the numeric slacks used when comparing amounts.
type Tolerances struct {
	Reconcile decimal.Decimal `yaml:"reconcile"`
	Delta     decimal.Decimal `yaml:"delta"`
	Link      decimal.Decimal `yaml:"link"`
	MaxGap    decimal.Decimal `yaml:"max_gap"` // 0 disables the check
}

// AccountConfig is an account created even when no statement feeds it.
type AccountConfig struct {
	Name string            `yaml:"name"`
	Kind model.AccountKind `yaml:"kind"`
}

// Source is one statement export feeding one account.
type Source struct {
	Account        string            `yaml:"account"`
	Kind           model.AccountKind `yaml:"kind"`
	Format         string            `yaml:"format"`
	Path           string            `yaml:"path"`
	Sheet          string            `yaml:"sheet,omitempty"`
	ClosingBalance *decimal.Decimal  `yaml:"closing_balance,omitempty"`
	Layout         *LayoutConfig     `yaml:"layout,omitempty"`
}

// LayoutConfig describes a statement layout not built in.
type LayoutConfig struct {
	Kind            importer.SourceKind `yaml:"kind"`
	importer.Layout `yaml:",inline"`
}

// Loan is an amortization schedule and the loan account it belongs to.
type Loan struct {
	Account    string           `yaml:"account"`
	Path       string           `yaml:"path"`
	Principal  decimal.Decimal  `yaml:"principal"`
	Strip      []string         `yaml:"strip,omitempty"`
	Classifier ClassifierConfig `yaml:"classifier"`
}

// ClassifierConfig picks how schedule numbers are mapped to fields. The
// range bounds are calibrated per loan.
type ClassifierConfig struct {
	Type         string          `yaml:"type"`
	Numbered     bool            `yaml:"numbered,omitempty"`
	RepaymentMin decimal.Decimal `yaml:"repayment_min,omitempty"`
	RepaymentMax decimal.Decimal `yaml:"repayment_max,omitempty"`
	BalanceFloor decimal.Decimal `yaml:"balance_floor,omitempty"`
}

// LinkingConfig controls payment linking and backfill.
type LinkingConfig struct {
	FundingAccount string `yaml:"funding_account,omitempty"` // default: first BANK account
	BackfillCutoff Date   `yaml:"backfill_cutoff,omitempty"`
	Category       string `yaml:"category"`
	MarkOverdue    bool   `yaml:"mark_overdue"`
}

// ImportConfig controls an import run.
type ImportConfig struct {
	Workers          int  `yaml:"workers"`
	ArchiveProcessed bool `yaml:"archive_processed"`
}

// GitConfig controls git integration.
type GitConfig struct {
	AutoCommit  bool   `yaml:"auto_commit"`
	AuthorName  string `yaml:"author_name"`
	AuthorEmail string `yaml:"author_email"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// Load reads a reconciler.yaml file from disk.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// Save writes a Config to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Default returns a Config with sensible defaults for a new ledger.
func Default() *Config {
	return &Config{
		Ledger:  LedgerConfig{Driver: DriverCSV, Dir: "ledger"},
		History: HistoryConfig{},
		Tolerances: Tolerances{
			Reconcile: decimal.NewFromInt(1),
			Delta:     decimal.RequireFromString("0.01"),
			Link:      decimal.NewFromInt(2),
			MaxGap:    decimal.Zero,
		},
		RulesPath: "rules/categorization-rules.yaml",
		Linking: LinkingConfig{
			BackfillCutoff: NewDate(2026, time.February, 1),
			Category:       model.CategoryDebtRepayment,
			MarkOverdue:    true,
		},
		Import: ImportConfig{Workers: 4},
		Git: GitConfig{
			AutoCommit:  true,
			AuthorName:  "Reconciler",
			AuthorEmail: "reconciler@localhost",
		},
		Log: LogConfig{Level: "info", Console: true},
	}
}

// Example returns Default plus the statement and schedule sources of a
// typical Tanzanian household ledger: two banks, a mobile wallet and two
// loans.
func Example() *Config {
	cfg := Default()
	cfg.Accounts = []AccountConfig{
		{Name: "M-Pesa", Kind: model.AccountKindWallet},
	}
	cfg.Sources = []Source{
		{Account: "Ecobank", Kind: model.AccountKindBank, Format: "ecobank", Path: "import/ecobank.csv"},
		{Account: "CRDB", Kind: model.AccountKindBank, Format: "crdb", Path: "import/crdb.csv"},
		{Account: "Selcom", Kind: model.AccountKindWallet, Format: "selcom", Path: "import/selcom.csv"},
	}
	cfg.Loans = []Loan{
		{
			Account:    "LOLC Auto Loan",
			Path:       "import/lolc_schedule.txt",
			Principal:  decimal.NewFromInt(21450000),
			Classifier: ClassifierConfig{Type: ClassifierPositional, Numbered: true},
		},
		{
			Account:   "Ecobank Personal Loan",
			Path:      "import/ecobank_schedule.txt",
			Principal: decimal.NewFromInt(34500000),
			Strip:     []string{"R77APLL243510005"},
			Classifier: ClassifierConfig{
				Type:         ClassifierRange,
				RepaymentMin: decimal.NewFromInt(1200000),
				RepaymentMax: decimal.NewFromInt(1300000),
				BalanceFloor: decimal.NewFromInt(5000000),
			},
		},
	}
	return cfg
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	switch c.Ledger.Driver {
	case DriverCSV:
		if c.Ledger.Dir == "" {
			add("ledger: dir is required for the csv driver")
		}
	case DriverPostgres:
		if c.Ledger.DSN == "" {
			add("ledger: dsn is required for the postgres driver")
		}
	case DriverMemory:
	default:
		add("ledger: unknown driver %q", c.Ledger.Driver)
	}

	for name, v := range map[string]decimal.Decimal{
		"reconcile": c.Tolerances.Reconcile,
		"delta":     c.Tolerances.Delta,
		"link":      c.Tolerances.Link,
		"max_gap":   c.Tolerances.MaxGap,
	} {
		if v.IsNegative() {
			add("tolerances: %s must not be negative", name)
		}
	}

	names := make(map[string]model.AccountKind)
	claim := func(where, name string, kind model.AccountKind) {
		if prev, ok := names[name]; ok && prev != kind {
			add("%s: account %q is both %s and %s", where, name, prev, kind)
		}
		names[name] = kind
	}
	for i, a := range c.Accounts {
		where := fmt.Sprintf("accounts[%d]", i)
		if a.Name == "" {
			add("%s: name is required", where)
		}
		if !a.Kind.Valid() {
			add("%s: invalid kind %q", where, a.Kind)
		}
		claim(where, a.Name, a.Kind)
	}
	for i, s := range c.Sources {
		where := fmt.Sprintf("sources[%d]", i)
		if s.Account == "" {
			add("%s: account is required", where)
		}
		if s.Kind != model.AccountKindBank && s.Kind != model.AccountKindWallet {
			add("%s: kind must be BANK or WALLET", where)
		}
		if s.Path == "" {
			add("%s: path is required", where)
		}
		if s.Format == "" && s.Layout == nil {
			add("%s: format or layout is required", where)
		}
		if s.Layout != nil {
			if _, err := importer.NewAdapter(s.Account, s.Layout.Kind, s.Layout.Layout); err != nil {
				add("%s: %v", where, err)
			}
		}
		claim(where, s.Account, s.Kind)
	}
	for i, l := range c.Loans {
		where := fmt.Sprintf("loans[%d]", i)
		if l.Account == "" {
			add("%s: account is required", where)
		}
		if l.Path == "" {
			add("%s: path is required", where)
		}
		if !l.Principal.IsPositive() {
			add("%s: principal must be positive", where)
		}
		switch l.Classifier.Type {
		case ClassifierPositional:
		case ClassifierRange:
			if !l.Classifier.RepaymentMin.LessThan(l.Classifier.RepaymentMax) {
				add("%s: repayment_min must be below repayment_max", where)
			}
		default:
			add("%s: unknown classifier %q", where, l.Classifier.Type)
		}
		claim(where, l.Account, model.AccountKindLoan)
	}
	if f := c.Linking.FundingAccount; f != "" {
		if kind, ok := names[f]; ok && kind == model.AccountKindLoan {
			add("linking: funding account %q is a loan", f)
		}
	}
	if c.Import.Workers < 0 {
		add("import: workers must not be negative")
	}
	return errors.Join(errs...)
}
