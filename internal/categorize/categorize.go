// Package categorize assigns category labels to statement transactions using
// ordered keyword rules. The first matching rule wins.
package categorize

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/cleared-dev/reconciler/internal/model"
)

// Sign restricts a rule to inflows or outflows.
type Sign string

const (
	SignAny     Sign = ""
	SignInflow  Sign = "inflow"
	SignOutflow Sign = "outflow"
)

// Rule maps description keywords to a category. A rule with no keywords
// matches on sign alone.
type Rule struct {
	Category string   `yaml:"category"`
	Keywords []string `yaml:"keywords,omitempty"`
	Sign     Sign     `yaml:"sign,omitempty"`
}

func (r Rule) matches(desc string, amount decimal.Decimal) bool {
	switch r.Sign {
	case SignInflow:
		if !amount.IsPositive() {
			return false
		}
	case SignOutflow:
		if !amount.IsNegative() {
			return false
		}
	}
	if len(r.Keywords) == 0 {
		return r.Sign != SignAny
	}
	for _, kw := range r.Keywords {
		if kw != "" && strings.Contains(desc, strings.ToUpper(kw)) {
			return true
		}
	}
	return false
}

// Categorizer evaluates rules in order. It holds no mutable state.
type Categorizer struct {
	rules    []Rule
	fallback string
}

// New creates a Categorizer. An empty rule set uses DefaultRules.
func New(rules []Rule) *Categorizer {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Categorizer{rules: rules, fallback: model.CategoryGeneral}
}

// Rules returns the rules in evaluation order.
func (c *Categorizer) Rules() []Rule {
	return c.rules
}

// Categorize returns the category of the first rule matching the description
// (case-insensitive substring) and signed amount, or "General".
func (c *Categorizer) Categorize(description string, amount decimal.Decimal) string {
	desc := strings.ToUpper(description)
	for _, r := range c.rules {
		if r.matches(desc, amount) {
			return r.Category
		}
	}
	return c.fallback
}

var defaultCategorizer = New(nil)

// Categorize classifies with the default rule set.
func Categorize(description string, amount decimal.Decimal) string {
	return defaultCategorizer.Categorize(description, amount)
}

// DefaultRules returns the built-in rule order: income, debt, keyword
// buckets. The fallback is applied by the Categorizer.
func DefaultRules() []Rule {
	return []Rule{
		{Category: model.CategoryIncome, Sign: SignInflow},
		{Category: model.CategoryIncome, Keywords: []string{"SALARY", "BURN MANUFACTURING"}},
		{Category: model.CategoryDebtRepayment, Keywords: []string{"LOLC", "LOAN", "LIQUIDATION", "INSTALLMENT", "R77"}},
		{Category: model.CategoryTransport, Keywords: []string{"UBER", "BOLT", "ORYX", "PUMA"}},
		{Category: model.CategoryUtilities, Keywords: []string{"AIRTIME", "LUKU", "BUNDLE", "INTERNET"}},
		{Category: model.CategoryFood, Keywords: []string{"FOOD", "KFC", "RESTAURANT", "PIZZA", "GROCERY"}},
		{Category: model.CategorySubscriptions, Keywords: []string{"GOOGLE", "NETFLIX", "SPOTIFY", "APPLE"}},
		{Category: model.CategoryTransfer, Keywords: []string{"TRANSFER", "TIPS"}},
		{Category: model.CategoryCashWithdrawal, Keywords: []string{"WITHDRAWAL", "ATM"}},
	}
}

// RulesFile is the YAML shape of categorization-rules.yaml.
type RulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads a rules file. A missing path or an empty rule list yields
// nil so callers fall back to the defaults.
func LoadRules(path string) ([]Rule, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading rules: %w", err)
	}
	var f RulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing rules: %w", err)
	}
	for i, r := range f.Rules {
		if r.Category == "" {
			return nil, fmt.Errorf("rule %d: category is required", i+1)
		}
		switch r.Sign {
		case SignAny, SignInflow, SignOutflow:
		default:
			return nil, fmt.Errorf("rule %d: unknown sign %q", i+1, r.Sign)
		}
	}
	return f.Rules, nil
}

// SaveRules writes rules to path in the RulesFile shape.
func SaveRules(path string, rules []Rule) error {
	if rules == nil {
		rules = []Rule{}
	}
	data, err := yaml.Marshal(RulesFile{Rules: rules})
	if err != nil {
		return fmt.Errorf("marshaling rules: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing rules: %w", err)
	}
	return nil
}
