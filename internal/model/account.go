package model

import "github.com/shopspring/decimal"

// AccountKind classifies ledger accounts.
type AccountKind string

const (
	AccountKindBank   AccountKind = "BANK"
	AccountKindWallet AccountKind = "WALLET"
	AccountKindLoan   AccountKind = "LOAN"
)

// Valid reports whether k is one of the known kinds.
func (k AccountKind) Valid() bool {
	switch k {
	case AccountKindBank, AccountKindWallet, AccountKindLoan:
		return true
	}
	return false
}

// Account is a bank account, mobile wallet, or loan.
// Balance is signed; liabilities are negative.
type Account struct {
	ID      int64
	Name    string
	Kind    AccountKind
	Balance decimal.Decimal
}
