package schedule

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// ErrTooFewTokens is returned when a line does not carry enough numbers.
var ErrTooFewTokens = errors.New("too few numeric tokens")

// Fields are the numbers a classifier recognised on one schedule line.
type Fields struct {
	InstallmentNo int // 0 when the source does not number its rows
	Repayment     decimal.Decimal
	Principal     decimal.Decimal
	Interest      decimal.Decimal
	Balance       decimal.Decimal
}

// Classifier maps the numeric tokens of a line to schedule fields.
type Classifier interface {
	Classify(tokens []decimal.Decimal) (Fields, error)
}

// PositionalClassifier reads tokens in a fixed order: repayment, principal,
// interest, balance. Numbered sources carry the installment number first.
type PositionalClassifier struct {
	Numbered bool
}

// Classify implements Classifier.
func (c PositionalClassifier) Classify(tokens []decimal.Decimal) (Fields, error) {
	need := 4
	if c.Numbered {
		need++
	}
	if len(tokens) < need {
		return Fields{}, fmt.Errorf("%w: have %d, need %d", ErrTooFewTokens, len(tokens), need)
	}

	var f Fields
	if c.Numbered {
		no := tokens[0]
		if !no.IsInteger() || !no.IsPositive() {
			return Fields{}, &AmbiguityError{Reason: fmt.Sprintf("installment number %s is not a positive integer", no)}
		}
		f.InstallmentNo = int(no.IntPart())
		tokens = tokens[1:]
	}
	f.Repayment, f.Principal, f.Interest, f.Balance = tokens[0], tokens[1], tokens[2], tokens[3]
	return f, nil
}

// RangeClassifier recognises the repayment by magnitude: the one token
// strictly inside (RepaymentMin, RepaymentMax). Balance is the largest other
// token above BalanceFloor. Principal and interest stay zero.
//
// The bounds are calibrated per lender and per loan.
type RangeClassifier struct {
	RepaymentMin decimal.Decimal
	RepaymentMax decimal.Decimal
	BalanceFloor decimal.Decimal
}

// Classify implements Classifier.
func (c RangeClassifier) Classify(tokens []decimal.Decimal) (Fields, error) {
	if len(tokens) < 2 {
		return Fields{}, fmt.Errorf("%w: have %d, need 2", ErrTooFewTokens, len(tokens))
	}

	var candidates []decimal.Decimal
	for _, t := range tokens {
		if t.GreaterThan(c.RepaymentMin) && t.LessThan(c.RepaymentMax) && !containsDecimal(candidates, t) {
			candidates = append(candidates, t)
		}
	}
	switch len(candidates) {
	case 0:
		return Fields{}, fmt.Errorf("no repayment between %s and %s", c.RepaymentMin, c.RepaymentMax)
	case 1:
	default:
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].LessThan(candidates[j]) })
		return Fields{}, &AmbiguityError{Reason: fmt.Sprintf("%d repayment candidates %v", len(candidates), candidates)}
	}

	f := Fields{Repayment: candidates[0]}
	for _, t := range tokens {
		if t.Equal(f.Repayment) || !t.GreaterThan(c.BalanceFloor) {
			continue
		}
		if t.GreaterThan(f.Balance) {
			f.Balance = t
		}
	}
	return f, nil
}

func containsDecimal(ds []decimal.Decimal, d decimal.Decimal) bool {
	for _, x := range ds {
		if x.Equal(d) {
			return true
		}
	}
	return false
}
