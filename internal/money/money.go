// Package money normalizes locale-formatted statement numbers into decimals.
package money

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var numericToken = regexp.MustCompile(`^[+-]?\d+(\.\d+)?$`)

// Normalize converts a statement field into a decimal. Thousands separators,
// surrounding quotes and whitespace are stripped. Blank, "-", "nan", nil and
// anything unparseable become zero; Normalize never fails.
func Normalize(v any) decimal.Decimal {
	switch x := v.(type) {
	case nil:
		return decimal.Zero
	case decimal.Decimal:
		return x
	case *decimal.Decimal:
		if x == nil {
			return decimal.Zero
		}
		return *x
	case string:
		return parseString(x)
	case []byte:
		return parseString(string(x))
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return decimal.Zero
		}
		return decimal.NewFromFloat(x)
	case float32:
		return Normalize(float64(x))
	case int:
		return decimal.NewFromInt(int64(x))
	case int32:
		return decimal.NewFromInt32(x)
	case int64:
		return decimal.NewFromInt(x)
	case fmt.Stringer:
		return parseString(x.String())
	default:
		return parseString(fmt.Sprint(v))
	}
}

func parseString(s string) decimal.Decimal {
	s = clean(s)
	if s == "" || s == "-" || strings.EqualFold(s, "nan") {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// clean drops quotes, whitespace and thousands separators.
func clean(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	s = strings.ReplaceAll(s, ",", "")
	return strings.TrimSpace(s)
}

// IsBlank reports whether a field carries no number at all.
func IsBlank(s string) bool {
	s = clean(s)
	return s == "" || s == "-" || strings.EqualFold(s, "nan")
}

// IsNumeric reports whether token looks like a plain number once thousands
// separators are removed ("1,626,271.24", "12", "-5").
func IsNumeric(token string) bool {
	return numericToken.MatchString(strings.ReplaceAll(strings.TrimSpace(token), ",", ""))
}

// Within reports whether |a - b| <= eps.
func Within(a, b, eps decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(eps)
}

// Sum adds up amounts.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
