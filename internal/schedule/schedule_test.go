package schedule

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/reconciler/internal/model"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func readPages(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	pages, err := ReadPages(f)
	require.NoError(t, err)
	return pages
}

func ecobankClassifier() RangeClassifier {
	return RangeClassifier{
		RepaymentMin: dec("1200000"),
		RepaymentMax: dec("1300000"),
		BalanceFloor: dec("5000000"),
	}
}

func TestParse_NumberedPositional(t *testing.T) {
	p := &Parser{Classifier: PositionalClassifier{Numbered: true}}
	res, err := p.Parse(readPages(t, "../../testdata/lolc_schedule.txt"))
	require.NoError(t, err)

	require.Len(t, res.Entries, 4)
	assert.Equal(t, 4, res.Accepted)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Ambiguous)
	assert.Equal(t, 2, res.Ignored)

	first := res.Entries[0]
	assert.Equal(t, 1, first.InstallmentNo)
	assert.Equal(t, time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC), first.DueDate)
	assert.Equal(t, "1726371", first.RepaymentAmount.String())
	assert.Equal(t, "875521", first.PrincipalComponent.String())
	assert.Equal(t, "850850", first.InterestComponent.String())
	assert.Equal(t, "20574479", first.BalanceAfter.String())
	assert.Equal(t, model.StatusPending, first.Status)

	last := res.Entries[3]
	assert.Equal(t, 4, last.InstallmentNo)
	assert.Equal(t, time.August, last.DueDate.Month())

	var amb *AmbiguityError
	for _, issue := range res.Issues {
		if errors.As(issue, &amb) {
			break
		}
	}
	require.NotNil(t, amb)
	assert.Contains(t, amb.Reason, "installment 3 does not follow 3")
	assert.Equal(t, 7, amb.Line)

	assert.NoError(t, Validate(res.Entries))
}

func TestParse_RangeClassifier(t *testing.T) {
	p := &Parser{Strip: []string{"R77APLL243510005"}, Classifier: ecobankClassifier()}
	res, err := p.Parse(readPages(t, "../../testdata/ecobank_schedule.txt"))
	require.NoError(t, err)

	require.Len(t, res.Entries, 3)
	assert.Equal(t, 1, res.Ambiguous)

	assert.Equal(t, []int{1, 2, 3}, []int{res.Entries[0].InstallmentNo, res.Entries[1].InstallmentNo, res.Entries[2].InstallmentNo})
	feb := res.Entries[1]
	assert.Equal(t, time.Date(2025, time.February, 25, 0, 0, 0, 0, time.UTC), feb.DueDate)
	assert.Equal(t, "1217527.24", feb.RepaymentAmount.String())
	assert.Equal(t, "33269876.03", feb.BalanceAfter.String())
	assert.True(t, feb.PrincipalComponent.IsZero())
	assert.True(t, feb.InterestComponent.IsZero())
	assert.Equal(t, time.April, res.Entries[2].DueDate.Month())
}

func TestRangeClassifier(t *testing.T) {
	c := ecobankClassifier()

	f, err := c.Classify([]decimal.Decimal{dec("1217527.24"), dec("0"), dec("33887404.27"), dec("6000000")})
	require.NoError(t, err)
	assert.Equal(t, "1217527.24", f.Repayment.String())
	assert.Equal(t, "33887404.27", f.Balance.String())

	// The same value twice is one candidate.
	_, err = c.Classify([]decimal.Decimal{dec("1250000"), dec("1250000")})
	assert.NoError(t, err)

	_, err = c.Classify([]decimal.Decimal{dec("1210000"), dec("1250000"), dec("30000000")})
	var amb *AmbiguityError
	assert.True(t, errors.As(err, &amb))

	_, err = c.Classify([]decimal.Decimal{dec("10"), dec("20")})
	assert.Error(t, err)
	assert.False(t, errors.As(err, &amb))

	_, err = c.Classify([]decimal.Decimal{dec("1250000")})
	assert.ErrorIs(t, err, ErrTooFewTokens)
}

func TestPositionalClassifier(t *testing.T) {
	tokens := []decimal.Decimal{dec("100"), dec("60"), dec("40"), dec("900")}
	f, err := PositionalClassifier{}.Classify(tokens)
	require.NoError(t, err)
	assert.Zero(t, f.InstallmentNo)
	assert.Equal(t, "900", f.Balance.String())

	_, err = PositionalClassifier{Numbered: true}.Classify(tokens)
	assert.ErrorIs(t, err, ErrTooFewTokens)

	_, err = PositionalClassifier{Numbered: true}.Classify(append([]decimal.Decimal{dec("1.5")}, tokens...))
	var amb *AmbiguityError
	assert.True(t, errors.As(err, &amb))
}

func TestParse_DueDateGoesBackwards(t *testing.T) {
	p := &Parser{Classifier: PositionalClassifier{}}
	res, err := p.Parse([]string{strings.Join([]string{
		"01-Mar-2025 100 60 40 900",
		"01-Feb-2025 100 60 40 800",
		"01-Apr-2025 100 60 40 800",
	}, "\n")})
	require.NoError(t, err)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, 1, res.Ambiguous)
	assert.Equal(t, 2, res.Entries[1].InstallmentNo)
}

func TestParse_NumberedKeepsSourceNumbers(t *testing.T) {
	p := &Parser{Classifier: PositionalClassifier{Numbered: true}}
	res, err := p.Parse([]string{strings.Join([]string{
		"1  01-May-2025  1,726,371.00  875,521.00  850,850.00  20,574,479.00",
		"2  01-Jun-2025  1,726,371.00  910,542.00  815,829.00  19,663,937.00",
		"3  01-Jul-2025  1,726,371.00  946,963.00",
		"4  01-Aug-2025  1,726,371.00  984,842.00  741,529.00  17,732,132.00",
		"5  01-Sep-2025  1,726,371.00  1,024,236.00  702,135.00  16,707,896.00",
		"6  01-Oct-2025  1,726,371.00  1,065,213.00  661,158.00  15,642,683.00",
	}, "\n")})
	require.NoError(t, err)

	assert.Equal(t, 5, res.Accepted)
	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, res.Ambiguous)
	var got []int
	for _, e := range res.Entries {
		got = append(got, e.InstallmentNo)
	}
	assert.Equal(t, []int{1, 2, 4, 5, 6}, got)
	assert.NoError(t, Validate(res.Entries))

	var gaps []error
	for _, issue := range res.Issues {
		if errors.Is(issue, ErrMissingInstallments) {
			gaps = append(gaps, issue)
		}
	}
	require.Len(t, gaps, 1)
	assert.Contains(t, gaps[0].Error(), "line 4")
	assert.Contains(t, gaps[0].Error(), "3 to 3")
}

func TestParse_NumberedRejectsRepeats(t *testing.T) {
	p := &Parser{Classifier: PositionalClassifier{Numbered: true}}
	res, err := p.Parse([]string{strings.Join([]string{
		"1  01-May-2025  100 60 40 900",
		"2  01-Jun-2025  100 60 40 800",
		"1  01-May-2025  100 60 40 900",
		"3  01-Jul-2025  100 60 40 700",
	}, "\n")})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Accepted)
	assert.Equal(t, 1, res.Ambiguous)
	assert.Equal(t, 3, res.Entries[2].InstallmentNo)
}

func TestParse_NoClassifier(t *testing.T) {
	_, err := (&Parser{}).Parse([]string{"x"})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	d := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []model.ScheduleEntry{
		{InstallmentNo: 1, DueDate: d, RepaymentAmount: dec("1")},
		{InstallmentNo: 3, DueDate: d.AddDate(0, -1, 0), RepaymentAmount: dec("0")},
	}
	err := Validate(entries)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "expected above")
	assert.Contains(t, err.Error(), "goes backwards")
	assert.Contains(t, err.Error(), "must be positive")
}

func TestReadPages(t *testing.T) {
	pages, err := ReadPages(strings.NewReader("a\nb\fc"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a\nb", "c"}, pages)
}

func TestExtractPDF_MissingFile(t *testing.T) {
	_, err := ExtractPDF(context.Background(), "/nonexistent/schedule.pdf")
	assert.Error(t, err)
}
