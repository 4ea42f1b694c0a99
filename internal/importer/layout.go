package importer

import (
	"fmt"
	"strings"
	"time"
)

// Column locates a field either by header name or by zero-based position.
// Name wins when the layout is headered and Name is set.
type Column struct {
	Name  string `yaml:"name,omitempty"`
	Index int    `yaml:"index,omitempty"`
}

// Layout describes where a statement keeps its fields.
type Layout struct {
	Header             bool    `yaml:"header"`
	SkipRows           int     `yaml:"skip_rows,omitempty"`
	DateLayout         string  `yaml:"date_layout"`
	DateChars          int     `yaml:"date_chars,omitempty"` // parse only the first N chars of the date cell
	Date               Column  `yaml:"date"`
	Description        *Column `yaml:"description,omitempty"`
	Debit              *Column `yaml:"debit,omitempty"`
	Credit             *Column `yaml:"credit,omitempty"`
	Amount             *Column `yaml:"amount,omitempty"` // unsigned amount of balance-only sources
	Balance            *Column `yaml:"balance,omitempty"`
	DefaultDescription string  `yaml:"default_description,omitempty"`
}

// frame is a layout bound to a concrete source: resolved column positions
// and the data records with their 1-based line numbers.
type frame struct {
	date, desc, debit, credit, amount, balance int // -1 = absent
	records                                    [][]string
	firstLine                                  int
}

func (l Layout) bind(records [][]string) (*frame, error) {
	if l.SkipRows > len(records) {
		return &frame{}, nil
	}
	records = records[l.SkipRows:]
	first := l.SkipRows + 1

	var header map[string]int
	if l.Header {
		if len(records) == 0 {
			return &frame{}, nil
		}
		header = make(map[string]int, len(records[0]))
		for i, name := range records[0] {
			header[normalizeHeader(name)] = i
		}
		records = records[1:]
		first++
	}

	f := &frame{records: records, firstLine: first}
	var err error
	if f.date, err = l.position(&l.Date, header, true); err != nil {
		return nil, err
	}
	if f.desc, err = l.position(l.Description, header, false); err != nil {
		return nil, err
	}
	if f.debit, err = l.position(l.Debit, header, false); err != nil {
		return nil, err
	}
	if f.credit, err = l.position(l.Credit, header, false); err != nil {
		return nil, err
	}
	if f.amount, err = l.position(l.Amount, header, false); err != nil {
		return nil, err
	}
	if f.balance, err = l.position(l.Balance, header, false); err != nil {
		return nil, err
	}
	return f, nil
}

func (l Layout) position(c *Column, header map[string]int, required bool) (int, error) {
	if c == nil {
		if required {
			return -1, fmt.Errorf("layout has no date column")
		}
		return -1, nil
	}
	if !l.Header || c.Name == "" {
		if c.Index < 0 {
			return -1, fmt.Errorf("negative column index %d", c.Index)
		}
		return c.Index, nil
	}
	i, ok := header[normalizeHeader(c.Name)]
	if !ok {
		return -1, fmt.Errorf("missing column %q", c.Name)
	}
	return i, nil
}

// hasHeader reports whether records carry every named column of the layout.
func (l Layout) hasHeader(records [][]string) bool {
	if !l.Header || len(records) <= l.SkipRows {
		return false
	}
	header := make(map[string]bool)
	for _, name := range records[l.SkipRows] {
		header[normalizeHeader(name)] = true
	}
	for _, c := range []*Column{&l.Date, l.Description, l.Debit, l.Credit, l.Amount, l.Balance} {
		if c != nil && c.Name != "" && !header[normalizeHeader(c.Name)] {
			return false
		}
	}
	return true
}

// parseDate reads the date cell and, when the cell carries a clock after the
// date portion, the full timestamp.
func (l Layout) parseDate(cell string) (date, ts time.Time, err error) {
	cell = strings.TrimSpace(cell)
	datePart, rest := cell, ""
	if l.DateChars > 0 && len(cell) > l.DateChars {
		datePart, rest = cell[:l.DateChars], cell[l.DateChars:]
	}
	date, err = time.Parse(l.DateLayout, datePart)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("bad date %q", cell)
	}
	ts = date
	rest = strings.TrimLeft(strings.TrimSpace(rest), "T")
	for _, layout := range []string{"15:04:05", "15:04"} {
		if clock, err := time.Parse(layout, rest); err == nil {
			ts = date.Add(time.Duration(clock.Hour())*time.Hour +
				time.Duration(clock.Minute())*time.Minute +
				time.Duration(clock.Second())*time.Second)
			break
		}
	}
	return date, ts, nil
}

func cell(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func normalizeHeader(s string) string {
	return strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(s, "\ufeff")))
}
