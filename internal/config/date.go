package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

const dateLayout = "2006-01-02"

// Date is a calendar date written as YYYY-MM-DD. The zero Date means unset.
type Date struct {
	time.Time
}

// NewDate returns the Date for y-m-d in UTC.
func NewDate(y int, m time.Month, d int) Date {
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// UnmarshalYAML parses YYYY-MM-DD.
func (d *Date) UnmarshalYAML(value *yaml.Node) error {
	if value.Value == "" {
		d.Time = time.Time{}
		return nil
	}
	t, err := time.Parse(dateLayout, value.Value)
	if err != nil {
		return fmt.Errorf("line %d: date %q: want YYYY-MM-DD", value.Line, value.Value)
	}
	d.Time = t
	return nil
}

// MarshalYAML writes YYYY-MM-DD.
func (d Date) MarshalYAML() (any, error) {
	if d.IsZero() {
		return "", nil
	}
	return d.Format(dateLayout), nil
}

// IsZero reports whether the date is unset. It also lets omitempty drop it.
func (d Date) IsZero() bool {
	return d.Time.IsZero()
}
