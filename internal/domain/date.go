// Package domain provides the core types of the backtester: calendar dates,
// daily bars, lots, transactions, parameter sets, and the error taxonomy.
package domain

import (
	"fmt"
	"time"
)

// DateLayout is the canonical serialized form of a trading date.
const DateLayout = "2006-01-02"

// Date is a calendar day (UTC midnight). It marshals as YYYY-MM-DD in JSON
// and in the persistence layer. Embedding time.Time keeps time arithmetic
// available; comparisons between Dates should go through Equal/Before/After
// below, and map keys through Key().
type Date struct {
	time.Time
}

// NewDate builds a Date from calendar components.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates a time to its UTC calendar day.
func DateOf(t time.Time) Date {
	u := t.UTC()
	return NewDate(u.Year(), u.Month(), u.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// MustParseDate parses a YYYY-MM-DD string and panics on failure. Test use.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Key returns the canonical string form, suitable as a map key.
func (d Date) Key() string {
	return d.Format(DateLayout)
}

func (d Date) String() string {
	return d.Key()
}

// Equal reports whether two Dates are the same calendar day.
func (d Date) Equal(other Date) bool {
	return d.Time.Equal(other.Time)
}

// Before reports whether d is an earlier calendar day than other.
func (d Date) Before(other Date) bool {
	return d.Time.Before(other.Time)
}

// After reports whether d is a later calendar day than other.
func (d Date) After(other Date) bool {
	return d.Time.After(other.Time)
}

// Next returns the following calendar day.
func (d Date) Next() Date {
	return Date{d.AddDate(0, 0, 1)}
}

// MarshalJSON encodes the date as "YYYY-MM-DD".
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Key() + `"`), nil
}

// UnmarshalJSON decodes a "YYYY-MM-DD" string.
func (d *Date) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("invalid date literal %s", s)
	}
	parsed, err := ParseDate(s[1 : len(s)-1])
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
