// Package calendar defines the data model shared by the month cache, the
// compute dispatcher and the prefetch planner.
//
// A MonthKey is the sole cache identity. A MonthBlock is the cached unit for
// one month: the computed day list plus the metadata the cache uses for
// eviction (recency and distance from the viewport center).
package calendar

import (
	"fmt"
	"time"
)

// MonthKey identifies a calendar month.
//
// MonthKey is a comparable value type and is used directly as a map key.
// Two keys are equal iff year and month match.
type MonthKey struct {
	Year  int
	Month time.Month
}

// NewMonthKey returns the key for the given year and month.
// Months outside 1..12 are normalized (e.g. month 13 of 2024 is January 2025).
func NewMonthKey(year int, month time.Month) MonthKey {
	return MonthKeyFromIndex(year*12 + int(month) - 1)
}

// MonthKeyOf returns the key of the month containing t.
func MonthKeyOf(t time.Time) MonthKey {
	return MonthKey{Year: t.Year(), Month: t.Month()}
}

// MonthKeyFromIndex is the inverse of Index.
func MonthKeyFromIndex(idx int) MonthKey {
	year := idx / 12
	month := idx % 12
	if month < 0 {
		month += 12
		year--
	}
	return MonthKey{Year: year, Month: time.Month(month + 1)}
}

// ParseMonthKey parses the "YYYY-MM" form produced by String.
func ParseMonthKey(s string) (MonthKey, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return MonthKey{}, fmt.Errorf("invalid month %q (want YYYY-MM): %w", s, err)
	}
	return MonthKeyOf(t), nil
}

// Index returns the absolute month index (year*12 + month-1).
// Index order is calendar order.
func (k MonthKey) Index() int {
	return k.Year*12 + int(k.Month) - 1
}

// Add returns the key n months after k (n may be negative).
func (k MonthKey) Add(n int) MonthKey {
	return MonthKeyFromIndex(k.Index() + n)
}

// Distance returns the absolute number of months between k and other.
func (k MonthKey) Distance(other MonthKey) int {
	d := k.Index() - other.Index()
	if d < 0 {
		return -d
	}
	return d
}

// Compare returns -1, 0 or +1 depending on whether k is before, equal to or
// after other.
func (k MonthKey) Compare(other MonthKey) int {
	a, b := k.Index(), other.Index()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Before reports whether k comes before other in calendar order.
func (k MonthKey) Before(other MonthKey) bool {
	return k.Index() < other.Index()
}

// Valid reports whether the month component is within 1..12.
func (k MonthKey) Valid() bool {
	return k.Month >= time.January && k.Month <= time.December
}

// FirstDay returns midnight UTC of the first day of the month.
func (k MonthKey) FirstDay() time.Time {
	return time.Date(k.Year, k.Month, 1, 0, 0, 0, 0, time.UTC)
}

// DaysIn returns the number of calendar days in the month.
func (k MonthKey) DaysIn() int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(k.Year, k.Month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// String returns the key in "YYYY-MM" form.
func (k MonthKey) String() string {
	return fmt.Sprintf("%04d-%02d", k.Year, int(k.Month))
}

// MarshalText implements encoding.TextMarshaler.
func (k MonthKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *MonthKey) UnmarshalText(text []byte) error {
	parsed, err := ParseMonthKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
