// Package schedule is the reference month-computation collaborator: a
// rotating shift roster plus calendar events, loaded from YAML.
//
// A roster is anchored at a start date. Day N after the anchor is assigned
// pattern[N mod len(pattern)]. Days before the anchor wrap backwards, so the
// roster is defined for every month.
package schedule

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/marmos91/calcache/pkg/calendar"
)

const (
	dateLayout   = "2006-01-02"
	yearlyLayout = "01-02"
	clockLayout  = "15:04"

	// OffShift is the pattern entry for a day without a shift.
	OffShift = "off"
)

// ErrInvalidSchedule is returned when a schedule file cannot be used.
var ErrInvalidSchedule = errors.New("invalid schedule")

// File is the on-disk YAML representation of a schedule.
type File struct {
	// Anchor is the first day of the rotation, formatted 2006-01-02.
	Anchor string `yaml:"anchor"`

	// Pattern is the rotation, one shift name per day. "off" needs no
	// entry in Shifts.
	Pattern []string `yaml:"pattern"`

	Shifts map[string]Shift `yaml:"shifts,omitempty"`
	Events []EventEntry     `yaml:"events,omitempty"`
}

// Shift describes one named shift of the rotation.
type Shift struct {
	Label string `yaml:"label" json:"label"`
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end" json:"end"`
}

// EventEntry is a one-off or yearly calendar event.
type EventEntry struct {
	// Date is 2006-01-02 for one-off events, or 01-02 when Yearly is set.
	Date   string `yaml:"date"`
	Title  string `yaml:"title"`
	Yearly bool   `yaml:"yearly,omitempty"`
}

// Day is the per-day payload computed for a month.
type Day struct {
	Date   string   `json:"date"`
	Shift  string   `json:"shift"`
	Label  string   `json:"label,omitempty"`
	Start  string   `json:"start,omitempty"`
	End    string   `json:"end,omitempty"`
	Events []string `json:"events,omitempty"`
}

// Schedule is a parsed, immutable roster.
type Schedule struct {
	anchor  time.Time
	pattern []string
	shifts  map[string]Shift
	oneOff  map[string][]string
	yearly  map[string][]string
}

// Default returns the built-in roster: a four-on four-off rotation of
// early and late shifts anchored at 2025-01-06.
func Default() *Schedule {
	s, err := FromFile(File{
		Anchor:  "2025-01-06",
		Pattern: []string{"early", "early", "late", "late", OffShift, OffShift, OffShift, OffShift},
		Shifts: map[string]Shift{
			"early": {Label: "Early", Start: "06:00", End: "14:00"},
			"late":  {Label: "Late", Start: "14:00", End: "22:00"},
		},
		Events: []EventEntry{
			{Date: "01-01", Title: "New Year's Day", Yearly: true},
			{Date: "12-25", Title: "Christmas Day", Yearly: true},
		},
	})
	if err != nil {
		panic(fmt.Sprintf("schedule: built-in roster is invalid: %v", err))
	}
	return s
}

// Load reads and parses a schedule file.
func Load(path string) (*Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schedule file: %w", err)
	}
	return Parse(data)
}

// Parse parses a YAML schedule document.
func Parse(data []byte) (*Schedule, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	return FromFile(f)
}

// FromFile validates f and builds a Schedule from it.
func FromFile(f File) (*Schedule, error) {
	anchor, err := time.Parse(dateLayout, f.Anchor)
	if err != nil {
		return nil, fmt.Errorf("%w: anchor %q: expected YYYY-MM-DD", ErrInvalidSchedule, f.Anchor)
	}
	if len(f.Pattern) == 0 {
		return nil, fmt.Errorf("%w: pattern is empty", ErrInvalidSchedule)
	}

	s := &Schedule{
		anchor:  anchor,
		pattern: make([]string, len(f.Pattern)),
		shifts:  make(map[string]Shift, len(f.Shifts)),
		oneOff:  make(map[string][]string),
		yearly:  make(map[string][]string),
	}

	for name, shift := range f.Shifts {
		if err := validateClock(shift.Start); err != nil {
			return nil, fmt.Errorf("%w: shift %q start: %v", ErrInvalidSchedule, name, err)
		}
		if err := validateClock(shift.End); err != nil {
			return nil, fmt.Errorf("%w: shift %q end: %v", ErrInvalidSchedule, name, err)
		}
		s.shifts[strings.ToLower(name)] = shift
	}

	for i, name := range f.Pattern {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != OffShift {
			if _, ok := s.shifts[name]; !ok {
				return nil, fmt.Errorf("%w: pattern[%d] references unknown shift %q", ErrInvalidSchedule, i, name)
			}
		}
		s.pattern[i] = name
	}

	for _, ev := range f.Events {
		if ev.Title == "" {
			return nil, fmt.Errorf("%w: event on %q has no title", ErrInvalidSchedule, ev.Date)
		}
		if ev.Yearly {
			if _, err := time.Parse(yearlyLayout, ev.Date); err != nil {
				return nil, fmt.Errorf("%w: yearly event %q: expected MM-DD", ErrInvalidSchedule, ev.Date)
			}
			s.yearly[ev.Date] = append(s.yearly[ev.Date], ev.Title)
			continue
		}
		if _, err := time.Parse(dateLayout, ev.Date); err != nil {
			return nil, fmt.Errorf("%w: event %q: expected YYYY-MM-DD", ErrInvalidSchedule, ev.Date)
		}
		s.oneOff[ev.Date] = append(s.oneOff[ev.Date], ev.Title)
	}

	return s, nil
}

func validateClock(v string) error {
	if v == "" {
		return nil
	}
	if _, err := time.Parse(clockLayout, v); err != nil {
		return fmt.Errorf("expected HH:MM, got %q", v)
	}
	return nil
}

// ShiftOn returns the rotation entry for date.
func (s *Schedule) ShiftOn(date time.Time) string {
	date = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	days := (date.Unix() - s.anchor.Unix()) / 86400
	n := int64(len(s.pattern))
	return s.pattern[((days%n)+n)%n]
}

// DayOn computes the payload for a single date.
func (s *Schedule) DayOn(date time.Time) Day {
	name := s.ShiftOn(date)
	d := Day{
		Date:  date.Format(dateLayout),
		Shift: name,
	}
	if shift, ok := s.shifts[name]; ok {
		d.Label = shift.Label
		d.Start = shift.Start
		d.End = shift.End
	}

	events := append([]string(nil), s.yearly[date.Format(yearlyLayout)]...)
	events = append(events, s.oneOff[d.Date]...)
	if len(events) > 0 {
		sort.Strings(events)
		d.Events = events
	}
	return d
}

// Month computes every day of key without delay.
func (s *Schedule) Month(key calendar.MonthKey) []Day {
	first := key.FirstDay()
	days := make([]Day, key.DaysIn())
	for i := range days {
		days[i] = s.DayOn(first.AddDate(0, 0, i))
	}
	return days
}

// PatternLength returns the number of days in one rotation.
func (s *Schedule) PatternLength() int {
	return len(s.pattern)
}
