package schedule

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/calcache/pkg/calendar"
)

const rosterYAML = `
anchor: 2025-03-01
pattern: [day, day, night, off]
shifts:
  day:
    label: Day
    start: "08:00"
    end: "16:00"
  night:
    label: Night
    start: "22:00"
    end: "06:00"
events:
  - date: 2025-03-14
    title: Offsite
  - date: 03-17
    title: Anniversary
    yearly: true
`

func date(s string) time.Time {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func writeSchedule(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "schedule.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestParse(t *testing.T) {
	s, err := Parse([]byte(rosterYAML))
	require.NoError(t, err)
	assert.Equal(t, 4, s.PatternLength())

	tests := []struct {
		date  string
		shift string
	}{
		{"2025-03-01", "day"},
		{"2025-03-02", "day"},
		{"2025-03-03", "night"},
		{"2025-03-04", "off"},
		{"2025-03-05", "day"},
		{"2025-02-28", "off"},
		{"2025-02-26", "day"},
		{"2024-03-01", "off"},
		{"2024-03-02", "day"},
	}
	for _, tt := range tests {
		t.Run(tt.date, func(t *testing.T) {
			assert.Equal(t, tt.shift, s.ShiftOn(date(tt.date)))
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad anchor", "anchor: 03/01/2025\npattern: [off]"},
		{"empty pattern", "anchor: 2025-03-01\npattern: []"},
		{"unknown shift", "anchor: 2025-03-01\npattern: [day]"},
		{"bad clock", "anchor: 2025-03-01\npattern: [day]\nshifts:\n  day: {start: \"8am\"}"},
		{"bad event date", "anchor: 2025-03-01\npattern: [off]\nevents:\n  - {date: 14-03-2025, title: x}"},
		{"bad yearly date", "anchor: 2025-03-01\npattern: [off]\nevents:\n  - {date: 2025-03-14, title: x, yearly: true}"},
		{"untitled event", "anchor: 2025-03-01\npattern: [off]\nevents:\n  - {date: 2025-03-14}"},
		{"not yaml", "anchor: [unterminated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidSchedule)
		})
	}
}

func TestDayOn_Events(t *testing.T) {
	s, err := Parse([]byte(rosterYAML))
	require.NoError(t, err)

	offsite := s.DayOn(date("2025-03-14"))
	assert.Equal(t, []string{"Offsite"}, offsite.Events)

	anniversary := s.DayOn(date("2031-03-17"))
	assert.Equal(t, []string{"Anniversary"}, anniversary.Events)

	night := s.DayOn(date("2025-03-03"))
	assert.Equal(t, Day{Date: "2025-03-03", Shift: "night", Label: "Night", Start: "22:00", End: "06:00"}, night)
}

func TestMonth_DayCount(t *testing.T) {
	s := Default()
	for _, key := range []calendar.MonthKey{
		calendar.NewMonthKey(2024, time.February),
		calendar.NewMonthKey(2025, time.February),
		calendar.NewMonthKey(2025, time.April),
		calendar.NewMonthKey(2025, time.December),
	} {
		assert.Len(t, s.Month(key), key.DaysIn(), key.String())
	}
}

func TestDefault_HasHolidays(t *testing.T) {
	day := Default().DayOn(date("2026-12-25"))
	assert.Contains(t, day.Events, "Christmas Day")
}

func TestSource_Compute(t *testing.T) {
	src := NewStaticSource(Default(), 0)
	key := calendar.NewMonthKey(2025, time.March)

	days, err := src.Compute(context.Background(), key)
	require.NoError(t, err)
	require.Len(t, days, 31)

	first, ok := days[0].(Day)
	require.True(t, ok)
	assert.Equal(t, "2025-03-01", first.Date)
}

func TestSource_ComputeHonorsCancellation(t *testing.T) {
	src := NewStaticSource(Default(), time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := src.Compute(ctx, calendar.NewMonthKey(2025, time.March))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestSource_ComputeRejectsInvalidMonth(t *testing.T) {
	src := NewStaticSource(Default(), 0)
	_, err := src.Compute(context.Background(), calendar.MonthKey{Year: 2025, Month: 13})
	assert.Error(t, err)
}

func TestNewSource(t *testing.T) {
	t.Run("built-in", func(t *testing.T) {
		src, err := NewSource(Config{})
		require.NoError(t, err)
		assert.Equal(t, 8, src.Schedule().PatternLength())
		assert.NoError(t, src.Reload())
	})

	t.Run("from file", func(t *testing.T) {
		path := writeSchedule(t, t.TempDir(), rosterYAML)
		src, err := NewSource(Config{Path: path})
		require.NoError(t, err)
		assert.Equal(t, 4, src.Schedule().PatternLength())
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := NewSource(Config{Path: filepath.Join(t.TempDir(), "missing.yaml")})
		assert.Error(t, err)
	})
}

func TestSource_Reload(t *testing.T) {
	dir := t.TempDir()
	path := writeSchedule(t, dir, rosterYAML)
	src, err := NewSource(Config{Path: path})
	require.NoError(t, err)

	writeSchedule(t, dir, "anchor: 2025-03-01\npattern: [off, off]")
	require.NoError(t, src.Reload())
	assert.Equal(t, 2, src.Schedule().PatternLength())
	assert.Equal(t, uint64(1), src.Reloads())

	writeSchedule(t, dir, "anchor: nope")
	assert.Error(t, src.Reload())
	assert.Equal(t, 2, src.Schedule().PatternLength(), "failed reload keeps the previous schedule")
}

func TestSource_Watch(t *testing.T) {
	dir := t.TempDir()
	path := writeSchedule(t, dir, rosterYAML)
	src, err := NewSource(Config{Path: path, Debounce: 10 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var changes atomic.Int32
	done := make(chan error, 1)
	go func() { done <- src.Watch(ctx, func() { changes.Add(1) }) }()

	// The watcher registers asynchronously; keep rewriting until it notices.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("anchor: 2025-03-01\npattern: [off, off, off]"), 0644)
		return changes.Load() > 0
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, 3, src.Schedule().PatternLength())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestSource_WatchWithoutPath(t *testing.T) {
	src := NewStaticSource(Default(), 0)
	assert.ErrorIs(t, src.Watch(context.Background(), nil), ErrNoPath)
}
