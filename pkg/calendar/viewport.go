package calendar

import (
	"fmt"
	"strings"
)

// Direction is the scroll direction reported by the UI.
type Direction int

const (
	// DirectionNone means the viewport is idle.
	DirectionNone Direction = iota
	// DirectionForward means scrolling towards later months.
	DirectionForward
	// DirectionBackward means scrolling towards earlier months.
	DirectionBackward
)

// String returns the string representation of Direction.
func (d Direction) String() string {
	switch d {
	case DirectionNone:
		return "none"
	case DirectionForward:
		return "forward"
	case DirectionBackward:
		return "backward"
	default:
		return "unknown"
	}
}

// ParseDirection parses "none", "forward" or "backward" (case-insensitive).
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "idle":
		return DirectionNone, nil
	case "forward", "next":
		return DirectionForward, nil
	case "backward", "back", "previous":
		return DirectionBackward, nil
	default:
		return DirectionNone, fmt.Errorf("unknown scroll direction %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(text []byte) error {
	parsed, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Step returns +1 for forward, -1 for backward and 0 for none.
func (d Direction) Step() int {
	switch d {
	case DirectionForward:
		return 1
	case DirectionBackward:
		return -1
	default:
		return 0
	}
}

// ViewportState is the scroll position reported by the UI.
// It is replaced wholesale on every viewport change.
type ViewportState struct {
	// Center is the month currently centered in the UI.
	Center MonthKey `json:"center"`

	// Direction is the current scroll direction.
	Direction Direction `json:"direction"`

	// Velocity is the scroll speed in arbitrary units (larger is faster).
	// Negative values are treated as zero.
	Velocity int `json:"velocity"`
}

// Normalized returns a copy with a non-negative velocity.
func (v ViewportState) Normalized() ViewportState {
	if v.Velocity < 0 {
		v.Velocity = 0
	}
	return v
}
