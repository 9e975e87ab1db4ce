// Package window computes the start boundaries of the leaderboard time
// windows in a reference timezone.
package window

import (
	"fmt"
	"time"
)

type Range string

const (
	AllTime Range = "all-time"
	Week    Range = "week"
	Today   Range = "today"
)

// DefaultTimezone is the zone whose calendar days delimit the windows.
const DefaultTimezone = "America/New_York"

var Ranges = []Range{AllTime, Week, Today}

func (r Range) Valid() bool {
	switch r {
	case AllTime, Week, Today:
		return true
	}
	return false
}

func ParseRange(s string) (Range, error) {
	r := Range(s)
	if s == "" {
		return AllTime, nil
	}
	if !r.Valid() {
		return "", fmt.Errorf("unknown time range %q", s)
	}
	return r, nil
}

// CutoffFunc returns the earliest createdAt (epoch ms) that still counts
// toward r at instant now.
type CutoffFunc func(now time.Time, r Range) int64

// Cutoffs returns a CutoffFunc anchored to midnight in loc. Today starts at
// the most recent midnight, Week at the midnight seven calendar days earlier.
// AllTime has no lower bound.
func Cutoffs(loc *time.Location) CutoffFunc {
	return func(now time.Time, r Range) int64 {
		switch r {
		case Today:
			return StartOfDay(now, 0, loc)
		case Week:
			return StartOfDay(now, 7, loc)
		default:
			return 0
		}
	}
}

// StartOfDay returns midnight in loc, daysAgo calendar days before now, as
// epoch milliseconds. Day arithmetic goes through time.Date so DST
// transitions produce 23 or 25 hour days rather than shifted midnights.
func StartOfDay(now time.Time, daysAgo int, loc *time.Location) int64 {
	local := now.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d-daysAgo, 0, 0, 0, 0, loc).UnixMilli()
}

func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}
