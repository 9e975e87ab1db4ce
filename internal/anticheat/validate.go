// Package anticheat classifies typing results from the progress samples a
// client reports while a test is running.
package anticheat

import "fmt"

const (
	MaxWpm            = 300
	MaxCharsPerSecond = 25
	MinProgressEvents = 3
	// one heartbeat is expected per this many seconds of a time mode test
	SecondsPerEvent     = 10
	TimeModeToleranceMs = 2000
	MaxBurstChars       = 50
	SessionTTLMs        = 600000
	ProgressIntervalMs  = 2000
	ProgressCharLimit   = 50
	ResumeGraceMs       = 30000

	// intervals shorter than this are folded into the next one before the
	// speed ceiling is applied
	minSpeedWindowMs = 1000
)

const ModeTime = "time"

// Sample is one heartbeat: the cumulative number of characters typed at
// Timestamp (epoch ms).
type Sample struct {
	Timestamp  int64 `json:"timestamp"`
	CharsTyped int   `json:"chars_typed"`
}

type Attempt struct {
	StartedAt int64
	Samples   []Sample
	Mode      string
	Duration  int
}

type Verdict struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

func valid() Verdict {
	return Verdict{Valid: true}
}

func invalid(format string, args ...any) Verdict {
	return Verdict{Valid: false, Reason: fmt.Sprintf(format, args...)}
}

// MinEvents is the number of heartbeats a test must report to be trusted.
func MinEvents(mode string, duration int) int {
	if mode != ModeTime {
		return 1
	}
	return max(MinProgressEvents, duration/SecondsPerEvent)
}

// Wpm converts characters over an elapsed time into words per minute, using
// five characters per word.
func Wpm(chars int, elapsedMs int64) float64 {
	if elapsedMs <= 0 {
		return 0
	}
	return (float64(chars) / 5) / (float64(elapsedMs) / 60000)
}

// Validate runs every check against a monitored attempt. It never fails; a
// problem with the evidence is reported as an invalid verdict.
func Validate(a Attempt) Verdict {
	if want := MinEvents(a.Mode, a.Duration); len(a.Samples) < want {
		return invalid("expected at least %d progress events, got %d", want, len(a.Samples))
	}

	prevTs, prevChars := a.StartedAt, 0
	windowMs, windowChars := int64(0), 0
	for i, s := range a.Samples {
		dt := s.Timestamp - prevTs
		if dt < 0 {
			return invalid("sample %d is out of order", i)
		}

		delta := max(s.CharsTyped-prevChars, 0)
		if delta > MaxBurstChars {
			return invalid("burst of %d chars between samples", delta)
		}

		windowMs += dt
		windowChars += delta
		if windowMs >= minSpeedWindowMs {
			if wpm := Wpm(windowChars, windowMs); wpm > MaxWpm {
				return invalid("interval speed %.0f wpm exceeds %d", wpm, MaxWpm)
			}
			windowMs, windowChars = 0, 0
		}

		prevTs, prevChars = s.Timestamp, s.CharsTyped
	}

	last := a.Samples[len(a.Samples)-1]
	elapsed := last.Timestamp - a.StartedAt
	if last.CharsTyped > 0 {
		if elapsed <= 0 {
			return invalid("%d chars reported with no elapsed time", last.CharsTyped)
		}
		if wpm := Wpm(last.CharsTyped, elapsed); wpm > MaxWpm {
			return invalid("average speed %.0f wpm exceeds %d", wpm, MaxWpm)
		}
	}

	if a.Mode == ModeTime && a.Duration > 0 {
		durationMs := int64(a.Duration) * 1000
		if elapsed > durationMs+TimeModeToleranceMs {
			return invalid("last sample %dms after start exceeds %ds test", elapsed, a.Duration)
		}
		if elapsed < durationMs-TimeModeToleranceMs-ProgressIntervalMs {
			return invalid("last sample %dms after start is early for %ds test", elapsed, a.Duration)
		}
	}

	return valid()
}
