// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package timewindow parses backlog strings and slices a [start, stop]
// interval into overlapping request windows for the vendor sample API.
package timewindow

import (
	"fmt"
	"time"
)

// minutesPerUnit mirrors the original daemon's unit table: m(inute),
// h(our), d(ay), w(eek), M(onth, average of 30.417 days), Y(ear).
var minutesPerUnit = map[byte]float64{
	'm': 1,
	'h': 60,
	'd': 60 * 24,
	'w': 60 * 24 * 7,
	'M': 60 * 24 * 30.417,
	'Y': 60 * 24 * 365,
}

// Window is a single [Start, Stop] pair handed to one vendor sample fetch.
type Window struct {
	Start time.Time
	Stop  time.Time
}

// ParseBacklog parses a backlog string of the form "<int><unit>" (e.g. "1d",
// "10m", "1M") into a duration expressed in minutes. Returns InvalidBacklog
// on malformed input.
func ParseBacklog(backlog string) (int, error) {
	if len(backlog) < 2 {
		return 0, newInvalidBacklog(backlog, "too short")
	}

	unit := backlog[len(backlog)-1]
	perUnit, ok := minutesPerUnit[unit]
	if !ok {
		return 0, newInvalidBacklog(backlog, fmt.Sprintf("unknown unit %q", string(unit)))
	}

	var n int
	if _, err := fmt.Sscanf(backlog[:len(backlog)-1], "%d", &n); err != nil {
		return 0, newInvalidBacklog(backlog, "non-integer magnitude")
	}
	if n < 0 {
		return 0, newInvalidBacklog(backlog, "negative magnitude")
	}

	return int(float64(n) * perUnit), nil
}

// Slice produces a sequence of overlapping [start, stop] windows covering
// [start, stop] with step-minute strides. Consecutive windows overlap by 30
// minutes: window i+1 starts 30 minutes before window i ends. When
// stepMinutes is 30 or less, windows abut without overlapping. The final
// window's stop is allowed to run past stop so that the whole interval is
// covered.
func Slice(start, stop time.Time, stepMinutes int) []Window {
	if stepMinutes <= 0 || !start.Before(stop) {
		return nil
	}

	const overlap = 30 * time.Minute
	step := time.Duration(stepMinutes) * time.Minute

	var windows []Window
	cur := start
	for !cur.After(stop) {
		next := cur.Add(step)
		windows = append(windows, Window{Start: cur, Stop: next})
		if !next.Before(stop) {
			break
		}
		if step <= overlap {
			cur = next
		} else {
			cur = next.Add(-overlap)
		}
	}
	return windows
}

type InvalidBacklogError struct {
	Value  string
	Reason string
}

func (e *InvalidBacklogError) Error() string {
	return fmt.Sprintf("invalid backlog %q: %s", e.Value, e.Reason)
}

func newInvalidBacklog(value, reason string) error {
	return &InvalidBacklogError{Value: value, Reason: reason}
}
