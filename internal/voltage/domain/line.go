package voltage

import (
	"errors"
	"fmt"
	"time"
)

// LineID identifies a monitored circuit, e.g. "120V".
type LineID string

// String returns the line identifier.
func (l LineID) String() string { return string(l) }

// Label returns the display label used in telemetry kinds and notifications, e.g. "120VAC".
func (l LineID) Label() string { return string(l) + "AC" }

// Sample is one reading of one line.
type Sample struct {
	Line    LineID
	Value   float64
	TakenAt time.Time
}

// Thresholds defines the in-tolerance band and event timings of a line.
type Thresholds struct {
	Low          float64
	High         float64
	FlickerAfter time.Duration
	OutageAfter  time.Duration
	ClearAfter   time.Duration
}

// Validate checks threshold invariants.
func (t Thresholds) Validate() error {
	if t.Low >= t.High {
		return fmt.Errorf("thresholds: low %.1f must be below high %.1f", t.Low, t.High)
	}
	if t.FlickerAfter < 0 {
		return errors.New("thresholds: negative flicker time")
	}
	if t.FlickerAfter > t.OutageAfter {
		return fmt.Errorf("thresholds: flicker time %s exceeds outage time %s", t.FlickerAfter, t.OutageAfter)
	}
	if t.ClearAfter < 0 {
		return errors.New("thresholds: negative clear time")
	}
	return nil
}

// InRange reports whether value lies inside [Low, High].
func (t Thresholds) InRange(value float64) bool {
	return value >= t.Low && value <= t.High
}
