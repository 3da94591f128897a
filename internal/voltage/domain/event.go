package voltage

import (
	"fmt"
	"time"
)

// EventKind classifies an event crossing the process boundary.
type EventKind string

const (
	KindFlicker   EventKind = "FLICKER"
	KindOutage    EventKind = "OUTAGE"
	KindClear     EventKind = "CLEAR"
	KindTelemetry EventKind = "TELEMETRY"
	KindNotice    EventKind = "NOTICE"
)

// Event is an immutable record published by the monitor.
type Event struct {
	EmittedAt time.Time
	Kind      EventKind
	Line      LineID
	Value     float64
	Payload   string
}

// IsTransition reports whether the event changes line state.
func (e Event) IsTransition() bool {
	switch e.Kind {
	case KindFlicker, KindOutage, KindClear:
		return true
	default:
		return false
	}
}

// NewTransition builds a FLICKER, OUTAGE or CLEAR event for a line.
func NewTransition(kind EventKind, line LineID, at time.Time) Event {
	return Event{EmittedAt: at.UTC(), Kind: kind, Line: line, Payload: line.String()}
}

// NewTelemetry builds an averaged voltage event.
func NewTelemetry(line LineID, average float64, at time.Time) Event {
	return Event{
		EmittedAt: at.UTC(),
		Kind:      KindTelemetry,
		Line:      line,
		Value:     average,
		Payload:   fmt.Sprintf("%.2f", average),
	}
}

// NewNotice builds a free-text event.
func NewNotice(text string, at time.Time) Event {
	return Event{EmittedAt: at.UTC(), Kind: KindNotice, Payload: text}
}
