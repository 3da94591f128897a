package alarms

import (
	"strings"
	"time"

	voltage "linemonitor/internal/voltage/domain"
)

// Kind is the type of a human notification.
type Kind string

const (
	KindFlicker Kind = "flicker"
	KindOutage  Kind = "outage"
	KindClear   Kind = "clear"
)

// Title returns the subject suffix of the kind.
func (k Kind) Title() string {
	switch k {
	case KindFlicker:
		return "Power Flicker"
	case KindOutage:
		return "Power Outage"
	case KindClear:
		return "Power Outage - Cleared"
	default:
		return string(k)
	}
}

// Notification is a decision of the debouncer waiting to be rendered and sent.
type Notification struct {
	Kind  Kind
	Lines []voltage.LineID
	At    time.Time
}

// LinesPhrase renders the affected lines, e.g. "120VAC line" or "120VAC and 240VAC lines".
func (n Notification) LinesPhrase() string {
	labels := make([]string, 0, len(n.Lines))
	for _, line := range n.Lines {
		labels = append(labels, line.Label())
	}
	switch len(labels) {
	case 0:
		return "monitored lines"
	case 1:
		return labels[0] + " line"
	case 2:
		return labels[0] + " and " + labels[1] + " lines"
	default:
		return strings.Join(labels[:len(labels)-1], ", ") + " and " + labels[len(labels)-1] + " lines"
	}
}
