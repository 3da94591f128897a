// Package console renders the event stream as a terminal table.
package console

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"linemonitor/internal/eventing"
	voltage "linemonitor/internal/voltage/domain"
)

// DefaultMaxAge is how long a reading stays on screen without a fresh one.
const DefaultMaxAge = 10 * time.Second

const (
	rowTimeLayout = "2006/01/02 15:04:05"
	missing       = "---"
)

type reading struct {
	at    time.Time
	value float64
}

// Table prints one row per telemetry message with the latest reading of every line,
// and a NOTICE line for everything else.
type Table struct {
	w      io.Writer
	lines  []voltage.LineID
	maxAge time.Duration
	latest map[voltage.LineID]reading
}

// NewTable prints columns for lines in the given order. A non-positive maxAge uses DefaultMaxAge.
func NewTable(w io.Writer, lines []voltage.LineID, maxAge time.Duration) (*Table, error) {
	if w == nil {
		return nil, errors.New("console: nil writer")
	}
	if len(lines) == 0 {
		return nil, errors.New("console: no lines")
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Table{
		w:      w,
		lines:  append([]voltage.LineID(nil), lines...),
		maxAge: maxAge,
		latest: make(map[voltage.LineID]reading, len(lines)),
	}, nil
}

// Header prints the column titles.
func (t *Table) Header() error {
	cells := make([]string, 0, len(t.lines))
	for _, line := range t.lines {
		cells = append(cells, fmt.Sprintf("%19s  |  %9s", "Time "+line.String(), "Volts "+line.String()))
	}
	header := strings.Join(cells, "  |  ")
	_, err := fmt.Fprintf(t.w, "%s\n%s\n", header, strings.Repeat("-", len(header)))
	return err
}

// Handle prints msg as seen at now.
func (t *Table) Handle(msg eventing.Message, now time.Time) error {
	if msg.Kind != voltage.KindTelemetry {
		_, err := fmt.Fprintf(t.w, "NOTICE: %s - %s\n", msg.Kind, noticeText(msg))
		return err
	}
	if !t.tracks(msg.Line) {
		return nil
	}
	t.latest[msg.Line] = reading{at: msg.At, value: msg.Value}

	for line, r := range t.latest {
		if now.Sub(r.at) > t.maxAge {
			delete(t.latest, line)
		}
	}
	_, err := fmt.Fprintln(t.w, t.row())
	return err
}

func (t *Table) tracks(line voltage.LineID) bool {
	for _, l := range t.lines {
		if l == line {
			return true
		}
	}
	return false
}

func (t *Table) row() string {
	cells := make([]string, 0, len(t.lines))
	for _, line := range t.lines {
		at, value := missing, missing
		if r, ok := t.latest[line]; ok {
			at = r.at.Format(rowTimeLayout)
			value = fmt.Sprintf("%5.1f", r.value)
		}
		cells = append(cells, fmt.Sprintf("%19s  |  %5s VAC", at, value))
	}
	return strings.Join(cells, "  |  ")
}

func noticeText(msg eventing.Message) string {
	if msg.Kind == voltage.KindNotice {
		return msg.Text
	}
	return msg.Line.String()
}
