package console

import (
	"strings"
	"testing"
	"time"

	"linemonitor/internal/eventing"
	voltage "linemonitor/internal/voltage/domain"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestTablePrintsLatestReadings(t *testing.T) {
	var out strings.Builder
	table, err := NewTable(&out, []voltage.LineID{"120V", "240V"}, 0)
	if err != nil {
		t.Fatalf("new table: %v", err)
	}
	if err := table.Header(); err != nil {
		t.Fatalf("header: %v", err)
	}

	_ = table.Handle(eventing.Message{Kind: voltage.KindTelemetry, Line: "120V", Value: 120.25, At: base}, base)
	_ = table.Handle(eventing.Message{Kind: voltage.KindTelemetry, Line: "240V", Value: 239.5, At: base.Add(time.Second)}, base.Add(time.Second))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header, rule and two rows, got %q", out.String())
	}
	if !strings.Contains(lines[0], "Time 120V") || !strings.Contains(lines[0], "Volts 240V") {
		t.Fatalf("unexpected header %q", lines[0])
	}
	if !strings.Contains(lines[2], "120.2 VAC") && !strings.Contains(lines[2], "120.3 VAC") {
		t.Fatalf("unexpected first row %q", lines[2])
	}
	if !strings.Contains(lines[2], "---") {
		t.Fatalf("expected missing 240V reading in %q", lines[2])
	}
	if !strings.Contains(lines[3], "2026/03/01 12:00:01") || !strings.Contains(lines[3], "239.5 VAC") {
		t.Fatalf("unexpected second row %q", lines[3])
	}
}

func TestTableDropsStaleReadings(t *testing.T) {
	var out strings.Builder
	table, _ := NewTable(&out, []voltage.LineID{"120V", "240V"}, 10*time.Second)

	_ = table.Handle(eventing.Message{Kind: voltage.KindTelemetry, Line: "120V", Value: 120, At: base}, base)
	out.Reset()
	later := base.Add(11 * time.Second)
	_ = table.Handle(eventing.Message{Kind: voltage.KindTelemetry, Line: "240V", Value: 240, At: later}, later)

	if strings.Contains(out.String(), "120.0") {
		t.Fatalf("expected the stale 120V reading dropped, got %q", out.String())
	}
}

func TestTablePrintsNotices(t *testing.T) {
	var out strings.Builder
	table, _ := NewTable(&out, []voltage.LineID{"120V"}, 0)

	_ = table.Handle(eventing.Message{Kind: voltage.KindOutage, Line: "120V", At: base}, base)
	_ = table.Handle(eventing.Message{Kind: voltage.KindNotice, Text: "meter restarted", At: base}, base)
	_ = table.Handle(eventing.Message{Kind: voltage.KindTelemetry, Line: "480V", Value: 480, At: base}, base)

	want := "NOTICE: OUTAGE - 120V\nNOTICE: NOTICE - meter restarted\n"
	if out.String() != want {
		t.Fatalf("expected %q, got %q", want, out.String())
	}
}
