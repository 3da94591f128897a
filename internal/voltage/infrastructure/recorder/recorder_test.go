package recorder

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	voltage "linemonitor/internal/voltage/domain"
)

func TestRecorderFlushesOnInterval(t *testing.T) {
	dir := t.TempDir()
	rec, err := New(dir)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	defer rec.Close()

	start := time.Unix(1700000000, 250000000)
	if err := rec.Record(voltage.Sample{Line: "120V", Value: 119.94, TakenAt: start}); err != nil {
		t.Fatalf("record: %v", err)
	}
	path := filepath.Join(dir, "voltage_120.log")
	if data, _ := os.ReadFile(path); len(data) != 0 {
		t.Fatalf("expected the first sample to stay buffered, got %q", data)
	}

	if err := rec.Record(voltage.Sample{Line: "120V", Value: 120.0, TakenAt: start.Add(10 * time.Second)}); err != nil {
		t.Fatalf("record: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	want := "1700000000.25  119.9\n1700000010.25  120.0\n"
	if string(data) != want {
		t.Fatalf("expected %q, got %q", want, data)
	}
}

func TestRecorderCloseFlushesEveryLine(t *testing.T) {
	dir := t.TempDir()
	rec, err := New(dir)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	at := time.Unix(1700000000, 0)
	_ = rec.Record(voltage.Sample{Line: "120V", Value: 121, TakenAt: at})
	_ = rec.Record(voltage.Sample{Line: "240V", Value: 239.5, TakenAt: at})

	if err := rec.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	for line, want := range map[voltage.LineID]string{
		"120V": "1700000000.00  121.0\n",
		"240V": "1700000000.00  239.5\n",
	} {
		data, err := os.ReadFile(rec.Path(line))
		if err != nil {
			t.Fatalf("read %s: %v", line, err)
		}
		if string(data) != want {
			t.Fatalf("%s: expected %q, got %q", line, want, data)
		}
	}
	if err := rec.Record(voltage.Sample{Line: "120V", Value: 121, TakenAt: at}); err == nil {
		t.Fatalf("expected record after close to fail")
	}
}
