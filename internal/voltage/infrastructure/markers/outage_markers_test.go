package markers

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"linemonitor/internal/statefile"
	voltage "linemonitor/internal/voltage/domain"
)

func TestOutageMarkersRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := statefile.NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	markers := NewOutageMarkers(store)
	raisedAt := time.Date(2026, 3, 1, 12, 30, 15, 250000000, time.UTC)

	if err := markers.Write("120V", raisedAt); err != nil {
		t.Fatalf("write: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "inPowerFailure120"))
	if err != nil {
		t.Fatalf("expected marker file: %v", err)
	}
	if string(raw) != "1772368215.250000" {
		t.Fatalf("unexpected marker content %q", raw)
	}

	got, ok, err := markers.Read("120V")
	if err != nil || !ok {
		t.Fatalf("read: ok=%v err=%v", ok, err)
	}
	if !got.Equal(raisedAt) {
		t.Fatalf("expected %s, got %s", raisedAt, got)
	}

	if _, ok, _ := markers.Read("240V"); ok {
		t.Fatal("expected no marker for 240V")
	}

	if err := markers.Delete("120V"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := markers.Read("120V"); ok {
		t.Fatal("expected marker to be deleted")
	}
}

func TestOutageMarkersRejectCorruptContent(t *testing.T) {
	dir := t.TempDir()
	store, err := statefile.NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Put("inPowerFailure240", "not-a-time"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, _, err := NewOutageMarkers(store).Read("240V"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestNameDropsTrailingV(t *testing.T) {
	cases := map[voltage.LineID]string{
		"120V": "inPowerFailure120",
		"120":  "inPowerFailure120",
		"V":    "inPowerFailureV",
		"main": "inPowerFailuremain",
	}
	for line, want := range cases {
		if got := Name(line); got != want {
			t.Fatalf("Name(%q) = %q, want %q", line, got, want)
		}
	}
}
