package statefile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStorePutGetRemove(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "state"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if _, ok, err := store.Get("inPowerFailure"); err != nil || ok {
		t.Fatalf("expected missing file, ok=%v err=%v", ok, err)
	}
	if err := store.Put("inPowerFailure", "first"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put("inPowerFailure", "second"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	content, ok, err := store.Get("inPowerFailure")
	if err != nil || !ok || content != "second" {
		t.Fatalf("expected second, got %q ok=%v err=%v", content, ok, err)
	}
	exists, err := store.Exists("inPowerFailure")
	if err != nil || !exists {
		t.Fatalf("expected file to exist, err=%v", err)
	}

	entries, err := os.ReadDir(store.Dir())
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected no leftover temp files, got %d entries", len(entries))
	}

	if err := store.Remove("inPowerFailure"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := store.Remove("inPowerFailure"); err != nil {
		t.Fatalf("second remove should be a no-op: %v", err)
	}
	if exists, _ := store.Exists("inPowerFailure"); exists {
		t.Fatal("expected file to be gone")
	}
}

func TestStoreRejectsBadNames(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	for _, name := range []string{"", "..", "a/b", `a\b`} {
		if err := store.Put(name, "x"); err == nil {
			t.Fatalf("expected error for name %q", name)
		}
	}
}

func TestNewStoreRejectsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewStore(path); err == nil {
		t.Fatal("expected error when state dir is a file")
	}
}
