package intake

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func startWatcher(t *testing.T, dir string, maxSize int64) *Watcher {
	t.Helper()
	w, err := New(dir, 100*time.Millisecond, maxSize)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { w.Stop() })
	return w
}

func waitForArrival(t *testing.T, w *Watcher) Arrival {
	t.Helper()
	select {
	case a := <-w.Arrivals():
		return a
	case err := <-w.Errors():
		t.Fatalf("watcher error: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("no arrival within deadline")
	}
	return Arrival{}
}

func TestWatcherEmitsStableFile(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir, 0)

	path := filepath.Join(dir, "cap-1.json")
	if err := os.WriteFile(path, []byte(`{"capture_id":"cap-1"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	a := waitForArrival(t, w)
	if filepath.Base(a.Path) != "cap-1.json" {
		t.Errorf("arrival path = %s", a.Path)
	}
	if a.Size == 0 {
		t.Error("arrival size not recorded")
	}
}

func TestWatcherPicksUpPreexistingFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "stranded.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := startWatcher(t, dir, 0)
	a := waitForArrival(t, w)
	if filepath.Base(a.Path) != "stranded.json" {
		t.Errorf("arrival path = %s", a.Path)
	}
}

func TestWatcherIgnoresNonSubmissionFiles(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir, 0)

	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(dir, ".hidden.json"), []byte("{}"), 0o644)
	os.WriteFile(filepath.Join(dir, "cap-2.json"), []byte("{}"), 0o644)

	a := waitForArrival(t, w)
	if filepath.Base(a.Path) != "cap-2.json" {
		t.Errorf("arrival path = %s", a.Path)
	}

	select {
	case extra := <-w.Arrivals():
		t.Errorf("unexpected second arrival: %s", extra.Path)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestWatcherRejectsOversizeFile(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir, 16)

	if err := os.WriteFile(filepath.Join(dir, "big.json"), []byte(strings.Repeat("x", 64)), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-w.Errors():
		if !strings.Contains(err.Error(), "size limit") {
			t.Errorf("error = %v", err)
		}
	case a := <-w.Arrivals():
		t.Fatalf("oversize file emitted: %s", a.Path)
	case <-time.After(10 * time.Second):
		t.Fatal("no size-limit error within deadline")
	}
}

func TestWatcherDropsRemovedFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "gone.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := New(dir, time.Hour, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { w.Stop() })

	if w.Tracked() != 1 {
		t.Fatalf("Tracked = %d", w.Tracked())
	}
	if err := os.Remove(filepath.Join(dir, "gone.json")); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for w.Tracked() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("removed file still tracked")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
