package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// collector records callback paths for assertions.
type collector struct {
	mu    sync.Mutex
	paths []string
}

func (c *collector) add(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths = append(c.paths, path)
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.paths))
	copy(out, c.paths)
	return out
}

func (c *collector) waitFor(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, p := range c.snapshot() {
			if p == path {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no callback for %s, got %v", path, c.snapshot())
}

func startWatcher(t *testing.T, dir string, extensions []string) (*collector, *collector) {
	t.Helper()
	changes := &collector{}
	removes := &collector{}
	w := NewWatcher(dir, extensions, changes.add, removes.add,
		WithDebounce(30*time.Millisecond))
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(w.Stop)
	return changes, removes
}

func TestWatcherReportsSettledWrite(t *testing.T) {
	dir := t.TempDir()
	changes, _ := startWatcher(t, dir, []string{"md"})

	path := filepath.Join(dir, "spec.md")
	if err := os.WriteFile(path, []byte("# Spec\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	changes.waitFor(t, path)
}

func TestWatcherDebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	changes, _ := startWatcher(t, dir, []string{"md"})

	path := filepath.Join(dir, "spec.md")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte("# Spec\n"), 0644); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	changes.waitFor(t, path)

	// The burst must settle into one callback, not five.
	time.Sleep(100 * time.Millisecond)
	count := 0
	for _, p := range changes.snapshot() {
		if p == path {
			count++
		}
	}
	if count != 1 {
		t.Errorf("callbacks = %d, want 1", count)
	}
}

func TestWatcherFiltersExtensionsAndHiddenFiles(t *testing.T) {
	dir := t.TempDir()
	changes, _ := startWatcher(t, dir, []string{"md"})

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".spec.12345.tmp"), []byte("x"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	watched := filepath.Join(dir, "spec.md")
	if err := os.WriteFile(watched, []byte("# Spec\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	changes.waitFor(t, watched)
	for _, p := range changes.snapshot() {
		if p != watched {
			t.Errorf("unexpected callback for %s", p)
		}
	}
}

func TestWatcherReportsRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spec.md")
	if err := os.WriteFile(path, []byte("# Spec\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, removes := startWatcher(t, dir, []string{"md"})
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	removes.waitFor(t, path)
}

func TestWatcherStopDropsPendingCallbacks(t *testing.T) {
	dir := t.TempDir()
	changes := &collector{}
	w := NewWatcher(dir, nil, changes.add, nil, WithDebounce(100*time.Millisecond))
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	path := filepath.Join(dir, "spec.md")
	if err := os.WriteFile(path, []byte("# Spec\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Give the event time to reach the debounce timer, then stop before it
	// fires.
	time.Sleep(30 * time.Millisecond)
	w.Stop()
	time.Sleep(150 * time.Millisecond)

	if len(changes.snapshot()) != 0 {
		t.Errorf("callbacks after Stop = %v", changes.snapshot())
	}
}

func TestWatcherStartTwice(t *testing.T) {
	w := NewWatcher(t.TempDir(), nil, nil, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()
	if err := w.Start(context.Background()); err != nil {
		t.Errorf("second Start: %v", err)
	}
}
