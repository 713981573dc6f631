package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gitlab.com/NebulousLabs/fastrand"

	"go.filefleet.net/fleetd/build"
	"go.filefleet.net/fleetd/persist"
)

func init() {
	build.Release = "testing"
	debounceDelay = 100 * time.Millisecond
}

// recordingIngester records the paths it is handed.
type recordingIngester struct {
	paths []string
	mu    sync.Mutex
}

func (ri *recordingIngester) Ingest(path string) error {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	ri.paths = append(ri.paths, path)
	return nil
}

func (ri *recordingIngester) seen(path string) bool {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	for _, p := range ri.paths {
		if p == path {
			return true
		}
	}
	return false
}

func (ri *recordingIngester) count(path string) int {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	n := 0
	for _, p := range ri.paths {
		if p == path {
			n++
		}
	}
	return n
}

// newTestWatcher starts a watcher over a scratch shared folder.
func newTestWatcher(t *testing.T) (*Watcher, *recordingIngester, string) {
	testdir := build.TempDir("watcher", t.Name())
	shared := filepath.Join(testdir, "shared")
	if err := os.MkdirAll(shared, persist.DefaultDiskPermissionsTest); err != nil {
		t.Fatal(err)
	}
	ingester := &recordingIngester{}
	w, err := New(shared, ingester, filepath.Join(testdir, "persist"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := w.Close(); err != nil {
			t.Error(err)
		}
	})
	return w, ingester, shared
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatal("timed out waiting for", what)
}

// TestWatcherIngest drops a file into the folder and waits for ingestion.
func TestWatcherIngest(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}
	_, ingester, shared := newTestWatcher(t)

	path := filepath.Join(shared, "new.bin")
	if err := os.WriteFile(path, fastrand.Bytes(1000), 0600); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return ingester.seen(path) }, "ingestion")
}

// TestWatcherIgnores checks that artifact names never reach the ingester.
func TestWatcherIgnores(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}
	_, ingester, shared := newTestWatcher(t)

	for _, name := range []string{"x.tmp", "y.partial", ".hidden", "z.chunks"} {
		if err := os.WriteFile(filepath.Join(shared, name), []byte("junk"), 0600); err != nil {
			t.Fatal(err)
		}
	}
	// A real file afterwards proves the watcher was alive the whole time.
	real := filepath.Join(shared, "real.bin")
	if err := os.WriteFile(real, fastrand.Bytes(100), 0600); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return ingester.seen(real) }, "ingestion of the real file")

	ingester.mu.Lock()
	defer ingester.mu.Unlock()
	for _, p := range ingester.paths {
		if p != real {
			t.Error("ignored artifact reached the ingester:", p)
		}
	}
}

// TestWatcherDebounce checks that a burst of writes produces one ingestion.
func TestWatcherDebounce(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}
	_, ingester, shared := newTestWatcher(t)

	path := filepath.Join(shared, "bursty.bin")
	for i := 0; i < 10; i++ {
		if err := os.WriteFile(path, fastrand.Bytes(100), 0600); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	waitFor(t, func() bool { return ingester.seen(path) }, "ingestion")

	// Let any stragglers fire, then count.
	time.Sleep(3 * debounceDelay)
	if n := ingester.count(path); n != 1 {
		t.Errorf("burst produced %v ingestions, want 1", n)
	}
}
