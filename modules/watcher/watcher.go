// Package watcher feeds the chunk store from the shared folder. It watches
// for file creation and writes, debounces the event bursts editors and
// copies produce, filters out the store's own artifacts, and hands settled
// files to the ingester.
package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gitlab.com/NebulousLabs/errors"
	"gitlab.com/NebulousLabs/threadgroup"

	"go.filefleet.net/fleetd/build"
	"go.filefleet.net/fleetd/modules"
	"go.filefleet.net/fleetd/persist"
)

const (
	// logFile names the watcher's log file within its persist directory.
	logFile = "watcher.log"
)

var (
	// debounceDelay is how long a file must stay quiet after its last
	// write event before it is ingested.
	debounceDelay = build.Select(build.Var{
		Standard: 500 * time.Millisecond,
		Dev:      500 * time.Millisecond,
		Testing:  100 * time.Millisecond,
	}).(time.Duration)
)

// An Ingester accepts settled files from the shared folder.
type Ingester interface {
	Ingest(path string) error
}

// Watcher owns the fsnotify subscription on the shared folder.
type Watcher struct {
	staticDir string
	ingester  Ingester

	fsw *fsnotify.Watcher

	// pending holds the debounce timer per path.
	pending map[string]*time.Timer
	mu      sync.Mutex

	log *persist.Logger
	tg  threadgroup.ThreadGroup
}

// New starts watching dir and feeding ingester.
func New(dir string, ingester Ingester, persistDir string) (*Watcher, error) {
	w := &Watcher{
		staticDir: dir,
		ingester:  ingester,
		pending:   make(map[string]*time.Timer),
	}

	err := os.MkdirAll(persistDir, persist.DefaultDirPermissions)
	if err != nil {
		return nil, errors.AddContext(err, "unable to create watcher persist directory")
	}
	w.log, err = persist.NewFileLogger(filepath.Join(persistDir, logFile))
	if err != nil {
		return nil, errors.AddContext(err, "unable to create watcher logger")
	}
	w.tg.AfterStop(func() error {
		return w.log.Close()
	})

	w.fsw, err = fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.AddContext(err, "unable to create filesystem watcher")
	}
	if err := w.fsw.Add(dir); err != nil {
		return nil, errors.Compose(errors.AddContext(err, "unable to watch shared folder"), w.fsw.Close())
	}
	w.tg.OnStop(func() error {
		w.mu.Lock()
		for _, timer := range w.pending {
			timer.Stop()
		}
		w.mu.Unlock()
		return w.fsw.Close()
	})
	w.log.Println("INFO: watching", dir)

	go w.permanentWatch()
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.tg.Stop()
}

// permanentWatch drains the fsnotify channels until shutdown.
func (w *Watcher) permanentWatch() {
	for {
		select {
		case <-w.tg.StopChan():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if modules.IsIgnoredName(filepath.Base(event.Name)) {
				continue
			}
			w.managedDebounce(event.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Println("WARN: watch error:", err)
		}
	}
}

// managedDebounce (re)arms the ingestion timer for one path. Every new
// write pushes the ingestion out by the full delay, so a file is only
// picked up once it has settled.
func (w *Watcher) managedDebounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, exists := w.pending[path]; exists {
		timer.Reset(debounceDelay)
		return
	}
	w.pending[path] = time.AfterFunc(debounceDelay, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.threadedIngest(path)
	})
}

// threadedIngest hands one settled path to the ingester.
func (w *Watcher) threadedIngest(path string) {
	if w.tg.Add() != nil {
		return
	}
	defer w.tg.Done()

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	if err := w.ingester.Ingest(path); err != nil {
		// Re-ingests of unchanged files are routine, log them quietly.
		w.log.Debugln("INFO: ingest of", path, "skipped:", err)
		return
	}
	w.log.Println("INFO: ingested", path)
}
