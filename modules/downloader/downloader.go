// Package downloader coordinates multi-source chunk downloads. Each
// download is one task: discover the file's structure from the tracker
// snapshot, compute the missing chunk set, fetch the chunks from randomly
// chosen source peers with per-peer retries, and finish by reconstructing
// the file — fully when everything arrived, as a zero-filled partial
// otherwise. Chunks that made it to disk always stay for the next attempt.
package downloader

import (
	"os"
	"path/filepath"
	"sync"

	"gitlab.com/NebulousLabs/errors"
	"gitlab.com/NebulousLabs/threadgroup"

	"go.filefleet.net/fleetd/modules"
	"go.filefleet.net/fleetd/persist"
)

// Downloader implements the modules.Downloader interface.
type Downloader struct {
	// tasks holds one entry per file that has ever been requested this
	// session; order remembers request order for display.
	tasks map[string]*downloadTask
	order []string
	mu    sync.Mutex

	// slots bounds the tasks running at once.
	slots chan struct{}

	store  modules.ChunkStore
	client modules.TrackerClient

	log *persist.Logger
	tg  threadgroup.ThreadGroup
}

// New creates a download coordinator fetching into store and discovering
// sources through client.
func New(store modules.ChunkStore, client modules.TrackerClient, persistDir string) (*Downloader, error) {
	dl := &Downloader{
		tasks:  make(map[string]*downloadTask),
		slots:  make(chan struct{}, maxConcurrentDownloads),
		store:  store,
		client: client,
	}

	err := os.MkdirAll(persistDir, persist.DefaultDirPermissions)
	if err != nil {
		return nil, errors.AddContext(err, "unable to create downloader persist directory")
	}
	dl.log, err = persist.NewFileLogger(filepath.Join(persistDir, logFile))
	if err != nil {
		return nil, errors.AddContext(err, "unable to create downloader logger")
	}
	dl.tg.AfterStop(func() error {
		return dl.log.Close()
	})
	// Stopping the group cancels every running task; Close then waits for
	// them to unwind through tg.Done.
	dl.tg.OnStop(func() error {
		dl.mu.Lock()
		defer dl.mu.Unlock()
		for _, task := range dl.tasks {
			task.cancel()
		}
		return nil
	})
	return dl, nil
}

// Download runs a download task for the named file and blocks until it
// finishes. At most three tasks run concurrently; excess callers wait for a
// slot.
func (dl *Downloader) Download(file string) error {
	if err := dl.tg.Add(); err != nil {
		return err
	}
	defer dl.tg.Done()

	// Register the task, refusing duplicates.
	task := newDownloadTask(file)
	dl.mu.Lock()
	if existing, exists := dl.tasks[file]; exists && !existing.finished() {
		dl.mu.Unlock()
		return errors.AddContext(errAlreadyDownloading, file)
	}
	dl.tasks[file] = task
	dl.order = append(dl.order, file)
	dl.mu.Unlock()

	// Wait for a download slot.
	select {
	case dl.slots <- struct{}{}:
	case <-dl.tg.StopChan():
		task.complete(errCancelled)
		return errCancelled
	}
	defer func() { <-dl.slots }()

	dl.log.Println("INFO: starting download of", file)
	err := dl.managedRunTask(task)
	task.complete(err)
	if err != nil {
		dl.log.Println("WARN: download of", file, "failed:", err)
		return err
	}
	dl.log.Println("INFO: download of", file, "complete")
	return nil
}

// Downloads lists the queued and finished tasks, most recent first.
func (dl *Downloader) Downloads() []modules.DownloadInfo {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	infos := make([]modules.DownloadInfo, 0, len(dl.order))
	for i := len(dl.order) - 1; i >= 0; i-- {
		if task, exists := dl.tasks[dl.order[i]]; exists {
			infos = append(infos, task.info())
		}
	}
	return infos
}

// Progress returns the progress of the named task, if one exists.
func (dl *Downloader) Progress(file string) (modules.DownloadInfo, bool) {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	task, exists := dl.tasks[file]
	if !exists {
		return modules.DownloadInfo{}, false
	}
	return task.info(), true
}

// Cancel requests cooperative cancellation of the named task.
func (dl *Downloader) Cancel(file string) bool {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	task, exists := dl.tasks[file]
	if !exists || task.finished() {
		return false
	}
	task.cancel()
	return true
}

// Close cancels all tasks and shuts the coordinator down.
func (dl *Downloader) Close() error {
	return dl.tg.Stop()
}

// enforce that Downloader satisfies the modules.Downloader interface
var _ modules.Downloader = (*Downloader)(nil)
