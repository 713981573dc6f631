package downloader

import (
	"sync"
	"time"

	"gitlab.com/NebulousLabs/errors"
	"gitlab.com/NebulousLabs/fastrand"

	"go.filefleet.net/fleetd/build"
	"go.filefleet.net/fleetd/modules"
)

// A downloadTask tracks one in-flight file download.
type downloadTask struct {
	staticFile string

	// totalChunks and missing describe progress: missing shrinks as
	// fetchers land chunks. Zero totalChunks means discovery has not
	// happened yet.
	totalChunks uint32
	missing     modules.ChunkSet
	done        bool
	err         error
	mu          sync.Mutex

	// cancelChan closes when the task is cancelled, by the operator, the
	// deadline, or shutdown.
	cancelChan chan struct{}
	cancelOnce sync.Once
}

func newDownloadTask(file string) *downloadTask {
	return &downloadTask{
		staticFile: file,
		missing:    make(modules.ChunkSet),
		cancelChan: make(chan struct{}),
	}
}

// cancel requests cooperative cancellation.
func (task *downloadTask) cancel() {
	task.cancelOnce.Do(func() { close(task.cancelChan) })
}

// cancelled reports whether cancellation was requested.
func (task *downloadTask) cancelled() bool {
	select {
	case <-task.cancelChan:
		return true
	default:
		return false
	}
}

// setStructure records the discovered chunk layout.
func (task *downloadTask) setStructure(totalChunks uint32, missing modules.ChunkSet) {
	task.mu.Lock()
	defer task.mu.Unlock()
	task.totalChunks = totalChunks
	task.missing = missing.Copy()
}

// markFetched removes one chunk from the missing set.
func (task *downloadTask) markFetched(index uint32) {
	task.mu.Lock()
	defer task.mu.Unlock()
	delete(task.missing, index)

	// Sanity check that the bookkeeping stayed consistent.
	if task.totalChunks > 0 && uint32(len(task.missing)) > task.totalChunks {
		build.Critical("download task tracks more missing chunks than the file has:", len(task.missing), task.totalChunks)
	}
}

// remaining returns how many chunks are still missing.
func (task *downloadTask) remaining() uint32 {
	task.mu.Lock()
	defer task.mu.Unlock()
	return uint32(len(task.missing))
}

// complete finalizes the task.
func (task *downloadTask) complete(err error) {
	task.mu.Lock()
	defer task.mu.Unlock()
	task.done = true
	task.err = err
}

// finished reports whether the task has finalized.
func (task *downloadTask) finished() bool {
	task.mu.Lock()
	defer task.mu.Unlock()
	return task.done
}

// info snapshots the task's progress.
func (task *downloadTask) info() modules.DownloadInfo {
	task.mu.Lock()
	defer task.mu.Unlock()
	info := modules.DownloadInfo{
		FileName:    task.staticFile,
		TotalChunks: task.totalChunks,
		Missing:     uint32(len(task.missing)),
		Completed:   task.done && task.err == nil,
		Cancelled:   task.cancelled(),
	}
	if task.totalChunks > 0 {
		info.Downloaded = task.totalChunks - info.Missing
	}
	if task.err != nil {
		info.Err = task.err.Error()
	}
	return info
}

// managedRunTask executes the full per-task algorithm.
func (dl *Downloader) managedRunTask(task *downloadTask) error {
	file := task.staticFile

	// Discover the file's structure from the directory snapshot: which
	// peer claims which chunk, and how many chunks the file has.
	holders, maxIndex := dl.chunkHolders(file)
	if len(holders) == 0 {
		return errors.AddContext(errNoSources, file)
	}
	totalChunks := maxIndex + 1

	// Locally stored metadata, from a prior attempt, is the best source
	// of the file's structure. After that a source peer's FILE_INFO: it
	// carries the real chunk count, size and hash. Discovery by maximum
	// advertised index remains the fallback.
	if md, exists := dl.store.Metadata(file); exists {
		totalChunks = md.TotalChunks
	} else if md, ok := dl.managedFetchMetadata(task, holders); ok {
		totalChunks = md.TotalChunks
		if err := dl.store.SetMetadata(md); err != nil {
			dl.log.Println("WARN: unable to record discovered metadata for", file, ":", err)
		}
	}

	// Compute the needed set.
	missing := make(modules.ChunkSet)
	available := dl.store.Available(file)
	for index := uint32(0); index < totalChunks; index++ {
		if !available.Has(index) {
			missing.Add(index)
		}
	}
	task.setStructure(totalChunks, missing)
	if len(missing) == 0 {
		return dl.store.Reconstruct(file)
	}
	dl.log.Printf("INFO: %v has %v chunks, fetching %v from %v candidate peers", file, totalChunks, len(missing), len(dl.client.KnownPeers()))

	// Fetch the missing chunks with a small worker pool, in shuffled
	// order so simultaneous downloaders spread their load.
	indices := missing.Sorted()
	queue := make(chan uint32, len(indices))
	for _, i := range fastrand.Perm(len(indices)) {
		queue <- indices[i]
	}
	close(queue)

	var wg sync.WaitGroup
	for i := 0; i < fetchersPerTask; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range queue {
				if task.cancelled() {
					return
				}
				dl.threadedFetchChunk(task, index, holders[index])
			}
		}()
	}
	poolDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(poolDone)
	}()
	select {
	case <-poolDone:
	case <-time.After(taskDeadline):
		dl.log.Println("WARN: download of", file, "hit its deadline")
		task.cancel()
		<-poolDone
	case <-task.cancelChan:
		<-poolDone
	}

	// Finalize.
	if task.cancelled() && task.remaining() > 0 {
		return errCancelled
	}
	if task.remaining() > 0 {
		// Best-effort partial render; the fetched chunks stay on disk
		// for the next attempt either way.
		if err := dl.store.ReconstructPartial(file); err != nil {
			dl.log.Println("WARN: partial render of", file, "failed:", err)
		}
		return errors.AddContext(errIncomplete, file)
	}
	if err := dl.managedEnsureMetadata(file, totalChunks); err != nil {
		return errors.AddContext(err, "unable to derive metadata for "+file)
	}
	return dl.store.Reconstruct(file)
}

// chunkHolders maps each advertised chunk of file onto the peers claiming
// it, and reports the highest advertised index.
func (dl *Downloader) chunkHolders(file string) (map[uint32][]modules.PeerID, uint32) {
	holders := make(map[uint32][]modules.PeerID)
	var maxIndex uint32
	for pid, info := range dl.client.KnownPeers() {
		set, exists := info.Files[file]
		if !exists {
			continue
		}
		for index := range set {
			holders[index] = append(holders[index], pid)
			if index > maxIndex {
				maxIndex = index
			}
		}
	}
	return holders, maxIndex
}

// managedFetchMetadata asks source peers, in random order, for the file's
// FILE_INFO until one answers.
func (dl *Downloader) managedFetchMetadata(task *downloadTask, holders map[uint32][]modules.PeerID) (modules.FileMetadata, bool) {
	seen := make(map[modules.PeerID]struct{})
	var sources []modules.PeerID
	for _, peers := range holders {
		for _, pid := range peers {
			if _, dup := seen[pid]; !dup {
				seen[pid] = struct{}{}
				sources = append(sources, pid)
			}
		}
	}
	for _, i := range fastrand.Perm(len(sources)) {
		if task.cancelled() {
			return modules.FileMetadata{}, false
		}
		info, err := FileInfo(sources[i].NetAddress(), task.staticFile)
		if err != nil {
			dl.log.Debugln("INFO: FILE_INFO from", sources[i], "failed:", err)
			continue
		}
		if info.Metadata.TotalChunks == 0 || info.Metadata.FileSize == 0 {
			continue
		}
		return info.Metadata, true
	}
	return modules.FileMetadata{}, false
}

// threadedFetchChunk tries to land one chunk: candidate peers in random
// order, up to maxRetryAttempts per peer with linear backoff. Failure to
// fetch is logged and absorbed; the finalizer deals with leftovers.
func (dl *Downloader) threadedFetchChunk(task *downloadTask, index uint32, candidates []modules.PeerID) {
	file := task.staticFile
	if dl.store.HasChunk(file, index) {
		task.markFetched(index)
		return
	}

	expectedLen := uint64(0)
	if md, exists := dl.store.Metadata(file); exists {
		expectedLen = modules.ChunkLen(md.FileSize, index)
	}

	for _, i := range fastrand.Perm(len(candidates)) {
		pid := candidates[i]
		for attempt := 1; attempt <= maxRetryAttempts; attempt++ {
			if task.cancelled() {
				return
			}
			data, err := DownloadChunk(pid.NetAddress(), file, index)
			if err == nil && expectedLen != 0 && uint64(len(data)) != expectedLen {
				err = errors.New("peer sent a chunk of the wrong length")
			}
			if err == nil {
				if err := dl.store.SaveChunk(file, index, data); err != nil {
					dl.log.Println("ERROR: unable to store chunk", index, "of", file, ":", err)
					return
				}
				task.markFetched(index)
				return
			}
			dl.log.Debugf("INFO: chunk %v of %v from %v attempt %v failed: %v", index, file, pid, attempt, err)
			if attempt < maxRetryAttempts {
				select {
				case <-time.After(time.Duration(attempt) * chunkRetryBackoff):
				case <-task.cancelChan:
					return
				}
			}
		}
	}
	dl.log.Printf("WARN: chunk %v of %v could not be fetched from any of %v peers", index, file, len(candidates))
}

// managedEnsureMetadata guarantees that file has metadata before the final
// reconstruction, deriving size and chunk count from the collected chunks
// when no source peer ever supplied them. The hash stays unknown in that
// case; reconstruction computes and adopts it.
func (dl *Downloader) managedEnsureMetadata(file string, totalChunks uint32) error {
	if _, exists := dl.store.Metadata(file); exists {
		return nil
	}
	lastChunk, err := dl.store.LoadChunk(file, totalChunks-1)
	if err != nil {
		return errors.AddContext(err, "unable to size the final chunk")
	}
	fileSize := uint64(totalChunks-1)*modules.ChunkSize + uint64(len(lastChunk))
	return dl.store.SetMetadata(modules.FileMetadata{
		FileName:    file,
		FileSize:    fileSize,
		TotalChunks: totalChunks,
		CreatedAt:   time.Now().UnixMilli(),
	})
}
