package downloader

import (
	"time"

	"gitlab.com/NebulousLabs/errors"

	"go.filefleet.net/fleetd/build"
)

const (
	// logFile names the download coordinator's log file within its
	// persist directory.
	logFile = "downloader.log"

	// maxConcurrentDownloads caps the download tasks running at once.
	maxConcurrentDownloads = 3

	// fetchersPerTask is the size of each task's fetch worker pool.
	fetchersPerTask = 3

	// maxRetryAttempts is how often one chunk is requested from one peer
	// before the peer is abandoned for that chunk.
	maxRetryAttempts = 3
)

var (
	// connectTimeout bounds the TCP dial to a peer.
	connectTimeout = build.Select(build.Var{
		Standard: 10 * time.Second,
		Dev:      5 * time.Second,
		Testing:  2 * time.Second,
	}).(time.Duration)

	// readTimeout bounds reading a response from a peer.
	readTimeout = build.Select(build.Var{
		Standard: 15 * time.Second,
		Dev:      10 * time.Second,
		Testing:  5 * time.Second,
	}).(time.Duration)

	// chunkRetryBackoff is the base of the linear backoff between chunk
	// attempts against one peer: the n'th retry waits n times this long.
	chunkRetryBackoff = build.Select(build.Var{
		Standard: time.Second,
		Dev:      250 * time.Millisecond,
		Testing:  25 * time.Millisecond,
	}).(time.Duration)

	// taskDeadline is the hard limit on one task's fetch pool.
	taskDeadline = build.Select(build.Var{
		Standard: 5 * time.Minute,
		Dev:      2 * time.Minute,
		Testing:  30 * time.Second,
	}).(time.Duration)
)

var (
	// errNoSources is returned when no known peer holds any chunk of the
	// requested file.
	errNoSources = errors.New("no peer in the directory holds any chunk of the file")

	// errAlreadyDownloading is returned when a task for the file is
	// already running.
	errAlreadyDownloading = errors.New("a download task for this file is already running")

	// errCancelled is returned by tasks that were cancelled. Chunks
	// already written stay in the store.
	errCancelled = errors.New("download cancelled")

	// errIncomplete is returned when the fetch pool drains without
	// collecting every needed chunk.
	errIncomplete = errors.New("download incomplete, some chunks could not be fetched")
)
