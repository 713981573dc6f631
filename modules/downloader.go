package modules

// DownloadInfo reports the progress of one download task.
type DownloadInfo struct {
	FileName    string `json:"filename"`
	TotalChunks uint32 `json:"totalchunks"`
	Downloaded  uint32 `json:"downloaded"`
	Missing     uint32 `json:"missing"`
	Completed   bool   `json:"completed"`
	Cancelled   bool   `json:"cancelled"`
	Err         string `json:"err,omitempty"`
}

// A Downloader coordinates multi-source chunk downloads into the local
// store.
type Downloader interface {
	// Download queues a download task for the named file and blocks until
	// the task finishes. At most three tasks run concurrently; excess
	// callers wait for a slot.
	Download(file string) error

	// Downloads lists the queued and finished tasks, most recent first.
	Downloads() []DownloadInfo

	// Cancel requests cooperative cancellation of the named task. It
	// reports whether a running task was found.
	Cancel(file string) bool

	// Close cancels all tasks and shuts the coordinator down.
	Close() error
}
