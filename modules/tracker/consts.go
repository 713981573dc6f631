package tracker

import (
	"time"

	"go.filefleet.net/fleetd/build"
)

const (
	// logFile names the tracker's log file within its persist directory.
	logFile = "tracker.log"

	// persistFilename names the directory snapshot file.
	persistFilename = "tracker.json"

	// workerPoolSize is the number of workers draining the request queue.
	// Ten keeps up with swarms well past the size a single UDP socket can
	// feed.
	workerPoolSize = 10

	// requestQueueSize bounds the datagrams waiting for a worker.
	requestQueueSize = 100
)

var (
	// peerTimeout is how long a peer may stay silent before the sweeper
	// evicts it. Entries past the timeout are never returned to
	// requesters even before eviction.
	peerTimeout = build.Select(build.Var{
		Standard: 120 * time.Second,
		Dev:      30 * time.Second,
		Testing:  2 * time.Second,
	}).(time.Duration)

	// cleanupInterval is the cadence of the eviction sweeper.
	cleanupInterval = build.Select(build.Var{
		Standard: 60 * time.Second,
		Dev:      10 * time.Second,
		Testing:  250 * time.Millisecond,
	}).(time.Duration)

	// receiveTimeout is the read deadline on the UDP socket. Expiries are
	// normal; they let the receive loop poll the stop channel.
	receiveTimeout = build.Select(build.Var{
		Standard: 1 * time.Second,
		Dev:      1 * time.Second,
		Testing:  100 * time.Millisecond,
	}).(time.Duration)

	// saveInterval is the cadence of directory snapshot persistence.
	saveInterval = build.Select(build.Var{
		Standard: 2 * time.Minute,
		Dev:      30 * time.Second,
		Testing:  2 * time.Second,
	}).(time.Duration)
)
