package trackerclient

import (
	"time"

	"go.filefleet.net/fleetd/build"
)

const (
	// logFile names the tracker client's log file within its persist
	// directory.
	logFile = "trackerclient.log"

	// maxRequestAttempts is how many times a request is sent before the
	// round trip is reported failed.
	maxRequestAttempts = 3
)

var (
	// updateInterval is the cadence of periodic inventory updates.
	updateInterval = build.Select(build.Var{
		Standard: 30 * time.Second,
		Dev:      10 * time.Second,
		Testing:  500 * time.Millisecond,
	}).(time.Duration)

	// heartbeatInterval is the cadence of liveness heartbeats.
	heartbeatInterval = build.Select(build.Var{
		Standard: 60 * time.Second,
		Dev:      20 * time.Second,
		Testing:  time.Second,
	}).(time.Duration)

	// responseTimeout is how long one request waits for its response
	// datagram.
	responseTimeout = build.Select(build.Var{
		Standard: 5 * time.Second,
		Dev:      2 * time.Second,
		Testing:  500 * time.Millisecond,
	}).(time.Duration)

	// retryBackoff is the base of the linear backoff between attempts:
	// the n'th retry waits n times this long.
	retryBackoff = build.Select(build.Var{
		Standard: time.Second,
		Dev:      500 * time.Millisecond,
		Testing:  50 * time.Millisecond,
	}).(time.Duration)

	// connectedWindow is how recently the tracker must have responded for
	// the client to consider itself connected.
	connectedWindow = build.Select(build.Var{
		Standard: 120 * time.Second,
		Dev:      60 * time.Second,
		Testing:  5 * time.Second,
	}).(time.Duration)
)
