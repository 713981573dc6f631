package chunkserver

import (
	"time"

	"go.filefleet.net/fleetd/build"
)

const (
	// logFile names the chunk server's log file within its persist
	// directory.
	logFile = "chunkserver.log"

	// maxConnections caps the handlers running at once. Connections
	// arriving past the cap are closed immediately.
	maxConnections = 20
)

var (
	// readTimeout is the deadline for reading a request line off an
	// accepted connection.
	readTimeout = build.Select(build.Var{
		Standard: 30 * time.Second,
		Dev:      10 * time.Second,
		Testing:  5 * time.Second,
	}).(time.Duration)

	// writeTimeout is the deadline for writing a response, sized for a
	// full chunk over a slow link.
	writeTimeout = build.Select(build.Var{
		Standard: 60 * time.Second,
		Dev:      30 * time.Second,
		Testing:  5 * time.Second,
	}).(time.Duration)
)
