package modules

// An InventoryUpdater accepts requests to push the local inventory to the
// tracker ahead of schedule. The watcher and chunk store are handed this
// narrow interface rather than the full tracker client so that ingestion
// cannot reach back into the peer's whole surface.
type InventoryUpdater interface {
	ForceUpdate()
}

// A TrackerClient keeps one peer registered with the tracker: it pushes the
// local inventory on a schedule, heartbeats, and caches the peer directory
// the tracker echoes back.
type TrackerClient interface {
	InventoryUpdater

	// Register announces the peer to the tracker.
	Register() error

	// Unregister removes the peer from the tracker.
	Unregister() error

	// Heartbeat refreshes the peer's liveness without resending inventory.
	Heartbeat() error

	// SendUpdate pushes the current inventory immediately.
	SendUpdate() error

	// KnownPeers returns the latest directory snapshot, excluding self.
	KnownPeers() map[PeerID]PeerInfo

	// IsConnected reports whether the tracker has responded recently.
	IsConnected() bool

	// PeerID returns the identity this client registers under.
	PeerID() PeerID

	// Close unregisters and shuts the client down.
	Close() error
}
