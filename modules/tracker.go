package modules

const (
	// TrackerDir names the directory that contains the files used by the
	// tracker.
	TrackerDir = "tracker"
)

// PeerInfo is one entry of the tracker's peer directory: a peer identity,
// the moment it was last heard from, and the inventory it advertises.
type PeerInfo struct {
	PeerID   PeerID              `json:"peerid"`
	LastSeen int64               `json:"lastseen"` // unix milliseconds
	Files    map[string]ChunkSet `json:"files"`
}

// Copy returns a deep copy of the entry.
func (pi PeerInfo) Copy() PeerInfo {
	files := make(map[string]ChunkSet, len(pi.Files))
	for name, cs := range pi.Files {
		files[name] = cs.Copy()
	}
	return PeerInfo{PeerID: pi.PeerID, LastSeen: pi.LastSeen, Files: files}
}

// A Tracker is the rendezvous service: it maintains the directory of live
// peers and the inventory each advertises.
type Tracker interface {
	// Peers returns a snapshot of all live directory entries.
	Peers() []PeerInfo

	// Address returns the UDP address the tracker is listening on.
	Address() NetAddress

	// Requests returns the number of datagrams handled so far.
	Requests() uint64

	// Close shuts the tracker down.
	Close() error
}
