package tracker

import (
	"time"

	"go.filefleet.net/fleetd/modules"
)

// managedRegister creates (or re-creates) a directory entry with an empty
// file set.
func (tr *Tracker) managedRegister(pid modules.PeerID) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.directory[pid] = &modules.PeerInfo{
		PeerID:   pid,
		LastSeen: time.Now().UnixMilli(),
		Files:    make(map[string]modules.ChunkSet),
	}
}

// managedUpdate replaces a peer's advertised inventory, creating the entry
// if the peer is unknown. The replacement is atomic: requesters never see a
// half-applied file set.
func (tr *Tracker) managedUpdate(pid modules.PeerID, files map[string]modules.ChunkSet) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.directory[pid] = &modules.PeerInfo{
		PeerID:   pid,
		LastSeen: time.Now().UnixMilli(),
		Files:    files,
	}
}

// managedUnregister removes a peer's entry if present.
func (tr *Tracker) managedUnregister(pid modules.PeerID) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	delete(tr.directory, pid)
}

// managedHeartbeat refreshes a peer's liveness. Heartbeats from unknown
// peers are a no-op; the peer is expected to re-register.
func (tr *Tracker) managedHeartbeat(pid modules.PeerID) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	entry, exists := tr.directory[pid]
	if !exists {
		return
	}
	entry.LastSeen = time.Now().UnixMilli()
}

// managedPeersExcluding snapshots the live directory, omitting the
// requester itself and any entry past the peer timeout.
func (tr *Tracker) managedPeersExcluding(requester modules.PeerID) []modules.PeerInfo {
	now := time.Now().UnixMilli()
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	peers := make([]modules.PeerInfo, 0, len(tr.directory))
	for pid, entry := range tr.directory {
		if pid == requester {
			continue
		}
		if now-entry.LastSeen > peerTimeout.Milliseconds() {
			continue
		}
		peers = append(peers, entry.Copy())
	}
	return peers
}

// managedEvictExpired removes every entry past the peer timeout, returning
// the evicted identities.
func (tr *Tracker) managedEvictExpired() []modules.PeerID {
	now := time.Now().UnixMilli()
	tr.mu.Lock()
	defer tr.mu.Unlock()
	var evicted []modules.PeerID
	for pid, entry := range tr.directory {
		if now-entry.LastSeen > peerTimeout.Milliseconds() {
			delete(tr.directory, pid)
			evicted = append(evicted, pid)
		}
	}
	return evicted
}
