package tracker

import (
	"path/filepath"
	"time"

	"go.filefleet.net/fleetd/modules"
	"go.filefleet.net/fleetd/persist"
)

// persistMetadata identifies the directory snapshot file.
var persistMetadata = persist.Metadata{
	Header:  "Tracker Directory",
	Version: "1.0.0",
}

// persistence is the on-disk form of the directory snapshot.
type persistence struct {
	Peers []modules.PeerInfo `json:"peers"`
}

// managedSave writes the directory snapshot to disk.
func (tr *Tracker) managedSave() error {
	tr.mu.RLock()
	data := persistence{Peers: make([]modules.PeerInfo, 0, len(tr.directory))}
	for _, entry := range tr.directory {
		data.Peers = append(data.Peers, entry.Copy())
	}
	tr.mu.RUnlock()
	return persist.SaveJSON(persistMetadata, data, filepath.Join(tr.persistDir, persistFilename))
}

// load restores the directory snapshot from disk. Reloaded peers keep their
// inventory but have their liveness reset to load time, after which they
// age normally: a restarted tracker keeps the swarm while still evicting
// peers that never come back.
func (tr *Tracker) load() error {
	var data persistence
	err := persist.LoadJSON(persistMetadata, &data, filepath.Join(tr.persistDir, persistFilename))
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for i := range data.Peers {
		entry := data.Peers[i]
		if err := entry.PeerID.IsValid(); err != nil {
			tr.log.Println("WARN: dropping persisted entry with invalid id:", entry.PeerID)
			continue
		}
		entry.LastSeen = now
		if entry.Files == nil {
			entry.Files = make(map[string]modules.ChunkSet)
		}
		tr.directory[entry.PeerID] = &entry
	}
	return nil
}
