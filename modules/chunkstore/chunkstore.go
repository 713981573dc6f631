// Package chunkstore owns the on-disk content of a peer: the user-visible
// shared folder, the chunks/ directory of 1 MiB chunk files, and the
// metadata/ directory of per-file descriptions. It is the local source of
// truth; the chunk server reads through it and the download coordinator
// writes through it, never touching file handles directly.
package chunkstore

import (
	"os"
	"path/filepath"

	"gitlab.com/NebulousLabs/demotemutex"
	"gitlab.com/NebulousLabs/errors"
	"gitlab.com/NebulousLabs/threadgroup"

	"go.filefleet.net/fleetd/modules"
	"go.filefleet.net/fleetd/persist"
)

// ChunkStore implements the modules.ChunkStore interface.
type ChunkStore struct {
	// In-memory indices over the on-disk layout. metadata holds one entry
	// per known file; availability holds the set of chunk indices present
	// on disk; stems maps each sanitized stem back to the file name that
	// claimed it, guarding against collisions.
	metadata     map[string]modules.FileMetadata
	availability map[string]modules.ChunkSet
	stems        map[string]string
	mu           demotemutex.DemoteMutex

	// updater is poked whenever the advertised inventory changes. It is
	// nil until the tracker client is wired in.
	updater modules.InventoryUpdater

	sharedDir   string
	chunksDir   string
	metadataDir string

	log *persist.Logger
	tg  threadgroup.ThreadGroup
}

// New opens the chunk store rooted at sharedDir, creating the layout lazily
// and rebuilding the in-memory indices from disk.
func New(sharedDir string, persistDir string) (*ChunkStore, error) {
	cs := &ChunkStore{
		metadata:     make(map[string]modules.FileMetadata),
		availability: make(map[string]modules.ChunkSet),
		stems:        make(map[string]string),

		sharedDir:   sharedDir,
		chunksDir:   filepath.Join(sharedDir, modules.ChunkStoreDir),
		metadataDir: filepath.Join(sharedDir, modules.ChunkStoreMetadataDir),
	}

	for _, dir := range []string{sharedDir, cs.chunksDir, cs.metadataDir, persistDir} {
		if err := os.MkdirAll(dir, persist.DefaultDirPermissions); err != nil {
			return nil, errors.AddContext(err, "unable to create chunk store directory")
		}
	}
	var err error
	cs.log, err = persist.NewFileLogger(filepath.Join(persistDir, logFile))
	if err != nil {
		return nil, errors.AddContext(err, "unable to create chunk store logger")
	}
	cs.tg.AfterStop(func() error {
		return cs.log.Close()
	})

	if err := cs.loadAll(); err != nil {
		return nil, errors.Compose(err, cs.log.Close())
	}
	cs.log.Printf("INFO: chunk store opened with %v files", len(cs.metadata))
	return cs, nil
}

// SetInventoryUpdater wires in the component that pushes inventory changes
// to the tracker. Only the narrow updater interface crosses this boundary.
func (cs *ChunkStore) SetInventoryUpdater(updater modules.InventoryUpdater) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.updater = updater
}

// SharedDir returns the path of the user-visible shared folder.
func (cs *ChunkStore) SharedDir() string {
	return cs.sharedDir
}

// Close releases the store.
func (cs *ChunkStore) Close() error {
	return cs.tg.Stop()
}

// loadAll rebuilds the in-memory indices: metadata files first, then a scan
// of the chunk directory to recover availability.
func (cs *ChunkStore) loadAll() error {
	entries, err := os.ReadDir(cs.metadataDir)
	if err != nil {
		return errors.AddContext(err, "unable to scan metadata directory")
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != metadataSuffix {
			continue
		}
		md, err := readMetadataFile(filepath.Join(cs.metadataDir, entry.Name()))
		if err != nil {
			cs.log.Println("WARN: skipping unreadable metadata file", entry.Name(), ":", err)
			continue
		}
		stem := sanitizeFileName(md.FileName)
		if claimed, exists := cs.stems[stem]; exists {
			cs.log.Println("WARN: metadata for", md.FileName, "collides with", claimed, "- skipping")
			continue
		}
		cs.metadata[md.FileName] = md
		cs.stems[stem] = md.FileName
		cs.availability[md.FileName] = make(modules.ChunkSet)
	}

	// Walk the chunk directory and map each chunk file back to its owner
	// through the stem table.
	chunkEntries, err := os.ReadDir(cs.chunksDir)
	if err != nil {
		return errors.AddContext(err, "unable to scan chunk directory")
	}
	for _, entry := range chunkEntries {
		if entry.IsDir() {
			continue
		}
		stem, index, ok := parseChunkFileName(entry.Name())
		if !ok {
			continue
		}
		file, known := cs.stems[stem]
		if !known {
			cs.log.Println("WARN: chunk file", entry.Name(), "has no metadata, leaving it orphaned")
			continue
		}
		if md := cs.metadata[file]; index >= md.TotalChunks {
			cs.log.Println("WARN: chunk file", entry.Name(), "is out of range for", file)
			continue
		}
		cs.availability[file].Add(index)
	}
	return nil
}

// managedForceUpdate pokes the tracker updater, if one is wired in.
func (cs *ChunkStore) managedForceUpdate() {
	cs.mu.RLock()
	updater := cs.updater
	cs.mu.RUnlock()
	if updater != nil {
		updater.ForceUpdate()
	}
}

// Metadata returns the stored metadata of one file.
func (cs *ChunkStore) Metadata(file string) (modules.FileMetadata, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	md, exists := cs.metadata[file]
	return md, exists
}

// SetMetadata persists metadata constructed by a caller. Registering a file
// whose sanitized stem is already claimed by a different file is refused.
func (cs *ChunkStore) SetMetadata(md modules.FileMetadata) error {
	if err := cs.tg.Add(); err != nil {
		return err
	}
	defer cs.tg.Done()

	cs.mu.Lock()
	defer cs.mu.Unlock()
	stem := sanitizeFileName(md.FileName)
	if claimed, exists := cs.stems[stem]; exists && claimed != md.FileName {
		return errors.AddContext(ErrStemCollision, "stem "+stem+" is claimed by "+claimed)
	}
	if err := writeMetadataFile(filepath.Join(cs.metadataDir, stem+metadataSuffix), md); err != nil {
		return errors.AddContext(err, "unable to persist metadata")
	}
	cs.metadata[md.FileName] = md
	cs.stems[stem] = md.FileName
	if _, exists := cs.availability[md.FileName]; !exists {
		cs.availability[md.FileName] = make(modules.ChunkSet)
	}
	return nil
}

// Available returns the availability set of one file.
func (cs *ChunkStore) Available(file string) modules.ChunkSet {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.availability[file].Copy()
}

// AllFiles returns the availability sets of every known file.
func (cs *ChunkStore) AllFiles() map[string]modules.ChunkSet {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	all := make(map[string]modules.ChunkSet, len(cs.availability))
	for file, set := range cs.availability {
		all[file] = set.Copy()
	}
	return all
}

// enforce that ChunkStore satisfies the modules.ChunkStore interface
var _ modules.ChunkStore = (*ChunkStore)(nil)
