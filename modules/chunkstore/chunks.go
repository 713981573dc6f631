package chunkstore

import (
	"os"
	"path/filepath"

	"gitlab.com/NebulousLabs/errors"

	"go.filefleet.net/fleetd/modules"
)

// chunkPath returns the on-disk path of (file, index).
func (cs *ChunkStore) chunkPath(file string, index uint32) string {
	return filepath.Join(cs.chunksDir, chunkFileName(sanitizeFileName(file), index))
}

// SaveChunk writes or overwrites one chunk and records its availability.
// The write is last-writer-wins; readers see the old bytes or the new,
// never a mix, because the bytes land in a temp file that is renamed into
// place. A chunk that completes its file triggers reconstruction.
func (cs *ChunkStore) SaveChunk(file string, index uint32, data []byte) error {
	if err := cs.tg.Add(); err != nil {
		return err
	}
	defer cs.tg.Done()

	cs.mu.Lock()
	md, haveMetadata := cs.metadata[file]
	if haveMetadata && index >= md.TotalChunks {
		cs.mu.Unlock()
		return errors.AddContext(ErrInvalidChunkIndex, file)
	}
	if claimed, exists := cs.stems[sanitizeFileName(file)]; exists && claimed != file {
		cs.mu.Unlock()
		return errors.AddContext(ErrStemCollision, file)
	}

	// Write through a temp file and rename so concurrent loads never see
	// a torn chunk.
	path := cs.chunkPath(file, index)
	tmp := path + "_temp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		cs.mu.Unlock()
		return errors.AddContext(err, "unable to write chunk file")
	}
	if err := os.Rename(tmp, path); err != nil {
		cs.mu.Unlock()
		return errors.AddContext(err, "unable to commit chunk file")
	}

	set, exists := cs.availability[file]
	if !exists {
		set = make(modules.ChunkSet)
		cs.availability[file] = set
		cs.stems[sanitizeFileName(file)] = file
	}
	set.Add(index)
	complete := haveMetadata && set.Complete(md.TotalChunks)
	cs.mu.Unlock()

	if complete {
		if err := cs.managedReconstruct(file); err != nil {
			cs.log.Println("ERROR: reconstruction after final chunk failed:", err)
			return err
		}
		cs.log.Println("INFO: completed and reconstructed", file)
		cs.managedForceUpdate()
	}
	return nil
}

// LoadChunk reads one chunk from disk. Absent chunks and read failures both
// surface as errors; the caller treats either as unavailable.
func (cs *ChunkStore) LoadChunk(file string, index uint32) ([]byte, error) {
	if err := cs.tg.Add(); err != nil {
		return nil, err
	}
	defer cs.tg.Done()

	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if !cs.availability[file].Has(index) {
		return nil, errors.AddContext(ErrChunkNotAvailable, file)
	}
	data, err := os.ReadFile(cs.chunkPath(file, index))
	if err != nil {
		return nil, errors.AddContext(err, "unable to read chunk file")
	}
	return data, nil
}

// HasChunk reports whether the chunk is available locally.
func (cs *ChunkStore) HasChunk(file string, index uint32) bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.availability[file].Has(index)
}

// Delete removes a file's chunks and metadata, on disk and in memory.
func (cs *ChunkStore) Delete(file string) error {
	if err := cs.tg.Add(); err != nil {
		return err
	}
	defer cs.tg.Done()

	cs.mu.Lock()
	stem := sanitizeFileName(file)
	set := cs.availability[file]
	var composed error
	for index := range set {
		path := filepath.Join(cs.chunksDir, chunkFileName(stem, index))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			composed = errors.Compose(composed, err)
		}
	}
	metaPath := filepath.Join(cs.metadataDir, stem+metadataSuffix)
	if err := os.Remove(metaPath); err != nil && !os.IsNotExist(err) {
		composed = errors.Compose(composed, err)
	}
	delete(cs.availability, file)
	delete(cs.metadata, file)
	if cs.stems[stem] == file {
		delete(cs.stems, stem)
	}
	cs.mu.Unlock()

	cs.log.Println("INFO: deleted", file)
	cs.managedForceUpdate()
	return composed
}
