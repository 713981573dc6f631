package chunkstore

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"gitlab.com/NebulousLabs/errors"

	"go.filefleet.net/fleetd/crypto"
	"go.filefleet.net/fleetd/modules"
)

// Ingest chunks, hashes and registers the regular file at path. Files the
// ignore policy excludes, empty files, and files whose name and size are
// already registered are all refused without side effects.
func (cs *ChunkStore) Ingest(path string) error {
	if err := cs.tg.Add(); err != nil {
		return err
	}
	defer cs.tg.Done()

	name := filepath.Base(path)
	if modules.IsIgnoredName(name) {
		return errors.AddContext(ErrIgnoredFile, name)
	}
	info, err := os.Stat(path)
	if err != nil {
		return errors.AddContext(err, "unable to stat ingest candidate")
	}
	if !info.Mode().IsRegular() {
		return errors.New("refusing to ingest non-regular file " + name)
	}
	if info.Size() == 0 {
		return errors.AddContext(ErrEmptyFile, name)
	}
	fileSize := uint64(info.Size())

	// Claim the name before doing any disk work.
	if err := cs.managedClaimIngest(name, fileSize); err != nil {
		return err
	}

	md, err := cs.splitAndHash(path, name, fileSize)
	if err != nil {
		cs.managedReleaseIngest(name)
		return errors.AddContext(err, "unable to ingest "+name)
	}
	if err := cs.managedRegisterIngest(md); err != nil {
		cs.managedReleaseIngest(name)
		return errors.AddContext(err, "unable to register "+name)
	}

	cs.log.Printf("INFO: ingested %v, %v bytes in %v chunks, hash %v", name, md.FileSize, md.TotalChunks, md.FileHash)
	cs.managedForceUpdate()
	return nil
}

// managedClaimIngest validates that an ingest may proceed and claims the
// sanitized stem. Duplicate work is suppressed by size comparison: metadata
// of the same name and size means the file is already chunked.
func (cs *ChunkStore) managedClaimIngest(name string, fileSize uint64) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if md, exists := cs.metadata[name]; exists && md.FileSize == fileSize {
		return errors.New("file " + name + " is already ingested at this size")
	}
	stem := sanitizeFileName(name)
	if claimed, exists := cs.stems[stem]; exists && claimed != name {
		return errors.AddContext(ErrStemCollision, "stem "+stem+" is claimed by "+claimed)
	}
	cs.stems[stem] = name
	return nil
}

// managedReleaseIngest drops a stem claim after a failed ingest, unless the
// file made it into the metadata table after all.
func (cs *ChunkStore) managedReleaseIngest(name string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if _, exists := cs.metadata[name]; exists {
		return
	}
	stem := sanitizeFileName(name)
	if cs.stems[stem] == name {
		delete(cs.stems, stem)
	}
}

// splitAndHash streams the file into chunk files while hashing the whole
// byte stream. It runs without the store lock; the stem claim keeps the
// chunk file names exclusive.
func (cs *ChunkStore) splitAndHash(path, name string, fileSize uint64) (modules.FileMetadata, error) {
	in, err := os.Open(path)
	if err != nil {
		return modules.FileMetadata{}, err
	}
	defer in.Close()

	stem := sanitizeFileName(name)
	hasher := crypto.NewHash()
	totalChunks := modules.NumChunks(fileSize)
	buf := make([]byte, modules.ChunkSize)
	for index := uint32(0); index < totalChunks; index++ {
		chunkLen := modules.ChunkLen(fileSize, index)
		if _, err := io.ReadFull(in, buf[:chunkLen]); err != nil {
			return modules.FileMetadata{}, errors.AddContext(err, "file shrank while being chunked")
		}
		hasher.Write(buf[:chunkLen])
		chunkFile := filepath.Join(cs.chunksDir, chunkFileName(stem, index))
		if err := os.WriteFile(chunkFile, buf[:chunkLen], 0600); err != nil {
			return modules.FileMetadata{}, errors.AddContext(err, "unable to write chunk file")
		}
	}
	// Anything left over means the file grew mid-ingest; the watcher will
	// deliver another event and the size check will spot the change.
	if n, _ := in.Read(buf[:1]); n != 0 {
		return modules.FileMetadata{}, errors.New("file grew while being chunked")
	}

	var fileHash crypto.Hash
	copy(fileHash[:], hasher.Sum(nil))
	return modules.FileMetadata{
		FileName:    name,
		FileSize:    fileSize,
		TotalChunks: totalChunks,
		FileHash:    fileHash,
		CreatedAt:   time.Now().UnixMilli(),
	}, nil
}

// managedRegisterIngest persists the metadata and registers the full
// availability set.
func (cs *ChunkStore) managedRegisterIngest(md modules.FileMetadata) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	stem := sanitizeFileName(md.FileName)
	if err := writeMetadataFile(filepath.Join(cs.metadataDir, stem+metadataSuffix), md); err != nil {
		return err
	}
	set := make(modules.ChunkSet, md.TotalChunks)
	for index := uint32(0); index < md.TotalChunks; index++ {
		set.Add(index)
	}
	cs.metadata[md.FileName] = md
	cs.availability[md.FileName] = set
	return nil
}
