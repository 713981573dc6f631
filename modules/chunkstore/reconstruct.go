package chunkstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gitlab.com/NebulousLabs/errors"

	"go.filefleet.net/fleetd/crypto"
	"go.filefleet.net/fleetd/modules"
)

// Reconstruct assembles the complete file into the shared folder, verifying
// its hash. Reconstructing an already present file is a no-op success.
func (cs *ChunkStore) Reconstruct(file string) error {
	if err := cs.tg.Add(); err != nil {
		return err
	}
	defer cs.tg.Done()
	return cs.managedReconstruct(file)
}

// managedReconstruct performs reconstruction. The chunk reads run under a
// demoted lock: concurrent readers proceed, but the availability state the
// reconstruction was validated against cannot be deleted out from under it.
func (cs *ChunkStore) managedReconstruct(file string) error {
	cs.mu.Lock()
	md, exists := cs.metadata[file]
	if !exists {
		cs.mu.Unlock()
		return errors.AddContext(ErrUnknownFile, file)
	}
	if !cs.availability[file].Complete(md.TotalChunks) {
		cs.mu.Unlock()
		return errors.New("file is not complete, " + fmt.Sprint(len(cs.availability[file])) + " of " + fmt.Sprint(md.TotalChunks) + " chunks available")
	}
	cs.mu.Demote()

	dest := filepath.Join(cs.sharedDir, file)
	computedHash, err := func() (crypto.Hash, error) {
		defer cs.mu.DemotedUnlock()

		// An already reconstructed file is a success.
		if _, err := os.Stat(dest); err == nil {
			return md.FileHash, nil
		}

		tmp := dest + tmpSuffix
		out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
		if err != nil {
			return crypto.Hash{}, errors.AddContext(err, "unable to create reconstruction target")
		}
		hasher := crypto.NewHash()
		w := io.MultiWriter(out, hasher)
		for index := uint32(0); index < md.TotalChunks; index++ {
			data, err := os.ReadFile(cs.chunkPath(file, index))
			if err != nil {
				out.Close()
				os.Remove(tmp)
				return crypto.Hash{}, errors.AddContext(err, "unable to read chunk during reconstruction")
			}
			if _, err := w.Write(data); err != nil {
				out.Close()
				os.Remove(tmp)
				return crypto.Hash{}, errors.AddContext(err, "unable to write reconstruction target")
			}
		}
		if err := out.Sync(); err != nil {
			out.Close()
			os.Remove(tmp)
			return crypto.Hash{}, errors.AddContext(err, "unable to sync reconstruction target")
		}
		if err := out.Close(); err != nil {
			os.Remove(tmp)
			return crypto.Hash{}, err
		}

		var computed crypto.Hash
		copy(computed[:], hasher.Sum(nil))
		if !md.FileHash.IsZero() && computed != md.FileHash {
			os.Remove(tmp)
			return crypto.Hash{}, errors.AddContext(ErrHashMismatch, file)
		}
		if err := os.Rename(tmp, dest); err != nil {
			os.Remove(tmp)
			return crypto.Hash{}, errors.AddContext(err, "unable to commit reconstructed file")
		}
		return computed, nil
	}()
	if err != nil {
		return err
	}

	// A file reconstructed without a recorded hash adopts the computed
	// one, so future reconstructions verify strictly.
	if md.FileHash.IsZero() && !computedHash.IsZero() {
		md.FileHash = computedHash
		if err := cs.managedAdoptMetadata(md); err != nil {
			cs.log.Println("WARN: unable to persist adopted hash for", file, ":", err)
		} else {
			cs.log.Println("INFO: adopted computed hash for", file)
		}
	}
	return nil
}

// managedAdoptMetadata rewrites a file's metadata under the write lock.
func (cs *ChunkStore) managedAdoptMetadata(md modules.FileMetadata) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if _, exists := cs.metadata[md.FileName]; !exists {
		return errors.AddContext(ErrUnknownFile, md.FileName)
	}
	stem := sanitizeFileName(md.FileName)
	if err := writeMetadataFile(filepath.Join(cs.metadataDir, stem+metadataSuffix), md); err != nil {
		return err
	}
	cs.metadata[md.FileName] = md
	return nil
}

// ReconstructPartial renders an incomplete file as <file>.partial with
// missing chunks zero-filled, alongside a <file>.partial.info description
// of what is missing.
func (cs *ChunkStore) ReconstructPartial(file string) error {
	if err := cs.tg.Add(); err != nil {
		return err
	}
	defer cs.tg.Done()

	cs.mu.Lock()
	md, exists := cs.metadata[file]
	if !exists {
		cs.mu.Unlock()
		return errors.AddContext(ErrUnknownFile, file)
	}
	available := cs.availability[file].Copy()
	cs.mu.Demote()
	defer cs.mu.DemotedUnlock()

	dest := filepath.Join(cs.sharedDir, file+partialSuffix)
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return errors.AddContext(err, "unable to create partial target")
	}
	var missing []uint32
	zeros := make([]byte, modules.ChunkSize)
	for index := uint32(0); index < md.TotalChunks; index++ {
		expectedLen := modules.ChunkLen(md.FileSize, index)
		if !available.Has(index) {
			missing = append(missing, index)
			if _, err := out.Write(zeros[:expectedLen]); err != nil {
				out.Close()
				return errors.AddContext(err, "unable to write partial target")
			}
			continue
		}
		data, err := os.ReadFile(cs.chunkPath(file, index))
		if err != nil {
			// A chunk that vanished is rendered as missing rather than
			// failing the whole render.
			cs.log.Println("WARN: chunk", index, "of", file, "unreadable during partial render:", err)
			missing = append(missing, index)
			data = zeros[:expectedLen]
		}
		if _, err := out.Write(data); err != nil {
			out.Close()
			return errors.AddContext(err, "unable to write partial target")
		}
	}
	if err := out.Close(); err != nil {
		return err
	}

	// Describe the render next to it.
	hash := pendingVerificationHash
	if !md.FileHash.IsZero() {
		hash = md.FileHash.String()
	}
	availableCount := md.TotalChunks - uint32(len(missing))
	percentage := float64(availableCount) / float64(md.TotalChunks) * 100
	var sb strings.Builder
	fmt.Fprintf(&sb, "fileName=%s\n", file)
	fmt.Fprintf(&sb, "fileSize=%d\n", md.FileSize)
	fmt.Fprintf(&sb, "totalChunks=%d\n", md.TotalChunks)
	fmt.Fprintf(&sb, "availableChunks=%d\n", availableCount)
	fmt.Fprintf(&sb, "percentage=%.1f\n", percentage)
	fmt.Fprintf(&sb, "fileHash=%s\n", hash)
	missingStrs := make([]string, 0, len(missing))
	for _, index := range missing {
		missingStrs = append(missingStrs, fmt.Sprint(index))
	}
	fmt.Fprintf(&sb, "missingChunks=%s\n", strings.Join(missingStrs, ","))
	infoPath := filepath.Join(cs.sharedDir, file+partialInfoSuffix)
	if err := os.WriteFile(infoPath, []byte(sb.String()), 0600); err != nil {
		return errors.AddContext(err, "unable to write partial info")
	}
	cs.log.Printf("INFO: rendered %v as partial, %v/%v chunks", file, availableCount, md.TotalChunks)
	return nil
}
