package chunkstore

import (
	"gitlab.com/NebulousLabs/errors"
)

const (
	// logFile names the chunk store's log file within its persist
	// directory.
	logFile = "chunkstore.log"

	// chunkSuffix is the extension of binary chunk files.
	chunkSuffix = ".chunks"

	// metadataSuffix is the extension of per-file metadata files.
	metadataSuffix = ".meta"

	// tmpSuffix is the extension of in-progress reconstruction targets.
	tmpSuffix = ".tmp"

	// partialSuffix is the extension of partial reconstruction targets.
	partialSuffix = ".partial"

	// partialInfoSuffix is the extension of the text description written
	// alongside a partial reconstruction.
	partialInfoSuffix = ".partial.info"

	// pendingVerificationHash is persisted in place of a file hash that
	// has not been learned yet, e.g. for metadata assembled from
	// downloaded chunks whose origin never supplied a hash.
	pendingVerificationHash = "pending-verification"
)

var (
	// ErrUnknownFile is returned when an operation names a file with no
	// metadata.
	ErrUnknownFile = errors.New("no metadata for file")

	// ErrInvalidChunkIndex is returned when a chunk index is outside the
	// file's chunk range.
	ErrInvalidChunkIndex = errors.New("chunk index out of range")

	// ErrChunkNotAvailable is returned when a requested chunk is not in
	// the local store.
	ErrChunkNotAvailable = errors.New("chunk is not available locally")

	// ErrStemCollision is returned when two distinct file names sanitize
	// to the same on-disk stem. The second claimant is refused.
	ErrStemCollision = errors.New("sanitized filename collides with an existing file")

	// ErrHashMismatch is returned when a reconstructed file does not hash
	// to the recorded file hash.
	ErrHashMismatch = errors.New("reconstructed file does not match recorded hash")

	// ErrIgnoredFile is returned when ingestion is asked for a path the
	// ignore policy excludes.
	ErrIgnoredFile = errors.New("file name is excluded by the ignore policy")

	// ErrEmptyFile is returned when ingestion is asked for an empty file.
	ErrEmptyFile = errors.New("refusing to ingest an empty file")
)
