package modules

const (
	// ChunkStoreDir names the directory that holds binary chunk files
	// under the shared folder.
	ChunkStoreDir = "chunks"

	// ChunkStoreMetadataDir names the directory that holds per-file
	// metadata under the shared folder.
	ChunkStoreMetadataDir = "metadata"
)

// A ChunkStore owns the on-disk chunk and metadata layout of a peer. It is
// the local source of truth: the chunk server reads from it, the download
// coordinator writes into it, and ingestion feeds it from the shared folder.
type ChunkStore interface {
	// Ingest chunks, hashes and registers the regular file at path.
	// Ingestion is suppressed when metadata of the same name and size
	// already exists.
	Ingest(path string) error

	// SaveChunk writes or overwrites one chunk and records its
	// availability. When the write completes the file, reconstruction is
	// triggered.
	SaveChunk(file string, index uint32, data []byte) error

	// LoadChunk reads one chunk from disk.
	LoadChunk(file string, index uint32) ([]byte, error)

	// HasChunk reports whether the chunk is available locally.
	HasChunk(file string, index uint32) bool

	// Available returns the availability set of one file.
	Available(file string) ChunkSet

	// AllFiles returns the availability sets of every known file.
	AllFiles() map[string]ChunkSet

	// Metadata returns the stored metadata of one file.
	Metadata(file string) (FileMetadata, bool)

	// SetMetadata persists metadata constructed by a caller, such as the
	// download coordinator discovering a remote file's structure.
	SetMetadata(md FileMetadata) error

	// Reconstruct assembles the complete file into the shared folder,
	// verifying its hash. Reconstructing an already present file is a
	// no-op success.
	Reconstruct(file string) error

	// ReconstructPartial renders an incomplete file as <file>.partial
	// with zero-filled gaps, plus a <file>.partial.info description.
	ReconstructPartial(file string) error

	// Delete removes a file's chunks and metadata.
	Delete(file string) error

	// SharedDir returns the path of the user-visible shared folder.
	SharedDir() string

	// Close releases the store.
	Close() error
}
