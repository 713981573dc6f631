package modules

import (
	"sort"
	"strings"

	"go.filefleet.net/fleetd/crypto"
)

// FileMetadata describes one file known to a peer.
type FileMetadata struct {
	FileName    string      `json:"filename"`
	FileSize    uint64      `json:"filesize"`
	TotalChunks uint32      `json:"totalchunks"`
	FileHash    crypto.Hash `json:"filehash"`
	CreatedAt   int64       `json:"createdat"` // unix milliseconds
}

// A ChunkSet is the set of chunk indices present for one file.
type ChunkSet map[uint32]struct{}

// NewChunkSet builds a set from a list of indices, collapsing duplicates.
func NewChunkSet(indices ...uint32) ChunkSet {
	cs := make(ChunkSet, len(indices))
	for _, i := range indices {
		cs[i] = struct{}{}
	}
	return cs
}

// Add inserts an index into the set.
func (cs ChunkSet) Add(index uint32) {
	cs[index] = struct{}{}
}

// Has reports whether index is in the set.
func (cs ChunkSet) Has(index uint32) bool {
	_, ok := cs[index]
	return ok
}

// Copy returns an independent copy of the set.
func (cs ChunkSet) Copy() ChunkSet {
	out := make(ChunkSet, len(cs))
	for i := range cs {
		out[i] = struct{}{}
	}
	return out
}

// Sorted returns the indices in ascending order.
func (cs ChunkSet) Sorted() []uint32 {
	out := make([]uint32, 0, len(cs))
	for i := range cs {
		out = append(out, i)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Complete reports whether the set holds every index in [0, total).
func (cs ChunkSet) Complete(total uint32) bool {
	if uint32(len(cs)) < total {
		return false
	}
	for i := uint32(0); i < total; i++ {
		if !cs.Has(i) {
			return false
		}
	}
	return true
}

// ignoredSuffixes are artifact extensions that must never be ingested from
// the shared folder.
var ignoredSuffixes = []string{
	".chunks", ".meta", ".partial", ".tmp", ".complete", ".part", ".crdownload",
}

// ignoredNames are directory names reserved for the chunk store's own
// layout.
var ignoredNames = map[string]struct{}{
	"chunks":   {},
	"metadata": {},
}

// IsIgnoredName reports whether a base name in the shared folder belongs to
// the store's own artifacts rather than shareable content.
func IsIgnoredName(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return true
	}
	if _, ok := ignoredNames[name]; ok {
		return true
	}
	for _, suffix := range ignoredSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}
