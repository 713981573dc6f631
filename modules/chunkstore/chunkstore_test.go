package chunkstore

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gitlab.com/NebulousLabs/errors"
	"gitlab.com/NebulousLabs/fastrand"

	"go.filefleet.net/fleetd/build"
	"go.filefleet.net/fleetd/crypto"
	"go.filefleet.net/fleetd/modules"
	"go.filefleet.net/fleetd/persist"
)

func init() {
	build.Release = "testing"
}

// newTestStore opens a chunk store in a fresh scratch directory.
func newTestStore(t *testing.T) *ChunkStore {
	testdir := build.TempDir("chunkstore", t.Name())
	if err := os.MkdirAll(testdir, persist.DefaultDiskPermissionsTest); err != nil {
		t.Fatal(err)
	}
	cs, err := New(filepath.Join(testdir, "shared"), filepath.Join(testdir, "persist"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := cs.Close(); err != nil {
			t.Error(err)
		}
	})
	return cs
}

// writeSharedFile drops a file with random contents into the store's shared
// folder and returns its bytes.
func writeSharedFile(t *testing.T, cs *ChunkStore, name string, size int) []byte {
	data := fastrand.Bytes(size)
	path := filepath.Join(cs.SharedDir(), name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	return data
}

// TestIngestReconstructRoundTrip ingests a file, removes the visible copy,
// and reconstructs it from chunks alone.
func TestIngestReconstructRoundTrip(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}
	cs := newTestStore(t)

	// 2,500,000 bytes: two full chunks and a 402,848 byte tail.
	data := writeSharedFile(t, cs, "doc.txt", 2500000)
	path := filepath.Join(cs.SharedDir(), "doc.txt")
	if err := cs.Ingest(path); err != nil {
		t.Fatal(err)
	}

	md, exists := cs.Metadata("doc.txt")
	if !exists {
		t.Fatal("metadata missing after ingest")
	}
	if md.TotalChunks != 3 || md.FileSize != 2500000 {
		t.Fatal("unexpected metadata:", md)
	}
	if md.FileHash != crypto.HashBytes(data) {
		t.Error("file hash disagrees with content")
	}
	if !cs.Available("doc.txt").Complete(3) {
		t.Fatal("availability incomplete after ingest")
	}

	// Last chunk carries exactly the remainder.
	tail, err := cs.LoadChunk("doc.txt", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(tail) != 402848 {
		t.Fatalf("last chunk is %v bytes, want 402848", len(tail))
	}
	if !bytes.Equal(tail, data[2*modules.ChunkSize:]) {
		t.Error("last chunk bytes mangled")
	}

	// Remove the visible file and reconstruct it from chunks.
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := cs.Reconstruct("doc.txt"); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("reconstructed bytes differ from the original")
	}

	// Reconstructing again is a no-op success.
	if err := cs.Reconstruct("doc.txt"); err != nil {
		t.Error("second reconstruction should succeed:", err)
	}
}

// TestIngestSuppression checks duplicate-work suppression and the ignore
// policy.
func TestIngestSuppression(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}
	cs := newTestStore(t)

	writeSharedFile(t, cs, "f.bin", 1000)
	path := filepath.Join(cs.SharedDir(), "f.bin")
	if err := cs.Ingest(path); err != nil {
		t.Fatal(err)
	}
	// Same name, same size: suppressed.
	if err := cs.Ingest(path); err == nil {
		t.Error("duplicate ingest should be refused")
	}

	// Ignored names are refused.
	writeSharedFile(t, cs, "junk.tmp", 10)
	if err := cs.Ingest(filepath.Join(cs.SharedDir(), "junk.tmp")); !errors.Contains(err, ErrIgnoredFile) {
		t.Error("ignored file should be refused:", err)
	}

	// Empty files are refused.
	if err := os.WriteFile(filepath.Join(cs.SharedDir(), "empty.bin"), nil, 0600); err != nil {
		t.Fatal(err)
	}
	if err := cs.Ingest(filepath.Join(cs.SharedDir(), "empty.bin")); !errors.Contains(err, ErrEmptyFile) {
		t.Error("empty file should be refused:", err)
	}
}

// TestStemCollision checks that two names sanitizing identically cannot
// coexist.
func TestStemCollision(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}
	cs := newTestStore(t)

	writeSharedFile(t, cs, "a b.txt", 100)
	writeSharedFile(t, cs, "a_b.txt", 200)
	if err := cs.Ingest(filepath.Join(cs.SharedDir(), "a b.txt")); err != nil {
		t.Fatal(err)
	}
	err := cs.Ingest(filepath.Join(cs.SharedDir(), "a_b.txt"))
	if !errors.Contains(err, ErrStemCollision) {
		t.Error("colliding ingest should be refused:", err)
	}
}

// TestSaveChunkIdempotence checks that saving the same chunk twice leaves
// the same availability and bytes.
func TestSaveChunkIdempotence(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}
	cs := newTestStore(t)

	data := fastrand.Bytes(1234)
	if err := cs.SaveChunk("remote.bin", 0, data); err != nil {
		t.Fatal(err)
	}
	if err := cs.SaveChunk("remote.bin", 0, data); err != nil {
		t.Fatal(err)
	}
	if len(cs.Available("remote.bin")) != 1 {
		t.Error("availability set grew on duplicate save")
	}
	got, err := cs.LoadChunk("remote.bin", 0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("chunk bytes mangled")
	}
	if !cs.HasChunk("remote.bin", 0) || cs.HasChunk("remote.bin", 1) {
		t.Error("HasChunk disagrees with availability")
	}
}

// TestSaveChunkCompletion drives a download-shaped flow: metadata first,
// chunks in arbitrary order, automatic reconstruction on the last save.
func TestSaveChunkCompletion(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}
	cs := newTestStore(t)

	data := fastrand.Bytes(modules.ChunkSize + 5000)
	md := modules.FileMetadata{
		FileName:    "dl.bin",
		FileSize:    uint64(len(data)),
		TotalChunks: 2,
		FileHash:    crypto.HashBytes(data),
		CreatedAt:   1,
	}
	if err := cs.SetMetadata(md); err != nil {
		t.Fatal(err)
	}

	// Out-of-range saves are refused once metadata is known.
	if err := cs.SaveChunk("dl.bin", 2, []byte("x")); !errors.Contains(err, ErrInvalidChunkIndex) {
		t.Error("out-of-range save should be refused:", err)
	}

	if err := cs.SaveChunk("dl.bin", 1, data[modules.ChunkSize:]); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(cs.SharedDir(), "dl.bin")); !os.IsNotExist(err) {
		t.Fatal("file appeared before completion")
	}
	if err := cs.SaveChunk("dl.bin", 0, data[:modules.ChunkSize]); err != nil {
		t.Fatal(err)
	}

	// The final save triggered reconstruction.
	got, err := os.ReadFile(filepath.Join(cs.SharedDir(), "dl.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("auto-reconstructed bytes differ")
	}
}

// TestReconstructHashMismatch tampers with a chunk and checks that
// reconstruction fails cleanly.
func TestReconstructHashMismatch(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}
	cs := newTestStore(t)

	writeSharedFile(t, cs, "tampered.bin", modules.ChunkSize+999)
	path := filepath.Join(cs.SharedDir(), "tampered.bin")
	if err := cs.Ingest(path); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	// Flip a byte in the second chunk, bypassing the store.
	chunkFile := filepath.Join(cs.chunksDir, chunkFileName(sanitizeFileName("tampered.bin"), 1))
	chunk, err := os.ReadFile(chunkFile)
	if err != nil {
		t.Fatal(err)
	}
	chunk[0] ^= 0xff
	if err := os.WriteFile(chunkFile, chunk, 0600); err != nil {
		t.Fatal(err)
	}

	err = cs.Reconstruct("tampered.bin")
	if !errors.Contains(err, ErrHashMismatch) {
		t.Fatal("expected hash mismatch, got", err)
	}
	// No artifact, no leftover tmp.
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("corrupt reconstruction left a completed file")
	}
	if _, err := os.Stat(path + tmpSuffix); !os.IsNotExist(err) {
		t.Error("corrupt reconstruction left a tmp file")
	}
}

// TestReconstructPartial renders a file with holes and checks the artifact
// pair.
func TestReconstructPartial(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}
	cs := newTestStore(t)

	data := fastrand.Bytes(2*modules.ChunkSize + 100)
	md := modules.FileMetadata{
		FileName:    "holes.bin",
		FileSize:    uint64(len(data)),
		TotalChunks: 3,
		FileHash:    crypto.HashBytes(data),
		CreatedAt:   1,
	}
	if err := cs.SetMetadata(md); err != nil {
		t.Fatal(err)
	}
	// Only the middle chunk is present.
	if err := cs.SaveChunk("holes.bin", 1, data[modules.ChunkSize:2*modules.ChunkSize]); err != nil {
		t.Fatal(err)
	}

	if err := cs.ReconstructPartial("holes.bin"); err != nil {
		t.Fatal(err)
	}
	partial, err := os.ReadFile(filepath.Join(cs.SharedDir(), "holes.bin"+partialSuffix))
	if err != nil {
		t.Fatal(err)
	}
	if uint64(len(partial)) != md.FileSize {
		t.Fatalf("partial render is %v bytes, want %v", len(partial), md.FileSize)
	}
	if !bytes.Equal(partial[:modules.ChunkSize], make([]byte, modules.ChunkSize)) {
		t.Error("missing first chunk should be zero filled")
	}
	if !bytes.Equal(partial[modules.ChunkSize:2*modules.ChunkSize], data[modules.ChunkSize:2*modules.ChunkSize]) {
		t.Error("present chunk bytes mangled")
	}
	if !bytes.Equal(partial[2*modules.ChunkSize:], make([]byte, 100)) {
		t.Error("missing tail chunk should be zero filled to its expected length")
	}

	info, err := os.ReadFile(filepath.Join(cs.SharedDir(), "holes.bin"+partialInfoSuffix))
	if err != nil {
		t.Fatal(err)
	}
	text := string(info)
	for _, want := range []string{"totalChunks=3", "availableChunks=1", "missingChunks=0,2"} {
		if !strings.Contains(text, want) {
			t.Errorf("partial info missing %q:\n%s", want, text)
		}
	}
}

// TestStartupScan closes a populated store and reopens it, checking that
// metadata and availability are rebuilt from disk.
func TestStartupScan(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}
	testdir := build.TempDir("chunkstore", t.Name())
	if err := os.MkdirAll(testdir, persist.DefaultDiskPermissionsTest); err != nil {
		t.Fatal(err)
	}
	sharedDir := filepath.Join(testdir, "shared")
	persistDir := filepath.Join(testdir, "persist")

	cs, err := New(sharedDir, persistDir)
	if err != nil {
		t.Fatal(err)
	}
	data := fastrand.Bytes(modules.ChunkSize + 77)
	if err := os.WriteFile(filepath.Join(sharedDir, "keep.bin"), data, 0600); err != nil {
		t.Fatal(err)
	}
	if err := cs.Ingest(filepath.Join(sharedDir, "keep.bin")); err != nil {
		t.Fatal(err)
	}
	// A half-downloaded file: metadata plus one chunk.
	if err := cs.SetMetadata(modules.FileMetadata{
		FileName:    "half.bin",
		FileSize:    2 * modules.ChunkSize,
		TotalChunks: 2,
		CreatedAt:   1,
	}); err != nil {
		t.Fatal(err)
	}
	if err := cs.SaveChunk("half.bin", 1, fastrand.Bytes(modules.ChunkSize)); err != nil {
		t.Fatal(err)
	}
	if err := cs.Close(); err != nil {
		t.Fatal(err)
	}

	cs, err = New(sharedDir, persistDir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := cs.Close(); err != nil {
			t.Error(err)
		}
	}()
	if !cs.Available("keep.bin").Complete(2) {
		t.Error("keep.bin availability not rebuilt:", cs.Available("keep.bin"))
	}
	md, exists := cs.Metadata("keep.bin")
	if !exists || md.FileHash != crypto.HashBytes(data) {
		t.Error("keep.bin metadata not rebuilt")
	}
	half := cs.Available("half.bin")
	if len(half) != 1 || !half.Has(1) {
		t.Error("half.bin availability not rebuilt:", half)
	}
	// The pending hash round trips as unknown.
	md, _ = cs.Metadata("half.bin")
	if !md.FileHash.IsZero() {
		t.Error("pending hash should reload as zero")
	}
}

// TestDelete removes a file and checks that chunks, metadata and indices
// are gone.
func TestDelete(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}
	cs := newTestStore(t)

	writeSharedFile(t, cs, "gone.bin", modules.ChunkSize*2)
	if err := cs.Ingest(filepath.Join(cs.SharedDir(), "gone.bin")); err != nil {
		t.Fatal(err)
	}
	if err := cs.Delete("gone.bin"); err != nil {
		t.Fatal(err)
	}
	if len(cs.Available("gone.bin")) != 0 {
		t.Error("availability survived delete")
	}
	if _, exists := cs.Metadata("gone.bin"); exists {
		t.Error("metadata survived delete")
	}
	entries, err := os.ReadDir(cs.chunksDir)
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "gone.bin_") {
			t.Error("chunk file survived delete:", entry.Name())
		}
	}
	// The stem is reusable again.
	writeSharedFile(t, cs, "gone.bin", 500)
	if err := cs.Ingest(filepath.Join(cs.SharedDir(), "gone.bin")); err != nil {
		t.Error("stem not released after delete:", err)
	}
}
