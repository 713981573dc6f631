package modules

import (
	"testing"
)

// TestCanonicalPeerID probes canonicalization of raw and prefixed forms.
func TestCanonicalPeerID(t *testing.T) {
	tests := []struct {
		in   string
		want PeerID
		err  bool
	}{
		{"10.0.0.1:9001", "Peer_10.0.0.1:9001", false},
		{"Peer_10.0.0.1:9001", "Peer_10.0.0.1:9001", false},
		{"127.0.0.1:80", "Peer_127.0.0.1:80", false},
		{"", "", true},
		{"Peer_", "", true},
		{"10.0.0.1", "", true},
		{"10.0.0.1:notaport", "", true},
		{"10.0.0.1:70000", "", true},
	}
	for _, test := range tests {
		got, err := CanonicalPeerID(test.in)
		if test.err {
			if err == nil {
				t.Errorf("CanonicalPeerID(%q): expected error, got %q", test.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("CanonicalPeerID(%q): %v", test.in, err)
			continue
		}
		if got != test.want {
			t.Errorf("CanonicalPeerID(%q) = %q, want %q", test.in, got, test.want)
		}
	}
}

// TestPeerIDNetAddress checks that the embedded address is recoverable.
func TestPeerIDNetAddress(t *testing.T) {
	pid := NewPeerID("10.0.0.2", "9002")
	if pid != "Peer_10.0.0.2:9002" {
		t.Fatal("unexpected peer id:", pid)
	}
	na := pid.NetAddress()
	if na.Host() != "10.0.0.2" || na.Port() != "9002" {
		t.Error("embedded address mangled:", na)
	}
	if err := pid.IsValid(); err != nil {
		t.Error(err)
	}
	if err := PeerID("10.0.0.2:9002").IsValid(); err == nil {
		t.Error("unprefixed id should be invalid")
	}
}

// TestChunkSet checks set semantics and completeness.
func TestChunkSet(t *testing.T) {
	cs := NewChunkSet(2, 0, 1, 1, 2)
	if len(cs) != 3 {
		t.Fatal("duplicates not collapsed:", cs)
	}
	if !cs.Complete(3) {
		t.Error("set {0,1,2} should be complete for total 3")
	}
	if cs.Complete(4) {
		t.Error("set {0,1,2} should not be complete for total 4")
	}
	sorted := cs.Sorted()
	for i, idx := range sorted {
		if uint32(i) != idx {
			t.Error("Sorted out of order:", sorted)
		}
	}

	cp := cs.Copy()
	cp.Add(9)
	if cs.Has(9) {
		t.Error("Copy aliases original set")
	}
}

// TestNumChunks checks the chunk count and last-chunk length arithmetic.
func TestNumChunks(t *testing.T) {
	tests := []struct {
		size  uint64
		total uint32
		last  uint64
	}{
		{1, 1, 1},
		{ChunkSize - 1, 1, ChunkSize - 1},
		{ChunkSize, 1, ChunkSize},
		{ChunkSize + 1, 2, 1},
		{2500000, 3, 2500000 - 2*ChunkSize},
		{100 * ChunkSize, 100, ChunkSize},
	}
	for _, test := range tests {
		if got := NumChunks(test.size); got != test.total {
			t.Errorf("NumChunks(%v) = %v, want %v", test.size, got, test.total)
		}
		if got := ChunkLen(test.size, test.total-1); got != test.last {
			t.Errorf("ChunkLen(%v, last) = %v, want %v", test.size, got, test.last)
		}
		if test.total > 1 {
			if got := ChunkLen(test.size, 0); got != ChunkSize {
				t.Errorf("ChunkLen(%v, 0) = %v, want full chunk", test.size, got)
			}
		}
		if got := ChunkLen(test.size, test.total); got != 0 {
			t.Errorf("ChunkLen past the end should be 0, got %v", got)
		}
	}
}

// TestIsIgnoredName checks the shared-folder ignore policy.
func TestIsIgnoredName(t *testing.T) {
	ignored := []string{
		"a.chunks", "b.meta", "c.partial", "d.tmp", "e.complete",
		"f.part", "g.crdownload", ".hidden", "chunks", "metadata", "",
	}
	for _, name := range ignored {
		if !IsIgnoredName(name) {
			t.Error("should be ignored:", name)
		}
	}
	accepted := []string{"doc.txt", "big.iso", "chunks.txt", "partial", "a b.txt"}
	for _, name := range accepted {
		if IsIgnoredName(name) {
			t.Error("should not be ignored:", name)
		}
	}
}
