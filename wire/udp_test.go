package wire

import (
	"bytes"
	"reflect"
	"testing"

	"gitlab.com/NebulousLabs/fastrand"

	"go.filefleet.net/fleetd/modules"
)

// TestParseTrackerRequest checks tokenization of request datagrams.
func TestParseTrackerRequest(t *testing.T) {
	req, err := ParseTrackerRequest([]byte("REGISTER 10.0.0.1 9001"))
	if err != nil {
		t.Fatal(err)
	}
	if req.Command != "REGISTER" || req.IP != "10.0.0.1" || req.Port != "9001" || req.Payload != "" {
		t.Error("unexpected parse:", req)
	}
	if req.PeerID() != "Peer_10.0.0.1:9001" {
		t.Error("unexpected peer id:", req.PeerID())
	}

	req, err = ParseTrackerRequest([]byte("UPDATE 10.0.0.1 9001 f.bin,0,1,2;;g.txt,0"))
	if err != nil {
		t.Fatal(err)
	}
	if req.Payload != "f.bin,0,1,2;;g.txt,0" {
		t.Error("payload mangled:", req.Payload)
	}

	// Payloads keep embedded spaces.
	req, err = ParseTrackerRequest([]byte("UPDATE 10.0.0.1 9001 a b.txt,0"))
	if err != nil {
		t.Fatal(err)
	}
	if req.Payload != "a b.txt,0" {
		t.Error("payload with space mangled:", req.Payload)
	}

	// Fewer than three tokens is a format error.
	for _, bad := range []string{"", "REGISTER", "REGISTER 10.0.0.1", "  "} {
		if _, err := ParseTrackerRequest([]byte(bad)); err != ErrInvalidRequestFormat {
			t.Errorf("ParseTrackerRequest(%q): expected format error, got %v", bad, err)
		}
	}
}

// TestParseFilesInfo checks the tolerant files-info grammar.
func TestParseFilesInfo(t *testing.T) {
	// The canonical malformed entry: empty fields, garbage and negative
	// indices are dropped, valid indices survive.
	files := ParseFilesInfo("file,,1,abc,-2,5")
	want := map[string]modules.ChunkSet{"file": modules.NewChunkSet(1, 5)}
	if !reflect.DeepEqual(files, want) {
		t.Error("unexpected parse:", files)
	}

	// Empty payload and empty entries.
	if len(ParseFilesInfo("")) != 0 {
		t.Error("empty payload should parse to no files")
	}
	files = ParseFilesInfo(";;f.bin,0,1,2;;;;g.txt,0;;")
	want = map[string]modules.ChunkSet{
		"f.bin": modules.NewChunkSet(0, 1, 2),
		"g.txt": modules.NewChunkSet(0),
	}
	if !reflect.DeepEqual(files, want) {
		t.Error("unexpected parse:", files)
	}

	// An entry with an empty filename vanishes entirely.
	files = ParseFilesInfo(",0,1;;real,3")
	want = map[string]modules.ChunkSet{"real": modules.NewChunkSet(3)}
	if !reflect.DeepEqual(files, want) {
		t.Error("unexpected parse:", files)
	}

	// A filename with no indices registers an empty set.
	files = ParseFilesInfo("empty")
	if cs, ok := files["empty"]; !ok || len(cs) != 0 {
		t.Error("unexpected parse:", files)
	}

	// Duplicate indices collapse.
	files = ParseFilesInfo("f,1,1,1")
	if len(files["f"]) != 1 {
		t.Error("duplicates not collapsed:", files)
	}
}

// TestFilesInfoRoundTrip checks BuildFilesInfo against ParseFilesInfo.
func TestFilesInfoRoundTrip(t *testing.T) {
	original := map[string]modules.ChunkSet{
		"f.bin":   modules.NewChunkSet(0, 1, 2),
		"g.txt":   modules.NewChunkSet(0),
		"a b.txt": modules.NewChunkSet(7, 3),
	}
	parsed := ParseFilesInfo(BuildFilesInfo(original))
	if !reflect.DeepEqual(parsed, original) {
		t.Error("files-info round trip mismatch:", parsed)
	}
}

// randomDirectory builds a random peer directory for codec round trips.
func randomDirectory(numPeers int) []modules.PeerInfo {
	peers := make([]modules.PeerInfo, 0, numPeers)
	for i := 0; i < numPeers; i++ {
		files := make(map[string]modules.ChunkSet)
		for j := 0; j < fastrand.Intn(4); j++ {
			cs := make(modules.ChunkSet)
			for k := 0; k < fastrand.Intn(6); k++ {
				cs.Add(uint32(fastrand.Intn(100)))
			}
			files["file-"+string(rune('a'+j))+".bin"] = cs
		}
		peers = append(peers, modules.PeerInfo{
			PeerID:   modules.NewPeerID("10.0.0."+string(rune('1'+i)), "9001"),
			LastSeen: int64(fastrand.Intn(1 << 30)),
			Files:    files,
		})
	}
	return peers
}

// TestPeersListRoundTrip encodes a directory and decodes it back.
func TestPeersListRoundTrip(t *testing.T) {
	peers := randomDirectory(5)
	datagram, err := EncodePeersList(1234567890, peers)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := DecodeTrackerResponse(datagram)
	if err != nil {
		t.Fatal(err)
	}
	list, ok := resp.(PeersList)
	if !ok {
		t.Fatalf("expected PeersList, got %T", resp)
	}
	if list.Timestamp != 1234567890 {
		t.Error("timestamp mangled:", list.Timestamp)
	}
	if len(list.Peers) != len(peers) {
		t.Fatal("peer count mismatch:", len(list.Peers))
	}
	for i := range peers {
		if list.Peers[i].PeerID != peers[i].PeerID {
			t.Error("peer id mismatch")
		}
		if list.Peers[i].LastSeen != peers[i].LastSeen {
			t.Error("last seen mismatch")
		}
		if len(peers[i].Files) == 0 {
			if len(list.Peers[i].Files) != 0 {
				t.Error("file set mismatch")
			}
			continue
		}
		if !reflect.DeepEqual(list.Peers[i].Files, peers[i].Files) {
			t.Error("file set mismatch")
		}
	}
}

// TestEmptyPeersList checks that a zero-peer response round trips.
func TestEmptyPeersList(t *testing.T) {
	datagram, err := EncodePeersList(42, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := DecodeTrackerResponse(datagram)
	if err != nil {
		t.Fatal(err)
	}
	list, ok := resp.(PeersList)
	if !ok {
		t.Fatalf("expected PeersList, got %T", resp)
	}
	if len(list.Peers) != 0 {
		t.Error("expected empty peer list")
	}
}

// TestTextResponses checks the legacy ASCII ACK and ERROR forms.
func TestTextResponses(t *testing.T) {
	resp, err := DecodeTrackerResponse(EncodeAck(99))
	if err != nil {
		t.Fatal(err)
	}
	if ack, ok := resp.(Ack); !ok || ack.Timestamp != 99 {
		t.Error("unexpected ack decode:", resp)
	}

	resp, err = DecodeTrackerResponse(EncodeTrackerError(UDPErrInvalidFormat, 7))
	if err != nil {
		t.Fatal(err)
	}
	if terr, ok := resp.(TrackerError); !ok || terr.Code != UDPErrInvalidFormat || terr.Timestamp != 7 {
		t.Error("unexpected error decode:", resp)
	}
}

// TestLegacyPeersList checks the headerless record concatenation path.
func TestLegacyPeersList(t *testing.T) {
	peers := randomDirectory(3)
	var buf bytes.Buffer
	for _, peer := range peers {
		if err := encodePeerRecord(&buf, peer); err != nil {
			t.Fatal(err)
		}
	}
	resp, err := DecodeTrackerResponse(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	list, ok := resp.(PeersList)
	if !ok {
		t.Fatalf("expected PeersList, got %T", resp)
	}
	if len(list.Peers) != len(peers) {
		t.Fatal("legacy peer count mismatch:", len(list.Peers))
	}
	for i := range peers {
		if list.Peers[i].PeerID != peers[i].PeerID {
			t.Error("legacy peer id mismatch")
		}
	}
}

// TestTruncatedPeersList checks that a cut datagram fails loudly.
func TestTruncatedPeersList(t *testing.T) {
	peers := randomDirectory(4)
	datagram, err := EncodePeersList(1, peers)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecodeTrackerResponse(datagram[:len(datagram)-3]); err == nil {
		t.Error("truncated datagram should not decode")
	}
}
