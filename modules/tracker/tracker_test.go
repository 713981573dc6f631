package tracker

import (
	"net"
	"os"
	"testing"
	"time"

	"go.filefleet.net/fleetd/build"
	"go.filefleet.net/fleetd/modules"
	"go.filefleet.net/fleetd/persist"
	"go.filefleet.net/fleetd/wire"
)

// Tests run against shrunk timing constants.
func init() {
	build.Release = "testing"
	peerTimeout = 2 * time.Second
	cleanupInterval = 250 * time.Millisecond
	receiveTimeout = 100 * time.Millisecond
	saveInterval = 2 * time.Second
}

// trackerTester wraps a tracker and a client socket for exercising the UDP
// protocol.
type trackerTester struct {
	tracker *Tracker
	conn    *net.UDPConn
}

// newTrackerTester starts a tracker on a random localhost port.
func newTrackerTester(t *testing.T) *trackerTester {
	testdir := build.TempDir("tracker", t.Name())
	if err := os.MkdirAll(testdir, persist.DefaultDiskPermissionsTest); err != nil {
		t.Fatal(err)
	}
	tr, err := New("127.0.0.1:0", testdir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := tr.Close(); err != nil {
			t.Error(err)
		}
	})

	conn, err := net.DialUDP("udp", nil, tr.udpConn.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return &trackerTester{tracker: tr, conn: conn}
}

// request sends one datagram and decodes the response.
func (tt *trackerTester) request(t *testing.T, datagram string) interface{} {
	if _, err := tt.conn.Write([]byte(datagram)); err != nil {
		t.Fatal(err)
	}
	if err := tt.conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, modules.MaxUDPPayload)
	n, err := tt.conn.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := wire.DecodeTrackerResponse(buf[:n])
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

// peersList asserts that a response is a peer list and returns it.
func peersList(t *testing.T, resp interface{}) wire.PeersList {
	list, ok := resp.(wire.PeersList)
	if !ok {
		t.Fatalf("expected PeersList, got %#v", resp)
	}
	return list
}

// TestRegisterAndList walks the register+list scenario: the first peer sees
// an empty directory, the second sees the first.
func TestRegisterAndList(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}
	tt := newTrackerTester(t)

	list := peersList(t, tt.request(t, "REGISTER 10.0.0.1 9001"))
	if len(list.Peers) != 0 {
		t.Fatal("first registrant should see an empty directory:", list.Peers)
	}

	list = peersList(t, tt.request(t, "REGISTER 10.0.0.2 9002"))
	if len(list.Peers) != 1 {
		t.Fatal("second registrant should see one peer:", list.Peers)
	}
	if list.Peers[0].PeerID != "Peer_10.0.0.1:9001" {
		t.Error("unexpected peer:", list.Peers[0].PeerID)
	}
	if len(list.Peers[0].Files) != 0 {
		t.Error("fresh registrant should advertise no files")
	}

	// Registering twice leaves exactly one entry.
	tt.request(t, "REGISTER 10.0.0.1 9001")
	list = peersList(t, tt.request(t, "REGISTER 10.0.0.2 9002"))
	if len(list.Peers) != 1 {
		t.Error("duplicate registration created extra entries:", list.Peers)
	}
}

// TestUpdateAndDiscovery walks the update+discovery scenario.
func TestUpdateAndDiscovery(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}
	tt := newTrackerTester(t)

	tt.request(t, "UPDATE 10.0.0.1 9001 f.bin,0,1,2;;g.txt,0")
	tt.request(t, "REGISTER 10.0.0.2 9002")
	list := peersList(t, tt.request(t, "UPDATE 10.0.0.2 9002"))
	if len(list.Peers) != 1 {
		t.Fatal("expected exactly peer A:", list.Peers)
	}
	files := list.Peers[0].Files
	if len(files) != 2 {
		t.Fatal("expected two files:", files)
	}
	if !files["f.bin"].Has(0) || !files["f.bin"].Has(1) || !files["f.bin"].Has(2) || len(files["f.bin"]) != 3 {
		t.Error("f.bin inventory wrong:", files["f.bin"])
	}
	if !files["g.txt"].Has(0) || len(files["g.txt"]) != 1 {
		t.Error("g.txt inventory wrong:", files["g.txt"])
	}

	// An UPDATE with empty files info clears the set.
	tt.request(t, "UPDATE 10.0.0.1 9001")
	list = peersList(t, tt.request(t, "UPDATE 10.0.0.2 9002"))
	if len(list.Peers[0].Files) != 0 {
		t.Error("empty update should clear the file set:", list.Peers[0].Files)
	}
}

// TestAckAndErrors checks UNREGISTER, HEARTBEAT and the error taxonomy.
func TestAckAndErrors(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}
	tt := newTrackerTester(t)

	if _, ok := tt.request(t, "UNREGISTER 10.0.0.1 9001").(wire.Ack); !ok {
		t.Error("UNREGISTER should be acked even for unknown peers")
	}
	if _, ok := tt.request(t, "HEARTBEAT 10.0.0.1 9001").(wire.Ack); !ok {
		t.Error("HEARTBEAT should be acked")
	}

	resp := tt.request(t, "REGISTER 10.0.0.1")
	terr, ok := resp.(wire.TrackerError)
	if !ok || terr.Code != wire.UDPErrInvalidFormat {
		t.Error("short request should yield INVALID_FORMAT:", resp)
	}

	resp = tt.request(t, "EXPLODE 10.0.0.1 9001")
	terr, ok = resp.(wire.TrackerError)
	if !ok || terr.Code != wire.UDPErrUnknownCommand {
		t.Error("unknown command should yield UNKNOWN_COMMAND:", resp)
	}

	// A heartbeat for an unknown peer must not create an entry.
	list := peersList(t, tt.request(t, "REGISTER 10.0.0.9 9009"))
	if len(list.Peers) != 0 {
		t.Error("heartbeat/unregister should not create entries:", list.Peers)
	}
}

// TestSweeperEviction registers a peer, lets it fall silent, and checks
// that it disappears from responses and from the directory.
func TestSweeperEviction(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}
	tt := newTrackerTester(t)

	tt.request(t, "REGISTER 10.0.0.1 9001")

	// Heartbeats keep the entry alive across sweeps.
	for i := 0; i < 4; i++ {
		time.Sleep(peerTimeout / 4)
		tt.request(t, "HEARTBEAT 10.0.0.1 9001")
	}
	list := peersList(t, tt.request(t, "REGISTER 10.0.0.2 9002"))
	if len(list.Peers) != 1 {
		t.Fatal("heartbeats failed to keep the peer alive")
	}

	// Silence past the timeout evicts.
	deadline := time.Now().Add(peerTimeout + 4*cleanupInterval)
	for time.Now().Before(deadline) {
		time.Sleep(cleanupInterval)
	}
	list = peersList(t, tt.request(t, "UPDATE 10.0.0.2 9002"))
	if len(list.Peers) != 0 {
		t.Error("silent peer should have been evicted:", list.Peers)
	}
}

// TestDirectoryPersistence checks that the directory snapshot survives a
// restart with liveness reset.
func TestDirectoryPersistence(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}
	testdir := build.TempDir("tracker", t.Name())
	if err := os.MkdirAll(testdir, persist.DefaultDiskPermissionsTest); err != nil {
		t.Fatal(err)
	}
	tr, err := New("127.0.0.1:0", testdir)
	if err != nil {
		t.Fatal(err)
	}
	tr.managedUpdate("Peer_10.0.0.1:9001", map[string]modules.ChunkSet{
		"f.bin": modules.NewChunkSet(0, 1),
	})
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}

	tr, err = New("127.0.0.1:0", testdir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := tr.Close(); err != nil {
			t.Error(err)
		}
	}()
	peers := tr.Peers()
	if len(peers) != 1 || peers[0].PeerID != "Peer_10.0.0.1:9001" {
		t.Fatal("directory did not survive restart:", peers)
	}
	if !peers[0].Files["f.bin"].Has(1) {
		t.Error("inventory did not survive restart")
	}
}
