// Package trackerclient keeps a peer registered with the tracker. It pushes
// the local chunk inventory on a schedule, heartbeats between updates, and
// caches the peer directory that registration and update responses carry.
// The cache is a full-replace snapshot: a newer directory always supersedes
// an older one, never merges with it.
package trackerclient

import (
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"gitlab.com/NebulousLabs/errors"
	"gitlab.com/NebulousLabs/threadgroup"

	"go.filefleet.net/fleetd/modules"
	"go.filefleet.net/fleetd/persist"
)

// TrackerClient implements the modules.TrackerClient interface.
type TrackerClient struct {
	// knownPeers is the latest directory snapshot from the tracker.
	// Responses replace it wholesale under mu.
	knownPeers map[modules.PeerID]modules.PeerInfo
	mu         sync.RWMutex

	// conn is the single UDP socket talking to the tracker. requestMu
	// serializes round trips so responses pair with their requests.
	conn      *net.UDPConn
	requestMu sync.Mutex

	// atomicLastResponse is the unix-millisecond timestamp of the last
	// tracker response of any kind.
	atomicLastResponse int64
	atomicActive       uint32

	// forceUpdate wakes the update loop ahead of schedule.
	forceUpdate chan struct{}

	staticPeerID modules.PeerID
	store        modules.ChunkStore

	log *persist.Logger
	tg  threadgroup.ThreadGroup
}

// New dials the tracker and starts the update and heartbeat schedules. The
// peer announces itself as Peer_<announceIP>:<tcpPort>; an empty announceIP
// is resolved to the host's primary IPv4, falling back to 127.0.0.1.
func New(trackerAddr string, announceIP string, tcpPort string, store modules.ChunkStore, persistDir string) (*TrackerClient, error) {
	if announceIP == "" {
		announceIP = primaryIPv4()
	}
	tc := &TrackerClient{
		knownPeers:   make(map[modules.PeerID]modules.PeerInfo),
		forceUpdate:  make(chan struct{}, 1),
		staticPeerID: modules.NewPeerID(announceIP, tcpPort),
		store:        store,
	}

	err := os.MkdirAll(persistDir, persist.DefaultDirPermissions)
	if err != nil {
		return nil, errors.AddContext(err, "unable to create tracker client persist directory")
	}
	tc.log, err = persist.NewFileLogger(filepath.Join(persistDir, logFile))
	if err != nil {
		return nil, errors.AddContext(err, "unable to create tracker client logger")
	}
	tc.tg.AfterStop(func() error {
		return tc.log.Close()
	})

	udpAddr, err := net.ResolveUDPAddr("udp", trackerAddr)
	if err != nil {
		return nil, errors.AddContext(err, "invalid tracker address")
	}
	tc.conn, err = net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, errors.AddContext(err, "unable to dial tracker")
	}
	tc.tg.OnStop(func() error {
		// Best-effort goodbye before the socket goes away.
		if err := tc.managedUnregister(); err != nil {
			tc.log.Println("WARN: unregister on shutdown failed:", err)
		}
		atomic.StoreUint32(&tc.atomicActive, 0)
		return tc.conn.Close()
	})
	atomic.StoreUint32(&tc.atomicActive, 1)
	tc.log.Printf("INFO: announcing as %v to tracker %v", tc.staticPeerID, trackerAddr)

	// Announce immediately; a dead tracker is not fatal, the schedules
	// keep trying.
	if err := tc.Register(); err != nil {
		tc.log.Println("WARN: initial registration failed:", err)
	}

	go tc.permanentUpdateLoop()
	go tc.permanentHeartbeatLoop()
	return tc, nil
}

// PeerID returns the identity this client registers under.
func (tc *TrackerClient) PeerID() modules.PeerID {
	return tc.staticPeerID
}

// KnownPeers returns the latest directory snapshot, excluding self.
func (tc *TrackerClient) KnownPeers() map[modules.PeerID]modules.PeerInfo {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	peers := make(map[modules.PeerID]modules.PeerInfo, len(tc.knownPeers))
	for pid, info := range tc.knownPeers {
		peers[pid] = info.Copy()
	}
	return peers
}

// IsConnected reports whether the tracker has responded within the
// connected window.
func (tc *TrackerClient) IsConnected() bool {
	if atomic.LoadUint32(&tc.atomicActive) == 0 {
		return false
	}
	last := atomic.LoadInt64(&tc.atomicLastResponse)
	return last != 0 && time.Now().UnixMilli()-last < connectedWindow.Milliseconds()
}

// ForceUpdate wakes the update loop so a fresh inventory reaches the
// tracker ahead of schedule.
func (tc *TrackerClient) ForceUpdate() {
	select {
	case tc.forceUpdate <- struct{}{}:
	default:
	}
}

// Close unregisters and shuts the client down.
func (tc *TrackerClient) Close() error {
	return tc.tg.Stop()
}

// permanentUpdateLoop pushes the inventory every update interval, or
// immediately when poked.
func (tc *TrackerClient) permanentUpdateLoop() {
	for {
		select {
		case <-tc.tg.StopChan():
			return
		case <-tc.forceUpdate:
		case <-time.After(updateInterval):
		}
		if err := tc.SendUpdate(); err != nil {
			tc.log.Println("WARN: inventory update failed:", err)
		}
	}
}

// permanentHeartbeatLoop keeps the directory entry alive between updates.
func (tc *TrackerClient) permanentHeartbeatLoop() {
	for {
		select {
		case <-tc.tg.StopChan():
			return
		case <-time.After(heartbeatInterval):
		}
		if err := tc.Heartbeat(); err != nil {
			tc.log.Println("WARN: heartbeat failed:", err)
		}
	}
}

// primaryIPv4 finds the host's primary IPv4 address. The UDP dial never
// sends a packet; it only asks the kernel which source address routes out.
func primaryIPv4() string {
	conn, err := net.Dial("udp", "8.8.8.8:53")
	if err == nil {
		defer conn.Close()
		if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
			if ip4 := addr.IP.To4(); ip4 != nil {
				return ip4.String()
			}
		}
	}
	addrs, err := net.InterfaceAddrs()
	if err == nil {
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok || ipNet.IP.IsLoopback() {
				continue
			}
			if ip4 := ipNet.IP.To4(); ip4 != nil {
				return ip4.String()
			}
		}
	}
	return "127.0.0.1"
}

// enforce that TrackerClient satisfies the modules.TrackerClient interface
var _ modules.TrackerClient = (*TrackerClient)(nil)
