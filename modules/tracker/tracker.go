// Package tracker implements the rendezvous service. Peers announce
// themselves and their chunk inventory over UDP; the tracker keeps one
// directory entry per peer, refreshes it on every announcement, and evicts
// peers that fall silent. Every REGISTER and UPDATE is answered with the
// current directory so announcing doubles as discovery.
package tracker

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

// Tracker implements the modules.Tracker interface.
type Tracker struct {
	// directory is the set of known peers, keyed by identity. All access
	// goes through the managed helpers in directory.go.
	directory map[modules.PeerID]*modules.PeerInfo
	mu        sync.RWMutex

	// udpConn is the single socket serving the tracker protocol.
	udpConn *net.UDPConn
	myAddr  modules.NetAddress

	// Request statistics.
	atomicRequests       uint64
	atomicInvalid        uint64
	atomicOversizedSends uint64

	log        *persist.Logger
	persistDir string
	tg         threadgroup.ThreadGroup
}

// New binds the tracker to addr and starts the receive loop, the worker
// pool, the eviction sweeper and the snapshot saver.
func New(addr string, persistDir string) (*Tracker, error) {
	tr := &Tracker{
		directory:  make(map[modules.PeerID]*modules.PeerInfo),
		persistDir: persistDir,
	}

	// Create the persist directory and logger first; everything else logs.
	err := os.MkdirAll(persistDir, persist.DefaultDirPermissions)
	if err != nil {
		return nil, errors.AddContext(err, "unable to create tracker persist directory")
	}
	tr.log, err = persist.NewFileLogger(filepath.Join(persistDir, logFile))
	if err != nil {
		return nil, errors.AddContext(err, "unable to create tracker logger")
	}
	tr.tg.AfterStop(func() error {
		return tr.log.Close()
	})

	// Reload the last directory snapshot. Missing state is a fresh start,
	// anything else is reported but not fatal.
	if err := tr.load(); err != nil && !os.IsNotExist(err) {
		tr.log.Println("WARN: unable to load tracker directory:", err)
	}
	tr.tg.AfterStop(func() error {
		return tr.managedSave()
	})

	// Bind the UDP socket.
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.AddContext(err, "invalid tracker address")
	}
	tr.udpConn, err = net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, errors.AddContext(err, "unable to bind tracker socket")
	}
	tr.myAddr = modules.NetAddress(tr.udpConn.LocalAddr().String())
	tr.tg.OnStop(func() error {
		return tr.udpConn.Close()
	})
	tr.log.Println("INFO: tracker listening on", tr.myAddr)

	// Spawn the request workers and the receive loop feeding them.
	requests := make(chan request, requestQueueSize)
	for i := 0; i < workerPoolSize; i++ {
		go tr.threadedHandleRequests(requests)
	}
	go tr.permanentReceive(requests)

	// Spawn the sweeper and the snapshot saver.
	go tr.permanentSweep()
	go tr.permanentSaveLoop()

	return tr, nil
}

// Address returns the UDP address the tracker is listening on.
func (tr *Tracker) Address() modules.NetAddress {
	return tr.myAddr
}

// Peers returns a snapshot of all live directory entries.
func (tr *Tracker) Peers() []modules.PeerInfo {
	now := time.Now().UnixMilli()
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	peers := make([]modules.PeerInfo, 0, len(tr.directory))
	for _, entry := range tr.directory {
		if now-entry.LastSeen > peerTimeout.Milliseconds() {
			continue
		}
		peers = append(peers, entry.Copy())
	}
	return peers
}

// Requests returns the number of datagrams handled so far.
func (tr *Tracker) Requests() uint64 {
	return atomic.LoadUint64(&tr.atomicRequests)
}

// Close shuts the tracker down, persisting the directory on the way out.
func (tr *Tracker) Close() error {
	return tr.tg.Stop()
}

// managedSleep sleeps for the given duration, returning false if the
// tracker was stopped before the duration elapsed.
func (tr *Tracker) managedSleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-tr.tg.StopChan():
		return false
	}
}

// permanentSweep evicts peers whose last announcement is older than the
// peer timeout.
func (tr *Tracker) permanentSweep() {
	for {
		if !tr.managedSleep(cleanupInterval) {
			return
		}
		evicted := tr.managedEvictExpired()
		for _, pid := range evicted {
			tr.log.Println("INFO: evicted silent peer", pid)
		}
	}
}

// permanentSaveLoop persists the directory on a timer.
func (tr *Tracker) permanentSaveLoop() {
	for {
		if !tr.managedSleep(saveInterval) {
			return
		}
		if err := tr.managedSave(); err != nil {
			tr.log.Println("ERROR: unable to save tracker directory:", err)
		}
	}
}

// enforce that Tracker satisfies the modules.Tracker interface
var _ modules.Tracker = (*Tracker)(nil)
