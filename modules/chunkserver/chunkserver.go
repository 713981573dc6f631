// Package chunkserver serves the local chunk store to remote peers over
// TCP. Each accepted connection carries exactly one request line and one
// framed response; a bounded handler pool keeps a hostile swarm from
// exhausting the process.
package chunkserver

import (
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"gitlab.com/NebulousLabs/errors"
	"gitlab.com/NebulousLabs/ratelimit"
	"gitlab.com/NebulousLabs/threadgroup"

	"go.filefleet.net/fleetd/modules"
	"go.filefleet.net/fleetd/persist"
)

// ChunkServer implements the modules.ChunkServer interface.
type ChunkServer struct {
	listener net.Listener
	myAddr   modules.NetAddress

	// peerName is the identity reported by PING and STATS. It is set
	// once the tracker client knows the announced identity.
	peerName   modules.PeerID
	peerNameMu sync.RWMutex
	store      modules.ChunkStore

	// slots bounds concurrent handlers; a connection that cannot take a
	// slot without blocking is dropped on the floor.
	slots chan struct{}

	// staticRL shapes per-connection bandwidth; nil means unlimited.
	staticRL *ratelimit.RateLimit
	rlCancel chan struct{}

	atomicActiveConnections uint32
	atomicTotalRequests     uint32
	atomicTransfers         uint32

	log *persist.Logger
	tg  threadgroup.ThreadGroup
}

// New starts a chunk server on addr, serving chunks from store and
// announcing itself as peerName. rl may be nil for unshaped connections.
func New(addr string, peerName modules.PeerID, store modules.ChunkStore, rl *ratelimit.RateLimit, persistDir string) (*ChunkServer, error) {
	srv := &ChunkServer{
		peerName: peerName,
		store:    store,
		slots:    make(chan struct{}, maxConnections),
		staticRL: rl,
		rlCancel: make(chan struct{}),
	}

	err := os.MkdirAll(persistDir, persist.DefaultDirPermissions)
	if err != nil {
		return nil, errors.AddContext(err, "unable to create chunk server persist directory")
	}
	srv.log, err = persist.NewFileLogger(filepath.Join(persistDir, logFile))
	if err != nil {
		return nil, errors.AddContext(err, "unable to create chunk server logger")
	}
	srv.tg.AfterStop(func() error {
		return srv.log.Close()
	})

	srv.listener, err = net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.AddContext(err, "unable to bind chunk server listener")
	}
	srv.myAddr = modules.NetAddress(srv.listener.Addr().String())
	srv.tg.OnStop(func() error {
		close(srv.rlCancel)
		return srv.listener.Close()
	})
	srv.log.Println("INFO: chunk server listening on", srv.myAddr)

	go srv.permanentAccept()
	return srv, nil
}

// SetPeerName sets the identity reported by PING and STATS.
func (srv *ChunkServer) SetPeerName(name modules.PeerID) {
	srv.peerNameMu.Lock()
	defer srv.peerNameMu.Unlock()
	srv.peerName = name
}

// managedPeerName returns the identity reported by PING and STATS.
func (srv *ChunkServer) managedPeerName() modules.PeerID {
	srv.peerNameMu.RLock()
	defer srv.peerNameMu.RUnlock()
	return srv.peerName
}

// Address returns the address the server is listening on.
func (srv *ChunkServer) Address() modules.NetAddress {
	return srv.myAddr
}

// Stats returns the running connection counters.
func (srv *ChunkServer) Stats() modules.ChunkServerStats {
	return modules.ChunkServerStats{
		ActiveConnections:   atomic.LoadUint32(&srv.atomicActiveConnections),
		TotalRequests:       atomic.LoadUint32(&srv.atomicTotalRequests),
		SuccessfulTransfers: atomic.LoadUint32(&srv.atomicTransfers),
	}
}

// Close shuts the listener down and drains the handlers.
func (srv *ChunkServer) Close() error {
	return srv.tg.Stop()
}

// permanentAccept hands connections to the handler pool, dropping any that
// arrive while every slot is taken.
func (srv *ChunkServer) permanentAccept() {
	for {
		conn, err := srv.listener.Accept()
		if err != nil {
			// The listener is closed during shutdown.
			return
		}
		select {
		case srv.slots <- struct{}{}:
		default:
			srv.log.Println("WARN: connection cap reached, dropping", conn.RemoteAddr())
			conn.Close()
			continue
		}
		go srv.threadedHandleConn(conn)
	}
}

// enforce that ChunkServer satisfies the modules.ChunkServer interface
var _ modules.ChunkServer = (*ChunkServer)(nil)
