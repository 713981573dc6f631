// Package node wires the peer's modules together: the chunk store, the
// chunk server, the tracker client, the download coordinator and the
// shared-folder watcher. Modules start in dependency order and stop in
// reverse.
package node

import (
	"path/filepath"

	"gitlab.com/NebulousLabs/errors"
	"gitlab.com/NebulousLabs/ratelimit"

	"go.filefleet.net/fleetd/modules"
	"go.filefleet.net/fleetd/modules/chunkserver"
	"go.filefleet.net/fleetd/modules/chunkstore"
	"go.filefleet.net/fleetd/modules/downloader"
	"go.filefleet.net/fleetd/modules/trackerclient"
	"go.filefleet.net/fleetd/modules/watcher"
)

// NodeParams configures a peer node.
type NodeParams struct {
	// SharedDir is the user-visible shared folder the node serves from.
	SharedDir string

	// PersistDir holds module logs and state.
	PersistDir string

	// TrackerAddr is the "host:port" of the tracker.
	TrackerAddr string

	// ListenAddr is the "host:port" the chunk server binds; a ":0" port
	// picks a random one.
	ListenAddr string

	// AnnounceIP overrides the address announced to the tracker. Empty
	// means the host's primary IPv4.
	AnnounceIP string

	// MaxDownloadBPS and MaxUploadBPS shape the chunk server's
	// connections. Zero means unlimited.
	MaxDownloadBPS int64
	MaxUploadBPS   int64
}

// A Node is one running peer.
type Node struct {
	ChunkStore    *chunkstore.ChunkStore
	ChunkServer   *chunkserver.ChunkServer
	TrackerClient *trackerclient.TrackerClient
	Downloader    *downloader.Downloader
	Watcher       *watcher.Watcher
}

// New starts a peer node.
func New(params NodeParams) (*Node, error) {
	store, err := chunkstore.New(params.SharedDir, filepath.Join(params.PersistDir, "chunkstore"))
	if err != nil {
		return nil, errors.AddContext(err, "unable to create chunk store")
	}

	var rl *ratelimit.RateLimit
	if params.MaxDownloadBPS != 0 || params.MaxUploadBPS != 0 {
		rl = ratelimit.NewRateLimit(params.MaxDownloadBPS, params.MaxUploadBPS, modules.ChunkSize)
	}

	// The chunk server binds before the tracker client so the announced
	// port is the real one even when the listener picked it.
	server, err := chunkserver.New(params.ListenAddr, "", store, rl, filepath.Join(params.PersistDir, "chunkserver"))
	if err != nil {
		return nil, errors.Compose(errors.AddContext(err, "unable to create chunk server"), store.Close())
	}

	client, err := trackerclient.New(params.TrackerAddr, params.AnnounceIP, server.Address().Port(), store, filepath.Join(params.PersistDir, "trackerclient"))
	if err != nil {
		return nil, errors.Compose(errors.AddContext(err, "unable to create tracker client"), server.Close(), store.Close())
	}
	server.SetPeerName(client.PeerID())
	store.SetInventoryUpdater(client)

	dl, err := downloader.New(store, client, filepath.Join(params.PersistDir, "downloader"))
	if err != nil {
		return nil, errors.Compose(errors.AddContext(err, "unable to create downloader"), client.Close(), server.Close(), store.Close())
	}

	w, err := watcher.New(params.SharedDir, store, filepath.Join(params.PersistDir, "watcher"))
	if err != nil {
		return nil, errors.Compose(errors.AddContext(err, "unable to create watcher"), dl.Close(), client.Close(), server.Close(), store.Close())
	}

	return &Node{
		ChunkStore:    store,
		ChunkServer:   server,
		TrackerClient: client,
		Downloader:    dl,
		Watcher:       w,
	}, nil
}

// Close stops the node's modules in the reverse of their start order.
func (n *Node) Close() error {
	return errors.Compose(
		n.Watcher.Close(),
		n.Downloader.Close(),
		n.TrackerClient.Close(),
		n.ChunkServer.Close(),
		n.ChunkStore.Close(),
	)
}
