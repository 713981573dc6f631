// fleetd runs one peer: it ingests files from a shared folder, advertises
// them to the tracker, serves chunks to other peers, and downloads files
// from the swarm. The daemon is driven through an interactive shell and an
// optional HTTP status API.
package main

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gitlab.com/NebulousLabs/fastrand"

	"go.filefleet.net/fleetd/build"
	"go.filefleet.net/fleetd/node"
	"go.filefleet.net/fleetd/node/api"
)

var (
	sharedDir      string
	persistDir     string
	trackerAddr    string
	listenAddr     string
	announceIP     string
	apiAddr        string
	maxUploadBPS   int64
	maxDownloadBPS int64
)

// startDaemon builds the node and hands control to the shell. The process
// exits 0 when the operator quits.
func startDaemon() error {
	if listenAddr == "" {
		// The operator did not pick a port; take a random one from the
		// conventional peer range.
		listenAddr = net.JoinHostPort("", strconv.Itoa(1000+fastrand.Intn(1001)))
	}

	n, err := node.New(node.NodeParams{
		SharedDir:      sharedDir,
		PersistDir:     persistDir,
		TrackerAddr:    trackerAddr,
		ListenAddr:     listenAddr,
		AnnounceIP:     announceIP,
		MaxUploadBPS:   maxUploadBPS,
		MaxDownloadBPS: maxDownloadBPS,
	})
	if err != nil {
		return errors.Wrap(err, "unable to start peer node")
	}
	fmt.Println("Peer", n.TrackerClient.PeerID(), "sharing", sharedDir)

	var apiServer *api.Server
	if apiAddr != "" {
		apiServer, err = api.NewServer(apiAddr)
		if err != nil {
			n.Close()
			return errors.Wrap(err, "unable to start api server")
		}
		api.RegisterRoutesPeer(apiServer.Router(), n.ChunkStore, n.TrackerClient, n.ChunkServer, n.Downloader)
		go func() {
			if err := apiServer.Serve(); err != nil {
				fmt.Fprintln(os.Stderr, "api server failed:", err)
			}
		}()
		fmt.Println("API listening on", apiServer.Address())
	}

	runShell(n)

	fmt.Println("Shutting down...")
	if apiServer != nil {
		if err := apiServer.Close(); err != nil {
			fmt.Fprintln(os.Stderr, "api shutdown error:", err)
		}
	}
	return errors.Wrap(n.Close(), "node shutdown error")
}

func main() {
	root := &cobra.Command{
		Use:   "fleetd",
		Short: "Run a filefleet peer",
		Long:  "fleetd shares the files in a local folder with the swarm and downloads files from it, using a tracker for peer discovery.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return startDaemon()
		},
		Version: build.Version,
	}
	root.Flags().StringVar(&sharedDir, "shared-dir", "shared", "folder whose files are shared with the swarm")
	root.Flags().StringVar(&persistDir, "dir", "fleetd-data", "directory for logs and module state")
	root.Flags().StringVar(&trackerAddr, "tracker", "localhost:6881", "address of the tracker")
	root.Flags().StringVar(&listenAddr, "listen", "", "TCP address for the chunk server, empty picks a random port in 1000-2000")
	root.Flags().StringVar(&announceIP, "announce-ip", "", "IP announced to the tracker, empty resolves the primary IPv4")
	root.Flags().StringVar(&apiAddr, "api-addr", "", "loopback address for the HTTP status API, empty disables it")
	root.Flags().Int64Var(&maxUploadBPS, "max-upload-bps", 0, "upload rate limit in bytes per second, 0 is unlimited")
	root.Flags().Int64Var(&maxDownloadBPS, "max-download-bps", 0, "download rate limit in bytes per second, 0 is unlimited")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
