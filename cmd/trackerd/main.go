// trackerd runs the rendezvous tracker that fleetd peers announce to.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"go.filefleet.net/fleetd/build"
	"go.filefleet.net/fleetd/modules/tracker"
	"go.filefleet.net/fleetd/node/api"
)

var (
	trackerAddr string
	persistDir  string
	apiAddr     string
)

// startDaemon runs the tracker until interrupted.
func startDaemon() error {
	tr, err := tracker.New(trackerAddr, persistDir)
	if err != nil {
		return errors.Wrap(err, "unable to start tracker")
	}
	fmt.Println("Tracker listening on", tr.Address())

	var apiServer *api.Server
	if apiAddr != "" {
		apiServer, err = api.NewServer(apiAddr)
		if err != nil {
			tr.Close()
			return errors.Wrap(err, "unable to start api server")
		}
		api.RegisterRoutesTracker(apiServer.Router(), tr)
		go func() {
			if err := apiServer.Serve(); err != nil {
				fmt.Fprintln(os.Stderr, "api server failed:", err)
			}
		}()
		fmt.Println("API listening on", apiServer.Address())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	fmt.Println("\nShutting down...")

	if apiServer != nil {
		if err := apiServer.Close(); err != nil {
			fmt.Fprintln(os.Stderr, "api shutdown error:", err)
		}
	}
	return errors.Wrap(tr.Close(), "tracker shutdown error")
}

func main() {
	root := &cobra.Command{
		Use:   "trackerd",
		Short: "Run the filefleet tracker",
		Long:  "trackerd maintains the directory of live peers and the chunk inventory each advertises.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return startDaemon()
		},
		Version: build.Version,
	}
	root.Flags().StringVar(&trackerAddr, "addr", ":6881", "UDP address to listen on")
	root.Flags().StringVar(&persistDir, "dir", "tracker-data", "directory for logs and the directory snapshot")
	root.Flags().StringVar(&apiAddr, "api-addr", "", "loopback address for the HTTP status API, empty disables it")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
