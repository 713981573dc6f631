package main

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/vbauerster/mpb/v5"
	"github.com/vbauerster/mpb/v5/decor"

	"go.filefleet.net/fleetd/node"
)

// runShell drives the interactive command loop. It returns when the
// operator quits or stdin closes.
func runShell(n *node.Node) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("Type 'help' for the command list.")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		command, args := fields[0], fields[1:]

		switch command {
		case "help", "?":
			printHelp()
		case "list", "ls", "files":
			printFiles(n)
		case "peers":
			printPeers(n)
		case "download", "get", "dl":
			if len(args) != 1 {
				fmt.Println("usage: download <file>")
				continue
			}
			runDownload(n, args[0])
		case "downloads", "dls":
			printDownloads(n)
		case "status":
			printStatus(n)
		case "refresh":
			n.TrackerClient.ForceUpdate()
			fmt.Println("Inventory update queued.")
		case "tracker":
			if n.TrackerClient.IsConnected() {
				fmt.Println("Tracker: connected")
			} else {
				fmt.Println("Tracker: not responding")
			}
		case "whoami":
			fmt.Println(n.TrackerClient.PeerID())
		case "delete", "rm":
			if len(args) != 1 {
				fmt.Println("usage: delete <file>")
				continue
			}
			if err := n.ChunkStore.Delete(args[0]); err != nil {
				fmt.Println("delete failed:", err)
			} else {
				fmt.Println("Deleted", args[0], "from the store.")
			}
		case "quit", "exit", "q":
			return
		default:
			fmt.Println("Unknown command. Type 'help' for the command list.")
		}
	}
}

func printHelp() {
	fmt.Print(`Commands:
  list                 Show local files and their chunk availability
  peers                Show the peers known through the tracker
  download <file>      Download a file from the swarm
  downloads            Show download tasks
  status               Show node status
  refresh              Push the inventory to the tracker now
  tracker              Show tracker connectivity
  whoami               Show this peer's identity
  delete <file>        Drop a file's chunks and metadata
  quit                 Shut down and exit
`)
}

func printFiles(n *node.Node) {
	all := n.ChunkStore.AllFiles()
	if len(all) == 0 {
		fmt.Println("No files in the store.")
		return
	}
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		set := all[name]
		if md, exists := n.ChunkStore.Metadata(name); exists {
			state := "partial"
			if set.Complete(md.TotalChunks) {
				state = "complete"
			}
			fmt.Printf("  %-30v %8v bytes  %v/%v chunks (%v)\n", name, md.FileSize, len(set), md.TotalChunks, state)
			continue
		}
		fmt.Printf("  %-30v %v chunks, structure unknown\n", name, len(set))
	}
}

func printPeers(n *node.Node) {
	peers := n.TrackerClient.KnownPeers()
	if len(peers) == 0 {
		fmt.Println("No peers known. Is the tracker reachable?")
		return
	}
	for pid, info := range peers {
		fmt.Printf("  %v  %v files\n", pid, len(info.Files))
		for name, set := range info.Files {
			fmt.Printf("      %v (%v chunks)\n", name, len(set))
		}
	}
}

func printDownloads(n *node.Node) {
	infos := n.Downloader.Downloads()
	if len(infos) == 0 {
		fmt.Println("No downloads this session.")
		return
	}
	for _, info := range infos {
		state := "running"
		switch {
		case info.Completed:
			state = "complete"
		case info.Cancelled:
			state = "cancelled"
		case info.Err != "":
			state = "failed: " + info.Err
		}
		fmt.Printf("  %-30v %v/%v chunks  %v\n", info.FileName, info.Downloaded, info.TotalChunks, state)
	}
}

func printStatus(n *node.Node) {
	stats := n.ChunkServer.Stats()
	fmt.Println("Peer:       ", n.TrackerClient.PeerID())
	fmt.Println("Listening:  ", n.ChunkServer.Address())
	fmt.Println("Shared dir: ", n.ChunkStore.SharedDir())
	fmt.Println("Files:      ", len(n.ChunkStore.AllFiles()))
	fmt.Println("Known peers:", len(n.TrackerClient.KnownPeers()))
	fmt.Printf("Server:      %v active conns, %v requests, %v transfers\n",
		stats.ActiveConnections, stats.TotalRequests, stats.SuccessfulTransfers)
}

// runDownload runs one download with a progress bar, blocking until the
// task finishes.
func runDownload(n *node.Node, file string) {
	errChan := make(chan error, 1)
	go func() {
		errChan <- n.Downloader.Download(file)
	}()

	// Wait for the task to discover the file's structure before drawing.
	var total int64
	for total == 0 {
		select {
		case err := <-errChan:
			if err != nil {
				fmt.Println("download failed:", err)
			} else {
				fmt.Println("Download complete:", file)
			}
			return
		case <-time.After(100 * time.Millisecond):
		}
		if info, exists := n.Downloader.Progress(file); exists {
			total = int64(info.TotalChunks)
		}
	}

	progress := mpb.New(mpb.WithWidth(40))
	bar := progress.AddBar(total,
		mpb.PrependDecorators(
			decor.Name(file),
			decor.CountersNoUnit(" %d / %d"),
		),
		mpb.AppendDecorators(decor.Percentage()),
	)
	var err error
	for done := false; !done; {
		select {
		case err = <-errChan:
			done = true
		case <-time.After(250 * time.Millisecond):
		}
		if info, exists := n.Downloader.Progress(file); exists {
			bar.SetCurrent(int64(info.Downloaded))
		}
	}
	bar.SetTotal(total, true)
	progress.Wait()
	if err != nil {
		fmt.Println("download failed:", err)
		return
	}
	fmt.Println("Download complete:", file)
}
