package api

import (
	"net/http"
	"sort"

	"github.com/julienschmidt/httprouter"

	"go.filefleet.net/fleetd/build"
	"go.filefleet.net/fleetd/modules"
)

type (
	// DaemonVersionGET contains the daemon version.
	DaemonVersionGET struct {
		Version string `json:"version"`
	}

	// PeerGET contains general information about the peer, with tags to
	// support idiomatic json encodings.
	PeerGET struct {
		PeerID           modules.PeerID           `json:"peerid"`
		TrackerConnected bool                     `json:"trackerconnected"`
		ListenAddress    modules.NetAddress       `json:"listenaddress"`
		ServerStats      modules.ChunkServerStats `json:"serverstats"`
	}

	// PeerFilesGETFile is one file in the files listing.
	PeerFilesGETFile struct {
		FileName    string   `json:"filename"`
		FileSize    uint64   `json:"filesize"`
		TotalChunks uint32   `json:"totalchunks"`
		Available   uint32   `json:"available"`
		Complete    bool     `json:"complete"`
		FileHash    string   `json:"filehash,omitempty"`
		Chunks      []uint32 `json:"chunks"`
	}

	// PeerFilesGET contains the files listing.
	PeerFilesGET struct {
		Files []PeerFilesGETFile `json:"files"`
	}

	// PeerPeersGET contains the latest directory snapshot.
	PeerPeersGET struct {
		Peers []modules.PeerInfo `json:"peers"`
	}

	// PeerDownloadsGET contains the download task listing.
	PeerDownloadsGET struct {
		Downloads []modules.DownloadInfo `json:"downloads"`
	}
)

// RegisterRoutesPeer is a helper function to register all peer routes.
func RegisterRoutesPeer(router *httprouter.Router, store modules.ChunkStore, client modules.TrackerClient, server modules.ChunkServer, dl modules.Downloader) {
	router.GET("/daemon/version", func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		WriteJSON(w, DaemonVersionGET{Version: build.Version})
	})
	router.GET("/peer", func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		WriteJSON(w, PeerGET{
			PeerID:           client.PeerID(),
			TrackerConnected: client.IsConnected(),
			ListenAddress:    server.Address(),
			ServerStats:      server.Stats(),
		})
	})
	router.GET("/peer/files", func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		all := store.AllFiles()
		resp := PeerFilesGET{Files: make([]PeerFilesGETFile, 0, len(all))}
		for name, set := range all {
			file := PeerFilesGETFile{
				FileName:  name,
				Available: uint32(len(set)),
				Chunks:    set.Sorted(),
			}
			if md, exists := store.Metadata(name); exists {
				file.FileSize = md.FileSize
				file.TotalChunks = md.TotalChunks
				file.Complete = set.Complete(md.TotalChunks)
				if !md.FileHash.IsZero() {
					file.FileHash = md.FileHash.String()
				}
			}
			resp.Files = append(resp.Files, file)
		}
		sort.Slice(resp.Files, func(i, j int) bool { return resp.Files[i].FileName < resp.Files[j].FileName })
		WriteJSON(w, resp)
	})
	router.GET("/peer/peers", func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		known := client.KnownPeers()
		resp := PeerPeersGET{Peers: make([]modules.PeerInfo, 0, len(known))}
		for _, info := range known {
			resp.Peers = append(resp.Peers, info)
		}
		sort.Slice(resp.Peers, func(i, j int) bool { return resp.Peers[i].PeerID < resp.Peers[j].PeerID })
		WriteJSON(w, resp)
	})
	router.GET("/peer/downloads", func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		WriteJSON(w, PeerDownloadsGET{Downloads: dl.Downloads()})
	})
	router.POST("/peer/downloads/:file", func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		file := ps.ByName("file")
		if file == "" {
			WriteError(w, Error{"a file name is required"}, http.StatusBadRequest)
			return
		}
		// Downloads run in the background; progress is polled through
		// GET /peer/downloads.
		go func() {
			_ = dl.Download(file)
		}()
		WriteSuccess(w)
	})
	router.DELETE("/peer/downloads/:file", func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		if !dl.Cancel(ps.ByName("file")) {
			WriteError(w, Error{"no running download for that file"}, http.StatusBadRequest)
			return
		}
		WriteSuccess(w)
	})
	router.POST("/peer/refresh", func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		client.ForceUpdate()
		WriteSuccess(w)
	})
}
