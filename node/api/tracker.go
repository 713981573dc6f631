package api

import (
	"net/http"
	"sort"

	"github.com/julienschmidt/httprouter"

	"go.filefleet.net/fleetd/modules"
)

type (
	// TrackerGET contains the tracker's directory dump.
	TrackerGET struct {
		Address   modules.NetAddress `json:"address"`
		Requests  uint64             `json:"requests"`
		PeerCount int                `json:"peercount"`
		Peers     []modules.PeerInfo `json:"peers"`
	}
)

// RegisterRoutesTracker is a helper function to register all tracker
// routes.
func RegisterRoutesTracker(router *httprouter.Router, tr modules.Tracker) {
	router.GET("/tracker", func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		peers := tr.Peers()
		sort.Slice(peers, func(i, j int) bool { return peers[i].PeerID < peers[j].PeerID })
		WriteJSON(w, TrackerGET{
			Address:   tr.Address(),
			Requests:  tr.Requests(),
			PeerCount: len(peers),
			Peers:     peers,
		})
	})
}
