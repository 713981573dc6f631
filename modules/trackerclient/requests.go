package trackerclient

import (
	"sync/atomic"
	"time"

	"gitlab.com/NebulousLabs/errors"

	"go.filefleet.net/fleetd/modules"
	"go.filefleet.net/fleetd/wire"
)

// Register announces the peer to the tracker.
func (tc *TrackerClient) Register() error {
	if err := tc.tg.Add(); err != nil {
		return err
	}
	defer tc.tg.Done()
	return tc.managedRequest(wire.CmdRegister, "")
}

// SendUpdate pushes the current inventory immediately.
func (tc *TrackerClient) SendUpdate() error {
	if err := tc.tg.Add(); err != nil {
		return err
	}
	defer tc.tg.Done()
	return tc.managedRequest(wire.CmdUpdate, wire.BuildFilesInfo(tc.store.AllFiles()))
}

// Heartbeat refreshes the peer's liveness without resending inventory.
func (tc *TrackerClient) Heartbeat() error {
	if err := tc.tg.Add(); err != nil {
		return err
	}
	defer tc.tg.Done()
	return tc.managedRequest(wire.CmdHeartbeat, "")
}

// Unregister removes the peer from the tracker.
func (tc *TrackerClient) Unregister() error {
	if err := tc.tg.Add(); err != nil {
		return err
	}
	defer tc.tg.Done()
	return tc.managedUnregister()
}

// managedUnregister is the shutdown-safe core of Unregister; the OnStop
// hook calls it after tg.Add has started failing.
func (tc *TrackerClient) managedUnregister() error {
	return tc.managedRequest(wire.CmdUnregister, "")
}

// managedRequest performs one tracker round trip with retries and linear
// backoff, then folds the response into the client state.
func (tc *TrackerClient) managedRequest(command string, payload string) error {
	addr := tc.staticPeerID.NetAddress()
	datagram := wire.EncodeTrackerRequest(wire.TrackerRequest{
		Command: command,
		IP:      addr.Host(),
		Port:    addr.Port(),
		Payload: payload,
	})

	var lastErr error
	for attempt := 1; attempt <= maxRequestAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(time.Duration(attempt-1) * retryBackoff):
			case <-tc.tg.StopChan():
				return errors.New("client is shutting down")
			}
		}
		resp, err := tc.managedRoundTrip(datagram)
		if err != nil {
			lastErr = err
			tc.log.Debugf("INFO: %v attempt %v failed: %v", command, attempt, err)
			continue
		}
		tc.processResponse(command, resp)
		return nil
	}
	return errors.AddContext(lastErr, command+" failed after retries")
}

// managedRoundTrip sends one datagram and reads one response. Round trips
// are serialized so responses pair with their requests.
func (tc *TrackerClient) managedRoundTrip(datagram []byte) (interface{}, error) {
	tc.requestMu.Lock()
	defer tc.requestMu.Unlock()

	if _, err := tc.conn.Write(datagram); err != nil {
		return nil, errors.AddContext(err, "unable to send request")
	}
	if err := tc.conn.SetReadDeadline(time.Now().Add(responseTimeout)); err != nil {
		return nil, err
	}
	buf := make([]byte, modules.MaxUDPPayload)
	n, err := tc.conn.Read(buf)
	if err != nil {
		return nil, errors.AddContext(err, "no response from tracker")
	}
	resp, err := wire.DecodeTrackerResponse(buf[:n])
	if err != nil {
		return nil, errors.AddContext(err, "undecodable tracker response")
	}
	return resp, nil
}

// processResponse updates the snapshot and liveness bookkeeping for one
// decoded response.
func (tc *TrackerClient) processResponse(command string, resp interface{}) {
	atomic.StoreInt64(&tc.atomicLastResponse, time.Now().UnixMilli())
	switch resp := resp.(type) {
	case wire.PeersList:
		peers := make(map[modules.PeerID]modules.PeerInfo, len(resp.Peers))
		for _, peer := range resp.Peers {
			if peer.PeerID == tc.staticPeerID {
				continue
			}
			peers[peer.PeerID] = peer
		}
		tc.mu.Lock()
		tc.knownPeers = peers
		tc.mu.Unlock()
		tc.log.Debugf("INFO: %v returned %v peers", command, len(peers))
	case wire.Ack:
		tc.log.Debugf("INFO: %v acked at %v", command, resp.Timestamp)
	case wire.TrackerError:
		tc.log.Printf("WARN: tracker rejected %v: %v", command, resp.Code)
	}
}
