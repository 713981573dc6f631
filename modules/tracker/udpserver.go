package tracker

import (
	"net"
	"sync/atomic"
	"time"

	"go.filefleet.net/fleetd/modules"
	"go.filefleet.net/fleetd/wire"
)

// A request pairs one received datagram with the address to answer.
type request struct {
	datagram []byte
	remote   *net.UDPAddr
}

// permanentReceive reads datagrams off the tracker socket and feeds them to
// the worker pool. Read deadlines expire once a second so the loop notices
// shutdown promptly.
func (tr *Tracker) permanentReceive(requests chan<- request) {
	defer close(requests)
	buf := make([]byte, modules.MaxUDPPayload)
	for {
		select {
		case <-tr.tg.StopChan():
			return
		default:
		}

		err := tr.udpConn.SetReadDeadline(time.Now().Add(receiveTimeout))
		if err != nil {
			tr.log.Println("ERROR: unable to set read deadline:", err)
			return
		}
		n, remote, err := tr.udpConn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			// The socket is closed during shutdown; anything else is
			// reported before the loop exits.
			select {
			case <-tr.tg.StopChan():
			default:
				tr.log.Println("ERROR: tracker socket read failed:", err)
			}
			return
		}

		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		select {
		case requests <- request{datagram: datagram, remote: remote}:
		case <-tr.tg.StopChan():
			return
		}
	}
}

// threadedHandleRequests drains the request queue, one worker of the pool.
func (tr *Tracker) threadedHandleRequests(requests <-chan request) {
	for req := range requests {
		tr.threadedHandleRequest(req)
	}
}

// threadedHandleRequest processes one datagram and sends the response. A
// panicking handler is converted into a PROCESSING_ERROR response; no
// request may take the tracker down.
func (tr *Tracker) threadedHandleRequest(req request) {
	atomic.AddUint64(&tr.atomicRequests, 1)
	var response []byte
	func() {
		defer func() {
			if r := recover(); r != nil {
				tr.log.Println("ERROR: panic while handling tracker request:", r)
				response = wire.EncodeTrackerError(wire.UDPErrProcessingError, time.Now().UnixMilli())
			}
		}()
		response = tr.handleDatagram(req.datagram)
	}()
	if len(response) > modules.MaxUDPPayload {
		atomic.AddUint64(&tr.atomicOversizedSends, 1)
		tr.log.Printf("WARN: response to %v is %v bytes, exceeding the %v byte datagram limit", req.remote, len(response), modules.MaxUDPPayload)
	}
	if _, err := tr.udpConn.WriteToUDP(response, req.remote); err != nil {
		tr.log.Println("WARN: unable to send tracker response:", err)
	}
}

// handleDatagram parses one request and applies it to the directory,
// returning the encoded response.
func (tr *Tracker) handleDatagram(datagram []byte) []byte {
	now := time.Now().UnixMilli()
	req, err := wire.ParseTrackerRequest(datagram)
	if err != nil {
		atomic.AddUint64(&tr.atomicInvalid, 1)
		tr.log.Debugf("INFO: rejecting malformed datagram: %q", string(datagram))
		return wire.EncodeTrackerError(wire.UDPErrInvalidFormat, now)
	}
	pid := req.PeerID()
	if err := pid.IsValid(); err != nil {
		// A single entry with a garbage address would poison every peer
		// list sent out, so the requester is rejected instead.
		atomic.AddUint64(&tr.atomicInvalid, 1)
		tr.log.Debugf("INFO: rejecting request with invalid address %v:%v", req.IP, req.Port)
		return wire.EncodeTrackerError(wire.UDPErrInvalidFormat, now)
	}

	switch req.Command {
	case wire.CmdRegister:
		tr.managedRegister(pid)
		tr.log.Debugln("INFO: registered", pid)
		return tr.encodePeersListFor(pid, now)
	case wire.CmdUpdate:
		files := wire.ParseFilesInfo(req.Payload)
		tr.managedUpdate(pid, files)
		tr.log.Debugf("INFO: updated %v with %v files", pid, len(files))
		return tr.encodePeersListFor(pid, now)
	case wire.CmdUnregister:
		tr.managedUnregister(pid)
		tr.log.Debugln("INFO: unregistered", pid)
		return wire.EncodeAck(now)
	case wire.CmdHeartbeat:
		tr.managedHeartbeat(pid)
		return wire.EncodeAck(now)
	default:
		atomic.AddUint64(&tr.atomicInvalid, 1)
		tr.log.Debugf("INFO: unknown command %q from %v", req.Command, pid)
		return wire.EncodeTrackerError(wire.UDPErrUnknownCommand, now)
	}
}

// encodePeersListFor builds the directory response for one requester.
func (tr *Tracker) encodePeersListFor(requester modules.PeerID, now int64) []byte {
	peers := tr.managedPeersExcluding(requester)
	response, err := wire.EncodePeersList(now, peers)
	if err != nil {
		tr.log.Println("ERROR: unable to encode peer list:", err)
		return wire.EncodeTrackerError(wire.UDPErrProcessingError, now)
	}
	return response
}
