package chunkserver

import (
	"bufio"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"gitlab.com/NebulousLabs/ratelimit"

	"go.filefleet.net/fleetd/modules"
	"go.filefleet.net/fleetd/wire"
)

// threadedHandleConn serves one connection: read one request line, dispatch
// it, write one response, close. Panics are contained per connection.
func (srv *ChunkServer) threadedHandleConn(conn net.Conn) {
	defer func() { <-srv.slots }()
	defer conn.Close()
	if srv.tg.Add() != nil {
		return
	}
	defer srv.tg.Done()

	atomic.AddUint32(&srv.atomicActiveConnections, 1)
	defer atomic.AddUint32(&srv.atomicActiveConnections, ^uint32(0))
	atomic.AddUint32(&srv.atomicTotalRequests, 1)

	if srv.staticRL != nil {
		conn = ratelimit.NewRLConn(conn, srv.staticRL, srv.rlCancel)
	}

	defer func() {
		if r := recover(); r != nil {
			srv.log.Println("ERROR: panic while serving", conn.RemoteAddr(), ":", r)
			srv.writeError(conn, wire.TCPErrProcessingError, "internal error")
		}
	}()

	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return
	}
	req, err := wire.ReadChunkRequest(bufio.NewReader(conn))
	if err == wire.ErrEmptyRequest {
		srv.writeError(conn, wire.TCPErrEmptyRequest, "request line is empty")
		return
	}
	if err != nil {
		srv.log.Debugln("INFO: unable to read request from", conn.RemoteAddr(), ":", err)
		srv.writeError(conn, wire.TCPErrInvalidFormat, "unable to read request line")
		return
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return
	}

	switch req.Command {
	case wire.CmdGetChunk:
		srv.handleGetChunk(conn, req.Args)
	case wire.CmdListFiles:
		srv.handleListFiles(conn)
	case wire.CmdFileInfo:
		srv.handleFileInfo(conn, req.Args)
	case wire.CmdPing:
		srv.handlePing(conn)
	case wire.CmdStats:
		srv.handleStats(conn)
	default:
		srv.writeError(conn, wire.TCPErrUnknownCommand, "unknown command "+req.Command)
	}
}

// handleGetChunk serves one chunk out of the store.
func (srv *ChunkServer) handleGetChunk(conn net.Conn, args []string) {
	if len(args) != 2 {
		srv.writeError(conn, wire.TCPErrInvalidParams, "GET_CHUNK takes a file and an index")
		return
	}
	file := args[0]
	index, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		srv.writeError(conn, wire.TCPErrInvalidChunkIndex, "chunk index is not a non-negative integer")
		return
	}
	if md, exists := srv.store.Metadata(file); exists && uint32(index) >= md.TotalChunks {
		srv.writeError(conn, wire.TCPErrInvalidChunkIndex, "chunk index is past the end of the file")
		return
	}
	if !srv.store.HasChunk(file, uint32(index)) {
		srv.writeError(conn, wire.TCPErrChunkNotFound, "chunk is not available here")
		return
	}
	data, err := srv.store.LoadChunk(file, uint32(index))
	if err != nil {
		srv.log.Println("WARN: chunk read failed for", file, index, ":", err)
		srv.writeError(conn, wire.TCPErrChunkReadError, "chunk could not be read")
		return
	}
	if err := wire.WriteChunkData(conn, file, uint32(index), data); err != nil {
		srv.log.Debugln("INFO: chunk send to", conn.RemoteAddr(), "failed:", err)
		return
	}
	atomic.AddUint32(&srv.atomicTransfers, 1)
}

// handleListFiles serves the full availability listing.
func (srv *ChunkServer) handleListFiles(conn net.Conn) {
	if err := wire.WriteFileListing(conn, srv.store.AllFiles()); err != nil {
		srv.log.Debugln("INFO: listing send failed:", err)
	}
}

// handleFileInfo serves one file's metadata and availability.
func (srv *ChunkServer) handleFileInfo(conn net.Conn, args []string) {
	if len(args) != 1 {
		srv.writeError(conn, wire.TCPErrInvalidParams, "FILE_INFO takes a file name")
		return
	}
	file := args[0]
	md, exists := srv.store.Metadata(file)
	if !exists {
		srv.writeError(conn, wire.TCPErrFileNotFound, "no such file")
		return
	}
	available := srv.store.Available(file)
	info := wire.FileInfo{
		Metadata:  md,
		Complete:  available.Complete(md.TotalChunks),
		Available: available,
	}
	if err := wire.WriteFileInfo(conn, info); err != nil {
		srv.log.Debugln("INFO: file info send failed:", err)
	}
}

// handlePing answers a liveness probe.
func (srv *ChunkServer) handlePing(conn net.Conn) {
	if err := wire.WritePong(conn, time.Now().UnixMilli(), string(srv.managedPeerName())); err != nil {
		srv.log.Debugln("INFO: pong send failed:", err)
	}
}

// handleStats serves the running counters.
func (srv *ChunkServer) handleStats(conn net.Conn) {
	files, chunks, bytes := storeTotals(srv.store)
	stats := wire.ServerStats{
		PeerName:            string(srv.managedPeerName()),
		Files:               files,
		Chunks:              chunks,
		Bytes:               bytes,
		ActiveConnections:   atomic.LoadUint32(&srv.atomicActiveConnections),
		TotalRequests:       atomic.LoadUint32(&srv.atomicTotalRequests),
		SuccessfulTransfers: atomic.LoadUint32(&srv.atomicTransfers),
		Timestamp:           time.Now().UnixMilli(),
	}
	if err := wire.WriteServerStats(conn, stats); err != nil {
		srv.log.Debugln("INFO: stats send failed:", err)
	}
}

// storeTotals sums the store's inventory for STATS. The store interface
// exposes availability and metadata; sizes of chunks without metadata are
// estimated at the full chunk size.
func storeTotals(store modules.ChunkStore) (files uint32, chunks uint32, bytes uint64) {
	all := store.AllFiles()
	for file, set := range all {
		files++
		chunks += uint32(len(set))
		md, exists := store.Metadata(file)
		if !exists {
			bytes += uint64(len(set)) * modules.ChunkSize
			continue
		}
		for index := range set {
			bytes += modules.ChunkLen(md.FileSize, index)
		}
	}
	return files, chunks, bytes
}

// writeError sends an ERROR response, best effort.
func (srv *ChunkServer) writeError(conn net.Conn, code, message string) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := wire.WriteChunkError(conn, code, message, time.Now().UnixMilli()); err != nil {
		srv.log.Debugln("INFO: error response send failed:", err)
	}
}
