package downloader

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"time"

	"gitlab.com/NebulousLabs/errors"

	"go.filefleet.net/fleetd/modules"
	"go.filefleet.net/fleetd/wire"
)

// A TransportError is a network failure talking to one peer, carrying the
// phase it struck in and the remote endpoint.
type TransportError struct {
	Phase  string // "connect", "write" or "read"
	Remote modules.NetAddress
	Err    error
}

// Error implements the error interface.
func (te TransportError) Error() string {
	return fmt.Sprintf("%v failed against %v: %v", te.Phase, te.Remote, te.Err)
}

// Unwrap exposes the underlying failure.
func (te TransportError) Unwrap() error {
	return te.Err
}

// roundTrip dials addr, sends one request line and hands the framed
// response stream to parse. The connection closes when parse returns.
func roundTrip(addr modules.NetAddress, req wire.ChunkRequest, parse func(*bufio.Reader) error) error {
	conn, err := net.DialTimeout("tcp", string(addr), connectTimeout)
	if err != nil {
		return TransportError{Phase: "connect", Remote: addr, Err: err}
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(readTimeout)); err != nil {
		return TransportError{Phase: "write", Remote: addr, Err: err}
	}
	if _, err := conn.Write(wire.EncodeChunkRequest(req)); err != nil {
		return TransportError{Phase: "write", Remote: addr, Err: err}
	}
	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return TransportError{Phase: "read", Remote: addr, Err: err}
	}
	if err := parse(bufio.NewReader(conn)); err != nil {
		// Remote ERROR responses pass through unwrapped; everything else
		// is a transport failure.
		if _, ok := err.(wire.ChunkResponseError); ok {
			return err
		}
		return TransportError{Phase: "read", Remote: addr, Err: err}
	}
	return nil
}

// DownloadChunk fetches one chunk from the peer at addr.
func DownloadChunk(addr modules.NetAddress, file string, index uint32) ([]byte, error) {
	var data []byte
	req := wire.ChunkRequest{Command: wire.CmdGetChunk, Args: []string{file, strconv.FormatUint(uint64(index), 10)}}
	err := roundTrip(addr, req, func(r *bufio.Reader) error {
		gotFile, gotIndex, gotData, err := wire.ReadChunkData(r)
		if err != nil {
			return err
		}
		if gotFile != file || gotIndex != index {
			return errors.New("peer answered for a different chunk")
		}
		data = gotData
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// ListFiles fetches the availability listing of the peer at addr.
func ListFiles(addr modules.NetAddress) (map[string]modules.ChunkSet, error) {
	var files map[string]modules.ChunkSet
	err := roundTrip(addr, wire.ChunkRequest{Command: wire.CmdListFiles}, func(r *bufio.Reader) error {
		var err error
		files, err = wire.ReadFileListing(r)
		return err
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// FileInfo fetches one file's metadata and availability from the peer at
// addr.
func FileInfo(addr modules.NetAddress, file string) (wire.FileInfo, error) {
	var info wire.FileInfo
	req := wire.ChunkRequest{Command: wire.CmdFileInfo, Args: []string{file}}
	err := roundTrip(addr, req, func(r *bufio.Reader) error {
		var err error
		info, err = wire.ReadFileInfo(r)
		return err
	})
	if err != nil {
		return wire.FileInfo{}, err
	}
	return info, nil
}

// Ping probes the peer at addr.
func Ping(addr modules.NetAddress) (wire.Pong, error) {
	var pong wire.Pong
	err := roundTrip(addr, wire.ChunkRequest{Command: wire.CmdPing}, func(r *bufio.Reader) error {
		var err error
		pong, err = wire.ReadPong(r)
		return err
	})
	if err != nil {
		return wire.Pong{}, err
	}
	return pong, nil
}

// Stats fetches the counters of the peer at addr.
func Stats(addr modules.NetAddress) (wire.ServerStats, error) {
	var stats wire.ServerStats
	err := roundTrip(addr, wire.ChunkRequest{Command: wire.CmdStats}, func(r *bufio.Reader) error {
		var err error
		stats, err = wire.ReadServerStats(r)
		return err
	})
	if err != nil {
		return wire.ServerStats{}, err
	}
	return stats, nil
}
