package wire

import (
	"bufio"
	"io"
	"sort"
	"strings"

	"gitlab.com/NebulousLabs/errors"

	"go.filefleet.net/fleetd/modules"
)

// Chunk protocol commands. One request is a single line "COMMAND [ARG1
// [ARG2]]" terminated by '\n'.
const (
	CmdGetChunk  = "GET_CHUNK"
	CmdListFiles = "LIST_FILES"
	CmdFileInfo  = "FILE_INFO"
	CmdPing      = "PING"
	CmdStats     = "STATS"
)

// Chunk protocol error codes.
const (
	TCPErrInvalidFormat     = "INVALID_FORMAT"
	TCPErrInvalidParams     = "INVALID_PARAMS"
	TCPErrInvalidChunkIndex = "INVALID_CHUNK_INDEX"
	TCPErrChunkNotFound     = "CHUNK_NOT_FOUND"
	TCPErrChunkReadError    = "CHUNK_READ_ERROR"
	TCPErrFileNotFound      = "FILE_NOT_FOUND"
	TCPErrUnknownCommand    = "UNKNOWN_COMMAND"
	TCPErrEmptyRequest      = "EMPTY_REQUEST"
	TCPErrProcessingError   = "PROCESSING_ERROR"
)

// Leading status fields of a chunk protocol response.
const (
	statusSuccess = "SUCCESS"
	statusError   = "ERROR"
)

var (
	// ErrEmptyRequest is returned when a request line carries no tokens.
	ErrEmptyRequest = errors.New("empty request line")
)

// A ChunkRequest is one parsed request line.
type ChunkRequest struct {
	Command string
	Args    []string
}

// EncodeChunkRequest renders a request line, including the terminator.
func EncodeChunkRequest(req ChunkRequest) []byte {
	parts := append([]string{req.Command}, req.Args...)
	return []byte(strings.Join(parts, " ") + "\n")
}

// ReadChunkRequest reads and parses one request line.
func ReadChunkRequest(r *bufio.Reader) (ChunkRequest, error) {
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return ChunkRequest{}, err
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ChunkRequest{}, ErrEmptyRequest
	}
	return ChunkRequest{Command: fields[0], Args: fields[1:]}, nil
}

// ChunkResponseError is the decoded form of an ERROR response. It
// implements error so clients can surface it directly.
type ChunkResponseError struct {
	Code      string
	Message   string
	Timestamp int64
}

// Error implements the error interface.
func (cre ChunkResponseError) Error() string {
	return "remote error " + cre.Code + ": " + cre.Message
}

// WriteChunkError writes an ERROR response.
func WriteChunkError(w io.Writer, code, message string, timestamp int64) error {
	if err := WriteString(w, statusError); err != nil {
		return err
	}
	if err := WriteString(w, code); err != nil {
		return err
	}
	if err := WriteString(w, message); err != nil {
		return err
	}
	return WriteUint64(w, uint64(timestamp))
}

// readStatus reads the leading status field and, when it is an error,
// decodes and returns the full ERROR response as a ChunkResponseError.
func readStatus(r io.Reader) error {
	status, err := ReadString(r)
	if err != nil {
		return err
	}
	switch status {
	case statusSuccess:
		return nil
	case statusError:
		code, err := ReadString(r)
		if err != nil {
			return err
		}
		message, err := ReadString(r)
		if err != nil {
			return err
		}
		ts, err := ReadUint64(r)
		if err != nil {
			return err
		}
		return ChunkResponseError{Code: code, Message: message, Timestamp: int64(ts)}
	default:
		return errors.New("unrecognized response status " + status)
	}
}

// WriteChunkData writes the success response to GET_CHUNK: the file name,
// the chunk index, and the raw chunk bytes.
func WriteChunkData(w io.Writer, file string, index uint32, data []byte) error {
	if err := WriteString(w, statusSuccess); err != nil {
		return err
	}
	if err := WriteString(w, file); err != nil {
		return err
	}
	if err := WriteUint32(w, index); err != nil {
		return err
	}
	if err := WriteUint32(w, uint32(len(data))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// ReadChunkData reads a GET_CHUNK response.
func ReadChunkData(r io.Reader) (file string, index uint32, data []byte, err error) {
	if err = readStatus(r); err != nil {
		return "", 0, nil, err
	}
	if file, err = ReadString(r); err != nil {
		return "", 0, nil, err
	}
	if index, err = ReadUint32(r); err != nil {
		return "", 0, nil, err
	}
	length, err := ReadUint32(r)
	if err != nil {
		return "", 0, nil, err
	}
	if length > modules.ChunkSize {
		return "", 0, nil, errors.New("chunk length exceeds the chunk size")
	}
	data = make([]byte, length)
	if _, err = io.ReadFull(r, data); err != nil {
		return "", 0, nil, errTruncated(err)
	}
	return file, index, data, nil
}

// WriteFileListing writes the success response to LIST_FILES.
func WriteFileListing(w io.Writer, files map[string]modules.ChunkSet) error {
	if err := WriteString(w, statusSuccess); err != nil {
		return err
	}
	if err := WriteUint32(w, uint32(len(files))); err != nil {
		return err
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := WriteString(w, name); err != nil {
			return err
		}
		indices := files[name].Sorted()
		if err := WriteUint32(w, uint32(len(indices))); err != nil {
			return err
		}
		for _, index := range indices {
			if err := WriteUint32(w, index); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadFileListing reads a LIST_FILES response.
func ReadFileListing(r io.Reader) (map[string]modules.ChunkSet, error) {
	if err := readStatus(r); err != nil {
		return nil, err
	}
	count, err := ReadUint32(r)
	if err != nil {
		return nil, err
	}
	files := make(map[string]modules.ChunkSet, count)
	for i := uint32(0); i < count; i++ {
		name, err := ReadString(r)
		if err != nil {
			return nil, err
		}
		chunkCount, err := ReadUint32(r)
		if err != nil {
			return nil, err
		}
		cs := make(modules.ChunkSet, chunkCount)
		for j := uint32(0); j < chunkCount; j++ {
			index, err := ReadUint32(r)
			if err != nil {
				return nil, err
			}
			cs.Add(index)
		}
		files[name] = cs
	}
	return files, nil
}

// FileInfo is the decoded form of a FILE_INFO response.
type FileInfo struct {
	Metadata  modules.FileMetadata
	Complete  bool
	Available modules.ChunkSet
}

// WriteFileInfo writes the success response to FILE_INFO.
func WriteFileInfo(w io.Writer, info FileInfo) error {
	if err := WriteString(w, statusSuccess); err != nil {
		return err
	}
	if err := WriteString(w, info.Metadata.FileName); err != nil {
		return err
	}
	if err := WriteUint64(w, info.Metadata.FileSize); err != nil {
		return err
	}
	if err := WriteUint32(w, info.Metadata.TotalChunks); err != nil {
		return err
	}
	hash := ""
	if !info.Metadata.FileHash.IsZero() {
		hash = info.Metadata.FileHash.String()
	}
	if err := WriteString(w, hash); err != nil {
		return err
	}
	if err := WriteUint64(w, uint64(info.Metadata.CreatedAt)); err != nil {
		return err
	}
	complete := byte(0)
	if info.Complete {
		complete = 1
	}
	if err := WriteByte(w, complete); err != nil {
		return err
	}
	indices := info.Available.Sorted()
	if err := WriteUint32(w, uint32(len(indices))); err != nil {
		return err
	}
	for _, index := range indices {
		if err := WriteUint32(w, index); err != nil {
			return err
		}
	}
	return nil
}

// ReadFileInfo reads a FILE_INFO response.
func ReadFileInfo(r io.Reader) (FileInfo, error) {
	if err := readStatus(r); err != nil {
		return FileInfo{}, err
	}
	var info FileInfo
	var err error
	if info.Metadata.FileName, err = ReadString(r); err != nil {
		return FileInfo{}, err
	}
	if info.Metadata.FileSize, err = ReadUint64(r); err != nil {
		return FileInfo{}, err
	}
	if info.Metadata.TotalChunks, err = ReadUint32(r); err != nil {
		return FileInfo{}, err
	}
	hash, err := ReadString(r)
	if err != nil {
		return FileInfo{}, err
	}
	if hash != "" {
		if err := info.Metadata.FileHash.LoadString(hash); err != nil {
			return FileInfo{}, errors.AddContext(err, "invalid file hash")
		}
	}
	createdAt, err := ReadUint64(r)
	if err != nil {
		return FileInfo{}, err
	}
	info.Metadata.CreatedAt = int64(createdAt)
	complete, err := ReadByte(r)
	if err != nil {
		return FileInfo{}, err
	}
	info.Complete = complete != 0
	count, err := ReadUint32(r)
	if err != nil {
		return FileInfo{}, err
	}
	info.Available = make(modules.ChunkSet, count)
	for i := uint32(0); i < count; i++ {
		index, err := ReadUint32(r)
		if err != nil {
			return FileInfo{}, err
		}
		info.Available.Add(index)
	}
	return info, nil
}

// Pong is the decoded form of a PING response.
type Pong struct {
	Timestamp int64
	PeerName  string
}

// WritePong writes the success response to PING.
func WritePong(w io.Writer, timestamp int64, peerName string) error {
	if err := WriteString(w, statusSuccess); err != nil {
		return err
	}
	if err := WriteString(w, "PONG"); err != nil {
		return err
	}
	if err := WriteUint64(w, uint64(timestamp)); err != nil {
		return err
	}
	return WriteString(w, peerName)
}

// ReadPong reads a PING response.
func ReadPong(r io.Reader) (Pong, error) {
	if err := readStatus(r); err != nil {
		return Pong{}, err
	}
	pong, err := ReadString(r)
	if err != nil {
		return Pong{}, err
	}
	if pong != "PONG" {
		return Pong{}, errors.New("malformed ping response")
	}
	ts, err := ReadUint64(r)
	if err != nil {
		return Pong{}, err
	}
	name, err := ReadString(r)
	if err != nil {
		return Pong{}, err
	}
	return Pong{Timestamp: int64(ts), PeerName: name}, nil
}

// ServerStats is the decoded form of a STATS response.
type ServerStats struct {
	PeerName            string
	Files               uint32
	Chunks              uint32
	Bytes               uint64
	ActiveConnections   uint32
	TotalRequests       uint32
	SuccessfulTransfers uint32
	Timestamp           int64
}

// WriteServerStats writes the success response to STATS.
func WriteServerStats(w io.Writer, stats ServerStats) error {
	if err := WriteString(w, statusSuccess); err != nil {
		return err
	}
	if err := WriteString(w, stats.PeerName); err != nil {
		return err
	}
	for _, v := range []uint32{stats.Files, stats.Chunks} {
		if err := WriteUint32(w, v); err != nil {
			return err
		}
	}
	if err := WriteUint64(w, stats.Bytes); err != nil {
		return err
	}
	for _, v := range []uint32{stats.ActiveConnections, stats.TotalRequests, stats.SuccessfulTransfers} {
		if err := WriteUint32(w, v); err != nil {
			return err
		}
	}
	return WriteUint64(w, uint64(stats.Timestamp))
}

// ReadServerStats reads a STATS response.
func ReadServerStats(r io.Reader) (ServerStats, error) {
	if err := readStatus(r); err != nil {
		return ServerStats{}, err
	}
	var stats ServerStats
	var err error
	if stats.PeerName, err = ReadString(r); err != nil {
		return ServerStats{}, err
	}
	if stats.Files, err = ReadUint32(r); err != nil {
		return ServerStats{}, err
	}
	if stats.Chunks, err = ReadUint32(r); err != nil {
		return ServerStats{}, err
	}
	if stats.Bytes, err = ReadUint64(r); err != nil {
		return ServerStats{}, err
	}
	if stats.ActiveConnections, err = ReadUint32(r); err != nil {
		return ServerStats{}, err
	}
	if stats.TotalRequests, err = ReadUint32(r); err != nil {
		return ServerStats{}, err
	}
	if stats.SuccessfulTransfers, err = ReadUint32(r); err != nil {
		return ServerStats{}, err
	}
	ts, err := ReadUint64(r)
	if err != nil {
		return ServerStats{}, err
	}
	stats.Timestamp = int64(ts)
	return stats, nil
}
