package wire

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"gitlab.com/NebulousLabs/errors"

	"go.filefleet.net/fleetd/modules"
)

// Tracker request commands. One datagram carries one request of the form
// "COMMAND IP PORT [PAYLOAD]".
const (
	CmdRegister   = "REGISTER"
	CmdUpdate     = "UPDATE"
	CmdUnregister = "UNREGISTER"
	CmdHeartbeat  = "HEARTBEAT"
)

// Tracker error codes.
const (
	UDPErrUnknownCommand  = "UNKNOWN_COMMAND"
	UDPErrInvalidFormat   = "INVALID_FORMAT"
	UDPErrProcessingError = "PROCESSING_ERROR"
)

// peersListHeader is the leading length-prefixed field of a binary peer
// list response.
const peersListHeader = "PEERS_LIST"

var (
	// ErrInvalidRequestFormat is returned when a tracker request carries
	// fewer than three tokens.
	ErrInvalidRequestFormat = errors.New("tracker request must carry at least COMMAND IP PORT")
)

// A TrackerRequest is one parsed tracker datagram.
type TrackerRequest struct {
	Command string
	IP      string
	Port    string
	Payload string
}

// PeerID assembles the requester identity from the address tokens.
func (req TrackerRequest) PeerID() modules.PeerID {
	return modules.NewPeerID(req.IP, req.Port)
}

// EncodeTrackerRequest renders a request as a datagram.
func EncodeTrackerRequest(req TrackerRequest) []byte {
	s := req.Command + " " + req.IP + " " + req.Port
	if req.Payload != "" {
		s += " " + req.Payload
	}
	return []byte(s)
}

// ParseTrackerRequest splits a datagram into at most four tokens. The
// payload token keeps any embedded spaces.
func ParseTrackerRequest(datagram []byte) (TrackerRequest, error) {
	s := strings.TrimRight(string(datagram), "\r\n ")
	tokens := strings.SplitN(s, " ", 4)
	if len(tokens) < 3 || tokens[0] == "" || tokens[1] == "" || tokens[2] == "" {
		return TrackerRequest{}, ErrInvalidRequestFormat
	}
	req := TrackerRequest{
		Command: tokens[0],
		IP:      tokens[1],
		Port:    tokens[2],
	}
	if len(tokens) == 4 {
		req.Payload = tokens[3]
	}
	return req, nil
}

// ParseFilesInfo parses an UPDATE payload. The grammar is entry (";;"
// entry)* with each entry filename ("," index)*. Malformed pieces are
// skipped, never fatal: empty entries and empty filenames vanish, and
// non-numeric or negative indices are dropped while the rest of the entry
// survives.
func ParseFilesInfo(payload string) map[string]modules.ChunkSet {
	files := make(map[string]modules.ChunkSet)
	if payload == "" {
		return files
	}
	for _, entry := range strings.Split(payload, ";;") {
		if entry == "" {
			continue
		}
		fields := strings.Split(entry, ",")
		name := fields[0]
		if name == "" {
			continue
		}
		cs, ok := files[name]
		if !ok {
			cs = make(modules.ChunkSet)
			files[name] = cs
		}
		for _, field := range fields[1:] {
			index, err := strconv.ParseInt(field, 10, 64)
			if err != nil || index < 0 || index > int64(^uint32(0)) {
				continue
			}
			cs.Add(uint32(index))
		}
	}
	return files
}

// BuildFilesInfo renders an inventory as an UPDATE payload. Entries are
// sorted so repeated updates serialize identically.
func BuildFilesInfo(files map[string]modules.ChunkSet) string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]string, 0, len(names))
	for _, name := range names {
		parts := []string{name}
		for _, index := range files[name].Sorted() {
			parts = append(parts, strconv.FormatUint(uint64(index), 10))
		}
		entries = append(entries, strings.Join(parts, ","))
	}
	return strings.Join(entries, ";;")
}

// Tracker response kinds.
type (
	// PeersList is the directory snapshot a tracker returns to REGISTER
	// and UPDATE requests.
	PeersList struct {
		Timestamp int64 // server clock, unix milliseconds
		Peers     []modules.PeerInfo
	}

	// Ack acknowledges UNREGISTER and HEARTBEAT requests.
	Ack struct {
		Timestamp int64
	}

	// TrackerError reports a request the tracker refused.
	TrackerError struct {
		Code      string
		Timestamp int64
	}
)

// EncodePeersList renders the binary peer list response.
func EncodePeersList(timestamp int64, peers []modules.PeerInfo) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteString(&buf, peersListHeader); err != nil {
		return nil, err
	}
	if err := WriteUint64(&buf, uint64(timestamp)); err != nil {
		return nil, err
	}
	if err := WriteUint32(&buf, uint32(len(peers))); err != nil {
		return nil, err
	}
	for _, peer := range peers {
		if err := encodePeerRecord(&buf, peer); err != nil {
			return nil, errors.AddContext(err, "unable to encode peer "+string(peer.PeerID))
		}
	}
	return buf.Bytes(), nil
}

// encodePeerRecord writes one directory entry.
func encodePeerRecord(w io.Writer, peer modules.PeerInfo) error {
	if err := WriteString(w, string(peer.PeerID)); err != nil {
		return err
	}
	if err := WriteUint64(w, uint64(peer.LastSeen)); err != nil {
		return err
	}
	if err := WriteUint32(w, uint32(len(peer.Files))); err != nil {
		return err
	}
	names := make([]string, 0, len(peer.Files))
	for name := range peer.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := WriteString(w, name); err != nil {
			return err
		}
		indices := peer.Files[name].Sorted()
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

// decodePeerRecord reads one directory entry.
func decodePeerRecord(r io.Reader) (modules.PeerInfo, error) {
	rawID, err := ReadString(r)
	if err != nil {
		return modules.PeerInfo{}, err
	}
	pid, err := modules.CanonicalPeerID(rawID)
	if err != nil {
		return modules.PeerInfo{}, err
	}
	lastSeen, err := ReadUint64(r)
	if err != nil {
		return modules.PeerInfo{}, err
	}
	fileCount, err := ReadUint32(r)
	if err != nil {
		return modules.PeerInfo{}, err
	}
	files := make(map[string]modules.ChunkSet, fileCount)
	for i := uint32(0); i < fileCount; i++ {
		name, err := ReadString(r)
		if err != nil {
			return modules.PeerInfo{}, err
		}
		chunkCount, err := ReadUint32(r)
		if err != nil {
			return modules.PeerInfo{}, err
		}
		cs := make(modules.ChunkSet, chunkCount)
		for j := uint32(0); j < chunkCount; j++ {
			index, err := ReadUint32(r)
			if err != nil {
				return modules.PeerInfo{}, err
			}
			cs.Add(index)
		}
		files[name] = cs
	}
	return modules.PeerInfo{PeerID: pid, LastSeen: int64(lastSeen), Files: files}, nil
}

// EncodeAck renders the legacy text acknowledgement.
func EncodeAck(timestamp int64) []byte {
	return []byte(fmt.Sprintf("ACK %d", timestamp))
}

// EncodeTrackerError renders the legacy text error response.
func EncodeTrackerError(code string, timestamp int64) []byte {
	return []byte(fmt.Sprintf("ERROR %s %d", code, timestamp))
}

// DecodeTrackerResponse interprets one response datagram. The response kind
// is sniffed from the leading bytes: a length-prefixed "PEERS_LIST", "ACK"
// or "ERROR" selects the binary path, the ASCII forms "ACK …" / "ERROR …"
// select the legacy text path, and anything else is treated as a legacy
// headerless concatenation of peer records.
func DecodeTrackerResponse(datagram []byte) (interface{}, error) {
	if header, ok := peekHeader(datagram); ok {
		r := bytes.NewReader(datagram)
		if _, err := ReadString(r); err != nil {
			return nil, err
		}
		switch header {
		case peersListHeader:
			return decodeBinaryPeersList(r)
		case "ACK":
			ts, err := ReadUint64(r)
			if err != nil {
				return nil, err
			}
			return Ack{Timestamp: int64(ts)}, nil
		case "ERROR":
			code, err := ReadString(r)
			if err != nil {
				return nil, err
			}
			ts, err := ReadUint64(r)
			if err != nil {
				return nil, err
			}
			return TrackerError{Code: code, Timestamp: int64(ts)}, nil
		}
	}
	if resp, ok := parseTextResponse(datagram); ok {
		return resp, nil
	}
	return decodeLegacyPeersList(datagram)
}

// peekHeader attempts to decode the leading bytes as a length-prefixed
// response header.
func peekHeader(datagram []byte) (string, bool) {
	header, err := ReadString(bytes.NewReader(datagram))
	if err != nil {
		return "", false
	}
	switch header {
	case peersListHeader, "ACK", "ERROR":
		return header, true
	}
	return "", false
}

// decodeBinaryPeersList reads the counted peer list that follows the
// PEERS_LIST header.
func decodeBinaryPeersList(r io.Reader) (PeersList, error) {
	timestamp, err := ReadUint64(r)
	if err != nil {
		return PeersList{}, err
	}
	peerCount, err := ReadUint32(r)
	if err != nil {
		return PeersList{}, err
	}
	list := PeersList{Timestamp: int64(timestamp)}
	for i := uint32(0); i < peerCount; i++ {
		peer, err := decodePeerRecord(r)
		if err != nil {
			return PeersList{}, errors.AddContext(err, "peer record "+strconv.Itoa(int(i)))
		}
		list.Peers = append(list.Peers, peer)
	}
	return list, nil
}

// decodeLegacyPeersList reads the headerless record concatenation produced
// by older peers: peer records back to back, no count prefix, terminated by
// the end of the datagram.
func decodeLegacyPeersList(datagram []byte) (PeersList, error) {
	r := bytes.NewReader(datagram)
	var list PeersList
	for {
		peer, err := decodePeerRecord(r)
		if err == io.EOF {
			return list, nil
		}
		if err != nil {
			return PeersList{}, errors.AddContext(err, "unable to decode legacy peer list")
		}
		list.Peers = append(list.Peers, peer)
	}
}

// parseTextResponse recognizes the ASCII "ACK <ms>" and "ERROR <code> <ms>"
// forms.
func parseTextResponse(datagram []byte) (interface{}, bool) {
	s := strings.TrimRight(string(datagram), "\r\n ")
	fields := strings.Fields(s)
	if len(fields) >= 2 && fields[0] == "ACK" {
		ts, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, false
		}
		return Ack{Timestamp: ts}, true
	}
	if len(fields) >= 3 && fields[0] == "ERROR" {
		ts, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return nil, false
		}
		return TrackerError{Code: fields[1], Timestamp: ts}, true
	}
	return nil, false
}
