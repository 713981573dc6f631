package modules

import (
	"net"
	"strings"

	"gitlab.com/NebulousLabs/errors"
)

// peerIDPrefix is prepended to a network address to form a peer identity.
const peerIDPrefix = "Peer_"

// A PeerID is the stable identity of a peer, of the form "Peer_<ip>:<port>".
// The identity doubles as the peer's reachable chunk-server address.
type PeerID string

var (
	// ErrInvalidPeerID is returned when a string cannot be canonicalized
	// into a PeerID.
	ErrInvalidPeerID = errors.New("invalid peer id")
)

// NewPeerID assembles a PeerID from an ip and a port.
func NewPeerID(ip, port string) PeerID {
	return PeerID(peerIDPrefix + net.JoinHostPort(ip, port))
}

// CanonicalPeerID canonicalizes s into a PeerID. A bare "ip:port" is
// promoted to "Peer_ip:port"; a string already carrying the prefix is kept
// as-is. The embedded address must be a valid host:port pair.
func CanonicalPeerID(s string) (PeerID, error) {
	addr := strings.TrimPrefix(s, peerIDPrefix)
	if err := NetAddress(addr).IsValid(); err != nil {
		return "", errors.Compose(ErrInvalidPeerID, err)
	}
	return PeerID(peerIDPrefix + addr), nil
}

// NetAddress returns the reachable address embedded in the id.
func (pid PeerID) NetAddress() NetAddress {
	return NetAddress(strings.TrimPrefix(string(pid), peerIDPrefix))
}

// IsValid returns an error if the id does not carry the prefix or does not
// embed a valid address.
func (pid PeerID) IsValid() error {
	if !strings.HasPrefix(string(pid), peerIDPrefix) {
		return ErrInvalidPeerID
	}
	return pid.NetAddress().IsValid()
}
