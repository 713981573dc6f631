package modules

import (
	"net"
	"strconv"

	"gitlab.com/NebulousLabs/errors"
)

// MaxEncodedNetAddressLength is the maximum length a NetAddress is allowed
// to occupy after being length-prefix encoded for the wire.
const MaxEncodedNetAddressLength = 266

// A NetAddress contains the information needed to contact a peer over TCP or
// UDP, in "host:port" form.
type NetAddress string

var (
	// ErrInvalidNetAddress is returned when an address cannot be split into
	// a host and a port.
	ErrInvalidNetAddress = errors.New("invalid network address")
)

// Host removes the port from a NetAddress, returning just the host. If the
// address is not of the form "host:port" the empty string is returned.
func (na NetAddress) Host() string {
	host, _, err := net.SplitHostPort(string(na))
	if err != nil {
		return ""
	}
	return host
}

// Port returns the NetAddress object's port number. If the address is not of
// the form "host:port" the empty string is returned.
func (na NetAddress) Port() string {
	_, port, err := net.SplitHostPort(string(na))
	if err != nil {
		return ""
	}
	return port
}

// IsValid returns an error if the NetAddress is not a host:port pair with a
// parseable port number and non-empty host.
func (na NetAddress) IsValid() error {
	host, port, err := net.SplitHostPort(string(na))
	if err != nil {
		return errors.Compose(ErrInvalidNetAddress, err)
	}
	if host == "" {
		return errors.AddContext(ErrInvalidNetAddress, "host is empty")
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return errors.AddContext(ErrInvalidNetAddress, "port is not a number in [0,65535]")
	}
	return nil
}

// IsLoopback returns true for ip addresses that are on the same machine.
func (na NetAddress) IsLoopback() bool {
	host := na.Host()
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return true
	}
	return false
}
