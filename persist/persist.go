// Package persist supplies the shared persistence helpers: a file logger,
// metadata-checked JSON save/load, and small disk utilities. Every module
// keeps its state under its own persist directory and goes through this
// package rather than touching encoding details itself.
package persist

import (
	"encoding/base32"
	"os"

	"gitlab.com/NebulousLabs/errors"
	"gitlab.com/NebulousLabs/fastrand"
)

const (
	// DefaultDirPermissions is the default permission set for module
	// persist directories.
	DefaultDirPermissions os.FileMode = 0700

	// DefaultFilePermissions is the default permission set for persisted
	// files.
	DefaultFilePermissions os.FileMode = 0600

	// DefaultDiskPermissionsTest is the permission set used for testing
	// directories.
	DefaultDiskPermissionsTest os.FileMode = 0750

	// tempSuffix is appended to a persist file while it is being written,
	// before it atomically replaces the real file.
	tempSuffix = "_temp"
)

var (
	// ErrBadFilenameSuffix indicates that a filename ends in the reserved
	// temp suffix and may not be used for persistence.
	ErrBadFilenameSuffix = errors.New("filename suffix not allowed")

	// ErrBadHeader indicates that the file opened is not the file that was
	// expected.
	ErrBadHeader = errors.New("wrong header")

	// ErrBadVersion indicates that the version number of the file is not
	// the version number that was expected.
	ErrBadVersion = errors.New("incompatible version")
)

// Metadata contains the header and version of the data being stored.
type Metadata struct {
	Header  string
	Version string
}

// RandomSuffix returns a 20 character base32 suffix for a filename. There are
// 100 bits of entropy, and a very low probability of colliding with existing
// files unintentionally.
func RandomSuffix() string {
	str := base32.StdEncoding.EncodeToString(fastrand.Bytes(20))
	return str[:20]
}

// RemoveFile removes an atomic file from disk, along with any uncommitted
// changes to it.
func RemoveFile(filename string) error {
	err := os.RemoveAll(filename)
	if err != nil {
		return err
	}
	return os.RemoveAll(filename + tempSuffix)
}
