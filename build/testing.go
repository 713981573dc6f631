package build

import (
	"os"
	"path/filepath"
)

var (
	// FleetTestingDir is the directory that contains all of the files and
	// folders created during testing.
	FleetTestingDir = filepath.Join(os.TempDir(), "FleetTesting")
)

// TempDir joins the provided directories and prefixes them with the fleetd
// testing directory, removing any old test data along the way.
func TempDir(dirs ...string) string {
	path := filepath.Join(FleetTestingDir, filepath.Join(dirs...))
	os.RemoveAll(path)
	return path
}
