package chunkstore

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gitlab.com/NebulousLabs/errors"

	"go.filefleet.net/fleetd/modules"
)

// writeMetadataFile persists one file description as key=value text. The
// write goes through a temp file so a crash never leaves a torn metadata
// file behind.
func writeMetadataFile(path string, md modules.FileMetadata) error {
	hash := pendingVerificationHash
	if !md.FileHash.IsZero() {
		hash = md.FileHash.String()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "fileName=%s\n", md.FileName)
	fmt.Fprintf(&sb, "fileSize=%d\n", md.FileSize)
	fmt.Fprintf(&sb, "totalChunks=%d\n", md.TotalChunks)
	fmt.Fprintf(&sb, "fileHash=%s\n", hash)
	fmt.Fprintf(&sb, "createdAt=%d\n", md.CreatedAt)

	tmp := path + "_temp"
	if err := os.WriteFile(tmp, []byte(sb.String()), 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// readMetadataFile parses one key=value metadata file.
func readMetadataFile(path string) (modules.FileMetadata, error) {
	file, err := os.Open(path)
	if err != nil {
		return modules.FileMetadata{}, err
	}
	defer file.Close()

	var md modules.FileMetadata
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sep := strings.Index(line, "=")
		if sep < 0 {
			continue
		}
		key, value := line[:sep], line[sep+1:]
		switch key {
		case "fileName":
			md.FileName = value
		case "fileSize":
			md.FileSize, err = strconv.ParseUint(value, 10, 64)
		case "totalChunks":
			var total uint64
			total, err = strconv.ParseUint(value, 10, 32)
			md.TotalChunks = uint32(total)
		case "fileHash":
			if value != "" && value != pendingVerificationHash {
				err = md.FileHash.LoadString(value)
			}
		case "createdAt":
			md.CreatedAt, err = strconv.ParseInt(value, 10, 64)
		}
		if err != nil {
			return modules.FileMetadata{}, errors.AddContext(err, "invalid metadata field "+key)
		}
	}
	if err := scanner.Err(); err != nil {
		return modules.FileMetadata{}, err
	}
	if md.FileName == "" {
		return modules.FileMetadata{}, errors.New("metadata file is missing fileName")
	}
	if md.FileSize == 0 {
		return modules.FileMetadata{}, errors.New("metadata file is missing fileSize")
	}
	if md.TotalChunks != modules.NumChunks(md.FileSize) {
		return modules.FileMetadata{}, errors.New("metadata chunk count disagrees with file size")
	}
	return md, nil
}
