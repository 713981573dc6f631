package chunkstore

import (
	"strconv"
	"strings"
)

// sanitizeFileName maps a shared file name onto the stem used for its chunk
// and metadata files: every rune other than letters, digits, '.' and '-'
// becomes '_'.
func sanitizeFileName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-':
			return r
		default:
			return '_'
		}
	}, name)
}

// chunkFileName returns the base name of the chunk file for (stem, index).
func chunkFileName(stem string, index uint32) string {
	return stem + "_" + strconv.FormatUint(uint64(index), 10) + chunkSuffix
}

// parseChunkFileName splits a chunk file base name into its stem and index.
// The second return is false for names that are not chunk files.
func parseChunkFileName(name string) (stem string, index uint32, ok bool) {
	if !strings.HasSuffix(name, chunkSuffix) {
		return "", 0, false
	}
	base := strings.TrimSuffix(name, chunkSuffix)
	sep := strings.LastIndex(base, "_")
	if sep < 0 || sep == len(base)-1 {
		return "", 0, false
	}
	parsed, err := strconv.ParseUint(base[sep+1:], 10, 32)
	if err != nil {
		return "", 0, false
	}
	return base[:sep], uint32(parsed), true
}
