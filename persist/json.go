package persist

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gitlab.com/NebulousLabs/errors"
)

// readJSON reads the metadata lines and then decodes the remainder of the
// stream into object.
func readJSON(meta Metadata, object interface{}, r io.Reader) error {
	dec := json.NewDecoder(r)

	var header string
	if err := dec.Decode(&header); err != nil {
		return errors.AddContext(err, "unable to read header")
	}
	if header != meta.Header {
		return ErrBadHeader
	}
	var version string
	if err := dec.Decode(&version); err != nil {
		return errors.AddContext(err, "unable to read version")
	}
	if version != meta.Version {
		return ErrBadVersion
	}
	if err := dec.Decode(object); err != nil {
		return errors.AddContext(err, "unable to read persisted object")
	}
	return nil
}

// LoadJSON will load a persisted json object from disk.
func LoadJSON(meta Metadata, object interface{}, filename string) error {
	if strings.HasSuffix(filename, tempSuffix) {
		return ErrBadFilenameSuffix
	}
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()
	return readJSON(meta, object, file)
}

// SaveJSON will save a json object to disk. The write is performed against a
// temp file which is synced and then atomically renamed over the target, so
// a crash mid-write never corrupts existing state.
func SaveJSON(meta Metadata, object interface{}, filename string) error {
	if strings.HasSuffix(filename, tempSuffix) {
		return ErrBadFilenameSuffix
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(meta.Header); err != nil {
		return errors.AddContext(err, "unable to encode header")
	}
	if err := enc.Encode(meta.Version); err != nil {
		return errors.AddContext(err, "unable to encode version")
	}
	objBytes, err := json.MarshalIndent(object, "", "\t")
	if err != nil {
		return errors.AddContext(err, "unable to marshal persisted object")
	}
	buf.Write(objBytes)
	buf.WriteByte('\n')

	tmpname := filename + tempSuffix
	file, err := os.OpenFile(tmpname, os.O_RDWR|os.O_TRUNC|os.O_CREATE, DefaultFilePermissions)
	if err != nil {
		return errors.AddContext(err, "unable to open temp persist file")
	}
	if _, err := file.Write(buf.Bytes()); err != nil {
		return errors.Compose(errors.AddContext(err, "unable to write temp persist file"), file.Close())
	}
	if err := file.Sync(); err != nil {
		return errors.Compose(errors.AddContext(err, "unable to sync temp persist file"), file.Close())
	}
	if err := file.Close(); err != nil {
		return errors.AddContext(err, "unable to close temp persist file")
	}
	if err := os.Rename(tmpname, filename); err != nil {
		return errors.AddContext(err, "unable to commit persist file")
	}
	return syncDir(filepath.Dir(filename))
}

// syncDir flushes the directory entry for a freshly renamed file.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
