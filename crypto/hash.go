// Package crypto supplies the hashing primitives used for content integrity.
// Files are identified and verified with sha256; chunks carry no hash of
// their own. The hex form of a
// Hash is the file_hash that travels over the wire and sits in metadata
// files, so the algorithm is not swappable.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"hash"
	"io"

	"gitlab.com/NebulousLabs/errors"
)

const (
	// HashSize is the length of a Hash in bytes.
	HashSize = 32
)

type (
	// Hash is a sha256 digest.
	Hash [HashSize]byte
)

var (
	// ErrHashWrongLen is returned when decoding a hex string whose length
	// does not match a sha256 digest.
	ErrHashWrongLen = errors.New("encoded value has the wrong length to be a hash")
)

// NewHash returns a sha256 hasher.
func NewHash() hash.Hash {
	return sha256.New()
}

// HashBytes takes a byte slice and returns the result.
func HashBytes(data []byte) Hash {
	return Hash(sha256.Sum256(data))
}

// HashReader hashes everything remaining in r.
func HashReader(r io.Reader) (Hash, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return Hash{}, errors.AddContext(err, "unable to hash reader")
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out, nil
}

// String prints the hash in hex.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero returns whether the hash is the zero value.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// LoadString decodes a hex string into h.
func (h *Hash) LoadString(s string) error {
	if len(s) != HashSize*2 {
		return ErrHashWrongLen
	}
	hBytes, err := hex.DecodeString(s)
	if err != nil {
		return errors.AddContext(err, "could not unmarshal hash")
	}
	copy(h[:], hBytes)
	return nil
}

// MarshalJSON marshals a hash as a hex string.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON decodes the json hex string of the hash.
func (h *Hash) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return h.LoadString(s)
}
