// Package checksum derives content fingerprints and the content-addressed
// object names built from them.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// Size is the length of a hex encoded fingerprint.
const Size = sha256.Size * 2

const (
	objectPrefix = "validation-"
	objectSuffix = ".bin"
)

// New returns the hash used for fingerprints.
func New() hash.Hash {
	return sha256.New()
}

// Sum returns the lowercase hex SHA-256 digest of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SumReader fingerprints everything read from r.
func SumReader(r io.Reader) (string, int64, error) {
	h := New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// ObjectName is the storage key for content with the given fingerprint.
func ObjectName(sum string) string {
	return objectPrefix + sum + objectSuffix
}

// ObjectPath joins bucket and object name the way responses report it.
func ObjectPath(bucket, name string) string {
	return bucket + "/" + name
}

// Valid reports whether s looks like a fingerprint produced by Sum.
func Valid(s string) bool {
	if len(s) != Size {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
