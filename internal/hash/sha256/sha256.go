// Package sha256 provides SHA-256 content digests.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash consumes r and returns its hex digest.
func (h *Hasher) Hash(r io.Reader) (string, error) {
	sum := sha256.New()
	if _, err := io.Copy(sum, r); err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}

// TeeHash returns a reader that hashes everything read through it, and a
// function reporting the digest of the bytes read so far.
func (h *Hasher) TeeHash(r io.Reader) (io.Reader, func() string) {
	sum := sha256.New()
	return io.TeeReader(r, sum), func() string { return hex.EncodeToString(sum.Sum(nil)) }
}
