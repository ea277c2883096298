// Package digest provides content-addressing helpers built on top of
// go-digest, narrowed to the single algorithm (SHA-256) this module uses.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"

	godigest "github.com/opencontainers/go-digest"
)

// Digest is a "sha256:<hex>" content identifier.
type Digest string

// Empty is the sentinel digest for a layer with no content (no blob written).
const Empty Digest = "<empty>"

// None is the sentinel digest used in descriptors for an empty change set.
const None Digest = "<none>"

var (
	// ErrInvalidDigest is returned when a string does not parse as a
	// well-formed sha256 digest.
	ErrInvalidDigest = errors.New("digest: invalid digest string")
)

// Parse validates s and returns it as a Digest.
func Parse(s string) (Digest, error) {
	d, err := godigest.Parse(s)
	if err != nil {
		return "", ErrInvalidDigest
	}
	if d.Algorithm() != godigest.SHA256 {
		return "", ErrInvalidDigest
	}
	return Digest(d.String()), nil
}

// FromBytes computes the sha256 digest of b.
func FromBytes(b []byte) Digest {
	sum := sha256.Sum256(b)
	return Digest("sha256:" + hex.EncodeToString(sum[:]))
}

// FromReader streams r through sha256, returning the digest and the number
// of bytes read.
func FromReader(r io.Reader) (Digest, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, err
	}
	return Digest("sha256:" + hex.EncodeToString(h.Sum(nil))), n, nil
}

// Hex returns the hex-encoded digest value without the algorithm prefix.
func (d Digest) Hex() string {
	s := string(d)
	if len(s) > 7 && s[:7] == "sha256:" {
		return s[7:]
	}
	return s
}

func (d Digest) String() string { return string(d) }

// Validate reports whether d is a well-formed sha256 digest.
func (d Digest) Validate() error {
	_, err := Parse(string(d))
	return err
}
