// Package version defines the content-addressed identifier of an
// article diff. A Version is the first 16 bytes of the SHA-256 hash
// of the diff text and doubles as the causal pointer between edits
// and as the federation deduplication key.
package version

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Size is the number of bytes in a Version.
const Size = 16

// Version is a truncated SHA-256 digest of a diff text. Changing the
// hash algorithm or the diff serialization breaks cross-instance
// version agreement and amounts to a protocol bump.
type Version [Size]byte

// Of computes the Version of the given diff text. It is pure and
// deterministic: the same diff always yields the same Version on
// every instance.
func Of(diff string) Version {
	sum := sha256.Sum256([]byte(diff))
	var v Version
	copy(v[:], sum[:Size])
	return v
}

// Default returns the synthetic root version of every edit chain,
// defined as the Version of the empty diff.
func Default() Version {
	return Of("")
}

// Parse decodes a Version from its 32-character lowercase hex form or
// from its UUID string form.
func Parse(s string) (Version, error) {
	if len(s) == Size*2 {
		decoded, err := hex.DecodeString(s)
		if err != nil {
			return Version{}, fmt.Errorf("decode version hex: %w", err)
		}
		var v Version
		copy(v[:], decoded)
		return v, nil
	}

	id, err := uuid.Parse(s)
	if err != nil {
		return Version{}, fmt.Errorf("invalid version %q: %w", s, err)
	}
	return Version(id), nil
}

// Equal returns true if both versions are the same digest.
func (v Version) Equal(other Version) bool {
	return v == other
}

// IsZero returns true for the all-zero value, which is never a valid
// Version of any diff.
func (v Version) IsZero() bool {
	return v == Version{}
}

// Bytes returns a copy of the digest bytes.
func (v Version) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, v[:])
	return b
}

// String returns the lowercase hex representation.
func (v Version) String() string {
	return hex.EncodeToString(v[:])
}

// UUID returns the digest rendered as a UUID, the form some peers use
// in their external APIs.
func (v Version) UUID() string {
	return uuid.UUID(v).String()
}

// MarshalText implements encoding.TextMarshaler using the hex form.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, accepting both
// the hex and the UUID form.
func (v *Version) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
