package contentstore

import (
	"fmt"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// Digest computes the CIDv1 (raw codec, sha2-256) of data. Content stored
// as a single raw block under this CID round-trips byte for byte.
func Digest(data []byte) (cid.Cid, error) {
	sum, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		return cid.Undef, fmt.Errorf("contentstore: hash content: %w", err)
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// ParseDigest parses a CID string and rejects anything that is not a raw
// block reference, since only those can be verified against fetched bytes.
func ParseDigest(s string) (cid.Cid, error) {
	c, err := cid.Decode(s)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: %q: %v", ErrInvalidDigest, s, err)
	}
	if c.Type() != cid.Raw {
		return cid.Undef, fmt.Errorf("%w: %q is not a raw block CID", ErrInvalidDigest, s)
	}
	return c, nil
}

// Verify checks that data hashes to c.
func Verify(c cid.Cid, data []byte) error {
	got, err := c.Prefix().Sum(data)
	if err != nil {
		return fmt.Errorf("contentstore: hash content: %w", err)
	}
	if !got.Equals(c) {
		return fmt.Errorf("%w: expected %s, content hashes to %s", ErrDigestMismatch, c, got)
	}
	return nil
}
