package storage

import (
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// rawPrefix is the CIDv1 prefix used for locally computed content addresses.
var rawPrefix = cid.Prefix{
	Version:  1,
	Codec:    cid.Raw,
	MhType:   multihash.SHA2_256,
	MhLength: -1,
}

// ComputeCID returns the CIDv1 (raw, sha2-256) of data.
func ComputeCID(data []byte) (string, error) {
	c, err := rawPrefix.Sum(data)
	if err != nil {
		return "", fmt.Errorf("failed to compute cid: %w", err)
	}
	return c.String(), nil
}

// NormalizeHash strips URI and path prefixes from a content address and
// checks that what remains decodes as a CID.
func NormalizeHash(ref string) (string, error) {
	hash := strings.TrimSpace(ref)
	hash = strings.TrimPrefix(hash, "ipfs://")
	hash = strings.TrimPrefix(hash, "/ipfs/")
	hash = strings.TrimPrefix(hash, "ipfs/")
	if i := strings.IndexAny(hash, "/?#"); i >= 0 {
		hash = hash[:i]
	}
	if hash == "" {
		return "", fmt.Errorf("empty content address")
	}
	if _, err := cid.Decode(hash); err != nil {
		return "", fmt.Errorf("invalid content address %q: %w", ref, err)
	}
	return hash, nil
}
