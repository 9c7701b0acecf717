// Package blake2b implements crypto.HashPolicy over minio/blake2b-simd,
// the hash the S/Kademlia node IDs and content-cache keys are derived from.
package blake2b

import (
	"github.com/minio/blake2b-simd"

	"github.com/noisenet/routing/crypto"
)

var _ crypto.HashPolicy = (*Policy)(nil)

// Policy is a blake2b-512 backed crypto.HashPolicy. 512-bit digests match
// the full 64-byte width node identifiers carry.
type Policy struct{}

// New returns a ready-to-use blake2b hash policy.
func New() *Policy {
	return &Policy{}
}

// HashBytes returns the 64-byte blake2b-512 digest of input.
func (p *Policy) HashBytes(input []byte) []byte {
	h := blake2b.New512()
	h.Write(input)
	return h.Sum(nil)
}

// Size returns the digest length, 64 bytes.
func (p *Policy) Size() int {
	return 64
}
