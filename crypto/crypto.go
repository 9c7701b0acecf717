// Package crypto defines the opaque cryptographic primitives the routing
// core consumes: a hash policy and a signature policy. Concrete algorithms
// live in the blake2b and ed25519 subpackages; nothing above this package
// ever names a specific curve or hash function.
package crypto

// HashPolicy is the opaque hash operation the core relies on for node-ID
// derivation and content-cache key verification.
type HashPolicy interface {
	// HashBytes returns the digest of input.
	HashBytes(input []byte) []byte
	// Size returns the digest length in bytes.
	Size() int
}

// SignaturePolicy is the opaque asymmetric sign/verify operation the core
// relies on for identity and handshake authentication.
type SignaturePolicy interface {
	// Sign returns a signature over message using privateKey.
	Sign(privateKey, message []byte) ([]byte, error)
	// Verify reports whether signature is a valid signature of message
	// under publicKey.
	Verify(publicKey, message, signature []byte) bool
	// SignatureSize returns the byte length of signatures this policy produces.
	SignatureSize() int
}

// KeyPair holds an asymmetric key pair used to sign and verify under a
// SignaturePolicy.
type KeyPair struct {
	PublicKey  []byte
	PrivateKey []byte
}

// Sign signs input with the key pair's private key, hashing it first with
// hasher as the signature policy requires.
func (k *KeyPair) Sign(signer SignaturePolicy, hasher HashPolicy, input []byte) ([]byte, error) {
	digest := hasher.HashBytes(input)
	return signer.Sign(k.PrivateKey, digest)
}

// Verify checks a signature produced by the counterpart of Sign.
func Verify(signer SignaturePolicy, hasher HashPolicy, publicKey, data, signature []byte) bool {
	digest := hasher.HashBytes(data)
	return signer.Verify(publicKey, digest, signature)
}
