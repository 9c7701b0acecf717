// Package ed25519 implements crypto.SignaturePolicy over
// golang.org/x/crypto/ed25519, the signature scheme used by S/Kademlia
// identities and by the identity handshake that follows the key exchange.
package ed25519

import (
	"crypto/rand"

	"golang.org/x/crypto/ed25519"

	"github.com/pkg/errors"

	"github.com/noisenet/routing/crypto"
)

// SignatureSize is the byte length of an ed25519 signature.
const SignatureSize = ed25519.SignatureSize

var _ crypto.SignaturePolicy = (*Policy)(nil)

// Policy is an ed25519-backed crypto.SignaturePolicy.
type Policy struct{}

// New returns a ready-to-use ed25519 signature policy.
func New() *Policy {
	return &Policy{}
}

// Sign signs message with privateKey.
func (p *Policy) Sign(privateKey, message []byte) ([]byte, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, errors.Errorf("ed25519: invalid private key size %d", len(privateKey))
	}
	return ed25519.Sign(privateKey, message), nil
}

// Verify checks signature against message under publicKey.
func (p *Policy) Verify(publicKey, message, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(publicKey, message, signature)
}

// SignatureSize returns the byte length of ed25519 signatures.
func (p *Policy) SignatureSize() int {
	return SignatureSize
}

// RandomKeyPair generates a new random ed25519 key pair.
func RandomKeyPair() *crypto.KeyPair {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic(err)
	}
	return &crypto.KeyPair{PublicKey: public, PrivateKey: private}
}
