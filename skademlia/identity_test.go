package skademlia

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Small puzzle constants keep key generation fast under test.
const (
	testC1 = 1
	testC2 = 1
)

func TestGeneratedIdentitySolvesPuzzle(t *testing.T) {
	t.Parallel()

	ia := NewIdentityAdapter(testC1, testC2)

	assert.True(t, VerifyPuzzle(ia.MyIdentity(), ia.NodeID(), ia.Nonce, testC1, testC2))
	assert.Len(t, ia.NodeID(), 64)
}

func TestIdentityFromKeypairChecksStaticPuzzle(t *testing.T) {
	t.Parallel()

	ia := NewIdentityAdapter(testC1, testC2)

	recovered, err := NewIdentityFromKeypair(ia.GetKeyPair(), testC1, testC2)
	require.NoError(t, err)
	assert.Equal(t, ia.NodeID(), recovered.NodeID())

	// Demanding the full digest be zero cannot be satisfied by any real key.
	_, err = NewIdentityFromKeypair(ia.GetKeyPair(), 512, testC2)
	assert.Error(t, err)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	t.Parallel()

	ia := NewIdentityAdapter(testC1, testC2)

	data := []byte("signed payload")
	sig := ia.Sign(data)
	assert.True(t, ia.Verify(ia.MyIdentity(), data, sig))
	assert.False(t, ia.Verify(ia.MyIdentity(), []byte("other payload"), sig))
}

func TestPrefixLen(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, prefixLen([]byte{0x80}))
	assert.Equal(t, 7, prefixLen([]byte{0x01}))
	assert.Equal(t, 8, prefixLen([]byte{0x00, 0x80}))
	assert.Equal(t, 16, prefixLen([]byte{0x00, 0x00}))
}
