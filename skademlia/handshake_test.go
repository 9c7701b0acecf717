package skademlia

import (
	"testing"

	"github.com/gogo/protobuf/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noisenet/routing/protocol"
	"github.com/noisenet/routing/skademlia/protobuf"
)

func TestHandshakeAuthenticatesBothSides(t *testing.T) {
	t.Parallel()

	active := NewHandshakeProcessor(NewIdentityAdapter(testC1, testC2))
	passive := NewHandshakeProcessor(NewIdentityAdapter(testC1, testC2))
	passive.SetClientMode(true)

	var activeSaw, passiveSaw *protobuf.Handshake
	active.SetAuthenticatedCallback(func(claim *protobuf.Handshake) { activeSaw = claim })
	passive.SetAuthenticatedCallback(func(claim *protobuf.Handshake) { passiveSaw = claim })

	init, activeState, err := active.ActivelyInitHandshake()
	require.NoError(t, err)

	passiveState, err := passive.PassivelyInitHandshake()
	require.NoError(t, err)

	reply, action, err := passive.ProcessHandshakeMessage(passiveState, init)
	require.NoError(t, err)
	assert.Equal(t, protocol.DoneAction_SendMessage, action)

	final, action, err := active.ProcessHandshakeMessage(activeState, reply)
	require.NoError(t, err)
	assert.Equal(t, protocol.DoneAction_DoNothing, action)
	assert.Nil(t, final)

	require.NotNil(t, passiveSaw)
	assert.Equal(t, active.id.NodeID(), passiveSaw.NodeId)
	assert.False(t, passiveSaw.ClientMode)

	require.NotNil(t, activeSaw)
	assert.Equal(t, passive.id.NodeID(), activeSaw.NodeId)
	assert.True(t, activeSaw.ClientMode)
}

func TestHandshakeRejectsTamperedClaim(t *testing.T) {
	t.Parallel()

	active := NewHandshakeProcessor(NewIdentityAdapter(testC1, testC2))
	passive := NewHandshakeProcessor(NewIdentityAdapter(testC1, testC2))

	init, _, err := active.ActivelyInitHandshake()
	require.NoError(t, err)

	passiveState, err := passive.PassivelyInitHandshake()
	require.NoError(t, err)

	init[len(init)-1] ^= 0xff // corrupt the signature bytes

	_, action, err := passive.ProcessHandshakeMessage(passiveState, init)
	assert.Error(t, err)
	assert.Equal(t, protocol.DoneAction_Invalid, action)
}

func TestHandshakeRejectsForgedNodeID(t *testing.T) {
	t.Parallel()

	forger := NewIdentityAdapter(testC1, testC2)
	victim := NewIdentityAdapter(testC1, testC2)
	passive := NewHandshakeProcessor(NewIdentityAdapter(testC1, testC2))

	// A claim pairing one identity's key with another's node id must fail
	// the static puzzle.
	claim := &protobuf.Handshake{
		PublicKey: forger.MyIdentity(),
		NodeId:    victim.NodeID(),
		Nonce:     forger.Nonce,
		Signature: forger.Sign(handshakeTag),
	}
	payload, err := proto.Marshal(claim)
	require.NoError(t, err)

	passiveState, err := passive.PassivelyInitHandshake()
	require.NoError(t, err)

	_, action, err := passive.ProcessHandshakeMessage(passiveState, payload)
	assert.Error(t, err)
	assert.Equal(t, protocol.DoneAction_Invalid, action)
}
