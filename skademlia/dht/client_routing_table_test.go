package dht

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noisenet/routing/skademlia/peer"
)

func clientInfoFor(self peer.ID, b byte) peer.Info {
	return peer.NewInfo(self, idFromByte(b), connIDFromByte(b), []byte{b}, true)
}

func TestClientAdmissionRespectsHorizon(t *testing.T) {
	t.Parallel()

	self := idFromByte(0x00)
	table := NewClientRoutingTable(self)

	horizon := idFromByte(0x10)

	require.True(t, table.AddNode(clientInfoFor(self, 0x05), horizon))
	assert.False(t, table.AddNode(clientInfoFor(self, 0x20), horizon),
		"peer beyond the horizon must be rejected")
	assert.False(t, table.AddNode(clientInfoFor(self, 0x10), horizon),
		"peer exactly at the horizon is not strictly closer")
	assert.Equal(t, 1, table.Size())
}

func TestClientAdmissionWideOpenUnderSentinelHorizon(t *testing.T) {
	t.Parallel()

	self := idFromByte(0x00)
	table := NewClientRoutingTable(self)

	// A small owner table yields the MaxID sentinel horizon, which admits
	// any well-formed peer.
	require.True(t, table.AddNode(clientInfoFor(self, 0xF0), peer.MaxID))
	assert.Equal(t, 1, table.Size())
}

func TestClientRejectsSelfZeroConnAndDuplicates(t *testing.T) {
	t.Parallel()

	self := idFromByte(0x00)
	table := NewClientRoutingTable(self)
	horizon := peer.MaxID

	selfInfo := peer.NewInfo(self, self, connIDFromByte(0x01), []byte{1}, true)
	assert.False(t, table.AddNode(selfInfo, horizon))

	zeroConn := peer.NewInfo(self, idFromByte(0x01), peer.ZeroID, []byte{1}, true)
	assert.False(t, table.AddNode(zeroConn, horizon))

	info := clientInfoFor(self, 0x02)
	require.True(t, table.AddNode(info, horizon))
	assert.False(t, table.AddNode(info, horizon))

	dupKey := clientInfoFor(self, 0x03)
	dupKey.PublicKey = info.PublicKey
	assert.False(t, table.AddNode(dupKey, horizon))
}

func TestClientDropNodeFiresCallbackUnlocked(t *testing.T) {
	t.Parallel()

	self := idFromByte(0x00)
	table := NewClientRoutingTable(self)

	var removed []peer.Info
	table.InitialiseFunctors(func(info peer.Info, routingOnly bool) {
		removed = append(removed, info)
		// Reentering the table from the callback must not deadlock.
		table.Size()
	})

	info := clientInfoFor(self, 0x02)
	require.True(t, table.AddNode(info, peer.MaxID))

	dropped, ok := table.DropNode(info.NodeID)
	require.True(t, ok)
	assert.Equal(t, info.NodeID, dropped.NodeID)
	require.Len(t, removed, 1)
	assert.Equal(t, info.NodeID, removed[0].NodeID)

	_, ok = table.DropNode(info.NodeID)
	assert.False(t, ok)
}
