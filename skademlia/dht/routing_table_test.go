package dht

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noisenet/routing/skademlia/peer"
)

func idFromByte(b byte) peer.ID {
	var id peer.ID
	id[len(id)-1] = b
	return id
}

func connIDFromByte(b byte) peer.ID {
	var id peer.ID
	id[0] = 0xaa
	id[len(id)-1] = b
	return id
}

func infoFor(self, nodeID byte) peer.Info {
	n := idFromByte(nodeID)
	return peer.NewInfo(idFromByte(self), n, connIDFromByte(nodeID), []byte{nodeID}, false)
}

func TestAdmissionBelowCapacity(t *testing.T) {
	t.Parallel()

	self := idFromByte(0x00)
	table := NewRoutingTable(self, false)

	require.True(t, table.AddNode(infoFor(0x00, 0x01)))
	require.True(t, table.AddNode(infoFor(0x00, 0x02)))
	require.True(t, table.AddNode(infoFor(0x00, 0x80)))

	assert.Equal(t, 3, table.Size())

	closest, ok := table.ClosestNode(idFromByte(0x03), nil, false)
	require.True(t, ok)
	assert.Equal(t, idFromByte(0x02), closest.NodeID)

	// 0x02 sits one bit from 0x03 while self is three away.
	assert.False(t, table.IsClosestTo(idFromByte(0x03), false))
	assert.True(t, table.IsClosestTo(self, false))
	assert.True(t, table.IsClosestTo(idFromByte(0x40), false),
		"no entry is strictly closer to 0x40 than self")
}

// setBit sets the bit at 0-indexed position pos (0 = most significant bit
// of id[0]) so that CommonLeadingBits(ZeroID, id) == pos.
func setBit(id *peer.ID, pos int) {
	id[pos/8] |= 1 << uint(7-pos%8)
}

func TestMakeSpaceRejectsWhenNoWorseVictim(t *testing.T) {
	t.Parallel()

	self := idFromByte(0x00)
	table := NewRoutingTable(self, false)

	// Fill every bucket with one peer each: bucket index b is achieved by a
	// node id whose first set bit (against the all-zero self) is bit b, so
	// each bucket ends up equally populated (count 1) and no candidate can
	// ever look "under-represented" relative to an existing bucket.
	for b := 0; b < DefaultMaxSize; b++ {
		var id peer.ID
		setBit(&id, b)
		var conn peer.ID
		conn[0] = 0xaa
		conn[1] = byte(b)
		info := peer.NewInfo(self, id, conn, []byte{byte(b), byte(b >> 8)}, false)
		require.True(t, table.AddNode(info), "bucket %d", b)
	}
	require.Equal(t, DefaultMaxSize, table.Size())

	var evicted bool
	table.InitialiseFunctors(nil, func(peer.Info, bool) { evicted = true }, nil, nil)

	var extra peer.ID
	setBit(&extra, 30)
	setBit(&extra, 31) // distinct id, same bucket (30) as the existing peer
	var extraConn peer.ID
	extraConn[0] = 0xbb
	extraInfo := peer.NewInfo(self, extra, extraConn, []byte{0xff, 0xee}, false)

	admitted := table.AddNode(extraInfo)
	assert.False(t, admitted)
	assert.Equal(t, DefaultMaxSize, table.Size())
	assert.False(t, evicted)
}

func TestCloseGroupReplacement(t *testing.T) {
	t.Parallel()

	self := idFromByte(0x00)
	table := NewRoutingTable(self, false)

	var lastGroup []peer.ID
	table.InitialiseFunctors(nil, nil, func(group []peer.ID) { lastGroup = group }, nil)

	// Space the 16 peers' distances-to-self 10 apart (10, 20, .., 160) so
	// there is room to insert a peer strictly closer than all of them.
	for i := byte(1); i <= 16; i++ {
		require.True(t, table.AddNode(infoFor(0x00, i*10)))
	}
	require.NotNil(t, lastGroup)
	require.Len(t, lastGroup, DefaultCloseGroupSize)

	prevGroup := append([]peer.ID(nil), lastGroup...)
	prevFurthest := prevGroup[len(prevGroup)-1]

	closer := infoFor(0x00, 5) // closer to self than every admitted peer
	admitted := table.AddNode(closer)
	require.True(t, admitted)

	require.NotNil(t, lastGroup)
	assert.NotEqual(t, prevGroup, lastGroup)
	assert.Contains(t, lastGroup, closer.NodeID)
	assert.NotContains(t, lastGroup, prevFurthest)
}

func TestDropNodeRemovesEntry(t *testing.T) {
	t.Parallel()

	self := idFromByte(0x00)
	table := NewRoutingTable(self, false)
	info := infoFor(0x00, 0x01)
	require.True(t, table.AddNode(info))

	dropped, ok := table.DropNode(info.NodeID, false)
	assert.True(t, ok)
	assert.Equal(t, info.NodeID, dropped.NodeID)
	assert.Equal(t, 0, table.Size())

	_, ok = table.DropNode(info.NodeID, false)
	assert.False(t, ok)
}

func TestRejectsSelfAndDuplicates(t *testing.T) {
	t.Parallel()

	self := idFromByte(0x00)
	table := NewRoutingTable(self, false)

	selfInfo := peer.NewInfo(self, self, connIDFromByte(0x01), []byte{1}, false)
	assert.False(t, table.AddNode(selfInfo))

	info := infoFor(0x00, 0x01)
	require.True(t, table.AddNode(info))
	assert.False(t, table.AddNode(info)) // duplicate node id + connection id + public key

	dup := info
	dup.ConnectionID = connIDFromByte(0x02)
	assert.False(t, table.AddNode(dup)) // duplicate public key
}

func TestConfirmGroupMembers(t *testing.T) {
	t.Parallel()

	self := idFromByte(0x00)
	table := NewRoutingTable(self, false)
	for i := byte(1); i <= 4; i++ {
		require.True(t, table.AddNode(infoFor(0x00, i)))
	}

	assert.True(t, table.ConfirmGroupMembers(idFromByte(0x01), idFromByte(0x02)))
	assert.False(t, table.ConfirmGroupMembers(idFromByte(0x01), idFromByte(0x99)))
}

func TestNthClosestSentinelWhenTooFewEntries(t *testing.T) {
	t.Parallel()

	self := idFromByte(0x00)
	table := NewRoutingTable(self, false)
	require.True(t, table.AddNode(infoFor(0x00, 0x01)))

	assert.Equal(t, peer.MaxID, table.NthClosest(idFromByte(0x00), 5))
	assert.Equal(t, idFromByte(0x01), table.NthClosest(idFromByte(0x00), 1))
}

func TestIsInRange(t *testing.T) {
	t.Parallel()

	self := idFromByte(0x00)
	table := NewRoutingTable(self, false)
	for i := byte(1); i <= 8; i++ {
		require.True(t, table.AddNode(infoFor(0x00, i*0x10)))
	}

	// The 4th closest peer to self is 0x40.
	assert.True(t, table.IsInRange(idFromByte(0x30), 4))
	assert.True(t, table.IsInRange(idFromByte(0x40), 4), "the horizon itself is in range")
	assert.False(t, table.IsInRange(idFromByte(0x41), 4))
	assert.False(t, table.IsInRange(idFromByte(0x01), 0), "empty range holds nothing")
}

func TestClosestNodeExclusions(t *testing.T) {
	t.Parallel()

	self := idFromByte(0x00)
	table := NewRoutingTable(self, false)
	require.True(t, table.AddNode(infoFor(0x00, 0x02)))
	require.True(t, table.AddNode(infoFor(0x00, 0x04)))

	target := idFromByte(0x03)

	// Excluding by node id (as a route history does) falls through to the
	// next closest entry.
	next, ok := table.ClosestNode(target, []peer.ID{idFromByte(0x02)}, false)
	require.True(t, ok)
	assert.Equal(t, idFromByte(0x04), next.NodeID)

	// Excluding by connection id behaves identically.
	next, ok = table.ClosestNode(target, []peer.ID{connIDFromByte(0x02)}, false)
	require.True(t, ok)
	assert.Equal(t, idFromByte(0x04), next.NodeID)

	// An exact match is skipped only when asked.
	exact, ok := table.ClosestNode(idFromByte(0x02), nil, false)
	require.True(t, ok)
	assert.Equal(t, idFromByte(0x02), exact.NodeID)

	skipped, ok := table.ClosestNode(idFromByte(0x02), nil, true)
	require.True(t, ok)
	assert.Equal(t, idFromByte(0x04), skipped.NodeID)

	_, ok = table.ClosestNode(target, []peer.ID{idFromByte(0x02), idFromByte(0x04)}, false)
	assert.False(t, ok, "everything excluded leaves no next hop")
}

func TestRemovableNodeSkipsCloseGroup(t *testing.T) {
	t.Parallel()

	self := idFromByte(0x00)
	table := NewRoutingTable(self, false)
	for i := byte(1); i <= 10; i++ {
		require.True(t, table.AddNode(infoFor(0x00, i)))
	}

	removable, ok := table.RemovableNode(nil)
	require.True(t, ok)

	assert.False(t, table.ConfirmGroupMembers(removable.NodeID, removable.NodeID))
}
