package dht

import (
	"sync"

	"github.com/noisenet/routing/skademlia/peer"
)

// ClientRoutingTable is the asymmetric variant of RoutingTable held by
// vault nodes for the "client" (non-routing) peers they serve directly.
// It shares NodeInfo's record shape but admits by horizon rather than by
// bucket index, and its entries are never consulted for forwarding -- only
// for direct delivery toward relays.
type ClientRoutingTable struct {
	self peer.ID

	mu    sync.Mutex
	nodes []peer.Info

	removeNode RemoveNodeFunc
}

// NewClientRoutingTable creates an empty client table for the vault
// identified by self.
func NewClientRoutingTable(self peer.ID) *ClientRoutingTable {
	return &ClientRoutingTable{self: self}
}

// InitialiseFunctors installs the eviction callback.
func (t *ClientRoutingTable) InitialiseFunctors(removeNode RemoveNodeFunc) {
	t.removeNode = removeNode
}

// AddNode admits peer if it falls within furthestCloseNodeID, the owner's
// 2*closest_nodes_size-th closest peer (the caller queries its own
// RoutingTable.NthClosest for this horizon). Non-routing peers accepted
// here are retained only as client relays.
func (t *ClientRoutingTable) AddNode(p peer.Info, furthestCloseNodeID peer.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p.NodeID.Equals(t.self) || p.ConnectionID.IsZero() {
		return false
	}
	for _, existing := range t.nodes {
		if existing.SamePublicKey(p) {
			return false
		}
		if existing.NodeID.Equals(p.NodeID) || existing.ConnectionID.Equals(p.ConnectionID) {
			return false
		}
	}

	if !peer.CloserToTarget(p.NodeID, furthestCloseNodeID, t.self) {
		return false
	}

	t.nodes = append(t.nodes, p)
	return true
}

// DropNode removes a client entry.
func (t *ClientRoutingTable) DropNode(id peer.ID) (peer.Info, bool) {
	t.mu.Lock()
	var dropped peer.Info
	found := false
	for i, n := range t.nodes {
		if n.NodeID.Equals(id) {
			dropped = n
			found = true
			t.nodes = append(t.nodes[:i], t.nodes[i+1:]...)
			break
		}
	}
	t.mu.Unlock()

	if found && t.removeNode != nil {
		t.removeNode(dropped, false)
	}
	return dropped, found
}

// GetNodeInfo looks up a client peer by identifier.
func (t *ClientRoutingTable) GetNodeInfo(id peer.ID) (peer.Info, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, n := range t.nodes {
		if n.NodeID.Equals(id) {
			return n, true
		}
	}
	return peer.Info{}, false
}

// Size returns the number of client entries.
func (t *ClientRoutingTable) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.nodes)
}
