// Package dht implements the Kademlia-derived routing table: a bounded,
// XOR-ordered peer set with an admission policy, proximity queries and
// close-group change notification. The table is a flat vector guarded by
// one mutex rather than the bucket-list-of-lists layout older S/Kademlia
// ports use; bucket indices only steer admission diversity.
package dht

import (
	"sort"
	"sync"

	"github.com/noisenet/routing/skademlia/peer"
)

// Default table-shape constants.
const (
	// DefaultMaxSize is K_MAX, the maximum routing table size.
	DefaultMaxSize = 64
	// DefaultCloseGroupSize is G, the number of peers forming the close group.
	DefaultCloseGroupSize = 8
)

// NetworkStatusFunc is invoked whenever the table's size changes.
type NetworkStatusFunc func(size int)

// RemoveNodeFunc is invoked when a peer is evicted or dropped.
// routingOnly distinguishes a drop that only removes routing-table
// membership (the transport connection survives) from a full eviction.
type RemoveNodeFunc func(info peer.Info, routingOnly bool)

// CloseNodeReplacedFunc is invoked whenever close-group membership changes,
// with the new group ordered by increasing distance to self.
type CloseNodeReplacedFunc func(newCloseGroup []peer.ID)

// RemoveFurthestFunc is the callback slot for asking the host to drop a
// connection that is no longer useful now that a closer peer has displaced
// it. RoutingTable stores it, but none of its operations invoke it.
type RemoveFurthestFunc func(furthestID peer.ID)

// Options configures a RoutingTable's shape. The zero value is not usable;
// NewRoutingTable starts from the defaults and applies any Option values.
type Options struct {
	MaxSize        int
	CloseGroupSize int
}

// Option mutates Options during construction.
type Option func(*Options)

// WithMaxSize overrides K_MAX.
func WithMaxSize(n int) Option {
	return func(o *Options) { o.MaxSize = n }
}

// WithCloseGroupSize overrides G.
func WithCloseGroupSize(n int) Option {
	return func(o *Options) { o.CloseGroupSize = n }
}

func defaultOptions() Options {
	return Options{MaxSize: DefaultMaxSize, CloseGroupSize: DefaultCloseGroupSize}
}

// RoutingTable is a bounded, XOR-ordered set of known peers. All mutating
// and querying operations execute under a single exclusive lock over the
// peer vector; callbacks are always invoked with the lock released to
// avoid reentrancy deadlocks should a callback itself touch the table.
type RoutingTable struct {
	opts Options

	self       peer.ID
	clientMode bool

	mu    sync.Mutex
	nodes []peer.Info

	closeGroup          []peer.ID
	furthestGroupNodeID peer.ID

	networkStatus     NetworkStatusFunc
	removeNode        RemoveNodeFunc
	closeNodeReplaced CloseNodeReplacedFunc
	removeFurthest    RemoveFurthestFunc
}

// NewRoutingTable constructs an empty table for self, optionally in client
// (non-routing) mode. Install callbacks with InitialiseFunctors before
// first use.
func NewRoutingTable(self peer.ID, clientMode bool, opts ...Option) *RoutingTable {
	o := defaultOptions()
	for _, apply := range opts {
		apply(&o)
	}
	return &RoutingTable{
		opts:       o,
		self:       self,
		clientMode: clientMode,
	}
}

// InitialiseFunctors installs the table's four callbacks. Call once before
// the table is used; nil callbacks are treated as no-ops.
func (t *RoutingTable) InitialiseFunctors(
	networkStatus NetworkStatusFunc,
	removeNode RemoveNodeFunc,
	closeNodeReplaced CloseNodeReplacedFunc,
	removeFurthest RemoveFurthestFunc,
) {
	t.networkStatus = networkStatus
	t.removeNode = removeNode
	t.closeNodeReplaced = closeNodeReplaced
	t.removeFurthest = removeFurthest
}

// Self returns the identifier of the node hosting this table.
func (t *RoutingTable) Self() peer.ID { return t.self }

// ClientMode reports whether this table belongs to a non-routing peer.
func (t *RoutingTable) ClientMode() bool { return t.clientMode }

// Size returns the current number of entries.
func (t *RoutingTable) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.nodes)
}

// admissionEvent bundles the side effects of a mutation that must be fired
// once the lock is released.
type admissionEvent struct {
	sizeChanged    bool
	newSize        int
	evicted        *peer.Info
	groupChanged   bool
	newGroup       []peer.ID
	furthestToDrop *peer.ID
}

func (t *RoutingTable) fire(ev admissionEvent) {
	if ev.evicted != nil && t.removeNode != nil {
		t.removeNode(*ev.evicted, false)
	}
	if ev.sizeChanged && t.networkStatus != nil {
		t.networkStatus(ev.newSize)
	}
	if ev.groupChanged && t.closeNodeReplaced != nil {
		t.closeNodeReplaced(ev.newGroup)
	}
	if ev.furthestToDrop != nil && t.removeFurthest != nil {
		t.removeFurthest(*ev.furthestToDrop)
	}
}

// AddNode attempts to admit peer into the table, evicting a lower-value
// entry via make-space if the table is already at capacity. Reports
// whether the peer was admitted.
func (t *RoutingTable) AddNode(p peer.Info) bool {
	t.mu.Lock()
	admitted, ev := t.addOrCheckLocked(p, true)
	t.mu.Unlock()

	t.fire(ev)
	return admitted
}

// CheckNode reports what AddNode would do, without mutating the table.
func (t *RoutingTable) CheckNode(p peer.Info) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	admitted, _ := t.addOrCheckLocked(p, false)
	return admitted
}

func (t *RoutingTable) addOrCheckLocked(p peer.Info, mutate bool) (bool, admissionEvent) {
	if p.NodeID.Equals(t.self) {
		return false, admissionEvent{}
	}
	if p.ConnectionID.IsZero() {
		return false, admissionEvent{}
	}
	for _, existing := range t.nodes {
		if existing.SamePublicKey(p) {
			return false, admissionEvent{}
		}
		if existing.NodeID.Equals(p.NodeID) || existing.ConnectionID.Equals(p.ConnectionID) {
			return false, admissionEvent{}
		}
	}

	if len(t.nodes) < t.opts.MaxSize {
		if mutate {
			t.nodes = append(t.nodes, p)
			return true, t.afterInsertLocked()
		}
		return true, admissionEvent{}
	}

	victim, ok := t.makeSpaceVictimLocked(p)
	if !ok {
		return false, admissionEvent{}
	}
	if !mutate {
		return true, admissionEvent{}
	}

	t.removeByNodeIDLocked(victim.NodeID)
	t.nodes = append(t.nodes, p)
	ev := t.afterInsertLocked()
	ev.evicted = &victim
	return true, ev
}

// makeSpaceVictimLocked finds an eviction candidate: among entries outside
// the close group, the furthest-from-self entry whose bucket is more
// populated than candidate's bucket -- i.e. admitting candidate improves
// the table's bucket distribution. Ties are broken by preferring the most
// recently admitted entry, minimising churn on long-lived stable peers.
func (t *RoutingTable) makeSpaceVictimLocked(candidate peer.Info) (peer.Info, bool) {
	bucketCounts := make(map[int]int)
	for _, n := range t.nodes {
		bucketCounts[n.BucketIndex]++
	}
	candidateCount := bucketCounts[candidate.BucketIndex]

	closeGroup := t.closeGroupSetLocked()

	var victim peer.Info
	var victimIdx = -1
	for i, n := range t.nodes {
		if _, inGroup := closeGroup[n.NodeID]; inGroup {
			continue
		}
		if bucketCounts[n.BucketIndex] <= candidateCount {
			continue
		}
		if victimIdx == -1 || !peer.CloserToTarget(n.NodeID, victim.NodeID, t.self) {
			// n is not closer to self than the current victim, i.e. n is at
			// least as far, or this is the first candidate: prefer n.
			victim = n
			victimIdx = i
		}
	}

	if victimIdx == -1 {
		return peer.Info{}, false
	}
	return victim, true
}

func (t *RoutingTable) closeGroupSetLocked() map[peer.ID]struct{} {
	ids := t.sortedByDistanceToSelfLocked()
	n := t.opts.CloseGroupSize
	if n > len(ids) {
		n = len(ids)
	}
	set := make(map[peer.ID]struct{}, n)
	for i := 0; i < n; i++ {
		set[ids[i].NodeID] = struct{}{}
	}
	return set
}

func (t *RoutingTable) sortedByDistanceToSelfLocked() []peer.Info {
	out := make([]peer.Info, len(t.nodes))
	copy(out, t.nodes)
	sort.Slice(out, func(i, j int) bool {
		return peer.CloserToTarget(out[i].NodeID, out[j].NodeID, t.self)
	})
	return out
}

func (t *RoutingTable) removeByNodeIDLocked(id peer.ID) {
	for i, n := range t.nodes {
		if n.NodeID.Equals(id) {
			t.nodes = append(t.nodes[:i], t.nodes[i+1:]...)
			return
		}
	}
}

// afterInsertLocked recomputes the close group and reports the resulting
// size/group-change events. Must be called with t.mu held.
func (t *RoutingTable) afterInsertLocked() admissionEvent {
	ev := admissionEvent{sizeChanged: true, newSize: len(t.nodes)}
	t.refreshCloseGroupLocked(&ev)
	return ev
}

func (t *RoutingTable) refreshCloseGroupLocked(ev *admissionEvent) {
	sorted := t.sortedByDistanceToSelfLocked()
	n := t.opts.CloseGroupSize
	if n > len(sorted) {
		n = len(sorted)
	}
	newGroup := make([]peer.ID, n)
	for i := 0; i < n; i++ {
		newGroup[i] = sorted[i].NodeID
	}

	if !sameGroup(t.closeGroup, newGroup) {
		t.closeGroup = newGroup
		ev.groupChanged = true
		ev.newGroup = newGroup
	}
	if n > 0 {
		t.furthestGroupNodeID = newGroup[n-1]
	} else {
		t.furthestGroupNodeID = peer.ZeroID
	}
}

func sameGroup(a, b []peer.ID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equals(b[i]) {
			return false
		}
	}
	return true
}

// DropNode removes the entry for id, reporting it and whether it was
// present. routingOnly is forwarded to the RemoveNodeFunc callback.
func (t *RoutingTable) DropNode(id peer.ID, routingOnly bool) (peer.Info, bool) {
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
	var ev admissionEvent
	if found {
		ev = admissionEvent{sizeChanged: true, newSize: len(t.nodes)}
		t.refreshCloseGroupLocked(&ev)
	}
	t.mu.Unlock()

	if found {
		if t.removeNode != nil {
			t.removeNode(dropped, routingOnly)
		}
		if ev.sizeChanged && t.networkStatus != nil {
			t.networkStatus(ev.newSize)
		}
		if ev.groupChanged && t.closeNodeReplaced != nil {
			t.closeNodeReplaced(ev.newGroup)
		}
	}
	return dropped, found
}

// GetNodeInfo looks up a peer by identifier.
func (t *RoutingTable) GetNodeInfo(id peer.ID) (peer.Info, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, n := range t.nodes {
		if n.NodeID.Equals(id) {
			return n, true
		}
	}
	return peer.Info{}, false
}

// ClosestNode returns the table entry with smallest XOR distance to
// target, optionally excluding entries whose connection id or node id
// appears in exclude (the message processor passes a route history, which
// holds node ids), and optionally excluding an exact match
// (entry.NodeID == target) when ignoreExactMatch is true.
func (t *RoutingTable) ClosestNode(target peer.ID, exclude []peer.ID, ignoreExactMatch bool) (peer.Info, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	excluded := make(map[peer.ID]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}

	var best peer.Info
	found := false
	for _, n := range t.nodes {
		if _, skip := excluded[n.ConnectionID]; skip {
			continue
		}
		if _, skip := excluded[n.NodeID]; skip {
			continue
		}
		if ignoreExactMatch && n.NodeID.Equals(target) {
			continue
		}
		if !found || peer.CloserToTarget(n.NodeID, best.NodeID, target) {
			best = n
			found = true
		}
	}
	return best, found
}

// NthClosest returns the n-th closest identifier to target (1-indexed: n=1
// is the single closest peer). Returns the MaxID sentinel if the table has
// fewer than n entries.
func (t *RoutingTable) NthClosest(target peer.ID, n int) peer.ID {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n <= 0 || n > len(t.nodes) {
		return peer.MaxID
	}
	sorted := t.sortedByDistanceToLocked(target)
	return sorted[n-1].NodeID
}

func (t *RoutingTable) sortedByDistanceToLocked(target peer.ID) []peer.Info {
	out := make([]peer.Info, len(t.nodes))
	copy(out, t.nodes)
	sort.Slice(out, func(i, j int) bool {
		return peer.CloserToTarget(out[i].NodeID, out[j].NodeID, target)
	})
	return out
}

// ClosestNodes returns up to n identifiers sorted by increasing distance
// to target.
func (t *RoutingTable) ClosestNodes(target peer.ID, n int) []peer.ID {
	t.mu.Lock()
	defer t.mu.Unlock()

	sorted := t.sortedByDistanceToLocked(target)
	if n > len(sorted) {
		n = len(sorted)
	}
	out := make([]peer.ID, n)
	for i := 0; i < n; i++ {
		out[i] = sorted[i].NodeID
	}
	return out
}

// IsClosestTo reports whether no entry in the table is strictly closer to
// target than self is.
func (t *RoutingTable) IsClosestTo(target peer.ID, ignoreExactMatch bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, n := range t.nodes {
		if ignoreExactMatch && n.NodeID.Equals(target) {
			continue
		}
		if peer.CloserToTarget(n.NodeID, t.self, target) {
			return false
		}
	}
	return true
}

// IsInRange reports whether target's distance to self is no greater than
// self's distance to its range-th closest peer.
func (t *RoutingTable) IsInRange(target peer.ID, rng int) bool {
	t.mu.Lock()
	if rng <= 0 || rng > len(t.nodes) {
		t.mu.Unlock()
		return false
	}
	sorted := t.sortedByDistanceToSelfLocked()
	horizon := sorted[rng-1].NodeID
	t.mu.Unlock()

	horizonDist := peer.Xor(t.self, horizon)
	targetDist := peer.Xor(t.self, target)
	return !horizonDist.Less(targetDist)
}

// ConfirmGroupMembers reports whether both a and b are among the G closest
// entries to self.
func (t *RoutingTable) ConfirmGroupMembers(a, b peer.ID) bool {
	t.mu.Lock()
	group := t.closeGroupSetLocked()
	t.mu.Unlock()

	_, inA := group[a]
	_, inB := group[b]
	return inA && inB
}

// RemovableNode returns a peer outside the close group, preferring the
// furthest-from-self entry, skipping any whose connection id appears in
// attempted.
func (t *RoutingTable) RemovableNode(attempted []peer.ID) (peer.Info, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	skip := make(map[peer.ID]struct{}, len(attempted))
	for _, id := range attempted {
		skip[id] = struct{}{}
	}
	closeGroup := t.closeGroupSetLocked()

	sorted := t.sortedByDistanceToSelfLocked()
	for i := len(sorted) - 1; i >= 0; i-- {
		n := sorted[i]
		if _, inGroup := closeGroup[n.NodeID]; inGroup {
			continue
		}
		if _, skipped := skip[n.ConnectionID]; skipped {
			continue
		}
		return n, true
	}
	return peer.Info{}, false
}

// FurthestGroupNodeID returns the identifier of the current furthest
// close-group member, the G-th closest peer to self.
func (t *RoutingTable) FurthestGroupNodeID() peer.ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.furthestGroupNodeID
}

// Peers returns a snapshot of all current entries.
func (t *RoutingTable) Peers() []peer.Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]peer.Info, len(t.nodes))
	copy(out, t.nodes)
	return out
}
