package skademlia

import (
	"context"
	"crypto/rand"
	"sync"

	"github.com/pkg/errors"

	"github.com/noisenet/routing/log"
	"github.com/noisenet/routing/protocol"
	"github.com/noisenet/routing/skademlia/dht"
	"github.com/noisenet/routing/skademlia/discovery"
	"github.com/noisenet/routing/skademlia/peer"
)

var _ discovery.Network = (*NodeNetwork)(nil)

// ErrConnectionGone is returned for operations on a connection that has
// been removed or was never registered.
var ErrConnectionGone = errors.New("skademlia: connection gone")

// link tracks one transport connection: the remote identity it reaches and
// whether the host has validated it.
type link struct {
	identity []byte
	valid    bool
}

// NodeNetwork is the production implementation of the network adapter
// contract, layered over a protocol.Node. The underlying transport keys
// connections by remote identity; NodeNetwork assigns each link a distinct
// connection identifier so the routing core never conflates a peer's name
// with its channel.
type NodeNetwork struct {
	node *protocol.Node

	mu      sync.Mutex
	links   map[peer.ID]*link  // connection id -> link
	byIdent map[string]peer.ID // remote identity -> connection id
}

// NewNodeNetwork wraps node in the network adapter contract.
func NewNodeNetwork(node *protocol.Node) *NodeNetwork {
	return &NodeNetwork{
		node:    node,
		links:   make(map[peer.ID]*link),
		byIdent: make(map[string]peer.ID),
	}
}

// RegisterLink returns the connection identifier for identity, minting a
// fresh random one the first time the identity is seen.
func (n *NodeNetwork) RegisterLink(identity []byte) peer.ID {
	n.mu.Lock()
	defer n.mu.Unlock()

	if connID, ok := n.byIdent[string(identity)]; ok {
		return connID
	}

	var connID peer.ID
	if _, err := rand.Read(connID[:]); err != nil {
		// The system randomness source failing is unrecoverable.
		panic(err)
	}
	n.links[connID] = &link{identity: append([]byte(nil), identity...)}
	n.byIdent[string(identity)] = connID
	return connID
}

// ConnectionID reports the connection identifier registered for identity.
func (n *NodeNetwork) ConnectionID(identity []byte) (peer.ID, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	connID, ok := n.byIdent[string(identity)]
	return connID, ok
}

// Identity reports the remote identity behind connectionID.
func (n *NodeNetwork) Identity(connectionID peer.ID) ([]byte, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	l, ok := n.links[connectionID]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), l.identity...), true
}

// lookup snapshots the link's identity and validity under the lock.
func (n *NodeNetwork) lookup(connectionID peer.ID) (identity []byte, valid bool, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	l, ok := n.links[connectionID]
	if !ok {
		return nil, false, ErrConnectionGone
	}
	return l.identity, l.valid, nil
}

// Add establishes a reliable channel behind connectionID and sends
// handshake on it. The channel is dialed lazily by the transport; a failed
// dial surfaces here as a send error.
func (n *NodeNetwork) Add(connectionID peer.ID, endpoints discovery.EndpointPair, handshake []byte) error {
	identity, _, err := n.lookup(connectionID)
	if err != nil {
		return err
	}
	if err := n.send(identity, handshake); err != nil {
		return errors.Wrap(err, "skademlia: transport add failed")
	}
	log.Debug().
		Str("connection", connectionID.String()).
		Str("external", endpoints.External).
		Msg("transport channel added")
	return nil
}

// MarkValid promotes connectionID from pending to validated. Only
// validated connections carry routing frames.
func (n *NodeNetwork) MarkValid(connectionID peer.ID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	l, ok := n.links[connectionID]
	if !ok {
		return ErrConnectionGone
	}
	l.valid = true
	return nil
}

// Remove tears down the connection; pending sends on it fail with a
// connection-gone error.
func (n *NodeNetwork) Remove(connectionID peer.ID) {
	n.mu.Lock()
	l, ok := n.links[connectionID]
	if ok {
		delete(n.links, connectionID)
		delete(n.byIdent, string(l.identity))
	}
	n.mu.Unlock()

	if ok {
		n.node.RemovePeer(l.identity)
	}
}

// Send enqueues frame on connectionID. The connection must have been
// validated first.
func (n *NodeNetwork) Send(connectionID peer.ID, frame []byte) error {
	identity, valid, err := n.lookup(connectionID)
	if err != nil {
		return err
	}
	if !valid {
		return errors.New("skademlia: send on unvalidated connection")
	}
	return n.send(identity, frame)
}

func (n *NodeNetwork) send(identity, frame []byte) error {
	body := &protocol.MessageBody{
		Service: discovery.ServiceID,
		Payload: frame,
	}
	return n.node.Send(context.Background(), identity, body)
}

// ValidateAndAddToRoutingTable runs the validation-and-add protocol once a
// peer's handshake has completed: promote the connection, build the peer
// record, admit it to the appropriate table, and tear the connection down
// if admission is refused.
func ValidateAndAddToRoutingTable(
	network discovery.Network,
	routes *dht.RoutingTable,
	clients *dht.ClientRoutingTable,
	nodeID, connectionID peer.ID,
	publicKey []byte,
	client bool,
) bool {
	if err := network.MarkValid(connectionID); err != nil {
		log.Error().
			Err(err).
			Str("peer", nodeID.String()).
			Str("connection", connectionID.String()).
			Msg("transport failed to validate connection")
		return false
	}

	info := peer.NewInfo(routes.Self(), nodeID, connectionID, publicKey, client)

	accepted := false
	if client {
		horizon := routes.NthClosest(routes.Self(), 2*dht.DefaultCloseGroupSize)
		accepted = clients.AddNode(info, horizon)
	} else {
		accepted = routes.AddNode(info)
	}

	if !accepted {
		log.Info().
			Str("peer", nodeID.String()).
			Bool("client", client).
			Msg("admission refused, removing transport connection")
		network.Remove(connectionID)
		return false
	}

	log.Debug().
		Str("peer", nodeID.String()).
		Bool("client", client).
		Msg("peer admitted")
	return true
}
