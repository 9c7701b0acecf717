package skademlia

import (
	"bytes"
	"net"
	"strconv"
	"sync"

	"github.com/gogo/protobuf/proto"
	"github.com/pkg/errors"

	"github.com/noisenet/routing/base"
	"github.com/noisenet/routing/log"
	"github.com/noisenet/routing/protocol"
	"github.com/noisenet/routing/skademlia/cache"
	"github.com/noisenet/routing/skademlia/dht"
	"github.com/noisenet/routing/skademlia/discovery"
	"github.com/noisenet/routing/skademlia/peer"
	"github.com/noisenet/routing/skademlia/protobuf"
)

var _ protocol.ConnectionAdapter = (*ConnectionAdapter)(nil)

// Dialer opens a raw stream to a peer's address.
type Dialer func(address string) (net.Conn, error)

// ConnectionAdapter glues the routing core to the transport: it dials and
// accepts framed connections, runs the validation-and-add protocol when a
// peer authenticates, and carries out connection management for Connect
// traffic the message processor hands it.
type ConnectionAdapter struct {
	protocol.Service

	listener  net.Listener
	dialer    Dialer
	identity  *IdentityAdapter
	localAddr string

	self peer.ID

	Processor *discovery.Service
	Network   *NodeNetwork

	mu       sync.Mutex
	contacts map[string]*protobuf.Contact // public key -> contact
	byNode   map[peer.ID]string           // node id -> public key
}

// NewConnectionAdapter wires a protocol.Node into a routing core: routing
// table, client table, content cache, message processor, network adapter
// and the S/Kademlia authentication handshake.
func NewConnectionAdapter(listener net.Listener, dialer Dialer, node *protocol.Node, localAddr string) (*ConnectionAdapter, error) {
	ia, ok := node.GetIdentityAdapter().(*IdentityAdapter)
	if !ok {
		return nil, errors.New("skademlia: node identity adapter must be the skademlia type")
	}

	self, err := peer.FromBytes(ia.NodeID())
	if err != nil {
		return nil, errors.Wrap(err, "skademlia: identity produced a malformed node id")
	}

	network := NewNodeNetwork(node)
	routes := dht.NewRoutingTable(self, false)
	clients := dht.NewClientRoutingTable(self)
	processor := discovery.NewService(self, routes, clients, cache.New(ia.hasher), network)

	a := &ConnectionAdapter{
		listener:  listener,
		dialer:    dialer,
		identity:  ia,
		localAddr: localAddr,
		self:      self,
		Processor: processor,
		Network:   network,
		contacts:  make(map[string]*protobuf.Contact),
		byNode:    make(map[peer.ID]string),
	}

	hs := NewHandshakeProcessor(ia)
	hs.SetAuthenticatedCallback(a.onAuthenticated)
	node.SetCustomHandshakeProcessor(hs)
	node.SetConnectionAdapter(a)

	processor.SetConnectHandler(a.handleConnect)
	processor.SetDiscoverHandler(a.connectTo)
	node.AddService(processor)
	node.AddService(a)

	return a, nil
}

// SelfContact renders this node as a bootstrap contact record.
func (a *ConnectionAdapter) SelfContact() *protobuf.Contact {
	host, portStr, err := net.SplitHostPort(a.localAddr)
	var port uint64
	if err == nil {
		port, _ = strconv.ParseUint(portStr, 10, 16)
	} else {
		host = a.localAddr
	}
	return &protobuf.Contact{
		NodeId:    a.self.Bytes(),
		Endpoint:  &protobuf.Endpoint{Ip: host, Port: uint32(port)},
		PublicKey: a.identity.MyIdentity(),
	}
}

func contactAddress(c *protobuf.Contact) (string, error) {
	if c == nil || c.Endpoint == nil || c.Endpoint.Ip == "" {
		return "", errors.New("skademlia: contact has no endpoint")
	}
	return net.JoinHostPort(c.Endpoint.Ip, strconv.Itoa(int(c.Endpoint.Port))), nil
}

func (a *ConnectionAdapter) storeContact(c *protobuf.Contact) (peer.ID, error) {
	id, err := peer.FromBytes(c.NodeId)
	if err != nil {
		return peer.ZeroID, errors.Wrap(err, "skademlia: contact has malformed node id")
	}
	if len(c.PublicKey) == 0 {
		return peer.ZeroID, errors.New("skademlia: contact has no public key")
	}

	a.mu.Lock()
	a.contacts[string(c.PublicKey)] = c
	a.byNode[id] = string(c.PublicKey)
	a.mu.Unlock()
	return id, nil
}

func (a *ConnectionAdapter) contactByKey(publicKey []byte) (*protobuf.Contact, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.contacts[string(publicKey)]
	return c, ok
}

func (a *ConnectionAdapter) contactByNode(id peer.ID) (*protobuf.Contact, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key, ok := a.byNode[id]
	if !ok {
		return nil, false
	}
	c, ok := a.contacts[key]
	return c, ok
}

// Dial opens an active connection to the remote identity, which must have
// a known contact record.
func (a *ConnectionAdapter) Dial(c *protocol.Controller, local []byte, remote []byte) (protocol.MessageAdapter, error) {
	if bytes.Equal(local, remote) {
		return nil, errors.New("skademlia: skip connecting to self")
	}
	if !bytes.Equal(local, a.identity.MyIdentity()) {
		return nil, errors.New("skademlia: dialing with a foreign local identity")
	}

	contact, ok := a.contactByKey(remote)
	if !ok {
		return nil, errors.New("skademlia: no contact record for remote identity")
	}
	address, err := contactAddress(contact)
	if err != nil {
		return nil, err
	}

	log.Debug().Str("address", address).Msg("dialing peer")

	conn, err := a.dialer(address)
	if err != nil {
		return nil, errors.Wrapf(err, "skademlia: cannot dial %s", address)
	}

	return base.NewMessageAdapterActive(a, conn, local, remote, a.localAddr, address)
}

// Accept turns the listener into a stream of passive connections.
func (a *ConnectionAdapter) Accept(c *protocol.Controller, local []byte) chan protocol.MessageAdapter {
	ch := make(chan protocol.MessageAdapter)
	go func() {
		defer close(ch)
		for {
			select {
			case <-c.Cancellation:
				return
			default:
			}

			conn, err := a.listener.Accept()
			if err != nil {
				select {
				case <-c.Cancellation:
					return
				default:
				}
				log.Error().Err(err).Msg("unable to accept connection")
				continue
			}

			adapter, err := base.NewMessageAdapterPassive(a, conn, local, a.localAddr)
			if err != nil {
				log.Error().Err(err).Msg("unable to start message adapter")
				continue
			}

			ch <- adapter
		}
	}()
	return ch
}

// KnownContacts snapshots every contact record the adapter has learned,
// for bootstrap-list persistence.
func (a *ConnectionAdapter) KnownContacts() []*protobuf.Contact {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*protobuf.Contact, 0, len(a.contacts))
	for _, c := range a.contacts {
		out = append(out, c)
	}
	return out
}

// GetRemoteIDs returns the public keys of every peer with a known contact.
func (a *ConnectionAdapter) GetRemoteIDs() [][]byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([][]byte, 0, len(a.contacts))
	for key := range a.contacts {
		out = append(out, []byte(key))
	}
	return out
}

// onAuthenticated fires once a peer's handshake claim verifies, on both
// the active and the passive side. Admission must not run on the handshake
// goroutine: the session is only usable once the key exchange fully
// finishes, so the validation-and-add protocol is kicked off async.
func (a *ConnectionAdapter) onAuthenticated(claim *protobuf.Handshake) {
	go a.admit(claim)
}

func (a *ConnectionAdapter) admit(claim *protobuf.Handshake) {
	nodeID, err := peer.FromBytes(claim.NodeId)
	if err != nil || nodeID.Equals(a.self) {
		return
	}
	defer a.Processor.ConnectResolved(nodeID)

	if _, known := a.Processor.Routes.GetNodeInfo(nodeID); known {
		return
	}

	connID := a.Network.RegisterLink(claim.PublicKey)
	accepted := ValidateAndAddToRoutingTable(
		a.Network, a.Processor.Routes, a.Processor.Clients,
		nodeID, connID, claim.PublicKey, claim.ClientMode,
	)
	if !accepted || claim.ClientMode {
		return
	}

	// Ask the fresh peer for its view around us to drive convergence.
	lookup := discovery.NewFindNodesRequest(a.self, a.self, a.Processor.NextMessageID())
	if err := a.Processor.SendOverConnection(connID, lookup); err != nil {
		log.Warn().Err(err).Str("peer", nodeID.String()).Msg("bootstrap lookup failed")
	}
}

// connectTo is the processor's discover hook: start a connection attempt
// toward a peer learned from a find-node response. With no contact record
// yet, a Connect request is routed toward the target carrying our own
// contact so it can dial back.
func (a *ConnectionAdapter) connectTo(target peer.ID) {
	if contact, ok := a.contactByNode(target); ok {
		a.connectToContact(contact, target)
		return
	}

	data, err := proto.Marshal(a.SelfContact())
	if err != nil {
		a.Processor.ConnectResolved(target)
		return
	}
	msg := &protobuf.RoutingMessage{
		SourceId:       a.self.Bytes(),
		DestinationId:  target.Bytes(),
		Type:           protobuf.MessageType_Connect,
		Request:        true,
		Direct:         true,
		RoutingMessage: true,
		Data:           data,
		Id:             a.Processor.NextMessageID(),
		HopsToLive:     discovery.MaxRouteHistory,
	}
	if err := a.Processor.Send(msg); err != nil {
		log.Warn().Err(err).Str("target", target.String()).Msg("cannot route connect request")
		a.Processor.ConnectResolved(target)
	}
}

func (a *ConnectionAdapter) connectToContact(contact *protobuf.Contact, nodeID peer.ID) {
	connID := a.Network.RegisterLink(contact.PublicKey)

	handshake := &protobuf.RoutingMessage{
		SourceId:       a.self.Bytes(),
		DestinationId:  contact.NodeId,
		Type:           protobuf.MessageType_ConnectSuccess,
		Request:        true,
		Direct:         true,
		RoutingMessage: true,
		Id:             a.Processor.NextMessageID(),
		HopsToLive:     discovery.MaxRouteHistory,
	}
	frame, err := proto.Marshal(handshake)
	if err != nil {
		a.Processor.ConnectResolved(nodeID)
		return
	}

	address, _ := contactAddress(contact)
	endpoints := discovery.EndpointPair{Local: a.localAddr, External: address}
	if err := a.Network.Add(connID, endpoints, frame); err != nil {
		log.Warn().Err(err).Str("peer", nodeID.String()).Msg("transport add failed")
		a.Network.Remove(connID)
		a.Processor.ConnectResolved(nodeID)
	}
}

// handleConnect performs connection management for the Connect message
// family the processor dispatches here.
func (a *ConnectionAdapter) handleConnect(msg *protobuf.RoutingMessage) {
	switch msg.Type {
	case protobuf.MessageType_Connect:
		var contact protobuf.Contact
		if err := proto.Unmarshal(msg.Data, &contact); err != nil {
			log.Warn().Err(err).Msg("connect message with malformed contact")
			return
		}
		nodeID, err := a.storeContact(&contact)
		if err != nil {
			log.Warn().Err(err).Msg("connect message with unusable contact")
			return
		}

		if msg.Request {
			// Answer with our own contact, then dial the requester.
			if reply := a.connectReply(msg); reply != nil {
				a.Processor.Send(reply)
			}
		}
		a.connectToContact(&contact, nodeID)

	case protobuf.MessageType_ConnectSuccess:
		if !msg.Request {
			return
		}
		source, err := peer.FromBytes(msg.SourceId)
		if err != nil {
			return
		}
		if contact, ok := a.contactByNode(source); ok {
			if connID, ok := a.Network.ConnectionID(contact.PublicKey); ok {
				ack := &protobuf.RoutingMessage{
					SourceId:       a.self.Bytes(),
					DestinationId:  msg.SourceId,
					Type:           protobuf.MessageType_ConnectSuccessAck,
					Response:       true,
					Direct:         true,
					RoutingMessage: true,
					Id:             msg.Id,
					HopsToLive:     discovery.MaxRouteHistory,
				}
				if frame, err := proto.Marshal(ack); err == nil {
					if err := a.Network.Send(connID, frame); err != nil {
						log.Debug().Err(err).Msg("connect-success ack not sent")
					}
				}
			}
		}

	case protobuf.MessageType_ConnectSuccessAck:
		log.Debug().Str("source", hexOrShort(msg.SourceId)).Msg("connection acknowledged")
	}
}

func (a *ConnectionAdapter) connectReply(req *protobuf.RoutingMessage) *protobuf.RoutingMessage {
	data, err := proto.Marshal(a.SelfContact())
	if err != nil {
		return nil
	}
	return &protobuf.RoutingMessage{
		SourceId:       a.self.Bytes(),
		DestinationId:  req.SourceId,
		Type:           protobuf.MessageType_Connect,
		Response:       true,
		Direct:         true,
		RoutingMessage: true,
		Data:           data,
		Id:             req.Id,
		HopsToLive:     discovery.MaxRouteHistory,
	}
}

// PeerDisconnect evicts the routing-table entry carried by a connection
// the transport has torn down.
func (a *ConnectionAdapter) PeerDisconnect(remote []byte) {
	connID, ok := a.Network.ConnectionID(remote)
	if !ok {
		return
	}
	a.Processor.EvictConnection(connID)
	var clientID peer.ID
	var haveClient bool
	a.mu.Lock()
	if contact, found := a.contacts[string(remote)]; found {
		if id, err := peer.FromBytes(contact.NodeId); err == nil {
			clientID, haveClient = id, true
		}
	}
	a.mu.Unlock()
	if haveClient {
		a.Processor.Clients.DropNode(clientID)
	}
	a.Network.Remove(connID)
}

// Bootstrap dials the given contacts; each successful handshake admits the
// peer and issues a self-lookup to seed the routing table.
func (a *ConnectionAdapter) Bootstrap(contacts ...*protobuf.Contact) error {
	for _, contact := range contacts {
		nodeID, err := a.storeContact(contact)
		if err != nil {
			return err
		}
		if nodeID.Equals(a.self) {
			continue
		}
		a.connectToContact(contact, nodeID)
	}
	return nil
}

func hexOrShort(b []byte) string {
	if id, err := peer.FromBytes(b); err == nil {
		return id.String()
	}
	return "invalid"
}
