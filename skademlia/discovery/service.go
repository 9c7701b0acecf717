// Package discovery implements the message processor at the heart of the
// routing core: it validates inbound frames, maintains the content cache,
// forwards messages one XOR-hop closer to their destination, answers
// find-node queries with the close group, and feeds find-node responses
// back into the routing table to drive convergence.
package discovery

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"

	"github.com/gogo/protobuf/proto"
	"github.com/pkg/errors"

	"github.com/noisenet/routing/log"
	"github.com/noisenet/routing/protocol"
	"github.com/noisenet/routing/skademlia/cache"
	"github.com/noisenet/routing/skademlia/dht"
	"github.com/noisenet/routing/skademlia/peer"
	"github.com/noisenet/routing/skademlia/protobuf"
)

// ServiceID namespaces routing frames inside protocol.MessageBody envelopes.
const ServiceID = 5

// MaxRouteHistory bounds the number of previous hops a message may carry.
// A message whose history is already full is dropped rather than looped.
const MaxRouteHistory = 5

// EndpointPair is the local/external address pair the transport needs to
// establish a reliable channel to a peer.
type EndpointPair struct {
	Local    string
	External string
}

// Network is the contract the core consumes from the reliable-UDP
// transport. One production implementation lives in the skademlia package;
// tests substitute generated mocks.
type Network interface {
	// Add establishes a reliable channel to connectionID, sending
	// handshake on success.
	Add(connectionID peer.ID, endpoints EndpointPair, handshake []byte) error
	// MarkValid promotes a pending connection to validated once the
	// caller has cryptographically authenticated it.
	MarkValid(connectionID peer.ID) error
	// Remove tears the connection down, cancelling pending sends.
	Remove(connectionID peer.ID)
	// Send enqueues an outbound frame on the connection.
	Send(connectionID peer.ID, frame []byte) error
}

// ConnectHandler receives Connect requests and responses the processor is
// not itself responsible for; connection management lives above the core.
type ConnectHandler func(msg *protobuf.RoutingMessage)

// NodeLevelHandler receives messages addressed to this node that belong to
// the host application rather than the overlay.
type NodeLevelHandler func(msg *protobuf.RoutingMessage)

// DiscoverHandler is invoked once per newly learned peer identifier from a
// find-node response, so the host can initiate a connection attempt.
type DiscoverHandler func(target peer.ID)

// Service is the message processor. It embeds protocol.Service so it can
// be registered on a protocol.Node like any other service and receive raw
// frames off validated connections.
type Service struct {
	protocol.Service

	self    peer.ID
	Routes  *dht.RoutingTable
	Clients *dht.ClientRoutingTable
	Cache   *cache.Cache

	network Network

	onConnect   ConnectHandler
	onNodeLevel NodeLevelHandler
	onDiscover  DiscoverHandler

	msgID uint32

	mu      sync.Mutex
	pending map[peer.ID]struct{}
}

// NewService constructs the processor around an existing routing table,
// client table and content cache, sending through network.
func NewService(self peer.ID, routes *dht.RoutingTable, clients *dht.ClientRoutingTable, contentCache *cache.Cache, network Network) *Service {
	return &Service{
		self:    self,
		Routes:  routes,
		Clients: clients,
		Cache:   contentCache,
		network: network,
		pending: make(map[peer.ID]struct{}),
	}
}

// SetConnectHandler installs the connection-management hook for Connect
// requests and responses.
func (s *Service) SetConnectHandler(h ConnectHandler) { s.onConnect = h }

// SetNodeLevelHandler installs the upward signal for application payloads.
func (s *Service) SetNodeLevelHandler(h NodeLevelHandler) { s.onNodeLevel = h }

// SetDiscoverHandler installs the hook fired for each peer learned through
// a find-node response.
func (s *Service) SetDiscoverHandler(h DiscoverHandler) { s.onDiscover = h }

// Self returns the identifier this processor routes as.
func (s *Service) Self() peer.ID { return s.self }

// NextMessageID returns a fresh request correlator.
func (s *Service) NextMessageID() uint32 {
	return atomic.AddUint32(&s.msgID, 1)
}

// Receive adapts the protocol.Node service callback onto the processor:
// frames belonging to other services are ignored, everything else is
// decoded and dispatched. Replies travel through the routing table rather
// than the request/response envelope, so Receive never returns a body.
func (s *Service) Receive(ctx context.Context, message *protocol.Message) (*protocol.MessageBody, error) {
	if message == nil || message.Body == nil || message.Body.Service != ServiceID {
		return nil, nil
	}
	if len(message.Body.Payload) == 0 {
		return nil, errors.New("discovery: empty routing frame")
	}

	var msg protobuf.RoutingMessage
	if err := proto.Unmarshal(message.Body.Payload, &msg); err != nil {
		return nil, errors.Wrap(err, "discovery: cannot decode routing frame")
	}

	s.ProcessMessage(&msg)
	return nil, nil
}

// ProcessMessage runs one frame through the pipeline: validation, cache
// handling, forwarding or local dispatch.
func (s *Service) ProcessMessage(msg *protobuf.RoutingMessage) {
	if !ValidateMessage(msg) {
		return
	}

	if msg.Cacheable != protobuf.Cacheable_None {
		if s.handleCacheable(msg) {
			return
		}
	}

	dest, err := peer.FromBytes(msg.DestinationId)
	if err != nil {
		// ValidateMessage guarantees the width; unreachable.
		return
	}

	// A find-node self-lookup (a joining node searching for its own
	// identifier) is answered by whichever node receives it: forwarding it
	// toward its target would only hand it straight back to the asker.
	if msg.Type == protobuf.MessageType_FindNodes && msg.Request &&
		bytes.Equal(msg.SourceId, msg.DestinationId) && !dest.Equals(s.self) {
		s.doFindNodeRequest(msg, dest)
		return
	}

	if !s.Routes.IsClosestTo(dest, false) {
		s.forward(msg, dest)
		return
	}

	if msg.Direct && !dest.Equals(s.self) {
		s.sendDeliveryFailure(msg)
		return
	}

	s.dispatch(msg, dest)
}

// handleCacheable applies the content-cache put/get logic, reporting
// whether processing terminates here (a put response always terminates; a
// get request terminates on a cache hit; anything else continues).
func (s *Service) handleCacheable(msg *protobuf.RoutingMessage) bool {
	switch msg.Cacheable {
	case protobuf.Cacheable_Put:
		if !msg.Response {
			return false
		}
		if !s.Cache.Put(msg.SourceId, msg.Data) {
			log.Warn().
				Str("source", shortHex(msg.SourceId)).
				Msg("cache put failed integrity check, capacity halved")
		}
		return true

	case protobuf.Cacheable_Get:
		if !msg.Request {
			return false
		}
		data, hit := s.Cache.Get(msg.SourceId)
		if !hit {
			return false
		}
		reply := &protobuf.RoutingMessage{
			SourceId:       s.self.Bytes(),
			DestinationId:  msg.SourceId,
			Type:           msg.Type,
			Response:       true,
			Direct:         true,
			Cacheable:      protobuf.Cacheable_Get,
			RoutingMessage: msg.RoutingMessage,
			Data:           data,
			Id:             msg.Id,
			HopsToLive:     MaxRouteHistory,
		}
		dest, err := peer.FromBytes(reply.DestinationId)
		if err != nil {
			return true
		}
		s.sendOn(reply, dest)
		return true
	}
	return false
}

// forward re-emits msg toward dest via the closest known peer, skipping
// every hop already recorded in the route history.
func (s *Service) forward(msg *protobuf.RoutingMessage, dest peer.ID) {
	if len(msg.RouteHistory) >= MaxRouteHistory {
		log.Warn().
			Str("destination", shortHex(msg.DestinationId)).
			Uint32("id", msg.Id).
			Msg("route history full, dropping message")
		return
	}
	msg.RouteHistory = append(msg.RouteHistory, s.self.Bytes())
	msg.HopsToLive--
	if msg.HopsToLive <= 0 {
		log.Warn().
			Str("destination", shortHex(msg.DestinationId)).
			Uint32("id", msg.Id).
			Msg("hops exhausted, dropping message")
		return
	}

	exclude := make([]peer.ID, 0, len(msg.RouteHistory))
	for _, raw := range msg.RouteHistory {
		if id, err := peer.FromBytes(raw); err == nil {
			exclude = append(exclude, id)
		}
	}

	next, ok := s.Routes.ClosestNode(dest, exclude, false)
	if !ok {
		log.Warn().
			Str("destination", shortHex(msg.DestinationId)).
			Msg("no next hop available")
		return
	}
	s.transmit(next.ConnectionID, msg)
}

// sendOn routes msg toward dest without touching hop accounting; used for
// frames this node originates.
func (s *Service) sendOn(msg *protobuf.RoutingMessage, dest peer.ID) {
	next, ok := s.Routes.ClosestNode(dest, nil, false)
	if !ok {
		log.Warn().
			Str("destination", shortHex(msg.DestinationId)).
			Msg("no route for outbound message")
		return
	}
	s.transmit(next.ConnectionID, msg)
}

func (s *Service) transmit(connectionID peer.ID, msg *protobuf.RoutingMessage) {
	frame, err := proto.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Msg("cannot encode routing message")
		return
	}
	if err := s.network.Send(connectionID, frame); err != nil {
		log.Warn().
			Err(err).
			Str("connection", connectionID.String()).
			Msg("transport send failed")
	}
}

// SendOverConnection hand-delivers msg on a specific connection, bypassing
// next-hop selection. Bootstrap uses this to ask a just-connected peer for
// its view before the routing table can route anything.
func (s *Service) SendOverConnection(connectionID peer.ID, msg *protobuf.RoutingMessage) error {
	frame, err := proto.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "discovery: cannot encode routing message")
	}
	return s.network.Send(connectionID, frame)
}

// Send routes an application message from this node toward its
// destination. It is the outbound entry point the host calls.
func (s *Service) Send(msg *protobuf.RoutingMessage) error {
	if msg == nil {
		return errors.New("discovery: nil message")
	}
	if len(msg.SourceId) == 0 {
		msg.SourceId = s.self.Bytes()
	}
	if msg.Id == 0 {
		msg.Id = s.NextMessageID()
	}
	if msg.HopsToLive == 0 {
		msg.HopsToLive = MaxRouteHistory
	}
	if !ValidateMessage(msg) {
		return errors.New("discovery: refusing to send invalid message")
	}
	s.ProcessMessage(msg)
	return nil
}

// sendDeliveryFailure reports to the original source that a direct message
// reached the closest node without matching its exact destination.
func (s *Service) sendDeliveryFailure(msg *protobuf.RoutingMessage) {
	if len(msg.SourceId) == 0 {
		return
	}
	source, err := peer.FromBytes(msg.SourceId)
	if err != nil || source.Equals(s.self) {
		return
	}
	failure := &protobuf.RoutingMessage{
		SourceId:       s.self.Bytes(),
		DestinationId:  msg.SourceId,
		Type:           msg.Type,
		Response:       true,
		Direct:         true,
		RoutingMessage: true,
		Id:             msg.Id,
		HopsToLive:     MaxRouteHistory,
	}
	log.Warn().
		Str("destination", shortHex(msg.DestinationId)).
		Uint32("id", msg.Id).
		Msg("direct message undeliverable, reporting failure to source")
	s.sendOn(failure, source)
}

// dispatch handles a message this node is the terminal for.
func (s *Service) dispatch(msg *protobuf.RoutingMessage, dest peer.ID) {
	switch msg.Type {
	case protobuf.MessageType_FindNodes:
		if msg.Request {
			s.doFindNodeRequest(msg, dest)
		} else {
			s.doFindNodeResponse(msg)
		}

	case protobuf.MessageType_GetGroup:
		if msg.Request {
			s.doFindNodeRequest(msg, dest)
		}

	case protobuf.MessageType_Connect,
		protobuf.MessageType_ConnectSuccess,
		protobuf.MessageType_ConnectSuccessAck:
		if s.onConnect != nil {
			s.onConnect(msg)
		}

	case protobuf.MessageType_ClosestNodesUpdate:
		s.doFindNodeResponse(msg)

	case protobuf.MessageType_Ping:
		if msg.Request {
			s.doPingRequest(msg)
		}

	case protobuf.MessageType_Remove:
		s.doRemove(msg)

	case protobuf.MessageType_NodeLevel:
		if s.onNodeLevel != nil {
			s.onNodeLevel(msg)
		}

	default:
		log.Debug().
			Int32("type", int32(msg.Type)).
			Msg("unknown message type dropped")
	}
}

// doFindNodeRequest answers with the close group around the requested
// target, encoded as a NodeIdList payload.
func (s *Service) doFindNodeRequest(msg *protobuf.RoutingMessage, target peer.ID) {
	ids := s.Routes.ClosestNodes(target, dht.DefaultCloseGroupSize)
	payload := &protobuf.NodeIdList{}
	for _, id := range ids {
		payload.NodeId = append(payload.NodeId, id.Bytes())
	}
	data, err := proto.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("cannot encode find-node response")
		return
	}

	reply := &protobuf.RoutingMessage{
		SourceId:       s.self.Bytes(),
		DestinationId:  msg.SourceId,
		Type:           msg.Type,
		Response:       true,
		Direct:         true,
		RoutingMessage: true,
		Data:           data,
		Id:             msg.Id,
		HopsToLive:     MaxRouteHistory,
	}
	source, err := peer.FromBytes(msg.SourceId)
	if err != nil {
		return
	}
	s.sendOn(reply, source)
}

// doFindNodeResponse decodes the contained identifier list and hands each
// previously unseen peer to the discover hook so connection establishment
// (and, on success, admission) can begin. Replayed responses are ignored:
// identifiers already in the table or already being connected to are
// skipped, keeping admission idempotent under reordered or duplicated
// responses.
func (s *Service) doFindNodeResponse(msg *protobuf.RoutingMessage) {
	var payload protobuf.NodeIdList
	if err := proto.Unmarshal(msg.Data, &payload); err != nil {
		log.Warn().Err(err).Msg("cannot decode find-node response payload")
		return
	}

	for _, raw := range payload.NodeId {
		id, err := peer.FromBytes(raw)
		if err != nil || id.IsZero() || id.Equals(s.self) {
			continue
		}
		if _, known := s.Routes.GetNodeInfo(id); known {
			continue
		}

		s.mu.Lock()
		_, inFlight := s.pending[id]
		if !inFlight {
			s.pending[id] = struct{}{}
		}
		s.mu.Unlock()
		if inFlight {
			continue
		}

		if s.onDiscover != nil {
			s.onDiscover(id)
		}
	}
}

// ConnectResolved clears the in-flight marker for id once its connection
// attempt has concluded, successfully or not.
func (s *Service) ConnectResolved(id peer.ID) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

func (s *Service) doPingRequest(msg *protobuf.RoutingMessage) {
	source, err := peer.FromBytes(msg.SourceId)
	if err != nil || source.Equals(s.self) {
		return
	}
	reply := &protobuf.RoutingMessage{
		SourceId:       s.self.Bytes(),
		DestinationId:  msg.SourceId,
		Type:           protobuf.MessageType_Ping,
		Response:       true,
		Direct:         true,
		RoutingMessage: true,
		Id:             msg.Id,
		HopsToLive:     MaxRouteHistory,
	}
	s.sendOn(reply, source)
}

// doRemove drops the named peer from routing-table membership only; the
// transport connection stays up until the host tears it down.
func (s *Service) doRemove(msg *protobuf.RoutingMessage) {
	id, err := peer.FromBytes(msg.Data)
	if err != nil {
		return
	}
	if dropped, ok := s.Routes.DropNode(id, true); ok {
		log.Info().
			Str("peer", dropped.NodeID.String()).
			Msg("peer removed from routing table on request")
	}
}

// EvictConnection drops whichever routing-table entry rides on
// connectionID; the connection-management layer calls this when the
// transport reports a link gone.
func (s *Service) EvictConnection(connectionID peer.ID) {
	for _, info := range s.Routes.Peers() {
		if info.ConnectionID.Equals(connectionID) {
			s.Routes.DropNode(info.NodeID, false)
			return
		}
	}
}

// NewFindNodesRequest builds a find-node query from self toward target.
func NewFindNodesRequest(self, target peer.ID, id uint32) *protobuf.RoutingMessage {
	return &protobuf.RoutingMessage{
		SourceId:       self.Bytes(),
		DestinationId:  target.Bytes(),
		Type:           protobuf.MessageType_FindNodes,
		Request:        true,
		RoutingMessage: true,
		Id:             id,
		HopsToLive:     MaxRouteHistory,
	}
}

func shortHex(b []byte) string {
	if id, err := peer.FromBytes(b); err == nil {
		return id.String()
	}
	return "invalid"
}
