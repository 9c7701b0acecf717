package discovery_test

import (
	"testing"

	"github.com/gogo/protobuf/proto"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noisenet/routing/crypto/blake2b"
	"github.com/noisenet/routing/skademlia/cache"
	"github.com/noisenet/routing/skademlia/dht"
	"github.com/noisenet/routing/skademlia/discovery"
	"github.com/noisenet/routing/skademlia/discovery/mocks"
	"github.com/noisenet/routing/skademlia/peer"
	"github.com/noisenet/routing/skademlia/protobuf"
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

func infoFor(self peer.ID, b byte) peer.Info {
	return peer.NewInfo(self, idFromByte(b), connIDFromByte(b), []byte{b}, false)
}

type harness struct {
	svc     *discovery.Service
	network *mocks.MockNetwork
	sent    []*protobuf.RoutingMessage
	sentTo  []peer.ID
}

func newHarness(t *testing.T, ctrl *gomock.Controller, self peer.ID) *harness {
	t.Helper()

	h := &harness{network: mocks.NewMockNetwork(ctrl)}
	routes := dht.NewRoutingTable(self, false)
	clients := dht.NewClientRoutingTable(self)
	h.svc = discovery.NewService(self, routes, clients, cache.New(blake2b.New()), h.network)
	return h
}

// expectSends records every frame the processor emits, decoded.
func (h *harness) expectSends(t *testing.T) {
	t.Helper()
	h.network.EXPECT().Send(gomock.Any(), gomock.Any()).Do(func(connID peer.ID, frame []byte) {
		var msg protobuf.RoutingMessage
		require.NoError(t, proto.Unmarshal(frame, &msg))
		h.sent = append(h.sent, &msg)
		h.sentTo = append(h.sentTo, connID)
	}).Return(nil).AnyTimes()
}

func TestFindNodeRequestRespondsWithCloseGroup(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	self := idFromByte(0x00)
	h := newHarness(t, ctrl, self)
	h.expectSends(t)

	for i := byte(1); i <= 10; i++ {
		require.True(t, h.svc.Routes.AddNode(infoFor(self, i)))
	}

	requester := idFromByte(0x40)
	require.True(t, h.svc.Routes.AddNode(infoFor(self, 0x40)))

	req := discovery.NewFindNodesRequest(requester, self, 7)
	req.Direct = true
	h.svc.ProcessMessage(req)

	require.Len(t, h.sent, 1)
	reply := h.sent[0]
	assert.True(t, reply.Response)
	assert.True(t, reply.Direct)
	assert.Equal(t, protobuf.MessageType_FindNodes, reply.Type)
	assert.Equal(t, requester.Bytes(), reply.DestinationId)
	assert.Equal(t, uint32(7), reply.Id)

	var payload protobuf.NodeIdList
	require.NoError(t, proto.Unmarshal(reply.Data, &payload))
	assert.Len(t, payload.NodeId, dht.DefaultCloseGroupSize)
}

func TestFindNodeResponseAdmitsEachPeerOnce(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	self := idFromByte(0x00)
	h := newHarness(t, ctrl, self)

	discovered := make(map[peer.ID]int)
	h.svc.SetDiscoverHandler(func(target peer.ID) {
		discovered[target]++
	})

	payload := &protobuf.NodeIdList{}
	for i := byte(1); i <= 8; i++ {
		payload.NodeId = append(payload.NodeId, idFromByte(i).Bytes())
	}
	payload.NodeId = append(payload.NodeId, self.Bytes()) // must be skipped
	data, err := proto.Marshal(payload)
	require.NoError(t, err)

	response := &protobuf.RoutingMessage{
		SourceId:       idFromByte(0x50).Bytes(),
		DestinationId:  self.Bytes(),
		Type:           protobuf.MessageType_FindNodes,
		Response:       true,
		Direct:         true,
		RoutingMessage: true,
		Data:           data,
		Id:             1,
		HopsToLive:     3,
	}

	h.svc.ProcessMessage(response)
	// Replay the identical response; nothing new may be discovered.
	replay := proto.Clone(response).(*protobuf.RoutingMessage)
	h.svc.ProcessMessage(replay)

	assert.Len(t, discovered, 8)
	for id, count := range discovered {
		assert.Equal(t, 1, count, "peer %s discovered more than once", id)
	}
}

func TestCacheHitShortCircuitsForwarding(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	self := idFromByte(0x00)
	h := newHarness(t, ctrl, self)
	h.expectSends(t)

	// A neighbor to carry the synthesized response.
	require.True(t, h.svc.Routes.AddNode(infoFor(self, 0x01)))

	hasher := blake2b.New()
	content := []byte("cached chunk")
	contentID := hasher.HashBytes(content)

	put := &protobuf.RoutingMessage{
		SourceId:      contentID,
		DestinationId: idFromByte(0x70).Bytes(),
		Type:          protobuf.MessageType_NodeLevel,
		Response:      true,
		Cacheable:     protobuf.Cacheable_Put,
		Data:          content,
		Id:            2,
		HopsToLive:    4,
	}
	h.svc.ProcessMessage(put)
	require.Empty(t, h.sent, "a cacheable put terminates processing")

	get := &protobuf.RoutingMessage{
		SourceId:      contentID,
		DestinationId: contentID,
		Type:          protobuf.MessageType_NodeLevel,
		Request:       true,
		Cacheable:     protobuf.Cacheable_Get,
		Data:          []byte{},
		Id:            3,
		HopsToLive:    4,
	}
	h.svc.ProcessMessage(get)

	require.Len(t, h.sent, 1)
	reply := h.sent[0]
	assert.True(t, reply.Direct)
	assert.True(t, reply.Response)
	assert.Equal(t, protobuf.Cacheable_Get, reply.Cacheable)
	assert.Equal(t, contentID, reply.DestinationId)
	assert.Equal(t, content, reply.Data)
	assert.Equal(t, self.Bytes(), reply.SourceId)
}

func TestInvalidPutShrinksCapacity(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	self := idFromByte(0x00)
	h := newHarness(t, ctrl, self)

	put := &protobuf.RoutingMessage{
		SourceId:      idFromByte(0x33).Bytes(), // not the hash of Data
		DestinationId: idFromByte(0x70).Bytes(),
		Type:          protobuf.MessageType_NodeLevel,
		Response:      true,
		Cacheable:     protobuf.Cacheable_Put,
		Data:          []byte("mismatched"),
		Id:            4,
		HopsToLive:    4,
	}
	h.svc.ProcessMessage(put)

	assert.Equal(t, 0, h.svc.Cache.Len())
	assert.Equal(t, cache.DefaultSizeHint/2, h.svc.Cache.SizeHint())

	// A well-formed put still lands under the reduced hint.
	hasher := blake2b.New()
	content := []byte("good chunk")
	good := &protobuf.RoutingMessage{
		SourceId:      hasher.HashBytes(content),
		DestinationId: idFromByte(0x70).Bytes(),
		Type:          protobuf.MessageType_NodeLevel,
		Response:      true,
		Cacheable:     protobuf.Cacheable_Put,
		Data:          content,
		Id:            5,
		HopsToLive:    4,
	}
	h.svc.ProcessMessage(good)
	assert.Equal(t, 1, h.svc.Cache.Len())
}

func TestForwardDecrementsHopsAndRecordsRoute(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	self := idFromByte(0x00)
	h := newHarness(t, ctrl, self)
	h.expectSends(t)

	// 0x71 is strictly closer to destination 0x70 than self, so the
	// processor must forward rather than deliver.
	closer := infoFor(self, 0x71)
	require.True(t, h.svc.Routes.AddNode(closer))

	msg := &protobuf.RoutingMessage{
		SourceId:       idFromByte(0x22).Bytes(),
		DestinationId:  idFromByte(0x70).Bytes(),
		Type:           protobuf.MessageType_NodeLevel,
		Request:        true,
		RoutingMessage: false,
		Data:           []byte("payload"),
		Id:             6,
		HopsToLive:     3,
	}
	h.svc.ProcessMessage(msg)

	require.Len(t, h.sent, 1)
	forwarded := h.sent[0]
	assert.Equal(t, closer.ConnectionID, h.sentTo[0])
	assert.Equal(t, int32(2), forwarded.HopsToLive)
	require.Len(t, forwarded.RouteHistory, 1)
	assert.Equal(t, self.Bytes(), forwarded.RouteHistory[0])
}

func TestForwardDropsWhenHopsExhausted(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	self := idFromByte(0x00)
	h := newHarness(t, ctrl, self)

	require.True(t, h.svc.Routes.AddNode(infoFor(self, 0x71)))

	msg := &protobuf.RoutingMessage{
		SourceId:      idFromByte(0x22).Bytes(),
		DestinationId: idFromByte(0x70).Bytes(),
		Type:          protobuf.MessageType_NodeLevel,
		Request:       true,
		Data:          []byte("payload"),
		Id:            7,
		HopsToLive:    1, // decrements to zero at this hop
	}
	// No Send expectation: emitting anything fails the test.
	h.svc.ProcessMessage(msg)
}

func TestDirectMismatchReportsDeliveryFailure(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	self := idFromByte(0x00)
	h := newHarness(t, ctrl, self)
	h.expectSends(t)

	require.True(t, h.svc.Routes.AddNode(infoFor(self, 0x80)))

	// Destination 0x01: self is closest among {self, 0x80}, but the exact
	// node is unknown, so a direct message cannot be delivered.
	msg := &protobuf.RoutingMessage{
		SourceId:       idFromByte(0x80).Bytes(),
		DestinationId:  idFromByte(0x01).Bytes(),
		Type:           protobuf.MessageType_NodeLevel,
		Request:        true,
		Direct:         true,
		RoutingMessage: false,
		Data:           []byte("payload"),
		Id:             8,
		HopsToLive:     3,
	}
	h.svc.ProcessMessage(msg)

	require.Len(t, h.sent, 1)
	failure := h.sent[0]
	assert.True(t, failure.Response)
	assert.Equal(t, idFromByte(0x80).Bytes(), failure.DestinationId)
	assert.Equal(t, uint32(8), failure.Id)
}

func TestNodeLevelSignalsUpward(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	self := idFromByte(0x00)
	h := newHarness(t, ctrl, self)

	var delivered *protobuf.RoutingMessage
	h.svc.SetNodeLevelHandler(func(msg *protobuf.RoutingMessage) { delivered = msg })

	msg := &protobuf.RoutingMessage{
		SourceId:      idFromByte(0x44).Bytes(),
		DestinationId: self.Bytes(),
		Type:          protobuf.MessageType_NodeLevel,
		Request:       true,
		Direct:        true,
		Data:          []byte("application payload"),
		Id:            9,
		HopsToLive:    3,
	}
	h.svc.ProcessMessage(msg)

	require.NotNil(t, delivered)
	assert.Equal(t, []byte("application payload"), delivered.Data)
}
