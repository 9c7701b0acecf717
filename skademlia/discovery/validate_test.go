package discovery_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noisenet/routing/skademlia/discovery"
	"github.com/noisenet/routing/skademlia/protobuf"
)

func validFrame() *protobuf.RoutingMessage {
	return &protobuf.RoutingMessage{
		SourceId:       idFromByte(0x01).Bytes(),
		DestinationId:  idFromByte(0x02).Bytes(),
		Type:           protobuf.MessageType_NodeLevel,
		Request:        true,
		RoutingMessage: false,
		Data:           []byte("payload"),
		Id:             1,
		HopsToLive:     3,
	}
}

func TestValidateMessage(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		mutate func(*protobuf.RoutingMessage)
		valid  bool
	}{
		{"well-formed", func(m *protobuf.RoutingMessage) {}, true},
		{"nil hops", func(m *protobuf.RoutingMessage) { m.HopsToLive = 0 }, false},
		{"negative hops", func(m *protobuf.RoutingMessage) { m.HopsToLive = -1 }, false},
		{"short destination", func(m *protobuf.RoutingMessage) { m.DestinationId = []byte{1, 2, 3} }, false},
		{"missing destination", func(m *protobuf.RoutingMessage) { m.DestinationId = nil }, false},
		{"no source and no relay", func(m *protobuf.RoutingMessage) { m.SourceId = nil }, false},
		{"zero source", func(m *protobuf.RoutingMessage) { m.SourceId = make([]byte, 64) }, false},
		{"short source", func(m *protobuf.RoutingMessage) { m.SourceId = []byte{1} }, false},
		{
			"relay pair substitutes for source",
			func(m *protobuf.RoutingMessage) {
				m.SourceId = nil
				m.RelayId = idFromByte(0x03).Bytes()
				m.RelayConnectionId = idFromByte(0x04).Bytes()
			},
			true,
		},
		{
			"relay id without relay connection id",
			func(m *protobuf.RoutingMessage) {
				m.SourceId = nil
				m.RelayId = idFromByte(0x03).Bytes()
			},
			false,
		},
		{
			"zero relay id",
			func(m *protobuf.RoutingMessage) {
				m.RelayId = make([]byte, 64)
				m.RelayConnectionId = idFromByte(0x04).Bytes()
			},
			false,
		},
		{
			"connect must be direct",
			func(m *protobuf.RoutingMessage) {
				m.Type = protobuf.MessageType_Connect
				m.Direct = false
			},
			false,
		},
		{
			"direct connect passes",
			func(m *protobuf.RoutingMessage) {
				m.Type = protobuf.MessageType_Connect
				m.Direct = true
			},
			true,
		},
		{
			"find-nodes response must be direct",
			func(m *protobuf.RoutingMessage) {
				m.Type = protobuf.MessageType_FindNodes
				m.Request = false
				m.Direct = false
			},
			false,
		},
		{
			"find-nodes request need not be direct",
			func(m *protobuf.RoutingMessage) {
				m.Type = protobuf.MessageType_FindNodes
				m.Request = true
				m.Direct = false
			},
			true,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			msg := validFrame()
			tc.mutate(msg)
			assert.Equal(t, tc.valid, discovery.ValidateMessage(msg))
		})
	}

	assert.False(t, discovery.ValidateMessage(nil))
}
