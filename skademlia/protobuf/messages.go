// Package protobuf defines the overlay's wire schema as gogo/protobuf
// message types. Each type carries the struct tags
// github.com/gogo/protobuf/proto needs to (de)serialize it.
package protobuf

import (
	"github.com/gogo/protobuf/proto"
)

// MessageType enumerates the wire message types.
type MessageType int32

const (
	MessageType_Ping                MessageType = 0
	MessageType_Connect             MessageType = 1
	MessageType_FindNodes           MessageType = 2
	MessageType_ConnectSuccess      MessageType = 3
	MessageType_ConnectSuccessAck   MessageType = 4
	MessageType_Remove              MessageType = 5
	MessageType_ClosestNodesUpdate  MessageType = 6
	MessageType_GetGroup            MessageType = 7
	MessageType_NodeLevel           MessageType = 8
)

var messageTypeName = map[MessageType]string{
	MessageType_Ping:               "Ping",
	MessageType_Connect:            "Connect",
	MessageType_FindNodes:          "FindNodes",
	MessageType_ConnectSuccess:     "ConnectSuccess",
	MessageType_ConnectSuccessAck:  "ConnectSuccessAck",
	MessageType_Remove:             "Remove",
	MessageType_ClosestNodesUpdate: "ClosestNodesUpdate",
	MessageType_GetGroup:           "GetGroup",
	MessageType_NodeLevel:          "NodeLevel",
}

// String renders the message type name, falling back to "Unknown" for
// values the wire format doesn't recognise.
func (t MessageType) String() string {
	if name, ok := messageTypeName[t]; ok {
		return name
	}
	return "Unknown"
}

// Cacheable marks how the content cache may treat a message.
type Cacheable int32

const (
	Cacheable_None Cacheable = 0
	Cacheable_Get  Cacheable = 1
	Cacheable_Put  Cacheable = 2
)

var _ proto.Message = (*RoutingMessage)(nil)

// RoutingMessage is the structured wire record: every message the routing
// core sends or receives is one of these.
type RoutingMessage struct {
	SourceId          []byte      `protobuf:"bytes,1,opt,name=source_id,json=sourceId" json:"source_id,omitempty"`
	DestinationId     []byte      `protobuf:"bytes,2,opt,name=destination_id,json=destinationId" json:"destination_id,omitempty"`
	Type              MessageType `protobuf:"varint,3,opt,name=type,enum=protobuf.MessageType" json:"type,omitempty"`
	Request           bool        `protobuf:"varint,4,opt,name=request" json:"request,omitempty"`
	Response          bool        `protobuf:"varint,5,opt,name=response" json:"response,omitempty"`
	Direct            bool        `protobuf:"varint,6,opt,name=direct" json:"direct,omitempty"`
	Cacheable         Cacheable   `protobuf:"varint,7,opt,name=cacheable,enum=protobuf.Cacheable" json:"cacheable,omitempty"`
	RoutingMessage    bool        `protobuf:"varint,8,opt,name=routing_message,json=routingMessage" json:"routing_message,omitempty"`
	Data              []byte      `protobuf:"bytes,9,opt,name=data" json:"data,omitempty"`
	Id                uint32      `protobuf:"varint,10,opt,name=id" json:"id,omitempty"`
	HopsToLive        int32       `protobuf:"varint,11,opt,name=hops_to_live,json=hopsToLive" json:"hops_to_live,omitempty"`
	RouteHistory      [][]byte    `protobuf:"bytes,12,rep,name=route_history,json=routeHistory" json:"route_history,omitempty"`
	RelayId           []byte      `protobuf:"bytes,13,opt,name=relay_id,json=relayId" json:"relay_id,omitempty"`
	RelayConnectionId []byte      `protobuf:"bytes,14,opt,name=relay_connection_id,json=relayConnectionId" json:"relay_connection_id,omitempty"`
}

func (m *RoutingMessage) Reset()         { *m = RoutingMessage{} }
func (m *RoutingMessage) String() string { return proto.CompactTextString(m) }
func (*RoutingMessage) ProtoMessage()    {}

// NodeIdList carries a FindNodes response payload: the identifiers of the
// responder's closest peers to the requested target.
type NodeIdList struct {
	NodeId [][]byte `protobuf:"bytes,1,rep,name=node_id,json=nodeId" json:"node_id,omitempty"`
}

func (m *NodeIdList) Reset()         { *m = NodeIdList{} }
func (m *NodeIdList) String() string { return proto.CompactTextString(m) }
func (*NodeIdList) ProtoMessage()    {}

// Ping carries no payload; its presence on the wire is the signal.
type Ping struct{}

func (m *Ping) Reset()         { *m = Ping{} }
func (m *Ping) String() string { return proto.CompactTextString(m) }
func (*Ping) ProtoMessage()    {}

// Pong carries no payload; its presence on the wire is the signal.
type Pong struct{}

func (m *Pong) Reset()         { *m = Pong{} }
func (m *Pong) String() string { return proto.CompactTextString(m) }
func (*Pong) ProtoMessage()    {}

// Endpoint is an IP string plus 16-bit port, as stored in the config
// file's bootstrap contacts.
type Endpoint struct {
	Ip   string `protobuf:"bytes,1,opt,name=ip" json:"ip,omitempty"`
	Port uint32 `protobuf:"varint,2,opt,name=port" json:"port,omitempty"`
}

func (m *Endpoint) Reset()         { *m = Endpoint{} }
func (m *Endpoint) String() string { return proto.CompactTextString(m) }
func (*Endpoint) ProtoMessage()    {}

// Contact is one bootstrap peer record in the config file.
type Contact struct {
	NodeId    []byte    `protobuf:"bytes,1,opt,name=node_id,json=nodeId" json:"node_id,omitempty"`
	Endpoint  *Endpoint `protobuf:"bytes,2,opt,name=endpoint" json:"endpoint,omitempty"`
	PublicKey []byte    `protobuf:"bytes,3,opt,name=public_key,json=publicKey" json:"public_key,omitempty"`
}

func (m *Contact) Reset()         { *m = Contact{} }
func (m *Contact) String() string { return proto.CompactTextString(m) }
func (*Contact) ProtoMessage()    {}

// ConfigFile is the binary-encoded startup record: the node's private key
// and identifier, plus its known bootstrap contacts. Both required fields
// must be present or startup aborts.
type ConfigFile struct {
	PrivateKey []byte     `protobuf:"bytes,1,opt,name=private_key,json=privateKey" json:"private_key,omitempty"`
	NodeId     []byte     `protobuf:"bytes,2,opt,name=node_id,json=nodeId" json:"node_id,omitempty"`
	Contact    []*Contact `protobuf:"bytes,3,rep,name=contact" json:"contact,omitempty"`
}

func (m *ConfigFile) Reset()         { *m = ConfigFile{} }
func (m *ConfigFile) String() string { return proto.CompactTextString(m) }
func (*ConfigFile) ProtoMessage()    {}

// Handshake carries one leg of the post-key-exchange authentication: the
// sender's public key, its claimed node id, the cryptopuzzle nonce, and a
// signature over the session transcript tag.
type Handshake struct {
	PublicKey  []byte `protobuf:"bytes,1,opt,name=public_key,json=publicKey" json:"public_key,omitempty"`
	NodeId     []byte `protobuf:"bytes,2,opt,name=node_id,json=nodeId" json:"node_id,omitempty"`
	Nonce      []byte `protobuf:"bytes,3,opt,name=nonce" json:"nonce,omitempty"`
	Signature  []byte `protobuf:"bytes,4,opt,name=signature" json:"signature,omitempty"`
	ClientMode bool   `protobuf:"varint,5,opt,name=client_mode,json=clientMode" json:"client_mode,omitempty"`
}

func (m *Handshake) Reset()         { *m = Handshake{} }
func (m *Handshake) String() string { return proto.CompactTextString(m) }
func (*Handshake) ProtoMessage()    {}

// Marshal serializes m using the gogo/protobuf wire format.
func Marshal(m proto.Message) ([]byte, error) {
	return proto.Marshal(m)
}

// Unmarshal deserializes buf into m.
func Unmarshal(buf []byte, m proto.Message) error {
	return proto.Unmarshal(buf, m)
}
