package protocol

import "context"

// MaxPayloadLen bounds a single wire frame's declared length, guarding
// against a corrupt or hostile length prefix causing an unbounded
// allocation.
const MaxPayloadLen = 4 << 20 // 4 MiB

// IdentityAdapter describes a node's cryptographic identity: the bytes that
// name it on the wire, and the means to sign and verify with it.
type IdentityAdapter interface {
	MyIdentity() []byte
	Sign(input []byte) []byte
	Verify(publicKey, data, signature []byte) bool
	SignatureSize() int
}

// RecvMessageCallback is invoked with each raw frame a MessageAdapter reads
// off the wire, or with a nil message once the connection is finished.
type RecvMessageCallback func(ctx context.Context, message []byte)

// MessageAdapter is a single established, framed byte-stream connection to
// one remote peer.
type MessageAdapter interface {
	Close()
	RemoteID() []byte
	Metadata() map[string]string
	SendMessage(c *Controller, message []byte) error
	OnRecvMessage(c *Controller, callback RecvMessageCallback)
}

// ConnectionAdapter dials and accepts MessageAdapters and tracks which
// remote identities are currently reachable.
type ConnectionAdapter interface {
	Dial(c *Controller, local []byte, remote []byte) (MessageAdapter, error)
	Accept(c *Controller, local []byte) chan MessageAdapter
	GetRemoteIDs() [][]byte
}

// SendAdapter is the subset of Node's API that services need in order to
// originate traffic of their own (as opposed to only replying to Receive).
type SendAdapter interface {
	Send(ctx context.Context, recipient []byte, body *MessageBody) error
	Broadcast(ctx context.Context, body *MessageBody) error
	BroadcastRandomly(ctx context.Context, body *MessageBody, maxPeers int) error
	Request(ctx context.Context, recipient []byte, body *MessageBody) (*MessageBody, error)
}

// ServiceInterface is implemented by anything that wants to receive
// messages and lifecycle callbacks from a Node.
type ServiceInterface interface {
	Startup(node *Node)
	Receive(ctx context.Context, message *Message) (*MessageBody, error)
	PeerConnect(id []byte)
	PeerDisconnect(id []byte)
}

// Service is an embeddable no-op ServiceInterface implementation; services
// that only care about Receive can embed this and skip the rest.
type Service struct{}

func (Service) Startup(node *Node) {}
func (Service) Receive(ctx context.Context, m *Message) (*MessageBody, error) {
	return nil, nil
}
func (Service) PeerConnect(id []byte)    {}
func (Service) PeerDisconnect(id []byte) {}

// DoneAction is returned by HandshakeProcessor.ProcessHandshakeMessage to
// tell the caller what to do with the (possibly empty) reply it produced.
type DoneAction int

const (
	// DoneAction_Invalid means the handshake message failed validation;
	// the connection must be torn down.
	DoneAction_Invalid DoneAction = iota
	// DoneAction_SendMessage means reply must be sent back to the peer,
	// after which this side's handshake is complete.
	DoneAction_SendMessage
	// DoneAction_DoNothing means this side's handshake is complete with no
	// further reply to send.
	DoneAction_DoNothing
)

// HandshakeProcessor layers an application-level authentication handshake
// on top of the transport's Diffie-Hellman key exchange. A nil
// HandshakeProcessor means the DH exchange alone is sufficient.
type HandshakeProcessor interface {
	ActivelyInitHandshake() (payload []byte, state interface{}, err error)
	PassivelyInitHandshake() (state interface{}, err error)
	ProcessHandshakeMessage(state interface{}, payload []byte) (reply []byte, action DoneAction, err error)
}
