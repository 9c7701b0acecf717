package skademlia

import (
	"github.com/gogo/protobuf/proto"
	"github.com/pkg/errors"

	"github.com/noisenet/routing/protocol"
	"github.com/noisenet/routing/skademlia/protobuf"
)

var _ protocol.HandshakeProcessor = (*HandshakeProcessor)(nil)

// handshakeTag is the transcript tag both sides sign, binding the
// handshake signature to this protocol rather than any reusable message.
var handshakeTag = []byte("skademlia-handshake")

// AuthenticatedFunc is invoked once a remote peer's identity claim has
// been verified: puzzle solved, signature valid.
type AuthenticatedFunc func(claim *protobuf.Handshake)

// HandshakeProcessor authenticates peers after the transport's key
// exchange: each side presents its public key, node id, cryptopuzzle
// nonce and a signature, and verifies the counterpart's claim against the
// static and dynamic S/Kademlia puzzles.
type HandshakeProcessor struct {
	id            *IdentityAdapter
	clientMode    bool
	authenticated AuthenticatedFunc
}

type handshakeState struct {
	passive bool
}

// NewHandshakeProcessor builds a processor proving and checking identity
// claims with id's cryptopuzzle constants.
func NewHandshakeProcessor(id *IdentityAdapter) *HandshakeProcessor {
	return &HandshakeProcessor{id: id}
}

// SetClientMode marks this side as a non-routing peer in its handshake
// claim.
func (p *HandshakeProcessor) SetClientMode(client bool) { p.clientMode = client }

// SetAuthenticatedCallback installs the hook fired for each verified
// remote claim.
func (p *HandshakeProcessor) SetAuthenticatedCallback(f AuthenticatedFunc) { p.authenticated = f }

func (p *HandshakeProcessor) claim() ([]byte, error) {
	msg := &protobuf.Handshake{
		PublicKey:  p.id.MyIdentity(),
		NodeId:     p.id.NodeID(),
		Nonce:      p.id.Nonce,
		Signature:  p.id.Sign(handshakeTag),
		ClientMode: p.clientMode,
	}
	payload, err := proto.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(err, "skademlia: cannot encode handshake")
	}
	return payload, nil
}

func (p *HandshakeProcessor) verify(payload []byte) (*protobuf.Handshake, error) {
	var msg protobuf.Handshake
	if err := proto.Unmarshal(payload, &msg); err != nil {
		return nil, errors.Wrap(err, "skademlia: cannot decode handshake")
	}
	if !VerifyPuzzle(msg.PublicKey, msg.NodeId, msg.Nonce, p.id.c1, p.id.c2) {
		return nil, errors.New("skademlia: handshake failed cryptopuzzle check")
	}
	if !p.id.Verify(msg.PublicKey, handshakeTag, msg.Signature) {
		return nil, errors.New("skademlia: handshake signature invalid")
	}
	if p.authenticated != nil {
		p.authenticated(&msg)
	}
	return &msg, nil
}

// ActivelyInitHandshake sends this side's claim first.
func (p *HandshakeProcessor) ActivelyInitHandshake() ([]byte, interface{}, error) {
	payload, err := p.claim()
	if err != nil {
		return nil, nil, err
	}
	return payload, &handshakeState{passive: false}, nil
}

// PassivelyInitHandshake waits for the active side's claim.
func (p *HandshakeProcessor) PassivelyInitHandshake() (interface{}, error) {
	return &handshakeState{passive: true}, nil
}

// ProcessHandshakeMessage verifies the peer's claim. The passive side
// replies with its own claim; the active side finishes silently.
func (p *HandshakeProcessor) ProcessHandshakeMessage(state interface{}, payload []byte) ([]byte, protocol.DoneAction, error) {
	st, ok := state.(*handshakeState)
	if !ok {
		return nil, protocol.DoneAction_Invalid, errors.New("skademlia: unexpected handshake state type")
	}

	if _, err := p.verify(payload); err != nil {
		return nil, protocol.DoneAction_Invalid, err
	}

	if st.passive {
		reply, err := p.claim()
		if err != nil {
			return nil, protocol.DoneAction_Invalid, err
		}
		return reply, protocol.DoneAction_SendMessage, nil
	}
	return nil, protocol.DoneAction_DoNothing, nil
}
