package protocol

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"
	"sync"

	"github.com/monnand/dhkx"
	"github.com/pkg/errors"

	"github.com/noisenet/routing/crypto/blake2b"
)

// KeyExchange states track an EstablishedPeer's handshake progress.
const (
	KeyExchange_Pending = iota
	KeyExchange_Done
	KeyExchange_Failed
)

// PendingPeer is the placeholder Node.peers holds for a remote identity
// while its connection is being actively dialed, so concurrent callers all
// wait on the same Done channel instead of racing to dial twice.
type PendingPeer struct {
	Done        chan struct{}
	Established *EstablishedPeer
}

// kxPhase tracks which leg of the combined DH + application handshake an
// EstablishedPeer is in.
type kxPhase int

const (
	kxPhaseDH kxPhase = iota
	kxPhaseApp
)

// EstablishedPeer wraps one MessageAdapter with the session key and
// handshake state negotiated for it.
type EstablishedPeer struct {
	adapter MessageAdapter
	passive bool

	dhGroup   *dhkx.DHGroup
	dhKeypair *dhkx.DHKey

	mu         sync.Mutex
	phase      kxPhase
	sessionKey []byte
	aead       cipher.AEAD
	hsState    interface{}

	customHandshakeProcessor HandshakeProcessor

	kxDone  chan struct{}
	kxState int
}

// EstablishPeerWithMessageAdapter begins the handshake for a freshly
// connected adapter. The active side immediately sends its Diffie-Hellman
// public key; the passive side waits for it. Neither side blocks here:
// the handshake finishes asynchronously as the caller drives incoming
// frames through continueKeyExchange (see Node.dispatchIncomingMessage).
func EstablishPeerWithMessageAdapter(c *Controller, dhGroup *dhkx.DHGroup, dhKeypair *dhkx.DHKey, idAdapter IdentityAdapter, adapter MessageAdapter, passive bool) (*EstablishedPeer, error) {
	p := &EstablishedPeer{
		adapter:   adapter,
		passive:   passive,
		dhGroup:   dhGroup,
		dhKeypair: dhKeypair,
		phase:     kxPhaseDH,
		kxDone:    make(chan struct{}),
		kxState:   KeyExchange_Pending,
	}

	if !passive {
		if err := p.sendRaw(c, dhKeypair.Bytes()); err != nil {
			return nil, errors.Wrap(err, "cannot send DH public key")
		}
	}

	return p, nil
}

// RemoteID returns the remote peer's identity bytes.
func (p *EstablishedPeer) RemoteID() []byte {
	return p.adapter.RemoteID()
}

// Close tears down the underlying adapter.
func (p *EstablishedPeer) Close() {
	p.adapter.Close()
}

func (p *EstablishedPeer) sendRaw(c *Controller, payload []byte) error {
	return p.adapter.SendMessage(c, payload)
}

// seal wraps payload with a random nonce prefix, encrypted under
// the session AEAD.
func (p *EstablishedPeer) seal(payload []byte) ([]byte, error) {
	nonce := make([]byte, p.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Wrap(err, "cannot generate nonce")
	}
	return p.aead.Seal(nonce, nonce, payload, nil), nil
}

func (p *EstablishedPeer) open(frame []byte) ([]byte, error) {
	ns := p.aead.NonceSize()
	if len(frame) < ns {
		return nil, errors.New("sealed frame shorter than nonce")
	}
	nonce, ciphertext := frame[:ns], frame[ns:]
	return p.aead.Open(nil, nonce, ciphertext, nil)
}

// SendMessage seals body with the session key and writes it to the wire.
// Must only be called once kxState is KeyExchange_Done.
func (p *EstablishedPeer) SendMessage(c *Controller, body []byte) error {
	sealed, err := p.seal(body)
	if err != nil {
		return err
	}
	return p.sendRaw(c, sealed)
}

// UnwrapMessage opens a sealed application frame once the handshake is done.
func (p *EstablishedPeer) UnwrapMessage(c *Controller, raw []byte) ([]byte, error) {
	return p.open(raw)
}

// finish marks the handshake complete with state and closes kxDone. Safe
// to call at most once.
func (p *EstablishedPeer) finish(state int) {
	p.kxState = state
	close(p.kxDone)
}

// continueKeyExchange advances the handshake state machine with the next
// raw frame received from the peer. It is the asynchronous counterpart of
// the synchronous send EstablishPeerWithMessageAdapter performs for the
// active side's first DH frame.
func (p *EstablishedPeer) continueKeyExchange(c *Controller, idAdapter IdentityAdapter, handshakeProcessor HandshakeProcessor, raw []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.customHandshakeProcessor = handshakeProcessor

	switch p.phase {
	case kxPhaseDH:
		remotePub := dhkx.NewPublicKey(raw)
		shared, err := p.dhGroup.ComputeKey(remotePub, p.dhKeypair)
		if err != nil {
			p.finish(KeyExchange_Failed)
			return errors.Wrap(err, "DH key exchange failed")
		}

		hasher := blake2b.New()
		digest := hasher.HashBytes(shared.Bytes())
		p.sessionKey = digest[:32]

		block, err := aes.NewCipher(p.sessionKey)
		if err != nil {
			p.finish(KeyExchange_Failed)
			return errors.Wrap(err, "cannot build session cipher")
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			p.finish(KeyExchange_Failed)
			return errors.Wrap(err, "cannot build session AEAD")
		}
		p.aead = aead
		p.phase = kxPhaseApp

		if p.passive {
			if err := p.sendRaw(c, p.dhKeypair.Bytes()); err != nil {
				p.finish(KeyExchange_Failed)
				return errors.Wrap(err, "cannot send DH public key reply")
			}
		}

		if p.customHandshakeProcessor == nil {
			p.finish(KeyExchange_Done)
			return nil
		}

		if p.passive {
			state, err := p.customHandshakeProcessor.PassivelyInitHandshake()
			if err != nil {
				p.finish(KeyExchange_Failed)
				return errors.Wrap(err, "cannot init passive handshake")
			}
			p.hsState = state
			return nil
		}

		payload, state, err := p.customHandshakeProcessor.ActivelyInitHandshake()
		if err != nil {
			p.finish(KeyExchange_Failed)
			return errors.Wrap(err, "cannot init active handshake")
		}
		p.hsState = state
		sealed, err := p.seal(payload)
		if err != nil {
			p.finish(KeyExchange_Failed)
			return err
		}
		return p.sendRaw(c, sealed)

	case kxPhaseApp:
		payload, err := p.open(raw)
		if err != nil {
			p.finish(KeyExchange_Failed)
			return errors.Wrap(err, "cannot open handshake frame")
		}

		reply, action, err := p.customHandshakeProcessor.ProcessHandshakeMessage(p.hsState, payload)
		if err != nil || action == DoneAction_Invalid {
			p.finish(KeyExchange_Failed)
			if err == nil {
				err = errors.New("handshake rejected")
			}
			return err
		}

		if action == DoneAction_SendMessage {
			sealed, err := p.seal(reply)
			if err != nil {
				p.finish(KeyExchange_Failed)
				return err
			}
			if err := p.sendRaw(c, sealed); err != nil {
				p.finish(KeyExchange_Failed)
				return err
			}
		}

		p.finish(KeyExchange_Done)
		return nil

	default:
		panic("unreachable kx phase")
	}
}
