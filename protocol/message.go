package protocol

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Message is an inbound envelope handed to a ServiceInterface: who sent it,
// who it's addressed to, the decoded body, and the transport metadata of
// the connection it arrived on.
type Message struct {
	Sender    []byte
	Recipient []byte
	Body      *MessageBody
	Metadata  map[string]string
}

// MessageBody is the application-level payload exchanged between services.
// Service namespaces Payload the way skademlia/discovery's ServiceID does;
// RequestNonce correlates a Request call with its reply.
type MessageBody struct {
	Service      uint32
	Payload      []byte
	RequestNonce uint64
}

// Serialize encodes the body as a length-prefixed varint record, matching
// the framing base.MessageAdapter.SendMessage uses for the outer transport
// frame.
func (b *MessageBody) Serialize() []byte {
	var buf bytes.Buffer

	var hdr [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(hdr[:], uint64(b.Service))
	buf.Write(hdr[:n])

	n = binary.PutUvarint(hdr[:], b.RequestNonce)
	buf.Write(hdr[:n])

	n = binary.PutUvarint(hdr[:], uint64(len(b.Payload)))
	buf.Write(hdr[:n])
	buf.Write(b.Payload)

	return buf.Bytes()
}

// DeserializeMessageBody decodes a record written by Serialize.
func DeserializeMessageBody(r io.Reader) (*MessageBody, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = &byteReaderAdapter{r}
	}

	service, err := binary.ReadUvarint(br)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read service")
	}

	nonce, err := binary.ReadUvarint(br)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read request nonce")
	}

	payloadLen, err := binary.ReadUvarint(br)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read payload length")
	}
	if payloadLen > MaxPayloadLen {
		return nil, errors.Errorf("payload length %d exceeds maximum %d", payloadLen, MaxPayloadLen)
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, errors.Wrap(err, "cannot read payload")
	}

	return &MessageBody{
		Service:      uint32(service),
		Payload:      payload,
		RequestNonce: nonce,
	}, nil
}

// byteReaderAdapter wraps an io.Reader without io.ByteReader support (such
// as a bytes.NewReader-backed io.Reader type alias) so binary.ReadUvarint
// has something to call.
type byteReaderAdapter struct {
	io.Reader
}

func (b *byteReaderAdapter) ReadByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(b.Reader, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}
