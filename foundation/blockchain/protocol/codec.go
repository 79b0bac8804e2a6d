package protocol

import (
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrUnknownCode is returned for messages carrying an unknown code.
var ErrUnknownCode = errors.New("unknown message code")

const (
	// compressThreshold is the payload size above which payloads are
	// compressed.
	compressThreshold = 4 << 10

	// maxPayloadSize bounds the size of a decompressed payload.
	maxPayloadSize = 64 << 20
)

var (
	validate = validator.New()
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
)

func init() {
	var err error
	if encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault)); err != nil {
		panic(err)
	}
	if decoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxPayloadSize)); err != nil {
		panic(err)
	}
}

// Message is the envelope exchanged between nodes.
type Message struct {
	ID         string `msgpack:"id"`
	Code       Code   `msgpack:"c"`
	From       string `msgpack:"f"`
	Payload    []byte `msgpack:"p"`
	Compressed bool   `msgpack:"z"`
}

// NewMessage encodes the payload into a message with a fresh id. Large
// payloads are compressed.
func NewMessage(from string, code Code, payload any) (Message, error) {
	if !code.Valid() {
		return Message{}, ErrUnknownCode
	}

	data, err := msgpack.Marshal(payload)
	if err != nil {
		return Message{}, errors.Wrapf(err, "encoding %s payload", code)
	}

	msg := Message{
		ID:      uuid.NewString(),
		Code:    code,
		From:    from,
		Payload: data,
	}

	if len(data) > compressThreshold {
		msg.Payload = encoder.EncodeAll(data, nil)
		msg.Compressed = true
	}

	return msg, nil
}

// Decode unpacks the payload into the value and validates it.
func (m Message) Decode(v any) error {
	data := m.Payload
	if m.Compressed {
		var err error
		if data, err = decoder.DecodeAll(m.Payload, nil); err != nil {
			return errors.Wrapf(err, "decompressing %s payload", m.Code)
		}
	}

	if err := msgpack.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "decoding %s payload", m.Code)
	}

	if err := validate.Struct(v); err != nil {
		return errors.Wrapf(err, "validating %s payload", m.Code)
	}

	return nil
}

// Bytes returns the wire form of the message.
func (m Message) Bytes() ([]byte, error) {
	data, err := msgpack.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "encoding message")
	}
	return data, nil
}

// FromBytes rebuilds a message from its wire form.
func FromBytes(data []byte) (Message, error) {
	var m Message
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return Message{}, errors.Wrap(err, "decoding message")
	}

	if !m.Code.Valid() {
		return Message{}, errors.Wrapf(ErrUnknownCode, "code %d", m.Code)
	}

	return m, nil
}
