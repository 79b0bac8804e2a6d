package transaction

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// wire is the form used to send and store transactions.
type wire struct {
	ID          string   `msgpack:"id"`
	Type        Type     `msgpack:"t"`
	From        string   `msgpack:"f"`
	To          []Output `msgpack:"to"`
	Fee         uint64   `msgpack:"fe"`
	BlockHeight uint64   `msgpack:"h"`
	Nonce       uint64   `msgpack:"n"`
	Payload     []byte   `msgpack:"d"`
	PublicKey   []byte   `msgpack:"pk"`
	Signature   []byte   `msgpack:"sig"`
	Checksum    []byte   `msgpack:"cs"`
	Applied     uint64   `msgpack:"ap"`
}

// Bytes returns the wire form of the transaction.
func (tx *Transaction) Bytes() ([]byte, error) {
	payload, err := encodePayload(tx.Payload)
	if err != nil {
		return nil, err
	}

	w := wire{
		ID:          tx.ID,
		Type:        tx.Type,
		From:        tx.From,
		To:          tx.Outputs(),
		Fee:         tx.Fee,
		BlockHeight: tx.BlockHeight,
		Nonce:       tx.Nonce,
		Payload:     payload,
		PublicKey:   tx.PublicKey,
		Signature:   tx.Signature,
		Checksum:    tx.Checksum,
		Applied:     tx.Applied,
	}

	return msgpack.Marshal(w)
}

// Decode rebuilds a transaction from its wire form. The payload is decoded
// into the variant implied by the transaction type.
func Decode(data []byte) (*Transaction, error) {
	var w wire
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decoding transaction: %w", err)
	}

	payload, err := decodePayload(w.Type, w.Payload)
	if err != nil {
		return nil, err
	}

	to := make(map[string]uint64, len(w.To))
	for _, out := range w.To {
		if _, exists := to[out.Address]; exists {
			return nil, fmt.Errorf("decoding transaction: duplicate recipient %s", out.Address)
		}
		to[out.Address] = out.Amount
	}

	tx := Transaction{
		ID:          w.ID,
		Type:        w.Type,
		From:        w.From,
		To:          to,
		Fee:         w.Fee,
		BlockHeight: w.BlockHeight,
		Nonce:       w.Nonce,
		Payload:     payload,
		PublicKey:   w.PublicKey,
		Signature:   w.Signature,
		Checksum:    w.Checksum,
		Applied:     w.Applied,
	}

	return &tx, nil
}
