package protocol

import (
	"github.com/ardanlabs/dlt/foundation/blockchain/wallet"
)

// Hello announces the state of a node to its peers.
type Hello struct {
	Version             uint32 `msgpack:"v" validate:"required"`
	Host                string `msgpack:"h" validate:"required"`
	Height              uint64 `msgpack:"ht"`
	Checksum            []byte `msgpack:"cs"`
	WalletStateChecksum []byte `msgpack:"ws"`
	Operating           bool   `msgpack:"op"`
}

// BlockData carries a block in its wire form. It is used for both new
// candidate blocks and for answers to block requests.
type BlockData struct {
	Block []byte `msgpack:"b" validate:"required"`
}

// NewBlockSignature announces a single signature over a block.
type NewBlockSignature struct {
	Height    uint64 `msgpack:"h" validate:"required"`
	Checksum  []byte `msgpack:"cs" validate:"required"`
	Signature []byte `msgpack:"s" validate:"required"`
	Signer    []byte `msgpack:"sg" validate:"required"`
}

// GetBlockSignatures asks for the signatures a peer holds for a block.
type GetBlockSignatures struct {
	Height   uint64 `msgpack:"h" validate:"required"`
	Checksum []byte `msgpack:"cs" validate:"required"`
}

// SignatureData is a single signature and its signer.
type SignatureData struct {
	Sig    []byte `msgpack:"s" validate:"required"`
	Signer []byte `msgpack:"sg" validate:"required"`
}

// BlockSignatures answers GetBlockSignatures.
type BlockSignatures struct {
	Height     uint64          `msgpack:"h" validate:"required"`
	Checksum   []byte          `msgpack:"cs" validate:"required"`
	Signatures []SignatureData `msgpack:"sigs" validate:"dive"`
}

// GetBlock asks for the block at a height.
type GetBlock struct {
	Height              uint64 `msgpack:"h" validate:"required"`
	IncludeTransactions bool   `msgpack:"tx"`
}

// GetBlockTransactions asks for transactions by id.
type GetBlockTransactions struct {
	Height uint64   `msgpack:"h"`
	IDs    []string `msgpack:"ids" validate:"required,min=1,dive,required"`
}

// SyncWalletState asks for the header of the account state.
type SyncWalletState struct{}

// WalletState describes the account state a peer can transfer.
type WalletState struct {
	Height    uint64 `msgpack:"h" validate:"required"`
	Count     int    `msgpack:"n" validate:"gte=0"`
	ChunkSize int    `msgpack:"cz" validate:"required,gt=0"`
	Checksum  []byte `msgpack:"cs" validate:"required"`
}

// GetWalletStateChunk asks for a single chunk of the account state.
type GetWalletStateChunk struct {
	Height uint64 `msgpack:"h" validate:"required"`
	Index  int    `msgpack:"i" validate:"gte=0"`
}

// WalletStateChunk carries a chunk of the account state.
type WalletStateChunk struct {
	Height  uint64          `msgpack:"h" validate:"required"`
	Index   int             `msgpack:"i" validate:"gte=0"`
	Wallets []wallet.Wallet `msgpack:"w"`
}

// TransactionData carries a transaction in its wire form. It is used for
// both new transactions and for answers to transaction requests.
type TransactionData struct {
	Tx []byte `msgpack:"t" validate:"required"`
}

// TransactionsChunk carries several transactions in their wire form.
type TransactionsChunk struct {
	Txs [][]byte `msgpack:"t" validate:"required,min=1,dive,required"`
}
