package public

import (
	"github.com/ardanlabs/dlt/foundation/blockchain/block"
	"github.com/ardanlabs/dlt/foundation/blockchain/signature"
	"github.com/ardanlabs/dlt/foundation/blockchain/state"
	"github.com/ardanlabs/dlt/foundation/blockchain/transaction"
	"github.com/ardanlabs/dlt/foundation/blockchain/wallet"
)

type status struct {
	Host                string `json:"host"`
	Address             string `json:"address"`
	Mode                string `json:"mode"`
	Processor           string `json:"processor"`
	Sync                string `json:"sync"`
	SyncTarget          uint64 `json:"sync_target,omitempty"`
	Height              uint64 `json:"height"`
	FirstHeight         uint64 `json:"first_height"`
	Checksum            string `json:"checksum"`
	WalletStateChecksum string `json:"wallet_state_checksum"`
	RequiredQuorum      int    `json:"required_quorum"`
	PoolSize            int    `json:"pool_size"`
	Wallets             int    `json:"wallets"`
	Peers               int    `json:"peers"`
}

func toStatus(s state.Status) status {
	return status{
		Host:                s.Host,
		Address:             s.Address,
		Mode:                s.Mode.String(),
		Processor:           s.Processor.String(),
		Sync:                s.Sync.String(),
		SyncTarget:          s.SyncTarget,
		Height:              s.Height,
		FirstHeight:         s.FirstHeight,
		Checksum:            s.Checksum,
		WalletStateChecksum: s.WalletStateChecksum,
		RequiredQuorum:      s.RequiredQuorum,
		PoolSize:            s.PoolSize,
		Wallets:             s.Wallets,
		Peers:               s.Peers,
	}
}

type blk struct {
	Height                  uint64   `json:"height"`
	Version                 uint32   `json:"version"`
	Checksum                string   `json:"checksum"`
	PredecessorChecksum     string   `json:"predecessor_checksum"`
	AccountStateChecksum    string   `json:"account_state_checksum"`
	SignatureFreezeChecksum string   `json:"signature_freeze_checksum"`
	Difficulty              uint64   `json:"difficulty"`
	Timestamp               int64    `json:"timestamp"`
	Transactions            []string `json:"transactions"`
	Signers                 []string `json:"signers"`
}

func toBlock(b *block.Block) blk {
	return blk{
		Height:                  b.Height,
		Version:                 b.Version,
		Checksum:                signature.Hex(b.Checksum),
		PredecessorChecksum:     signature.Hex(b.PredecessorChecksum),
		AccountStateChecksum:    signature.Hex(b.AccountStateChecksum),
		SignatureFreezeChecksum: signature.Hex(b.SignatureFreezeChecksum),
		Difficulty:              b.Difficulty,
		Timestamp:               b.Timestamp,
		Transactions:            b.TransactionIDs,
		Signers:                 b.SignerAddresses(),
	}
}

type wllt struct {
	Address        string   `json:"address"`
	Name           string   `json:"name,omitempty"`
	Balance        uint64   `json:"balance"`
	Nonce          uint64   `json:"nonce"`
	NextNonce      uint64   `json:"next_nonce"`
	Multisig       bool     `json:"multisig"`
	RequiredSigs   uint8    `json:"required_sigs,omitempty"`
	AllowedSigners []string `json:"allowed_signers,omitempty"`
}

func toWallet(w wallet.Wallet, name string) wllt {
	if name == w.Address {
		name = ""
	}

	return wllt{
		Address:        w.Address,
		Name:           name,
		Balance:        w.Balance,
		Nonce:          w.Nonce,
		NextNonce:      w.Nonce + 1,
		Multisig:       w.Type == wallet.TypeMultisig,
		RequiredSigs:   w.RequiredSigs,
		AllowedSigners: w.AllowedSigners,
	}
}

type tx struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	From        string            `json:"from"`
	To          map[string]uint64 `json:"to,omitempty"`
	Fee         uint64            `json:"fee"`
	BlockHeight uint64            `json:"block_height"`
	Nonce       uint64            `json:"nonce"`
	Applied     uint64            `json:"applied,omitempty"`
}

func toTx(t *transaction.Transaction) tx {
	return tx{
		ID:          t.ID,
		Type:        t.Type.String(),
		From:        t.From,
		To:          t.To,
		Fee:         t.Fee,
		BlockHeight: t.BlockHeight,
		Nonce:       t.Nonce,
		Applied:     t.Applied,
	}
}

func toTxs(trans []*transaction.Transaction) []tx {
	out := make([]tx, len(trans))
	for i, t := range trans {
		out[i] = toTx(t)
	}
	return out
}

type peerStatus struct {
	Host      string `json:"host"`
	Height    uint64 `json:"height"`
	Checksum  string `json:"checksum,omitempty"`
	Operating bool   `json:"operating"`
	LastSeen  string `json:"last_seen,omitempty"`
}

// submitTx is a signed transaction in its hex encoded wire form.
type submitTx struct {
	Tx string `json:"tx" validate:"required,hexadecimal"`
}
