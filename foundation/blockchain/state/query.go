package state

import (
	"errors"

	"github.com/ardanlabs/dlt/foundation/blockchain/block"
	"github.com/ardanlabs/dlt/foundation/blockchain/blocksync"
	"github.com/ardanlabs/dlt/foundation/blockchain/peer"
	"github.com/ardanlabs/dlt/foundation/blockchain/processor"
	"github.com/ardanlabs/dlt/foundation/blockchain/signature"
	"github.com/ardanlabs/dlt/foundation/blockchain/transaction"
	"github.com/ardanlabs/dlt/foundation/blockchain/wallet"
)

// QueryLatest represents to query the latest block in the chain.
const QueryLatest = ^uint64(0) >> 1

// ErrNotFound is returned when a queried item is unknown to the node.
var ErrNotFound = errors.New("not found")

// Status is a snapshot of the node.
type Status struct {
	Host                string
	Address             string
	Mode                Mode
	Processor           processor.SubState
	Sync                blocksync.State
	SyncTarget          uint64
	Height              uint64
	FirstHeight         uint64
	Checksum            string
	WalletStateChecksum string
	RequiredQuorum      int
	PoolSize            int
	Wallets             int
	Peers               int
}

// QueryStatus returns a snapshot of the node.
func (s *State) QueryStatus() Status {
	sub, _ := s.processor.State()
	syncState, target := s.sync.State()

	return Status{
		Host:                s.host,
		Address:             s.address,
		Mode:                s.Mode(),
		Processor:           sub,
		Sync:                syncState,
		SyncTarget:          target,
		Height:              s.chain.LastHeight(),
		FirstHeight:         s.chain.FirstHeight(),
		Checksum:            signature.Hex(s.chain.LastChecksum()),
		WalletStateChecksum: signature.Hex(s.wallets.Checksum()),
		RequiredQuorum:      s.chain.RequiredQuorum(),
		PoolSize:            s.pool.Count(),
		Wallets:             s.wallets.Count(),
		Peers:               len(s.network.Peers()),
	}
}

// QueryBlock returns a copy of the block at the height. Heights outside the
// redacted window are read from storage.
func (s *State) QueryBlock(height uint64) (*block.Block, error) {
	if height == QueryLatest {
		height = s.chain.LastHeight()
	}

	if b := s.chain.Block(height); b != nil {
		return b, nil
	}

	b, err := s.storage.Block(height)
	if err != nil {
		return nil, ErrNotFound
	}

	return b, nil
}

// QueryWallet returns the account state of the address. An address the
// ledger never saw has a zero balance and is reported as not found.
func (s *State) QueryWallet(address string) (wallet.Wallet, error) {
	if !signature.IsValidAddress(address) {
		return wallet.Wallet{}, errors.New("invalid address")
	}

	w := s.wallets.Wallet(address)
	if w.Balance == 0 && w.PublicKey == nil && w.Nonce == 0 {
		return wallet.Wallet{}, ErrNotFound
	}

	return w, nil
}

// QueryTransaction returns the transaction from the pool or storage.
func (s *State) QueryTransaction(id string) (*transaction.Transaction, error) {
	tx := s.pool.Get(id)
	if tx == nil {
		return nil, ErrNotFound
	}

	return tx, nil
}

// QueryTransactionsByAddress returns the stored transactions sent from or
// paid to the address.
func (s *State) QueryTransactionsByAddress(address string) ([]*transaction.Transaction, error) {
	if !signature.IsValidAddress(address) {
		return nil, errors.New("invalid address")
	}

	return s.storage.TransactionsByAddress(address)
}

// QueryPool returns the transactions waiting for a block in the order they
// would be placed in one.
func (s *State) QueryPool() []*transaction.Transaction {
	return s.pool.Unapplied()
}

// QueryPeers returns the known peers with their last reported status.
func (s *State) QueryPeers() map[peer.Peer]peer.Status {
	out := make(map[peer.Peer]peer.Status)
	for _, p := range s.knownPeers.Copy(s.host) {
		status, _ := s.knownPeers.Status(p)
		out[p] = status
	}

	return out
}

// Host returns the host this node is reachable at.
func (s *State) Host() string {
	return s.host
}

// Address returns the address of the node signing key.
func (s *State) Address() string {
	return s.address
}

// KnownPeers returns the set of peers this node tracks.
func (s *State) KnownPeers() *peer.PeerSet {
	return s.knownPeers
}
