package state

import (
	"errors"

	"github.com/ardanlabs/dlt/foundation/blockchain/transaction"
)

// ErrSynchronizing is returned when the node can't accept transactions
// because it is catching up with the network.
var ErrSynchronizing = errors.New("node is synchronizing")

// SubmitTransaction accepts a transaction from a wallet for inclusion. The
// transaction is validated against the current account state and relayed
// to the network.
func (s *State) SubmitTransaction(tx *transaction.Transaction) error {
	if s.IsSynchronizing() {
		return ErrSynchronizing
	}

	if tx.IsNetworkMinted() {
		return errors.New("network minted transactions can't be submitted")
	}

	if err := s.pool.Add(tx, true); err != nil {
		return err
	}

	s.evHandler("state: submit: tx[%s] type[%s] from[%s]", tx.ID, tx.Type, tx.From)

	return nil
}

// NextNonce returns the nonce the next transaction from the address must
// carry.
func (s *State) NextNonce(address string) uint64 {
	return s.wallets.Wallet(address).Nonce + 1
}
