package wallet

import (
	"maps"
	"slices"
	"sync"
)

// State is the account-state view of the node.
type State struct {
	mu       sync.RWMutex
	wallets  map[string]Wallet
	checksum []byte
	height   uint64
}

// New constructs an account state holding the specified wallets.
func New(wallets ...Wallet) *State {
	s := State{
		wallets: make(map[string]Wallet, len(wallets)),
	}

	for _, w := range wallets {
		s.wallets[w.Address] = w.Copy()
	}

	return &s
}

// Wallet returns the wallet for the address. Unknown addresses get an
// empty normal wallet.
func (s *State) Wallet(address string) Wallet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.walletLocked(address)
}

// Balance returns the balance of the address.
func (s *State) Balance(address string) uint64 {
	return s.Wallet(address).Balance
}

// PublicKey returns the public key recorded for the address or nil.
func (s *State) PublicKey(address string) []byte {
	return s.Wallet(address).PublicKey
}

// SetWalletBalance sets the balance of the address.
func (s *State) SetWalletBalance(address string, balance uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.walletLocked(address)
	w.Balance = balance
	s.wallets[address] = w
	s.checksum = nil
}

// SetWallet stores the wallet, replacing any previous entry.
func (s *State) SetWallet(w Wallet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.wallets[w.Address] = w.Copy()
	s.checksum = nil
}

// SetPublicKey records the public key of an address the first time the
// address signs something.
func (s *State) SetPublicKey(address string, publicKey []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.walletLocked(address)
	if len(w.PublicKey) != 0 {
		return false
	}

	w.PublicKey = slices.Clone(publicKey)
	s.wallets[address] = w
	s.checksum = nil

	return true
}

// Checksum returns the checksum of the entire account state.
func (s *State) Checksum() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.checksum == nil {
		s.checksum = checksum(slices.Collect(maps.Keys(s.wallets)), s.walletLocked)
	}

	return slices.Clone(s.checksum)
}

// Count returns the number of wallets.
func (s *State) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.wallets)
}

// Clear removes every wallet.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.wallets = make(map[string]Wallet)
	s.checksum = nil
	s.height = 0
}

// Copy returns all the wallets.
func (s *State) Copy() []Wallet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wallets := make([]Wallet, 0, len(s.wallets))
	for _, w := range s.wallets {
		wallets = append(wallets, w.Copy())
	}

	return wallets
}

// =============================================================================

// NewDelta starts an overlay on top of the current state. Changes made to
// the delta are invisible to the state until committed.
func (s *State) NewDelta() *Delta {
	return &Delta{
		base:    s,
		wallets: make(map[string]Wallet),
	}
}

// Commit folds the changes of the delta into the state, which then
// belongs to the block at height.
func (s *State) Commit(d *Delta, height uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for addr, w := range d.wallets {
		s.wallets[addr] = w
	}
	s.checksum = nil
	s.height = height
}

// Height returns the height of the last block folded into the state.
func (s *State) Height() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.height
}

// =============================================================================

func (s *State) walletLocked(address string) Wallet {
	w, exists := s.wallets[address]
	if !exists {
		return Wallet{Address: address}
	}
	return w.Copy()
}
