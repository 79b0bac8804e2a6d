package wallet

import (
	"maps"
	"slices"
)

// Delta is a copy-on-write overlay over a State. Transactions are applied
// to a delta first so a block is either applied completely or not at all,
// and so the resulting account-state checksum can be computed without
// touching the state.
type Delta struct {
	base    *State
	wallets map[string]Wallet
}

// Wallet returns the wallet as seen through the delta.
func (d *Delta) Wallet(address string) Wallet {
	if w, exists := d.wallets[address]; exists {
		return w.Copy()
	}
	return d.base.Wallet(address)
}

// Balance returns the balance as seen through the delta.
func (d *Delta) Balance(address string) uint64 {
	return d.Wallet(address).Balance
}

// SetWallet records the wallet in the delta.
func (d *Delta) SetWallet(w Wallet) {
	d.wallets[w.Address] = w.Copy()
}

// SetWalletBalance records a new balance in the delta.
func (d *Delta) SetWalletBalance(address string, balance uint64) {
	w := d.Wallet(address)
	w.Balance = balance
	d.wallets[address] = w
}

// Len returns the number of wallets changed by the delta.
func (d *Delta) Len() int {
	return len(d.wallets)
}

// Checksum returns the account-state checksum the state would have after
// committing the delta.
func (d *Delta) Checksum() []byte {
	d.base.mu.RLock()
	defer d.base.mu.RUnlock()

	keys := make(map[string]struct{}, len(d.base.wallets)+len(d.wallets))
	for addr := range d.base.wallets {
		keys[addr] = struct{}{}
	}
	for addr := range d.wallets {
		keys[addr] = struct{}{}
	}

	get := func(addr string) Wallet {
		if w, exists := d.wallets[addr]; exists {
			return w
		}
		return d.base.wallets[addr]
	}

	return checksum(slices.Collect(maps.Keys(keys)), get)
}
