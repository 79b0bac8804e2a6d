// Package wallet maintains the account-state view: balances, public keys and
// multisig settings for every address known to the ledger.
package wallet

import (
	"encoding/binary"
	"slices"
	"sort"

	"github.com/ardanlabs/dlt/foundation/blockchain/signature"
)

// Type identifies how spending from a wallet is authorized.
type Type uint8

// Set of wallet types.
const (
	TypeNormal Type = iota
	TypeMultisig
)

// Wallet is the account-state entry of a single address.
type Wallet struct {
	Address        string   `msgpack:"a"`
	Balance        uint64   `msgpack:"b"`
	PublicKey      []byte   `msgpack:"pk,omitempty"`
	Nonce          uint64   `msgpack:"n,omitempty"`
	Type           Type     `msgpack:"t,omitempty"`
	RequiredSigs   uint8    `msgpack:"r,omitempty"`
	AllowedSigners []string `msgpack:"s,omitempty"`
}

// IsSigner reports whether the address may sign for this wallet. The owner
// of the wallet address is always a signer.
func (w Wallet) IsSigner(address string) bool {
	return address == w.Address || slices.Contains(w.AllowedSigners, address)
}

// Threshold returns the number of distinct signers required to spend from
// or change the wallet.
func (w Wallet) Threshold() int {
	if w.Type != TypeMultisig || w.RequiredSigs == 0 {
		return 1
	}
	return int(w.RequiredSigs)
}

// Checksum returns the checksum of the wallet entry.
func (w Wallet) Checksum() []byte {
	var buf []byte
	buf = append(buf, signature.AddressBytes(w.Address)...)
	buf = binary.LittleEndian.AppendUint64(buf, w.Balance)
	buf = binary.LittleEndian.AppendUint64(buf, w.Nonce)
	buf = append(buf, byte(w.Type), w.RequiredSigs)

	signers := slices.Clone(w.AllowedSigners)
	sort.Strings(signers)
	for _, s := range signers {
		buf = append(buf, signature.AddressBytes(s)...)
	}

	return signature.Hash(buf, w.PublicKey)
}

// Copy returns a deep copy of the wallet.
func (w Wallet) Copy() Wallet {
	w.PublicKey = slices.Clone(w.PublicKey)
	w.AllowedSigners = slices.Clone(w.AllowedSigners)
	return w
}

// =============================================================================

// checksumSeed starts the chained checksum over all wallets.
var checksumSeed = []byte("DLT-WALLETSTATE")

// checksum chains the wallet checksums in address order.
func checksum(addrs []string, get func(string) Wallet) []byte {
	sort.Strings(addrs)

	sum := signature.Hash(checksumSeed)
	for _, addr := range addrs {
		sum = signature.Hash(sum, get(addr).Checksum())
	}

	return sum
}
