// Package genesis maintains access to the genesis file.
package genesis

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/ardanlabs/dlt/foundation/blockchain/signature"
	"github.com/ardanlabs/dlt/foundation/blockchain/transaction"
)

// Genesis represents the genesis file.
type Genesis struct {
	Date     time.Time         `json:"date"`
	ChainID  uint16            `json:"chain_id"` // The chain id represents an unique id for this running instance.
	Balances map[string]uint64 `json:"balances"` // Initial balances credited by the first block.
}

// =============================================================================

// Load opens and consumes the genesis file.
func Load(path string) (Genesis, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}

	var genesis Genesis
	err = json.Unmarshal(content, &genesis)
	if err != nil {
		return Genesis{}, err
	}

	for addr, amount := range genesis.Balances {
		if !signature.IsValidAddress(addr) {
			return Genesis{}, fmt.Errorf("genesis: invalid address %q", addr)
		}
		if amount == 0 {
			return Genesis{}, fmt.Errorf("genesis: zero balance for %s", addr)
		}
	}

	return genesis, nil
}

// Transactions returns the genesis transactions crediting the balances,
// ordered by address.
func (g Genesis) Transactions() []*transaction.Transaction {
	addrs := make([]string, 0, len(g.Balances))
	for addr := range g.Balances {
		addrs = append(addrs, addr)
	}
	slices.Sort(addrs)

	txs := make([]*transaction.Transaction, len(addrs))
	for i, addr := range addrs {
		txs[i] = transaction.NewGenesis(addr, g.Balances[addr])
	}

	return txs
}
