package txpool

import (
	"fmt"
	"sort"

	"github.com/ardanlabs/dlt/foundation/blockchain/transaction"
)

// List of different select strategies.
const (
	StrategyNonce = "nonce"
	StrategyFee   = "fee"
)

// Map of different select strategies with functions.
var strategies = map[string]SelectFunc{
	StrategyNonce: nonceSelect,
	StrategyFee:   feeSelect,
}

// SelectFunc defines a function that takes the unapplied transactions grouped
// by sender and returns them in the order they should be placed in a block.
// All selector functions MUST respect nonce ordering per sender and MUST be
// deterministic.
type SelectFunc func(transactions map[string][]*transaction.Transaction) []*transaction.Transaction

// RetrieveStrategy returns the specified select strategy function.
func RetrieveStrategy(strategy string) (SelectFunc, error) {
	fn, exists := strategies[strategy]
	if !exists {
		return nil, fmt.Errorf("strategy %q does not exist", strategy)
	}
	return fn, nil
}

// =============================================================================

// nonceSelect orders all transactions by nonce then id.
var nonceSelect = func(m map[string][]*transaction.Transaction) []*transaction.Transaction {
	var final []*transaction.Transaction
	for _, txs := range m {
		final = append(final, txs...)
	}

	sort.Sort(byNonce(final))

	return final
}

// feeSelect returns the transactions with the best fee first while
// respecting the nonce for each sender.
var feeSelect = func(m map[string][]*transaction.Transaction) []*transaction.Transaction {

	// Sort the transactions per sender by nonce.
	for key := range m {
		if len(m[key]) > 1 {
			sort.Sort(byNonce(m[key]))
		}
	}

	// Pick the first transaction in the slice for each sender. Each iteration
	// represents a new row of selections.
	var rows [][]*transaction.Transaction
	for {
		var row []*transaction.Transaction
		for key := range m {
			if len(m[key]) > 0 {
				row = append(row, m[key][0])
				m[key] = m[key][1:]
			}
		}
		if row == nil {
			break
		}
		rows = append(rows, row)
	}

	// Sort each row by fee and take them all in row order.
	var final []*transaction.Transaction
	for _, row := range rows {
		sort.Sort(byFee(row))
		final = append(final, row...)
	}

	return final
}

// =============================================================================

// byNonce provides sorting support by the transaction nonce value.
type byNonce []*transaction.Transaction

// Len returns the number of transactions in the list.
func (bn byNonce) Len() int {
	return len(bn)
}

// Less helps to sort the list by nonce in ascending order to keep the
// transactions in the right order of processing. Ties break on the id so
// every node produces the same order.
func (bn byNonce) Less(i, j int) bool {
	if bn[i].Nonce != bn[j].Nonce {
		return bn[i].Nonce < bn[j].Nonce
	}
	return bn[i].ID < bn[j].ID
}

// Swap moves transactions in the order of the nonce value.
func (bn byNonce) Swap(i, j int) {
	bn[i], bn[j] = bn[j], bn[i]
}

// =============================================================================

// byFee provides sorting support by the transaction fee value.
type byFee []*transaction.Transaction

// Len returns the number of transactions in the list.
func (bf byFee) Len() int {
	return len(bf)
}

// Less helps to sort the list by fee in descending order to pick the
// transactions that provide the best reward.
func (bf byFee) Less(i, j int) bool {
	if bf[i].Fee != bf[j].Fee {
		return bf[i].Fee > bf[j].Fee
	}
	return bf[i].ID < bf[j].ID
}

// Swap moves transactions in the order of the fee value.
func (bf byFee) Swap(i, j int) {
	bf[i], bf[j] = bf[j], bf[i]
}
