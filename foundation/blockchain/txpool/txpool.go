// Package txpool maintains the transactions known to the node, validates
// incoming transactions and applies the transactions of a block to the
// account state.
package txpool

import (
	"slices"
	"sync"

	"github.com/ardanlabs/dlt/foundation/blockchain/block"
	"github.com/ardanlabs/dlt/foundation/blockchain/transaction"
	"github.com/ardanlabs/dlt/foundation/blockchain/wallet"
	"go.uber.org/zap"
)

// Chain interface represents the view of the committed chain the pool needs.
type Chain interface {
	LastHeight() uint64
	Block(height uint64) *block.Block
	SetPowField(height uint64, powField []byte) bool
	RedactedWindow() uint64
}

// Storage interface represents the persistence the pool needs.
type Storage interface {
	InsertTransaction(tx *transaction.Transaction)
	Transaction(id string) (*transaction.Transaction, error)
}

// Config represents the configuration required to construct the pool.
type Config struct {
	Chain         Chain
	Wallets       *wallet.State
	Storage       Storage
	Log           *zap.SugaredLogger
	MinFee        uint64
	PowReward     uint64
	StakingReward uint64
	Strategy      string
	Synchronizing func() bool
	Broadcast     func(tx *transaction.Transaction)
}

// Pool represents the transactions known to the node keyed by id.
type Pool struct {
	mu            sync.RWMutex
	txs           map[string]*transaction.Transaction
	applyMu       sync.Mutex
	chain         Chain
	wallets       *wallet.State
	storage       Storage
	log           *zap.SugaredLogger
	minFee        uint64
	powReward     uint64
	stakingReward uint64
	selectFn      SelectFunc
	synchronizing func() bool
	broadcast     func(tx *transaction.Transaction)
}

// New constructs a transaction pool.
func New(cfg Config) (*Pool, error) {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyNonce
	}

	selectFn, err := RetrieveStrategy(cfg.Strategy)
	if err != nil {
		return nil, err
	}

	if cfg.Log == nil {
		cfg.Log = zap.NewNop().Sugar()
	}
	if cfg.Synchronizing == nil {
		cfg.Synchronizing = func() bool { return false }
	}

	p := Pool{
		txs:           make(map[string]*transaction.Transaction),
		chain:         cfg.Chain,
		wallets:       cfg.Wallets,
		storage:       cfg.Storage,
		log:           cfg.Log,
		minFee:        cfg.MinFee,
		powReward:     cfg.PowReward,
		stakingReward: cfg.StakingReward,
		selectFn:      selectFn,
		synchronizing: cfg.Synchronizing,
		broadcast:     cfg.Broadcast,
	}

	return &p, nil
}

// =============================================================================

// Add validates the transaction and places it into the pool. Validation is
// skipped while synchronizing since the blocks citing the transaction are
// verified instead. When broadcast is set the transaction is relayed to
// the network.
func (p *Pool) Add(tx *transaction.Transaction, broadcast bool) error {
	if !p.synchronizing() {
		if err := p.Validate(tx); err != nil {
			return err
		}
	}

	// The applied height is local bookkeeping of the sender.
	if tx.Applied != 0 {
		tx = tx.Copy()
		tx.Applied = 0
	}

	if !p.insert(tx) {
		return ErrDuplicate
	}

	p.log.Debugw("txpool: Add", "id", tx.ID, "type", tx.Type, "from", tx.From)

	if broadcast && p.broadcast != nil {
		p.broadcast(tx.Copy())
	}

	return nil
}

// Get returns a copy of the transaction from the pool or from storage. It
// returns nil when the transaction is unknown.
func (p *Pool) Get(id string) *transaction.Transaction {
	p.mu.RLock()
	if tx, exists := p.txs[id]; exists {
		cp := tx.Copy()
		p.mu.RUnlock()
		return cp
	}
	p.mu.RUnlock()

	if p.storage == nil {
		return nil
	}

	tx, err := p.storage.Transaction(id)
	if err != nil {
		return nil
	}

	return tx
}

// Has reports whether the pool holds the transaction.
func (p *Pool) Has(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	_, exists := p.txs[id]
	return exists
}

// Missing returns the ids that can't be resolved locally.
func (p *Pool) Missing(ids []string) []string {
	var missing []string
	for _, id := range ids {
		if p.Has(id) {
			continue
		}
		if p.storage != nil {
			if _, err := p.storage.Transaction(id); err == nil {
				continue
			}
		}
		missing = append(missing, id)
	}

	return missing
}

// Unapplied returns copies of the transactions not yet applied by any block
// in the order they should be placed in a block. Staking rewards are left
// out since they are generated for every block.
func (p *Pool) Unapplied() []*transaction.Transaction {
	m := make(map[string][]*transaction.Transaction)

	p.mu.RLock()
	{
		for _, tx := range p.txs {
			if tx.Applied != 0 || tx.Type == transaction.TypeStakingReward {
				continue
			}
			m[tx.From] = append(m[tx.From], tx.Copy())
		}
	}
	p.mu.RUnlock()

	return p.selectFn(m)
}

// Remove drops the transaction from the pool.
func (p *Pool) Remove(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, exists := p.txs[id]
	delete(p.txs, id)

	return exists
}

// Count returns the current number of transactions in the pool.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.txs)
}

// Clear removes all the transactions from the pool.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.txs = make(map[string]*transaction.Transaction)
}

// Redact drops applied transactions that fell out of the redacted window
// and unapplied transactions whose height hint is too old to ever be
// accepted. It returns the number removed.
func (p *Pool) Redact(lastHeight uint64) int {
	window := p.chain.RedactedWindow()
	if lastHeight <= window {
		return 0
	}
	minHeight := lastHeight - window

	p.mu.Lock()
	defer p.mu.Unlock()

	var removed int
	for id, tx := range p.txs {
		switch {
		case tx.Applied != 0 && tx.Applied < minHeight:
		case tx.Applied == 0 && tx.BlockHeight < minHeight:
		default:
			continue
		}
		delete(p.txs, id)
		removed++
	}

	if removed > 0 {
		p.log.Infow("txpool: Redact", "removed", removed, "minHeight", minHeight)
	}

	return removed
}

// =============================================================================

// SetAppliedFlag marks the transaction as applied at the height. For a
// multisig origin the co-signatures linked to it are marked too. It is
// idempotent and returns false when the transaction is unknown.
func (p *Pool) SetAppliedFlag(id string, height uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.setAppliedLocked(id, height)
}

// SetAppliedFlagToTransactionsFromBlock marks every transaction of the
// block as applied at the block height without touching the account
// state. It is used for blocks already reflected in a transferred state.
func (p *Pool) SetAppliedFlagToTransactionsFromBlock(b *block.Block) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	var marked int
	for _, id := range b.TransactionIDs {
		if p.setAppliedLocked(id, b.Height) {
			marked++
		}
	}

	return marked
}

// =============================================================================

// insert places the transaction into the pool and storage unless it is
// already known.
func (p *Pool) insert(tx *transaction.Transaction) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.txs[tx.ID]; exists {
		return false
	}

	cp := tx.Copy()
	p.txs[tx.ID] = cp

	if p.storage != nil {
		p.storage.InsertTransaction(cp.Copy())
	}

	return true
}

// lookup returns the pool entry or loads it from storage into the pool.
func (p *Pool) lookup(id string) *transaction.Transaction {
	p.mu.RLock()
	tx, exists := p.txs[id]
	p.mu.RUnlock()

	if exists {
		return tx
	}

	if p.storage == nil {
		return nil
	}

	stored, err := p.storage.Transaction(id)
	if err != nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if tx, exists := p.txs[id]; exists {
		return tx
	}
	p.txs[id] = stored

	return stored
}

func (p *Pool) setAppliedLocked(id string, height uint64) bool {
	tx, exists := p.txs[id]
	if !exists {
		return false
	}

	if tx.Applied == 0 {
		tx.Applied = height
		if p.storage != nil {
			p.storage.InsertTransaction(tx.Copy())
		}
	}

	if op, ok := tx.Multisig(); ok && op.IsOrigin() {
		for _, cosign := range p.cosignsLocked(tx) {
			if cosign.Applied == 0 {
				cosign.Applied = height
				if p.storage != nil {
					p.storage.InsertTransaction(cosign.Copy())
				}
			}
		}
	}

	return true
}

// cosignsLocked returns the pool transactions that co-sign the origin with
// the same operation, ordered by id.
func (p *Pool) cosignsLocked(origin *transaction.Transaction) []*transaction.Transaction {
	originOp, _ := origin.Multisig()

	var cosigns []*transaction.Transaction
	for _, tx := range p.txs {
		op, ok := tx.Multisig()
		if !ok || op.OrigTxID != origin.ID {
			continue
		}
		if !sameContent(origin, tx, originOp, op) {
			continue
		}
		cosigns = append(cosigns, tx)
	}

	slices.SortFunc(cosigns, func(a, b *transaction.Transaction) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})

	return cosigns
}

// sameContent reports whether the co-signature asks for exactly what the
// origin asks for.
func sameContent(origin, cosign *transaction.Transaction, originOp, op transaction.MultisigOp) bool {
	if origin.Type != cosign.Type || origin.From != cosign.From || !originOp.SameOperation(op) {
		return false
	}

	if origin.Type == transaction.TypeMultisigTX {
		if len(origin.To) != len(cosign.To) {
			return false
		}
		for addr, amount := range origin.To {
			if cosign.To[addr] != amount {
				return false
			}
		}
	}

	return true
}
