package txpool

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/ardanlabs/dlt/foundation/blockchain/block"
	"github.com/ardanlabs/dlt/foundation/blockchain/safemath"
	"github.com/ardanlabs/dlt/foundation/blockchain/signature"
	"github.com/ardanlabs/dlt/foundation/blockchain/transaction"
	"github.com/ardanlabs/dlt/foundation/blockchain/wallet"
)

// Set of error variables for applying blocks.
var (
	ErrUnknownTransaction = errors.New("block cites an unknown transaction")
	ErrBlockRejected      = errors.New("block contains failed transactions")
	ErrAlreadyApplied     = errors.New("block contains applied transactions")
	ErrInvalidStaking     = errors.New("invalid staking reward")
)

// RejectedError lists the transactions that failed while applying a block.
type RejectedError struct {
	Height uint64
	IDs    []string
}

// Error implements the error interface.
func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: height %d, ids %v", ErrBlockRejected, e.Height, e.IDs)
}

// Is allows errors.Is to match ErrBlockRejected.
func (e *RejectedError) Is(target error) bool {
	return target == ErrBlockRejected
}

// powRewardCutoff is the last mined height that pays a proof of work reward.
const powRewardCutoff = 5256000

// applyRun carries the bookkeeping of applying a single block.
type applyRun struct {
	block   *block.Block
	cited   map[string]struct{}
	delta   *wallet.Delta
	stakers map[string]struct{}
	miners  map[uint64][]string
	applied map[string]struct{}
	pow     map[uint64][]byte
}

// ApplyTransactionsFromBlock applies the transactions of the block in the
// order they are listed. Every transaction must resolve locally. When any
// transaction fails the whole block is rejected and nothing is applied;
// the failed transactions not applied elsewhere are dropped from the pool.
// In snapshot mode the resulting delta is returned without being committed
// so its checksum can be compared with the block.
func (p *Pool) ApplyTransactionsFromBlock(b *block.Block, isSnapshot bool) (*wallet.Delta, error) {
	txs := make([]*transaction.Transaction, len(b.TransactionIDs))
	for i, id := range b.TransactionIDs {
		tx := p.lookup(id)
		if tx == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTransaction, id)
		}
		txs[i] = tx
	}

	p.applyMu.Lock()
	defer p.applyMu.Unlock()

	run := applyRun{
		block:   b,
		cited:   make(map[string]struct{}, len(b.TransactionIDs)),
		delta:   p.wallets.NewDelta(),
		stakers: make(map[string]struct{}),
		miners:  make(map[uint64][]string),
		applied: make(map[string]struct{}),
		pow:     make(map[uint64][]byte),
	}
	for _, id := range b.TransactionIDs {
		run.cited[id] = struct{}{}
	}

	var failed, alreadyApplied []string
	for _, tx := range txs {
		if p.appliedHeight(tx) != 0 {
			alreadyApplied = append(alreadyApplied, tx.ID)
			continue
		}

		if err := p.applyTransaction(&run, tx); err != nil {
			p.log.Infow("txpool: ApplyTransactionsFromBlock: failed", "height", b.Height, "id", tx.ID, "type", tx.Type, "ERROR", err)
			failed = append(failed, tx.ID)
		}
	}

	if len(failed) > 0 {
		if !isSnapshot {
			for _, id := range failed {
				p.removeUnapplied(id)
			}
		}
		return nil, &RejectedError{Height: b.Height, IDs: failed}
	}

	if len(alreadyApplied) > 0 {
		return nil, fmt.Errorf("%w: height %d, ids %v", ErrAlreadyApplied, b.Height, alreadyApplied)
	}

	if err := p.rewardMiners(&run); err != nil {
		return nil, err
	}

	if isSnapshot {
		return run.delta, nil
	}

	p.wallets.Commit(run.delta, b.Height)

	p.mu.Lock()
	for _, id := range slices.Sorted(maps.Keys(run.applied)) {
		p.setAppliedLocked(id, b.Height)
	}
	p.mu.Unlock()

	for height, powField := range run.pow {
		p.chain.SetPowField(height, powField)
	}

	return run.delta, nil
}

// GenerateStakingTransactions returns the staking rewards for the signers
// of the target block and places them into the pool. Every node generates
// the same transactions for the same target.
func (p *Pool) GenerateStakingTransactions(targetHeight uint64) []*transaction.Transaction {
	if targetHeight == 0 || p.stakingReward == 0 {
		return nil
	}

	b := p.chain.Block(targetHeight)
	if b == nil {
		return nil
	}

	signers := b.SignerAddresses()
	if len(signers) == 0 {
		return nil
	}
	slices.Sort(signers)

	share := p.stakingReward / uint64(len(signers))
	if share == 0 {
		return nil
	}

	txs := make([]*transaction.Transaction, len(signers))
	for i, signer := range signers {
		tx := transaction.NewStakingReward(signer, share, targetHeight)
		p.insert(tx)
		txs[i] = tx
	}

	return txs
}

// =============================================================================

func (p *Pool) applyTransaction(run *applyRun, tx *transaction.Transaction) error {
	switch tx.Type {
	case transaction.TypeGenesis:
		return p.applyGenesis(run, tx)
	case transaction.TypePoWSolution:
		return p.applyPoWSolution(run, tx)
	case transaction.TypeStakingReward:
		return p.applyStaking(run, tx)
	case transaction.TypeMultisigTX, transaction.TypeChangeMultisigWallet:
		return p.applyMultisig(run, tx)
	case transaction.TypeNormal:
		return p.applyNormal(run, tx)
	}

	return fmt.Errorf("unknown transaction type %d", tx.Type)
}

func (p *Pool) applyGenesis(run *applyRun, tx *transaction.Transaction) error {
	if run.block.Height > 1 {
		return ErrGenesisClosed
	}

	if err := credit(run.delta, tx.To); err != nil {
		return err
	}

	run.applied[tx.ID] = struct{}{}
	return nil
}

func (p *Pool) applyPoWSolution(run *applyRun, tx *transaction.Transaction) error {
	sol, ok := tx.PoW()
	if !ok {
		return ErrInvalidPoWSolution
	}

	b := p.chain.Block(sol.BlockHeight)
	if b == nil || len(b.PowField) != 0 {
		return fmt.Errorf("%w: block %d can't be mined", ErrInvalidPoWSolution, sol.BlockHeight)
	}

	if slices.Contains(run.miners[sol.BlockHeight], tx.From) {
		return fmt.Errorf("%w: duplicate solver %s", ErrInvalidPoWSolution, tx.From)
	}

	if !transaction.VerifyPoWNonce(sol.Nonce, sol.BlockHeight, tx.From, b.Difficulty) {
		return ErrInvalidPoWSolution
	}

	if err := debit(run.delta, tx.From, tx.Fee, tx.PublicKey); err != nil {
		return err
	}

	run.miners[sol.BlockHeight] = append(run.miners[sol.BlockHeight], tx.From)
	run.applied[tx.ID] = struct{}{}

	return nil
}

func (p *Pool) applyStaking(run *applyRun, tx *transaction.Transaction) error {
	target, ok := tx.StakingTarget()
	if !ok || run.block.Height <= transaction.StakingDelay || target.BlockHeight != run.block.Height-transaction.StakingDelay {
		return fmt.Errorf("%w: target does not match block %d", ErrInvalidStaking, run.block.Height)
	}

	b := p.chain.Block(target.BlockHeight)
	if b == nil {
		return fmt.Errorf("%w: target block %d not found", ErrInvalidStaking, target.BlockHeight)
	}

	for staker, amount := range tx.To {
		if _, exists := run.stakers[staker]; exists {
			return fmt.Errorf("%w: duplicate staker %s", ErrInvalidStaking, staker)
		}
		if amount == 0 {
			return ErrZeroAmount
		}
		if !b.HasSigner(staker) {
			return fmt.Errorf("%w: %s did not sign block %d", ErrInvalidStaking, staker, target.BlockHeight)
		}
		run.stakers[staker] = struct{}{}
	}

	if err := credit(run.delta, tx.To); err != nil {
		return err
	}

	run.applied[tx.ID] = struct{}{}
	return nil
}

func (p *Pool) applyNormal(run *applyRun, tx *transaction.Transaction) error {
	if tx.Fee < p.minFee {
		return ErrInsufficientFee
	}

	amount, err := tx.Amount()
	if err != nil {
		return ErrAmountOverflow
	}

	total, err := safemath.Add(amount, tx.Fee)
	if err != nil {
		return ErrAmountOverflow
	}

	if err := debit(run.delta, tx.From, total, tx.PublicKey); err != nil {
		return err
	}

	if err := credit(run.delta, tx.To); err != nil {
		return err
	}

	run.applied[tx.ID] = struct{}{}
	return nil
}

// applyMultisig applies the operation of the signing round the transaction
// belongs to once enough distinct signers agreed. Only the origin and the
// co-signatures cited by the block count toward the round, so every node
// reaches the same result whatever else its pool holds. Until then the
// round is left pending without failing the block.
func (p *Pool) applyMultisig(run *applyRun, tx *transaction.Transaction) error {
	op, ok := tx.Multisig()
	if !ok {
		return ErrInvalidMultisig
	}

	origin := tx
	if !op.IsOrigin() {
		origin = p.lookup(op.OrigTxID)
		if origin == nil {
			return nil
		}
	}

	if _, done := run.applied[origin.ID]; done || p.appliedHeight(origin) != 0 {
		return nil
	}
	if _, exists := run.cited[origin.ID]; !exists {
		return nil
	}

	originOp, ok := origin.Multisig()
	if !ok || !originOp.IsOrigin() {
		return ErrInvalidMultisig
	}

	w := run.delta.Wallet(origin.From)

	round := []*transaction.Transaction{origin}
	p.mu.RLock()
	for _, cosign := range p.cosignsLocked(origin) {
		if _, exists := run.cited[cosign.ID]; exists && cosign.Applied == 0 {
			round = append(round, cosign)
		}
	}
	p.mu.RUnlock()

	signers := make(map[string]struct{})
	var fees uint64
	for _, rtx := range round {
		signer, err := rtx.SignerAddress()
		if err != nil || !w.IsSigner(signer) {
			continue
		}
		if _, exists := signers[signer]; exists {
			continue
		}
		signers[signer] = struct{}{}

		if fees, err = safemath.Add(fees, rtx.Fee); err != nil {
			return ErrAmountOverflow
		}
	}

	if len(signers) < w.Threshold() {
		p.log.Debugw("txpool: applyMultisig: pending", "origin", origin.ID, "signers", len(signers), "required", w.Threshold())
		return nil
	}

	switch originOp.Kind {
	case transaction.MultisigCoSign:
		amount, err := origin.Amount()
		if err != nil {
			return ErrAmountOverflow
		}
		total, err := safemath.Add(amount, fees)
		if err != nil {
			return ErrAmountOverflow
		}
		if err := debit(run.delta, origin.From, total, nil); err != nil {
			return err
		}
		if err := credit(run.delta, origin.To); err != nil {
			return err
		}

	default:
		if err := changeWallet(&w, originOp); err != nil {
			return err
		}
		if w.Balance < fees {
			return fmt.Errorf("%w: balance %d, fees %d", ErrOverspend, w.Balance, fees)
		}
		w.Balance -= fees
		run.delta.SetWallet(w)
	}

	for _, rtx := range round {
		run.applied[rtx.ID] = struct{}{}
	}

	return nil
}

// rewardMiners splits the proof of work reward of every block mined in
// this block evenly among its solvers. The miner list is recorded in the
// mined block as its pow field.
func (p *Pool) rewardMiners(run *applyRun) error {
	for _, height := range slices.Sorted(maps.Keys(run.miners)) {
		miners := slices.Clone(run.miners[height])
		slices.Sort(miners)

		run.pow[height] = signature.Hash([]byte("MINERS"), []byte(strings.Join(miners, "")))

		if height > powRewardCutoff || p.powReward == 0 {
			continue
		}

		part := p.powReward / uint64(len(miners))
		if part == 0 {
			continue
		}

		for _, miner := range miners {
			if err := credit(run.delta, map[string]uint64{miner: part}); err != nil {
				return err
			}
		}
	}

	return nil
}

// =============================================================================

// changeWallet applies a wallet change operation. The owner of the wallet
// can't be removed and the threshold must stay reachable.
func changeWallet(w *wallet.Wallet, op transaction.MultisigOp) error {
	switch op.Kind {
	case transaction.MultisigAddSigner:
		if w.IsSigner(op.Signer) {
			return fmt.Errorf("%w: %s is already a signer", ErrInvalidMultisig, op.Signer)
		}
		w.AllowedSigners = append(w.AllowedSigners, op.Signer)
		if w.Type != wallet.TypeMultisig {
			w.Type = wallet.TypeMultisig
			w.RequiredSigs = 1
		}

	case transaction.MultisigRemoveSigner:
		i := slices.Index(w.AllowedSigners, op.Signer)
		if i < 0 {
			return fmt.Errorf("%w: %s is not a removable signer", ErrInvalidMultisig, op.Signer)
		}
		if int(w.RequiredSigs) > len(w.AllowedSigners) {
			return fmt.Errorf("%w: threshold %d would be unreachable", ErrInvalidMultisig, w.RequiredSigs)
		}
		w.AllowedSigners = slices.Delete(w.AllowedSigners, i, i+1)
		if len(w.AllowedSigners) == 0 {
			w.Type = wallet.TypeNormal
			w.RequiredSigs = 0
			w.AllowedSigners = nil
		}

	case transaction.MultisigChangeRequiredSigs:
		if w.Type != wallet.TypeMultisig || int(op.RequiredSigs) > len(w.AllowedSigners)+1 {
			return fmt.Errorf("%w: threshold %d can't be met", ErrInvalidMultisig, op.RequiredSigs)
		}
		w.RequiredSigs = op.RequiredSigs

	default:
		return ErrInvalidMultisig
	}

	return nil
}

// debit takes the amount from the address. The public key of the sender is
// recorded on its first signed spend.
func debit(d *wallet.Delta, address string, amount uint64, publicKey []byte) error {
	w := d.Wallet(address)
	if w.Balance < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrOverspend, address, w.Balance, amount)
	}

	w.Balance -= amount
	w.Nonce++
	if len(w.PublicKey) == 0 && len(publicKey) != 0 {
		w.PublicKey = slices.Clone(publicKey)
	}
	d.SetWallet(w)

	return nil
}

// credit adds the amounts to the recipients in address order.
func credit(d *wallet.Delta, to map[string]uint64) error {
	for _, addr := range slices.Sorted(maps.Keys(to)) {
		balance, err := safemath.Add(d.Balance(addr), to[addr])
		if err != nil {
			return ErrAmountOverflow
		}
		d.SetWalletBalance(addr, balance)
	}

	return nil
}

func (p *Pool) appliedHeight(tx *transaction.Transaction) uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return tx.Applied
}

func (p *Pool) removeUnapplied(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if tx, exists := p.txs[id]; exists && tx.Applied == 0 {
		delete(p.txs, id)
	}
}
