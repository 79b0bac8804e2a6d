package processor

import (
	"errors"

	"github.com/ardanlabs/dlt/foundation/blockchain/block"
	"github.com/ardanlabs/dlt/foundation/blockchain/chain"
	"github.com/ardanlabs/dlt/foundation/blockchain/protocol"
	"github.com/ardanlabs/dlt/foundation/blockchain/safemath"
	"github.com/ardanlabs/dlt/foundation/blockchain/signature"
	"github.com/ardanlabs/dlt/foundation/blockchain/transaction"
	"github.com/ardanlabs/dlt/foundation/blockchain/txpool"
)

// VerifyBlock checks a block proposed for the height after the tip.
// Missing transactions make the result Indeterminate and are requested
// from the peer. Overflowing or overspending transaction sets are Invalid.
// Only then is the signature-freeze checksum compared with the local copy
// of the pinned block; a mismatch is Indeterminate and the pinned
// signatures are requested from the peer. Invalid signatures are pruned
// from the block. The account-state checks are skipped when
// skipAccountState is set.
func (p *Processor) VerifyBlock(b *block.Block, from string, skipAccountState bool) Verdict {
	if b.Height == 0 || b.Version > block.Version {
		return p.invalid(b, "unsupported block")
	}

	if !signature.Equal(b.CalculateChecksum(), b.Checksum) {
		return p.invalid(b, "checksum mismatch")
	}

	if last := p.chain.LastHeight(); b.Height == last+1 {
		if tip := p.chain.LastBlock(); tip != nil && !signature.Equal(b.PredecessorChecksum, tip.Checksum) {
			return p.invalid(b, "predecessor mismatch")
		}
	}

	if b.Height > transaction.StakingDelay {
		p.pool.GenerateStakingTransactions(b.Height - transaction.StakingDelay)
	}

	if missing := p.pool.Missing(b.TransactionIDs); len(missing) > 0 {
		p.requestTransactions(b.Height, missing, from)
		p.log.Debugw("processor: VerifyBlock: missing transactions", "height", b.Height, "missing", len(missing))
		return Indeterminate
	}

	txs := make([]*transaction.Transaction, len(b.TransactionIDs))
	for i, id := range b.TransactionIDs {
		if txs[i] = p.pool.Get(id); txs[i] == nil {
			return Indeterminate
		}
	}

	totals, err := senderTotals(txs)
	if err != nil {
		return p.invalid(b, err.Error())
	}

	if !skipAccountState {
		for sender, total := range totals {
			if balance := p.wallets.Balance(sender); total > balance {
				return p.invalid(b, "overspend by "+sender)
			}
		}
	}

	if expected := p.chain.SignatureFreezeChecksum(b.Height); expected != nil && !signature.Equal(expected, b.SignatureFreezeChecksum) {
		frozen := b.Height - chain.SignatureFreezeDepth
		if local := p.chain.Block(frozen); local != nil {
			p.send(from, protocol.CodeGetBlockSignatures, protocol.GetBlockSignatures{Height: frozen, Checksum: local.Checksum})
		}
		p.log.Infow("processor: VerifyBlock: signature freeze mismatch", "height", b.Height)
		return Indeterminate
	}

	if dropped := b.VerifySignatures(p.wallets.PublicKey); dropped > 0 {
		p.log.Infow("processor: VerifyBlock: dropped invalid signatures", "height", b.Height, "dropped", dropped)
	}
	if b.SignatureCount() == 0 {
		return p.invalid(b, "no valid signatures")
	}

	if skipAccountState {
		return Valid
	}

	delta, err := p.pool.ApplyTransactionsFromBlock(b, true)
	switch {
	case errors.Is(err, txpool.ErrUnknownTransaction):
		return Indeterminate
	case err != nil:
		return p.invalid(b, err.Error())
	}

	if !signature.Equal(delta.Checksum(), b.AccountStateChecksum) {
		return p.invalid(b, "account state checksum mismatch")
	}

	return Valid
}

// senderTotals sums what every sender spends in the block. Co-signatures
// and wallet changes only spend their fee. Any overflow marks the block as
// malicious.
func senderTotals(txs []*transaction.Transaction) (map[string]uint64, error) {
	totals := make(map[string]uint64)

	for _, tx := range txs {
		if tx.IsNetworkMinted() {
			continue
		}

		spend := tx.Fee
		if tx.Type == transaction.TypeNormal || isSpendingOrigin(tx) {
			amount, err := tx.Amount()
			if err != nil {
				return nil, err
			}
			if spend, err = safemath.Add(amount, tx.Fee); err != nil {
				return nil, err
			}
		}

		total, err := safemath.Add(totals[tx.From], spend)
		if err != nil {
			return nil, err
		}
		totals[tx.From] = total
	}

	return totals, nil
}

func isSpendingOrigin(tx *transaction.Transaction) bool {
	op, ok := tx.Multisig()
	return ok && tx.Type == transaction.TypeMultisigTX && op.IsOrigin()
}

func (p *Processor) invalid(b *block.Block, reason string) Verdict {
	p.log.Infow("processor: VerifyBlock: invalid block", "height", b.Height, "checksum", signature.Hex(b.Checksum), "reason", reason)
	return Invalid
}
