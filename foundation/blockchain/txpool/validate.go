package txpool

import (
	"errors"
	"fmt"

	"github.com/ardanlabs/dlt/foundation/blockchain/safemath"
	"github.com/ardanlabs/dlt/foundation/blockchain/signature"
	"github.com/ardanlabs/dlt/foundation/blockchain/transaction"
	"github.com/ardanlabs/dlt/foundation/blockchain/wallet"
)

// Set of error variables for transaction validation.
var (
	ErrDuplicate          = errors.New("transaction already in the pool")
	ErrGenesisClosed      = errors.New("genesis transactions are no longer accepted")
	ErrNetworkMinted      = errors.New("transaction type is minted by the network")
	ErrHeightOutOfRange   = errors.New("transaction height is out of range")
	ErrZeroAmount         = errors.New("transaction amount is zero")
	ErrAmountOverflow     = errors.New("transaction amount overflows")
	ErrChecksum           = errors.New("transaction checksum mismatch")
	ErrInvalidAddress     = errors.New("invalid address")
	ErrSelfTransfer       = errors.New("transaction sends to its own address")
	ErrInsufficientFee    = errors.New("insufficient fee")
	ErrOverspend          = errors.New("insufficient balance")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrInvalidMultisig    = errors.New("invalid multisig transaction")
	ErrNotAllowedSigner   = errors.New("signer is not allowed for the wallet")
	ErrOriginMismatch     = errors.New("co-signature does not match its origin")
	ErrInvalidPoWSolution = errors.New("invalid proof of work solution")
)

// genesisHeight is the last height that accepts genesis transactions.
const genesisHeight = 10

// heightLookahead is how far ahead of the chain a transaction height hint
// may be.
const heightLookahead = 5

// Validate checks the transaction can be placed into the pool. The balance
// check is skipped while synchronizing since the account state isn't
// authoritative yet.
func (p *Pool) Validate(tx *transaction.Transaction) error {
	if p.Has(tx.ID) {
		return ErrDuplicate
	}

	lastHeight := p.chain.LastHeight()

	switch tx.Type {
	case transaction.TypeGenesis:
		if lastHeight >= genesisHeight {
			return ErrGenesisClosed
		}
	case transaction.TypeStakingReward:
		return ErrNetworkMinted
	}

	window := p.chain.RedactedWindow()
	if tx.BlockHeight > lastHeight+heightLookahead || (lastHeight > window && tx.BlockHeight < lastHeight-window) {
		return fmt.Errorf("%w: height %d, chain %d", ErrHeightOutOfRange, tx.BlockHeight, lastHeight)
	}

	amount, err := tx.Amount()
	if err != nil {
		return ErrAmountOverflow
	}
	if amount == 0 && tx.Type != transaction.TypeChangeMultisigWallet && tx.Type != transaction.TypePoWSolution {
		return ErrZeroAmount
	}

	if !tx.VerifyChecksum() {
		return ErrChecksum
	}

	if !signature.IsValidAddress(tx.From) {
		return fmt.Errorf("%w: from %q", ErrInvalidAddress, tx.From)
	}
	for addr := range tx.To {
		if !signature.IsValidAddress(addr) {
			return fmt.Errorf("%w: to %q", ErrInvalidAddress, addr)
		}
		if addr == tx.From {
			return ErrSelfTransfer
		}
	}

	if tx.Type == transaction.TypeGenesis {
		if tx.From != transaction.NetworkAddress {
			return fmt.Errorf("%w: genesis from %s", ErrInvalidAddress, tx.From)
		}
		return nil
	}

	if tx.Fee < p.minFee && tx.Type != transaction.TypePoWSolution {
		return fmt.Errorf("%w: got %d, min %d", ErrInsufficientFee, tx.Fee, p.minFee)
	}

	w := p.wallets.Wallet(tx.From)

	if !p.synchronizing() {
		spend := tx.Fee
		if tx.Type == transaction.TypeNormal || isMultisigOrigin(tx) {
			if spend, err = safemath.Add(amount, tx.Fee); err != nil {
				return ErrAmountOverflow
			}
		}
		if w.Balance < spend {
			return fmt.Errorf("%w: balance %d, spend %d", ErrOverspend, w.Balance, spend)
		}
	}

	signer, err := p.verifySignature(tx, w)
	if err != nil {
		return err
	}

	switch tx.Type {
	case transaction.TypeMultisigTX, transaction.TypeChangeMultisigWallet:
		return p.validateMultisig(tx, w, signer)

	case transaction.TypePoWSolution:
		return p.validatePoW(tx)
	}

	return nil
}

// =============================================================================

// verifySignature checks the signature with the embedded public key or the
// key recorded for the sender and returns the signer address.
func (p *Pool) verifySignature(tx *transaction.Transaction, w wallet.Wallet) (string, error) {
	if len(tx.Signature) == 0 {
		return "", ErrInvalidSignature
	}

	signer := tx.From
	if len(tx.PublicKey) != 0 {
		var err error
		if signer, err = tx.SignerAddress(); err != nil {
			return "", ErrInvalidSignature
		}
	}

	if !tx.IsMultisig() && signer != tx.From {
		return "", fmt.Errorf("%w: signed by %s", ErrInvalidSignature, signer)
	}

	if !tx.VerifySignature(w.PublicKey) {
		return "", ErrInvalidSignature
	}

	return signer, nil
}

func (p *Pool) validateMultisig(tx *transaction.Transaction, w wallet.Wallet, signer string) error {
	op, ok := tx.Multisig()
	if !ok {
		return ErrInvalidMultisig
	}
	if err := op.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMultisig, err)
	}

	if !w.IsSigner(signer) {
		return fmt.Errorf("%w: %s", ErrNotAllowedSigner, signer)
	}

	if w.Type != wallet.TypeMultisig && op.Kind != transaction.MultisigAddSigner {
		return fmt.Errorf("%w: %s on a normal wallet", ErrInvalidMultisig, op.Kind)
	}

	if op.IsOrigin() {
		return nil
	}

	origin := p.Get(op.OrigTxID)
	if origin == nil {
		return fmt.Errorf("%w: unknown origin %s", ErrInvalidMultisig, op.OrigTxID)
	}

	originOp, ok := origin.Multisig()
	if !ok || !originOp.IsOrigin() || !sameContent(origin, tx, originOp, op) {
		return ErrOriginMismatch
	}

	if originSigner, err := origin.SignerAddress(); err == nil && originSigner == signer {
		return fmt.Errorf("%w: origin signer can't co-sign", ErrOriginMismatch)
	}

	return nil
}

func (p *Pool) validatePoW(tx *transaction.Transaction) error {
	sol, ok := tx.PoW()
	if !ok {
		return ErrInvalidPoWSolution
	}

	b := p.chain.Block(sol.BlockHeight)
	if b == nil || len(b.PowField) != 0 {
		return fmt.Errorf("%w: block %d can't be mined", ErrInvalidPoWSolution, sol.BlockHeight)
	}

	if !transaction.VerifyPoWNonce(sol.Nonce, sol.BlockHeight, tx.From, b.Difficulty) {
		return ErrInvalidPoWSolution
	}

	return nil
}

func isMultisigOrigin(tx *transaction.Transaction) bool {
	op, ok := tx.Multisig()
	return ok && tx.Type == transaction.TypeMultisigTX && op.IsOrigin()
}
