package transaction

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrInvalidPayload is returned when the payload doesn't match the
// transaction type or carries fields of another variant.
var ErrInvalidPayload = errors.New("invalid payload")

// Payload is the type specific data carried by a transaction. The concrete
// type is decided by the transaction type when the transaction is built or
// decoded, so the ledger never inspects raw data at apply time.
type Payload interface {
	payloadType() Type
}

// PoWSolution is the payload of a PoWSolution transaction.
type PoWSolution struct {
	BlockHeight uint64 `msgpack:"h"`
	Nonce       []byte `msgpack:"n"`
}

func (PoWSolution) payloadType() Type { return TypePoWSolution }

// StakingTarget is the payload of a StakingReward transaction. It names the
// block whose signers are being rewarded.
type StakingTarget struct {
	BlockHeight uint64 `msgpack:"h"`
}

func (StakingTarget) payloadType() Type { return TypeStakingReward }

// =============================================================================

// MultisigKind identifies the variant of a multisig operation.
type MultisigKind uint8

// Set of multisig operation variants.
const (
	MultisigCoSign MultisigKind = iota + 1
	MultisigAddSigner
	MultisigRemoveSigner
	MultisigChangeRequiredSigs
)

// String implements the fmt.Stringer interface.
func (k MultisigKind) String() string {
	switch k {
	case MultisigCoSign:
		return "cosign"
	case MultisigAddSigner:
		return "add-signer"
	case MultisigRemoveSigner:
		return "remove-signer"
	case MultisigChangeRequiredSigs:
		return "change-required-sigs"
	}
	return fmt.Sprintf("multisig(%d)", uint8(k))
}

// MultisigOp is the payload of MultisigTX and ChangeMultisigWallet
// transactions. Only the fields of its kind are set. OrigTxID is set when
// the transaction is a co-signature round for an earlier transaction.
type MultisigOp struct {
	Kind         MultisigKind `msgpack:"k"`
	OrigTxID     string       `msgpack:"o,omitempty"`
	Signer       string       `msgpack:"s,omitempty"`
	RequiredSigs uint8        `msgpack:"r,omitempty"`
}

func (op MultisigOp) payloadType() Type {
	if op.Kind == MultisigCoSign {
		return TypeMultisigTX
	}
	return TypeChangeMultisigWallet
}

// CoSign constructs the payload for a multisig send. An empty origin id
// marks the originating transaction.
func CoSign(origTxID string) MultisigOp {
	return MultisigOp{Kind: MultisigCoSign, OrigTxID: origTxID}
}

// AddSigner constructs the payload adding a signer to a multisig wallet.
func AddSigner(signer string, origTxID string) MultisigOp {
	return MultisigOp{Kind: MultisigAddSigner, Signer: signer, OrigTxID: origTxID}
}

// RemoveSigner constructs the payload removing a signer from a multisig wallet.
func RemoveSigner(signer string, origTxID string) MultisigOp {
	return MultisigOp{Kind: MultisigRemoveSigner, Signer: signer, OrigTxID: origTxID}
}

// ChangeRequiredSigs constructs the payload changing the number of required
// signatures of a multisig wallet.
func ChangeRequiredSigs(required uint8, origTxID string) MultisigOp {
	return MultisigOp{Kind: MultisigChangeRequiredSigs, RequiredSigs: required, OrigTxID: origTxID}
}

// IsOrigin reports whether this operation starts a signing round.
func (op MultisigOp) IsOrigin() bool {
	return op.OrigTxID == ""
}

// SameOperation reports whether both operations change the wallet the same
// way, ignoring the origin reference.
func (op MultisigOp) SameOperation(other MultisigOp) bool {
	return op.Kind == other.Kind && op.Signer == other.Signer && op.RequiredSigs == other.RequiredSigs
}

// Validate checks only the fields of the operation's variant are set.
func (op MultisigOp) Validate() error {
	switch op.Kind {
	case MultisigCoSign:
		if op.Signer != "" || op.RequiredSigs != 0 {
			return fmt.Errorf("%w: cosign carries wallet change fields", ErrInvalidPayload)
		}
	case MultisigAddSigner, MultisigRemoveSigner:
		if op.Signer == "" || op.RequiredSigs != 0 {
			return fmt.Errorf("%w: %s requires only a signer", ErrInvalidPayload, op.Kind)
		}
	case MultisigChangeRequiredSigs:
		if op.RequiredSigs == 0 || op.Signer != "" {
			return fmt.Errorf("%w: %s requires only a signature count", ErrInvalidPayload, op.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown multisig kind %d", ErrInvalidPayload, op.Kind)
	}

	return nil
}

// =============================================================================

// encodePayload returns the wire form of the payload.
func encodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	return msgpack.Marshal(p)
}

// decodePayload rebuilds the payload variant implied by the transaction type.
func decodePayload(typ Type, data []byte) (Payload, error) {
	switch typ {
	case TypeGenesis, TypeNormal:
		if len(data) != 0 {
			return nil, fmt.Errorf("%w: %s carries data", ErrInvalidPayload, typ)
		}
		return nil, nil

	case TypePoWSolution:
		var p PoWSolution
		if err := msgpack.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPayload, err)
		}
		return p, nil

	case TypeStakingReward:
		var p StakingTarget
		if err := msgpack.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPayload, err)
		}
		return p, nil

	case TypeMultisigTX, TypeChangeMultisigWallet:
		var p MultisigOp
		if err := msgpack.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPayload, err)
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if p.payloadType() != typ {
			return nil, fmt.Errorf("%w: %s payload on %s", ErrInvalidPayload, p.Kind, typ)
		}
		return p, nil
	}

	return nil, fmt.Errorf("%w: unknown transaction type %d", ErrInvalidPayload, typ)
}
