// Package transaction defines the ledger transaction and the rules that make
// a transaction well formed: its checksum, id, signature and payload.
package transaction

import (
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"
	"maps"
	"math/bits"
	"slices"

	"github.com/ardanlabs/dlt/foundation/blockchain/safemath"
	"github.com/ardanlabs/dlt/foundation/blockchain/signature"
	"github.com/vmihailenco/msgpack/v5"
)

// Type identifies what a transaction does to the account state.
type Type uint8

// Set of transaction types.
const (
	TypeNormal Type = iota
	TypePoWSolution
	TypeStakingReward
	TypeGenesis
	TypeMultisigTX
	TypeChangeMultisigWallet
)

// String implements the fmt.Stringer interface.
func (t Type) String() string {
	switch t {
	case TypeNormal:
		return "normal"
	case TypePoWSolution:
		return "pow-solution"
	case TypeStakingReward:
		return "staking-reward"
	case TypeGenesis:
		return "genesis"
	case TypeMultisigTX:
		return "multisig"
	case TypeChangeMultisigWallet:
		return "change-multisig-wallet"
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// NetworkAddress is the source of transactions minted by the network itself,
// such as genesis allocations and staking rewards.
const NetworkAddress = "0x0000000000000000000000000000000000000000"

// Set of error variables for transaction handling.
var (
	ErrNotSigned = errors.New("transaction not signed")
)

// =============================================================================

// Output is a single recipient and amount in canonical form.
type Output struct {
	Address string `msgpack:"a"`
	Amount  uint64 `msgpack:"v"`
}

// Transaction is the unit of change to the account state. It is immutable
// once sealed, except for Applied which records the height of the block
// that applied it (0 means unapplied).
type Transaction struct {
	ID          string
	Type        Type
	From        string
	To          map[string]uint64
	Fee         uint64
	BlockHeight uint64
	Nonce       uint64
	Payload     Payload
	PublicKey   []byte
	Signature   []byte
	Checksum    []byte
	Applied     uint64
}

// New constructs an unsigned transaction.
func New(typ Type, from string, to map[string]uint64, fee uint64, blockHeight uint64, nonce uint64, payload Payload) (*Transaction, error) {
	if payload != nil && payload.payloadType() != typ {
		return nil, fmt.Errorf("%w: payload does not belong to a %s transaction", ErrInvalidPayload, typ)
	}

	tx := Transaction{
		Type:        typ,
		From:        from,
		To:          maps.Clone(to),
		Fee:         fee,
		BlockHeight: blockHeight,
		Nonce:       nonce,
		Payload:     payload,
	}

	return &tx, nil
}

// NewGenesis constructs the sealed transaction crediting an address from
// the genesis allocation.
func NewGenesis(to string, amount uint64) *Transaction {
	tx := Transaction{
		Type: TypeGenesis,
		From: NetworkAddress,
		To:   map[string]uint64{to: amount},
	}
	tx.Seal()

	return &tx
}

// NewStakingReward constructs the sealed staking reward for a signer of the
// target block. Every node builds the same transaction for the same target.
func NewStakingReward(staker string, amount uint64, targetHeight uint64) *Transaction {
	tx := Transaction{
		Type:        TypeStakingReward,
		From:        NetworkAddress,
		To:          map[string]uint64{staker: amount},
		BlockHeight: targetHeight + StakingDelay,
		Payload:     StakingTarget{BlockHeight: targetHeight},
	}
	tx.Seal()

	return &tx
}

// StakingDelay is the number of blocks between a block and the block that
// rewards its signers. Signatures are frozen by then.
const StakingDelay = 6

// NewNormal constructs an unsigned transfer.
func NewNormal(from string, to map[string]uint64, fee uint64, blockHeight uint64, nonce uint64) *Transaction {
	tx, _ := New(TypeNormal, from, to, fee, blockHeight, nonce, nil)
	return tx
}

// NewMultisig constructs an unsigned transfer from a multisig wallet. An
// empty origin id starts the signing round, otherwise the transaction
// co-signs the origin.
func NewMultisig(from string, to map[string]uint64, fee uint64, blockHeight uint64, nonce uint64, origTxID string) *Transaction {
	tx, _ := New(TypeMultisigTX, from, to, fee, blockHeight, nonce, CoSign(origTxID))
	return tx
}

// NewChangeMultisig constructs an unsigned change to the signer settings of
// the wallet.
func NewChangeMultisig(from string, op MultisigOp, fee uint64, blockHeight uint64, nonce uint64) (*Transaction, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}
	if op.Kind == MultisigCoSign {
		return nil, fmt.Errorf("%w: cosign is not a wallet change", ErrInvalidPayload)
	}

	return New(TypeChangeMultisigWallet, from, nil, fee, blockHeight, nonce, op)
}

// NewPoWSolution constructs an unsigned proof of work submission by the
// solver for the specified block.
func NewPoWSolution(solver string, fee uint64, blockHeight uint64, nonce uint64, solution PoWSolution) *Transaction {
	tx, _ := New(TypePoWSolution, solver, nil, fee, blockHeight, nonce, solution)
	return tx
}

// =============================================================================

// Seal computes the checksum and id of an unsigned transaction.
func (tx *Transaction) Seal() {
	tx.Checksum = tx.CalculateChecksum()
	tx.ID = signature.Hex(tx.Checksum)
}

// Sign seals the transaction with the public key of the private key and
// signs its checksum.
func (tx *Transaction) Sign(privateKey *ecdsa.PrivateKey) error {
	tx.PublicKey = signature.PublicKeyBytes(privateKey)
	tx.Seal()

	sig, err := signature.Sign(tx.Checksum, privateKey)
	if err != nil {
		return err
	}
	tx.Signature = sig

	return nil
}

// CalculateChecksum returns the checksum over the canonical form of the
// transaction. Recipients are ordered by address so map order never
// changes the result.
func (tx *Transaction) CalculateChecksum() []byte {
	payload, err := encodePayload(tx.Payload)
	if err != nil {
		return nil
	}

	c := canonical{
		Type:        tx.Type,
		From:        tx.From,
		To:          tx.Outputs(),
		Fee:         tx.Fee,
		BlockHeight: tx.BlockHeight,
		Nonce:       tx.Nonce,
		Payload:     payload,
		PublicKey:   tx.PublicKey,
	}

	data, err := msgpack.Marshal(c)
	if err != nil {
		return nil
	}

	return signature.Hash([]byte("DLT-TX"), data)
}

// VerifyChecksum recomputes the checksum and matches it with the stored
// checksum and id.
func (tx *Transaction) VerifyChecksum() bool {
	sum := tx.CalculateChecksum()
	return sum != nil && signature.Equal(sum, tx.Checksum) && tx.ID == signature.Hex(sum)
}

// VerifySignature validates the signature using the embedded public key or
// the one known for the signer when none is embedded.
func (tx *Transaction) VerifySignature(knownPublicKey []byte) bool {
	pub := tx.PublicKey
	if len(pub) == 0 {
		pub = knownPublicKey
	}

	return signature.Verify(tx.Checksum, tx.Signature, pub)
}

// SignerAddress returns the address of the account that signed the
// transaction. For normal transactions this must match From.
func (tx *Transaction) SignerAddress() (string, error) {
	if len(tx.PublicKey) == 0 {
		return "", ErrNotSigned
	}
	return signature.PublicKeyToAddress(tx.PublicKey)
}

// Outputs returns the recipients ordered by address.
func (tx *Transaction) Outputs() []Output {
	addrs := slices.Sorted(maps.Keys(tx.To))

	outs := make([]Output, len(addrs))
	for i, addr := range addrs {
		outs[i] = Output{Address: addr, Amount: tx.To[addr]}
	}

	return outs
}

// Amount returns the total amount sent to all recipients.
func (tx *Transaction) Amount() (uint64, error) {
	var total uint64
	for _, amount := range tx.To {
		var err error
		if total, err = safemath.Add(total, amount); err != nil {
			return 0, err
		}
	}

	return total, nil
}

// Multisig returns the multisig operation carried by the transaction.
func (tx *Transaction) Multisig() (MultisigOp, bool) {
	op, ok := tx.Payload.(MultisigOp)
	return op, ok
}

// PoW returns the proof of work solution carried by the transaction.
func (tx *Transaction) PoW() (PoWSolution, bool) {
	p, ok := tx.Payload.(PoWSolution)
	return p, ok
}

// StakingTarget returns the target block of a staking reward.
func (tx *Transaction) StakingTarget() (StakingTarget, bool) {
	p, ok := tx.Payload.(StakingTarget)
	return p, ok
}

// IsMultisig reports whether the transaction takes part in a multisig
// signing round.
func (tx *Transaction) IsMultisig() bool {
	return tx.Type == TypeMultisigTX || tx.Type == TypeChangeMultisigWallet
}

// IsNetworkMinted reports whether the transaction is created by the network
// and carries no signature.
func (tx *Transaction) IsNetworkMinted() bool {
	return tx.Type == TypeGenesis || tx.Type == TypeStakingReward
}

// Copy returns a deep copy of the transaction.
func (tx *Transaction) Copy() *Transaction {
	c := *tx
	c.To = maps.Clone(tx.To)
	c.PublicKey = slices.Clone(tx.PublicKey)
	c.Signature = slices.Clone(tx.Signature)
	c.Checksum = slices.Clone(tx.Checksum)
	return &c
}

// =============================================================================

// VerifyPoWNonce checks the nonce solves the block at the given height for
// the solver: the hash of nonce, height and solver must start with at least
// difficulty zero bits.
func VerifyPoWNonce(nonce []byte, height uint64, solver string, difficulty uint64) bool {
	if len(nonce) == 0 {
		return false
	}

	var h [8]byte
	binary.LittleEndian.PutUint64(h[:], height)
	sum := signature.Hash(nonce, h[:], signature.AddressBytes(solver))

	var zeros uint64
	for _, b := range sum {
		if b == 0 {
			zeros += 8
			continue
		}
		zeros += uint64(bits.LeadingZeros8(b))
		break
	}

	return zeros >= difficulty
}

// =============================================================================

// canonical is the form hashed for the checksum.
type canonical struct {
	Type        Type     `msgpack:"t"`
	From        string   `msgpack:"f"`
	To          []Output `msgpack:"to"`
	Fee         uint64   `msgpack:"fe"`
	BlockHeight uint64   `msgpack:"h"`
	Nonce       uint64   `msgpack:"n"`
	Payload     []byte   `msgpack:"d"`
	PublicKey   []byte   `msgpack:"pk"`
}
