// Package block defines the ledger block, its checksums and the rules for
// accumulating signatures toward quorum.
package block

import (
	"crypto/ecdsa"
	"encoding/binary"
	"slices"
	"sort"
	"sync"

	"github.com/ardanlabs/dlt/foundation/blockchain/signature"
)

// Version is the block version produced by this node.
const Version uint32 = 1

// Signature is a signature over the block checksum together with the
// signer. The signer is either the signer's public key or its address.
type Signature struct {
	Sig    []byte
	Signer []byte
}

// PublicKeyResolver returns the known public key for an address or nil.
type PublicKeyResolver func(address string) []byte

// Block represents a group of transactions batched together. The checksum
// covers everything except the signatures, so accumulating signatures never
// changes the identity of the block.
type Block struct {
	Version                 uint32
	Height                  uint64
	TransactionIDs          []string
	Checksum                []byte
	PredecessorChecksum     []byte
	AccountStateChecksum    []byte
	SignatureFreezeChecksum []byte
	Difficulty              uint64
	Timestamp               int64

	// PowField records the miners rewarded for this block. It is local
	// bookkeeping and not part of the wire encoding.
	PowField []byte

	mu   sync.Mutex
	sigs []Signature
}

// New constructs an unsealed block for the specified height.
func New(height uint64, predecessorChecksum []byte, txIDs []string, difficulty uint64, timestamp int64) *Block {
	return &Block{
		Version:             Version,
		Height:              height,
		TransactionIDs:      slices.Clone(txIDs),
		PredecessorChecksum: slices.Clone(predecessorChecksum),
		Difficulty:          difficulty,
		Timestamp:           timestamp,
	}
}

// Seal computes and stores the block checksum. The account-state and
// signature-freeze checksums must be set before sealing.
func (b *Block) Seal() {
	b.Checksum = b.CalculateChecksum()
}

// CalculateChecksum hashes version, height, transaction ids, predecessor,
// account-state and signature-freeze checksums, and difficulty in that
// order. Variable length fields are length prefixed.
func (b *Block) CalculateChecksum() []byte {
	var w writer
	w.u32(b.Version)
	w.u64(b.Height)
	for _, id := range b.TransactionIDs {
		w.bytes([]byte(id))
	}
	w.bytes(b.PredecessorChecksum)
	w.bytes(b.AccountStateChecksum)
	w.bytes(b.SignatureFreezeChecksum)
	w.u64(b.Difficulty)

	return signature.Hash([]byte("DLT-BLOCK"), w.buf)
}

// =============================================================================

// ApplySignature signs the block checksum with the private key. The signer
// is recorded as the public key when embedPublicKey is set, otherwise as
// the address. It refuses when this signer already signed the block.
func (b *Block) ApplySignature(privateKey *ecdsa.PrivateKey, embedPublicKey bool) (bool, error) {
	address := signature.PrivateKeyToAddress(privateKey)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.hasSignerLocked(address) {
		return false, nil
	}

	sig, err := signature.Sign(b.Checksum, privateKey)
	if err != nil {
		return false, err
	}

	signer := signature.AddressBytes(address)
	if embedPublicKey {
		signer = signature.PublicKeyBytes(privateKey)
	}

	b.sigs = append(b.sigs, Signature{Sig: sig, Signer: signer})
	return true, nil
}

// AddSignature stores a signature received from the network unless its
// signer already signed. It does not verify the signature.
func (b *Block) AddSignature(s Signature) bool {
	address, err := signature.SignerAddress(s.Signer)
	if err != nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.hasSignerLocked(address) {
		return false
	}

	b.sigs = append(b.sigs, copySignature(s))
	return true
}

// AddSignaturesFrom merges the signatures of another copy of this block
// whose signer is not present yet and returns the number merged.
func (b *Block) AddSignaturesFrom(other *Block) int {
	if other == b || !signature.Equal(b.Checksum, other.Checksum) {
		return 0
	}

	var merged int
	for _, s := range other.Signatures() {
		if b.AddSignature(s) {
			merged++
		}
	}

	return merged
}

// VerifySignatures replaces the signature set with the subset that passes
// FilterValidSignatures and returns how many were dropped.
func (b *Block) VerifySignatures(resolve PublicKeyResolver) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	valid := FilterValidSignatures(b.Checksum, b.sigs, resolve)
	dropped := len(b.sigs) - len(valid)
	b.sigs = valid

	return dropped
}

// FilterValidSignatures returns the signatures that verify against the
// checksum, keeping only the first signature of every signer. Signers that
// carry just an address are verified with the key returned by resolve.
func FilterValidSignatures(checksum []byte, sigs []Signature, resolve PublicKeyResolver) []Signature {
	seen := make(map[string]struct{}, len(sigs))
	valid := make([]Signature, 0, len(sigs))

	for _, s := range sigs {
		address, err := signature.SignerAddress(s.Signer)
		if err != nil {
			continue
		}
		if _, exists := seen[address]; exists {
			continue
		}

		publicKey := s.Signer
		if len(s.Signer) == signature.AddressLength {
			if resolve == nil {
				continue
			}
			publicKey = resolve(address)
		}

		if !signature.Verify(checksum, s.Sig, publicKey) {
			continue
		}

		seen[address] = struct{}{}
		valid = append(valid, copySignature(s))
	}

	return valid
}

// SignatureChecksum hashes the signatures ordered by signer address, so the
// result doesn't depend on the order signatures arrived in.
func (b *Block) SignatureChecksum() []byte {
	type entry struct {
		address string
		sig     []byte
	}

	b.mu.Lock()
	entries := make([]entry, 0, len(b.sigs))
	for _, s := range b.sigs {
		address, err := signature.SignerAddress(s.Signer)
		if err != nil {
			continue
		}
		entries = append(entries, entry{address: address, sig: s.Sig})
	}
	b.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].address < entries[j].address
	})

	var w writer
	for _, e := range entries {
		w.raw(e.sig)
		w.raw(signature.AddressBytes(e.address))
	}

	return signature.Hash([]byte("DLT-SIGS"), w.buf)
}

// Signatures returns a copy of the signatures.
func (b *Block) Signatures() []Signature {
	b.mu.Lock()
	defer b.mu.Unlock()

	sigs := make([]Signature, len(b.sigs))
	for i, s := range b.sigs {
		sigs[i] = copySignature(s)
	}

	return sigs
}

// SetSignatures replaces the signature set.
func (b *Block) SetSignatures(sigs []Signature) {
	cp := make([]Signature, len(sigs))
	for i, s := range sigs {
		cp[i] = copySignature(s)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.sigs = cp
}

// SignatureCount returns the number of signatures.
func (b *Block) SignatureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.sigs)
}

// SignerAddresses returns the addresses of all signers.
func (b *Block) SignerAddresses() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	addrs := make([]string, 0, len(b.sigs))
	for _, s := range b.sigs {
		if address, err := signature.SignerAddress(s.Signer); err == nil {
			addrs = append(addrs, address)
		}
	}

	return addrs
}

// HasSigner reports whether the address signed the block.
func (b *Block) HasSigner(address string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.hasSignerLocked(address)
}

// Copy returns a deep copy of the block.
func (b *Block) Copy() *Block {
	c := Block{
		Version:                 b.Version,
		Height:                  b.Height,
		TransactionIDs:          slices.Clone(b.TransactionIDs),
		Checksum:                slices.Clone(b.Checksum),
		PredecessorChecksum:     slices.Clone(b.PredecessorChecksum),
		AccountStateChecksum:    slices.Clone(b.AccountStateChecksum),
		SignatureFreezeChecksum: slices.Clone(b.SignatureFreezeChecksum),
		Difficulty:              b.Difficulty,
		Timestamp:               b.Timestamp,
		PowField:                slices.Clone(b.PowField),
	}
	c.sigs = b.Signatures()

	return &c
}

// =============================================================================

func (b *Block) hasSignerLocked(address string) bool {
	for _, s := range b.sigs {
		if a, err := signature.SignerAddress(s.Signer); err == nil && a == address {
			return true
		}
	}
	return false
}

func copySignature(s Signature) Signature {
	return Signature{Sig: slices.Clone(s.Sig), Signer: slices.Clone(s.Signer)}
}

// =============================================================================

// writer appends little endian values to a buffer.
type writer struct {
	buf []byte
}

func (w *writer) u32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *writer) u64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }
func (w *writer) i64(v int64)  { w.u64(uint64(v)) }
func (w *writer) raw(v []byte) { w.buf = append(w.buf, v...) }

// bytes writes a length prefixed value. A zero length encodes absent.
func (w *writer) bytes(v []byte) {
	w.u32(uint32(len(v)))
	w.raw(v)
}
