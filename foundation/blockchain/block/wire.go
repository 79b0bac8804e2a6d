package block

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformed is returned when block bytes can't be decoded.
var ErrMalformed = errors.New("malformed block")

// Upper bounds applied while decoding untrusted bytes.
const (
	maxTransactions = 1 << 20
	maxSignatures   = 1 << 16
	maxFieldLength  = 1 << 16
)

// Bytes returns the wire and storage encoding of the block: version,
// height, transaction ids, signatures as (sig, signer) pairs, the block,
// predecessor, account-state and signature-freeze checksums, difficulty
// and timestamp. Absent checksums are encoded with a zero length.
func (b *Block) Bytes() []byte {
	sigs := b.Signatures()

	var w writer
	w.u32(b.Version)
	w.u64(b.Height)

	w.u32(uint32(len(b.TransactionIDs)))
	for _, id := range b.TransactionIDs {
		w.bytes([]byte(id))
	}

	w.u32(uint32(len(sigs)))
	for _, s := range sigs {
		w.bytes(s.Sig)
		w.bytes(s.Signer)
	}

	w.bytes(b.Checksum)
	w.bytes(b.PredecessorChecksum)
	w.bytes(b.AccountStateChecksum)
	w.bytes(b.SignatureFreezeChecksum)
	w.u64(b.Difficulty)
	w.i64(b.Timestamp)

	return w.buf
}

// FromBytes decodes a block produced by Bytes.
func FromBytes(data []byte) (*Block, error) {
	r := reader{buf: data}

	b := Block{
		Version: r.u32(),
		Height:  r.u64(),
	}

	// Every entry takes at least its 4 byte length prefix.
	txCount := r.count(maxTransactions)
	if txCount > 0 {
		b.TransactionIDs = make([]string, 0, min(txCount, r.remaining()/4))
	}
	for i := 0; i < txCount && r.err == nil; i++ {
		b.TransactionIDs = append(b.TransactionIDs, string(r.bytes()))
	}

	sigCount := r.count(maxSignatures)
	for i := 0; i < sigCount && r.err == nil; i++ {
		sig := r.bytes()
		signer := r.bytes()
		b.sigs = append(b.sigs, Signature{Sig: sig, Signer: signer})
	}

	b.Checksum = r.bytes()
	b.PredecessorChecksum = r.bytes()
	b.AccountStateChecksum = r.bytes()
	b.SignatureFreezeChecksum = r.bytes()
	b.Difficulty = r.u64()
	b.Timestamp = r.i64()

	if r.err != nil {
		return nil, r.err
	}
	if len(r.buf) != r.off {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(r.buf)-r.off)
	}

	return &b, nil
}

// =============================================================================

// reader consumes little endian values and remembers the first error.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.buf)-r.off < n {
		r.err = fmt.Errorf("%w: unexpected end of data at offset %d", ErrMalformed, r.off)
		return nil
	}

	v := r.buf[r.off : r.off+n]
	r.off += n
	return v
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) u32() uint32 {
	v := r.take(4)
	if v == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(v)
}

func (r *reader) u64() uint64 {
	v := r.take(8)
	if v == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(v)
}

func (r *reader) i64() int64 {
	return int64(r.u64())
}

func (r *reader) count(limit int) int {
	n := int(r.u32())
	if n > limit {
		r.err = fmt.Errorf("%w: count %d exceeds %d", ErrMalformed, n, limit)
		return 0
	}
	return n
}

// bytes reads a length prefixed value. A zero length decodes to nil.
func (r *reader) bytes() []byte {
	n := r.count(maxFieldLength)
	if n == 0 {
		return nil
	}

	v := r.take(n)
	if v == nil {
		return nil
	}

	out := make([]byte, n)
	copy(out, v)
	return out
}
