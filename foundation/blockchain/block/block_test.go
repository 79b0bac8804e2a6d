package block_test

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"runtime"
	"testing"

	"github.com/ardanlabs/dlt/foundation/blockchain/block"
	"github.com/ardanlabs/dlt/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/crypto"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

var keys = []string{
	"fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959",
	"aed31b6b5a341af8f27e66fb0b7633cf20fc27049e3eb7f6f623a4655b719ebb",
	"9f332e3700d8fc2446eaf6d15034cf96e0c2745e40353deef032a5dbf1dfed93",
}

func privateKeys(t *testing.T) []*ecdsa.PrivateKey {
	pks := make([]*ecdsa.PrivateKey, len(keys))
	for i, k := range keys {
		pk, err := crypto.HexToECDSA(k)
		if err != nil {
			t.Fatalf("Should be able to generate a private key: %s", err)
		}
		pks[i] = pk
	}
	return pks
}

func newBlock() *block.Block {
	b := block.New(7, signature.Hash([]byte("prev")), []string{"tx-1", "tx-2"}, 3, 1700000000)
	b.AccountStateChecksum = signature.Hash([]byte("ws"))
	b.SignatureFreezeChecksum = signature.Hash([]byte("sigs"))
	b.Seal()
	return b
}

// =============================================================================

func Test_ChecksumExcludesSignatures(t *testing.T) {
	pks := privateKeys(t)

	t.Log("Given the need to keep block identity stable while signing.")
	{
		t.Log("\tWhen signing a block with different signers.")
		{
			b := newBlock()
			before := b.CalculateChecksum()

			for _, pk := range pks {
				if _, err := b.ApplySignature(pk, true); err != nil {
					t.Fatalf("\t%s\tShould be able to sign the block: %s", failed, err)
				}
			}
			t.Logf("\t%s\tShould be able to sign the block.", success)

			if !bytes.Equal(before, b.CalculateChecksum()) || !bytes.Equal(before, b.Checksum) {
				t.Fatalf("\t%s\tShould get the same checksum after signing.", failed)
			}
			t.Logf("\t%s\tShould get the same checksum after signing.", success)

			b.TransactionIDs = append(b.TransactionIDs, "tx-3")
			if bytes.Equal(before, b.CalculateChecksum()) {
				t.Fatalf("\t%s\tShould get a different checksum when the content changes.", failed)
			}
			t.Logf("\t%s\tShould get a different checksum when the content changes.", success)
		}
	}
}

func Test_SignatureUniqueness(t *testing.T) {
	pks := privateKeys(t)

	t.Log("Given the need to store a single signature per signer.")
	{
		t.Log("\tWhen the same signer signs twice with both signer forms.")
		{
			b := newBlock()

			added, err := b.ApplySignature(pks[0], true)
			if err != nil || !added {
				t.Fatalf("\t%s\tShould add the first signature: %v", failed, err)
			}

			added, err = b.ApplySignature(pks[0], false)
			if err != nil || added {
				t.Fatalf("\t%s\tShould refuse the second signature: %v", failed, err)
			}

			other := b.Copy()
			other.SetSignatures(nil)
			if _, err := other.ApplySignature(pks[0], false); err != nil {
				t.Fatalf("\t%s\tShould sign the copy: %v", failed, err)
			}

			if n := b.AddSignaturesFrom(other); n != 0 {
				t.Fatalf("\t%s\tShould not merge an address signature of a known signer, merged %d.", failed, n)
			}

			if b.SignatureCount() != 1 {
				t.Fatalf("\t%s\tShould have one signature, got %d.", failed, b.SignatureCount())
			}
			t.Logf("\t%s\tShould have one signature per signer.", success)
		}
	}
}

func Test_MergeAndFilter(t *testing.T) {
	pks := privateKeys(t)
	addr0 := signature.PrivateKeyToAddress(pks[0])

	t.Log("Given the need to merge signatures between copies of a block.")
	{
		t.Log("\tWhen two copies are signed by different signers.")
		{
			a := newBlock()
			b := a.Copy()

			a.ApplySignature(pks[0], false)
			b.ApplySignature(pks[1], true)
			b.ApplySignature(pks[2], true)

			if n := a.AddSignaturesFrom(b); n != 2 {
				t.Fatalf("\t%s\tShould merge 2 signatures, got %d.", failed, n)
			}
			t.Logf("\t%s\tShould merge the missing signatures.", success)

			resolve := func(address string) []byte {
				if address == addr0 {
					return signature.PublicKeyBytes(pks[0])
				}
				return nil
			}

			if dropped := a.VerifySignatures(resolve); dropped != 0 {
				t.Fatalf("\t%s\tShould keep all valid signatures, dropped %d.", failed, dropped)
			}
			t.Logf("\t%s\tShould keep all valid signatures.", success)

			if dropped := a.VerifySignatures(nil); dropped != 1 {
				t.Fatalf("\t%s\tShould drop the address signature that can't be resolved, dropped %d.", failed, dropped)
			}
			t.Logf("\t%s\tShould drop signatures that can't be verified.", success)
		}

		t.Log("\tWhen filtering a tampered signature set.")
		{
			a := newBlock()
			a.ApplySignature(pks[0], true)
			a.ApplySignature(pks[1], true)

			sigs := a.Signatures()
			sigs = append(sigs, sigs[0])
			sigs[1].Sig[10] ^= 0xff

			valid := block.FilterValidSignatures(a.Checksum, sigs, nil)
			if len(valid) != 1 {
				t.Fatalf("\t%s\tShould keep 1 signature, got %d.", failed, len(valid))
			}
			if a.SignatureCount() != 2 {
				t.Fatalf("\t%s\tShould not change the block while filtering.", failed)
			}
			t.Logf("\t%s\tShould drop duplicates and bad signatures without side effects.", success)
		}
	}
}

func Test_SignatureChecksumOrder(t *testing.T) {
	pks := privateKeys(t)

	a := newBlock()
	a.ApplySignature(pks[0], true)
	a.ApplySignature(pks[1], true)

	b := a.Copy()
	sigs := b.Signatures()
	b.SetSignatures([]block.Signature{sigs[1], sigs[0]})

	if !bytes.Equal(a.SignatureChecksum(), b.SignatureChecksum()) {
		t.Fatalf("Should get the same signature checksum regardless of order.")
	}

	b.ApplySignature(pks[2], true)
	if bytes.Equal(a.SignatureChecksum(), b.SignatureChecksum()) {
		t.Fatalf("Should get a different signature checksum with another signer.")
	}
}

func Test_Wire(t *testing.T) {
	pks := privateKeys(t)

	t.Log("Given the need to send blocks over the wire.")
	{
		t.Log("\tWhen encoding a signed block.")
		{
			b := newBlock()
			b.ApplySignature(pks[0], true)
			b.ApplySignature(pks[1], false)

			data := b.Bytes()
			got, err := block.FromBytes(data)
			if err != nil {
				t.Fatalf("\t%s\tShould be able to decode the block: %s", failed, err)
			}
			t.Logf("\t%s\tShould be able to decode the block.", success)

			if !bytes.Equal(data, got.Bytes()) {
				t.Fatalf("\t%s\tShould encode to the same bytes.", failed)
			}
			t.Logf("\t%s\tShould encode to the same bytes.", success)

			if !bytes.Equal(got.CalculateChecksum(), b.Checksum) {
				t.Fatalf("\t%s\tShould keep the checksum.", failed)
			}
			t.Logf("\t%s\tShould keep the checksum.", success)
		}

		t.Log("\tWhen encoding a genesis block with absent checksums.")
		{
			b := block.New(1, nil, nil, 0, 0)
			b.Seal()

			got, err := block.FromBytes(b.Bytes())
			if err != nil {
				t.Fatalf("\t%s\tShould be able to decode the block: %s", failed, err)
			}
			if got.PredecessorChecksum != nil || got.SignatureFreezeChecksum != nil {
				t.Fatalf("\t%s\tShould decode absent checksums as nil.", failed)
			}
			t.Logf("\t%s\tShould decode absent checksums as nil.", success)
		}

		t.Log("\tWhen decoding truncated bytes.")
		{
			data := newBlock().Bytes()
			if _, err := block.FromBytes(data[:len(data)-3]); !errors.Is(err, block.ErrMalformed) {
				t.Fatalf("\t%s\tShould get a malformed error, got %v.", failed, err)
			}
			t.Logf("\t%s\tShould get a malformed error.", success)
		}

		t.Log("\tWhen the transaction count exceeds the data.")
		{
			data := binary.LittleEndian.AppendUint32(nil, block.Version)
			data = binary.LittleEndian.AppendUint64(data, 1)
			data = binary.LittleEndian.AppendUint32(data, 1<<20)

			var before, after runtime.MemStats
			runtime.ReadMemStats(&before)
			_, err := block.FromBytes(data)
			runtime.ReadMemStats(&after)

			if !errors.Is(err, block.ErrMalformed) {
				t.Fatalf("\t%s\tShould get a malformed error, got %v.", failed, err)
			}
			t.Logf("\t%s\tShould get a malformed error.", success)

			if got := after.TotalAlloc - before.TotalAlloc; got > 1<<16 {
				t.Fatalf("\t%s\tShould size allocations by the data, allocated %d bytes.", failed, got)
			}
			t.Logf("\t%s\tShould size allocations by the data.", success)
		}
	}
}
