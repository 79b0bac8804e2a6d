package chain_test

import (
	"crypto/ecdsa"
	"errors"
	"testing"

	"github.com/ardanlabs/dlt/foundation/blockchain/block"
	"github.com/ardanlabs/dlt/foundation/blockchain/chain"
	"github.com/ardanlabs/dlt/foundation/blockchain/signature"
	"github.com/ardanlabs/dlt/foundation/blockchain/storage"
	"github.com/ardanlabs/dlt/foundation/blockchain/storage/memory"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
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

func resolver(address string) []byte {
	return nil
}

func newChain(t *testing.T, window uint64) (*chain.BlockChain, *storage.Storage) {
	strg := storage.New(memory.New(), zap.NewNop().Sugar())
	t.Cleanup(func() { strg.Close() })

	c, err := chain.New(chain.Config{
		Storage:        strg,
		RedactedWindow: window,
	})
	if err != nil {
		t.Fatalf("Should be able to construct the chain: %s", err)
	}

	return c, strg
}

// nextBlock builds the block following the tip signed by the first n keys.
func nextBlock(t *testing.T, c *chain.BlockChain, pks []*ecdsa.PrivateKey, n int) *block.Block {
	b := block.New(c.LastHeight()+1, c.LastChecksum(), nil, 1, 1700000000)
	b.Seal()

	for _, pk := range pks[:n] {
		if _, err := b.ApplySignature(pk, true); err != nil {
			t.Fatalf("Should be able to sign the block: %s", err)
		}
	}

	return b
}

// =============================================================================

func Test_Append(t *testing.T) {
	pks := privateKeys(t)

	t.Log("Given the need to append blocks in order.")
	{
		c, _ := newChain(t, 100)

		t.Log("\tWhen appending a genesis block and its successor.")
		{
			for range 2 {
				if err := c.Append(nextBlock(t, c, pks, 1)); err != nil {
					t.Fatalf("\t%s\tShould be able to append the block: %s", failed, err)
				}
			}
			t.Logf("\t%s\tShould be able to append the blocks.", success)

			if c.LastHeight() != 2 {
				t.Fatalf("\t%s\tShould have a tip at height 2: %d", failed, c.LastHeight())
			}
			t.Logf("\t%s\tShould have a tip at height 2.", success)
		}

		t.Log("\tWhen appending a block at the wrong height.")
		{
			b := block.New(5, c.LastChecksum(), nil, 1, 1700000000)
			b.Seal()

			if err := c.Append(b); !errors.Is(err, chain.ErrNonSequential) {
				t.Fatalf("\t%s\tShould reject the block as non sequential: %v", failed, err)
			}
			t.Logf("\t%s\tShould reject the block as non sequential.", success)
		}

		t.Log("\tWhen appending a block that does not link to the tip.")
		{
			b := block.New(3, signature.Hash([]byte("other")), nil, 1, 1700000000)
			b.Seal()

			if err := c.Append(b); !errors.Is(err, chain.ErrBadLink) {
				t.Fatalf("\t%s\tShould reject the block as a bad link: %v", failed, err)
			}
			t.Logf("\t%s\tShould reject the block as a bad link.", success)

			if c.LastHeight() != 2 {
				t.Fatalf("\t%s\tShould leave the chain untouched: %d", failed, c.LastHeight())
			}
			t.Logf("\t%s\tShould leave the chain untouched.", success)
		}
	}
}

func Test_Redact(t *testing.T) {
	pks := privateKeys(t)

	t.Log("Given the need to bound the blocks held in memory.")
	{
		c, strg := newChain(t, 10)

		t.Log("\tWhen appending more blocks than the window.")
		{
			for range 25 {
				b := nextBlock(t, c, pks, 1)
				b.TransactionIDs = nil
				if err := c.Append(b); err != nil {
					t.Fatalf("\t%s\tShould be able to append the block: %s", failed, err)
				}
			}
			strg.Flush()

			if c.Count() != 10 {
				t.Fatalf("\t%s\tShould keep 10 blocks in memory: %d", failed, c.Count())
			}
			t.Logf("\t%s\tShould keep 10 blocks in memory.", success)

			if c.FirstHeight() != 16 {
				t.Fatalf("\t%s\tShould have block 16 as the oldest block: %d", failed, c.FirstHeight())
			}
			t.Logf("\t%s\tShould have block 16 as the oldest block.", success)

			b := c.Block(3)
			if b == nil || b.Height != 3 {
				t.Fatalf("\t%s\tShould be able to read a redacted block.", failed)
			}
			t.Logf("\t%s\tShould be able to read a redacted block.", success)

			if c.Block(26) != nil {
				t.Fatalf("\t%s\tShould not return blocks above the tip.", failed)
			}
			t.Logf("\t%s\tShould not return blocks above the tip.", success)
		}
	}
}

func Test_RequiredQuorum(t *testing.T) {
	pks := privateKeys(t)

	t.Log("Given the need to derive the quorum from committed blocks.")
	{
		c, _ := newChain(t, 100)

		t.Log("\tWhen the chain is bootstrapping.")
		{
			for range 5 {
				if err := c.Append(nextBlock(t, c, pks, 3)); err != nil {
					t.Fatalf("\t%s\tShould be able to append the block: %s", failed, err)
				}
			}

			if q := c.RequiredQuorum(); q != 1 {
				t.Fatalf("\t%s\tShould require a single signature: %d", failed, q)
			}
			t.Logf("\t%s\tShould require a single signature.", success)
		}

		t.Log("\tWhen blocks beyond the bootstrap carry three signatures.")
		{
			for range 10 {
				if err := c.Append(nextBlock(t, c, pks, 3)); err != nil {
					t.Fatalf("\t%s\tShould be able to append the block: %s", failed, err)
				}
			}

			// ceil(30 * 75 / (10 * 100)) = ceil(2.25) = 3
			if q := c.RequiredQuorum(); q != 3 {
				t.Fatalf("\t%s\tShould require three signatures: %d", failed, q)
			}
			t.Logf("\t%s\tShould require three signatures.", success)
		}
	}

	t.Log("Given a chain where every block carries a single signature.")
	{
		c, _ := newChain(t, 100)

		t.Log("\tWhen computing the quorum.")
		{
			for range 12 {
				if err := c.Append(nextBlock(t, c, pks, 1)); err != nil {
					t.Fatalf("\t%s\tShould be able to append the block: %s", failed, err)
				}
			}

			if q := c.RequiredQuorum(); q != 2 {
				t.Fatalf("\t%s\tShould never require less than two signatures: %d", failed, q)
			}
			t.Logf("\t%s\tShould never require less than two signatures.", success)
		}
	}
}

func Test_RefreshSignatures(t *testing.T) {
	pks := privateKeys(t)

	t.Log("Given the need to collect late signatures on committed blocks.")
	{
		c, _ := newChain(t, 100)

		for range 10 {
			if err := c.Append(nextBlock(t, c, pks, 1)); err != nil {
				t.Fatalf("\t%s\tShould be able to append the block: %s", failed, err)
			}
		}

		t.Log("\tWhen the block is within the edit horizon.")
		{
			candidate := c.Block(6).Copy()
			if _, err := candidate.ApplySignature(pks[1], true); err != nil {
				t.Fatalf("\t%s\tShould be able to sign the block: %s", failed, err)
			}

			added, err := c.RefreshSignatures(candidate, resolver)
			if err != nil {
				t.Fatalf("\t%s\tShould be able to refresh the signatures: %s", failed, err)
			}
			if added != 1 || c.Block(6).SignatureCount() != 2 {
				t.Fatalf("\t%s\tShould have merged one signature: %d", failed, added)
			}
			t.Logf("\t%s\tShould have merged one signature.", success)
		}

		t.Log("\tWhen the block is deeper than the edit horizon.")
		{
			candidate := c.Block(3).Copy()
			if _, err := candidate.ApplySignature(pks[1], true); err != nil {
				t.Fatalf("\t%s\tShould be able to sign the block: %s", failed, err)
			}

			if _, err := c.RefreshSignatures(candidate, resolver); !errors.Is(err, chain.ErrSignaturesFrozen) {
				t.Fatalf("\t%s\tShould refuse to change frozen signatures: %v", failed, err)
			}
			t.Logf("\t%s\tShould refuse to change frozen signatures.", success)

			if c.Block(3).SignatureCount() != 1 {
				t.Fatalf("\t%s\tShould leave the block untouched.", failed)
			}
			t.Logf("\t%s\tShould leave the block untouched.", success)
		}
	}
}

func Test_Reset(t *testing.T) {
	pks := privateKeys(t)

	t.Log("Given the need to rebase the chain for synchronization.")
	{
		c, _ := newChain(t, 100)

		t.Log("\tWhen resetting to a later height.")
		{
			c.Reset(500)

			if c.LastHeight() != 499 {
				t.Fatalf("\t%s\tShould report the height before the next block: %d", failed, c.LastHeight())
			}
			t.Logf("\t%s\tShould report the height before the next block.", success)

			b := block.New(500, signature.Hash([]byte("unknown")), nil, 1, 1700000000)
			b.Seal()
			if _, err := b.ApplySignature(pks[0], true); err != nil {
				t.Fatalf("\t%s\tShould be able to sign the block: %s", failed, err)
			}

			if err := c.Append(b); err != nil {
				t.Fatalf("\t%s\tShould accept the first block after the reset: %s", failed, err)
			}
			t.Logf("\t%s\tShould accept the first block after the reset.", success)
		}
	}
}
