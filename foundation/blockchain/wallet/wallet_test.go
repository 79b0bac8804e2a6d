package wallet_test

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/ardanlabs/dlt/foundation/blockchain/wallet"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

const (
	addr1 = "0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4"
	addr2 = "0xF01813E4B85e178A83e29B8E7bF26BD830a25f32"
	addr3 = "0xbEE6ACE826eC3DE1B6349888B9151B92522F7F76"
)

func Test_Checksum(t *testing.T) {
	t.Log("Given the need to compare account states between nodes.")
	{
		t.Log("\tWhen the same balances are set in a different order.")
		{
			a := wallet.New()
			a.SetWalletBalance(addr1, 100)
			a.SetWalletBalance(addr2, 200)

			b := wallet.New()
			b.SetWalletBalance(addr2, 200)
			b.SetWalletBalance(addr1, 100)

			if !bytes.Equal(a.Checksum(), b.Checksum()) {
				t.Fatalf("\t%s\tShould get the same checksum.", failed)
			}
			t.Logf("\t%s\tShould get the same checksum.", success)

			b.SetWalletBalance(addr1, 101)
			if bytes.Equal(a.Checksum(), b.Checksum()) {
				t.Fatalf("\t%s\tShould get a different checksum after a balance change.", failed)
			}
			t.Logf("\t%s\tShould get a different checksum after a balance change.", success)
		}
	}
}

func Test_Delta(t *testing.T) {
	t.Log("Given the need to apply changes without touching the state.")
	{
		t.Log("\tWhen changing balances through a delta.")
		{
			ws := wallet.New(wallet.Wallet{Address: addr1, Balance: 100})
			before := ws.Checksum()

			d := ws.NewDelta()
			d.SetWalletBalance(addr1, 40)
			d.SetWalletBalance(addr2, 60)

			if ws.Balance(addr1) != 100 || ws.Balance(addr2) != 0 {
				t.Fatalf("\t%s\tShould not change the state before commit.", failed)
			}
			if d.Balance(addr1) != 40 || d.Balance(addr2) != 60 {
				t.Fatalf("\t%s\tShould see the changes through the delta.", failed)
			}
			t.Logf("\t%s\tShould isolate the changes in the delta.", success)

			expected := d.Checksum()
			if bytes.Equal(before, expected) {
				t.Fatalf("\t%s\tShould compute a new checksum for the delta.", failed)
			}

			ws.Commit(d, 7)
			if !bytes.Equal(ws.Checksum(), expected) {
				t.Fatalf("\t%s\tShould get the delta checksum after commit.", failed)
			}
			if ws.Balance(addr1) != 40 || ws.Balance(addr2) != 60 {
				t.Fatalf("\t%s\tShould see the changes after commit.", failed)
			}
			t.Logf("\t%s\tShould apply the changes on commit.", success)

			if ws.Height() != 7 {
				t.Fatalf("\t%s\tShould record the height of the committed block, got %d.", failed, ws.Height())
			}
			t.Logf("\t%s\tShould record the height of the committed block.", success)
		}
	}
}

func Test_Chunks(t *testing.T) {
	t.Log("Given the need to transfer the account state in chunks.")
	{
		src := wallet.New()
		for i := range 25 {
			src.SetWalletBalance(fmt.Sprintf("0x%040x", i+1), uint64(i*10))
		}
		src.SetWallet(wallet.Wallet{Address: addr3, Balance: 5, Type: wallet.TypeMultisig, RequiredSigs: 2, AllowedSigners: []string{addr1, addr2}})
		src.Commit(src.NewDelta(), 42)

		t.Log("\tWhen exporting and importing the chunks in any order.")
		{
			height, chunks := src.Snapshot(10)
			if height != 42 {
				t.Fatalf("\t%s\tShould label the snapshot with the state height, got %d.", failed, height)
			}
			for _, c := range chunks {
				if c.BlockHeight != 42 {
					t.Fatalf("\t%s\tShould label every chunk with the state height, got %d.", failed, c.BlockHeight)
				}
			}
			t.Logf("\t%s\tShould label the snapshot with the state height.", success)

			if len(chunks) != wallet.ChunkCount(src.Count(), 10) || len(chunks) != 3 {
				t.Fatalf("\t%s\tShould get 3 chunks, got %d.", failed, len(chunks))
			}
			t.Logf("\t%s\tShould get the expected number of chunks.", success)

			dst := wallet.New(wallet.Wallet{Address: addr1, Balance: 999})
			if err := dst.Replace(42, []wallet.Chunk{chunks[2], chunks[0], chunks[1]}); err != nil {
				t.Fatalf("\t%s\tShould be able to replace the state: %s", failed, err)
			}

			if !bytes.Equal(src.Checksum(), dst.Checksum()) {
				t.Fatalf("\t%s\tShould get the same checksum as the source.", failed)
			}
			if dst.Balance(addr1) != 0 {
				t.Fatalf("\t%s\tShould replace the state wholesale.", failed)
			}
			if dst.Height() != 42 {
				t.Fatalf("\t%s\tShould take the height of the chunks, got %d.", failed, dst.Height())
			}
			t.Logf("\t%s\tShould rebuild the same account state.", success)
		}

		t.Log("\tWhen the chunks belong to another height.")
		{
			_, chunks := src.Snapshot(10)
			if err := wallet.New().Replace(41, chunks); err == nil {
				t.Fatalf("\t%s\tShould refuse chunks of another height.", failed)
			}
			t.Logf("\t%s\tShould refuse chunks of another height.", success)
		}

		t.Log("\tWhen a chunk is missing.")
		{
			_, chunks := src.Snapshot(10)
			if err := wallet.New().Replace(42, chunks[1:]); err == nil {
				t.Fatalf("\t%s\tShould refuse an incomplete set of chunks.", failed)
			}
			t.Logf("\t%s\tShould refuse an incomplete set of chunks.", success)
		}
	}
}
