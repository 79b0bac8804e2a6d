package genesis_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ardanlabs/dlt/foundation/blockchain/genesis"
	"github.com/ardanlabs/dlt/foundation/blockchain/signature"
	"github.com/ardanlabs/dlt/foundation/blockchain/transaction"
	"github.com/ethereum/go-ethereum/crypto"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

func address(t *testing.T, key string) string {
	pk, err := crypto.HexToECDSA(key)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to load the key: %s", failed, err)
	}
	return signature.PrivateKeyToAddress(pk)
}

func Test_Load(t *testing.T) {
	t.Log("Given the need to load the genesis balances.")
	{
		addr1 := address(t, "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959")
		addr2 := address(t, "aed31b6b5a341af8f27e66fb0b7633cf20fc27049e3eb7f6f623a4655b719ebb")
		if addr2 < addr1 {
			addr1, addr2 = addr2, addr1
		}

		path := filepath.Join(t.TempDir(), "genesis.json")
		doc := `{"date":"2026-01-01T00:00:00Z","chain_id":1,"balances":{"` + addr2 + `":500,"` + addr1 + `":1000}}`
		if err := os.WriteFile(path, []byte(doc), 0600); err != nil {
			t.Fatalf("\t%s\tShould be able to write the file: %s", failed, err)
		}

		g, err := genesis.Load(path)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to load the file: %s", failed, err)
		}
		t.Logf("\t%s\tShould be able to load the file.", success)

		txs := g.Transactions()
		if len(txs) != 2 {
			t.Fatalf("\t%s\tShould get a transaction per balance: %d", failed, len(txs))
		}
		t.Logf("\t%s\tShould get a transaction per balance.", success)

		if txs[0].To[addr1] != 1000 || txs[1].To[addr2] != 500 {
			t.Fatalf("\t%s\tShould order the transactions by address.", failed)
		}
		t.Logf("\t%s\tShould order the transactions by address.", success)

		for _, tx := range txs {
			if tx.Type != transaction.TypeGenesis {
				t.Fatalf("\t%s\tShould get genesis transactions: %s", failed, tx.Type)
			}
		}
		t.Logf("\t%s\tShould get genesis transactions.", success)
	}
}

func Test_LoadInvalid(t *testing.T) {
	t.Log("Given the need to reject a broken genesis file.")
	{
		path := filepath.Join(t.TempDir(), "genesis.json")
		if err := os.WriteFile(path, []byte(`{"balances":{"bill":10}}`), 0600); err != nil {
			t.Fatalf("\t%s\tShould be able to write the file: %s", failed, err)
		}

		if _, err := genesis.Load(path); err == nil {
			t.Fatalf("\t%s\tShould reject an invalid address.", failed)
		}
		t.Logf("\t%s\tShould reject an invalid address.", success)
	}
}
