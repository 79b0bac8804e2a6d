package storage_test

import (
	"testing"

	"github.com/ardanlabs/dlt/foundation/blockchain/block"
	"github.com/ardanlabs/dlt/foundation/blockchain/signature"
	"github.com/ardanlabs/dlt/foundation/blockchain/storage"
	"github.com/ardanlabs/dlt/foundation/blockchain/storage/memory"
	"github.com/ardanlabs/dlt/foundation/blockchain/storage/pebbledb"
	"github.com/ardanlabs/dlt/foundation/blockchain/transaction"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	addr1 = "0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4"
	addr2 = "0xF01813E4B85e178A83e29B8E7bF26BD830a25f32"
)

func engines(t *testing.T) map[string]storage.Engine {
	pb, err := pebbledb.New(t.TempDir())
	require.NoError(t, err)

	return map[string]storage.Engine{
		"memory": memory.New(),
		"pebble": pb,
	}
}

func Test_Storage(t *testing.T) {
	for name, engine := range engines(t) {
		t.Run(name, func(t *testing.T) {
			strg := storage.New(engine, zap.NewNop().Sugar())
			defer func() {
				require.NoError(t, strg.Close())
			}()

			var prev []byte
			for h := uint64(1); h <= 3; h++ {
				b := block.New(h, prev, nil, 0, int64(h))
				b.Seal()
				b.PowField = signature.Hash([]byte("miners"))
				strg.InsertBlock(b)
				prev = b.Checksum
			}

			tx := transaction.NewGenesis(addr2, 1000)
			strg.InsertTransaction(tx)
			strg.Flush()

			latest, err := strg.LatestHeight()
			require.NoError(t, err)
			require.Equal(t, uint64(3), latest)

			b, err := strg.Block(3)
			require.NoError(t, err)
			require.Equal(t, prev, b.Checksum)
			require.NotEmpty(t, b.PowField)

			byChecksum, err := strg.BlockByChecksum(prev)
			require.NoError(t, err)
			require.Equal(t, uint64(3), byChecksum.Height)

			blocks, err := strg.Blocks(2, 10)
			require.NoError(t, err)
			require.Len(t, blocks, 2)

			_, err = strg.Block(4)
			require.ErrorIs(t, err, storage.ErrNotFound)

			got, err := strg.Transaction(tx.ID)
			require.NoError(t, err)
			require.True(t, got.VerifyChecksum())

			txs, err := strg.TransactionsByAddress(addr2)
			require.NoError(t, err)
			require.Len(t, txs, 1)

			txs, err = strg.TransactionsByAddress(addr1)
			require.NoError(t, err)
			require.Empty(t, txs)

			require.NoError(t, strg.Reset())
			_, err = strg.LatestHeight()
			require.ErrorIs(t, err, storage.ErrNotFound)
		})
	}
}
