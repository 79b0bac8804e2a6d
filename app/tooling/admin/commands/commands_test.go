package commands_test

import (
	"bytes"
	"testing"

	"github.com/ardanlabs/dlt/app/tooling/admin/commands"
	"github.com/ardanlabs/dlt/foundation/blockchain/storage"
	"github.com/ardanlabs/dlt/foundation/blockchain/storage/memory"
	"github.com/ardanlabs/dlt/foundation/blockchain/transaction"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const address = "0xF01813E4B85e178A83e29B8E7bF26BD830a25f32"

func newStorage(t *testing.T) *storage.Storage {
	st := storage.New(memory.New(), zap.NewNop().Sugar())
	t.Cleanup(func() { st.Close() })
	return st
}

func Test_Transactions(t *testing.T) {
	st := newStorage(t)

	tx := transaction.NewGenesis(address, 100)
	st.InsertTransaction(tx)
	st.Flush()

	var buf bytes.Buffer
	require.NoError(t, commands.Transactions([]string{"admin", "trans", address}, &buf, st))
	require.Contains(t, buf.String(), tx.ID)
	require.Contains(t, buf.String(), "Amount: 100")

	buf.Reset()
	require.NoError(t, commands.Transaction([]string{"admin", "tx", tx.ID}, &buf, st))
	require.Contains(t, buf.String(), tx.ID)

	require.Error(t, commands.Transaction([]string{"admin", "tx"}, &buf, st))
}

func Test_BlocksEmpty(t *testing.T) {
	st := newStorage(t)

	var buf bytes.Buffer
	require.NoError(t, commands.Blocks([]string{"admin", "blocks"}, &buf, st))
	require.Equal(t, "no blocks stored\n", buf.String())
}
