package worker_test

import (
	"testing"
	"time"

	"github.com/ardanlabs/dlt/foundation/blockchain/genesis"
	"github.com/ardanlabs/dlt/foundation/blockchain/protocol"
	"github.com/ardanlabs/dlt/foundation/blockchain/signature"
	"github.com/ardanlabs/dlt/foundation/blockchain/state"
	"github.com/ardanlabs/dlt/foundation/blockchain/storage/memory"
	"github.com/ardanlabs/dlt/foundation/blockchain/worker"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

type network struct{}

func (network) Broadcast(code protocol.Code, payload any) {}
func (network) Send(host string, code protocol.Code, payload any) error { return nil }
func (network) Peers() []string { return nil }

func Test_WorkerDrivesNode(t *testing.T) {
	pk, err := crypto.HexToECDSA("fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959")
	require.NoError(t, err)

	owner := signature.PrivateKeyToAddress(pk)

	st, err := state.New(state.Config{
		Signer:      pk,
		Host:        "a:9080",
		Genesis:     genesis.Genesis{Balances: map[string]uint64{owner: 1000}},
		GenesisNode: true,
		Storage:     memory.New(),
		Network:     network{},
		Consensus: state.Consensus{
			BlockInterval: time.Hour,
		},
	})
	require.NoError(t, err)

	worker.Run(st, worker.Config{TickInterval: 10 * time.Millisecond}, nil)

	require.Eventually(t, func() bool {
		return st.QueryStatus().Height == 1
	}, 5*time.Second, 10*time.Millisecond, "the genesis block is proposed on the first tick")

	st.Worker.SignalForceBlock()

	require.Eventually(t, func() bool {
		return st.QueryStatus().Height == 2
	}, 5*time.Second, 10*time.Millisecond, "a forced block is proposed right away")

	require.NoError(t, st.Shutdown())
}
