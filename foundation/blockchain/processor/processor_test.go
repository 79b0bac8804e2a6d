package processor_test

import (
	"crypto/ecdsa"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/ardanlabs/dlt/foundation/blockchain/block"
	"github.com/ardanlabs/dlt/foundation/blockchain/chain"
	"github.com/ardanlabs/dlt/foundation/blockchain/processor"
	"github.com/ardanlabs/dlt/foundation/blockchain/protocol"
	"github.com/ardanlabs/dlt/foundation/blockchain/signature"
	"github.com/ardanlabs/dlt/foundation/blockchain/storage"
	"github.com/ardanlabs/dlt/foundation/blockchain/storage/memory"
	"github.com/ardanlabs/dlt/foundation/blockchain/transaction"
	"github.com/ardanlabs/dlt/foundation/blockchain/txpool"
	"github.com/ardanlabs/dlt/foundation/blockchain/wallet"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var keys = []string{
	"fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959",
	"aed31b6b5a341af8f27e66fb0b7633cf20fc27049e3eb7f6f623a4655b719ebb",
}

type sent struct {
	host    string
	code    protocol.Code
	payload any
}

// network records outbound messages.
type network struct {
	mu   sync.Mutex
	sent []sent
}

func (n *network) Broadcast(code protocol.Code, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{code: code, payload: payload})
}

func (n *network) Send(host string, code protocol.Code, payload any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{host: host, code: code, payload: payload})
	return nil
}

func (n *network) Peers() []string { return nil }

// take returns and clears the recorded messages with the code.
func (n *network) take(code protocol.Code) []sent {
	n.mu.Lock()
	defer n.mu.Unlock()

	var out, keep []sent
	for _, s := range n.sent {
		if s.code == code {
			out = append(out, s)
			continue
		}
		keep = append(keep, s)
	}
	n.sent = keep

	return out
}

type node struct {
	proc    *processor.Processor
	chain   *chain.BlockChain
	pool    *txpool.Pool
	wallets *wallet.State
	net     *network
	commits int
}

func newNode(t *testing.T, pk *ecdsa.PrivateKey, syncing bool) *node {
	log := zap.NewNop().Sugar()

	strg := storage.New(memory.New(), log)
	t.Cleanup(func() { strg.Close() })

	c, err := chain.New(chain.Config{Storage: strg, Log: log})
	require.NoError(t, err)

	ws := wallet.New()

	pool, err := txpool.New(txpool.Config{
		Chain:         c,
		Wallets:       ws,
		Storage:       strg,
		Log:           log,
		Synchronizing: func() bool { return syncing },
	})
	require.NoError(t, err)

	n := node{chain: c, pool: pool, wallets: ws, net: &network{}}
	n.proc = processor.New(processor.Config{
		Chain:         c,
		Pool:          pool,
		Wallets:       ws,
		Network:       n.net,
		Signer:        pk,
		Log:           log,
		BlockInterval: time.Minute,
		OnCommit:      func(*block.Block) { n.commits++ },
	})

	return &n
}

func privateKeys(t *testing.T) []*ecdsa.PrivateKey {
	var pks []*ecdsa.PrivateKey
	for _, k := range keys {
		pk, err := crypto.HexToECDSA(k)
		require.NoError(t, err)
		pks = append(pks, pk)
	}
	return pks
}

// seed appends the same empty blocks signed by every key to all nodes.
func seed(t *testing.T, count int, pks []*ecdsa.PrivateKey, nodes ...*node) {
	var prev []byte
	for h := uint64(1); h <= uint64(count); h++ {
		b := block.New(h, prev, nil, 0, 1700000000)
		b.Seal()
		for _, pk := range pks {
			_, err := b.ApplySignature(pk, true)
			require.NoError(t, err)
		}
		for _, n := range nodes {
			require.NoError(t, n.chain.Append(b.Copy()))
		}
		prev = b.Checksum
	}
}

func decodeBlock(t *testing.T, s sent) *block.Block {
	bd, ok := s.payload.(protocol.BlockData)
	require.True(t, ok)

	b, err := block.FromBytes(bd.Block)
	require.NoError(t, err)

	return b
}

// =============================================================================

func Test_SingleNodeBootstrap(t *testing.T) {
	pks := privateKeys(t)
	n := newNode(t, pks[0], false)

	n.proc.Tick(time.Now())

	require.Equal(t, uint64(1), n.chain.LastHeight())
	require.Equal(t, 1, n.commits)
	require.Len(t, n.net.take(protocol.CodeNewBlock), 1)

	state, candidate := n.proc.State()
	require.Equal(t, processor.Idle, state)
	require.Nil(t, candidate)
}

func Test_TwoNodeQuorum(t *testing.T) {
	pks := privateKeys(t)
	a := newNode(t, pks[0], false)
	b := newNode(t, pks[1], false)

	seed(t, 10, pks, a, b)
	require.Equal(t, 2, a.chain.RequiredQuorum())

	require.NoError(t, a.proc.GenerateBlock())
	require.Equal(t, uint64(10), a.chain.LastHeight())

	state, _ := a.proc.State()
	require.Equal(t, processor.Proposing, state)

	proposals := a.net.take(protocol.CodeNewBlock)
	require.Len(t, proposals, 1)

	b.proc.OnBlockReceived(decodeBlock(t, proposals[0]), "node-a")
	require.Equal(t, uint64(11), b.chain.LastHeight())

	answers := b.net.take(protocol.CodeNewBlock)
	require.Len(t, answers, 1)

	a.proc.OnBlockReceived(decodeBlock(t, answers[0]), "node-b")
	require.Equal(t, uint64(11), a.chain.LastHeight())

	for _, n := range []*node{a, b} {
		tip := n.chain.LastBlock()
		require.Equal(t, 2, tip.SignatureCount())
		require.Equal(t, 1, n.commits)
	}
	require.Equal(t, a.chain.LastChecksum(), b.chain.LastChecksum())

	// A late copy of the committed block changes nothing.
	b.proc.OnBlockReceived(decodeBlock(t, answers[0]), "node-a")
	require.Equal(t, 1, b.commits)
	require.Equal(t, uint64(11), b.chain.LastHeight())
}

func Test_CandidateBelowQuorumDeferred(t *testing.T) {
	pks := privateKeys(t)
	a := newNode(t, pks[0], false)
	seed(t, 10, pks, a)

	require.NoError(t, a.proc.GenerateBlock())
	a.proc.Tick(time.Now())

	require.Equal(t, uint64(10), a.chain.LastHeight())
	state, candidate := a.proc.State()
	require.Equal(t, processor.Proposing, state)
	require.Equal(t, uint64(11), candidate.Height)
}

func Test_OverflowInvalid(t *testing.T) {
	pks := privateKeys(t)
	n := newNode(t, pks[0], true)

	from := signature.PrivateKeyToAddress(pks[1])
	to := signature.PrivateKeyToAddress(pks[0])

	var ids []string
	for nonce := range uint64(2) {
		tx := transaction.NewNormal(from, map[string]uint64{to: math.MaxUint64 - 10}, 1, 0, nonce)
		require.NoError(t, tx.Sign(pks[1]))
		require.NoError(t, n.pool.Add(tx, false))
		ids = append(ids, tx.ID)
	}

	b := block.New(1, nil, ids, 0, 1700000000)
	b.Seal()
	_, err := b.ApplySignature(pks[1], true)
	require.NoError(t, err)

	require.Equal(t, processor.Invalid, n.proc.VerifyBlock(b, "peer", false))
	require.Equal(t, processor.Invalid, n.proc.VerifyBlock(b, "peer", true))
}

func Test_MissingTransactionsIndeterminate(t *testing.T) {
	pks := privateKeys(t)
	n := newNode(t, pks[0], false)

	b := block.New(1, nil, []string{"unknown"}, 0, 1700000000)
	b.Seal()
	_, err := b.ApplySignature(pks[1], true)
	require.NoError(t, err)

	require.Equal(t, processor.Indeterminate, n.proc.VerifyBlock(b, "peer", false))

	reqs := n.net.take(protocol.CodeGetBlockTransactions)
	require.Len(t, reqs, 1)
	require.Equal(t, "peer", reqs[0].host)
	require.Equal(t, []string{"unknown"}, reqs[0].payload.(protocol.GetBlockTransactions).IDs)

	n.proc.OnBlockReceived(b, "peer")
	require.Equal(t, uint64(0), n.chain.LastHeight())
}

func Test_ServeBlockSignatures(t *testing.T) {
	pks := privateKeys(t)
	n := newNode(t, pks[0], false)
	seed(t, 3, pks, n)

	tip := n.chain.LastBlock()
	resp, ok := n.proc.ServeBlockSignatures(protocol.GetBlockSignatures{Height: tip.Height, Checksum: tip.Checksum})
	require.True(t, ok)
	require.Len(t, resp.Signatures, 2)

	_, ok = n.proc.ServeBlockSignatures(protocol.GetBlockSignatures{Height: tip.Height, Checksum: []byte{1}})
	require.False(t, ok)
}

func Test_OverflowInvalidDespiteFreezeMismatch(t *testing.T) {
	pks := privateKeys(t)
	n := newNode(t, pks[0], true)
	seed(t, 10, pks, n)

	from := signature.PrivateKeyToAddress(pks[1])
	to := signature.PrivateKeyToAddress(pks[0])

	var ids []string
	for nonce := range uint64(2) {
		tx := transaction.NewNormal(from, map[string]uint64{to: math.MaxUint64 - 10}, 1, 10, nonce)
		require.NoError(t, tx.Sign(pks[1]))
		require.NoError(t, n.pool.Add(tx, false))
		ids = append(ids, tx.ID)
	}

	b := block.New(11, n.chain.LastChecksum(), ids, 0, 1700000000)
	b.SignatureFreezeChecksum = []byte{0xde, 0xad}
	b.Seal()
	_, err := b.ApplySignature(pks[1], true)
	require.NoError(t, err)

	require.Equal(t, processor.Invalid, n.proc.VerifyBlock(b, "peer", false), "an overflowing block is invalid whatever it pins")
	require.Empty(t, n.net.take(protocol.CodeGetBlockSignatures), "no signatures are requested for an invalid block")
}

func Test_CommitMatchesRecordedAccountState(t *testing.T) {
	pks := privateKeys(t)
	a := newNode(t, pks[0], false)
	b := newNode(t, pks[1], false)
	seed(t, 10, pks, a, b)

	owner := signature.PrivateKeyToAddress(pks[0])
	cosigner := signature.PrivateKeyToAddress(pks[1])

	pk, err := crypto.GenerateKey()
	require.NoError(t, err)
	payee := signature.PrivateKeyToAddress(pk)

	for _, n := range []*node{a, b} {
		n.wallets.SetWallet(wallet.Wallet{
			Address:        owner,
			Balance:        100,
			Type:           wallet.TypeMultisig,
			RequiredSigs:   2,
			AllowedSigners: []string{cosigner},
		})
	}

	origin := transaction.NewMultisig(owner, map[string]uint64{payee: 10}, 1, 10, 1, "")
	require.NoError(t, origin.Sign(pks[0]))
	require.NoError(t, a.pool.Add(origin.Copy(), false))
	require.NoError(t, b.pool.Add(origin.Copy(), false))

	require.NoError(t, a.proc.GenerateBlock())
	proposals := a.net.take(protocol.CodeNewBlock)
	require.Len(t, proposals, 1)

	// The co-signature reaches the proposer after the candidate was sealed.
	cosign := transaction.NewMultisig(owner, map[string]uint64{payee: 10}, 1, 10, 2, origin.ID)
	require.NoError(t, cosign.Sign(pks[1]))
	require.NoError(t, a.pool.Add(cosign, false))

	b.proc.OnBlockReceived(decodeBlock(t, proposals[0]), "node-a")
	require.Equal(t, uint64(11), b.chain.LastHeight())

	answers := b.net.take(protocol.CodeNewBlock)
	require.Len(t, answers, 1)

	a.proc.OnBlockReceived(decodeBlock(t, answers[0]), "node-b")
	require.Equal(t, uint64(11), a.chain.LastHeight())

	tip := a.chain.LastBlock()
	require.Equal(t, tip.AccountStateChecksum, a.wallets.Checksum())
	require.Equal(t, b.wallets.Checksum(), a.wallets.Checksum())
	require.Equal(t, uint64(0), a.wallets.Balance(payee), "the round completes only once a block cites the co-signature")
	require.Equal(t, uint64(0), a.pool.Get(cosign.ID).Applied)
}
