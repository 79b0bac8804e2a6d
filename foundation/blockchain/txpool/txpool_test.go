package txpool_test

import (
	"crypto/ecdsa"
	"testing"

	"github.com/ardanlabs/dlt/foundation/blockchain/block"
	"github.com/ardanlabs/dlt/foundation/blockchain/chain"
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
	"9f332e3700d8fc2446eaf6d15034cf96e0c2745e40353deef032a5dbf1dfed93",
}

type env struct {
	pool    *txpool.Pool
	chain   *chain.BlockChain
	wallets *wallet.State
	pks     []*ecdsa.PrivateKey
	addrs   []string
}

func newEnv(t *testing.T, syncing bool, wallets ...wallet.Wallet) env {
	log := zap.NewNop().Sugar()

	strg := storage.New(memory.New(), log)
	t.Cleanup(func() { strg.Close() })

	c, err := chain.New(chain.Config{Storage: strg, Log: log})
	require.NoError(t, err)

	ws := wallet.New(wallets...)

	pool, err := txpool.New(txpool.Config{
		Chain:         c,
		Wallets:       ws,
		Storage:       strg,
		Log:           log,
		MinFee:        1,
		PowReward:     100,
		StakingReward: 100,
		Synchronizing: func() bool { return syncing },
	})
	require.NoError(t, err)

	e := env{pool: pool, chain: c, wallets: ws}
	for _, k := range keys {
		pk, err := crypto.HexToECDSA(k)
		require.NoError(t, err)
		e.pks = append(e.pks, pk)
		e.addrs = append(e.addrs, signature.PrivateKeyToAddress(pk))
	}

	return e
}

func newBlock(height uint64, txs ...*transaction.Transaction) *block.Block {
	ids := make([]string, len(txs))
	for i, tx := range txs {
		ids[i] = tx.ID
	}

	b := block.New(height, nil, ids, 1, 1700000000)
	b.Seal()

	return b
}

func signed(t *testing.T, tx *transaction.Transaction, pk *ecdsa.PrivateKey) *transaction.Transaction {
	require.NoError(t, tx.Sign(pk))
	return tx
}

// =============================================================================

func Test_GenesisCredit(t *testing.T) {
	e := newEnv(t, false)

	tx := transaction.NewGenesis(e.addrs[0], 1000)
	require.NoError(t, e.pool.Add(tx, false))

	b := newBlock(1, tx)
	_, err := e.pool.ApplyTransactionsFromBlock(b, false)
	require.NoError(t, err)
	require.NoError(t, e.chain.Append(b))

	require.Equal(t, uint64(1000), e.wallets.Balance(e.addrs[0]))
	require.Equal(t, uint64(1), e.chain.LastHeight())
	require.Equal(t, uint64(1), e.pool.Get(tx.ID).Applied)
}

func Test_ApplyTwiceRejected(t *testing.T) {
	e := newEnv(t, false)

	tx := transaction.NewGenesis(e.addrs[0], 1000)
	require.NoError(t, e.pool.Add(tx, false))

	b := newBlock(1, tx)
	_, err := e.pool.ApplyTransactionsFromBlock(b, false)
	require.NoError(t, err)

	_, err = e.pool.ApplyTransactionsFromBlock(b, false)
	require.ErrorIs(t, err, txpool.ErrAlreadyApplied)
	require.Equal(t, uint64(1000), e.wallets.Balance(e.addrs[0]))
}

func Test_Overspend(t *testing.T) {
	e := newEnv(t, false)
	e.wallets.SetWalletBalance(e.addrs[0], 50)

	tx := signed(t, transaction.NewNormal(e.addrs[0], map[string]uint64{e.addrs[1]: 100}, 10, 0, 1), e.pks[0])

	err := e.pool.Validate(tx)
	require.ErrorIs(t, err, txpool.ErrOverspend)

	err = e.pool.Add(tx, false)
	require.ErrorIs(t, err, txpool.ErrOverspend)
	require.False(t, e.pool.Has(tx.ID))
}

func Test_OverspendInBlock(t *testing.T) {
	e := newEnv(t, true)
	e.wallets.SetWalletBalance(e.addrs[0], 50)

	tx := signed(t, transaction.NewNormal(e.addrs[0], map[string]uint64{e.addrs[1]: 100}, 10, 0, 1), e.pks[0])
	require.NoError(t, e.pool.Add(tx, false))

	_, err := e.pool.ApplyTransactionsFromBlock(newBlock(2, tx), false)
	require.ErrorIs(t, err, txpool.ErrBlockRejected)

	require.Equal(t, uint64(50), e.wallets.Balance(e.addrs[0]))
	require.Equal(t, uint64(0), e.wallets.Balance(e.addrs[1]))
	require.False(t, e.pool.Has(tx.ID))
}

func Test_FailedTakesPriority(t *testing.T) {
	e := newEnv(t, true)

	genesis := transaction.NewGenesis(e.addrs[0], 1000)
	require.NoError(t, e.pool.Add(genesis, false))
	_, err := e.pool.ApplyTransactionsFromBlock(newBlock(1, genesis), false)
	require.NoError(t, err)

	bad := signed(t, transaction.NewNormal(e.addrs[1], map[string]uint64{e.addrs[2]: 100}, 10, 0, 1), e.pks[1])
	require.NoError(t, e.pool.Add(bad, false))

	_, err = e.pool.ApplyTransactionsFromBlock(newBlock(2, genesis, bad), false)
	require.ErrorIs(t, err, txpool.ErrBlockRejected)
	require.NotErrorIs(t, err, txpool.ErrAlreadyApplied)
}

func Test_NormalTransfer(t *testing.T) {
	e := newEnv(t, false)
	e.wallets.SetWalletBalance(e.addrs[0], 500)

	tx := signed(t, transaction.NewNormal(e.addrs[0], map[string]uint64{e.addrs[1]: 100, e.addrs[2]: 50}, 10, 0, 1), e.pks[0])
	require.NoError(t, e.pool.Add(tx, false))

	snapshot, err := e.pool.ApplyTransactionsFromBlock(newBlock(2, tx), true)
	require.NoError(t, err)
	require.Equal(t, uint64(500), e.wallets.Balance(e.addrs[0]))

	delta, err := e.pool.ApplyTransactionsFromBlock(newBlock(2, tx), false)
	require.NoError(t, err)
	require.Equal(t, snapshot.Checksum(), e.wallets.Checksum())
	require.Equal(t, delta.Checksum(), e.wallets.Checksum())

	require.Equal(t, uint64(340), e.wallets.Balance(e.addrs[0]))
	require.Equal(t, uint64(100), e.wallets.Balance(e.addrs[1]))
	require.Equal(t, uint64(50), e.wallets.Balance(e.addrs[2]))
	require.Equal(t, signature.PublicKeyBytes(e.pks[0]), e.wallets.PublicKey(e.addrs[0]))
}

func Test_UnknownTransaction(t *testing.T) {
	e := newEnv(t, false)

	b := block.New(1, nil, []string{"missing"}, 1, 1700000000)
	b.Seal()

	_, err := e.pool.ApplyTransactionsFromBlock(b, false)
	require.ErrorIs(t, err, txpool.ErrUnknownTransaction)
	require.Equal(t, []string{"missing"}, e.pool.Missing(b.TransactionIDs))
}

func Test_MultisigChange(t *testing.T) {
	owner := wallet.Wallet{Balance: 100, Type: wallet.TypeMultisig, RequiredSigs: 2}
	e := newEnv(t, false)
	owner.Address = e.addrs[0]
	owner.AllowedSigners = []string{e.addrs[1]}
	e.wallets.SetWallet(owner)

	origin, err := transaction.NewChangeMultisig(e.addrs[0], transaction.AddSigner(e.addrs[2], ""), 1, 0, 1)
	require.NoError(t, err)
	signed(t, origin, e.pks[0])
	require.NoError(t, e.pool.Add(origin, false))

	_, err = e.pool.ApplyTransactionsFromBlock(newBlock(1, origin), false)
	require.NoError(t, err)
	require.False(t, e.wallets.Wallet(e.addrs[0]).IsSigner(e.addrs[2]))
	require.Equal(t, uint64(0), e.pool.Get(origin.ID).Applied)

	cosign, err := transaction.NewChangeMultisig(e.addrs[0], transaction.AddSigner(e.addrs[2], origin.ID), 1, 0, 2)
	require.NoError(t, err)
	signed(t, cosign, e.pks[1])
	require.NoError(t, e.pool.Add(cosign, false))

	_, err = e.pool.ApplyTransactionsFromBlock(newBlock(2, origin, cosign), false)
	require.NoError(t, err)

	w := e.wallets.Wallet(e.addrs[0])
	require.True(t, w.IsSigner(e.addrs[2]))
	require.Equal(t, uint64(98), w.Balance)
	require.Equal(t, uint64(2), e.pool.Get(origin.ID).Applied)
	require.Equal(t, uint64(2), e.pool.Get(cosign.ID).Applied)
}

func Test_MultisigRoundLimitedToBlock(t *testing.T) {
	owner := wallet.Wallet{Balance: 100, Type: wallet.TypeMultisig, RequiredSigs: 2}
	e := newEnv(t, false)
	owner.Address = e.addrs[0]
	owner.AllowedSigners = []string{e.addrs[1]}
	e.wallets.SetWallet(owner)

	origin := signed(t, transaction.NewMultisig(e.addrs[0], map[string]uint64{e.addrs[2]: 10}, 1, 0, 1, ""), e.pks[0])
	require.NoError(t, e.pool.Add(origin, false))

	cosign := signed(t, transaction.NewMultisig(e.addrs[0], map[string]uint64{e.addrs[2]: 10}, 1, 0, 2, origin.ID), e.pks[1])
	require.NoError(t, e.pool.Add(cosign, false))

	before := e.wallets.Checksum()

	// The pool holds the co-signature but the block only cites the origin.
	b := newBlock(1, origin)
	snap, err := e.pool.ApplyTransactionsFromBlock(b, true)
	require.NoError(t, err)
	require.Equal(t, before, snap.Checksum(), "a co-signature the block doesn't cite can't complete the round")

	_, err = e.pool.ApplyTransactionsFromBlock(b, false)
	require.NoError(t, err)
	require.Equal(t, before, e.wallets.Checksum())
	require.Equal(t, uint64(0), e.wallets.Balance(e.addrs[2]))
	require.Equal(t, uint64(0), e.pool.Get(origin.ID).Applied)
	require.Equal(t, uint64(0), e.pool.Get(cosign.ID).Applied)

	// A co-signature cited without its origin leaves the round pending too.
	_, err = e.pool.ApplyTransactionsFromBlock(newBlock(2, cosign), false)
	require.NoError(t, err)
	require.Equal(t, uint64(0), e.wallets.Balance(e.addrs[2]))

	_, err = e.pool.ApplyTransactionsFromBlock(newBlock(3, origin, cosign), false)
	require.NoError(t, err)
	require.Equal(t, uint64(10), e.wallets.Balance(e.addrs[2]))
	require.Equal(t, uint64(88), e.wallets.Balance(e.addrs[0]))
	require.Equal(t, uint64(3), e.pool.Get(origin.ID).Applied)
}

func Test_MultisigCosignMismatch(t *testing.T) {
	owner := wallet.Wallet{Balance: 100, Type: wallet.TypeMultisig, RequiredSigs: 2}
	e := newEnv(t, false)
	owner.Address = e.addrs[0]
	owner.AllowedSigners = []string{e.addrs[1]}
	e.wallets.SetWallet(owner)

	origin := signed(t, transaction.NewMultisig(e.addrs[0], map[string]uint64{e.addrs[2]: 10}, 1, 0, 1, ""), e.pks[0])
	require.NoError(t, e.pool.Add(origin, false))

	cosign := signed(t, transaction.NewMultisig(e.addrs[0], map[string]uint64{e.addrs[2]: 90}, 1, 0, 2, origin.ID), e.pks[1])
	require.ErrorIs(t, e.pool.Add(cosign, false), txpool.ErrOriginMismatch)

	stranger := signed(t, transaction.NewMultisig(e.addrs[0], map[string]uint64{e.addrs[2]: 10}, 1, 0, 3, origin.ID), e.pks[2])
	require.ErrorIs(t, e.pool.Add(stranger, false), txpool.ErrNotAllowedSigner)
}

func Test_StakingRewards(t *testing.T) {
	e := newEnv(t, false)

	target := block.New(1, nil, nil, 1, 1700000000)
	target.Seal()
	for _, pk := range e.pks[:2] {
		_, err := target.ApplySignature(pk, true)
		require.NoError(t, err)
	}
	require.NoError(t, e.chain.Append(target))

	txs := e.pool.GenerateStakingTransactions(1)
	require.Len(t, txs, 2)

	again := e.pool.GenerateStakingTransactions(1)
	require.Equal(t, txs[0].ID, again[0].ID)

	_, err := e.pool.ApplyTransactionsFromBlock(newBlock(1+transaction.StakingDelay, txs...), false)
	require.NoError(t, err)

	require.Equal(t, uint64(50), e.wallets.Balance(e.addrs[0]))
	require.Equal(t, uint64(50), e.wallets.Balance(e.addrs[1]))

	_, err = e.pool.ApplyTransactionsFromBlock(newBlock(2+transaction.StakingDelay, txs...), true)
	require.Error(t, err)
}

func Test_UnappliedOrder(t *testing.T) {
	e := newEnv(t, false)
	e.wallets.SetWalletBalance(e.addrs[0], 1000)

	var ids []string
	for _, nonce := range []uint64{3, 1, 2} {
		tx := signed(t, transaction.NewNormal(e.addrs[0], map[string]uint64{e.addrs[1]: 10}, 1, 0, nonce), e.pks[0])
		require.NoError(t, e.pool.Add(tx, false))
		ids = append(ids, tx.ID)
	}

	got := e.pool.Unapplied()
	require.Len(t, got, 3)
	require.Equal(t, []string{ids[1], ids[2], ids[0]}, []string{got[0].ID, got[1].ID, got[2].ID})
}
