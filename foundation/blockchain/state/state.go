// Package state is the core API for the blockchain node. It assembles the
// chain, account state, transaction pool, block processor and block sync,
// owns the node mode and routes peer messages to the right component.
package state

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ardanlabs/dlt/foundation/blockchain/block"
	"github.com/ardanlabs/dlt/foundation/blockchain/blocksync"
	"github.com/ardanlabs/dlt/foundation/blockchain/chain"
	"github.com/ardanlabs/dlt/foundation/blockchain/genesis"
	"github.com/ardanlabs/dlt/foundation/blockchain/metrics"
	"github.com/ardanlabs/dlt/foundation/blockchain/network"
	"github.com/ardanlabs/dlt/foundation/blockchain/peer"
	"github.com/ardanlabs/dlt/foundation/blockchain/processor"
	"github.com/ardanlabs/dlt/foundation/blockchain/protocol"
	"github.com/ardanlabs/dlt/foundation/blockchain/signature"
	"github.com/ardanlabs/dlt/foundation/blockchain/storage"
	"github.com/ardanlabs/dlt/foundation/blockchain/transaction"
	"github.com/ardanlabs/dlt/foundation/blockchain/txpool"
	"github.com/ardanlabs/dlt/foundation/blockchain/wallet"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// =============================================================================

// EventHandler defines a function that is called when events
// occur in the processing of blocks and messages.
type EventHandler func(v string, args ...any)

// Worker interface represents the behavior required to be implemented by any
// package providing support for the scheduler and peer updates.
type Worker interface {
	Shutdown()
	SignalForceBlock()
	SignalHello()
}

// Mode is the operating mode of the node.
type Mode int32

// Set of node modes.
const (
	ModeSynchronizing Mode = iota + 1
	ModeOperating
)

// String implements the fmt.Stringer interface.
func (m Mode) String() string {
	switch m {
	case ModeSynchronizing:
		return "synchronizing"
	case ModeOperating:
		return "operating"
	}
	return fmt.Sprintf("mode(%d)", int32(m))
}

// =============================================================================

// Consensus holds the consensus parameters of the node.
type Consensus struct {
	BlockInterval  time.Duration
	ConsensusRatio uint64
	RedactedWindow uint64
	Difficulty     uint64
	MinFee         uint64
	PowReward      uint64
	StakingReward  uint64
	Strategy       string
	MaxTxsPerBlock int
}

// Sync holds the synchronization parameters of the node.
type Sync struct {
	ChunkSize        int
	MaxBlockRequests int
	RequestTimeout   time.Duration
	Watchdog         time.Duration
}

// Config represents the configuration required to start
// the blockchain node.
type Config struct {
	Signer      *ecdsa.PrivateKey
	Host        string
	Genesis     genesis.Genesis
	GenesisNode bool
	Storage     storage.Engine
	KnownPeers  *peer.PeerSet
	Network     protocol.Network
	Metrics     *metrics.Metrics
	Log         *zap.SugaredLogger
	EvHandler   EventHandler
	Consensus   Consensus
	Sync        Sync
}

// State manages the blockchain node.
type State struct {
	mode      atomic.Int32
	host      string
	address   string
	evHandler EventHandler
	log       *zap.SugaredLogger
	metrics   *metrics.Metrics

	knownPeers *peer.PeerSet
	genesis    genesis.Genesis
	storage    *storage.Storage
	chain      *chain.BlockChain
	wallets    *wallet.State
	pool       *txpool.Pool
	processor  *processor.Processor
	sync       *blocksync.Sync
	network    protocol.Network
	transport  *network.Network
	seen       *protocol.Seen

	Worker Worker
}

// seenSize is the number of broadcast messages remembered for dedup.
const seenSize = 10000

// New constructs a new blockchain node. The stored chain is replayed to
// rebuild the account state. An empty genesis node proposes the genesis
// block, any other empty node starts synchronizing.
func New(cfg Config) (*State, error) {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	if cfg.Signer == nil {
		return nil, errors.New("signer key is required")
	}
	if cfg.Storage == nil {
		return nil, errors.New("storage engine is required")
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop().Sugar()
	}
	if cfg.KnownPeers == nil {
		cfg.KnownPeers = peer.NewPeerSet()
	}

	seen, err := protocol.NewSeen(seenSize)
	if err != nil {
		return nil, err
	}

	s := State{
		host:       cfg.Host,
		address:    signature.PrivateKeyToAddress(cfg.Signer),
		evHandler:  ev,
		log:        cfg.Log,
		metrics:    cfg.Metrics,
		knownPeers: cfg.KnownPeers,
		genesis:    cfg.Genesis,
		wallets:    wallet.New(),
		network:    cfg.Network,
		seen:       seen,
	}

	if s.network == nil {
		s.transport = network.New(network.Config{
			Host:    cfg.Host,
			Peers:   cfg.KnownPeers,
			Log:     cfg.Log,
			Metrics: cfg.Metrics,
		})
		s.network = s.transport
	}

	// Access the storage for the blockchain.
	s.storage = storage.New(cfg.Storage, cfg.Log)

	s.chain, err = chain.New(chain.Config{
		Storage:        s.storage,
		Log:            cfg.Log,
		RedactedWindow: cfg.Consensus.RedactedWindow,
		ConsensusRatio: cfg.Consensus.ConsensusRatio,
	})
	if err != nil {
		return nil, s.abort(err)
	}

	s.pool, err = txpool.New(txpool.Config{
		Chain:         s.chain,
		Wallets:       s.wallets,
		Storage:       s.storage,
		Log:           cfg.Log,
		MinFee:        cfg.Consensus.MinFee,
		PowReward:     cfg.Consensus.PowReward,
		StakingReward: cfg.Consensus.StakingReward,
		Strategy:      cfg.Consensus.Strategy,
		Synchronizing: s.IsSynchronizing,
		Broadcast:     s.broadcastTransaction,
	})
	if err != nil {
		return nil, s.abort(err)
	}

	s.processor = processor.New(processor.Config{
		Chain:         s.chain,
		Pool:          s.pool,
		Wallets:       s.wallets,
		Network:       s.network,
		Signer:        cfg.Signer,
		Log:           cfg.Log,
		BlockInterval: cfg.Consensus.BlockInterval,
		Difficulty:    cfg.Consensus.Difficulty,
		MaxTxs:        cfg.Consensus.MaxTxsPerBlock,
		OnCommit:      s.onCommit,
		OnBehind:      s.onBehind,
	})

	s.sync = blocksync.New(blocksync.Config{
		Chain:            s.chain,
		Pool:             s.pool,
		Wallets:          s.wallets,
		Storage:          s.storage,
		Network:          s.network,
		Verifier:         s.processor,
		Log:              cfg.Log,
		ChunkSize:        cfg.Sync.ChunkSize,
		MaxBlockRequests: cfg.Sync.MaxBlockRequests,
		RequestTimeout:   cfg.Sync.RequestTimeout,
		Watchdog:         cfg.Sync.Watchdog,
		OnComplete:       s.onSyncComplete,
		OnStateChange:    s.onSyncStateChange,
	})

	if err := s.restore(); err != nil {
		return nil, s.abort(err)
	}

	switch {
	case s.chain.Count() > 0:
		s.setMode(ModeOperating)

	case cfg.GenesisNode:
		s.setMode(ModeOperating)
		for _, tx := range s.genesis.Transactions() {
			if err := s.pool.Add(tx, false); err != nil {
				return nil, s.abort(fmt.Errorf("adding genesis transaction: %w", err))
			}
		}
		s.processor.ForceNewBlock()
		ev("state: New: genesis node: balances[%d]", len(s.genesis.Balances))

	default:
		s.setMode(ModeSynchronizing)
		s.sync.StartSync(0)
	}

	s.metrics.SetHeight(s.chain.LastHeight())

	// The Worker is not set here. The call to worker.Run will assign itself
	// and start everything up and running for the node.

	return &s, nil
}

// Shutdown cleanly brings the node down.
func (s *State) Shutdown() error {
	s.evHandler("state: shutdown: started")
	defer s.evHandler("state: shutdown: completed")

	// Stop all blockchain writing activity.
	if s.Worker != nil {
		s.Worker.Shutdown()
	}

	if s.transport != nil {
		s.transport.Shutdown()
	}

	// Make sure the database is properly closed.
	return s.storage.Close()
}

// abort releases what New acquired before failing.
func (s *State) abort(err error) error {
	if s.transport != nil {
		s.transport.Shutdown()
	}
	if s.storage != nil {
		err = multierr.Append(err, s.storage.Close())
	}
	return err
}

// =============================================================================

// Mode returns the current node mode.
func (s *State) Mode() Mode {
	return Mode(s.mode.Load())
}

// IsSynchronizing reports whether the node is catching up with the network.
func (s *State) IsSynchronizing() bool {
	return s.Mode() == ModeSynchronizing
}

func (s *State) setMode(m Mode) {
	if old := Mode(s.mode.Swap(int32(m))); old != m {
		s.evHandler("state: mode: %s", m)
	}
}

// Tick runs a scheduler pass of the components. The processor only runs
// while the node operates.
func (s *State) Tick(now time.Time) {
	s.sync.Tick(now)

	if !s.IsSynchronizing() {
		s.processor.Tick(now)
	}

	s.metrics.SetPoolSize(s.pool.Count())
	s.metrics.SetPeers(len(s.network.Peers()))
}

// ForceNewBlock makes the next tick propose a block.
func (s *State) ForceNewBlock() {
	s.processor.ForceNewBlock()
}

// =============================================================================

// restore replays the stored chain to rebuild the account state. A stored
// chain that doesn't start at the first block, as left behind by a
// synchronization, can't be replayed and is used as a backfill source
// instead.
func (s *State) restore() error {
	latest, err := s.storage.LatestHeight()
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}

	if latest == 0 {
		return nil
	}

	if _, err := s.storage.Block(1); err != nil {
		s.evHandler("state: restore: stored chain starts after the genesis block, synchronizing")
		return nil
	}

	for h := uint64(1); h <= latest; h++ {
		b, err := s.storage.Block(h)
		if err != nil {
			s.evHandler("state: restore: block[%d]: %s", h, err)
			break
		}

		if h > transaction.StakingDelay {
			s.pool.GenerateStakingTransactions(h - transaction.StakingDelay)
		}

		if _, err := s.pool.ApplyTransactionsFromBlock(b, false); err != nil {
			s.evHandler("state: restore: apply block[%d]: %s", h, err)
			break
		}

		if err := s.chain.Append(b); err != nil {
			return fmt.Errorf("restoring block %d: %w", h, err)
		}
	}

	s.evHandler("state: restore: height[%d] wallets[%d]", s.chain.LastHeight(), s.wallets.Count())

	return nil
}

// =============================================================================

func (s *State) onCommit(b *block.Block) {
	s.evHandler("state: block committed: height[%d] checksum[%s] txs[%d] sigs[%d]", b.Height, signature.Hex(b.Checksum), len(b.TransactionIDs), b.SignatureCount())
	s.metrics.BlockCommitted(b.Height)
}

func (s *State) onBehind(height uint64, from string) {
	if s.sync.Synchronizing() {
		return
	}

	s.evHandler("state: behind: peer[%s] height[%d] local[%d]", from, height, s.chain.LastHeight())

	s.setMode(ModeSynchronizing)
	s.sync.StartSync(height)
}

func (s *State) onSyncStateChange(from, to blocksync.State) {
	s.evHandler("state: sync: %s -> %s", from, to)
	s.metrics.SetSyncState(int(to))

	if from == blocksync.Idle {
		s.setMode(ModeSynchronizing)
	}
}

func (s *State) onSyncComplete() {
	s.evHandler("state: sync: completed: height[%d]", s.chain.LastHeight())
	s.metrics.SetHeight(s.chain.LastHeight())

	s.processor.SetFirstBlockAfterSync()
	s.setMode(ModeOperating)

	if s.Worker != nil {
		s.Worker.SignalHello()
	}
}

func (s *State) broadcastTransaction(tx *transaction.Transaction) {
	data, err := tx.Bytes()
	if err != nil {
		s.log.Errorw("state: broadcast transaction", "id", tx.ID, "ERROR", err)
		return
	}

	s.network.Broadcast(protocol.CodeNewTransaction, protocol.TransactionData{Tx: data})
}
