// Package blocksync catches a node up with the network: it transfers the
// account state from a peer, backfills the blocks of the redacted window
// and rolls the chain forward to the target height.
package blocksync

import (
	"slices"
	"sync"
	"time"

	"github.com/ardanlabs/dlt/foundation/blockchain/block"
	"github.com/ardanlabs/dlt/foundation/blockchain/chain"
	"github.com/ardanlabs/dlt/foundation/blockchain/processor"
	"github.com/ardanlabs/dlt/foundation/blockchain/protocol"
	"github.com/ardanlabs/dlt/foundation/blockchain/signature"
	"github.com/ardanlabs/dlt/foundation/blockchain/txpool"
	"github.com/ardanlabs/dlt/foundation/blockchain/wallet"
	"github.com/google/btree"
	"go.uber.org/zap"
)

// Defaults used when the configuration leaves a value unset.
const (
	DefaultChunkSize        = 500
	DefaultMaxBlockRequests = 50
	DefaultRequestTimeout   = 10 * time.Second
	DefaultWatchdog         = 120 * time.Second
)

// Verifier interface represents the block verification used while rolling
// forward.
type Verifier interface {
	VerifyBlock(b *block.Block, from string, skipAccountState bool) processor.Verdict
}

// BlockStore interface represents the persisted blocks checked before
// asking peers.
type BlockStore interface {
	Block(height uint64) (*block.Block, error)
}

// Config represents the configuration required to construct the
// synchronizer.
type Config struct {
	Chain            *chain.BlockChain
	Pool             *txpool.Pool
	Wallets          *wallet.State
	Storage          BlockStore
	Network          protocol.Network
	Verifier         Verifier
	Log              *zap.SugaredLogger
	ChunkSize        int
	MaxBlockRequests int
	RequestTimeout   time.Duration
	Watchdog         time.Duration

	// OnComplete is called once the chain reached the target height.
	OnComplete func()

	// OnStateChange is called on every phase transition.
	OnStateChange func(from, to State)
}

// snapshot is the account state served to synchronizing peers.
type snapshot struct {
	height   uint64
	checksum []byte
	count    int
	chunks   []wallet.Chunk
}

// Sync drives a single synchronization attempt at a time.
type Sync struct {
	mu    sync.Mutex
	state State

	target       uint64
	start        uint64
	peer         string
	excluded     map[string]struct{}
	headerAsked  time.Time
	lastProgress time.Time

	wsHeight   uint64
	wsChecksum []byte
	chunkCount int
	chunks     map[int]wallet.Chunk
	missing    map[int]time.Time

	pending   *btree.BTreeG[*block.Block]
	requested map[uint64]time.Time
	untrusted map[uint64]struct{}

	serveMu sync.Mutex
	served  *snapshot

	chain         *chain.BlockChain
	pool          *txpool.Pool
	wallets       *wallet.State
	storage       BlockStore
	network       protocol.Network
	verifier      Verifier
	log           *zap.SugaredLogger
	chunkSize     int
	maxRequests   int
	timeout       time.Duration
	watchdog      time.Duration
	onComplete    func()
	onStateChange func(from, to State)
}

// New constructs an idle synchronizer.
func New(cfg Config) *Sync {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop().Sugar()
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.MaxBlockRequests == 0 {
		cfg.MaxBlockRequests = DefaultMaxBlockRequests
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Watchdog == 0 {
		cfg.Watchdog = DefaultWatchdog
	}

	s := Sync{
		excluded:      make(map[string]struct{}),
		chunks:        make(map[int]wallet.Chunk),
		missing:       make(map[int]time.Time),
		pending:       newPending(),
		requested:     make(map[uint64]time.Time),
		untrusted:     make(map[uint64]struct{}),
		chain:         cfg.Chain,
		pool:          cfg.Pool,
		wallets:       cfg.Wallets,
		storage:       cfg.Storage,
		network:       cfg.Network,
		verifier:      cfg.Verifier,
		log:           cfg.Log,
		chunkSize:     cfg.ChunkSize,
		maxRequests:   cfg.MaxBlockRequests,
		timeout:       cfg.RequestTimeout,
		watchdog:      cfg.Watchdog,
		onComplete:    cfg.OnComplete,
		onStateChange: cfg.OnStateChange,
	}

	return &s
}

func newPending() *btree.BTreeG[*block.Block] {
	return btree.NewG(16, func(a, b *block.Block) bool {
		return a.Height < b.Height
	})
}

// =============================================================================

// State returns the current phase and the target height.
func (s *Sync) State() (State, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state, s.target
}

// Synchronizing reports whether an attempt is in progress.
func (s *Sync) Synchronizing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state != Idle
}

// StartSync begins a synchronization attempt toward the target height and
// clears all pending sync state first. A node whose chain is inside the
// redacted window of the target keeps its account state and only fetches
// the missing blocks. Otherwise the account state is transferred from a
// peer whose height becomes the target.
func (s *Sync) StartSync(targetHeight uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.startLocked(targetHeight, s.pickPeerLocked(), time.Now())
}

// OnHello handles the announced height of a peer. It returns true when a
// synchronization attempt was started.
func (s *Sync) OnHello(from string, hello protocol.Hello) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Idle:
		// A single block lead means the peer is committing the block this
		// node is still collecting signatures for.
		if !hello.Operating || hello.Height <= s.chain.LastHeight()+1 {
			return false
		}
		s.log.Infow("blocksync: OnHello: peer ahead", "peer", from, "height", hello.Height, "local", s.chain.LastHeight())
		s.startLocked(hello.Height, from, time.Now())
		return true

	case BackfillingBlocks, RollingForward:
		if hello.Operating && hello.Height > s.target {
			s.log.Infow("blocksync: OnHello: target raised", "peer", from, "from", s.target, "to", hello.Height)
			s.target = hello.Height
			if s.state == RollingForward {
				s.setStateLocked(BackfillingBlocks)
			}
		}
	}

	return false
}

// OnWalletStateHeader handles the account-state header of the sync peer.
func (s *Sync) OnWalletStateHeader(from string, ws protocol.WalletState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != AwaitingTarget || from != s.peer {
		return
	}

	now := time.Now()

	s.target = ws.Height
	s.wsHeight = ws.Height
	s.wsChecksum = slices.Clone(ws.Checksum)
	s.chunkCount = wallet.ChunkCount(ws.Count, ws.ChunkSize)
	clear(s.chunks)
	clear(s.missing)
	for i := range s.chunkCount {
		s.missing[i] = time.Time{}
	}
	s.lastProgress = now

	s.log.Infow("blocksync: OnWalletStateHeader", "peer", from, "height", ws.Height, "wallets", ws.Count, "chunks", s.chunkCount)

	s.setStateLocked(TransferringAccountState)
	s.transferLocked(now)
}

// OnWalletStateChunk handles a chunk of the account state.
func (s *Sync) OnWalletStateChunk(from string, chunk protocol.WalletStateChunk) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != TransferringAccountState || chunk.Height != s.wsHeight {
		return
	}

	if _, wanted := s.missing[chunk.Index]; !wanted {
		return
	}

	delete(s.missing, chunk.Index)
	s.chunks[chunk.Index] = wallet.Chunk{BlockHeight: chunk.Height, Index: chunk.Index, Wallets: chunk.Wallets}
	s.lastProgress = time.Now()

	s.transferLocked(s.lastProgress)
}

// OnBlockReceived takes a block requested during backfill. It returns true
// when the block was consumed by the synchronizer.
func (s *Sync) OnBlockReceived(b *block.Block, from string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case BackfillingBlocks, RollingForward:
	default:
		return false
	}

	if b.Height < s.start || b.Height > s.target || b.Height <= s.chain.LastHeight() {
		return true
	}

	if existing, exists := s.pending.Get(b); exists {
		if signature.Equal(existing.Checksum, b.Checksum) {
			existing.AddSignaturesFrom(b)
			return true
		}
	}

	s.pending.ReplaceOrInsert(b)
	delete(s.requested, b.Height)
	s.lastProgress = time.Now()

	s.advanceLocked(s.lastProgress)

	return true
}

// OnBlockSignatures merges signatures for a block pinned by a block being
// rolled forward.
func (s *Sync) OnBlockSignatures(bs protocol.BlockSignatures) {
	sigs := make([]block.Signature, len(bs.Signatures))
	for i, sig := range bs.Signatures {
		sigs[i] = block.Signature{Sig: sig.Sig, Signer: sig.Signer}
	}

	local := s.chain.Block(bs.Height)
	if local == nil || !signature.Equal(local.Checksum, bs.Checksum) {
		return
	}

	candidate := local.Copy()
	candidate.SetSignatures(sigs)

	added, err := s.chain.RefreshSignatures(candidate, s.wallets.PublicKey)
	if err != nil {
		s.log.Debugw("blocksync: OnBlockSignatures", "height", bs.Height, "ERROR", err)
		return
	}

	if added > 0 {
		s.mu.Lock()
		s.lastProgress = time.Now()
		s.mu.Unlock()
	}
}

// Tick runs one scheduler pass of the current phase. Requests that went
// unanswered are repeated and an attempt without progress for the watchdog
// period restarts with another peer.
func (s *Sync) Tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Idle && now.Sub(s.lastProgress) > s.watchdog {
		s.log.Infow("blocksync: Tick: watchdog", "state", s.state, "peer", s.peer, "idle", now.Sub(s.lastProgress))
		s.restartLocked(now, true)
		return
	}

	switch s.state {
	case Idle:
	case AwaitingTarget:
		if s.peer == "" || now.Sub(s.headerAsked) > s.timeout {
			s.askHeaderLocked(now)
		}
	case TransferringAccountState:
		s.transferLocked(now)
	case BackfillingBlocks, RollingForward:
		s.advanceLocked(now)
	}
}

// =============================================================================

// ServeWalletStateHeader describes the account state this node can serve.
// It refuses while synchronizing since the state isn't authoritative, and
// while the chain is empty.
func (s *Sync) ServeWalletStateHeader() (protocol.WalletState, bool) {
	if s.Synchronizing() {
		return protocol.WalletState{}, false
	}

	snap := s.snapshot()
	if snap.height == 0 {
		return protocol.WalletState{}, false
	}

	ws := protocol.WalletState{
		Height:    snap.height,
		Count:     snap.count,
		ChunkSize: s.chunkSize,
		Checksum:  snap.checksum,
	}

	return ws, true
}

// ServeWalletStateChunk returns a chunk of the snapshot announced by the
// last header. It refuses while synchronizing.
func (s *Sync) ServeWalletStateChunk(req protocol.GetWalletStateChunk) (protocol.WalletStateChunk, bool) {
	if s.Synchronizing() {
		return protocol.WalletStateChunk{}, false
	}

	s.serveMu.Lock()
	snap := s.served
	s.serveMu.Unlock()

	if snap == nil || snap.height != req.Height || req.Index < 0 || req.Index >= len(snap.chunks) {
		return protocol.WalletStateChunk{}, false
	}

	c := snap.chunks[req.Index]
	return protocol.WalletStateChunk{Height: c.BlockHeight, Index: c.Index, Wallets: c.Wallets}, true
}

// snapshot exports the account state, reusing the last export while no
// block was folded into it. The height is the one recorded by the account
// state itself, so a commit racing the export can't mislabel it.
func (s *Sync) snapshot() *snapshot {
	s.serveMu.Lock()
	defer s.serveMu.Unlock()

	if s.served != nil && s.served.height == s.wallets.Height() {
		return s.served
	}

	height, chunks := s.wallets.Snapshot(s.chunkSize)

	var all []wallet.Wallet
	for _, c := range chunks {
		all = append(all, c.Wallets...)
	}

	s.served = &snapshot{
		height:   height,
		checksum: wallet.New(all...).Checksum(),
		count:    len(all),
		chunks:   chunks,
	}

	return s.served
}
