// Package processor drives consensus while the node operates: it proposes
// blocks, collects signatures for the working candidate and commits it once
// it reaches quorum.
package processor

import (
	"crypto/ecdsa"
	"errors"
	"sync"
	"time"

	"github.com/ardanlabs/dlt/foundation/blockchain/block"
	"github.com/ardanlabs/dlt/foundation/blockchain/chain"
	"github.com/ardanlabs/dlt/foundation/blockchain/protocol"
	"github.com/ardanlabs/dlt/foundation/blockchain/signature"
	"github.com/ardanlabs/dlt/foundation/blockchain/transaction"
	"github.com/ardanlabs/dlt/foundation/blockchain/txpool"
	"github.com/ardanlabs/dlt/foundation/blockchain/wallet"
	"go.uber.org/zap"
)

// Defaults used when the configuration leaves a value unset.
const (
	DefaultBlockInterval = 30 * time.Second
	defaultMaxTxs        = 2000
	deferredTTL          = 2 * time.Minute
	requestRetry         = 10 * time.Second
)

// Config represents the configuration required to construct the processor.
type Config struct {
	Chain         *chain.BlockChain
	Pool          *txpool.Pool
	Wallets       *wallet.State
	Network       protocol.Network
	Signer        *ecdsa.PrivateKey
	Log           *zap.SugaredLogger
	BlockInterval time.Duration
	Difficulty    uint64
	MaxTxs        int

	// OnCommit is called after a block is appended to the chain.
	OnCommit func(b *block.Block)

	// OnBehind is called when a peer proposes a block above the next
	// height, meaning this node fell behind.
	OnBehind func(height uint64, from string)
}

type deferredBlock struct {
	block *block.Block
	from  string
	at    time.Time
}

// Processor manages the working candidate block.
type Processor struct {
	mu             sync.Mutex
	state          SubState
	candidate      *block.Block
	lastBlockTime  time.Time
	forceNew       bool
	firstAfterSync bool
	deferred       map[string]deferredBlock

	reqMu     sync.Mutex
	requested map[string]time.Time

	chain      *chain.BlockChain
	pool       *txpool.Pool
	wallets    *wallet.State
	network    protocol.Network
	signer     *ecdsa.PrivateKey
	address    string
	log        *zap.SugaredLogger
	interval   time.Duration
	difficulty uint64
	maxTxs     int
	onCommit   func(b *block.Block)
	onBehind   func(height uint64, from string)
}

// New constructs a processor.
func New(cfg Config) *Processor {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop().Sugar()
	}
	if cfg.BlockInterval == 0 {
		cfg.BlockInterval = DefaultBlockInterval
	}
	if cfg.MaxTxs == 0 {
		cfg.MaxTxs = defaultMaxTxs
	}

	p := Processor{
		deferred:   make(map[string]deferredBlock),
		requested:  make(map[string]time.Time),
		chain:      cfg.Chain,
		pool:       cfg.Pool,
		wallets:    cfg.Wallets,
		network:    cfg.Network,
		signer:     cfg.Signer,
		address:    signature.PrivateKeyToAddress(cfg.Signer),
		log:        cfg.Log,
		interval:   cfg.BlockInterval,
		difficulty: cfg.Difficulty,
		maxTxs:     cfg.MaxTxs,
		onCommit:   cfg.OnCommit,
		onBehind:   cfg.OnBehind,
	}

	return &p
}

// =============================================================================

// Tick runs one scheduler pass: deferred blocks are retried, the working
// candidate is committed when it reached quorum and a new block is
// generated when the block interval elapsed or a new block was forced.
func (p *Processor) Tick(now time.Time) {
	for _, d := range p.takeDeferred(now) {
		p.OnBlockReceived(d.block, d.from)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.firstAfterSync {
		p.firstAfterSync = false
		p.lastBlockTime = now
	}

	if p.candidate != nil {
		p.tryCommitLocked(now)
	}

	if p.candidate != nil {
		return
	}

	if p.forceNew || now.Sub(p.lastBlockTime) >= p.interval {
		if err := p.generateLocked(now); err != nil {
			p.log.Errorw("processor: Tick: generate block", "ERROR", err)
		}
	}
}

// ForceNewBlock makes the next tick generate a block regardless of the
// block interval.
func (p *Processor) ForceNewBlock() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.forceNew = true
}

// SetFirstBlockAfterSync tells the processor the node just finished
// synchronizing. The next tick restarts the block timer instead of
// assuming the node is late.
func (p *Processor) SetFirstBlockAfterSync() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.firstAfterSync = true
	p.candidate = nil
	p.state = Idle
	clear(p.deferred)
}

// GenerateBlock proposes a block on top of the tip and broadcasts it.
func (p *Processor) GenerateBlock() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.generateLocked(time.Now())
}

// State returns the sub-state and the working candidate.
func (p *Processor) State() (SubState, *block.Block) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.candidate == nil {
		return p.state, nil
	}
	return p.state, p.candidate.Copy()
}

// =============================================================================

// OnBlockReceived handles a candidate or committed block sent by a peer.
func (p *Processor) OnBlockReceived(b *block.Block, from string) {
	last := p.chain.LastHeight()

	switch {
	case b.Height <= last:
		p.refresh(b)
		return

	case b.Height > last+1:
		p.log.Infow("processor: OnBlockReceived: block ahead of chain", "height", b.Height, "last", last, "from", from)
		if p.onBehind != nil {
			p.onBehind(b.Height, from)
		}
		return
	}

	switch p.VerifyBlock(b, from, false) {
	case Indeterminate:
		p.deferBlock(b, from)
		return
	case Invalid:
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// The chain may have moved while verifying.
	if b.Height != p.chain.LastHeight()+1 {
		return
	}

	var changed bool
	switch {
	case p.candidate == nil || p.candidate.Height != b.Height:
		p.candidate = b
		p.state = Proposing
		changed = true
		p.log.Infow("processor: OnBlockReceived: adopted candidate", "height", b.Height, "checksum", signature.Hex(b.Checksum), "sigs", b.SignatureCount())

	case signature.Equal(p.candidate.Checksum, b.Checksum):
		if p.candidate.AddSignaturesFrom(b) > 0 {
			changed = true
		}

	case b.SignatureCount() > p.candidate.SignatureCount():
		p.log.Infow("processor: OnBlockReceived: replaced candidate", "height", b.Height, "old", signature.Hex(p.candidate.Checksum), "new", signature.Hex(b.Checksum), "sigs", b.SignatureCount())
		p.candidate = b
		changed = true
	}

	signed, err := p.signLocked()
	if err != nil {
		p.log.Errorw("processor: OnBlockReceived: sign", "ERROR", err)
	}

	if signed || (changed && p.candidate.SignatureCount() > b.SignatureCount()) {
		p.broadcastBlock(p.candidate)
	}

	p.tryCommitLocked(time.Now())
}

// OnSignatureReceived handles a single signature announced for a block.
func (p *Processor) OnSignatureReceived(sig protocol.NewBlockSignature) {
	p.OnBlockSignaturesReceived(protocol.BlockSignatures{
		Height:     sig.Height,
		Checksum:   sig.Checksum,
		Signatures: []protocol.SignatureData{{Sig: sig.Signature, Signer: sig.Signer}},
	})
}

// OnBlockSignaturesReceived merges signatures for the working candidate or
// for a committed block still inside the edit horizon.
func (p *Processor) OnBlockSignaturesReceived(bs protocol.BlockSignatures) {
	sigs := make([]block.Signature, len(bs.Signatures))
	for i, s := range bs.Signatures {
		sigs[i] = block.Signature{Sig: s.Sig, Signer: s.Signer}
	}

	p.mu.Lock()
	if c := p.candidate; c != nil && c.Height == bs.Height && signature.Equal(c.Checksum, bs.Checksum) {
		var added int
		for _, s := range block.FilterValidSignatures(c.Checksum, sigs, p.wallets.PublicKey) {
			if c.AddSignature(s) {
				added++
			}
		}
		if added > 0 {
			p.broadcastBlock(c)
			p.tryCommitLocked(time.Now())
		}
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	local := p.chain.Block(bs.Height)
	if local == nil || !signature.Equal(local.Checksum, bs.Checksum) {
		return
	}

	candidate := local.Copy()
	candidate.SetSignatures(sigs)
	p.refresh(candidate)
}

// ServeBlockSignatures answers a request for the signatures of a block.
func (p *Processor) ServeBlockSignatures(req protocol.GetBlockSignatures) (protocol.BlockSignatures, bool) {
	var b *block.Block

	p.mu.Lock()
	if c := p.candidate; c != nil && c.Height == req.Height && signature.Equal(c.Checksum, req.Checksum) {
		b = c
	}
	p.mu.Unlock()

	if b == nil {
		if local := p.chain.Block(req.Height); local != nil && signature.Equal(local.Checksum, req.Checksum) {
			b = local
		}
	}

	if b == nil {
		return protocol.BlockSignatures{}, false
	}

	sigs := b.Signatures()
	resp := protocol.BlockSignatures{
		Height:     b.Height,
		Checksum:   b.Checksum,
		Signatures: make([]protocol.SignatureData, len(sigs)),
	}
	for i, s := range sigs {
		resp.Signatures[i] = protocol.SignatureData{Sig: s.Sig, Signer: s.Signer}
	}

	return resp, true
}

// =============================================================================

// generateLocked builds the next block from the unapplied transactions and
// the staking rewards for the block whose signatures just froze.
func (p *Processor) generateLocked(now time.Time) error {
	p.forceNew = false
	p.lastBlockTime = now

	height := p.chain.LastHeight() + 1

	var ids []string
	if height > transaction.StakingDelay {
		for _, tx := range p.pool.GenerateStakingTransactions(height - transaction.StakingDelay) {
			ids = append(ids, tx.ID)
		}
	}
	for _, tx := range p.pool.Unapplied() {
		if len(ids) >= p.maxTxs {
			break
		}
		ids = append(ids, tx.ID)
	}

	var b *block.Block
	for {
		b = block.New(height, p.chain.LastChecksum(), ids, p.difficulty, now.Unix())
		b.SignatureFreezeChecksum = p.chain.SignatureFreezeChecksum(height)

		delta, err := p.pool.ApplyTransactionsFromBlock(b, true)
		if err == nil {
			b.AccountStateChecksum = delta.Checksum()
			break
		}

		var rejected *txpool.RejectedError
		if !errors.As(err, &rejected) {
			return err
		}

		// Drop the transactions that can't be applied and try again.
		for _, id := range rejected.IDs {
			p.pool.Remove(id)
		}
		ids = without(ids, rejected.IDs)
	}

	b.Seal()

	if _, err := b.ApplySignature(p.signer, p.embedPublicKey()); err != nil {
		return err
	}

	p.candidate = b
	p.state = Proposing

	p.log.Infow("processor: generateLocked: proposed block", "height", height, "txs", len(ids), "checksum", signature.Hex(b.Checksum))

	p.broadcastBlock(b)
	p.tryCommitLocked(now)

	return nil
}

// tryCommitLocked commits the working candidate once it carries the
// required quorum. Below quorum the candidate is kept for a later tick.
func (p *Processor) tryCommitLocked(now time.Time) {
	b := p.candidate
	if b == nil {
		return
	}

	if b.Height <= p.chain.LastHeight() {
		p.candidate = nil
		p.state = Idle
		return
	}

	quorum := p.chain.RequiredQuorum()
	if b.SignatureCount() < quorum {
		return
	}

	if err := p.chain.CanAppend(b); err != nil {
		p.log.Errorw("processor: tryCommitLocked: can't append", "height", b.Height, "ERROR", err)
		p.candidate = nil
		p.state = Idle
		return
	}

	snap, err := p.pool.ApplyTransactionsFromBlock(b, true)
	if err != nil {
		p.log.Errorw("processor: tryCommitLocked: apply transactions", "height", b.Height, "ERROR", err)
		p.candidate = nil
		p.state = Idle
		return
	}

	if !signature.Equal(snap.Checksum(), b.AccountStateChecksum) {
		p.log.Errorw("processor: tryCommitLocked: account state checksum mismatch", "height", b.Height, "recorded", signature.Hex(b.AccountStateChecksum), "actual", signature.Hex(snap.Checksum()))
		p.candidate = nil
		p.state = Idle
		return
	}

	if _, err := p.pool.ApplyTransactionsFromBlock(b, false); err != nil {
		p.log.Errorw("processor: tryCommitLocked: apply transactions", "height", b.Height, "ERROR", err)
		p.candidate = nil
		p.state = Idle
		return
	}

	if err := p.chain.Append(b); err != nil {
		p.log.Errorw("processor: tryCommitLocked: append", "height", b.Height, "ERROR", err)
		p.candidate = nil
		p.state = Idle
		return
	}

	p.pool.Redact(b.Height)

	p.candidate = nil
	p.state = Idle
	p.lastBlockTime = now

	p.log.Infow("processor: tryCommitLocked: committed block", "height", b.Height, "sigs", b.SignatureCount(), "quorum", quorum, "txs", len(b.TransactionIDs))

	if p.onCommit != nil {
		p.onCommit(b)
	}
}

// signLocked adds this node's signature to the working candidate.
func (p *Processor) signLocked() (bool, error) {
	if p.candidate == nil {
		return false, nil
	}
	return p.candidate.ApplySignature(p.signer, p.embedPublicKey())
}

// refresh merges late signatures into a committed block.
func (p *Processor) refresh(b *block.Block) {
	added, err := p.chain.RefreshSignatures(b, p.wallets.PublicKey)
	switch {
	case err != nil:
		p.log.Debugw("processor: refresh", "height", b.Height, "ERROR", err)
	case added > 0:
		p.log.Infow("processor: refresh: merged signatures", "height", b.Height, "added", added)
	}
}

// embedPublicKey reports whether signatures must carry the public key
// because the account state doesn't know it yet.
func (p *Processor) embedPublicKey() bool {
	return len(p.wallets.PublicKey(p.address)) == 0
}

// =============================================================================

func (p *Processor) deferBlock(b *block.Block, from string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := signature.Hex(b.Checksum)
	if d, exists := p.deferred[key]; exists {
		d.block.AddSignaturesFrom(b)
		return
	}
	p.deferred[key] = deferredBlock{block: b, from: from, at: time.Now()}
}

// takeDeferred removes and returns the deferred blocks worth retrying.
func (p *Processor) takeDeferred(now time.Time) []deferredBlock {
	p.mu.Lock()
	defer p.mu.Unlock()

	last := p.chain.LastHeight()

	var retry []deferredBlock
	for key, d := range p.deferred {
		switch {
		case d.block.Height <= last || now.Sub(d.at) > deferredTTL:
			delete(p.deferred, key)
		case d.block.Height == last+1:
			delete(p.deferred, key)
			retry = append(retry, d)
		}
	}

	return retry
}

func (p *Processor) requestTransactions(height uint64, ids []string, from string) {
	now := time.Now()

	p.reqMu.Lock()
	var ask []string
	for _, id := range ids {
		if at, exists := p.requested[id]; exists && now.Sub(at) < requestRetry {
			continue
		}
		p.requested[id] = now
		ask = append(ask, id)
	}
	for id, at := range p.requested {
		if now.Sub(at) > deferredTTL {
			delete(p.requested, id)
		}
	}
	p.reqMu.Unlock()

	if len(ask) == 0 {
		return
	}

	p.send(from, protocol.CodeGetBlockTransactions, protocol.GetBlockTransactions{Height: height, IDs: ask})
}

func (p *Processor) broadcastBlock(b *block.Block) {
	if p.network == nil {
		return
	}
	p.network.Broadcast(protocol.CodeNewBlock, protocol.BlockData{Block: b.Bytes()})
}

// send targets the peer when known and broadcasts otherwise.
func (p *Processor) send(host string, code protocol.Code, payload any) {
	if p.network == nil {
		return
	}

	if host == "" {
		p.network.Broadcast(code, payload)
		return
	}

	if err := p.network.Send(host, code, payload); err != nil {
		p.log.Infow("processor: send", "host", host, "code", code, "ERROR", err)
		p.network.Broadcast(code, payload)
	}
}

func without(ids []string, drop []string) []string {
	m := make(map[string]struct{}, len(drop))
	for _, id := range drop {
		m[id] = struct{}{}
	}

	keep := ids[:0]
	for _, id := range ids {
		if _, exists := m[id]; !exists {
			keep = append(keep, id)
		}
	}

	return keep
}
