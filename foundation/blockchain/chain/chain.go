// Package chain maintains the ordered sequence of committed blocks. It keeps
// a bounded window of the newest blocks in memory, persists every block
// through storage and derives the quorum a new block needs from the
// signatures of already committed blocks.
package chain

import (
	"errors"
	"sync"

	"github.com/ardanlabs/dlt/foundation/blockchain/block"
	"github.com/ardanlabs/dlt/foundation/blockchain/signature"
	"github.com/bits-and-blooms/bloom/v3"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

// Set of error variables for chain handling.
var (
	ErrNonSequential    = errors.New("block height is not sequential")
	ErrBadLink          = errors.New("block does not link to the chain tip")
	ErrChecksumMismatch = errors.New("block checksum does not match")
	ErrSignaturesFrozen = errors.New("block signatures are frozen")
	ErrNotFound         = errors.New("block not found")
)

// Defaults used when the configuration leaves a value unset.
const (
	DefaultRedactedWindow = 3000
	DefaultConsensusRatio = 75
	defaultCacheSize      = 256
)

const (
	// blockOffset is the number of newest blocks still collecting signatures.
	// They are left out of the quorum estimate.
	blockOffset = 5

	// quorumSample is the number of blocks averaged for the quorum.
	quorumSample = 10

	// SignatureEditHorizon is how deep a committed block may be and still
	// accept additional signatures. A block deeper than this is pinned by
	// the signature-freeze checksum of a descendant.
	SignatureEditHorizon = 5

	// SignatureFreezeDepth is the distance between a block and the block
	// that pins its signatures.
	SignatureFreezeDepth = SignatureEditHorizon + 1
)

// Storage interface represents the persistence the chain needs.
type Storage interface {
	InsertBlock(b *block.Block)
	Block(height uint64) (*block.Block, error)
	BlockByChecksum(checksum []byte) (*block.Block, error)
}

// Config represents the configuration required to construct the chain.
type Config struct {
	Storage        Storage
	Log            *zap.SugaredLogger
	RedactedWindow uint64
	ConsensusRatio uint64
	CacheSize      int
	TxsPerBlock    uint
}

// BlockChain is the in-memory window of the committed chain.
type BlockChain struct {
	mu          sync.RWMutex
	blocks      []*block.Block
	next        uint64
	storage     Storage
	log         *zap.SugaredLogger
	window      uint64
	ratio       uint64
	cache       *lru.Cache
	txFilter    *bloom.BloomFilter
	txsPerBlock uint
	redacted    uint64
}

// New constructs an empty chain expecting block 1 next.
func New(cfg Config) (*BlockChain, error) {
	if cfg.RedactedWindow == 0 {
		cfg.RedactedWindow = DefaultRedactedWindow
	}
	if cfg.ConsensusRatio == 0 {
		cfg.ConsensusRatio = DefaultConsensusRatio
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = defaultCacheSize
	}
	if cfg.TxsPerBlock == 0 {
		cfg.TxsPerBlock = 1000
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop().Sugar()
	}

	cache, err := lru.New(cfg.CacheSize)
	if err != nil {
		return nil, err
	}

	c := BlockChain{
		next:        1,
		storage:     cfg.Storage,
		log:         cfg.Log,
		window:      cfg.RedactedWindow,
		ratio:       cfg.ConsensusRatio,
		cache:       cache,
		txsPerBlock: cfg.TxsPerBlock,
	}
	c.txFilter = c.newFilter()

	return &c, nil
}

// =============================================================================

// Append adds the next block to the chain. The block must be exactly one
// height above the tip and link to the tip's checksum.
func (c *BlockChain) Append(b *block.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.canAppendLocked(b); err != nil {
		return err
	}

	c.blocks = append(c.blocks, b)
	for _, id := range b.TransactionIDs {
		c.txFilter.AddString(id)
	}

	if c.storage != nil {
		c.storage.InsertBlock(b)
	}

	c.redactLocked()

	return nil
}

// CanAppend reports whether the block would be accepted by Append.
func (c *BlockChain) CanAppend(b *block.Block) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.canAppendLocked(b)
}

// Redact trims the blocks older than the redacted window from memory.
// Append calls it after every block.
func (c *BlockChain) Redact() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.redactLocked()
}

// Reset empties the chain so the next block appended is at nextHeight. The
// first block after a reset is accepted without a link check since its
// predecessor isn't known.
func (c *BlockChain) Reset(nextHeight uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.blocks = nil
	c.next = max(nextHeight, 1)
	c.cache.Purge()
	c.txFilter = c.newFilter()
	c.redacted = 0
}

// Load replaces the chain with the specified consecutive blocks without
// persisting them again. It is used to restore the chain from storage.
func (c *BlockChain) Load(blocks []*block.Block) error {
	if len(blocks) == 0 {
		return nil
	}

	c.Reset(blocks[0].Height)

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, b := range blocks {
		if err := c.canAppendLocked(b); err != nil {
			c.blocks = nil
			return err
		}
		c.blocks = append(c.blocks, b)
		for _, id := range b.TransactionIDs {
			c.txFilter.AddString(id)
		}
	}
	c.redactLocked()

	return nil
}

// =============================================================================

// RequiredQuorum returns the number of signatures a block needs to be
// committed. While the chain holds at most blockOffset blocks it returns 1.
// Otherwise it averages the signature counts of up to quorumSample blocks
// before the newest blockOffset blocks, scales the average by the consensus
// ratio and rounds up, never returning less than 2. Integer arithmetic is
// used throughout so every node computes the same value.
func (c *BlockChain) RequiredQuorum() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := len(c.blocks)
	if n <= blockOffset {
		return 1
	}

	end := n - blockOffset
	start := max(0, end-quorumSample)

	var sum uint64
	for _, b := range c.blocks[start:end] {
		sum += uint64(b.SignatureCount())
	}
	count := uint64(end - start)

	quorum := (sum*c.ratio + count*100 - 1) / (count * 100)

	return max(int(quorum), 2)
}

// RefreshSignatures merges the valid signatures of a copy of a committed
// block into the chain's block. Only blocks within SignatureEditHorizon of
// the tip accept changes. It returns the number of signatures added.
func (c *BlockChain) RefreshSignatures(candidate *block.Block, resolve block.PublicKeyResolver) (int, error) {
	c.mu.RLock()
	local := c.blockLocked(candidate.Height)
	last := c.lastHeightLocked()
	c.mu.RUnlock()

	if local == nil {
		return 0, ErrNotFound
	}
	if last-candidate.Height > SignatureEditHorizon {
		return 0, ErrSignaturesFrozen
	}
	if !signature.Equal(local.Checksum, candidate.Checksum) {
		return 0, ErrChecksumMismatch
	}

	var added int
	for _, s := range block.FilterValidSignatures(local.Checksum, candidate.Signatures(), resolve) {
		if local.AddSignature(s) {
			added++
		}
	}

	if added > 0 && c.storage != nil {
		c.storage.InsertBlock(local)
	}

	return added, nil
}

// SignatureFreezeChecksum returns the signature checksum a block at the
// height must carry: the signature checksum of the block
// SignatureFreezeDepth heights below. It returns nil when that block
// doesn't exist.
func (c *BlockChain) SignatureFreezeChecksum(height uint64) []byte {
	if height <= SignatureFreezeDepth {
		return nil
	}

	b := c.Block(height - SignatureFreezeDepth)
	if b == nil {
		return nil
	}

	return b.SignatureChecksum()
}

// SetPowField records the rewarded miners of a block and persists it again.
func (c *BlockChain) SetPowField(height uint64, powField []byte) bool {
	b := c.Block(height)
	if b == nil {
		return false
	}

	b.PowField = powField
	if c.storage != nil {
		c.storage.InsertBlock(b)
	}

	return true
}

// =============================================================================

// Block returns the block at the height. Redacted blocks are read from
// storage. It returns nil when the block is unknown.
func (c *BlockChain) Block(height uint64) *block.Block {
	c.mu.RLock()
	b := c.blockLocked(height)
	c.mu.RUnlock()

	if b != nil {
		return b
	}

	if v, exists := c.cache.Get(height); exists {
		return v.(*block.Block)
	}

	if c.storage == nil || height == 0 || height > c.LastHeight() {
		return nil
	}

	b, err := c.storage.Block(height)
	if err != nil {
		return nil
	}
	c.cache.Add(height, b)

	return b
}

// BlockByChecksum returns the block with the checksum or nil.
func (c *BlockChain) BlockByChecksum(checksum []byte) *block.Block {
	c.mu.RLock()
	for i := len(c.blocks) - 1; i >= 0; i-- {
		if signature.Equal(c.blocks[i].Checksum, checksum) {
			b := c.blocks[i]
			c.mu.RUnlock()
			return b
		}
	}
	c.mu.RUnlock()

	if c.storage == nil {
		return nil
	}

	b, err := c.storage.BlockByChecksum(checksum)
	if err != nil {
		return nil
	}

	return b
}

// LastBlock returns the tip of the chain or nil.
func (c *BlockChain) LastBlock() *block.Block {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.blocks) == 0 {
		return nil
	}
	return c.blocks[len(c.blocks)-1]
}

// LastHeight returns the height of the tip. An empty chain reports the
// height before the next expected block.
func (c *BlockChain) LastHeight() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.lastHeightLocked()
}

// LastChecksum returns the checksum of the tip or nil.
func (c *BlockChain) LastChecksum() []byte {
	if b := c.LastBlock(); b != nil {
		return b.Checksum
	}
	return nil
}

// FirstHeight returns the height of the oldest block held in memory.
func (c *BlockChain) FirstHeight() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.blocks) == 0 {
		return c.next
	}
	return c.blocks[0].Height
}

// Count returns the number of blocks held in memory.
func (c *BlockChain) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.blocks)
}

// RedactedWindow returns the number of blocks kept in memory.
func (c *BlockChain) RedactedWindow() uint64 {
	return c.window
}

// MayContainTransaction reports whether a block in the window may include
// the transaction. A false result is definitive.
func (c *BlockChain) MayContainTransaction(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.txFilter.TestString(id)
}

// =============================================================================

func (c *BlockChain) lastHeightLocked() uint64 {
	if len(c.blocks) == 0 {
		return c.next - 1
	}
	return c.blocks[len(c.blocks)-1].Height
}

func (c *BlockChain) blockLocked(height uint64) *block.Block {
	if len(c.blocks) == 0 {
		return nil
	}

	first := c.blocks[0].Height
	if height < first || height > c.lastHeightLocked() {
		return nil
	}

	return c.blocks[height-first]
}

func (c *BlockChain) canAppendLocked(b *block.Block) error {
	if b.Height != c.lastHeightLocked()+1 {
		return ErrNonSequential
	}

	switch {
	case len(c.blocks) > 0:
		if !signature.Equal(b.PredecessorChecksum, c.blocks[len(c.blocks)-1].Checksum) {
			return ErrBadLink
		}
	case b.Height == 1:
		if len(b.PredecessorChecksum) != 0 {
			return ErrBadLink
		}
	}

	return nil
}

func (c *BlockChain) redactLocked() int {
	if uint64(len(c.blocks)) <= c.window {
		return 0
	}

	n := len(c.blocks) - int(c.window)
	for _, b := range c.blocks[:n] {
		c.cache.Add(b.Height, b)
	}
	c.blocks = append([]*block.Block(nil), c.blocks[n:]...)

	// The filter can't forget ids, so it is rebuilt once a tenth of the
	// window has been redacted.
	c.redacted += uint64(n)
	if c.redacted >= max(c.window/10, 1) {
		c.txFilter = c.newFilter()
		for _, b := range c.blocks {
			for _, id := range b.TransactionIDs {
				c.txFilter.AddString(id)
			}
		}
		c.redacted = 0
	}

	c.log.Debugw("chain: redact", "removed", n, "first", c.blocks[0].Height)

	return n
}

func (c *BlockChain) newFilter() *bloom.BloomFilter {
	return bloom.NewWithEstimates(uint(c.window)*c.txsPerBlock, 0.001)
}
