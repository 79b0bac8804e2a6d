package blocksync

import (
	"cmp"
	"maps"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/ardanlabs/dlt/foundation/blockchain/block"
	"github.com/ardanlabs/dlt/foundation/blockchain/processor"
	"github.com/ardanlabs/dlt/foundation/blockchain/protocol"
	"github.com/ardanlabs/dlt/foundation/blockchain/signature"
	"github.com/ardanlabs/dlt/foundation/blockchain/wallet"
)

// startLocked clears the previous attempt and picks the phase to begin
// with.
func (s *Sync) startLocked(target uint64, peer string, now time.Time) {
	s.peer = peer
	s.target = target
	s.wsHeight = 0
	s.wsChecksum = nil
	s.chunkCount = 0
	clear(s.chunks)
	clear(s.missing)
	s.pending.Clear(false)
	clear(s.requested)
	clear(s.untrusted)
	s.headerAsked = time.Time{}
	s.lastProgress = now

	local := s.chain.LastHeight()
	if s.chain.Count() > 0 && target > local && target-local <= s.chain.RedactedWindow() {
		s.log.Infow("blocksync: start: catching up", "local", local, "target", target, "peer", peer)

		s.wsHeight = local
		s.start = local + 1
		s.setStateLocked(BackfillingBlocks)
		s.advanceLocked(now)
		return
	}

	s.log.Infow("blocksync: start: transferring account state", "local", local, "target", target)

	s.start = 0
	s.setStateLocked(AwaitingTarget)
	s.askHeaderLocked(now)
}

// restartLocked abandons the attempt and starts over, with another peer
// when exclude is set.
func (s *Sync) restartLocked(now time.Time, exclude bool) {
	if exclude && s.peer != "" {
		s.excluded[s.peer] = struct{}{}
	}

	s.startLocked(s.target, s.pickPeerLocked(), now)
}

func (s *Sync) setStateLocked(to State) {
	from := s.state
	if from == to {
		return
	}

	s.state = to
	s.log.Infow("blocksync: state", "from", from, "to", to, "target", s.target)

	if s.onStateChange != nil {
		s.onStateChange(from, to)
	}
}

// finishLocked ends the attempt once the chain reached the target.
func (s *Sync) finishLocked() {
	s.log.Infow("blocksync: complete", "height", s.chain.LastHeight(), "peer", s.peer)

	s.pending.Clear(false)
	clear(s.requested)
	clear(s.excluded)
	s.setStateLocked(Idle)

	if s.onComplete != nil {
		s.onComplete()
	}
}

// pickPeerLocked returns a random peer that didn't fail this node yet.
// Once every peer failed the exclusions are forgotten.
func (s *Sync) pickPeerLocked() string {
	var candidates []string
	for _, peer := range s.network.Peers() {
		if _, exists := s.excluded[peer]; !exists {
			candidates = append(candidates, peer)
		}
	}

	if len(candidates) == 0 {
		clear(s.excluded)
		candidates = s.network.Peers()
	}

	if len(candidates) == 0 {
		return ""
	}

	return candidates[rand.IntN(len(candidates))]
}

func (s *Sync) send(code protocol.Code, payload any) {
	if s.peer == "" {
		return
	}

	if err := s.network.Send(s.peer, code, payload); err != nil {
		s.log.Infow("blocksync: send", "peer", s.peer, "code", code, "ERROR", err)
	}
}

// =============================================================================

func (s *Sync) askHeaderLocked(now time.Time) {
	if s.peer == "" {
		if s.peer = s.pickPeerLocked(); s.peer == "" {
			return
		}
	}

	s.headerAsked = now
	s.send(protocol.CodeSyncWalletState, protocol.SyncWalletState{})
}

// transferLocked requests the chunks still missing and installs the
// account state once every chunk arrived.
func (s *Sync) transferLocked(now time.Time) {
	if len(s.missing) == 0 {
		s.installLocked(now)
		return
	}

	var inflight int
	for _, asked := range s.missing {
		if !asked.IsZero() && now.Sub(asked) <= s.timeout {
			inflight++
		}
	}

	for _, index := range slices.Sorted(maps.Keys(s.missing)) {
		if inflight >= s.maxRequests {
			return
		}

		asked := s.missing[index]
		if !asked.IsZero() && now.Sub(asked) <= s.timeout {
			continue
		}

		s.missing[index] = now
		inflight++
		s.send(protocol.CodeGetWalletStateChunk, protocol.GetWalletStateChunk{Height: s.wsHeight, Index: index})
	}
}

// installLocked replaces the account state with the transferred chunks and
// resets the chain to the start of the redacted window below the target.
func (s *Sync) installLocked(now time.Time) {
	chunks := slices.SortedFunc(maps.Values(s.chunks), func(a, b wallet.Chunk) int {
		return cmp.Compare(a.Index, b.Index)
	})

	var all []wallet.Wallet
	for _, c := range chunks {
		all = append(all, c.Wallets...)
	}

	if !signature.Equal(wallet.New(all...).Checksum(), s.wsChecksum) {
		s.log.Infow("blocksync: install: account state checksum mismatch", "peer", s.peer, "height", s.wsHeight)
		s.restartLocked(now, true)
		return
	}

	if err := s.wallets.Replace(s.wsHeight, chunks); err != nil {
		s.log.Infow("blocksync: install: replace", "ERROR", err)
		s.restartLocked(now, true)
		return
	}

	window := s.chain.RedactedWindow()
	s.start = 1
	if s.target > window {
		s.start = s.target - window + 1
	}

	s.pool.Clear()
	s.chain.Reset(s.start)
	clear(s.chunks)

	s.log.Infow("blocksync: install: account state installed", "height", s.wsHeight, "wallets", s.wallets.Count(), "start", s.start)

	s.setStateLocked(BackfillingBlocks)
	s.advanceLocked(now)
}

// =============================================================================

// advanceLocked fetches the blocks between the tip and the target and,
// once they are all present, appends them in height order.
func (s *Sync) advanceLocked(now time.Time) {
	for {
		switch s.state {
		case BackfillingBlocks:
			if !s.backfillLocked(now) {
				return
			}
			s.setStateLocked(RollingForward)

		case RollingForward:
			if !s.rollForwardLocked(now) {
				return
			}
			if s.state == RollingForward {
				s.finishLocked()
			}
			return

		default:
			return
		}
	}
}

// backfillLocked collects the blocks up to the target from storage or the
// peer. It reports whether every block is present.
func (s *Sync) backfillLocked(now time.Time) bool {
	if s.peer == "" {
		s.peer = s.pickPeerLocked()
	}

	var inflight int
	for _, asked := range s.requested {
		if now.Sub(asked) <= s.timeout {
			inflight++
		}
	}

	complete := true
	for height := s.chain.LastHeight() + 1; height <= s.target; height++ {
		if s.pending.Has(&block.Block{Height: height}) {
			continue
		}

		if b := s.stored(height); b != nil {
			s.pending.ReplaceOrInsert(b)
			continue
		}

		complete = false

		if inflight >= s.maxRequests {
			continue
		}
		if asked, exists := s.requested[height]; exists && now.Sub(asked) <= s.timeout {
			continue
		}

		s.requested[height] = now
		inflight++
		s.send(protocol.CodeGetBlock, protocol.GetBlock{Height: height, IncludeTransactions: true})
	}

	return complete
}

// rollForwardLocked appends the pending blocks in height order. Blocks up
// to the height of the installed account state only have their
// transactions marked as applied. Later blocks are applied to the account
// state. It reports whether the target was reached.
func (s *Sync) rollForwardLocked(now time.Time) bool {
	for {
		next := s.chain.LastHeight() + 1
		if next > s.target {
			return true
		}

		b, exists := s.pending.Get(&block.Block{Height: next})
		if !exists {
			s.setStateLocked(BackfillingBlocks)
			return false
		}

		replay := b.Height <= s.wsHeight

		switch s.verifier.VerifyBlock(b, s.peer, replay) {
		case processor.Indeterminate:
			return false

		case processor.Invalid:
			s.discardLocked(b)
			return false
		}

		if quorum := s.chain.RequiredQuorum(); b.SignatureCount() < quorum {
			s.log.Infow("blocksync: rollForward: below quorum", "height", b.Height, "signatures", b.SignatureCount(), "quorum", quorum, "peer", s.peer)
			s.discardLocked(b)
			return false
		}

		if replay {
			if b.Height == s.wsHeight && !signature.Equal(b.AccountStateChecksum, s.wsChecksum) {
				s.log.Infow("blocksync: rollForward: account state checksum mismatch", "height", b.Height, "peer", s.peer)
				s.chain.Reset(s.start)
				s.restartLocked(now, true)
				return false
			}
			s.pool.SetAppliedFlagToTransactionsFromBlock(b)
		} else {
			if _, err := s.pool.ApplyTransactionsFromBlock(b, false); err != nil {
				s.log.Infow("blocksync: rollForward: apply", "height", b.Height, "ERROR", err)
				s.discardLocked(b)
				return false
			}
		}

		if err := s.chain.Append(b); err != nil {
			s.log.Infow("blocksync: rollForward: append", "height", b.Height, "ERROR", err)
			s.discardLocked(b)
			return false
		}

		s.pending.Delete(b)
		s.pool.Redact(b.Height)
		s.lastProgress = now
	}
}

// discardLocked drops a block that can't be appended so it is requested
// again, from another peer.
func (s *Sync) discardLocked(b *block.Block) {
	s.pending.Delete(b)
	delete(s.requested, b.Height)
	s.untrusted[b.Height] = struct{}{}

	if s.peer != "" {
		s.excluded[s.peer] = struct{}{}
	}
	s.peer = s.pickPeerLocked()

	s.setStateLocked(BackfillingBlocks)
}

func (s *Sync) stored(height uint64) *block.Block {
	if s.storage == nil {
		return nil
	}
	if _, exists := s.untrusted[height]; exists {
		return nil
	}

	b, err := s.storage.Block(height)
	if err != nil || b == nil {
		return nil
	}

	return b
}
