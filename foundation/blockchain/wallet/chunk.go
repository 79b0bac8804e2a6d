package wallet

import (
	"errors"
	"fmt"
	"sort"
)

// ErrChunksIncomplete is returned when a set of chunks can't be assembled
// into a complete account state.
var ErrChunksIncomplete = errors.New("account state chunks incomplete")

// Chunk is a fixed size slice of the account state, ordered by address,
// used to transfer the state to a synchronizing peer.
type Chunk struct {
	BlockHeight uint64   `msgpack:"h"`
	Index       int      `msgpack:"i"`
	Wallets     []Wallet `msgpack:"w"`
}

// ChunkCount returns the number of chunks needed for count wallets.
func ChunkCount(count int, size int) int {
	if size <= 0 || count <= 0 {
		return 0
	}
	return (count + size - 1) / size
}

// Snapshot exports the account state as chunks of size wallets, in address
// order, together with the height of the block the state belongs to. Both
// are read under the same lock so the label always matches the content.
func (s *State) Snapshot(size int) (uint64, []Chunk) {
	if size <= 0 {
		return 0, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	addrs := make([]string, 0, len(s.wallets))
	for addr := range s.wallets {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	chunks := make([]Chunk, 0, ChunkCount(len(addrs), size))
	for i := 0; i < len(addrs); i += size {
		end := min(i+size, len(addrs))

		c := Chunk{
			BlockHeight: s.height,
			Index:       len(chunks),
			Wallets:     make([]Wallet, 0, end-i),
		}
		for _, addr := range addrs[i:end] {
			c.Wallets = append(c.Wallets, s.wallets[addr].Copy())
		}

		chunks = append(chunks, c)
	}

	return s.height, chunks
}

// Replace swaps the whole account state for the wallets held by the chunks,
// which must be indexed 0 to len-1 and belong to the block at height.
func (s *State) Replace(height uint64, chunks []Chunk) error {
	sorted := make([]Chunk, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	wallets := make(map[string]Wallet)
	for i, c := range sorted {
		if c.Index != i {
			return fmt.Errorf("%w: missing chunk %d", ErrChunksIncomplete, i)
		}
		if c.BlockHeight != height {
			return fmt.Errorf("%w: chunk %d belongs to height %d", ErrChunksIncomplete, i, c.BlockHeight)
		}
		for _, w := range c.Wallets {
			wallets[w.Address] = w.Copy()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.wallets = wallets
	s.checksum = nil
	s.height = height

	return nil
}
