// Package memory implements a storage engine that keeps blocks and
// transactions in maps. It backs ephemeral nodes and tests.
package memory

import (
	"slices"
	"sort"
	"sync"

	"github.com/ardanlabs/dlt/foundation/blockchain/storage"
)

// Memory represents the storage engine for reading and storing the ledger
// in memory. This implements the storage.Engine interface.
type Memory struct {
	mu         sync.RWMutex
	blocks     map[uint64][]byte
	checksums  map[string]uint64
	txs        map[string][]byte
	byAddress  map[string]map[string]struct{}
	lastHeight uint64
}

// New constructs a Memory value for use.
func New() *Memory {
	m := Memory{}
	m.init()
	return &m
}

// Close in this implementation has nothing to do since everything
// is in memory.
func (m *Memory) Close() error {
	return nil
}

// WriteBlock stores the block data by height and checksum.
func (m *Memory) WriteBlock(height uint64, checksum []byte, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blocks[height] = slices.Clone(data)
	m.checksums[string(checksum)] = height
	m.lastHeight = max(m.lastHeight, height)

	return nil
}

// ReadBlock returns the block data at the height.
func (m *Memory) ReadBlock(height uint64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, exists := m.blocks[height]
	if !exists {
		return nil, storage.ErrNotFound
	}

	return slices.Clone(data), nil
}

// ReadBlockByChecksum returns the block data with the checksum.
func (m *Memory) ReadBlockByChecksum(checksum []byte) ([]byte, error) {
	m.mu.RLock()
	height, exists := m.checksums[string(checksum)]
	m.mu.RUnlock()

	if !exists {
		return nil, storage.ErrNotFound
	}

	return m.ReadBlock(height)
}

// LatestHeight returns the highest block height written.
func (m *Memory) LatestHeight() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.blocks) == 0 {
		return 0, storage.ErrNotFound
	}

	return m.lastHeight, nil
}

// WriteTransaction stores the transaction data and indexes it by address.
func (m *Memory) WriteTransaction(id string, addresses []string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.txs[id] = slices.Clone(data)
	for _, addr := range addresses {
		ids, exists := m.byAddress[addr]
		if !exists {
			ids = make(map[string]struct{})
			m.byAddress[addr] = ids
		}
		ids[id] = struct{}{}
	}

	return nil
}

// ReadTransaction returns the transaction data with the id.
func (m *Memory) ReadTransaction(id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, exists := m.txs[id]
	if !exists {
		return nil, storage.ErrNotFound
	}

	return slices.Clone(data), nil
}

// TransactionIDsByAddress returns the ids of the transactions involving
// the address in id order.
func (m *Memory) TransactionIDsByAddress(address string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.byAddress[address]))
	for id := range m.byAddress[address] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids, nil
}

// Reset clears out everything stored.
func (m *Memory) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.init()
	return nil
}

func (m *Memory) init() {
	m.blocks = make(map[uint64][]byte)
	m.checksums = make(map[string]uint64)
	m.txs = make(map[string][]byte)
	m.byAddress = make(map[string]map[string]struct{})
	m.lastHeight = 0
}
