// Package storage handles all the lower level support for persisting blocks
// and transactions. Writes are queued and applied asynchronously by a single
// writer goroutine; reads go straight to the engine.
package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ardanlabs/dlt/foundation/blockchain/block"
	"github.com/ardanlabs/dlt/foundation/blockchain/transaction"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// ErrNotFound is returned by engines when a key doesn't exist.
var ErrNotFound = errors.New("not found")

// queueSize is the number of writes that can be pending before Insert calls
// start blocking on the writer.
const queueSize = 1024

// Engine interface represents the behavior required to be implemented by any
// package providing support for reading and writing the ledger.
type Engine interface {
	WriteBlock(height uint64, checksum []byte, data []byte) error
	ReadBlock(height uint64) ([]byte, error)
	ReadBlockByChecksum(checksum []byte) ([]byte, error)
	LatestHeight() (uint64, error)
	WriteTransaction(id string, addresses []string, data []byte) error
	ReadTransaction(id string) ([]byte, error)
	TransactionIDsByAddress(address string) ([]string, error)
	Reset() error
	Close() error
}

// =============================================================================

// Storage queues writes to an engine and decodes what is read back.
type Storage struct {
	engine Engine
	log    *zap.SugaredLogger
	queue  chan write
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// write is a single queued engine operation.
type write struct {
	name  string
	do    func(Engine) error
	flush chan struct{}
}

// New constructs a storage value and starts the writer goroutine.
func New(engine Engine, log *zap.SugaredLogger) *Storage {
	s := Storage{
		engine: engine,
		log:    log,
		queue:  make(chan write, queueSize),
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.writer()
	}()

	return &s
}

// Close drains the queue and closes the engine.
func (s *Storage) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()

	return s.engine.Close()
}

// Flush blocks until every write queued before the call is applied.
func (s *Storage) Flush() {
	done := make(chan struct{})
	if !s.enqueue(write{name: "flush", flush: done}) {
		return
	}
	<-done
}

// Reset removes everything from the engine.
func (s *Storage) Reset() error {
	s.Flush()
	return s.engine.Reset()
}

// =============================================================================

// envelope is the stored form of a block. The PoW field is kept next to the
// block bytes since it's not part of the block encoding.
type envelope struct {
	Block    []byte `msgpack:"b"`
	PowField []byte `msgpack:"p,omitempty"`
}

// InsertBlock queues the block for writing.
func (s *Storage) InsertBlock(b *block.Block) {
	data, err := msgpack.Marshal(envelope{Block: b.Bytes(), PowField: b.PowField})
	if err != nil {
		s.log.Errorw("storage: InsertBlock", "height", b.Height, "ERROR", err)
		return
	}

	height := b.Height
	checksum := b.Checksum

	s.enqueue(write{
		name: fmt.Sprintf("block %d", height),
		do: func(e Engine) error {
			return e.WriteBlock(height, checksum, data)
		},
	})
}

// InsertTransaction queues the transaction for writing.
func (s *Storage) InsertTransaction(tx *transaction.Transaction) {
	data, err := tx.Bytes()
	if err != nil {
		s.log.Errorw("storage: InsertTransaction", "txid", tx.ID, "ERROR", err)
		return
	}

	id := tx.ID
	addrs := make([]string, 0, len(tx.To)+1)
	addrs = append(addrs, tx.From)
	for addr := range tx.To {
		addrs = append(addrs, addr)
	}

	s.enqueue(write{
		name: "tx " + id,
		do: func(e Engine) error {
			return e.WriteTransaction(id, addrs, data)
		},
	})
}

// Block reads the block at the height.
func (s *Storage) Block(height uint64) (*block.Block, error) {
	data, err := s.engine.ReadBlock(height)
	if err != nil {
		return nil, err
	}
	return decodeBlock(data)
}

// BlockByChecksum reads the block with the checksum.
func (s *Storage) BlockByChecksum(checksum []byte) (*block.Block, error) {
	data, err := s.engine.ReadBlockByChecksum(checksum)
	if err != nil {
		return nil, err
	}
	return decodeBlock(data)
}

// LatestHeight returns the height of the highest stored block.
func (s *Storage) LatestHeight() (uint64, error) {
	return s.engine.LatestHeight()
}

// Blocks reads the stored blocks in the range [from, to]. Missing heights
// stop the read.
func (s *Storage) Blocks(from uint64, to uint64) ([]*block.Block, error) {
	var blocks []*block.Block
	for h := from; h <= to; h++ {
		b, err := s.Block(h)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				break
			}
			return nil, err
		}
		blocks = append(blocks, b)
	}

	return blocks, nil
}

// Transaction reads the transaction with the id.
func (s *Storage) Transaction(id string) (*transaction.Transaction, error) {
	data, err := s.engine.ReadTransaction(id)
	if err != nil {
		return nil, err
	}
	return transaction.Decode(data)
}

// TransactionsByAddress reads every stored transaction sent from or to the
// address.
func (s *Storage) TransactionsByAddress(address string) ([]*transaction.Transaction, error) {
	ids, err := s.engine.TransactionIDsByAddress(address)
	if err != nil {
		return nil, err
	}

	txs := make([]*transaction.Transaction, 0, len(ids))
	for _, id := range ids {
		tx, err := s.Transaction(id)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}

	return txs, nil
}

// =============================================================================

// enqueue hands a write to the writer goroutine.
func (s *Storage) enqueue(w write) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.log.Warnw("storage: enqueue: storage closed", "write", w.name)
		return false
	}

	s.queue <- w
	return true
}

// writer applies queued writes in order until the queue is closed.
func (s *Storage) writer() {
	for w := range s.queue {
		if w.flush != nil {
			close(w.flush)
			continue
		}

		if err := w.do(s.engine); err != nil {
			s.log.Errorw("storage: writer", "write", w.name, "ERROR", err)
		}
	}
}

func decodeBlock(data []byte) (*block.Block, error) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding stored block: %w", err)
	}

	b, err := block.FromBytes(env.Block)
	if err != nil {
		return nil, err
	}
	b.PowField = env.PowField

	return b, nil
}
