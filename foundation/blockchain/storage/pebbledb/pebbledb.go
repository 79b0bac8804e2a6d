// Package pebbledb implements a storage engine on top of cockroachdb/pebble.
// Blocks are keyed by height with a checksum index, transactions by id with
// an address index.
package pebbledb

import (
	"encoding/binary"
	"slices"

	"github.com/ardanlabs/dlt/foundation/blockchain/storage"
	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Key prefixes of the different records.
const (
	blockPrefix    byte = 'b'
	checksumPrefix byte = 'c'
	txPrefix       byte = 't'
	addressPrefix  byte = 'a'
)

// cacheSize is the size of the block cache shared by the tables.
const cacheSize = 64 << 20

// Pebble represents the storage engine backed by a pebble database. This
// implements the storage.Engine interface.
type Pebble struct {
	db *pebble.DB
}

// New opens or creates the database in the directory.
func New(dir string) (*Pebble, error) {
	c := pebble.NewCache(cacheSize)
	defer c.Unref()

	db, err := pebble.Open(dir, &pebble.Options{Cache: c})
	if err != nil {
		return nil, errors.Wrapf(err, "opening pebble at %s", dir)
	}

	return &Pebble{db: db}, nil
}

// Close flushes and closes the database.
func (p *Pebble) Close() error {
	return multierr.Combine(
		errors.Wrap(p.db.Flush(), "flushing pebble"),
		errors.Wrap(p.db.Close(), "closing pebble"),
	)
}

// WriteBlock stores the block data by height and indexes its checksum.
func (p *Pebble) WriteBlock(height uint64, checksum []byte, data []byte) error {
	b := p.db.NewBatch()
	defer b.Close()

	if err := b.Set(blockKey(height), data, nil); err != nil {
		return errors.Wrap(err, "setting block")
	}
	if err := b.Set(typedKey(checksumPrefix, checksum), heightBytes(height), nil); err != nil {
		return errors.Wrap(err, "setting block checksum")
	}

	return errors.Wrap(b.Commit(pebble.Sync), "committing block")
}

// ReadBlock returns the block data at the height.
func (p *Pebble) ReadBlock(height uint64) ([]byte, error) {
	return p.get(blockKey(height))
}

// ReadBlockByChecksum returns the block data with the checksum.
func (p *Pebble) ReadBlockByChecksum(checksum []byte) ([]byte, error) {
	h, err := p.get(typedKey(checksumPrefix, checksum))
	if err != nil {
		return nil, err
	}
	if len(h) != 8 {
		return nil, errors.New("corrupt checksum index")
	}

	return p.ReadBlock(binary.BigEndian.Uint64(h))
}

// LatestHeight returns the highest block height stored.
func (p *Pebble) LatestHeight() (uint64, error) {
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{blockPrefix},
		UpperBound: []byte{blockPrefix + 1},
	})
	if err != nil {
		return 0, errors.Wrap(err, "iterating blocks")
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, storage.ErrNotFound
	}

	return binary.BigEndian.Uint64(iter.Key()[1:]), nil
}

// WriteTransaction stores the transaction data and indexes every address
// it involves.
func (p *Pebble) WriteTransaction(id string, addresses []string, data []byte) error {
	b := p.db.NewBatch()
	defer b.Close()

	if err := b.Set(typedKey(txPrefix, []byte(id)), data, nil); err != nil {
		return errors.Wrap(err, "setting transaction")
	}
	for _, addr := range addresses {
		if err := b.Set(addressKey(addr, id), nil, nil); err != nil {
			return errors.Wrap(err, "setting address index")
		}
	}

	return errors.Wrap(b.Commit(pebble.NoSync), "committing transaction")
}

// ReadTransaction returns the transaction data with the id.
func (p *Pebble) ReadTransaction(id string) ([]byte, error) {
	return p.get(typedKey(txPrefix, []byte(id)))
}

// TransactionIDsByAddress returns the ids of the transactions involving the
// address in id order.
func (p *Pebble) TransactionIDsByAddress(address string) ([]string, error) {
	prefix := addressKey(address, "")
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return nil, errors.Wrap(err, "iterating address index")
	}
	defer iter.Close()

	var ids []string
	for iter.First(); iter.Valid(); iter.Next() {
		ids = append(ids, string(iter.Key()[len(prefix):]))
	}

	return ids, errors.Wrap(iter.Error(), "iterating address index")
}

// Reset deletes every record.
func (p *Pebble) Reset() error {
	for _, prefix := range []byte{blockPrefix, checksumPrefix, txPrefix, addressPrefix} {
		if err := p.db.DeleteRange([]byte{prefix}, []byte{prefix + 1}, pebble.Sync); err != nil {
			return errors.Wrapf(err, "deleting range %c", prefix)
		}
	}
	return nil
}

// =============================================================================

func (p *Pebble) get(key []byte) ([]byte, error) {
	v, closer, err := p.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, errors.Wrap(err, "reading key")
	}
	defer closer.Close()

	return slices.Clone(v), nil
}

func typedKey(prefix byte, key []byte) []byte {
	return append([]byte{prefix}, key...)
}

func heightBytes(height uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, height)
}

func blockKey(height uint64) []byte {
	return typedKey(blockPrefix, heightBytes(height))
}

func addressKey(address string, id string) []byte {
	k := typedKey(addressPrefix, []byte(address))
	k = append(k, 0)
	return append(k, id...)
}

// upperBound returns the smallest key greater than every key with the prefix.
func upperBound(prefix []byte) []byte {
	end := slices.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
