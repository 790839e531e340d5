// Copyright (c) 2026 The acctdb developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package kv

import (
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	dberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var _ StoreCloser = (*levelStore)(nil)

// Options options for creating a persistent store.
type Options struct {
	CacheSizeMB            int
	OpenFilesCacheCapacity int
}

// levelStore implements StoreCloser over goleveldb.
type levelStore struct {
	db *leveldb.DB
}

// New creates a persistent store at the given path.
// Creates an empty one if not exists, or opens if already there.
func New(path string, opts Options) (StoreCloser, error) {
	if opts.CacheSizeMB < 16 {
		opts.CacheSizeMB = 16
	}
	if opts.OpenFilesCacheCapacity < 16 {
		opts.OpenFilesCacheCapacity = 16
	}
	ldbOpts := opt.Options{
		OpenFilesCacheCapacity: opts.OpenFilesCacheCapacity,
		BlockCacheCapacity:     opts.CacheSizeMB / 2 * opt.MiB,
		WriteBuffer:            opts.CacheSizeMB / 4 * opt.MiB, // two of these are used internally
		Filter:                 filter.NewBloomFilter(10),
	}

	db, err := leveldb.OpenFile(path, &ldbOpts)
	if _, corrupted := err.(*dberrors.ErrCorrupted); corrupted {
		db, err = leveldb.RecoverFile(path, &ldbOpts)
	}
	if err != nil {
		return nil, errors.Wrap(err, "open level store")
	}
	return &levelStore{db}, nil
}

// NewMem creates an in-memory store, for tests mostly.
func NewMem() StoreCloser {
	db, _ := leveldb.Open(storage.NewMemStorage(), nil)
	return &levelStore{db}
}

func (s *levelStore) Get(key []byte) ([]byte, error) {
	return s.db.Get(key, nil)
}

func (s *levelStore) Has(key []byte) (bool, error) {
	return s.db.Has(key, nil)
}

func (s *levelStore) IsNotFound(err error) bool {
	return errors.Is(err, leveldb.ErrNotFound)
}

func (s *levelStore) Put(key, value []byte) error {
	return s.db.Put(key, value, nil)
}

func (s *levelStore) Delete(key []byte) error {
	return s.db.Delete(key, nil)
}

func (s *levelStore) NewBatch() Batch {
	return &levelBatch{db: s.db}
}

func (s *levelStore) Iterate(r Range, fn func(key, value []byte) bool) error {
	it := s.db.NewIterator(&util.Range{Start: r.Start, Limit: r.Limit}, nil)
	defer it.Release()

	for it.Next() {
		if !fn(it.Key(), it.Value()) {
			break
		}
	}
	return it.Error()
}

func (s *levelStore) DeleteRange(r Range) error {
	it := s.db.NewIterator(&util.Range{Start: r.Start, Limit: r.Limit}, nil)
	defer it.Release()

	batch := &leveldb.Batch{}
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	if err := it.Error(); err != nil {
		return err
	}
	return s.db.Write(batch, nil)
}

func (s *levelStore) Close() error {
	return s.db.Close()
}

type levelBatch struct {
	db    *leveldb.DB
	batch leveldb.Batch
}

func (b *levelBatch) Put(key, value []byte) error {
	b.batch.Put(key, value)
	return nil
}

func (b *levelBatch) Delete(key []byte) error {
	b.batch.Delete(key)
	return nil
}

func (b *levelBatch) Len() int {
	return b.batch.Len()
}

func (b *levelBatch) Write() error {
	return b.db.Write(&b.batch, nil)
}
