// Copyright (c) 2026 The acctdb developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package kv

import "github.com/syndtr/goleveldb/leveldb/util"

// Bucket provides a logical key space within a store, by key prefixing.
type Bucket string

// NewStore creates a bucket store from the source store.
func (b Bucket) NewStore(src Store) Store {
	return &bucketStore{string(b), src}
}

// Range returns the range covering the whole bucket of the source store.
func (b Bucket) Range() Range {
	r := util.BytesPrefix([]byte(b))
	return Range{Start: r.Start, Limit: r.Limit}
}

type bucketStore struct {
	prefix string
	src    Store
}

func (s *bucketStore) makeKey(key []byte) []byte {
	newKey := make([]byte, 0, len(s.prefix)+len(key))
	return append(append(newKey, s.prefix...), key...)
}

func (s *bucketStore) makeRange(r Range) Range {
	start := s.makeKey(r.Start)
	var limit []byte
	if len(r.Limit) == 0 {
		limit = util.BytesPrefix([]byte(s.prefix)).Limit
	} else {
		limit = s.makeKey(r.Limit)
	}
	return Range{Start: start, Limit: limit}
}

func (s *bucketStore) Get(key []byte) ([]byte, error) {
	return s.src.Get(s.makeKey(key))
}

func (s *bucketStore) Has(key []byte) (bool, error) {
	return s.src.Has(s.makeKey(key))
}

func (s *bucketStore) IsNotFound(err error) bool {
	return s.src.IsNotFound(err)
}

func (s *bucketStore) Put(key, value []byte) error {
	return s.src.Put(s.makeKey(key), value)
}

func (s *bucketStore) Delete(key []byte) error {
	return s.src.Delete(s.makeKey(key))
}

func (s *bucketStore) NewBatch() Batch {
	return &bucketBatch{s.src.NewBatch(), s.makeKey}
}

func (s *bucketStore) Iterate(r Range, fn func(key, value []byte) bool) error {
	return s.src.Iterate(s.makeRange(r), func(key, value []byte) bool {
		// strip the bucket prefix
		return fn(key[len(s.prefix):], value)
	})
}

func (s *bucketStore) DeleteRange(r Range) error {
	return s.src.DeleteRange(s.makeRange(r))
}

type bucketBatch struct {
	Batch
	makeKey func([]byte) []byte
}

func (b *bucketBatch) Put(key, value []byte) error {
	return b.Batch.Put(b.makeKey(key), value)
}

func (b *bucketBatch) Delete(key []byte) error {
	return b.Batch.Delete(b.makeKey(key))
}
