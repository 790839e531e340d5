// Copyright (c) 2026 The acctdb developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package kv defines the key-value persistence boundary used by the
// secondary index and engine property stores.
package kv

// Getter wraps methods for getting kvs.
type Getter interface {
	// Get returns the value for the given key.
	// An error is returned if the key is not found. It can be checked via IsNotFound.
	Get(key []byte) (value []byte, err error)
	Has(key []byte) (bool, error)
	IsNotFound(err error) bool
}

// Putter wraps methods for putting kvs.
type Putter interface {
	Put(key, value []byte) error
	Delete(key []byte) error
}

// Batch defines a batch of putting ops, atomically written on Write.
type Batch interface {
	Putter

	Len() int
	Write() error
}

// Range is the key range [Start, Limit). A nil Limit means unbounded.
type Range struct {
	Start []byte
	Limit []byte
}

// Store is the full kv access interface.
type Store interface {
	Getter
	Putter

	NewBatch() Batch
	// Iterate iterates kv pairs within the range in key order, until fn
	// returns false or the range is exhausted.
	Iterate(r Range, fn func(key, value []byte) bool) error
	DeleteRange(r Range) error
}

// StoreCloser is a store with a close method.
type StoreCloser interface {
	Store
	Close() error
}
