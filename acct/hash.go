// Copyright (c) 2026 The acctdb developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package acct

import (
	"encoding/hex"
	"hash"
	"io"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// Hash is a 32-byte content hash.
type Hash [32]byte

// String implements stringer.
func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// Bytes returns byte slice form of the hash.
func (h Hash) Bytes() []byte {
	return h[:]
}

// IsZero returns if the hash has all zero bytes.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// BytesToHash converts a byte slice into Hash, cropping or left-padding as needed.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > len(h) {
		b = b[len(b)-len(h):]
	}
	copy(h[len(h)-len(b):], b)
	return h
}

// NewBlake2b returns a blake2b-256 hash state.
func NewBlake2b() hash.Hash {
	h, _ := blake2b.New256(nil)
	return h
}

// Blake2b computes the blake2b-256 checksum for given data.
func Blake2b(data ...[]byte) Hash {
	if len(data) == 1 {
		// the quick version
		return blake2b.Sum256(data[0])
	}
	return Blake2bFn(func(w io.Writer) {
		for _, b := range data {
			w.Write(b)
		}
	})
}

// Blake2bFn computes the blake2b-256 checksum over the provided writer.
func Blake2bFn(fn func(w io.Writer)) (h Hash) {
	w := blake2bStatePool.Get().(*blake2bState)
	fn(w)
	w.Sum(w.h[:0])
	h = w.h // to avoid 1 alloc
	w.Reset()
	blake2bStatePool.Put(w)
	return
}

type blake2bState struct {
	hash.Hash
	h Hash
}

var blake2bStatePool = sync.Pool{
	New: func() any {
		return &blake2bState{
			Hash: NewBlake2b(),
		}
	},
}
