// Copyright (c) 2026 The acctdb developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package index implements the sharded multi-version account index. It
// maps an account identity to its version entries across all known
// forks and resolves the version visible at a given slot on a given
// ancestor chain.
package index

import (
	"sort"
	"sync"

	"github.com/openledger/acctdb/acct"
	"github.com/openledger/acctdb/segment"
	"github.com/pkg/errors"
	"github.com/spaolacci/murmur3"
)

var (
	// ErrNotFound returned by Get when no version is visible on the chain.
	ErrNotFound = errors.New("account not found")
	// ErrDuplicateSlotWrite returned when two writes claim the same
	// (identity, slot). Impossible under correct execution; defended
	// against rather than silently overwritten.
	ErrDuplicateSlotWrite = errors.New("duplicate slot write")
)

// Chain answers ancestor-chain membership for slot numbers.
type Chain interface {
	Contains(slot uint64) bool
}

// Entry is one version of an account: its storage location plus cached
// summary fields so common queries skip the storage read.
type Entry struct {
	Slot     uint64
	Loc      segment.Location
	Owner    acct.Identity
	Lamports uint64
	DataLen  uint32
}

// shard is one independently locked index partition. Version slices are
// copy-on-write: a reader that fetched a slice under the lock may scan
// it lock-free and will see a write either fully or not at all.
type shard struct {
	lock sync.RWMutex
	m    map[acct.Identity][]Entry
}

// Index is the sharded multi-version index.
type Index struct {
	shards []shard
	mask   uint32
}

// New creates an index with the given shard count, rounded up to a
// power of two.
func New(shardCount int) *Index {
	n := 1
	for n < shardCount {
		n <<= 1
	}
	idx := &Index{
		shards: make([]shard, n),
		mask:   uint32(n - 1),
	}
	for i := range idx.shards {
		idx.shards[i].m = make(map[acct.Identity][]Entry)
	}
	return idx
}

// ShardCount returns the number of shards.
func (x *Index) ShardCount() int {
	return len(x.shards)
}

func (x *Index) shardOf(identity acct.Identity) *shard {
	return &x.shards[murmur3.Sum32(identity[:])&x.mask]
}

// Upsert inserts a new version for the identity. A prior slot's entry is
// never overwritten; inserting the same (identity, slot) twice fails
// with ErrDuplicateSlotWrite.
func (x *Index) Upsert(identity acct.Identity, entry Entry) error {
	sh := x.shardOf(identity)
	sh.lock.Lock()
	defer sh.lock.Unlock()

	old := sh.m[identity]
	i := sort.Search(len(old), func(i int) bool { return old[i].Slot >= entry.Slot })
	if i < len(old) && old[i].Slot == entry.Slot {
		return errors.Wrapf(ErrDuplicateSlotWrite, "identity %s slot %d", identity.AbbrevString(), entry.Slot)
	}

	// copy-on-write keeps slices fetched by in-flight readers intact
	entries := make([]Entry, 0, len(old)+1)
	entries = append(entries, old[:i]...)
	entries = append(entries, entry)
	entries = append(entries, old[i:]...)
	sh.m[identity] = entries
	return nil
}

// Get resolves the version of the identity visible at the slot: the
// entry with the greatest slot ≤ slot lying on the chain. Returns
// ErrNotFound for a fresh, never-written account.
func (x *Index) Get(identity acct.Identity, slot uint64, chain Chain) (Entry, error) {
	sh := x.shardOf(identity)
	sh.lock.RLock()
	entries := sh.m[identity]
	sh.lock.RUnlock()

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Slot > slot {
			continue
		}
		if chain.Contains(e.Slot) {
			return e, nil
		}
	}
	return Entry{}, ErrNotFound
}

// Versions returns all recorded versions of the identity, ascending by
// slot.
func (x *Index) Versions(identity acct.Identity) []Entry {
	sh := x.shardOf(identity)
	sh.lock.RLock()
	defer sh.lock.RUnlock()
	return sh.m[identity]
}

// Remove deletes the version of the identity at the slot, returning the
// removed entry. Used by the cleaner.
func (x *Index) Remove(identity acct.Identity, slot uint64) (Entry, bool) {
	sh := x.shardOf(identity)
	sh.lock.Lock()
	defer sh.lock.Unlock()

	old := sh.m[identity]
	i := sort.Search(len(old), func(i int) bool { return old[i].Slot >= slot })
	if i >= len(old) || old[i].Slot != slot {
		return Entry{}, false
	}
	removed := old[i]

	if len(old) == 1 {
		delete(sh.m, identity)
		return removed, true
	}
	entries := make([]Entry, 0, len(old)-1)
	entries = append(entries, old[:i]...)
	entries = append(entries, old[i+1:]...)
	sh.m[identity] = entries
	return removed, true
}

// Swap redirects the entry at (identity, slot) from the old location to
// the new one, used when a segment shrink relocates records. Fails when
// the entry no longer exists or points elsewhere.
func (x *Index) Swap(identity acct.Identity, slot uint64, old, new segment.Location) error {
	sh := x.shardOf(identity)
	sh.lock.Lock()
	defer sh.lock.Unlock()

	entries := sh.m[identity]
	i := sort.Search(len(entries), func(i int) bool { return entries[i].Slot >= slot })
	if i >= len(entries) || entries[i].Slot != slot || entries[i].Loc != old {
		return errors.Wrapf(ErrNotFound, "swap identity %s slot %d", identity.AbbrevString(), slot)
	}

	swapped := make([]Entry, len(entries))
	copy(swapped, entries)
	swapped[i].Loc = new
	sh.m[identity] = swapped
	return nil
}

// RangeShard iterates identities of one shard, until fn returns false.
// The entries slice must not be mutated.
func (x *Index) RangeShard(shardIdx int, fn func(identity acct.Identity, entries []Entry) bool) {
	sh := &x.shards[shardIdx]
	sh.lock.RLock()
	identities := make([]acct.Identity, 0, len(sh.m))
	for identity := range sh.m {
		identities = append(identities, identity)
	}
	sh.lock.RUnlock()

	for _, identity := range identities {
		sh.lock.RLock()
		entries := sh.m[identity]
		sh.lock.RUnlock()
		if entries == nil {
			continue
		}
		if !fn(identity, entries) {
			return
		}
	}
}

// Count returns the total number of tracked identities.
func (x *Index) Count() int {
	var n int
	for i := range x.shards {
		sh := &x.shards[i]
		sh.lock.RLock()
		n += len(sh.m)
		sh.lock.RUnlock()
	}
	return n
}
