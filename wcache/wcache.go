// Copyright (c) 2026 The acctdb developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package wcache buffers account writes per slot before they are
// flushed to segment storage. Reads consult the cache first, so an
// account written in the current slot is visible immediately.
package wcache

import (
	"bytes"
	"sort"
	"sync"

	"github.com/openledger/acctdb/acct"
	"github.com/openledger/acctdb/metrics"
)

var (
	metricBufferedBytes = metrics.LazyLoadGauge("wcache_buffered_bytes")
	metricBufferedSlots = metrics.LazyLoadGauge("wcache_buffered_slots")
)

// Chain answers ancestor-chain membership for slot numbers.
type Chain interface {
	Contains(slot uint64) bool
}

// Buffered is one cached account write.
type Buffered struct {
	Identity acct.Identity
	Record   *acct.Record
}

// slotBuffer holds a slot's writes in two layers: accounts takes new
// writes, flushing is the stable view handed to an in-flight flush.
// Writes landing while a flush runs stay in accounts and survive the
// flush's Discard.
type slotBuffer struct {
	accounts map[acct.Identity]*acct.Record
	bytes    int64

	flushing      map[acct.Identity]*acct.Record
	flushingBytes int64
}

// Cache is the write cache. Writes buffer under their slot until the
// engine flushes the slot; last write per (slot, identity) wins.
type Cache struct {
	lock       sync.RWMutex
	slots      map[uint64]*slotBuffer
	bytes      int64
	byteBudget int64
}

// New creates a cache with the byte budget. Exceeding the budget never
// rejects a write; Put reports it so the caller can schedule flushes.
func New(byteBudget int64) *Cache {
	return &Cache{
		slots:      make(map[uint64]*slotBuffer),
		byteBudget: byteBudget,
	}
}

// Put buffers the record under the slot, replacing any earlier write of
// the identity in that slot. It returns true when the cache is over its
// byte budget.
func (c *Cache) Put(slot uint64, identity acct.Identity, rec *acct.Record) bool {
	size := int64(rec.Size())

	c.lock.Lock()
	defer c.lock.Unlock()

	buf := c.slots[slot]
	if buf == nil {
		buf = &slotBuffer{accounts: make(map[acct.Identity]*acct.Record)}
		c.slots[slot] = buf
		metricBufferedSlots().Set(int64(len(c.slots)))
	}
	if old := buf.accounts[identity]; old != nil {
		buf.bytes -= int64(old.Size())
		c.bytes -= int64(old.Size())
	}
	buf.accounts[identity] = rec
	buf.bytes += size
	c.bytes += size
	metricBufferedBytes().Set(c.bytes)
	return c.bytes > c.byteBudget
}

// Get returns the buffered record of the identity with the greatest
// slot ≤ slot on the chain, or false when nothing buffered matches.
func (c *Cache) Get(identity acct.Identity, slot uint64, chain Chain) (uint64, *acct.Record, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	var (
		bestSlot uint64
		bestRec  *acct.Record
	)
	for s, buf := range c.slots {
		if s > slot || !chain.Contains(s) {
			continue
		}
		rec, ok := buf.accounts[identity]
		if !ok {
			// still visible while its flush is in flight
			rec, ok = buf.flushing[identity]
		}
		if ok {
			if bestRec == nil || s > bestSlot {
				bestSlot, bestRec = s, rec
			}
		}
	}
	if bestRec == nil {
		return 0, nil, false
	}
	return bestSlot, bestRec, true
}

// Snapshot returns a stable view of the slot's buffered writes, sorted
// by identity, and moves them to the flushing layer. The records stay
// readable until Discard, so reads never hit a gap while the flush
// persists them, and writes landing after the snapshot buffer under the
// slot as usual for the next flush. Returns nil when the slot buffers
// nothing or a flush is already in flight.
func (c *Cache) Snapshot(slot uint64) []Buffered {
	c.lock.Lock()
	defer c.lock.Unlock()

	buf := c.slots[slot]
	if buf == nil || buf.flushing != nil || len(buf.accounts) == 0 {
		return nil
	}
	buf.flushing = buf.accounts
	buf.flushingBytes = buf.bytes
	buf.accounts = make(map[acct.Identity]*acct.Record)
	buf.bytes = 0

	out := make([]Buffered, 0, len(buf.flushing))
	for identity, rec := range buf.flushing {
		out = append(out, Buffered{Identity: identity, Record: rec})
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Identity[:], out[j].Identity[:]) < 0
	})
	return out
}

// Discard drops the snapshotted records after they are durable and
// indexed. Writes buffered since the snapshot stay put.
func (c *Cache) Discard(slot uint64) {
	c.lock.Lock()
	defer c.lock.Unlock()

	buf := c.slots[slot]
	if buf == nil || buf.flushing == nil {
		return
	}
	c.bytes -= buf.flushingBytes
	buf.flushing = nil
	buf.flushingBytes = 0
	if len(buf.accounts) == 0 {
		delete(c.slots, slot)
	}
	metricBufferedBytes().Set(c.bytes)
	metricBufferedSlots().Set(int64(len(c.slots)))
}

// Abort moves the snapshotted records back into the slot's buffer so a
// later flush can retry. Records rewritten since the snapshot keep
// their newer value.
func (c *Cache) Abort(slot uint64) {
	c.lock.Lock()
	defer c.lock.Unlock()

	buf := c.slots[slot]
	if buf == nil || buf.flushing == nil {
		return
	}
	for identity, rec := range buf.flushing {
		if _, ok := buf.accounts[identity]; ok {
			// superseded while the flush ran
			c.bytes -= int64(rec.Size())
			continue
		}
		buf.accounts[identity] = rec
		buf.bytes += int64(rec.Size())
	}
	buf.flushing = nil
	buf.flushingBytes = 0
	metricBufferedBytes().Set(c.bytes)
}

// Drop discards the slot entirely, buffered and flushing layers both,
// for pruned forks.
func (c *Cache) Drop(slot uint64) {
	c.lock.Lock()
	defer c.lock.Unlock()

	buf := c.slots[slot]
	if buf == nil {
		return
	}
	c.bytes -= buf.bytes + buf.flushingBytes
	delete(c.slots, slot)
	metricBufferedBytes().Set(c.bytes)
	metricBufferedSlots().Set(int64(len(c.slots)))
}

// Slots returns the buffered slot numbers, ascending.
func (c *Cache) Slots() []uint64 {
	c.lock.RLock()
	defer c.lock.RUnlock()

	slots := make([]uint64, 0, len(c.slots))
	for s := range c.slots {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
	return slots
}

// Bytes returns the buffered byte total.
func (c *Cache) Bytes() int64 {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.bytes
}

// OverBudget reports whether the buffered bytes exceed the budget.
func (c *Cache) OverBudget() bool {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.bytes > c.byteBudget
}
