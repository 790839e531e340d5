// Copyright (c) 2026 The acctdb developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package cleaner reclaims storage behind advancing roots: it drops
// pruned fork slots, removes superseded rooted versions outside the
// retention window, purges zero-lamport accounts and shrinks sparse
// segments.
package cleaner

import (
	"github.com/ethereum/go-ethereum/log"
	"github.com/openledger/acctdb/acct"
	"github.com/openledger/acctdb/co"
	"github.com/openledger/acctdb/fork"
	"github.com/openledger/acctdb/index"
	"github.com/openledger/acctdb/metrics"
	"github.com/openledger/acctdb/segment"
	"github.com/openledger/acctdb/sindex"
)

var logger = log.New("pkg", "cleaner")

var (
	metricRemovedVersions = metrics.LazyLoadCounter("cleaner_removed_versions")
	metricPurgedAccounts  = metrics.LazyLoadCounter("cleaner_purged_accounts")
	metricPrunedSlots     = metrics.LazyLoadCounter("cleaner_pruned_slots")
)

// Config tunes the cleaner.
type Config struct {
	// RetentionWindow is the number of superseded rooted versions kept
	// below the newest one. 0 keeps only the newest.
	RetentionWindow int
	// PassSize caps the identities examined per sweep pass, so a pass
	// never stalls the write path for long.
	PassSize int
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.PassSize <= 0 {
		cfg.PassSize = 4096
	}
	return cfg
}

// Cleaner runs budgeted sweep passes over the index whenever the root
// advances.
type Cleaner struct {
	cfg    Config
	idx    *index.Index
	segs   *segment.Manager
	marker *fork.Marker
	marks  *fork.Watermark
	sidx   *sindex.Index

	signal co.Signal
	goes   co.Goes
	closed chan struct{}

	cursor int // next shard to sweep
}

// New creates a cleaner and starts its sweep loop.
func New(
	cfg Config,
	idx *index.Index,
	segs *segment.Manager,
	marker *fork.Marker,
	marks *fork.Watermark,
	sidx *sindex.Index,
) *Cleaner {
	c := &Cleaner{
		cfg:    cfg.withDefaults(),
		idx:    idx,
		segs:   segs,
		marker: marker,
		marks:  marks,
		sidx:   sidx,
		closed: make(chan struct{}),
	}
	c.goes.Go(c.loop)
	return c
}

// Kick wakes the sweep loop, after a root advanced or the write cache
// flushed.
func (c *Cleaner) Kick() {
	c.signal.Signal()
}

// PruneSlots removes the given pruned fork slots from index and
// storage. Called synchronously when the root advances, before readers
// can be handed a chain that excludes them.
func (c *Cleaner) PruneSlots(slots []uint64) error {
	for _, slot := range slots {
		recs, err := c.segs.SlotRecords(slot)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			c.idx.Remove(rec.Identity, slot)
		}
		if err := c.segs.DropSlot(slot); err != nil {
			return err
		}
		metricPrunedSlots().Add(1)
	}
	return nil
}

func (c *Cleaner) loop() {
	waiter := c.signal.NewWaiter()
	for {
		select {
		case <-waiter.C():
		case <-c.closed:
			return
		}

		for {
			swept, err := c.sweep()
			if err != nil {
				logger.Error("sweep failed", "err", err)
				break
			}
			if swept {
				if err := c.segs.Reclaim(c.idx.Swap); err != nil {
					logger.Error("reclaim failed", "err", err)
				}
				break
			}
			// pass budget exhausted mid-index, keep going
			select {
			case <-c.closed:
				return
			default:
			}
		}
	}
}

// sweep walks the index from the shard cursor, removing what the root
// and retention window no longer need. Returns true when the walk
// reached the end of the index, false when the pass budget ran out.
func (c *Cleaner) sweep() (bool, error) {
	root := c.marker.Max()
	// never touch versions a pinned reader may still resolve
	bound := c.marks.Min(root)
	if bound > root {
		bound = root
	}

	budget := c.cfg.PassSize
	for ; c.cursor < c.idx.ShardCount(); c.cursor++ {
		c.idx.RangeShard(c.cursor, func(identity acct.Identity, entries []index.Entry) bool {
			c.sweepIdentity(identity, entries, root, bound)
			budget--
			return budget > 0
		})
		if budget <= 0 {
			return false, nil
		}
	}
	c.cursor = 0
	return true, nil
}

func (c *Cleaner) sweepIdentity(identity acct.Identity, entries []index.Entry, root, bound uint64) {
	// locate the newest rooted version visible at the root
	newest := -1
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Slot <= root && c.marker.Contains(e.Slot) {
			newest = i
			break
		}
	}
	if newest < 0 {
		return
	}

	// superseded rooted versions below the retention window. A version
	// is dead only once a newer rooted version exists at or below the
	// reader bound, so a pinned reader between the two never loses the
	// one it resolves to.
	kept := 0
	superseder := entries[newest].Slot
	for i := newest - 1; i >= 0; i-- {
		e := entries[i]
		if !c.marker.Contains(e.Slot) {
			// an unrooted version below the root belongs to a fork the
			// prune pass owns; leave it alone here
			continue
		}
		if kept < c.cfg.RetentionWindow {
			kept++
			superseder = e.Slot
			continue
		}
		if superseder > bound {
			superseder = e.Slot
			continue
		}
		if removed, ok := c.idx.Remove(identity, e.Slot); ok {
			c.segs.MarkDead(removed.Loc)
			metricRemovedVersions().Add(1)
		}
	}

	// a zero-lamport newest version means the account is dead; once no
	// fork or pinned reader can resolve an older version, drop it
	// entirely and unlink it from its owner
	e := entries[newest]
	if e.Lamports == 0 && newest == len(entries)-1 && e.Slot < bound && c.allRootedBelow(entries[:newest]) {
		purged := false
		for _, ve := range entries {
			if removed, ok := c.idx.Remove(identity, ve.Slot); ok {
				c.segs.MarkDead(removed.Loc)
				purged = true
			}
		}
		if purged {
			c.sidx.Remove(e.Owner, identity)
			metricPurgedAccounts().Add(1)
		}
	}
}

func (c *Cleaner) allRootedBelow(entries []index.Entry) bool {
	for _, e := range entries {
		if !c.marker.Contains(e.Slot) {
			return false
		}
	}
	return true
}

// Close stops the sweep loop.
func (c *Cleaner) Close() {
	close(c.closed)
	c.goes.Wait()
}
