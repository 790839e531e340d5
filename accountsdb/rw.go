// Copyright (c) 2026 The acctdb developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package accountsdb

import (
	"github.com/openledger/acctdb/acct"
	"github.com/openledger/acctdb/index"
	"github.com/pkg/errors"
)

// ErrNotFound returned by Get when the account does not exist on the
// queried chain, including accounts whose visible version holds zero
// lamports.
var ErrNotFound = errors.New("account not found")

// AddSlot registers a new working slot forked off the parent.
func (db *AccountsDB) AddSlot(slot, parent uint64) error {
	return db.tree.Add(slot, parent)
}

// Put stores the account record under the working slot. The last write
// per (slot, identity) wins. The record must not be mutated afterwards.
func (db *AccountsDB) Put(slot uint64, identity acct.Identity, rec *acct.Record) error {
	if _, err := db.tree.Chain(slot); err != nil {
		return err
	}
	if over := db.wc.Put(slot, identity, rec); over {
		db.flushSignal.Signal()
	}
	metricPuts().Add(1)
	return nil
}

// Get returns the account version visible at the slot, resolving
// through the slot's ancestor chain. The returned record is the
// caller's to keep.
func (db *AccountsDB) Get(identity acct.Identity, slot uint64) (*acct.Record, error) {
	chain, err := db.tree.Chain(slot)
	if err != nil {
		return nil, err
	}

	// hold the cleaner off the versions this read may resolve
	release := db.marks.Pin(slot)
	defer release()

	cachedSlot, cached, inCache := db.wc.Get(identity, slot, chain)
	entry, idxErr := db.idx.Get(identity, slot, chain)
	if idxErr != nil && !errors.Is(idxErr, index.ErrNotFound) {
		return nil, idxErr
	}
	inIndex := idxErr == nil

	switch {
	case inCache && (!inIndex || cachedSlot >= entry.Slot):
		if cached.Lamports == 0 {
			return nil, errors.WithStack(ErrNotFound)
		}
		metricGets().Add(1)
		return cached.Copy(), nil
	case inIndex:
		if entry.Lamports == 0 {
			return nil, errors.WithStack(ErrNotFound)
		}
		_, rec, err := db.segs.Read(entry.Loc)
		if err != nil {
			return nil, err
		}
		metricGets().Add(1)
		return rec, nil
	default:
		return nil, errors.WithStack(ErrNotFound)
	}
}

// Flush persists the slot's buffered writes to segment storage and
// indexes them. Safe to call more than once per slot; later buffered
// writes to the slot flush on the next call.
func (db *AccountsDB) Flush(slot uint64) error {
	db.flushLock.Lock()
	defer db.flushLock.Unlock()
	return db.flush(slot)
}

func (db *AccountsDB) flush(slot uint64) error {
	buffered := db.wc.Snapshot(slot)
	if buffered == nil {
		return nil
	}

	for _, b := range buffered {
		loc, err := db.segs.Write(slot, b.Identity, b.Record)
		if err != nil {
			db.wc.Abort(slot)
			return err
		}
		entry := index.Entry{
			Slot:     slot,
			Loc:      loc,
			Owner:    b.Record.Owner,
			Lamports: b.Record.Lamports,
			DataLen:  uint32(len(b.Record.Data)),
		}
		if err := db.idx.Upsert(b.Identity, entry); err != nil {
			if !errors.Is(err, index.ErrDuplicateSlotWrite) {
				db.wc.Abort(slot)
				return err
			}
			// the slot was flushed before and the identity rewritten
			// since; replace the stale version
			if old, ok := db.idx.Remove(b.Identity, slot); ok {
				db.segs.MarkDead(old.Loc)
			}
			if err := db.idx.Upsert(b.Identity, entry); err != nil {
				db.wc.Abort(slot)
				return err
			}
		}
	}
	// records are durable and indexed, reads no longer need the buffer
	db.wc.Discard(slot)
	metricFlushedSlots().Add(1)
	return nil
}

// SetRoot advances the root to the slot: its chain is flushed and made
// durable, conflicting forks are pruned and the cleaner is woken.
func (db *AccountsDB) SetRoot(slot uint64) error {
	chain, err := db.tree.Chain(slot)
	if err != nil {
		return err
	}

	// flush the chain before rooting so rooted state is always durable
	db.flushLock.Lock()
	for _, s := range db.wc.Slots() {
		if chain.Contains(s) {
			if err := db.flush(s); err != nil {
				db.flushLock.Unlock()
				return err
			}
		}
	}
	db.flushLock.Unlock()

	rooted, pruned, err := db.tree.SetRoot(slot)
	if err != nil {
		return err
	}

	for _, s := range pruned {
		db.wc.Drop(s)
	}
	if err := db.clean.PruneSlots(pruned); err != nil {
		return err
	}

	for _, s := range rooted {
		if err := db.segs.SealSlot(s); err != nil {
			return err
		}
		// rooted state feeds the owner index
		recs, err := db.segs.SlotRecords(s)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if rec.Lamports > 0 {
				db.sidx.Add(rec.Owner, rec.Identity)
			}
		}
	}

	if err := db.persistMarker(); err != nil {
		return err
	}
	metricRootSlot().Set(int64(db.marker.Max()))
	db.clean.Kick()
	return nil
}

func (db *AccountsDB) persistMarker() error {
	data, err := db.marker.MarshalBinary()
	if err != nil {
		return err
	}
	return db.props.Put([]byte(propRooted), data)
}

// OwnedBy returns the identities of rooted live accounts owned by the
// owner program, ascending.
func (db *AccountsDB) OwnedBy(owner acct.Identity) ([]acct.Identity, error) {
	db.sidx.Sync()
	return db.sidx.Lookup(owner)
}

// RootSlot returns the highest rooted slot.
func (db *AccountsDB) RootSlot() uint64 {
	return db.marker.Max()
}

// flushLoop drains the write cache when it overruns its budget.
func (db *AccountsDB) flushLoop() {
	waiter := db.flushSignal.NewWaiter()
	for {
		select {
		case <-waiter.C():
		case <-db.closed:
			return
		}

		for _, slot := range db.wc.Slots() {
			if !db.wc.OverBudget() {
				break
			}
			if err := db.Flush(slot); err != nil {
				logger.Error("background flush failed", "slot", slot, "err", err)
				break
			}
		}
	}
}
