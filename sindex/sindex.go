// Copyright (c) 2026 The acctdb developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package sindex maintains the persistent secondary index from owner
// program to the identities of accounts it owns. Only rooted account
// state is admitted, so lookups never observe fork-local writes.
package sindex

import (
	"bytes"
	"sort"

	lru "github.com/hashicorp/golang-lru"
	"github.com/openledger/acctdb/acct"
	"github.com/openledger/acctdb/co"
	"github.com/openledger/acctdb/kv"
	"github.com/pkg/errors"
)

const (
	lookupCacheSize = 1024
	eventQueueSize  = 4096
)

type eventKind byte

const (
	evAdd eventKind = iota
	evRemove
	evBarrier
)

type event struct {
	kind     eventKind
	owner    acct.Identity
	identity acct.Identity
	done     chan struct{}
}

// Index is the owner → identities secondary index. Mutations are
// applied asynchronously by a background goroutine; Sync flushes the
// queue for callers that need read-your-writes.
type Index struct {
	store kv.Store
	cache *lru.Cache

	goes   co.Goes
	events chan event
	closed chan struct{}
}

// New creates the index over the store and starts the applier.
func New(store kv.Store) *Index {
	cache, _ := lru.New(lookupCacheSize)
	x := &Index{
		store:  store,
		cache:  cache,
		events: make(chan event, eventQueueSize),
		closed: make(chan struct{}),
	}
	x.goes.Go(x.applyLoop)
	return x
}

func makeKey(owner, identity acct.Identity) []byte {
	key := make([]byte, 0, 64)
	return append(append(key, owner[:]...), identity[:]...)
}

// Add records that the account identity is owned by owner.
func (x *Index) Add(owner, identity acct.Identity) {
	x.enqueue(event{kind: evAdd, owner: owner, identity: identity})
}

// Remove drops the ownership record, when the account was purged.
func (x *Index) Remove(owner, identity acct.Identity) {
	x.enqueue(event{kind: evRemove, owner: owner, identity: identity})
}

func (x *Index) enqueue(ev event) {
	select {
	case x.events <- ev:
	case <-x.closed:
	}
}

// Sync blocks until all previously enqueued mutations are persisted.
func (x *Index) Sync() {
	done := make(chan struct{})
	select {
	case x.events <- event{kind: evBarrier, done: done}:
	case <-x.closed:
		return
	}
	select {
	case <-done:
	case <-x.closed:
	}
}

func (x *Index) applyLoop() {
	for {
		var ev event
		select {
		case ev = <-x.events:
		case <-x.closed:
			return
		}

		batch := x.store.NewBatch()
		var barriers []chan struct{}
		touched := map[acct.Identity]struct{}{}

		apply := func(ev event) {
			switch ev.kind {
			case evAdd:
				batch.Put(makeKey(ev.owner, ev.identity), []byte{})
				touched[ev.owner] = struct{}{}
			case evRemove:
				batch.Delete(makeKey(ev.owner, ev.identity))
				touched[ev.owner] = struct{}{}
			case evBarrier:
				barriers = append(barriers, ev.done)
			}
		}
		apply(ev)

		// drain whatever else queued up into the same batch
	drain:
		for {
			select {
			case ev := <-x.events:
				apply(ev)
			default:
				break drain
			}
		}

		if batch.Len() > 0 {
			if err := batch.Write(); err != nil {
				logger.Error("secondary index write failed", "err", err)
			}
		}
		for owner := range touched {
			x.cache.Remove(owner)
		}
		for _, done := range barriers {
			close(done)
		}
	}
}

// Lookup returns the identities owned by owner, ascending. Callers must
// not mutate the returned slice.
func (x *Index) Lookup(owner acct.Identity) ([]acct.Identity, error) {
	if cached, ok := x.cache.Get(owner); ok {
		return cached.([]acct.Identity), nil
	}

	var identities []acct.Identity
	r := kv.Range{Start: owner[:], Limit: ownerLimit(owner)}
	if err := x.store.Iterate(r, func(key, _ []byte) bool {
		if len(key) != 64 {
			return true
		}
		identities = append(identities, acct.BytesToIdentity(key[32:]))
		return true
	}); err != nil {
		return nil, errors.Wrap(err, "lookup owner")
	}
	sort.Slice(identities, func(i, j int) bool {
		return bytes.Compare(identities[i][:], identities[j][:]) < 0
	})

	x.cache.Add(owner, identities)
	return identities, nil
}

// ownerLimit returns the exclusive upper bound covering all keys
// prefixed by the owner.
func ownerLimit(owner acct.Identity) []byte {
	limit := make([]byte, 32)
	copy(limit, owner[:])
	for i := len(limit) - 1; i >= 0; i-- {
		limit[i]++
		if limit[i] != 0 {
			return limit
		}
	}
	return nil
}

// Close flushes pending mutations and stops the applier.
func (x *Index) Close() {
	x.Sync()
	close(x.closed)
	x.goes.Wait()
}
