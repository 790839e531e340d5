// Copyright (c) 2026 The acctdb developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package accountsdb assembles the storage engine: write cache, segment
// storage, multi-version index, secondary index, fork tracking and the
// cleaner, behind one facade.
package accountsdb

import (
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/openledger/acctdb/cleaner"
	"github.com/openledger/acctdb/co"
	"github.com/openledger/acctdb/fork"
	"github.com/openledger/acctdb/index"
	"github.com/openledger/acctdb/kv"
	"github.com/openledger/acctdb/segment"
	"github.com/openledger/acctdb/sindex"
	"github.com/openledger/acctdb/wcache"
	"github.com/pkg/errors"
)

var logger = log.New("pkg", "accountsdb")

const (
	sindexBucket = kv.Bucket("s")
	propsBucket  = kv.Bucket("p")

	propConfig = "config"
	propRooted = "rooted"
)

// Options configures the engine. Zero values pick defaults.
type Options struct {
	// CacheByteBudget bounds the write cache; exceeding it triggers
	// background flushes.
	CacheByteBudget int64
	// ShardCount is the index shard count, fixed at creation.
	ShardCount int
	// RetentionWindow is the number of superseded rooted versions kept.
	RetentionWindow int
	// CleanPassSize caps identities per cleaner pass.
	CleanPassSize int
	// SegmentCapacity is the segment file size, fixed at creation.
	SegmentCapacity uint32
	// ShrinkRatio is the live-ratio below which segments are shrunk.
	ShrinkRatio float64
	// ReadCacheBytes sizes the segment read cache.
	ReadCacheBytes int
	// KVCacheSizeMB sizes the secondary index store cache.
	KVCacheSizeMB int
}

func (o *Options) withDefaults() Options {
	opts := Options{}
	if o != nil {
		opts = *o
	}
	if opts.CacheByteBudget <= 0 {
		opts.CacheByteBudget = 256 * 1024 * 1024
	}
	if opts.ShardCount <= 0 {
		opts.ShardCount = 16
	}
	return opts
}

// AccountsDB is the account storage engine.
type AccountsDB struct {
	opts Options

	store  kv.StoreCloser
	props  kv.Store
	segs   *segment.Manager
	idx    *index.Index
	sidx   *sindex.Index
	wc     *wcache.Cache
	marker *fork.Marker
	tree   *fork.Tree
	marks  *fork.Watermark
	clean  *cleaner.Cleaner

	flushLock   sync.Mutex
	flushSignal co.Signal
	goes        co.Goes
	closed      chan struct{}
}

// Open opens or creates the engine at the data directory.
func Open(dataDir string, options *Options) (*AccountsDB, error) {
	opts := options.withDefaults()

	store, err := kv.New(filepath.Join(dataDir, "index.db"), kv.Options{
		CacheSizeMB: opts.KVCacheSizeMB,
	})
	if err != nil {
		return nil, err
	}
	props := propsBucket.NewStore(store)

	if err := loadOrStoreConfig(props, &opts); err != nil {
		store.Close()
		return nil, err
	}

	segs, err := segment.OpenManager(segment.Config{
		Dir:             filepath.Join(dataDir, "segments"),
		SegmentCapacity: opts.SegmentCapacity,
		ShrinkRatio:     opts.ShrinkRatio,
		ReadCacheBytes:  opts.ReadCacheBytes,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	db := &AccountsDB{
		opts:   opts,
		store:  store,
		props:  props,
		segs:   segs,
		idx:    index.New(opts.ShardCount),
		sidx:   sindex.New(sindexBucket.NewStore(store)),
		wc:     wcache.New(opts.CacheByteBudget),
		marker: fork.NewMarker(),
		marks:  fork.NewWatermark(),
		closed: make(chan struct{}),
	}
	db.tree = fork.NewTree(db.marker)

	if err := db.recover(); err != nil {
		db.sidx.Close()
		segs.Close()
		store.Close()
		return nil, err
	}

	db.clean = cleaner.New(cleaner.Config{
		RetentionWindow: opts.RetentionWindow,
		PassSize:        opts.CleanPassSize,
	}, db.idx, db.segs, db.marker, db.marks, db.sidx)

	db.goes.Go(db.flushLoop)
	return db, nil
}

// recover restores the marker and rebuilds the in-memory index from the
// segment files. Slots that were flushed before the crash but never
// rooted have lost their fork linkage and are dropped; unrooted state
// is rebuilt by replay anyway.
func (db *AccountsDB) recover() error {
	if data, err := db.props.Get([]byte(propRooted)); err == nil {
		if err := db.marker.UnmarshalBinary(data); err != nil {
			return errors.Wrap(err, "restore root marker")
		}
	} else if !db.props.IsNotFound(err) {
		return err
	}

	var dropped int
	var rootedSlots []uint64
	for _, slot := range db.segs.Slots() {
		if !db.marker.Contains(slot) {
			if err := db.segs.DropSlot(slot); err != nil {
				return err
			}
			dropped++
			continue
		}
		rootedSlots = append(rootedSlots, slot)
	}
	if dropped > 0 {
		logger.Info("dropped unrooted slots on recovery", "count", dropped)
	}

	// slot scans are independent, rebuild the index on all CPUs
	var lock sync.Mutex
	var firstErr error
	co.Parallel(func(enqueue co.Enqueue) {
		for _, slot := range rootedSlots {
			enqueue(func() {
				recs, err := db.segs.SlotRecords(slot)
				if err == nil {
					for _, rec := range recs {
						if err = db.idx.Upsert(rec.Identity, index.Entry{
							Slot:     slot,
							Loc:      rec.Loc,
							Owner:    rec.Owner,
							Lamports: rec.Lamports,
							DataLen:  rec.DataLen,
						}); err != nil {
							break
						}
					}
				}
				if err != nil {
					lock.Lock()
					if firstErr == nil {
						firstErr = err
					}
					lock.Unlock()
				}
			})
		}
	})
	return firstErr
}

// Stats reports engine counters.
type Stats struct {
	Accounts      int
	Segments      int
	UsedBytes     int64
	LiveBytes     int64
	BufferedBytes int64
	RootSlot      uint64
}

// Stats returns a point-in-time view of the engine.
func (db *AccountsDB) Stats() Stats {
	segStats := db.segs.Stats()
	return Stats{
		Accounts:      db.idx.Count(),
		Segments:      segStats.Segments,
		UsedBytes:     segStats.UsedBytes,
		LiveBytes:     segStats.LiveBytes,
		BufferedBytes: db.wc.Bytes(),
		RootSlot:      db.marker.Max(),
	}
}

// Close flushes nothing; unrooted buffered writes are rebuilt by replay.
// It stops background workers and closes the stores.
func (db *AccountsDB) Close() error {
	close(db.closed)
	db.goes.Wait()
	db.clean.Close()
	db.sidx.Close()
	if err := db.segs.Close(); err != nil {
		db.store.Close()
		return err
	}
	return db.store.Close()
}
