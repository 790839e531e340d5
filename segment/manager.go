// Copyright (c) 2026 The acctdb developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/openledger/acctdb/acct"
	"github.com/pkg/errors"
)

var logger = log.New("pkg", "segment")

// Config configures the segment manager.
type Config struct {
	Dir string
	// SegmentCapacity is the allocation size of a segment file in bytes.
	SegmentCapacity uint32
	// ShrinkRatio is the live-byte ratio below which a sealed segment
	// becomes a shrink candidate.
	ShrinkRatio float64
	// ReadCacheBytes is the size of the sealed-record read cache.
	ReadCacheBytes int
}

// SlotRecord describes one live record found in a slot's segments.
type SlotRecord struct {
	Identity acct.Identity
	Owner    acct.Identity
	Lamports uint64
	DataLen  uint32
	Loc      Location
}

// Stats is a point-in-time summary of managed segments.
type Stats struct {
	Segments  int
	UsedBytes int64
	LiveBytes int64
}

// Manager owns all storage segments. It allocates writable segments per
// slot, seals them, tracks live/dead byte ratios and reclaims space by
// shrinking or deleting segments.
type Manager struct {
	cfg Config

	lock   sync.Mutex
	active map[uint64]*Segment // unsealed write target per slot
	segs   map[ID]*Segment
	bySlot map[uint64][]*Segment
	nextID ID
	closed bool

	readCache *readCache
}

// OpenManager opens the segment directory, recovering existing segment
// files. Torn tails of segments that were not sealed before a crash are
// truncated away; recovered segments are treated as sealed.
func OpenManager(cfg Config) (*Manager, error) {
	if cfg.SegmentCapacity == 0 {
		cfg.SegmentCapacity = 16 * 1024 * 1024
	}
	if cfg.ShrinkRatio == 0 {
		cfg.ShrinkRatio = 0.25
	}
	if cfg.ReadCacheBytes == 0 {
		cfg.ReadCacheBytes = 32 * 1024 * 1024
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create segment dir")
	}

	m := &Manager{
		cfg:       cfg,
		active:    make(map[uint64]*Segment),
		segs:      make(map[ID]*Segment),
		bySlot:    make(map[uint64][]*Segment),
		nextID:    1,
		readCache: newReadCache(cfg.ReadCacheBytes),
	}

	entries, err := os.ReadDir(cfg.Dir)
	if err != nil {
		return nil, errors.Wrap(err, "read segment dir")
	}
	for _, ent := range entries {
		if ent.IsDir() || filepath.Ext(ent.Name()) != ".seg" {
			continue
		}
		seg, err := m.recoverSegment(filepath.Join(cfg.Dir, ent.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "recover segment %s", ent.Name())
		}
		if seg == nil {
			continue
		}
		m.segs[seg.id] = seg
		m.bySlot[seg.slot] = append(m.bySlot[seg.slot], seg)
		if seg.id >= m.nextID {
			m.nextID = seg.id + 1
		}
	}
	metricSegmentCount().Set(int64(len(m.segs)))
	return m, nil
}

func (m *Manager) recoverSegment(path string) (*Segment, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	file, err := openMmapFile(path, fi.Size(), true)
	if err != nil {
		return nil, err
	}
	slot, id, err := parseFileHeader(file.Data)
	if err != nil {
		file.Close()
		return nil, err
	}

	// find the valid prefix, verifying record hashes
	used := uint32(fileHeaderSize)
	var live int64
	for uint64(used) < uint64(len(file.Data)) {
		_, rec, verr := verifyRecord(file.Data[used:])
		if verr != nil {
			break
		}
		size := recordSize(len(rec.Data))
		used += size
		live += int64(size)
	}

	if used == fileHeaderSize {
		// nothing durable made it in, drop the file
		logger.Warn("dropping empty segment file", "path", path)
		return nil, file.Remove()
	}
	if int64(used) != fi.Size() {
		logger.Warn("truncating torn segment tail", "path", path, "used", used, "size", fi.Size())
		if err := file.Truncate(int64(used)); err != nil {
			file.Close()
			return nil, err
		}
	}

	seg := newSegment(id, slot, file)
	seg.used.Store(used)
	seg.liveBytes.Store(live)
	seg.sealed.Store(true)
	return seg, nil
}

func (m *Manager) segPath(slot uint64, id ID) string {
	return filepath.Join(m.cfg.Dir, fmt.Sprintf("%d-%d.seg", slot, id))
}

// Allocate returns the writable segment for a slot, reusing the existing
// unsealed one to avoid fragmentation. minCapacity can be 0 to use the
// configured segment capacity.
func (m *Manager) Allocate(slot uint64) (*Segment, error) {
	return m.allocate(slot, 0)
}

func (m *Manager) allocate(slot uint64, minCapacity uint32) (*Segment, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.closed {
		return nil, errors.New("manager closed")
	}
	if seg, ok := m.active[slot]; ok {
		return seg, nil
	}

	capacity := m.cfg.SegmentCapacity
	if minCapacity > capacity {
		capacity = minCapacity
	}

	id := m.nextID
	m.nextID++
	file, err := openMmapFile(m.segPath(slot, id), int64(capacity), true)
	if err != nil {
		return nil, err
	}
	putFileHeader(file.Data, slot, id)

	seg := newSegment(id, slot, file)
	m.active[slot] = seg
	m.segs[id] = seg
	m.bySlot[slot] = append(m.bySlot[slot], seg)
	metricSegmentCount().Set(int64(len(m.segs)))
	return seg, nil
}

// Write appends a record for the slot, transparently sealing a full
// segment and allocating a fresh one.
func (m *Manager) Write(slot uint64, identity acct.Identity, rec *acct.Record) (Location, error) {
	for {
		seg, err := m.allocate(slot, recordSize(len(rec.Data))+fileHeaderSize)
		if err != nil {
			return Location{}, err
		}
		loc, err := seg.Append(identity, rec)
		if err == nil {
			metricLiveBytes().Add(int64(loc.Length))
			return loc, nil
		}
		if !errors.Is(err, ErrCapacityExceeded) {
			return Location{}, err
		}
		if err := m.SealSlot(slot); err != nil {
			return Location{}, err
		}
	}
}

// SealSlot seals the slot's active segment, if any.
func (m *Manager) SealSlot(slot uint64) error {
	m.lock.Lock()
	seg, ok := m.active[slot]
	if ok {
		delete(m.active, slot)
	}
	m.lock.Unlock()

	if !ok {
		return nil
	}
	return seg.Seal()
}

func (m *Manager) get(id ID) (*Segment, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	seg, ok := m.segs[id]
	return seg, ok
}

// Read returns the record at the location. The returned record is an
// independent copy.
func (m *Manager) Read(loc Location) (acct.Identity, *acct.Record, error) {
	seg, ok := m.get(loc.Seg)
	if !ok {
		return acct.Identity{}, nil, errors.Errorf("segment %d not found", loc.Seg)
	}

	if seg.Sealed() {
		if blob := m.readCache.Get(loc); blob != nil {
			identity, rec, _, err := parseRecord(blob)
			if err != nil {
				return acct.Identity{}, nil, err
			}
			return identity, rec, nil
		}
	}

	if !seg.acquire() {
		return acct.Identity{}, nil, errors.Errorf("segment %d deleted", loc.Seg)
	}
	defer seg.release()

	identity, rec, err := seg.read(loc.Offset, loc.Length)
	if err != nil {
		return acct.Identity{}, nil, err
	}
	rec = rec.Copy()

	if seg.Sealed() {
		if blob, err := seg.rawRecord(loc.Offset, loc.Length); err == nil {
			m.readCache.Add(loc, blob)
		}
	}
	return identity, rec, nil
}

// MarkDead decrements live-byte accounting for the record at the
// location.
func (m *Manager) MarkDead(loc Location) {
	seg, ok := m.get(loc.Seg)
	if !ok {
		return
	}
	seg.markDead(loc.Offset, loc.Length)
	m.readCache.Remove(loc)
	metricLiveBytes().Add(-int64(loc.Length))
}

// SlotRecords returns the live records of all segments written for the
// slot, in append order.
func (m *Manager) SlotRecords(slot uint64) ([]SlotRecord, error) {
	m.lock.Lock()
	segs := append([]*Segment(nil), m.bySlot[slot]...)
	m.lock.Unlock()

	var out []SlotRecord
	for _, seg := range segs {
		if !seg.acquire() {
			continue
		}
		err := seg.scan(func(loc Location, identity acct.Identity, rec *acct.Record, live bool) bool {
			if live {
				out = append(out, SlotRecord{
					Identity: identity,
					Owner:    rec.Owner,
					Lamports: rec.Lamports,
					DataLen:  uint32(len(rec.Data)),
					Loc:      loc,
				})
			}
			return true
		})
		seg.release()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DropSlot marks every record of the slot dead and deletes its segments.
// Used when a fork slot becomes unreachable.
func (m *Manager) DropSlot(slot uint64) error {
	m.lock.Lock()
	segs := append([]*Segment(nil), m.bySlot[slot]...)
	m.lock.Unlock()

	for _, seg := range segs {
		if err := seg.Seal(); err != nil {
			return err
		}
		err := seg.scan(func(loc Location, _ acct.Identity, _ *acct.Record, live bool) bool {
			if live {
				m.MarkDead(loc)
			}
			return true
		})
		if err != nil {
			return err
		}
		if err := m.Delete(seg.id); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes a segment. Only permitted once its live-byte count
// reaches zero.
func (m *Manager) Delete(id ID) error {
	m.lock.Lock()
	seg, ok := m.segs[id]
	if ok {
		if seg.LiveBytes() > 0 {
			m.lock.Unlock()
			return errors.Errorf("segment %d still has %d live bytes", id, seg.LiveBytes())
		}
		delete(m.segs, id)
		if m.active[seg.slot] == seg {
			delete(m.active, seg.slot)
		}
		slotSegs := m.bySlot[seg.slot][:0]
		for _, s := range m.bySlot[seg.slot] {
			if s.id != id {
				slotSegs = append(slotSegs, s)
			}
		}
		if len(slotSegs) == 0 {
			delete(m.bySlot, seg.slot)
		} else {
			m.bySlot[seg.slot] = slotSegs
		}
	}
	count := len(m.segs)
	m.lock.Unlock()

	if !ok {
		return nil
	}
	seg.deleted.Store(true)
	seg.release() // drop the base ref; the file goes away with the last reader
	metricSegmentCount().Set(int64(count))
	metricDeletedCount().Add(1)
	return nil
}

// ShrinkCandidates returns sealed segments whose live ratio fell below
// the configured threshold.
func (m *Manager) ShrinkCandidates() []ID {
	m.lock.Lock()
	defer m.lock.Unlock()

	var ids []ID
	for id, seg := range m.segs {
		if !seg.Sealed() || m.active[seg.slot] == seg {
			continue
		}
		used := int64(seg.UsedBytes() - fileHeaderSize)
		if used == 0 {
			continue
		}
		live := seg.LiveBytes()
		if live > 0 && float64(live)/float64(used) < m.cfg.ShrinkRatio {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SwapFunc atomically redirects one index entry from old to new location.
// It returns an error when the entry no longer exists, in which case the
// new record is discarded.
type SwapFunc func(identity acct.Identity, slot uint64, old, new Location) error

// Shrink rewrites the live records of a sealed segment into a fresh,
// smaller segment, swaps index references via swap and deletes the
// original.
func (m *Manager) Shrink(id ID, swap SwapFunc) error {
	seg, ok := m.get(id)
	if !ok {
		return nil
	}
	if !seg.Sealed() {
		return errors.Errorf("segment %d not sealed", id)
	}
	if !seg.acquire() {
		return nil
	}
	defer seg.release()

	type moved struct {
		identity acct.Identity
		old      Location
		rec      *acct.Record
	}
	var lives []moved
	var liveSize uint32
	err := seg.scan(func(loc Location, identity acct.Identity, rec *acct.Record, live bool) bool {
		if live {
			lives = append(lives, moved{identity, loc, rec.Copy()})
			liveSize += loc.Length
		}
		return true
	})
	if err != nil {
		return err
	}
	if len(lives) == 0 {
		return m.Delete(id)
	}

	// fresh segment sized to the live payload
	m.lock.Lock()
	if m.closed {
		m.lock.Unlock()
		return errors.New("manager closed")
	}
	newID := m.nextID
	m.nextID++
	file, err := openMmapFile(m.segPath(seg.slot, newID), int64(liveSize+fileHeaderSize), true)
	if err != nil {
		m.lock.Unlock()
		return err
	}
	putFileHeader(file.Data, seg.slot, newID)
	newSeg := newSegment(newID, seg.slot, file)
	m.segs[newID] = newSeg
	m.bySlot[seg.slot] = append(m.bySlot[seg.slot], newSeg)
	m.lock.Unlock()

	for _, mv := range lives {
		newLoc, err := newSeg.Append(mv.identity, mv.rec)
		if err != nil {
			return errors.Wrapf(err, "shrink segment %d", id)
		}
		if err := swap(mv.identity, seg.slot, mv.old, newLoc); err != nil {
			// entry gone in the meantime; the relocated copy is garbage
			newSeg.markDead(newLoc.Offset, newLoc.Length)
		} else {
			seg.markDead(mv.old.Offset, mv.old.Length)
			m.readCache.Remove(mv.old)
		}
	}
	if err := newSeg.Seal(); err != nil {
		return err
	}

	metricShrunkCount().Add(1)
	if seg.LiveBytes() == 0 {
		return m.Delete(id)
	}
	return nil
}

// Reclaim shrinks all shrink candidates and deletes fully dead segments.
func (m *Manager) Reclaim(swap SwapFunc) error {
	m.lock.Lock()
	var deletable []ID
	for id, seg := range m.segs {
		if seg.Sealed() && seg.LiveBytes() == 0 {
			deletable = append(deletable, id)
		}
	}
	m.lock.Unlock()

	for _, id := range deletable {
		if err := m.Delete(id); err != nil {
			return err
		}
	}
	for _, id := range m.ShrinkCandidates() {
		if err := m.Shrink(id, swap); err != nil {
			return err
		}
	}
	return nil
}

// Slots returns all slots that have segments, ascending.
func (m *Manager) Slots() []uint64 {
	m.lock.Lock()
	defer m.lock.Unlock()

	slots := make([]uint64, 0, len(m.bySlot))
	for s := range m.bySlot {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
	return slots
}

// Stats returns a summary of the managed segments.
func (m *Manager) Stats() Stats {
	m.lock.Lock()
	defer m.lock.Unlock()

	var st Stats
	st.Segments = len(m.segs)
	for _, seg := range m.segs {
		st.UsedBytes += int64(seg.UsedBytes())
		st.LiveBytes += seg.LiveBytes()
	}
	return st
}

// Close seals active segments and releases all mappings.
func (m *Manager) Close() error {
	m.lock.Lock()
	if m.closed {
		m.lock.Unlock()
		return nil
	}
	m.closed = true
	segs := make([]*Segment, 0, len(m.segs))
	for _, seg := range m.segs {
		segs = append(segs, seg)
	}
	m.active = map[uint64]*Segment{}
	m.lock.Unlock()

	for _, seg := range segs {
		if err := seg.Seal(); err != nil {
			return err
		}
		seg.release()
	}
	return nil
}
