// Copyright (c) 2026 The acctdb developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package segment

import (
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring"
	"github.com/openledger/acctdb/acct"
	"github.com/pkg/errors"
)

// ID is the process-wide monotonic segment id. Together with the slot it
// names the segment file, avoiding collisions across concurrent
// allocations.
type ID uint64

// Location addresses one record inside a segment.
type Location struct {
	Seg    ID
	Offset uint32
	Length uint32
}

// ErrCapacityExceeded returned by Append when the segment is full. The
// caller seals the segment and allocates a new one.
var ErrCapacityExceeded = errors.New("segment capacity exceeded")

// Segment is an append-only region of account records for one slot.
// It owns its file mapping; record views are resolved against the
// mapping by offset and never escape unguarded. A segment is
// many-reader/single-sealer: one writer appends until Seal, after which
// the content is immutable.
type Segment struct {
	id   ID
	slot uint64
	file *mmapFile

	appendLock sync.Mutex
	used       atomic.Uint32
	sealed     atomic.Bool

	liveBytes atomic.Int64
	deadLock  sync.Mutex
	dead      *roaring.Bitmap // offsets of dead records

	refs    atomic.Int32 // 1 base ref held by the manager
	deleted atomic.Bool
}

func newSegment(id ID, slot uint64, file *mmapFile) *Segment {
	s := &Segment{
		id:   id,
		slot: slot,
		file: file,
		dead: roaring.New(),
	}
	s.used.Store(fileHeaderSize)
	s.refs.Store(1)
	return s
}

// ID returns the segment id.
func (s *Segment) ID() ID { return s.id }

// Slot returns the slot the segment was written for.
func (s *Segment) Slot() uint64 { return s.slot }

// Sealed returns whether the segment is immutable.
func (s *Segment) Sealed() bool { return s.sealed.Load() }

// UsedBytes returns bytes appended so far, including the file header.
func (s *Segment) UsedBytes() uint32 { return s.used.Load() }

// LiveBytes returns the not-yet-dead record bytes.
func (s *Segment) LiveBytes() int64 { return s.liveBytes.Load() }

// Append writes a record and returns its location. It fails with
// ErrCapacityExceeded when the record does not fit, and with an error
// when the segment is already sealed.
func (s *Segment) Append(identity acct.Identity, rec *acct.Record) (Location, error) {
	s.appendLock.Lock()
	defer s.appendLock.Unlock()

	if s.sealed.Load() {
		return Location{}, errors.Errorf("segment %d sealed", s.id)
	}

	size := recordSize(len(rec.Data))
	off := s.used.Load()
	if uint64(off)+uint64(size) > uint64(len(s.file.Data)) {
		return Location{}, ErrCapacityExceeded
	}

	putRecord(s.file.Data[off:off+size], identity, rec)
	// publish the new watermark only after the bytes are in place
	s.used.Store(off + size)
	s.liveBytes.Add(int64(size))
	return Location{Seg: s.id, Offset: off, Length: size}, nil
}

// Seal marks the segment immutable and shrinks the backing file to its
// used size. Safe to call more than once.
func (s *Segment) Seal() error {
	s.appendLock.Lock()
	defer s.appendLock.Unlock()

	if s.sealed.Load() {
		return nil
	}
	if err := s.file.Truncate(int64(s.used.Load())); err != nil {
		return errors.Wrapf(err, "seal segment %d", s.id)
	}
	s.sealed.Store(true)
	return nil
}

// read decodes the record at the location. The returned record data
// aliases the mapping; the caller must hold a ref and copy before the
// release.
func (s *Segment) read(offset, length uint32) (acct.Identity, *acct.Record, error) {
	used := s.used.Load()
	if offset < fileHeaderSize || uint64(offset)+uint64(length) > uint64(used) {
		return acct.Identity{}, nil, errors.Errorf("location out of range in segment %d", s.id)
	}
	identity, rec, _, err := parseRecord(s.file.Data[offset : offset+length])
	if err != nil {
		return acct.Identity{}, nil, errors.Wrapf(err, "segment %d offset %d", s.id, offset)
	}
	return identity, rec, nil
}

// rawRecord returns the encoded record bytes at the location, aliasing
// the mapping.
func (s *Segment) rawRecord(offset, length uint32) ([]byte, error) {
	if offset < fileHeaderSize || uint64(offset)+uint64(length) > uint64(s.used.Load()) {
		return nil, errors.Errorf("location out of range in segment %d", s.id)
	}
	return s.file.Data[offset : offset+length], nil
}

// markDead marks the record at the offset dead and returns the live
// bytes left. Marking the same record twice is a no-op.
func (s *Segment) markDead(offset, length uint32) int64 {
	s.deadLock.Lock()
	already := s.dead.Contains(offset)
	if !already {
		s.dead.Add(offset)
	}
	s.deadLock.Unlock()

	if already {
		return s.liveBytes.Load()
	}
	return s.liveBytes.Add(-int64(length))
}

func (s *Segment) isDead(offset uint32) bool {
	s.deadLock.Lock()
	defer s.deadLock.Unlock()
	return s.dead.Contains(offset)
}

// scan iterates all records in append order, reporting liveness, until
// fn returns false.
func (s *Segment) scan(fn func(loc Location, identity acct.Identity, rec *acct.Record, live bool) bool) error {
	used := s.used.Load()
	for off := uint32(fileHeaderSize); off < used; {
		identity, rec, _, err := parseRecord(s.file.Data[off:used])
		if err != nil {
			return errors.Wrapf(err, "segment %d offset %d", s.id, off)
		}
		size := recordSize(len(rec.Data))
		loc := Location{Seg: s.id, Offset: off, Length: size}
		if !fn(loc, identity, rec, !s.isDead(off)) {
			return nil
		}
		off += size
	}
	return nil
}

// acquire takes a read ref, failing once the segment is deleted.
func (s *Segment) acquire() bool {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// release drops a read ref; the last ref closes the mapping and, if the
// segment was deleted, removes the file.
func (s *Segment) release() {
	if s.refs.Add(-1) == 0 {
		if s.deleted.Load() {
			if err := s.file.Remove(); err != nil {
				logger.Warn("remove segment file", "seg", uint64(s.id), "err", err)
			}
		} else {
			if err := s.file.Close(); err != nil {
				logger.Warn("close segment file", "seg", uint64(s.id), "err", err)
			}
		}
	}
}
