// Copyright (c) 2026 The acctdb developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/openledger/acctdb/acct"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, capacity uint32) *Manager {
	m, err := OpenManager(Config{
		Dir:             t.TempDir(),
		SegmentCapacity: capacity,
		ShrinkRatio:     0.5,
		ReadCacheBytes:  1024 * 1024,
	})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func testRecord(owner string, lamports uint64, data string) *acct.Record {
	return &acct.Record{
		Owner:    acct.BytesToIdentity([]byte(owner)),
		Lamports: lamports,
		Data:     []byte(data),
	}
}

func TestWriteRead(t *testing.T) {
	m := newTestManager(t, 1024*1024)

	identity := acct.BytesToIdentity([]byte("a"))
	rec := testRecord("owner", 100, "hello")

	loc, err := m.Write(1, identity, rec)
	require.NoError(t, err)
	assert.Equal(t, uint32(fileHeaderSize), loc.Offset)

	gotID, got, err := m.Read(loc)
	require.NoError(t, err)
	assert.Equal(t, identity, gotID)
	assert.Equal(t, rec.Lamports, got.Lamports)
	assert.Equal(t, rec.Data, got.Data)

	// read again, now through the read cache
	require.NoError(t, m.SealSlot(1))
	for range 2 {
		_, got, err = m.Read(loc)
		require.NoError(t, err)
		assert.Equal(t, rec.Data, got.Data)
	}
}

func TestAllocateReusesUnsealed(t *testing.T) {
	m := newTestManager(t, 1024*1024)

	s1, err := m.Allocate(5)
	require.NoError(t, err)
	s2, err := m.Allocate(5)
	require.NoError(t, err)
	assert.Equal(t, s1.ID(), s2.ID())

	require.NoError(t, m.SealSlot(5))
	s3, err := m.Allocate(5)
	require.NoError(t, err)
	assert.NotEqual(t, s1.ID(), s3.ID())
}

func TestCapacityRollover(t *testing.T) {
	// tiny capacity forces a seal+reallocate per record
	m := newTestManager(t, fileHeaderSize+recordSize(8))

	var locs []Location
	for i := range 3 {
		loc, err := m.Write(1, acct.BytesToIdentity([]byte{byte(i)}), testRecord("o", 1, "12345678"))
		require.NoError(t, err)
		locs = append(locs, loc)
	}
	assert.NotEqual(t, locs[0].Seg, locs[1].Seg)
	assert.NotEqual(t, locs[1].Seg, locs[2].Seg)

	for i, loc := range locs {
		gotID, _, err := m.Read(loc)
		require.NoError(t, err)
		assert.Equal(t, acct.BytesToIdentity([]byte{byte(i)}), gotID)
	}
}

func TestOversizedRecord(t *testing.T) {
	m := newTestManager(t, fileHeaderSize+recordSize(8))

	big := testRecord("o", 1, string(make([]byte, 4096)))
	loc, err := m.Write(1, acct.BytesToIdentity([]byte("big")), big)
	require.NoError(t, err)

	_, got, err := m.Read(loc)
	require.NoError(t, err)
	assert.Len(t, got.Data, 4096)
}

func TestDeleteRequiresZeroLive(t *testing.T) {
	m := newTestManager(t, 1024*1024)

	loc, err := m.Write(1, acct.BytesToIdentity([]byte("a")), testRecord("o", 1, "x"))
	require.NoError(t, err)
	require.NoError(t, m.SealSlot(1))

	assert.Error(t, m.Delete(loc.Seg))

	m.MarkDead(loc)
	assert.NoError(t, m.Delete(loc.Seg))

	_, _, err = m.Read(loc)
	assert.Error(t, err)
}

func TestShrink(t *testing.T) {
	m := newTestManager(t, 1024*1024)

	var locs []Location
	for i := range 4 {
		loc, err := m.Write(1, acct.BytesToIdentity([]byte{byte(i)}), testRecord("o", uint64(i), "data"))
		require.NoError(t, err)
		locs = append(locs, loc)
	}
	require.NoError(t, m.SealSlot(1))

	// kill 3 of 4 records, live ratio 25% < 50%
	for _, loc := range locs[:3] {
		m.MarkDead(loc)
	}
	candidates := m.ShrinkCandidates()
	require.Equal(t, []ID{locs[0].Seg}, candidates)

	var swapped []Location
	err := m.Shrink(locs[0].Seg, func(identity acct.Identity, slot uint64, old, new Location) error {
		assert.Equal(t, uint64(1), slot)
		assert.Equal(t, locs[3], old)
		assert.Equal(t, acct.BytesToIdentity([]byte{3}), identity)
		swapped = append(swapped, new)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, swapped, 1)

	// old segment gone, relocated record readable
	_, _, err = m.Read(locs[3])
	assert.Error(t, err)
	gotID, got, err := m.Read(swapped[0])
	require.NoError(t, err)
	assert.Equal(t, acct.BytesToIdentity([]byte{3}), gotID)
	assert.Equal(t, uint64(3), got.Lamports)
}

func TestDropSlotAndSlotRecords(t *testing.T) {
	m := newTestManager(t, 1024*1024)

	for i := range 3 {
		_, err := m.Write(2, acct.BytesToIdentity([]byte{byte(i)}), testRecord("o", uint64(i), "d"))
		require.NoError(t, err)
	}
	recs, err := m.SlotRecords(2)
	require.NoError(t, err)
	assert.Len(t, recs, 3)

	require.NoError(t, m.DropSlot(2))
	recs, err = m.SlotRecords(2)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Empty(t, m.Slots())
}

func TestRecovery(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Dir: dir, SegmentCapacity: 1024 * 1024}

	m, err := OpenManager(cfg)
	require.NoError(t, err)

	identity := acct.BytesToIdentity([]byte("a"))
	loc, err := m.Write(1, identity, testRecord("o", 9, "durable"))
	require.NoError(t, err)
	require.NoError(t, m.SealSlot(1))
	require.NoError(t, m.Close())

	// reopen and find the record again
	m2, err := OpenManager(cfg)
	require.NoError(t, err)
	defer m2.Close()

	recs, err := m2.SlotRecords(1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, identity, recs[0].Identity)
	assert.Equal(t, loc.Offset, recs[0].Loc.Offset)

	gotID, got, err := m2.Read(recs[0].Loc)
	require.NoError(t, err)
	assert.Equal(t, identity, gotID)
	assert.Equal(t, uint64(9), got.Lamports)
	assert.Equal(t, []byte("durable"), got.Data)
}

func TestRecoveryDropsTornTail(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Dir: dir, SegmentCapacity: 1024}

	m, err := OpenManager(cfg)
	require.NoError(t, err)
	// append without sealing: the file keeps its full allocated size with
	// a zero tail, as after a crash
	seg, err := m.Allocate(1)
	require.NoError(t, err)
	_, err = seg.Append(acct.BytesToIdentity([]byte("a")), testRecord("o", 1, "kept"))
	require.NoError(t, err)
	require.NoError(t, seg.file.Sync())

	// reopen the directory as a fresh process would
	m2, err := OpenManager(cfg)
	require.NoError(t, err)
	defer m2.Close()

	recs, err := m2.SlotRecords(1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	_, got, err := m2.Read(recs[0].Loc)
	require.NoError(t, err)
	assert.Equal(t, []byte("kept"), got.Data)
}

func TestSegmentNaming(t *testing.T) {
	dir := t.TempDir()
	m, err := OpenManager(Config{Dir: dir, SegmentCapacity: 1024})
	require.NoError(t, err)
	defer m.Close()

	s1, err := m.Allocate(7)
	require.NoError(t, err)
	require.NoError(t, m.SealSlot(7))
	s2, err := m.Allocate(7)
	require.NoError(t, err)
	assert.Less(t, uint64(s1.ID()), uint64(s2.ID()))

	for _, seg := range []*Segment{s1, s2} {
		_, err := os.Stat(filepath.Join(dir, fmt.Sprintf("7-%d.seg", seg.ID())))
		assert.NoError(t, err)
	}
}
