// Copyright (c) 2026 The acctdb developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package accountsdb

import (
	"bytes"
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/golang/snappy"
	"github.com/openledger/acctdb/acct"
	"github.com/openledger/acctdb/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ident(b ...byte) acct.Identity { return acct.BytesToIdentity(b) }

func record(owner acct.Identity, lamports uint64, data string) *acct.Record {
	return &acct.Record{Owner: owner, Lamports: lamports, Data: []byte(data)}
}

func openTestDB(t *testing.T, opts *Options) *AccountsDB {
	db, err := Open(t.TempDir(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPutGetAcrossSlots(t *testing.T) {
	db := openTestDB(t, nil)
	owner := ident(0xee)
	id := ident(1)

	require.NoError(t, db.AddSlot(1, 0))
	require.NoError(t, db.AddSlot(2, 1))

	require.NoError(t, db.Put(1, id, record(owner, 100, "v1")))
	require.NoError(t, db.Put(2, id, record(owner, 50, "v2")))

	got, err := db.Get(id, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), got.Lamports)

	got, err = db.Get(id, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), got.Lamports)
	assert.Equal(t, []byte("v2"), got.Data)

	_, err = db.Get(ident(9), 2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRootAndRetention(t *testing.T) {
	db := openTestDB(t, &Options{RetentionWindow: 0})
	owner := ident(0xee)
	id := ident(1)

	require.NoError(t, db.AddSlot(1, 0))
	require.NoError(t, db.AddSlot(2, 1))
	require.NoError(t, db.Put(1, id, record(owner, 100, "v1")))
	require.NoError(t, db.Put(2, id, record(owner, 50, "v2")))

	require.NoError(t, db.SetRoot(2))
	assert.Equal(t, uint64(2), db.RootSlot())

	// reads at and above the root resolve the rooted version
	got, err := db.Get(id, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), got.Lamports)
}

func TestForkIsolationAndPrune(t *testing.T) {
	db := openTestDB(t, nil)
	owner := ident(0xee)
	id := ident(1)

	// two forks off slot 1
	require.NoError(t, db.AddSlot(1, 0))
	require.NoError(t, db.AddSlot(2, 1))
	require.NoError(t, db.AddSlot(3, 1))

	require.NoError(t, db.Put(1, id, record(owner, 100, "base")))
	require.NoError(t, db.Put(2, id, record(owner, 20, "fork-a")))
	require.NoError(t, db.Put(3, id, record(owner, 30, "fork-b")))

	got, err := db.Get(id, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), got.Lamports)
	got, err = db.Get(id, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), got.Lamports)

	// rooting fork-a prunes fork-b
	require.NoError(t, db.SetRoot(2))

	got, err = db.Get(id, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), got.Lamports)
	_, err = db.Get(id, 3)
	assert.Error(t, err)
}

func TestFlushThenRead(t *testing.T) {
	db := openTestDB(t, nil)
	owner := ident(0xee)

	require.NoError(t, db.AddSlot(1, 0))
	for i := range 10 {
		require.NoError(t, db.Put(1, ident(byte(i)), record(owner, uint64(i+1), "d")))
	}
	require.NoError(t, db.Flush(1))
	// flushing twice is harmless
	require.NoError(t, db.Flush(1))

	for i := range 10 {
		got, err := db.Get(ident(byte(i)), 1)
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), got.Lamports)
	}

	// a rewrite after the flush wins on the next flush
	require.NoError(t, db.Put(1, ident(0), record(owner, 99, "rewritten")))
	require.NoError(t, db.Flush(1))
	got, err := db.Get(ident(0), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), got.Lamports)
}

func TestZeroLamportHidden(t *testing.T) {
	db := openTestDB(t, nil)
	owner := ident(0xee)
	id := ident(1)

	require.NoError(t, db.AddSlot(1, 0))
	require.NoError(t, db.AddSlot(2, 1))
	require.NoError(t, db.Put(1, id, record(owner, 100, "alive")))
	require.NoError(t, db.Put(2, id, record(owner, 0, "")))

	got, err := db.Get(id, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), got.Lamports)

	_, err = db.Get(id, 2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOwnedBy(t *testing.T) {
	db := openTestDB(t, nil)
	owner := ident(0xee)

	require.NoError(t, db.AddSlot(1, 0))
	require.NoError(t, db.Put(1, ident(2), record(owner, 10, "b")))
	require.NoError(t, db.Put(1, ident(1), record(owner, 10, "a")))
	require.NoError(t, db.Put(1, ident(3), record(ident(0xdd), 10, "other")))

	// unrooted writes are invisible to the owner index
	owned, err := db.OwnedBy(owner)
	require.NoError(t, err)
	assert.Empty(t, owned)

	require.NoError(t, db.SetRoot(1))
	owned, err = db.OwnedBy(owner)
	require.NoError(t, err)
	assert.Equal(t, []acct.Identity{ident(1), ident(2)}, owned)
}

func TestRestartRecoversRootedState(t *testing.T) {
	dir := t.TempDir()
	owner := ident(0xee)
	id := ident(1)

	db, err := Open(dir, nil)
	require.NoError(t, err)

	require.NoError(t, db.AddSlot(1, 0))
	require.NoError(t, db.AddSlot(2, 1))
	require.NoError(t, db.Put(1, id, record(owner, 100, "rooted")))
	require.NoError(t, db.Put(2, id, record(owner, 77, "unrooted")))
	require.NoError(t, db.SetRoot(1))
	// flushed but never rooted
	require.NoError(t, db.Flush(2))
	require.NoError(t, db.Close())

	db2, err := Open(dir, nil)
	require.NoError(t, err)
	defer db2.Close()

	got, err := db2.Get(id, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), got.Lamports)
	assert.Equal(t, []byte("rooted"), got.Data)
	assert.Equal(t, uint64(1), db2.RootSlot())

	// the unrooted slot did not survive
	_, err = db2.Get(id, 2)
	assert.Error(t, err)

	owned, err := db2.OwnedBy(owner)
	require.NoError(t, err)
	assert.Equal(t, []acct.Identity{id}, owned)
}

func TestSnapshotRoundTrip(t *testing.T) {
	db := openTestDB(t, nil)
	owner := ident(0xee)

	require.NoError(t, db.AddSlot(1, 0))
	require.NoError(t, db.Put(1, ident(1), record(owner, 100, "one")))
	require.NoError(t, db.Put(1, ident(2), record(owner, 200, "two")))
	require.NoError(t, db.SetRoot(1))

	var buf bytes.Buffer
	require.NoError(t, db.BuildSnapshot(context.Background(), &buf, nil))

	restored := openTestDB(t, nil)
	require.NoError(t, restored.LoadSnapshot(context.Background(), bytes.NewReader(buf.Bytes()), nil))
	assert.Equal(t, uint64(1), restored.RootSlot())

	got, err := restored.Get(ident(1), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), got.Lamports)
	assert.Equal(t, []byte("one"), got.Data)

	owned, err := restored.OwnedBy(owner)
	require.NoError(t, err)
	assert.Equal(t, []acct.Identity{ident(1), ident(2)}, owned)

	// loading over existing state is refused
	err = restored.LoadSnapshot(context.Background(), bytes.NewReader(buf.Bytes()), nil)
	assert.ErrorIs(t, err, ErrNotEmpty)
}

func TestLoadSnapshotRejectedStreamLeavesEngineEmpty(t *testing.T) {
	// a stream whose payload decodes but whose digest does not match
	type wireHeader struct {
		Version      uint32
		RootSlot     uint64
		AccountCount uint64
	}
	type wireRecord struct {
		Identity   acct.Identity
		Owner      acct.Identity
		Lamports   uint64
		RentEpoch  uint64
		Executable bool
		Data       []byte
	}
	var bad bytes.Buffer
	compressed := snappy.NewBufferedWriter(&bad)
	require.NoError(t, rlp.Encode(compressed, &wireHeader{1, 5, 1}))
	require.NoError(t, rlp.Encode(compressed, &wireRecord{
		Identity: ident(1),
		Owner:    ident(0xee),
		Lamports: 9,
		Data:     []byte("x"),
	}))
	_, err := compressed.Write(make([]byte, 32))
	require.NoError(t, err)
	require.NoError(t, compressed.Close())

	dir := t.TempDir()
	db, err := Open(dir, nil)
	require.NoError(t, err)

	err = db.LoadSnapshot(context.Background(), bytes.NewReader(bad.Bytes()), nil)
	require.ErrorIs(t, err, snapshot.ErrIntegrity)
	assert.Zero(t, db.Stats().Accounts)
	_, err = db.Get(ident(1), 0)
	assert.ErrorIs(t, err, ErrNotFound)

	// rejected state must not resurface after a restart
	require.NoError(t, db.Close())
	db, err = Open(dir, nil)
	require.NoError(t, err)
	defer db.Close()
	assert.Zero(t, db.Stats().Accounts)
	_, err = db.Get(ident(1), 0)
	assert.ErrorIs(t, err, ErrNotFound)

	// and a good stream loads on retry
	src := openTestDB(t, nil)
	require.NoError(t, src.AddSlot(1, 0))
	require.NoError(t, src.Put(1, ident(1), record(ident(0xee), 100, "good")))
	require.NoError(t, src.SetRoot(1))
	var good bytes.Buffer
	require.NoError(t, src.BuildSnapshot(context.Background(), &good, nil))

	require.NoError(t, db.LoadSnapshot(context.Background(), bytes.NewReader(good.Bytes()), nil))
	got, err := db.Get(ident(1), 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("good"), got.Data)
}

func TestConfigValidation(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir, &Options{SegmentCapacity: 1 << 20})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Open(dir, &Options{SegmentCapacity: 2 << 20})
	assert.Error(t, err)

	// zero adopts the stored capacity
	db2, err := Open(dir, nil)
	require.NoError(t, err)
	assert.NoError(t, db2.Close())
}

func TestStats(t *testing.T) {
	db := openTestDB(t, nil)

	require.NoError(t, db.AddSlot(1, 0))
	require.NoError(t, db.Put(1, ident(1), record(ident(0xee), 5, "x")))

	stats := db.Stats()
	assert.Positive(t, stats.BufferedBytes)

	require.NoError(t, db.SetRoot(1))
	stats = db.Stats()
	assert.Zero(t, stats.BufferedBytes)
	assert.Equal(t, 1, stats.Accounts)
	assert.Equal(t, uint64(1), stats.RootSlot)
}
