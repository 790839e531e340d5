// Copyright (c) 2026 The acctdb developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package snapshot

import (
	"bytes"
	"context"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/golang/snappy"
	"github.com/openledger/acctdb/acct"
	"github.com/openledger/acctdb/fork"
	"github.com/openledger/acctdb/index"
	"github.com/openledger/acctdb/segment"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ident(b ...byte) acct.Identity { return acct.BytesToIdentity(b) }

func buildState(t *testing.T) (*index.Index, *segment.Manager, *fork.Marker) {
	segs, err := segment.OpenManager(segment.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { segs.Close() })

	idx := index.New(4)
	marker := fork.NewMarker()

	write := func(slot uint64, identity acct.Identity, rec *acct.Record) {
		loc, err := segs.Write(slot, identity, rec)
		require.NoError(t, err)
		require.NoError(t, idx.Upsert(identity, index.Entry{
			Slot:     slot,
			Loc:      loc,
			Owner:    rec.Owner,
			Lamports: rec.Lamports,
			DataLen:  uint32(len(rec.Data)),
		}))
	}

	owner := ident(0xee)
	write(1, ident(1), &acct.Record{Owner: owner, Lamports: 100, Data: []byte("old")})
	write(2, ident(1), &acct.Record{Owner: owner, Lamports: 50, Data: []byte("new"), Executable: true, RentEpoch: 7})
	write(2, ident(2), &acct.Record{Owner: owner, Lamports: 10, Data: []byte("two")})
	write(2, ident(3), &acct.Record{Owner: owner, Lamports: 0, Data: nil}) // dead
	write(5, ident(4), &acct.Record{Owner: owner, Lamports: 9, Data: []byte("unrooted")})
	marker.Add(1, 2)
	return idx, segs, marker
}

func TestBuildLoadRoundTrip(t *testing.T) {
	idx, segs, marker := buildState(t)

	var buf bytes.Buffer
	var lastDone, total uint64
	require.NoError(t, Build(context.Background(), &buf, 2, idx, segs, marker, func(done, tot uint64) {
		lastDone, total = done, tot
	}))
	assert.Equal(t, total, lastDone)

	loaded := map[acct.Identity]*acct.Record{}
	var order []acct.Identity
	header, err := Load(context.Background(), bytes.NewReader(buf.Bytes()), func(identity acct.Identity, rec *acct.Record) error {
		loaded[identity] = rec
		order = append(order, identity)
		return nil
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, Version, header.Version)
	assert.Equal(t, uint64(2), header.RootSlot)
	assert.Equal(t, uint64(2), header.AccountCount)

	// dead and unrooted accounts are excluded, identity order preserved
	require.Equal(t, []acct.Identity{ident(1), ident(2)}, order)

	want := &acct.Record{
		Owner:      ident(0xee),
		Lamports:   50,
		Data:       []byte("new"),
		Executable: true,
		RentEpoch:  7,
	}
	got := loaded[ident(1)]
	if !assert.Equal(t, want.ContentHash(), got.ContentHash()) {
		t.Log(spew.Sdump(want, got))
	}
}

// movingStore fails the first read of a location, relocating the entry
// through the index first, the way a shrink racing the build would.
type movingStore struct {
	*segment.Manager
	idx      *index.Index
	identity acct.Identity
	from, to segment.Location
	moved    bool
}

func (s *movingStore) Read(loc segment.Location) (acct.Identity, *acct.Record, error) {
	if !s.moved && loc == s.from {
		s.moved = true
		if err := s.idx.Swap(s.identity, 1, s.from, s.to); err != nil {
			return acct.Identity{}, nil, err
		}
		return acct.Identity{}, nil, errors.New("segment deleted")
	}
	return s.Manager.Read(loc)
}

func TestBuildRetriesMovedRecord(t *testing.T) {
	segs, err := segment.OpenManager(segment.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { segs.Close() })

	idx := index.New(4)
	marker := fork.NewMarker()
	owner := ident(0xee)
	rec := &acct.Record{Owner: owner, Lamports: 100, Data: []byte("payload")}

	locA, err := segs.Write(1, ident(1), rec)
	require.NoError(t, err)
	locB, err := segs.Write(1, ident(1), rec)
	require.NoError(t, err)
	require.NoError(t, idx.Upsert(ident(1), index.Entry{
		Slot:     1,
		Loc:      locA,
		Owner:    owner,
		Lamports: rec.Lamports,
		DataLen:  uint32(len(rec.Data)),
	}))
	marker.Add(1)

	store := &movingStore{Manager: segs, idx: idx, identity: ident(1), from: locA, to: locB}
	var buf bytes.Buffer
	require.NoError(t, Build(context.Background(), &buf, 1, idx, store, marker, nil))
	require.True(t, store.moved)

	loaded := map[acct.Identity]*acct.Record{}
	header, err := Load(context.Background(), bytes.NewReader(buf.Bytes()), func(identity acct.Identity, r *acct.Record) error {
		loaded[identity] = r
		return nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), header.AccountCount)
	require.Contains(t, loaded, ident(1))
	assert.Equal(t, uint64(100), loaded[ident(1)].Lamports)
	assert.Equal(t, []byte("payload"), loaded[ident(1)].Data)
}

func TestLoadCorrupted(t *testing.T) {
	idx, segs, marker := buildState(t)

	var buf bytes.Buffer
	require.NoError(t, Build(context.Background(), &buf, 2, idx, segs, marker, nil))

	// truncation
	_, err := Load(context.Background(), bytes.NewReader(buf.Bytes()[:buf.Len()-8]), func(acct.Identity, *acct.Record) error { return nil }, nil)
	assert.ErrorIs(t, err, ErrIntegrity)

	// garbage
	_, err = Load(context.Background(), bytes.NewReader([]byte("not a snapshot")), func(acct.Identity, *acct.Record) error { return nil }, nil)
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestLoadFutureVersion(t *testing.T) {
	var buf bytes.Buffer
	compressed := snappy.NewBufferedWriter(&buf)
	require.NoError(t, rlp.Encode(compressed, &Header{Version: Version + 1}))
	require.NoError(t, compressed.Close())

	header, err := Load(context.Background(), bytes.NewReader(buf.Bytes()), func(acct.Identity, *acct.Record) error { return nil }, nil)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
	require.NotNil(t, header)
	assert.Equal(t, Version+1, header.Version)
}
