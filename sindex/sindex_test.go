// Copyright (c) 2026 The acctdb developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package sindex

import (
	"testing"

	"github.com/openledger/acctdb/acct"
	"github.com/openledger/acctdb/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ident(b ...byte) acct.Identity { return acct.BytesToIdentity(b) }

func newTestIndex(t *testing.T) *Index {
	x := New(kv.NewMem())
	t.Cleanup(x.Close)
	return x
}

func TestAddLookup(t *testing.T) {
	x := newTestIndex(t)
	owner := ident(1)

	x.Add(owner, ident(0xb))
	x.Add(owner, ident(0xa))
	x.Add(ident(2), ident(0xc))
	x.Sync()

	got, err := x.Lookup(owner)
	require.NoError(t, err)
	assert.Equal(t, []acct.Identity{ident(0xa), ident(0xb)}, got)

	got, err = x.Lookup(ident(2))
	require.NoError(t, err)
	assert.Equal(t, []acct.Identity{ident(0xc)}, got)

	got, err = x.Lookup(ident(3))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRemoveInvalidatesCache(t *testing.T) {
	x := newTestIndex(t)
	owner := ident(1)

	x.Add(owner, ident(0xa))
	x.Add(owner, ident(0xb))
	x.Sync()

	got, err := x.Lookup(owner)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// remove after the lookup cached the owner
	x.Remove(owner, ident(0xa))
	x.Sync()

	got, err = x.Lookup(owner)
	require.NoError(t, err)
	assert.Equal(t, []acct.Identity{ident(0xb)}, got)
}

func TestAddIdempotent(t *testing.T) {
	x := newTestIndex(t)
	owner := ident(1)

	x.Add(owner, ident(0xa))
	x.Sync()
	x.Add(owner, ident(0xa))
	x.Sync()

	got, err := x.Lookup(owner)
	require.NoError(t, err)
	assert.Equal(t, []acct.Identity{ident(0xa)}, got)
}

func TestOwnerPrefixIsolation(t *testing.T) {
	x := newTestIndex(t)

	// adjacent owners must not bleed into each other's lookups
	ownerA := acct.Identity{31: 0xff}
	ownerB := acct.Identity{30: 1}
	x.Add(ownerA, ident(0xa))
	x.Add(ownerB, ident(0xb))
	x.Sync()

	got, err := x.Lookup(ownerA)
	require.NoError(t, err)
	assert.Equal(t, []acct.Identity{ident(0xa)}, got)
}
