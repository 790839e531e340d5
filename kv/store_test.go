// Copyright (c) 2026 The acctdb developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package kv

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreBasic(t *testing.T) {
	store := NewMem()
	defer store.Close()

	key := []byte("key")
	val := []byte("val")

	_, err := store.Get(key)
	assert.True(t, store.IsNotFound(err))

	assert.Nil(t, store.Put(key, val))
	got, err := store.Get(key)
	assert.Nil(t, err)
	assert.Equal(t, val, got)

	has, err := store.Has(key)
	assert.Nil(t, err)
	assert.True(t, has)

	assert.Nil(t, store.Delete(key))
	has, err = store.Has(key)
	assert.Nil(t, err)
	assert.False(t, has)
}

func TestStoreBatchAndIterate(t *testing.T) {
	store := NewMem()
	defer store.Close()

	batch := store.NewBatch()
	for i := range 10 {
		require.NoError(t, batch.Put([]byte(fmt.Sprintf("k%02d", i)), []byte{byte(i)}))
	}
	assert.Equal(t, 10, batch.Len())
	require.NoError(t, batch.Write())

	var keys []string
	err := store.Iterate(Range{Start: []byte("k03"), Limit: []byte("k07")}, func(k, _ []byte) bool {
		keys = append(keys, string(k))
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"k03", "k04", "k05", "k06"}, keys)

	require.NoError(t, store.DeleteRange(Range{Start: []byte("k00"), Limit: []byte("k09")}))
	n := 0
	require.NoError(t, store.Iterate(Range{}, func(_, _ []byte) bool { n++; return true }))
	assert.Equal(t, 1, n) // only k09 left
}

func TestBucket(t *testing.T) {
	store := NewMem()
	defer store.Close()

	b1 := Bucket("b1-").NewStore(store)
	b2 := Bucket("b2-").NewStore(store)

	require.NoError(t, b1.Put([]byte("k"), []byte("v1")))
	require.NoError(t, b2.Put([]byte("k"), []byte("v2")))

	v, err := b1.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)

	// iteration sees stripped keys and stays inside the bucket
	var seen int
	require.NoError(t, b1.Iterate(Range{}, func(k, v []byte) bool {
		seen++
		assert.Equal(t, []byte("k"), k)
		assert.Equal(t, []byte("v1"), v)
		return true
	}))
	assert.Equal(t, 1, seen)

	require.NoError(t, b1.DeleteRange(Range{}))
	_, err = b1.Get([]byte("k"))
	assert.True(t, b1.IsNotFound(err))

	v, err = b2.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), v)
}
