// Copyright (c) 2026 The acctdb developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package segment

import (
	"testing"

	"github.com/openledger/acctdb/acct"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRoundTrip(t *testing.T) {
	identity := acct.BytesToIdentity([]byte("id"))
	rec := &acct.Record{
		Owner:      acct.BytesToIdentity([]byte("owner")),
		Lamports:   12345,
		Data:       []byte("account payload"),
		Executable: true,
		RentEpoch:  3,
	}

	size := recordSize(len(rec.Data))
	assert.Zero(t, size%recordAlignment)

	buf := make([]byte, size)
	putRecord(buf, identity, rec)

	gotID, got, err := verifyRecord(buf)
	require.NoError(t, err)
	assert.Equal(t, identity, gotID)
	assert.Equal(t, rec.Owner, got.Owner)
	assert.Equal(t, rec.Lamports, got.Lamports)
	assert.Equal(t, rec.Data, got.Data)
	assert.Equal(t, rec.Executable, got.Executable)
	assert.Equal(t, rec.RentEpoch, got.RentEpoch)
}

func TestRecordCorruption(t *testing.T) {
	rec := &acct.Record{Lamports: 1, Data: []byte{1, 2, 3}}
	buf := make([]byte, recordSize(len(rec.Data)))
	putRecord(buf, acct.Identity{}, rec)

	buf[64]++ // flip a lamport byte
	_, _, err := verifyRecord(buf)
	assert.ErrorIs(t, err, errBadRecord)

	_, _, err = verifyRecord(buf[:10])
	assert.ErrorIs(t, err, errBadRecord)
}

func TestFileHeader(t *testing.T) {
	buf := make([]byte, fileHeaderSize)
	putFileHeader(buf, 42, 7)

	slot, id, err := parseFileHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), slot)
	assert.Equal(t, ID(7), id)

	buf[0]++
	_, _, err = parseFileHeader(buf)
	assert.Error(t, err)
}
