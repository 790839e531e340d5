// Copyright (c) 2026 The acctdb developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package segment implements append-only, memory-mapped storage segments
// of serialized account records and the manager that allocates, seals,
// shrinks and deletes them.
package segment

import (
	"encoding/binary"

	"github.com/openledger/acctdb/acct"
	"github.com/pkg/errors"
)

// On-disk layout, little-endian, records 8-byte aligned:
//
//	file header (32 bytes):
//	  magic    u32
//	  version  u16
//	  _        u16
//	  slot     u64
//	  id       u64
//	  _        u64
//	record (recordHeaderSize + data, padded to 8):
//	  identity  [32]
//	  owner     [32]
//	  lamports  u64
//	  rentEpoch u64
//	  dataLen   u32
//	  flags     u8
//	  _         [3]
//	  hash      [32]
//	  data      [dataLen]
const (
	fileMagic      = uint32(0x41434442) // "ACDB"
	formatVersion  = uint16(1)
	fileHeaderSize = 32

	recordHeaderSize = 120
	recordAlignment  = 8

	flagExecutable = byte(1 << 0)
)

var errBadRecord = errors.New("bad record encoding")

func alignUp(n uint32) uint32 {
	return (n + recordAlignment - 1) &^ (recordAlignment - 1)
}

// recordSize returns the padded on-disk size for the given data length.
func recordSize(dataLen int) uint32 {
	return alignUp(recordHeaderSize + uint32(dataLen))
}

func putFileHeader(buf []byte, slot uint64, id ID) {
	binary.LittleEndian.PutUint32(buf[0:], fileMagic)
	binary.LittleEndian.PutUint16(buf[4:], formatVersion)
	binary.LittleEndian.PutUint64(buf[8:], slot)
	binary.LittleEndian.PutUint64(buf[16:], uint64(id))
}

func parseFileHeader(buf []byte) (slot uint64, id ID, err error) {
	if len(buf) < fileHeaderSize {
		return 0, 0, errors.New("truncated segment header")
	}
	if binary.LittleEndian.Uint32(buf[0:]) != fileMagic {
		return 0, 0, errors.New("bad segment magic")
	}
	if v := binary.LittleEndian.Uint16(buf[4:]); v != formatVersion {
		return 0, 0, errors.Errorf("unsupported segment version %d", v)
	}
	return binary.LittleEndian.Uint64(buf[8:]), ID(binary.LittleEndian.Uint64(buf[16:])), nil
}

// putRecord encodes the record at buf, which must hold recordSize bytes.
func putRecord(buf []byte, identity acct.Identity, rec *acct.Record) {
	copy(buf[0:], identity[:])
	copy(buf[32:], rec.Owner[:])
	binary.LittleEndian.PutUint64(buf[64:], rec.Lamports)
	binary.LittleEndian.PutUint64(buf[72:], rec.RentEpoch)
	binary.LittleEndian.PutUint32(buf[80:], uint32(len(rec.Data)))
	var flags byte
	if rec.Executable {
		flags |= flagExecutable
	}
	buf[84] = flags
	buf[85], buf[86], buf[87] = 0, 0, 0
	hash := rec.ContentHash()
	copy(buf[88:], hash[:])
	copy(buf[recordHeaderSize:], rec.Data)
	for i := recordHeaderSize + len(rec.Data); i < len(buf); i++ {
		buf[i] = 0
	}
}

// parseRecord decodes a record from buf. The returned record's data
// aliases buf; callers handing records out of the package must copy.
func parseRecord(buf []byte) (acct.Identity, *acct.Record, acct.Hash, error) {
	if len(buf) < recordHeaderSize {
		return acct.Identity{}, nil, acct.Hash{}, errBadRecord
	}
	dataLen := binary.LittleEndian.Uint32(buf[80:])
	if uint64(recordHeaderSize)+uint64(dataLen) > uint64(len(buf)) {
		return acct.Identity{}, nil, acct.Hash{}, errBadRecord
	}
	var (
		identity acct.Identity
		hash     acct.Hash
	)
	copy(identity[:], buf[0:32])
	copy(hash[:], buf[88:120])

	rec := &acct.Record{
		Lamports:   binary.LittleEndian.Uint64(buf[64:]),
		RentEpoch:  binary.LittleEndian.Uint64(buf[72:]),
		Executable: buf[84]&flagExecutable != 0,
		Data:       buf[recordHeaderSize : recordHeaderSize+dataLen],
	}
	copy(rec.Owner[:], buf[32:64])
	return identity, rec, hash, nil
}

// verifyRecord decodes and verifies the stored content hash.
func verifyRecord(buf []byte) (acct.Identity, *acct.Record, error) {
	identity, rec, hash, err := parseRecord(buf)
	if err != nil {
		return acct.Identity{}, nil, err
	}
	if rec.ContentHash() != hash {
		return acct.Identity{}, nil, errors.Wrap(errBadRecord, "content hash mismatch")
	}
	return identity, rec, nil
}
