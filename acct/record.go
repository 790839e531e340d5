// Copyright (c) 2026 The acctdb developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package acct

import (
	"encoding/binary"
	"io"
)

// Record is the serialized form of an account's observable state at one
// slot. A record is written once and never mutated in place; a later
// write to the same identity produces a new, independent record.
type Record struct {
	Owner      Identity
	Lamports   uint64
	Data       []byte
	Executable bool
	RentEpoch  uint64
}

// Size returns the in-memory footprint used for cache byte accounting.
func (r *Record) Size() int {
	return len(r.Data) + 32 + 8 + 8 + 1
}

// ContentHash computes the blake2b checksum over the canonical encoding
// of the record. It is stored alongside the record and verified on
// snapshot round-trips.
func (r *Record) ContentHash() Hash {
	return Blake2bFn(func(w io.Writer) {
		var buf [8]byte
		w.Write(r.Owner[:])
		binary.LittleEndian.PutUint64(buf[:], r.Lamports)
		w.Write(buf[:])
		binary.LittleEndian.PutUint64(buf[:], r.RentEpoch)
		w.Write(buf[:])
		if r.Executable {
			w.Write([]byte{1})
		} else {
			w.Write([]byte{0})
		}
		w.Write(r.Data)
	})
}

// Copy returns a deep copy of the record.
func (r *Record) Copy() *Record {
	cpy := *r
	if len(r.Data) > 0 {
		cpy.Data = append([]byte(nil), r.Data...)
	}
	return &cpy
}
