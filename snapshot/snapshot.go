// Copyright (c) 2026 The acctdb developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package snapshot serializes the full rooted account state at a root
// slot into a self-verifying stream, and reads such streams back. The
// stream is snappy-compressed RLP: a header, the account records sorted
// by identity, then a blake2b digest of everything before it.
package snapshot

import (
	"bytes"
	"context"
	"io"
	"runtime"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/golang/snappy"
	"github.com/openledger/acctdb/acct"
	"github.com/openledger/acctdb/index"
	"github.com/openledger/acctdb/segment"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"
)

// Version is the current stream format version.
const Version uint32 = 1

var (
	// ErrUnsupportedVersion returned by Load for streams written by a
	// newer format.
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")
	// ErrIntegrity returned by Load when the stream is truncated or its
	// digest does not match.
	ErrIntegrity = errors.New("snapshot integrity check failed")
)

// Header leads the stream.
type Header struct {
	Version      uint32
	RootSlot     uint64
	AccountCount uint64
}

// record is the wire form of one account.
type record struct {
	Identity   acct.Identity
	Owner      acct.Identity
	Lamports   uint64
	RentEpoch  uint64
	Executable bool
	Data       []byte
}

// ProgressFunc reports accounts processed out of the total.
type ProgressFunc func(done, total uint64)

// Reader resolves account storage locations, implemented by the
// segment manager.
type Reader interface {
	Read(loc segment.Location) (acct.Identity, *acct.Record, error)
}

// Rooted answers rooted-chain membership, implemented by the fork
// marker.
type Rooted interface {
	Contains(slot uint64) bool
}

type located struct {
	identity acct.Identity
	loc      segment.Location
}

// Build writes the rooted account state visible at root to w. Dead
// accounts, the ones whose visible version holds zero lamports, are
// left out.
func Build(ctx context.Context, w io.Writer, root uint64, idx *index.Index, store Reader, rooted Rooted, progress ProgressFunc) error {
	// collect the visible version of every identity, shards in parallel
	shardEntries := make([][]located, idx.ShardCount())
	var group errgroup.Group
	group.SetLimit(runtime.NumCPU())
	for shard := range idx.ShardCount() {
		group.Go(func() error {
			var out []located
			idx.RangeShard(shard, func(identity acct.Identity, entries []index.Entry) bool {
				for i := len(entries) - 1; i >= 0; i-- {
					e := entries[i]
					if e.Slot > root || !rooted.Contains(e.Slot) {
						continue
					}
					if e.Lamports > 0 {
						out = append(out, located{identity, e.Loc})
					}
					break
				}
				return true
			})
			shardEntries[shard] = out
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	var all []located
	for _, part := range shardEntries {
		all = append(all, part...)
	}
	sort.Slice(all, func(i, j int) bool {
		return bytes.Compare(all[i].identity[:], all[j].identity[:]) < 0
	})

	compressed := snappy.NewBufferedWriter(w)
	hasher, _ := blake2b.New256(nil)
	hashed := io.MultiWriter(compressed, hasher)

	header := Header{
		Version:      Version,
		RootSlot:     root,
		AccountCount: uint64(len(all)),
	}
	if err := rlp.Encode(hashed, &header); err != nil {
		return errors.Wrap(err, "encode header")
	}

	for n, item := range all {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, rec, err := store.Read(item.loc)
		if err != nil {
			// a concurrent shrink may have moved the record since the
			// location was collected; re-resolve and retry
			if e, lookupErr := idx.Get(item.identity, root, rooted); lookupErr == nil {
				_, rec, err = store.Read(e.Loc)
			}
			if err != nil {
				return errors.Wrapf(err, "read account %s", item.identity.AbbrevString())
			}
		}
		wire := record{
			Identity:   item.identity,
			Owner:      rec.Owner,
			Lamports:   rec.Lamports,
			RentEpoch:  rec.RentEpoch,
			Executable: rec.Executable,
			Data:       rec.Data,
		}
		if err := rlp.Encode(hashed, &wire); err != nil {
			return errors.Wrap(err, "encode account")
		}
		if progress != nil {
			progress(uint64(n+1), uint64(len(all)))
		}
	}

	if _, err := compressed.Write(hasher.Sum(nil)); err != nil {
		return errors.Wrap(err, "write digest")
	}
	return compressed.Close()
}

// hashingReader feeds everything read through the digest. It implements
// io.ByteReader so the rlp stream reads exactly what it decodes.
type hashingReader struct {
	src    *snappy.Reader
	hasher io.Writer
}

func (r *hashingReader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	if n > 0 {
		r.hasher.Write(p[:n])
	}
	return n, err
}

func (r *hashingReader) ReadByte() (byte, error) {
	b, err := r.src.ReadByte()
	if err == nil {
		r.hasher.Write([]byte{b})
	}
	return b, err
}

// Load reads a stream produced by Build, handing each account to fn in
// identity order. The header returns even when fn aborts the load.
func Load(ctx context.Context, r io.Reader, fn func(identity acct.Identity, rec *acct.Record) error, progress ProgressFunc) (*Header, error) {
	src := snappy.NewReader(r)
	hasher, _ := blake2b.New256(nil)
	hashed := &hashingReader{src: src, hasher: hasher}
	stream := rlp.NewStream(hashed, 0)

	var header Header
	if err := stream.Decode(&header); err != nil {
		return nil, errors.Wrap(ErrIntegrity, "decode header")
	}
	if header.Version > Version {
		return &header, errors.Wrapf(ErrUnsupportedVersion, "version %d", header.Version)
	}

	for n := uint64(0); n < header.AccountCount; n++ {
		if err := ctx.Err(); err != nil {
			return &header, err
		}
		var wire record
		if err := stream.Decode(&wire); err != nil {
			return &header, errors.Wrap(ErrIntegrity, "decode account")
		}
		rec := &acct.Record{
			Owner:      wire.Owner,
			Lamports:   wire.Lamports,
			Data:       wire.Data,
			Executable: wire.Executable,
			RentEpoch:  wire.RentEpoch,
		}
		if err := fn(wire.Identity, rec); err != nil {
			return &header, err
		}
		if progress != nil {
			progress(n+1, header.AccountCount)
		}
	}

	want := hasher.Sum(nil)
	var got [32]byte
	if _, err := io.ReadFull(src, got[:]); err != nil {
		return &header, errors.Wrap(ErrIntegrity, "read digest")
	}
	if !bytes.Equal(want, got[:]) {
		return &header, errors.Wrap(ErrIntegrity, "digest mismatch")
	}
	return &header, nil
}
