// Copyright (c) 2026 The acctdb developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package accountsdb

import (
	"context"
	"io"

	"github.com/openledger/acctdb/acct"
	"github.com/openledger/acctdb/index"
	"github.com/openledger/acctdb/snapshot"
	"github.com/pkg/errors"
)

// ErrNotEmpty returned by LoadSnapshot when the engine already holds
// state.
var ErrNotEmpty = errors.New("engine not empty")

// BuildSnapshot streams the rooted state at the current root to w.
func (db *AccountsDB) BuildSnapshot(ctx context.Context, w io.Writer, progress snapshot.ProgressFunc) error {
	root := db.marker.Max()

	// pin the root so the cleaner keeps every version the build reads
	release := db.marks.Pin(root)
	defer release()

	return snapshot.Build(ctx, w, root, db.idx, db.segs, db.marker, progress)
}

// LoadSnapshot restores the engine from a snapshot stream. The engine
// must be freshly created; the loaded state becomes the rooted state at
// the snapshot's root slot. A stream that fails verification leaves the
// engine empty, so the caller can retry with another snapshot.
func (db *AccountsDB) LoadSnapshot(ctx context.Context, r io.Reader, progress snapshot.ProgressFunc) error {
	if db.idx.Count() > 0 {
		return errors.WithStack(ErrNotEmpty)
	}

	// Segment writes happen while the stream decodes, but nothing is
	// indexed until the trailing digest verifies. A rejected stream must
	// not leave durable state behind: slot 0 is always rooted, so
	// anything left there would survive a restart.
	type loaded struct {
		identity acct.Identity
		entry    index.Entry
	}
	var records []loaded

	discard := func(indexed []loaded) {
		for _, l := range indexed {
			db.idx.Remove(l.identity, 0)
		}
		if err := db.segs.DropSlot(0); err != nil {
			logger.Warn("failed to discard rejected snapshot state", "err", err)
		}
	}

	header, err := snapshot.Load(ctx, r, func(identity acct.Identity, rec *acct.Record) error {
		loc, err := db.segs.Write(0, identity, rec)
		if err != nil {
			return err
		}
		records = append(records, loaded{identity, index.Entry{
			Slot:     0,
			Loc:      loc,
			Owner:    rec.Owner,
			Lamports: rec.Lamports,
			DataLen:  uint32(len(rec.Data)),
		}})
		return nil
	}, progress)
	if err != nil {
		discard(nil)
		return err
	}

	for i, l := range records {
		if err := db.idx.Upsert(l.identity, l.entry); err != nil {
			discard(records[:i])
			return err
		}
	}
	if err := db.segs.SealSlot(0); err != nil {
		discard(records)
		return err
	}
	for _, l := range records {
		if l.entry.Lamports > 0 {
			db.sidx.Add(l.entry.Owner, l.identity)
		}
	}
	db.marker.Add(header.RootSlot)
	db.sidx.Sync()
	return db.persistMarker()
}
