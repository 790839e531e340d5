// Copyright (c) 2026 The acctdb developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package accountsdb

import (
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/openledger/acctdb/kv"
	"github.com/pkg/errors"
)

// formatVersion guards the on-disk layout. Bump on incompatible layout
// changes.
const formatVersion = 1

// storedConfig holds the options fixed at creation time.
type storedConfig struct {
	FormatVersion   uint32
	SegmentCapacity uint32
}

// loadOrStoreConfig persists the fixed options on first open and
// validates them on later opens. A zero SegmentCapacity adopts the
// stored value.
func loadOrStoreConfig(props kv.Store, opts *Options) error {
	data, err := props.Get([]byte(propConfig))
	if err != nil {
		if !props.IsNotFound(err) {
			return err
		}
		encoded, err := rlp.EncodeToBytes(&storedConfig{
			FormatVersion:   formatVersion,
			SegmentCapacity: opts.SegmentCapacity,
		})
		if err != nil {
			return err
		}
		return props.Put([]byte(propConfig), encoded)
	}

	var prev storedConfig
	if err := rlp.DecodeBytes(data, &prev); err != nil {
		return errors.Wrap(err, "decode stored config")
	}
	if prev.FormatVersion != formatVersion {
		return errors.Errorf("data format version %d, expected %d", prev.FormatVersion, formatVersion)
	}
	if opts.SegmentCapacity == 0 {
		opts.SegmentCapacity = prev.SegmentCapacity
	} else if opts.SegmentCapacity != prev.SegmentCapacity {
		return errors.Errorf("segment capacity %d differs from stored %d", opts.SegmentCapacity, prev.SegmentCapacity)
	}
	return nil
}
