// Copyright (c) 2026 The acctdb developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package fork tracks the slot graph: the tree of unrooted forks, the
// rooted chain decided by consensus and the ancestor chains used to
// resolve point-in-time reads.
package fork

import (
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/roaring64"
)

// Marker is the process-wide root marker: the set of rooted slots and the
// highest of them. It has a single writer (the consensus layer) and many
// readers (cleaner, snapshot builder, read paths).
type Marker struct {
	lock   sync.RWMutex
	rooted *roaring64.Bitmap
	max    atomic.Uint64
}

// NewMarker creates a marker with slot 0 rooted.
func NewMarker() *Marker {
	m := &Marker{rooted: roaring64.New()}
	m.rooted.Add(0)
	return m
}

// Add marks the given slots rooted. Slots must form ancestors of the new
// root; ordering among them does not matter.
func (m *Marker) Add(slots ...uint64) {
	m.lock.Lock()
	for _, s := range slots {
		m.rooted.Add(s)
		if s > m.max.Load() {
			m.max.Store(s)
		}
	}
	m.lock.Unlock()
}

// Max returns the highest rooted slot.
func (m *Marker) Max() uint64 {
	return m.max.Load()
}

// Contains returns whether the slot is on the rooted chain.
func (m *Marker) Contains(slot uint64) bool {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.rooted.Contains(slot)
}

// MarshalBinary serializes the rooted set.
func (m *Marker) MarshalBinary() ([]byte, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.rooted.ToBytes()
}

// UnmarshalBinary restores the rooted set.
func (m *Marker) UnmarshalBinary(data []byte) error {
	rooted := roaring64.New()
	if err := rooted.UnmarshalBinary(data); err != nil {
		return err
	}
	rooted.Add(0)

	m.lock.Lock()
	m.rooted = rooted
	m.max.Store(rooted.Maximum())
	m.lock.Unlock()
	return nil
}
