// Copyright (c) 2026 The acctdb developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package fork

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

var (
	// ErrUnknownParent returned when adding a slot whose parent is neither
	// tracked nor rooted.
	ErrUnknownParent = errors.New("unknown parent slot")
	// ErrUnknownSlot returned when referencing a slot that is not tracked.
	ErrUnknownSlot = errors.New("unknown slot")
	// ErrSlotExists returned when adding an already tracked or rooted slot.
	ErrSlotExists = errors.New("slot already exists")
)

// Tree tracks parent links of unrooted slots. Slots form a tree while
// unrooted and collapse into the Marker's linear chain once rooted.
type Tree struct {
	lock   sync.Mutex
	parent map[uint64]uint64
	marker *Marker
}

// NewTree creates a slot tree over the given root marker.
func NewTree(marker *Marker) *Tree {
	return &Tree{
		parent: make(map[uint64]uint64),
		marker: marker,
	}
}

// Marker returns the underlying root marker.
func (t *Tree) Marker() *Marker {
	return t.marker
}

// Add registers an unrooted slot with its parent. The parent must be
// already tracked or rooted.
func (t *Tree) Add(slot, parent uint64) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if _, ok := t.parent[slot]; ok || t.marker.Contains(slot) {
		return errors.Wrapf(ErrSlotExists, "slot %d", slot)
	}
	if slot <= parent {
		return errors.Errorf("slot %d not after parent %d", slot, parent)
	}
	if _, ok := t.parent[parent]; !ok && !t.marker.Contains(parent) {
		return errors.Wrapf(ErrUnknownParent, "slot %d parent %d", slot, parent)
	}
	t.parent[slot] = parent
	return nil
}

// Chain builds the ancestor chain for the given head slot.
func (t *Tree) Chain(head uint64) (*Chain, error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if _, ok := t.parent[head]; !ok {
		if t.marker.Contains(head) {
			return NewChain(t.marker, head), nil
		}
		return nil, errors.Wrapf(ErrUnknownSlot, "slot %d", head)
	}

	var ancestors []uint64
	for s := head; ; {
		p, ok := t.parent[s]
		if !ok {
			break
		}
		ancestors = append(ancestors, p)
		s = p
	}
	return NewChain(t.marker, head, ancestors...), nil
}

// SetRoot advances the root to the given slot. It returns the newly
// rooted slots in ascending order and the pruned fork slots that are no
// longer reachable. The newly rooted slots are added to the marker before
// the method returns, so concurrent readers observe the advance
// atomically per slot.
func (t *Tree) SetRoot(slot uint64) (rooted, pruned []uint64, err error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if _, ok := t.parent[slot]; !ok {
		if t.marker.Contains(slot) {
			// already rooted, no-op
			return nil, nil, nil
		}
		return nil, nil, errors.Wrapf(ErrUnknownSlot, "slot %d", slot)
	}

	// walk up to the rooted boundary; the boundary parent itself is
	// already rooted and not part of the result
	onChain := make(map[uint64]struct{})
	for s := slot; ; {
		p, ok := t.parent[s]
		if !ok {
			break
		}
		onChain[s] = struct{}{}
		rooted = append(rooted, s)
		s = p
	}
	sort.Slice(rooted, func(i, j int) bool { return rooted[i] < rooted[j] })

	// survivors are descendants of the new root
	descendant := func(s uint64) bool {
		for {
			p, ok := t.parent[s]
			if !ok {
				return false
			}
			if p == slot {
				return true
			}
			s = p
		}
	}

	for s := range t.parent {
		if _, ok := onChain[s]; ok {
			continue
		}
		if !descendant(s) {
			pruned = append(pruned, s)
		}
	}
	for _, s := range pruned {
		delete(t.parent, s)
	}
	for s := range onChain {
		delete(t.parent, s)
	}
	sort.Slice(pruned, func(i, j int) bool { return pruned[i] < pruned[j] })

	t.marker.Add(rooted...)
	return rooted, pruned, nil
}
