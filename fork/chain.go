// Copyright (c) 2026 The acctdb developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package fork

// Chain is the ancestor chain of one fork tip. It lists the unrooted
// ancestors explicitly; every rooted slot is implicitly an ancestor of
// every chain, so chains stay small.
type Chain struct {
	head      uint64
	ancestors map[uint64]struct{}
	marker    *Marker
}

// NewChain creates a chain with the given head and explicit unrooted
// ancestors (the head itself needs not be listed).
func NewChain(marker *Marker, head uint64, ancestors ...uint64) *Chain {
	set := make(map[uint64]struct{}, len(ancestors)+1)
	set[head] = struct{}{}
	for _, s := range ancestors {
		set[s] = struct{}{}
	}
	return &Chain{head: head, ancestors: set, marker: marker}
}

// Head returns the tip slot of the chain.
func (c *Chain) Head() uint64 {
	return c.head
}

// Contains returns whether the slot lies on this chain.
func (c *Chain) Contains(slot uint64) bool {
	if _, ok := c.ancestors[slot]; ok {
		return true
	}
	return c.marker.Contains(slot)
}
