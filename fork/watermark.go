// Copyright (c) 2026 The acctdb developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package fork

import "sync"

// Watermark tracks the minimum slot still needed by in-flight readers and
// snapshot builders. The cleaner never removes versions at or above the
// watermark, so a pinned read stays resolvable.
type Watermark struct {
	lock sync.Mutex
	pins map[uint64]int
}

// NewWatermark creates an empty watermark.
func NewWatermark() *Watermark {
	return &Watermark{pins: make(map[uint64]int)}
}

// Pin registers an active reader at the given slot and returns its release
// function. Release is idempotent.
func (w *Watermark) Pin(slot uint64) (release func()) {
	w.lock.Lock()
	w.pins[slot]++
	w.lock.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.lock.Lock()
			if n := w.pins[slot]; n <= 1 {
				delete(w.pins, slot)
			} else {
				w.pins[slot] = n - 1
			}
			w.lock.Unlock()
		})
	}
}

// Min returns the lowest pinned slot, or fallback when nothing is pinned.
func (w *Watermark) Min(fallback uint64) uint64 {
	w.lock.Lock()
	defer w.lock.Unlock()

	min := fallback
	for s := range w.pins {
		if s < min {
			min = s
		}
	}
	return min
}
