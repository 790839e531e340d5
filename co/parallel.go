// Copyright (c) 2026 The acctdb developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package co

import "runtime"

// Enqueue is the function to enqueue parallel work.
type Enqueue func(work func())

// Parallel runs a batch of work using as many CPUs as it can.
func Parallel(cb func(Enqueue)) {
	var goes Goes
	defer goes.Wait()

	ch := make(chan func(), runtime.NumCPU()*2)
	defer close(ch)

	for range runtime.NumCPU() {
		goes.Go(func() {
			for work := range ch {
				work()
			}
		})
	}
	cb(func(work func()) { ch <- work })
}
