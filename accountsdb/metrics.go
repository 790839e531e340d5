// Copyright (c) 2026 The acctdb developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package accountsdb

import "github.com/openledger/acctdb/metrics"

var (
	metricPuts         = metrics.LazyLoadCounter("engine_put_count")
	metricGets         = metrics.LazyLoadCounter("engine_get_count")
	metricFlushedSlots = metrics.LazyLoadCounter("engine_flushed_slot_count")
	metricRootSlot     = metrics.LazyLoadGauge("engine_root_slot")
)
