// Copyright (c) 2026 The acctdb developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package segment

import "github.com/openledger/acctdb/metrics"

var (
	metricSegmentCount     = metrics.LazyLoadGauge("segment_count")
	metricLiveBytes        = metrics.LazyLoadGauge("segment_live_bytes")
	metricShrunkCount      = metrics.LazyLoadCounter("segment_shrunk_count")
	metricDeletedCount     = metrics.LazyLoadCounter("segment_deleted_count")
	metricReadCacheHitMiss = metrics.LazyLoadGaugeVec("segment_readcache_hit_miss", []string{"event"})
)
