// Copyright (c) 2026 The acctdb developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package segment

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/qianbin/directcache"
)

// readCache caches encoded record blobs of sealed segments, keyed by
// (segment id, offset), so hot accounts are served without touching the
// mapping.
type readCache struct {
	blobs       *directcache.Cache
	stats       cacheStats
	lastLogTime atomic.Int64
}

func newReadCache(sizeBytes int) *readCache {
	c := &readCache{
		blobs: directcache.New(sizeBytes),
	}
	c.lastLogTime.Store(time.Now().UnixNano())
	return c
}

func readCacheKey(buf *[24]byte, loc Location) []byte {
	binary.BigEndian.PutUint64(buf[0:], uint64(loc.Seg))
	binary.BigEndian.PutUint32(buf[8:], loc.Offset)
	return buf[:12]
}

func (c *readCache) Add(loc Location, blob []byte) {
	var buf [24]byte
	_ = c.blobs.Set(readCacheKey(&buf, loc), blob)
}

func (c *readCache) Get(loc Location) []byte {
	var (
		buf  [24]byte
		blob []byte
	)
	if c.blobs.AdvGet(readCacheKey(&buf, loc), func(val []byte) {
		blob = append([]byte(nil), val...)
	}, false) {
		c.stats.Hit()
	} else {
		c.stats.Miss()
	}
	c.log()
	return blob
}

func (c *readCache) Remove(loc Location) {
	var buf [24]byte
	c.blobs.Del(readCacheKey(&buf, loc))
}

func (c *readCache) log() {
	now := time.Now().UnixNano()
	last := c.lastLogTime.Swap(now)

	if now-last > int64(time.Second*20) {
		should, hit, miss := c.stats.Stats()
		if should {
			logStats("record cache stats", hit, miss)
		}
		metricReadCacheHitMiss().SetWithLabel(hit, map[string]string{"event": "hit"})
		metricReadCacheHitMiss().SetWithLabel(miss, map[string]string{"event": "miss"})
	} else {
		c.lastLogTime.CompareAndSwap(now, last)
	}
}

type cacheStats struct {
	hit, miss atomic.Int64
	flag      atomic.Int32
}

func (cs *cacheStats) Hit() int64  { return cs.hit.Add(1) }
func (cs *cacheStats) Miss() int64 { return cs.miss.Add(1) }

func (cs *cacheStats) Stats() (bool, int64, int64) {
	hit := cs.hit.Load()
	miss := cs.miss.Load()
	lookups := hit + miss

	hitRate := float64(0)
	if lookups > 0 {
		hitRate = float64(hit) / float64(lookups)
	}
	flag := int32(hitRate * 1000)

	return cs.flag.Swap(flag) != flag, hit, miss
}

func logStats(msg string, hit, miss int64) {
	lookups := hit + miss
	var str string
	if lookups > 0 {
		str = fmt.Sprintf("%.3f", float64(hit)/float64(lookups))
	} else {
		str = "n/a"
	}

	logger.Info(msg,
		"lookups", lookups,
		"hitrate", str,
	)
}
