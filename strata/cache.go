package strata

import "sync"

// cacheShards spreads cache traffic from concurrently reading handles
// across independent locks.
const cacheShards = 16

// OffsetsCache memoizes the exact byte offset of an entry record inside a
// ledger's data blob. It is shared by every read handle in the process and
// outlives any of them. A hit lets a reader seek straight to an entry
// instead of scanning forward from the coarser index segment offset; a miss
// is never an error.
//
// The cache is bounded: when a shard is full, an arbitrary resident entry
// is dropped to admit the new one. Put and Get are O(1) and never touch
// the network.
type OffsetsCache struct {
	shards [cacheShards]offsetsShard
}

type offsetsShard struct {
	mu  sync.Mutex
	max int
	m   map[offsetKey]int64
}

type offsetKey struct {
	ledgerID int64
	entryID  int64
}

// NewOffsetsCache creates a cache holding at most maxEntries offsets
// process-wide. maxEntries must be positive.
func NewOffsetsCache(maxEntries int) *OffsetsCache {
	perShard := maxEntries / cacheShards
	if perShard < 1 {
		perShard = 1
	}
	c := &OffsetsCache{}
	for i := range c.shards {
		c.shards[i].max = perShard
		c.shards[i].m = make(map[offsetKey]int64, perShard)
	}
	return c
}

// Put records the data-blob offset of an entry's record header. A later
// put for the same entry overwrites; callers never rely on a cached value
// staying fixed.
func (c *OffsetsCache) Put(ledgerID, entryID, offset int64) {
	key := offsetKey{ledgerID, entryID}
	s := c.shard(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[key]; !ok && len(s.m) >= s.max {
		for victim := range s.m {
			delete(s.m, victim)
			break
		}
	}
	s.m[key] = offset
}

// Get returns the cached offset for an entry, if present.
func (c *OffsetsCache) Get(ledgerID, entryID int64) (int64, bool) {
	key := offsetKey{ledgerID, entryID}
	s := c.shard(key)

	s.mu.Lock()
	off, ok := s.m[key]
	s.mu.Unlock()
	return off, ok
}

// Len returns the number of cached offsets.
func (c *OffsetsCache) Len() int {
	n := 0
	for i := range c.shards {
		c.shards[i].mu.Lock()
		n += len(c.shards[i].m)
		c.shards[i].mu.Unlock()
	}
	return n
}

func (c *OffsetsCache) shard(key offsetKey) *offsetsShard {
	h := uint64(key.ledgerID)*0x9e3779b97f4a7c15 ^ uint64(key.entryID)
	return &c.shards[h%cacheShards]
}
