package routing

import "github.com/opd-ai/meshnet/network"

// DefaultFloodCacheSize bounds the flood seen-set. Without a bound the set
// grows by one entry per wave for the node's whole lifetime.
const DefaultFloodCacheSize = 1024

// floodKey identifies one discovery wave.
type floodKey struct {
	FloodID uint64
	Origin  network.NodeID
}

// floodCache is a capacity-bounded set of seen waves. Once full, the
// oldest entry is evicted first; a re-arriving wave that old is forwarded
// again, which is wasteful but harmless.
type floodCache struct {
	capacity int
	seen     map[floodKey]struct{}
	order    []floodKey
}

func newFloodCache(capacity int) *floodCache {
	if capacity <= 0 {
		capacity = DefaultFloodCacheSize
	}
	return &floodCache{
		capacity: capacity,
		seen:     make(map[floodKey]struct{}, capacity),
	}
}

// Add records the wave. It returns true if the wave was not seen before.
func (c *floodCache) Add(key floodKey) bool {
	if _, ok := c.seen[key]; ok {
		return false
	}
	if len(c.order) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.seen, oldest)
	}
	c.seen[key] = struct{}{}
	c.order = append(c.order, key)
	return true
}

// Len returns the number of waves currently remembered.
func (c *floodCache) Len() int {
	return len(c.seen)
}
