package embedding

import (
	"hash/fnv"

	"github.com/dgraph-io/ristretto"
)

// Cache keeps recently embedded texts so repeated queries skip the provider.
// A nil *Cache is valid and never hits.
type Cache struct {
	c *ristretto.Cache
}

// NewCache sizes the cache for roughly entries vectors. It returns nil when
// entries is not positive.
func NewCache(entries int) (*Cache, error) {
	if entries <= 0 {
		return nil, nil
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(entries) * 10,
		MaxCost:     int64(entries),
		BufferItems: 64,
		// Cost is counted in entries, not bytes.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c}, nil
}

func cacheKey(text string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(text))
	return h.Sum64()
}

// Get returns the cached vector for text.
func (c *Cache) Get(text string) ([]float32, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.c.Get(cacheKey(text))
	if !ok {
		return nil, false
	}
	vec, ok := v.([]float32)
	return vec, ok
}

// Set stores vec for text. Admission is asynchronous.
func (c *Cache) Set(text string, vec []float32) {
	if c == nil {
		return
	}
	c.c.Set(cacheKey(text), vec, 1)
}

// Wait blocks until buffered writes are applied.
func (c *Cache) Wait() {
	if c == nil {
		return
	}
	c.c.Wait()
}

// Close stops the cache's background goroutines.
func (c *Cache) Close() {
	if c == nil {
		return
	}
	c.c.Close()
}
