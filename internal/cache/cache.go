package cache

import (
	"sync"
	"time"

	"github.com/LeonGeorgi/corona/internal/models"
)

// DefaultThreshold is how long a fetched series counts as fresh.
const DefaultThreshold = 10 * time.Minute

type entry struct {
	data      models.Series
	fetchedAt time.Time
}

// Cache maps (country, metric) to the last fetched series. Stale entries are
// reported as absent but stay in memory until the same key is written again.
type Cache struct {
	mu        sync.RWMutex
	items     map[string]entry
	threshold time.Duration
	now       func() time.Time
}

func New(threshold time.Duration) *Cache {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Cache{items: make(map[string]entry), threshold: threshold, now: time.Now}
}

// WithClock replaces the time source. Intended for tests.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Key joins country and metric with a separator that cannot appear in either.
func Key(country string, metric models.Metric) string {
	return country + "\x00" + string(metric)
}

func (c *Cache) Get(country string, metric models.Metric) (models.Series, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[Key(country, metric)]
	if !ok || !c.freshLocked(e) {
		return nil, false
	}
	return e.data.Clone(), true
}

func (c *Cache) Put(country string, metric models.Metric, series models.Series) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[Key(country, metric)] = entry{data: series.Clone(), fetchedAt: c.now()}
}

func (c *Cache) IsFresh(country string, metric models.Metric) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[Key(country, metric)]
	return ok && c.freshLocked(e)
}

// Len counts every stored entry, stale ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Cache) freshLocked(e entry) bool {
	return c.now().Sub(e.fetchedAt) < c.threshold
}
