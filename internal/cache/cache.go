// Package cache holds fetched content in a bounded in-memory LRU with per-entry TTL.
package cache

import (
	"container/list"
	"maps"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/contentfetch/internal/clock"
	"github.com/JakeFAU/contentfetch/internal/janitor"
)

const (
	// DefaultCapacity is the maximum number of entries kept.
	DefaultCapacity = 100
	// DefaultTTL is how long an entry stays valid after it is written.
	DefaultTTL = 24 * time.Hour
)

// Entry is one cached document.
type Entry struct {
	Content   string
	CreatedAt time.Time
	Metadata  map[string]string
}

// Stats reports cache counters.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Expired   uint64 `json:"expired"`
	Size      int    `json:"size"`
	Capacity  int    `json:"capacity"`
}

// Config controls cache sizing and the background sweep.
type Config struct {
	Capacity        int
	TTL             time.Duration
	CleanupInterval time.Duration
}

type item struct {
	key   string
	entry Entry
}

// Cache is safe for concurrent use. A single mutex guards the map and recency list.
type Cache struct {
	mu       sync.Mutex
	items    map[string]*list.Element
	order    *list.List
	capacity int
	ttl      time.Duration
	clock    clock.Clock
	stats    Stats
	janitor  *janitor.Janitor
	logger   *zap.Logger
}

// New builds a Cache and, when cfg.CleanupInterval is positive, starts a periodic
// ClearExpired sweep that runs until Shutdown.
func New(cfg Config, clk clock.Clock, logger *zap.Logger) (*Cache, error) {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		items:    make(map[string]*list.Element, cfg.Capacity),
		order:    list.New(),
		capacity: cfg.Capacity,
		ttl:      cfg.TTL,
		clock:    clk,
		logger:   logger,
	}
	if cfg.CleanupInterval > 0 {
		c.janitor = janitor.New(logger)
		if err := c.janitor.Every("cache-clear-expired", cfg.CleanupInterval, func() {
			if n := c.ClearExpired(); n > 0 {
				logger.Debug("expired cache entries removed", zap.Int("count", n))
			}
		}); err != nil {
			c.janitor.Stop()
			return nil, err
		}
	}
	return c, nil
}

// Get returns a copy of the entry for key. Expired entries are dropped and
// reported as absent.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return Entry{}, false
	}
	it := el.Value.(*item)
	if c.expired(it.entry) {
		c.removeElement(el)
		c.stats.Expired++
		c.stats.Misses++
		return Entry{}, false
	}
	c.order.MoveToFront(el)
	c.stats.Hits++
	return cloneEntry(it.entry), true
}

// Set stores entry under key with a fresh CreatedAt, evicting the least recently
// used entry when a new key would exceed capacity.
func (c *Cache) Set(key string, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry = cloneEntry(entry)
	entry.CreatedAt = c.clock.Now()

	if el, ok := c.items[key]; ok {
		el.Value.(*item).entry = entry
		c.order.MoveToFront(el)
		return
	}
	if c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.removeElement(oldest)
			c.stats.Evictions++
		}
	}
	c.items[key] = c.order.PushFront(&item{key: key, entry: entry})
}

// ClearExpired removes every entry whose TTL has elapsed and returns how many.
func (c *Cache) ClearExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if c.expired(el.Value.(*item).entry) {
			c.removeElement(el)
			removed++
		}
		el = prev
	}
	c.stats.Expired += uint64(removed)
	return removed
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = c.order.Len()
	s.Capacity = c.capacity
	return s
}

// Shutdown stops the background sweep.
func (c *Cache) Shutdown() {
	if c.janitor != nil {
		c.janitor.Stop()
	}
}

func (c *Cache) expired(e Entry) bool {
	return c.clock.Now().Sub(e.CreatedAt) > c.ttl
}

func (c *Cache) removeElement(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*item).key)
}

func cloneEntry(e Entry) Entry {
	e.Metadata = maps.Clone(e.Metadata)
	return e
}
