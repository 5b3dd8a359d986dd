// Package cache keeps built package bundles so repeat requests skip esbuild.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Store is a byte-valued cache tier.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Memory is an in-process Store with TTL expiry and LRU eviction.
type Memory struct {
	mu       sync.Mutex
	items    map[string]*list.Element
	eviction *list.List // front = most recently used
	maxSize  int
	ttl      time.Duration

	hits      int64
	misses    int64
	evictions int64
}

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// Config configures a Memory cache.
type Config struct {
	MaxSize int           `yaml:"max_size"`
	TTL     time.Duration `yaml:"ttl"`
}

// DefaultConfig returns the defaults used when fields are zero.
func DefaultConfig() Config {
	return Config{MaxSize: 256, TTL: 30 * time.Minute}
}

// NewMemory creates a Memory cache.
func NewMemory(cfg Config) *Memory {
	def := DefaultConfig()
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = def.MaxSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	return &Memory{
		items:    make(map[string]*list.Element, cfg.MaxSize),
		eviction: list.New(),
		maxSize:  cfg.MaxSize,
		ttl:      cfg.TTL,
	}
}

// Get returns the value for key if present and not expired.
func (c *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false, nil
	}
	e := elem.Value.(*entry)
	if time.Now().After(e.expiresAt) {
		c.removeLocked(elem)
		c.misses++
		return nil, false, nil
	}
	c.eviction.MoveToFront(elem)
	c.hits++
	return e.value, true, nil
}

// Set stores value under key with the configured TTL.
func (c *Memory) Set(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry)
		e.value = value
		e.expiresAt = time.Now().Add(c.ttl)
		c.eviction.MoveToFront(elem)
		return nil
	}
	for c.eviction.Len() >= c.maxSize {
		back := c.eviction.Back()
		if back == nil {
			break
		}
		c.removeLocked(back)
		c.evictions++
	}
	c.items[key] = c.eviction.PushFront(&entry{key: key, value: value, expiresAt: time.Now().Add(c.ttl)})
	return nil
}

// Delete removes key.
func (c *Memory) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.removeLocked(elem)
	}
	return nil
}

// Clear drops every entry. Counters are kept.
func (c *Memory) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element, c.maxSize)
	c.eviction.Init()
}

// Len returns the number of entries, including expired ones not yet purged.
func (c *Memory) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eviction.Len()
}

// Stats holds cache counters.
type Stats struct {
	Size      int     `json:"size"`
	MaxSize   int     `json:"maxSize"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hitRate"`
}

// Stats returns a snapshot of the counters.
func (c *Memory) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Size:      c.eviction.Len(),
		MaxSize:   c.maxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// PurgeExpired removes expired entries and returns how many were dropped.
func (c *Memory) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	purged := 0
	var next *list.Element
	for e := c.eviction.Front(); e != nil; e = next {
		next = e.Next()
		if now.After(e.Value.(*entry).expiresAt) {
			c.removeLocked(e)
			purged++
		}
	}
	return purged
}

func (c *Memory) removeLocked(elem *list.Element) {
	delete(c.items, elem.Value.(*entry).key)
	c.eviction.Remove(elem)
}
