package dynamic

import (
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultMaxCacheSize bounds a LoaderContext created with a non-positive size.
const DefaultMaxCacheSize = 50

// State is the load state of one version key.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateError   State = "error"
)

// VersionKey returns "<name>:<epochMillis>" using updatedAt, or now when
// updatedAt is zero.
func VersionKey(name string, updatedAt, now time.Time) string {
	ts := updatedAt
	if ts.IsZero() {
		ts = now
	}
	return name + ":" + strconv.FormatInt(ts.UnixMilli(), 10)
}

// keyName returns the extension name part of a version key.
func keyName(key string) string {
	if i := strings.LastIndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}

// CacheStats is a snapshot of a LoaderContext.
type CacheStats struct {
	Size    int      `json:"size"`
	MaxSize int      `json:"maxSize"`
	Hits    uint64   `json:"hits"`
	Misses  uint64   `json:"misses"`
	Keys    []string `json:"keys"`
}

// LoaderContext owns the component cache and its counters. Entries are
// evicted in insertion order once MaxSize is reached.
type LoaderContext struct {
	mu      sync.Mutex
	maxSize int
	entries map[string]*Handle
	order   []string
	states  map[string]State
	hits    uint64
	misses  uint64
}

// NewLoaderContext creates a context holding at most maxSize components.
func NewLoaderContext(maxSize int) *LoaderContext {
	if maxSize <= 0 {
		maxSize = DefaultMaxCacheSize
	}
	return &LoaderContext{
		maxSize: maxSize,
		entries: make(map[string]*Handle),
		states:  make(map[string]State),
	}
}

// lookup returns the cached handle for key and counts a hit when present.
func (c *LoaderContext) lookup(key string) (*Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.entries[key]
	if ok {
		c.hits++
	}
	return h, ok
}

// begin counts a miss, drops every cached version of the key's extension
// and marks key as loading.
func (c *LoaderContext) begin(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.misses++
	c.invalidateLocked(keyName(key))
	c.states[key] = StateLoading
}

func (c *LoaderContext) fail(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[key] = StateError
}

// put inserts h under key, evicting the oldest entry when full.
func (c *LoaderContext) put(key string, h *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists {
		for len(c.order) >= c.maxSize {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
			delete(c.states, oldest)
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = h
	c.states[key] = StateReady
}

// State reports the load state of key.
func (c *LoaderContext) State(key string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.states[key]; ok {
		return s
	}
	return StateIdle
}

// InvalidateName removes every cached version of name and returns how many
// entries were dropped.
func (c *LoaderContext) InvalidateName(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidateLocked(name)
}

func (c *LoaderContext) invalidateLocked(name string) int {
	n := 0
	c.order = slices.DeleteFunc(c.order, func(key string) bool {
		if keyName(key) != name {
			return false
		}
		delete(c.entries, key)
		n++
		return true
	})
	for key := range c.states {
		if keyName(key) == name {
			delete(c.states, key)
		}
	}
	return n
}

// Clear drops all entries and resets the counters.
func (c *LoaderContext) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Handle)
	c.states = make(map[string]State)
	c.order = nil
	c.hits, c.misses = 0, 0
}

// Stats returns a snapshot; Keys are in insertion order.
func (c *LoaderContext) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Size:    len(c.entries),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
		Keys:    slices.Clone(c.order),
	}
}
