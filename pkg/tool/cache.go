package tool

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ResultCache memoizes successful tool results keyed by tool name and
// normalized arguments, so a repeated call within the TTL window (e.g. the
// same lookup tool called twice in one turn) skips re-execution. Failed
// invocations are never cached — a transient failure shouldn't be "stuck"
// for the TTL duration.
type ResultCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	result    *Result
	expiresAt time.Time
}

// NewResultCache creates a cache whose entries expire after ttl. A zero ttl
// disables caching (Get always misses, Put is a no-op).
func NewResultCache(ttl time.Duration) *ResultCache {
	return &ResultCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns a cached result for call, if one exists and hasn't expired.
func (c *ResultCache) Get(call ToolCall) (*Result, bool) {
	if c.ttl <= 0 {
		return nil, false
	}

	key := cacheKey(call)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.result, true
}

// Put stores result for call. Only called by the executor on success; a
// Result carrying a non-empty Error field is still a "successful" tool
// execution in the sense that the tool ran to completion, and the spec
// treats it the same way (cached) unless the caller chooses otherwise.
func (c *ResultCache) Put(call ToolCall, result *Result) {
	if c.ttl <= 0 || result == nil {
		return
	}

	key := cacheKey(call)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{result: result, expiresAt: c.now().Add(c.ttl)}
}

// cacheKey builds a deterministic key from a tool name and its arguments by
// marshaling the arguments with sorted keys, so argument order never
// affects cache hits.
func cacheKey(call ToolCall) string {
	normalized := normalizeArgs(call.Args)
	raw, err := json.Marshal(normalized)
	if err != nil {
		// Fall back to a key built from Go's own formatting of the args
		// rather than one fixed sentinel — two calls whose args both fail
		// to marshal (e.g. containing NaN) still get distinct keys instead
		// of colliding into a false cache hit.
		return call.Name + "\x00uncacheable:" + fmt.Sprintf("%#v", call.Args)
	}
	return call.Name + "\x00" + string(raw)
}

// normalizeArgs rebuilds args as a slice of sorted key/value pairs so
// json.Marshal produces a stable byte sequence regardless of Go map
// iteration order.
func normalizeArgs(args map[string]any) []keyValue {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]keyValue, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, keyValue{Key: k, Value: args[k]})
	}
	return pairs
}

type keyValue struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}
