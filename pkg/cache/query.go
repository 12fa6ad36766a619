/*
 * Copyright 2025 The Yorkie Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package cache holds the results of record store reads. Change events do
// not patch cached results; they invalidate them so that the next read goes
// back to the source of truth.
package cache

import (
	"errors"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

var (
	// ErrInvalidMaxSize is returned when the given max size is not positive.
	ErrInvalidMaxSize = errors.New("max size must be > 0")
)

const keySeparator = ":"

// Key joins parts into a cache key. A key is a prefix of another when its
// parts are a leading subset of the other's parts.
func Key(parts ...string) string {
	return strings.Join(parts, keySeparator)
}

// ListKey returns the key of a collection read within a scope. params
// distinguish reads of the same collection, such as sort or page.
func ListKey(collection, scopeID string, params ...string) string {
	return Key(append([]string{collection, scopeID}, params...)...)
}

// EntityKey returns the key of a single entity read.
func EntityKey(collection, id string) string {
	return Key("entity", collection, id)
}

// QueryCache is an expiring LRU of read results keyed by Key.
type QueryCache struct {
	lru   *expirable.LRU[string, any]
	stats *Stats
	name  string
}

// NewQueryCache creates a QueryCache holding up to size entries for ttl.
func NewQueryCache(name string, size int, ttl time.Duration) (*QueryCache, error) {
	if size <= 0 {
		return nil, ErrInvalidMaxSize
	}

	return &QueryCache{
		lru:   expirable.NewLRU[string, any](size, nil, ttl),
		stats: &Stats{},
		name:  name,
	}, nil
}

// Get returns the value at key and records a hit or a miss.
func (c *QueryCache) Get(key string) (any, bool) {
	value, ok := c.lru.Get(key)
	if ok {
		c.stats.hits.Add(1)
	} else {
		c.stats.misses.Add(1)
	}
	return value, ok
}

// Load returns the value at key if it has type V.
func Load[V any](c *QueryCache, key string) (V, bool) {
	value, ok := c.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	typed, ok := value.(V)
	return typed, ok
}

// Add stores value at key.
func (c *QueryCache) Add(key string, value any) {
	c.lru.Add(key, value)
}

// Contains returns whether key is cached without touching statistics.
func (c *QueryCache) Contains(key string) bool {
	return c.lru.Contains(key)
}

// Invalidate drops the entry at key.
func (c *QueryCache) Invalidate(key string) bool {
	if !c.lru.Remove(key) {
		return false
	}
	c.stats.invalidations.Add(1)
	return true
}

// InvalidatePrefix drops the entry at prefix and every entry whose key
// extends it, and returns how many were dropped.
func (c *QueryCache) InvalidatePrefix(prefix string) int {
	dropped := 0
	for _, key := range c.lru.Keys() {
		if key != prefix && !strings.HasPrefix(key, prefix+keySeparator) {
			continue
		}
		if c.lru.Remove(key) {
			dropped++
		}
	}
	c.stats.invalidations.Add(int64(dropped))
	return dropped
}

// Purge drops every entry.
func (c *QueryCache) Purge() {
	c.lru.Purge()
}

// Len returns the number of entries.
func (c *QueryCache) Len() int {
	return c.lru.Len()
}

// Stats returns the statistics of this cache.
func (c *QueryCache) Stats() *Stats {
	return c.stats
}

// Name returns the name of this cache.
func (c *QueryCache) Name() string {
	return c.name
}
