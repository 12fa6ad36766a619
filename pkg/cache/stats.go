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

package cache

import (
	"sync/atomic"
)

// Stats holds cache statistics.
type Stats struct {
	hits          atomic.Int64
	misses        atomic.Int64
	invalidations atomic.Int64
}

// Hits returns the number of lookups that found a value.
func (s *Stats) Hits() int64 {
	return s.hits.Load()
}

// Misses returns the number of lookups that found nothing.
func (s *Stats) Misses() int64 {
	return s.misses.Load()
}

// Invalidations returns the number of entries dropped by invalidation.
func (s *Stats) Invalidations() int64 {
	return s.invalidations.Load()
}

// Total returns the number of lookups.
func (s *Stats) Total() int64 {
	return s.Hits() + s.Misses()
}

// HitRate returns the hit rate as a percentage (0-100).
func (s *Stats) HitRate() float64 {
	total := s.Total()
	if total == 0 {
		return 0.0
	}
	return float64(s.Hits()) / float64(total) * 100.0
}

// Reset sets every counter to zero.
func (s *Stats) Reset() {
	s.hits.Store(0)
	s.misses.Store(0)
	s.invalidations.Store(0)
}
