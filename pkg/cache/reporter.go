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
	"context"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// StatsProvider is a cache that exposes statistics.
type StatsProvider interface {
	Name() string
	Stats() *Stats
	Len() int
}

// Reporter logs the statistics of registered caches on an interval.
type Reporter struct {
	clock    clock.WithTicker
	interval time.Duration
	logger   *zap.SugaredLogger
	caches   []StatsProvider
}

// NewReporter creates a Reporter.
func NewReporter(clk clock.WithTicker, interval time.Duration, logger *zap.SugaredLogger) *Reporter {
	return &Reporter{
		clock:    clk,
		interval: interval,
		logger:   logger,
	}
}

// Register adds a cache to report on. It must be called before Run.
func (r *Reporter) Register(cache StatsProvider) {
	r.caches = append(r.caches, cache)
}

// Run reports until ctx is done.
func (r *Reporter) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			r.Report()
		}
	}
}

// Report logs the statistics of every registered cache once.
func (r *Reporter) Report() {
	for _, cache := range r.caches {
		stats := cache.Stats()
		r.logger.Infow("cache stats",
			"cache", cache.Name(),
			"len", cache.Len(),
			"hits", stats.Hits(),
			"misses", stats.Misses(),
			"invalidations", stats.Invalidations(),
			"hit_rate", stats.HitRate(),
		)
	}
}
