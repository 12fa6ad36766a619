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

package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/yorkie-team/wardroom/pkg/cache"
)

func TestQueryCache(t *testing.T) {
	t.Run("create query cache test", func(t *testing.T) {
		c, err := cache.NewQueryCache("queries", 1, time.Minute)
		assert.NoError(t, err)
		assert.NotNil(t, c)

		c, err = cache.NewQueryCache("queries", 0, time.Minute)
		assert.ErrorIs(t, err, cache.ErrInvalidMaxSize)
		assert.Nil(t, c)
	})

	t.Run("add and get test", func(t *testing.T) {
		c, err := cache.NewQueryCache("queries", 1, time.Minute)
		require.NoError(t, err)

		c.Add("request1", "response1")
		value, ok := cache.Load[string](c, "request1")
		assert.True(t, ok)
		assert.Equal(t, "response1", value)

		c.Add("request2", "response2")
		_, ok = c.Get("request1")
		assert.False(t, ok)

		_, ok = cache.Load[int](c, "request2")
		assert.False(t, ok)

		assert.Equal(t, int64(2), c.Stats().Hits())
		assert.Equal(t, int64(1), c.Stats().Misses())
		assert.InDelta(t, 66.6, c.Stats().HitRate(), 0.1)
	})

	t.Run("get expired entry test", func(t *testing.T) {
		c, err := cache.NewQueryCache("queries", 1, time.Millisecond)
		require.NoError(t, err)

		c.Add("request", "response")
		time.Sleep(5 * time.Millisecond)
		_, ok := c.Get("request")
		assert.False(t, ok)
	})

	t.Run("invalidate prefix test", func(t *testing.T) {
		c, err := cache.NewQueryCache("queries", 16, time.Minute)
		require.NoError(t, err)

		c.Add(cache.ListKey("patients", "w1"), 1)
		c.Add(cache.ListKey("patients", "w1", "page=2"), 2)
		c.Add(cache.ListKey("patients", "w10"), 3)
		c.Add(cache.ListKey("notes", "w1"), 4)
		c.Add(cache.EntityKey("patients", "p1"), 5)

		assert.Equal(t, 2, c.InvalidatePrefix(cache.ListKey("patients", "w1")))
		assert.True(t, c.Contains(cache.ListKey("patients", "w10")))
		assert.True(t, c.Contains(cache.ListKey("notes", "w1")))

		assert.True(t, c.Invalidate(cache.EntityKey("patients", "p1")))
		assert.False(t, c.Invalidate(cache.EntityKey("patients", "p1")))
		assert.Equal(t, int64(3), c.Stats().Invalidations())
		assert.Equal(t, 2, c.Len())

		c.Purge()
		assert.Equal(t, 0, c.Len())
	})
}

func TestReporter(t *testing.T) {
	t.Run("periodic report test", func(t *testing.T) {
		core, logs := observer.New(zap.InfoLevel)
		clk := testingclock.NewFakeClock(time.Now())

		c, err := cache.NewQueryCache("queries", 4, time.Minute)
		require.NoError(t, err)
		c.Add("k", "v")

		reporter := cache.NewReporter(clk, time.Second, zap.New(core).Sugar())
		reporter.Register(c)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			reporter.Run(ctx)
			close(done)
		}()

		assert.Eventually(t, clk.HasWaiters, time.Second, time.Millisecond)
		clk.Step(time.Second)
		assert.Eventually(t, func() bool {
			return logs.FilterMessage("cache stats").Len() == 1
		}, time.Second, time.Millisecond)

		cancel()
		<-done
	})
}
