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

package limit

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	"k8s.io/utils/clock"
)

// Throttler combines throttling with a single trailing call. Unlike
// Throttled it guarantees that the last burst is eventually delivered,
// which suits side effects such as user-facing notifications.
type Throttler struct {
	clock   clock.WithDelayedExecution
	lim     *rate.Limiter
	pending atomic.Bool
}

// NewThrottler creates a Throttler that allows one call per window.
func NewThrottler(clk clock.WithDelayedExecution, window time.Duration) *Throttler {
	return &Throttler{
		clock: clk,
		lim:   rate.NewLimiter(rate.Every(window), 1),
	}
}

// ExecuteOrSchedule runs callback immediately if the limiter allows it.
// Otherwise it schedules one trailing run for when the next token is
// available; while a trailing run is pending further calls are dropped.
func (t *Throttler) ExecuteOrSchedule(callback func()) {
	now := t.clock.Now()
	if t.lim.AllowN(now, 1) {
		callback()
		return
	}

	if !t.pending.CompareAndSwap(false, true) {
		return
	}

	delay := t.lim.ReserveN(now, 1).DelayFrom(now)
	t.clock.AfterFunc(delay, func() {
		t.pending.Store(false)
		callback()
	})
}
