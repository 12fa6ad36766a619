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
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Throttled invokes a function at most once per window. The first call
// fires immediately; calls inside the window are dropped and there is no
// trailing call.
type Throttled[A any] struct {
	clock clock.PassiveClock
	fn    func(A)

	mu     sync.Mutex
	bucket Bucket
}

// Throttle wraps fn so that it runs at most once per limit.
func Throttle[A any](clk clock.PassiveClock, fn func(A), limit time.Duration) *Throttled[A] {
	return &Throttled[A]{
		clock:  clk,
		fn:     fn,
		bucket: NewBucket(limit),
	}
}

// Call runs fn with args if the window allows it and reports whether it
// ran. fn runs on the caller's goroutine.
func (t *Throttled[A]) Call(args A) bool {
	t.mu.Lock()
	allowed := t.bucket.Allow(t.clock.Now())
	t.mu.Unlock()

	if !allowed {
		return false
	}

	t.fn(args)
	return true
}
