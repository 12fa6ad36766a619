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

import "time"

// Bucket is a single-token bucket that refills once per window.
type Bucket struct {
	window time.Duration
	last   time.Time // zero until the first token is granted
}

// NewBucket creates a full Bucket: the first Allow succeeds.
func NewBucket(window time.Duration) Bucket {
	return Bucket{window: window}
}

// NewDrainedBucket creates a Bucket whose token was taken at now.
func NewDrainedBucket(now time.Time, window time.Duration) Bucket {
	return Bucket{window: window, last: now}
}

// Allow takes the token if the window since the last grant has elapsed.
func (b *Bucket) Allow(now time.Time) bool {
	if !b.last.IsZero() && now.Before(b.last.Add(b.window)) {
		return false
	}

	b.last = now
	return true
}
