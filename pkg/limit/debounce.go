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

// Debouncer delays invocations of a function until the wait duration has
// elapsed without further calls. Only the arguments of the last call are
// delivered.
type Debouncer[A any] struct {
	clock clock.WithDelayedExecution
	wait  time.Duration
	fn    func(A)

	mu      sync.Mutex
	seq     uint64
	args    A
	pending bool
	timer   clock.Timer
}

// Debounce wraps fn so that bursts of calls collapse into one.
//
// fn runs on the clock's timer goroutine. With a fake clock it runs while
// the clock is stepping, so fn must not call back into the clock.
func Debounce[A any](clk clock.WithDelayedExecution, fn func(A), wait time.Duration) *Debouncer[A] {
	return &Debouncer[A]{
		clock: clk,
		wait:  wait,
		fn:    fn,
	}
}

// Call records args and restarts the wait.
func (d *Debouncer[A]) Call(args A) {
	d.mu.Lock()
	d.seq++
	seq := d.seq
	d.args = args
	d.pending = true
	prev := d.timer
	d.timer = nil
	d.mu.Unlock()

	// NOTE: the clock is never called with d.mu held because a fake clock
	// fires timers while holding its own lock.
	if prev != nil {
		prev.Stop()
	}

	timer := d.clock.AfterFunc(d.wait, func() { d.fire(seq) })

	d.mu.Lock()
	if d.seq == seq {
		d.timer = timer
	}
	d.mu.Unlock()
}

// Pending returns whether a call is waiting to fire.
func (d *Debouncer[A]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Flush runs the pending call immediately, if any.
func (d *Debouncer[A]) Flush() {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return
	}
	d.seq++
	d.pending = false
	args := d.args
	timer := d.timer
	d.timer = nil
	d.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	d.fn(args)
}

// Cancel drops the pending call, if any.
func (d *Debouncer[A]) Cancel() {
	d.mu.Lock()
	d.seq++
	d.pending = false
	timer := d.timer
	d.timer = nil
	d.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
}

func (d *Debouncer[A]) fire(seq uint64) {
	d.mu.Lock()
	if seq != d.seq || !d.pending {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.timer = nil
	args := d.args
	d.mu.Unlock()

	d.fn(args)
}
