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

// Package limit provides the timing primitives used to coalesce bursts of
// events before they reach the network or the cache.
package limit

import (
	"container/list"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Limiter throttles events per key. The first event of a key passes; events
// inside the window are held back and the last one runs when the key
// expires, so every burst ends with exactly one trailing callback.
type Limiter[K comparable] struct {
	clock     clock.WithTicker
	mu        sync.Mutex
	closeChan chan struct{}
	doneChan  chan struct{}
	closeOnce sync.Once

	window time.Duration
	ttl    time.Duration

	evictionList *list.List
	entries      map[K]*list.Element
}

type limitEntry[K comparable] struct {
	key        K
	bucket     Bucket
	expireTime time.Time
	trailing   func()
}

// NewLimiter creates a Limiter. Expired keys are collected every
// expireInterval; a key expires ttl after its last event.
func NewLimiter[K comparable](
	clk clock.WithTicker,
	expireInterval, window, ttl time.Duration,
) *Limiter[K] {
	lim := &Limiter[K]{
		clock:        clk,
		closeChan:    make(chan struct{}),
		doneChan:     make(chan struct{}),
		window:       window,
		ttl:          ttl,
		evictionList: list.New(),
		entries:      make(map[K]*list.Element),
	}

	ticker := clk.NewTicker(expireInterval)
	go lim.processLoop(ticker)
	return lim
}

// Allow reports whether an event for key may run now. If not, callback is
// kept as the trailing callback of the key, replacing any previous one.
func (l *Limiter[K]) Allow(key K, callback func()) bool {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if elem, ok := l.entries[key]; ok {
		entry := elem.Value.(*limitEntry[K])
		allowed := entry.bucket.Allow(now)
		if allowed {
			entry.trailing = nil
		} else {
			entry.trailing = callback
		}

		l.evictionList.MoveToFront(elem)
		entry.expireTime = now.Add(l.ttl)
		return allowed
	}

	entry := &limitEntry[K]{
		key:        key,
		bucket:     NewDrainedBucket(now, l.window),
		expireTime: now.Add(l.ttl),
	}
	l.entries[key] = l.evictionList.PushFront(entry)
	return true
}

// Len returns the number of tracked keys.
func (l *Limiter[K]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Limiter[K]) processLoop(ticker clock.Ticker) {
	defer close(l.doneChan)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			l.expire(false)
		case <-l.closeChan:
			l.expire(true)
			return
		}
	}
}

// expire removes expired entries, or all entries when force is set, and
// runs their trailing callbacks outside the lock.
func (l *Limiter[K]) expire(force bool) {
	now := l.clock.Now()
	var trailing []func()

	l.mu.Lock()
	for {
		elem := l.evictionList.Back()
		if elem == nil {
			break
		}

		entry := elem.Value.(*limitEntry[K])
		if !force && now.Before(entry.expireTime) {
			break
		}

		l.evictionList.Remove(elem)
		delete(l.entries, entry.key)
		if entry.trailing != nil {
			trailing = append(trailing, entry.trailing)
		}
	}
	l.mu.Unlock()

	for _, callback := range trailing {
		callback()
	}
}

// Close stops the expiration loop and flushes pending trailing callbacks.
func (l *Limiter[K]) Close() {
	l.closeOnce.Do(func() {
		close(l.closeChan)
	})
	<-l.doneChan
}
