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

package realtime

import (
	"sync"
	"time"
)

const (
	// publishTimeout is the timeout for publishing an event to a slow
	// consumer.
	publishTimeout = 100 * time.Millisecond
)

// Stream is a closable buffered stream of events of type E. Publishing
// after Close is a no-op.
type Stream[E any] struct {
	mu     sync.Mutex
	closed bool
	events chan E
}

// NewStream creates a Stream with the given buffer size.
func NewStream[E any](bufSize int) *Stream[E] {
	return &Stream[E]{
		events: make(chan E, bufSize),
	}
}

// Events returns the receiving side of the stream.
func (s *Stream[E]) Events() <-chan E {
	return s.events
}

// Publish delivers event unless the stream is closed or the consumer does
// not drain it within publishTimeout.
func (s *Stream[E]) Publish(event E) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	select {
	case s.events <- event:
		return true
	case <-time.After(publishTimeout):
		return false
	}
}

// Close closes the stream.
func (s *Stream[E]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.events)
	}
}
