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

package types

import (
	"sync/atomic"
)

// ConnectionStatus is the externally observable connection state of a
// reconciler or a presence tracker.
type ConnectionStatus string

const (
	// Disconnected is the initial state and the state after teardown.
	Disconnected ConnectionStatus = "disconnected"

	// Connecting means a channel was created and a subscription requested.
	Connecting ConnectionStatus = "connecting"

	// Connected means the subscription was confirmed.
	Connected ConnectionStatus = "connected"

	// Errored means the subscription failed.
	Errored ConnectionStatus = "error"
)

// AtomicConnectionStatus is a ConnectionStatus that is safe to read while
// another goroutine updates it.
type AtomicConnectionStatus struct {
	v atomic.Value
}

// Load returns the current status.
func (s *AtomicConnectionStatus) Load() ConnectionStatus {
	v, ok := s.v.Load().(ConnectionStatus)
	if !ok {
		return Disconnected
	}
	return v
}

// Store replaces the status and returns the previous one.
func (s *AtomicConnectionStatus) Store(status ConnectionStatus) ConnectionStatus {
	prev, ok := s.v.Swap(status).(ConnectionStatus)
	if !ok {
		return Disconnected
	}
	return prev
}
