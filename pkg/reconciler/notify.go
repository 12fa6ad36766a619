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

package reconciler

import (
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/yorkie-team/wardroom/api/types"
	"github.com/yorkie-team/wardroom/pkg/limit"
)

// DefaultNotifyInterval is the minimum interval between two deliveries of
// the notification sink.
const DefaultNotifyInterval = 5 * time.Second

// NotificationSink forwards urgent notifications to the user. Notifications
// below the minimum severity are dropped. Deliveries are throttled; of the
// notifications held back during a window only the latest one is delivered.
type NotificationSink struct {
	minSeverity types.Severity
	deliver     func(types.Notification)
	throttler   *limit.Throttler

	mu      sync.Mutex
	pending *types.Notification
}

// NewNotificationSink creates a NotificationSink. An empty minSeverity
// means critical.
func NewNotificationSink(
	clk clock.WithDelayedExecution,
	interval time.Duration,
	minSeverity types.Severity,
	deliver func(types.Notification),
) *NotificationSink {
	if minSeverity == "" {
		minSeverity = types.SeverityCritical
	}
	if interval <= 0 {
		interval = DefaultNotifyInterval
	}

	return &NotificationSink{
		minSeverity: minSeverity,
		deliver:     deliver,
		throttler:   limit.NewThrottler(clk, interval),
	}
}

// Handle accepts an inserted notification. It has the signature of an
// insert handler so it can be registered with OnInsert.
func (s *NotificationSink) Handle(n types.Notification) error {
	if n.Read || n.Severity.Rank() < s.minSeverity.Rank() {
		return nil
	}

	s.mu.Lock()
	s.pending = &n
	s.mu.Unlock()

	s.throttler.ExecuteOrSchedule(s.flush)
	return nil
}

// flush runs from clock callbacks and must not call the clock.
func (s *NotificationSink) flush() {
	s.mu.Lock()
	n := s.pending
	s.pending = nil
	s.mu.Unlock()

	if n != nil {
		s.deliver(*n)
	}
}
