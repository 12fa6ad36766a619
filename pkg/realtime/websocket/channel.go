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

package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/xid"

	"github.com/yorkie-team/wardroom/api/types"
	"github.com/yorkie-team/wardroom/pkg/realtime"
)

// Channel is a channel of a Service.
type Channel struct {
	id   string
	name string
	key  string
	svc  *Service

	mu         sync.RWMutex
	bindings   []realtime.Binding
	subscribed bool
	removed    bool
	state      map[string][]types.PresenceState

	statuses *realtime.Stream[realtime.ChannelStatus]
	changes  *realtime.Stream[realtime.ChangeEvent]
	presence *realtime.Stream[realtime.PresenceEvent]
}

func newChannel(svc *Service, name string, options realtime.ChannelOptions) *Channel {
	return &Channel{
		id:       xid.New().String(),
		name:     name,
		key:      options.PresenceKey,
		svc:      svc,
		state:    make(map[string][]types.PresenceState),
		statuses: realtime.NewStream[realtime.ChannelStatus](options.BufferSize),
		changes:  realtime.NewStream[realtime.ChangeEvent](options.BufferSize),
		presence: realtime.NewStream[realtime.PresenceEvent](options.BufferSize),
	}
}

// ID returns the id of this channel.
func (c *Channel) ID() string {
	return c.id
}

// Name returns the topic of this channel.
func (c *Channel) Name() string {
	return c.name
}

// On registers binding. It takes effect on the next Subscribe.
func (c *Channel) On(binding realtime.Binding) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindings = append(c.bindings, binding)
}

// Subscribe asks the relay to start delivery. A failed or unanswered
// request is reported as CHANNEL_ERROR or TIMED_OUT on Statuses.
func (c *Channel) Subscribe(ctx context.Context) error {
	c.mu.RLock()
	if c.removed {
		c.mu.RUnlock()
		return fmt.Errorf("subscribe %s: %w", c.name, realtime.ErrChannelClosed)
	}
	bindings := make([]binding, 0, len(c.bindings))
	for _, b := range c.bindings {
		bindings = append(bindings, toWireBinding(b))
	}
	c.mu.RUnlock()

	_, err := c.svc.request(ctx, frame{
		Type:     frameSubscribe,
		Channel:  c.id,
		Topic:    c.name,
		Key:      c.key,
		Bindings: bindings,
	})
	if err == nil {
		return nil
	}

	c.svc.logger.Debugw("subscribe failed", "topic", c.name, "error", err)
	if errors.Is(err, realtime.ErrTimedOut) {
		c.statuses.Publish(realtime.StatusTimedOut)
	} else {
		c.statuses.Publish(realtime.StatusChannelError)
	}
	return nil
}

// Statuses returns the status updates of this channel.
func (c *Channel) Statuses() <-chan realtime.ChannelStatus {
	return c.statuses.Events()
}

// Changes returns the change events of this channel.
func (c *Channel) Changes() <-chan realtime.ChangeEvent {
	return c.changes.Events()
}

// Presence returns the presence events of this channel.
func (c *Channel) Presence() <-chan realtime.PresenceEvent {
	return c.presence.Events()
}

// Track publishes state under the key of this channel.
func (c *Channel) Track(ctx context.Context, state types.PresenceState) error {
	if _, err := c.svc.request(ctx, frame{Type: frameTrack, Channel: c.id, State: &state}); err != nil {
		return fmt.Errorf("track %s: %w", c.name, err)
	}
	return nil
}

// Untrack withdraws the state of this channel.
func (c *Channel) Untrack(ctx context.Context) error {
	if _, err := c.svc.request(ctx, frame{Type: frameUntrack, Channel: c.id}); err != nil {
		return fmt.Errorf("untrack %s: %w", c.name, err)
	}
	return nil
}

// PresenceState returns the last presence snapshot received.
func (c *Channel) PresenceState() map[string][]types.PresenceState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot := make(map[string][]types.PresenceState, len(c.state))
	for key, states := range c.state {
		snapshot[key] = append([]types.PresenceState(nil), states...)
	}
	return snapshot
}

func (c *Channel) deliverStatus(status realtime.ChannelStatus) {
	c.mu.Lock()
	switch status {
	case realtime.StatusSubscribed:
		c.subscribed = true
	case realtime.StatusClosed:
		// the local side reports CLOSED itself when the channel is removed
		c.mu.Unlock()
		return
	default:
		c.subscribed = false
	}
	c.mu.Unlock()

	c.statuses.Publish(status)
}

func (c *Channel) deliverPresence(event realtime.PresenceEvent) {
	if event.Kind == realtime.PresenceSync {
		c.mu.Lock()
		c.state = event.State
		if c.state == nil {
			c.state = make(map[string][]types.PresenceState)
		}
		c.mu.Unlock()
	}
	c.presence.Publish(event)
}

// markUnsubscribed reports whether the channel was subscribed.
func (c *Channel) markUnsubscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	was := c.subscribed
	c.subscribed = false
	return was
}

// markRemoved reports whether this call removed the channel.
func (c *Channel) markRemoved() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.removed {
		return false
	}
	c.removed = true
	c.subscribed = false
	return true
}

func (c *Channel) close() {
	c.statuses.Publish(realtime.StatusClosed)
	c.statuses.Close()
	c.changes.Close()
	c.presence.Close()
}
