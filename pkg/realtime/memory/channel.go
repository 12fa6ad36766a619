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

package memory

import (
	"context"
	"sync"

	"github.com/rs/xid"

	"github.com/yorkie-team/wardroom/api/types"
	"github.com/yorkie-team/wardroom/pkg/realtime"
)

// Channel is a channel of a Hub.
type Channel struct {
	id   string
	name string
	key  string
	hub  *Hub

	mu         sync.RWMutex
	bindings   []realtime.Binding
	subscribed bool
	removed    bool

	statuses *realtime.Stream[realtime.ChannelStatus]
	changes  *realtime.Stream[realtime.ChangeEvent]
	presence *realtime.Stream[realtime.PresenceEvent]
}

func newChannel(hub *Hub, name string, options realtime.ChannelOptions) *Channel {
	id := xid.New().String()
	key := options.PresenceKey
	if key == "" {
		key = id
	}

	return &Channel{
		id:       id,
		name:     name,
		key:      key,
		hub:      hub,
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

// Key returns the presence key of this channel.
func (c *Channel) Key() string {
	return c.key
}

// On registers binding.
func (c *Channel) On(binding realtime.Binding) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindings = append(c.bindings, binding)
}

// Subscribe requests delivery. The outcome is reported on Statuses.
func (c *Channel) Subscribe(_ context.Context) error {
	return c.hub.subscribe(c)
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
func (c *Channel) Track(_ context.Context, state types.PresenceState) error {
	return c.hub.track(c, state)
}

// Untrack withdraws the state of this channel.
func (c *Channel) Untrack(_ context.Context) error {
	return c.hub.untrack(c)
}

// PresenceState returns the presence snapshot of the topic.
func (c *Channel) PresenceState() map[string][]types.PresenceState {
	return c.hub.PresenceState(c.name)
}

// IsSubscribed returns whether the channel currently delivers events.
func (c *Channel) IsSubscribed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscribed
}

// matches must be called with c.mu held.
func (c *Channel) matches(event realtime.ChangeEvent) bool {
	for _, binding := range c.bindings {
		if binding.Matches(event) {
			return true
		}
	}
	return false
}
