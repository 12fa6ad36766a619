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

// Package memory is the in-process implementation of the realtime
// transport. It serves single-process deployments, the development relay
// and tests, and can inject transport failures.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/yorkie-team/wardroom/api/types"
	"github.com/yorkie-team/wardroom/pkg/logging"
	"github.com/yorkie-team/wardroom/pkg/realtime"
)

// Hub routes change and presence events between the channels of a process.
type Hub struct {
	logger *zap.SugaredLogger

	mu       sync.RWMutex
	topics   map[string]map[string]*Channel
	presence map[string]map[string]map[string]types.PresenceState

	faults        map[string][]realtime.ChannelStatus
	attempts      map[string]int
	trackErrors   map[string]error
	untrackErrors map[string]error
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger of the hub.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(h *Hub) {
		h.logger = logger
	}
}

// NewHub creates an empty Hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		topics:        make(map[string]map[string]*Channel),
		presence:      make(map[string]map[string]map[string]types.PresenceState),
		faults:        make(map[string][]realtime.ChannelStatus),
		attempts:      make(map[string]int),
		trackErrors:   make(map[string]error),
		untrackErrors: make(map[string]error),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = logging.New("hub")
	}
	return h
}

// Channel creates a channel on topic name.
func (h *Hub) Channel(name string, opts ...realtime.ChannelOption) realtime.Channel {
	return h.NewChannel(name, opts...)
}

// NewChannel is Channel returning the concrete type.
func (h *Hub) NewChannel(name string, opts ...realtime.ChannelOption) *Channel {
	ch := newChannel(h, name, realtime.NewChannelOptions(opts...))

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.topics[name]; !ok {
		h.topics[name] = make(map[string]*Channel)
	}
	h.topics[name][ch.id] = ch
	return ch
}

// RemoveChannel tears ch down. Its presence is withdrawn, CLOSED is
// reported and its event streams are closed.
func (h *Hub) RemoveChannel(_ context.Context, ch realtime.Channel) error {
	c, ok := ch.(*Channel)
	if !ok || c.hub != h {
		return fmt.Errorf("remove channel %s: not created by this hub", ch.Name())
	}

	h.mu.Lock()
	c.mu.Lock()
	if c.removed {
		c.mu.Unlock()
		h.mu.Unlock()
		return nil
	}
	c.removed = true
	c.subscribed = false
	c.mu.Unlock()

	if chans, ok := h.topics[c.name]; ok {
		delete(chans, c.id)
		if len(chans) == 0 {
			delete(h.topics, c.name)
		}
	}
	left, hadPresence := h.removePresenceLocked(c)
	peers := h.subscribedLocked(c.name)
	snapshot := h.snapshotLocked(c.name)
	h.mu.Unlock()

	c.statuses.Publish(realtime.StatusClosed)
	c.statuses.Close()
	c.changes.Close()
	c.presence.Close()

	if hadPresence {
		h.broadcastPresence(peers, realtime.PresenceEvent{
			Kind:   realtime.PresenceLeave,
			Key:    c.key,
			States: []types.PresenceState{left},
		}, snapshot)
	}
	return nil
}

// Publish delivers event to every subscribed channel with a matching
// binding and returns the number of deliveries.
func (h *Hub) Publish(event realtime.ChangeEvent) int {
	var targets []*Channel

	h.mu.RLock()
	for _, chans := range h.topics {
		for _, c := range chans {
			c.mu.RLock()
			if c.subscribed && c.matches(event) {
				targets = append(targets, c)
			}
			c.mu.RUnlock()
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.changes.Publish(event) {
			delivered++
		} else {
			h.logger.Warnw("drop change event", "channel", c.name, "id", c.id)
		}
	}
	return delivered
}

// PresenceState returns the presence snapshot of topic.
func (h *Hub) PresenceState(topic string) map[string][]types.PresenceState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshotLocked(topic)
}

// FailSubscribe makes the next subscribe attempts on topic report the
// given statuses, one per attempt.
func (h *Hub) FailSubscribe(topic string, statuses ...realtime.ChannelStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.faults[topic] = append(h.faults[topic], statuses...)
}

// SetTrackError makes Track on topic fail with err. A nil err clears it.
func (h *Hub) SetTrackError(topic string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.trackErrors[topic] = err
}

// SetUntrackError makes Untrack on topic fail with err. A nil err clears
// it.
func (h *Hub) SetUntrackError(topic string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.untrackErrors[topic] = err
}

// Disconnect drops every subscribed channel of topic as if the transport
// failed, reporting status to each. Their presence is withdrawn.
func (h *Hub) Disconnect(topic string, status realtime.ChannelStatus) int {
	h.mu.Lock()
	dropped := h.subscribedLocked(topic)
	for _, c := range dropped {
		c.mu.Lock()
		c.subscribed = false
		c.mu.Unlock()
		h.removePresenceLocked(c)
	}
	h.mu.Unlock()

	for _, c := range dropped {
		c.statuses.Publish(status)
	}
	return len(dropped)
}

// SubscribeAttempts returns how many times channels of topic asked to
// subscribe.
func (h *Hub) SubscribeAttempts(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.attempts[topic]
}

// Channels returns the number of live channels on topic.
func (h *Hub) Channels(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

func (h *Hub) subscribe(c *Channel) error {
	h.mu.Lock()
	c.mu.Lock()
	if c.removed {
		c.mu.Unlock()
		h.mu.Unlock()
		return fmt.Errorf("subscribe %s: %w", c.name, realtime.ErrChannelClosed)
	}

	h.attempts[c.name]++
	status := realtime.StatusSubscribed
	if faults := h.faults[c.name]; len(faults) > 0 {
		status = faults[0]
		h.faults[c.name] = faults[1:]
	} else {
		c.subscribed = true
	}
	c.mu.Unlock()
	snapshot := h.snapshotLocked(c.name)
	h.mu.Unlock()

	c.statuses.Publish(status)
	if status == realtime.StatusSubscribed {
		c.presence.Publish(realtime.PresenceEvent{
			Kind:  realtime.PresenceSync,
			State: snapshot,
		})
	}
	return nil
}

func (h *Hub) track(c *Channel, state types.PresenceState) error {
	h.mu.Lock()
	if err := h.trackErrors[c.name]; err != nil {
		h.mu.Unlock()
		return fmt.Errorf("track %s: %w", c.name, err)
	}
	c.mu.RLock()
	subscribed := c.subscribed
	c.mu.RUnlock()
	if !subscribed {
		h.mu.Unlock()
		return fmt.Errorf("track %s: %w", c.name, realtime.ErrNotSubscribed)
	}

	keys, ok := h.presence[c.name]
	if !ok {
		keys = make(map[string]map[string]types.PresenceState)
		h.presence[c.name] = keys
	}
	if _, ok := keys[c.key]; !ok {
		keys[c.key] = make(map[string]types.PresenceState)
	}
	keys[c.key][c.id] = state

	peers := h.subscribedLocked(c.name)
	snapshot := h.snapshotLocked(c.name)
	h.mu.Unlock()

	h.broadcastPresence(peers, realtime.PresenceEvent{
		Kind:   realtime.PresenceJoin,
		Key:    c.key,
		States: []types.PresenceState{state},
	}, snapshot)
	return nil
}

func (h *Hub) untrack(c *Channel) error {
	h.mu.Lock()
	if err := h.untrackErrors[c.name]; err != nil {
		h.mu.Unlock()
		return fmt.Errorf("untrack %s: %w", c.name, err)
	}

	left, ok := h.removePresenceLocked(c)
	peers := h.subscribedLocked(c.name)
	snapshot := h.snapshotLocked(c.name)
	h.mu.Unlock()

	if ok {
		h.broadcastPresence(peers, realtime.PresenceEvent{
			Kind:   realtime.PresenceLeave,
			Key:    c.key,
			States: []types.PresenceState{left},
		}, snapshot)
	}
	return nil
}

func (h *Hub) broadcastPresence(
	peers []*Channel,
	event realtime.PresenceEvent,
	snapshot map[string][]types.PresenceState,
) {
	for _, peer := range peers {
		peer.presence.Publish(event)
		peer.presence.Publish(realtime.PresenceEvent{
			Kind:  realtime.PresenceSync,
			State: snapshot,
		})
	}
}

// removePresenceLocked must be called with h.mu held.
func (h *Hub) removePresenceLocked(c *Channel) (types.PresenceState, bool) {
	keys, ok := h.presence[c.name]
	if !ok {
		return types.PresenceState{}, false
	}
	states, ok := keys[c.key]
	if !ok {
		return types.PresenceState{}, false
	}
	state, ok := states[c.id]
	if !ok {
		return types.PresenceState{}, false
	}

	delete(states, c.id)
	if len(states) == 0 {
		delete(keys, c.key)
	}
	if len(keys) == 0 {
		delete(h.presence, c.name)
	}
	return state, true
}

// subscribedLocked must be called with h.mu held.
func (h *Hub) subscribedLocked(topic string) []*Channel {
	var chans []*Channel
	for _, c := range h.topics[topic] {
		c.mu.RLock()
		if c.subscribed {
			chans = append(chans, c)
		}
		c.mu.RUnlock()
	}
	sort.Slice(chans, func(i, j int) bool { return chans[i].id < chans[j].id })
	return chans
}

// snapshotLocked must be called with h.mu held.
func (h *Hub) snapshotLocked(topic string) map[string][]types.PresenceState {
	snapshot := make(map[string][]types.PresenceState)
	for key, byChannel := range h.presence[topic] {
		ids := make([]string, 0, len(byChannel))
		for id := range byChannel {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		states := make([]types.PresenceState, 0, len(ids))
		for _, id := range ids {
			states = append(states, byChannel[id])
		}
		snapshot[key] = states
	}
	return snapshot
}
