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

// Package realtime defines the push transport consumed by the realtime core:
// scoped change streams and ephemeral presence channels. Events are
// delivered over Go channels so that ordering within a channel is explicit.
package realtime

import (
	"context"

	"github.com/yorkie-team/wardroom/api/types"
	"github.com/yorkie-team/wardroom/pkg/errors"
)

var (
	// ErrChannelError is reported when the transport fails a channel.
	ErrChannelError = errors.Unavailable("channel error").WithCode("ErrChannelError")

	// ErrTimedOut is reported when a subscription is not acknowledged in
	// time.
	ErrTimedOut = errors.Unavailable("subscription timed out").WithCode("ErrTimedOut")

	// ErrChannelClosed is returned by operations on a removed channel.
	ErrChannelClosed = errors.FailedPrecond("channel closed").WithCode("ErrChannelClosed")

	// ErrNotSubscribed is returned when presence is tracked on a channel
	// that is not subscribed.
	ErrNotSubscribed = errors.FailedPrecond("channel not subscribed").WithCode("ErrNotSubscribed")
)

// ChannelStatus is the subscription status reported by a channel.
type ChannelStatus string

const (
	// StatusSubscribed means the channel delivers events.
	StatusSubscribed ChannelStatus = "SUBSCRIBED"

	// StatusChannelError means the transport failed the channel.
	StatusChannelError ChannelStatus = "CHANNEL_ERROR"

	// StatusTimedOut means the subscription was not acknowledged in time.
	StatusTimedOut ChannelStatus = "TIMED_OUT"

	// StatusClosed means the channel was removed.
	StatusClosed ChannelStatus = "CLOSED"
)

// Err returns the error that corresponds to a failure status, or nil.
func (s ChannelStatus) Err() error {
	switch s {
	case StatusChannelError:
		return ErrChannelError
	case StatusTimedOut:
		return ErrTimedOut
	default:
		return nil
	}
}

// IsFailure returns whether the status is one that should be retried.
func (s ChannelStatus) IsFailure() bool {
	return s == StatusChannelError || s == StatusTimedOut
}

// Channel is one logical subscription on the push transport.
//
// Bindings must be registered with On before Subscribe. The channels
// returned by Changes, Presence and Statuses are closed when the channel is
// removed from its Service.
type Channel interface {
	// ID returns the unique id of this channel instance.
	ID() string

	// Name returns the topic of this channel.
	Name() string

	// On registers interest in change events matching binding.
	On(binding Binding)

	// Subscribe asks the transport to start delivery. The outcome is
	// reported on Statuses.
	Subscribe(ctx context.Context) error

	// Statuses returns the subscription status updates.
	Statuses() <-chan ChannelStatus

	// Changes returns the change events matching the registered bindings.
	Changes() <-chan ChangeEvent

	// Presence returns the presence events of the topic.
	Presence() <-chan PresenceEvent

	// Track publishes state as the presence of this channel's key.
	Track(ctx context.Context, state types.PresenceState) error

	// Untrack withdraws the presence of this channel's key.
	Untrack(ctx context.Context) error

	// PresenceState returns the last known presence snapshot of the topic.
	PresenceState() map[string][]types.PresenceState
}

// Service creates and removes channels.
type Service interface {
	// Channel creates a channel for the given topic.
	Channel(name string, opts ...ChannelOption) Channel

	// RemoveChannel tears the channel down. After it returns no further
	// events are delivered on the channel.
	RemoveChannel(ctx context.Context, ch Channel) error
}

// ChannelOption configures a channel.
type ChannelOption func(*ChannelOptions)

// ChannelOptions holds the configuration of a channel.
type ChannelOptions struct {
	// PresenceKey is the key presence is tracked under. Defaults to the
	// channel id.
	PresenceKey string

	// BufferSize is the capacity of the event channels.
	BufferSize int
}

// DefaultBufferSize is the default capacity of channel event buffers.
const DefaultBufferSize = 64

// WithPresenceKey sets the key presence is tracked under.
func WithPresenceKey(key string) ChannelOption {
	return func(o *ChannelOptions) {
		o.PresenceKey = key
	}
}

// WithBufferSize sets the capacity of the event channels.
func WithBufferSize(size int) ChannelOption {
	return func(o *ChannelOptions) {
		o.BufferSize = size
	}
}

// NewChannelOptions applies opts over the defaults.
func NewChannelOptions(opts ...ChannelOption) ChannelOptions {
	options := ChannelOptions{BufferSize: DefaultBufferSize}
	for _, opt := range opts {
		opt(&options)
	}
	if options.BufferSize <= 0 {
		options.BufferSize = DefaultBufferSize
	}
	return options
}
