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

// Package websocket carries the realtime transport over websocket
// connections. Handler serves the channels of a memory.Hub and Service is
// the matching client.
package websocket

import (
	"fmt"

	"github.com/yorkie-team/wardroom/api/types"
	"github.com/yorkie-team/wardroom/pkg/realtime"
)

// frameType is the type of a frame.
type frameType string

const (
	frameSubscribe frameType = "subscribe"
	frameTrack     frameType = "track"
	frameUntrack   frameType = "untrack"
	frameLeave     frameType = "leave"
	framePublish   frameType = "publish"

	frameReply    frameType = "reply"
	frameStatus   frameType = "status"
	frameChange   frameType = "change"
	framePresence frameType = "presence"
)

const (
	replyOK    = "ok"
	replyError = "error"
)

// binding is the wire form of a realtime.Binding.
type binding struct {
	Event  realtime.EventKind `json:"event"`
	Table  string             `json:"table"`
	Filter string             `json:"filter,omitempty"`
}

func toWireBinding(b realtime.Binding) binding {
	wire := binding{Event: b.Event, Table: b.Table}
	if b.Filter != nil {
		wire.Filter = b.Filter.String()
	}
	return wire
}

func (b binding) toBinding() (realtime.Binding, error) {
	result := realtime.Binding{Event: b.Event, Table: b.Table}
	if b.Filter == "" {
		return result, nil
	}

	filter, err := realtime.ParseFilter(b.Filter)
	if err != nil {
		return realtime.Binding{}, fmt.Errorf("binding %s: %w", b.Table, err)
	}
	result.Filter = filter
	return result, nil
}

// frame is the single message type exchanged in both directions.
type frame struct {
	Type    frameType `json:"type"`
	Ref     string    `json:"ref,omitempty"`
	Channel string    `json:"channel,omitempty"`

	Topic    string    `json:"topic,omitempty"`
	Key      string    `json:"key,omitempty"`
	Bindings []binding `json:"bindings,omitempty"`

	State    *types.PresenceState    `json:"state,omitempty"`
	Event    *realtime.ChangeEvent   `json:"event,omitempty"`
	Presence *realtime.PresenceEvent `json:"presence,omitempty"`

	Status realtime.ChannelStatus `json:"status,omitempty"`
	Result string                 `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`
}
