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
	"time"
)

// PresenceStatus is the status a participant shares with others.
type PresenceStatus string

const (
	// PresenceOnline means the participant is active.
	PresenceOnline PresenceStatus = "online"

	// PresenceAway means the participant is connected but idle.
	PresenceAway PresenceStatus = "away"

	// PresenceOffline means the participant is leaving or has left.
	PresenceOffline PresenceStatus = "offline"
)

// PresenceState is the status of one connected participant of a scope.
type PresenceState struct {
	UserID string `json:"user_id" validate:"required"`

	// ScopeID is the workspace the participant is observing.
	ScopeID string `json:"scope_id" validate:"required"`

	// ViewingEntityID is the record the participant has open. Empty means
	// none.
	ViewingEntityID string `json:"viewing_entity_id,omitempty"`

	Status   PresenceStatus `json:"status" validate:"presence_status"`
	OnlineAt time.Time      `json:"online_at"`

	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Title     string `json:"title,omitempty"`
}

// IsOnline returns whether the participant should be shown as online.
func (p PresenceState) IsOnline() bool {
	return p.Status != PresenceOffline
}

// IsViewing returns whether the participant has the given entity open.
func (p PresenceState) IsViewing(entityID string) bool {
	return entityID != "" && p.ViewingEntityID == entityID
}
