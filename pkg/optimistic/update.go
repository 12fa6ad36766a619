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

// Package optimistic keeps track of local writes that are applied to the
// rendered state before the server confirms them.
package optimistic

import (
	"time"

	"github.com/yorkie-team/wardroom/api/types"
)

// Type is the kind of a local mutation.
type Type string

const (
	// Insert adds a new entity.
	Insert Type = "insert"

	// Update replaces an existing entity.
	Update Type = "update"

	// Delete removes an entity.
	Delete Type = "delete"
)

// Status is the lifecycle state of a ledger entry.
type Status string

const (
	// StatusSyncing means the write is in flight.
	StatusSyncing Status = "syncing"

	// StatusSynced means the server confirmed the write.
	StatusSynced Status = "synced"

	// StatusError means the server rejected the write.
	StatusError Status = "error"

	// StatusConflict means the server state diverged from the write.
	StatusConflict Status = "conflict"
)

// CanTransitionTo returns whether an entry in this status may move to next.
// No status moves back to syncing. synced and error are final; conflict may
// still be confirmed or rejected by the server.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusSyncing:
		return next != StatusSyncing
	case StatusConflict:
		return next == StatusSynced || next == StatusError
	default:
		return false
	}
}

// PendingUpdate is one local mutation recorded in a Ledger.
type PendingUpdate[T types.Entity] struct {
	// ID is the id of the mutated entity.
	ID string

	// Type is the kind of the mutation.
	Type Type

	// Entity is the snapshot of the entity after the mutation.
	Entity T

	// Previous is the snapshot before an update, if it was known.
	Previous *T

	// Index is the position the entity had in the rendered list before a
	// delete, or -1 if unknown.
	Index int

	Status    Status
	Timestamp time.Time

	// Err is set only when Status is StatusError.
	Err error
}

// HasPrevious returns whether the entry can be reverted exactly.
func (u PendingUpdate[T]) HasPrevious() bool {
	return u.Previous != nil
}

// UpdateOption configures a PendingUpdate when it is added to a Ledger.
type UpdateOption[T types.Entity] func(*PendingUpdate[T])

// WithPrevious keeps the snapshot an update replaces so that Revert can
// restore it.
func WithPrevious[T types.Entity](prev T) UpdateOption[T] {
	return func(u *PendingUpdate[T]) {
		u.Previous = &prev
	}
}

// WithIndex records where a deleted entity was rendered so that Revert puts
// it back in place.
func WithIndex[T types.Entity](index int) UpdateOption[T] {
	return func(u *PendingUpdate[T]) {
		u.Index = index
	}
}
