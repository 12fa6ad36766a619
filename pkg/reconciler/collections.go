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
	"github.com/yorkie-team/wardroom/api/types"
	"github.com/yorkie-team/wardroom/pkg/realtime"
)

const (
	// PatientsCollection is the collection of patients.
	PatientsCollection = "patients"

	// NotesCollection is the collection of clinical notes.
	NotesCollection = "notes"

	// NotificationsCollection is the collection of notifications.
	NotificationsCollection = "notifications"
)

// NewPatients creates a reconciler of the patients of a workspace.
func NewPatients(service realtime.Service, opts ...Option[types.Patient]) *Reconciler[types.Patient] {
	return New(service, PatientsCollection, "workspace_id", opts...)
}

// NewNotes creates a reconciler of the notes of a workspace.
func NewNotes(service realtime.Service, opts ...Option[types.Note]) *Reconciler[types.Note] {
	return New(service, NotesCollection, "workspace_id", opts...)
}

// NewNotifications creates a reconciler of the notifications of a user.
// Its scope is the user id.
func NewNotifications(
	service realtime.Service,
	opts ...Option[types.Notification],
) *Reconciler[types.Notification] {
	return New(service, NotificationsCollection, "user_id", opts...)
}
