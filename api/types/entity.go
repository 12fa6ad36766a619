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

// Package types provides the shared records and status types used by the
// realtime core of Wardroom.
package types

import (
	"time"
)

// Entity is a single record identified by a stable id.
type Entity interface {
	GetID() string
}

// Workspace is the tenancy boundary that change streams and presence
// channels are scoped by.
type Workspace struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

// GetID returns the id of this workspace.
func (w Workspace) GetID() string { return w.ID }

// Category groups patients inside a workspace.
type Category struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	Name        string `json:"name"`
	Color       string `json:"color,omitempty"`
}

// GetID returns the id of this category.
func (c Category) GetID() string { return c.ID }

// Patient is a patient record shared inside a workspace.
type Patient struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	CategoryID  string    `json:"category_id,omitempty"`
	Name        string    `json:"name"`
	Bed         string    `json:"bed,omitempty"`
	Diagnosis   string    `json:"diagnosis,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// GetID returns the id of this patient.
func (p Patient) GetID() string { return p.ID }

// Note is a clinical note attached to a patient.
type Note struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	PatientID   string    `json:"patient_id"`
	AuthorID    string    `json:"author_id"`
	Body        string    `json:"body"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// GetID returns the id of this note.
func (n Note) GetID() string { return n.ID }

// Severity is the urgency of a notification.
type Severity string

const (
	// SeverityLow is informational.
	SeverityLow Severity = "low"

	// SeverityMedium needs attention eventually.
	SeverityMedium Severity = "medium"

	// SeverityHigh needs attention soon.
	SeverityHigh Severity = "high"

	// SeverityCritical needs attention now.
	SeverityCritical Severity = "critical"
)

// Rank returns the ordinal of the severity. Unknown severities rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// Notification is a message addressed to a single user.
type Notification struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	WorkspaceID string    `json:"workspace_id,omitempty"`
	Severity    Severity  `json:"severity"`
	Title       string    `json:"title"`
	Message     string    `json:"message,omitempty"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"created_at"`
}

// GetID returns the id of this notification.
func (n Notification) GetID() string { return n.ID }
