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

package realtime

import (
	"fmt"
	"strings"
	"time"

	"github.com/buger/jsonparser"
	gojson "github.com/goccy/go-json"

	"github.com/yorkie-team/wardroom/api/types"
	"github.com/yorkie-team/wardroom/pkg/errors"
)

// ErrInvalidFilter is returned when a filter expression cannot be parsed.
var ErrInvalidFilter = errors.InvalidArgument("invalid filter").WithCode("ErrInvalidFilter")

// EventKind is the kind of a change event.
type EventKind string

const (
	// EventInsert is a created record.
	EventInsert EventKind = "INSERT"

	// EventUpdate is a modified record.
	EventUpdate EventKind = "UPDATE"

	// EventDelete is a removed record.
	EventDelete EventKind = "DELETE"

	// EventAll matches every kind in a Binding.
	EventAll EventKind = "*"
)

// Filter restricts a binding to records whose column equals a value. Its
// textual form is "<column>=eq.<value>".
type Filter struct {
	Column string
	Value  string
}

// Eq returns a filter on column == value.
func Eq(column, value string) *Filter {
	return &Filter{Column: column, Value: value}
}

// ParseFilter parses "<column>=eq.<value>".
func ParseFilter(expr string) (*Filter, error) {
	column, rest, ok := strings.Cut(expr, "=")
	if !ok || column == "" {
		return nil, fmt.Errorf("parse %q: %w", expr, ErrInvalidFilter)
	}
	value, ok := strings.CutPrefix(rest, "eq.")
	if !ok {
		return nil, fmt.Errorf("parse %q: only eq is supported: %w", expr, ErrInvalidFilter)
	}
	return &Filter{Column: column, Value: value}, nil
}

// String returns the textual form of the filter.
func (f *Filter) String() string {
	return f.Column + "=eq." + f.Value
}

// Matches returns whether the record carries the filter value in the
// filter column. Strings, numbers and booleans compare by their JSON text.
func (f *Filter) Matches(record []byte) bool {
	value, dataType, _, err := jsonparser.Get(record, f.Column)
	if err != nil {
		return false
	}

	switch dataType {
	case jsonparser.String, jsonparser.Number, jsonparser.Boolean:
		return string(value) == f.Value
	default:
		return false
	}
}

// Binding is the interest of a channel in change events of a table.
type Binding struct {
	Event  EventKind `json:"event"`
	Table  string    `json:"table"`
	Filter *Filter   `json:"-"`
}

// Matches returns whether event is selected by the binding.
func (b Binding) Matches(event ChangeEvent) bool {
	if b.Table != event.Table {
		return false
	}
	if b.Event != EventAll && b.Event != event.Kind {
		return false
	}
	if b.Filter == nil {
		return true
	}
	return b.Filter.Matches(event.Record())
}

// ChangeEvent describes a write to a table. New holds the record after an
// insert or update. Old holds the prior record when the transport provides
// it, which for deletes may only carry the primary key.
type ChangeEvent struct {
	Kind       EventKind         `json:"kind"`
	Table      string            `json:"table"`
	New        gojson.RawMessage `json:"new,omitempty"`
	Old        gojson.RawMessage `json:"old,omitempty"`
	CommitTime time.Time         `json:"commit_time"`
}

// NewChangeEvent builds an event from Go values.
func NewChangeEvent(kind EventKind, table string, newRecord, oldRecord any) (ChangeEvent, error) {
	event := ChangeEvent{
		Kind:       kind,
		Table:      table,
		CommitTime: time.Now(),
	}

	if newRecord != nil {
		encoded, err := gojson.Marshal(newRecord)
		if err != nil {
			return ChangeEvent{}, fmt.Errorf("marshal new record: %w", err)
		}
		event.New = encoded
	}
	if oldRecord != nil {
		encoded, err := gojson.Marshal(oldRecord)
		if err != nil {
			return ChangeEvent{}, fmt.Errorf("marshal old record: %w", err)
		}
		event.Old = encoded
	}

	return event, nil
}

// Record returns the record a filter applies to: New, or Old for deletes.
func (e ChangeEvent) Record() []byte {
	if len(e.New) > 0 {
		return e.New
	}
	return e.Old
}

// RecordID returns the "id" field of the event record.
func (e ChangeEvent) RecordID() (string, error) {
	id, err := jsonparser.GetString(e.Record(), "id")
	if err != nil {
		return "", fmt.Errorf("read record id: %w", err)
	}
	return id, nil
}

// Decode decodes raw into a value of type T.
func Decode[T any](raw []byte) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, fmt.Errorf("decode record: empty payload")
	}
	if err := gojson.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode record: %w", err)
	}
	return v, nil
}

// PresenceEventKind is the kind of a presence event.
type PresenceEventKind string

const (
	// PresenceSync carries a full snapshot of the topic presence.
	PresenceSync PresenceEventKind = "sync"

	// PresenceJoin reports states added under a key.
	PresenceJoin PresenceEventKind = "join"

	// PresenceLeave reports states removed under a key.
	PresenceLeave PresenceEventKind = "leave"
)

// PresenceEvent is a change of the presence of a topic. Sync events carry
// the full State; join and leave carry the Key and the affected states.
type PresenceEvent struct {
	Kind   PresenceEventKind                `json:"kind"`
	Key    string                           `json:"key,omitempty"`
	States []types.PresenceState            `json:"states,omitempty"`
	State  map[string][]types.PresenceState `json:"state,omitempty"`
}

// Topic returns the channel name of a collection within a scope.
func Topic(collection, scopeID string) string {
	return collection + ":" + scopeID
}

// PresenceTopic returns the presence channel name of a scope.
func PresenceTopic(scopeID string) string {
	return "presence:" + scopeID
}
