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

package presence

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-memdb"

	"github.com/yorkie-team/wardroom/api/types"
)

var tblParticipants = "participants"

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tblParticipants: {
			Name: tblParticipants,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "Key"},
				},
				"viewing_entity_id": {
					Name:         "viewing_entity_id",
					AllowMissing: true,
					Indexer:      &memdb.StringFieldIndex{Field: "ViewingEntityID"},
				},
			},
		},
	},
}

// participant is a row of the participant table.
type participant struct {
	Key             string
	ViewingEntityID string
	State           types.PresenceState
}

// Participants is the materialized view of the presence of a scope.
type Participants struct {
	db *memdb.MemDB
}

// NewParticipants creates an empty view.
func NewParticipants() (*Participants, error) {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("new memdb: %w", err)
	}
	return &Participants{db: db}, nil
}

// Rebuild replaces the whole view with snapshot. When a key has several
// states the last one wins.
func (p *Participants) Rebuild(snapshot map[string][]types.PresenceState) error {
	txn := p.db.Txn(true)
	defer txn.Abort()

	if _, err := txn.DeleteAll(tblParticipants, "id"); err != nil {
		return fmt.Errorf("clear participants: %w", err)
	}
	for key, states := range snapshot {
		if err := insert(txn, key, states); err != nil {
			return err
		}
	}

	txn.Commit()
	return nil
}

// Join upserts the states of key.
func (p *Participants) Join(key string, states []types.PresenceState) error {
	txn := p.db.Txn(true)
	defer txn.Abort()

	if err := insert(txn, key, states); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

// Leave removes key.
func (p *Participants) Leave(key string) error {
	txn := p.db.Txn(true)
	defer txn.Abort()

	if _, err := txn.DeleteAll(tblParticipants, "id", key); err != nil {
		return fmt.Errorf("delete participant %s: %w", key, err)
	}

	txn.Commit()
	return nil
}

// Clear empties the view.
func (p *Participants) Clear() error {
	return p.Rebuild(nil)
}

// All returns every participant state ordered by key.
func (p *Participants) All() []types.PresenceState {
	txn := p.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(tblParticipants, "id")
	if err != nil {
		return nil
	}

	var states []types.PresenceState
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		states = append(states, raw.(*participant).State)
	}
	return states
}

// Viewing returns the online participants that have entityID open,
// ordered by key.
func (p *Participants) Viewing(entityID string) []types.PresenceState {
	if entityID == "" {
		return nil
	}

	txn := p.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(tblParticipants, "viewing_entity_id", entityID)
	if err != nil {
		return nil
	}

	var rows []*participant
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		row := raw.(*participant)
		if row.State.IsOnline() {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Key < rows[j].Key
	})

	states := make([]types.PresenceState, 0, len(rows))
	for _, row := range rows {
		states = append(states, row.State)
	}
	return states
}

// Len returns the number of participants.
func (p *Participants) Len() int {
	return len(p.All())
}

func insert(txn *memdb.Txn, key string, states []types.PresenceState) error {
	if len(states) == 0 {
		return nil
	}

	state := states[len(states)-1]
	if err := txn.Insert(tblParticipants, &participant{
		Key:             key,
		ViewingEntityID: state.ViewingEntityID,
		State:           state,
	}); err != nil {
		return fmt.Errorf("insert participant %s: %w", key, err)
	}
	return nil
}
