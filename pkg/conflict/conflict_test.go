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

package conflict_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/yorkie-team/wardroom/api/types"
	"github.com/yorkie-team/wardroom/pkg/conflict"
	"github.com/yorkie-team/wardroom/pkg/logging"
)

func TestResolve(t *testing.T) {
	server := types.Patient{ID: "p1", Name: "Server", Bed: "12A", Diagnosis: "sepsis"}
	client := types.Patient{ID: "p1", Name: "Client"}
	c := conflict.Conflict[types.Patient]{
		ID:            "p1",
		ServerVersion: server,
		ClientVersion: client,
		Timestamp:     time.Now(),
		Strategy:      conflict.ServerWins,
	}
	resolver := conflict.NewResolver[types.Patient](logging.Nop())

	t.Run("server wins and client wins test", func(t *testing.T) {
		assert.Equal(t, server, resolver.Resolve(c, conflict.ServerWins))
		assert.Equal(t, client, resolver.Resolve(c, conflict.ClientWins))
	})

	t.Run("manual falls back to server test", func(t *testing.T) {
		assert.Equal(t, server, resolver.Resolve(c, conflict.Manual))
		assert.Equal(t, server, resolver.Resolve(c, conflict.Strategy("unknown")))
	})

	t.Run("merge struct keeps omitted client fields from server test", func(t *testing.T) {
		merged := resolver.Resolve(c, conflict.Merge)
		assert.Equal(t, "Client", merged.Name)
		assert.Equal(t, "12A", merged.Bed)
		assert.Equal(t, "sepsis", merged.Diagnosis)
	})

	t.Run("merge maps test", func(t *testing.T) {
		r := conflict.NewResolver[map[string]any](logging.Nop())
		merged := r.Resolve(conflict.Conflict[map[string]any]{
			ID:            "n1",
			ServerVersion: map[string]any{"body": "server", "pinned": true},
			ClientVersion: map[string]any{"body": "client", "draft": "x"},
		}, conflict.Merge)

		assert.Equal(t, map[string]any{
			"body":   "client",
			"pinned": true,
			"draft":  "x",
		}, merged)
	})

	t.Run("merge non object falls back to server test", func(t *testing.T) {
		r := conflict.NewResolver[[]string](logging.Nop())
		merged := r.Resolve(conflict.Conflict[[]string]{
			ServerVersion: []string{"a"},
			ClientVersion: []string{"b"},
		}, conflict.Merge)
		assert.Equal(t, []string{"a"}, merged)

		s := conflict.NewResolver[string](logging.Nop())
		assert.Equal(t, "server", s.Resolve(conflict.Conflict[string]{
			ServerVersion: "server",
			ClientVersion: "client",
		}, conflict.Merge))
	})

	t.Run("strategy validity test", func(t *testing.T) {
		assert.True(t, conflict.Merge.Valid())
		assert.False(t, conflict.Strategy("last_write").Valid())
	})
}

func TestHasConflict(t *testing.T) {
	t.Run("identical values test", func(t *testing.T) {
		p := types.Patient{ID: "p1", Name: "Test"}
		assert.False(t, conflict.HasConflict(p, p))
		assert.False(t, conflict.HasConflict(nil, nil))
		assert.False(t, conflict.HasConflict(
			map[string]any{"a": 1, "b": 2},
			map[string]any{"b": 2, "a": 1},
		))
	})

	t.Run("any differing field test", func(t *testing.T) {
		base := types.Patient{ID: "p1", Name: "Test", Bed: "1"}

		changed := []types.Patient{
			{ID: "p2", Name: "Test", Bed: "1"},
			{ID: "p1", Name: "Other", Bed: "1"},
			{ID: "p1", Name: "Test", Bed: "2"},
			{ID: "p1", Name: "Test", Bed: "1", CategoryID: "c1"},
		}
		for _, other := range changed {
			assert.True(t, conflict.HasConflict(base, other))
		}
	})

	t.Run("unserializable values test", func(t *testing.T) {
		assert.True(t, conflict.HasConflict(make(chan int), 1))
	})
}
