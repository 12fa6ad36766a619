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

package optimistic_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/yorkie-team/wardroom/api/types"
	"github.com/yorkie-team/wardroom/pkg/optimistic"
)

func patients(n int) []types.Patient {
	items := make([]types.Patient, 0, n)
	for i := range n {
		items = append(items, types.Patient{
			ID:   fmt.Sprintf("p%d", i),
			Name: fmt.Sprintf("Patient %d", i),
		})
	}
	return items
}

func pending(typ optimistic.Type, entity types.Patient) optimistic.PendingUpdate[types.Patient] {
	return optimistic.PendingUpdate[types.Patient]{
		ID:     entity.ID,
		Type:   typ,
		Entity: entity,
		Index:  -1,
		Status: optimistic.StatusSyncing,
	}
}

func TestApply(t *testing.T) {
	t.Run("insert prepends test", func(t *testing.T) {
		items := patients(2)
		created := types.Patient{ID: "new", Name: "New"}

		result := optimistic.Apply(items, pending(optimistic.Insert, created))
		assert.Equal(t, []types.Patient{created, items[0], items[1]}, result)
		assert.Len(t, items, 2)
	})

	t.Run("update replaces in place test", func(t *testing.T) {
		items := patients(3)
		renamed := types.Patient{ID: "p1", Name: "Renamed"}

		result := optimistic.Apply(items, pending(optimistic.Update, renamed))
		assert.Equal(t, renamed, result[1])
		assert.Equal(t, "Patient 1", items[1].Name)

		unknown := types.Patient{ID: "missing"}
		assert.Equal(t, items, optimistic.Apply(items, pending(optimistic.Update, unknown)))
	})

	t.Run("delete removes test", func(t *testing.T) {
		items := patients(3)
		result := optimistic.Apply(items, pending(optimistic.Delete, items[1]))
		assert.Equal(t, []types.Patient{items[0], items[2]}, result)

		unknown := types.Patient{ID: "missing"}
		assert.Equal(t, items, optimistic.Apply(items, pending(optimistic.Delete, unknown)))
	})
}

func TestRevert(t *testing.T) {
	t.Run("apply then revert insert restores the list test", func(t *testing.T) {
		for n := range 5 {
			items := patients(n)
			update := pending(optimistic.Insert, types.Patient{ID: "p1", Name: "Test"})

			result := optimistic.Revert(optimistic.Apply(items, update), update)
			assert.Equal(t, items, result, "list of %d", n)
		}
	})

	t.Run("apply then revert delete restores the list test", func(t *testing.T) {
		for n := 1; n <= 5; n++ {
			items := patients(n)
			for i, item := range items {
				update := pending(optimistic.Delete, item)
				update.Index = i

				result := optimistic.Revert(optimistic.Apply(items, update), update)
				assert.Equal(t, items, result, "delete %d of %d", i, n)
			}
		}
	})

	t.Run("revert delete without index puts the entity at the head test", func(t *testing.T) {
		items := patients(3)
		update := pending(optimistic.Delete, items[2])

		result := optimistic.Revert(optimistic.Apply(items, update), update)
		assert.Equal(t, []types.Patient{items[2], items[0], items[1]}, result)

		// reverting twice does not duplicate the entity
		assert.Equal(t, result, optimistic.Revert(result, update))
	})

	t.Run("revert update restores the previous snapshot test", func(t *testing.T) {
		clk := testingclock.NewFakeClock(time.Now())
		ledger := newLedger(clk)
		items := patients(3)

		update := ledger.AddUpdate(
			"p1",
			optimistic.Update,
			types.Patient{ID: "p1", Name: "Renamed"},
			optimistic.WithPrevious(items[1]),
		)
		result := optimistic.Revert(optimistic.Apply(items, update), update)
		assert.Equal(t, items, result)
	})

	t.Run("revert update without previous snapshot is a no-op test", func(t *testing.T) {
		items := patients(3)
		update := pending(optimistic.Update, types.Patient{ID: "p1", Name: "Renamed"})

		applied := optimistic.Apply(items, update)
		assert.Equal(t, applied, optimistic.Revert(applied, update))
	})

	t.Run("revert of unknown ids is a no-op test", func(t *testing.T) {
		items := patients(2)
		update := pending(optimistic.Insert, types.Patient{ID: "missing"})
		assert.Equal(t, items, optimistic.Revert(items, update))
	})
}

func TestList(t *testing.T) {
	t.Run("insert then synced leaves the list and empties the ledger test", func(t *testing.T) {
		clk := testingclock.NewFakeClock(time.Now())
		ledger := newLedger(clk)
		list := optimistic.NewList[types.Patient](nil)

		p1 := types.Patient{ID: "p1", Name: "Test"}
		list.Apply(ledger.AddUpdate("p1", optimistic.Insert, p1))
		assert.Equal(t, []types.Patient{p1}, list.Items())

		ledger.MarkSynced("p1")
		clk.Step(optimistic.DefaultGracePeriod)
		assert.Equal(t, []types.Patient{p1}, list.Items())
		assert.Empty(t, ledger.GetPendingUpdates())
	})

	t.Run("accessors test", func(t *testing.T) {
		list := optimistic.NewList(patients(3))
		assert.Equal(t, 3, list.Len())
		assert.Equal(t, 2, list.IndexOf("p2"))
		assert.Equal(t, -1, list.IndexOf("missing"))

		item, ok := list.Get("p0")
		assert.True(t, ok)
		assert.Equal(t, "Patient 0", item.Name)

		items := list.Items()
		items[0].Name = "changed"
		item, _ = list.Get("p0")
		assert.Equal(t, "Patient 0", item.Name)

		list.Reset(nil)
		assert.Equal(t, 0, list.Len())
	})
}
