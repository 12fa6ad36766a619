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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/yorkie-team/wardroom/api/types"
	"github.com/yorkie-team/wardroom/pkg/conflict"
	"github.com/yorkie-team/wardroom/pkg/logging"
	"github.com/yorkie-team/wardroom/pkg/optimistic"
)

func newLedger(clk *testingclock.FakeClock) *optimistic.Ledger[types.Patient] {
	return optimistic.NewLedger[types.Patient](
		optimistic.WithClock(clk),
		optimistic.WithLogger(logging.Nop()),
	)
}

func TestLedger(t *testing.T) {
	t.Run("add update test", func(t *testing.T) {
		clk := testingclock.NewFakeClock(time.Now())
		ledger := newLedger(clk)

		p1 := types.Patient{ID: "p1", Name: "Test"}
		update := ledger.AddUpdate("p1", optimistic.Insert, p1)
		assert.Equal(t, optimistic.StatusSyncing, update.Status)
		assert.Equal(t, clk.Now(), update.Timestamp)
		assert.Equal(t, -1, update.Index)
		assert.False(t, update.HasPrevious())

		stored, ok := ledger.GetUpdate("p1")
		assert.True(t, ok)
		assert.Equal(t, update, stored)

		_, ok = ledger.GetUpdate("p2")
		assert.False(t, ok)
	})

	t.Run("second update supersedes the first test", func(t *testing.T) {
		clk := testingclock.NewFakeClock(time.Now())
		ledger := newLedger(clk)

		ledger.AddUpdate("p1", optimistic.Insert, types.Patient{ID: "p1", Name: "First"})
		clk.Step(time.Millisecond)
		ledger.AddUpdate("p1", optimistic.Update, types.Patient{ID: "p1", Name: "Second"})

		updates := ledger.GetPendingUpdates()
		assert.Len(t, updates, 1)
		assert.Equal(t, optimistic.Update, updates[0].Type)
		assert.Equal(t, "Second", updates[0].Entity.Name)
	})

	t.Run("synced entry is evicted after grace period test", func(t *testing.T) {
		clk := testingclock.NewFakeClock(time.Now())
		ledger := newLedger(clk)

		ledger.AddUpdate("p1", optimistic.Insert, types.Patient{ID: "p1", Name: "Test"})
		assert.True(t, ledger.MarkSynced("p1"))

		update, ok := ledger.GetUpdate("p1")
		assert.True(t, ok)
		assert.Equal(t, optimistic.StatusSynced, update.Status)

		clk.Step(optimistic.DefaultGracePeriod - time.Millisecond)
		assert.Len(t, ledger.GetPendingUpdates(), 1)

		clk.Step(time.Millisecond)
		assert.Empty(t, ledger.GetPendingUpdates())
		assert.Equal(t, 0, ledger.Len())
	})

	t.Run("eviction skips a newer entry for the same id test", func(t *testing.T) {
		clk := testingclock.NewFakeClock(time.Now())
		ledger := newLedger(clk)

		ledger.AddUpdate("p1", optimistic.Insert, types.Patient{ID: "p1"})
		ledger.MarkSynced("p1")
		clk.Step(time.Second)
		ledger.AddUpdate("p1", optimistic.Update, types.Patient{ID: "p1", Name: "Renamed"})

		clk.Step(optimistic.DefaultGracePeriod)
		update, ok := ledger.GetUpdate("p1")
		assert.True(t, ok)
		assert.Equal(t, optimistic.StatusSyncing, update.Status)
		assert.Equal(t, "Renamed", update.Entity.Name)
	})

	t.Run("status never returns to syncing test", func(t *testing.T) {
		for _, status := range []optimistic.Status{
			optimistic.StatusSyncing,
			optimistic.StatusSynced,
			optimistic.StatusError,
			optimistic.StatusConflict,
		} {
			assert.False(t, status.CanTransitionTo(optimistic.StatusSyncing))
		}

		clk := testingclock.NewFakeClock(time.Now())
		ledger := newLedger(clk)
		errRejected := errors.New("rejected")

		ledger.AddUpdate("p1", optimistic.Insert, types.Patient{ID: "p1"})
		assert.True(t, ledger.MarkError("p1", errRejected))
		assert.False(t, ledger.MarkSynced("p1"))
		assert.False(t, ledger.MarkConflict("p1"))

		update, _ := ledger.GetUpdate("p1")
		assert.Equal(t, optimistic.StatusError, update.Status)
		assert.ErrorIs(t, update.Err, errRejected)

		// error entries are not evicted automatically
		clk.Step(time.Minute)
		assert.Equal(t, 1, ledger.Len())

		ledger.AddUpdate("p2", optimistic.Update, types.Patient{ID: "p2"})
		assert.True(t, ledger.MarkConflict("p2"))
		assert.True(t, ledger.MarkSynced("p2"))
		assert.False(t, ledger.MarkError("p2", errRejected))
		update, _ = ledger.GetUpdate("p2")
		assert.Equal(t, optimistic.StatusSynced, update.Status)
		assert.NoError(t, update.Err)
	})

	t.Run("missing entries test", func(t *testing.T) {
		ledger := newLedger(testingclock.NewFakeClock(time.Now()))
		assert.False(t, ledger.MarkSynced("missing"))
		assert.False(t, ledger.MarkError("missing", errors.New("x")))
		assert.False(t, ledger.MarkConflict("missing"))
	})

	t.Run("pending updates are ordered by time test", func(t *testing.T) {
		clk := testingclock.NewFakeClock(time.Now())
		ledger := newLedger(clk)

		for _, id := range []string{"c", "a", "b"} {
			ledger.AddUpdate(id, optimistic.Insert, types.Patient{ID: id})
			clk.Step(time.Millisecond)
		}

		var ids []string
		for _, update := range ledger.GetPendingUpdates() {
			ids = append(ids, update.ID)
		}
		assert.Equal(t, []string{"c", "a", "b"}, ids)
	})

	t.Run("remove and clear test", func(t *testing.T) {
		clk := testingclock.NewFakeClock(time.Now())
		ledger := newLedger(clk)

		ledger.AddUpdate("p1", optimistic.Insert, types.Patient{ID: "p1"})
		ledger.AddUpdate("p2", optimistic.Insert, types.Patient{ID: "p2"})
		ledger.MarkSynced("p2")

		ledger.Remove("p1")
		assert.Equal(t, 1, ledger.Len())

		ledger.Clear()
		assert.Equal(t, 0, ledger.Len())

		// the scheduled eviction of p2 finds nothing to remove
		clk.Step(optimistic.DefaultGracePeriod)
		assert.Equal(t, 0, ledger.Len())
	})
}

func TestLedgerConflictHandlers(t *testing.T) {
	t.Run("trigger conflict test", func(t *testing.T) {
		ledger := newLedger(testingclock.NewFakeClock(time.Now()))

		var received []conflict.Conflict[types.Patient]
		ledger.OnConflict(func(c conflict.Conflict[types.Patient]) {
			panic("broken handler")
		})
		unregister := ledger.OnConflict(func(c conflict.Conflict[types.Patient]) {
			received = append(received, c)
		})

		c := conflict.Conflict[types.Patient]{
			ID:            "p1",
			ServerVersion: types.Patient{ID: "p1", Name: "Server"},
			ClientVersion: types.Patient{ID: "p1", Name: "Client"},
			Strategy:      conflict.ServerWins,
		}
		assert.NotPanics(t, func() { ledger.TriggerConflict(c) })
		assert.Equal(t, []conflict.Conflict[types.Patient]{c}, received)

		unregister()
		ledger.TriggerConflict(c)
		assert.Len(t, received, 1)
	})
}
