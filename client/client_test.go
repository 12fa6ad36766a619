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

package client_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/yorkie-team/wardroom/api/types"
	"github.com/yorkie-team/wardroom/client"
	"github.com/yorkie-team/wardroom/pkg/optimistic"
	"github.com/yorkie-team/wardroom/pkg/realtime"
	"github.com/yorkie-team/wardroom/pkg/realtime/memory"
	"github.com/yorkie-team/wardroom/pkg/reconciler"
)

const waitTimeout = 2 * time.Second

type fakeEndpoint struct {
	mu       sync.Mutex
	requests []optimistic.Request
	err      error
	block    chan struct{}
}

func (e *fakeEndpoint) Mutate(ctx context.Context, req optimistic.Request) error {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	err, block := e.err, e.block
	e.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (e *fakeEndpoint) set(err error, block chan struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
	e.block = block
}

func (e *fakeEndpoint) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.requests)
}

type fakeStore struct{}

func (fakeStore) Heartbeat(context.Context, types.PresenceState, time.Time) error {
	return nil
}

func publish(t *testing.T, hub *memory.Hub, kind realtime.EventKind, table string, newRecord, oldRecord any) {
	t.Helper()
	event, err := realtime.NewChangeEvent(kind, table, newRecord, oldRecord)
	require.NoError(t, err)
	hub.Publish(event)
}

func TestConfig(t *testing.T) {
	t.Run("default config test", func(t *testing.T) {
		conf := client.NewConfig()
		assert.NoError(t, conf.Validate())
		assert.Equal(t, client.DefaultHeartbeatInterval.String(), conf.Presence.HeartbeatInterval)
		assert.Equal(t, uint64(client.DefaultMaxRetries), conf.Presence.MaxRetries)
		assert.Equal(t, client.DefaultCacheSize, conf.Cache.Size)
		assert.Equal(t, "critical", conf.Notifications.MinSeverity)
		assert.Equal(t, "server_wins", conf.Ledger.ConflictStrategy)
		assert.Nil(t, conf.Mongo)
	})

	t.Run("invalid config test", func(t *testing.T) {
		conf := client.NewConfig()
		conf.Notifications.MinSeverity = "urgent"
		assert.Error(t, conf.Validate())

		conf = client.NewConfig()
		conf.Presence.HeartbeatInterval = "soon"
		assert.Error(t, conf.Validate())

		conf = client.NewConfig()
		conf.Ledger.ConflictStrategy = "last_write"
		assert.Error(t, conf.Validate())

		conf = client.NewConfig()
		conf.Presence.BaseDelay = "1m"
		assert.ErrorIs(t, conf.Validate(), client.ErrInvalidDelayRange)
	})

	t.Run("fail read config file test", func(t *testing.T) {
		_, err := client.NewConfigFromFile("nowhere.yml")
		assert.Error(t, err)
	})

	t.Run("read config file test", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "wardroom.yml")
		require.NoError(t, os.WriteFile(path, []byte(`
Realtime:
  URL: ws://localhost:8090/realtime
Presence:
  HeartbeatInterval: 10s
Notifications:
  MinSeverity: high
Mongo:
  Database: wards
`), 0o600))

		conf, err := client.NewConfigFromFile(path)
		require.NoError(t, err)
		require.NoError(t, conf.Validate())

		assert.Equal(t, "ws://localhost:8090/realtime", conf.Realtime.URL)
		assert.Equal(t, "10s", conf.Presence.HeartbeatInterval)
		assert.Equal(t, client.DefaultBaseDelay.String(), conf.Presence.BaseDelay)
		assert.Equal(t, "high", conf.Notifications.MinSeverity)
		assert.Equal(t, client.DefaultMongoConnectionURI, conf.Mongo.ConnectionURI)
		assert.Equal(t, "wards", conf.Mongo.Database)
	})
}

func TestNew(t *testing.T) {
	t.Run("missing realtime test", func(t *testing.T) {
		_, err := client.New(client.NewConfig(), client.WithEndpoint(&fakeEndpoint{}))
		assert.ErrorIs(t, err, client.ErrNoRealtime)
	})

	t.Run("missing endpoint test", func(t *testing.T) {
		_, err := client.New(client.NewConfig(), client.WithService(memory.NewHub()))
		assert.ErrorIs(t, err, client.ErrNoEndpoint)
	})

	t.Run("fake clock test", func(t *testing.T) {
		cli, err := client.New(
			client.NewConfig(),
			client.WithService(memory.NewHub()),
			client.WithEndpoint(&fakeEndpoint{}),
			client.WithClock(testingclock.NewFakeClock(time.Now())),
		)
		require.NoError(t, err)
		assert.NoError(t, cli.Close(context.Background()))
	})

	t.Run("invalid config test", func(t *testing.T) {
		conf := client.NewConfig()
		conf.Cache.Size = -1
		_, err := client.New(conf, client.WithService(memory.NewHub()), client.WithEndpoint(&fakeEndpoint{}))
		assert.Error(t, err)
	})
}

func TestClient(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub()
	endpoint := &fakeEndpoint{}

	var mu sync.Mutex
	var delivered []types.Notification
	cli, err := client.New(
		client.NewConfig(),
		client.WithService(hub),
		client.WithEndpoint(endpoint),
		client.WithHeartbeatStore(fakeStore{}),
		client.WithNotificationHandler(func(n types.Notification) {
			mu.Lock()
			defer mu.Unlock()
			delivered = append(delivered, n)
		}),
	)
	require.NoError(t, err)

	state := types.PresenceState{UserID: "u1", ScopeID: "w1", Name: "Dr. Kim"}
	require.NoError(t, cli.Open(ctx, state))

	t.Run("open subscribes and joins test", func(t *testing.T) {
		assert.Eventually(t, func() bool {
			return cli.Patients().Reconciler().Status() == types.Connected &&
				cli.Notes().Reconciler().Status() == types.Connected &&
				cli.Notifications().Status() == types.Connected &&
				cli.Presence().Status() == types.Connected
		}, waitTimeout, time.Millisecond)

		assert.Eventually(t, func() bool {
			users := cli.Presence().Users()
			return len(users) == 1 && users[0].UserID == "u1"
		}, waitTimeout, time.Millisecond)

		scopeID, err := cli.Notifications().ScopeID()
		assert.NoError(t, err)
		assert.Equal(t, "u1", scopeID)
	})

	t.Run("server changes render and invalidate test", func(t *testing.T) {
		cli.Patients().Reset([]types.Patient{{ID: "p0", WorkspaceID: "w1", Name: "Lee"}})
		cached, ok := cli.Patients().Cached()
		assert.True(t, ok)
		assert.Len(t, cached, 1)

		publish(t, hub, realtime.EventInsert, reconciler.PatientsCollection,
			types.Patient{ID: "p1", WorkspaceID: "w1", Name: "Park"}, nil)
		assert.Eventually(t, func() bool {
			_, ok := cli.Patients().Get("p1")
			return ok
		}, waitTimeout, time.Millisecond)
		assert.Eventually(t, func() bool {
			_, ok := cli.Patients().Cached()
			return !ok
		}, waitTimeout, time.Millisecond)

		publish(t, hub, realtime.EventUpdate, reconciler.PatientsCollection,
			types.Patient{ID: "p1", WorkspaceID: "w1", Name: "Park", Bed: "3B"}, nil)
		assert.Eventually(t, func() bool {
			p, _ := cli.Patients().Get("p1")
			return p.Bed == "3B"
		}, waitTimeout, time.Millisecond)
		assert.Equal(t, 2, len(cli.Patients().Items()))

		publish(t, hub, realtime.EventDelete, reconciler.PatientsCollection,
			nil, types.Patient{ID: "p0", WorkspaceID: "w1"})
		assert.Eventually(t, func() bool {
			_, ok := cli.Patients().Get("p0")
			return !ok
		}, waitTimeout, time.Millisecond)

		publish(t, hub, realtime.EventInsert, reconciler.PatientsCollection,
			types.Patient{ID: "p9", WorkspaceID: "w2", Name: "Elsewhere"}, nil)
		time.Sleep(50 * time.Millisecond)
		_, ok = cli.Patients().Get("p9")
		assert.False(t, ok)
	})

	t.Run("optimistic writes test", func(t *testing.T) {
		note := types.Note{ID: "n1", WorkspaceID: "w1", PatientID: "p1", Body: "stable"}
		assert.NoError(t, cli.Notes().Insert(ctx, note))
		rendered, ok := cli.Notes().Get("n1")
		assert.True(t, ok)
		assert.Equal(t, "stable", rendered.Body)

		pending := cli.Notes().Pending()
		require.Len(t, pending, 1)
		assert.Equal(t, optimistic.StatusSynced, pending[0].Status)

		endpoint.set(errors.New("rejected"), nil)
		defer endpoint.set(nil, nil)

		note.Body = "unstable"
		assert.Error(t, cli.Notes().Update(ctx, note))
		rendered, _ = cli.Notes().Get("n1")
		assert.Equal(t, "stable", rendered.Body)

		update, ok := cli.Notes().Ledger().GetUpdate("n1")
		assert.True(t, ok)
		assert.Equal(t, optimistic.StatusError, update.Status)
		assert.Equal(t, 2, endpoint.count())
	})

	t.Run("conflicting server update test", func(t *testing.T) {
		block := make(chan struct{})
		endpoint.set(nil, block)
		defer endpoint.set(nil, nil)

		done := make(chan error, 1)
		go func() {
			done <- cli.Patients().Update(ctx, types.Patient{ID: "p1", WorkspaceID: "w1", Name: "Park", Bed: "4C"})
		}()
		assert.Eventually(t, func() bool {
			u, ok := cli.Patients().Ledger().GetUpdate("p1")
			return ok && u.Status == optimistic.StatusSyncing
		}, waitTimeout, time.Millisecond)

		publish(t, hub, realtime.EventUpdate, reconciler.PatientsCollection,
			types.Patient{ID: "p1", WorkspaceID: "w1", Name: "Park", Bed: "ICU-1"}, nil)
		assert.Eventually(t, func() bool {
			u, _ := cli.Patients().Ledger().GetUpdate("p1")
			return u.Status == optimistic.StatusConflict
		}, waitTimeout, time.Millisecond)

		p, _ := cli.Patients().Get("p1")
		assert.Equal(t, "ICU-1", p.Bed)

		close(block)
		assert.NoError(t, <-done)
		u, _ := cli.Patients().Ledger().GetUpdate("p1")
		assert.Equal(t, optimistic.StatusSynced, u.Status)
	})

	t.Run("failed write after a conflict keeps the server version test", func(t *testing.T) {
		cli.Patients().Reset([]types.Patient{{ID: "p1", WorkspaceID: "w1", Name: "Park", Bed: "3B"}})

		block := make(chan struct{})
		endpoint.set(errors.New("rejected"), block)
		defer endpoint.set(nil, nil)

		done := make(chan error, 1)
		go func() {
			done <- cli.Patients().Update(ctx, types.Patient{ID: "p1", WorkspaceID: "w1", Name: "Park", Bed: "4C"})
		}()
		assert.Eventually(t, func() bool {
			u, ok := cli.Patients().Ledger().GetUpdate("p1")
			return ok && u.Status == optimistic.StatusSyncing
		}, waitTimeout, time.Millisecond)

		publish(t, hub, realtime.EventUpdate, reconciler.PatientsCollection,
			types.Patient{ID: "p1", WorkspaceID: "w1", Name: "Park", Bed: "ICU-2"}, nil)
		assert.Eventually(t, func() bool {
			p, _ := cli.Patients().Get("p1")
			return p.Bed == "ICU-2"
		}, waitTimeout, time.Millisecond)

		close(block)
		assert.Error(t, <-done)

		p, ok := cli.Patients().Get("p1")
		assert.True(t, ok)
		assert.Equal(t, "ICU-2", p.Bed)

		u, _ := cli.Patients().Ledger().GetUpdate("p1")
		assert.Equal(t, optimistic.StatusError, u.Status)
		_, cached := cli.Patients().Cached()
		assert.False(t, cached)
	})

	t.Run("urgent notifications test", func(t *testing.T) {
		publish(t, hub, realtime.EventInsert, reconciler.NotificationsCollection,
			types.Notification{ID: "x1", UserID: "u1", Severity: types.SeverityLow, Title: "lunch"}, nil)
		publish(t, hub, realtime.EventInsert, reconciler.NotificationsCollection,
			types.Notification{ID: "x2", UserID: "u2", Severity: types.SeverityCritical, Title: "not mine"}, nil)
		publish(t, hub, realtime.EventInsert, reconciler.NotificationsCollection,
			types.Notification{ID: "x3", UserID: "u1", Severity: types.SeverityCritical, Title: "code blue"}, nil)

		assert.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(delivered) == 1
		}, waitTimeout, time.Millisecond)

		mu.Lock()
		assert.Equal(t, "x3", delivered[0].ID)
		mu.Unlock()
	})

	t.Run("close test", func(t *testing.T) {
		require.NoError(t, cli.Close(ctx))
		assert.Equal(t, types.Disconnected, cli.Patients().Reconciler().Status())
		assert.Equal(t, types.Disconnected, cli.Notifications().Status())
		assert.Equal(t, types.Disconnected, cli.Presence().Status())
		assert.Empty(t, cli.Patients().Pending())
		assert.Empty(t, hub.PresenceState(realtime.PresenceTopic("w1")))

		assert.NoError(t, cli.Close(ctx))
		assert.ErrorIs(t, cli.Open(ctx, state), client.ErrClientClosed)
	})
}

func TestOpenFailure(t *testing.T) {
	ctx := context.Background()
	hub := memory.NewHub()
	cli, err := client.New(
		client.NewConfig(),
		client.WithService(hub),
		client.WithEndpoint(&fakeEndpoint{}),
		client.WithHeartbeatStore(fakeStore{}),
	)
	require.NoError(t, err)
	defer func() { assert.NoError(t, cli.Close(ctx)) }()

	t.Run("failed open releases subscribed channels test", func(t *testing.T) {
		// Without a user the notification stream and the presence join fail.
		err := cli.Open(ctx, types.PresenceState{ScopeID: "w1"})
		assert.Error(t, err)

		assert.Equal(t, types.Disconnected, cli.Patients().Reconciler().Status())
		assert.Equal(t, types.Disconnected, cli.Notes().Reconciler().Status())
		assert.Equal(t, 0, hub.Channels(realtime.Topic(reconciler.PatientsCollection, "w1")))
		assert.Equal(t, 0, hub.Channels(realtime.Topic(reconciler.NotesCollection, "w1")))

		_, err = cli.Patients().Reconciler().ScopeID()
		assert.ErrorIs(t, err, reconciler.ErrNotSubscribed)
	})

	t.Run("open after a failed open test", func(t *testing.T) {
		require.NoError(t, cli.Open(ctx, types.PresenceState{UserID: "u1", ScopeID: "w1"}))
		assert.Eventually(t, func() bool {
			return cli.Patients().Reconciler().Status() == types.Connected &&
				cli.Presence().Status() == types.Connected
		}, waitTimeout, time.Millisecond)
		assert.Equal(t, 1, hub.Channels(realtime.Topic(reconciler.PatientsCollection, "w1")))
	})
}
