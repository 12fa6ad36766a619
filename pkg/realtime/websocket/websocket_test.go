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

package websocket_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yorkie-team/wardroom/api/types"
	"github.com/yorkie-team/wardroom/pkg/logging"
	"github.com/yorkie-team/wardroom/pkg/realtime"
	"github.com/yorkie-team/wardroom/pkg/realtime/memory"
	"github.com/yorkie-team/wardroom/pkg/realtime/websocket"
)

const waitTimeout = 2 * time.Second

func receive[E any](t *testing.T, events <-chan E) E {
	t.Helper()
	select {
	case event, ok := <-events:
		require.True(t, ok, "stream closed")
		return event
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for event")
	}
	var zero E
	return zero
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func newRelay(t *testing.T) (*memory.Hub, *websocket.Handler, *httptest.Server) {
	hub := memory.NewHub(memory.WithLogger(logging.Nop()))
	handler := websocket.NewHandler(hub, websocket.WithHandlerLogger(logging.Nop()))
	server := httptest.NewServer(handler)
	t.Cleanup(func() {
		handler.Disconnect()
		server.Close()
	})
	return hub, handler, server
}

func TestWebsocket(t *testing.T) {
	ctx := context.Background()
	topic := realtime.Topic("patients", "w1")

	t.Run("subscribe and receive changes test", func(t *testing.T) {
		hub, _, server := newRelay(t)
		svc, err := websocket.Dial(ctx, wsURL(server), websocket.WithLogger(logging.Nop()))
		require.NoError(t, err)
		defer func() { assert.NoError(t, svc.Close()) }()

		ch := svc.Channel(topic)
		ch.On(realtime.Binding{
			Event:  realtime.EventAll,
			Table:  "patients",
			Filter: realtime.Eq("workspace_id", "w1"),
		})
		require.NoError(t, ch.Subscribe(ctx))
		assert.Equal(t, realtime.StatusSubscribed, receive(t, ch.Statuses()))
		assert.Equal(t, realtime.PresenceSync, receive(t, ch.Presence()).Kind)

		event, err := realtime.NewChangeEvent(realtime.EventInsert, "patients",
			types.Patient{ID: "p1", WorkspaceID: "w1", Name: "Test"}, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, hub.Publish(event))

		received := receive(t, ch.Changes())
		patient, err := realtime.Decode[types.Patient](received.New)
		require.NoError(t, err)
		assert.Equal(t, "Test", patient.Name)

		// events published by a client go through the relay as well
		other, err := realtime.NewChangeEvent(realtime.EventDelete, "patients",
			nil, types.Patient{ID: "p1", WorkspaceID: "w1"})
		require.NoError(t, err)
		require.NoError(t, svc.Publish(ctx, other))
		assert.Equal(t, realtime.EventDelete, receive(t, ch.Changes()).Kind)

		require.NoError(t, svc.RemoveChannel(ctx, ch))
		assert.Equal(t, realtime.StatusClosed, receive(t, ch.Statuses()))
		assert.Eventually(t, func() bool {
			return hub.Channels(topic) == 0
		}, waitTimeout, 10*time.Millisecond)
	})

	t.Run("presence test", func(t *testing.T) {
		hub, _, server := newRelay(t)
		presenceTopic := realtime.PresenceTopic("w1")
		svc := websocket.New(wsURL(server), websocket.WithLogger(logging.Nop()))
		defer func() { assert.NoError(t, svc.Close()) }()

		observer := hub.NewChannel(presenceTopic)
		require.NoError(t, observer.Subscribe(ctx))
		receive(t, observer.Statuses())
		receive(t, observer.Presence())

		ch := svc.Channel(presenceTopic, realtime.WithPresenceKey("u1"))
		require.NoError(t, ch.Subscribe(ctx))
		assert.Equal(t, realtime.StatusSubscribed, receive(t, ch.Statuses()))
		receive(t, ch.Presence())

		state := types.PresenceState{UserID: "u1", ScopeID: "w1", Status: types.PresenceOnline}
		require.NoError(t, ch.Track(ctx, state))

		join := receive(t, observer.Presence())
		assert.Equal(t, realtime.PresenceJoin, join.Kind)
		assert.Equal(t, "u1", join.Key)

		assert.Equal(t, realtime.PresenceJoin, receive(t, ch.Presence()).Kind)
		sync := receive(t, ch.Presence())
		assert.Equal(t, realtime.PresenceSync, sync.Kind)
		assert.Equal(t, "u1", ch.PresenceState()["u1"][0].UserID)

		require.NoError(t, ch.Untrack(ctx))
		assert.Equal(t, realtime.PresenceSync, receive(t, observer.Presence()).Kind)
		assert.Equal(t, realtime.PresenceLeave, receive(t, observer.Presence()).Kind)
	})

	t.Run("connection loss reports channel error and redials test", func(t *testing.T) {
		_, handler, server := newRelay(t)
		svc := websocket.New(wsURL(server), websocket.WithLogger(logging.Nop()))
		defer func() { assert.NoError(t, svc.Close()) }()

		ch := svc.Channel(topic)
		require.NoError(t, ch.Subscribe(ctx))
		assert.Equal(t, realtime.StatusSubscribed, receive(t, ch.Statuses()))

		assert.Equal(t, 1, handler.Disconnect())
		assert.Equal(t, realtime.StatusChannelError, receive(t, ch.Statuses()))

		require.NoError(t, ch.Subscribe(ctx))
		assert.Equal(t, realtime.StatusSubscribed, receive(t, ch.Statuses()))
	})

	t.Run("unanswered subscribe times out test", func(t *testing.T) {
		upgrader := gorilla.Upgrader{}
		silent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer func() { _ = conn.Close() }()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}))
		defer silent.Close()

		svc := websocket.New(
			wsURL(silent),
			websocket.WithTimeout(50*time.Millisecond),
			websocket.WithLogger(logging.Nop()),
		)
		defer func() { assert.NoError(t, svc.Close()) }()

		ch := svc.Channel(topic)
		require.NoError(t, ch.Subscribe(ctx))
		assert.Equal(t, realtime.StatusTimedOut, receive(t, ch.Statuses()))
	})

	t.Run("unreachable relay reports channel error test", func(t *testing.T) {
		svc := websocket.New("ws://127.0.0.1:1", websocket.WithLogger(logging.Nop()))
		defer func() { assert.NoError(t, svc.Close()) }()

		ch := svc.Channel(topic)
		require.NoError(t, ch.Subscribe(ctx))
		assert.Equal(t, realtime.StatusChannelError, receive(t, ch.Statuses()))
		assert.ErrorIs(t, ch.Track(ctx, types.PresenceState{UserID: "u1"}), realtime.ErrChannelError)
	})
}
