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

package mongo_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/xid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yorkie-team/wardroom/api/types"
	"github.com/yorkie-team/wardroom/pkg/heartbeat/mongo"
)

func TestConfig(t *testing.T) {
	t.Run("validate test", func(t *testing.T) {
		// 1. success
		config := &mongo.Config{ConnectionURI: "mongodb://localhost:27017"}
		config.EnsureDefaultValue()
		assert.NoError(t, config.Validate())
		assert.Equal(t, 5*time.Second, config.ParseConnectionTimeout())
		assert.Equal(t, mongo.DefaultDatabase, config.Database)

		// 2. invalid connection timeout
		config.ConnectionTimeout = "5"
		assert.Error(t, config.Validate())

		// 3. invalid ping timeout
		config.ConnectionTimeout = "5s"
		config.PingTimeout = "5"
		assert.Error(t, config.Validate())

		// 4. missing uri
		config.PingTimeout = "5s"
		config.ConnectionURI = ""
		assert.Error(t, config.Validate())
	})
}

func setupStore(t *testing.T) *mongo.Store {
	uri := os.Getenv("WARDROOM_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("WARDROOM_TEST_MONGO_URI is not set")
	}

	config := &mongo.Config{
		ConnectionURI: uri,
		Database:      "wardroom-test-" + xid.New().String(),
	}
	config.EnsureDefaultValue()
	require.NoError(t, config.Validate())

	store, err := mongo.Dial(config)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, store.Close())
	})
	return store
}

func TestStore(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	scope := xid.New().String()
	start := time.Now().UTC().Truncate(time.Millisecond)

	state := types.PresenceState{
		UserID:   "alice",
		ScopeID:  scope,
		Status:   types.PresenceOnline,
		OnlineAt: start,
		Name:     "Alice",
	}

	t.Run("heartbeat upsert test", func(t *testing.T) {
		require.NoError(t, store.Heartbeat(ctx, state, start))

		state.ViewingEntityID = "p1"
		require.NoError(t, store.Heartbeat(ctx, state, start.Add(30*time.Second)))

		hb, err := store.LastSeen(ctx, scope, "alice")
		require.NoError(t, err)
		assert.Equal(t, "p1", hb.ViewingEntityID)
		assert.True(t, start.Add(30*time.Second).Equal(hb.LastSeenAt))
		assert.True(t, start.Equal(hb.OnlineAt))
	})

	t.Run("unknown participant test", func(t *testing.T) {
		_, err := store.LastSeen(ctx, scope, "nobody")
		assert.ErrorIs(t, err, mongo.ErrHeartbeatNotFound)
	})

	t.Run("seen since test", func(t *testing.T) {
		bob := state
		bob.UserID = "bob"
		require.NoError(t, store.Heartbeat(ctx, bob, start.Add(time.Minute)))

		seen, err := store.SeenSince(ctx, scope, start.Add(10*time.Second))
		require.NoError(t, err)
		require.Len(t, seen, 2)
		assert.Equal(t, "bob", seen[0].UserID)
		assert.Equal(t, "alice", seen[1].UserID)

		require.NoError(t, store.DropScope(ctx, scope))
		seen, err = store.SeenSince(ctx, scope, start)
		require.NoError(t, err)
		assert.Empty(t, seen)
	})
}
