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

package httpapi_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yorkie-team/wardroom/api/types"
	"github.com/yorkie-team/wardroom/pkg/errors"
	"github.com/yorkie-team/wardroom/pkg/httpapi"
	"github.com/yorkie-team/wardroom/pkg/logging"
	"github.com/yorkie-team/wardroom/pkg/optimistic"
)

type recorded struct {
	Method  string
	Path    string
	Body    []byte
	Headers http.Header
}

// newAPI starts a server that answers with the given statuses in turn,
// repeating the last one.
func newAPI(t *testing.T, body string, statuses ...int) (*httptest.Server, func() []recorded) {
	var mu sync.Mutex
	var requests []recorded
	var calls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(r.Body)
		assert.NoError(t, err)

		mu.Lock()
		requests = append(requests, recorded{
			Method:  r.Method,
			Path:    r.URL.Path,
			Body:    payload,
			Headers: r.Header.Clone(),
		})
		mu.Unlock()

		n := int(atomic.AddInt32(&calls, 1)) - 1
		if n >= len(statuses) {
			n = len(statuses) - 1
		}
		w.WriteHeader(statuses[n])
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	return server, func() []recorded {
		mu.Lock()
		defer mu.Unlock()
		return append([]recorded(nil), requests...)
	}
}

func newClient(t *testing.T, url string, opts ...httpapi.Option) *httpapi.Client {
	opts = append([]httpapi.Option{
		httpapi.WithLogger(logging.Nop()),
		httpapi.WithRetry(3, 10*time.Millisecond),
	}, opts...)
	client, err := httpapi.New(url, opts...)
	require.NoError(t, err)
	return client
}

func TestMutate(t *testing.T) {
	ctx := context.Background()
	patient := types.Patient{ID: "p1", WorkspaceID: "w1", Name: "Test"}

	t.Run("successful mutation test", func(t *testing.T) {
		server, requests := newAPI(t, "", http.StatusCreated)
		client := newClient(t, server.URL, httpapi.WithToken("secret"))

		require.NoError(t, client.Mutate(ctx, optimistic.Request{
			Method: http.MethodPost,
			Path:   "/patients",
			Body:   patient,
		}))

		reqs := requests()
		require.Len(t, reqs, 1)
		assert.Equal(t, http.MethodPost, reqs[0].Method)
		assert.Equal(t, "/patients", reqs[0].Path)
		assert.Equal(t, "Bearer secret", reqs[0].Headers.Get("Authorization"))
		assert.Equal(t, "application/json", reqs[0].Headers.Get("Content-Type"))
		assert.NotEmpty(t, reqs[0].Headers.Get("X-Request-ID"))

		var sent types.Patient
		require.NoError(t, gojson.Unmarshal(reqs[0].Body, &sent))
		assert.Equal(t, patient, sent)
	})

	t.Run("rejected mutation test", func(t *testing.T) {
		server, requests := newAPI(t, `{"message":"stale version"}`, http.StatusConflict)
		client := newClient(t, server.URL)

		err := client.Mutate(ctx, optimistic.Request{Method: http.MethodPatch, Path: "/patients/p1", Body: patient})
		assert.ErrorIs(t, err, httpapi.ErrMutationRejected)
		assert.Equal(t, errors.ErrCodeFailedPrecondition, errors.StatusOf(err))
		assert.False(t, errors.IsRetryable(err))
		assert.Equal(t, map[string]string{"status": "409", "reason": "stale version"}, errors.Metadata(err))
		assert.Len(t, requests(), 1)
	})

	t.Run("server failure is not retried test", func(t *testing.T) {
		server, requests := newAPI(t, "boom", http.StatusInternalServerError)
		client := newClient(t, server.URL)

		err := client.Mutate(ctx, optimistic.Request{Method: http.MethodDelete, Path: "/patients/p1"})
		assert.ErrorIs(t, err, httpapi.ErrMutationFailed)
		assert.Equal(t, "boom", errors.Metadata(err)["reason"])
		reqs := requests()
		require.Len(t, reqs, 1)
		assert.Empty(t, reqs[0].Body)
		assert.Empty(t, reqs[0].Headers.Get("Content-Type"))
	})

	t.Run("unreachable api test", func(t *testing.T) {
		server, _ := newAPI(t, "", http.StatusOK)
		url := server.URL
		server.Close()

		client := newClient(t, url)
		err := client.Mutate(ctx, optimistic.Request{Method: http.MethodPost, Path: "/patients", Body: patient})
		assert.ErrorIs(t, err, httpapi.ErrUnavailable)
		assert.True(t, errors.IsRetryable(err))
	})

	t.Run("invalid base url test", func(t *testing.T) {
		_, err := httpapi.New("ftp://example.com")
		assert.Error(t, err)
		_, err = httpapi.New("://")
		assert.Error(t, err)
	})
}

func TestMutatorOverHTTP(t *testing.T) {
	ctx := context.Background()
	server, _ := newAPI(t, `{"error":"forbidden"}`, http.StatusForbidden)
	client := newClient(t, server.URL)

	ledger := optimistic.NewLedger[types.Patient](optimistic.WithLogger(logging.Nop()))
	list := optimistic.NewList([]types.Patient{{ID: "p1", WorkspaceID: "w1", Name: "Before"}})
	mutator := optimistic.NewMutator("patients", ledger, list, client,
		optimistic.WithMutatorLogger(logging.Nop()),
	)

	err := mutator.Update(ctx, types.Patient{ID: "p1", WorkspaceID: "w1", Name: "After"})
	assert.ErrorIs(t, err, httpapi.ErrMutationRejected)

	p, ok := list.Get("p1")
	require.True(t, ok)
	assert.Equal(t, "Before", p.Name)

	pending, ok := ledger.GetUpdate("p1")
	require.True(t, ok)
	assert.Equal(t, optimistic.StatusError, pending.Status)
}

func TestHeartbeat(t *testing.T) {
	ctx := context.Background()
	state := types.PresenceState{UserID: "alice", ScopeID: "w1", Status: types.PresenceOnline}
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("retries server errors test", func(t *testing.T) {
		server, requests := newAPI(t, "", http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusNoContent)
		client := newClient(t, server.URL)

		require.NoError(t, client.Heartbeat(ctx, state, at))

		reqs := requests()
		require.Len(t, reqs, 3)
		assert.Equal(t, httpapi.HeartbeatPath, reqs[2].Path)

		var sent map[string]any
		require.NoError(t, gojson.Unmarshal(reqs[2].Body, &sent))
		assert.Equal(t, "alice", sent["user_id"])
		assert.Equal(t, "w1", sent["scope_id"])
		assert.Equal(t, "2025-01-02T03:04:05Z", sent["last_seen_at"])
	})

	t.Run("gives up after max retries test", func(t *testing.T) {
		server, requests := newAPI(t, "", http.StatusInternalServerError)
		client := newClient(t, server.URL)

		err := client.Heartbeat(ctx, state, at)
		assert.ErrorIs(t, err, httpapi.ErrUnexpectedStatusCode)
		assert.Len(t, requests(), 4)
	})

	t.Run("client errors are not retried test", func(t *testing.T) {
		server, requests := newAPI(t, "", http.StatusBadRequest)
		client := newClient(t, server.URL)

		err := client.Heartbeat(ctx, state, at)
		assert.ErrorIs(t, err, httpapi.ErrUnexpectedStatusCode)
		assert.Len(t, requests(), 1)
	})

	t.Run("canceled context test", func(t *testing.T) {
		server, _ := newAPI(t, "", http.StatusServiceUnavailable)
		client := newClient(t, server.URL, httpapi.WithRetry(100, time.Second))

		ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		assert.Error(t, client.Heartbeat(ctx, state, at))
	})
}
