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

package client

import (
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/yorkie-team/wardroom/api/types"
	"github.com/yorkie-team/wardroom/pkg/optimistic"
	"github.com/yorkie-team/wardroom/pkg/presence"
	"github.com/yorkie-team/wardroom/pkg/profiling/prometheus"
	"github.com/yorkie-team/wardroom/pkg/realtime"
)

// Option configures Options.
type Option func(*Options)

// Options configures how we set up the client.
type Options struct {
	// Service is the realtime service. If nil, a websocket service is
	// dialed at Realtime.URL.
	Service realtime.Service

	// Endpoint receives mutations. If nil, the record API at API.BaseURL
	// is used.
	Endpoint optimistic.MutationEndpoint

	// HeartbeatStore receives durable heartbeats. If nil, the Mongo store
	// is used when configured, then the record API.
	HeartbeatStore presence.HeartbeatStore

	// Clock drives every timer of the client.
	Clock clock.WithTickerAndDelayedExecution

	// Metrics records the activity of the client.
	Metrics *prometheus.Metrics

	// OnNotification receives urgent notifications.
	OnNotification func(types.Notification)

	// Logger is the Logger of the client.
	Logger *zap.SugaredLogger
}

// WithService configures the realtime service of the client.
func WithService(service realtime.Service) Option {
	return func(o *Options) { o.Service = service }
}

// WithEndpoint configures the mutation endpoint of the client.
func WithEndpoint(endpoint optimistic.MutationEndpoint) Option {
	return func(o *Options) { o.Endpoint = endpoint }
}

// WithHeartbeatStore configures the durable heartbeat store of the client.
func WithHeartbeatStore(store presence.HeartbeatStore) Option {
	return func(o *Options) { o.HeartbeatStore = store }
}

// WithClock configures the clock of the client.
func WithClock(clk clock.WithTickerAndDelayedExecution) Option {
	return func(o *Options) { o.Clock = clk }
}

// WithMetrics configures the metrics of the client.
func WithMetrics(metrics *prometheus.Metrics) Option {
	return func(o *Options) { o.Metrics = metrics }
}

// WithNotificationHandler configures the receiver of urgent notifications.
func WithNotificationHandler(handler func(types.Notification)) Option {
	return func(o *Options) { o.OnNotification = handler }
}

// WithLogger configures the Logger of the client.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(o *Options) { o.Logger = logger }
}
