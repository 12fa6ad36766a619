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

// Package client wires the realtime core of Wardroom into a single Client:
// the change stream reconcilers, the optimistic ledgers, the query cache
// and the presence tracker of one workspace session.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/yorkie-team/wardroom/api/types"
	"github.com/yorkie-team/wardroom/pkg/cache"
	"github.com/yorkie-team/wardroom/pkg/conflict"
	"github.com/yorkie-team/wardroom/pkg/errors"
	"github.com/yorkie-team/wardroom/pkg/heartbeat/mongo"
	"github.com/yorkie-team/wardroom/pkg/httpapi"
	"github.com/yorkie-team/wardroom/pkg/limit"
	"github.com/yorkie-team/wardroom/pkg/logging"
	"github.com/yorkie-team/wardroom/pkg/optimistic"
	"github.com/yorkie-team/wardroom/pkg/presence"
	"github.com/yorkie-team/wardroom/pkg/profiling/prometheus"
	"github.com/yorkie-team/wardroom/pkg/realtime"
	"github.com/yorkie-team/wardroom/pkg/realtime/websocket"
	"github.com/yorkie-team/wardroom/pkg/reconciler"
)

const (
	coalesceExpireInterval = 50 * time.Millisecond
	coalesceWindow         = 250 * time.Millisecond
	coalesceTTL            = 250 * time.Millisecond
)

var (
	// ErrClientClosed occurs when the client is used after Close.
	ErrClientClosed = errors.FailedPrecond("client closed").WithCode("ErrClientClosed")

	// ErrNoRealtime occurs when neither a service nor a relay URL is given.
	ErrNoRealtime = errors.InvalidArgument("no realtime service or relay url").WithCode("ErrNoRealtime")

	// ErrNoEndpoint occurs when neither an endpoint nor an API URL is given.
	ErrNoEndpoint = errors.InvalidArgument("no mutation endpoint or api url").WithCode("ErrNoEndpoint")
)

// Client is a workspace session of Wardroom.
type Client struct {
	conf    *Config
	clock   clock.WithTickerAndDelayedExecution
	logger  *zap.SugaredLogger
	metrics *prometheus.Metrics

	service   realtime.Service
	closers   []func() error
	cache     *cache.QueryCache
	reporter  *cache.Reporter
	coalescer *limit.Limiter[string]

	patients      *Collection[types.Patient]
	notes         *Collection[types.Note]
	notifications *reconciler.Reconciler[types.Notification]
	sink          *reconciler.NotificationSink
	tracker       *presence.Tracker

	mu           sync.Mutex
	closed       bool
	stopReporter context.CancelFunc
}

// New creates a Client from conf. Nothing is subscribed until Open.
func New(conf *Config, opts ...Option) (*Client, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	options := Options{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.Clock == nil {
		options.Clock = clock.RealClock{}
	}
	if options.Logger == nil {
		options.Logger = logging.New("client")
	}

	c := &Client{
		conf:    conf,
		clock:   options.Clock,
		logger:  options.Logger,
		metrics: options.Metrics,
	}

	if err := c.init(options); err != nil {
		if closeErr := c.closeResources(); closeErr != nil {
			c.logger.Warnw("close partially created client", "error", closeErr)
		}
		return nil, err
	}
	return c, nil
}

func (c *Client) init(options Options) error {
	if c.metrics == nil {
		metrics, err := prometheus.NewMetrics()
		if err != nil {
			return err
		}
		c.metrics = metrics
	}

	c.service = options.Service
	if c.service == nil {
		if c.conf.Realtime.URL == "" {
			return ErrNoRealtime
		}
		svc := websocket.New(
			c.conf.Realtime.URL,
			websocket.WithTimeout(duration(c.conf.Realtime.SubscribeTimeout)),
		)
		c.service = svc
		c.closers = append(c.closers, svc.Close)
	}

	endpoint := options.Endpoint
	var api *httpapi.Client
	if endpoint == nil {
		if c.conf.API.BaseURL == "" {
			return ErrNoEndpoint
		}
		var err error
		api, err = httpapi.New(
			c.conf.API.BaseURL,
			httpapi.WithTimeout(duration(c.conf.API.Timeout)),
			httpapi.WithToken(c.conf.API.Token),
		)
		if err != nil {
			return err
		}
		endpoint = api
	}

	store := options.HeartbeatStore
	if store == nil && c.conf.Mongo != nil {
		mongoStore, err := mongo.Dial(c.conf.Mongo)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, mongoStore.Close)
		store = mongoStore
	}
	if store == nil && api != nil {
		store = api
	}

	queryCache, err := cache.NewQueryCache("queries", c.conf.Cache.Size, duration(c.conf.Cache.TTL))
	if err != nil {
		return err
	}
	if err := c.metrics.RegisterCache(queryCache); err != nil {
		return err
	}
	c.cache = queryCache
	c.reporter = cache.NewReporter(c.clock, DefaultCacheReportInterval, logging.New("cache"))
	c.reporter.Register(queryCache)

	c.coalescer = limit.NewLimiter[string](c.clock, coalesceExpireInterval, coalesceWindow, coalesceTTL)
	c.closers = append(c.closers, func() error {
		c.coalescer.Close()
		return nil
	})

	c.patients = newCollection(c, reconciler.PatientsCollection, endpoint, reconciler.NewPatients)
	c.notes = newCollection(c, reconciler.NotesCollection, endpoint, reconciler.NewNotes)

	deliver := options.OnNotification
	if deliver == nil {
		deliver = func(n types.Notification) {
			c.logger.Infow("notification", "id", n.ID, "severity", string(n.Severity), "title", n.Title)
		}
	}
	c.sink = reconciler.NewNotificationSink(
		c.clock,
		duration(c.conf.Notifications.Interval),
		types.Severity(c.conf.Notifications.MinSeverity),
		deliver,
	)
	c.notifications = reconciler.NewNotifications(
		c.service,
		reconciler.WithCache[types.Notification](c.cache),
		reconciler.WithCoalescing[types.Notification](c.coalescer),
		reconciler.WithRecorder[types.Notification](c.metrics),
		reconciler.WithClock[types.Notification](c.clock),
	)
	c.notifications.OnInsert(c.sink.Handle)

	trackerOpts := []presence.Option{
		presence.WithClock(c.clock),
		presence.WithBackoff(
			duration(c.conf.Presence.BaseDelay),
			duration(c.conf.Presence.MaxDelay),
			c.conf.Presence.MaxRetries,
		),
		presence.WithViewDebounce(duration(c.conf.Presence.ViewDebounce)),
		presence.WithRecorder(c.metrics),
	}
	if store != nil {
		trackerOpts = append(trackerOpts,
			presence.WithHeartbeatStore(store, duration(c.conf.Presence.HeartbeatInterval)),
		)
	}
	tracker, err := presence.NewTracker(c.service, trackerOpts...)
	if err != nil {
		return err
	}
	c.tracker = tracker

	return nil
}

// Open subscribes the change streams of the workspace of state and joins
// its presence channel as state. An open session is replaced.
func (c *Client) Open(ctx context.Context, state types.PresenceState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.patients.reconciler.Subscribe(gctx, state.ScopeID) })
	g.Go(func() error { return c.notes.reconciler.Subscribe(gctx, state.ScopeID) })
	g.Go(func() error { return c.notifications.Subscribe(gctx, state.UserID) })
	g.Go(func() error { return c.tracker.Join(gctx, state) })
	if err := g.Wait(); err != nil {
		c.abandon(context.WithoutCancel(ctx))
		return fmt.Errorf("open workspace %s: %w", state.ScopeID, err)
	}

	if c.stopReporter == nil {
		reportCtx, cancel := context.WithCancel(context.Background())
		c.stopReporter = cancel
		go c.reporter.Run(reportCtx)
	}

	c.logger.Infow("workspace opened", "workspace", state.ScopeID, "user", state.UserID)
	return nil
}

// abandon tears down whatever a failed Open managed to subscribe.
func (c *Client) abandon(ctx context.Context) {
	for _, unsubscribe := range []func(context.Context) error{
		c.patients.reconciler.Unsubscribe,
		c.notes.reconciler.Unsubscribe,
		c.notifications.Unsubscribe,
	} {
		if err := unsubscribe(ctx); err != nil {
			c.logger.Warnw("unsubscribe after failed open", "error", err)
		}
	}
	if err := c.tracker.Leave(ctx); err != nil && !errors.Is(err, presence.ErrNotJoined) {
		c.logger.Warnw("leave after failed open", "error", err)
	}
}

// Close leaves the session and releases every resource of the client.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	stopReporter := c.stopReporter
	c.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.patients.close(gctx) })
	g.Go(func() error { return c.notes.close(gctx) })
	g.Go(func() error { return c.notifications.Unsubscribe(gctx) })
	g.Go(func() error {
		if err := c.tracker.Leave(gctx); err != nil && !errors.Is(err, presence.ErrNotJoined) {
			return err
		}
		return nil
	})
	err := g.Wait()

	if stopReporter != nil {
		stopReporter()
	}
	if closeErr := c.closeResources(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	if err != nil {
		return fmt.Errorf("close client: %w", err)
	}
	return nil
}

func (c *Client) closeResources() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// Patients returns the patients of the workspace.
func (c *Client) Patients() *Collection[types.Patient] {
	return c.patients
}

// Notes returns the notes of the workspace.
func (c *Client) Notes() *Collection[types.Note] {
	return c.notes
}

// Notifications returns the reconciler of the notifications of the user.
func (c *Client) Notifications() *reconciler.Reconciler[types.Notification] {
	return c.notifications
}

// Presence returns the presence tracker of the session.
func (c *Client) Presence() *presence.Tracker {
	return c.tracker
}

// Cache returns the query cache of the client.
func (c *Client) Cache() *cache.QueryCache {
	return c.cache
}

// Metrics returns the metrics of the client.
func (c *Client) Metrics() *prometheus.Metrics {
	return c.metrics
}

// Collection is the local state of one collection: the rendered list with
// pending writes folded in, the ledger of those writes and the reconciler
// keeping both in step with the server.
type Collection[T types.Entity] struct {
	name       string
	cache      *cache.QueryCache
	ledger     *optimistic.Ledger[T]
	list       *optimistic.List[T]
	mutator    *optimistic.Mutator[T]
	reconciler *reconciler.Reconciler[T]
	logger     *zap.SugaredLogger
	unregister func()
}

func newCollection[T types.Entity](
	c *Client,
	name string,
	endpoint optimistic.MutationEndpoint,
	newReconciler func(realtime.Service, ...reconciler.Option[T]) *reconciler.Reconciler[T],
) *Collection[T] {
	logger := logging.New("collection", logging.NewField("collection", name))
	col := &Collection[T]{
		name:   name,
		cache:  c.cache,
		list:   optimistic.NewList[T](nil),
		logger: logger,
	}

	col.ledger = optimistic.NewLedger[T](
		optimistic.WithClock(c.clock),
		optimistic.WithGracePeriod(duration(c.conf.Ledger.SyncedGracePeriod)),
	)
	col.mutator = optimistic.NewMutator(
		name,
		col.ledger,
		col.list,
		endpoint,
		optimistic.WithRefetch(col.refetch),
		optimistic.WithRecorder(c.metrics),
		optimistic.WithMutatorClock(c.clock),
		optimistic.WithMutatorLogger(logger),
	)
	col.reconciler = newReconciler(
		c.service,
		reconciler.WithCache[T](c.cache),
		reconciler.WithLedger(col.ledger, conflict.Strategy(c.conf.Ledger.ConflictStrategy)),
		reconciler.WithCoalescing[T](c.coalescer),
		reconciler.WithRecorder[T](c.metrics),
		reconciler.WithClock[T](c.clock),
	)

	col.unregister = col.ledger.OnConflict(func(cf conflict.Conflict[T]) {
		c.metrics.RecordConflict(name, string(cf.Strategy))
		resolved := col.reconciler.Resolve(cf)
		col.upsert(resolved)
		logger.Warnw("conflict resolved", "id", cf.ID, "strategy", string(cf.Strategy))
	})
	col.reconciler.OnInsert(func(entity T) error {
		col.upsert(entity)
		return nil
	})
	col.reconciler.OnUpdate(func(entity T) error {
		// The conflict handler already rendered the resolved version.
		if u, ok := col.ledger.GetUpdate(entity.GetID()); ok && u.Status == optimistic.StatusConflict {
			return nil
		}
		col.upsert(entity)
		return nil
	})
	col.reconciler.OnDelete(func(id string) error {
		col.list.Apply(optimistic.PendingUpdate[T]{ID: id, Type: optimistic.Delete})
		return nil
	})

	return col
}

// Name returns the name of the collection.
func (c *Collection[T]) Name() string {
	return c.name
}

// Items returns the rendered items.
func (c *Collection[T]) Items() []T {
	return c.list.Items()
}

// Get returns the rendered item with the given id.
func (c *Collection[T]) Get(id string) (T, bool) {
	return c.list.Get(id)
}

// Reset replaces the rendered items with a fresh read of the workspace
// and caches it.
func (c *Collection[T]) Reset(items []T) {
	c.list.Reset(items)
	if scopeID, err := c.reconciler.ScopeID(); err == nil {
		c.cache.Add(cache.ListKey(c.name, scopeID), items)
	}
}

// Cached returns the cached read of the workspace, if still valid.
func (c *Collection[T]) Cached() ([]T, bool) {
	scopeID, err := c.reconciler.ScopeID()
	if err != nil {
		return nil, false
	}
	return cache.Load[[]T](c.cache, cache.ListKey(c.name, scopeID))
}

// Insert creates entity optimistically.
func (c *Collection[T]) Insert(ctx context.Context, entity T) error {
	return c.mutator.Insert(logging.With(ctx, c.logger), entity)
}

// Update replaces entity optimistically.
func (c *Collection[T]) Update(ctx context.Context, entity T) error {
	return c.mutator.Update(logging.With(ctx, c.logger), entity)
}

// Delete removes entity optimistically.
func (c *Collection[T]) Delete(ctx context.Context, entity T) error {
	return c.mutator.Delete(logging.With(ctx, c.logger), entity)
}

// Pending returns the writes in flight or awaiting eviction.
func (c *Collection[T]) Pending() []optimistic.PendingUpdate[T] {
	return c.ledger.GetPendingUpdates()
}

// Ledger returns the ledger of the collection.
func (c *Collection[T]) Ledger() *optimistic.Ledger[T] {
	return c.ledger
}

// Reconciler returns the reconciler of the collection.
func (c *Collection[T]) Reconciler() *reconciler.Reconciler[T] {
	return c.reconciler
}

// upsert renders entity, replacing the item with the same id or
// prepending it.
func (c *Collection[T]) upsert(entity T) {
	typ := optimistic.Insert
	if c.list.IndexOf(entity.GetID()) >= 0 {
		typ = optimistic.Update
	}
	c.list.Apply(optimistic.PendingUpdate[T]{ID: entity.GetID(), Type: typ, Entity: entity})
}

// refetch drops the cached reads of id so that the next read goes to the
// server.
func (c *Collection[T]) refetch(id string) {
	c.cache.Invalidate(cache.EntityKey(c.name, id))
	if scopeID, err := c.reconciler.ScopeID(); err == nil {
		c.cache.InvalidatePrefix(cache.ListKey(c.name, scopeID))
	}
	c.logger.Infow("refetch required", "id", id)
}

func (c *Collection[T]) close(ctx context.Context) error {
	c.unregister()
	c.ledger.Clear()
	return c.reconciler.Unsubscribe(ctx)
}
