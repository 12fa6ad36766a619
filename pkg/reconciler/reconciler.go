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

// Package reconciler merges server-pushed change events of a collection
// into the local state. Events invalidate cached reads instead of patching
// them, so correctness rests on the next read from the record store.
package reconciler

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/yorkie-team/wardroom/api/types"
	"github.com/yorkie-team/wardroom/pkg/cache"
	"github.com/yorkie-team/wardroom/pkg/conflict"
	"github.com/yorkie-team/wardroom/pkg/errors"
	"github.com/yorkie-team/wardroom/pkg/limit"
	"github.com/yorkie-team/wardroom/pkg/logging"
	"github.com/yorkie-team/wardroom/pkg/optimistic"
	"github.com/yorkie-team/wardroom/pkg/realtime"
)

var (
	// ErrNotSubscribed is returned when an operation needs a subscription.
	ErrNotSubscribed = errors.FailedPrecond("reconciler not subscribed").WithCode("ErrNotSubscribed")

	// ErrEmptyScope is returned when subscribing without a scope.
	ErrEmptyScope = errors.InvalidArgument("scope id is empty").WithCode("ErrEmptyScope")
)

// Recorder observes the activity of reconcilers.
type Recorder interface {
	RecordChangeEvent(collection, kind string)
	RecordConnectionStatus(component, status string)
}

// Option configures a Reconciler.
type Option[T types.Entity] func(*Reconciler[T])

// WithCache sets the cache invalidated by change events.
func WithCache[T types.Entity](c *cache.QueryCache) Option[T] {
	return func(r *Reconciler[T]) {
		r.cache = c
	}
}

// WithLedger enables conflict detection against pending local writes.
// Conflicts are triggered on the ledger with strategy.
func WithLedger[T types.Entity](ledger *optimistic.Ledger[T], strategy conflict.Strategy) Option[T] {
	return func(r *Reconciler[T]) {
		r.ledger = ledger
		r.strategy = strategy
	}
}

// WithCoalescing routes invalidations through lim so that bursts of events
// for the same key invalidate once up front and once at the end.
func WithCoalescing[T types.Entity](lim *limit.Limiter[string]) Option[T] {
	return func(r *Reconciler[T]) {
		r.coalescer = lim
	}
}

// WithRecorder sets the recorder of events and statuses.
func WithRecorder[T types.Entity](recorder Recorder) Option[T] {
	return func(r *Reconciler[T]) {
		r.recorder = recorder
	}
}

// WithLogger sets the logger of the reconciler.
func WithLogger[T types.Entity](logger *zap.SugaredLogger) Option[T] {
	return func(r *Reconciler[T]) {
		r.logger = logger
	}
}

// WithClock sets the clock used for conflict timestamps.
func WithClock[T types.Entity](clk clock.PassiveClock) Option[T] {
	return func(r *Reconciler[T]) {
		r.clock = clk
	}
}

// subscription is the one channel a reconciler holds.
type subscription struct {
	scopeID string
	channel realtime.Channel
	cancel  context.CancelFunc
	done    chan struct{}
}

// Reconciler subscribes to the change stream of one collection within a
// scope and applies inbound events to the local state.
type Reconciler[T types.Entity] struct {
	service     realtime.Service
	collection  string
	scopeColumn string

	cache     *cache.QueryCache
	ledger    *optimistic.Ledger[T]
	strategy  conflict.Strategy
	resolver  *conflict.Resolver[T]
	coalescer *limit.Limiter[string]
	recorder  Recorder
	logger    *zap.SugaredLogger
	clock     clock.PassiveClock

	status types.AtomicConnectionStatus

	handlersMu sync.RWMutex
	onInsert   []func(T) error
	onUpdate   []func(T) error
	onDelete   []func(string) error

	// mu serializes Subscribe and Unsubscribe.
	mu      sync.Mutex
	sub     *subscription
	lastErr error
	errMu   sync.RWMutex
}

// New creates a Reconciler for collection. Events are selected by
// scopeColumn equal to the scope passed to Subscribe.
func New[T types.Entity](
	service realtime.Service,
	collection string,
	scopeColumn string,
	opts ...Option[T],
) *Reconciler[T] {
	r := &Reconciler[T]{
		service:     service,
		collection:  collection,
		scopeColumn: scopeColumn,
		strategy:    conflict.ServerWins,
		clock:       clock.RealClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logging.New("reconciler", logging.NewField("collection", collection))
	}
	r.resolver = conflict.NewResolver[T](r.logger)
	r.status.Store(types.Disconnected)
	return r
}

// Collection returns the collection of this reconciler.
func (r *Reconciler[T]) Collection() string {
	return r.collection
}

// OnInsert registers a handler of inserted entities.
func (r *Reconciler[T]) OnInsert(handler func(T) error) {
	r.handlersMu.Lock()
	defer r.handlersMu.Unlock()
	r.onInsert = append(r.onInsert, handler)
}

// OnUpdate registers a handler of updated entities.
func (r *Reconciler[T]) OnUpdate(handler func(T) error) {
	r.handlersMu.Lock()
	defer r.handlersMu.Unlock()
	r.onUpdate = append(r.onUpdate, handler)
}

// OnDelete registers a handler of deleted entity ids.
func (r *Reconciler[T]) OnDelete(handler func(string) error) {
	r.handlersMu.Lock()
	defer r.handlersMu.Unlock()
	r.onDelete = append(r.onDelete, handler)
}

// Status returns the connection status.
func (r *Reconciler[T]) Status() types.ConnectionStatus {
	return r.status.Load()
}

// Err returns the last subscription failure, if the status is error.
func (r *Reconciler[T]) Err() error {
	r.errMu.RLock()
	defer r.errMu.RUnlock()
	return r.lastErr
}

// ScopeID returns the scope of the current subscription.
func (r *Reconciler[T]) ScopeID() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sub == nil {
		return "", ErrNotSubscribed
	}
	return r.sub.scopeID, nil
}

// Subscribe opens the change stream of scopeID. An existing subscription
// is torn down first, so events are never delivered twice. Handlers must
// not call Subscribe or Unsubscribe.
func (r *Reconciler[T]) Subscribe(ctx context.Context, scopeID string) error {
	if scopeID == "" {
		return fmt.Errorf("subscribe %s: %w", r.collection, ErrEmptyScope)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sub != nil {
		if err := r.teardown(ctx); err != nil {
			r.logger.Warnw("tear down previous subscription", "error", err)
		}
	}

	r.setStatus(types.Connecting)
	r.setErr(nil)

	ch := r.service.Channel(realtime.Topic(r.collection, scopeID))
	ch.On(realtime.Binding{
		Event:  realtime.EventAll,
		Table:  r.collection,
		Filter: realtime.Eq(r.scopeColumn, scopeID),
	})

	loopCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		scopeID: scopeID,
		channel: ch,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	r.sub = sub
	go r.loop(loopCtx, sub)

	if err := ch.Subscribe(ctx); err != nil {
		err = fmt.Errorf("subscribe %s: %w", ch.Name(), err)
		r.fail(err)
		return err
	}
	return nil
}

// Unsubscribe tears the subscription down. No handler runs after it
// returns.
func (r *Reconciler[T]) Unsubscribe(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sub == nil {
		return nil
	}
	return r.teardown(ctx)
}

// teardown must be called with r.mu held.
func (r *Reconciler[T]) teardown(ctx context.Context) error {
	sub := r.sub
	r.sub = nil

	sub.cancel()
	<-sub.done

	err := r.service.RemoveChannel(ctx, sub.channel)
	r.setStatus(types.Disconnected)
	if err != nil {
		return fmt.Errorf("remove channel %s: %w", sub.channel.Name(), err)
	}
	return nil
}

func (r *Reconciler[T]) loop(ctx context.Context, sub *subscription) {
	defer close(sub.done)

	statuses := sub.channel.Statuses()
	changes := sub.channel.Changes()
	for {
		select {
		case <-ctx.Done():
			return
		case status, ok := <-statuses:
			if !ok {
				return
			}
			r.handleStatus(status)
		case event, ok := <-changes:
			if !ok {
				return
			}
			// teardown may have begun while this event was selected
			if ctx.Err() != nil {
				return
			}
			r.handleEvent(sub.scopeID, event)
		}
	}
}

func (r *Reconciler[T]) handleStatus(status realtime.ChannelStatus) {
	switch {
	case status == realtime.StatusSubscribed:
		r.setErr(nil)
		r.setStatus(types.Connected)
	case status.IsFailure():
		r.fail(status.Err())
	case status == realtime.StatusClosed:
		r.setStatus(types.Disconnected)
	}
}

func (r *Reconciler[T]) fail(err error) {
	r.setErr(err)
	r.setStatus(types.Errored)
	r.logger.Warnw("subscription failed", "error", err)
}

func (r *Reconciler[T]) setStatus(status types.ConnectionStatus) {
	if prev := r.status.Store(status); prev == status {
		return
	}
	if r.recorder != nil {
		r.recorder.RecordConnectionStatus(r.collection, string(status))
	}
}

func (r *Reconciler[T]) setErr(err error) {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	r.lastErr = err
}

func (r *Reconciler[T]) handleEvent(scopeID string, event realtime.ChangeEvent) {
	if r.recorder != nil {
		r.recorder.RecordChangeEvent(r.collection, string(event.Kind))
	}

	switch event.Kind {
	case realtime.EventInsert:
		entity, err := realtime.Decode[T](event.New)
		if err != nil {
			r.logger.Errorw("decode inserted record", "error", err)
			return
		}
		r.invalidateList(scopeID)
		r.dispatch(r.insertHandlers(), entity, "insert")
	case realtime.EventUpdate:
		entity, err := realtime.Decode[T](event.New)
		if err != nil {
			r.logger.Errorw("decode updated record", "error", err)
			return
		}
		r.invalidateList(scopeID)
		r.invalidateEntity(entity.GetID())
		r.detectConflict(entity)
		r.dispatch(r.updateHandlers(), entity, "update")
	case realtime.EventDelete:
		id, err := event.RecordID()
		if err != nil {
			r.logger.Errorw("read deleted record id", "error", err)
			return
		}
		r.invalidateList(scopeID)
		r.invalidateEntity(id)
		r.dispatchDelete(id)
	default:
		r.logger.Warnw("unknown event kind", "kind", string(event.Kind))
	}
}

// detectConflict marks a pending local update of the same entity as
// conflicting when the server version differs from it.
func (r *Reconciler[T]) detectConflict(server T) {
	if r.ledger == nil {
		return
	}

	id := server.GetID()
	pending, ok := r.ledger.GetUpdate(id)
	if !ok || pending.Status != optimistic.StatusSyncing || pending.Type != optimistic.Update {
		return
	}
	if !conflict.HasConflict(pending.Entity, server) {
		return
	}
	if !r.ledger.MarkConflict(id) {
		return
	}

	r.ledger.TriggerConflict(conflict.Conflict[T]{
		ID:            id,
		ServerVersion: server,
		ClientVersion: pending.Entity,
		Timestamp:     r.clock.Now(),
		Strategy:      r.strategy,
	})
}

// Resolve resolves c with its strategy.
func (r *Reconciler[T]) Resolve(c conflict.Conflict[T]) T {
	return r.resolver.Resolve(c, c.Strategy)
}

func (r *Reconciler[T]) invalidateList(scopeID string) {
	if r.cache == nil || scopeID == "" {
		return
	}
	key := cache.ListKey(r.collection, scopeID)
	r.invalidate(key, func() { r.cache.InvalidatePrefix(key) })
}

func (r *Reconciler[T]) invalidateEntity(id string) {
	if r.cache == nil || id == "" {
		return
	}
	key := cache.EntityKey(r.collection, id)
	r.invalidate(key, func() { r.cache.Invalidate(key) })
}

func (r *Reconciler[T]) invalidate(key string, fn func()) {
	if r.coalescer == nil {
		fn()
		return
	}
	if r.coalescer.Allow(key, fn) {
		fn()
	}
}

func (r *Reconciler[T]) insertHandlers() []func(T) error {
	r.handlersMu.RLock()
	defer r.handlersMu.RUnlock()
	return append([]func(T) error(nil), r.onInsert...)
}

func (r *Reconciler[T]) updateHandlers() []func(T) error {
	r.handlersMu.RLock()
	defer r.handlersMu.RUnlock()
	return append([]func(T) error(nil), r.onUpdate...)
}

func (r *Reconciler[T]) dispatch(handlers []func(T) error, entity T, kind string) {
	for _, handler := range handlers {
		r.safely(kind, entity.GetID(), func() error { return handler(entity) })
	}
}

func (r *Reconciler[T]) dispatchDelete(id string) {
	r.handlersMu.RLock()
	handlers := append([]func(string) error(nil), r.onDelete...)
	r.handlersMu.RUnlock()

	for _, handler := range handlers {
		r.safely("delete", id, func() error { return handler(id) })
	}
}

// safely runs fn, logging its error or panic instead of propagating it.
func (r *Reconciler[T]) safely(kind, id string, fn func() error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Errorw("handler panicked", "kind", kind, "id", id, "panic", p)
		}
	}()

	if err := fn(); err != nil {
		r.logger.Errorw("handler failed", "kind", kind, "id", id, "error", err)
	}
}
