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

package optimistic

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/moby/locker"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/yorkie-team/wardroom/api/types"
	"github.com/yorkie-team/wardroom/pkg/errors"
	"github.com/yorkie-team/wardroom/pkg/logging"
)

// Request is an authoritative write sent to the record store.
type Request struct {
	Method string
	Path   string
	Body   any
}

// MutationEndpoint performs authoritative writes.
type MutationEndpoint interface {
	Mutate(ctx context.Context, req Request) error
}

// MutationRecorder observes the outcome of mutations.
type MutationRecorder interface {
	RecordMutation(collection, mutationType, result string, elapsed time.Duration)
}

// MutatorOption configures a Mutator.
type MutatorOption func(*mutatorOptions)

type mutatorOptions struct {
	refetch  func(id string)
	recorder MutationRecorder
	logger   *zap.SugaredLogger
	clock    clock.PassiveClock
}

// WithRefetch sets the function called when a failed update cannot be
// reverted locally.
func WithRefetch(fn func(id string)) MutatorOption {
	return func(o *mutatorOptions) {
		o.refetch = fn
	}
}

// WithRecorder sets the recorder of mutation outcomes.
func WithRecorder(recorder MutationRecorder) MutatorOption {
	return func(o *mutatorOptions) {
		o.recorder = recorder
	}
}

// WithMutatorClock sets the clock measuring mutation latency.
func WithMutatorClock(clk clock.PassiveClock) MutatorOption {
	return func(o *mutatorOptions) {
		o.clock = clk
	}
}

// WithMutatorLogger sets the logger of the mutator.
func WithMutatorLogger(logger *zap.SugaredLogger) MutatorOption {
	return func(o *mutatorOptions) {
		o.logger = logger
	}
}

// Mutator runs local writes of one collection end to end: it records the
// write in the ledger, renders it, sends it to the endpoint and then
// confirms or reverts it. Writes to the same id are serialized.
type Mutator[T types.Entity] struct {
	collection string
	ledger     *Ledger[T]
	list       *List[T]
	endpoint   MutationEndpoint
	locks      *locker.Locker

	refetch  func(id string)
	recorder MutationRecorder
	logger   *zap.SugaredLogger
	clock    clock.PassiveClock
}

// NewMutator creates a Mutator for collection. Requests are sent to
// "/<collection>" and "/<collection>/<id>".
func NewMutator[T types.Entity](
	collection string,
	ledger *Ledger[T],
	list *List[T],
	endpoint MutationEndpoint,
	opts ...MutatorOption,
) *Mutator[T] {
	options := mutatorOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = logging.New("mutator", logging.NewField("collection", collection))
	}
	if options.clock == nil {
		options.clock = clock.RealClock{}
	}

	return &Mutator[T]{
		collection: collection,
		ledger:     ledger,
		list:       list,
		endpoint:   endpoint,
		locks:      locker.New(),
		refetch:    options.refetch,
		recorder:   options.recorder,
		logger:     options.logger,
		clock:      options.clock,
	}
}

// Insert creates entity.
func (m *Mutator[T]) Insert(ctx context.Context, entity T) error {
	return m.mutate(ctx, Insert, entity)
}

// Update replaces the entity with the same id.
func (m *Mutator[T]) Update(ctx context.Context, entity T) error {
	return m.mutate(ctx, Update, entity)
}

// Delete removes entity.
func (m *Mutator[T]) Delete(ctx context.Context, entity T) error {
	return m.mutate(ctx, Delete, entity)
}

func (m *Mutator[T]) mutate(ctx context.Context, typ Type, entity T) error {
	id := entity.GetID()
	if id == "" {
		return fmt.Errorf("%s %s: %w", typ, m.collection, ErrEmptyID)
	}

	m.locks.Lock(id)
	defer func() {
		if err := m.locks.Unlock(id); err != nil {
			m.logger.Errorw("unlock entity", "id", id, "error", err)
		}
	}()

	var opts []UpdateOption[T]
	if prev, ok := m.list.Get(id); ok && typ == Update {
		opts = append(opts, WithPrevious(prev))
	}
	if typ == Delete {
		opts = append(opts, WithIndex[T](m.list.IndexOf(id)))
	}

	update := m.ledger.AddUpdate(id, typ, entity, opts...)
	m.list.Apply(update)

	start := m.clock.Now()
	err := m.endpoint.Mutate(ctx, m.request(typ, entity))
	if err != nil {
		prev, _ := m.ledger.markError(id, err)
		if prev == StatusConflict {
			// The resolved server version is rendered already; the snapshot
			// taken before the write is older than it.
			m.requestRefetch(id)
		} else {
			m.rollback(update)
		}
		m.record(typ, "error", start)
		logging.From(ctx).Warnw("mutation failed",
			"collection", m.collection,
			"type", string(typ),
			"id", id,
			"code", errors.CodeOf(err),
			"retryable", errors.IsRetryable(err),
			"details", errors.Metadata(err),
		)
		return fmt.Errorf("%s %s %s: %w", typ, m.collection, id, err)
	}

	m.ledger.MarkSynced(id)
	m.record(typ, "synced", start)
	return nil
}

// rollback reverts a failed write where a clean inverse exists and asks
// for a refetch otherwise.
func (m *Mutator[T]) rollback(update PendingUpdate[T]) {
	if update.Type == Update && !update.HasPrevious() {
		m.requestRefetch(update.ID)
		return
	}

	m.list.Revert(update)
}

func (m *Mutator[T]) requestRefetch(id string) {
	m.logger.Infow("refetch after failed write", "id", id)
	if m.refetch != nil {
		m.refetch(id)
	}
}

func (m *Mutator[T]) request(typ Type, entity T) Request {
	switch typ {
	case Insert:
		return Request{Method: http.MethodPost, Path: path.Join("/", m.collection), Body: entity}
	case Update:
		return Request{Method: http.MethodPatch, Path: path.Join("/", m.collection, entity.GetID()), Body: entity}
	default:
		return Request{Method: http.MethodDelete, Path: path.Join("/", m.collection, entity.GetID())}
	}
}

func (m *Mutator[T]) record(typ Type, result string, start time.Time) {
	if m.recorder == nil {
		return
	}
	m.recorder.RecordMutation(m.collection, string(typ), result, m.clock.Since(start))
}
