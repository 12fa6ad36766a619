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
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/yorkie-team/wardroom/api/types"
	"github.com/yorkie-team/wardroom/pkg/conflict"
	"github.com/yorkie-team/wardroom/pkg/logging"
)

// DefaultGracePeriod is how long a synced entry stays in the ledger so that
// a "saved" state can be shown before it disappears.
const DefaultGracePeriod = 5 * time.Second

// ConflictHandler is notified of conflicts triggered on a Ledger.
type ConflictHandler[T types.Entity] func(conflict.Conflict[T])

// LedgerOption configures a Ledger.
type LedgerOption func(*ledgerOptions)

type ledgerOptions struct {
	clock       clock.WithDelayedExecution
	gracePeriod time.Duration
	logger      *zap.SugaredLogger
}

// WithClock sets the clock used for timestamps and eviction.
func WithClock(clk clock.WithDelayedExecution) LedgerOption {
	return func(o *ledgerOptions) {
		o.clock = clk
	}
}

// WithGracePeriod sets how long synced entries are kept.
func WithGracePeriod(d time.Duration) LedgerOption {
	return func(o *ledgerOptions) {
		o.gracePeriod = d
	}
}

// WithLogger sets the logger of the ledger.
func WithLogger(logger *zap.SugaredLogger) LedgerOption {
	return func(o *ledgerOptions) {
		o.logger = logger
	}
}

type ledgerEntry[T types.Entity] struct {
	update     PendingUpdate[T]
	generation uint64
}

// Ledger is the table of local writes in flight. It holds at most one live
// entry per entity id: adding an entry for an id discards the previous one
// without reconciling it.
type Ledger[T types.Entity] struct {
	clock       clock.WithDelayedExecution
	gracePeriod time.Duration
	logger      *zap.SugaredLogger

	mu         sync.RWMutex
	entries    map[string]*ledgerEntry[T]
	generation uint64

	handlersMu sync.RWMutex
	handlers   map[uint64]ConflictHandler[T]
	handlerSeq uint64
}

// NewLedger creates an empty Ledger.
func NewLedger[T types.Entity](opts ...LedgerOption) *Ledger[T] {
	options := ledgerOptions{
		clock:       clock.RealClock{},
		gracePeriod: DefaultGracePeriod,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = logging.New("ledger")
	}

	return &Ledger[T]{
		clock:       options.clock,
		gracePeriod: options.gracePeriod,
		logger:      options.logger,
		entries:     make(map[string]*ledgerEntry[T]),
		handlers:    make(map[uint64]ConflictHandler[T]),
	}
}

// AddUpdate records a new mutation of the entity with the given id in
// status syncing, replacing any entry for the same id.
func (l *Ledger[T]) AddUpdate(
	id string,
	typ Type,
	entity T,
	opts ...UpdateOption[T],
) PendingUpdate[T] {
	update := PendingUpdate[T]{
		ID:        id,
		Type:      typ,
		Entity:    entity,
		Index:     -1,
		Status:    StatusSyncing,
		Timestamp: l.clock.Now(),
	}
	for _, opt := range opts {
		opt(&update)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if prev, ok := l.entries[id]; ok && prev.update.Status == StatusSyncing {
		l.logger.Debugw("supersede pending update",
			"id", id,
			"previous_type", string(prev.update.Type),
			"type", string(typ),
		)
	}

	l.generation++
	l.entries[id] = &ledgerEntry[T]{
		update:     update,
		generation: l.generation,
	}
	return update
}

// MarkSynced moves the entry of id to synced and schedules its removal
// after the grace period. It returns false if there is no entry that can
// move to synced.
func (l *Ledger[T]) MarkSynced(id string) bool {
	l.mu.Lock()
	entry, ok := l.transition(id, StatusSynced, nil)
	var generation uint64
	if ok {
		generation = entry.generation
	}
	l.mu.Unlock()

	if !ok {
		return false
	}

	// NOTE: the clock is never called with l.mu held because a fake clock
	// fires timers while holding its own lock.
	l.clock.AfterFunc(l.gracePeriod, func() {
		l.evict(id, generation)
	})
	return true
}

// MarkError moves the entry of id to error and records err. The entry is
// kept until it is removed explicitly.
func (l *Ledger[T]) MarkError(id string, err error) bool {
	_, ok := l.markError(id, err)
	return ok
}

// markError is MarkError that also returns the status the entry left.
func (l *Ledger[T]) markError(id string, err error) (Status, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var prev Status
	if entry, ok := l.entries[id]; ok {
		prev = entry.update.Status
	}
	if _, ok := l.transition(id, StatusError, err); !ok {
		return prev, false
	}
	return prev, true
}

// MarkConflict moves the entry of id to conflict.
func (l *Ledger[T]) MarkConflict(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.transition(id, StatusConflict, nil)
	return ok
}

// transition must be called with l.mu held.
func (l *Ledger[T]) transition(id string, next Status, err error) (*ledgerEntry[T], bool) {
	entry, ok := l.entries[id]
	if !ok {
		return nil, false
	}
	if !entry.update.Status.CanTransitionTo(next) {
		l.logger.Debugw("ignore status transition",
			"id", id,
			"from", string(entry.update.Status),
			"to", string(next),
		)
		return nil, false
	}

	entry.update.Status = next
	if next == StatusError {
		if err == nil {
			err = fmt.Errorf("mutation of %s failed", id)
		}
		entry.update.Err = err
	}
	return entry, true
}

// evict removes the entry of id if it is still the one that was synced.
func (l *Ledger[T]) evict(id string, generation uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[id]
	if !ok || entry.generation != generation {
		return
	}
	delete(l.entries, id)
}

// GetUpdate returns the entry of id.
func (l *Ledger[T]) GetUpdate(id string) (PendingUpdate[T], bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entry, ok := l.entries[id]
	if !ok {
		return PendingUpdate[T]{}, false
	}
	return entry.update, true
}

// GetPendingUpdates returns every entry still held by the ledger, synced
// ones included until they are evicted, ordered by creation time.
func (l *Ledger[T]) GetPendingUpdates() []PendingUpdate[T] {
	l.mu.RLock()
	updates := make([]PendingUpdate[T], 0, len(l.entries))
	for _, entry := range l.entries {
		updates = append(updates, entry.update)
	}
	l.mu.RUnlock()

	sort.Slice(updates, func(i, j int) bool {
		if updates[i].Timestamp.Equal(updates[j].Timestamp) {
			return updates[i].ID < updates[j].ID
		}
		return updates[i].Timestamp.Before(updates[j].Timestamp)
	})
	return updates
}

// Len returns the number of entries.
func (l *Ledger[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Remove drops the entry of id.
func (l *Ledger[T]) Remove(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, id)
}

// Clear drops every entry. Scheduled evictions of dropped entries become
// no-ops.
func (l *Ledger[T]) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]*ledgerEntry[T])
}

// OnConflict registers handler and returns a function that unregisters it.
func (l *Ledger[T]) OnConflict(handler ConflictHandler[T]) func() {
	l.handlersMu.Lock()
	defer l.handlersMu.Unlock()

	l.handlerSeq++
	seq := l.handlerSeq
	l.handlers[seq] = handler

	return func() {
		l.handlersMu.Lock()
		defer l.handlersMu.Unlock()
		delete(l.handlers, seq)
	}
}

// TriggerConflict notifies every registered handler of c. A panicking
// handler is logged and does not stop the others.
func (l *Ledger[T]) TriggerConflict(c conflict.Conflict[T]) {
	l.handlersMu.RLock()
	seqs := make([]uint64, 0, len(l.handlers))
	for seq := range l.handlers {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	handlers := make([]ConflictHandler[T], 0, len(seqs))
	for _, seq := range seqs {
		handlers = append(handlers, l.handlers[seq])
	}
	l.handlersMu.RUnlock()

	for _, handler := range handlers {
		l.notify(handler, c)
	}
}

func (l *Ledger[T]) notify(handler ConflictHandler[T], c conflict.Conflict[T]) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Errorw("conflict handler panicked", "id", c.ID, "panic", r)
		}
	}()
	handler(c)
}
