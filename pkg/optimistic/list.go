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
	"sync"

	"github.com/yorkie-team/wardroom/api/types"
)

// List is the locally rendered list of a collection with pending writes
// folded in.
type List[T types.Entity] struct {
	mu    sync.RWMutex
	items []T
}

// NewList creates a List holding a copy of items.
func NewList[T types.Entity](items []T) *List[T] {
	return &List[T]{items: clone(items)}
}

// Items returns a copy of the rendered items.
func (l *List[T]) Items() []T {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return clone(l.items)
}

// Len returns the number of rendered items.
func (l *List[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Get returns the rendered item with the given id.
func (l *List[T]) Get(id string) (T, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if i := indexOf(l.items, id); i >= 0 {
		return l.items[i], true
	}
	var zero T
	return zero, false
}

// IndexOf returns the position of the item with the given id, or -1.
func (l *List[T]) IndexOf(id string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return indexOf(l.items, id)
}

// Reset replaces the rendered items, typically after a refetch.
func (l *List[T]) Reset(items []T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = clone(items)
}

// Apply folds u into the rendered items.
func (l *List[T]) Apply(u PendingUpdate[T]) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = Apply(l.items, u)
}

// Revert undoes u on the rendered items.
func (l *List[T]) Revert(u PendingUpdate[T]) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = Revert(l.items, u)
}
