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
	"github.com/yorkie-team/wardroom/api/types"
)

// Apply returns a new list with the effect of u folded in. An insert is
// prepended, an update replaces the item with the same id and a delete
// removes it. The input list is not modified.
func Apply[T types.Entity](items []T, u PendingUpdate[T]) []T {
	switch u.Type {
	case Insert:
		result := make([]T, 0, len(items)+1)
		result = append(result, u.Entity)
		return append(result, items...)
	case Update:
		return replace(items, u.ID, u.Entity)
	case Delete:
		return removeFirst(items, u.ID)
	default:
		return clone(items)
	}
}

// Revert returns a new list with the effect of u undone as far as the
// entry allows. Reverting an insert removes the entity. Reverting a delete
// puts the entity back at its recorded index, or at the head if the index
// is unknown. Reverting an update restores the previous snapshot if the
// entry carries one and is a no-op otherwise; callers then have to refetch.
func Revert[T types.Entity](items []T, u PendingUpdate[T]) []T {
	switch u.Type {
	case Insert:
		return removeFirst(items, u.ID)
	case Update:
		if u.Previous == nil {
			return clone(items)
		}
		return replace(items, u.ID, *u.Previous)
	case Delete:
		if indexOf(items, u.ID) >= 0 {
			return clone(items)
		}
		return insertAt(items, u.Index, u.Entity)
	default:
		return clone(items)
	}
}

func indexOf[T types.Entity](items []T, id string) int {
	for i, item := range items {
		if item.GetID() == id {
			return i
		}
	}
	return -1
}

func clone[T types.Entity](items []T) []T {
	result := make([]T, len(items))
	copy(result, items)
	return result
}

func replace[T types.Entity](items []T, id string, entity T) []T {
	result := clone(items)
	if i := indexOf(result, id); i >= 0 {
		result[i] = entity
	}
	return result
}

func removeFirst[T types.Entity](items []T, id string) []T {
	i := indexOf(items, id)
	if i < 0 {
		return clone(items)
	}

	result := make([]T, 0, len(items)-1)
	result = append(result, items[:i]...)
	return append(result, items[i+1:]...)
}

func insertAt[T types.Entity](items []T, index int, entity T) []T {
	if index < 0 || index > len(items) {
		index = 0
	}

	result := make([]T, 0, len(items)+1)
	result = append(result, items[:index]...)
	result = append(result, entity)
	return append(result, items[index:]...)
}
