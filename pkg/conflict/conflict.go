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

// Package conflict resolves disagreements between the version of an entity
// the client believes in and the authoritative server version.
package conflict

import (
	"bytes"
	"fmt"
	"time"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/yorkie-team/wardroom/pkg/logging"
)

// Strategy is the policy used to resolve a conflict.
type Strategy string

const (
	// ServerWins keeps the server version.
	ServerWins Strategy = "server_wins"

	// ClientWins keeps the client version.
	ClientWins Strategy = "client_wins"

	// Merge overlays client fields onto server fields.
	Merge Strategy = "merge"

	// Manual defers the decision to a human. The server version is used
	// until then.
	Manual Strategy = "manual"
)

// Valid returns whether the strategy is known.
func (s Strategy) Valid() bool {
	switch s {
	case ServerWins, ClientWins, Merge, Manual:
		return true
	default:
		return false
	}
}

// Conflict is a detected divergence between the two versions of an entity.
type Conflict[T any] struct {
	ID            string
	ServerVersion T
	ClientVersion T
	Timestamp     time.Time
	Strategy      Strategy
}

// Resolver resolves conflicts of entities of type T.
type Resolver[T any] struct {
	logger *zap.SugaredLogger
}

// NewResolver creates a Resolver. A nil logger falls back to a named one.
func NewResolver[T any](logger *zap.SugaredLogger) *Resolver[T] {
	if logger == nil {
		logger = logging.New("conflict")
	}
	return &Resolver[T]{logger: logger}
}

// Resolve returns the value the entity should take under the given
// strategy. An unknown strategy resolves like ServerWins so that callers
// never get stuck.
func (r *Resolver[T]) Resolve(c Conflict[T], strategy Strategy) T {
	switch strategy {
	case ClientWins:
		return c.ClientVersion
	case Merge:
		merged, ok, err := mergeObjects(c.ServerVersion, c.ClientVersion)
		if err != nil {
			r.logger.Errorw("merge conflict", "id", c.ID, "error", err)
			return c.ServerVersion
		}
		if !ok {
			return c.ServerVersion
		}
		return merged
	case Manual:
		r.logger.Warnw(
			"conflict requires manual resolution, using server version",
			"id", c.ID,
		)
		return c.ServerVersion
	case ServerWins:
		return c.ServerVersion
	default:
		r.logger.Warnw("unknown conflict strategy, using server version",
			"id", c.ID,
			"strategy", string(strategy),
		)
		return c.ServerVersion
	}
}

// HasConflict reports whether the serialized forms of a and b differ.
//
// Struct fields serialize in declaration order and map keys in sorted
// order, so two values of the same type compare structurally. Values that
// cannot be serialized are reported as conflicting.
func HasConflict(a, b any) bool {
	encodedA, err := gojson.Marshal(a)
	if err != nil {
		return true
	}
	encodedB, err := gojson.Marshal(b)
	if err != nil {
		return true
	}

	return !bytes.Equal(encodedA, encodedB)
}

// mergeObjects shallow-merges client fields over server fields. It reports
// false when either side is not object-like.
func mergeObjects[T any](server, client T) (T, bool, error) {
	var merged T

	serverFields, ok, err := asObject(server)
	if err != nil || !ok {
		return merged, false, err
	}
	clientFields, ok, err := asObject(client)
	if err != nil || !ok {
		return merged, false, err
	}

	for key, value := range clientFields {
		serverFields[key] = value
	}

	encoded, err := gojson.Marshal(serverFields)
	if err != nil {
		return merged, false, fmt.Errorf("marshal merged fields: %w", err)
	}
	if err := gojson.Unmarshal(encoded, &merged); err != nil {
		return merged, false, fmt.Errorf("unmarshal merged fields: %w", err)
	}

	return merged, true, nil
}

func asObject(v any) (map[string]gojson.RawMessage, bool, error) {
	encoded, err := gojson.Marshal(v)
	if err != nil {
		return nil, false, fmt.Errorf("marshal version: %w", err)
	}

	trimmed := bytes.TrimSpace(encoded)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false, nil
	}

	fields := make(map[string]gojson.RawMessage)
	if err := gojson.Unmarshal(trimmed, &fields); err != nil {
		return nil, false, fmt.Errorf("unmarshal version: %w", err)
	}
	return fields, true, nil
}
