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

// Package mongo implements the durable presence heartbeat store using
// MongoDB.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/yorkie-team/wardroom/api/types"
	"github.com/yorkie-team/wardroom/pkg/errors"
	"github.com/yorkie-team/wardroom/pkg/logging"
)

// ColHeartbeats represents the heartbeat collection in the database.
const ColHeartbeats = "heartbeats"

// ErrHeartbeatNotFound is returned when a participant has never been seen.
var ErrHeartbeatNotFound = errors.NotFound("heartbeat not found").WithCode("ErrHeartbeatNotFound")

var heartbeatIndexes = []mongo.IndexModel{{
	Keys: bson.D{
		{Key: "scope_id", Value: int32(1)},
		{Key: "user_id", Value: int32(1)},
	},
	Options: options.Index().SetUnique(true),
}, {
	Keys: bson.D{
		{Key: "scope_id", Value: int32(1)},
		{Key: "last_seen_at", Value: int32(-1)},
	},
}}

// Heartbeat is the last known presence of a participant.
type Heartbeat struct {
	ScopeID         string               `bson:"scope_id"`
	UserID          string               `bson:"user_id"`
	Name            string               `bson:"name,omitempty"`
	Status          types.PresenceStatus `bson:"status"`
	ViewingEntityID string               `bson:"viewing_entity_id,omitempty"`
	OnlineAt        time.Time            `bson:"online_at"`
	LastSeenAt      time.Time            `bson:"last_seen_at"`
}

// Store persists heartbeats to MongoDB.
type Store struct {
	config *Config
	client *mongo.Client
}

// Dial creates an instance of Store and dials the given MongoDB.
func Dial(conf *Config) (*Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), conf.ParseConnectionTimeout())
	defer cancel()

	client, err := mongo.Connect(options.Client().ApplyURI(conf.ConnectionURI))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}

	ctxPing, cancelPing := context.WithTimeout(ctx, conf.ParsePingTimeout())
	defer cancelPing()

	if err := client.Ping(ctxPing, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	if _, err := client.Database(conf.Database).Collection(ColHeartbeats).
		Indexes().CreateMany(ctx, heartbeatIndexes); err != nil {
		return nil, fmt.Errorf("create indexes: %w", err)
	}

	logging.DefaultLogger().Infof("MongoDB connected, URI: %s, DB: %s", conf.ConnectionURI, conf.Database)

	return &Store{
		config: conf,
		client: client,
	}, nil
}

// Close all resources of this store.
func (s *Store) Close() error {
	if err := s.client.Disconnect(context.Background()); err != nil {
		return fmt.Errorf("close mongo client: %w", err)
	}
	return nil
}

// Heartbeat upserts the presence of state.UserID in state.ScopeID as seen
// at the given time.
func (s *Store) Heartbeat(ctx context.Context, state types.PresenceState, at time.Time) error {
	if _, err := s.collection().UpdateOne(ctx, bson.M{
		"scope_id": state.ScopeID,
		"user_id":  state.UserID,
	}, bson.M{
		"$set": bson.M{
			"name":              state.Name,
			"status":            state.Status,
			"viewing_entity_id": state.ViewingEntityID,
			"online_at":         state.OnlineAt,
			"last_seen_at":      at,
		},
	}, options.UpdateOne().SetUpsert(true)); err != nil {
		return fmt.Errorf("upsert heartbeat of %s: %w", state.UserID, err)
	}
	return nil
}

// LastSeen returns the last heartbeat of userID in scopeID.
func (s *Store) LastSeen(ctx context.Context, scopeID, userID string) (*Heartbeat, error) {
	result := s.collection().FindOne(ctx, bson.M{
		"scope_id": scopeID,
		"user_id":  userID,
	})

	hb := &Heartbeat{}
	if err := result.Decode(hb); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s in %s: %w", userID, scopeID, ErrHeartbeatNotFound)
		}
		return nil, fmt.Errorf("find heartbeat of %s: %w", userID, err)
	}
	return hb, nil
}

// SeenSince returns the heartbeats of scopeID at or after since, most
// recent first.
func (s *Store) SeenSince(ctx context.Context, scopeID string, since time.Time) ([]*Heartbeat, error) {
	cursor, err := s.collection().Find(ctx, bson.M{
		"scope_id":     scopeID,
		"last_seen_at": bson.M{"$gte": since},
	}, options.Find().SetSort(bson.D{{Key: "last_seen_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("find heartbeats of %s: %w", scopeID, err)
	}

	var heartbeats []*Heartbeat
	if err := cursor.All(ctx, &heartbeats); err != nil {
		return nil, fmt.Errorf("fetch heartbeats of %s: %w", scopeID, err)
	}
	return heartbeats, nil
}

// DropScope removes every heartbeat of scopeID.
func (s *Store) DropScope(ctx context.Context, scopeID string) error {
	if _, err := s.collection().DeleteMany(ctx, bson.M{"scope_id": scopeID}); err != nil {
		return fmt.Errorf("delete heartbeats of %s: %w", scopeID, err)
	}
	return nil
}

func (s *Store) collection() *mongo.Collection {
	return s.client.Database(s.config.Database).Collection(ColHeartbeats)
}
