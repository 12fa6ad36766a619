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
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yorkie-team/wardroom/internal/validation"
	"github.com/yorkie-team/wardroom/pkg/conflict"
	"github.com/yorkie-team/wardroom/pkg/errors"
	"github.com/yorkie-team/wardroom/pkg/heartbeat/mongo"
	"github.com/yorkie-team/wardroom/pkg/profiling"
)

// Below are the values of the default values of Wardroom config.
const (
	DefaultSubscribeTimeout = 10 * time.Second

	DefaultHeartbeatInterval = 30 * time.Second
	DefaultBaseDelay         = 1 * time.Second
	DefaultMaxDelay          = 30 * time.Second
	DefaultMaxRetries        = 5
	DefaultViewDebounce      = 300 * time.Millisecond

	DefaultSyncedGracePeriod = 5 * time.Second
	DefaultConflictStrategy  = conflict.ServerWins

	DefaultCacheSize           = 1000
	DefaultCacheTTL            = 5 * time.Minute
	DefaultCacheReportInterval = time.Minute

	DefaultMinSeverity    = "critical"
	DefaultNotifyInterval = 5 * time.Second

	DefaultAPITimeout = 10 * time.Second

	DefaultMongoConnectionURI = "mongodb://localhost:27017"
)

var (
	// ErrInvalidDelayRange is returned when the maximum reconnect delay is
	// shorter than the base delay.
	ErrInvalidDelayRange = errors.InvalidArgument("max delay must not be shorter than base delay").
		WithCode("ErrInvalidDelayRange")
)

// Config is the configuration for creating a Client instance.
type Config struct {
	Realtime      Realtime          `yaml:"Realtime"`
	Presence      Presence          `yaml:"Presence"`
	Ledger        Ledger            `yaml:"Ledger"`
	Cache         Cache             `yaml:"Cache"`
	Notifications Notifications     `yaml:"Notifications"`
	API           API               `yaml:"API"`
	Profiling     *profiling.Config `yaml:"Profiling"`
	Mongo         *mongo.Config     `yaml:"Mongo"`
}

// Realtime is the configuration of the change stream connection.
type Realtime struct {
	// URL is the websocket endpoint of the relay.
	URL              string `yaml:"URL" validate:"omitempty,url"`
	SubscribeTimeout string `yaml:"SubscribeTimeout" validate:"duration"`
}

// Presence is the configuration of the presence tracker.
type Presence struct {
	HeartbeatInterval string `yaml:"HeartbeatInterval" validate:"duration"`
	BaseDelay         string `yaml:"BaseDelay" validate:"duration"`
	MaxDelay          string `yaml:"MaxDelay" validate:"duration"`
	MaxRetries        uint64 `yaml:"MaxRetries" validate:"gte=1"`
	ViewDebounce      string `yaml:"ViewDebounce" validate:"duration"`
}

// Ledger is the configuration of the optimistic update ledgers.
type Ledger struct {
	SyncedGracePeriod string `yaml:"SyncedGracePeriod" validate:"duration"`
	ConflictStrategy  string `yaml:"ConflictStrategy" validate:"oneof=server_wins client_wins merge manual"`
}

// Cache is the configuration of the query cache.
type Cache struct {
	Size int    `yaml:"Size" validate:"gt=0"`
	TTL  string `yaml:"TTL" validate:"duration"`
}

// Notifications is the configuration of the notification sink.
type Notifications struct {
	MinSeverity string `yaml:"MinSeverity" validate:"severity"`
	Interval    string `yaml:"Interval" validate:"duration"`
}

// API is the configuration of the record API mutations are sent to.
type API struct {
	BaseURL string `yaml:"BaseURL" validate:"omitempty,url"`
	Timeout string `yaml:"Timeout" validate:"duration"`
	Token   string `yaml:"Token"`
}

// NewConfig returns a Config struct that contains reasonable defaults
// for most of the configurations.
func NewConfig() *Config {
	conf := &Config{}
	conf.ensureDefaultValue()
	return conf
}

// NewConfigFromFile returns a Config struct for the given conf file.
func NewConfigFromFile(path string) (*Config, error) {
	conf := &Config{}
	bytes, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err = yaml.Unmarshal(bytes, conf); err != nil {
		return nil, fmt.Errorf("unmarshal config file: %w", err)
	}

	conf.ensureDefaultValue()
	return conf, nil
}

// Validate returns an error if the provided Config is invalidated.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	if duration(c.Presence.MaxDelay) < duration(c.Presence.BaseDelay) {
		return fmt.Errorf("presence %s < %s: %w", c.Presence.MaxDelay, c.Presence.BaseDelay, ErrInvalidDelayRange)
	}

	if c.Profiling != nil {
		if err := c.Profiling.Validate(); err != nil {
			return err
		}
	}

	if c.Mongo != nil {
		if err := c.Mongo.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// ensureDefaultValue sets the value of the option to which the default value
// should be applied when the user does not input it.
func (c *Config) ensureDefaultValue() {
	if c.Realtime.SubscribeTimeout == "" {
		c.Realtime.SubscribeTimeout = DefaultSubscribeTimeout.String()
	}

	if c.Presence.HeartbeatInterval == "" {
		c.Presence.HeartbeatInterval = DefaultHeartbeatInterval.String()
	}
	if c.Presence.BaseDelay == "" {
		c.Presence.BaseDelay = DefaultBaseDelay.String()
	}
	if c.Presence.MaxDelay == "" {
		c.Presence.MaxDelay = DefaultMaxDelay.String()
	}
	if c.Presence.MaxRetries == 0 {
		c.Presence.MaxRetries = DefaultMaxRetries
	}
	if c.Presence.ViewDebounce == "" {
		c.Presence.ViewDebounce = DefaultViewDebounce.String()
	}

	if c.Ledger.SyncedGracePeriod == "" {
		c.Ledger.SyncedGracePeriod = DefaultSyncedGracePeriod.String()
	}
	if c.Ledger.ConflictStrategy == "" {
		c.Ledger.ConflictStrategy = string(DefaultConflictStrategy)
	}

	if c.Cache.Size == 0 {
		c.Cache.Size = DefaultCacheSize
	}
	if c.Cache.TTL == "" {
		c.Cache.TTL = DefaultCacheTTL.String()
	}

	if c.Notifications.MinSeverity == "" {
		c.Notifications.MinSeverity = DefaultMinSeverity
	}
	if c.Notifications.Interval == "" {
		c.Notifications.Interval = DefaultNotifyInterval.String()
	}

	if c.API.Timeout == "" {
		c.API.Timeout = DefaultAPITimeout.String()
	}

	if c.Profiling != nil && c.Profiling.Port == 0 {
		c.Profiling.Port = profiling.DefaultPort
	}

	if c.Mongo != nil {
		if c.Mongo.ConnectionURI == "" {
			c.Mongo.ConnectionURI = DefaultMongoConnectionURI
		}
		c.Mongo.EnsureDefaultValue()
	}
}

// duration parses a validated duration string.
func duration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
