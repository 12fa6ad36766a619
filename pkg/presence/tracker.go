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

// Package presence publishes the local participant on a scope channel and
// keeps a view of every participant of the scope.
package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/yorkie-team/wardroom/api/types"
	"github.com/yorkie-team/wardroom/internal/validation"
	"github.com/yorkie-team/wardroom/pkg/errors"
	"github.com/yorkie-team/wardroom/pkg/limit"
	"github.com/yorkie-team/wardroom/pkg/logging"
	"github.com/yorkie-team/wardroom/pkg/realtime"
)

const (
	// DefaultBaseDelay is the delay before the first reconnect.
	DefaultBaseDelay = time.Second

	// DefaultMaxDelay caps the delay between reconnects.
	DefaultMaxDelay = 30 * time.Second

	// DefaultMaxRetries is the number of reconnects before giving up.
	DefaultMaxRetries = 5

	// DefaultHeartbeatInterval is the interval of durable heartbeats.
	DefaultHeartbeatInterval = 30 * time.Second

	// DefaultViewDebounce is the quiet period before a view change is
	// published.
	DefaultViewDebounce = 300 * time.Millisecond

	heartbeatTimeout = 5 * time.Second
)

var (
	// ErrRetriesExhausted is returned when the tracker gave up reconnecting.
	ErrRetriesExhausted = errors.Unavailable("presence retries exhausted").WithCode("ErrRetriesExhausted")

	// ErrNotJoined is returned when an operation needs a joined scope.
	ErrNotJoined = errors.FailedPrecond("presence not joined").WithCode("ErrNotJoined")

	// ErrInvalidState is returned when the local presence state is invalid.
	ErrInvalidState = errors.InvalidArgument("invalid presence state").WithCode("ErrInvalidState")
)

// HeartbeatStore persists the last known presence of a participant so that
// "last seen" survives channel disconnects.
type HeartbeatStore interface {
	Heartbeat(ctx context.Context, state types.PresenceState, at time.Time) error
}

// Recorder observes the activity of a tracker.
type Recorder interface {
	RecordConnectionStatus(component, status string)
	RecordReconnect()
	RecordHeartbeat(result string)
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the clock of reconnect, heartbeat and debounce timers.
func WithClock(clk clock.WithTickerAndDelayedExecution) Option {
	return func(t *Tracker) {
		t.clock = clk
	}
}

// WithBackoff sets the reconnect backoff. The n-th reconnect waits
// min(base * 2^(n-1), max); the tracker gives up after maxRetries.
func WithBackoff(base, max time.Duration, maxRetries uint64) Option {
	return func(t *Tracker) {
		t.baseDelay = base
		t.maxDelay = max
		t.maxRetries = maxRetries
	}
}

// WithHeartbeatStore enables durable heartbeats every interval.
func WithHeartbeatStore(store HeartbeatStore, interval time.Duration) Option {
	return func(t *Tracker) {
		t.store = store
		t.heartbeatInterval = interval
	}
}

// WithViewDebounce sets the quiet period of SetViewing.
func WithViewDebounce(wait time.Duration) Option {
	return func(t *Tracker) {
		t.viewDebounce = wait
	}
}

// WithRecorder sets the recorder of the tracker.
func WithRecorder(recorder Recorder) Option {
	return func(t *Tracker) {
		t.recorder = recorder
	}
}

// WithLogger sets the logger of the tracker.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// session is one Join until the matching Leave.
type session struct {
	scopeID string
	cancel  context.CancelFunc
	done    chan struct{}

	// reconnect is signalled by the backoff timer.
	reconnect chan struct{}
}

// Tracker publishes the local PresenceState of a scope and maintains the
// states of all participants of the scope.
//
// Connection failures are retried with exponential backoff until the
// retry budget is spent; the tracker then stays in the error status and
// Err reports ErrRetriesExhausted.
type Tracker struct {
	service  realtime.Service
	clock    clock.WithTickerAndDelayedExecution
	store    HeartbeatStore
	recorder Recorder
	logger   *zap.SugaredLogger

	baseDelay         time.Duration
	maxDelay          time.Duration
	maxRetries        uint64
	heartbeatInterval time.Duration
	viewDebounce      time.Duration

	participants *Participants
	viewing      *limit.Debouncer[string]
	status       types.AtomicConnectionStatus

	// lifecycle serializes Join and Leave.
	lifecycle sync.Mutex
	sess      *session

	mu      sync.RWMutex
	local   types.PresenceState
	channel realtime.Channel
	retries int
	lastErr error
}

// NewTracker creates a Tracker on service.
func NewTracker(service realtime.Service, opts ...Option) (*Tracker, error) {
	participants, err := NewParticipants()
	if err != nil {
		return nil, err
	}

	t := &Tracker{
		service:           service,
		clock:             clock.RealClock{},
		baseDelay:         DefaultBaseDelay,
		maxDelay:          DefaultMaxDelay,
		maxRetries:        DefaultMaxRetries,
		heartbeatInterval: DefaultHeartbeatInterval,
		viewDebounce:      DefaultViewDebounce,
		participants:      participants,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = logging.New("presence")
	}
	if t.heartbeatInterval <= 0 {
		t.heartbeatInterval = DefaultHeartbeatInterval
	}

	t.viewing = limit.Debounce(t.clock, t.publishViewing, t.viewDebounce)
	t.status.Store(types.Disconnected)
	return t, nil
}

// Join starts publishing state on the presence channel of its scope. A
// previous Join is left first. Connection progress is reported through
// Status and Err.
func (t *Tracker) Join(ctx context.Context, state types.PresenceState) error {
	if state.Status == "" {
		state.Status = types.PresenceOnline
	}
	if err := validation.ValidateStruct(state); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	if state.OnlineAt.IsZero() {
		state.OnlineAt = t.clock.Now()
	}

	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	if t.sess != nil {
		t.leave(ctx)
	}

	t.mu.Lock()
	t.local = state
	t.retries = 0
	t.lastErr = nil
	t.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	sess := &session{
		scopeID:   state.ScopeID,
		cancel:    cancel,
		done:      make(chan struct{}),
		reconnect: make(chan struct{}, 1),
	}
	t.sess = sess
	t.setStatus(types.Connecting)

	go t.run(runCtx, sess)
	return nil
}

// Leave withdraws the local presence and releases the channel. Untracking
// is best effort; the channel is released even if it fails.
func (t *Tracker) Leave(ctx context.Context) error {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	if t.sess == nil {
		return ErrNotJoined
	}
	t.leave(ctx)
	return nil
}

// leave must be called with t.lifecycle held.
func (t *Tracker) leave(ctx context.Context) {
	sess := t.sess
	t.sess = nil

	// Timers first, so nothing reconnects or republishes behind us.
	sess.cancel()
	<-sess.done
	t.viewing.Cancel()

	t.mu.Lock()
	ch := t.channel
	t.channel = nil
	t.mu.Unlock()

	if ch != nil {
		if err := ch.Untrack(ctx); err != nil {
			t.logger.Warnw("untrack presence", "scope", sess.scopeID, "error", err)
		}
		t.release(ctx, ch)
	}

	if err := t.participants.Clear(); err != nil {
		t.logger.Errorw("clear participants", "error", err)
	}
	t.setStatus(types.Disconnected)
}

// Status returns the connection status.
func (t *Tracker) Status() types.ConnectionStatus {
	return t.status.Load()
}

// Err returns the last failure. After the retries are exhausted it wraps
// ErrRetriesExhausted.
func (t *Tracker) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastErr
}

// Retries returns the number of reconnects since the last successful
// subscribe.
func (t *Tracker) Retries() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.retries
}

// LocalState returns the state this tracker publishes.
func (t *Tracker) LocalState() types.PresenceState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.local
}

// Users returns the states of all participants ordered by key.
func (t *Tracker) Users() []types.PresenceState {
	return t.participants.All()
}

// UsersViewingEntity returns the participants that are not offline and
// have entityID open.
func (t *Tracker) UsersViewingEntity(entityID string) []types.PresenceState {
	return t.participants.Viewing(entityID)
}

// SetViewing changes the entity the local participant has open. Rapid
// changes are published once, after the debounce period.
func (t *Tracker) SetViewing(entityID string) error {
	if !t.joined() {
		return ErrNotJoined
	}

	t.viewing.Call(entityID)
	return nil
}

// SetStatus changes the status of the local participant and publishes it
// immediately.
func (t *Tracker) SetStatus(ctx context.Context, status types.PresenceStatus) error {
	if !t.joined() {
		return ErrNotJoined
	}

	t.mu.Lock()
	next := t.local
	next.Status = status
	if err := validation.ValidateStruct(next); err != nil {
		t.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	t.local = next
	ch := t.channel
	t.mu.Unlock()

	return t.track(ctx, ch, next)
}

func (t *Tracker) joined() bool {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()
	return t.sess != nil
}

// publishViewing runs on the debounce timer and must not call the clock.
func (t *Tracker) publishViewing(entityID string) {
	t.mu.Lock()
	t.local.ViewingEntityID = entityID
	state := t.local
	ch := t.channel
	t.mu.Unlock()

	if err := t.track(context.Background(), ch, state); err != nil {
		t.logger.Warnw("publish viewed entity", "entity", entityID, "error", err)
	}
}

// track publishes state on ch. Without a connected channel the state is
// published on the next subscribe.
func (t *Tracker) track(ctx context.Context, ch realtime.Channel, state types.PresenceState) error {
	if ch == nil || t.Status() != types.Connected {
		return nil
	}
	if err := ch.Track(ctx, state); err != nil {
		return fmt.Errorf("track %s: %w", ch.Name(), err)
	}
	return nil
}

// run owns the channel of sess until the session is cancelled or the
// retries are exhausted.
func (t *Tracker) run(ctx context.Context, sess *session) {
	defer close(sess.done)

	backoff := t.newBackoff()
	for {
		ch := t.open(sess.scopeID)
		connected, err := t.watch(ctx, ch)
		if ctx.Err() != nil {
			return
		}

		t.mu.Lock()
		t.channel = nil
		t.mu.Unlock()
		t.release(ctx, ch)

		if connected {
			backoff = t.newBackoff()
			t.mu.Lock()
			t.retries = 0
			t.mu.Unlock()
		}

		delay, stop := backoff.Next()
		if stop {
			t.exhaust(err)
			return
		}

		t.mu.Lock()
		t.retries++
		t.lastErr = err
		retries := t.retries
		t.mu.Unlock()
		t.setStatus(types.Errored)
		if t.recorder != nil {
			t.recorder.RecordReconnect()
		}
		t.logger.Warnw("presence channel failed, reconnecting",
			"scope", sess.scopeID,
			"retry", retries,
			"delay", delay,
			"error", err,
		)

		timer := t.clock.AfterFunc(delay, func() {
			select {
			case sess.reconnect <- struct{}{}:
			default:
			}
		})
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-sess.reconnect:
		}
		t.setStatus(types.Connecting)
	}
}

func (t *Tracker) open(scopeID string) realtime.Channel {
	t.mu.Lock()
	key := t.local.UserID
	t.mu.Unlock()

	ch := t.service.Channel(realtime.PresenceTopic(scopeID), realtime.WithPresenceKey(key))

	t.mu.Lock()
	t.channel = ch
	t.mu.Unlock()
	return ch
}

// watch subscribes ch and serves it until it fails. It reports whether the
// subscription succeeded before the failure.
func (t *Tracker) watch(ctx context.Context, ch realtime.Channel) (bool, error) {
	if err := ch.Subscribe(ctx); err != nil {
		return false, fmt.Errorf("subscribe %s: %w", ch.Name(), err)
	}

	var heartbeats <-chan time.Time
	var ticker clock.Ticker
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	connected := false
	statuses := ch.Statuses()
	events := ch.Presence()
	for {
		select {
		case <-ctx.Done():
			return connected, ctx.Err()
		case status, ok := <-statuses:
			if !ok {
				return connected, fmt.Errorf("watch %s: %w", ch.Name(), realtime.ErrChannelClosed)
			}
			switch {
			case status == realtime.StatusSubscribed:
				connected = true
				t.onSubscribed(ctx, ch)
				if t.store != nil && ticker == nil {
					ticker = t.clock.NewTicker(t.heartbeatInterval)
					heartbeats = ticker.C()
				}
			case status.IsFailure():
				return connected, fmt.Errorf("watch %s: %w", ch.Name(), status.Err())
			case status == realtime.StatusClosed:
				return connected, fmt.Errorf("watch %s: %w", ch.Name(), realtime.ErrChannelClosed)
			}
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			t.onPresence(event)
		case at := <-heartbeats:
			t.beat(ctx, at)
		}
	}
}

func (t *Tracker) onSubscribed(ctx context.Context, ch realtime.Channel) {
	t.mu.Lock()
	t.retries = 0
	t.lastErr = nil
	state := t.local
	t.mu.Unlock()
	t.setStatus(types.Connected)

	if err := t.track(ctx, ch, state); err != nil {
		t.logger.Warnw("track presence", "error", err)
	}
}

func (t *Tracker) onPresence(event realtime.PresenceEvent) {
	var err error
	switch event.Kind {
	case realtime.PresenceSync:
		err = t.participants.Rebuild(event.State)
	case realtime.PresenceJoin:
		err = t.participants.Join(event.Key, event.States)
	case realtime.PresenceLeave:
		err = t.participants.Leave(event.Key)
	}
	if err != nil {
		t.logger.Errorw("apply presence event", "kind", string(event.Kind), "error", err)
	}
}

func (t *Tracker) beat(ctx context.Context, at time.Time) {
	state := t.LocalState()

	ctx, cancel := context.WithTimeout(ctx, heartbeatTimeout)
	defer cancel()

	result := "ok"
	if err := t.store.Heartbeat(ctx, state, at); err != nil {
		result = "error"
		t.logger.Warnw("store heartbeat", "user", state.UserID, "error", err)
	}
	if t.recorder != nil {
		t.recorder.RecordHeartbeat(result)
	}
}

func (t *Tracker) release(ctx context.Context, ch realtime.Channel) {
	if err := t.service.RemoveChannel(ctx, ch); err != nil {
		t.logger.Warnw("remove presence channel", "channel", ch.Name(), "error", err)
	}
}

func (t *Tracker) exhaust(last error) {
	t.mu.Lock()
	attempts := t.retries + 1
	t.lastErr = fmt.Errorf("%w: gave up after %d attempts, last failure: %w", ErrRetriesExhausted, attempts, last)
	err := t.lastErr
	t.mu.Unlock()

	t.setStatus(types.Errored)
	t.logger.Errorw("presence reconnect failed", "error", err)
}

func (t *Tracker) newBackoff() retry.Backoff {
	backoff := retry.NewExponential(t.baseDelay)
	backoff = retry.WithCappedDuration(t.maxDelay, backoff)
	return retry.WithMaxRetries(t.maxRetries, backoff)
}

func (t *Tracker) setStatus(status types.ConnectionStatus) {
	if prev := t.status.Store(status); prev == status {
		return
	}
	if t.recorder != nil {
		t.recorder.RecordConnectionStatus("presence", string(status))
	}
}
