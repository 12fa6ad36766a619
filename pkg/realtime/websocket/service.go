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

package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"
	gorilla "github.com/gorilla/websocket"
	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/yorkie-team/wardroom/pkg/logging"
	"github.com/yorkie-team/wardroom/pkg/realtime"
)

// DefaultTimeout is how long a request waits for its reply.
const DefaultTimeout = 10 * time.Second

var errConnectionLost = errors.New("connection lost")

// Option configures a Service.
type Option func(*Service)

// WithTimeout sets how long requests, subscriptions included, wait for a
// reply before they time out.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		s.timeout = timeout
	}
}

// WithLogger sets the logger of the service.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithHeader sets the header sent when dialing, such as authorization.
func WithHeader(header http.Header) Option {
	return func(s *Service) {
		s.header = header
	}
}

// Service is a realtime.Service backed by a websocket connection. The
// connection is dialed lazily and redialed by the next request after it
// is lost.
type Service struct {
	url     string
	header  http.Header
	dialer  *gorilla.Dialer
	timeout time.Duration
	logger  *zap.SugaredLogger

	writeMu sync.Mutex

	mu       sync.Mutex
	conn     *gorilla.Conn
	pending  map[string]chan frame
	channels map[string]*Channel
	closed   bool
}

// New creates a Service for the relay at url without connecting.
func New(url string, opts ...Option) *Service {
	s := &Service{
		url:      url,
		dialer:   gorilla.DefaultDialer,
		timeout:  DefaultTimeout,
		pending:  make(map[string]chan frame),
		channels: make(map[string]*Channel),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.New("websocket")
	}
	return s
}

// Dial creates a Service and connects it.
func Dial(ctx context.Context, url string, opts ...Option) (*Service, error) {
	s := New(url, opts...)
	if _, err := s.connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Channel creates a channel on topic name.
func (s *Service) Channel(name string, opts ...realtime.ChannelOption) realtime.Channel {
	ch := newChannel(s, name, realtime.NewChannelOptions(opts...))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[ch.id] = ch
	return ch
}

// RemoveChannel tears ch down. The relay is told to leave if the
// connection is up; the local streams are closed regardless.
func (s *Service) RemoveChannel(ctx context.Context, ch realtime.Channel) error {
	c, ok := ch.(*Channel)
	if !ok || c.svc != s {
		return fmt.Errorf("remove channel %s: not created by this service", ch.Name())
	}

	s.mu.Lock()
	delete(s.channels, c.id)
	connected := s.conn != nil
	s.mu.Unlock()

	if !c.markRemoved() {
		return nil
	}

	var err error
	if connected {
		_, err = s.request(ctx, frame{Type: frameLeave, Channel: c.id})
	}
	c.close()

	if err != nil {
		return fmt.Errorf("leave %s: %w", c.name, err)
	}
	return nil
}

// Close removes every channel and closes the connection.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	channels := s.channels
	s.channels = make(map[string]*Channel)
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	for _, c := range channels {
		if c.markRemoved() {
			c.close()
		}
	}

	if conn == nil {
		return nil
	}

	s.writeMu.Lock()
	_ = conn.WriteMessage(
		gorilla.CloseMessage,
		gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, ""),
	)
	s.writeMu.Unlock()

	if err := conn.Close(); err != nil {
		return fmt.Errorf("close connection: %w", err)
	}
	return nil
}

func (s *Service) connect(ctx context.Context) (*gorilla.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("connect %s: %w", s.url, realtime.ErrChannelClosed)
	}
	if s.conn != nil {
		return s.conn, nil
	}

	conn, _, err := s.dialer.DialContext(ctx, s.url, s.header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.url, errors.Join(err, realtime.ErrChannelError))
	}
	s.conn = conn
	go s.readLoop(conn)

	s.logger.Debugw("connected", "url", s.url)
	return conn, nil
}

// request sends f and waits for its reply.
func (s *Service) request(ctx context.Context, f frame) (frame, error) {
	conn, err := s.connect(ctx)
	if err != nil {
		return frame{}, err
	}

	f.Ref = xid.New().String()
	replies := make(chan frame, 1)

	s.mu.Lock()
	s.pending[f.Ref] = replies
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, f.Ref)
		s.mu.Unlock()
	}()

	if err := s.write(conn, f); err != nil {
		return frame{}, fmt.Errorf("%s: %w", f.Type, errors.Join(err, realtime.ErrChannelError))
	}

	select {
	case reply := <-replies:
		if reply.Result != replyOK {
			return reply, fmt.Errorf("%s: %s: %w", f.Type, reply.Error, realtime.ErrChannelError)
		}
		return reply, nil
	case <-ctx.Done():
		return frame{}, ctx.Err()
	case <-time.After(s.timeout):
		return frame{}, fmt.Errorf("%s: %w", f.Type, realtime.ErrTimedOut)
	}
}

func (s *Service) write(conn *gorilla.Conn, f frame) error {
	data, err := gojson.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(gorilla.TextMessage, data)
}

func (s *Service) readLoop(conn *gorilla.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.lost(conn, err)
			return
		}

		var f frame
		if err := gojson.Unmarshal(data, &f); err != nil {
			s.logger.Warnw("decode frame", "error", err)
			continue
		}
		s.dispatch(f)
	}
}

func (s *Service) dispatch(f frame) {
	if f.Type == frameReply {
		s.mu.Lock()
		replies, ok := s.pending[f.Ref]
		s.mu.Unlock()
		if ok {
			replies <- f
		}
		return
	}

	s.mu.Lock()
	c, ok := s.channels[f.Channel]
	s.mu.Unlock()
	if !ok {
		return
	}

	switch f.Type {
	case frameStatus:
		c.deliverStatus(f.Status)
	case frameChange:
		if f.Event != nil {
			c.changes.Publish(*f.Event)
		}
	case framePresence:
		if f.Presence != nil {
			c.deliverPresence(*f.Presence)
		}
	default:
		s.logger.Warnw("unexpected frame", "type", string(f.Type))
	}
}

// lost fails pending requests and subscribed channels of a dropped
// connection.
func (s *Service) lost(conn *gorilla.Conn, err error) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	pending := s.pending
	s.pending = make(map[string]chan frame)
	channels := make([]*Channel, 0, len(s.channels))
	for _, c := range s.channels {
		channels = append(channels, c)
	}
	s.mu.Unlock()

	s.logger.Warnw("connection lost", "url", s.url, "error", err)
	_ = conn.Close()

	for _, replies := range pending {
		replies <- frame{Type: frameReply, Result: replyError, Error: errConnectionLost.Error()}
	}
	for _, c := range channels {
		if c.markUnsubscribed() {
			c.statuses.Publish(realtime.StatusChannelError)
		}
	}
}

// Publish sends a change event through the relay.
func (s *Service) Publish(ctx context.Context, event realtime.ChangeEvent) error {
	if _, err := s.request(ctx, frame{Type: framePublish, Event: &event}); err != nil {
		return fmt.Errorf("publish %s: %w", event.Table, err)
	}
	return nil
}
