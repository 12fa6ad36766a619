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
	"fmt"
	"net/http"
	"sync"

	gojson "github.com/goccy/go-json"
	gorilla "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yorkie-team/wardroom/pkg/logging"
	"github.com/yorkie-team/wardroom/pkg/realtime"
	"github.com/yorkie-team/wardroom/pkg/realtime/memory"
)

// Handler exposes the channels of a memory.Hub to websocket clients.
type Handler struct {
	hub      *memory.Hub
	upgrader gorilla.Upgrader
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	sessions map[*session]struct{}
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithHandlerLogger sets the logger of the handler.
func WithHandlerLogger(logger *zap.SugaredLogger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithAnyOrigin accepts upgrades from any origin.
func WithAnyOrigin() HandlerOption {
	return func(h *Handler) {
		h.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
}

// NewHandler creates a Handler serving hub.
func NewHandler(hub *memory.Hub, opts ...HandlerOption) *Handler {
	h := &Handler{
		hub:      hub,
		sessions: make(map[*session]struct{}),
		upgrader: gorilla.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = logging.New("relay")
	}
	return h
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("upgrade connection", "remote", r.RemoteAddr, "error", err)
		return
	}

	s := &session{
		hub:      h.hub,
		conn:     conn,
		channels: make(map[string]*memory.Channel),
		logger:   h.logger.With("remote", r.RemoteAddr),
	}

	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.sessions, s)
		h.mu.Unlock()
	}()

	s.run(context.Background())
}

// Disconnect drops every open connection. Clients see their channels fail
// and may connect again.
func (h *Handler) Disconnect() int {
	h.mu.Lock()
	sessions := make([]*session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		if err := s.conn.Close(); err != nil {
			s.logger.Debugw("drop connection", "error", err)
		}
	}
	return len(sessions)
}

// session serves one websocket connection.
type session struct {
	hub    *memory.Hub
	conn   *gorilla.Conn
	logger *zap.SugaredLogger

	writeMu sync.Mutex

	mu       sync.Mutex
	channels map[string]*memory.Channel
	wg       sync.WaitGroup
}

func (s *session) run(ctx context.Context) {
	defer s.close(ctx)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !gorilla.IsCloseError(err, gorilla.CloseNormalClosure, gorilla.CloseGoingAway) {
				s.logger.Debugw("read frame", "error", err)
			}
			return
		}

		var f frame
		if err := gojson.Unmarshal(data, &f); err != nil {
			s.logger.Warnw("decode frame", "error", err)
			continue
		}

		if err := s.handle(ctx, f); err != nil {
			s.reply(f.Ref, err)
			continue
		}
		s.reply(f.Ref, nil)
	}
}

func (s *session) handle(ctx context.Context, f frame) error {
	switch f.Type {
	case frameSubscribe:
		return s.subscribe(ctx, f)
	case frameTrack:
		ch, err := s.channel(f.Channel)
		if err != nil {
			return err
		}
		if f.State == nil {
			return fmt.Errorf("track %s: missing state", f.Channel)
		}
		return ch.Track(ctx, *f.State)
	case frameUntrack:
		ch, err := s.channel(f.Channel)
		if err != nil {
			return err
		}
		return ch.Untrack(ctx)
	case frameLeave:
		s.mu.Lock()
		ch, ok := s.channels[f.Channel]
		delete(s.channels, f.Channel)
		s.mu.Unlock()
		if !ok {
			return nil
		}
		return s.hub.RemoveChannel(ctx, ch)
	case framePublish:
		if f.Event == nil {
			return fmt.Errorf("publish: missing event")
		}
		s.hub.Publish(*f.Event)
		return nil
	default:
		return fmt.Errorf("unknown frame type %q", f.Type)
	}
}

func (s *session) subscribe(ctx context.Context, f frame) error {
	bindings := make([]realtime.Binding, 0, len(f.Bindings))
	for _, wire := range f.Bindings {
		b, err := wire.toBinding()
		if err != nil {
			return err
		}
		bindings = append(bindings, b)
	}

	s.mu.Lock()
	ch, ok := s.channels[f.Channel]
	if !ok {
		var opts []realtime.ChannelOption
		if f.Key != "" {
			opts = append(opts, realtime.WithPresenceKey(f.Key))
		}
		ch = s.hub.NewChannel(f.Topic, opts...)
		for _, b := range bindings {
			ch.On(b)
		}
		s.channels[f.Channel] = ch

		s.wg.Add(1)
		go s.forward(f.Channel, ch)
	}
	s.mu.Unlock()

	return ch.Subscribe(ctx)
}

func (s *session) channel(id string) (*memory.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[id]
	if !ok {
		return nil, fmt.Errorf("channel %s: %w", id, realtime.ErrChannelClosed)
	}
	return ch, nil
}

// forward relays the streams of ch to the client until they are closed.
func (s *session) forward(id string, ch *memory.Channel) {
	defer s.wg.Done()

	statuses := ch.Statuses()
	changes := ch.Changes()
	presence := ch.Presence()

	for statuses != nil || changes != nil || presence != nil {
		select {
		case status, ok := <-statuses:
			if !ok {
				statuses = nil
				continue
			}
			s.write(frame{Type: frameStatus, Channel: id, Status: status})
		case event, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			s.write(frame{Type: frameChange, Channel: id, Event: &event})
		case event, ok := <-presence:
			if !ok {
				presence = nil
				continue
			}
			s.write(frame{Type: framePresence, Channel: id, Presence: &event})
		}
	}
}

func (s *session) reply(ref string, err error) {
	if ref == "" {
		return
	}

	f := frame{Type: frameReply, Ref: ref, Result: replyOK}
	if err != nil {
		f.Result = replyError
		f.Error = err.Error()
	}
	s.write(f)
}

func (s *session) write(f frame) {
	data, err := gojson.Marshal(f)
	if err != nil {
		s.logger.Errorw("encode frame", "type", string(f.Type), "error", err)
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(gorilla.TextMessage, data); err != nil {
		s.logger.Debugw("write frame", "type", string(f.Type), "error", err)
	}
}

// close removes every channel of the session, waits for the forwarders and
// closes the connection.
func (s *session) close(ctx context.Context) {
	s.mu.Lock()
	channels := s.channels
	s.channels = make(map[string]*memory.Channel)
	s.mu.Unlock()

	for _, ch := range channels {
		if err := s.hub.RemoveChannel(ctx, ch); err != nil {
			s.logger.Warnw("remove channel", "topic", ch.Name(), "error", err)
		}
	}
	s.wg.Wait()

	if err := s.conn.Close(); err != nil {
		s.logger.Debugw("close connection", "error", err)
	}
}
