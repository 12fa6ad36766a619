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

// Package httpapi is the client of the record store's HTTP API. It performs
// authoritative mutations and stores durable presence heartbeats.
package httpapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/yorkie-team/wardroom/api/types"
	"github.com/yorkie-team/wardroom/pkg/errors"
	"github.com/yorkie-team/wardroom/pkg/logging"
	"github.com/yorkie-team/wardroom/pkg/optimistic"
)

const (
	// DefaultTimeout is the default timeout of one request.
	DefaultTimeout = 10 * time.Second

	// DefaultMaxRetries is the default number of heartbeat retries.
	DefaultMaxRetries = 3

	// DefaultMaxWaitInterval caps the wait between heartbeat retries.
	DefaultMaxWaitInterval = 3 * time.Second

	// HeartbeatPath is the path heartbeats are posted to.
	HeartbeatPath = "/presence/heartbeats"

	requestIDHeader = "X-Request-ID"
	maxErrorBody    = 1 << 10
)

var (
	// ErrMutationRejected is returned when the API refuses a mutation.
	ErrMutationRejected = errors.FailedPrecond("mutation rejected").WithCode("ErrMutationRejected")

	// ErrMutationFailed is returned when the API fails to apply a mutation.
	ErrMutationFailed = errors.Internal("mutation failed").WithCode("ErrMutationFailed")

	// ErrUnavailable is returned when the API cannot be reached.
	ErrUnavailable = errors.Unavailable("api unavailable").WithCode("ErrAPIUnavailable")

	// ErrUnexpectedStatusCode is returned when a heartbeat is not accepted.
	ErrUnexpectedStatusCode = errors.Internal("unexpected status code").WithCode("ErrUnexpectedStatusCode")
)

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the timeout of one request.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = timeout
	}
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithRetry sets how heartbeats are retried.
func WithRetry(maxRetries uint64, maxWaitInterval time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.maxWaitInterval = maxWaitInterval
	}
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.http = client
	}
}

// WithLogger sets the logger of the client.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client talks to the record store's HTTP API.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	token   string
	logger  *zap.SugaredLogger

	maxRetries      uint64
	maxWaitInterval time.Duration
}

// New creates a Client of the API at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url %s: %w", baseURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("base url %s: %w", baseURL, errors.InvalidArgument("scheme must be http or https"))
	}

	c := &Client{
		baseURL:         parsed,
		http:            &http.Client{Timeout: DefaultTimeout},
		maxRetries:      DefaultMaxRetries,
		maxWaitInterval: DefaultMaxWaitInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.New("httpapi")
	}
	return c, nil
}

// Mutate sends req once. Mutations are not retried: a failure is reported
// to the caller, which rolls its optimistic state back.
func (c *Client) Mutate(ctx context.Context, req optimistic.Request) error {
	status, body, err := c.do(ctx, req.Method, req.Path, req.Body)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.Path, err)
	}

	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 400 && status < 500:
		return fmt.Errorf("%s %s: %w", req.Method, req.Path, rejection(ErrMutationRejected, status, body))
	default:
		return fmt.Errorf("%s %s: %w", req.Method, req.Path, rejection(ErrMutationFailed, status, body))
	}
}

// Heartbeat posts state as seen at the given time. Server errors and
// connection resets are retried with exponential backoff.
func (c *Client) Heartbeat(ctx context.Context, state types.PresenceState, at time.Time) error {
	payload := heartbeat{PresenceState: state, LastSeenAt: at}

	backoff := retry.NewExponential(100 * time.Millisecond)
	backoff = retry.WithCappedDuration(c.maxWaitInterval, backoff)
	backoff = retry.WithMaxRetries(c.maxRetries, backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		status, _, err := c.do(ctx, http.MethodPost, HeartbeatPath, payload)
		if shouldRetry(status, err) {
			if err == nil {
				err = fmt.Errorf("heartbeat %d: %w", status, ErrUnexpectedStatusCode)
			}
			return retry.RetryableError(err)
		}
		if err != nil {
			return fmt.Errorf("heartbeat: %w", err)
		}
		if status < 200 || status >= 300 {
			return fmt.Errorf("heartbeat %d: %w", status, ErrUnexpectedStatusCode)
		}
		return nil
	})
}

type heartbeat struct {
	types.PresenceState
	LastSeenAt time.Time `json:"last_seen_at"`
}

// do sends one request and returns the status and at most maxErrorBody
// bytes of the response.
func (c *Client) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := gojson.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.JoinPath(path).String(), body)
	if err != nil {
		return 0, nil, fmt.Errorf("new request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	requestID := uuid.NewString()
	req.Header.Set(requestIDHeader, requestID)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		return 0, nil, errors.Join(ErrUnavailable, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Error(err)
		}
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}

	c.logger.Debugw("api request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"request_id", requestID,
	)
	return resp.StatusCode, respBody, nil
}

// rejection attaches the status and reason of a refused request to err.
func rejection(err error, status int, body []byte) error {
	meta := map[string]string{"status": strconv.Itoa(status)}
	if reason := strings.TrimSpace(string(body)); reason != "" {
		if message, ok := errorMessage(body); ok {
			reason = message
		}
		meta["reason"] = reason
	}
	return errors.WithMetadata(err, meta)
}

// errorMessage reads the message of a JSON error body.
func errorMessage(body []byte) (string, bool) {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := gojson.Unmarshal(body, &payload); err != nil {
		return "", false
	}
	if payload.Message != "" {
		return payload.Message, true
	}
	return payload.Error, payload.Error != ""
}

// shouldRetry returns true if the given error should be retried.
func shouldRetry(statusCode int, err error) bool {
	// If the connection is reset, we should retry.
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.ECONNRESET
	}

	return statusCode == http.StatusInternalServerError ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusGatewayTimeout ||
		statusCode == http.StatusTooManyRequests
}
