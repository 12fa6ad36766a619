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

// Package errors provides errors with structured status codes that tell the
// realtime core how to react: retry, surface to the caller, or resolve.
package errors

import "fmt"

// StatusCode classifies an error. The values follow the Connect protocol
// codes.
type StatusCode int

const (
	// ErrCodeCanceled indicates that the operation was canceled by the caller.
	ErrCodeCanceled StatusCode = 1

	// ErrCodeInvalidArgument indicates that the caller specified an invalid argument.
	ErrCodeInvalidArgument StatusCode = 3

	// ErrCodeNotFound indicates that a requested entity was not found.
	ErrCodeNotFound StatusCode = 5

	// ErrCodeFailedPrecondition indicates that the component is not in a
	// state required for the operation, or that the server rejected a write.
	ErrCodeFailedPrecondition StatusCode = 9

	// ErrCodeAborted indicates a conflict between a local and a server version.
	ErrCodeAborted StatusCode = 10

	// ErrCodeInternal indicates that an invariant has been broken.
	ErrCodeInternal StatusCode = 13

	// ErrCodeUnavailable indicates a transient network or channel failure.
	// Operations failing with it can be retried with backoff.
	ErrCodeUnavailable StatusCode = 14
)

// String returns the string representation of the status code.
func (c StatusCode) String() string {
	switch c {
	case ErrCodeCanceled:
		return "canceled"
	case ErrCodeInvalidArgument:
		return "invalid_argument"
	case ErrCodeNotFound:
		return "not_found"
	case ErrCodeFailedPrecondition:
		return "failed_precondition"
	case ErrCodeAborted:
		return "aborted"
	case ErrCodeInternal:
		return "internal"
	case ErrCodeUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("code_%d", int(c))
	}
}

// IsRetryable returns true if an operation failing with this code may
// succeed when retried.
func (c StatusCode) IsRetryable() bool {
	return c == ErrCodeUnavailable
}
