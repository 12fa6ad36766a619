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

package errors

import (
	"errors"
	"maps"
)

// MetadataError attaches string details to an error, such as the HTTP
// status or request id of a rejected mutation.
type MetadataError struct {
	err      error
	metadata map[string]string
}

// Error returns the error message.
func (e MetadataError) Error() string {
	return e.err.Error()
}

// Status returns the status of the wrapped error.
func (e MetadataError) Status() StatusCode {
	return StatusOf(e.err)
}

// Unwrap returns the wrapped error.
func (e MetadataError) Unwrap() error {
	return e.err
}

// Metadata returns a copy of the details.
func (e MetadataError) Metadata() map[string]string {
	return maps.Clone(e.metadata)
}

// WithMetadata wraps err with details. Details of an error that already
// carries some are merged, the new values winning.
func WithMetadata(err error, metadata map[string]string) error {
	if err == nil || len(metadata) == 0 {
		return err
	}

	merged := make(map[string]string, len(metadata))
	var existing MetadataError
	if errors.As(err, &existing) {
		maps.Copy(merged, existing.metadata)
		if direct, ok := err.(MetadataError); ok {
			err = direct.err
		}
	}
	maps.Copy(merged, metadata)

	return MetadataError{err: err, metadata: merged}
}

// Metadata returns the details of err, or nil.
func Metadata(err error) map[string]string {
	var metaErr MetadataError
	if err == nil || !errors.As(err, &metaErr) {
		return nil
	}
	return metaErr.Metadata()
}
