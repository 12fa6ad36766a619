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

package validation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yorkie-team/wardroom/api/types"
	"github.com/yorkie-team/wardroom/internal/validation"
)

func TestValidation(t *testing.T) {
	t.Run("ValidateValue test", func(t *testing.T) {
		assert.NoError(t, validation.ValidateValue("1m30s", "duration"))

		err := validation.ValidateValue("one hour", "duration")
		require.Error(t, err)
		assert.Equal(t, "duration", err.(validation.Violation).Tag)

		err = validation.ValidateValue("-5s", "duration")
		require.Error(t, err)

		assert.NoError(t, validation.ValidateValue("critical", "severity"))
		assert.Error(t, validation.ValidateValue("urgent", "severity"))
	})

	t.Run("ValidateStruct test", func(t *testing.T) {
		type Section struct {
			Interval    string `validate:"required,duration"`
			MinSeverity string `validate:"severity"`
		}

		assert.NoError(t, validation.ValidateStruct(Section{Interval: "5s", MinSeverity: "high"}))

		err := validation.ValidateStruct(Section{Interval: "soon", MinSeverity: "urgent"})
		structErr, ok := err.(*validation.StructError)
		require.True(t, ok)
		require.Len(t, structErr.Violations, 2)
		assert.Equal(t, "duration", structErr.Violations[0].Tag)
		assert.Equal(t, "Section.Interval", structErr.Violations[0].Field)
		assert.Equal(t, "Interval must be a positive duration such as 30s", structErr.Violations[0].Description)
		assert.Equal(t, "severity", structErr.Violations[1].Tag)
		assert.Contains(t, err.Error(), "MinSeverity must be one of low, medium, high or critical")
	})

	t.Run("presence state test", func(t *testing.T) {
		state := types.PresenceState{UserID: "u1", ScopeID: "w1", Status: types.PresenceAway}
		assert.NoError(t, validation.ValidateStruct(state))

		state.Status = "busy"
		err := validation.ValidateStruct(state)
		require.Error(t, err)
		assert.Equal(t, "presence_status", err.(*validation.StructError).Violations[0].Tag)

		err = validation.ValidateStruct(types.PresenceState{Status: types.PresenceOnline})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "UserID is a required field")
	})
}
