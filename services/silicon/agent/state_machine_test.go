// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateMachine_ValidTransitions(t *testing.T) {
	sm := NewStateMachine()

	validTransitions := []struct {
		from LoopState
		to   LoopState
	}{
		{StateIdle, StateIngest},
		{StateIngest, StateGenerate},
		{StateGenerate, StateBuild},
		{StateBuild, StatePhysicalDesign},
		{StateBuild, StateDiagnose},
		{StateDiagnose, StateCorrect},
		{StateCorrect, StateGenerate},
		{StateCorrect, StateDoneExhausted},
		{StatePhysicalDesign, StateDonePassed},
		{StateIdle, StateAborted},
		{StateGenerate, StateAborted},
		{StateBuild, StateAborted},
		{StatePhysicalDesign, StateAborted},
	}

	for _, tt := range validTransitions {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.True(t, sm.CanTransition(tt.from, tt.to))
			assert.NoError(t, sm.Transition(tt.from, tt.to))
		})
	}
}

func TestStateMachine_InvalidTransitions(t *testing.T) {
	sm := NewStateMachine()

	invalidTransitions := []struct {
		from LoopState
		to   LoopState
	}{
		{StateIdle, StateGenerate},
		{StateIngest, StateBuild},
		{StateGenerate, StateDiagnose},
		{StateBuild, StateCorrect},
		{StateBuild, StateDonePassed},
		{StateDiagnose, StateGenerate},
		{StateCorrect, StateBuild},
		{StateDonePassed, StateGenerate},
		{StateDoneExhausted, StateGenerate},
		{StateAborted, StateIngest},
		// Terminal states never abort again.
		{StateDonePassed, StateAborted},
		{StateDoneExhausted, StateAborted},
		{StateAborted, StateAborted},
	}

	for _, tt := range invalidTransitions {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.False(t, sm.CanTransition(tt.from, tt.to))
			err := sm.Transition(tt.from, tt.to)
			assert.ErrorIs(t, err, ErrInvalidTransition)
		})
	}
}

func TestStateMachine_TerminalStates(t *testing.T) {
	for _, state := range AllStates() {
		terminal := state == StateDonePassed || state == StateDoneExhausted || state == StateAborted
		assert.Equal(t, terminal, state.IsTerminal(), "state %s", state)
	}
}

func TestStateMachine_AllNonTerminalStatesCanAbort(t *testing.T) {
	sm := NewStateMachine()
	for _, state := range AllStates() {
		if state.IsTerminal() {
			continue
		}
		assert.True(t, sm.CanTransition(state, StateAborted), "state %s", state)
	}
}
