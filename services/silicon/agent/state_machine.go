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
	"fmt"
	"sync"
)

// StateMachine manages valid state transitions for the design loop.
//
// The state machine enforces the following transition graph:
//
//	IDLE → INGEST                       : Specification received
//	INGEST → GENERATE                   : Transcript seeded
//	GENERATE → BUILD                    : Candidate extracted (or degraded)
//	BUILD → PHYSICAL_DESIGN             : Verification passed
//	BUILD → DIAGNOSE                    : Verification failed
//	DIAGNOSE → CORRECT                  : Evidence extracted
//	CORRECT → GENERATE                  : Attempt budget remaining
//	CORRECT → DONE_EXHAUSTED            : Attempt budget spent
//	PHYSICAL_DESIGN → DONE_PASSED       : Layout flow succeeded
//	* (non-terminal) → ABORTED          : Cancellation or unrecoverable failure
//
// Thread Safety:
//
//	StateMachine is safe for concurrent use.
type StateMachine struct {
	mu sync.RWMutex

	// transitions maps (from, to) pairs that are valid.
	transitions map[LoopState]map[LoopState]bool
}

// NewStateMachine creates a state machine with all valid transitions.
func NewStateMachine() *StateMachine {
	sm := &StateMachine{
		transitions: make(map[LoopState]map[LoopState]bool),
	}

	for _, state := range AllStates() {
		sm.transitions[state] = make(map[LoopState]bool)
	}

	sm.addTransition(StateIdle, StateIngest)
	sm.addTransition(StateIngest, StateGenerate)
	sm.addTransition(StateGenerate, StateBuild)
	sm.addTransition(StateBuild, StatePhysicalDesign)
	sm.addTransition(StateBuild, StateDiagnose)
	sm.addTransition(StateDiagnose, StateCorrect)
	sm.addTransition(StateCorrect, StateGenerate)
	sm.addTransition(StateCorrect, StateDoneExhausted)
	sm.addTransition(StatePhysicalDesign, StateDonePassed)

	// Any non-terminal state can abort.
	for _, state := range AllStates() {
		if !state.IsTerminal() {
			sm.addTransition(state, StateAborted)
		}
	}

	return sm
}

// addTransition registers a valid transition.
func (sm *StateMachine) addTransition(from, to LoopState) {
	sm.transitions[from][to] = true
}

// CanTransition checks if a transition is valid.
//
// Thread Safety: This method is safe for concurrent use.
func (sm *StateMachine) CanTransition(from, to LoopState) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if toMap, ok := sm.transitions[from]; ok {
		return toMap[to]
	}
	return false
}

// Transition validates the move and returns the new state.
//
// Outputs:
//
//	error - ErrInvalidTransition (wrapped) if the move is not allowed.
func (sm *StateMachine) Transition(from, to LoopState) error {
	if !sm.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// ValidTransitionsFrom returns all valid target states for a source.
//
// Thread Safety: This method is safe for concurrent use.
func (sm *StateMachine) ValidTransitionsFrom(from LoopState) []LoopState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	var result []LoopState
	if toMap, ok := sm.transitions[from]; ok {
		for state, valid := range toMap {
			if valid {
				result = append(result, state)
			}
		}
	}
	return result
}

// DefaultStateMachine is the shared state machine instance.
var DefaultStateMachine = NewStateMachine()
