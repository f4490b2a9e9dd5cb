// Package session folds decoded pipe items into playback session state.
package session

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// State is the playback lifecycle phase of an AirPlay session.
type State string

// Session states.
const (
	StateNoSession State = "no_session"
	StateWaiting   State = "waiting"
	StatePlaying   State = "playing"
	StatePaused    State = "paused"
	StateStopped   State = "stopped"
)

// validTransitions defines the permitted state graph. Anything not listed is
// treated as an out-of-order control item and ignored; the AirPlay source is
// allowed to be sloppy, the state machine is not.
var validTransitions = map[State][]State{
	StateNoSession: {StatePlaying},
	StatePlaying:   {StatePaused, StateStopped, StateNoSession},
	StatePaused:    {StatePlaying, StateStopped, StateWaiting, StateNoSession},
	StateStopped:   {StatePlaying, StateWaiting, StateNoSession},
	StateWaiting:   {StatePlaying, StateNoSession},
}

// Machine validates and tracks session state transitions. It is the only
// mutation path for the session state.
type Machine struct {
	mu       sync.RWMutex
	current  State
	previous State
}

// NewMachine creates a state machine starting in no_session.
func NewMachine() *Machine {
	return &Machine{current: StateNoSession}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Previous returns the state before the last transition.
func (m *Machine) Previous() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.previous
}

// CanTransition reports whether a transition to the target state is valid.
// Transitioning to the current state is always a valid no-op.
func (m *Machine) CanTransition(to State) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.canTransitionLocked(to)
}

func (m *Machine) canTransitionLocked(to State) bool {
	if to == m.current {
		return true
	}
	for _, s := range validTransitions[m.current] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionTo attempts a validated transition. It returns the prior state
// and whether the state actually changed. Invalid transitions are logged
// no-ops, not errors: out-of-order control items are expected from the
// source.
func (m *Machine) TransitionTo(to State, reason string) (from State, changed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from = m.current
	if to == m.current {
		return from, false
	}

	if !m.canTransitionLocked(to) {
		log.Warn().
			Str("from", string(m.current)).
			Str("to", string(to)).
			Str("reason", reason).
			Msg("Ignoring invalid state transition")
		return from, false
	}

	m.previous = m.current
	m.current = to

	log.Info().
		Str("from", string(from)).
		Str("to", string(to)).
		Str("reason", reason).
		Msg("Session state transition")
	return from, true
}

// Reset forces the machine back to no_session, bypassing validation.
// Used for teardown and test isolation.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.previous = m.current
	m.current = StateNoSession
}
