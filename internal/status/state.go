// Package status tracks the health of the sync loop.
package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/bubbled/internal/bus"
)

// State is the sync health reported to clients.
type State string

const (
	Idle     State = "IDLE"     // poller not running
	Syncing  State = "SYNCING"  // sweep in progress
	Ready    State = "READY"    // last sweep succeeded for every chat
	Degraded State = "DEGRADED" // last sweep had per-chat failures
	Offline  State = "OFFLINE"  // server unreachable
)

var validTransitions = map[State][]State{
	Idle:     {Syncing, Offline},
	Syncing:  {Ready, Degraded, Offline, Idle},
	Ready:    {Syncing, Offline, Idle},
	Degraded: {Syncing, Ready, Offline, Idle},
	Offline:  {Syncing, Ready, Degraded, Idle},
}

// Machine tracks and enforces sync health transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	detail  string
	bus     *bus.Bus
}

// NewMachine creates a machine starting in Idle.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Idle,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Detail returns the message recorded with the last transition.
func (m *Machine) Detail() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.detail
}

// Transition moves to a new state. Moving to the current state only
// updates the detail and publishes nothing.
func (m *Machine) Transition(to State) error {
	return m.TransitionWithDetail(to, "")
}

// TransitionWithDetail is Transition with a human readable reason.
func (m *Machine) TransitionWithDetail(to State, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to == m.current {
		m.detail = detail
		return nil
	}
	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.detail = detail
	if m.bus != nil {
		m.bus.Emit(bus.KindSyncStatus, StatusChange{From: from, To: to, Detail: detail})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From   State
	To     State
	Detail string
}
