package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/wxweb/internal/bus"
)

// State is a login lifecycle state.
type State string

const (
	Idle         State = "IDLE"
	AwaitingQR   State = "AWAITING_QR"
	PollingScan  State = "POLLING_SCAN"
	Confirmed    State = "CONFIRMED"
	Bootstrapped State = "BOOTSTRAPPED"
	LoggedOut    State = "LOGGED_OUT"
)

// validTransitions defines allowed state transitions. Idle may jump straight
// to PollingScan after a push login, or to Bootstrapped after a restored
// session is accepted.
var validTransitions = map[State][]State{
	Idle:         {AwaitingQR, PollingScan, Bootstrapped, LoggedOut},
	AwaitingQR:   {PollingScan, LoggedOut},
	PollingScan:  {Confirmed, AwaitingQR, LoggedOut},
	Confirmed:    {Bootstrapped, LoggedOut},
	Bootstrapped: {LoggedOut},
	LoggedOut:    {Idle},
}

// Machine tracks and enforces login state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Idle.
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

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Emit(bus.KindStatusChanged, StatusChange{From: from, To: to})
	return nil
}

// Reset forces the machine back to Idle, passing through LoggedOut when
// needed. It is used when a login attempt is abandoned midway.
func (m *Machine) Reset() {
	if m.Current() == Idle {
		return
	}
	if m.Current() != LoggedOut {
		_ = m.Transition(LoggedOut)
	}
	_ = m.Transition(Idle)
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
