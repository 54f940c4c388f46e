package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/wptrack/internal/bus"
)

// State represents the lifecycle state of the WhatsApp session.
type State string

const (
	Booting       State = "BOOTING"
	AwaitingQR    State = "AWAITING_QR"
	Authenticated State = "AUTHENTICATED"
	Ready         State = "READY"
	Disconnected  State = "DISCONNECTED"
	AuthFailed    State = "AUTH_FAILED"
	ShuttingDown  State = "SHUTTING_DOWN"
)

// validTransitions defines allowed state transitions. Re-entering the current
// state is always allowed and is a no-op. AuthFailed is left for Ready when a
// temporary ban lifts and the connection comes back.
var validTransitions = map[State][]State{
	Booting:       {AwaitingQR, Authenticated, Ready, Disconnected, AuthFailed, ShuttingDown},
	AwaitingQR:    {Authenticated, AuthFailed, Disconnected, ShuttingDown},
	Authenticated: {Ready, Disconnected, AuthFailed, ShuttingDown},
	Ready:         {Disconnected, AuthFailed, ShuttingDown},
	Disconnected:  {Ready, AwaitingQR, AuthFailed, ShuttingDown},
	AuthFailed:    {AwaitingQR, Authenticated, Ready, Disconnected, ShuttingDown},
	ShuttingDown:  {},
}

// Machine tracks and enforces session state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	since   time.Time
	bus     *bus.Bus
	now     func() time.Time
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	m := &Machine{
		current: Booting,
		bus:     b,
		now:     time.Now,
	}
	m.since = m.now()
	return m
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Snapshot returns the current state and when it was entered.
func (m *Machine) Snapshot() (State, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, m.since
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to == m.current {
		return nil
	}
	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.since = m.now()
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindStatusChanged,
			Timestamp: m.since,
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State `json:"from"`
	To   State `json:"to"`
}
