// Package trade runs the per-runner trade state machine.
package trade

import (
	"errors"
	"fmt"
)

// State is a member of the closed trade state set.
type State string

const (
	StateIdle              State = "IDLE"
	StateOpenPlacing       State = "OPEN_PLACING"
	StateOpenMatching      State = "OPEN_MATCHING"
	StateBin               State = "BIN"
	StatePending           State = "PENDING"
	StateHedgeSelect       State = "HEDGE_SELECT"
	StateHedgeTakePlace    State = "HEDGE_TAKE_PLACE"
	StateHedgeTakeMatching State = "HEDGE_TAKE_MATCHING"
	StateCleaning          State = "CLEANING"
)

// States lists every declared state.
var States = []State{
	StateIdle,
	StateOpenPlacing,
	StateOpenMatching,
	StateBin,
	StatePending,
	StateHedgeSelect,
	StateHedgeTakePlace,
	StateHedgeTakeMatching,
	StateCleaning,
}

// CutoffSequence is force-pushed when the cutoff gate rises mid-trade: cancel what is unmatched,
// wait for it, then hedge out.
var CutoffSequence = []State{
	StateBin,
	StatePending,
	StateHedgeSelect,
	StateHedgeTakePlace,
	StateHedgeTakeMatching,
	StateCleaning,
}

// Valid reports whether s is a declared state.
func (s State) Valid() bool {
	for _, d := range States {
		if d == s {
			return true
		}
	}
	return false
}

// Inactive reports whether no trade is in flight.
func (s State) Inactive() bool { return s == StateIdle || s == StateCleaning }

var (
	ErrUnknownState   = errors.New("undeclared trade state")
	ErrNoHandler      = errors.New("no handler for trade state")
	ErrTransitionLoop = errors.New("too many trade state transitions in one run")
)

// maxTransitions bounds transitions in a single Run.
const maxTransitions = 64

type resultKind int

const (
	resultHold resultKind = iota
	resultDone
	resultGoto
)

// Result is what a state handler asks the machine to do next.
type Result struct {
	kind   resultKind
	states []State
}

// Hold keeps the current state until the next run.
func Hold() Result { return Result{kind: resultHold} }

// Done finishes the current state and moves to the next pending one (IDLE when none).
func Done() Result { return Result{kind: resultDone} }

// Goto pushes states ahead of the pending ones and moves to the first.
func Goto(states ...State) Result { return Result{kind: resultGoto, states: states} }

// Handler runs one state. entering is true on the first call after the state was entered.
type Handler func(entering bool) (Result, error)

// Machine is a state with a pending-transition stack. The stack front is the next state.
type Machine struct {
	state    State
	pending  []State
	entering bool
	handlers map[State]Handler
	// OnTransition is called for every state change.
	OnTransition func(from, to State)
}

// NewMachine starts in IDLE.
func NewMachine() *Machine {
	return &Machine{state: StateIdle, entering: true, handlers: make(map[State]Handler)}
}

// Handle registers the handler for s.
func (m *Machine) Handle(s State, h Handler) {
	m.handlers[s] = h
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Pending returns a copy of the pending stack.
func (m *Machine) Pending() []State { return append([]State(nil), m.pending...) }

// ForceChange replaces the pending stack with states and moves to the first of them.
func (m *Machine) ForceChange(states ...State) error {
	if len(states) == 0 {
		return fmt.Errorf("force change: %w: empty sequence", ErrUnknownState)
	}
	if err := validate(states); err != nil {
		return err
	}
	m.pending = append([]State(nil), states[1:]...)
	m.enter(states[0])
	return nil
}

// Flush clears the pending stack.
func (m *Machine) Flush() { m.pending = nil }

// Reset moves to IDLE with nothing pending.
func (m *Machine) Reset() {
	m.Flush()
	m.enter(StateIdle)
}

func (m *Machine) enter(s State) {
	from := m.state
	m.state = s
	m.entering = true
	if m.OnTransition != nil && from != s {
		m.OnTransition(from, s)
	}
}

// Run executes handlers until one holds.
func (m *Machine) Run() error {
	for i := 0; i < maxTransitions; i++ {
		h, ok := m.handlers[m.state]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNoHandler, m.state)
		}
		entering := m.entering
		m.entering = false
		res, err := h(entering)
		if err != nil {
			return fmt.Errorf("state %s: %w", m.state, err)
		}
		switch res.kind {
		case resultHold:
			return nil
		case resultGoto:
			if err := validate(res.states); err != nil {
				return err
			}
			m.pending = append(append([]State(nil), res.states...), m.pending...)
		}
		next := StateIdle
		if len(m.pending) > 0 {
			next, m.pending = m.pending[0], m.pending[1:]
		}
		m.enter(next)
	}
	return ErrTransitionLoop
}

func validate(states []State) error {
	for _, s := range states {
		if !s.Valid() {
			return fmt.Errorf("%w: %q", ErrUnknownState, s)
		}
	}
	return nil
}
