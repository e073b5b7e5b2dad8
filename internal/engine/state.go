package engine

import (
	"go.uber.org/zap"

	dbgerrors "github.com/ctagard/debugctl/internal/errors"
)

// State is the lifecycle state of one engine.
type State int

const (
	NotReady State = iota
	EngineSetupRequested
	EngineSetupOk
	EngineSetupFailed
	EngineRunRequested
	EngineRunFailed
	InferiorUnrunnable
	InferiorRunRequested
	InferiorRunOk
	InferiorRunFailed
	InferiorStopRequested
	InferiorStopOk
	InferiorShutdownRequested
	InferiorShutdownFinished
	EngineShutdownRequested
	EngineShutdownFinished
	Finished
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case NotReady:
		return "NotReady"
	case EngineSetupRequested:
		return "EngineSetupRequested"
	case EngineSetupOk:
		return "EngineSetupOk"
	case EngineSetupFailed:
		return "EngineSetupFailed"
	case EngineRunRequested:
		return "EngineRunRequested"
	case EngineRunFailed:
		return "EngineRunFailed"
	case InferiorUnrunnable:
		return "InferiorUnrunnable"
	case InferiorRunRequested:
		return "InferiorRunRequested"
	case InferiorRunOk:
		return "InferiorRunOk"
	case InferiorRunFailed:
		return "InferiorRunFailed"
	case InferiorStopRequested:
		return "InferiorStopRequested"
	case InferiorStopOk:
		return "InferiorStopOk"
	case InferiorShutdownRequested:
		return "InferiorShutdownRequested"
	case InferiorShutdownFinished:
		return "InferiorShutdownFinished"
	case EngineShutdownRequested:
		return "EngineShutdownRequested"
	case EngineShutdownFinished:
		return "EngineShutdownFinished"
	case Finished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// Unwinding reports whether the engine is on its way to Finished: a failed
// setup or run, or any state of the shutdown branch.
func (s State) Unwinding() bool {
	return s == EngineSetupFailed || s == EngineRunFailed || s >= InferiorShutdownRequested
}

// Event is an input to the state machine.
type Event int

const (
	EventSetupRequested Event = iota
	EventAbandon
	EventSetupOk
	EventSetupFailed
	EventRunRequested
	EventUnrunnable
	EventRunAndStopped
	EventRunAndRunning
	EventRunFailed
	EventInterruptRequested
	EventSpontaneousStop
	EventInferiorExited
	EventStopOk
	EventStopFailed
	EventContinueRequested
	EventRunOk
	EventInferiorRunFailed
	EventShutdownInferior
	EventInferiorShutdownOk
	EventShutdownEngine
	EventEngineShutdownOk
	EventFinish
)

var eventNames = [...]string{
	EventSetupRequested:     "SetupRequested",
	EventAbandon:            "Abandon",
	EventSetupOk:            "SetupOk",
	EventSetupFailed:        "SetupFailed",
	EventRunRequested:       "RunRequested",
	EventUnrunnable:         "Unrunnable",
	EventRunAndStopped:      "RunAndStopped",
	EventRunAndRunning:      "RunAndRunning",
	EventRunFailed:          "RunFailed",
	EventInterruptRequested: "InterruptRequested",
	EventSpontaneousStop:    "SpontaneousStop",
	EventInferiorExited:     "InferiorExited",
	EventStopOk:             "StopOk",
	EventStopFailed:         "StopFailed",
	EventContinueRequested:  "ContinueRequested",
	EventRunOk:              "RunOk",
	EventInferiorRunFailed:  "InferiorRunFailed",
	EventShutdownInferior:   "ShutdownInferior",
	EventInferiorShutdownOk: "InferiorShutdownOk",
	EventShutdownEngine:     "ShutdownEngine",
	EventEngineShutdownOk:   "EngineShutdownOk",
	EventFinish:             "Finish",
}

// String returns the event name.
func (e Event) String() string {
	if e < 0 || int(e) >= len(eventNames) {
		return "Unknown"
	}
	return eventNames[e]
}

type transitionKey struct {
	from  State
	event Event
}

// transitions is the complete protocol. Anything not listed is rejected.
var transitions = map[transitionKey]State{
	{NotReady, EventSetupRequested}: EngineSetupRequested,
	{NotReady, EventAbandon}:        Finished,

	{EngineSetupRequested, EventSetupOk}:     EngineSetupOk,
	{EngineSetupRequested, EventSetupFailed}: EngineSetupFailed,
	{EngineSetupOk, EventRunRequested}:       EngineRunRequested,
	{EngineSetupFailed, EventFinish}:         Finished,

	{EngineRunRequested, EventUnrunnable}:    InferiorUnrunnable,
	{EngineRunRequested, EventRunAndStopped}: InferiorStopOk,
	{EngineRunRequested, EventRunAndRunning}: InferiorRunOk,
	{EngineRunRequested, EventRunFailed}:     EngineRunFailed,

	{InferiorRunOk, EventInterruptRequested}: InferiorStopRequested,
	{InferiorRunOk, EventSpontaneousStop}:    InferiorStopOk,
	{InferiorRunOk, EventInferiorExited}:     InferiorShutdownFinished,

	{InferiorStopRequested, EventStopOk}:           InferiorStopOk,
	{InferiorStopRequested, EventStopFailed}:       InferiorShutdownRequested,
	{InferiorStopRequested, EventInferiorExited}:   InferiorShutdownFinished,
	{InferiorStopOk, EventContinueRequested}:       InferiorRunRequested,
	{InferiorStopOk, EventShutdownInferior}:        InferiorShutdownRequested,
	{InferiorStopOk, EventInferiorExited}:          InferiorShutdownFinished,
	{InferiorRunRequested, EventRunOk}:             InferiorRunOk,
	{InferiorRunRequested, EventInferiorRunFailed}: InferiorRunFailed,
	{InferiorRunRequested, EventSpontaneousStop}:   InferiorStopOk,
	{InferiorRunRequested, EventInferiorExited}:    InferiorShutdownFinished,
	{InferiorRunFailed, EventStopOk}:               InferiorStopOk,

	{InferiorUnrunnable, EventShutdownInferior}: InferiorShutdownRequested,
	{EngineRunFailed, EventShutdownInferior}:    InferiorShutdownRequested,

	{InferiorShutdownRequested, EventInferiorShutdownOk}: InferiorShutdownFinished,
	{InferiorShutdownFinished, EventShutdownEngine}:      EngineShutdownRequested,
	{EngineShutdownRequested, EventEngineShutdownOk}:     EngineShutdownFinished,
	{EngineShutdownFinished, EventFinish}:                Finished,
}

// StateMachine holds the canonical state of one engine.
//
// It is not synchronized; all calls must come from the controller loop.
type StateMachine struct {
	state     State
	seq       uint64
	logger    *zap.Logger
	observers []func(from, to State)
}

// NewStateMachine returns a machine in NotReady.
func NewStateMachine(logger *zap.Logger) *StateMachine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateMachine{logger: logger}
}

// State returns the current state.
func (m *StateMachine) State() State { return m.state }

// Seq returns the number of accepted transitions. Diagnostics only.
func (m *StateMachine) Seq() uint64 { return m.seq }

// Observe registers fn to be called after every accepted transition.
func (m *StateMachine) Observe(fn func(from, to State)) {
	m.observers = append(m.observers, fn)
}

// Can reports whether ev is accepted in the current state.
func (m *StateMachine) Can(ev Event) bool {
	_, ok := transitions[transitionKey{m.state, ev}]
	return ok
}

// Fire applies ev. An event the current state does not accept is logged,
// dropped and reported as an invalid transition. Once Finished, every event
// is ignored with a warning.
func (m *StateMachine) Fire(ev Event) (State, error) {
	if m.state == Finished {
		m.logger.Warn("ignoring event after finish", zap.Stringer("event", ev))
		return Finished, nil
	}
	next, ok := transitions[transitionKey{m.state, ev}]
	if !ok {
		err := dbgerrors.InvalidEvent(m.state.String(), ev.String())
		m.logger.Error("invalid state transition",
			zap.Stringer("state", m.state),
			zap.Stringer("event", ev),
			zap.Uint64("seq", m.seq))
		return m.state, err
	}
	m.apply(next)
	return next, nil
}

// RequestTransition moves from one state to another. It fails if the machine
// is not in from, or if the protocol has no edge from -> to.
func (m *StateMachine) RequestTransition(from, to State) error {
	if m.state == Finished {
		m.logger.Warn("ignoring transition after finish",
			zap.Stringer("from", from),
			zap.Stringer("to", to))
		return nil
	}
	if m.state != from {
		m.logger.Error("transition requested from wrong state",
			zap.Stringer("state", m.state),
			zap.Stringer("from", from),
			zap.Stringer("to", to))
		return dbgerrors.InvalidTransition(from.String(), to.String()).
			WithDetails("state", m.state.String())
	}
	for key, next := range transitions {
		if key.from == from && next == to {
			m.apply(to)
			return nil
		}
	}
	m.logger.Error("no such transition",
		zap.Stringer("from", from),
		zap.Stringer("to", to))
	return dbgerrors.InvalidTransition(from.String(), to.String())
}

func (m *StateMachine) apply(next State) {
	old := m.state
	m.state = next
	m.seq++
	m.logger.Debug("state changed",
		zap.Stringer("from", old),
		zap.Stringer("to", next),
		zap.Uint64("seq", m.seq))
	for _, fn := range m.observers {
		fn(old, next)
	}
}
