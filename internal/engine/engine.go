// Package engine implements the lifecycle of one debugger engine.
//
// An Engine pairs a StateMachine with a Backend. The engine issues requests
// to the backend (set up, run, interrupt, continue, shut down) and the backend
// answers asynchronously through a Notifier. Notifier calls may arrive on any
// goroutine; each one is posted to the controller loop before it touches the
// machine, so the machine itself needs no locking.
//
// Between requests the engine chains the protocol forward on its own:
//
//	setup ok             -> run requested
//	run failed           -> shutdown inferior
//	inferior shut down   -> shutdown engine
//	engine shut down     -> finished
//
// Quit moves the engine toward Finished from any state and is idempotent.
package engine

import (
	"errors"

	"go.uber.org/zap"

	dbgerrors "github.com/ctagard/debugctl/internal/errors"
	"github.com/ctagard/debugctl/pkg/types"
)

// Backend drives one concrete debugger. Every method returns immediately;
// outcomes are reported through the Notifier handed to SetupEngine.
type Backend interface {
	SetupEngine(n Notifier)
	RunEngine()
	InterruptInferior()
	ContinueInferior()
	ShutdownInferior()
	ShutdownEngine()

	// AbortEngine releases whatever a failed or cancelled setup left behind.
	// No notification is expected afterwards.
	AbortEngine()
}

// Notifier is how a backend reports progress. Safe for concurrent use.
type Notifier interface {
	EngineSetupOk()
	EngineSetupFailed(err error)
	EngineRunAndInferiorRunOk()
	EngineRunAndInferiorStopOk()
	EngineRunOkAndInferiorUnrunnable()
	EngineRunFailed(err error)
	InferiorRunOk()
	InferiorRunFailed(err error)
	InferiorStopOk()
	InferiorStopFailed(err error)
	InferiorSpontaneousStop()
	InferiorExited(exitCode int)
	InferiorShutdownFinished()
	EngineShutdownFinished()
	InferiorPID(pid int)
}

// Poster schedules work on the controller loop.
type Poster interface {
	Post(fn func()) bool
}

// Options configures a new Engine.
type Options struct {
	Name string
	Kind types.BackendKind

	// MixedFrontend marks a primary engine that only fronts mixed-mode
	// debugging; its companion is started first.
	MixedFrontend bool

	Logger *zap.Logger
}

// Engine is one debugger engine of a session.
type Engine struct {
	name    string
	kind    types.BackendKind
	machine *StateMachine
	backend Backend
	loop    Poster
	logger  *zap.Logger

	mixedFrontend bool
	quitRequested bool
	started       bool
	pid           int
	exitCode      int
	failures      []error

	onStateChanged []func(e *Engine, from, to State)
	onStarted      []func(e *Engine)
	onFinished     []func(e *Engine)
}

// New creates an engine in NotReady.
func New(backend Backend, loop Poster, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	name := opts.Name
	if name == "" {
		name = string(opts.Kind)
	}
	e := &Engine{
		name:          name,
		kind:          opts.Kind,
		backend:       backend,
		loop:          loop,
		logger:        logger,
		mixedFrontend: opts.MixedFrontend,
		exitCode:      -1,
	}
	e.machine = NewStateMachine(logger)
	e.machine.Observe(e.dispatch)
	return e
}

// Name returns the engine's display name
func (e *Engine) Name() string { return e.name }

// Kind returns the backend kind driven by the engine
func (e *Engine) Kind() types.BackendKind { return e.kind }

// State returns the current state
func (e *Engine) State() State { return e.machine.State() }

// Machine exposes the state machine for diagnostics
func (e *Engine) Machine() *StateMachine { return e.machine }

// MixedFrontend reports whether the engine only fronts mixed-mode debugging
func (e *Engine) MixedFrontend() bool { return e.mixedFrontend }

// PID returns the inferior's process id, 0 until the backend reports it
func (e *Engine) PID() int { return e.pid }

// ExitCode returns the inferior's exit code, -1 if it did not exit on its own
func (e *Engine) ExitCode() int { return e.exitCode }

// Started reports whether the engine got the inferior running or loaded
func (e *Engine) Started() bool { return e.started }

// QuitRequested reports whether Quit has been called
func (e *Engine) QuitRequested() bool { return e.quitRequested }

// Failures returns the errors the engine ran into, oldest first
func (e *Engine) Failures() []error { return e.failures }

// OnStateChanged registers fn for every accepted transition
func (e *Engine) OnStateChanged(fn func(e *Engine, from, to State)) {
	e.onStateChanged = append(e.onStateChanged, fn)
}

// OnStarted registers fn for the first time the inferior runs, stops or is
// loaded unrunnable after the engine started
func (e *Engine) OnStarted(fn func(e *Engine)) {
	e.onStarted = append(e.onStarted, fn)
}

// OnFinished registers fn for the transition into Finished
func (e *Engine) OnFinished(fn func(e *Engine)) {
	e.onFinished = append(e.onFinished, fn)
}

func (e *Engine) dispatch(from, to State) {
	for _, fn := range e.onStateChanged {
		fn(e, from, to)
	}
	if to == Finished {
		for _, fn := range e.onFinished {
			fn(e)
		}
	}
}

// Start requests engine setup. It must be called on the controller loop.
func (e *Engine) Start() error {
	if st := e.machine.State(); st != NotReady {
		return dbgerrors.InvalidTransition(st.String(), EngineSetupRequested.String())
	}
	if !e.fire(EventSetupRequested) {
		return dbgerrors.InvalidTransition(e.machine.State().String(), EngineSetupRequested.String())
	}
	e.logger.Info("setting up engine")
	e.backend.SetupEngine(notifier{e})
	return nil
}

// Quit drives the engine toward Finished. Safe in any state; a quit that
// cannot be applied yet is remembered until the pending notification arrives.
func (e *Engine) Quit() {
	if !e.quitRequested {
		e.logger.Info("quit requested", zap.Stringer("state", e.machine.State()))
	}
	e.quitRequested = true
	e.applyQuit()
}

// Continue resumes a stopped inferior
func (e *Engine) Continue() error {
	if st := e.machine.State(); st != InferiorStopOk {
		return dbgerrors.InvalidTransition(st.String(), InferiorRunRequested.String())
	}
	e.fire(EventContinueRequested)
	e.backend.ContinueInferior()
	return nil
}

// Interrupt stops a running inferior
func (e *Engine) Interrupt() error {
	if st := e.machine.State(); st != InferiorRunOk {
		return dbgerrors.InvalidTransition(st.String(), InferiorStopRequested.String())
	}
	e.fire(EventInterruptRequested)
	e.backend.InterruptInferior()
	return nil
}

func (e *Engine) applyQuit() {
	switch e.machine.State() {
	case NotReady:
		e.fire(EventAbandon)
	case EngineSetupRequested:
		if e.fire(EventSetupFailed) {
			e.backend.AbortEngine()
			e.fire(EventFinish)
		}
	case EngineRunRequested:
		if e.fire(EventRunFailed) {
			e.shutdownInferior()
		}
	case InferiorRunOk:
		if e.fire(EventInterruptRequested) {
			e.backend.InterruptInferior()
		}
	case InferiorStopOk, InferiorUnrunnable:
		e.shutdownInferior()
	}
	// Requested states wait for their notification; the shutdown branch is
	// already heading to Finished.
}

// fire applies ev and reports whether it was accepted. Notifications that
// lose a race with a quit are dropped quietly.
func (e *Engine) fire(ev Event) bool {
	st := e.machine.State()
	if st == Finished {
		e.machine.Fire(ev)
		return false
	}
	if !e.machine.Can(ev) && (st.Unwinding() || e.quitRequested) {
		e.logger.Warn("dropping late notification",
			zap.Stringer("state", st),
			zap.Stringer("event", ev))
		return false
	}
	_, err := e.machine.Fire(ev)
	return err == nil
}

func (e *Engine) record(err error) {
	e.failures = append(e.failures, err)
	e.logger.Warn("engine failure", zap.Error(err))
}

func (e *Engine) reportStarted() {
	if e.started {
		return
	}
	e.started = true
	for _, fn := range e.onStarted {
		fn(e)
	}
}

func (e *Engine) shutdownInferior() {
	if e.fire(EventShutdownInferior) {
		e.backend.ShutdownInferior()
	}
}

func (e *Engine) shutdownEngine() {
	if e.fire(EventShutdownEngine) {
		e.backend.ShutdownEngine()
	}
}

// --- notification handlers, always on the loop ---

func (e *Engine) handleSetupOk() {
	if !e.fire(EventSetupOk) {
		return
	}
	if e.fire(EventRunRequested) {
		e.backend.RunEngine()
	}
}

func (e *Engine) handleSetupFailed(err error) {
	if e.machine.Can(EventSetupFailed) {
		e.record(dbgerrors.SetupFailure(e.name, orUnknown(err)))
	}
	if !e.fire(EventSetupFailed) {
		return
	}
	e.backend.AbortEngine()
	e.fire(EventFinish)
}

func (e *Engine) handleRunResult(ev Event) {
	if !e.fire(ev) {
		return
	}
	e.reportStarted()
	if e.quitRequested {
		e.applyQuit()
	}
}

func (e *Engine) handleRunFailed(err error) {
	if e.machine.Can(EventRunFailed) {
		e.record(dbgerrors.RunFailure(e.name, orUnknown(err)))
	}
	if e.fire(EventRunFailed) {
		e.shutdownInferior()
	}
}

func (e *Engine) handleInferiorRunOk() {
	if e.fire(EventRunOk) && e.quitRequested {
		e.applyQuit()
	}
}

func (e *Engine) handleInferiorRunFailed(err error) {
	if e.machine.Can(EventInferiorRunFailed) {
		e.record(dbgerrors.RunFailure(e.name, orUnknown(err)))
	}
	if !e.fire(EventInferiorRunFailed) {
		return
	}
	if e.fire(EventStopOk) && e.quitRequested {
		e.applyQuit()
	}
}

func (e *Engine) handleStopped(spontaneous bool) {
	ev := EventStopOk
	switch e.machine.State() {
	case InferiorRunOk, InferiorRunRequested:
		ev = EventSpontaneousStop
	case InferiorStopRequested, InferiorRunFailed:
		ev = EventStopOk
	default:
		if spontaneous {
			ev = EventSpontaneousStop
		}
	}
	if e.fire(ev) && e.quitRequested {
		e.applyQuit()
	}
}

func (e *Engine) handleStopFailed(err error) {
	if e.machine.Can(EventStopFailed) {
		e.record(dbgerrors.StopFailure(e.name, orUnknown(err)))
	}
	if e.fire(EventStopFailed) {
		e.backend.ShutdownInferior()
	}
}

func (e *Engine) handleInferiorExited(code int) {
	e.exitCode = code
	ev := EventInferiorExited
	if e.machine.State() == InferiorShutdownRequested {
		ev = EventInferiorShutdownOk
	}
	if e.fire(ev) {
		e.shutdownEngine()
	}
}

func (e *Engine) handleInferiorShutdownFinished() {
	if e.fire(EventInferiorShutdownOk) {
		e.shutdownEngine()
	}
}

func (e *Engine) handleEngineShutdownFinished() {
	if e.fire(EventEngineShutdownOk) {
		e.fire(EventFinish)
	}
}

func (e *Engine) post(name string, fn func()) {
	if !e.loop.Post(fn) {
		e.logger.Warn("controller stopped, dropping notification", zap.String("notification", name))
	}
}

func orUnknown(err error) error {
	if err == nil {
		return errors.New("unknown error")
	}
	return err
}

// notifier marshals backend notifications onto the loop
type notifier struct {
	e *Engine
}

func (n notifier) EngineSetupOk() {
	n.e.post("EngineSetupOk", n.e.handleSetupOk)
}

func (n notifier) EngineSetupFailed(err error) {
	n.e.post("EngineSetupFailed", func() { n.e.handleSetupFailed(err) })
}

func (n notifier) EngineRunAndInferiorRunOk() {
	n.e.post("EngineRunAndInferiorRunOk", func() { n.e.handleRunResult(EventRunAndRunning) })
}

func (n notifier) EngineRunAndInferiorStopOk() {
	n.e.post("EngineRunAndInferiorStopOk", func() { n.e.handleRunResult(EventRunAndStopped) })
}

func (n notifier) EngineRunOkAndInferiorUnrunnable() {
	n.e.post("EngineRunOkAndInferiorUnrunnable", func() { n.e.handleRunResult(EventUnrunnable) })
}

func (n notifier) EngineRunFailed(err error) {
	n.e.post("EngineRunFailed", func() { n.e.handleRunFailed(err) })
}

func (n notifier) InferiorRunOk() {
	n.e.post("InferiorRunOk", n.e.handleInferiorRunOk)
}

func (n notifier) InferiorRunFailed(err error) {
	n.e.post("InferiorRunFailed", func() { n.e.handleInferiorRunFailed(err) })
}

func (n notifier) InferiorStopOk() {
	n.e.post("InferiorStopOk", func() { n.e.handleStopped(false) })
}

func (n notifier) InferiorStopFailed(err error) {
	n.e.post("InferiorStopFailed", func() { n.e.handleStopFailed(err) })
}

func (n notifier) InferiorSpontaneousStop() {
	n.e.post("InferiorSpontaneousStop", func() { n.e.handleStopped(true) })
}

func (n notifier) InferiorExited(exitCode int) {
	n.e.post("InferiorExited", func() { n.e.handleInferiorExited(exitCode) })
}

func (n notifier) InferiorShutdownFinished() {
	n.e.post("InferiorShutdownFinished", n.e.handleInferiorShutdownFinished)
}

func (n notifier) EngineShutdownFinished() {
	n.e.post("EngineShutdownFinished", n.e.handleEngineShutdownFinished)
}

func (n notifier) InferiorPID(pid int) {
	n.e.post("InferiorPID", func() { n.e.pid = pid })
}
