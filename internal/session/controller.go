// Package session turns a debugging request into a running, coordinated
// pair of engines and tears it down again.
//
// A Controller is created by Configure, which only assembles and validates
// data. Start registers the session, gathers the pre-run dependencies and
// starts the engines; Stop shuts them down. Both return immediately and
// progress is published on the event bus. Whatever way a session ends, it
// passes through finish exactly once, which releases its resources and
// removes it from the registry.
//
// Controllers are not synchronized and must only be used on the controller
// loop.
package session

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ctagard/debugctl/internal/companion"
	"github.com/ctagard/debugctl/internal/engine"
	dbgerrors "github.com/ctagard/debugctl/internal/errors"
	"github.com/ctagard/debugctl/internal/event"
	"github.com/ctagard/debugctl/internal/logging"
	"github.com/ctagard/debugctl/internal/prerun"
	"github.com/ctagard/debugctl/pkg/types"
)

type phase int

const (
	phaseConfigured phase = iota
	phasePrerun
	phaseRunning
	phaseFinished
)

// Controller is one debugging session
type Controller struct {
	env    *Env
	id     string
	runID  int
	name   string
	params types.RunParameters
	logger *zap.Logger

	selection  Selection
	validation error

	phase         phase
	stopRequested bool
	cancelPrerun  context.CancelFunc
	deps          []prerun.Dependency
	breakpoints   []types.Breakpoint
	coord         *companion.Coordinator
	failure       *dbgerrors.DebugError
	onFinished    []func(c *Controller)
}

// Configure assembles a session from params. It never starts anything. When
// the parameters cannot make a working session the controller is still
// returned, together with a VALIDATION_ERROR that Start will report again.
func Configure(env *Env, params types.RunParameters) (*Controller, error) {
	logger := env.logger()
	c := &Controller{
		env:    env,
		id:     uuid.New().String(),
		runID:  env.counters().NextRun(),
		params: params.Clone(),
	}
	if c.params.CloseMode == "" {
		c.params.CloseMode = defaultCloseMode(c.params.StartMode)
	}
	c.name = displayName(c.params)
	c.logger = logging.ForSession(logger, c.id, c.name)

	problems := validate(c.params)
	if len(problems) == 0 {
		c.selection, problems = SelectEngines(env.Factory, c.params)
	}
	if len(problems) > 0 {
		c.validation = dbgerrors.Validation(problems...)
		c.logger.Warn("session configuration rejected", zap.Strings("problems", problems))
		return c, c.validation
	}
	c.logger.Info("session configured",
		zap.String("start_mode", string(c.params.StartMode)),
		zap.String("primary", string(c.selection.Primary)),
		zap.String("companion", string(c.selection.Companion)))
	return c, nil
}

func validate(p types.RunParameters) []string {
	var problems []string
	switch p.StartMode {
	case types.StartInternal:
		if strings.TrimSpace(p.Executable) == "" {
			problems = append(problems, "No executable specified.")
		}
	case types.AttachToLocalProcess, types.AttachToCrashedProcess:
		if p.AttachPID <= 0 {
			problems = append(problems, "No process id specified.")
		}
	case types.AttachToCore:
		if p.CoreFile == "" {
			problems = append(problems, "No core file specified.")
		}
	case types.AttachToRemoteServer:
		if p.RemoteChannel == "" {
			problems = append(problems, "No remote channel specified.")
		}
	case types.AttachToQmlServer:
		if p.QmlChannel == "" {
			problems = append(problems, "No QML channel specified.")
		}
	default:
		problems = append(problems, fmt.Sprintf("Unknown start mode %q.", p.StartMode))
	}
	return problems
}

// rename changes the display name of a session that has not started yet
func (c *Controller) rename(name string) {
	c.name = name
	c.params.DisplayName = name
	c.logger = logging.ForSession(c.env.logger(), c.id, name)
}

func defaultCloseMode(mode types.StartMode) types.CloseMode {
	if mode == types.StartInternal {
		return types.KillAtClose
	}
	return types.DetachAtClose
}

func displayName(p types.RunParameters) string {
	switch {
	case p.DisplayName != "":
		return p.DisplayName
	case p.Executable != "":
		return filepath.Base(p.Executable)
	case p.StartMode == types.AttachToCore && p.CoreFile != "":
		return filepath.Base(p.CoreFile)
	case p.AttachPID > 0:
		return fmt.Sprintf("Process %d", p.AttachPID)
	case p.RemoteChannel != "":
		return "Remote " + p.RemoteChannel
	case p.QmlChannel != "":
		return "QML " + p.QmlChannel
	}
	return "Debugger"
}

// ID returns the session id
func (c *Controller) ID() string { return c.id }

// RunID returns the process-wide run number
func (c *Controller) RunID() int { return c.runID }

// DisplayName returns the name shown to users
func (c *Controller) DisplayName() string { return c.name }

// Params returns a copy of the run parameters
func (c *Controller) Params() types.RunParameters { return c.params.Clone() }

// Selection returns the engines chosen at configuration
func (c *Controller) Selection() Selection { return c.selection }

// Kind returns the primary backend kind
func (c *Controller) Kind() types.BackendKind { return c.selection.Primary }

// Validation returns the configuration problems, or nil
func (c *Controller) Validation() error { return c.validation }

// Failure returns the single user-visible failure of the session, with the
// engine causes concatenated, or nil
func (c *Controller) Failure() error {
	if c.failure == nil {
		return nil
	}
	return c.failure
}

// Finished reports whether the session has ended
func (c *Controller) Finished() bool { return c.phase == phaseFinished }

// Stopping reports whether the session is shutting down or done
func (c *Controller) Stopping() bool {
	if c.stopRequested || c.phase == phaseFinished {
		return true
	}
	if c.coord == nil {
		return false
	}
	for _, e := range c.coord.Engines() {
		if !e.State().Unwinding() {
			return false
		}
	}
	return true
}

// Primary returns the primary engine, nil before the engines exist
func (c *Controller) Primary() *engine.Engine {
	if c.coord == nil {
		return nil
	}
	return c.coord.Primary()
}

// Companion returns the companion engine, or nil
func (c *Controller) Companion() *engine.Engine {
	if c.coord == nil {
		return nil
	}
	return c.coord.Companion()
}

// PID returns the inferior's process id once a backend reported it
func (c *Controller) PID() int {
	if p := c.Primary(); p != nil && p.PID() > 0 {
		return p.PID()
	}
	return c.params.AttachPID
}

// State describes where the session is: a phase before the engines exist,
// the primary engine's state while they run
func (c *Controller) State() string {
	switch c.phase {
	case phaseConfigured:
		return "Configured"
	case phasePrerun:
		return "PreRun"
	case phaseFinished:
		return engine.Finished.String()
	}
	return c.coord.Primary().State().String()
}

// OnFinished registers fn to run after the session finished
func (c *Controller) OnFinished(fn func(c *Controller)) {
	c.onFinished = append(c.onFinished, fn)
}

// Info returns the listing view of the session
func (c *Controller) Info() types.SessionInfo {
	info := types.SessionInfo{
		SessionID:   c.id,
		RunID:       c.runID,
		DisplayName: c.name,
		StartMode:   c.params.StartMode,
		State:       c.State(),
		PID:         c.PID(),
		Backend:     c.selection.Primary,
	}
	for _, k := range c.selection.Kinds() {
		if k != "" {
			info.Engines = append(info.Engines, string(k))
		}
	}
	if c.env.Registry != nil {
		info.Current = c.env.Registry.CurrentID() == c.id
	}
	if c.failure != nil {
		info.Failure = c.failure.Message
	}
	return info
}

func (c *Controller) ref() event.SessionRef {
	return event.SessionRef{ID: c.id, RunID: c.runID, DisplayName: c.name}
}

// Start brings the session up. Configuration problems are returned without
// registering anything. Otherwise the session is registered, its pre-run
// dependencies are gathered and its engines are started; Start returns once
// that is under way.
func (c *Controller) Start() error {
	if c.validation != nil {
		return c.validation
	}
	if c.phase != phaseConfigured || c.stopRequested {
		return dbgerrors.SessionTerminated(c.id)
	}
	if reg := c.env.Registry; reg != nil && c.env.MaxSessions > 0 && reg.Len() >= c.env.MaxSessions {
		return dbgerrors.SessionLimitReached(c.env.MaxSessions)
	}

	c.checkBreakpoints()

	if c.env.Registry != nil {
		c.env.Registry.Register(c)
	}
	c.phase = phasePrerun

	deps := c.env.plan(c.params, c.logger)
	if len(deps) == 0 {
		c.launch(c.params)
		return nil
	}

	names := make([]string, 0, len(deps))
	for _, d := range deps {
		names = append(names, d.Name())
	}
	c.logger.Info("gathering pre-run dependencies", zap.Strings("dependencies", names))

	ctx, cancel := context.WithCancel(context.Background())
	c.cancelPrerun = cancel
	params := c.params.Clone()
	go func() {
		err := prerun.Gather(ctx, deps, &params)
		if !c.env.Loop.Post(func() { c.prerunDone(deps, params, err) }) && err == nil {
			_ = prerun.ReleaseAll(deps)
		}
	}()
	return nil
}

// checkBreakpoints warns once per breakpoint kind no engine of the session
// can handle
func (c *Controller) checkBreakpoints() {
	src := c.env.Breakpoints
	if src == nil {
		src = noBreakpoints{}
	}
	c.breakpoints = src.EnabledBreakpoints()

	supported := make(map[types.BreakpointKind]bool)
	for _, k := range c.selection.Kinds() {
		for _, bk := range c.env.Factory.SupportedBreakpoints(k) {
			supported[bk] = true
		}
	}
	unsupported := make(map[types.BreakpointKind]bool)
	for _, bp := range c.breakpoints {
		if bp.Enabled && !supported[bp.Kind] {
			unsupported[bp.Kind] = true
		}
	}
	kinds := make([]string, 0, len(unsupported))
	for k := range unsupported {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		msg := fmt.Sprintf("The %s debugger cannot handle %s breakpoints. They will be ignored.", c.selection.Primary, k)
		c.logger.Warn("unsupported breakpoints", zap.String("kind", k))
		c.env.publish(event.NewSessionWarningEvent(c.ref(), msg))
	}
}

func (c *Controller) prerunDone(deps []prerun.Dependency, params types.RunParameters, err error) {
	if c.cancelPrerun != nil {
		c.cancelPrerun()
		c.cancelPrerun = nil
	}
	if c.phase != phasePrerun {
		if err == nil {
			_ = prerun.ReleaseAll(deps)
		}
		return
	}
	if err != nil {
		if !c.stopRequested {
			c.fail(err)
		}
		c.finish()
		return
	}
	c.deps = deps
	if c.stopRequested {
		c.finish()
		return
	}
	c.launch(params)
}

// launch creates the engines and starts them
func (c *Controller) launch(params types.RunParameters) {
	var engines []*engine.Engine
	for _, kind := range c.selection.Kinds() {
		logger := logging.ForEngine(c.logger, string(kind))
		backend, err := c.env.Factory.NewBackend(kind, params, c.breakpoints, logger)
		if err != nil {
			c.fail(err)
			c.finish()
			return
		}
		engines = append(engines, engine.New(backend, c.env.Loop, engine.Options{
			Kind:   kind,
			Logger: logger,
		}))
	}

	var comp *engine.Engine
	if len(engines) > 1 {
		comp = engines[1]
	}
	c.coord = companion.New(engines[0], comp, companion.Callbacks{
		OnStarted:      c.handleStarted,
		OnStopped:      c.handleStopped,
		OnStateChanged: c.handleStateChanged,
	}, c.logger)
	c.phase = phaseRunning

	if err := c.coord.Start(); err != nil {
		c.logger.Error("engine start refused", zap.Error(err))
		c.fail(err)
		c.coord.Stop()
	}
}

func (c *Controller) handleStateChanged(e *engine.Engine, from, to engine.State) {
	c.env.publish(event.NewSessionStateChangedEvent(c.ref(), e.Name(), from.String(), to.String()))
}

func (c *Controller) handleStarted() {
	c.logger.Info("session started", zap.Int("pid", c.PID()))
	c.env.publish(event.NewSessionStartedEvent(c.ref(), c.PID()))
	if c.env.Registry != nil {
		if err := c.env.Registry.Activate(c.id); err != nil {
			c.logger.Warn("could not make session current", zap.Error(err))
		}
	}
}

func (c *Controller) handleStopped() {
	if failures := c.coord.Failures(); len(failures) > 0 {
		c.fail(failures...)
	}
	c.finish()
}

// fail records errs as the session failure, after any earlier ones
func (c *Controller) fail(errs ...error) {
	if c.failure != nil {
		errs = append([]error{c.failure}, errs...)
	}
	code := dbgerrors.FromError(errs[0]).Code
	c.failure = dbgerrors.Concat(code, errs...)
}

// finish is the single exit path of a session
func (c *Controller) finish() {
	if c.phase == phaseFinished {
		return
	}
	c.phase = phaseFinished
	if c.cancelPrerun != nil {
		c.cancelPrerun()
		c.cancelPrerun = nil
	}
	if err := prerun.ReleaseAll(c.deps); err != nil {
		c.logger.Warn("releasing pre-run dependencies", zap.Error(err))
	}
	c.deps = nil

	ref := c.ref()
	c.env.publish(event.NewSessionFinishedEvent(ref, engine.Finished.String()))
	msg := ""
	if c.failure != nil {
		msg = c.failure.Message
		c.logger.Warn("session failed", zap.String("code", string(c.failure.Code)), zap.String("failure", msg))
		c.env.publish(event.NewSessionFailedEvent(ref, string(c.failure.Code), msg))
	} else {
		c.logger.Info("session finished")
	}
	c.env.publish(event.NewSessionStoppedEvent(ref, msg))

	if c.env.Registry != nil {
		c.env.Registry.Unregister(c)
	}
	for _, fn := range c.onFinished {
		fn(c)
	}
}

// Stop shuts the session down. It is a no-op once shutdown was requested.
// During pre-run it cancels the dependency gathering, which then ends the
// session without starting an engine.
func (c *Controller) Stop() {
	if c.stopRequested || c.phase == phaseFinished {
		return
	}
	c.stopRequested = true
	c.logger.Info("stop requested", zap.String("state", c.State()))

	switch c.phase {
	case phaseConfigured:
		// Never started, nothing to tear down
	case phasePrerun:
		if c.cancelPrerun != nil {
			c.cancelPrerun()
		}
	case phaseRunning:
		c.coord.Stop()
	}
}

// Continue resumes the stopped inferior in every engine that is stopped
func (c *Controller) Continue() error {
	return c.each(func(e *engine.Engine) error { return e.Continue() })
}

// Interrupt stops the running inferior in every engine that is running
func (c *Controller) Interrupt() error {
	return c.each(func(e *engine.Engine) error { return e.Interrupt() })
}

// each applies op to the primary and, if that worked, to the companion. The
// companion's refusal is not an error; it may still be attaching.
func (c *Controller) each(op func(e *engine.Engine) error) error {
	if c.phase == phaseFinished {
		return dbgerrors.SessionTerminated(c.id)
	}
	if c.coord == nil || c.stopRequested {
		return dbgerrors.InvalidTransition(c.State(), "interactive")
	}
	if err := op(c.coord.Primary()); err != nil {
		return err
	}
	if comp := c.coord.Companion(); comp != nil {
		if err := op(comp); err != nil {
			c.logger.Debug("companion did not follow", zap.String("engine", comp.Name()), zap.Error(err))
		}
	}
	return nil
}

// AttachToDumpedCore starts a new, independent session that loads coreFile
// with the backend of this one. The new session is named after this one and
// a process-wide snapshot number.
func (c *Controller) AttachToDumpedCore(coreFile string) (*Controller, error) {
	p := c.params.Clone()
	p.StartMode = types.AttachToCore
	p.CloseMode = types.DetachAtClose
	p.CoreFile = coreFile
	p.IsSnapshot = true
	p.AttachPID = 0
	p.IsQmlDebugging = false
	p.UseTerminal = false
	p.UseDebugServer = false
	p.RemoteChannel = ""
	p.QmlChannel = ""
	if c.selection.Primary.IsNative() {
		p.CppEngineType = c.selection.Primary
	}
	p.DisplayName = c.name + " - Snapshot"

	snap, err := Configure(c.env, p)
	if err != nil {
		return snap, err
	}
	// Numbered only once accepted, so rejected snapshots leave no gaps
	snap.rename(fmt.Sprintf("%s - Snapshot %d", c.name, c.env.counters().NextSnapshot()))
	if err := snap.Start(); err != nil {
		return snap, err
	}
	return snap, nil
}
