// Package companion makes a primary engine and an optional companion engine
// behave as one session for start and stop purposes.
//
// The companion is typically a script (QML) engine debugging the same
// inferior as a native engine. The pair is fixed at construction and never
// re-targeted.
package companion

import (
	"go.uber.org/zap"

	"github.com/ctagard/debugctl/internal/engine"
)

// Callbacks receives the aggregate lifecycle of the pair.
// All callbacks run on the controller loop.
type Callbacks struct {
	// OnStarted fires once, when the primary engine reports started.
	OnStarted func()

	// OnStopped fires once, after every engine has finished.
	OnStopped func()

	// OnStateChanged forwards every engine transition.
	OnStateChanged func(e *engine.Engine, from, to engine.State)
}

// Coordinator pairs the engines of one session.
type Coordinator struct {
	primary   *engine.Engine
	companion *engine.Engine
	callbacks Callbacks
	logger    *zap.Logger

	startsNeeded int
	stopsNeeded  int
	started      bool
	stopped      bool
	finished     map[*engine.Engine]bool
}

// New wires primary and companion (which may be nil) together.
func New(primary, companion *engine.Engine, cb Callbacks, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		primary:   primary,
		companion: companion,
		callbacks: cb,
		logger:    logger,
		finished:  make(map[*engine.Engine]bool),
	}
	for _, e := range c.Engines() {
		c.startsNeeded++
		c.stopsNeeded++
		e.OnStateChanged(c.handleStateChanged)
		e.OnStarted(c.HandleEngineStarted)
		e.OnFinished(c.HandleEngineFinished)
	}
	return c
}

// Primary returns the primary engine
func (c *Coordinator) Primary() *engine.Engine { return c.primary }

// Companion returns the companion engine, or nil
func (c *Coordinator) Companion() *engine.Engine { return c.companion }

// Engines returns the primary followed by the companion, if any
func (c *Coordinator) Engines() []*engine.Engine {
	if c.companion == nil {
		return []*engine.Engine{c.primary}
	}
	return []*engine.Engine{c.primary, c.companion}
}

// StartsNeeded returns how many engines have not reported started yet
func (c *Coordinator) StartsNeeded() int { return c.startsNeeded }

// StopsNeeded returns how many engines have not finished yet
func (c *Coordinator) StopsNeeded() int { return c.stopsNeeded }

// Stopped reports whether every engine has finished
func (c *Coordinator) Stopped() bool { return c.stopped }

// Start starts both engines. A primary that only fronts mixed-mode
// debugging waits for its companion to be started first.
func (c *Coordinator) Start() error {
	order := c.Engines()
	if c.companion != nil && c.primary.MixedFrontend() {
		order = []*engine.Engine{c.companion, c.primary}
	}
	for _, e := range order {
		if err := e.Start(); err != nil {
			return err
		}
	}
	return nil
}

// Stop asks every engine to quit
func (c *Coordinator) Stop() {
	for _, e := range c.Engines() {
		e.Quit()
	}
}

// Failures returns the failures of both engines, primary first
func (c *Coordinator) Failures() []error {
	var errs []error
	for _, e := range c.Engines() {
		errs = append(errs, e.Failures()...)
	}
	return errs
}

// HandleEngineStarted records that e got its inferior going. The session is
// reported started as soon as the primary is; a companion may attach late or
// be declined by the target and is not waited for.
func (c *Coordinator) HandleEngineStarted(e *engine.Engine) {
	if c.startsNeeded > 0 {
		c.startsNeeded--
	}
	if e != c.primary || c.started {
		return
	}
	c.started = true
	if c.callbacks.OnStarted != nil {
		c.callbacks.OnStarted()
	}
}

// HandleEngineFinished counts e down. The pair is reported stopped exactly
// once, when the last engine finishes.
func (c *Coordinator) HandleEngineFinished(e *engine.Engine) {
	if c.finished[e] {
		c.logger.Warn("duplicate finished report", zap.String("engine", e.Name()))
		return
	}
	if c.stopsNeeded == 0 {
		c.logger.Warn("finished report after session stopped", zap.String("engine", e.Name()))
		return
	}
	c.finished[e] = true
	c.stopsNeeded--
	if c.stopsNeeded > 0 {
		return
	}
	c.stopped = true
	if c.callbacks.OnStopped != nil {
		c.callbacks.OnStopped()
	}
}

func (c *Coordinator) handleStateChanged(e *engine.Engine, from, to engine.State) {
	if c.callbacks.OnStateChanged != nil {
		c.callbacks.OnStateChanged(e, from, to)
	}
	if from.Unwinding() || !to.Unwinding() {
		return
	}
	other := c.other(e)
	if other == nil || other.State().Unwinding() {
		return
	}
	c.logger.Info("engine is unwinding, stopping its companion",
		zap.String("engine", e.Name()),
		zap.Stringer("state", to),
		zap.String("companion", other.Name()))
	other.Quit()
}

func (c *Coordinator) other(e *engine.Engine) *engine.Engine {
	switch e {
	case c.primary:
		return c.companion
	case c.companion:
		return c.primary
	}
	return nil
}
