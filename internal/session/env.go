package session

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ctagard/debugctl/internal/engine"
	"github.com/ctagard/debugctl/internal/event"
	"github.com/ctagard/debugctl/internal/prerun"
	"github.com/ctagard/debugctl/internal/registry"
	"github.com/ctagard/debugctl/pkg/types"
)

// Factory creates engine backends. Satisfied by *adapters.Factory.
type Factory interface {
	// Resolvable reports whether a backend of kind can serve mode
	Resolvable(kind types.BackendKind, mode types.StartMode) bool

	NewBackend(kind types.BackendKind, params types.RunParameters, breakpoints []types.Breakpoint, logger *zap.Logger) (engine.Backend, error)

	SupportedBreakpoints(kind types.BackendKind) []types.BreakpointKind
}

// BreakpointSource hands out the enabled breakpoints, read once per start
type BreakpointSource interface {
	EnabledBreakpoints() []types.Breakpoint
}

// Env is everything a session needs from the process around it. It is
// created once at startup and shared by every session.
type Env struct {
	Loop        engine.Poster
	Bus         *event.Bus
	Registry    *registry.Registry
	Factory     Factory
	Breakpoints BreakpointSource
	Counters    *Counters

	// MaxSessions caps live sessions; zero means no limit
	MaxSessions int

	// Plan picks the pre-run dependencies, prerun.Plan by default
	Plan func(p types.RunParameters, logger *zap.Logger) []prerun.Dependency

	Logger *zap.Logger
}

func (env *Env) counters() *Counters {
	if env.Counters == nil {
		env.Counters = &Counters{}
	}
	return env.Counters
}

func (env *Env) logger() *zap.Logger {
	if env.Logger == nil {
		return zap.NewNop()
	}
	return env.Logger
}

func (env *Env) plan(p types.RunParameters, logger *zap.Logger) []prerun.Dependency {
	if env.Plan != nil {
		return env.Plan(p, logger)
	}
	return prerun.Plan(p, logger)
}

func (env *Env) publish(ev event.Event) {
	if env.Bus != nil {
		env.Bus.Publish(ev)
	}
}

// Counters are the process-wide run and snapshot numbers
type Counters struct {
	runs      atomic.Int64
	snapshots atomic.Int64
}

// NextRun returns the next run number, starting at 1
func (c *Counters) NextRun() int { return int(c.runs.Add(1)) }

// NextSnapshot returns the next snapshot number, starting at 1
func (c *Counters) NextSnapshot() int { return int(c.snapshots.Add(1)) }

type noBreakpoints struct{}

func (noBreakpoints) EnabledBreakpoints() []types.Breakpoint { return nil }
