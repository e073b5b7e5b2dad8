package companion_test

import (
	"errors"
	"testing"

	"github.com/ctagard/debugctl/internal/companion"
	"github.com/ctagard/debugctl/internal/engine"
	"github.com/ctagard/debugctl/internal/engine/enginetest"
	dbgerrors "github.com/ctagard/debugctl/internal/errors"
	"github.com/ctagard/debugctl/internal/eventloop"
	"github.com/ctagard/debugctl/pkg/types"
)

type pair struct {
	loop          *eventloop.Loop
	native, qml   *enginetest.Backend
	primary, comp *engine.Engine
	coord         *companion.Coordinator
	started       int
	stopped       int
	setupOrder    []string
	seen          map[string][]engine.State
}

func newPair(t *testing.T, mixed bool, native, qml *enginetest.Backend) *pair {
	t.Helper()
	p := &pair{
		loop:   eventloop.New(nil),
		native: native,
		qml:    qml,
		seen:   make(map[string][]engine.State),
	}
	p.primary = engine.New(native, p.loop, engine.Options{Name: "gdb", Kind: types.BackendGDB, MixedFrontend: mixed})
	p.comp = engine.New(qml, p.loop, engine.Options{Name: "qml", Kind: types.BackendQML})
	p.coord = companion.New(p.primary, p.comp, companion.Callbacks{
		OnStarted: func() { p.started++ },
		OnStopped: func() { p.stopped++ },
		OnStateChanged: func(e *engine.Engine, from, to engine.State) {
			p.seen[e.Name()] = append(p.seen[e.Name()], to)
			if to == engine.EngineSetupRequested {
				p.setupOrder = append(p.setupOrder, e.Name())
			}
		},
	}, nil)
	return p
}

func contains(states []engine.State, s engine.State) bool {
	for _, st := range states {
		if st == s {
			return true
		}
	}
	return false
}

// TestCoordinator_Counters verifies one start and one stop are needed per engine.
func TestCoordinator_Counters(t *testing.T) {
	p := newPair(t, false, &enginetest.Backend{}, &enginetest.Backend{})
	if p.coord.StartsNeeded() != 2 || p.coord.StopsNeeded() != 2 {
		t.Errorf("expected 2/2, got %d/%d", p.coord.StartsNeeded(), p.coord.StopsNeeded())
	}

	loop := eventloop.New(nil)
	single := companion.New(engine.New(&enginetest.Backend{}, loop, engine.Options{Kind: types.BackendLLDB}), nil, companion.Callbacks{}, nil)
	if single.StartsNeeded() != 1 || single.StopsNeeded() != 1 {
		t.Errorf("expected 1/1 for a single engine, got %d/%d", single.StartsNeeded(), single.StopsNeeded())
	}
	if len(single.Engines()) != 1 {
		t.Errorf("expected one engine, got %d", len(single.Engines()))
	}
}

// TestCoordinator_StartOrder verifies the companion goes first only for a mixed-mode front end.
func TestCoordinator_StartOrder(t *testing.T) {
	tests := []struct {
		name  string
		mixed bool
		want  []string
	}{
		{"regular primary", false, []string{"gdb", "qml"}},
		{"mixed-mode front end", true, []string{"qml", "gdb"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPair(t, tt.mixed, &enginetest.Backend{}, &enginetest.Backend{})
			if err := p.coord.Start(); err != nil {
				t.Fatalf("Start failed: %v", err)
			}
			if len(p.setupOrder) != 2 || p.setupOrder[0] != tt.want[0] || p.setupOrder[1] != tt.want[1] {
				t.Errorf("expected setup order %v, got %v", tt.want, p.setupOrder)
			}
		})
	}
}

// TestCoordinator_StartedOnPrimary verifies started is reported once, by the primary.
func TestCoordinator_StartedOnPrimary(t *testing.T) {
	p := newPair(t, false, &enginetest.Backend{}, &enginetest.Backend{})
	p.coord.Start()

	q := p.qml.Notifier()
	q.EngineSetupOk()
	q.EngineRunAndInferiorRunOk()
	p.loop.Drain()
	if p.started != 0 {
		t.Fatalf("companion alone must not report started, got %d", p.started)
	}

	n := p.native.Notifier()
	n.EngineSetupOk()
	n.EngineRunAndInferiorStopOk()
	p.loop.Drain()
	if p.started != 1 {
		t.Errorf("expected started once, got %d", p.started)
	}
	if p.coord.StartsNeeded() != 0 {
		t.Errorf("expected no starts needed, got %d", p.coord.StartsNeeded())
	}
}

// TestCoordinator_StartedWithoutCompanion verifies the companion is not waited for.
func TestCoordinator_StartedWithoutCompanion(t *testing.T) {
	p := newPair(t, false, &enginetest.Backend{}, &enginetest.Backend{})
	p.coord.Start()

	n := p.native.Notifier()
	n.EngineSetupOk()
	n.EngineRunAndInferiorRunOk()
	p.loop.Drain()

	if p.started != 1 {
		t.Errorf("expected started once, got %d", p.started)
	}
	if p.coord.StartsNeeded() != 1 {
		t.Errorf("expected the companion start to be outstanding, got %d", p.coord.StartsNeeded())
	}
}

// TestCoordinator_StoppedAfterBoth verifies stopped waits for every engine.
func TestCoordinator_StoppedAfterBoth(t *testing.T) {
	p := newPair(t, false, &enginetest.Backend{Auto: true}, &enginetest.Backend{})
	p.coord.Start()
	p.loop.Drain()

	// Stop the native engine on its own; the manual companion stays up.
	p.primary.Quit()
	p.loop.Drain()
	if p.primary.State() != engine.Finished {
		t.Fatalf("expected primary Finished, got %s", p.primary.State())
	}
	// Unwinding primary asked the companion to quit; it is still in setup.
	if p.comp.State() != engine.Finished {
		t.Fatalf("expected companion Finished after setup quit, got %s", p.comp.State())
	}
	if p.stopped != 1 {
		t.Errorf("expected stopped once, got %d", p.stopped)
	}
	if p.coord.StopsNeeded() != 0 {
		t.Errorf("expected stopsNeeded 0, got %d", p.coord.StopsNeeded())
	}

	// A duplicate report must not go negative or fire again
	p.coord.HandleEngineFinished(p.primary)
	if p.coord.StopsNeeded() != 0 || p.stopped != 1 {
		t.Errorf("duplicate finished changed counters: stopsNeeded=%d stopped=%d", p.coord.StopsNeeded(), p.stopped)
	}
}

// TestCoordinator_StopsNeededNeverNegative drives the counters by hand.
func TestCoordinator_StopsNeededNeverNegative(t *testing.T) {
	p := newPair(t, false, &enginetest.Backend{}, &enginetest.Backend{})

	p.coord.HandleEngineFinished(p.primary)
	if p.stopped != 0 {
		t.Fatal("one of two engines finishing must not stop the session")
	}
	p.coord.HandleEngineFinished(p.comp)
	p.coord.HandleEngineFinished(p.comp)
	p.coord.HandleEngineFinished(p.primary)

	if p.coord.StopsNeeded() != 0 {
		t.Errorf("expected 0, got %d", p.coord.StopsNeeded())
	}
	if p.stopped != 1 {
		t.Errorf("expected stopped once, got %d", p.stopped)
	}
}

// TestCoordinator_SetupFailurePropagates verifies both engines unwind when one fails setup.
func TestCoordinator_SetupFailurePropagates(t *testing.T) {
	p := newPair(t, false, &enginetest.Backend{}, &enginetest.Backend{})
	p.coord.Start()

	// Companion already succeeded setup and waits for its run result.
	q := p.qml.Notifier()
	q.EngineSetupOk()
	p.loop.Drain()
	if p.comp.State() != engine.EngineRunRequested {
		t.Fatalf("expected companion in EngineRunRequested, got %s", p.comp.State())
	}

	p.native.Notifier().EngineSetupFailed(errors.New("gdb: cannot execute"))
	p.loop.Drain()

	if p.primary.State() != engine.Finished {
		t.Errorf("expected primary Finished, got %s", p.primary.State())
	}
	if !contains(p.seen["qml"], engine.InferiorShutdownRequested) {
		t.Errorf("expected companion to enter InferiorShutdownRequested, saw %v", p.seen["qml"])
	}
	if p.stopped != 0 {
		t.Fatal("session must not stop before the companion finishes")
	}

	q.InferiorShutdownFinished()
	q.EngineShutdownFinished()
	p.loop.Drain()

	if p.comp.State() != engine.Finished {
		t.Errorf("expected companion Finished, got %s", p.comp.State())
	}
	if p.stopped != 1 {
		t.Errorf("expected stopped once, got %d", p.stopped)
	}
	if p.started != 0 {
		t.Errorf("expected no started report, got %d", p.started)
	}

	failures := p.coord.Failures()
	if len(failures) != 1 || !dbgerrors.IsCode(failures[0], dbgerrors.CodeSetupFailure) {
		t.Errorf("expected only the primary's SETUP_FAILURE, got %v", failures)
	}
}

// TestCoordinator_CompanionFailureStopsPrimary verifies propagation works both ways.
func TestCoordinator_CompanionFailureStopsPrimary(t *testing.T) {
	p := newPair(t, false, &enginetest.Backend{Auto: true}, &enginetest.Backend{Auto: true, RunErr: errors.New("connection refused")})
	p.coord.Start()
	p.loop.Drain()

	for _, e := range p.coord.Engines() {
		if e.State() != engine.Finished {
			t.Errorf("expected %s Finished, got %s", e.Name(), e.State())
		}
	}
	if p.stopped != 1 {
		t.Errorf("expected stopped once, got %d", p.stopped)
	}
	if !contains(p.seen["gdb"], engine.InferiorShutdownRequested) {
		t.Errorf("expected primary to shut its inferior down, saw %v", p.seen["gdb"])
	}
}
