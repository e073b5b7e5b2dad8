package session

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ctagard/debugctl/internal/engine"
	"github.com/ctagard/debugctl/internal/engine/enginetest"
	dbgerrors "github.com/ctagard/debugctl/internal/errors"
	"github.com/ctagard/debugctl/internal/event"
	"github.com/ctagard/debugctl/internal/eventloop"
	"github.com/ctagard/debugctl/internal/prerun"
	"github.com/ctagard/debugctl/internal/registry"
	"github.com/ctagard/debugctl/pkg/types"
)

type created struct {
	kind    types.BackendKind
	params  types.RunParameters
	backend *enginetest.Backend
}

type fakeFactory struct {
	resolvable map[types.BackendKind]bool
	setupErr   map[types.BackendKind]error
	runErr     map[types.BackendKind]error
	created    []created
}

func (f *fakeFactory) Resolvable(kind types.BackendKind, mode types.StartMode) bool {
	return f.resolvable[kind]
}

func (f *fakeFactory) NewBackend(kind types.BackendKind, p types.RunParameters, bps []types.Breakpoint, logger *zap.Logger) (engine.Backend, error) {
	b := &enginetest.Backend{Auto: true, SetupErr: f.setupErr[kind], RunErr: f.runErr[kind], PID: 100 + len(f.created)}
	if p.StartMode == types.AttachToCore {
		b.RunResult = enginetest.RunUnrunnable
	}
	f.created = append(f.created, created{kind: kind, params: p, backend: b})
	return b, nil
}

func (f *fakeFactory) SupportedBreakpoints(kind types.BackendKind) []types.BreakpointKind {
	if kind == types.BackendPDB {
		return []types.BreakpointKind{types.BreakpointByFileAndLine, types.BreakpointByFunction}
	}
	return []types.BreakpointKind{types.BreakpointByFileAndLine, types.BreakpointByFunction, types.BreakpointAtMain}
}

type breakpoints []types.Breakpoint

func (b breakpoints) EnabledBreakpoints() []types.Breakpoint { return b }

type harness struct {
	loop    *eventloop.Loop
	reg     *registry.Registry
	factory *fakeFactory
	env     *Env
	events  []event.Event
}

func newHarness(t *testing.T, kinds ...types.BackendKind) *harness {
	t.Helper()
	h := &harness{
		loop:    eventloop.New(nil),
		factory: &fakeFactory{resolvable: make(map[types.BackendKind]bool)},
	}
	for _, k := range kinds {
		h.factory.resolvable[k] = true
	}
	bus := event.NewBus(nil)
	bus.SubscribeAll(func(e event.Event) { h.events = append(h.events, e) })
	h.reg = registry.New(registry.Options{Bus: bus})
	h.env = &Env{
		Loop:     h.loop,
		Bus:      bus,
		Registry: h.reg,
		Factory:  h.factory,
		Plan:     func(types.RunParameters, *zap.Logger) []prerun.Dependency { return nil },
	}
	return h
}

// waitFinished drains the loop until c finishes, giving pre-run goroutines time to post
func (h *harness) waitFinished(t *testing.T, c *Controller) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		h.loop.Drain()
		if c.Finished() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected session to finish, still in %s", c.State())
}

func (h *harness) count(eventType string) int {
	n := 0
	for _, e := range h.events {
		if e.EventType() == eventType {
			n++
		}
	}
	return n
}

// engineStates returns the states an engine entered, in order
func (h *harness) engineStates(name string) []string {
	var states []string
	for _, e := range h.events {
		if sc, ok := e.(event.SessionStateChangedEvent); ok && !sc.Aggregate && sc.Engine == name {
			states = append(states, sc.NewState)
		}
	}
	return states
}

func launchParams() types.RunParameters {
	return types.RunParameters{StartMode: types.StartInternal, Executable: "/usr/bin/app"}
}

// TestConfigure_Validation verifies bad parameters are rejected before anything registers.
func TestConfigure_Validation(t *testing.T) {
	tests := []struct {
		name   string
		kinds  []types.BackendKind
		params types.RunParameters
		want   string
	}{
		{"empty executable", []types.BackendKind{types.BackendGDB}, types.RunParameters{StartMode: types.StartInternal}, "No executable specified."},
		{"missing pid", []types.BackendKind{types.BackendGDB}, types.RunParameters{StartMode: types.AttachToLocalProcess}, "No process id specified."},
		{"missing crashed pid", []types.BackendKind{types.BackendGDB}, types.RunParameters{StartMode: types.AttachToCrashedProcess}, "No process id specified."},
		{"missing core", []types.BackendKind{types.BackendGDB}, types.RunParameters{StartMode: types.AttachToCore}, "No core file specified."},
		{"missing remote", []types.BackendKind{types.BackendGDB}, types.RunParameters{StartMode: types.AttachToRemoteServer}, "No remote channel specified."},
		{"missing qml channel", []types.BackendKind{types.BackendQML}, types.RunParameters{StartMode: types.AttachToQmlServer}, "No QML channel specified."},
		{"unknown mode", []types.BackendKind{types.BackendGDB}, types.RunParameters{StartMode: "teleport"}, "Unknown start mode"},
		{"no debugger", nil, launchParams(), "No debugger set up."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.kinds...)
			c, err := Configure(h.env, tt.params)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !dbgerrors.IsCode(err, dbgerrors.CodeValidation) {
				t.Errorf("expected VALIDATION_ERROR, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected %q in error, got %v", tt.want, err)
			}

			if startErr := c.Start(); !errors.Is(startErr, err) {
				t.Errorf("expected Start to return the validation error, got %v", startErr)
			}
			h.loop.Drain()
			if h.reg.Len() != 0 {
				t.Errorf("expected no registrations, got %d", h.reg.Len())
			}
			if n := h.count(event.TypeSessionRegistered); n != 0 {
				t.Errorf("expected no SessionRegistered events, got %d", n)
			}
			if len(h.factory.created) != 0 {
				t.Errorf("expected no backends, got %d", len(h.factory.created))
			}
		})
	}
}

// TestSelectEngines verifies engine selection for each backend combination.
func TestSelectEngines(t *testing.T) {
	tests := []struct {
		name      string
		kinds     []types.BackendKind
		params    types.RunParameters
		primary   types.BackendKind
		companion types.BackendKind
		problem   string
	}{
		{"auto picks by priority", []types.BackendKind{types.BackendLLDB, types.BackendCDB}, launchParams(), types.BackendCDB, "", ""},
		{"unset means auto", []types.BackendKind{types.BackendGDB}, launchParams(), types.BackendGDB, "", ""},
		{"explicit wins", []types.BackendKind{types.BackendGDB, types.BackendLLDB},
			types.RunParameters{StartMode: types.StartInternal, Executable: "a", CppEngineType: types.BackendLLDB}, types.BackendLLDB, "", ""},
		{"explicit unresolvable", []types.BackendKind{types.BackendGDB},
			types.RunParameters{StartMode: types.StartInternal, Executable: "a", CppEngineType: types.BackendCDB}, "", "", "not set up"},
		{"unknown type", []types.BackendKind{types.BackendGDB},
			types.RunParameters{StartMode: types.StartInternal, Executable: "a", CppEngineType: "ollydbg"}, "", "", "Unknown debugger type"},
		{"native with qml companion", []types.BackendKind{types.BackendGDB, types.BackendQML},
			types.RunParameters{StartMode: types.StartInternal, Executable: "a", IsQmlDebugging: true}, types.BackendGDB, types.BackendQML, ""},
		{"qml only", []types.BackendKind{types.BackendGDB, types.BackendQML},
			types.RunParameters{StartMode: types.StartInternal, Executable: "a", IsQmlDebugging: true, CppEngineType: types.BackendNone}, types.BackendQML, "", ""},
		{"qml not set up", []types.BackendKind{types.BackendGDB},
			types.RunParameters{StartMode: types.StartInternal, Executable: "a", IsQmlDebugging: true}, "", "", "No QML debugger set up."},
		{"qml server", []types.BackendKind{types.BackendGDB, types.BackendQML},
			types.RunParameters{StartMode: types.AttachToQmlServer, QmlChannel: "127.0.0.1:3768"}, types.BackendQML, "", ""},
		{"nothing", nil, launchParams(), "", "", "No debugger set up."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.kinds...)
			sel, problems := SelectEngines(h.factory, tt.params)
			if tt.problem != "" {
				if len(problems) != 1 || !strings.Contains(problems[0], tt.problem) {
					t.Errorf("expected problem %q, got %v", tt.problem, problems)
				}
				return
			}
			if len(problems) != 0 {
				t.Fatalf("expected no problems, got %v", problems)
			}
			if sel.Primary != tt.primary || sel.Companion != tt.companion {
				t.Errorf("expected %s+%s, got %s+%s", tt.primary, tt.companion, sel.Primary, sel.Companion)
			}
		})
	}
}

// TestController_Lifecycle runs a session from start to stop.
func TestController_Lifecycle(t *testing.T) {
	h := newHarness(t, types.BackendGDB)
	c, err := Configure(h.env, launchParams())
	if err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if c.DisplayName() != "app" {
		t.Errorf("expected display name app, got %s", c.DisplayName())
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if h.reg.Len() != 1 {
		t.Fatalf("expected the session registered on start, got %d", h.reg.Len())
	}
	h.loop.Drain()

	if c.State() != "InferiorRunOk" {
		t.Errorf("expected InferiorRunOk, got %s", c.State())
	}
	if n := h.count(event.TypeSessionStarted); n != 1 {
		t.Errorf("expected one SessionStarted, got %d", n)
	}
	if h.reg.CurrentID() != c.ID() {
		t.Errorf("expected the started session to be current")
	}
	if c.PID() != 100 {
		t.Errorf("expected pid 100, got %d", c.PID())
	}
	if c.Info().Engines[0] != "gdb" || !c.Info().Current {
		t.Errorf("unexpected info %+v", c.Info())
	}

	c.Stop()
	h.loop.Drain()

	if !c.Finished() {
		t.Fatalf("expected finished, got %s", c.State())
	}
	if c.Failure() != nil {
		t.Errorf("expected no failure, got %v", c.Failure())
	}
	if h.reg.Len() != 0 {
		t.Errorf("expected session unregistered, got %d", h.reg.Len())
	}
	if n := h.count(event.TypeSessionStopped); n != 1 {
		t.Errorf("expected one SessionStopped, got %d", n)
	}

	states := h.engineStates("gdb")
	if len(states) == 0 || states[0] != "EngineSetupRequested" {
		t.Fatalf("expected EngineSetupRequested first, got %v", states)
	}
	if states[len(states)-1] != "Finished" {
		t.Errorf("expected Finished last, got %v", states)
	}
	backend := h.factory.created[0].backend
	want := "SetupEngine RunEngine InterruptInferior ShutdownInferior ShutdownEngine"
	if got := strings.Join(backend.Calls(), " "); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

// TestController_StopTwice verifies a second stop adds no shutdown.
func TestController_StopTwice(t *testing.T) {
	h := newHarness(t, types.BackendGDB)
	c, _ := Configure(h.env, launchParams())
	c.Start()
	h.loop.Drain()

	c.Stop()
	c.Stop()
	h.loop.Drain()
	c.Stop()
	h.loop.Drain()

	backend := h.factory.created[0].backend
	if n := backend.Count("ShutdownInferior"); n != 1 {
		t.Errorf("expected one ShutdownInferior, got %d", n)
	}
	if n := h.count(event.TypeSessionStopped); n != 1 {
		t.Errorf("expected one SessionStopped, got %d", n)
	}
	aggregate := 0
	for _, e := range h.events {
		if sc, ok := e.(event.SessionStateChangedEvent); ok && sc.Aggregate {
			aggregate++
		}
	}
	if aggregate != 1 {
		t.Errorf("expected one aggregate finished event, got %d", aggregate)
	}
}

// TestController_CompanionSetupFailure verifies a failing native engine unwinds its companion.
func TestController_CompanionSetupFailure(t *testing.T) {
	h := newHarness(t, types.BackendGDB, types.BackendQML)
	h.factory.setupErr = map[types.BackendKind]error{types.BackendGDB: errors.New("gdb is too old")}

	p := launchParams()
	p.IsQmlDebugging = true
	c, err := Configure(h.env, p)
	if err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	c.Start()
	h.loop.Drain()

	if !c.Finished() {
		t.Fatalf("expected finished, got %s", c.State())
	}
	for _, name := range []string{"gdb", "qml"} {
		states := h.engineStates(name)
		if len(states) == 0 || states[len(states)-1] != "Finished" {
			t.Errorf("expected %s to finish, got %v", name, states)
		}
	}
	if n := h.count(event.TypeCurrentChanged); n > 1 {
		t.Errorf("expected at most one CurrentChanged, got %d", n)
	}
	if n := h.count(event.TypeSessionStarted); n != 0 {
		t.Errorf("expected no SessionStarted, got %d", n)
	}
	if n := h.count(event.TypeSessionFailed); n != 1 {
		t.Errorf("expected one SessionFailed, got %d", n)
	}
	failure := c.Failure()
	if !dbgerrors.IsCode(failure, dbgerrors.CodeSetupFailure) {
		t.Errorf("expected SETUP_FAILURE, got %v", failure)
	}
	if !strings.Contains(failure.Error(), "gdb is too old") {
		t.Errorf("expected cause in failure, got %v", failure)
	}
	if h.reg.Len() != 0 {
		t.Errorf("expected session unregistered, got %d", h.reg.Len())
	}
}

// TestController_RunFailure verifies a refused launch ends the session with one failure.
func TestController_RunFailure(t *testing.T) {
	h := newHarness(t, types.BackendLLDB)
	h.factory.runErr = map[types.BackendKind]error{types.BackendLLDB: errors.New("no such file")}

	c, _ := Configure(h.env, launchParams())
	c.Start()
	h.loop.Drain()

	if !c.Finished() {
		t.Fatalf("expected finished, got %s", c.State())
	}
	if !dbgerrors.IsCode(c.Failure(), dbgerrors.CodeRunFailure) {
		t.Errorf("expected RUN_FAILURE, got %v", c.Failure())
	}
	backend := h.factory.created[0].backend
	if backend.Count("ShutdownEngine") != 1 {
		t.Errorf("expected engine shut down after run failure, got %v", backend.Calls())
	}
}

// TestController_BreakpointWarning verifies unsupported breakpoints warn without failing.
func TestController_BreakpointWarning(t *testing.T) {
	h := newHarness(t, types.BackendPDB)
	h.env.Breakpoints = breakpoints{
		{Kind: types.BreakpointByFileAndLine, File: "main.py", Line: 3, Enabled: true},
		{Kind: types.BreakpointAtMain, Enabled: true},
		{Kind: types.BreakpointAtMain, Enabled: true},
		{Kind: types.WatchpointAtAddress, Address: 0x1000, Enabled: false},
	}
	c, _ := Configure(h.env, launchParams())
	if err := c.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.loop.Drain()

	var warnings []string
	for _, e := range h.events {
		if w, ok := e.(event.SessionWarningEvent); ok {
			warnings = append(warnings, w.Message)
		}
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], string(types.BreakpointAtMain)) {
		t.Errorf("expected one at-main warning, got %v", warnings)
	}
	if c.State() != "InferiorRunOk" {
		t.Errorf("expected the session to run anyway, got %s", c.State())
	}
	if got := len(h.factory.created[0].backend.Calls()); got == 0 {
		t.Error("expected the backend to be driven")
	}
}

type stubDep struct {
	err      error
	block    bool
	released atomic.Int32
	ctx      context.Context
}

func (d *stubDep) Name() string { return "stub" }

func (d *stubDep) Acquire(ctx context.Context) error {
	d.ctx = ctx
	if d.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return d.err
}

func (d *stubDep) Apply(p *types.RunParameters) { p.InferiorTTY = "/dev/pts/9" }

func (d *stubDep) Release() error {
	d.released.Add(1)
	return nil
}

// TestController_Prerun verifies dependencies are applied before the engines exist.
func TestController_Prerun(t *testing.T) {
	h := newHarness(t, types.BackendGDB)
	dep := &stubDep{}
	h.env.Plan = func(types.RunParameters, *zap.Logger) []prerun.Dependency { return []prerun.Dependency{dep} }

	c, _ := Configure(h.env, launchParams())
	c.Start()
	if c.State() != "PreRun" {
		t.Errorf("expected PreRun, got %s", c.State())
	}

	deadline := time.Now().Add(5 * time.Second)
	for c.Primary() == nil && time.Now().Before(deadline) {
		h.loop.Drain()
		time.Sleep(5 * time.Millisecond)
	}
	if len(h.factory.created) != 1 {
		t.Fatalf("expected one backend, got %d", len(h.factory.created))
	}
	if tty := h.factory.created[0].params.InferiorTTY; tty != "/dev/pts/9" {
		t.Errorf("expected tty from pre-run, got %q", tty)
	}
	if dep.ctx.Err() == nil {
		t.Error("expected the gathering context to be cancelled once done")
	}

	c.Stop()
	h.waitFinished(t, c)
	if dep.released.Load() != 1 {
		t.Errorf("expected dependency released once, got %d", dep.released.Load())
	}
}

// TestController_PrerunFailure verifies a failed dependency aborts before any engine starts.
func TestController_PrerunFailure(t *testing.T) {
	h := newHarness(t, types.BackendGDB)
	dep := &stubDep{err: errors.New("no ports left")}
	h.env.Plan = func(types.RunParameters, *zap.Logger) []prerun.Dependency { return []prerun.Dependency{dep} }

	c, _ := Configure(h.env, launchParams())
	c.Start()
	h.waitFinished(t, c)

	if len(h.factory.created) != 0 {
		t.Errorf("expected no engines, got %d", len(h.factory.created))
	}
	if !dbgerrors.IsCode(c.Failure(), dbgerrors.CodePrerunFailed) {
		t.Errorf("expected PRERUN_FAILED, got %v", c.Failure())
	}
	if dep.released.Load() == 0 {
		t.Error("expected dependency released")
	}
	if h.reg.Len() != 0 {
		t.Errorf("expected session unregistered, got %d", h.reg.Len())
	}
	if n := h.count(event.TypeSessionFailed); n != 1 {
		t.Errorf("expected one SessionFailed, got %d", n)
	}
}

// TestController_StopDuringPrerun verifies stop cancels gathering without a failure.
func TestController_StopDuringPrerun(t *testing.T) {
	h := newHarness(t, types.BackendGDB)
	dep := &stubDep{block: true}
	h.env.Plan = func(types.RunParameters, *zap.Logger) []prerun.Dependency { return []prerun.Dependency{dep} }

	c, _ := Configure(h.env, launchParams())
	c.Start()
	c.Stop()
	h.waitFinished(t, c)

	if len(h.factory.created) != 0 {
		t.Errorf("expected no engines, got %d", len(h.factory.created))
	}
	if c.Failure() != nil {
		t.Errorf("expected a clean stop, got %v", c.Failure())
	}
	if dep.released.Load() == 0 {
		t.Error("expected dependency released")
	}
}

// TestController_AttachToDumpedCore verifies snapshots are new numbered sessions.
func TestController_AttachToDumpedCore(t *testing.T) {
	h := newHarness(t, types.BackendGDB, types.BackendLLDB)
	p := launchParams()
	p.CppEngineType = types.BackendLLDB
	c, _ := Configure(h.env, p)
	c.Start()
	h.loop.Drain()

	if _, err := c.AttachToDumpedCore(""); !dbgerrors.IsCode(err, dbgerrors.CodeValidation) {
		t.Fatalf("expected VALIDATION_ERROR for a missing core file, got %v", err)
	}
	first, err := c.AttachToDumpedCore("/tmp/core.1")
	if err != nil {
		t.Fatalf("AttachToDumpedCore failed: %v", err)
	}
	second, err := c.AttachToDumpedCore("/tmp/core.2")
	if err != nil {
		t.Fatalf("AttachToDumpedCore failed: %v", err)
	}
	h.loop.Drain()

	if first.DisplayName() != "app - Snapshot 1" || second.DisplayName() != "app - Snapshot 2" {
		t.Errorf("unexpected snapshot names %q, %q", first.DisplayName(), second.DisplayName())
	}
	if first.Params().DisplayName != first.DisplayName() {
		t.Errorf("expected params to carry the name, got %q", first.Params().DisplayName)
	}
	if first.ID() == c.ID() || first.RunID() == c.RunID() {
		t.Error("expected a new session")
	}
	fp := first.Params()
	if fp.StartMode != types.AttachToCore || !fp.IsSnapshot || fp.CoreFile != "/tmp/core.1" {
		t.Errorf("unexpected snapshot parameters %+v", fp)
	}
	if first.Kind() != types.BackendLLDB {
		t.Errorf("expected the snapshot to keep lldb, got %s", first.Kind())
	}
	if first.State() != "InferiorUnrunnable" {
		t.Errorf("expected InferiorUnrunnable, got %s", first.State())
	}
	if c.State() != "InferiorRunOk" {
		t.Errorf("expected the original session untouched, got %s", c.State())
	}
	if h.reg.Len() != 3 {
		t.Errorf("expected three live sessions, got %d", h.reg.Len())
	}
}

// TestController_SessionLimit verifies the live session cap.
func TestController_SessionLimit(t *testing.T) {
	h := newHarness(t, types.BackendGDB)
	h.env.MaxSessions = 1

	a, _ := Configure(h.env, launchParams())
	if err := a.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	b, _ := Configure(h.env, launchParams())
	if err := b.Start(); !dbgerrors.IsCode(err, dbgerrors.CodeSessionLimitReached) {
		t.Errorf("expected SESSION_LIMIT_REACHED, got %v", err)
	}
	if h.reg.Len() != 1 {
		t.Errorf("expected one live session, got %d", h.reg.Len())
	}
}

// TestController_InterruptContinue verifies interactive control of a running session.
func TestController_InterruptContinue(t *testing.T) {
	h := newHarness(t, types.BackendGDB)
	c, _ := Configure(h.env, launchParams())

	if err := c.Continue(); err == nil {
		t.Error("expected Continue to fail before start")
	}
	c.Start()
	h.loop.Drain()

	if err := c.Continue(); err == nil {
		t.Error("expected Continue to fail while running")
	}
	if err := c.Interrupt(); err != nil {
		t.Fatalf("Interrupt failed: %v", err)
	}
	h.loop.Drain()
	if c.State() != "InferiorStopOk" {
		t.Errorf("expected InferiorStopOk, got %s", c.State())
	}
	if err := c.Continue(); err != nil {
		t.Fatalf("Continue failed: %v", err)
	}
	h.loop.Drain()
	if c.State() != "InferiorRunOk" {
		t.Errorf("expected InferiorRunOk, got %s", c.State())
	}

	c.Stop()
	h.loop.Drain()
	if err := c.Interrupt(); !dbgerrors.IsCode(err, dbgerrors.CodeSessionTerminated) {
		t.Errorf("expected SESSION_TERMINATED, got %v", err)
	}
}

// TestController_ShutdownAll verifies the registry stops live sessions.
func TestController_ShutdownAll(t *testing.T) {
	h := newHarness(t, types.BackendGDB)
	a, _ := Configure(h.env, launchParams())
	b, _ := Configure(h.env, launchParams())
	a.Start()
	b.Start()
	h.loop.Drain()

	if !h.reg.ShutdownAll() {
		t.Error("expected running sessions to need stopping")
	}
	h.loop.Drain()
	if !a.Finished() || !b.Finished() {
		t.Errorf("expected both finished, got %s and %s", a.State(), b.State())
	}
	if h.reg.Len() != 0 {
		t.Errorf("expected empty registry, got %d", h.reg.Len())
	}
}
