// Package enginetest provides a scriptable engine.Backend for tests.
package enginetest

import (
	"sync"

	"github.com/ctagard/debugctl/internal/engine"
)

// RunResult is what an automatic backend reports for RunEngine
type RunResult int

const (
	RunRunning RunResult = iota
	RunStopped
	RunUnrunnable
)

// Backend records every request. With Auto set it answers each request right
// away through the notifier, failing where an error is configured; without
// Auto the test drives the notifier itself.
type Backend struct {
	Auto      bool
	SetupErr  error
	RunErr    error
	StopErr   error
	RunResult RunResult
	PID       int

	mu       sync.Mutex
	calls    []string
	notifier engine.Notifier
}

// Calls returns the requests received so far, in order
func (b *Backend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

// Count returns how often the named request was received
func (b *Backend) Count(call string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		if c == call {
			n++
		}
	}
	return n
}

// Notifier returns the notifier handed over by SetupEngine
func (b *Backend) Notifier() engine.Notifier {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.notifier
}

func (b *Backend) record(call string) {
	b.mu.Lock()
	b.calls = append(b.calls, call)
	b.mu.Unlock()
}

func (b *Backend) SetupEngine(n engine.Notifier) {
	b.mu.Lock()
	b.notifier = n
	b.mu.Unlock()
	b.record("SetupEngine")
	if !b.Auto {
		return
	}
	if b.SetupErr != nil {
		n.EngineSetupFailed(b.SetupErr)
		return
	}
	n.EngineSetupOk()
}

func (b *Backend) RunEngine() {
	b.record("RunEngine")
	if !b.Auto {
		return
	}
	n := b.Notifier()
	if b.RunErr != nil {
		n.EngineRunFailed(b.RunErr)
		return
	}
	if b.PID > 0 {
		n.InferiorPID(b.PID)
	}
	switch b.RunResult {
	case RunStopped:
		n.EngineRunAndInferiorStopOk()
	case RunUnrunnable:
		n.EngineRunOkAndInferiorUnrunnable()
	default:
		n.EngineRunAndInferiorRunOk()
	}
}

func (b *Backend) InterruptInferior() {
	b.record("InterruptInferior")
	if !b.Auto {
		return
	}
	if b.StopErr != nil {
		b.Notifier().InferiorStopFailed(b.StopErr)
		return
	}
	b.Notifier().InferiorStopOk()
}

func (b *Backend) ContinueInferior() {
	b.record("ContinueInferior")
	if b.Auto {
		b.Notifier().InferiorRunOk()
	}
}

func (b *Backend) ShutdownInferior() {
	b.record("ShutdownInferior")
	if b.Auto {
		b.Notifier().InferiorShutdownFinished()
	}
}

func (b *Backend) ShutdownEngine() {
	b.record("ShutdownEngine")
	if b.Auto {
		b.Notifier().EngineShutdownFinished()
	}
}

func (b *Backend) AbortEngine() {
	b.record("AbortEngine")
}
