package adapters

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	godap "github.com/google/go-dap"
	"go.uber.org/zap"

	"github.com/ctagard/debugctl/internal/config"
	"github.com/ctagard/debugctl/internal/dap"
	"github.com/ctagard/debugctl/internal/engine"
	dbgerrors "github.com/ctagard/debugctl/internal/errors"
	"github.com/ctagard/debugctl/pkg/types"
)

// ClientID is sent to adapters in the initialize request
const ClientID = "debugctl"

// adapterExitGrace is how long an adapter gets to exit on its own after the
// connection is closed
const adapterExitGrace = 2 * time.Second

// DAPBackend drives one debug adapter on behalf of an engine.
//
// Requests run on their own goroutines. Every notification is issued while
// holding mu, so notifications reach the controller loop in the order the
// backend decided them, whichever goroutine decided.
type DAPBackend struct {
	builder     Builder
	command     Command
	params      types.RunParameters
	breakpoints []types.Breakpoint
	timeouts    config.TimeoutConfig
	connect     Connector
	logger      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu               sync.Mutex
	n                engine.Notifier
	client           *dap.Client
	proc             *dap.Process
	threadID         int
	runReported      bool
	stoppedEarly     bool
	interruptPending bool
	shuttingDown     bool
	inferiorGone     bool
	exitCode         int
}

func newDAPBackend(b Builder, cmd Command, params types.RunParameters, bps []types.Breakpoint,
	timeouts config.TimeoutConfig, connect Connector, logger *zap.Logger) *DAPBackend {
	ctx, cancel := context.WithCancel(context.Background())
	return &DAPBackend{
		builder:     b,
		command:     cmd,
		params:      params,
		breakpoints: bps,
		timeouts:    timeouts,
		connect:     connect,
		logger:      logger.With(zap.String("adapter", b.AdapterID())),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (b *DAPBackend) notify(fn func(n engine.Notifier)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b.n)
}

// SetupEngine starts or dials the adapter and sends initialize
func (b *DAPBackend) SetupEngine(n engine.Notifier) {
	b.mu.Lock()
	b.n = n
	b.mu.Unlock()
	go b.setup()
}

func (b *DAPBackend) setup() {
	transport, proc, err := b.connect(b.ctx, b.command)
	if err != nil {
		b.notify(func(n engine.Notifier) {
			n.EngineSetupFailed(dbgerrors.AdapterSpawnFailed(string(b.builder.Kind()), err))
		})
		return
	}
	client := dap.NewClient(transport, b.handleEvent, b.logger)

	b.mu.Lock()
	if b.ctx.Err() != nil {
		// Aborted while connecting
		b.mu.Unlock()
		b.release(client, proc)
		return
	}
	b.client, b.proc = client, proc
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(b.ctx, b.timeouts.Init)
	defer cancel()
	if _, err := client.Initialize(ctx, ClientID, b.builder.AdapterID()); err != nil {
		err = timedOut("initialize", b.timeouts.Init, err)
		b.notify(func(n engine.Notifier) { n.EngineSetupFailed(dbgerrors.DAPInitFailed(err)) })
		return
	}
	b.logger.Debug("adapter initialized")
	go b.watch(client)
	b.notify(func(n engine.Notifier) { n.EngineSetupOk() })
}

// RunEngine launches or attaches, syncs breakpoints and finishes configuration
func (b *DAPBackend) RunEngine() {
	go b.run()
}

func (b *DAPBackend) run() {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()

	command, args := b.builder.Request(&b.params)
	fail := func(err error) {
		err = timedOut(command, b.timeouts.Launch, err)
		if command == "attach" {
			err = dbgerrors.DAPAttachFailed(err)
		} else {
			err = dbgerrors.DAPLaunchFailed(b.params.Executable, err)
		}
		b.notify(func(n engine.Notifier) { n.EngineRunFailed(err) })
	}

	var pending <-chan godap.Message
	var err error
	if command == "attach" {
		pending, err = client.AttachAsync(args)
	} else {
		pending, err = client.LaunchAsync(args)
	}
	if err != nil {
		fail(err)
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.timeouts.Launch)
	defer cancel()

	// A refused launch is usually answered without an initialized event
	answered := false
	select {
	case <-client.Initialized():
	case msg, ok := <-pending:
		if !ok {
			fail(dap.ErrClosed)
			return
		}
		if _, err := dap.CheckResponse(msg); err != nil {
			fail(err)
			return
		}
		answered = true
		if err := client.WaitInitialized(ctx); err != nil {
			fail(err)
			return
		}
	case <-ctx.Done():
		fail(ctx.Err())
		return
	}

	b.syncBreakpoints(ctx, client)
	if client.Capabilities().SupportsConfigurationDoneRequest {
		if err := client.ConfigurationDone(ctx); err != nil {
			fail(err)
			return
		}
	}
	if !answered {
		if _, err := client.Await(ctx, pending); err != nil {
			fail(err)
			return
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.runReported = true
	switch {
	case b.params.StartMode == types.AttachToCore:
		b.n.EngineRunOkAndInferiorUnrunnable()
	case b.inferiorGone:
		b.n.EngineRunAndInferiorRunOk()
		b.n.InferiorExited(b.exitCode)
	case b.stoppedEarly:
		b.n.EngineRunAndInferiorStopOk()
	default:
		b.n.EngineRunAndInferiorRunOk()
	}
}

// syncBreakpoints pushes the enabled breakpoints to the adapter. Failures
// are logged; a breakpoint the adapter rejects does not fail the run.
func (b *DAPBackend) syncBreakpoints(ctx context.Context, client *dap.Client) {
	caps := client.Capabilities()
	byFile := make(map[string][]godap.SourceBreakpoint)
	var files []string
	var funcs []godap.FunctionBreakpoint
	var filters []string

	for _, bp := range b.breakpoints {
		if !bp.Enabled {
			continue
		}
		switch bp.Kind {
		case types.BreakpointByFileAndLine:
			if _, ok := byFile[bp.File]; !ok {
				files = append(files, bp.File)
			}
			byFile[bp.File] = append(byFile[bp.File], godap.SourceBreakpoint{Line: bp.Line, Condition: bp.Condition})
		case types.BreakpointByFunction:
			funcs = append(funcs, godap.FunctionBreakpoint{Name: bp.Function, Condition: bp.Condition})
		case types.BreakpointAtMain:
			funcs = append(funcs, godap.FunctionBreakpoint{Name: "main"})
		case types.BreakpointOnThrow, types.BreakpointOnCatch:
			if f := exceptionFilter(caps, bp.Kind); f != "" {
				filters = append(filters, f)
			} else {
				b.logger.Debug("no exception filter for breakpoint", zap.String("kind", string(bp.Kind)))
			}
		default:
			b.logger.Debug("breakpoint kind not handled", zap.String("kind", string(bp.Kind)))
		}
	}

	for _, file := range files {
		if _, err := client.SetBreakpoints(ctx, file, byFile[file]); err != nil {
			b.logger.Warn("failed to set breakpoints", zap.String("file", file), zap.Error(err))
		}
	}
	if len(funcs) > 0 && caps.SupportsFunctionBreakpoints {
		if _, err := client.SetFunctionBreakpoints(ctx, funcs); err != nil {
			b.logger.Warn("failed to set function breakpoints", zap.Error(err))
		}
	}
	if len(filters) > 0 {
		if err := client.SetExceptionBreakpoints(ctx, filters); err != nil {
			b.logger.Warn("failed to set exception breakpoints", zap.Error(err))
		}
	}
}

func exceptionFilter(caps godap.Capabilities, kind types.BreakpointKind) string {
	keywords := []string{"throw", "raised"}
	if kind == types.BreakpointOnCatch {
		keywords = []string{"catch"}
	}
	for _, f := range caps.ExceptionBreakpointFilters {
		name := strings.ToLower(f.Filter)
		for _, kw := range keywords {
			if strings.Contains(name, kw) {
				return f.Filter
			}
		}
	}
	return ""
}

// InterruptInferior sends pause; the stopped event completes the interrupt
func (b *DAPBackend) InterruptInferior() {
	go func() {
		client, tid := b.thread()
		b.mu.Lock()
		b.interruptPending = true
		b.mu.Unlock()

		failed := func(err error) {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.interruptPending = false
			b.n.InferiorStopFailed(err)
		}
		err := client.PauseAsync(tid, func(err error) {
			if err != nil {
				failed(err)
			}
		})
		if err != nil {
			failed(err)
		}
	}()
}

// ContinueInferior resumes every thread
func (b *DAPBackend) ContinueInferior() {
	go func() {
		client, tid := b.thread()
		done := func(err error) {
			b.notify(func(n engine.Notifier) {
				if err != nil {
					n.InferiorRunFailed(err)
					return
				}
				n.InferiorRunOk()
			})
		}
		if err := client.ContinueAsync(tid, done); err != nil {
			done(err)
		}
	}()
}

// thread returns the client and the thread to address, asking the adapter
// for its threads when no stop has named one yet
func (b *DAPBackend) thread() (*dap.Client, int) {
	b.mu.Lock()
	client, tid := b.client, b.threadID
	b.mu.Unlock()
	if tid > 0 {
		return client, tid
	}
	ctx, cancel := context.WithTimeout(b.ctx, b.timeouts.Request)
	defer cancel()
	threads, err := client.Threads(ctx)
	if err != nil {
		b.logger.Debug("threads request failed, using thread 1", zap.Error(timedOut("threads", b.timeouts.Request, err)))
	}
	if err != nil || len(threads) == 0 {
		return client, 1
	}
	return client, threads[0].Id
}

// ShutdownInferior disconnects, killing or detaching per the close mode
func (b *DAPBackend) ShutdownInferior() {
	go func() {
		b.mu.Lock()
		b.shuttingDown = true
		client, gone := b.client, b.inferiorGone
		b.mu.Unlock()

		if !gone && client != nil {
			terminate := terminateAtClose(&b.params)
			ctx, cancel := context.WithTimeout(b.ctx, b.timeouts.Request)
			if err := client.Disconnect(ctx, terminate); err != nil {
				err = timedOut("disconnect", b.timeouts.Request, err)
				b.logger.Warn("disconnect failed, continuing shutdown", zap.Bool("terminate", terminate), zap.Error(err))
			}
			cancel()
		}

		b.mu.Lock()
		defer b.mu.Unlock()
		b.inferiorGone = true
		b.n.InferiorShutdownFinished()
	}()
}

// ShutdownEngine closes the connection and stops the adapter process
func (b *DAPBackend) ShutdownEngine() {
	go func() {
		b.mu.Lock()
		b.shuttingDown = true
		client, proc := b.client, b.proc
		b.mu.Unlock()

		b.release(client, proc)
		b.cancel()
		b.notify(func(n engine.Notifier) { n.EngineShutdownFinished() })
	}()
}

// AbortEngine tears down whatever setup got to
func (b *DAPBackend) AbortEngine() {
	b.cancel()
	b.mu.Lock()
	b.shuttingDown = true
	client, proc := b.client, b.proc
	b.mu.Unlock()
	go b.release(client, proc)
}

func (b *DAPBackend) release(client *dap.Client, proc *dap.Process) {
	if client != nil {
		if err := client.Close(); err != nil {
			b.logger.Debug("closing adapter connection", zap.Error(err))
		}
	}
	if proc == nil {
		return
	}
	select {
	case <-proc.Exited():
		return
	case <-time.After(adapterExitGrace):
	}
	if err := proc.Kill(); err != nil {
		b.logger.Warn("failed to kill adapter", zap.Int("pid", proc.Pid()), zap.Error(err))
	}
}

// watch reports a lost adapter connection as the inferior going away
func (b *DAPBackend) watch(client *dap.Client) {
	select {
	case <-client.Done():
	case <-b.ctx.Done():
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.shuttingDown || b.inferiorGone || !b.runReported {
		return
	}
	b.logger.Warn("adapter connection lost", zap.Error(client.Err()))
	b.inferiorGone = true
	b.n.InferiorExited(-1)
}

// handleEvent runs on the client's read goroutine
func (b *DAPBackend) handleEvent(msg godap.Message) {
	switch m := msg.(type) {
	case *godap.ProcessEvent:
		if m.Body.SystemProcessId > 0 {
			b.notify(func(n engine.Notifier) { n.InferiorPID(m.Body.SystemProcessId) })
		}
	case *godap.StoppedEvent:
		b.stopped(m.Body.ThreadId, m.Body.Reason)
	case *godap.ExitedEvent:
		b.exited(m.Body.ExitCode)
	case *godap.TerminatedEvent:
		b.exited(-1)
	case *godap.OutputEvent:
		b.logger.Debug("adapter output",
			zap.String("category", m.Body.Category),
			zap.String("output", strings.TrimRight(m.Body.Output, "\n")))
	}
}

func (b *DAPBackend) stopped(threadID int, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if threadID > 0 {
		b.threadID = threadID
	}
	switch {
	case !b.runReported:
		b.stoppedEarly = true
	case b.shuttingDown || b.inferiorGone:
	case b.interruptPending:
		b.interruptPending = false
		b.n.InferiorStopOk()
	default:
		b.logger.Debug("inferior stopped", zap.String("reason", reason))
		b.n.InferiorSpontaneousStop()
	}
}

func (b *DAPBackend) exited(code int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inferiorGone {
		return
	}
	b.inferiorGone = true
	b.exitCode = code
	if !b.runReported || b.shuttingDown {
		return
	}
	b.n.InferiorExited(code)
}

func terminateAtClose(p *types.RunParameters) bool {
	switch p.CloseMode {
	case types.KillAtClose:
		return true
	case types.DetachAtClose:
		return false
	}
	return p.StartMode == types.StartInternal
}

// timedOut turns a request that ran into its deadline into a DAP_TIMEOUT
func timedOut(operation string, limit time.Duration, err error) error {
	if !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return dbgerrors.DAPTimeout(operation, int(limit.Seconds())).WithCause(err)
}
