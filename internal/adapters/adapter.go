// Package adapters provides the engine backends shipped with debugctl.
//
// Every backend is a debug adapter speaking DAP. A Builder knows how to start
// or reach one kind of adapter and how to phrase the launch or attach request
// for a set of run parameters:
//   - gdb (gdb --interpreter=dap, gdb 14.1 or later)
//   - lldb (lldb-dap)
//   - cdb (a DAP bridge around the Windows console debugger)
//   - pdb (Python via debugpy)
//   - uvsc (an adapter for the Keil uVision socket interface)
//   - qml (a DAP bridge to the QML debug service)
//
// The Factory maps backend kinds onto builders, tells the session which
// kinds are usable with the current configuration, and creates DAPBackend
// instances that implement engine.Backend.
package adapters

import (
	"context"
	"fmt"
	"net"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ctagard/debugctl/internal/config"
	"github.com/ctagard/debugctl/internal/dap"
	"github.com/ctagard/debugctl/internal/engine"
	dbgerrors "github.com/ctagard/debugctl/internal/errors"
	"github.com/ctagard/debugctl/pkg/types"
)

// Command describes how to reach an adapter.
//
// With only Path set the adapter is spawned and speaks DAP on stdio. With
// only Address set an already running adapter is dialled. With both, the
// adapter is spawned and then dialled at Address once it listens.
type Command struct {
	Path    string
	Args    []string
	Env     []string
	Dir     string
	Address string
}

// Builder knows one kind of debug adapter
type Builder interface {
	// Kind returns the backend kind served
	Kind() types.BackendKind

	// AdapterID is sent in the initialize request
	AdapterID() string

	// Supports reports whether the adapter can serve the start mode
	Supports(mode types.StartMode) bool

	// Command returns how to start or reach the adapter
	Command(cfg config.BackendConfig, p *types.RunParameters) (Command, error)

	// Request returns the DAP request ("launch" or "attach") and its arguments
	Request(p *types.RunParameters) (string, map[string]any)
}

// Connector starts or reaches the adapter described by cmd. ctx bounds the
// lifetime of a spawned adapter process.
type Connector func(ctx context.Context, cmd Command) (*dap.Transport, *dap.Process, error)

// Factory creates backends for the configured debuggers
type Factory struct {
	backends config.BackendConfigs
	timeouts config.TimeoutConfig
	logger   *zap.Logger
	builders map[types.BackendKind]Builder
	connect  Connector
}

// NewFactory creates a factory with every built-in builder registered
func NewFactory(cfg *config.Config, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Factory{
		backends: cfg.Backends,
		timeouts: cfg.Timeouts,
		logger:   logger,
		builders: make(map[types.BackendKind]Builder),
		connect:  Connect,
	}
	for _, b := range []Builder{
		NewGDBBuilder(),
		NewCDBBuilder(),
		NewLLDBBuilder(),
		NewDebugpyBuilder(),
		NewUVSCBuilder(),
		NewQMLBuilder(),
	} {
		f.Register(b)
	}
	return f
}

// Register installs b, replacing any builder of the same kind
func (f *Factory) Register(b Builder) {
	f.builders[b.Kind()] = b
}

// SetConnector replaces how adapters are reached
func (f *Factory) SetConnector(c Connector) {
	f.connect = c
}

// Kinds returns the configured backend kinds, sorted
func (f *Factory) Kinds() []string {
	var kinds []string
	for kind := range f.builders {
		if cfg, ok := f.backends.For(kind); ok && cfg.Configured() {
			kinds = append(kinds, string(kind))
		}
	}
	sort.Strings(kinds)
	return kinds
}

// Resolvable reports whether a backend of kind can be created for mode
func (f *Factory) Resolvable(kind types.BackendKind, mode types.StartMode) bool {
	b, ok := f.builders[kind]
	if !ok || !b.Supports(mode) {
		return false
	}
	cfg, ok := f.backends.For(kind)
	return ok && cfg.Configured()
}

// SupportedBreakpoints returns the breakpoint kinds a backend of kind handles
func (f *Factory) SupportedBreakpoints(kind types.BackendKind) []types.BreakpointKind {
	return SupportedBreakpoints(kind)
}

// NewBackend creates a backend of kind for one engine
func (f *Factory) NewBackend(kind types.BackendKind, params types.RunParameters, breakpoints []types.Breakpoint, logger *zap.Logger) (engine.Backend, error) {
	if !f.Resolvable(kind, params.StartMode) {
		return nil, dbgerrors.AdapterNotSupported(string(kind), f.Kinds())
	}
	if logger == nil {
		logger = f.logger
	}
	b := f.builders[kind]
	cfg, _ := f.backends.For(kind)
	cmd, err := b.Command(cfg, &params)
	if err != nil {
		return nil, dbgerrors.AdapterSpawnFailed(string(kind), err)
	}
	return newDAPBackend(b, cmd, params, breakpoints, f.timeouts, f.connect, logger), nil
}

// Connect is the default Connector
func Connect(ctx context.Context, cmd Command) (*dap.Transport, *dap.Process, error) {
	opts := dap.ProcessOptions{Dir: cmd.Dir, Env: cmd.Env, Stderr: os.Stderr}
	switch {
	case cmd.Path == "" && cmd.Address == "":
		return nil, nil, fmt.Errorf("adapter has neither a path nor an address")
	case cmd.Path == "":
		t, err := dap.DialTCP(ctx, cmd.Address, 20, 200*time.Millisecond)
		return t, nil, err
	case cmd.Address == "":
		return dap.StartStdio(ctx, cmd.Path, cmd.Args, opts)
	}

	proc, err := dap.StartServer(ctx, cmd.Path, cmd.Args, opts)
	if err != nil {
		return nil, nil, err
	}
	// 20 retries * 200ms = 4 seconds for the adapter to start listening
	t, err := dap.DialTCP(ctx, cmd.Address, 20, 200*time.Millisecond)
	if err != nil {
		_ = proc.Kill() // best-effort cleanup
		return nil, nil, err
	}
	return t, proc, nil
}

// FreePort finds an available local TCP port
func FreePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()

	addr := listener.Addr().(*net.TCPAddr)
	return addr.Port, nil
}

var supportedBreakpoints = map[types.BackendKind][]types.BreakpointKind{
	types.BackendGDB: {
		types.BreakpointByFileAndLine, types.BreakpointByFunction, types.BreakpointAtMain,
		types.BreakpointOnThrow, types.BreakpointOnCatch,
	},
	types.BackendCDB: {
		types.BreakpointByFileAndLine, types.BreakpointByFunction, types.BreakpointAtMain,
		types.BreakpointOnThrow,
	},
	types.BackendLLDB: {
		types.BreakpointByFileAndLine, types.BreakpointByFunction, types.BreakpointAtMain,
		types.BreakpointOnThrow, types.BreakpointOnCatch,
	},
	types.BackendPDB: {
		types.BreakpointByFileAndLine, types.BreakpointByFunction, types.BreakpointOnThrow,
	},
	types.BackendUVSC: {
		types.BreakpointByFileAndLine, types.BreakpointByFunction, types.BreakpointAtMain,
	},
	types.BackendQML: {
		types.BreakpointByFileAndLine,
	},
}

// SupportedBreakpoints returns the breakpoint kinds a backend of kind handles
func SupportedBreakpoints(kind types.BackendKind) []types.BreakpointKind {
	return supportedBreakpoints[kind]
}

// Supports reports whether kind handles breakpoints of bk
func Supports(kind types.BackendKind, bk types.BreakpointKind) bool {
	for _, s := range supportedBreakpoints[kind] {
		if s == bk {
			return true
		}
	}
	return false
}

func envList(env map[string]string) []string {
	list := make([]string, 0, len(env))
	for k, v := range env {
		list = append(list, k+"="+v)
	}
	sort.Strings(list)
	return list
}

func allModes(mode types.StartMode) bool {
	return mode.Valid() && mode != types.AttachToQmlServer
}
