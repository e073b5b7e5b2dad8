// Package types defines shared data types used across debugctl.
//
// This package provides type definitions for:
//   - StartMode / CloseMode: how a session reaches its inferior and what happens at close
//   - BackendKind: the debugger backends an engine can drive (gdb, cdb, lldb, pdb, uvsc, qml)
//   - RunParameters: everything needed to construct one debugging session
//   - Breakpoint: the read-only breakpoint snapshot pulled once per start
//   - SessionInfo / EntryInfo: listing views of live sessions and registry entries
//
// These types are used throughout the codebase to maintain type safety
// and provide clear contracts between components.
package types

import "strings"

// StartMode describes how a session gets hold of its inferior
type StartMode string

const (
	StartInternal          StartMode = "start-internal"
	AttachToLocalProcess   StartMode = "attach-local"
	AttachToCore           StartMode = "attach-core"
	AttachToRemoteServer   StartMode = "attach-remote-server"
	AttachToCrashedProcess StartMode = "attach-crashed"
	AttachToQmlServer      StartMode = "attach-qml-server"
)

// Valid reports whether m is one of the known start modes
func (m StartMode) Valid() bool {
	switch m {
	case StartInternal, AttachToLocalProcess, AttachToCore,
		AttachToRemoteServer, AttachToCrashedProcess, AttachToQmlServer:
		return true
	}
	return false
}

// IsAttach returns true for every mode that does not launch a new process
func (m StartMode) IsAttach() bool {
	return m != StartInternal
}

// CloseMode controls what happens to the inferior when the session closes
type CloseMode string

const (
	KillAtClose   CloseMode = "kill"
	DetachAtClose CloseMode = "detach"
)

// BackendKind identifies a concrete debugger backend
type BackendKind string

const (
	BackendAuto BackendKind = "auto"
	BackendNone BackendKind = "none" // QML only, no native engine
	BackendGDB  BackendKind = "gdb"
	BackendCDB  BackendKind = "cdb"
	BackendLLDB BackendKind = "lldb"
	BackendPDB  BackendKind = "pdb"
	BackendUVSC BackendKind = "uvsc"
	BackendQML  BackendKind = "qml"
)

// NativeBackendPriority is the fixed order used when the native backend is "auto"
var NativeBackendPriority = []BackendKind{BackendGDB, BackendCDB, BackendLLDB, BackendPDB, BackendUVSC}

// IsNative returns true for the backends that debug native code
func (k BackendKind) IsNative() bool {
	for _, n := range NativeBackendPriority {
		if k == n {
			return true
		}
	}
	return false
}

// ParseBackendKind maps a user supplied name onto a BackendKind.
// Unknown names are returned as-is so the factory can report them.
func ParseBackendKind(s string) BackendKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return BackendAuto
	case "none":
		return BackendNone
	case "gdb", "cppdbg":
		return BackendGDB
	case "lldb", "lldb-dap", "codelldb":
		return BackendLLDB
	case "cdb", "cppvsdbg":
		return BackendCDB
	case "pdb", "python", "debugpy":
		return BackendPDB
	case "uvsc":
		return BackendUVSC
	case "qml", "qmljs":
		return BackendQML
	}
	return BackendKind(strings.ToLower(strings.TrimSpace(s)))
}

// RunParameters holds everything needed to construct a debugging session
type RunParameters struct {
	DisplayName string    `json:"displayName,omitempty"`
	StartMode   StartMode `json:"startMode"`
	CloseMode   CloseMode `json:"closeMode,omitempty"`

	// Backend selection
	CppEngineType  BackendKind `json:"cppEngineType,omitempty"`
	IsQmlDebugging bool        `json:"isQmlDebugging,omitempty"`

	// Inferior
	Executable  string            `json:"executable,omitempty"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	WorkingDir  string            `json:"workingDir,omitempty"`
	Sysroot     string            `json:"sysroot,omitempty"`
	InferiorTTY string            `json:"inferiorTty,omitempty"`

	// Attach targets
	AttachPID     int    `json:"attachPid,omitempty"`
	CoreFile      string `json:"coreFile,omitempty"`
	IsSnapshot    bool   `json:"isSnapshot,omitempty"`
	RemoteChannel string `json:"remoteChannel,omitempty"` // host:port
	QmlChannel    string `json:"qmlChannel,omitempty"`    // host:port
	CrashEvent    string `json:"crashEvent,omitempty"`    // event handle of the crash reporter
	Kit           string `json:"kit,omitempty"`

	// Flags
	UseTerminal    bool `json:"useTerminal,omitempty"`
	UseDebugServer bool `json:"useDebugServer,omitempty"`
	BreakOnMain    bool `json:"breakOnMain,omitempty"`

	// TestCase is a diagnostic hook, passed through to backends untouched
	TestCase int `json:"testCase,omitempty"`
}

// Clone returns a deep copy of the parameters
func (p RunParameters) Clone() RunParameters {
	c := p
	if p.Args != nil {
		c.Args = append([]string(nil), p.Args...)
	}
	if p.Env != nil {
		c.Env = make(map[string]string, len(p.Env))
		for k, v := range p.Env {
			c.Env[k] = v
		}
	}
	return c
}

// BreakpointKind is the type of a breakpoint
type BreakpointKind string

const (
	BreakpointByFileAndLine BreakpointKind = "file-line"
	BreakpointByFunction    BreakpointKind = "function"
	BreakpointByAddress     BreakpointKind = "address"
	WatchpointAtAddress     BreakpointKind = "watchpoint"
	BreakpointOnThrow       BreakpointKind = "on-throw"
	BreakpointOnCatch       BreakpointKind = "on-catch"
	BreakpointAtMain        BreakpointKind = "at-main"
	BreakpointOnQmlSignal   BreakpointKind = "qml-signal"
)

// Breakpoint is one enabled breakpoint as seen by the session at start
type Breakpoint struct {
	ID        string         `json:"id,omitempty"`
	Kind      BreakpointKind `json:"kind"`
	File      string         `json:"file,omitempty"`
	Line      int            `json:"line,omitempty"`
	Function  string         `json:"function,omitempty"`
	Address   uint64         `json:"address,omitempty"`
	Condition string         `json:"condition,omitempty"`
	Enabled   bool           `json:"enabled"`
}

// SessionInfo represents information about a live debugging session
type SessionInfo struct {
	SessionID   string      `json:"sessionId"`
	RunID       int         `json:"runId"`
	DisplayName string      `json:"displayName"`
	StartMode   StartMode   `json:"startMode"`
	Engines     []string    `json:"engines,omitempty"`
	State       string      `json:"state"`
	PID         int         `json:"pid,omitempty"`
	Current     bool        `json:"current,omitempty"`
	Failure     string      `json:"failure,omitempty"`
	Backend     BackendKind `json:"backend,omitempty"`
}

// EntryInfo represents one registry entry, live or preset
type EntryInfo struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Kind    BackendKind `json:"kind,omitempty"`
	Preset  bool        `json:"preset"`
	Current bool        `json:"current"`
	State   string      `json:"state,omitempty"`
}
