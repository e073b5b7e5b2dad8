// Package presets turns the configurations of a VS Code launch.json into
// registry presets: named, not yet started sessions.
package presets

import (
	"fmt"
	"strings"

	"github.com/ctagard/debugctl/pkg/types"
)

// LaunchFile is the launch.json structure
type LaunchFile struct {
	Version        string          `json:"version"`
	Configurations []Configuration `json:"configurations"`
}

// Configuration is one debug configuration of launch.json. Only the fields
// that map onto a native or script debugging session are read.
type Configuration struct {
	Type    string `json:"type"`    // e.g. "gdb", "cppdbg", "lldb-dap", "debugpy"
	Request string `json:"request"` // "launch" or "attach"
	Name    string `json:"name"`

	Program     string            `json:"program,omitempty"`
	Args        []string          `json:"args,omitempty"`
	Cwd         string            `json:"cwd,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	StopOnEntry bool              `json:"stopOnEntry,omitempty"`
	Console     string            `json:"console,omitempty"`

	// Attach targets
	ProcessID int    `json:"processId,omitempty"`
	CoreFile  string `json:"coreFile,omitempty"`
	Target    string `json:"target,omitempty"` // remote host:port
	Host      string `json:"host,omitempty"`
	Port      int    `json:"port,omitempty"`

	// GDB / cpptools
	StopAtBeginningOfMainSubprogram bool   `json:"stopAtBeginningOfMainSubprogram,omitempty"`
	MIMode                          string `json:"MIMode,omitempty"`
	Sysroot                         string `json:"sysroot,omitempty"`

	// QML debugging alongside the native engine
	QmlDebugging bool   `json:"qmlDebugging,omitempty"`
	QmlChannel   string `json:"qmlChannel,omitempty"`

	Kit string `json:"kit,omitempty"`
}

// Preset is a configuration resolved into run parameters
type Preset struct {
	ID     string
	Name   string
	Kind   types.BackendKind
	Params types.RunParameters
}

// PresetID derives the registry id of a configuration name
func PresetID(name string) string {
	return "preset:" + name
}

// Kind maps the configuration type onto a backend kind
func (c *Configuration) Kind() types.BackendKind {
	switch c.Type {
	case "cppdbg":
		if c.MIMode == "lldb" {
			return types.BackendLLDB
		}
		return types.BackendGDB
	case "c", "cpp", "rust":
		return types.BackendAuto
	}
	return types.ParseBackendKind(c.Type)
}

// Validate checks the fields every configuration needs
func (c *Configuration) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("configuration name is required")
	}
	if c.Type == "" {
		return fmt.Errorf("configuration type is required")
	}
	if c.Request != "launch" && c.Request != "attach" {
		return fmt.Errorf("configuration request must be 'launch' or 'attach', got %q", c.Request)
	}
	return nil
}

// ToPreset resolves variables and maps c onto run parameters
func (c *Configuration) ToPreset(ctx *ResolutionContext) (Preset, error) {
	if err := c.Validate(); err != nil {
		return Preset{}, err
	}
	r, err := c.resolve(ctx)
	if err != nil {
		return Preset{}, err
	}

	kind := c.Kind()
	p := types.RunParameters{
		DisplayName: r.Name,
		Executable:  r.Program,
		Args:        r.Args,
		Env:         r.Env,
		WorkingDir:  r.Cwd,
		Sysroot:     r.Sysroot,
		BreakOnMain: r.StopOnEntry || r.StopAtBeginningOfMainSubprogram,
		UseTerminal: r.Console == "integratedTerminal" || r.Console == "externalTerminal",
		Kit:         r.Kit,
	}

	switch {
	case kind == types.BackendQML:
		p.StartMode = types.AttachToQmlServer
		p.QmlChannel = r.QmlChannel
		if p.QmlChannel == "" && r.Port > 0 {
			p.QmlChannel = fmt.Sprintf("%s:%d", hostOr(r.Host), r.Port)
		}
	case r.Request == "launch":
		p.StartMode = types.StartInternal
		p.CppEngineType = kind
		p.IsQmlDebugging = r.QmlDebugging
	case r.CoreFile != "":
		p.StartMode = types.AttachToCore
		p.CoreFile = r.CoreFile
		p.CppEngineType = kind
	case r.Target != "" || r.Port > 0:
		p.StartMode = types.AttachToRemoteServer
		p.RemoteChannel = r.Target
		if p.RemoteChannel == "" {
			p.RemoteChannel = fmt.Sprintf("%s:%d", hostOr(r.Host), r.Port)
		}
		p.CppEngineType = kind
	case r.ProcessID > 0:
		p.StartMode = types.AttachToLocalProcess
		p.AttachPID = r.ProcessID
		p.CppEngineType = kind
	default:
		return Preset{}, fmt.Errorf("attach configuration %q names no process, core file or target", c.Name)
	}
	if p.CppEngineType == "" {
		p.CppEngineType = types.BackendAuto
	}
	if r.QmlDebugging && r.QmlChannel != "" {
		p.QmlChannel = r.QmlChannel
	}

	return Preset{ID: PresetID(c.Name), Name: c.Name, Kind: kind, Params: p}, nil
}

func hostOr(host string) string {
	if strings.TrimSpace(host) == "" {
		return "127.0.0.1"
	}
	return host
}

// resolve returns a copy of c with variables substituted in every string
func (c *Configuration) resolve(ctx *ResolutionContext) (*Configuration, error) {
	r := *c
	var err error
	fields := []struct {
		name string
		ptr  *string
	}{
		{"program", &r.Program},
		{"cwd", &r.Cwd},
		{"coreFile", &r.CoreFile},
		{"target", &r.Target},
		{"host", &r.Host},
		{"sysroot", &r.Sysroot},
		{"qmlChannel", &r.QmlChannel},
	}
	for _, f := range fields {
		if *f.ptr, err = Resolve(*f.ptr, ctx); err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", f.name, err)
		}
	}

	if c.Args != nil {
		r.Args = make([]string, len(c.Args))
		for i, a := range c.Args {
			if r.Args[i], err = Resolve(a, ctx); err != nil {
				return nil, fmt.Errorf("failed to resolve args[%d]: %w", i, err)
			}
		}
	}
	if c.Env != nil {
		r.Env = make(map[string]string, len(c.Env))
		for k, v := range c.Env {
			if r.Env[k], err = Resolve(v, ctx); err != nil {
				return nil, fmt.Errorf("failed to resolve env %q: %w", k, err)
			}
		}
	}
	return &r, nil
}
