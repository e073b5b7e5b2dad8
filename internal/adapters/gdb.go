package adapters

import (
	"github.com/ctagard/debugctl/internal/config"
	"github.com/ctagard/debugctl/pkg/types"
)

// GDBBuilder drives GDB's native DAP support (--interpreter=dap).
// Requires GDB 14.1 or later.
type GDBBuilder struct{}

// NewGDBBuilder creates a GDB builder
func NewGDBBuilder() *GDBBuilder {
	return &GDBBuilder{}
}

func (g *GDBBuilder) Kind() types.BackendKind { return types.BackendGDB }

func (g *GDBBuilder) AdapterID() string { return "gdb" }

func (g *GDBBuilder) Supports(mode types.StartMode) bool { return allModes(mode) }

// Command starts gdb on stdio. A core file is loaded from the command line
// together with the executable.
func (g *GDBBuilder) Command(cfg config.BackendConfig, p *types.RunParameters) (Command, error) {
	args := []string{
		"--interpreter=dap",
		// Pretty printing by default for better output
		"--eval-command", "set print pretty on",
		// Quiet mode so startup messages stay off the DAP stream
		"--quiet",
	}
	if p.Sysroot != "" {
		args = append(args, "--eval-command", "set sysroot "+p.Sysroot)
	}
	if p.InferiorTTY != "" {
		args = append(args, "--tty="+p.InferiorTTY)
	}
	args = append(args, cfg.Args...)
	if p.StartMode == types.AttachToCore && p.Executable != "" {
		args = append(args, p.Executable, p.CoreFile)
	}
	return Command{Path: cfg.Path, Args: args, Dir: p.WorkingDir, Address: cfg.Address}, nil
}

// Request builds the launch or attach arguments for GDB DAP
func (g *GDBBuilder) Request(p *types.RunParameters) (string, map[string]any) {
	switch p.StartMode {
	case types.StartInternal:
		args := map[string]any{
			"program":                         p.Executable,
			"stopAtBeginningOfMainSubprogram": p.BreakOnMain,
		}
		if len(p.Args) > 0 {
			args["args"] = p.Args
		}
		if p.WorkingDir != "" {
			args["cwd"] = p.WorkingDir
		}
		// GDB DAP expects the environment as an object
		if len(p.Env) > 0 {
			args["env"] = p.Env
		}
		return "launch", args
	case types.AttachToRemoteServer:
		// Handed to "target remote", e.g. "localhost:1234" or "/dev/ttyUSB0"
		return "attach", map[string]any{"program": p.Executable, "target": p.RemoteChannel}
	case types.AttachToCore:
		return "attach", map[string]any{"program": p.Executable, "coreFile": p.CoreFile}
	}
	args := map[string]any{"pid": p.AttachPID}
	if p.Executable != "" {
		args["program"] = p.Executable
	}
	return "attach", args
}
