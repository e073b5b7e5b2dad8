package adapters

import (
	"strconv"
	"strings"

	"github.com/ctagard/debugctl/internal/config"
	"github.com/ctagard/debugctl/pkg/types"
)

// LLDBBuilder drives lldb-dap (formerly lldb-vscode)
type LLDBBuilder struct{}

// NewLLDBBuilder creates an LLDB builder
func NewLLDBBuilder() *LLDBBuilder {
	return &LLDBBuilder{}
}

func (l *LLDBBuilder) Kind() types.BackendKind { return types.BackendLLDB }

func (l *LLDBBuilder) AdapterID() string { return "lldb-dap" }

func (l *LLDBBuilder) Supports(mode types.StartMode) bool { return allModes(mode) }

// Command starts lldb-dap on stdio. Auto REPL mode lets the console take
// both expressions and lldb commands.
func (l *LLDBBuilder) Command(cfg config.BackendConfig, p *types.RunParameters) (Command, error) {
	args := append([]string{"--repl-mode=auto"}, cfg.Args...)
	return Command{Path: cfg.Path, Args: args, Dir: p.WorkingDir, Address: cfg.Address}, nil
}

// Request builds the launch or attach arguments for lldb-dap
func (l *LLDBBuilder) Request(p *types.RunParameters) (string, map[string]any) {
	var initCommands []string
	if p.Sysroot != "" {
		initCommands = append(initCommands, "platform select --sysroot "+p.Sysroot+" host")
	}

	if p.StartMode == types.StartInternal {
		args := map[string]any{
			"program":     p.Executable,
			"stopOnEntry": false,
		}
		if len(p.Args) > 0 {
			args["args"] = p.Args
		}
		if p.WorkingDir != "" {
			args["cwd"] = p.WorkingDir
		}
		// lldb-dap takes the environment as a list of KEY=VALUE
		if len(p.Env) > 0 {
			args["env"] = envList(p.Env)
		}
		if p.InferiorTTY != "" {
			args["stdio"] = []string{p.InferiorTTY, p.InferiorTTY, p.InferiorTTY}
		}
		if len(initCommands) > 0 {
			args["initCommands"] = initCommands
		}
		return "launch", args
	}

	args := map[string]any{}
	if p.Executable != "" {
		args["program"] = p.Executable
	}
	if len(initCommands) > 0 {
		args["initCommands"] = initCommands
	}
	switch p.StartMode {
	case types.AttachToCore:
		args["coreFile"] = p.CoreFile
	case types.AttachToRemoteServer:
		// Remote debugging via the gdb-server protocol
		host, port := splitHostPort(p.RemoteChannel)
		if host != "" {
			args["gdb-remote-hostname"] = host
		}
		args["gdb-remote-port"] = port
	default:
		args["pid"] = p.AttachPID
	}
	return "attach", args
}

// splitHostPort splits "host:port" and ":port"; a bare port is accepted too
func splitHostPort(channel string) (string, int) {
	host, portStr := "", channel
	if i := strings.LastIndex(channel, ":"); i >= 0 {
		host, portStr = channel[:i], channel[i+1:]
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}
