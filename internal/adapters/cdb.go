package adapters

import (
	"github.com/ctagard/debugctl/internal/config"
	"github.com/ctagard/debugctl/pkg/types"
)

// CDBBuilder drives a DAP bridge around the Windows console debugger. There
// is no default bridge; the backend is usable once a path is configured.
type CDBBuilder struct{}

// NewCDBBuilder creates a CDB builder
func NewCDBBuilder() *CDBBuilder {
	return &CDBBuilder{}
}

func (c *CDBBuilder) Kind() types.BackendKind { return types.BackendCDB }

func (c *CDBBuilder) AdapterID() string { return "cdb" }

func (c *CDBBuilder) Supports(mode types.StartMode) bool { return allModes(mode) }

func (c *CDBBuilder) Command(cfg config.BackendConfig, p *types.RunParameters) (Command, error) {
	return Command{Path: cfg.Path, Args: cfg.Args, Dir: p.WorkingDir, Address: cfg.Address}, nil
}

func (c *CDBBuilder) Request(p *types.RunParameters) (string, map[string]any) {
	switch p.StartMode {
	case types.StartInternal:
		args := map[string]any{
			"program":     p.Executable,
			"args":        p.Args,
			"cwd":         p.WorkingDir,
			"stopAtEntry": p.BreakOnMain,
		}
		if len(p.Env) > 0 {
			args["environment"] = envList(p.Env)
		}
		if p.Sysroot != "" {
			args["symbolSearchPath"] = p.Sysroot
		}
		return "launch", args
	case types.AttachToCore:
		return "launch", map[string]any{"program": p.Executable, "dumpPath": p.CoreFile}
	case types.AttachToRemoteServer:
		return "attach", map[string]any{"program": p.Executable, "remote": p.RemoteChannel}
	}
	args := map[string]any{"processId": p.AttachPID}
	// The crash reporter waits on this event until the debugger has attached
	if p.CrashEvent != "" {
		args["crashEvent"] = p.CrashEvent
	}
	return "attach", args
}
