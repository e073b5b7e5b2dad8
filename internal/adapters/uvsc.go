package adapters

import (
	"github.com/ctagard/debugctl/internal/config"
	"github.com/ctagard/debugctl/pkg/types"
)

// UVSCBuilder drives an adapter for the Keil uVision socket interface, used
// for bare-metal targets. Only launch and remote attach make sense there.
type UVSCBuilder struct{}

// NewUVSCBuilder creates a UVSC builder
func NewUVSCBuilder() *UVSCBuilder {
	return &UVSCBuilder{}
}

func (u *UVSCBuilder) Kind() types.BackendKind { return types.BackendUVSC }

func (u *UVSCBuilder) AdapterID() string { return "uvsc" }

func (u *UVSCBuilder) Supports(mode types.StartMode) bool {
	return mode == types.StartInternal || mode == types.AttachToRemoteServer
}

func (u *UVSCBuilder) Command(cfg config.BackendConfig, p *types.RunParameters) (Command, error) {
	return Command{Path: cfg.Path, Args: cfg.Args, Dir: p.WorkingDir, Address: cfg.Address}, nil
}

func (u *UVSCBuilder) Request(p *types.RunParameters) (string, map[string]any) {
	args := map[string]any{"program": p.Executable}
	if p.Kit != "" {
		args["project"] = p.Kit
	}
	if p.StartMode == types.AttachToRemoteServer {
		args["server"] = p.RemoteChannel
		return "attach", args
	}
	args["stopAtMain"] = p.BreakOnMain
	return "launch", args
}
