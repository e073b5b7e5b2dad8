package adapters

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ctagard/debugctl/internal/config"
	"github.com/ctagard/debugctl/pkg/types"
)

// DebugpyBuilder drives Python debugging through debugpy's adapter. The
// adapter listens on a free local port and is dialled once it is up.
type DebugpyBuilder struct {
	// freePort is replaceable in tests
	freePort func() (int, error)
}

// NewDebugpyBuilder creates the builder for the pdb backend
func NewDebugpyBuilder() *DebugpyBuilder {
	return &DebugpyBuilder{freePort: FreePort}
}

func (d *DebugpyBuilder) Kind() types.BackendKind { return types.BackendPDB }

func (d *DebugpyBuilder) AdapterID() string { return "debugpy" }

func (d *DebugpyBuilder) Supports(mode types.StartMode) bool {
	switch mode {
	case types.StartInternal, types.AttachToLocalProcess, types.AttachToRemoteServer:
		return true
	}
	return false
}

// Command starts "python -m debugpy.adapter" listening on a free port. A
// configured address skips spawning and connects to a running adapter.
func (d *DebugpyBuilder) Command(cfg config.BackendConfig, p *types.RunParameters) (Command, error) {
	if cfg.Path == "" {
		return Command{Address: cfg.Address}, nil
	}
	port, err := d.freePort()
	if err != nil {
		return Command{}, fmt.Errorf("failed to find available port: %w", err)
	}
	address := fmt.Sprintf("127.0.0.1:%d", port)

	args := []string{
		"-m", "debugpy.adapter",
		"--host", "127.0.0.1",
		"--port", fmt.Sprintf("%d", port),
	}
	args = append(args, cfg.Args...)

	cmd := Command{Path: cfg.Path, Args: args, Dir: p.WorkingDir, Address: address}
	if venvRoot := detectVenvRoot(cfg.Path); venvRoot != "" {
		binDir := filepath.Dir(cfg.Path)
		cmd.Env = append(cmd.Env,
			"VIRTUAL_ENV="+venvRoot,
			"PATH="+binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
	return cmd, nil
}

// detectVenvRoot returns the venv a python interpreter lives in, if any:
// /path/to/venv/bin/python -> /path/to/venv when pyvenv.cfg exists there.
func detectVenvRoot(pythonPath string) string {
	venvRoot := filepath.Dir(filepath.Dir(pythonPath))
	if _, err := os.Stat(filepath.Join(venvRoot, "pyvenv.cfg")); err == nil {
		return venvRoot
	}
	return ""
}

// Request builds the launch or attach arguments for debugpy
func (d *DebugpyBuilder) Request(p *types.RunParameters) (string, map[string]any) {
	switch p.StartMode {
	case types.StartInternal:
		args := map[string]any{
			"type":    "python",
			"request": "launch",
			"console": "internalConsole",
		}
		// "-m module" launches a module instead of a script
		if module, ok := strings.CutPrefix(p.Executable, "-m "); ok {
			args["module"] = strings.TrimSpace(module)
		} else {
			args["program"] = p.Executable
		}
		if len(p.Args) > 0 {
			args["args"] = p.Args
		}
		if p.WorkingDir != "" {
			args["cwd"] = p.WorkingDir
		}
		if len(p.Env) > 0 {
			args["env"] = p.Env
		}
		if p.BreakOnMain {
			args["stopOnEntry"] = true
		}
		return "launch", args
	case types.AttachToRemoteServer:
		host, port := splitHostPort(p.RemoteChannel)
		if host == "" {
			host = "127.0.0.1"
		}
		return "attach", map[string]any{
			"type":    "python",
			"request": "attach",
			"connect": map[string]any{"host": host, "port": port},
		}
	}
	return "attach", map[string]any{
		"type":      "python",
		"request":   "attach",
		"processId": p.AttachPID,
	}
}
