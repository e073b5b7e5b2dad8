package dap

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// ProcessOptions configures a spawned adapter process
type ProcessOptions struct {
	Dir string

	// Env is appended to the current environment
	Env []string

	// Stderr receives the adapter's stderr; defaults to os.Stderr
	Stderr io.Writer
}

// Process is a running debug adapter. The adapter is started in its own
// process group so Kill also takes down whatever it spawned.
type Process struct {
	cmd *exec.Cmd

	waitOnce sync.Once
	waitErr  error
	exited   chan struct{}
}

func newCommand(ctx context.Context, path string, args []string, opts ProcessOptions) *exec.Cmd {
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Env = append(os.Environ(), opts.Env...)
	cmd.Dir = opts.Dir
	cmd.Stderr = opts.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	setProcAttr(cmd)
	return cmd
}

// StartStdio starts an adapter that speaks DAP on its stdin/stdout
func StartStdio(ctx context.Context, path string, args []string, opts ProcessOptions) (*Transport, *Process, error) {
	cmd := newCommand(ctx, path, args, opts)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return nil, nil, fmt.Errorf("failed to start %s: %w", path, err)
	}

	p := newProcess(cmd)
	return NewStdioTransport(stdin, stdout), p, nil
}

// StartServer starts an adapter that listens for a DAP connection itself.
// The caller dials it with DialTCP.
func StartServer(ctx context.Context, path string, args []string, opts ProcessOptions) (*Process, error) {
	cmd := newCommand(ctx, path, args, opts)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", path, err)
	}
	return newProcess(cmd), nil
}

func newProcess(cmd *exec.Cmd) *Process {
	p := &Process{cmd: cmd, exited: make(chan struct{})}
	go p.Wait()
	return p
}

// Pid returns the adapter's process id
func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Exited is closed once the adapter process has exited
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// Wait waits for the adapter to exit. Safe to call more than once.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
		close(p.exited)
	})
	<-p.exited
	return p.waitErr
}

// Kill kills the adapter and its process group
func (p *Process) Kill() error {
	return killProcessGroup(p.Pid(), p.cmd)
}
