package prerun

import (
	"bufio"
	"context"
	"os"
	"sync"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/ctagard/debugctl/pkg/types"
)

// TerminalAllocator allocates a pseudo terminal for the inferior. The inferior gets
// the slave side; whatever it prints is forwarded to the session log.
type TerminalAllocator struct {
	Logger *zap.Logger

	mu   sync.Mutex
	ptmx *os.File
	tty  *os.File
	done chan struct{}
}

// Name identifies the dependency in errors
func (t *TerminalAllocator) Name() string { return "terminal" }

// Acquire opens a pseudo terminal for the inferior
func (t *TerminalAllocator) Acquire(ctx context.Context) error {
	ptmx, tty, err := pty.Open()
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.ptmx, t.tty = ptmx, tty
	t.done = make(chan struct{})
	t.mu.Unlock()

	logger := t.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	go func() {
		defer close(t.done)
		scanner := bufio.NewScanner(ptmx)
		for scanner.Scan() {
			logger.Info("inferior output", zap.String("line", scanner.Text()))
		}
	}()
	return ctx.Err()
}

// TTY returns the slave device name, empty before Acquire
func (t *TerminalAllocator) TTY() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tty == nil {
		return ""
	}
	return t.tty.Name()
}

// Apply hands the terminal device to the inferior
func (t *TerminalAllocator) Apply(p *types.RunParameters) {
	p.InferiorTTY = t.TTY()
}

// Release closes the terminal
func (t *TerminalAllocator) Release() error {
	t.mu.Lock()
	ptmx, tty, done := t.ptmx, t.tty, t.done
	t.ptmx, t.tty = nil, nil
	t.mu.Unlock()
	if ptmx == nil {
		return nil
	}
	terr := tty.Close()
	err := ptmx.Close()
	<-done
	if err != nil {
		return err
	}
	return terr
}
