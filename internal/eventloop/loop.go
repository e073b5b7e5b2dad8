// Package eventloop provides the single controller execution context.
//
// Engines, companion coordinators, session controllers and the registry are
// not synchronized. They are only ever touched from functions running on one
// Loop, which executes posted functions one at a time in FIFO order. Backends
// doing I/O on their own goroutines report back by posting to the loop, so no
// two notifications for the same session are ever processed concurrently.
package eventloop

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrAlreadyRunning is returned when Start is called on a running loop.
	ErrAlreadyRunning = errors.New("event loop is already running")

	// ErrStopped is returned when work is posted to a stopped loop.
	ErrStopped = errors.New("event loop is stopped")
)

// Loop is an unbounded single-consumer FIFO of functions.
// The queue never drops work: a lost notification would leave an engine
// stuck in a requested state.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	running bool
	stopped bool
	done    chan struct{}
	logger  *zap.Logger
}

// New creates a loop. It does not run anything until Start or Drain is called.
func New(logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Post enqueues fn for execution on the loop. It is safe to call from any
// goroutine, including from a function already running on the loop.
// Returns false if the loop has been stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Sync posts fn and waits until it has run. It must not be called from the
// loop itself, which would deadlock.
func (l *Loop) Sync(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	if !l.Post(func() {
		defer close(ran)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-ran:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start runs the loop on a new goroutine.
func (l *Loop) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return ErrAlreadyRunning
	}
	if l.stopped {
		return ErrStopped
	}
	l.running = true
	go l.run()
	return nil
}

// Stop refuses new work, lets the queued functions finish and waits for the
// loop goroutine to exit or ctx to expire.
func (l *Loop) Stop(ctx context.Context) error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return nil
	}
	l.stopped = true
	running := l.running
	l.mu.Unlock()

	if !running {
		close(l.done)
		return nil
	}

	select {
	case l.wake <- struct{}{}:
	default:
	}

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain runs queued functions on the calling goroutine until the queue is
// empty, including work posted while draining. It returns the number of
// functions run. Drain is for loops that were never started, such as in
// tests; on a running loop it does nothing.
func (l *Loop) Drain() int {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return 0
	}
	l.mu.Unlock()

	n := 0
	for {
		batch := l.take()
		if len(batch) == 0 {
			return n
		}
		for _, fn := range batch {
			l.execute(fn)
			n++
		}
	}
}

// Pending returns the number of queued functions
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		batch := l.take()
		for _, fn := range batch {
			l.execute(fn)
		}
		if len(batch) > 0 {
			continue
		}

		l.mu.Lock()
		stopped := l.stopped && len(l.queue) == 0
		l.mu.Unlock()
		if stopped {
			return
		}
		<-l.wake
	}
}

func (l *Loop) take() []func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	batch := l.queue
	l.queue = nil
	return batch
}

func (l *Loop) execute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("event loop task panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	fn()
}
