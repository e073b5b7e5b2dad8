// Package dap implements a client for the Debug Adapter Protocol (DAP).
//
// Every engine backend shipped with debugctl talks DAP, either to a debugger
// with built-in support (gdb --interpreter=dap, lldb-dap) or to an adapter
// process (debugpy, a QML bridge). This package provides:
//   - Transport: framing of DAP messages over TCP or stdio
//   - Client: request/response matching, events and the requests the
//     session lifecycle needs (initialize, launch, attach, breakpoints,
//     pause, continue, disconnect)
//   - Process: spawning and killing debug adapter processes
//
// The protocol is described at: https://microsoft.github.io/debug-adapter-protocol/
package dap

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/go-dap"
)

// Transport handles communication with a DAP server
type Transport struct {
	conn   io.ReadWriteCloser
	reader *bufio.Reader
	writer *bufio.Writer
	mu     sync.Mutex
	seq    int
}

// NewConnTransport wraps an established connection
func NewConnTransport(conn io.ReadWriteCloser) *Transport {
	return &Transport{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		seq:    1,
	}
}

// DialTCP connects to a DAP server, retrying while the server comes up
func DialTCP(ctx context.Context, address string, attempts int, delay time.Duration) (*Transport, error) {
	if attempts < 1 {
		attempts = 1
	}
	var d net.Dialer
	var lastErr error
	for i := 0; i < attempts; i++ {
		conn, err := d.DialContext(ctx, "tcp", address)
		if err == nil {
			return NewConnTransport(conn), nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("failed to connect to DAP server at %s: %w", address, lastErr)
}

// NewStdioTransport creates a transport over a child process's stdio
func NewStdioTransport(stdin io.WriteCloser, stdout io.ReadCloser) *Transport {
	return NewConnTransport(&stdioRWC{reader: stdout, writer: stdin})
}

type stdioRWC struct {
	reader io.ReadCloser
	writer io.WriteCloser
}

func (s *stdioRWC) Read(p []byte) (n int, err error) {
	return s.reader.Read(p)
}

func (s *stdioRWC) Write(p []byte) (n int, err error) {
	return s.writer.Write(p)
}

func (s *stdioRWC) Close() error {
	err1 := s.writer.Close()
	err2 := s.reader.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// NextSeq returns the next sequence number
func (t *Transport) NextSeq() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	seq := t.seq
	t.seq++
	return seq
}

// Send sends a DAP message
func (t *Transport) Send(msg dap.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := dap.WriteProtocolMessage(t.writer, msg); err != nil {
		return fmt.Errorf("failed to write DAP message: %w", err)
	}
	if err := t.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush DAP message: %w", err)
	}
	return nil
}

// Receive blocks for the next DAP message
func (t *Transport) Receive() (dap.Message, error) {
	msg, err := dap.ReadProtocolMessage(t.reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read DAP message: %w", err)
	}
	return msg, nil
}

// Close closes the transport
func (t *Transport) Close() error {
	return t.conn.Close()
}
