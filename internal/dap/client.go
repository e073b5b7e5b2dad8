package dap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/go-dap"
	"go.uber.org/zap"
)

// ErrClosed is returned for requests that cannot complete because the
// connection to the adapter is gone.
var ErrClosed = errors.New("DAP connection closed")

// EventHandler receives every event the adapter sends. It is called on the
// client's read goroutine and must not block on requests of the same client.
type EventHandler func(msg dap.Message)

// Client provides a request/response API on top of a Transport
type Client struct {
	transport *Transport
	logger    *zap.Logger
	onEvent   EventHandler

	mu      sync.Mutex
	pending map[int]func(dap.Message)

	capabilities dap.Capabilities

	initialized     chan struct{}
	initializedOnce sync.Once

	done      chan struct{}
	readErr   error
	closeOnce sync.Once
}

// NewClient starts reading from transport. onEvent may be nil.
func NewClient(transport *Transport, onEvent EventHandler, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		transport:   transport,
		logger:      logger,
		onEvent:     onEvent,
		pending:     make(map[int]func(dap.Message)),
		initialized: make(chan struct{}),
		done:        make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Done is closed once the connection to the adapter is lost or closed
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the read loop stopped, nil while it is running
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.readErr
	default:
		return nil
	}
}

// Capabilities returns the capabilities from the initialize response
func (c *Client) Capabilities() dap.Capabilities {
	return c.capabilities
}

func (c *Client) readLoop() {
	var err error
	for {
		var msg dap.Message
		msg, err = c.transport.Receive()
		if err != nil {
			break
		}
		c.handleMessage(msg)
	}

	c.mu.Lock()
	c.readErr = err
	pending := c.pending
	c.pending = make(map[int]func(dap.Message))
	close(c.done)
	c.mu.Unlock()
	for _, deliver := range pending {
		deliver(nil)
	}
	c.logger.Debug("DAP read loop stopped", zap.Error(err))
}

// handleMessage routes responses to their waiters and everything else to
// the event handler
func (c *Client) handleMessage(msg dap.Message) {
	switch m := msg.(type) {
	case dap.ResponseMessage:
		seq := m.GetResponse().RequestSeq
		c.mu.Lock()
		deliver, ok := c.pending[seq]
		delete(c.pending, seq)
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("response without waiter", zap.Int("request_seq", seq))
			return
		}
		deliver(msg)
		return
	case dap.RequestMessage:
		// Reverse requests such as runInTerminal are not supported.
		c.logger.Warn("ignoring reverse request from adapter", zap.String("command", m.GetRequest().Command))
		return
	case *dap.InitializedEvent:
		c.initializedOnce.Do(func() { close(c.initialized) })
	}
	if c.onEvent != nil {
		c.onEvent(msg)
	}
}

// Send issues req without waiting. The returned channel receives the
// response, or is closed when the connection goes away first.
func (c *Client) Send(req dap.RequestMessage) (<-chan dap.Message, error) {
	ch := make(chan dap.Message, 1)
	err := c.send(req, func(msg dap.Message) {
		if msg == nil {
			close(ch)
			return
		}
		ch <- msg
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Call issues req and hands the outcome to fn on the read goroutine, before
// any message the adapter sends after the response is dispatched.
func (c *Client) Call(req dap.RequestMessage, fn func(dap.Message, error)) error {
	return c.send(req, func(msg dap.Message) {
		fn(CheckResponse(msg))
	})
}

func (c *Client) send(req dap.RequestMessage, deliver func(dap.Message)) error {
	r := req.GetRequest()
	r.Type = "request"
	r.Seq = c.transport.NextSeq()

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return ErrClosed
	default:
	}
	c.pending[r.Seq] = deliver
	c.mu.Unlock()

	if err := c.transport.Send(req); err != nil {
		c.mu.Lock()
		delete(c.pending, r.Seq)
		c.mu.Unlock()
		return err
	}
	return nil
}

// Await waits for a response obtained from Send. Unsuccessful responses are
// returned as errors carrying the adapter's message.
func (c *Client) Await(ctx context.Context, ch <-chan dap.Message) (dap.Message, error) {
	select {
	case msg, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		return CheckResponse(msg)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CheckResponse turns an unsuccessful response into an error carrying the
// adapter's message. A nil message means the connection went away.
func CheckResponse(msg dap.Message) (dap.Message, error) {
	if msg == nil {
		return nil, ErrClosed
	}
	resp, ok := msg.(dap.ResponseMessage)
	if !ok {
		return nil, fmt.Errorf("unexpected message type: %T", msg)
	}
	if r := resp.GetResponse(); !r.Success {
		return nil, fmt.Errorf("%s failed: %s", r.Command, r.Message)
	}
	return msg, nil
}

// Do sends req and waits for its response
func (c *Client) Do(ctx context.Context, req dap.RequestMessage) (dap.Message, error) {
	ch, err := c.Send(req)
	if err != nil {
		return nil, err
	}
	return c.Await(ctx, ch)
}

func newRequest(command string) dap.Request {
	return dap.Request{
		ProtocolMessage: dap.ProtocolMessage{Type: "request"},
		Command:         command,
	}
}

// Initialize sends the initialize request and stores the capabilities
func (c *Client) Initialize(ctx context.Context, clientID, adapterID string) (dap.Capabilities, error) {
	req := &dap.InitializeRequest{
		Request: newRequest("initialize"),
		Arguments: dap.InitializeRequestArguments{
			ClientID:               clientID,
			ClientName:             clientID,
			AdapterID:              adapterID,
			Locale:                 "en-US",
			LinesStartAt1:          true,
			ColumnsStartAt1:        true,
			PathFormat:             "path",
			SupportsVariableType:   true,
			SupportsVariablePaging: true,
		},
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return dap.Capabilities{}, err
	}
	initResp, ok := resp.(*dap.InitializeResponse)
	if !ok {
		return dap.Capabilities{}, fmt.Errorf("unexpected response type: %T", resp)
	}
	c.capabilities = initResp.Body
	return initResp.Body, nil
}

// Initialized is closed once the adapter sent the initialized event
func (c *Client) Initialized() <-chan struct{} {
	return c.initialized
}

// WaitInitialized waits for the initialized event
func (c *Client) WaitInitialized(ctx context.Context) error {
	select {
	case <-c.initialized:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("waiting for initialized event: %w", ctx.Err())
	}
}

// LaunchAsync sends a launch request without waiting for the response.
// Several adapters only answer launch after configurationDone.
func (c *Client) LaunchAsync(args map[string]any) (<-chan dap.Message, error) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal launch args: %w", err)
	}
	return c.Send(&dap.LaunchRequest{Request: newRequest("launch"), Arguments: argsJSON})
}

// AttachAsync sends an attach request without waiting for the response
func (c *Client) AttachAsync(args map[string]any) (<-chan dap.Message, error) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attach args: %w", err)
	}
	return c.Send(&dap.AttachRequest{Request: newRequest("attach"), Arguments: argsJSON})
}

// ConfigurationDone signals that configuration is complete
func (c *Client) ConfigurationDone(ctx context.Context) error {
	_, err := c.Do(ctx, &dap.ConfigurationDoneRequest{Request: newRequest("configurationDone")})
	return err
}

// SetBreakpoints replaces the source breakpoints of one file
func (c *Client) SetBreakpoints(ctx context.Context, path string, breakpoints []dap.SourceBreakpoint) ([]dap.Breakpoint, error) {
	req := &dap.SetBreakpointsRequest{
		Request: newRequest("setBreakpoints"),
		Arguments: dap.SetBreakpointsArguments{
			Source:      dap.Source{Path: path},
			Breakpoints: breakpoints,
		},
	}
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	bpResp, ok := resp.(*dap.SetBreakpointsResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response type: %T", resp)
	}
	return bpResp.Body.Breakpoints, nil
}

// SetFunctionBreakpoints replaces all function breakpoints
func (c *Client) SetFunctionBreakpoints(ctx context.Context, breakpoints []dap.FunctionBreakpoint) ([]dap.Breakpoint, error) {
	req := &dap.SetFunctionBreakpointsRequest{
		Request:   newRequest("setFunctionBreakpoints"),
		Arguments: dap.SetFunctionBreakpointsArguments{Breakpoints: breakpoints},
	}
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	bpResp, ok := resp.(*dap.SetFunctionBreakpointsResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response type: %T", resp)
	}
	return bpResp.Body.Breakpoints, nil
}

// SetExceptionBreakpoints enables the given exception filters
func (c *Client) SetExceptionBreakpoints(ctx context.Context, filters []string) error {
	req := &dap.SetExceptionBreakpointsRequest{
		Request:   newRequest("setExceptionBreakpoints"),
		Arguments: dap.SetExceptionBreakpointsArguments{Filters: filters},
	}
	_, err := c.Do(ctx, req)
	return err
}

// Threads lists the inferior's threads
func (c *Client) Threads(ctx context.Context) ([]dap.Thread, error) {
	resp, err := c.Do(ctx, &dap.ThreadsRequest{Request: newRequest("threads")})
	if err != nil {
		return nil, err
	}
	threadsResp, ok := resp.(*dap.ThreadsResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response type: %T", resp)
	}
	return threadsResp.Body.Threads, nil
}

// PauseAsync asks the adapter to interrupt the inferior. done receives the
// outcome on the read goroutine, ahead of the stopped event that follows.
func (c *Client) PauseAsync(threadID int, done func(error)) error {
	req := &dap.PauseRequest{
		Request:   newRequest("pause"),
		Arguments: dap.PauseArguments{ThreadId: threadID},
	}
	return c.Call(req, func(_ dap.Message, err error) { done(err) })
}

// ContinueAsync resumes the inferior; done is called like for PauseAsync
func (c *Client) ContinueAsync(threadID int, done func(error)) error {
	req := &dap.ContinueRequest{
		Request:   newRequest("continue"),
		Arguments: dap.ContinueArguments{ThreadId: threadID},
	}
	return c.Call(req, func(_ dap.Message, err error) { done(err) })
}

// Disconnect ends the debug session, terminating or detaching the inferior
func (c *Client) Disconnect(ctx context.Context, terminateDebuggee bool) error {
	req := &dap.DisconnectRequest{
		Request: newRequest("disconnect"),
		Arguments: &dap.DisconnectArguments{
			TerminateDebuggee: terminateDebuggee,
		},
	}
	_, err := c.Do(ctx, req)
	return err
}

// Close closes the transport and waits for the read loop to stop
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.transport.Close()
		<-c.done
	})
	return err
}
