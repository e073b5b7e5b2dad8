// Package daptest provides an in-memory debug adapter for tests.
package daptest

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"

	"github.com/google/go-dap"
)

// Adapter answers DAP requests over one end of a net.Pipe.
//
// Launch and attach are answered only after configurationDone, like debugpy
// does, so clients must not block on them before finishing configuration.
type Adapter struct {
	// Fail maps a command to the error message of its response
	Fail map[string]string

	// Silent lists commands that never get a response
	Silent map[string]bool

	// PID is reported in a process event after launch or attach
	PID int

	// StopOnLaunch sends a stopped event right after configurationDone
	StopOnLaunch bool

	// Filters are advertised as exception breakpoint filters
	Filters []string

	conn   net.Conn
	reader *bufio.Reader

	wmu sync.Mutex
	mu  sync.Mutex
	seq int

	requests []string
	args     map[string]map[string]any
	pending  *dap.Request
	done     chan struct{}
}

// Start begins serving and returns the client end of the connection
func (a *Adapter) Start() net.Conn {
	client, server := net.Pipe()
	a.conn = server
	a.reader = bufio.NewReader(server)
	a.args = make(map[string]map[string]any)
	a.done = make(chan struct{})
	go a.serve()
	return client
}

// Close drops the connection, as if the adapter crashed
func (a *Adapter) Close() error {
	return a.conn.Close()
}

// Done is closed when the adapter stops serving
func (a *Adapter) Done() <-chan struct{} {
	return a.done
}

// Requests returns the commands received so far, in order
func (a *Adapter) Requests() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.requests...)
}

// Count returns how often command was received
func (a *Adapter) Count(command string) int {
	n := 0
	for _, r := range a.Requests() {
		if r == command {
			n++
		}
	}
	return n
}

// Args returns the arguments of the last launch or attach request
func (a *Adapter) Args(command string) map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.args[command]
}

// Stop reports a stop of thread 1 with the given reason
func (a *Adapter) Stop(reason string) {
	a.write(&dap.StoppedEvent{
		Event: a.event("stopped"),
		Body:  dap.StoppedEventBody{Reason: reason, ThreadId: 1, AllThreadsStopped: true},
	})
}

// Exit reports that the inferior exited with code
func (a *Adapter) Exit(code int) {
	a.write(&dap.ExitedEvent{Event: a.event("exited"), Body: dap.ExitedEventBody{ExitCode: code}})
	a.write(&dap.TerminatedEvent{Event: a.event("terminated")})
}

// Output sends an output event
func (a *Adapter) Output(category, text string) {
	a.write(&dap.OutputEvent{Event: a.event("output"), Body: dap.OutputEventBody{Category: category, Output: text}})
}

func (a *Adapter) serve() {
	defer close(a.done)
	for {
		msg, err := dap.ReadProtocolMessage(a.reader)
		if err != nil {
			return
		}
		req, ok := msg.(dap.RequestMessage)
		if !ok {
			continue
		}
		if !a.handle(msg, req.GetRequest()) {
			a.conn.Close()
			return
		}
	}
}

// handle answers one request; false ends the connection
func (a *Adapter) handle(msg dap.Message, req *dap.Request) bool {
	a.mu.Lock()
	a.requests = append(a.requests, req.Command)
	a.mu.Unlock()

	if a.Silent[req.Command] {
		return true
	}
	if text, ok := a.Fail[req.Command]; ok {
		a.fail(req, text)
		return true
	}

	switch m := msg.(type) {
	case *dap.InitializeRequest:
		caps := dap.Capabilities{
			SupportsConfigurationDoneRequest: true,
			SupportsFunctionBreakpoints:      true,
		}
		for _, f := range a.Filters {
			caps.ExceptionBreakpointFilters = append(caps.ExceptionBreakpointFilters, dap.ExceptionBreakpointsFilter{Filter: f, Label: f})
		}
		a.write(&dap.InitializeResponse{Response: a.response(req), Body: caps})
	case *dap.LaunchRequest:
		a.startTarget(req, m.Arguments)
	case *dap.AttachRequest:
		a.startTarget(req, m.Arguments)
	case *dap.ConfigurationDoneRequest:
		a.write(&dap.ConfigurationDoneResponse{Response: a.response(req)})
		a.mu.Lock()
		pending := a.pending
		a.pending = nil
		a.mu.Unlock()
		if pending != nil {
			a.answerTarget(pending)
		}
		if a.StopOnLaunch {
			a.Stop("entry")
		}
	case *dap.SetBreakpointsRequest:
		var bps []dap.Breakpoint
		for i, sb := range m.Arguments.Breakpoints {
			bps = append(bps, dap.Breakpoint{Id: i + 1, Verified: true, Line: sb.Line})
		}
		a.write(&dap.SetBreakpointsResponse{Response: a.response(req), Body: dap.SetBreakpointsResponseBody{Breakpoints: bps}})
	case *dap.SetFunctionBreakpointsRequest:
		var bps []dap.Breakpoint
		for i := range m.Arguments.Breakpoints {
			bps = append(bps, dap.Breakpoint{Id: 100 + i, Verified: true})
		}
		a.write(&dap.SetFunctionBreakpointsResponse{Response: a.response(req), Body: dap.SetFunctionBreakpointsResponseBody{Breakpoints: bps}})
	case *dap.SetExceptionBreakpointsRequest:
		a.write(&dap.SetExceptionBreakpointsResponse{Response: a.response(req)})
	case *dap.ThreadsRequest:
		a.write(&dap.ThreadsResponse{
			Response: a.response(req),
			Body:     dap.ThreadsResponseBody{Threads: []dap.Thread{{Id: 1, Name: "main"}}},
		})
	case *dap.PauseRequest:
		a.write(&dap.PauseResponse{Response: a.response(req)})
		a.Stop("pause")
	case *dap.ContinueRequest:
		a.write(&dap.ContinueResponse{Response: a.response(req), Body: dap.ContinueResponseBody{AllThreadsContinued: true}})
	case *dap.DisconnectRequest:
		a.write(&dap.DisconnectResponse{Response: a.response(req)})
		a.write(&dap.TerminatedEvent{Event: a.event("terminated")})
		return false
	default:
		a.fail(req, "unsupported request")
	}
	return true
}

func (a *Adapter) startTarget(req *dap.Request, raw json.RawMessage) {
	var args map[string]any
	_ = json.Unmarshal(raw, &args)
	a.mu.Lock()
	a.args[req.Command] = args
	a.pending = req
	a.mu.Unlock()
	a.write(&dap.InitializedEvent{Event: a.event("initialized")})
}

func (a *Adapter) answerTarget(req *dap.Request) {
	if req.Command == "attach" {
		a.write(&dap.AttachResponse{Response: a.response(req)})
	} else {
		a.write(&dap.LaunchResponse{Response: a.response(req)})
	}
	if a.PID > 0 {
		a.write(&dap.ProcessEvent{
			Event: a.event("process"),
			Body:  dap.ProcessEventBody{Name: "inferior", SystemProcessId: a.PID, IsLocalProcess: true},
		})
	}
}

func (a *Adapter) fail(req *dap.Request, text string) {
	r := a.response(req)
	r.Success = false
	r.Message = text
	a.write(&dap.ErrorResponse{Response: r})
}

func (a *Adapter) nextSeq() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	return a.seq
}

func (a *Adapter) response(req *dap.Request) dap.Response {
	return dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Seq: a.nextSeq(), Type: "response"},
		RequestSeq:      req.Seq,
		Command:         req.Command,
		Success:         true,
	}
}

func (a *Adapter) event(name string) dap.Event {
	return dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Seq: a.nextSeq(), Type: "event"},
		Event:           name,
	}
}

func (a *Adapter) write(msg dap.Message) {
	a.wmu.Lock()
	defer a.wmu.Unlock()
	_ = dap.WriteProtocolMessage(a.conn, msg)
}
