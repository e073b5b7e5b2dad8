package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/ctagard/debugctl/internal/config"
	"github.com/ctagard/debugctl/internal/engine"
	"github.com/ctagard/debugctl/internal/engine/enginetest"
	"github.com/ctagard/debugctl/internal/plugin"
	"github.com/ctagard/debugctl/pkg/types"
)

type fakeFactory struct{}

func (fakeFactory) Resolvable(kind types.BackendKind, mode types.StartMode) bool {
	return kind == types.BackendGDB || kind == types.BackendQML
}

func (fakeFactory) NewBackend(kind types.BackendKind, p types.RunParameters, bps []types.Breakpoint, logger *zap.Logger) (engine.Backend, error) {
	b := &enginetest.Backend{Auto: true, PID: 321}
	if p.StartMode == types.AttachToCore {
		b.RunResult = enginetest.RunUnrunnable
	}
	return b, nil
}

func (fakeFactory) SupportedBreakpoints(kind types.BackendKind) []types.BreakpointKind {
	return nil
}

func newServer(t *testing.T) *Server {
	t.Helper()
	p := plugin.New(config.DefaultConfig(), nil, plugin.Options{Factory: fakeFactory{}})
	if err := p.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p.Close(ctx)
	})
	return NewServer(p)
}

func call(args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("expected content in result")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", res.Content[0])
	}
	return text.Text
}

type startResult struct {
	Status  string            `json:"status"`
	Session types.SessionInfo `json:"session"`
}

func decode(t *testing.T, res *mcp.CallToolResult, v interface{}) {
	t.Helper()
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, res))
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), v); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
}

// waitState polls debug_list_sessions until the session reports want
func waitState(t *testing.T, s *Server, id, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		res, _ := s.handleDebugListSessions(context.Background(), call(nil))
		var list struct {
			Sessions []types.SessionInfo `json:"sessions"`
		}
		decode(t, res, &list)
		for _, info := range list.Sessions {
			if info.SessionID == id && info.State == want {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected session %s to reach %s", id, want)
}

// TestHandlers_Lifecycle drives a session through start, interrupt, continue and stop.
func TestHandlers_Lifecycle(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()

	res, _ := s.handleDebugStart(ctx, call(map[string]interface{}{
		"program": "/bin/app",
		"args":    `["-v"]`,
		"name":    "my app",
	}))
	var started startResult
	decode(t, res, &started)
	if started.Session.DisplayName != "my app" {
		t.Errorf("expected display name my app, got %s", started.Session.DisplayName)
	}
	id := started.Session.SessionID
	waitState(t, s, id, engine.InferiorRunOk.String())

	res, _ = s.handleDebugInterrupt(ctx, call(nil))
	if res.IsError {
		t.Fatalf("interrupt failed: %s", resultText(t, res))
	}
	waitState(t, s, id, engine.InferiorStopOk.String())

	res, _ = s.handleDebugContinue(ctx, call(map[string]interface{}{"sessionId": id}))
	if res.IsError {
		t.Fatalf("continue failed: %s", resultText(t, res))
	}
	waitState(t, s, id, engine.InferiorRunOk.String())

	res, _ = s.handleDebugStop(ctx, call(map[string]interface{}{"sessionId": id}))
	if res.IsError {
		t.Fatalf("stop failed: %s", resultText(t, res))
	}
}

// TestHandlers_Errors verifies failures come back as tool errors carrying the error code message.
func TestHandlers_Errors(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
		args    map[string]interface{}
		want    string
	}{
		{"start without program", s.handleDebugStart, nil, "'program' is missing"},
		{"bad args", s.handleDebugStart, map[string]interface{}{"program": "/bin/app", "args": "-v"}, "parameter 'args'"},
		{"unknown backend", s.handleDebugStart, map[string]interface{}{"program": "/bin/app", "backend": "vms"}, "Unknown debugger type"},
		{"attach without target", s.handleDebugAttach, nil, "'target' is missing"},
		{"bad target", s.handleDebugAttach, map[string]interface{}{"target": "/bin/app"}, "parameter 'target'"},
		{"stop unknown", s.handleDebugStop, map[string]interface{}{"sessionId": "nope"}, "'nope' not found"},
		{"continue without current", s.handleDebugContinue, nil, "'current' not found"},
		{"activate unknown", s.handleDebugActivate, map[string]interface{}{"id": "nope"}, "'nope' not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tt.handler(ctx, call(tt.args))
			if err != nil {
				t.Fatalf("unexpected Go error: %v", err)
			}
			if !res.IsError {
				t.Fatalf("expected a tool error, got %s", resultText(t, res))
			}
			if got := resultText(t, res); !strings.Contains(got, tt.want) {
				t.Errorf("expected %q in %q", tt.want, got)
			}
		})
	}
}

// TestHandlers_AttachAndSnapshot verifies attach by pid and a snapshot session from its core.
func TestHandlers_AttachAndSnapshot(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()

	res, _ := s.handleDebugAttach(ctx, call(map[string]interface{}{"pid": float64(4711), "program": "/bin/app"}))
	var attached startResult
	decode(t, res, &attached)
	if attached.Session.StartMode != types.AttachToLocalProcess {
		t.Errorf("expected %s, got %s", types.AttachToLocalProcess, attached.Session.StartMode)
	}
	waitState(t, s, attached.Session.SessionID, engine.InferiorRunOk.String())

	res, _ = s.handleDebugSnapshotCore(ctx, call(map[string]interface{}{
		"sessionId": attached.Session.SessionID,
		"coreFile":  "/tmp/core.1",
	}))
	var snap startResult
	decode(t, res, &snap)
	if snap.Session.DisplayName != "app - Snapshot 1" {
		t.Errorf("expected app - Snapshot 1, got %s", snap.Session.DisplayName)
	}
	if snap.Session.StartMode != types.AttachToCore {
		t.Errorf("expected %s, got %s", types.AttachToCore, snap.Session.StartMode)
	}
	waitState(t, s, snap.Session.SessionID, engine.InferiorUnrunnable.String())

	res, _ = s.handleDebugActivate(ctx, call(map[string]interface{}{"id": attached.Session.SessionID}))
	if res.IsError {
		t.Fatalf("activate failed: %s", resultText(t, res))
	}

	res, _ = s.handleDebugShutdown(ctx, call(nil))
	var down struct {
		Status   string `json:"status"`
		TimedOut bool   `json:"timedOut"`
	}
	decode(t, res, &down)
	if down.TimedOut {
		t.Error("expected sessions to finish within the grace period")
	}

	res, _ = s.handleDebugListSessions(ctx, call(nil))
	var list struct {
		Count int `json:"count"`
	}
	decode(t, res, &list)
	if list.Count != 0 {
		t.Errorf("expected no sessions after shutdown, got %d", list.Count)
	}
}
