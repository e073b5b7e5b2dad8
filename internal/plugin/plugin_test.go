package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ctagard/debugctl/internal/config"
	"github.com/ctagard/debugctl/internal/engine"
	"github.com/ctagard/debugctl/internal/engine/enginetest"
	dbgerrors "github.com/ctagard/debugctl/internal/errors"
	"github.com/ctagard/debugctl/internal/session"
	"github.com/ctagard/debugctl/pkg/types"
)

type fakeFactory struct {
	kinds []types.BackendKind
}

func (f *fakeFactory) Resolvable(kind types.BackendKind, mode types.StartMode) bool {
	for _, k := range f.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (f *fakeFactory) NewBackend(kind types.BackendKind, p types.RunParameters, bps []types.Breakpoint, logger *zap.Logger) (engine.Backend, error) {
	return &enginetest.Backend{Auto: true, PID: 77}, nil
}

func (f *fakeFactory) SupportedBreakpoints(kind types.BackendKind) []types.BreakpointKind {
	return nil
}

func newPlugin(t *testing.T, cfg *config.Config) *Plugin {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	p := New(cfg, nil, Options{Factory: &fakeFactory{kinds: []types.BackendKind{types.BackendGDB, types.BackendLLDB}}})
	if err := p.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p.Close(ctx)
	})
	return p
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// waitState polls the session until it reports want
func waitState(t *testing.T, p *Plugin, id, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		sessions, err := p.Sessions(context.Background())
		if err != nil {
			t.Fatalf("Sessions failed: %v", err)
		}
		for _, s := range sessions {
			if s.SessionID == id && s.State == want {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected session %s to reach %s", id, want)
}

// TestPlugin_StartAndStop verifies a session runs on the loop and is removed once stopped.
func TestPlugin_StartAndStop(t *testing.T) {
	p := newPlugin(t, nil)
	ctx := testContext(t)

	info, err := p.StartSession(ctx, types.RunParameters{StartMode: types.StartInternal, Executable: "/bin/app"})
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if info.Backend != types.BackendGDB {
		t.Errorf("expected the default backend gdb, got %s", info.Backend)
	}
	waitState(t, p, info.SessionID, engine.InferiorRunOk.String())

	if err := p.WithSession(ctx, "", func(c *session.Controller) error {
		if c.ID() != info.SessionID {
			t.Errorf("expected the started session to be current, got %s", c.ID())
		}
		return c.Interrupt()
	}); err != nil {
		t.Fatalf("Interrupt failed: %v", err)
	}
	waitState(t, p, info.SessionID, engine.InferiorStopOk.String())

	if err := p.WithSession(ctx, info.SessionID, func(c *session.Controller) error {
		c.Stop()
		return nil
	}); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		sessions, _ := p.Sessions(ctx)
		if len(sessions) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected the session to be removed, got %+v", sessions)
		}
		time.Sleep(5 * time.Millisecond)
	}

	err = p.WithSession(ctx, info.SessionID, func(*session.Controller) error { return nil })
	if !dbgerrors.IsCode(err, dbgerrors.CodeSessionNotFound) {
		t.Errorf("expected SESSION_NOT_FOUND, got %v", err)
	}
}

// TestPlugin_ValidationError verifies validation errors reach the caller.
func TestPlugin_ValidationError(t *testing.T) {
	p := newPlugin(t, nil)

	_, err := p.StartSession(testContext(t), types.RunParameters{StartMode: types.StartInternal})
	if !dbgerrors.IsCode(err, dbgerrors.CodeValidation) {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
	entries, _ := p.Entries(testContext(t))
	if len(entries) != 0 {
		t.Errorf("expected nothing registered, got %+v", entries)
	}
}

// TestPlugin_Presets verifies launch.json configurations become presets that can be started.
func TestPlugin_Presets(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".vscode")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "launch.json")
	content := `{"configurations": [
		{"name": "app", "type": "lldb", "request": "launch", "program": "/bin/app"},
		{"name": "pid", "type": "gdb", "request": "attach", "processId": 12}
	]}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	cfg.LaunchJSON = path
	p := newPlugin(t, cfg)
	ctx := testContext(t)

	entries, err := p.Entries(ctx)
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	if len(entries) != 2 || !entries[0].Preset || entries[0].Name != "app" {
		t.Fatalf("expected two presets, got %+v", entries)
	}

	info, err := p.StartPreset(ctx, "app")
	if err != nil {
		t.Fatalf("StartPreset failed: %v", err)
	}
	if info.Backend != types.BackendLLDB {
		t.Errorf("expected lldb, got %s", info.Backend)
	}

	if _, err := p.StartPreset(ctx, "missing"); !dbgerrors.IsCode(err, dbgerrors.CodeSessionNotFound) {
		t.Errorf("expected SESSION_NOT_FOUND, got %v", err)
	}
}

// TestPlugin_Shutdown verifies Shutdown stops every session within the grace period.
func TestPlugin_Shutdown(t *testing.T) {
	p := newPlugin(t, nil)
	ctx := testContext(t)

	var ids []string
	for i := 0; i < 3; i++ {
		info, err := p.StartSession(ctx, types.RunParameters{StartMode: types.AttachToLocalProcess, AttachPID: 10 + i})
		if err != nil {
			t.Fatalf("StartSession failed: %v", err)
		}
		ids = append(ids, info.SessionID)
	}
	for _, id := range ids {
		waitState(t, p, id, engine.InferiorRunOk.String())
	}

	timedOut, err := p.Shutdown(ctx)
	if err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if timedOut {
		t.Error("expected all sessions to finish within the grace period")
	}
	sessions, _ := p.Sessions(ctx)
	if len(sessions) != 0 {
		t.Errorf("expected no live sessions, got %d", len(sessions))
	}

	if err := p.Close(ctx); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := p.Close(ctx); err != nil {
		t.Errorf("expected second Close to be harmless, got %v", err)
	}
}
