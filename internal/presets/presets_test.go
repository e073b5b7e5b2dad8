package presets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ctagard/debugctl/pkg/types"
)

const launchJSON = `{
	// generated by the editor
	"version": "0.2.0",
	"configurations": [
		{
			"name": "app",
			"type": "cppdbg",
			"request": "launch",
			"program": "${workspaceFolder}/build/app",
			"args": ["--data", "${workspaceFolderBasename}"],
			"MIMode": "gdb",
			"console": "integratedTerminal",
			"stopAtBeginningOfMainSubprogram": true,
		},
		/* attach targets */
		{ "name": "core", "type": "lldb-dap", "request": "attach", "program": "/bin/app", "coreFile": "/tmp/core.gz" },
		{ "name": "remote", "type": "gdb", "request": "attach", "target": "board:3333" },
		{ "name": "pid", "type": "gdb", "request": "attach", "processId": 42 },
		{ "name": "broken", "type": "gdb", "request": "attach" },
		{ "name": "url", "type": "debugpy", "request": "launch", "program": "http://example.com/x.py" },
	],
}`

func writeLaunch(t *testing.T, content string) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, DirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestLoadPresets verifies configurations map onto start modes and broken ones are skipped.
func TestLoadPresets(t *testing.T) {
	path := writeLaunch(t, launchJSON)
	ws := WorkspaceFolder(path)

	presets, err := LoadPresets(path, nil)
	if err != nil {
		t.Fatalf("LoadPresets failed: %v", err)
	}
	if len(presets) != 5 {
		t.Fatalf("expected 5 presets, got %d", len(presets))
	}

	byName := make(map[string]Preset)
	for _, p := range presets {
		byName[p.Name] = p
	}
	if _, ok := byName["broken"]; ok {
		t.Error("expected the configuration without a target to be skipped")
	}

	app := byName["app"]
	if app.ID != "preset:app" {
		t.Errorf("expected id preset:app, got %s", app.ID)
	}
	if app.Params.StartMode != types.StartInternal {
		t.Errorf("expected StartInternal, got %s", app.Params.StartMode)
	}
	if want := ws + "/build/app"; app.Params.Executable != want {
		t.Errorf("expected %s, got %s", want, app.Params.Executable)
	}
	if len(app.Params.Args) != 2 || app.Params.Args[1] != filepath.Base(ws) {
		t.Errorf("expected workspace basename in args, got %v", app.Params.Args)
	}
	if !app.Params.UseTerminal || !app.Params.BreakOnMain {
		t.Errorf("expected terminal and break-on-main, got %+v", app.Params)
	}
	if app.Kind != types.BackendGDB {
		t.Errorf("expected gdb, got %s", app.Kind)
	}

	tests := []struct {
		name string
		mode types.StartMode
		kind types.BackendKind
	}{
		{"core", types.AttachToCore, types.BackendLLDB},
		{"remote", types.AttachToRemoteServer, types.BackendGDB},
		{"pid", types.AttachToLocalProcess, types.BackendGDB},
		{"url", types.StartInternal, types.BackendPDB},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := byName[tt.name]
			if p.Params.StartMode != tt.mode {
				t.Errorf("expected %s, got %s", tt.mode, p.Params.StartMode)
			}
			if p.Kind != tt.kind {
				t.Errorf("expected %s, got %s", tt.kind, p.Kind)
			}
		})
	}
	if byName["remote"].Params.RemoteChannel != "board:3333" {
		t.Errorf("expected remote channel board:3333, got %s", byName["remote"].Params.RemoteChannel)
	}
	if byName["pid"].Params.AttachPID != 42 {
		t.Errorf("expected pid 42, got %d", byName["pid"].Params.AttachPID)
	}
	if byName["url"].Params.Executable != "http://example.com/x.py" {
		t.Errorf("expected // inside strings to survive, got %s", byName["url"].Params.Executable)
	}
}

// TestResolve verifies variable substitution.
func TestResolve(t *testing.T) {
	ctx := &ResolutionContext{
		WorkspaceFolder: "/work/proj",
		EnvOverrides:    map[string]string{"TARGET": "arm"},
	}
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"${workspaceFolder}/bin", "/work/proj/bin", false},
		{"${workspaceFolderBasename}", "proj", false},
		{"${env:TARGET}-gcc", "arm-gcc", false},
		{"plain", "plain", false},
		{"${file}", "${file}", true},
		{"${input:pick}", "${input:pick}", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Resolve(tt.in, ctx)
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

// TestDiscover verifies launch.json is found from a nested directory.
func TestDiscover(t *testing.T) {
	path := writeLaunch(t, `{"configurations": []}`)
	nested := filepath.Join(WorkspaceFolder(path), "src", "lib")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := Discover(nested)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if got != path {
		t.Errorf("expected %s, got %s", path, got)
	}

	if _, err := Discover(t.TempDir()); err == nil {
		t.Error("expected an error without launch.json")
	}
}

// TestLoad_Invalid verifies parse errors are reported.
func TestLoad_Invalid(t *testing.T) {
	path := writeLaunch(t, `{"configurations": [`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "failed to parse") {
		t.Errorf("expected parse error, got %v", err)
	}
}

// TestStore verifies lookups by id and name.
func TestStore(t *testing.T) {
	s := NewStore()
	s.Set("/x/launch.json", []Preset{
		{ID: "preset:a", Name: "a", Kind: types.BackendGDB, Params: types.RunParameters{Args: []string{"1"}}},
		{ID: "preset:b", Name: "b", Kind: types.BackendLLDB},
	})

	for _, key := range []string{"preset:a", "a"} {
		p, ok := s.Get(key)
		if !ok || p.Name != "a" {
			t.Errorf("expected preset a for %s, got %+v", key, p)
		}
	}
	p, _ := s.Get("a")
	p.Params.Args[0] = "changed"
	if again, _ := s.Get("a"); again.Params.Args[0] != "1" {
		t.Error("expected Get to return a copy")
	}
	if _, ok := s.Get("c"); ok {
		t.Error("expected no preset c")
	}

	entries := s.Entries()
	if len(entries) != 2 || entries[1].ID != "preset:b" || entries[1].Kind != types.BackendLLDB {
		t.Errorf("unexpected registry presets: %+v", entries)
	}
}

// TestWatcher verifies a rewrite of launch.json is picked up.
func TestWatcher(t *testing.T) {
	path := writeLaunch(t, `{"configurations": []}`)
	got := make(chan []Preset, 4)

	w, err := Watch(path, nil, func(p []Preset) { got <- p })
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer w.Close()

	content := `{"configurations": [{"name": "app", "type": "gdb", "request": "launch", "program": "/bin/app"}]}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case presets := <-got:
		if len(presets) != 1 || presets[0].Name != "app" {
			t.Errorf("expected preset app, got %+v", presets)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for reload")
	}
}
