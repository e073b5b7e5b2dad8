package presets

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

const (
	// FileName is the standard name of the launch configuration file
	FileName = "launch.json"
	// DirName is the VS Code configuration directory
	DirName = ".vscode"
)

// Load reads and parses a launch.json. Comments and trailing commas, which
// VS Code accepts, are allowed.
func Load(path string) (*LaunchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read launch.json: %w", err)
	}

	var lf LaunchFile
	if err := json.Unmarshal(stripJSONC(data), &lf); err != nil {
		return nil, fmt.Errorf("failed to parse launch.json: %w", err)
	}
	return &lf, nil
}

// Discover searches for .vscode/launch.json from start up to the root.
// An empty start means the working directory.
func Discover(start string) (string, error) {
	if start == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current directory: %w", err)
		}
		start = cwd
	}
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("failed to stat path: %w", err)
	}
	if !info.IsDir() {
		abs = filepath.Dir(abs)
	}

	for dir := abs; ; {
		candidate := filepath.Join(dir, DirName, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("no %s/%s found in %s or parent directories", DirName, FileName, start)
}

// WorkspaceFolder derives the workspace of a launch.json: the parent of its
// .vscode directory
func WorkspaceFolder(launchPath string) string {
	return filepath.Dir(filepath.Dir(launchPath))
}

// LoadPresets loads path and converts every usable configuration. Broken
// configurations are skipped with a warning so one typo does not hide the
// rest.
func LoadPresets(path string, logger *zap.Logger) ([]Preset, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	lf, err := Load(path)
	if err != nil {
		return nil, err
	}

	ctx := &ResolutionContext{WorkspaceFolder: WorkspaceFolder(path)}
	seen := make(map[string]bool)
	var presets []Preset
	for i := range lf.Configurations {
		cfg := &lf.Configurations[i]
		p, err := cfg.ToPreset(ctx)
		if err != nil {
			logger.Warn("skipping launch configuration",
				zap.Int("index", i),
				zap.String("name", cfg.Name),
				zap.Error(err))
			continue
		}
		if seen[p.ID] {
			logger.Warn("duplicate launch configuration name", zap.String("name", cfg.Name))
			continue
		}
		seen[p.ID] = true
		presets = append(presets, p)
	}
	return presets, nil
}

// stripJSONC removes // and /* */ comments and trailing commas outside of
// strings
func stripJSONC(data []byte) []byte {
	out := make([]byte, 0, len(data))
	inString, escaped := false, false
	for i := 0; i < len(data); i++ {
		c := data[i]
		if inString {
			out = append(out, c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch {
		case c == '"':
			inString = true
			out = append(out, c)
		case c == '/' && i+1 < len(data) && data[i+1] == '/':
			for i < len(data) && data[i] != '\n' {
				i++
			}
			if i < len(data) {
				out = append(out, '\n')
			}
		case c == '/' && i+1 < len(data) && data[i+1] == '*':
			i += 2
			for i+1 < len(data) && !(data[i] == '*' && data[i+1] == '/') {
				i++
			}
			i++
		case c == ']' || c == '}':
			out = trimTrailingComma(out)
			out = append(out, c)
		default:
			out = append(out, c)
		}
	}
	return out
}

func trimTrailingComma(out []byte) []byte {
	j := len(out) - 1
	for j >= 0 && (out[j] == ' ' || out[j] == '\t' || out[j] == '\n' || out[j] == '\r') {
		j--
	}
	if j >= 0 && out[j] == ',' {
		return append(out[:j], out[j+1:]...)
	}
	return out
}
