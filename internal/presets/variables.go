package presets

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ResolutionContext provides the values of ${...} variables
type ResolutionContext struct {
	WorkspaceFolder string
	EnvOverrides    map[string]string
}

var variablePattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Resolve replaces the ${...} variables in text. Variables that need an
// editor (current file, user input, commands) are reported as errors.
func Resolve(text string, ctx *ResolutionContext) (string, error) {
	if text == "" {
		return "", nil
	}
	if ctx == nil {
		ctx = &ResolutionContext{}
	}

	var firstErr error
	out := variablePattern.ReplaceAllStringFunc(text, func(match string) string {
		v, err := lookup(match[2:len(match)-1], ctx)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return match
		}
		return v
	})
	return out, firstErr
}

func lookup(expr string, ctx *ResolutionContext) (string, error) {
	switch {
	case expr == "workspaceFolder" || expr == "workspaceRoot":
		return ctx.WorkspaceFolder, nil
	case expr == "workspaceFolderBasename":
		return filepath.Base(ctx.WorkspaceFolder), nil
	case expr == "userHome":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home: %w", err)
		}
		return home, nil
	case expr == "cwd":
		return os.Getwd()
	case expr == "pathSeparator":
		return string(os.PathSeparator), nil
	case strings.HasPrefix(expr, "env:"):
		name := strings.TrimPrefix(expr, "env:")
		if v, ok := ctx.EnvOverrides[name]; ok {
			return v, nil
		}
		return os.Getenv(name), nil
	}
	return "", fmt.Errorf("unsupported variable ${%s}", expr)
}
