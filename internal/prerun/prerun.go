// Package prerun acquires what a session needs before its engines start:
// free ports, an unpacked core file, a terminal for the inferior.
//
// Dependencies are acquired concurrently. All must succeed; on the first
// failure the others are cancelled and everything acquired is released.
package prerun

import (
	"context"
	"errors"
	"strings"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	dbgerrors "github.com/ctagard/debugctl/internal/errors"
	"github.com/ctagard/debugctl/pkg/types"
)

// Dependency is one resource a session needs before it starts
type Dependency interface {
	Name() string

	// Acquire obtains the resource. It must return promptly once ctx is done.
	Acquire(ctx context.Context) error

	// Apply records the acquired resource in the run parameters
	Apply(p *types.RunParameters)

	// Release gives the resource back. Safe to call when Acquire failed or
	// never ran.
	Release() error
}

// Gather acquires deps concurrently and applies them to p in order. On
// failure every dependency is released and the first error is returned as
// a PRERUN_FAILED error.
func Gather(ctx context.Context, deps []Dependency, p *types.RunParameters) error {
	if len(deps) == 0 {
		return nil
	}

	pl := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	for _, d := range deps {
		pl.Go(func(ctx context.Context) error {
			if err := d.Acquire(ctx); err != nil {
				return dbgerrors.PrerunFailed(d.Name(), err)
			}
			return nil
		})
	}
	err := pl.Wait()
	if err == nil && ctx.Err() != nil {
		err = dbgerrors.PrerunFailed("session", ctx.Err())
	}
	if err != nil {
		_ = ReleaseAll(deps)
		return err
	}

	for _, d := range deps {
		d.Apply(p)
	}
	return nil
}

// ReleaseAll releases every dependency, joining the errors
func ReleaseAll(deps []Dependency) error {
	var errs []error
	for _, d := range deps {
		if err := d.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Plan returns the dependencies a session with parameters p needs
func Plan(p types.RunParameters, logger *zap.Logger) []Dependency {
	var deps []Dependency
	if p.StartMode == types.StartInternal && (p.IsQmlDebugging || p.UseDebugServer) {
		deps = append(deps, &PortsGatherer{QML: p.IsQmlDebugging, Server: p.UseDebugServer})
	}
	if p.StartMode == types.AttachToCore && IsPackedCore(p.CoreFile) {
		deps = append(deps, &CoreUnpacker{Path: p.CoreFile})
	}
	// The terminal is planned for any start mode; a remote inferior
	// reports its console output there too
	if p.UseTerminal {
		deps = append(deps, &TerminalAllocator{Logger: logger})
	}
	return deps
}

// IsPackedCore reports whether path names a compressed core file
func IsPackedCore(path string) bool {
	return strings.HasSuffix(path, ".gz") || strings.HasSuffix(path, ".lzo")
}
