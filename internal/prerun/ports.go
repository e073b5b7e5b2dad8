package prerun

import (
	"context"
	"fmt"

	"github.com/ctagard/debugctl/internal/adapters"
	"github.com/ctagard/debugctl/pkg/types"
)

// PortsGatherer allocates local TCP ports for the QML debug service of a launched
// inferior and for a local debug server channel.
type PortsGatherer struct {
	QML    bool
	Server bool

	// FreePort defaults to adapters.FreePort
	FreePort func() (int, error)

	qmlPort    int
	serverPort int
}

// Name identifies the dependency in errors
func (g *PortsGatherer) Name() string { return "ports" }

// Acquire reserves the requested local ports
func (g *PortsGatherer) Acquire(ctx context.Context) error {
	free := g.FreePort
	if free == nil {
		free = adapters.FreePort
	}
	var err error
	if g.QML {
		if g.qmlPort, err = free(); err != nil {
			return fmt.Errorf("no free port for the QML debug service: %w", err)
		}
	}
	if g.Server {
		if g.serverPort, err = free(); err != nil {
			return fmt.Errorf("no free port for the debug server: %w", err)
		}
	}
	return ctx.Err()
}

// Apply hands the QML port to the inferior and records both channels
func (g *PortsGatherer) Apply(p *types.RunParameters) {
	if g.qmlPort > 0 {
		p.QmlChannel = fmt.Sprintf("127.0.0.1:%d", g.qmlPort)
		p.Args = append(p.Args, fmt.Sprintf("-qmljsdebugger=port:%d,block", g.qmlPort))
	}
	if g.serverPort > 0 {
		p.RemoteChannel = fmt.Sprintf("127.0.0.1:%d", g.serverPort)
	}
}

// Release is a no-op; ports are only numbers until used
func (g *PortsGatherer) Release() error { return nil }
